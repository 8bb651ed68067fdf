// Command sync-lambda consumes the calendar sync retry queue.
package main

import (
	"context"
	"os"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"

	"github.com/wolfman30/agenda-platform/cmd/mainconfig"
	"github.com/wolfman30/agenda-platform/internal/app/bootstrap"
	"github.com/wolfman30/agenda-platform/internal/appointments"
	appconfig "github.com/wolfman30/agenda-platform/internal/config"
	"github.com/wolfman30/agenda-platform/pkg/logging"
)

type retryHandler interface {
	HandleRetryMessage(ctx context.Context, body string) error
}

func main() {
	cfg := appconfig.Load()
	logger := logging.New(cfg.LogLevel)
	ctx := context.Background()

	if cfg.DatabaseURL == "" || cfg.SyncRetryQueueURL == "" {
		logger.Error("sync lambda requires DATABASE_URL and SYNC_RETRY_QUEUE_URL")
		os.Exit(1)
	}

	awsCfg, err := mainconfig.LoadAWSConfig(ctx, cfg)
	if err != nil {
		logger.Error("failed to load AWS config", "error", err)
		os.Exit(1)
	}
	pool := bootstrap.ConnectPostgresPool(ctx, cfg.DatabaseURL, logger)
	if pool == nil {
		os.Exit(1)
	}

	calendar := bootstrap.BuildCalendar(bootstrap.CalendarDeps{
		Config:       cfg,
		Pool:         pool,
		Redis:        bootstrap.BuildRedisClient(ctx, cfg, logger, true),
		AWS:          &awsCfg,
		Appointments: appointments.NewPostgresStore(pool),
		Logger:       logger,
	})

	lambda.Start(func(ctx context.Context, evt events.SQSEvent) (events.SQSEventResponse, error) {
		return handle(ctx, calendar.Retrying, evt, logger), nil
	})
}

// handle reports failed records back to SQS so only they are redelivered.
func handle(ctx context.Context, h retryHandler, evt events.SQSEvent, logger *logging.Logger) events.SQSEventResponse {
	var resp events.SQSEventResponse
	for _, record := range evt.Records {
		if err := h.HandleRetryMessage(ctx, record.Body); err != nil {
			logger.Error("sync retry failed", "error", err, "message_id", record.MessageId)
			resp.BatchItemFailures = append(resp.BatchItemFailures, events.SQSBatchItemFailure{ItemIdentifier: record.MessageId})
		}
	}
	return resp
}

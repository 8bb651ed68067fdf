// Command notification-worker drains the notification queue and emails each
// tenant's recipients.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/aws/aws-sdk-go-v2/service/sqs"

	"github.com/wolfman30/agenda-platform/cmd/mainconfig"
	"github.com/wolfman30/agenda-platform/internal/app/bootstrap"
	appconfig "github.com/wolfman30/agenda-platform/internal/config"
	"github.com/wolfman30/agenda-platform/internal/notify"
	"github.com/wolfman30/agenda-platform/internal/observability/tracing"
	"github.com/wolfman30/agenda-platform/pkg/logging"
)

func main() {
	cfg := appconfig.Load()
	logger := logging.New(cfg.LogLevel)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.DatabaseURL == "" || cfg.NotificationQueueURL == "" {
		logger.Error("notification worker requires DATABASE_URL and NOTIFICATION_QUEUE_URL")
		os.Exit(1)
	}

	shutdownTracing, err := tracing.Setup(ctx, cfg)
	if err != nil {
		logger.Warn("tracing disabled", "error", err)
	}
	defer func() { _ = shutdownTracing(context.Background()) }()

	awsCfg, err := mainconfig.LoadAWSConfig(ctx, cfg)
	if err != nil {
		logger.Error("failed to load AWS config", "error", err)
		os.Exit(1)
	}
	pool := bootstrap.ConnectPostgresPool(ctx, cfg.DatabaseURL, logger)
	if pool == nil {
		os.Exit(1)
	}
	defer pool.Close()

	email, provider := bootstrap.BuildEmailSender(cfg, &awsCfg, logger)
	dispatcher := notify.NewDispatcher(email, notify.NewPostgresRecipients(pool), logger)
	queue := notify.NewSQSQueue(sqs.NewFromConfig(awsCfg), cfg.NotificationQueueURL)
	worker := notify.NewWorker(queue, dispatcher, logger,
		notify.WithWorkerCount(cfg.NotificationWorkers),
		notify.WithDeliveryLog(notify.NewPostgresDeliveryLog(pool)),
	)

	logger.Info("notification worker starting", "email_provider", provider, "workers", cfg.NotificationWorkers)
	worker.Start(ctx)

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	logger.Info("notification worker shutting down")
	cancel()
	worker.Wait()
}

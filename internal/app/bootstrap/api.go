package bootstrap

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/wolfman30/agenda-platform/internal/api/router"
	"github.com/wolfman30/agenda-platform/internal/appointments"
	appconfig "github.com/wolfman30/agenda-platform/internal/config"
	httpmiddleware "github.com/wolfman30/agenda-platform/internal/http/middleware"
	"github.com/wolfman30/agenda-platform/internal/notify"
	"github.com/wolfman30/agenda-platform/internal/observability/metrics"
	"github.com/wolfman30/agenda-platform/internal/scheduling"
	"github.com/wolfman30/agenda-platform/pkg/logging"
)

// API is the assembled HTTP server and the background work it owns.
type API struct {
	Handler  http.Handler
	Calendar *Calendar

	pool        *pgxpool.Pool
	historyDB   *sql.DB
	redis       *redis.Client
	limiter     *httpmiddleware.RateLimiter
	localWorker *notify.Worker
	events      *notify.EventStream
}

// BuildAPI wires stores, side effects and routes. Without DATABASE_URL (or
// with USE_MEMORY_STORE) everything runs in memory and notifications are
// delivered by an in-process worker.
func BuildAPI(ctx context.Context, cfg *appconfig.Config, awsCfg *aws.Config, logger *logging.Logger) (*API, error) {
	if cfg == nil {
		return nil, fmt.Errorf("bootstrap: config is required")
	}
	if logger == nil {
		logger = logging.Default()
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	schedulingMetrics := metrics.NewSchedulingMetrics(reg)
	calendarMetrics := metrics.NewCalendarMetrics(reg)

	loc, err := time.LoadLocation(cfg.DefaultTimezone)
	if err != nil {
		logger.Warn("invalid default timezone, using UTC", "timezone", cfg.DefaultTimezone, "error", err)
		loc = time.UTC
	}

	api := &API{}
	checks := map[string]router.HealthCheck{}

	var store appointments.Store
	if !cfg.UseMemoryStore {
		api.pool = ConnectPostgresPool(ctx, cfg.DatabaseURL, logger)
	}
	if api.pool != nil {
		store = appointments.NewPostgresStore(api.pool)
		checks["postgres"] = api.pool.Ping
		logger.Info("using postgres stores")
	} else {
		store = appointments.NewInMemoryStore()
		logger.Warn("using in-memory stores; data is lost on restart")
	}

	api.redis = BuildRedisClient(ctx, cfg, logger, true)
	if api.redis != nil {
		checks["redis"] = func(ctx context.Context) error { return api.redis.Ping(ctx).Err() }
	}

	api.Calendar = BuildCalendar(CalendarDeps{
		Config:       cfg,
		Pool:         api.pool,
		Redis:        api.redis,
		AWS:          awsCfg,
		Appointments: store,
		Metrics:      calendarMetrics,
		Logger:       logger,
	})

	opts := []appointments.Option{
		appointments.WithLocation(loc),
		appointments.WithMetrics(schedulingMetrics),
		appointments.WithCalendarSync(api.Calendar.Sync()),
		appointments.WithStaffInitialStatus(scheduling.Status(cfg.StaffInitialStatus)),
	}

	notifier, err := api.buildNotifier(cfg, awsCfg, logger)
	if err != nil {
		api.Close()
		return nil, err
	}
	if len(cfg.KafkaBrokers) > 0 {
		api.events = notify.NewEventStream(notify.NewKafkaWriter(cfg.KafkaBrokers), cfg.KafkaStatusTopic, logger)
		notifier = notify.NewBroadcast(logger, notifier, api.events)
		logger.Info("status events mirrored to kafka", "topic", cfg.KafkaStatusTopic)
	}
	opts = append(opts, appointments.WithNotifier(notifier))

	var history appointments.HistoryLister
	if api.pool != nil {
		db, err := OpenHistoryDB(cfg.DatabaseURL)
		if err != nil {
			api.Close()
			return nil, err
		}
		api.historyDB = db
		sqlHistory := appointments.NewSQLHistory(db)
		opts = append(opts, appointments.WithHistory(sqlHistory))
		history = sqlHistory
	}

	svc := appointments.NewService(store, logger, opts...)
	api.limiter = httpmiddleware.NewRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst)

	api.Handler = router.New(&router.Config{
		Logger:             logger,
		Appointments:       appointments.NewHandler(svc, history, logger),
		Calendar:           api.Calendar.Handler,
		StaffJWTSecret:     cfg.StaffJWTSecret,
		MetricsHandler:     promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
		CORSAllowedOrigins: cfg.CORSAllowedOrigins,
		RateLimiter:        api.limiter,
		HealthChecks:       checks,
	})
	return api, nil
}

func (a *API) buildNotifier(cfg *appconfig.Config, awsCfg *aws.Config, logger *logging.Logger) (appointments.Notifier, error) {
	if awsCfg != nil && cfg.NotificationQueueURL != "" {
		queue := notify.NewSQSQueue(sqs.NewFromConfig(*awsCfg), cfg.NotificationQueueURL)
		return notify.NewPublisher(queue, logger), nil
	}

	// No queue: deliver in process.
	queue := notify.NewMemoryQueue(256)
	email, provider := BuildEmailSender(cfg, awsCfg, logger)
	var recipients notify.RecipientLookup = notify.StaticRecipients{}
	if a.pool != nil {
		recipients = notify.NewPostgresRecipients(a.pool)
	}
	workerOpts := []notify.WorkerOption{notify.WithWorkerCount(1), notify.WithReceiveWaitSeconds(1)}
	if a.pool != nil {
		workerOpts = append(workerOpts, notify.WithDeliveryLog(notify.NewPostgresDeliveryLog(a.pool)))
	}
	a.localWorker = notify.NewWorker(queue, notify.NewDispatcher(email, recipients, logger), logger, workerOpts...)
	logger.Info("notifications delivered in process", "email_provider", provider)
	return notify.NewPublisher(queue, logger), nil
}

// Start launches background work owned by the API process.
func (a *API) Start(ctx context.Context) {
	if a.localWorker != nil {
		a.localWorker.Start(ctx)
	}
	if a.limiter != nil {
		go a.limiter.Run(ctx.Done())
	}
}

// Close releases connections. Call after the server has shut down.
func (a *API) Close() {
	if a.localWorker != nil {
		a.localWorker.Wait()
	}
	if a.events != nil {
		_ = a.events.Close()
	}
	if a.historyDB != nil {
		_ = a.historyDB.Close()
	}
	if a.redis != nil {
		_ = a.redis.Close()
	}
	if a.pool != nil {
		a.pool.Close()
	}
}

package bootstrap

import (
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/wolfman30/agenda-platform/internal/appointments"
	"github.com/wolfman30/agenda-platform/internal/calendarsync"
	appconfig "github.com/wolfman30/agenda-platform/internal/config"
	"github.com/wolfman30/agenda-platform/internal/notify"
	"github.com/wolfman30/agenda-platform/internal/observability/metrics"
	"github.com/wolfman30/agenda-platform/pkg/logging"
)

// CalendarDeps are the shared resources the calendar stack is built from.
// Nil Pool selects in-memory token storage; nil AWS disables the sync log
// table and the retry queue.
type CalendarDeps struct {
	Config       *appconfig.Config
	Pool         *pgxpool.Pool
	Redis        *redis.Client
	AWS          *aws.Config
	Appointments CalendarAppointments
	Metrics      *metrics.CalendarMetrics
	Logger       *logging.Logger
}

// CalendarAppointments is the appointment store the calendar stack reads
// and updates.
type CalendarAppointments interface {
	calendarsync.AppointmentStore
	calendarsync.EventClearer
}

// Calendar is the wired calendar stack.
type Calendar struct {
	Handler      *calendarsync.Handler
	Synchronizer *calendarsync.Synchronizer
	// Retrying is set when a retry queue is configured.
	Retrying *calendarsync.RetryingSync
}

// Sync returns the synchronizer the booking service should call.
func (c *Calendar) Sync() appointments.CalendarSync {
	if c.Retrying != nil {
		return c.Retrying
	}
	return c.Synchronizer
}

// BuildCalendar wires token storage, OAuth, the provider and the synchronizer.
func BuildCalendar(deps CalendarDeps) *Calendar {
	cfg := deps.Config
	logger := deps.Logger
	if logger == nil {
		logger = logging.Default()
	}

	var store interface {
		calendarsync.TokenStore
		calendarsync.SettingsStore
	}
	if deps.Pool != nil {
		store = calendarsync.NewPostgresStore(deps.Pool, cfg.DefaultTimezone)
	} else {
		store = calendarsync.NewMemoryStore(cfg.DefaultTimezone)
	}

	oauth := calendarsync.NewOAuth(calendarsync.OAuthConfig{
		ClientID:     cfg.GoogleClientID,
		ClientSecret: cfg.GoogleClientSecret,
		RedirectURL:  cfg.GoogleRedirectURL,
		Timeout:      cfg.CalendarProviderTimeout,
	})

	managerOpts := []calendarsync.ManagerOption{calendarsync.WithManagerMetrics(deps.Metrics)}
	if deps.Redis != nil {
		managerOpts = append(managerOpts, calendarsync.WithRedisLock(deps.Redis, cfg.CalendarRefreshLockTTL))
	}
	manager := calendarsync.NewTokenManager(store, oauth, logger, managerOpts...)
	provider := calendarsync.NewGoogleProvider(cfg.CalendarProviderTimeout, logger, calendarsync.WithProviderMetrics(deps.Metrics))

	var syncLog interface {
		calendarsync.SyncRecorder
		calendarsync.SyncLogLister
	} = calendarsync.NewMemorySyncLog()
	if deps.AWS != nil && cfg.SyncLogTable != "" {
		syncLog = calendarsync.NewDynamoSyncLog(dynamodb.NewFromConfig(*deps.AWS), cfg.SyncLogTable, logger)
	}

	synchronizer := calendarsync.NewSynchronizer(deps.Appointments, manager, store, provider, logger,
		calendarsync.WithSyncLog(syncLog),
		calendarsync.WithSyncMetrics(deps.Metrics),
	)

	out := &Calendar{Synchronizer: synchronizer}
	if deps.AWS != nil && cfg.SyncRetryQueueURL != "" {
		queue := notify.NewSQSQueue(sqs.NewFromConfig(*deps.AWS), cfg.SyncRetryQueueURL)
		out.Retrying = calendarsync.NewRetryingSync(synchronizer, queue, cfg.SyncRetryMaxAttempts, logger,
			calendarsync.WithEventClearer(deps.Appointments))
	}

	hcfg := calendarsync.HandlerConfig{
		Tokens:     store,
		Settings:   store,
		Manager:    manager,
		Provider:   provider,
		SyncLog:    syncLog,
		SuccessURL: cfg.CalendarConnectSuccessURL,
		Logger:     logger,
	}
	if cfg.GoogleClientID != "" && cfg.OAuthStateSecret != "" {
		hcfg.OAuth = oauth
		hcfg.State = calendarsync.NewStateSigner(cfg.OAuthStateSecret)
	}
	out.Handler = calendarsync.NewHandler(hcfg)
	return out
}

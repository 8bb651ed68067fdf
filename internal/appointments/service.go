// Package appointments owns the booking write path and the appointment
// lifecycle. Availability math lives in scheduling; this package feeds it
// stored rules and applies its answer inside transactions.
package appointments

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"

	"github.com/wolfman30/agenda-platform/internal/calendarsync"
	"github.com/wolfman30/agenda-platform/internal/notify"
	"github.com/wolfman30/agenda-platform/internal/observability/metrics"
	"github.com/wolfman30/agenda-platform/internal/scheduling"
	"github.com/wolfman30/agenda-platform/internal/sessions"
	"github.com/wolfman30/agenda-platform/pkg/logging"
)

var tracer = otel.Tracer("agenda.internal.appointments")

// CalendarSync mirrors appointments into external calendars.
type CalendarSync interface {
	SyncAppointment(ctx context.Context, tenantID, appointmentID string) (calendarsync.Result, error)
	DeleteEvent(ctx context.Context, tenantID, appointmentID string, staffID *string, eventID string) error
}

// Notifier hands status notifications to the dispatcher.
type Notifier interface {
	Enqueue(ctx context.Context, n notify.Notification) error
}

// Service exposes availability, booking and status transitions for tenants.
type Service struct {
	store    Store
	ledger   *sessions.Ledger
	clock    scheduling.Clock
	location *time.Location
	calendar CalendarSync
	notifier Notifier
	history  HistoryRecorder
	metrics  *metrics.SchedulingMetrics
	logger   *logging.Logger

	staffInitialStatus scheduling.Status
	newID              func() string
}

// Option customizes a Service.
type Option func(*Service)

func WithClock(c scheduling.Clock) Option {
	return func(s *Service) {
		if c != nil {
			s.clock = c
		}
	}
}

// WithLocation sets the zone used to place booking dates on the timeline.
func WithLocation(loc *time.Location) Option {
	return func(s *Service) {
		if loc != nil {
			s.location = loc
		}
	}
}

func WithCalendarSync(c CalendarSync) Option {
	return func(s *Service) { s.calendar = c }
}

func WithNotifier(n Notifier) Option {
	return func(s *Service) { s.notifier = n }
}

func WithHistory(h HistoryRecorder) Option {
	return func(s *Service) { s.history = h }
}

func WithMetrics(m *metrics.SchedulingMetrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithStaffInitialStatus sets the status of staff-created appointments.
// Only pending and confirmed are accepted.
func WithStaffInitialStatus(status scheduling.Status) Option {
	return func(s *Service) {
		if status == scheduling.StatusPending || status == scheduling.StatusConfirmed {
			s.staffInitialStatus = status
		}
	}
}

func NewService(store Store, logger *logging.Logger, opts ...Option) *Service {
	if store == nil {
		panic("appointments: store required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	s := &Service{
		store:              store,
		ledger:             sessions.NewLedger(logger),
		clock:              scheduling.SystemClock{},
		location:           time.UTC,
		logger:             logger,
		staffInitialStatus: scheduling.StatusConfirmed,
		newID:              uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Get returns one appointment of the tenant.
func (s *Service) Get(ctx context.Context, tenantID, appointmentID string) (*scheduling.Appointment, error) {
	return s.store.Get(ctx, tenantID, appointmentID)
}

// Availability lists the bookable start times for a service on date.
func (s *Service) Availability(ctx context.Context, tenantID, serviceID string, date scheduling.Date) ([]scheduling.TimeOfDay, error) {
	if tenantID == "" {
		return nil, scheduling.Invalid("tenant_id", "is required")
	}
	if date.IsZero() {
		return nil, scheduling.Invalid("date", "is required")
	}
	svc, err := s.store.Service(ctx, tenantID, serviceID)
	if err != nil {
		s.metrics.ObserveAvailability("error", 0)
		return nil, err
	}
	if !svc.Active {
		s.metrics.ObserveAvailability("inactive_service", 0)
		return nil, scheduling.Invalid("service_id", "service is not active")
	}
	q, err := s.slotQuery(ctx, s.store, tenantID, svc, date)
	if err != nil {
		s.metrics.ObserveAvailability("error", 0)
		return nil, err
	}
	slots := scheduling.AvailableSlots(q)
	s.metrics.ObserveAvailability("ok", len(slots))
	return slots, nil
}

// slotSource is satisfied by both Store and Tx.
type slotSource interface {
	Policy(ctx context.Context, tenantID string) (scheduling.Policy, error)
	DayHours(ctx context.Context, tenantID string, weekday time.Weekday) (*scheduling.DayHours, error)
	AppointmentsOn(ctx context.Context, tenantID string, date scheduling.Date) ([]scheduling.Appointment, error)
}

func (s *Service) slotQuery(ctx context.Context, src slotSource, tenantID string, svc scheduling.Service, date scheduling.Date) (scheduling.SlotQuery, error) {
	policy, err := src.Policy(ctx, tenantID)
	if err != nil {
		return scheduling.SlotQuery{}, err
	}
	hours, err := src.DayHours(ctx, tenantID, date.Weekday())
	if err != nil {
		return scheduling.SlotQuery{}, err
	}
	existing, err := src.AppointmentsOn(ctx, tenantID, date)
	if err != nil {
		return scheduling.SlotQuery{}, err
	}
	return scheduling.SlotQuery{
		Date:            date,
		Hours:           hours,
		Policy:          policy,
		DurationMinutes: svc.DurationMinutes,
		Existing:        existing,
		Now:             s.clock.Now(),
		Location:        s.location,
	}, nil
}

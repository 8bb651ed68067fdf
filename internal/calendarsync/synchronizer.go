// Package calendarsync mirrors appointments into external calendars. Each
// appointment maps to at most one event; the stored event id is the
// idempotency key.
package calendarsync

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/singleflight"

	"github.com/wolfman30/agenda-platform/internal/observability/metrics"
	"github.com/wolfman30/agenda-platform/internal/scheduling"
	"github.com/wolfman30/agenda-platform/pkg/logging"
)

var tracer = otel.Tracer("agenda.internal.calendarsync")

// AppointmentStore is the slice of the appointment store the synchronizer needs.
type AppointmentStore interface {
	Get(ctx context.Context, tenantID, appointmentID string) (*scheduling.Appointment, error)
	Service(ctx context.Context, tenantID, serviceID string) (scheduling.Service, error)
	SetExternalEvent(ctx context.Context, tenantID, appointmentID, eventID string, meetingLink *string) (bool, error)
}

type tokenSource interface {
	GetValidToken(ctx context.Context, tenantID string, staffID *string) (*Token, error)
}

// SyncRecorder keeps an audit trail of sync outcomes.
type SyncRecorder interface {
	Record(ctx context.Context, entry LogEntry) error
}

// Synchronizer creates and deletes mirrored events.
type Synchronizer struct {
	appts    AppointmentStore
	tokens   tokenSource
	settings SettingsStore
	provider Provider
	log      SyncRecorder
	inflight singleflight.Group
	metrics  *metrics.CalendarMetrics
	logger   *logging.Logger
}

// SyncOption customizes a Synchronizer.
type SyncOption func(*Synchronizer)

func WithSyncLog(rec SyncRecorder) SyncOption {
	return func(s *Synchronizer) { s.log = rec }
}

func WithSyncMetrics(m *metrics.CalendarMetrics) SyncOption {
	return func(s *Synchronizer) { s.metrics = m }
}

func NewSynchronizer(appts AppointmentStore, tokens tokenSource, settings SettingsStore, provider Provider, logger *logging.Logger, opts ...SyncOption) *Synchronizer {
	if appts == nil || tokens == nil || settings == nil || provider == nil {
		panic("calendarsync: synchronizer dependencies required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	s := &Synchronizer{appts: appts, tokens: tokens, settings: settings, provider: provider, logger: logger}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SyncAppointment creates the external event for an appointment unless it
// already has one or cannot be routed. Concurrent calls for the same
// appointment share one execution.
func (s *Synchronizer) SyncAppointment(ctx context.Context, tenantID, appointmentID string) (Result, error) {
	v, err, _ := s.inflight.Do(tenantID+"/"+appointmentID, func() (any, error) {
		return s.sync(ctx, tenantID, appointmentID)
	})
	if err != nil {
		return Result{Status: ResultFailed}, err
	}
	return v.(Result), nil
}

func (s *Synchronizer) sync(ctx context.Context, tenantID, appointmentID string) (res Result, err error) {
	ctx, span := tracer.Start(ctx, "calendarsync.sync")
	defer span.End()
	span.SetAttributes(
		attribute.String("agenda.tenant_id", tenantID),
		attribute.String("agenda.appointment_id", appointmentID),
	)
	defer func() {
		if err != nil {
			span.RecordError(err)
			s.metrics.ObserveSync(string(ResultFailed))
			s.record(ctx, tenantID, appointmentID, Result{Status: ResultFailed, Reason: err.Error()})
			return
		}
		s.metrics.ObserveSync(string(res.Status))
		s.record(ctx, tenantID, appointmentID, res)
	}()

	appt, err := s.appts.Get(ctx, tenantID, appointmentID)
	if err != nil {
		return Result{}, err
	}
	if appt.HasExternalEvent() {
		return alreadySynced(appt), nil
	}
	if !appt.Status.OccupiesCapacity() {
		return Result{Status: ResultSkipped, Reason: ReasonInactive}, nil
	}

	settings, err := s.settings.GetSettings(ctx, tenantID)
	if err != nil {
		return Result{}, err
	}
	staffID, reason := route(settings, appt.StaffID)
	if reason != "" {
		return Result{Status: ResultSkipped, Reason: reason}, nil
	}
	tok, err := s.tokens.GetValidToken(ctx, tenantID, staffID)
	switch {
	case errors.Is(err, ErrNotConnected):
		return Result{Status: ResultSkipped, Reason: ReasonNotConnected}, nil
	case errors.Is(err, ErrTokenRefreshFailed):
		return Result{Status: ResultSkipped, Reason: ReasonReconnectRequired}, nil
	case err != nil:
		return Result{}, err
	}

	serviceName := ""
	if svc, err := s.appts.Service(ctx, tenantID, appt.ServiceID); err == nil {
		serviceName = svc.Name
	}
	created, err := s.provider.CreateEvent(ctx, tok, buildEvent(appt, serviceName, settings))
	if err != nil {
		s.logger.Error("calendar event create failed", "error", err,
			"tenant_id", tenantID, "appointment_id", appointmentID, "staff_id", staffKey(staffID), "retryable", IsRetryable(err))
		return Result{}, err
	}

	var link *string
	if created.MeetingLink != "" {
		link = &created.MeetingLink
	}
	stored, err := s.appts.SetExternalEvent(ctx, tenantID, appointmentID, created.ID, link)
	if err != nil || !stored {
		// The write failed, another writer mirrored the appointment first, or
		// it stopped occupying capacity while the event was being created.
		// The event we just created must not survive.
		s.discard(ctx, tok, tenantID, appointmentID, created.ID)
		if err != nil {
			return Result{}, fmt.Errorf("calendarsync: persist event id: %w", err)
		}
		current, err := s.appts.Get(ctx, tenantID, appointmentID)
		if err != nil {
			return Result{}, err
		}
		if !current.HasExternalEvent() && !current.Status.OccupiesCapacity() {
			s.logger.Info("appointment became inactive during sync", "tenant_id", tenantID,
				"appointment_id", appointmentID, "status", string(current.Status))
			return Result{Status: ResultSkipped, Reason: ReasonInactive}, nil
		}
		return alreadySynced(current), nil
	}

	s.logger.Info("appointment synced", "tenant_id", tenantID, "appointment_id", appointmentID, "event_id", created.ID)
	return Result{Status: ResultSynced, EventID: created.ID, MeetingLink: created.MeetingLink}, nil
}

// DeleteEvent removes a mirrored event using the token the tenant's routing
// mode selects. Missing events count as deleted.
func (s *Synchronizer) DeleteEvent(ctx context.Context, tenantID, appointmentID string, staffID *string, eventID string) error {
	ctx, span := tracer.Start(ctx, "calendarsync.delete")
	defer span.End()
	span.SetAttributes(
		attribute.String("agenda.tenant_id", tenantID),
		attribute.String("agenda.appointment_id", appointmentID),
	)

	settings, err := s.settings.GetSettings(ctx, tenantID)
	if err != nil {
		return err
	}
	routed, reason := route(settings, staffID)
	if reason != "" {
		return fmt.Errorf("calendarsync: delete event %s: %s: %w", eventID, reason, ErrNotConnected)
	}
	tok, err := s.tokens.GetValidToken(ctx, tenantID, routed)
	if err != nil {
		return fmt.Errorf("calendarsync: delete event %s: %w", eventID, err)
	}
	if err := s.provider.DeleteEvent(ctx, tok, eventID); err != nil {
		span.RecordError(err)
		return err
	}
	s.logger.Info("calendar event deleted", "tenant_id", tenantID, "appointment_id", appointmentID, "event_id", eventID)
	return nil
}

func (s *Synchronizer) discard(ctx context.Context, tok *Token, tenantID, appointmentID, eventID string) {
	if err := s.provider.DeleteEvent(ctx, tok, eventID); err != nil {
		s.logger.Error("orphan calendar event left behind", "error", err,
			"tenant_id", tenantID, "appointment_id", appointmentID, "event_id", eventID)
	}
}

func (s *Synchronizer) record(ctx context.Context, tenantID, appointmentID string, res Result) {
	if s.log == nil {
		return
	}
	entry := LogEntry{
		TenantID:      tenantID,
		AppointmentID: appointmentID,
		Result:        res.Status,
		Reason:        res.Reason,
		EventID:       res.EventID,
	}
	if err := s.log.Record(ctx, entry); err != nil {
		s.logger.Warn("sync log write failed", "error", err, "tenant_id", tenantID, "appointment_id", appointmentID)
	}
}

// route picks the token key for an appointment. A non-empty reason means
// the appointment cannot be routed.
func route(settings Settings, staffID *string) (*string, string) {
	if settings.Mode != ModePerStaff {
		return nil, ""
	}
	if staffKey(staffID) == "" {
		return nil, ReasonNoStaff
	}
	id := staffKey(staffID)
	return &id, ""
}

func alreadySynced(appt *scheduling.Appointment) Result {
	res := Result{Status: ResultAlreadySynced}
	if appt.ExternalEventID != nil {
		res.EventID = *appt.ExternalEventID
	}
	if appt.MeetingLink != nil {
		res.MeetingLink = *appt.MeetingLink
	}
	return res
}

func buildEvent(appt *scheduling.Appointment, serviceName string, settings Settings) Event {
	loc, err := time.LoadLocation(settings.Timezone)
	if err != nil {
		loc = time.UTC
	}
	title := serviceName
	if title == "" {
		title = "Appointment"
	}

	var desc strings.Builder
	fmt.Fprintf(&desc, "Client: %s\nPhone: %s\n", appt.ClientName, appt.ClientPhone)
	if appt.Notes != "" {
		fmt.Fprintf(&desc, "Notes: %s\n", appt.Notes)
	}
	fmt.Fprintf(&desc, "Appointment ID: %s", appt.ID)

	return Event{
		RequestID:   appt.ID,
		Summary:     fmt.Sprintf("%s - %s", title, appt.ClientName),
		Description: desc.String(),
		Start:       appt.Date.At(appt.Start, loc),
		End:         appt.Date.At(appt.End, loc),
		TimeZone:    loc.String(),
		MeetLink:    settings.GenerateMeetLink,
	}
}

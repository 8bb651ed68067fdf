package appointments

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel/attribute"

	"github.com/wolfman30/agenda-platform/internal/calendarsync"
	"github.com/wolfman30/agenda-platform/internal/notify"
	"github.com/wolfman30/agenda-platform/internal/scheduling"
	"github.com/wolfman30/agenda-platform/internal/sessions"
)

// ErrCalendarDisabled is returned by Sync when no synchronizer is wired.
var ErrCalendarDisabled = errors.New("appointments: calendar sync not configured")

var notifyOn = map[scheduling.Status]bool{
	scheduling.StatusConfirmed:   true,
	scheduling.StatusCanceled:    true,
	scheduling.StatusRescheduled: true,
}

// Transition moves an appointment to a new status under its row lock.
// Session bookkeeping commits with the status; notification, history and
// calendar cleanup run after commit and only log their failures.
func (s *Service) Transition(ctx context.Context, tenantID, appointmentID string, to scheduling.Status) (*scheduling.Appointment, error) {
	ctx, span := tracer.Start(ctx, "appointments.transition")
	defer span.End()
	span.SetAttributes(
		attribute.String("agenda.tenant_id", tenantID),
		attribute.String("agenda.appointment_id", appointmentID),
		attribute.String("agenda.to_status", string(to)),
	)

	if !to.Valid() {
		s.metrics.ObserveTransition(string(to), "invalid")
		return nil, scheduling.Invalid("status", "unknown status %q", to)
	}

	var (
		from    scheduling.Status
		updated scheduling.Appointment
		outcome sessions.Outcome
	)
	err := s.store.WithTx(ctx, func(tx Tx) error {
		appt, err := tx.GetForUpdate(ctx, tenantID, appointmentID)
		if err != nil {
			return err
		}
		if !scheduling.CanTransition(appt.Status, to) {
			return &scheduling.TransitionError{From: appt.Status, To: to}
		}
		now := s.clock.Now().UTC()
		if err := tx.UpdateStatus(ctx, tenantID, appointmentID, to, now); err != nil {
			return err
		}
		from = appt.Status
		updated = *appt
		updated.Status = to
		updated.UpdatedAt = now

		if to == scheduling.StatusCompleted {
			svc, err := tx.Service(ctx, tenantID, appt.ServiceID)
			if err != nil {
				return err
			}
			if outcome, err = s.ledger.Record(ctx, tx.Sessions(), updated, svc); err != nil {
				return fmt.Errorf("appointments: session bookkeeping: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		switch {
		case errors.Is(err, scheduling.ErrInvalidTransition):
			s.metrics.ObserveTransition(string(to), "rejected")
		case errors.Is(err, scheduling.ErrNotFound):
			s.metrics.ObserveTransition(string(to), "not_found")
		default:
			s.metrics.ObserveTransition(string(to), "error")
			span.RecordError(err)
		}
		return nil, err
	}
	s.metrics.ObserveTransition(string(to), "ok")
	s.logger.Info("appointment status changed",
		"tenant_id", tenantID, "appointment_id", appointmentID, "from", from, "to", to)
	if outcome.PackageCompleted {
		s.logger.Info("session package completed",
			"tenant_id", tenantID, "package_id", outcome.Package.ID, "client_phone", updated.ClientPhone)
	}

	s.recordHistory(ctx, StatusChange{
		TenantID:      tenantID,
		AppointmentID: appointmentID,
		From:          from,
		To:            to,
		ChangedBy:     actor(ctx, originStaff),
		ChangedAt:     updated.UpdatedAt,
	})
	if notifyOn[to] {
		s.enqueueNotification(ctx, &updated, s.serviceName(ctx, tenantID, updated.ServiceID))
	}
	if to == scheduling.StatusCanceled {
		s.removeCalendarEvent(ctx, &updated)
	}
	return &updated, nil
}

// RetrySideEffects re-applies the idempotent side effects of the
// appointment's current status: session bookkeeping for completed visits
// and external event removal for canceled ones.
func (s *Service) RetrySideEffects(ctx context.Context, tenantID, appointmentID string) (*scheduling.Appointment, error) {
	var current scheduling.Appointment
	err := s.store.WithTx(ctx, func(tx Tx) error {
		appt, err := tx.GetForUpdate(ctx, tenantID, appointmentID)
		if err != nil {
			return err
		}
		current = *appt
		if appt.Status != scheduling.StatusCompleted {
			return nil
		}
		svc, err := tx.Service(ctx, tenantID, appt.ServiceID)
		if err != nil {
			return err
		}
		if _, err := s.ledger.Record(ctx, tx.Sessions(), *appt, svc); err != nil {
			return fmt.Errorf("appointments: session bookkeeping: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if current.Status == scheduling.StatusCanceled {
		s.removeCalendarEvent(ctx, &current)
	}
	return &current, nil
}

// Sync mirrors one appointment on demand.
func (s *Service) Sync(ctx context.Context, tenantID, appointmentID string) (calendarsync.Result, error) {
	if s.calendar == nil {
		return calendarsync.Result{}, ErrCalendarDisabled
	}
	if _, err := s.store.Get(ctx, tenantID, appointmentID); err != nil {
		return calendarsync.Result{}, err
	}
	return s.calendar.SyncAppointment(ctx, tenantID, appointmentID)
}

func (s *Service) enqueueNotification(ctx context.Context, appt *scheduling.Appointment, serviceName string) {
	if s.notifier == nil {
		return
	}
	n := notify.Notification{
		TenantID:      appt.TenantID,
		AppointmentID: appt.ID,
		Status:        string(appt.Status),
		ClientName:    appt.ClientName,
		ClientPhone:   appt.ClientPhone,
		ServiceName:   serviceName,
		Date:          appt.Date.String(),
		StartTime:     appt.Start.String(),
		OccurredAt:    appt.UpdatedAt,
	}
	if appt.StaffID != nil {
		n.StaffID = *appt.StaffID
	}
	if err := s.notifier.Enqueue(ctx, n); err != nil {
		s.metrics.ObserveSideEffect("notification", "failed")
		s.logger.Error("notification enqueue failed", "error", err,
			"tenant_id", appt.TenantID, "appointment_id", appt.ID, "status", appt.Status)
		return
	}
	s.metrics.ObserveSideEffect("notification", "ok")
}

func (s *Service) removeCalendarEvent(ctx context.Context, appt *scheduling.Appointment) {
	if !appt.HasExternalEvent() || s.calendar == nil {
		return
	}
	eventID := *appt.ExternalEventID
	if err := s.calendar.DeleteEvent(ctx, appt.TenantID, appt.ID, appt.StaffID, eventID); err != nil {
		s.metrics.ObserveSideEffect("calendar_delete", "failed")
		s.logger.Error("calendar event delete failed", "error", err,
			"tenant_id", appt.TenantID, "appointment_id", appt.ID, "event_id", eventID)
		return
	}
	if err := s.store.ClearExternalEvent(ctx, appt.TenantID, appt.ID, eventID); err != nil {
		s.metrics.ObserveSideEffect("calendar_delete", "failed")
		s.logger.Error("clear external event failed", "error", err,
			"tenant_id", appt.TenantID, "appointment_id", appt.ID, "event_id", eventID)
		return
	}
	s.metrics.ObserveSideEffect("calendar_delete", "ok")
	appt.ExternalEventID = nil
	appt.MeetingLink = nil
}

func (s *Service) recordHistory(ctx context.Context, change StatusChange) {
	if s.history == nil {
		return
	}
	if err := s.history.Record(ctx, change); err != nil {
		s.metrics.ObserveSideEffect("history", "failed")
		s.logger.Warn("status history write failed", "error", err,
			"tenant_id", change.TenantID, "appointment_id", change.AppointmentID, "to", change.To)
	}
}

func (s *Service) serviceName(ctx context.Context, tenantID, serviceID string) string {
	svc, err := s.store.Service(ctx, tenantID, serviceID)
	if err != nil {
		return ""
	}
	return svc.Name
}

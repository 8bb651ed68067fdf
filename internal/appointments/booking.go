package appointments

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel/attribute"

	"github.com/wolfman30/agenda-platform/internal/scheduling"
	"github.com/wolfman30/agenda-platform/internal/tenancy"
)

const (
	originClient = "client"
	originStaff  = "staff"
)

// Book creates a client appointment in pending status. Capacity and advance
// notice are re-checked inside the transaction; losing a race returns
// scheduling.ErrSlotUnavailable.
func (s *Service) Book(ctx context.Context, req scheduling.BookingRequest) (*scheduling.Appointment, error) {
	return s.create(ctx, req, scheduling.StatusPending, originClient)
}

// CreateForStaff creates an appointment on behalf of staff using the
// configured initial status.
func (s *Service) CreateForStaff(ctx context.Context, req scheduling.BookingRequest) (*scheduling.Appointment, error) {
	return s.create(ctx, req, s.staffInitialStatus, originStaff)
}

func (s *Service) create(ctx context.Context, req scheduling.BookingRequest, status scheduling.Status, origin string) (*scheduling.Appointment, error) {
	ctx, span := tracer.Start(ctx, "appointments.create")
	defer span.End()
	span.SetAttributes(
		attribute.String("agenda.tenant_id", req.TenantID),
		attribute.String("agenda.origin", origin),
	)

	if err := req.Validate(); err != nil {
		s.metrics.ObserveBooking(origin, "invalid")
		return nil, err
	}
	svc, err := s.store.Service(ctx, req.TenantID, req.ServiceID)
	if errors.Is(err, scheduling.ErrNotFound) {
		s.metrics.ObserveBooking(origin, "invalid")
		return nil, scheduling.Invalid("service_id", "unknown service")
	}
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	if !svc.Active {
		s.metrics.ObserveBooking(origin, "invalid")
		return nil, scheduling.Invalid("service_id", "service is not active")
	}

	var appt *scheduling.Appointment
	err = s.store.WithTx(ctx, func(tx Tx) error {
		if err := tx.LockDay(ctx, req.TenantID, req.Date); err != nil {
			return err
		}
		q, err := s.slotQuery(ctx, tx, req.TenantID, svc, req.Date)
		if err != nil {
			return err
		}
		if !scheduling.SlotBookable(q, req.Start) {
			return fmt.Errorf("appointments: %s %s: %w", req.Date, req.Start, scheduling.ErrSlotUnavailable)
		}
		created, err := scheduling.NewAppointment(s.newID(), req, svc, status, s.clock.Now().UTC())
		if err != nil {
			return err
		}
		if err := tx.Insert(ctx, created); err != nil {
			return err
		}
		appt = created
		return nil
	})
	if err != nil {
		switch {
		case errors.Is(err, scheduling.ErrSlotUnavailable):
			s.metrics.ObserveBooking(origin, "slot_unavailable")
		case errors.Is(err, scheduling.ErrValidation):
			s.metrics.ObserveBooking(origin, "invalid")
		default:
			s.metrics.ObserveBooking(origin, "error")
			span.RecordError(err)
		}
		return nil, err
	}
	s.metrics.ObserveBooking(origin, "created")
	s.logger.Info("appointment created", "tenant_id", appt.TenantID, "appointment_id", appt.ID, "status", appt.Status, "origin", origin)

	s.recordHistory(ctx, StatusChange{
		TenantID:      appt.TenantID,
		AppointmentID: appt.ID,
		To:            appt.Status,
		ChangedBy:     actor(ctx, origin),
		ChangedAt:     appt.CreatedAt,
	})
	if status == scheduling.StatusConfirmed {
		s.enqueueNotification(ctx, appt, svc.Name)
	}
	return s.syncCreated(ctx, appt), nil
}

// syncCreated mirrors a new appointment and returns the freshest copy.
// Sync failures are logged and never fail the booking.
func (s *Service) syncCreated(ctx context.Context, appt *scheduling.Appointment) *scheduling.Appointment {
	if s.calendar == nil {
		return appt
	}
	res, err := s.calendar.SyncAppointment(ctx, appt.TenantID, appt.ID)
	if err != nil {
		s.metrics.ObserveSideEffect("calendar_sync", "failed")
		s.logger.Error("calendar sync failed", "error", err, "tenant_id", appt.TenantID, "appointment_id", appt.ID)
		return appt
	}
	s.metrics.ObserveSideEffect("calendar_sync", string(res.Status))
	if res.EventID == "" {
		return appt
	}
	fresh, err := s.store.Get(ctx, appt.TenantID, appt.ID)
	if err != nil {
		s.logger.Warn("reload after sync failed", "error", err, "appointment_id", appt.ID)
		return appt
	}
	return fresh
}

func actor(ctx context.Context, fallback string) string {
	if staffID, ok := tenancy.StaffIDFromContext(ctx); ok {
		return "staff:" + staffID
	}
	return fallback
}

package calendarsync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/wolfman30/agenda-platform/pkg/logging"
)

const defaultMaxRetryAttempts = 5

const (
	retrySync   = "sync"
	retryDelete = "delete"
)

// RetryMessage is the queued form of a sync or delete that failed with a
// retryable provider error.
type RetryMessage struct {
	Kind          string  `json:"kind"`
	TenantID      string  `json:"tenant_id"`
	AppointmentID string  `json:"appointment_id,omitempty"`
	StaffID       *string `json:"staff_id,omitempty"`
	EventID       string  `json:"event_id,omitempty"`
	Attempt       int     `json:"attempt"`
}

type sender interface {
	Send(ctx context.Context, body string) error
}

type syncer interface {
	SyncAppointment(ctx context.Context, tenantID, appointmentID string) (Result, error)
	DeleteEvent(ctx context.Context, tenantID, appointmentID string, staffID *string, eventID string) error
}

// EventClearer drops an appointment's stored event id once the event is gone.
type EventClearer interface {
	ClearExternalEvent(ctx context.Context, tenantID, appointmentID, eventID string) error
}

// RetryingSync forwards to a syncer and queues retryable failures. The
// original error is still returned so callers can log it.
type RetryingSync struct {
	inner       syncer
	queue       sender
	maxAttempts int
	clearer     EventClearer
	logger      *logging.Logger
}

// RetryOption customizes a RetryingSync.
type RetryOption func(*RetryingSync)

// WithEventClearer clears the appointment's event id after a queued delete
// succeeds.
func WithEventClearer(c EventClearer) RetryOption {
	return func(r *RetryingSync) { r.clearer = c }
}

func NewRetryingSync(inner syncer, queue sender, maxAttempts int, logger *logging.Logger, opts ...RetryOption) *RetryingSync {
	if inner == nil || queue == nil {
		panic("calendarsync: retrying sync requires inner syncer and queue")
	}
	if maxAttempts <= 0 {
		maxAttempts = defaultMaxRetryAttempts
	}
	if logger == nil {
		logger = logging.Default()
	}
	r := &RetryingSync{inner: inner, queue: queue, maxAttempts: maxAttempts, logger: logger}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *RetryingSync) SyncAppointment(ctx context.Context, tenantID, appointmentID string) (Result, error) {
	res, err := r.inner.SyncAppointment(ctx, tenantID, appointmentID)
	if err != nil && IsRetryable(err) {
		r.enqueue(ctx, RetryMessage{Kind: retrySync, TenantID: tenantID, AppointmentID: appointmentID, Attempt: 1})
	}
	return res, err
}

func (r *RetryingSync) DeleteEvent(ctx context.Context, tenantID, appointmentID string, staffID *string, eventID string) error {
	err := r.inner.DeleteEvent(ctx, tenantID, appointmentID, staffID, eventID)
	if err != nil && IsRetryable(err) {
		r.enqueue(ctx, RetryMessage{Kind: retryDelete, TenantID: tenantID, AppointmentID: appointmentID, StaffID: staffID, EventID: eventID, Attempt: 1})
	}
	return err
}

func (r *RetryingSync) enqueue(ctx context.Context, msg RetryMessage) {
	if err := r.send(ctx, msg); err != nil {
		r.logger.Error("failed to queue calendar retry", "error", err,
			"tenant_id", msg.TenantID, "kind", msg.Kind, "appointment_id", msg.AppointmentID, "event_id", msg.EventID)
	}
}

func (r *RetryingSync) send(ctx context.Context, msg RetryMessage) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("calendarsync: marshal retry: %w", err)
	}
	return r.queue.Send(ctx, string(body))
}

// HandleRetryMessage replays one queued operation. A retryable failure is
// queued again until maxAttempts; the returned error is reserved for
// messages that should be redelivered as-is.
func (r *RetryingSync) HandleRetryMessage(ctx context.Context, body string) error {
	var msg RetryMessage
	if err := json.Unmarshal([]byte(body), &msg); err != nil {
		r.logger.Error("dropping undecodable calendar retry", "error", err)
		return nil
	}
	if msg.TenantID == "" {
		r.logger.Error("dropping calendar retry without tenant", "kind", msg.Kind)
		return nil
	}

	var err error
	switch msg.Kind {
	case retrySync:
		var res Result
		res, err = r.inner.SyncAppointment(ctx, msg.TenantID, msg.AppointmentID)
		if err == nil {
			r.logger.Info("calendar retry finished", "tenant_id", msg.TenantID,
				"appointment_id", msg.AppointmentID, "result", res.Status, "attempt", msg.Attempt)
		}
	case retryDelete:
		err = r.inner.DeleteEvent(ctx, msg.TenantID, msg.AppointmentID, msg.StaffID, msg.EventID)
		if err == nil {
			return r.clearDeleted(ctx, msg)
		}
	default:
		r.logger.Error("dropping calendar retry with unknown kind", "kind", msg.Kind)
		return nil
	}
	if err == nil {
		return nil
	}

	if !IsRetryable(err) {
		r.logger.Error("calendar retry failed permanently", "error", err,
			"tenant_id", msg.TenantID, "kind", msg.Kind, "attempt", msg.Attempt)
		return nil
	}
	if msg.Attempt >= r.maxAttempts {
		r.logger.Error("calendar retry attempts exhausted", "error", err,
			"tenant_id", msg.TenantID, "kind", msg.Kind, "attempt", msg.Attempt)
		return nil
	}
	msg.Attempt++
	if sendErr := r.send(ctx, msg); sendErr != nil {
		return errors.Join(err, sendErr)
	}
	return nil
}

// clearDeleted drops the stored event id after a replayed delete. A failed
// clear is returned so the message is redelivered; deleting a missing event
// again is harmless.
func (r *RetryingSync) clearDeleted(ctx context.Context, msg RetryMessage) error {
	if r.clearer == nil || msg.AppointmentID == "" {
		return nil
	}
	if err := r.clearer.ClearExternalEvent(ctx, msg.TenantID, msg.AppointmentID, msg.EventID); err != nil {
		r.logger.Error("clear external event after retried delete failed", "error", err,
			"tenant_id", msg.TenantID, "appointment_id", msg.AppointmentID, "event_id", msg.EventID)
		return fmt.Errorf("calendarsync: clear external event: %w", err)
	}
	r.logger.Info("calendar retry finished", "tenant_id", msg.TenantID,
		"appointment_id", msg.AppointmentID, "kind", msg.Kind, "attempt", msg.Attempt)
	return nil
}

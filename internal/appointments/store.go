package appointments

import (
	"context"
	"time"

	"github.com/wolfman30/agenda-platform/internal/scheduling"
	"github.com/wolfman30/agenda-platform/internal/sessions"
)

// RulesReader exposes the calendar rules of a tenant.
type RulesReader interface {
	// Policy returns the tenant's policy with defaults applied.
	Policy(ctx context.Context, tenantID string) (scheduling.Policy, error)
	// DayHours returns nil, nil when the tenant has no row for the weekday.
	DayHours(ctx context.Context, tenantID string, weekday time.Weekday) (*scheduling.DayHours, error)
	Service(ctx context.Context, tenantID, serviceID string) (scheduling.Service, error)
}

// Store is the rules store plus the appointment store.
type Store interface {
	RulesReader
	Get(ctx context.Context, tenantID, appointmentID string) (*scheduling.Appointment, error)
	AppointmentsOn(ctx context.Context, tenantID string, date scheduling.Date) ([]scheduling.Appointment, error)
	// SetExternalEvent stores the mirrored event only when none is recorded yet
	// and the appointment still occupies capacity. It reports false when another
	// writer got there first or the appointment was canceled meanwhile.
	SetExternalEvent(ctx context.Context, tenantID, appointmentID, eventID string, meetingLink *string) (bool, error)
	// ClearExternalEvent removes eventID from the appointment if it is still the stored one.
	ClearExternalEvent(ctx context.Context, tenantID, appointmentID, eventID string) error
	// WithTx runs fn in a transaction, committing when fn returns nil.
	WithTx(ctx context.Context, fn func(Tx) error) error
}

// Tx is the transactional view used by the write paths. Rules are read
// through it so they see the same snapshot as the appointments.
type Tx interface {
	RulesReader
	// LockDay serializes writers booking the same tenant day.
	LockDay(ctx context.Context, tenantID string, date scheduling.Date) error
	AppointmentsOn(ctx context.Context, tenantID string, date scheduling.Date) ([]scheduling.Appointment, error)
	Insert(ctx context.Context, appt *scheduling.Appointment) error
	// GetForUpdate loads the appointment and holds its row lock until commit.
	GetForUpdate(ctx context.Context, tenantID, appointmentID string) (*scheduling.Appointment, error)
	UpdateStatus(ctx context.Context, tenantID, appointmentID string, status scheduling.Status, at time.Time) error
	Sessions() sessions.Store
}

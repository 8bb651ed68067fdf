// Package sessions tracks multi-visit packages for session-based services.
//
// Ledger.Record is the only way sessions are created. It is idempotent per
// appointment id so retries of a completion never double count.
package sessions

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/wolfman30/agenda-platform/internal/scheduling"
	"github.com/wolfman30/agenda-platform/pkg/logging"
)

// PackageStatus is the lifecycle of a session package.
type PackageStatus string

const (
	PackageActive    PackageStatus = "active"
	PackageCompleted PackageStatus = "completed"
	PackageCanceled  PackageStatus = "canceled"
)

const autoCreatedNote = "auto-created"

// Package is a bounded or unbounded set of visits for one client and service.
type Package struct {
	ID            string        `json:"id"`
	TenantID      string        `json:"tenant_id"`
	ClientPhone   string        `json:"client_phone"`
	ServiceID     string        `json:"service_id"`
	TotalSessions *int          `json:"total_sessions,omitempty"`
	Status        PackageStatus `json:"status"`
	Notes         string        `json:"notes,omitempty"`
	CreatedAt     time.Time     `json:"created_at"`
	UpdatedAt     time.Time     `json:"updated_at"`
}

// Session is one consumed visit of a package.
type Session struct {
	ID            string          `json:"id"`
	PackageID     string          `json:"package_id"`
	Number        int             `json:"session_number"`
	AppointmentID string          `json:"appointment_id"`
	Date          scheduling.Date `json:"date"`
	CreatedAt     time.Time       `json:"created_at"`
}

// Store is the transactional view Ledger works against. Every call runs in
// the caller's transaction so the bookkeeping commits with the status change.
type Store interface {
	// SessionByAppointment returns nil, nil when no session links the appointment.
	SessionByAppointment(ctx context.Context, appointmentID string) (*Session, error)
	// ActivePackage returns nil, nil when the tuple has no active package.
	ActivePackage(ctx context.Context, tenantID, clientPhone, serviceID string) (*Package, error)
	CreatePackage(ctx context.Context, pkg *Package) error
	CountSessions(ctx context.Context, packageID string) (int, error)
	InsertSession(ctx context.Context, s *Session) error
	SetPackageStatus(ctx context.Context, packageID string, status PackageStatus) error
}

// Outcome describes what Record did.
type Outcome struct {
	Session          *Session
	Package          *Package
	Created          bool
	PackageCompleted bool
}

// Ledger records completed visits against session packages.
type Ledger struct {
	logger *logging.Logger
	now    func() time.Time
	newID  func() string
}

// NewLedger creates a ledger.
func NewLedger(logger *logging.Logger) *Ledger {
	if logger == nil {
		logger = logging.Default()
	}
	return &Ledger{
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
		newID:  uuid.NewString,
	}
}

// Record links a completed appointment to its client's active package,
// creating the package on first use. Services without session tracking are a no-op.
func (l *Ledger) Record(ctx context.Context, store Store, appt scheduling.Appointment, svc scheduling.Service) (Outcome, error) {
	if !svc.TracksSessions {
		return Outcome{}, nil
	}
	if store == nil {
		return Outcome{}, fmt.Errorf("sessions: store required")
	}

	existing, err := store.SessionByAppointment(ctx, appt.ID)
	if err != nil {
		return Outcome{}, fmt.Errorf("sessions: lookup by appointment: %w", err)
	}
	if existing != nil {
		l.logger.Debug("session already recorded", "appointment_id", appt.ID, "session_number", existing.Number)
		return Outcome{Session: existing}, nil
	}

	pkg, err := store.ActivePackage(ctx, appt.TenantID, appt.ClientPhone, svc.ID)
	if err != nil {
		return Outcome{}, fmt.Errorf("sessions: load active package: %w", err)
	}
	now := l.now()
	if pkg == nil {
		pkg = &Package{
			ID:            l.newID(),
			TenantID:      appt.TenantID,
			ClientPhone:   appt.ClientPhone,
			ServiceID:     svc.ID,
			TotalSessions: svc.TotalSessions,
			Status:        PackageActive,
			Notes:         autoCreatedNote,
			CreatedAt:     now,
			UpdatedAt:     now,
		}
		if err := store.CreatePackage(ctx, pkg); err != nil {
			return Outcome{}, fmt.Errorf("sessions: create package: %w", err)
		}
		l.logger.Info("session package auto-created", "tenant_id", appt.TenantID, "package_id", pkg.ID, "service_id", svc.ID)
	}

	count, err := store.CountSessions(ctx, pkg.ID)
	if err != nil {
		return Outcome{}, fmt.Errorf("sessions: count sessions: %w", err)
	}
	session := &Session{
		ID:            l.newID(),
		PackageID:     pkg.ID,
		Number:        count + 1,
		AppointmentID: appt.ID,
		Date:          appt.Date,
		CreatedAt:     now,
	}
	if err := store.InsertSession(ctx, session); err != nil {
		return Outcome{}, fmt.Errorf("sessions: insert session: %w", err)
	}

	out := Outcome{Session: session, Package: pkg, Created: true}
	if pkg.TotalSessions != nil && session.Number >= *pkg.TotalSessions {
		if err := store.SetPackageStatus(ctx, pkg.ID, PackageCompleted); err != nil {
			return Outcome{}, fmt.Errorf("sessions: complete package: %w", err)
		}
		pkg.Status = PackageCompleted
		pkg.UpdatedAt = now
		out.PackageCompleted = true
		l.logger.Info("session package completed", "tenant_id", appt.TenantID, "package_id", pkg.ID, "sessions", session.Number)
	}
	return out, nil
}

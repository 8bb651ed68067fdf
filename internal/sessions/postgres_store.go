package sessions

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/wolfman30/agenda-platform/internal/scheduling"
)

// Querier is satisfied by pgx.Tx, *pgxpool.Pool and pgxmock.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresStore runs the ledger queries on a transaction owned by the caller.
type PostgresStore struct {
	q Querier
}

var _ Store = (*PostgresStore)(nil)

// NewPostgresStore binds the store to q, normally the transition's pgx.Tx.
func NewPostgresStore(q Querier) *PostgresStore {
	return &PostgresStore{q: q}
}

func (s *PostgresStore) SessionByAppointment(ctx context.Context, appointmentID string) (*Session, error) {
	var out Session
	var day time.Time
	err := s.q.QueryRow(ctx, `
		SELECT id, package_id, session_number, appointment_id, session_date, created_at
		FROM sessions
		WHERE appointment_id = $1
	`, appointmentID).Scan(&out.ID, &out.PackageID, &out.Number, &out.AppointmentID, &day, &out.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	out.Date = scheduling.DateOf(day)
	return &out, nil
}

func (s *PostgresStore) ActivePackage(ctx context.Context, tenantID, clientPhone, serviceID string) (*Package, error) {
	var out Package
	var status string
	err := s.q.QueryRow(ctx, `
		SELECT id, tenant_id, client_phone, service_id, total_sessions, status, COALESCE(notes, ''), created_at, updated_at
		FROM session_packages
		WHERE tenant_id = $1 AND client_phone = $2 AND service_id = $3 AND status = 'active'
		FOR UPDATE
	`, tenantID, clientPhone, serviceID).Scan(
		&out.ID, &out.TenantID, &out.ClientPhone, &out.ServiceID, &out.TotalSessions,
		&status, &out.Notes, &out.CreatedAt, &out.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	out.Status = PackageStatus(status)
	return &out, nil
}

func (s *PostgresStore) CreatePackage(ctx context.Context, pkg *Package) error {
	_, err := s.q.Exec(ctx, `
		INSERT INTO session_packages (id, tenant_id, client_phone, service_id, total_sessions, status, notes, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $8)
	`, pkg.ID, pkg.TenantID, pkg.ClientPhone, pkg.ServiceID, pkg.TotalSessions, string(pkg.Status), pkg.Notes, pkg.CreatedAt)
	return err
}

func (s *PostgresStore) CountSessions(ctx context.Context, packageID string) (int, error) {
	var n int
	if err := s.q.QueryRow(ctx, `SELECT COUNT(*) FROM sessions WHERE package_id = $1`, packageID).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

func (s *PostgresStore) InsertSession(ctx context.Context, sess *Session) error {
	_, err := s.q.Exec(ctx, `
		INSERT INTO sessions (id, package_id, session_number, appointment_id, session_date, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, sess.ID, sess.PackageID, sess.Number, sess.AppointmentID, sess.Date.At(0, time.UTC), sess.CreatedAt)
	return err
}

func (s *PostgresStore) SetPackageStatus(ctx context.Context, packageID string, status PackageStatus) error {
	tag, err := s.q.Exec(ctx, `
		UPDATE session_packages SET status = $2, updated_at = now() WHERE id = $1
	`, packageID, string(status))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("package %s not found", packageID)
	}
	return nil
}

package appointments

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/wolfman30/agenda-platform/internal/scheduling"
	"github.com/wolfman30/agenda-platform/internal/sessions"
)

type db interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresStore persists rules and appointments with pgx.
type PostgresStore struct {
	db db
}

var _ Store = (*PostgresStore)(nil)

func NewPostgresStore(db db) *PostgresStore {
	if db == nil {
		panic("appointments: pgx pool required")
	}
	return &PostgresStore{db: db}
}

const appointmentColumns = `
	id, tenant_id, staff_id, service_id, client_name, client_phone, appointment_date,
	to_char(start_time, 'HH24:MI'), to_char(end_time, 'HH24:MI'), status,
	external_event_id, meeting_link, COALESCE(notes, ''), created_at, updated_at`

func (s *PostgresStore) Policy(ctx context.Context, tenantID string) (scheduling.Policy, error) {
	return loadPolicy(ctx, s.db, tenantID)
}

func loadPolicy(ctx context.Context, q querier, tenantID string) (scheduling.Policy, error) {
	var p scheduling.Policy
	err := q.QueryRow(ctx, `
		SELECT slot_interval_minutes, min_advance_hours, max_capacity_per_slot
		FROM scheduling_policies
		WHERE tenant_id = $1
	`, tenantID).Scan(&p.SlotIntervalMinutes, &p.MinAdvanceHours, &p.MaxCapacityPerSlot)
	if errors.Is(err, pgx.ErrNoRows) {
		return scheduling.DefaultPolicy(), nil
	}
	if err != nil {
		return scheduling.Policy{}, fmt.Errorf("appointments: load policy: %w", err)
	}
	return p.WithDefaults(), nil
}

func (s *PostgresStore) DayHours(ctx context.Context, tenantID string, weekday time.Weekday) (*scheduling.DayHours, error) {
	return loadDayHours(ctx, s.db, tenantID, weekday)
}

func loadDayHours(ctx context.Context, q querier, tenantID string, weekday time.Weekday) (*scheduling.DayHours, error) {
	var (
		h         = scheduling.DayHours{TenantID: tenantID, Weekday: weekday}
		open, end string
	)
	err := q.QueryRow(ctx, `
		SELECT is_open, to_char(open_time, 'HH24:MI'), to_char(close_time, 'HH24:MI')
		FROM business_hours
		WHERE tenant_id = $1 AND weekday = $2
	`, tenantID, int(weekday)).Scan(&h.IsOpen, &open, &end)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("appointments: load business hours: %w", err)
	}
	if h.Open, err = scheduling.ParseTimeOfDay(open); err != nil {
		return nil, fmt.Errorf("appointments: open time: %w", err)
	}
	if end == "00:00" {
		h.Close = scheduling.EndOfDay
	} else if h.Close, err = scheduling.ParseTimeOfDay(end); err != nil {
		return nil, fmt.Errorf("appointments: close time: %w", err)
	}
	return &h, nil
}

func (s *PostgresStore) Service(ctx context.Context, tenantID, serviceID string) (scheduling.Service, error) {
	return loadService(ctx, s.db, tenantID, serviceID)
}

func loadService(ctx context.Context, q querier, tenantID, serviceID string) (scheduling.Service, error) {
	svc := scheduling.Service{TenantID: tenantID}
	err := q.QueryRow(ctx, `
		SELECT id, name, duration_minutes, active, tracks_sessions, total_sessions
		FROM services
		WHERE tenant_id = $1 AND id = $2
	`, tenantID, serviceID).Scan(&svc.ID, &svc.Name, &svc.DurationMinutes, &svc.Active, &svc.TracksSessions, &svc.TotalSessions)
	if errors.Is(err, pgx.ErrNoRows) {
		return scheduling.Service{}, fmt.Errorf("appointments: service %s: %w", serviceID, scheduling.ErrNotFound)
	}
	if err != nil {
		return scheduling.Service{}, fmt.Errorf("appointments: load service: %w", err)
	}
	return svc, nil
}

func (s *PostgresStore) Get(ctx context.Context, tenantID, appointmentID string) (*scheduling.Appointment, error) {
	return getAppointment(ctx, s.db, tenantID, appointmentID, "")
}

func (s *PostgresStore) AppointmentsOn(ctx context.Context, tenantID string, date scheduling.Date) ([]scheduling.Appointment, error) {
	return listOn(ctx, s.db, tenantID, date)
}

func (s *PostgresStore) SetExternalEvent(ctx context.Context, tenantID, appointmentID, eventID string, meetingLink *string) (bool, error) {
	tag, err := s.db.Exec(ctx, `
		UPDATE appointments
		SET external_event_id = $3, meeting_link = $4, updated_at = now()
		WHERE tenant_id = $1 AND id = $2 AND external_event_id IS NULL
		  AND status IN ('pending', 'confirmed', 'completed')
	`, tenantID, appointmentID, eventID, meetingLink)
	if err != nil {
		return false, fmt.Errorf("appointments: set external event: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (s *PostgresStore) ClearExternalEvent(ctx context.Context, tenantID, appointmentID, eventID string) error {
	_, err := s.db.Exec(ctx, `
		UPDATE appointments
		SET external_event_id = NULL, meeting_link = NULL, updated_at = now()
		WHERE tenant_id = $1 AND id = $2 AND external_event_id = $3
	`, tenantID, appointmentID, eventID)
	if err != nil {
		return fmt.Errorf("appointments: clear external event: %w", err)
	}
	return nil
}

func (s *PostgresStore) WithTx(ctx context.Context, fn func(Tx) error) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("appointments: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(&pgTx{tx: tx}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("appointments: commit: %w", err)
	}
	return nil
}

type pgTx struct {
	tx pgx.Tx
}

func (t *pgTx) LockDay(ctx context.Context, tenantID string, date scheduling.Date) error {
	if _, err := t.tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, dayLockKey(tenantID, date)); err != nil {
		return fmt.Errorf("appointments: lock day: %w", err)
	}
	return nil
}

func (t *pgTx) AppointmentsOn(ctx context.Context, tenantID string, date scheduling.Date) ([]scheduling.Appointment, error) {
	return listOn(ctx, t.tx, tenantID, date)
}

func (t *pgTx) Insert(ctx context.Context, appt *scheduling.Appointment) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO appointments (
			id, tenant_id, staff_id, service_id, client_name, client_phone,
			appointment_date, start_time, end_time, status, notes, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7::date, $8::time, $9::time, $10, $11, $12, $12)
	`,
		appt.ID, appt.TenantID, appt.StaffID, appt.ServiceID, appt.ClientName, appt.ClientPhone,
		appt.Date.String(), appt.Start.String(), appt.End.String(), string(appt.Status), appt.Notes, appt.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("appointments: insert: %w", err)
	}
	return nil
}

func (t *pgTx) GetForUpdate(ctx context.Context, tenantID, appointmentID string) (*scheduling.Appointment, error) {
	return getAppointment(ctx, t.tx, tenantID, appointmentID, " FOR UPDATE")
}

func (t *pgTx) UpdateStatus(ctx context.Context, tenantID, appointmentID string, status scheduling.Status, at time.Time) error {
	tag, err := t.tx.Exec(ctx, `
		UPDATE appointments SET status = $3, updated_at = $4
		WHERE tenant_id = $1 AND id = $2
	`, tenantID, appointmentID, string(status), at)
	if err != nil {
		return fmt.Errorf("appointments: update status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("appointments: appointment %s: %w", appointmentID, scheduling.ErrNotFound)
	}
	return nil
}

func (t *pgTx) Policy(ctx context.Context, tenantID string) (scheduling.Policy, error) {
	return loadPolicy(ctx, t.tx, tenantID)
}

func (t *pgTx) DayHours(ctx context.Context, tenantID string, weekday time.Weekday) (*scheduling.DayHours, error) {
	return loadDayHours(ctx, t.tx, tenantID, weekday)
}

func (t *pgTx) Service(ctx context.Context, tenantID, serviceID string) (scheduling.Service, error) {
	return loadService(ctx, t.tx, tenantID, serviceID)
}

func (t *pgTx) Sessions() sessions.Store {
	return sessions.NewPostgresStore(t.tx)
}

func dayLockKey(tenantID string, date scheduling.Date) string {
	return tenantID + "|" + date.String()
}

func getAppointment(ctx context.Context, q querier, tenantID, appointmentID, suffix string) (*scheduling.Appointment, error) {
	row := q.QueryRow(ctx, `SELECT `+appointmentColumns+`
		FROM appointments
		WHERE tenant_id = $1 AND id = $2`+suffix,
		tenantID, appointmentID,
	)
	appt, err := scanAppointment(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("appointments: appointment %s: %w", appointmentID, scheduling.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("appointments: load appointment: %w", err)
	}
	return appt, nil
}

func listOn(ctx context.Context, q querier, tenantID string, date scheduling.Date) ([]scheduling.Appointment, error) {
	rows, err := q.Query(ctx, `SELECT `+appointmentColumns+`
		FROM appointments
		WHERE tenant_id = $1 AND appointment_date = $2::date
		ORDER BY start_time, id
	`, tenantID, date.String())
	if err != nil {
		return nil, fmt.Errorf("appointments: list: %w", err)
	}
	defer rows.Close()

	var out []scheduling.Appointment
	for rows.Next() {
		appt, err := scanAppointment(rows)
		if err != nil {
			return nil, fmt.Errorf("appointments: scan: %w", err)
		}
		out = append(out, *appt)
	}
	return out, rows.Err()
}

func scanAppointment(row pgx.Row) (*scheduling.Appointment, error) {
	var (
		appt       scheduling.Appointment
		day        time.Time
		start, end string
		status     string
	)
	if err := row.Scan(
		&appt.ID, &appt.TenantID, &appt.StaffID, &appt.ServiceID, &appt.ClientName, &appt.ClientPhone,
		&day, &start, &end, &status, &appt.ExternalEventID, &appt.MeetingLink, &appt.Notes,
		&appt.CreatedAt, &appt.UpdatedAt,
	); err != nil {
		return nil, err
	}
	var err error
	appt.Date = scheduling.DateOf(day)
	if appt.Start, err = scheduling.ParseTimeOfDay(start); err != nil {
		return nil, err
	}
	if appt.End, err = scheduling.ParseTimeOfDay(end); err != nil {
		return nil, err
	}
	appt.Status = scheduling.Status(status)
	return &appt, nil
}

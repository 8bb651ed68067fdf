package appointments

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/wolfman30/agenda-platform/internal/scheduling"
)

// StatusChange is one row of an appointment's status history. From is empty
// for the creation row.
type StatusChange struct {
	ID            string            `json:"id"`
	TenantID      string            `json:"tenant_id"`
	AppointmentID string            `json:"appointment_id"`
	From          scheduling.Status `json:"from,omitempty"`
	To            scheduling.Status `json:"to"`
	ChangedBy     string            `json:"changed_by"`
	ChangedAt     time.Time         `json:"changed_at"`
}

// HistoryRecorder appends status changes.
type HistoryRecorder interface {
	Record(ctx context.Context, change StatusChange) error
}

// SQLHistory stores status history through database/sql.
type SQLHistory struct {
	db *sql.DB
}

func NewSQLHistory(db *sql.DB) *SQLHistory {
	return &SQLHistory{db: db}
}

func (h *SQLHistory) Record(ctx context.Context, change StatusChange) error {
	if h == nil || h.db == nil {
		return nil
	}
	if change.ID == "" {
		change.ID = uuid.NewString()
	}
	if change.ChangedAt.IsZero() {
		change.ChangedAt = time.Now().UTC()
	}
	var from sql.NullString
	if change.From != "" {
		from = sql.NullString{String: string(change.From), Valid: true}
	}
	_, err := h.db.ExecContext(ctx, `
		INSERT INTO appointment_status_history (id, tenant_id, appointment_id, from_status, to_status, changed_by, changed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, change.ID, change.TenantID, change.AppointmentID, from, string(change.To), change.ChangedBy, change.ChangedAt)
	if err != nil {
		return fmt.Errorf("appointments: insert history: %w", err)
	}
	return nil
}

// List returns the history of one appointment, oldest first.
func (h *SQLHistory) List(ctx context.Context, tenantID, appointmentID string) ([]StatusChange, error) {
	rows, err := h.db.QueryContext(ctx, `
		SELECT id, tenant_id, appointment_id, from_status, to_status, changed_by, changed_at
		FROM appointment_status_history
		WHERE tenant_id = $1 AND appointment_id = $2
		ORDER BY changed_at, id
	`, tenantID, appointmentID)
	if err != nil {
		return nil, fmt.Errorf("appointments: query history: %w", err)
	}
	defer rows.Close()

	var out []StatusChange
	for rows.Next() {
		var (
			c        StatusChange
			from     sql.NullString
			to, user string
		)
		if err := rows.Scan(&c.ID, &c.TenantID, &c.AppointmentID, &from, &to, &user, &c.ChangedAt); err != nil {
			return nil, fmt.Errorf("appointments: scan history: %w", err)
		}
		c.From = scheduling.Status(from.String)
		c.To = scheduling.Status(to)
		c.ChangedBy = user
		out = append(out, c)
	}
	return out, rows.Err()
}

// CountByStatus counts transitions into each of statuses since the given instant.
func (h *SQLHistory) CountByStatus(ctx context.Context, tenantID string, statuses []scheduling.Status, since time.Time) (map[scheduling.Status]int, error) {
	names := make([]string, len(statuses))
	for i, st := range statuses {
		names[i] = string(st)
	}
	rows, err := h.db.QueryContext(ctx, `
		SELECT to_status, COUNT(*)
		FROM appointment_status_history
		WHERE tenant_id = $1 AND to_status = ANY($2) AND changed_at >= $3
		GROUP BY to_status
	`, tenantID, pq.Array(names), since)
	if err != nil {
		return nil, fmt.Errorf("appointments: count history: %w", err)
	}
	defer rows.Close()

	counts := make(map[scheduling.Status]int, len(statuses))
	for _, st := range statuses {
		counts[st] = 0
	}
	for rows.Next() {
		var (
			status string
			n      int
		)
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("appointments: scan history count: %w", err)
		}
		counts[scheduling.Status(status)] = n
	}
	return counts, rows.Err()
}

package notify

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// DeliveryLog remembers notifications that were already delivered so queue
// redeliveries do not email the team twice.
type DeliveryLog interface {
	Delivered(ctx context.Context, notificationID string) (bool, error)
	MarkDelivered(ctx context.Context, notificationID string) error
}

type rowQuerier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresDeliveryLog stores delivered notification ids.
type PostgresDeliveryLog struct {
	db rowQuerier
}

func NewPostgresDeliveryLog(db rowQuerier) *PostgresDeliveryLog {
	if db == nil {
		panic("notify: pgx pool required")
	}
	return &PostgresDeliveryLog{db: db}
}

func (l *PostgresDeliveryLog) Delivered(ctx context.Context, notificationID string) (bool, error) {
	var exists int
	err := l.db.QueryRow(ctx, `SELECT 1 FROM delivered_notifications WHERE notification_id = $1`, notificationID).Scan(&exists)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("notify: check delivered: %w", err)
	}
	return true, nil
}

func (l *PostgresDeliveryLog) MarkDelivered(ctx context.Context, notificationID string) error {
	_, err := l.db.Exec(ctx, `
		INSERT INTO delivered_notifications (notification_id)
		VALUES ($1)
		ON CONFLICT DO NOTHING
	`, notificationID)
	if err != nil {
		return fmt.Errorf("notify: mark delivered: %w", err)
	}
	return nil
}

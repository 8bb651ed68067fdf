package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/wolfman30/agenda-platform/pkg/logging"
)

// Notification announces an appointment status change to the tenant's team.
type Notification struct {
	ID            string    `json:"id"`
	TenantID      string    `json:"tenant_id"`
	AppointmentID string    `json:"appointment_id"`
	Status        string    `json:"status"`
	ClientName    string    `json:"client_name"`
	ClientPhone   string    `json:"client_phone"`
	ServiceName   string    `json:"service_name,omitempty"`
	Date          string    `json:"date"`
	StartTime     string    `json:"start_time"`
	StaffID       string    `json:"staff_id,omitempty"`
	OccurredAt    time.Time `json:"occurred_at"`
}

// Validate checks the fields every consumer relies on.
func (n Notification) Validate() error {
	switch {
	case strings.TrimSpace(n.TenantID) == "":
		return fmt.Errorf("notify: tenant_id required")
	case strings.TrimSpace(n.AppointmentID) == "":
		return fmt.Errorf("notify: appointment_id required")
	case strings.TrimSpace(n.Status) == "":
		return fmt.Errorf("notify: status required")
	}
	return nil
}

// Publisher hands notifications to a queue for the notification worker.
type Publisher struct {
	queue  QueueClient
	logger *logging.Logger
}

func NewPublisher(queue QueueClient, logger *logging.Logger) *Publisher {
	if queue == nil {
		panic("notify: queue required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Publisher{queue: queue, logger: logger}
}

// Enqueue validates and publishes n.
func (p *Publisher) Enqueue(ctx context.Context, n Notification) error {
	if err := n.Validate(); err != nil {
		return err
	}
	n = stamp(n)
	body, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("notify: encode notification: %w", err)
	}
	if err := p.queue.Send(ctx, string(body)); err != nil {
		return err
	}
	p.logger.Debug("notification enqueued", "tenant_id", n.TenantID, "appointment_id", n.AppointmentID, "status", n.Status)
	return nil
}

// stamp fills the id and timestamp so every sink sees the same event.
func stamp(n Notification) Notification {
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	if n.OccurredAt.IsZero() {
		n.OccurredAt = time.Now().UTC()
	}
	return n
}

package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/wolfman30/agenda-platform/pkg/logging"
)

// RecipientLookup returns the addresses that receive a tenant's notifications.
type RecipientLookup interface {
	Recipients(ctx context.Context, tenantID string) ([]string, error)
}

// Dispatcher renders notifications and sends them by email.
type Dispatcher struct {
	email      EmailSender
	recipients RecipientLookup
	logger     *logging.Logger
}

// NewDispatcher creates a notification dispatcher.
func NewDispatcher(email EmailSender, recipients RecipientLookup, logger *logging.Logger) *Dispatcher {
	if logger == nil {
		logger = logging.Default()
	}
	return &Dispatcher{email: email, recipients: recipients, logger: logger}
}

// Deliver sends n to every recipient of its tenant. It keeps going after a
// failed recipient and returns the joined errors.
func (d *Dispatcher) Deliver(ctx context.Context, n Notification) error {
	if err := n.Validate(); err != nil {
		return err
	}
	if d.email == nil || d.recipients == nil {
		d.logger.Debug("notify: email not configured, skipping", "tenant_id", n.TenantID)
		return nil
	}
	to, err := d.recipients.Recipients(ctx, n.TenantID)
	if err != nil {
		return fmt.Errorf("notify: load recipients: %w", err)
	}
	if len(to) == 0 {
		d.logger.Debug("notify: tenant has no recipients", "tenant_id", n.TenantID)
		return nil
	}

	msg := render(n)
	var errs []error
	for _, recipient := range to {
		msg.To = recipient
		if err := d.email.Send(ctx, msg); err != nil {
			d.logger.Error("notify: failed to send email", "error", err, "to", recipient, "appointment_id", n.AppointmentID)
			errs = append(errs, err)
			continue
		}
		d.logger.Info("notify: status email sent", "to", recipient, "appointment_id", n.AppointmentID, "status", n.Status)
	}
	return errors.Join(errs...)
}

var headlines = map[string]string{
	"confirmed":   "Appointment confirmed",
	"canceled":    "Appointment canceled",
	"rescheduled": "Appointment rescheduled",
}

func render(n Notification) EmailMessage {
	headline, ok := headlines[n.Status]
	if !ok {
		headline = "Appointment " + n.Status
	}
	client := n.ClientName
	if client == "" {
		client = "A client"
	}
	service := ""
	if n.ServiceName != "" {
		service = fmt.Sprintf("\nService: %s", n.ServiceName)
	}

	body := fmt.Sprintf(`%s

Client: %s
Phone: %s
When: %s at %s%s
Appointment ID: %s`, headline, client, n.ClientPhone, n.Date, n.StartTime, service, n.AppointmentID)

	html := fmt.Sprintf(`<div style="font-family: sans-serif; max-width: 600px;">
<h2>%s</h2>
<table style="border-collapse: collapse; margin: 20px 0;">
  <tr><td style="padding: 8px;"><strong>Client:</strong></td><td style="padding: 8px;">%s</td></tr>
  <tr><td style="padding: 8px;"><strong>Phone:</strong></td><td style="padding: 8px;"><a href="tel:%s">%s</a></td></tr>
  <tr><td style="padding: 8px;"><strong>When:</strong></td><td style="padding: 8px;">%s at %s</td></tr>
</table>
<p style="color: #6b7280; font-size: 12px;">Appointment %s</p>
</div>`, headline, client, n.ClientPhone, n.ClientPhone, n.Date, n.StartTime, n.AppointmentID)

	return EmailMessage{
		Subject:  strings.TrimSpace(fmt.Sprintf("%s - %s", headline, client)),
		Category: "appointment_" + n.Status,
		Body:     body,
		HTML:     html,
		Metadata: map[string]string{
			"tenant_id":      n.TenantID,
			"appointment_id": n.AppointmentID,
		},
	}
}

type recipientsDB interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// PostgresRecipients reads active recipients from notification_recipients.
type PostgresRecipients struct {
	db recipientsDB
}

func NewPostgresRecipients(db recipientsDB) *PostgresRecipients {
	if db == nil {
		panic("notify: pgx pool required")
	}
	return &PostgresRecipients{db: db}
}

func (r *PostgresRecipients) Recipients(ctx context.Context, tenantID string) ([]string, error) {
	rows, err := r.db.Query(ctx, `
		SELECT email FROM notification_recipients
		WHERE tenant_id = $1 AND active
		ORDER BY email
	`, tenantID)
	if err != nil {
		return nil, fmt.Errorf("notify: query recipients: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var email string
		if err := rows.Scan(&email); err != nil {
			return nil, fmt.Errorf("notify: scan recipient: %w", err)
		}
		out = append(out, email)
	}
	return out, rows.Err()
}

// StaticRecipients maps tenants to fixed recipient lists.
type StaticRecipients map[string][]string

func (s StaticRecipients) Recipients(_ context.Context, tenantID string) ([]string, error) {
	return s[tenantID], nil
}

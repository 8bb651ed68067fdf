package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"

	"github.com/wolfman30/agenda-platform/pkg/logging"
)

// DefaultStatusTopic carries one message per appointment status change.
const DefaultStatusTopic = "appointments.status"

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// EventStream publishes status notifications to Kafka for downstream
// consumers (analytics, reminders). Messages are keyed by appointment id so
// a partition sees one appointment's changes in order.
type EventStream struct {
	writer messageWriter
	topic  string
	logger *logging.Logger
}

// NewKafkaWriter returns a hash-balanced writer for the given brokers.
func NewKafkaWriter(brokers []string) *kafka.Writer {
	return &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		BatchTimeout: 50 * time.Millisecond,
	}
}

func NewEventStream(writer messageWriter, topic string, logger *logging.Logger) *EventStream {
	if logger == nil {
		logger = logging.Default()
	}
	if strings.TrimSpace(topic) == "" {
		topic = DefaultStatusTopic
	}
	return &EventStream{writer: writer, topic: topic, logger: logger}
}

// Enqueue writes n to the status topic.
func (s *EventStream) Enqueue(ctx context.Context, n Notification) error {
	if err := n.Validate(); err != nil {
		return err
	}
	n = stamp(n)
	body, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("notify: encode event: %w", err)
	}
	msg := kafka.Message{
		Topic: s.topic,
		Key:   []byte(n.AppointmentID),
		Value: body,
		Headers: []kafka.Header{
			{Key: "event_id", Value: []byte(n.ID)},
			{Key: "event_type", Value: []byte("appointment." + n.Status)},
			{Key: "tenant_id", Value: []byte(n.TenantID)},
		},
	}
	carrier := headerCarrier{headers: msg.Headers}
	otel.GetTextMapPropagator().Inject(ctx, &carrier)
	msg.Headers = carrier.headers

	if err := s.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("notify: publish event: %w", err)
	}
	return nil
}

// Close flushes pending writes.
func (s *EventStream) Close() error {
	return s.writer.Close()
}

type headerCarrier struct {
	headers []kafka.Header
}

func (c *headerCarrier) Get(key string) string {
	for _, h := range c.headers {
		if h.Key == key {
			return string(h.Value)
		}
	}
	return ""
}

func (c *headerCarrier) Keys() []string {
	keys := make([]string, 0, len(c.headers))
	for _, h := range c.headers {
		keys = append(keys, h.Key)
	}
	return keys
}

func (c *headerCarrier) Set(key, value string) {
	for i := range c.headers {
		if c.headers[i].Key == key {
			c.headers[i].Value = []byte(value)
			return
		}
	}
	c.headers = append(c.headers, kafka.Header{Key: key, Value: []byte(value)})
}

var _ propagation.TextMapCarrier = (*headerCarrier)(nil)

type enqueuer interface {
	Enqueue(ctx context.Context, n Notification) error
}

// Broadcast sends each notification to a primary sink and mirrors it to
// secondary sinks. Only the primary's error is returned; mirror failures
// are logged.
type Broadcast struct {
	primary enqueuer
	mirrors []enqueuer
	logger  *logging.Logger
}

func NewBroadcast(logger *logging.Logger, primary enqueuer, mirrors ...enqueuer) *Broadcast {
	if logger == nil {
		logger = logging.Default()
	}
	return &Broadcast{primary: primary, mirrors: mirrors, logger: logger}
}

func (b *Broadcast) Enqueue(ctx context.Context, n Notification) error {
	if err := n.Validate(); err != nil {
		return err
	}
	n = stamp(n)
	for _, m := range b.mirrors {
		if err := m.Enqueue(ctx, n); err != nil {
			b.logger.Warn("notify: mirror publish failed", "error", err, "tenant_id", n.TenantID, "appointment_id", n.AppointmentID, "notification_id", n.ID)
		}
	}
	return b.primary.Enqueue(ctx, n)
}

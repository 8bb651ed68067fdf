package notify

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

type fakeWriter struct {
	msgs   []kafka.Message
	err    error
	closed bool
}

func (f *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if f.err != nil {
		return f.err
	}
	f.msgs = append(f.msgs, msgs...)
	return nil
}

func (f *fakeWriter) Close() error {
	f.closed = true
	return nil
}

type recordingEnqueuer struct {
	got []Notification
	err error
}

func (r *recordingEnqueuer) Enqueue(_ context.Context, n Notification) error {
	r.got = append(r.got, n)
	return r.err
}

func headerValue(msg kafka.Message, key string) string {
	for _, h := range msg.Headers {
		if h.Key == key {
			return string(h.Value)
		}
	}
	return ""
}

func TestEventStreamKeysByAppointmentAndInjectsTrace(t *testing.T) {
	prev := otel.GetTextMapPropagator()
	otel.SetTextMapPropagator(propagation.TraceContext{})
	t.Cleanup(func() { otel.SetTextMapPropagator(prev) })

	traceID, _ := trace.TraceIDFromHex("4bf92f3577b34da6a3ce929d0e0e4736")
	spanID, _ := trace.SpanIDFromHex("00f067aa0ba902b7")
	ctx := trace.ContextWithSpanContext(context.Background(), trace.NewSpanContext(trace.SpanContextConfig{
		TraceID: traceID, SpanID: spanID, TraceFlags: trace.FlagsSampled,
	}))

	w := &fakeWriter{}
	stream := NewEventStream(w, "", nil)
	err := stream.Enqueue(ctx, Notification{TenantID: "tenant-1", AppointmentID: "appt-1", Status: "confirmed"})
	require.NoError(t, err)

	require.Len(t, w.msgs, 1)
	msg := w.msgs[0]
	assert.Equal(t, DefaultStatusTopic, msg.Topic)
	assert.Equal(t, "appt-1", string(msg.Key))
	assert.Equal(t, "appointment.confirmed", headerValue(msg, "event_type"))
	assert.Equal(t, "tenant-1", headerValue(msg, "tenant_id"))
	assert.Contains(t, headerValue(msg, "traceparent"), "4bf92f3577b34da6a3ce929d0e0e4736")

	var n Notification
	require.NoError(t, json.Unmarshal(msg.Value, &n))
	assert.Equal(t, headerValue(msg, "event_id"), n.ID)
	assert.False(t, n.OccurredAt.IsZero())

	require.NoError(t, stream.Close())
	assert.True(t, w.closed)
}

func TestEventStreamRejectsInvalidAndWrapsWriteErrors(t *testing.T) {
	w := &fakeWriter{err: errors.New("broker down")}
	stream := NewEventStream(w, "custom.topic", nil)

	assert.Error(t, stream.Enqueue(context.Background(), Notification{TenantID: "tenant-1"}))
	err := stream.Enqueue(context.Background(), Notification{TenantID: "tenant-1", AppointmentID: "appt-1", Status: "canceled"})
	assert.ErrorContains(t, err, "broker down")
}

func TestBroadcastSharesIDAndIgnoresMirrorFailure(t *testing.T) {
	primary := &recordingEnqueuer{}
	mirror := &recordingEnqueuer{err: errors.New("kafka unavailable")}
	b := NewBroadcast(nil, primary, mirror)

	err := b.Enqueue(context.Background(), Notification{TenantID: "tenant-1", AppointmentID: "appt-1", Status: "rescheduled"})
	require.NoError(t, err)
	require.Len(t, primary.got, 1)
	require.Len(t, mirror.got, 1)
	assert.NotEmpty(t, primary.got[0].ID)
	assert.Equal(t, primary.got[0].ID, mirror.got[0].ID)

	primary.err = errors.New("queue full")
	assert.ErrorContains(t, b.Enqueue(context.Background(), Notification{TenantID: "tenant-1", AppointmentID: "appt-2", Status: "canceled"}), "queue full")
}

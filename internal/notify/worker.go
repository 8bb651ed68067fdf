package notify

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/wolfman30/agenda-platform/pkg/logging"
)

var tracer = otel.Tracer("agenda.internal.notify")

const (
	defaultWorkerCount   = 1
	defaultWaitSeconds   = 10
	defaultBatchSize     = 5
	deleteTimeoutSeconds = 5
)

type deliverer interface {
	Deliver(ctx context.Context, n Notification) error
}

// Worker drains the notification queue and delivers each message.
type Worker struct {
	queue      QueueClient
	dispatcher deliverer
	delivered  DeliveryLog
	logger     *logging.Logger

	workers   int
	waitSecs  int
	batchSize int
	wg        sync.WaitGroup
}

// WorkerOption customizes worker behavior.
type WorkerOption func(*Worker)

// WithWorkerCount sets the number of concurrent consumer goroutines.
func WithWorkerCount(count int) WorkerOption {
	return func(w *Worker) {
		if count > 0 {
			w.workers = count
		}
	}
}

// WithDeliveryLog skips notifications whose id was already delivered.
func WithDeliveryLog(log DeliveryLog) WorkerOption {
	return func(w *Worker) { w.delivered = log }
}

// WithReceiveWaitSeconds sets the long-poll wait duration.
func WithReceiveWaitSeconds(seconds int) WorkerOption {
	return func(w *Worker) {
		if seconds >= 0 && seconds <= 20 {
			w.waitSecs = seconds
		}
	}
}

func NewWorker(queue QueueClient, dispatcher deliverer, logger *logging.Logger, opts ...WorkerOption) *Worker {
	if queue == nil || dispatcher == nil {
		panic("notify: queue and dispatcher required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	w := &Worker{
		queue:      queue,
		dispatcher: dispatcher,
		logger:     logger,
		workers:    defaultWorkerCount,
		waitSecs:   defaultWaitSeconds,
		batchSize:  defaultBatchSize,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Start launches worker goroutines until ctx is cancelled.
func (w *Worker) Start(ctx context.Context) {
	for i := 0; i < w.workers; i++ {
		w.wg.Add(1)
		go w.run(ctx, i+1)
	}
}

// Wait blocks until all worker goroutines exit.
func (w *Worker) Wait() {
	w.wg.Wait()
}

func (w *Worker) run(ctx context.Context, workerID int) {
	defer w.wg.Done()
	w.logger.Debug("notification worker started", "worker_id", workerID)

	backoff := time.Second
	for {
		select {
		case <-ctx.Done():
			w.logger.Debug("notification worker stopping", "worker_id", workerID)
			return
		default:
		}

		messages, err := w.queue.Receive(ctx, w.batchSize, w.waitSecs)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return
			}
			w.logger.Error("failed to receive notifications", "error", err, "worker_id", workerID)
			time.Sleep(backoff)
			if backoff < 5*time.Second {
				backoff *= 2
			}
			continue
		}
		backoff = time.Second

		for _, msg := range messages {
			w.HandleMessage(ctx, msg)
		}
	}
}

// HandleMessage delivers one message. Undecodable messages are dropped;
// failed deliveries stay on the queue for redelivery.
func (w *Worker) HandleMessage(ctx context.Context, msg QueueMessage) {
	var n Notification
	if err := json.Unmarshal([]byte(msg.Body), &n); err != nil {
		w.logger.Error("failed to decode notification", "error", err, "msg_id", msg.ID)
		w.deleteMessage(context.Background(), msg.ReceiptHandle)
		return
	}
	ctx, span := tracer.Start(ctx, "notify.handle")
	defer span.End()
	span.SetAttributes(
		attribute.String("agenda.tenant_id", n.TenantID),
		attribute.String("agenda.appointment_id", n.AppointmentID),
		attribute.String("agenda.notification_id", n.ID),
	)
	if w.delivered != nil && n.ID != "" {
		done, err := w.delivered.Delivered(ctx, n.ID)
		if err != nil {
			w.logger.Warn("delivery log unavailable", "error", err, "notification_id", n.ID)
		} else if done {
			w.logger.Debug("duplicate notification dropped", "notification_id", n.ID)
			w.deleteMessage(context.Background(), msg.ReceiptHandle)
			return
		}
	}
	if err := w.dispatcher.Deliver(ctx, n); err != nil {
		span.RecordError(err)
		w.logger.Error("notification delivery failed", "error", err, "tenant_id", n.TenantID, "appointment_id", n.AppointmentID)
		return
	}
	if w.delivered != nil && n.ID != "" {
		if err := w.delivered.MarkDelivered(ctx, n.ID); err != nil {
			w.logger.Warn("failed to record delivery", "error", err, "notification_id", n.ID)
		}
	}
	w.deleteMessage(context.Background(), msg.ReceiptHandle)
}

func (w *Worker) deleteMessage(ctx context.Context, receiptHandle string) {
	if receiptHandle == "" {
		return
	}
	deleteCtx, cancel := context.WithTimeout(ctx, deleteTimeoutSeconds*time.Second)
	defer cancel()
	if err := w.queue.Delete(deleteCtx, receiptHandle); err != nil {
		w.logger.Error("failed to delete notification", "error", err)
	}
}

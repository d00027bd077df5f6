package webhook

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/vin-jex/relay-gateway/internal/queue"
)

// JobPayload is what the webhook queue carries. Everything else is read
// from the delivery record when the job runs.
type JobPayload struct {
	DeliveryID uuid.UUID `json:"delivery_id"`
	WebhookID  uuid.UUID `json:"webhook_id"`
}

type Dispatcher struct {
	repository Repository
	queue      queue.Queue
	now        func() time.Time
	logger     *slog.Logger
}

func NewDispatcher(repository Repository, q queue.Queue, now func() time.Time, logger *slog.Logger) *Dispatcher {
	if now == nil {
		now = time.Now
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Dispatcher{repository: repository, queue: q, now: now, logger: logger}
}

// Dispatch creates a pending delivery for every webhook of tenantID
// subscribed to event and enqueues one job per delivery.
func (d *Dispatcher) Dispatch(
	ctx context.Context,
	tenantID uuid.UUID,
	event string,
	data any,
) ([]uuid.UUID, error) {
	hooks, err := d.repository.ListSubscribedWebhooks(ctx, tenantID, event)
	if err != nil {
		return nil, fmt.Errorf("list webhooks: %w", err)
	}

	deliveryIDs := make([]uuid.UUID, 0, len(hooks))
	for i := range hooks {
		deliveryID, err := d.Enqueue(ctx, &hooks[i], event, data)
		if err != nil {
			return deliveryIDs, err
		}
		deliveryIDs = append(deliveryIDs, deliveryID)
	}

	return deliveryIDs, nil
}

// Enqueue schedules a single delivery of event to hook.
func (d *Dispatcher) Enqueue(
	ctx context.Context,
	hook *Webhook,
	event string,
	data any,
) (uuid.UUID, error) {
	payload, err := json.Marshal(data)
	if err != nil {
		return uuid.Nil, fmt.Errorf("encode event data: %w", err)
	}

	delivery := &Delivery{
		ID:        uuid.New(),
		WebhookID: hook.ID,
		Event:     event,
		Payload:   payload,
		Status:    DeliveryPending,
		Attempt:   1,
		CreatedAt: d.now(),
	}

	if err := d.repository.CreateDelivery(ctx, delivery); err != nil {
		return uuid.Nil, fmt.Errorf("create delivery: %w", err)
	}

	jobID, err := d.queue.Enqueue(ctx, JobPayload{
		DeliveryID: delivery.ID,
		WebhookID:  hook.ID,
	}, queue.EnqueueOptions{MaxAttempts: hook.MaxAttempts})
	if err != nil {
		if deleteErr := d.repository.DeleteDelivery(context.WithoutCancel(ctx), delivery.ID); deleteErr != nil {
			d.logger.Error("webhook delivery rollback failed", "delivery_id", delivery.ID, "err", deleteErr)
		}
		return uuid.Nil, fmt.Errorf("enqueue delivery %s: %w", delivery.ID, err)
	}

	d.logger.Info("webhook delivery queued",
		"delivery_id", delivery.ID,
		"webhook_id", hook.ID,
		"event", event,
		"job_id", jobID)

	return delivery.ID, nil
}

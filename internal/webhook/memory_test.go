package webhook

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

type memoryRepository struct {
	mu         sync.Mutex
	webhooks   map[uuid.UUID]*Webhook
	deliveries map[uuid.UUID]*Delivery
	attempts   []AttemptRecord
}

func newMemoryRepository(hooks ...*Webhook) *memoryRepository {
	repository := &memoryRepository{
		webhooks:   map[uuid.UUID]*Webhook{},
		deliveries: map[uuid.UUID]*Delivery{},
	}
	for _, hook := range hooks {
		repository.webhooks[hook.ID] = hook
	}
	return repository
}

func (r *memoryRepository) GetWebhook(_ context.Context, id uuid.UUID) (*Webhook, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	hook, ok := r.webhooks[id]
	if !ok {
		return nil, ErrWebhookNotFound
	}
	copied := *hook
	return &copied, nil
}

func (r *memoryRepository) ListSubscribedWebhooks(_ context.Context, tenantID uuid.UUID, event string) ([]Webhook, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var hooks []Webhook
	for _, hook := range r.webhooks {
		if hook.TenantID == tenantID && hook.Subscribes(event) {
			hooks = append(hooks, *hook)
		}
	}
	return hooks, nil
}

func (r *memoryRepository) CreateDelivery(_ context.Context, delivery *Delivery) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	copied := *delivery
	r.deliveries[delivery.ID] = &copied
	return nil
}

func (r *memoryRepository) DeleteDelivery(_ context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.deliveries, id)
	return nil
}

func (r *memoryRepository) GetDelivery(_ context.Context, id uuid.UUID) (*Delivery, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	delivery, ok := r.deliveries[id]
	if !ok {
		return nil, ErrDeliveryNotFound
	}
	copied := *delivery
	return &copied, nil
}

func (r *memoryRepository) RecordDeliveryAttempt(_ context.Context, id uuid.UUID, record AttemptRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	delivery, ok := r.deliveries[id]
	if !ok {
		return ErrDeliveryNotFound
	}
	if delivery.Status != DeliveryPending {
		return errTerminalDelivery
	}

	duration := record.DurationMs
	delivery.Attempt = record.Attempt
	delivery.Status = record.Status
	delivery.ResponseCode = record.ResponseCode
	delivery.ResponseBody = record.ResponseBody
	delivery.DurationMs = &duration
	delivery.CompletedAt = record.CompletedAt

	r.attempts = append(r.attempts, record)
	return nil
}

type terminalDeliveryError struct{}

func (terminalDeliveryError) Error() string { return "delivery already terminal" }

var errTerminalDelivery = terminalDeliveryError{}

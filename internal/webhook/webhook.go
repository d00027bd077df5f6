package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"slices"
	"time"

	"github.com/google/uuid"
)

var (
	ErrWebhookNotFound  = errors.New("webhook not found")
	ErrDeliveryNotFound = errors.New("webhook delivery not found")
	ErrWebhookDisabled  = errors.New("webhook disabled")
)

type Webhook struct {
	ID          uuid.UUID `json:"id"`
	TenantID    uuid.UUID `json:"tenant_id"`
	URL         string    `json:"url"`
	Secret      string    `json:"-"`
	Events      []string  `json:"events"`
	Enabled     bool      `json:"enabled"`
	MaxAttempts int       `json:"max_attempts"`
	CreatedAt   time.Time `json:"created_at"`
}

// Subscribes reports whether the webhook wants event. "*" subscribes to
// everything.
func (w *Webhook) Subscribes(event string) bool {
	return w.Enabled && (slices.Contains(w.Events, event) || slices.Contains(w.Events, "*"))
}

type DeliveryStatus string

const (
	DeliveryPending DeliveryStatus = "pending"
	DeliverySuccess DeliveryStatus = "success"
	DeliveryFailed  DeliveryStatus = "failed"
)

type Delivery struct {
	ID           uuid.UUID       `json:"id"`
	WebhookID    uuid.UUID       `json:"webhook_id"`
	Event        string          `json:"event"`
	Payload      json.RawMessage `json:"payload"`
	Status       DeliveryStatus  `json:"status"`
	ResponseCode *int            `json:"response_code,omitempty"`
	ResponseBody string          `json:"response_body,omitempty"`
	Attempt      int             `json:"attempt"`
	DurationMs   *int64          `json:"duration_ms,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
	CompletedAt  *time.Time      `json:"completed_at,omitempty"`
}

// AttemptRecord overwrites the latest-attempt fields of a delivery.
type AttemptRecord struct {
	Attempt      int
	Status       DeliveryStatus
	ResponseCode *int
	ResponseBody string
	DurationMs   int64
	CompletedAt  *time.Time
}

type Repository interface {
	GetWebhook(ctx context.Context, id uuid.UUID) (*Webhook, error)
	ListSubscribedWebhooks(ctx context.Context, tenantID uuid.UUID, event string) ([]Webhook, error)
	CreateDelivery(ctx context.Context, delivery *Delivery) error
	// DeleteDelivery removes a delivery whose job was never enqueued.
	DeleteDelivery(ctx context.Context, id uuid.UUID) error
	GetDelivery(ctx context.Context, id uuid.UUID) (*Delivery, error)
	// RecordDeliveryAttempt only applies to a pending delivery; a terminal
	// delivery is never overwritten.
	RecordDeliveryAttempt(ctx context.Context, id uuid.UUID, record AttemptRecord) error
}

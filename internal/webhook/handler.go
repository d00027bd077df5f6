package webhook

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/vin-jex/relay-gateway/internal/observability"
	"github.com/vin-jex/relay-gateway/internal/queue"
)

// Handler consumes webhook jobs. The delivery record's attempt mirrors the
// job's attempt, which only the queue increments.
type Handler struct {
	repository Repository
	deliverer  *Deliverer
	now        func() time.Time
	logger     *slog.Logger
}

func NewHandler(repository Repository, deliverer *Deliverer, now func() time.Time, logger *slog.Logger) *Handler {
	if now == nil {
		now = time.Now
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Handler{repository: repository, deliverer: deliverer, now: now, logger: logger}
}

func (h *Handler) Handle(ctx context.Context, job *queue.Job, payload JobPayload) error {
	delivery, err := h.repository.GetDelivery(ctx, payload.DeliveryID)
	if err != nil {
		if errors.Is(err, ErrDeliveryNotFound) {
			return queue.Fatal(err)
		}
		return err
	}

	if delivery.Status != DeliveryPending {
		// Already recorded by an earlier claim whose report was lost.
		return nil
	}

	hook, err := h.repository.GetWebhook(ctx, payload.WebhookID)
	if err == nil && !hook.Enabled {
		err = ErrWebhookDisabled
	}
	if err != nil {
		if errors.Is(err, ErrWebhookNotFound) || errors.Is(err, ErrWebhookDisabled) {
			now := h.now()
			recordErr := h.repository.RecordDeliveryAttempt(ctx, delivery.ID, AttemptRecord{
				Attempt:      job.Attempt,
				Status:       DeliveryFailed,
				ResponseBody: err.Error(),
				CompletedAt:  &now,
			})
			if recordErr != nil {
				return recordErr
			}
			return queue.Fatal(err)
		}
		return err
	}

	result, deliverErr := h.deliverer.Deliver(ctx, hook.URL, hook.Secret, delivery.ID, delivery.Event, delivery.Payload)

	record := AttemptRecord{
		Attempt:      job.Attempt,
		Status:       DeliveryPending,
		ResponseCode: result.ResponseCode,
		ResponseBody: result.ResponseBody,
		DurationMs:   result.DurationMs,
	}
	if record.ResponseBody == "" {
		record.ResponseBody = result.Error
	}

	switch {
	case deliverErr == nil:
		now := h.now()
		record.Status = DeliverySuccess
		record.CompletedAt = &now
		observability.WebhookDeliveries.WithLabelValues("success").Inc()
	case job.FinalAttempt():
		now := h.now()
		record.Status = DeliveryFailed
		record.CompletedAt = &now
		observability.WebhookDeliveries.WithLabelValues("failed").Inc()
	default:
		observability.WebhookDeliveries.WithLabelValues("retry").Inc()
	}

	if err := h.repository.RecordDeliveryAttempt(ctx, delivery.ID, record); err != nil {
		return fmt.Errorf("record delivery attempt: %w", err)
	}

	h.logger.Info("webhook delivery attempted",
		"delivery_id", delivery.ID,
		"webhook_id", hook.ID,
		"attempt", job.Attempt,
		"status", record.Status,
		"duration_ms", result.DurationMs)

	return deliverErr
}

// DeadLetter fails the delivery behind a job that stall recovery gave up
// on. A delivery that already reached a terminal status is left alone.
func (h *Handler) DeadLetter(ctx context.Context, job *queue.Job) error {
	var payload JobPayload
	if err := job.Decode(&payload); err != nil {
		return fmt.Errorf("decode webhook payload: %w", err)
	}

	delivery, err := h.repository.GetDelivery(ctx, payload.DeliveryID)
	if err != nil {
		if errors.Is(err, ErrDeliveryNotFound) {
			return nil
		}
		return err
	}
	if delivery.Status != DeliveryPending {
		return nil
	}

	now := h.now()
	err = h.repository.RecordDeliveryAttempt(ctx, delivery.ID, AttemptRecord{
		Attempt:      job.Attempt,
		Status:       DeliveryFailed,
		ResponseBody: job.LastError,
		CompletedAt:  &now,
	})
	if err != nil {
		return fmt.Errorf("record delivery attempt: %w", err)
	}

	observability.WebhookDeliveries.WithLabelValues("failed").Inc()
	return nil
}

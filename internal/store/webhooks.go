package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/vin-jex/relay-gateway/internal/webhook"
)

const webhookColumns = `
	id,
	tenant_id,
	url,
	secret,
	events,
	enabled,
	max_attempts,
	created_at
`

const deliveryColumns = `
	id,
	webhook_id,
	event,
	payload,
	status,
	response_code,
	response_body,
	attempt,
	duration_ms,
	created_at,
	completed_at
`

func (s *Store) CreateWebhook(ctx context.Context, hook *webhook.Webhook) error {
	if hook.ID == uuid.Nil {
		hook.ID = uuid.New()
	}
	hook.CreatedAt = s.now()

	_, err := s.connectionPool.Exec(
		ctx,
		`
		INSERT INTO webhooks (
			id,
			tenant_id,
			url,
			secret,
			events,
			enabled,
			max_attempts,
			created_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		`,
		hook.ID,
		hook.TenantID,
		hook.URL,
		hook.Secret,
		nonNil(hook.Events),
		hook.Enabled,
		hook.MaxAttempts,
		hook.CreatedAt,
	)

	return err
}

func (s *Store) GetWebhook(ctx context.Context, id uuid.UUID) (*webhook.Webhook, error) {
	row := s.connectionPool.QueryRow(
		ctx,
		`SELECT `+webhookColumns+` FROM webhooks WHERE id = $1`,
		id,
	)

	hook, err := scanWebhook(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %w", ErrNotFound, webhook.ErrWebhookNotFound)
	}

	return hook, err
}

func (s *Store) ListWebhooks(ctx context.Context, tenantID uuid.UUID) ([]webhook.Webhook, error) {
	rows, err := s.connectionPool.Query(
		ctx,
		`SELECT `+webhookColumns+` FROM webhooks WHERE tenant_id = $1 ORDER BY created_at`,
		tenantID,
	)
	if err != nil {
		return nil, err
	}

	return collectWebhooks(rows)
}

func (s *Store) DeleteWebhook(ctx context.Context, tenantID, id uuid.UUID) error {
	commandTag, err := s.connectionPool.Exec(
		ctx,
		`DELETE FROM webhooks WHERE id = $1 AND tenant_id = $2`,
		id,
		tenantID,
	)
	if err != nil {
		return err
	}

	if commandTag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %w", ErrNotFound, webhook.ErrWebhookNotFound)
	}

	return nil
}

func (s *Store) ListSubscribedWebhooks(ctx context.Context, tenantID uuid.UUID, event string) ([]webhook.Webhook, error) {
	rows, err := s.connectionPool.Query(
		ctx,
		`
		SELECT `+webhookColumns+`
		FROM webhooks
		WHERE tenant_id = $1
			AND enabled
			AND ($2 = ANY(events) OR '*' = ANY(events))
		ORDER BY created_at
		`,
		tenantID,
		event,
	)
	if err != nil {
		return nil, err
	}

	return collectWebhooks(rows)
}

func (s *Store) CreateDelivery(ctx context.Context, delivery *webhook.Delivery) error {
	_, err := s.connectionPool.Exec(
		ctx,
		`
		INSERT INTO webhook_deliveries (
			id,
			webhook_id,
			event,
			payload,
			status,
			attempt,
			created_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		`,
		delivery.ID,
		delivery.WebhookID,
		delivery.Event,
		[]byte(delivery.Payload),
		delivery.Status,
		delivery.Attempt,
		delivery.CreatedAt,
	)

	return err
}

func (s *Store) DeleteDelivery(ctx context.Context, id uuid.UUID) error {
	_, err := s.connectionPool.Exec(ctx, `DELETE FROM webhook_deliveries WHERE id = $1`, id)
	return err
}

func (s *Store) GetDelivery(ctx context.Context, id uuid.UUID) (*webhook.Delivery, error) {
	row := s.connectionPool.QueryRow(
		ctx,
		`SELECT `+deliveryColumns+` FROM webhook_deliveries WHERE id = $1`,
		id,
	)

	delivery, err := scanDelivery(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %w", ErrNotFound, webhook.ErrDeliveryNotFound)
	}

	return delivery, err
}

// ListDeliveries returns the most recent deliveries of a webhook first.
func (s *Store) ListDeliveries(ctx context.Context, webhookID uuid.UUID, limit int) ([]webhook.Delivery, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := s.connectionPool.Query(
		ctx,
		`
		SELECT `+deliveryColumns+`
		FROM webhook_deliveries
		WHERE webhook_id = $1
		ORDER BY created_at DESC
		LIMIT $2
		`,
		webhookID,
		limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var deliveries []webhook.Delivery
	for rows.Next() {
		delivery, err := scanDelivery(rows)
		if err != nil {
			return nil, err
		}
		deliveries = append(deliveries, *delivery)
	}

	return deliveries, rows.Err()
}

// RecordDeliveryAttempt overwrites the latest-attempt fields of a pending
// delivery. A terminal delivery is left untouched.
func (s *Store) RecordDeliveryAttempt(ctx context.Context, id uuid.UUID, record webhook.AttemptRecord) error {
	if err := validateRecordTransition(
		allowedDeliveryTransitions,
		"delivery",
		string(webhook.DeliveryPending),
		string(record.Status),
	); err != nil {
		return err
	}

	commandTag, err := s.connectionPool.Exec(
		ctx,
		`
		UPDATE webhook_deliveries
		SET status = $3,
			attempt = $4,
			response_code = $5,
			response_body = $6,
			duration_ms = $7,
			completed_at = $8
		WHERE id = $1
			AND status = $2
		`,
		id,
		webhook.DeliveryPending,
		record.Status,
		record.Attempt,
		record.ResponseCode,
		nullString(record.ResponseBody),
		record.DurationMs,
		record.CompletedAt,
	)
	if err != nil {
		return err
	}

	if commandTag.RowsAffected() != 1 {
		return ErrInvalidStateTransition
	}

	return nil
}

// ReopenDelivery returns a failed delivery to pending ahead of a manual
// resubmission of its job.
func (s *Store) ReopenDelivery(ctx context.Context, id uuid.UUID) error {
	if err := validateRecordTransition(
		allowedDeliveryTransitions,
		"delivery",
		string(webhook.DeliveryFailed),
		string(webhook.DeliveryPending),
	); err != nil {
		return err
	}

	commandTag, err := s.connectionPool.Exec(
		ctx,
		`
		UPDATE webhook_deliveries
		SET status = $3,
			completed_at = NULL
		WHERE id = $1
			AND status = $2
		`,
		id,
		webhook.DeliveryFailed,
		webhook.DeliveryPending,
	)
	if err != nil {
		return err
	}

	if commandTag.RowsAffected() != 1 {
		return ErrInvalidStateTransition
	}

	return nil
}

func collectWebhooks(rows pgx.Rows) ([]webhook.Webhook, error) {
	defer rows.Close()

	var hooks []webhook.Webhook
	for rows.Next() {
		hook, err := scanWebhook(rows)
		if err != nil {
			return nil, err
		}
		hooks = append(hooks, *hook)
	}

	return hooks, rows.Err()
}

func scanWebhook(row pgx.Row) (*webhook.Webhook, error) {
	var hook webhook.Webhook

	if err := row.Scan(
		&hook.ID,
		&hook.TenantID,
		&hook.URL,
		&hook.Secret,
		&hook.Events,
		&hook.Enabled,
		&hook.MaxAttempts,
		&hook.CreatedAt,
	); err != nil {
		return nil, err
	}

	return &hook, nil
}

func scanDelivery(row pgx.Row) (*webhook.Delivery, error) {
	var (
		delivery     webhook.Delivery
		payload      []byte
		responseBody *string
	)

	if err := row.Scan(
		&delivery.ID,
		&delivery.WebhookID,
		&delivery.Event,
		&payload,
		&delivery.Status,
		&delivery.ResponseCode,
		&responseBody,
		&delivery.Attempt,
		&delivery.DurationMs,
		&delivery.CreatedAt,
		&delivery.CompletedAt,
	); err != nil {
		return nil, err
	}

	delivery.Payload = payload
	if responseBody != nil {
		delivery.ResponseBody = *responseBody
	}

	return &delivery, nil
}

package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
)

const maxRecordedBody = 1000

// Envelope is the JSON body every receiver gets.
type Envelope struct {
	Event      string `json:"event"`
	Data       any    `json:"data"`
	Timestamp  string `json:"timestamp"`
	DeliveryID string `json:"delivery_id"`
}

// Result describes one HTTP attempt. ResponseCode is nil when no response
// was received.
type Result struct {
	Success      bool   `json:"success"`
	ResponseCode *int   `json:"response_code,omitempty"`
	ResponseBody string `json:"response_body,omitempty"`
	DurationMs   int64  `json:"duration_ms"`
	Error        string `json:"error,omitempty"`
}

type StatusError struct {
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("receiver responded with HTTP %d", e.Code)
}

type Deliverer struct {
	client *http.Client
	now    func() time.Time
}

func NewDeliverer(client *http.Client, now func() time.Time) *Deliverer {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	if now == nil {
		now = time.Now
	}

	return &Deliverer{client: client, now: now}
}

// Deliver signs and POSTs the envelope for one delivery attempt. Any
// status outside [200,300) is returned as a *StatusError alongside the
// filled Result.
func (d *Deliverer) Deliver(
	ctx context.Context,
	url string,
	secret string,
	deliveryID uuid.UUID,
	event string,
	data any,
) (Result, error) {
	timestamp := d.now().UTC().Format(time.RFC3339)

	body, err := json.Marshal(Envelope{
		Event:      event,
		Data:       data,
		Timestamp:  timestamp,
		DeliveryID: deliveryID.String(),
	})
	if err != nil {
		return Result{Error: err.Error()}, fmt.Errorf("encode envelope: %w", err)
	}

	request, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return Result{Error: err.Error()}, err
	}
	request.Header.Set("Content-Type", "application/json")
	request.Header.Set("User-Agent", "relay-gateway-webhooks/1")
	request.Header.Set(HeaderSignature, Sign(secret, body))
	request.Header.Set(HeaderEvent, event)
	request.Header.Set(HeaderDeliveryID, deliveryID.String())
	request.Header.Set(HeaderTimestamp, timestamp)

	started := time.Now()
	response, err := d.client.Do(request)
	if err != nil {
		return Result{DurationMs: time.Since(started).Milliseconds(), Error: err.Error()}, err
	}
	defer response.Body.Close()

	raw, _ := io.ReadAll(io.LimitReader(response.Body, 64<<10))
	code := response.StatusCode

	result := Result{
		Success:      code >= 200 && code < 300,
		ResponseCode: &code,
		ResponseBody: Truncate(string(raw), maxRecordedBody),
		DurationMs:   time.Since(started).Milliseconds(),
	}

	if !result.Success {
		statusErr := &StatusError{Code: code}
		result.Error = statusErr.Error()
		return result, statusErr
	}

	return result, nil
}

// Test sends a one-off webhook.test event. Nothing is recorded and the
// attempt is never retried.
func (d *Deliverer) Test(ctx context.Context, hook *Webhook) (Result, error) {
	return d.Deliver(ctx, hook.URL, hook.Secret, uuid.New(), "webhook.test", map[string]any{
		"message":    "This is a test delivery",
		"webhook_id": hook.ID.String(),
	})
}

// Truncate cuts s to at most limit bytes without splitting a rune.
func Truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}

	cut := limit
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}

	return s[:cut]
}

package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/vin-jex/relay-gateway/internal/queue"
	"github.com/vin-jex/relay-gateway/internal/worker"
)

func TestSignIsDeterministicAndSensitive(t *testing.T) {
	body := []byte(`{"event":"x","data":{"amount":1},"timestamp":"2026-01-01T00:00:00Z","delivery_id":"d"}`)

	first := Sign("secret", body)
	if first != Sign("secret", body) {
		t.Fatal("signing the same envelope twice must match")
	}

	changed := append([]byte(nil), body...)
	changed[len(changed)-3] = 'e'
	if Sign("secret", changed) == first {
		t.Fatal("changing a byte of the envelope must change the signature")
	}
	if Sign("secret2", body) == first {
		t.Fatal("changing the secret must change the signature")
	}

	if !Verify("secret", body, first) {
		t.Fatal("expected signature to verify")
	}
	if Verify("secret", changed, first) {
		t.Fatal("tampered body must not verify")
	}
}

func TestDeliverSendsSignedEnvelope(t *testing.T) {
	var (
		gotHeaders http.Header
		gotBody    []byte
	)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotHeaders = r.Header.Clone()
		gotBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	fixed := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	deliverer := NewDeliverer(server.Client(), func() time.Time { return fixed })
	deliveryID := uuid.New()

	result, err := deliverer.Deliver(context.Background(), server.URL, "s3cret", deliveryID, "x", map[string]int{"amount": 5})
	if err != nil {
		t.Fatal(err)
	}
	if !result.Success || *result.ResponseCode != http.StatusNoContent {
		t.Fatalf("unexpected result %+v", result)
	}

	if !Verify("s3cret", gotBody, gotHeaders.Get(HeaderSignature)) {
		t.Fatal("receiver could not verify the signature")
	}
	if gotHeaders.Get(HeaderEvent) != "x" || gotHeaders.Get(HeaderDeliveryID) != deliveryID.String() {
		t.Fatalf("missing event headers: %v", gotHeaders)
	}
	if gotHeaders.Get(HeaderTimestamp) != "2026-05-01T10:00:00Z" {
		t.Fatalf("unexpected timestamp header %q", gotHeaders.Get(HeaderTimestamp))
	}

	var envelope Envelope
	if err := json.Unmarshal(gotBody, &envelope); err != nil {
		t.Fatal(err)
	}
	if envelope.Event != "x" || envelope.DeliveryID != deliveryID.String() {
		t.Fatalf("unexpected envelope %+v", envelope)
	}
}

func TestDeliverTreatsNon2xxAsFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(strings.Repeat("a", 1500)))
	}))
	defer server.Close()

	result, err := NewDeliverer(server.Client(), nil).Deliver(context.Background(), server.URL, "s", uuid.New(), "x", nil)

	var statusErr *StatusError
	if !errors.As(err, &statusErr) || statusErr.Code != http.StatusNotFound {
		t.Fatalf("expected 404 status error, got %v", err)
	}
	if result.Success || len(result.ResponseBody) != 1000 {
		t.Fatalf("expected truncated failed result, got success=%v len=%d", result.Success, len(result.ResponseBody))
	}
}

func TestTruncateKeepsRunesWhole(t *testing.T) {
	if got := Truncate("héllo", 2); got != "h" {
		t.Fatalf("expected h, got %q", got)
	}
	if got := Truncate("héllo", 3); got != "hé" {
		t.Fatalf("expected hé, got %q", got)
	}
	if got := Truncate("short", 10); got != "short" {
		t.Fatalf("expected the string untouched, got %q", got)
	}
}

func TestTestDeliveryIsNotRecorded(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	hook := &Webhook{ID: uuid.New(), URL: server.URL, Secret: "s", Enabled: true}

	result, err := NewDeliverer(server.Client(), nil).Test(context.Background(), hook)
	if err == nil || result.Success {
		t.Fatal("expected the test delivery to report failure")
	}
	if calls.Load() != 1 {
		t.Fatalf("test delivery must not retry, got %d calls", calls.Load())
	}
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func TestDeliverySucceedsOnThirdAttempt(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	ctx := context.Background()
	clock := &testClock{now: time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)}
	tenantID := uuid.New()
	hook := &Webhook{ID: uuid.New(), TenantID: tenantID, URL: server.URL, Secret: "s", Events: []string{"x"}, Enabled: true, MaxAttempts: 3}

	repository := newMemoryRepository(hook)
	q := queue.NewMemoryQueue(queue.WebhookPolicy(), clock.Now)
	dispatcher := NewDispatcher(repository, q, clock.Now, nil)
	handler := NewHandler(repository, NewDeliverer(server.Client(), clock.Now), clock.Now, nil)
	consumer := worker.New(q, worker.Typed(handler.Handle), worker.Options{})

	deliveryIDs, err := dispatcher.Dispatch(ctx, tenantID, "x", map[string]any{"amount": 10})
	if err != nil {
		t.Fatal(err)
	}
	if len(deliveryIDs) != 1 {
		t.Fatalf("expected one delivery, got %d", len(deliveryIDs))
	}

	for _, wait := range []time.Duration{0, time.Minute, 5 * time.Minute} {
		clock.Advance(wait)
		found, err := consumer.ProcessOne(ctx)
		if err != nil || !found {
			t.Fatalf("expected a due delivery after %s, found=%v err=%v", wait, found, err)
		}
	}

	delivery, _ := repository.GetDelivery(ctx, deliveryIDs[0])
	if delivery.Status != DeliverySuccess || delivery.Attempt != 3 {
		t.Fatalf("expected success at attempt 3, got %s at %d", delivery.Status, delivery.Attempt)
	}
	if *delivery.ResponseCode != http.StatusOK || delivery.CompletedAt == nil {
		t.Fatalf("latest attempt fields not recorded: %+v", delivery)
	}

	if len(repository.attempts) != 3 {
		t.Fatalf("expected 3 recorded attempts, got %d", len(repository.attempts))
	}
	for i, attempt := range repository.attempts {
		if attempt.Attempt != i+1 {
			t.Fatalf("attempt %d recorded as %d", i+1, attempt.Attempt)
		}
	}
}

func TestDeliveryFailsAfterFinalAttempt(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	ctx := context.Background()
	clock := &testClock{now: time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)}
	tenantID := uuid.New()
	hook := &Webhook{ID: uuid.New(), TenantID: tenantID, URL: server.URL, Secret: "s", Events: []string{"*"}, Enabled: true, MaxAttempts: 2}

	repository := newMemoryRepository(hook)
	q := queue.NewMemoryQueue(queue.WebhookPolicy(), clock.Now)
	dispatcher := NewDispatcher(repository, q, clock.Now, nil)
	consumer := worker.New(q, worker.Typed(NewHandler(repository, NewDeliverer(server.Client(), clock.Now), clock.Now, nil).Handle), worker.Options{})

	deliveryIDs, _ := dispatcher.Dispatch(ctx, tenantID, "anything", nil)

	for i := 0; i < 2; i++ {
		if found, _ := consumer.ProcessOne(ctx); !found {
			t.Fatalf("expected attempt %d to be due", i+1)
		}
		clock.Advance(time.Hour)
	}

	if found, _ := consumer.ProcessOne(ctx); found {
		t.Fatal("no attempt beyond max_attempts")
	}

	delivery, _ := repository.GetDelivery(ctx, deliveryIDs[0])
	if delivery.Status != DeliveryFailed || delivery.Attempt != 2 {
		t.Fatalf("expected failed at attempt 2, got %s at %d", delivery.Status, delivery.Attempt)
	}

	dead, _ := q.List(ctx, queue.StatusDead, 10)
	if len(dead) != 1 {
		t.Fatalf("expected the job dead-lettered, got %d", len(dead))
	}
}

func TestDispatchRollsBackDeliveryWhenQueueIsFull(t *testing.T) {
	ctx := context.Background()
	tenantID := uuid.New()
	repository := newMemoryRepository(&Webhook{ID: uuid.New(), TenantID: tenantID, Events: []string{"a"}, Enabled: true})

	policy := queue.WebhookPolicy()
	policy.MaxWaiting = 1
	q := queue.NewMemoryQueue(policy, nil)
	if _, err := q.Enqueue(ctx, struct{}{}, queue.EnqueueOptions{}); err != nil {
		t.Fatal(err)
	}

	_, err := NewDispatcher(repository, q, nil, nil).Dispatch(ctx, tenantID, "a", nil)
	if !errors.Is(err, queue.ErrQueueFull) {
		t.Fatalf("expected ErrQueueFull, got %v", err)
	}
	if len(repository.deliveries) != 0 {
		t.Fatalf("expected no orphaned delivery, got %d", len(repository.deliveries))
	}
}

func TestDispatchSkipsUnsubscribedWebhooks(t *testing.T) {
	ctx := context.Background()
	tenantID := uuid.New()
	repository := newMemoryRepository(
		&Webhook{ID: uuid.New(), TenantID: tenantID, Events: []string{"a"}, Enabled: true},
		&Webhook{ID: uuid.New(), TenantID: tenantID, Events: []string{"b"}, Enabled: true},
		&Webhook{ID: uuid.New(), TenantID: tenantID, Events: []string{"a"}, Enabled: false},
		&Webhook{ID: uuid.New(), TenantID: uuid.New(), Events: []string{"a"}, Enabled: true},
	)
	q := queue.NewMemoryQueue(queue.WebhookPolicy(), nil)

	ids, err := NewDispatcher(repository, q, nil, nil).Dispatch(ctx, tenantID, "a", nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(ids) != 1 {
		t.Fatalf("expected exactly one subscribed webhook, got %d", len(ids))
	}
}

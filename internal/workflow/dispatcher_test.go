package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/vin-jex/relay-gateway/internal/queue"
	"github.com/vin-jex/relay-gateway/internal/rpc"
)

func TestPublishQueuesEventWorkflows(t *testing.T) {
	tenantID := uuid.New()
	repository := newMemoryRepository(
		&Workflow{ID: uuid.New(), TenantID: tenantID, Enabled: true, Trigger: Trigger{Kind: TriggerEvent, Event: "deposit"}},
		&Workflow{ID: uuid.New(), TenantID: tenantID, Enabled: true, Trigger: Trigger{Kind: TriggerEvent, Event: "withdraw"}},
		&Workflow{ID: uuid.New(), TenantID: tenantID, Enabled: false, Trigger: Trigger{Kind: TriggerEvent, Event: "deposit"}},
		&Workflow{ID: uuid.New(), TenantID: uuid.New(), Enabled: true, Trigger: Trigger{Kind: TriggerEvent, Event: "deposit"}},
	)
	q := queue.NewMemoryQueue(queue.WorkflowPolicy(), nil)

	jobIDs, err := NewDispatcher(repository, q, nil).Publish(context.Background(), tenantID, "deposit", map[string]any{"amount": 1.0})
	if err != nil {
		t.Fatal(err)
	}
	if len(jobIDs) != 1 {
		t.Fatalf("expected one queued workflow, got %d", len(jobIDs))
	}

	job, _ := q.Get(context.Background(), jobIDs[0])
	var payload JobPayload
	if err := job.Decode(&payload); err != nil {
		t.Fatal(err)
	}
	if payload.TriggeredBy != TriggerEvent || payload.TriggerData["amount"] != 1.0 {
		t.Fatalf("unexpected payload %+v", payload)
	}
}

func TestInboundRequiresWebhookTrigger(t *testing.T) {
	hooked := &Workflow{ID: uuid.New(), Enabled: true, Trigger: Trigger{Kind: TriggerWebhook}}
	manual := &Workflow{ID: uuid.New(), Enabled: true, Trigger: Trigger{Kind: TriggerManual}}
	dispatcher := NewDispatcher(newMemoryRepository(hooked, manual), queue.NewMemoryQueue(queue.WorkflowPolicy(), nil), nil)

	if _, err := dispatcher.Inbound(context.Background(), hooked.ID, nil); err != nil {
		t.Fatal(err)
	}
	if _, err := dispatcher.Inbound(context.Background(), manual.ID, nil); !errors.Is(err, ErrWrongTrigger) {
		t.Fatalf("expected ErrWrongTrigger, got %v", err)
	}
}

func TestRunManualChecksTenant(t *testing.T) {
	owner := uuid.New()
	workflow := &Workflow{ID: uuid.New(), TenantID: owner, Enabled: true, Trigger: Trigger{Kind: TriggerEvent, Event: "x"}}
	dispatcher := NewDispatcher(newMemoryRepository(workflow), queue.NewMemoryQueue(queue.WorkflowPolicy(), nil), nil)

	if _, err := dispatcher.RunManual(context.Background(), uuid.New(), workflow.ID, nil); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}
	if _, err := dispatcher.RunManual(context.Background(), owner, workflow.ID, nil); err != nil {
		t.Fatal(err)
	}
}

func TestEnqueueDueSchedules(t *testing.T) {
	now := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	due := now.Add(-time.Second)
	later := now.Add(time.Hour)

	repository := newMemoryRepository(
		&Workflow{ID: uuid.New(), Enabled: true, Trigger: Trigger{Kind: TriggerSchedule, IntervalSeconds: 300}, NextRunAt: &due},
		&Workflow{ID: uuid.New(), Enabled: true, Trigger: Trigger{Kind: TriggerSchedule, IntervalSeconds: 300}, NextRunAt: &later},
	)
	dispatcher := NewDispatcher(repository, queue.NewMemoryQueue(queue.WorkflowPolicy(), nil), nil)

	queued, err := dispatcher.EnqueueDue(context.Background(), now, 10)
	if err != nil {
		t.Fatal(err)
	}
	if queued != 1 {
		t.Fatalf("expected one due workflow, got %d", queued)
	}

	if queued, _ := dispatcher.EnqueueDue(context.Background(), now, 10); queued != 0 {
		t.Fatalf("schedule must advance after a claim, got %d", queued)
	}
}

func TestTriggerValidation(t *testing.T) {
	if err := (Trigger{Kind: TriggerSchedule, IntervalSeconds: 5}).Validate(); !errors.Is(err, ErrInvalidTrigger) {
		t.Fatalf("expected short interval rejected, got %v", err)
	}
	if err := (Trigger{Kind: TriggerEvent}).Validate(); !errors.Is(err, ErrInvalidTrigger) {
		t.Fatalf("expected missing event rejected, got %v", err)
	}
	if err := (Trigger{Kind: TriggerManual}).Validate(); err != nil {
		t.Fatal(err)
	}
}

func TestHTTPRequestExecutor(t *testing.T) {
	var gotBody string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		buf := make([]byte, 256)
		n, _ := r.Body.Read(buf)
		gotBody = string(buf[:n])
		if r.URL.Path == "/fail" {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusAccepted)
	}))
	defer server.Close()

	execute := HTTPRequestExecutor(server.Client())
	data := map[string]any{"id": "abc"}

	output, err := execute(context.Background(), Action{Type: ActionHTTPRequest, HTTPRequest: &HTTPRequestAction{
		Method: "post",
		URL:    server.URL + "/ok",
		Body:   `{"ref":"{{id}}"}`,
	}}, data)
	if err != nil {
		t.Fatal(err)
	}
	if output.(HTTPResult).StatusCode != http.StatusAccepted || gotBody != `{"ref":"abc"}` {
		t.Fatalf("unexpected output %+v body %q", output, gotBody)
	}

	if _, err := execute(context.Background(), Action{Type: ActionHTTPRequest, HTTPRequest: &HTTPRequestAction{URL: server.URL + "/fail"}}, data); err == nil {
		t.Fatal("expected non-2xx to fail the action")
	}
}

func TestHTTPRequestExecutorKeepsRunesWhole(t *testing.T) {
	body := strings.Repeat("a", 999) + "é"
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(body))
	}))
	defer server.Close()

	execute := HTTPRequestExecutor(server.Client())
	output, err := execute(context.Background(), Action{Type: ActionHTTPRequest, HTTPRequest: &HTTPRequestAction{URL: server.URL}}, nil)
	if err != nil {
		t.Fatal(err)
	}

	got := output.(HTTPResult).Body
	if !utf8.ValidString(got) || got != strings.Repeat("a", 999) {
		t.Fatalf("expected the split rune dropped, got %d bytes", len(got))
	}
}

type staticTransport struct {
	method string
}

func (s *staticTransport) Send(_ context.Context, _ string, method string, _ any) (json.RawMessage, error) {
	s.method = method
	return json.RawMessage(`"5VERv8NMvzbJMEkV8xnrLkEaWRtSz9CosKDYjCJjBRnb"`), nil
}

func TestSolanaTransferExecutor(t *testing.T) {
	pool, err := rpc.NewPool([]rpc.Endpoint{{Name: "primary", Address: "http://node"}}, rpc.PoolOptions{})
	if err != nil {
		t.Fatal(err)
	}
	transport := &staticTransport{}
	execute := SolanaTransferExecutor(rpc.NewRequester(pool, transport, rpc.RequesterOptions{}))

	output, err := execute(context.Background(), Action{Type: ActionSolanaTransfer, SolanaTransfer: &SolanaTransferAction{SignedTransaction: "AQID"}}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if transport.method != "sendTransaction" {
		t.Fatalf("expected sendTransaction, got %s", transport.method)
	}
	if output.(map[string]string)["signature"] == "" {
		t.Fatal("missing signature")
	}
}

package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/vin-jex/relay-gateway/internal/queue"
	"github.com/vin-jex/relay-gateway/internal/webhook"
	"github.com/vin-jex/relay-gateway/internal/worker"
)

func httpAction(url string) Action {
	return Action{Type: ActionHTTPRequest, HTTPRequest: &HTTPRequestAction{Method: "POST", URL: url}}
}

func TestFirstFailingActionStopsTheChain(t *testing.T) {
	var calls []string
	recorder := func(name string, fail bool) Executor {
		return func(context.Context, Action, map[string]any) (any, error) {
			calls = append(calls, name)
			if fail {
				return nil, errors.New(name + " exploded")
			}
			return nil, nil
		}
	}

	workflow := &Workflow{
		ID:      uuid.New(),
		Name:    "chain",
		Enabled: true,
		Trigger: Trigger{Kind: TriggerManual},
		Actions: []Action{httpAction("a"), {Type: ActionEmail, Email: &EmailAction{To: []string{"b"}}}, {Type: ActionWebhook, Webhook: &WebhookAction{URL: "c"}}},
	}
	engine := NewEngine(newMemoryRepository(workflow), nil, nil)
	engine.Register(ActionHTTPRequest, recorder("A", true))
	engine.Register(ActionEmail, recorder("B", false))
	engine.Register(ActionWebhook, recorder("C", false))

	execution, err := engine.Run(context.Background(), JobPayload{WorkflowID: workflow.ID, TriggeredBy: TriggerManual})
	if err != nil {
		t.Fatal(err)
	}

	if len(calls) != 1 || calls[0] != "A" {
		t.Fatalf("expected only A to run, got %v", calls)
	}
	if execution.Status != StatusFailed || !strings.Contains(execution.Error, "A exploded") {
		t.Fatalf("unexpected execution %+v", execution)
	}
	if len(execution.Result.Actions) != 1 || execution.Result.Actions[0].Success {
		t.Fatalf("expected one failed action result, got %+v", execution.Result.Actions)
	}
}

func TestConditionGatesActions(t *testing.T) {
	workflow := &Workflow{
		ID:         uuid.New(),
		Enabled:    true,
		Trigger:    Trigger{Kind: TriggerManual},
		Conditions: []Condition{{Field: "amount", Operator: OpGreaterThan, Value: 100.0}},
		Actions:    []Action{httpAction("x")},
	}

	runs := 0
	engine := NewEngine(newMemoryRepository(workflow), nil, nil)
	engine.Register(ActionHTTPRequest, func(context.Context, Action, map[string]any) (any, error) {
		runs++
		return nil, nil
	})

	skipped, err := engine.Run(context.Background(), JobPayload{WorkflowID: workflow.ID, TriggerData: map[string]any{"amount": 50.0}})
	if err != nil {
		t.Fatal(err)
	}
	if skipped.Status != StatusSkipped || runs != 0 || len(skipped.Result.Actions) != 0 {
		t.Fatalf("expected skipped with no actions, got %s after %d runs", skipped.Status, runs)
	}

	executed, err := engine.Run(context.Background(), JobPayload{WorkflowID: workflow.ID, TriggerData: map[string]any{"amount": 150.0}})
	if err != nil {
		t.Fatal(err)
	}
	if executed.Status != StatusSuccess || runs != 1 {
		t.Fatalf("expected success after one run, got %s after %d runs", executed.Status, runs)
	}
}

func TestWebhookActionNetworkErrorFailsExecution(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	unreachable := server.URL
	server.Close()

	workflow := &Workflow{
		ID:      uuid.New(),
		Enabled: true,
		Trigger: Trigger{Kind: TriggerEvent, Event: "transfer"},
		Actions: []Action{{Type: ActionWebhook, Webhook: &WebhookAction{URL: unreachable, Secret: "s"}}},
	}
	repository := newMemoryRepository(workflow)

	engine := NewEngine(repository, nil, nil)
	engine.Register(ActionWebhook, WebhookExecutor(webhook.NewDeliverer(nil, nil)))

	q := queue.NewMemoryQueue(queue.WorkflowPolicy(), nil)
	jobID, _ := q.Enqueue(context.Background(), JobPayload{WorkflowID: workflow.ID, TriggeredBy: TriggerEvent}, queue.EnqueueOptions{})

	consumer := worker.New(q, worker.Typed(engine.Handle), worker.Options{})
	if _, err := consumer.ProcessOne(context.Background()); err != nil {
		t.Fatal(err)
	}

	if len(repository.executions) != 1 {
		t.Fatalf("expected one execution, got %d", len(repository.executions))
	}
	for _, execution := range repository.executions {
		if execution.Status != StatusFailed || execution.Error == "" {
			t.Fatalf("expected failed execution with error, got %+v", execution)
		}
		if execution.CompletedAt == nil || execution.DurationMs == nil {
			t.Fatal("execution not finished")
		}
	}

	stored := repository.workflows[workflow.ID]
	if stored.ExecutionCount != 1 || stored.LastExecutionStatus == nil || *stored.LastExecutionStatus != StatusFailed {
		t.Fatalf("workflow aggregates not updated: %+v", stored)
	}

	job, _ := q.Get(context.Background(), jobID)
	if job.Status != queue.StatusCompleted {
		t.Fatalf("action failure must not retry the job, got %s", job.Status)
	}
}

func TestExecutionLogsAreComplete(t *testing.T) {
	workflow := &Workflow{
		ID:      uuid.New(),
		Name:    "logs",
		Enabled: true,
		Trigger: Trigger{Kind: TriggerManual},
		Actions: []Action{httpAction("a"), httpAction("b")},
	}
	engine := NewEngine(newMemoryRepository(workflow), nil, nil)
	engine.Register(ActionHTTPRequest, func(context.Context, Action, map[string]any) (any, error) {
		return "ok", nil
	})

	execution, err := engine.Run(context.Background(), JobPayload{WorkflowID: workflow.ID, TriggeredBy: TriggerManual})
	if err != nil {
		t.Fatal(err)
	}

	want := []string{
		`Workflow "logs" execution started (trigger: manual)`,
		"All 0 conditions met",
		"Executing action 1: http_request",
		"Action 1 (http_request) completed",
		"Executing action 2: http_request",
		"Action 2 (http_request) completed",
		"Workflow execution completed successfully",
	}
	if len(execution.Logs) != len(want) {
		t.Fatalf("expected %d log entries, got %+v", len(want), execution.Logs)
	}
	for i, entry := range execution.Logs {
		if entry.Message != want[i] {
			t.Fatalf("log %d: expected %q, got %q", i, want[i], entry.Message)
		}
	}
}

func TestFinishWriteIsRetriedWithoutRerunningActions(t *testing.T) {
	workflow := &Workflow{ID: uuid.New(), Enabled: true, Trigger: Trigger{Kind: TriggerManual}, Actions: []Action{httpAction("a")}}
	repository := newMemoryRepository(workflow)
	repository.finishFailures = 1

	calls := 0
	engine := NewEngine(repository, nil, nil)
	engine.finishBackoff = 0
	engine.Register(ActionHTTPRequest, func(context.Context, Action, map[string]any) (any, error) {
		calls++
		return nil, nil
	})

	q := queue.NewMemoryQueue(queue.WorkflowPolicy(), nil)
	jobID, _ := q.Enqueue(context.Background(), JobPayload{WorkflowID: workflow.ID, TriggeredBy: TriggerManual}, queue.EnqueueOptions{})

	consumer := worker.New(q, worker.Typed(engine.Handle), worker.Options{})
	if _, err := consumer.ProcessOne(context.Background()); err != nil {
		t.Fatal(err)
	}

	execution, ok := repository.executions[jobID]
	if calls != 1 || len(repository.executions) != 1 || !ok {
		t.Fatalf("expected one action call and one execution, got %d calls and %d executions", calls, len(repository.executions))
	}
	if execution.Status != StatusSuccess {
		t.Fatalf("expected success, got %s", execution.Status)
	}

	job, _ := q.Get(context.Background(), jobID)
	if job.Status != queue.StatusCompleted {
		t.Fatalf("expected completed job, got %s", job.Status)
	}
}

func TestRetriedJobClosesInterruptedExecution(t *testing.T) {
	workflow := &Workflow{ID: uuid.New(), Enabled: true, Trigger: Trigger{Kind: TriggerManual}, Actions: []Action{httpAction("a")}}
	repository := newMemoryRepository(workflow)
	repository.finishFailures = finishAttempts

	calls := 0
	engine := NewEngine(repository, nil, nil)
	engine.finishBackoff = 0
	engine.Register(ActionHTTPRequest, func(context.Context, Action, map[string]any) (any, error) {
		calls++
		return nil, nil
	})

	start := time.Now()
	var skew atomic.Int64
	q := queue.NewMemoryQueue(queue.WorkflowPolicy(), func() time.Time {
		return start.Add(time.Duration(skew.Load()))
	})
	jobID, _ := q.Enqueue(context.Background(), JobPayload{WorkflowID: workflow.ID, TriggeredBy: TriggerManual}, queue.EnqueueOptions{})

	consumer := worker.New(q, worker.Typed(engine.Handle), worker.Options{})
	if _, err := consumer.ProcessOne(context.Background()); err != nil {
		t.Fatal(err)
	}

	job, _ := q.Get(context.Background(), jobID)
	if job.Status != queue.StatusWaiting || job.Attempt != 2 {
		t.Fatalf("expected the job back in waiting for attempt 2, got %s attempt %d", job.Status, job.Attempt)
	}
	if repository.executions[jobID].Status != StatusRunning {
		t.Fatalf("expected the execution left running, got %s", repository.executions[jobID].Status)
	}

	skew.Store(int64(time.Hour))
	if processed, err := consumer.ProcessOne(context.Background()); err != nil || !processed {
		t.Fatalf("expected the retry to be processed, got %v %v", processed, err)
	}

	if calls != 1 {
		t.Fatalf("actions were replayed: %d calls", calls)
	}
	if len(repository.executions) != 1 {
		t.Fatalf("expected one execution, got %d", len(repository.executions))
	}

	execution := repository.executions[jobID]
	if execution.Status != StatusFailed || execution.Error != interruptedError || execution.CompletedAt == nil {
		t.Fatalf("expected the execution closed as interrupted, got %+v", execution)
	}
	if stored := repository.workflows[workflow.ID]; stored.ExecutionCount != 1 {
		t.Fatalf("expected one counted execution, got %d", stored.ExecutionCount)
	}

	job, _ = q.Get(context.Background(), jobID)
	if job.Status != queue.StatusCompleted {
		t.Fatalf("expected completed job, got %s", job.Status)
	}
}

func TestFinishedExecutionIsNotRunTwice(t *testing.T) {
	workflow := &Workflow{ID: uuid.New(), Enabled: true, Trigger: Trigger{Kind: TriggerManual}, Actions: []Action{httpAction("a")}}
	repository := newMemoryRepository(workflow)

	calls := 0
	engine := NewEngine(repository, nil, nil)
	engine.Register(ActionHTTPRequest, func(context.Context, Action, map[string]any) (any, error) {
		calls++
		return nil, nil
	})

	job := &queue.Job{ID: uuid.New()}
	payload := JobPayload{WorkflowID: workflow.ID, TriggeredBy: TriggerManual}
	for i := 0; i < 2; i++ {
		if err := engine.Handle(context.Background(), job, payload); err != nil {
			t.Fatal(err)
		}
	}

	if calls != 1 || repository.workflows[workflow.ID].ExecutionCount != 1 {
		t.Fatalf("expected a single run, got %d calls", calls)
	}
}

func TestDeadLetterClosesRunningExecution(t *testing.T) {
	workflow := &Workflow{ID: uuid.New(), Enabled: true, Trigger: Trigger{Kind: TriggerManual}}
	repository := newMemoryRepository(workflow)
	engine := NewEngine(repository, nil, nil)

	job := &queue.Job{ID: uuid.New(), LastError: queue.ErrLeaseExpired.Error()}
	if err := engine.DeadLetter(context.Background(), job); err != nil {
		t.Fatalf("a job without an execution needs no settling, got %v", err)
	}

	repository.executions[job.ID] = &Execution{ID: job.ID, WorkflowID: workflow.ID, Status: StatusRunning, StartedAt: time.Now()}
	if err := engine.DeadLetter(context.Background(), job); err != nil {
		t.Fatal(err)
	}

	execution := repository.executions[job.ID]
	if execution.Status != StatusFailed || execution.Error != interruptedError {
		t.Fatalf("expected the execution failed as interrupted, got %+v", execution)
	}
}

func TestUnknownWorkflowIsFatal(t *testing.T) {
	engine := NewEngine(newMemoryRepository(), nil, nil)

	err := engine.Handle(context.Background(), &queue.Job{}, JobPayload{WorkflowID: uuid.New()})
	if !queue.IsFatal(err) || !errors.Is(err, ErrWorkflowNotFound) {
		t.Fatalf("expected fatal not-found error, got %v", err)
	}
}

func TestDisabledWorkflowIsSkipped(t *testing.T) {
	workflow := &Workflow{ID: uuid.New(), Trigger: Trigger{Kind: TriggerManual}, Actions: []Action{httpAction("a")}}
	engine := NewEngine(newMemoryRepository(workflow), nil, nil)

	execution, err := engine.Run(context.Background(), JobPayload{WorkflowID: workflow.ID})
	if err != nil {
		t.Fatal(err)
	}
	if execution.Status != StatusSkipped {
		t.Fatalf("expected skipped, got %s", execution.Status)
	}
}

func TestActionJSONIsTagged(t *testing.T) {
	raw := `[{"type":"email","config":{"to":["a@example.com"],"subject":"s","body":"b"}},
	         {"type":"solana_transfer","config":{"signed_transaction":"AQID"}}]`

	var actions []Action
	if err := json.Unmarshal([]byte(raw), &actions); err != nil {
		t.Fatal(err)
	}
	if actions[0].Email == nil || actions[0].Email.To[0] != "a@example.com" {
		t.Fatalf("email config not decoded: %+v", actions[0])
	}
	if actions[1].SolanaTransfer == nil || actions[1].SolanaTransfer.SignedTransaction != "AQID" {
		t.Fatalf("transfer config not decoded: %+v", actions[1])
	}

	encoded, err := json.Marshal(actions[0])
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(encoded), `"type":"email"`) || !strings.Contains(string(encoded), `"config":{`) {
		t.Fatalf("unexpected encoding %s", encoded)
	}

	var unknown Action
	if err := json.Unmarshal([]byte(`{"type":"fax","config":{}}`), &unknown); !errors.Is(err, ErrUnknownAction) {
		t.Fatalf("expected ErrUnknownAction, got %v", err)
	}
}

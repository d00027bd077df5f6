// Package workflow evaluates workflow conditions against trigger data and
// runs the workflow's actions in order, stopping at the first failure.
package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

var (
	ErrWorkflowNotFound  = errors.New("workflow not found")
	ErrExecutionNotFound = errors.New("execution not found")
	ErrUnknownAction     = errors.New("unknown action type")
	ErrInvalidTrigger    = errors.New("invalid trigger")
)

type TriggerKind string

const (
	TriggerManual   TriggerKind = "manual"
	TriggerSchedule TriggerKind = "schedule"
	TriggerWebhook  TriggerKind = "webhook"
	TriggerEvent    TriggerKind = "event"
)

// Trigger says what starts a workflow. Event is set for event triggers,
// IntervalSeconds for schedules.
type Trigger struct {
	Kind            TriggerKind `json:"type"`
	Event           string      `json:"event,omitempty"`
	IntervalSeconds int         `json:"interval_seconds,omitempty"`
}

func (t Trigger) Validate() error {
	switch t.Kind {
	case TriggerManual, TriggerWebhook:
		return nil
	case TriggerEvent:
		if t.Event == "" {
			return fmt.Errorf("%w: event trigger needs an event name", ErrInvalidTrigger)
		}
		return nil
	case TriggerSchedule:
		if t.IntervalSeconds < 60 {
			return fmt.Errorf("%w: schedule interval must be at least 60 seconds", ErrInvalidTrigger)
		}
		return nil
	}

	return fmt.Errorf("%w: unknown trigger type %q", ErrInvalidTrigger, t.Kind)
}

type Workflow struct {
	ID                  uuid.UUID   `json:"id"`
	TenantID            uuid.UUID   `json:"tenant_id"`
	Name                string      `json:"name"`
	Enabled             bool        `json:"enabled"`
	Trigger             Trigger     `json:"trigger"`
	Conditions          []Condition `json:"conditions"`
	Actions             []Action    `json:"actions"`
	ExecutionCount      int         `json:"execution_count"`
	LastExecutionStatus *Status     `json:"last_execution_status,omitempty"`
	LastExecutedAt      *time.Time  `json:"last_executed_at,omitempty"`
	NextRunAt           *time.Time  `json:"next_run_at,omitempty"`
	CreatedAt           time.Time   `json:"created_at"`
}

type Status string

const (
	StatusRunning Status = "running"
	StatusSuccess Status = "success"
	StatusFailed  Status = "failed"
	StatusSkipped Status = "skipped"
)

type LogEntry struct {
	Time    time.Time `json:"time"`
	Message string    `json:"message"`
}

type ActionResult struct {
	Index   int        `json:"index"`
	Type    ActionType `json:"type"`
	Success bool       `json:"success"`
	Output  any        `json:"output,omitempty"`
	Error   string     `json:"error,omitempty"`
}

type Result struct {
	Actions []ActionResult `json:"actions"`
}

type Execution struct {
	ID          uuid.UUID      `json:"id"`
	WorkflowID  uuid.UUID      `json:"workflow_id"`
	TriggeredBy TriggerKind    `json:"triggered_by"`
	TriggerData map[string]any `json:"trigger_data"`
	Status      Status         `json:"status"`
	Logs        []LogEntry     `json:"logs"`
	Result      *Result        `json:"result,omitempty"`
	Error       string         `json:"error,omitempty"`
	StartedAt   time.Time      `json:"started_at"`
	CompletedAt *time.Time     `json:"completed_at,omitempty"`
	DurationMs  *int64         `json:"duration_ms,omitempty"`
}

// Repository is the persistence the engine needs.
type Repository interface {
	GetWorkflow(ctx context.Context, id uuid.UUID) (*Workflow, error)
	GetExecution(ctx context.Context, id uuid.UUID) (*Execution, error)
	CreateExecution(ctx context.Context, execution *Execution) error
	// FinishExecution moves a running execution to its terminal status and
	// bumps the workflow's execution count and last status in the same
	// transaction.
	FinishExecution(ctx context.Context, execution *Execution) error
}

// JobPayload is what the workflow queue carries.
type JobPayload struct {
	WorkflowID  uuid.UUID      `json:"workflow_id"`
	TriggeredBy TriggerKind    `json:"triggered_by"`
	TriggerData map[string]any `json:"trigger_data"`
}

func decodeConfig(raw json.RawMessage, v any) error {
	if len(raw) == 0 {
		raw = json.RawMessage(`{}`)
	}
	return json.Unmarshal(raw, v)
}

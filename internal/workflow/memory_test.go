package workflow

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

type memoryRepository struct {
	mu         sync.Mutex
	workflows  map[uuid.UUID]*Workflow
	executions map[uuid.UUID]*Execution

	// finishFailures makes that many FinishExecution calls fail.
	finishFailures int
}

func newMemoryRepository(workflows ...*Workflow) *memoryRepository {
	repository := &memoryRepository{
		workflows:  map[uuid.UUID]*Workflow{},
		executions: map[uuid.UUID]*Execution{},
	}
	for _, workflow := range workflows {
		repository.workflows[workflow.ID] = workflow
	}
	return repository
}

func (r *memoryRepository) GetWorkflow(_ context.Context, id uuid.UUID) (*Workflow, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	workflow, ok := r.workflows[id]
	if !ok {
		return nil, ErrWorkflowNotFound
	}
	copied := *workflow
	return &copied, nil
}

func (r *memoryRepository) GetExecution(_ context.Context, id uuid.UUID) (*Execution, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	execution, ok := r.executions[id]
	if !ok {
		return nil, ErrExecutionNotFound
	}
	copied := *execution
	return &copied, nil
}

func (r *memoryRepository) CreateExecution(_ context.Context, execution *Execution) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	copied := *execution
	r.executions[execution.ID] = &copied
	return nil
}

func (r *memoryRepository) FinishExecution(_ context.Context, execution *Execution) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.finishFailures > 0 {
		r.finishFailures--
		return errors.New("connection reset")
	}

	stored, ok := r.executions[execution.ID]
	if !ok || stored.Status != StatusRunning {
		return errors.New("execution is not running")
	}

	copied := *execution
	r.executions[execution.ID] = &copied

	workflow := r.workflows[execution.WorkflowID]
	status := execution.Status
	workflow.ExecutionCount++
	workflow.LastExecutionStatus = &status
	workflow.LastExecutedAt = execution.CompletedAt
	return nil
}

func (r *memoryRepository) ListEventWorkflows(_ context.Context, tenantID uuid.UUID, event string) ([]Workflow, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var matched []Workflow
	for _, workflow := range r.workflows {
		if workflow.TenantID == tenantID && workflow.Enabled &&
			workflow.Trigger.Kind == TriggerEvent && workflow.Trigger.Event == event {
			matched = append(matched, *workflow)
		}
	}
	return matched, nil
}

func (r *memoryRepository) ClaimDueScheduledWorkflows(_ context.Context, now time.Time, limit int) ([]Workflow, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var due []Workflow
	for _, workflow := range r.workflows {
		if len(due) == limit {
			break
		}
		if workflow.Trigger.Kind != TriggerSchedule || !workflow.Enabled ||
			workflow.NextRunAt == nil || workflow.NextRunAt.After(now) {
			continue
		}
		next := now.Add(time.Duration(workflow.Trigger.IntervalSeconds) * time.Second)
		workflow.NextRunAt = &next
		due = append(due, *workflow)
	}
	return due, nil
}

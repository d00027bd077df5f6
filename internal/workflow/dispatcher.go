package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/vin-jex/relay-gateway/internal/queue"
)

var (
	ErrWrongTrigger = errors.New("workflow does not accept this trigger")
	ErrForbidden    = errors.New("workflow belongs to another tenant")
)

type TriggerRepository interface {
	GetWorkflow(ctx context.Context, id uuid.UUID) (*Workflow, error)
	ListEventWorkflows(ctx context.Context, tenantID uuid.UUID, event string) ([]Workflow, error)
	// ClaimDueScheduledWorkflows returns enabled schedule workflows due at
	// now and advances their next run by the interval. Concurrent callers
	// never receive the same workflow for the same tick.
	ClaimDueScheduledWorkflows(ctx context.Context, now time.Time, limit int) ([]Workflow, error)
}

// Dispatcher turns triggers into workflow jobs.
type Dispatcher struct {
	repository TriggerRepository
	queue      queue.Queue
	logger     *slog.Logger
}

func NewDispatcher(repository TriggerRepository, q queue.Queue, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}

	return &Dispatcher{repository: repository, queue: q, logger: logger}
}

func (d *Dispatcher) enqueue(ctx context.Context, workflow *Workflow, kind TriggerKind, data map[string]any) (uuid.UUID, error) {
	jobID, err := d.queue.Enqueue(ctx, JobPayload{
		WorkflowID:  workflow.ID,
		TriggeredBy: kind,
		TriggerData: data,
	}, queue.EnqueueOptions{})
	if err != nil {
		return uuid.Nil, fmt.Errorf("enqueue workflow %s: %w", workflow.ID, err)
	}

	d.logger.Info("workflow queued", "workflow_id", workflow.ID, "trigger", kind, "job_id", jobID)

	return jobID, nil
}

// RunManual queues a tenant-initiated run of any of its workflows.
func (d *Dispatcher) RunManual(ctx context.Context, tenantID, workflowID uuid.UUID, data map[string]any) (uuid.UUID, error) {
	workflow, err := d.repository.GetWorkflow(ctx, workflowID)
	if err != nil {
		return uuid.Nil, err
	}
	if workflow.TenantID != tenantID {
		return uuid.Nil, ErrForbidden
	}

	return d.enqueue(ctx, workflow, TriggerManual, data)
}

// Inbound handles a call to a workflow's public hook URL.
func (d *Dispatcher) Inbound(ctx context.Context, workflowID uuid.UUID, data map[string]any) (uuid.UUID, error) {
	workflow, err := d.repository.GetWorkflow(ctx, workflowID)
	if err != nil {
		return uuid.Nil, err
	}
	if workflow.Trigger.Kind != TriggerWebhook || !workflow.Enabled {
		return uuid.Nil, ErrWrongTrigger
	}

	return d.enqueue(ctx, workflow, TriggerWebhook, data)
}

// Publish queues every enabled workflow of tenantID triggered by event.
func (d *Dispatcher) Publish(ctx context.Context, tenantID uuid.UUID, event string, data map[string]any) ([]uuid.UUID, error) {
	workflows, err := d.repository.ListEventWorkflows(ctx, tenantID, event)
	if err != nil {
		return nil, err
	}

	jobIDs := make([]uuid.UUID, 0, len(workflows))
	for i := range workflows {
		jobID, err := d.enqueue(ctx, &workflows[i], TriggerEvent, data)
		if err != nil {
			return jobIDs, err
		}
		jobIDs = append(jobIDs, jobID)
	}

	return jobIDs, nil
}

// EnqueueDue queues the scheduled workflows due at now.
func (d *Dispatcher) EnqueueDue(ctx context.Context, now time.Time, limit int) (int, error) {
	workflows, err := d.repository.ClaimDueScheduledWorkflows(ctx, now, limit)
	if err != nil {
		return 0, err
	}

	queued := 0
	for i := range workflows {
		data := map[string]any{"scheduled_at": now.UTC().Format(time.RFC3339)}
		if _, err := d.enqueue(ctx, &workflows[i], TriggerSchedule, data); err != nil {
			return queued, err
		}
		queued++
	}

	return queued, nil
}

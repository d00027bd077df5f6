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

// Executor runs one action. data is the execution's trigger data.
type Executor func(ctx context.Context, action Action, data map[string]any) (any, error)

const (
	finishAttempts       = 3
	defaultFinishBackoff = 200 * time.Millisecond
)

const interruptedError = "execution interrupted before its outcome was recorded"

type Engine struct {
	repository    Repository
	executors     map[ActionType]Executor
	now           func() time.Time
	finishBackoff time.Duration
	logger        *slog.Logger
}

func NewEngine(repository Repository, now func() time.Time, logger *slog.Logger) *Engine {
	if now == nil {
		now = time.Now
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Engine{
		repository:    repository,
		executors:     make(map[ActionType]Executor),
		now:           now,
		finishBackoff: defaultFinishBackoff,
		logger:        logger,
	}
}

func (e *Engine) Register(actionType ActionType, executor Executor) {
	e.executors[actionType] = executor
}

// Handle is the workflow queue handler. The execution is keyed by the job
// ID, so a retried job resumes the execution its earlier attempt created
// instead of running the actions again. Action failures end the execution
// as failed and complete the job.
func (e *Engine) Handle(ctx context.Context, job *queue.Job, payload JobPayload) error {
	_, err := e.run(ctx, job.ID, payload)
	if errors.Is(err, ErrWorkflowNotFound) {
		return queue.Fatal(err)
	}
	return err
}

// DeadLetter closes the execution of a job that stall recovery gave up on.
func (e *Engine) DeadLetter(ctx context.Context, job *queue.Job) error {
	execution, err := e.repository.GetExecution(ctx, job.ID)
	if errors.Is(err, ErrExecutionNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	_, err = e.resume(ctx, execution)
	return err
}

// Run executes one workflow under a new execution and returns it finished.
func (e *Engine) Run(ctx context.Context, payload JobPayload) (*Execution, error) {
	return e.run(ctx, uuid.New(), payload)
}

func (e *Engine) run(ctx context.Context, executionID uuid.UUID, payload JobPayload) (*Execution, error) {
	existing, err := e.repository.GetExecution(ctx, executionID)
	switch {
	case err == nil:
		return e.resume(ctx, existing)
	case !errors.Is(err, ErrExecutionNotFound):
		return nil, fmt.Errorf("load execution: %w", err)
	}

	workflow, err := e.repository.GetWorkflow(ctx, payload.WorkflowID)
	if err != nil {
		return nil, err
	}

	data := payload.TriggerData
	if data == nil {
		data = map[string]any{}
	}

	execution := &Execution{
		ID:          executionID,
		WorkflowID:  workflow.ID,
		TriggeredBy: payload.TriggeredBy,
		TriggerData: data,
		Status:      StatusRunning,
		Result:      &Result{Actions: []ActionResult{}},
		StartedAt:   e.now(),
	}

	e.log(execution, fmt.Sprintf("Workflow %q execution started (trigger: %s)", workflow.Name, payload.TriggeredBy))

	if err := e.repository.CreateExecution(ctx, execution); err != nil {
		return nil, fmt.Errorf("create execution: %w", err)
	}

	e.execute(ctx, workflow, execution)

	if err := e.finish(ctx, execution); err != nil {
		return nil, err
	}

	return execution, nil
}

// resume settles an execution left behind by an earlier attempt of the same
// job. A terminal one is returned as is. A running one may already have had
// side effects, so it is closed as failed without running any action.
func (e *Engine) resume(ctx context.Context, execution *Execution) (*Execution, error) {
	if execution.Status != StatusRunning {
		return execution, nil
	}

	if execution.Result == nil {
		execution.Result = &Result{Actions: []ActionResult{}}
	}
	execution.Status = StatusFailed
	execution.Error = interruptedError
	e.log(execution, "Workflow execution interrupted, actions are not replayed")

	if err := e.finish(ctx, execution); err != nil {
		return nil, err
	}

	return execution, nil
}

// finish records the terminal status, retrying the write a few times so a
// brief database error does not throw away the outcome of actions that
// already ran.
func (e *Engine) finish(ctx context.Context, execution *Execution) error {
	completedAt := e.now()
	duration := completedAt.Sub(execution.StartedAt).Milliseconds()
	execution.CompletedAt = &completedAt
	execution.DurationMs = &duration

	// Finish even if the job context was cancelled mid-action.
	ctx = context.WithoutCancel(ctx)

	var err error
	for attempt := 1; attempt <= finishAttempts; attempt++ {
		if err = e.repository.FinishExecution(ctx, execution); err == nil {
			break
		}
		if attempt < finishAttempts {
			time.Sleep(time.Duration(attempt) * e.finishBackoff)
		}
	}
	if err != nil {
		return fmt.Errorf("finish execution: %w", err)
	}

	e.logger.Info("workflow execution finished",
		"workflow_id", execution.WorkflowID,
		"execution_id", execution.ID,
		"status", execution.Status,
		"actions", len(execution.Result.Actions),
		"duration_ms", duration)

	return nil
}

func (e *Engine) execute(ctx context.Context, workflow *Workflow, execution *Execution) {
	if !workflow.Enabled {
		execution.Status = StatusSkipped
		e.log(execution, "Workflow is disabled, skipping")
		return
	}

	if ok, failed := Evaluate(workflow.Conditions, execution.TriggerData); !ok {
		execution.Status = StatusSkipped
		e.log(execution, fmt.Sprintf("Condition not met: %s", failed))
		return
	}
	e.log(execution, fmt.Sprintf("All %d conditions met", len(workflow.Conditions)))

	for i, action := range workflow.Actions {
		e.log(execution, fmt.Sprintf("Executing action %d: %s", i+1, action.Type))

		output, err := e.runAction(ctx, action, execution.TriggerData)
		if err != nil {
			execution.Result.Actions = append(execution.Result.Actions, ActionResult{
				Index:   i,
				Type:    action.Type,
				Success: false,
				Error:   err.Error(),
			})
			execution.Status = StatusFailed
			execution.Error = fmt.Sprintf("action %d (%s) failed: %v", i+1, action.Type, err)
			e.log(execution, fmt.Sprintf("Action %d (%s) failed: %v", i+1, action.Type, err))
			e.log(execution, "Workflow execution failed")
			return
		}

		execution.Result.Actions = append(execution.Result.Actions, ActionResult{
			Index:   i,
			Type:    action.Type,
			Success: true,
			Output:  output,
		})
		e.log(execution, fmt.Sprintf("Action %d (%s) completed", i+1, action.Type))
	}

	execution.Status = StatusSuccess
	e.log(execution, "Workflow execution completed successfully")
}

func (e *Engine) runAction(ctx context.Context, action Action, data map[string]any) (output any, err error) {
	executor, ok := e.executors[action.Type]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownAction, action.Type)
	}

	defer func() {
		if recovered := recover(); recovered != nil {
			err = fmt.Errorf("action panic: %v", recovered)
		}
	}()

	return executor(ctx, action, data)
}

func (e *Engine) log(execution *Execution, message string) {
	execution.Logs = append(execution.Logs, LogEntry{Time: e.now(), Message: message})
}

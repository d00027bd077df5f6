package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/vin-jex/relay-gateway/internal/workflow"
)

const workflowColumns = `
	id,
	tenant_id,
	name,
	enabled,
	trigger,
	conditions,
	actions,
	execution_count,
	last_execution_status,
	last_executed_at,
	next_run_at,
	created_at
`

// CreateWorkflow inserts the workflow, scheduling its first run one
// interval from now when it has a schedule trigger.
func (s *Store) CreateWorkflow(ctx context.Context, definition *workflow.Workflow) error {
	if definition.ID == uuid.Nil {
		definition.ID = uuid.New()
	}
	definition.CreatedAt = s.now()

	if definition.Trigger.Kind == workflow.TriggerSchedule {
		next := definition.CreatedAt.Add(time.Duration(definition.Trigger.IntervalSeconds) * time.Second)
		definition.NextRunAt = &next
	}

	trigger, err := json.Marshal(definition.Trigger)
	if err != nil {
		return fmt.Errorf("encode trigger: %w", err)
	}
	conditions, err := json.Marshal(nonNil(definition.Conditions))
	if err != nil {
		return fmt.Errorf("encode conditions: %w", err)
	}
	actions, err := json.Marshal(nonNil(definition.Actions))
	if err != nil {
		return fmt.Errorf("encode actions: %w", err)
	}

	_, err = s.connectionPool.Exec(
		ctx,
		`
		INSERT INTO workflows (
			id,
			tenant_id,
			name,
			enabled,
			trigger,
			conditions,
			actions,
			next_run_at,
			created_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		`,
		definition.ID,
		definition.TenantID,
		definition.Name,
		definition.Enabled,
		trigger,
		conditions,
		actions,
		definition.NextRunAt,
		definition.CreatedAt,
	)

	return err
}

func (s *Store) GetWorkflow(ctx context.Context, id uuid.UUID) (*workflow.Workflow, error) {
	row := s.connectionPool.QueryRow(
		ctx,
		`SELECT `+workflowColumns+` FROM workflows WHERE id = $1`,
		id,
	)

	definition, err := scanWorkflow(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %w", ErrNotFound, workflow.ErrWorkflowNotFound)
	}

	return definition, err
}

func (s *Store) ListWorkflows(ctx context.Context, tenantID uuid.UUID) ([]workflow.Workflow, error) {
	rows, err := s.connectionPool.Query(
		ctx,
		`SELECT `+workflowColumns+` FROM workflows WHERE tenant_id = $1 ORDER BY created_at`,
		tenantID,
	)
	if err != nil {
		return nil, err
	}

	return collectWorkflows(rows)
}

// SetWorkflowEnabled toggles a tenant's workflow.
func (s *Store) SetWorkflowEnabled(ctx context.Context, tenantID, id uuid.UUID, enabled bool) error {
	commandTag, err := s.connectionPool.Exec(
		ctx,
		`UPDATE workflows SET enabled = $3 WHERE id = $1 AND tenant_id = $2`,
		id,
		tenantID,
		enabled,
	)
	if err != nil {
		return err
	}

	if commandTag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %w", ErrNotFound, workflow.ErrWorkflowNotFound)
	}

	return nil
}

func (s *Store) DeleteWorkflow(ctx context.Context, tenantID, id uuid.UUID) error {
	commandTag, err := s.connectionPool.Exec(
		ctx,
		`DELETE FROM workflows WHERE id = $1 AND tenant_id = $2`,
		id,
		tenantID,
	)
	if err != nil {
		return err
	}

	if commandTag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %w", ErrNotFound, workflow.ErrWorkflowNotFound)
	}

	return nil
}

func (s *Store) ListEventWorkflows(ctx context.Context, tenantID uuid.UUID, event string) ([]workflow.Workflow, error) {
	rows, err := s.connectionPool.Query(
		ctx,
		`
		SELECT `+workflowColumns+`
		FROM workflows
		WHERE tenant_id = $1
			AND enabled
			AND trigger->>'type' = 'event'
			AND trigger->>'event' = $2
		ORDER BY created_at
		`,
		tenantID,
		event,
	)
	if err != nil {
		return nil, err
	}

	return collectWorkflows(rows)
}

// ClaimDueScheduledWorkflows advances each due schedule by its interval in
// the same statement that selects it. SKIP LOCKED lets several schedulers
// sweep at once without double-firing a workflow.
func (s *Store) ClaimDueScheduledWorkflows(ctx context.Context, now time.Time, limit int) ([]workflow.Workflow, error) {
	rows, err := s.connectionPool.Query(
		ctx,
		`
		WITH due AS (
			SELECT id
			FROM workflows
			WHERE enabled
				AND trigger->>'type' = 'schedule'
				AND next_run_at IS NOT NULL
				AND next_run_at <= $1
			ORDER BY next_run_at
			FOR UPDATE SKIP LOCKED
			LIMIT $2
		)
		UPDATE workflows w
		SET next_run_at = $1 + make_interval(secs => (w.trigger->>'interval_seconds')::int)
		FROM due
		WHERE w.id = due.id
		RETURNING
			w.id,
			w.tenant_id,
			w.name,
			w.enabled,
			w.trigger,
			w.conditions,
			w.actions,
			w.execution_count,
			w.last_execution_status,
			w.last_executed_at,
			w.next_run_at,
			w.created_at
		`,
		now,
		limit,
	)
	if err != nil {
		return nil, err
	}

	return collectWorkflows(rows)
}

const executionColumns = `
	id,
	workflow_id,
	triggered_by,
	trigger_data,
	status,
	logs,
	result,
	error,
	started_at,
	completed_at,
	duration_ms
`

func (s *Store) GetExecution(ctx context.Context, id uuid.UUID) (*workflow.Execution, error) {
	row := s.connectionPool.QueryRow(
		ctx,
		`SELECT `+executionColumns+` FROM workflow_executions WHERE id = $1`,
		id,
	)

	execution, err := scanExecution(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %w", ErrNotFound, workflow.ErrExecutionNotFound)
	}

	return execution, err
}

func (s *Store) CreateExecution(ctx context.Context, execution *workflow.Execution) error {
	triggerData, err := json.Marshal(nonNilMap(execution.TriggerData))
	if err != nil {
		return fmt.Errorf("encode trigger data: %w", err)
	}
	logs, err := json.Marshal(nonNil(execution.Logs))
	if err != nil {
		return fmt.Errorf("encode logs: %w", err)
	}

	_, err = s.connectionPool.Exec(
		ctx,
		`
		INSERT INTO workflow_executions (
			id,
			workflow_id,
			triggered_by,
			trigger_data,
			status,
			logs,
			started_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		`,
		execution.ID,
		execution.WorkflowID,
		execution.TriggeredBy,
		triggerData,
		execution.Status,
		logs,
		execution.StartedAt,
	)

	return err
}

// FinishExecution closes a running execution and bumps the workflow's
// aggregates in one transaction.
func (s *Store) FinishExecution(ctx context.Context, execution *workflow.Execution) error {
	if err := validateRecordTransition(
		allowedExecutionTransitions,
		"execution",
		string(workflow.StatusRunning),
		string(execution.Status),
	); err != nil {
		return err
	}

	logs, err := json.Marshal(nonNil(execution.Logs))
	if err != nil {
		return fmt.Errorf("encode logs: %w", err)
	}

	var result []byte
	if execution.Result != nil {
		if result, err = json.Marshal(execution.Result); err != nil {
			return fmt.Errorf("encode result: %w", err)
		}
	}

	return s.WithTransaction(ctx, func(tx pgx.Tx) error {
		commandTag, err := tx.Exec(
			ctx,
			`
			UPDATE workflow_executions
			SET status = $3,
				logs = $4,
				result = $5,
				error = $6,
				completed_at = $7,
				duration_ms = $8
			WHERE id = $1
				AND status = $2
			`,
			execution.ID,
			workflow.StatusRunning,
			execution.Status,
			logs,
			result,
			nullString(execution.Error),
			execution.CompletedAt,
			execution.DurationMs,
		)
		if err != nil {
			return err
		}

		if commandTag.RowsAffected() != 1 {
			return ErrInvalidStateTransition
		}

		_, err = tx.Exec(
			ctx,
			`
			UPDATE workflows
			SET execution_count = execution_count + 1,
				last_execution_status = $2,
				last_executed_at = $3
			WHERE id = $1
			`,
			execution.WorkflowID,
			execution.Status,
			execution.CompletedAt,
		)
		return err
	})
}

// ListExecutions returns the most recent executions of a workflow first.
func (s *Store) ListExecutions(ctx context.Context, workflowID uuid.UUID, limit int) ([]workflow.Execution, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := s.connectionPool.Query(
		ctx,
		`SELECT `+executionColumns+`
		FROM workflow_executions
		WHERE workflow_id = $1
		ORDER BY started_at DESC
		LIMIT $2`,
		workflowID,
		limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var executions []workflow.Execution
	for rows.Next() {
		execution, err := scanExecution(rows)
		if err != nil {
			return nil, err
		}
		executions = append(executions, *execution)
	}

	return executions, rows.Err()
}

func scanExecution(row pgx.Row) (*workflow.Execution, error) {
	var (
		execution   workflow.Execution
		triggerData []byte
		logs        []byte
		result      []byte
		errorText   *string
	)

	if err := row.Scan(
		&execution.ID,
		&execution.WorkflowID,
		&execution.TriggeredBy,
		&triggerData,
		&execution.Status,
		&logs,
		&result,
		&errorText,
		&execution.StartedAt,
		&execution.CompletedAt,
		&execution.DurationMs,
	); err != nil {
		return nil, err
	}

	if err := json.Unmarshal(triggerData, &execution.TriggerData); err != nil {
		return nil, fmt.Errorf("decode trigger data: %w", err)
	}
	if err := json.Unmarshal(logs, &execution.Logs); err != nil {
		return nil, fmt.Errorf("decode logs: %w", err)
	}
	if len(result) > 0 {
		execution.Result = &workflow.Result{}
		if err := json.Unmarshal(result, execution.Result); err != nil {
			return nil, fmt.Errorf("decode result: %w", err)
		}
	}
	if errorText != nil {
		execution.Error = *errorText
	}

	return &execution, nil
}

func collectWorkflows(rows pgx.Rows) ([]workflow.Workflow, error) {
	defer rows.Close()

	var workflows []workflow.Workflow
	for rows.Next() {
		definition, err := scanWorkflow(rows)
		if err != nil {
			return nil, err
		}
		workflows = append(workflows, *definition)
	}

	return workflows, rows.Err()
}

func scanWorkflow(row pgx.Row) (*workflow.Workflow, error) {
	var (
		definition workflow.Workflow
		trigger    []byte
		conditions []byte
		actions    []byte
		lastStatus *string
	)

	if err := row.Scan(
		&definition.ID,
		&definition.TenantID,
		&definition.Name,
		&definition.Enabled,
		&trigger,
		&conditions,
		&actions,
		&definition.ExecutionCount,
		&lastStatus,
		&definition.LastExecutedAt,
		&definition.NextRunAt,
		&definition.CreatedAt,
	); err != nil {
		return nil, err
	}

	if err := json.Unmarshal(trigger, &definition.Trigger); err != nil {
		return nil, fmt.Errorf("decode trigger: %w", err)
	}
	if err := json.Unmarshal(conditions, &definition.Conditions); err != nil {
		return nil, fmt.Errorf("decode conditions: %w", err)
	}
	if err := json.Unmarshal(actions, &definition.Actions); err != nil {
		return nil, fmt.Errorf("decode actions: %w", err)
	}
	if lastStatus != nil {
		status := workflow.Status(*lastStatus)
		definition.LastExecutionStatus = &status
	}

	return &definition, nil
}

func nonNil[T any](items []T) []T {
	if items == nil {
		return []T{}
	}
	return items
}

func nonNilMap(data map[string]any) map[string]any {
	if data == nil {
		return map[string]any{}
	}
	return data
}

func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

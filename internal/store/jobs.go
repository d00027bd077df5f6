package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/vin-jex/relay-gateway/internal/observability"
	"github.com/vin-jex/relay-gateway/internal/queue"
)

const jobColumns = `
	id,
	queue,
	payload,
	status,
	attempt,
	max_attempts,
	last_error,
	enqueued_at,
	next_run_at,
	completed_at,
	lease_expires_at,
	claim_token
`

// JobQueue is the durable queue.Queue for one named queue.
type JobQueue struct {
	store  *Store
	policy queue.Policy
}

var _ queue.Queue = (*JobQueue)(nil)

func (s *Store) Queue(policy queue.Policy) *JobQueue {
	return &JobQueue{store: s, policy: policy}
}

func (q *JobQueue) Name() string {
	return q.policy.Name
}

func (q *JobQueue) Policy() queue.Policy {
	return q.policy
}

// Enqueue inserts a waiting job. A bounded queue counts its waiting jobs
// under a per-queue advisory lock so concurrent producers cannot overshoot
// MaxWaiting.
func (q *JobQueue) Enqueue(
	ctx context.Context,
	payload any,
	options queue.EnqueueOptions,
) (uuid.UUID, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return uuid.Nil, fmt.Errorf("encode payload: %w", err)
	}

	maxAttempts := q.policy.MaxAttempts
	if options.MaxAttempts > 0 {
		maxAttempts = options.MaxAttempts
	}

	jobID := uuid.New()
	now := q.store.now()

	err = q.store.WithTransaction(ctx, func(tx pgx.Tx) error {
		if q.policy.MaxWaiting > 0 {
			if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, q.policy.Name); err != nil {
				return err
			}

			var waiting int
			if err := tx.QueryRow(
				ctx,
				`SELECT count(*) FROM jobs WHERE queue = $1 AND status = 'waiting'`,
				q.policy.Name,
			).Scan(&waiting); err != nil {
				return err
			}

			if waiting >= q.policy.MaxWaiting {
				return queue.ErrQueueFull
			}
		}

		_, err := tx.Exec(
			ctx,
			`
			INSERT INTO jobs (
				id,
				queue,
				payload,
				status,
				attempt,
				max_attempts,
				enqueued_at,
				next_run_at
			)
			VALUES ($1, $2, $3, 'waiting', 1, $4, $5, $6)
			`,
			jobID,
			q.policy.Name,
			raw,
			maxAttempts,
			now,
			now.Add(options.Delay),
		)
		return err
	})

	if errors.Is(err, queue.ErrQueueFull) {
		observability.JobsEnqueued.WithLabelValues(q.policy.Name, "rejected").Inc()
		return uuid.Nil, err
	}
	if err != nil {
		return uuid.Nil, err
	}

	observability.JobsEnqueued.WithLabelValues(q.policy.Name, "accepted").Inc()

	return jobID, nil
}

func (q *JobQueue) Get(ctx context.Context, jobID uuid.UUID) (*queue.Job, error) {
	row := q.store.connectionPool.QueryRow(
		ctx,
		`SELECT `+jobColumns+` FROM jobs WHERE id = $1 AND queue = $2`,
		jobID,
		q.policy.Name,
	)

	job, err := scanJob(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %w", ErrNotFound, queue.ErrJobNotFound)
	}

	return job, err
}

// List returns up to limit jobs in the given status, oldest first. An empty
// status lists every job.
func (q *JobQueue) List(ctx context.Context, status queue.Status, limit int) ([]queue.Job, error) {
	if limit <= 0 {
		limit = 100
	}

	rows, err := q.store.connectionPool.Query(
		ctx,
		`
		SELECT `+jobColumns+`
		FROM jobs
		WHERE queue = $1
			AND ($2 = '' OR status = $2)
		ORDER BY enqueued_at
		LIMIT $3
		`,
		q.policy.Name,
		string(status),
		limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []queue.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, *job)
	}

	return jobs, rows.Err()
}

// Retry resubmits a dead or failed job with a fresh attempt budget.
func (q *JobQueue) Retry(ctx context.Context, jobID uuid.UUID) error {
	return q.store.WithTransaction(ctx, func(tx pgx.Tx) error {
		var status queue.Status
		err := tx.QueryRow(
			ctx,
			`SELECT status FROM jobs WHERE id = $1 AND queue = $2 FOR UPDATE`,
			jobID,
			q.policy.Name,
		).Scan(&status)
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("%w: %w", ErrNotFound, queue.ErrJobNotFound)
		}
		if err != nil {
			return err
		}

		if status != queue.StatusDead && status != queue.StatusFailed {
			return queue.ErrNotRetryable
		}

		now := q.store.now()
		return transitionJob(ctx, tx, jobID, status, nil, jobState{
			Status:    queue.StatusWaiting,
			Attempt:   1,
			NextRunAt: &now,
		})
	})
}

func (q *JobQueue) Stats(ctx context.Context) (queue.Stats, error) {
	rows, err := q.store.connectionPool.Query(
		ctx,
		`SELECT status, count(*) FROM jobs WHERE queue = $1 GROUP BY status`,
		q.policy.Name,
	)
	if err != nil {
		return queue.Stats{}, err
	}
	defer rows.Close()

	var stats queue.Stats
	for rows.Next() {
		var (
			status queue.Status
			count  int
		)
		if err := rows.Scan(&status, &count); err != nil {
			return queue.Stats{}, err
		}

		switch status {
		case queue.StatusWaiting:
			stats.Waiting = count
		case queue.StatusActive:
			stats.Active = count
		case queue.StatusCompleted:
			stats.Completed = count
		case queue.StatusFailed:
			stats.Failed = count
		case queue.StatusDead:
			stats.Dead = count
		}
	}

	return stats, rows.Err()
}

// jobState is the full set of mutable job columns written by a transition.
type jobState struct {
	Status         queue.Status
	Attempt        int
	LastError      *string
	NextRunAt      *time.Time
	CompletedAt    *time.Time
	LeaseExpiresAt *time.Time
	ClaimToken     *uuid.UUID
}

// transitionJob moves a job out of previousStatus. When fence is set the
// row must still carry that claim token. NextRunAt and LastError keep their
// stored values when nil.
func transitionJob(
	ctx context.Context,
	db querier,
	jobID uuid.UUID,
	previousStatus queue.Status,
	fence *uuid.UUID,
	next jobState,
) error {
	if err := ValidateJobTransition(previousStatus, next.Status); err != nil {
		return err
	}

	commandTag, err := db.Exec(
		ctx,
		`
			UPDATE jobs
			SET status = $3,
				attempt = $4,
				last_error = COALESCE($5, last_error),
				next_run_at = COALESCE($6, next_run_at),
				completed_at = $7,
				lease_expires_at = $8,
				claim_token = $9,
				updated_at = now()
			WHERE id = $1
				AND status = $2
				AND ($10::uuid IS NULL OR claim_token = $10)
		`,
		jobID,
		previousStatus,
		next.Status,
		next.Attempt,
		next.LastError,
		next.NextRunAt,
		next.CompletedAt,
		next.LeaseExpiresAt,
		next.ClaimToken,
		fence,
	)
	if err != nil {
		return err
	}

	if commandTag.RowsAffected() != 1 {
		return ErrInvalidStateTransition
	}

	return nil
}

func scanJob(row pgx.Row) (*queue.Job, error) {
	var (
		job        queue.Job
		payload    []byte
		lastError  *string
		claimToken *uuid.UUID
	)

	err := row.Scan(
		&job.ID,
		&job.Queue,
		&payload,
		&job.Status,
		&job.Attempt,
		&job.MaxAttempts,
		&lastError,
		&job.EnqueuedAt,
		&job.NextRunAt,
		&job.CompletedAt,
		&job.LeaseExpiresAt,
		&claimToken,
	)
	if err != nil {
		return nil, err
	}

	job.Payload = payload
	if lastError != nil {
		job.LastError = *lastError
	}
	if claimToken != nil {
		job.ClaimToken = *claimToken
	}

	return &job, nil
}

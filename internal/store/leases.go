package store

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/vin-jex/relay-gateway/internal/observability"
	"github.com/vin-jex/relay-gateway/internal/queue"
)

// recoverBatch bounds how many stalled jobs one sweep rewrites.
const recoverBatch = 500

// ClaimNext claims the due waiting job with the earliest run time. SKIP
// LOCKED keeps concurrent consumers from blocking on, or sharing, a row.
func (q *JobQueue) ClaimNext(ctx context.Context) (*queue.Job, error) {
	if err := ValidateJobTransition(queue.StatusWaiting, queue.StatusActive); err != nil {
		return nil, err
	}

	now := q.store.now()
	claimToken := uuid.New()
	leaseExpiresAt := now.Add(q.policy.StallTimeout)

	row := q.store.connectionPool.QueryRow(
		ctx,
		`
		WITH next AS (
			SELECT id
			FROM jobs
			WHERE queue = $1
				AND status = 'waiting'
				AND next_run_at <= $2
			ORDER BY next_run_at, enqueued_at
			FOR UPDATE SKIP LOCKED
			LIMIT 1
		)
		UPDATE jobs j
		SET status = 'active',
			claim_token = $3,
			lease_expires_at = $4,
			updated_at = now()
		FROM next
		WHERE j.id = next.id
		RETURNING
			j.id,
			j.queue,
			j.payload,
			j.status,
			j.attempt,
			j.max_attempts,
			j.last_error,
			j.enqueued_at,
			j.next_run_at,
			j.completed_at,
			j.lease_expires_at,
			j.claim_token
		`,
		q.policy.Name,
		now,
		claimToken,
		leaseExpiresAt,
	)

	job, err := scanJob(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}

	return job, err
}

func (q *JobQueue) ExtendLease(ctx context.Context, job *queue.Job) error {
	leaseExpiresAt := q.store.now().Add(q.policy.StallTimeout)

	commandTag, err := q.store.connectionPool.Exec(
		ctx,
		`
		UPDATE jobs
		SET lease_expires_at = $3,
			updated_at = now()
		WHERE id = $1
			AND status = 'active'
			AND claim_token = $2
		`,
		job.ID,
		job.ClaimToken,
		leaseExpiresAt,
	)
	if err != nil {
		return err
	}

	if commandTag.RowsAffected() != 1 {
		return queue.ErrLeaseLost
	}

	job.LeaseExpiresAt = &leaseExpiresAt

	return nil
}

func (q *JobQueue) ReportSuccess(ctx context.Context, job *queue.Job) error {
	now := q.store.now()

	err := transitionJob(ctx, q.store.connectionPool, job.ID, queue.StatusActive, &job.ClaimToken, jobState{
		Status:      queue.StatusCompleted,
		Attempt:     job.Attempt,
		CompletedAt: &now,
	})

	return fenced(err)
}

func (q *JobQueue) ReportFailure(ctx context.Context, job *queue.Job, cause error) (queue.Status, error) {
	next := q.failedState(job.Attempt, job.MaxAttempts, cause)

	err := transitionJob(ctx, q.store.connectionPool, job.ID, queue.StatusActive, &job.ClaimToken, next)
	if err != nil {
		return "", fenced(err)
	}

	return next.Status, nil
}

// RecoverStalled treats every active job whose lease has expired as a
// failed attempt.
func (q *JobQueue) RecoverStalled(ctx context.Context) ([]queue.Job, error) {
	var recovered []queue.Job

	err := q.store.WithTransaction(ctx, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx, `
			SELECT id, payload, attempt, max_attempts, enqueued_at
			FROM jobs
			WHERE queue = $1
				AND status = 'active'
				AND lease_expires_at < $2
			FOR UPDATE SKIP LOCKED
			LIMIT $3
		`, q.policy.Name, q.store.now(), recoverBatch)
		if err != nil {
			return err
		}

		var stalled []queue.Job
		for rows.Next() {
			var payload []byte
			job := queue.Job{Queue: q.policy.Name, Status: queue.StatusActive}
			if err := rows.Scan(&job.ID, &payload, &job.Attempt, &job.MaxAttempts, &job.EnqueuedAt); err != nil {
				rows.Close()
				return err
			}
			job.Payload = payload
			stalled = append(stalled, job)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return err
		}

		for _, job := range stalled {
			next := q.failedState(job.Attempt, job.MaxAttempts, queue.ErrLeaseExpired)
			if err := transitionJob(ctx, tx, job.ID, queue.StatusActive, nil, next); err != nil {
				return err
			}

			job.Status = next.Status
			job.Attempt = next.Attempt
			job.LastError = *next.LastError
			job.NextRunAt = *next.NextRunAt
			job.CompletedAt = next.CompletedAt
			recovered = append(recovered, job)
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	if len(recovered) > 0 {
		observability.StalledJobsRecovered.WithLabelValues(q.policy.Name).Add(float64(len(recovered)))
	}

	return recovered, nil
}

func (q *JobQueue) failedState(attempt, maxAttempts int, cause error) jobState {
	now := q.store.now()
	status, nextAttempt, nextRunAt := queue.NextState(q.policy, attempt, maxAttempts, cause, now)
	lastError := cause.Error()

	next := jobState{
		Status:    status,
		Attempt:   nextAttempt,
		LastError: &lastError,
		NextRunAt: &nextRunAt,
	}
	if status.Terminal() {
		next.CompletedAt = &now
	}

	return next
}

// fenced reports a failed fenced transition as a lost lease.
func fenced(err error) error {
	if errors.Is(err, ErrInvalidStateTransition) {
		return queue.ErrLeaseLost
	}
	return err
}


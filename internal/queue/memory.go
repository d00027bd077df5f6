package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vin-jex/relay-gateway/internal/observability"
)

// MemoryQueue is a single-process Queue used by QUEUE_BACKEND=memory and by
// tests. The clock is injectable so backoff and stall recovery can be
// driven without sleeping.
type MemoryQueue struct {
	mu     sync.Mutex
	policy Policy
	now    func() time.Time
	jobs   map[uuid.UUID]*Job
	order  []uuid.UUID
}

func NewMemoryQueue(policy Policy, now func() time.Time) *MemoryQueue {
	if now == nil {
		now = time.Now
	}

	return &MemoryQueue{
		policy: policy,
		now:    now,
		jobs:   make(map[uuid.UUID]*Job),
	}
}

func (q *MemoryQueue) Name() string {
	return q.policy.Name
}

func (q *MemoryQueue) Policy() Policy {
	return q.policy
}

func (q *MemoryQueue) Enqueue(
	ctx context.Context,
	payload any,
	options EnqueueOptions,
) (uuid.UUID, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return uuid.Nil, fmt.Errorf("encode payload: %w", err)
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if q.policy.MaxWaiting > 0 && q.countLocked(StatusWaiting) >= q.policy.MaxWaiting {
		observability.JobsEnqueued.WithLabelValues(q.policy.Name, "rejected").Inc()
		return uuid.Nil, ErrQueueFull
	}

	maxAttempts := q.policy.MaxAttempts
	if options.MaxAttempts > 0 {
		maxAttempts = options.MaxAttempts
	}

	now := q.now()
	job := &Job{
		ID:          uuid.New(),
		Queue:       q.policy.Name,
		Payload:     raw,
		Status:      StatusWaiting,
		Attempt:     1,
		MaxAttempts: maxAttempts,
		EnqueuedAt:  now,
		NextRunAt:   now.Add(options.Delay),
	}

	q.jobs[job.ID] = job
	q.order = append(q.order, job.ID)

	observability.JobsEnqueued.WithLabelValues(q.policy.Name, "accepted").Inc()

	return job.ID, nil
}

// ClaimNext returns the due waiting job with the earliest run time, or nil
// when none is due.
func (q *MemoryQueue) ClaimNext(ctx context.Context) (*Job, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := q.now()

	var next *Job
	for _, id := range q.order {
		job := q.jobs[id]
		if job.Status != StatusWaiting || job.NextRunAt.After(now) {
			continue
		}
		if next == nil || job.NextRunAt.Before(next.NextRunAt) {
			next = job
		}
	}

	if next == nil {
		return nil, nil
	}

	leaseExpiresAt := now.Add(q.policy.StallTimeout)
	next.Status = StatusActive
	next.ClaimToken = uuid.New()
	next.LeaseExpiresAt = &leaseExpiresAt

	claimed := *next
	return &claimed, nil
}

func (q *MemoryQueue) ExtendLease(ctx context.Context, job *Job) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	current, err := q.heldLocked(job)
	if err != nil {
		return err
	}

	leaseExpiresAt := q.now().Add(q.policy.StallTimeout)
	current.LeaseExpiresAt = &leaseExpiresAt

	return nil
}

func (q *MemoryQueue) ReportSuccess(ctx context.Context, job *Job) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	current, err := q.heldLocked(job)
	if err != nil {
		return err
	}

	now := q.now()
	current.Status = StatusCompleted
	current.CompletedAt = &now
	current.LeaseExpiresAt = nil
	current.ClaimToken = uuid.Nil

	return nil
}

func (q *MemoryQueue) ReportFailure(ctx context.Context, job *Job, cause error) (Status, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	current, err := q.heldLocked(job)
	if err != nil {
		return "", err
	}

	q.failLocked(current, cause)

	return current.Status, nil
}

// RecoverStalled treats every active job whose lease has expired as a
// failed attempt.
func (q *MemoryQueue) RecoverStalled(ctx context.Context) ([]Job, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := q.now()

	var recovered []Job
	for _, id := range q.order {
		job := q.jobs[id]
		if job.Status != StatusActive || job.LeaseExpiresAt == nil || job.LeaseExpiresAt.After(now) {
			continue
		}

		q.failLocked(job, ErrLeaseExpired)
		recovered = append(recovered, *job)
	}

	if len(recovered) > 0 {
		observability.StalledJobsRecovered.WithLabelValues(q.policy.Name).Add(float64(len(recovered)))
	}

	return recovered, nil
}

func (q *MemoryQueue) Get(ctx context.Context, jobID uuid.UUID) (*Job, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	job, ok := q.jobs[jobID]
	if !ok {
		return nil, ErrJobNotFound
	}

	copied := *job
	return &copied, nil
}

// List returns up to limit jobs in the given status, oldest first. An empty
// status lists every job.
func (q *MemoryQueue) List(ctx context.Context, status Status, limit int) ([]Job, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	var jobs []Job
	for _, id := range q.order {
		job := q.jobs[id]
		if status != "" && job.Status != status {
			continue
		}
		jobs = append(jobs, *job)
	}

	sort.SliceStable(jobs, func(i, j int) bool {
		return jobs[i].EnqueuedAt.Before(jobs[j].EnqueuedAt)
	})

	if limit > 0 && len(jobs) > limit {
		jobs = jobs[:limit]
	}

	return jobs, nil
}

// Retry resubmits a dead or failed job with a fresh attempt budget.
func (q *MemoryQueue) Retry(ctx context.Context, jobID uuid.UUID) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	job, ok := q.jobs[jobID]
	if !ok {
		return ErrJobNotFound
	}
	if job.Status != StatusDead && job.Status != StatusFailed {
		return ErrNotRetryable
	}

	job.Status = StatusWaiting
	job.Attempt = 1
	job.NextRunAt = q.now()
	job.CompletedAt = nil

	return nil
}

func (q *MemoryQueue) Stats(ctx context.Context) (Stats, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	return Stats{
		Waiting:   q.countLocked(StatusWaiting),
		Active:    q.countLocked(StatusActive),
		Completed: q.countLocked(StatusCompleted),
		Failed:    q.countLocked(StatusFailed),
		Dead:      q.countLocked(StatusDead),
	}, nil
}

func (q *MemoryQueue) heldLocked(job *Job) (*Job, error) {
	current, ok := q.jobs[job.ID]
	if !ok {
		return nil, ErrJobNotFound
	}

	if current.Status != StatusActive || current.ClaimToken != job.ClaimToken {
		return nil, ErrLeaseLost
	}

	return current, nil
}

func (q *MemoryQueue) failLocked(job *Job, cause error) {
	now := q.now()
	status, attempt, nextRunAt := NextState(q.policy, job.Attempt, job.MaxAttempts, cause, now)

	job.Status = status
	job.Attempt = attempt
	job.NextRunAt = nextRunAt
	job.LastError = cause.Error()
	job.LeaseExpiresAt = nil
	job.ClaimToken = uuid.Nil

	if status.Terminal() {
		job.CompletedAt = &now
	}
}

func (q *MemoryQueue) countLocked(status Status) int {
	count := 0
	for _, job := range q.jobs {
		if job.Status == status {
			count++
		}
	}
	return count
}

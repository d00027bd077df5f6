// Package queue defines the job queue contract shared by the workflow,
// webhook and proof consumers, their retry policies, and an in-memory
// backend.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

type Status string

const (
	StatusWaiting   Status = "waiting"
	StatusActive    Status = "active"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusDead      Status = "dead"
)

func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusDead
}

func ParseStatus(raw string) (Status, error) {
	switch status := Status(raw); status {
	case StatusWaiting, StatusActive, StatusCompleted, StatusFailed, StatusDead:
		return status, nil
	}

	return "", fmt.Errorf("unknown job status %q", raw)
}

var (
	ErrQueueFull    = errors.New("queue is full")
	ErrLeaseLost    = errors.New("job lease lost")
	ErrJobNotFound  = errors.New("job not found")
	ErrNotRetryable = errors.New("job is not in a terminal failure state")
	ErrLeaseExpired = errors.New("job lease expired before the consumer reported")
	ErrUnknownQueue = errors.New("unknown queue")
)

// Job is one unit of queued work. Attempt is 1-based: a freshly enqueued
// job is on attempt 1.
type Job struct {
	ID          uuid.UUID       `json:"id"`
	Queue       string          `json:"queue"`
	Payload     json.RawMessage `json:"payload"`
	Status      Status          `json:"status"`
	Attempt     int             `json:"attempt"`
	MaxAttempts int             `json:"max_attempts"`
	LastError   string          `json:"last_error,omitempty"`
	EnqueuedAt  time.Time       `json:"enqueued_at"`
	NextRunAt   time.Time       `json:"next_run_at"`
	CompletedAt *time.Time      `json:"completed_at,omitempty"`

	LeaseExpiresAt *time.Time `json:"lease_expires_at,omitempty"`
	// ClaimToken identifies the current claim. Reports carrying an older
	// token are rejected with ErrLeaseLost.
	ClaimToken uuid.UUID `json:"-"`
}

func (j *Job) Decode(v any) error {
	return json.Unmarshal(j.Payload, v)
}

// FinalAttempt reports whether a failure of the current attempt would
// exhaust the job's retries.
func (j *Job) FinalAttempt() bool {
	return j.Attempt >= j.MaxAttempts
}

type EnqueueOptions struct {
	// MaxAttempts overrides the queue policy when positive.
	MaxAttempts int
	Delay       time.Duration
}

type Stats struct {
	Waiting   int `json:"waiting"`
	Active    int `json:"active"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
	Dead      int `json:"dead"`
}

// Queue is implemented by the in-memory backend and the PostgreSQL store.
// A job is claimed by at most one consumer at a time; only the holder of
// the current claim token may report its outcome.
type Queue interface {
	Name() string
	Policy() Policy

	Enqueue(ctx context.Context, payload any, options EnqueueOptions) (uuid.UUID, error)
	ClaimNext(ctx context.Context) (*Job, error)
	ExtendLease(ctx context.Context, job *Job) error
	ReportSuccess(ctx context.Context, job *Job) error
	ReportFailure(ctx context.Context, job *Job, cause error) (Status, error)
	// RecoverStalled returns the jobs it recovered in their new state.
	RecoverStalled(ctx context.Context) ([]Job, error)

	Get(ctx context.Context, jobID uuid.UUID) (*Job, error)
	List(ctx context.Context, status Status, limit int) ([]Job, error)
	Retry(ctx context.Context, jobID uuid.UUID) error
	Stats(ctx context.Context) (Stats, error)
}

// DeadLetterFunc settles the domain record behind a job that stall
// recovery moved to dead, since no handler will run for it again.
type DeadLetterFunc func(ctx context.Context, job *Job) error

// FatalError marks a handler error that must not be retried.
type FatalError struct {
	Err error
}

func (e *FatalError) Error() string {
	return "fatal: " + e.Err.Error()
}

func (e *FatalError) Unwrap() error {
	return e.Err
}

func Fatal(err error) error {
	if err == nil {
		return nil
	}
	return &FatalError{Err: err}
}

func IsFatal(err error) bool {
	var fatal *FatalError
	return errors.As(err, &fatal)
}

// NextState decides what a failed attempt turns into. It is shared by both
// backends so retry bookkeeping cannot drift between them.
func NextState(policy Policy, attempt, maxAttempts int, cause error, now time.Time) (Status, int, time.Time) {
	if IsFatal(cause) {
		return StatusFailed, attempt, now
	}

	if attempt < maxAttempts {
		return StatusWaiting, attempt + 1, now.Add(policy.Backoff(attempt))
	}

	return StatusDead, attempt, now
}

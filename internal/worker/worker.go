// Package worker runs the consumer loop for one queue: claim, run the
// handler under the queue's job timeout while extending the lease, then
// report the outcome back to the queue.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vin-jex/relay-gateway/internal/observability"
	"github.com/vin-jex/relay-gateway/internal/queue"
)

// Handler processes one claimed job. Returning an error reports a failed
// attempt; wrap it with queue.Fatal to skip the remaining retries.
type Handler func(ctx context.Context, job *queue.Job) error

// Typed decodes the job payload into T before calling fn. A payload that
// does not decode is a fatal error.
func Typed[T any](fn func(ctx context.Context, job *queue.Job, payload T) error) Handler {
	return func(ctx context.Context, job *queue.Job) error {
		var payload T
		if err := job.Decode(&payload); err != nil {
			return queue.Fatal(fmt.Errorf("decode %s payload: %w", job.Queue, err))
		}
		return fn(ctx, job, payload)
	}
}

// Registry records live consumers. The PostgreSQL store implements it; the
// in-memory deployment runs without one.
type Registry interface {
	RegisterWorker(ctx context.Context, workerID uuid.UUID, queueName string, capacity int) error
	HeartbeatWorker(ctx context.Context, workerID uuid.UUID) error
	DeregisterWorker(ctx context.Context, workerID uuid.UUID) error
}

type Options struct {
	Concurrency  int
	PollInterval time.Duration
	Registry     Registry
	Logger       *slog.Logger
}

type Worker struct {
	id       uuid.UUID
	queue    queue.Queue
	handler  Handler
	capacity int
	poll     time.Duration
	registry Registry
	logger   *slog.Logger

	inflight sync.WaitGroup
}

func New(q queue.Queue, handler Handler, options Options) *Worker {
	policy := q.Policy()

	if options.Concurrency <= 0 {
		options.Concurrency = policy.Concurrency
	}
	if options.Concurrency <= 0 {
		options.Concurrency = 1
	}
	if options.PollInterval <= 0 {
		options.PollInterval = 500 * time.Millisecond
	}
	if options.Logger == nil {
		options.Logger = slog.Default()
	}

	id := uuid.New()

	return &Worker{
		id:       id,
		queue:    q,
		handler:  handler,
		capacity: options.Concurrency,
		poll:     options.PollInterval,
		registry: options.Registry,
		logger:   options.Logger.With("worker_id", id, "queue", q.Name()),
	}
}

func (w *Worker) ID() uuid.UUID {
	return w.id
}

// Run consumes until ctx is cancelled, then waits for in-flight jobs.
func (w *Worker) Run(ctx context.Context) error {
	if w.registry != nil {
		if err := w.registry.RegisterWorker(ctx, w.id, w.queue.Name(), w.capacity); err != nil {
			return fmt.Errorf("register worker: %w", err)
		}
		defer func() {
			_ = w.registry.DeregisterWorker(context.WithoutCancel(ctx), w.id)
		}()

		go w.runHeartbeat(ctx)
	}

	w.logger.Info("worker started", "capacity", w.capacity)

	w.runExecutor(ctx)
	w.inflight.Wait()

	w.logger.Info("worker stopped")

	return nil
}

func (w *Worker) runHeartbeat(ctx context.Context) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := w.registry.HeartbeatWorker(ctx, w.id); err != nil {
				w.logger.Error("heartbeat failed", "err", err)
			}
		}
	}
}

func (w *Worker) runExecutor(ctx context.Context) {
	semaphore := make(chan struct{}, w.capacity)

	for {
		select {
		case <-ctx.Done():
			return
		case semaphore <- struct{}{}:
		}

		job, err := w.queue.ClaimNext(ctx)
		if err != nil || job == nil {
			<-semaphore

			if err != nil && ctx.Err() == nil {
				w.logger.Error("claim failed", "err", err)
			}

			if !sleep(ctx, w.poll) {
				return
			}
			continue
		}

		w.inflight.Add(1)
		go func() {
			defer w.inflight.Done()
			defer func() { <-semaphore }()

			w.process(ctx, job)
		}()
	}
}

// ProcessOne claims and runs at most one job synchronously. It reports
// whether a job was found.
func (w *Worker) ProcessOne(ctx context.Context) (bool, error) {
	job, err := w.queue.ClaimNext(ctx)
	if err != nil {
		return false, err
	}
	if job == nil {
		return false, nil
	}

	w.process(ctx, job)

	return true, nil
}

func (w *Worker) process(ctx context.Context, job *queue.Job) {
	policy := w.queue.Policy()
	logger := w.logger.With("job_id", job.ID, "attempt", job.Attempt, "max_attempts", job.MaxAttempts)

	var (
		jobCtx context.Context
		cancel context.CancelFunc
	)
	if policy.JobTimeout > 0 {
		jobCtx, cancel = context.WithTimeout(ctx, policy.JobTimeout)
	} else {
		jobCtx, cancel = context.WithCancel(ctx)
	}
	defer cancel()

	leaseStop := make(chan struct{})
	go w.extendLease(jobCtx, job, policy.StallTimeout, cancel, leaseStop, logger)

	started := time.Now()
	handlerErr := w.run(jobCtx, job)
	close(leaseStop)

	observability.JobDuration.WithLabelValues(job.Queue).Observe(time.Since(started).Seconds())

	reportCtx, reportCancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer reportCancel()

	if handlerErr == nil {
		if err := w.queue.ReportSuccess(reportCtx, job); err != nil {
			logger.Error("report success failed", "err", err)
			observability.JobsProcessed.WithLabelValues(job.Queue, "lease_lost").Inc()
			return
		}

		observability.JobsProcessed.WithLabelValues(job.Queue, string(queue.StatusCompleted)).Inc()
		logger.Info("job completed", "duration_ms", time.Since(started).Milliseconds())
		return
	}

	status, err := w.queue.ReportFailure(reportCtx, job, handlerErr)
	if err != nil {
		logger.Error("report failure failed", "handler_err", handlerErr, "err", err)
		observability.JobsProcessed.WithLabelValues(job.Queue, "lease_lost").Inc()
		return
	}

	observability.JobsProcessed.WithLabelValues(job.Queue, string(status)).Inc()

	if status == queue.StatusWaiting {
		logger.Warn("job attempt failed, retry scheduled", "err", handlerErr)
	} else {
		logger.Error("job failed permanently", "status", status, "err", handlerErr)
	}
}

func (w *Worker) run(ctx context.Context, job *queue.Job) (err error) {
	defer func() {
		if recovered := recover(); recovered != nil {
			err = fmt.Errorf("handler panic: %v", recovered)
		}
	}()

	return w.handler(ctx, job)
}

// extendLease refreshes the claim every stallTimeout/3. A fenced extension
// means another consumer owns the job now, so the handler is cancelled.
func (w *Worker) extendLease(
	ctx context.Context,
	job *queue.Job,
	stallTimeout time.Duration,
	cancel context.CancelFunc,
	stop <-chan struct{},
	logger *slog.Logger,
) {
	if stallTimeout <= 0 {
		return
	}

	ticker := time.NewTicker(stallTimeout / 3)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			err := w.queue.ExtendLease(ctx, job)
			if errors.Is(err, queue.ErrLeaseLost) {
				logger.Warn("lease extension fenced; cancelling handler")
				cancel()
				return
			}
			if err != nil {
				logger.Warn("lease extension failed", "err", err)
			}
		}
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

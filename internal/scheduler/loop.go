package scheduler

import (
	"context"
	"time"

	"github.com/vin-jex/relay-gateway/internal/queue"
)

func (s *Scheduler) Run(ctx context.Context) {
	scheduleTicker := time.NewTicker(s.options.ScheduleInterval)
	recoveryTicker := time.NewTicker(s.options.RecoveryInterval)
	defer scheduleTicker.Stop()
	defer recoveryTicker.Stop()

	s.logger.Info("scheduler started", "queues", len(s.queues))

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("scheduler stopped")
			return
		case <-scheduleTicker.C:
			s.ScheduleOnce(ctx)
		case <-recoveryTicker.C:
			s.RecoverOnce(ctx)
		}
	}
}

// RecoverOnce sweeps every queue for expired leases and returns how many
// jobs were recovered. Jobs that ran out of attempts are handed to the
// queue's dead-letter hook.
func (s *Scheduler) RecoverOnce(ctx context.Context) int {
	total := 0

	for _, q := range s.queues {
		recovered, err := q.RecoverStalled(ctx)
		if err != nil {
			if ctx.Err() == nil {
				s.logger.Error("stall recovery failed", "queue", q.Name(), "err", err)
			}
			continue
		}

		if len(recovered) > 0 {
			s.logger.Warn("recovered stalled jobs", "queue", q.Name(), "count", len(recovered))
		}
		total += len(recovered)

		s.deadLetter(ctx, q.Name(), recovered)
	}

	return total
}

func (s *Scheduler) deadLetter(ctx context.Context, queueName string, recovered []queue.Job) {
	hook := s.options.DeadLetters[queueName]

	for i := range recovered {
		job := &recovered[i]
		if job.Status != queue.StatusDead {
			continue
		}

		logger := s.logger.With("queue", queueName, "job_id", job.ID, "attempt", job.Attempt)
		if hook == nil {
			logger.Warn("stalled job is dead")
			continue
		}

		if err := hook(ctx, job); err != nil {
			logger.Error("dead letter handling failed", "err", err)
			continue
		}
		logger.Warn("stalled job is dead, record settled")
	}
}

// ScheduleOnce enqueues every schedule-triggered workflow that is due.
func (s *Scheduler) ScheduleOnce(ctx context.Context) int {
	if s.dispatcher == nil {
		return 0
	}

	queued, err := s.dispatcher.EnqueueDue(ctx, s.options.Now(), s.options.ScheduleBatch)
	if err != nil {
		if ctx.Err() == nil {
			s.logger.Error("schedule sweep failed", "err", err)
		}
	}

	if queued > 0 {
		s.logger.Info("scheduled workflows queued", "count", queued)
	}

	return queued
}

// Package scheduler runs the periodic sweeps: stalled-job recovery across
// every queue and the schedule trigger that enqueues due workflows.
package scheduler

import (
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/vin-jex/relay-gateway/internal/queue"
	"github.com/vin-jex/relay-gateway/internal/workflow"
)

const (
	defaultScheduleInterval = time.Second
	defaultRecoveryInterval = 2 * time.Second
	defaultScheduleBatch    = 100
)

type Options struct {
	ScheduleInterval time.Duration
	RecoveryInterval time.Duration
	ScheduleBatch    int
	// DeadLetters is keyed by queue name. It is called for every job stall
	// recovery moves to dead.
	DeadLetters map[string]queue.DeadLetterFunc
	Now         func() time.Time
	Logger      *slog.Logger
}

type Scheduler struct {
	id         uuid.UUID
	queues     []queue.Queue
	dispatcher *workflow.Dispatcher
	options    Options
	logger     *slog.Logger
}

// New builds a scheduler sweeping queues for stalled jobs. dispatcher may
// be nil, which disables the schedule trigger sweep.
func New(
	id uuid.UUID,
	queues []queue.Queue,
	dispatcher *workflow.Dispatcher,
	options Options,
) *Scheduler {
	if options.ScheduleInterval <= 0 {
		options.ScheduleInterval = defaultScheduleInterval
	}
	if options.RecoveryInterval <= 0 {
		options.RecoveryInterval = defaultRecoveryInterval
	}
	if options.ScheduleBatch <= 0 {
		options.ScheduleBatch = defaultScheduleBatch
	}
	if options.Now == nil {
		options.Now = time.Now
	}
	if options.Logger == nil {
		options.Logger = slog.Default()
	}

	return &Scheduler{
		id:         id,
		queues:     queues,
		dispatcher: dispatcher,
		options:    options,
		logger:     options.Logger.With("scheduler_id", id),
	}
}

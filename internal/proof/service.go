package proof

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/vin-jex/relay-gateway/internal/queue"
)

type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

type Job struct {
	ID            uuid.UUID       `json:"id"`
	TenantID      *uuid.UUID      `json:"tenant_id,omitempty"`
	CircuitID     string          `json:"circuit_id"`
	Inputs        map[string]any  `json:"-"`
	Status        Status          `json:"status"`
	Proof         json.RawMessage `json:"proof,omitempty"`
	PublicSignals []string        `json:"public_signals,omitempty"`
	Error         string          `json:"error,omitempty"`
	DurationMs    *int64          `json:"duration_ms,omitempty"`
	CallbackURL   string          `json:"callback_url,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
	CompletedAt   *time.Time      `json:"completed_at,omitempty"`
}

// Outcome is written when a proof attempt ends. Status pending means the
// attempt failed and the job will be retried.
type Outcome struct {
	Status        Status
	Proof         json.RawMessage
	PublicSignals []string
	Error         string
	DurationMs    int64
	CompletedAt   *time.Time
}

type Repository interface {
	CreateProofJob(ctx context.Context, job *Job) error
	DeleteProofJob(ctx context.Context, id uuid.UUID) error
	GetProofJob(ctx context.Context, id uuid.UUID) (*Job, error)
	// MarkProofProcessing moves pending to processing.
	MarkProofProcessing(ctx context.Context, id uuid.UUID) error
	// FinishProofAttempt moves processing to the outcome's status.
	FinishProofAttempt(ctx context.Context, id uuid.UUID, outcome Outcome) error
}

// JobPayload is what the proof queue carries.
type JobPayload struct {
	ProofID uuid.UUID `json:"proof_id"`
}

type Options struct {
	SyncTimeout time.Duration
	Now         func() time.Time
	Logger      *slog.Logger
}

type Service struct {
	prover      Prover
	repository  Repository
	queue       queue.Queue
	syncTimeout time.Duration
	now         func() time.Time
	logger      *slog.Logger
}

func NewService(prover Prover, repository Repository, q queue.Queue, options Options) *Service {
	if options.SyncTimeout <= 0 {
		options.SyncTimeout = 120 * time.Second
	}
	if options.Now == nil {
		options.Now = time.Now
	}
	if options.Logger == nil {
		options.Logger = slog.Default()
	}

	return &Service{
		prover:      prover,
		repository:  repository,
		queue:       q,
		syncTimeout: options.SyncTimeout,
		now:         options.Now,
		logger:      options.Logger,
	}
}

type SubmitRequest struct {
	TenantID    *uuid.UUID
	CircuitID   string
	Inputs      map[string]any
	CallbackURL string
}

// Submit records a pending proof job and queues it. A full proof queue
// rejects the request and leaves no record behind.
func (s *Service) Submit(ctx context.Context, request SubmitRequest) (*Job, error) {
	job := &Job{
		ID:          uuid.New(),
		TenantID:    request.TenantID,
		CircuitID:   request.CircuitID,
		Inputs:      request.Inputs,
		Status:      StatusPending,
		CallbackURL: request.CallbackURL,
		CreatedAt:   s.now(),
	}

	if err := s.repository.CreateProofJob(ctx, job); err != nil {
		return nil, fmt.Errorf("create proof job: %w", err)
	}

	if _, err := s.queue.Enqueue(ctx, JobPayload{ProofID: job.ID}, queue.EnqueueOptions{}); err != nil {
		if deleteErr := s.repository.DeleteProofJob(context.WithoutCancel(ctx), job.ID); deleteErr != nil {
			s.logger.Error("proof job rollback failed", "proof_id", job.ID, "err", deleteErr)
		}
		return nil, err
	}

	s.logger.Info("proof job queued", "proof_id", job.ID, "circuit_id", job.CircuitID)

	return job, nil
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Job, error) {
	return s.repository.GetProofJob(ctx, id)
}

func (s *Service) Verify(
	ctx context.Context,
	circuitID string,
	proof json.RawMessage,
	publicSignals []string,
) (bool, error) {
	if circuitID == "" {
		return false, fmt.Errorf("%w: empty circuit id", ErrUnknownCircuit)
	}

	ctx, cancel := context.WithTimeout(ctx, s.syncTimeout)
	defer cancel()

	valid, err := s.prover.Verify(ctx, circuitID, proof, publicSignals)
	if err != nil {
		if errors.Is(err, ErrUnknownCircuit) {
			return false, fmt.Errorf("%w: %s", ErrUnknownCircuit, circuitID)
		}
		return false, err
	}

	return valid, nil
}

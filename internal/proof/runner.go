package proof

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/vin-jex/relay-gateway/internal/queue"
)

// Runner consumes proof jobs: pending -> processing -> completed | failed.
type Runner struct {
	prover     Prover
	repository Repository
	notifier   *Notifier
	now        func() time.Time
	logger     *slog.Logger
}

func NewRunner(prover Prover, repository Repository, notifier *Notifier, now func() time.Time, logger *slog.Logger) *Runner {
	if now == nil {
		now = time.Now
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Runner{prover: prover, repository: repository, notifier: notifier, now: now, logger: logger}
}

func (r *Runner) Handle(ctx context.Context, job *queue.Job, payload JobPayload) error {
	record, err := r.repository.GetProofJob(ctx, payload.ProofID)
	if err != nil {
		if errors.Is(err, ErrProofNotFound) {
			return queue.Fatal(err)
		}
		return err
	}

	switch record.Status {
	case StatusCompleted, StatusFailed:
		return nil
	case StatusPending:
		if err := r.repository.MarkProofProcessing(ctx, record.ID); err != nil {
			return err
		}
	}

	started := time.Now()
	result, proveErr := r.prove(ctx, record)
	duration := time.Since(started).Milliseconds()

	// A retry must not be lost to a cancelled job context.
	writeCtx := context.WithoutCancel(ctx)

	if proveErr == nil {
		now := r.now()
		outcome := Outcome{
			Status:        StatusCompleted,
			Proof:         result.Proof,
			PublicSignals: result.PublicSignals,
			DurationMs:    duration,
			CompletedAt:   &now,
		}
		if err := r.repository.FinishProofAttempt(writeCtx, record.ID, outcome); err != nil {
			return err
		}

		r.logger.Info("proof completed", "proof_id", record.ID, "circuit_id", record.CircuitID, "duration_ms", duration)
		r.notify(record, Callback{
			Event:      "proof.completed",
			ProofID:    record.ID.String(),
			CircuitID:  record.CircuitID,
			Status:     string(StatusCompleted),
			DurationMs: &duration,
		})
		return nil
	}

	permanent := errors.Is(proveErr, ErrPrecondition) || errors.Is(proveErr, ErrUnknownCircuit)

	if !permanent && !job.FinalAttempt() {
		outcome := Outcome{Status: StatusPending, Error: proveErr.Error(), DurationMs: duration}
		if err := r.repository.FinishProofAttempt(writeCtx, record.ID, outcome); err != nil {
			return err
		}
		return proveErr
	}

	if err := r.fail(writeCtx, record, proveErr.Error(), duration); err != nil {
		return err
	}

	if permanent {
		return queue.Fatal(proveErr)
	}
	return proveErr
}

// DeadLetter fails the proof behind a job that stall recovery gave up on.
// The callback fires as for any other final failure.
func (r *Runner) DeadLetter(ctx context.Context, job *queue.Job) error {
	var payload JobPayload
	if err := job.Decode(&payload); err != nil {
		return fmt.Errorf("decode proof payload: %w", err)
	}

	record, err := r.repository.GetProofJob(ctx, payload.ProofID)
	if err != nil {
		if errors.Is(err, ErrProofNotFound) {
			return nil
		}
		return err
	}

	switch record.Status {
	case StatusCompleted, StatusFailed:
		return nil
	case StatusPending:
		if err := r.repository.MarkProofProcessing(ctx, record.ID); err != nil {
			return err
		}
	}

	reason := job.LastError
	if reason == "" {
		reason = queue.ErrLeaseExpired.Error()
	}

	return r.fail(ctx, record, reason, 0)
}

// fail moves a processing proof to failed and fires proof.failed.
func (r *Runner) fail(ctx context.Context, record *Job, reason string, duration int64) error {
	now := r.now()
	outcome := Outcome{Status: StatusFailed, Error: reason, DurationMs: duration, CompletedAt: &now}
	if err := r.repository.FinishProofAttempt(ctx, record.ID, outcome); err != nil {
		return err
	}

	r.logger.Warn("proof failed", "proof_id", record.ID, "circuit_id", record.CircuitID, "err", reason)
	r.notify(record, Callback{
		Event:     "proof.failed",
		ProofID:   record.ID.String(),
		CircuitID: record.CircuitID,
		Status:    string(StatusFailed),
		Error:     reason,
	})

	return nil
}

func (r *Runner) prove(ctx context.Context, record *Job) (Result, error) {
	if err := CheckPreconditions(record.CircuitID, record.Inputs); err != nil {
		return Result{}, err
	}

	return r.prover.Prove(ctx, record.CircuitID, record.Inputs)
}

func (r *Runner) notify(record *Job, callback Callback) {
	if record.CallbackURL == "" || r.notifier == nil {
		return
	}

	r.notifier.Notify(record.CallbackURL, callback)
}

// Callback is POSTed to the caller's callback URL once a proof job ends.
type Callback struct {
	Event      string `json:"event"`
	ProofID    string `json:"proof_id"`
	CircuitID  string `json:"circuit_id"`
	Status     string `json:"status"`
	DurationMs *int64 `json:"duration_ms,omitempty"`
	Error      string `json:"error,omitempty"`
}

// Notifier fires callbacks on a detached goroutine. Delivery is attempted
// once and failures are only logged; the proof's state is already final.
type Notifier struct {
	client *http.Client
	logger *slog.Logger
	// done is signalled after each notification attempt when set.
	done chan<- error
}

func NewNotifier(client *http.Client, logger *slog.Logger) *Notifier {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Notifier{client: client, logger: logger}
}

func (n *Notifier) Notify(url string, callback Callback) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		err := n.send(ctx, url, callback)
		if err != nil {
			n.logger.Warn("proof callback failed", "proof_id", callback.ProofID, "url", url, "err", err)
		}
		if n.done != nil {
			n.done <- err
		}
	}()
}

func (n *Notifier) send(ctx context.Context, url string, callback Callback) error {
	body, err := json.Marshal(callback)
	if err != nil {
		return err
	}

	request, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	request.Header.Set("Content-Type", "application/json")

	response, err := n.client.Do(request)
	if err != nil {
		return err
	}
	defer response.Body.Close()

	if response.StatusCode < 200 || response.StatusCode >= 300 {
		return fmt.Errorf("callback returned HTTP %d", response.StatusCode)
	}

	return nil
}

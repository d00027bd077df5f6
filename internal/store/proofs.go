package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/vin-jex/relay-gateway/internal/proof"
)

func (s *Store) CreateProofJob(ctx context.Context, job *proof.Job) error {
	inputs, err := json.Marshal(nonNilMap(job.Inputs))
	if err != nil {
		return fmt.Errorf("encode inputs: %w", err)
	}

	_, err = s.connectionPool.Exec(
		ctx,
		`
		INSERT INTO proof_jobs (
			id,
			tenant_id,
			circuit_id,
			inputs,
			status,
			callback_url,
			created_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		`,
		job.ID,
		job.TenantID,
		job.CircuitID,
		inputs,
		job.Status,
		nullString(job.CallbackURL),
		job.CreatedAt,
	)

	return err
}

func (s *Store) DeleteProofJob(ctx context.Context, id uuid.UUID) error {
	_, err := s.connectionPool.Exec(ctx, `DELETE FROM proof_jobs WHERE id = $1`, id)
	return err
}

func (s *Store) GetProofJob(ctx context.Context, id uuid.UUID) (*proof.Job, error) {
	var (
		job           proof.Job
		inputs        []byte
		proofBody     []byte
		publicSignals []byte
		errorText     *string
		callbackURL   *string
	)

	err := s.connectionPool.QueryRow(
		ctx,
		`
		SELECT
			id,
			tenant_id,
			circuit_id,
			inputs,
			status,
			proof,
			public_signals,
			error,
			duration_ms,
			callback_url,
			created_at,
			completed_at
		FROM proof_jobs
		WHERE id = $1
		`,
		id,
	).Scan(
		&job.ID,
		&job.TenantID,
		&job.CircuitID,
		&inputs,
		&job.Status,
		&proofBody,
		&publicSignals,
		&errorText,
		&job.DurationMs,
		&callbackURL,
		&job.CreatedAt,
		&job.CompletedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %w", ErrNotFound, proof.ErrProofNotFound)
	}
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal(inputs, &job.Inputs); err != nil {
		return nil, fmt.Errorf("decode inputs: %w", err)
	}
	if len(publicSignals) > 0 {
		if err := json.Unmarshal(publicSignals, &job.PublicSignals); err != nil {
			return nil, fmt.Errorf("decode public signals: %w", err)
		}
	}
	job.Proof = proofBody
	if errorText != nil {
		job.Error = *errorText
	}
	if callbackURL != nil {
		job.CallbackURL = *callbackURL
	}

	return &job, nil
}

func (s *Store) MarkProofProcessing(ctx context.Context, id uuid.UUID) error {
	return s.transitionProof(ctx, id, proof.StatusPending, proof.StatusProcessing)
}

// ReopenProofJob returns a failed proof job to pending ahead of a manual
// resubmission of its queue job.
func (s *Store) ReopenProofJob(ctx context.Context, id uuid.UUID) error {
	return s.transitionProof(ctx, id, proof.StatusFailed, proof.StatusPending)
}

func (s *Store) FinishProofAttempt(ctx context.Context, id uuid.UUID, outcome proof.Outcome) error {
	if err := validateRecordTransition(
		allowedProofTransitions,
		"proof",
		string(proof.StatusProcessing),
		string(outcome.Status),
	); err != nil {
		return err
	}

	var publicSignals []byte
	if outcome.PublicSignals != nil {
		encoded, err := json.Marshal(outcome.PublicSignals)
		if err != nil {
			return fmt.Errorf("encode public signals: %w", err)
		}
		publicSignals = encoded
	}

	var proofBody []byte
	if len(outcome.Proof) > 0 {
		proofBody = outcome.Proof
	}

	commandTag, err := s.connectionPool.Exec(
		ctx,
		`
		UPDATE proof_jobs
		SET status = $3,
			proof = $4,
			public_signals = $5,
			error = $6,
			duration_ms = $7,
			completed_at = $8
		WHERE id = $1
			AND status = $2
		`,
		id,
		proof.StatusProcessing,
		outcome.Status,
		proofBody,
		publicSignals,
		nullString(outcome.Error),
		outcome.DurationMs,
		outcome.CompletedAt,
	)
	if err != nil {
		return err
	}

	if commandTag.RowsAffected() != 1 {
		return ErrInvalidStateTransition
	}

	return nil
}

func (s *Store) transitionProof(ctx context.Context, id uuid.UUID, from, to proof.Status) error {
	if err := validateRecordTransition(allowedProofTransitions, "proof", string(from), string(to)); err != nil {
		return err
	}

	commandTag, err := s.connectionPool.Exec(
		ctx,
		`
		UPDATE proof_jobs
		SET status = $3,
			completed_at = NULL
		WHERE id = $1
			AND status = $2
		`,
		id,
		from,
		to,
	)
	if err != nil {
		return err
	}

	if commandTag.RowsAffected() != 1 {
		return ErrInvalidStateTransition
	}

	return nil
}

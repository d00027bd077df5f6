// Package proof fronts an external zero-knowledge prover: queued proof jobs,
// synchronous proofs for the canonical circuits, and verification.
package proof

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

var (
	ErrPrecondition   = errors.New("proof precondition not met")
	ErrUnknownCircuit = errors.New("unknown circuit")
	ErrProofNotFound  = errors.New("proof job not found")
)

type Result struct {
	Proof         json.RawMessage `json:"proof"`
	PublicSignals []string        `json:"public_signals"`
}

// Prover is the external proof system. Both calls may take seconds.
type Prover interface {
	Prove(ctx context.Context, circuitID string, inputs map[string]any) (Result, error)
	Verify(ctx context.Context, circuitID string, proof json.RawMessage, publicSignals []string) (bool, error)
}

// HTTPProver talks to a prover sidecar exposing POST /prove and POST /verify.
type HTTPProver struct {
	baseURL string
	client  *http.Client
}

func NewHTTPProver(baseURL string, client *http.Client) *HTTPProver {
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Minute}
	}

	return &HTTPProver{baseURL: strings.TrimRight(baseURL, "/"), client: client}
}

func (p *HTTPProver) Prove(ctx context.Context, circuitID string, inputs map[string]any) (Result, error) {
	var result Result
	err := p.post(ctx, "/prove", map[string]any{
		"circuit_id": circuitID,
		"inputs":     inputs,
	}, &result)

	return result, err
}

func (p *HTTPProver) Verify(
	ctx context.Context,
	circuitID string,
	proof json.RawMessage,
	publicSignals []string,
) (bool, error) {
	var response struct {
		Valid bool `json:"valid"`
	}

	err := p.post(ctx, "/verify", map[string]any{
		"circuit_id":     circuitID,
		"proof":          proof,
		"public_signals": publicSignals,
	}, &response)

	return response.Valid, err
}

func (p *HTTPProver) post(ctx context.Context, path string, body any, out any) error {
	raw, err := json.Marshal(body)
	if err != nil {
		return err
	}

	request, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+path, bytes.NewReader(raw))
	if err != nil {
		return err
	}
	request.Header.Set("Content-Type", "application/json")

	response, err := p.client.Do(request)
	if err != nil {
		return fmt.Errorf("prover unreachable: %w", err)
	}
	defer response.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(response.Body, 10<<20))
	if err != nil {
		return fmt.Errorf("read prover response: %w", err)
	}

	switch {
	case response.StatusCode == http.StatusNotFound:
		return ErrUnknownCircuit
	case response.StatusCode == http.StatusUnprocessableEntity:
		return fmt.Errorf("%w: %s", ErrPrecondition, strings.TrimSpace(string(payload)))
	case response.StatusCode < 200 || response.StatusCode >= 300:
		return fmt.Errorf("prover returned HTTP %d: %s", response.StatusCode, strings.TrimSpace(string(payload)))
	}

	if err := json.Unmarshal(payload, out); err != nil {
		return fmt.Errorf("decode prover response: %w", err)
	}

	return nil
}

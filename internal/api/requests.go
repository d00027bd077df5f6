package api

import (
	"encoding/json"

	"github.com/vin-jex/relay-gateway/internal/workflow"
)

type RPCRequest struct {
	Method string          `json:"method"`
	Params json.RawMessage `json:"params,omitempty"`
}

type CreateWorkflowRequest struct {
	Name       string               `json:"name"`
	Enabled    *bool                `json:"enabled,omitempty"`
	Trigger    workflow.Trigger     `json:"trigger"`
	Conditions []workflow.Condition `json:"conditions"`
	Actions    []workflow.Action    `json:"actions"`
}

type UpdateWorkflowRequest struct {
	Enabled *bool `json:"enabled"`
}

type PublishEventRequest struct {
	Event string         `json:"event"`
	Data  map[string]any `json:"data"`
}

type CreateWebhookRequest struct {
	URL         string   `json:"url"`
	Events      []string `json:"events"`
	Secret      string   `json:"secret,omitempty"`
	MaxAttempts int      `json:"max_attempts,omitempty"`
}

type SubmitProofRequest struct {
	CircuitID   string         `json:"circuit_id"`
	Inputs      map[string]any `json:"inputs"`
	CallbackURL string         `json:"callback_url,omitempty"`
}

type VerifyProofRequest struct {
	CircuitID     string          `json:"circuit_id"`
	Proof         json.RawMessage `json:"proof"`
	PublicSignals []string        `json:"public_signals"`
}

package workflow

import (
	"encoding/json"
	"fmt"
	"regexp"
)

type ActionType string

const (
	ActionWebhook        ActionType = "webhook"
	ActionHTTPRequest    ActionType = "http_request"
	ActionEmail          ActionType = "email"
	ActionSolanaTransfer ActionType = "solana_transfer"
)

// Action is a tagged variant: exactly one config pointer matching Type is
// set. On the wire it is {"type": ..., "config": {...}}.
type Action struct {
	Type ActionType

	Webhook        *WebhookAction
	HTTPRequest    *HTTPRequestAction
	Email          *EmailAction
	SolanaTransfer *SolanaTransferAction
}

// WebhookAction POSTs the trigger data as a signed envelope.
type WebhookAction struct {
	URL    string `json:"url"`
	Secret string `json:"secret"`
	Event  string `json:"event,omitempty"`
}

type HTTPRequestAction struct {
	Method  string            `json:"method"`
	URL     string            `json:"url"`
	Headers map[string]string `json:"headers,omitempty"`
	Body    string            `json:"body,omitempty"`
}

type EmailAction struct {
	To      []string `json:"to"`
	Subject string   `json:"subject"`
	Body    string   `json:"body"`
}

// SolanaTransferAction submits an already signed transaction. Keys never
// reach the gateway.
type SolanaTransferAction struct {
	SignedTransaction string `json:"signed_transaction"`
	Encoding          string `json:"encoding,omitempty"`
	SkipPreflight     bool   `json:"skip_preflight,omitempty"`
}

type actionWire struct {
	Type   ActionType      `json:"type"`
	Config json.RawMessage `json:"config"`
}

func (a *Action) UnmarshalJSON(raw []byte) error {
	var wire actionWire
	if err := json.Unmarshal(raw, &wire); err != nil {
		return err
	}

	decoded := Action{Type: wire.Type}
	var err error

	switch wire.Type {
	case ActionWebhook:
		decoded.Webhook = &WebhookAction{}
		err = decodeConfig(wire.Config, decoded.Webhook)
	case ActionHTTPRequest:
		decoded.HTTPRequest = &HTTPRequestAction{}
		err = decodeConfig(wire.Config, decoded.HTTPRequest)
	case ActionEmail:
		decoded.Email = &EmailAction{}
		err = decodeConfig(wire.Config, decoded.Email)
	case ActionSolanaTransfer:
		decoded.SolanaTransfer = &SolanaTransferAction{}
		err = decodeConfig(wire.Config, decoded.SolanaTransfer)
	default:
		return fmt.Errorf("%w: %q", ErrUnknownAction, wire.Type)
	}
	if err != nil {
		return fmt.Errorf("decode %s config: %w", wire.Type, err)
	}

	*a = decoded
	return nil
}

func (a Action) MarshalJSON() ([]byte, error) {
	var config any

	switch a.Type {
	case ActionWebhook:
		config = a.Webhook
	case ActionHTTPRequest:
		config = a.HTTPRequest
	case ActionEmail:
		config = a.Email
	case ActionSolanaTransfer:
		config = a.SolanaTransfer
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownAction, a.Type)
	}

	raw, err := json.Marshal(config)
	if err != nil {
		return nil, err
	}

	return json.Marshal(actionWire{Type: a.Type, Config: raw})
}

// Validate checks the fields each action kind cannot run without.
func (a Action) Validate() error {
	switch a.Type {
	case ActionWebhook:
		if a.Webhook == nil || a.Webhook.URL == "" {
			return fmt.Errorf("webhook action needs a url")
		}
	case ActionHTTPRequest:
		if a.HTTPRequest == nil || a.HTTPRequest.URL == "" {
			return fmt.Errorf("http_request action needs a url")
		}
	case ActionEmail:
		if a.Email == nil || len(a.Email.To) == 0 {
			return fmt.Errorf("email action needs recipients")
		}
	case ActionSolanaTransfer:
		if a.SolanaTransfer == nil || a.SolanaTransfer.SignedTransaction == "" {
			return fmt.Errorf("solana_transfer action needs a signed transaction")
		}
	default:
		return fmt.Errorf("%w: %q", ErrUnknownAction, a.Type)
	}

	return nil
}

var placeholder = regexp.MustCompile(`\{\{\s*([\w.]+)\s*\}\}`)

// interpolate replaces {{path}} with the trigger-data value at path.
// Missing paths render empty.
func interpolate(template string, data map[string]any) string {
	return placeholder.ReplaceAllStringFunc(template, func(match string) string {
		path := placeholder.FindStringSubmatch(match)[1]
		value, ok := Lookup(data, path)
		if !ok {
			return ""
		}
		return stringify(value)
	})
}

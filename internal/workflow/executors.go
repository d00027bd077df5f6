package workflow

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/vin-jex/relay-gateway/internal/mail"
	"github.com/vin-jex/relay-gateway/internal/rpc"
	"github.com/vin-jex/relay-gateway/internal/webhook"
)

// WebhookExecutor sends the trigger data as a signed envelope. It is not
// retried on its own; a failure fails the execution.
func WebhookExecutor(deliverer *webhook.Deliverer) Executor {
	return func(ctx context.Context, action Action, data map[string]any) (any, error) {
		config := action.Webhook
		event := config.Event
		if event == "" {
			event = "workflow.action"
		}

		result, err := deliverer.Deliver(ctx, config.URL, config.Secret, uuid.New(), event, data)
		if err != nil {
			return nil, err
		}

		return result, nil
	}
}

type HTTPResult struct {
	StatusCode int    `json:"status_code"`
	Body       string `json:"body,omitempty"`
}

// HTTPRequestExecutor issues an arbitrary request. {{path}} placeholders in
// the url and body are filled from the trigger data; non-2xx fails.
func HTTPRequestExecutor(client *http.Client) Executor {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}

	return func(ctx context.Context, action Action, data map[string]any) (any, error) {
		config := action.HTTPRequest

		method := strings.ToUpper(config.Method)
		if method == "" {
			method = http.MethodGet
		}

		var body io.Reader
		if config.Body != "" {
			body = strings.NewReader(interpolate(config.Body, data))
		}

		request, err := http.NewRequestWithContext(ctx, method, interpolate(config.URL, data), body)
		if err != nil {
			return nil, err
		}
		for key, value := range config.Headers {
			request.Header.Set(key, value)
		}
		if body != nil && request.Header.Get("Content-Type") == "" {
			request.Header.Set("Content-Type", "application/json")
		}

		response, err := client.Do(request)
		if err != nil {
			return nil, err
		}
		defer response.Body.Close()

		raw, _ := io.ReadAll(io.LimitReader(response.Body, 64<<10))
		result := HTTPResult{StatusCode: response.StatusCode, Body: webhook.Truncate(string(raw), 1000)}

		if response.StatusCode < 200 || response.StatusCode >= 300 {
			return result, fmt.Errorf("request returned HTTP %d", response.StatusCode)
		}

		return result, nil
	}
}

func EmailExecutor(mailer mail.Mailer) Executor {
	return func(ctx context.Context, action Action, data map[string]any) (any, error) {
		config := action.Email

		messageID, err := mailer.Send(ctx, mail.Message{
			To:      config.To,
			Subject: interpolate(config.Subject, data),
			Body:    interpolate(config.Body, data),
		})
		if err != nil {
			return nil, err
		}

		return map[string]string{"message_id": messageID}, nil
	}
}

// SolanaTransferExecutor submits the pre-signed transaction through the
// provider pool and returns the signature.
func SolanaTransferExecutor(requester *rpc.Requester) Executor {
	return func(ctx context.Context, action Action, _ map[string]any) (any, error) {
		config := action.SolanaTransfer

		encoding := config.Encoding
		if encoding == "" {
			encoding = "base64"
		}

		result, err := requester.Call(ctx, "sendTransaction", []any{
			config.SignedTransaction,
			map[string]any{
				"encoding":      encoding,
				"skipPreflight": config.SkipPreflight,
			},
		})
		if err != nil {
			return nil, err
		}

		var signature string
		if err := decodeConfig(result, &signature); err != nil {
			return nil, fmt.Errorf("decode transaction signature: %w", err)
		}

		return map[string]string{"signature": signature}, nil
	}
}

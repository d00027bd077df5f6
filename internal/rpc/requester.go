package rpc

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/vin-jex/relay-gateway/internal/observability"
)

type RequesterOptions struct {
	MaxAttempts int
	BackoffStep time.Duration
	CallTimeout time.Duration
	Logger      *slog.Logger
}

// Requester wraps single upstream calls with bounded sequential retries.
// Every attempt re-runs endpoint selection, so a retry can land on a
// different endpoint than the one that failed.
type Requester struct {
	pool      *Pool
	transport Transport

	maxAttempts int
	backoffStep time.Duration
	callTimeout time.Duration
	logger      *slog.Logger
}

func NewRequester(pool *Pool, transport Transport, options RequesterOptions) *Requester {
	if options.MaxAttempts <= 0 {
		options.MaxAttempts = 3
	}
	if options.BackoffStep <= 0 {
		options.BackoffStep = 200 * time.Millisecond
	}
	if options.CallTimeout <= 0 {
		options.CallTimeout = 10 * time.Second
	}
	if options.Logger == nil {
		options.Logger = slog.Default()
	}

	return &Requester{
		pool:        pool,
		transport:   transport,
		maxAttempts: options.MaxAttempts,
		backoffStep: options.BackoffStep,
		callTimeout: options.CallTimeout,
		logger:      options.Logger,
	}
}

func (r *Requester) Pool() *Pool {
	return r.pool
}

// Call issues method against the pool. Per-attempt failures are absorbed;
// only exhaustion is surfaced, as an *UpstreamError.
func (r *Requester) Call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	var (
		lastErr      error
		lastEndpoint string
		attempts     int
	)

	for attempts < r.maxAttempts {
		if attempts > 0 {
			if err := r.wait(ctx, time.Duration(attempts)*r.backoffStep); err != nil {
				lastErr = err
				break
			}
		}
		attempts++

		endpoint := r.pool.SelectEndpoint()
		lastEndpoint = endpoint.Name

		result, err := r.attempt(ctx, endpoint, method, params)
		if err == nil {
			r.pool.ReportSuccess(endpoint.Name)
			observability.RPCAttempts.WithLabelValues(endpoint.Name, "success").Inc()
			return result, nil
		}

		lastErr = err
		r.pool.ReportFailure(endpoint.Name)
		observability.RPCAttempts.WithLabelValues(endpoint.Name, "failure").Inc()

		r.logger.Debug("rpc attempt failed",
			"method", method,
			"endpoint", endpoint.Name,
			"attempt", attempts,
			"err", err)
	}

	return nil, &UpstreamError{
		Method:   method,
		Attempts: attempts,
		Endpoint: lastEndpoint,
		Cause:    lastErr,
	}
}

func (r *Requester) wait(ctx context.Context, delay time.Duration) error {
	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (r *Requester) attempt(
	ctx context.Context,
	endpoint EndpointStatus,
	method string,
	params any,
) (json.RawMessage, error) {
	callCtx, cancel := context.WithTimeout(ctx, r.callTimeout)
	defer cancel()

	return r.transport.Send(callCtx, endpoint.Address, method, params)
}

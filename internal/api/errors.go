package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/vin-jex/relay-gateway/internal/observability"
	"github.com/vin-jex/relay-gateway/internal/proof"
	"github.com/vin-jex/relay-gateway/internal/queue"
	"github.com/vin-jex/relay-gateway/internal/rpc"
	"github.com/vin-jex/relay-gateway/internal/store"
	"github.com/vin-jex/relay-gateway/internal/webhook"
	"github.com/vin-jex/relay-gateway/internal/workflow"
)

// maxBodyBytes caps request bodies.
const maxBodyBytes = 1 << 20

var errInvalidRequest = errors.New("invalid request")

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", errInvalidRequest, fmt.Sprintf(format, args...))
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	body := ErrorBody{Code: code, Message: message}
	if requestID, ok := observability.RequestIDFromContext(r.Context()); ok {
		body.RequestID = requestID
	}

	writeJSON(w, status, ErrorResponse{Error: body})
}

// fail maps a domain error to its status and stable reason code. Anything
// unrecognised is logged and reported as internal.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	status, code := classify(err)

	if status == http.StatusInternalServerError {
		LoggerFromContext(r.Context()).Error("request failed", "err", err)
		writeError(w, r, status, code, "internal error")
		return
	}

	writeError(w, r, status, code, err.Error())
}

func classify(err error) (int, string) {
	var remote *rpc.RemoteError

	switch {
	case errors.Is(err, errInvalidRequest),
		errors.Is(err, workflow.ErrInvalidTrigger),
		errors.Is(err, workflow.ErrUnknownAction):
		return http.StatusBadRequest, "invalid_request"
	case errors.Is(err, queue.ErrQueueFull):
		return http.StatusServiceUnavailable, "queue_full"
	case errors.Is(err, rpc.ErrUpstreamUnavailable):
		return http.StatusBadGateway, "upstream_unavailable"
	case errors.As(err, &remote):
		return http.StatusBadGateway, "upstream_error"
	case errors.Is(err, rpc.ErrNoEndpoints):
		return http.StatusServiceUnavailable, "no_endpoints"
	case errors.Is(err, proof.ErrPrecondition):
		return http.StatusUnprocessableEntity, "precondition_failed"
	case errors.Is(err, proof.ErrUnknownCircuit):
		return http.StatusNotFound, "unknown_circuit"
	case errors.Is(err, proof.ErrProofNotFound):
		return http.StatusNotFound, "proof_not_found"
	case errors.Is(err, workflow.ErrWorkflowNotFound):
		return http.StatusNotFound, "workflow_not_found"
	case errors.Is(err, workflow.ErrForbidden):
		return http.StatusForbidden, "forbidden"
	case errors.Is(err, workflow.ErrWrongTrigger):
		return http.StatusConflict, "wrong_trigger"
	case errors.Is(err, webhook.ErrWebhookNotFound):
		return http.StatusNotFound, "webhook_not_found"
	case errors.Is(err, queue.ErrUnknownQueue):
		return http.StatusNotFound, "unknown_queue"
	case errors.Is(err, queue.ErrJobNotFound):
		return http.StatusNotFound, "job_not_found"
	case errors.Is(err, queue.ErrNotRetryable):
		return http.StatusConflict, "not_retryable"
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound, "not_found"
	}

	return http.StatusInternalServerError, "internal"
}

func decodeJSON(r *http.Request, v any) error {
	decoder := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := decoder.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return invalid("request body is empty")
		}
		return invalid("invalid JSON body: %v", err)
	}
	return nil
}

// decodeOptionalJSON is decodeJSON for endpoints where an empty body is
// allowed.
func decodeOptionalJSON(r *http.Request, v any) error {
	err := decodeJSON(r, v)
	if err != nil && r.ContentLength == 0 {
		return nil
	}
	return err
}

func pathUUID(r *http.Request, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(mux.Vars(r)[name])
	if err != nil {
		return uuid.Nil, invalid("%s is not a valid id", name)
	}
	return id, nil
}

// requireTenant writes 401 and returns nil for anonymous requests.
func requireTenant(w http.ResponseWriter, r *http.Request) *store.Tenant {
	tenant := tenantFromContext(r.Context())
	if tenant == nil {
		writeError(w, r, http.StatusUnauthorized, "api_key_required", "this endpoint requires an API key")
	}
	return tenant
}

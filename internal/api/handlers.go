package api

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// handleHealth godoc
// @Summary      Liveness probe
// @Description  Indicates whether the process is alive
// @Tags         ops
// @Produce      text/plain
// @Success      200 {string} string "ok"
// @Router       /healthz [get]
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// handleReady godoc
// @Summary      Readiness probe
// @Description  Indicates whether the service can accept traffic
// @Tags         ops
// @Produce      text/plain
// @Success      200 {string} string "ready"
// @Failure      503 {string} string "not ready"
// @Router       /readyz [get]
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), time.Second)
	defer cancel()

	if err := s.store.Ping(ctx); err != nil {
		LoggerFromContext(r.Context()).Warn("readiness check failed", "err", err)
		http.Error(w, "not ready", http.StatusServiceUnavailable)
		return
	}

	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}

// handleMetrics godoc
// @Summary      Prometheus metrics
// @Description  Exposes service metrics in Prometheus format
// @Tags         ops
// @Produce      text/plain
// @Success      200 {string} string
// @Router       /metrics [get]
func (s *Server) handleMetrics() http.Handler {
	return promhttp.Handler()
}

// @Summary Proxy a JSON-RPC call
// @Description Sends the call through the provider pool, failing over between endpoints
// @Tags RPC
// @Accept json
// @Produce json
// @Param request body RPCRequest true "RPC method and params"
// @Success 200 {object} RPCResponse
// @Failure 400 {object} ErrorResponse
// @Failure 429 {object} ErrorResponse
// @Failure 502 {object} ErrorResponse
// @Router /v1/rpc [post]
func (s *Server) handleRPC(w http.ResponseWriter, r *http.Request) {
	var request RPCRequest
	if err := decodeJSON(r, &request); err != nil {
		s.fail(w, r, err)
		return
	}
	if request.Method == "" {
		s.fail(w, r, invalid("method is required"))
		return
	}

	var params any
	if len(request.Params) > 0 {
		params = request.Params
	}

	result, err := s.requester.Call(r.Context(), request.Method, params)
	if err != nil {
		LoggerFromContext(r.Context()).Warn("rpc call failed", "rpc_method", request.Method, "err", err)
		s.fail(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, RPCResponse{Result: result})
}

// @Summary Provider endpoint health
// @Tags RPC
// @Produce json
// @Success 200 {object} EndpointsResponse
// @Router /v1/rpc/endpoints [get]
func (s *Server) handleEndpoints(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, EndpointsResponse{Endpoints: s.requester.Pool().Snapshot()})
}

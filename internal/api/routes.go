package api

import (
	"net/http"

	"github.com/gorilla/mux"
	httpSwagger "github.com/swaggo/http-swagger"
)

func (s *Server) registerRoutes() {
	r := mux.NewRouter()
	r.Use(s.requestContext)

	r.PathPrefix("/swagger/").Handler(httpSwagger.WrapHandler)

	r.Handle("/metrics", s.handleMetrics()).Methods(http.MethodGet)
	r.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/readyz", s.handleReady).Methods(http.MethodGet)

	v1 := r.PathPrefix("/v1").Subrouter()
	v1.Use(s.authenticate, s.rateLimit)

	v1.HandleFunc("/rpc", s.handleRPC).Methods(http.MethodPost)
	v1.HandleFunc("/rpc/endpoints", s.handleEndpoints).Methods(http.MethodGet)

	v1.HandleFunc("/workflows", s.handleCreateWorkflow).Methods(http.MethodPost)
	v1.HandleFunc("/workflows", s.handleListWorkflows).Methods(http.MethodGet)
	v1.HandleFunc("/workflows/{workflowID}", s.handleGetWorkflow).Methods(http.MethodGet)
	v1.HandleFunc("/workflows/{workflowID}", s.handleUpdateWorkflow).Methods(http.MethodPatch)
	v1.HandleFunc("/workflows/{workflowID}", s.handleDeleteWorkflow).Methods(http.MethodDelete)
	v1.HandleFunc("/workflows/{workflowID}/run", s.handleRunWorkflow).Methods(http.MethodPost)
	v1.HandleFunc("/workflows/{workflowID}/executions", s.handleListExecutions).Methods(http.MethodGet)
	v1.HandleFunc("/hooks/{workflowID}", s.handleInboundHook).Methods(http.MethodPost)
	v1.HandleFunc("/events", s.handlePublishEvent).Methods(http.MethodPost)

	v1.HandleFunc("/webhooks", s.handleCreateWebhook).Methods(http.MethodPost)
	v1.HandleFunc("/webhooks", s.handleListWebhooks).Methods(http.MethodGet)
	v1.HandleFunc("/webhooks/{webhookID}", s.handleDeleteWebhook).Methods(http.MethodDelete)
	v1.HandleFunc("/webhooks/{webhookID}/test", s.handleTestWebhook).Methods(http.MethodPost)
	v1.HandleFunc("/webhooks/{webhookID}/deliveries", s.handleListDeliveries).Methods(http.MethodGet)

	v1.HandleFunc("/proofs", s.handleSubmitProof).Methods(http.MethodPost)
	v1.HandleFunc("/proofs/verify", s.handleVerifyProof).Methods(http.MethodPost)
	v1.HandleFunc("/proofs/{circuitID}/sync", s.handleSyncProof).Methods(http.MethodPost)
	v1.HandleFunc("/proofs/{proofID}", s.handleGetProof).Methods(http.MethodGet)

	jobs := v1.PathPrefix("/jobs").Subrouter()
	jobs.Use(s.requireAdmin)
	jobs.HandleFunc("/{queue}", s.handleListJobs).Methods(http.MethodGet)
	jobs.HandleFunc("/{queue}/stats", s.handleQueueStats).Methods(http.MethodGet)
	jobs.HandleFunc("/{queue}/{jobID}", s.handleGetJob).Methods(http.MethodGet)
	jobs.HandleFunc("/{queue}/{jobID}/retry", s.handleRetryJob).Methods(http.MethodPost)

	s.mux = r
}

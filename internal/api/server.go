// Package api is the gateway's HTTP surface: the RPC proxy, workflow and
// event triggers, webhook management, proofs, and job administration.
package api

import (
	"context"
	"log/slog"
	"net/http"
	"net/netip"

	"github.com/google/uuid"

	"github.com/vin-jex/relay-gateway/internal/proof"
	"github.com/vin-jex/relay-gateway/internal/queue"
	"github.com/vin-jex/relay-gateway/internal/ratelimit"
	"github.com/vin-jex/relay-gateway/internal/rpc"
	"github.com/vin-jex/relay-gateway/internal/store"
	"github.com/vin-jex/relay-gateway/internal/webhook"
	"github.com/vin-jex/relay-gateway/internal/workflow"
)

// Store is the persistence the handlers read and write directly. The
// PostgreSQL store implements it.
type Store interface {
	Ping(ctx context.Context) error
	LookupAPIKey(ctx context.Context, key string) (*store.Tenant, error)

	CreateWorkflow(ctx context.Context, definition *workflow.Workflow) error
	GetWorkflow(ctx context.Context, id uuid.UUID) (*workflow.Workflow, error)
	ListWorkflows(ctx context.Context, tenantID uuid.UUID) ([]workflow.Workflow, error)
	SetWorkflowEnabled(ctx context.Context, tenantID, id uuid.UUID, enabled bool) error
	DeleteWorkflow(ctx context.Context, tenantID, id uuid.UUID) error
	ListExecutions(ctx context.Context, workflowID uuid.UUID, limit int) ([]workflow.Execution, error)

	CreateWebhook(ctx context.Context, hook *webhook.Webhook) error
	GetWebhook(ctx context.Context, id uuid.UUID) (*webhook.Webhook, error)
	ListWebhooks(ctx context.Context, tenantID uuid.UUID) ([]webhook.Webhook, error)
	DeleteWebhook(ctx context.Context, tenantID, id uuid.UUID) error
	ListDeliveries(ctx context.Context, webhookID uuid.UUID, limit int) ([]webhook.Delivery, error)

	ReopenDelivery(ctx context.Context, id uuid.UUID) error
	ReopenProofJob(ctx context.Context, id uuid.UUID) error
}

// Dependencies wires the server. Limiter may be nil, which disables rate
// limiting. Queues is keyed by queue name. X-Forwarded-For is only read
// from peers inside TrustedProxies.
type Dependencies struct {
	Store     Store
	Requester *rpc.Requester
	Limiter   *ratelimit.Limiter
	Tiers     ratelimit.Tiers

	Workflows *workflow.Dispatcher
	Webhooks  *webhook.Dispatcher
	Deliverer *webhook.Deliverer
	Proofs    *proof.Service

	Queues         map[string]queue.Queue
	AdminToken     string
	TrustedProxies []netip.Prefix
	Logger         *slog.Logger
}

type Server struct {
	store          Store
	requester      *rpc.Requester
	limiter        *ratelimit.Limiter
	tiers          ratelimit.Tiers
	workflows      *workflow.Dispatcher
	webhooks       *webhook.Dispatcher
	deliverer      *webhook.Deliverer
	proofs         *proof.Service
	queues         map[string]queue.Queue
	adminToken     string
	trustedProxies []netip.Prefix
	logger         *slog.Logger
	mux            http.Handler
}

func NewServer(dependencies Dependencies) *Server {
	if dependencies.Logger == nil {
		dependencies.Logger = slog.Default()
	}

	server := &Server{
		store:          dependencies.Store,
		requester:      dependencies.Requester,
		limiter:        dependencies.Limiter,
		tiers:          dependencies.Tiers,
		workflows:      dependencies.Workflows,
		webhooks:       dependencies.Webhooks,
		deliverer:      dependencies.Deliverer,
		proofs:         dependencies.Proofs,
		queues:         dependencies.Queues,
		adminToken:     dependencies.AdminToken,
		trustedProxies: dependencies.TrustedProxies,
		logger:         dependencies.Logger,
	}

	server.registerRoutes()

	return server
}

func (s *Server) Handler() http.Handler {
	return s.mux
}

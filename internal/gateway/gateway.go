// Package gateway assembles the long-lived components shared by the
// gateway binaries from a loaded configuration.
package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/vin-jex/relay-gateway/internal/api"
	"github.com/vin-jex/relay-gateway/internal/config"
	"github.com/vin-jex/relay-gateway/internal/mail"
	"github.com/vin-jex/relay-gateway/internal/proof"
	"github.com/vin-jex/relay-gateway/internal/queue"
	"github.com/vin-jex/relay-gateway/internal/ratelimit"
	"github.com/vin-jex/relay-gateway/internal/rpc"
	"github.com/vin-jex/relay-gateway/internal/scheduler"
	"github.com/vin-jex/relay-gateway/internal/store"
	"github.com/vin-jex/relay-gateway/internal/webhook"
	"github.com/vin-jex/relay-gateway/internal/worker"
	"github.com/vin-jex/relay-gateway/internal/workflow"
)

const (
	BackendPostgres = "postgres"
	BackendMemory   = "memory"
)

// Gateway holds the components every binary needs. Close releases the
// database pool.
type Gateway struct {
	Config *config.Config
	Store  *store.Store
	Queues map[string]queue.Queue

	Requester *rpc.Requester
	Workflows *workflow.Dispatcher
	Webhooks  *webhook.Dispatcher
	Deliverer *webhook.Deliverer
	Prover    proof.Prover
	Proofs    *proof.Service

	logger *slog.Logger
}

func Open(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Gateway, error) {
	storeLayer, err := store.NewStore(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}

	queues, err := NewQueues(cfg.QueueBackend, storeLayer, queue.Policies(cfg.Queues))
	if err != nil {
		storeLayer.Close()
		return nil, err
	}

	pool, err := rpc.NewPool(Endpoints(cfg), rpc.PoolOptions{
		FailureThreshold: cfg.RPC.FailureThreshold,
		Cooldown:         cfg.RPC.Cooldown,
		Logger:           logger,
	})
	if err != nil {
		storeLayer.Close()
		return nil, err
	}

	requester := rpc.NewRequester(pool, rpc.NewJSONRPCTransport(nil), rpc.RequesterOptions{
		MaxAttempts: cfg.RPC.MaxAttempts,
		BackoffStep: cfg.RPC.BackoffStep,
		CallTimeout: cfg.RPC.CallTimeout,
		Logger:      logger,
	})

	prover := proof.NewHTTPProver(cfg.ProverURL, nil)

	return &Gateway{
		Config:    cfg,
		Store:     storeLayer,
		Queues:    queues,
		Requester: requester,
		Workflows: workflow.NewDispatcher(storeLayer, queues[queue.WorkflowQueue], logger),
		Webhooks:  webhook.NewDispatcher(storeLayer, queues[queue.WebhookQueue], nil, logger),
		Deliverer: webhook.NewDeliverer(nil, nil),
		Prover:    prover,
		Proofs:    proof.NewService(prover, storeLayer, queues[queue.ProofQueue], proof.Options{Logger: logger}),
		logger:    logger,
	}, nil
}

func (g *Gateway) Close() {
	g.Store.Close()
}

// NewQueues builds the workflow, webhook and proof queues on the chosen
// backend.
func NewQueues(backend string, storeLayer *store.Store, policies map[string]queue.Policy) (map[string]queue.Queue, error) {
	queues := make(map[string]queue.Queue, len(policies))

	for name, policy := range policies {
		switch backend {
		case BackendPostgres:
			queues[name] = storeLayer.Queue(policy)
		case BackendMemory:
			queues[name] = queue.NewMemoryQueue(policy, nil)
		default:
			return nil, fmt.Errorf("unknown queue backend %q", backend)
		}
	}

	return queues, nil
}

// QueueList returns the queues in a stable order.
func (g *Gateway) QueueList() []queue.Queue {
	return []queue.Queue{
		g.Queues[queue.WorkflowQueue],
		g.Queues[queue.WebhookQueue],
		g.Queues[queue.ProofQueue],
	}
}

// Server builds the HTTP API. A nil redis client disables rate limiting.
func (g *Gateway) Server(client *redis.Client) *api.Server {
	var limiter *ratelimit.Limiter
	if client != nil {
		limiter = ratelimit.NewLimiter(client, ratelimit.Options{Logger: g.logger})
	}

	return api.NewServer(api.Dependencies{
		Store:          g.Store,
		Requester:      g.Requester,
		Limiter:        limiter,
		Tiers:          Tiers(g.Config),
		Workflows:      g.Workflows,
		Webhooks:       g.Webhooks,
		Deliverer:      g.Deliverer,
		Proofs:         g.Proofs,
		Queues:         g.Queues,
		AdminToken:     g.Config.AdminToken,
		TrustedProxies: g.Config.ProxyPrefixes,
		Logger:         g.logger,
	})
}

type consumers struct {
	engine     *workflow.Engine
	deliveries *webhook.Handler
	proofs     *proof.Runner
}

func (g *Gateway) consumers(mailer mail.Mailer) consumers {
	engine := workflow.NewEngine(g.Store, nil, g.logger)
	engine.Register(workflow.ActionWebhook, workflow.WebhookExecutor(g.Deliverer))
	engine.Register(workflow.ActionHTTPRequest, workflow.HTTPRequestExecutor(nil))
	engine.Register(workflow.ActionSolanaTransfer, workflow.SolanaTransferExecutor(g.Requester))
	if mailer != nil {
		engine.Register(workflow.ActionEmail, workflow.EmailExecutor(mailer))
	}

	return consumers{
		engine:     engine,
		deliveries: webhook.NewHandler(g.Store, g.Deliverer, nil, g.logger),
		proofs:     proof.NewRunner(g.Prover, g.Store, proof.NewNotifier(nil, g.logger), nil, g.logger),
	}
}

// Workers builds one consumer per queue. mailer may be nil, which leaves
// email actions without an executor.
func (g *Gateway) Workers(mailer mail.Mailer) []*worker.Worker {
	var registry worker.Registry
	if g.Config.QueueBackend == BackendPostgres {
		registry = g.Store
	}

	handlers := g.consumers(mailer)

	options := func() worker.Options {
		return worker.Options{
			PollInterval: g.Config.Worker.PollInterval,
			Registry:     registry,
			Logger:       g.logger,
		}
	}

	return []*worker.Worker{
		worker.New(g.Queues[queue.WorkflowQueue], worker.Typed(handlers.engine.Handle), options()),
		worker.New(g.Queues[queue.WebhookQueue], worker.Typed(handlers.deliveries.Handle), options()),
		worker.New(g.Queues[queue.ProofQueue], worker.Typed(handlers.proofs.Handle), options()),
	}
}

// Scheduler sweeps every queue. Jobs recovered into dead settle their
// execution, delivery or proof record.
func (g *Gateway) Scheduler() *scheduler.Scheduler {
	handlers := g.consumers(nil)

	return scheduler.New(uuid.New(), g.QueueList(), g.Workflows, scheduler.Options{
		DeadLetters: map[string]queue.DeadLetterFunc{
			queue.WorkflowQueue: handlers.engine.DeadLetter,
			queue.WebhookQueue:  handlers.deliveries.DeadLetter,
			queue.ProofQueue:    handlers.proofs.DeadLetter,
		},
		Logger: g.logger,
	})
}

// MetricsServer exposes /metrics for processes without the public API.
func MetricsServer(addr string) *http.Server {
	router := mux.NewRouter()
	router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	return &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}
}

func Endpoints(cfg *config.Config) []rpc.Endpoint {
	endpoints := make([]rpc.Endpoint, 0, len(cfg.RPC.Endpoints))
	for _, endpoint := range cfg.RPC.Endpoints {
		endpoints = append(endpoints, rpc.Endpoint{Name: endpoint.Name, Address: endpoint.Address})
	}
	return endpoints
}

func Tiers(cfg *config.Config) ratelimit.Tiers {
	tiers := make(ratelimit.Tiers, len(cfg.Tiers))
	for name, limit := range cfg.Tiers {
		tiers[name] = ratelimit.Rule{MaxRequests: limit.MaxRequests, Window: limit.Window}
	}
	return tiers
}

package api

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vin-jex/relay-gateway/internal/proof"
	"github.com/vin-jex/relay-gateway/internal/store"
	"github.com/vin-jex/relay-gateway/internal/webhook"
	"github.com/vin-jex/relay-gateway/internal/workflow"
)

// fakeStore keeps records in maps. Methods a test never reaches fall
// through to the nil embedded Store.
type fakeStore struct {
	Store

	mu                 sync.Mutex
	keys               map[string]*store.Tenant
	workflows          map[uuid.UUID]*workflow.Workflow
	webhooks           map[uuid.UUID]*webhook.Webhook
	deliveries         map[uuid.UUID]*webhook.Delivery
	proofs             map[uuid.UUID]*proof.Job
	reopenedDeliveries []uuid.UUID
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		keys:       make(map[string]*store.Tenant),
		workflows:  make(map[uuid.UUID]*workflow.Workflow),
		webhooks:   make(map[uuid.UUID]*webhook.Webhook),
		deliveries: make(map[uuid.UUID]*webhook.Delivery),
		proofs:     make(map[uuid.UUID]*proof.Job),
	}
}

func (f *fakeStore) Ping(context.Context) error {
	return nil
}

func (f *fakeStore) LookupAPIKey(_ context.Context, key string) (*store.Tenant, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	tenant, ok := f.keys[key]
	if !ok {
		return nil, store.ErrInvalidAPIKey
	}
	return tenant, nil
}

func (f *fakeStore) CreateWorkflow(_ context.Context, definition *workflow.Workflow) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	definition.ID = uuid.New()
	definition.CreatedAt = time.Now()
	copied := *definition
	f.workflows[definition.ID] = &copied
	return nil
}

func (f *fakeStore) GetWorkflow(_ context.Context, id uuid.UUID) (*workflow.Workflow, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	definition, ok := f.workflows[id]
	if !ok {
		return nil, workflow.ErrWorkflowNotFound
	}
	copied := *definition
	return &copied, nil
}

func (f *fakeStore) ListEventWorkflows(_ context.Context, tenantID uuid.UUID, event string) ([]workflow.Workflow, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var matched []workflow.Workflow
	for _, definition := range f.workflows {
		if definition.TenantID == tenantID && definition.Enabled &&
			definition.Trigger.Kind == workflow.TriggerEvent && definition.Trigger.Event == event {
			matched = append(matched, *definition)
		}
	}
	return matched, nil
}

func (f *fakeStore) ClaimDueScheduledWorkflows(context.Context, time.Time, int) ([]workflow.Workflow, error) {
	return nil, nil
}

func (f *fakeStore) GetWebhook(_ context.Context, id uuid.UUID) (*webhook.Webhook, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	hook, ok := f.webhooks[id]
	if !ok {
		return nil, webhook.ErrWebhookNotFound
	}
	copied := *hook
	return &copied, nil
}

func (f *fakeStore) ListSubscribedWebhooks(_ context.Context, tenantID uuid.UUID, event string) ([]webhook.Webhook, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var matched []webhook.Webhook
	for _, hook := range f.webhooks {
		if hook.TenantID == tenantID && hook.Subscribes(event) {
			matched = append(matched, *hook)
		}
	}
	return matched, nil
}

func (f *fakeStore) CreateDelivery(_ context.Context, delivery *webhook.Delivery) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	copied := *delivery
	f.deliveries[delivery.ID] = &copied
	return nil
}

func (f *fakeStore) DeleteDelivery(_ context.Context, id uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	delete(f.deliveries, id)
	return nil
}

func (f *fakeStore) GetDelivery(_ context.Context, id uuid.UUID) (*webhook.Delivery, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	delivery, ok := f.deliveries[id]
	if !ok {
		return nil, webhook.ErrDeliveryNotFound
	}
	copied := *delivery
	return &copied, nil
}

func (f *fakeStore) RecordDeliveryAttempt(context.Context, uuid.UUID, webhook.AttemptRecord) error {
	return errors.New("not used")
}

func (f *fakeStore) ReopenDelivery(_ context.Context, id uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.reopenedDeliveries = append(f.reopenedDeliveries, id)
	return nil
}

func (f *fakeStore) ReopenProofJob(context.Context, uuid.UUID) error {
	return store.ErrInvalidStateTransition
}

func (f *fakeStore) CreateProofJob(_ context.Context, job *proof.Job) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	copied := *job
	f.proofs[job.ID] = &copied
	return nil
}

func (f *fakeStore) DeleteProofJob(_ context.Context, id uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	delete(f.proofs, id)
	return nil
}

func (f *fakeStore) GetProofJob(_ context.Context, id uuid.UUID) (*proof.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	job, ok := f.proofs[id]
	if !ok {
		return nil, proof.ErrProofNotFound
	}
	copied := *job
	return &copied, nil
}

func (f *fakeStore) MarkProofProcessing(context.Context, uuid.UUID) error {
	return errors.New("not used")
}

func (f *fakeStore) FinishProofAttempt(context.Context, uuid.UUID, proof.Outcome) error {
	return errors.New("not used")
}

type fakeProver struct{}

func (fakeProver) Prove(context.Context, string, map[string]any) (proof.Result, error) {
	return proof.Result{Proof: json.RawMessage(`{"pi_a":[]}`), PublicSignals: []string{"1"}}, nil
}

func (fakeProver) Verify(context.Context, string, json.RawMessage, []string) (bool, error) {
	return true, nil
}

// scriptedTransport fails every call to an address in down.
type scriptedTransport struct {
	down map[string]bool
}

func (s *scriptedTransport) Send(_ context.Context, address, _ string, _ any) (json.RawMessage, error) {
	if s.down[address] {
		return nil, errors.New("connection refused")
	}
	return json.RawMessage(`{"slot":42}`), nil
}

package api

import (
	"encoding/json"

	"github.com/vin-jex/relay-gateway/internal/queue"
	"github.com/vin-jex/relay-gateway/internal/rpc"
	"github.com/vin-jex/relay-gateway/internal/webhook"
	"github.com/vin-jex/relay-gateway/internal/workflow"
)

type ErrorBody struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	RequestID string `json:"request_id,omitempty"`
}

type ErrorResponse struct {
	Error ErrorBody `json:"error"`
}

type RPCResponse struct {
	Result json.RawMessage `json:"result"`
}

type EndpointsResponse struct {
	Endpoints []rpc.EndpointStatus `json:"endpoints"`
}

type QueuedResponse struct {
	JobID string `json:"job_id"`
}

type ListWorkflowsResponse struct {
	Workflows []workflow.Workflow `json:"workflows"`
}

type ListExecutionsResponse struct {
	Executions []workflow.Execution `json:"executions"`
}

type PublishEventResponse struct {
	WorkflowJobIDs []string `json:"workflow_job_ids"`
	DeliveryIDs    []string `json:"delivery_ids"`
}

// CreateWebhookResponse is the only place the signing secret is returned.
type CreateWebhookResponse struct {
	Webhook *webhook.Webhook `json:"webhook"`
	Secret  string           `json:"secret"`
}

type ListWebhooksResponse struct {
	Webhooks []webhook.Webhook `json:"webhooks"`
}

type ListDeliveriesResponse struct {
	Deliveries []webhook.Delivery `json:"deliveries"`
}

type ProofAcceptedResponse struct {
	ProofID string `json:"proof_id"`
	Status  string `json:"status"`
}

type VerifyProofResponse struct {
	Valid bool `json:"valid"`
}

type ListJobsResponse struct {
	Jobs []queue.Job `json:"jobs"`
}

type RetryJobResponse struct {
	JobID  string       `json:"job_id"`
	Status queue.Status `json:"status"`
}

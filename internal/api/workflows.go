package api

import (
	"net/http"
	"strconv"

	"github.com/google/uuid"

	"github.com/vin-jex/relay-gateway/internal/workflow"
)

// @Summary Create a workflow
// @Tags Workflows
// @Accept json
// @Produce json
// @Param request body CreateWorkflowRequest true "Workflow definition"
// @Success 201 {object} workflow.Workflow
// @Failure 400 {object} ErrorResponse
// @Failure 401 {object} ErrorResponse
// @Router /v1/workflows [post]
func (s *Server) handleCreateWorkflow(w http.ResponseWriter, r *http.Request) {
	tenant := requireTenant(w, r)
	if tenant == nil {
		return
	}

	var request CreateWorkflowRequest
	if err := decodeJSON(r, &request); err != nil {
		s.fail(w, r, err)
		return
	}

	if request.Name == "" {
		s.fail(w, r, invalid("name is required"))
		return
	}
	if err := request.Trigger.Validate(); err != nil {
		s.fail(w, r, err)
		return
	}
	if len(request.Actions) == 0 {
		s.fail(w, r, invalid("at least one action is required"))
		return
	}
	for i, action := range request.Actions {
		if err := action.Validate(); err != nil {
			s.fail(w, r, invalid("action %d: %v", i, err))
			return
		}
	}

	definition := &workflow.Workflow{
		TenantID:   tenant.ID,
		Name:       request.Name,
		Enabled:    request.Enabled == nil || *request.Enabled,
		Trigger:    request.Trigger,
		Conditions: request.Conditions,
		Actions:    request.Actions,
	}

	if err := s.store.CreateWorkflow(r.Context(), definition); err != nil {
		s.fail(w, r, err)
		return
	}

	LoggerFromContext(r.Context()).Info("workflow created",
		"workflow_id", definition.ID,
		"trigger", definition.Trigger.Kind)

	writeJSON(w, http.StatusCreated, definition)
}

// @Summary List the tenant's workflows
// @Tags Workflows
// @Produce json
// @Success 200 {object} ListWorkflowsResponse
// @Router /v1/workflows [get]
func (s *Server) handleListWorkflows(w http.ResponseWriter, r *http.Request) {
	tenant := requireTenant(w, r)
	if tenant == nil {
		return
	}

	workflows, err := s.store.ListWorkflows(r.Context(), tenant.ID)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, ListWorkflowsResponse{Workflows: workflows})
}

// @Summary Get a workflow
// @Tags Workflows
// @Produce json
// @Param workflowID path string true "Workflow ID"
// @Success 200 {object} workflow.Workflow
// @Failure 404 {object} ErrorResponse
// @Router /v1/workflows/{workflowID} [get]
func (s *Server) handleGetWorkflow(w http.ResponseWriter, r *http.Request) {
	definition, ok := s.ownedWorkflow(w, r)
	if !ok {
		return
	}

	writeJSON(w, http.StatusOK, definition)
}

// @Summary Enable or disable a workflow
// @Tags Workflows
// @Accept json
// @Param workflowID path string true "Workflow ID"
// @Param request body UpdateWorkflowRequest true "New state"
// @Success 204
// @Router /v1/workflows/{workflowID} [patch]
func (s *Server) handleUpdateWorkflow(w http.ResponseWriter, r *http.Request) {
	tenant := requireTenant(w, r)
	if tenant == nil {
		return
	}

	workflowID, err := pathUUID(r, "workflowID")
	if err != nil {
		s.fail(w, r, err)
		return
	}

	var request UpdateWorkflowRequest
	if err := decodeJSON(r, &request); err != nil {
		s.fail(w, r, err)
		return
	}
	if request.Enabled == nil {
		s.fail(w, r, invalid("enabled is required"))
		return
	}

	if err := s.store.SetWorkflowEnabled(r.Context(), tenant.ID, workflowID, *request.Enabled); err != nil {
		s.fail(w, r, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// @Summary Delete a workflow
// @Tags Workflows
// @Param workflowID path string true "Workflow ID"
// @Success 204
// @Router /v1/workflows/{workflowID} [delete]
func (s *Server) handleDeleteWorkflow(w http.ResponseWriter, r *http.Request) {
	tenant := requireTenant(w, r)
	if tenant == nil {
		return
	}

	workflowID, err := pathUUID(r, "workflowID")
	if err != nil {
		s.fail(w, r, err)
		return
	}

	if err := s.store.DeleteWorkflow(r.Context(), tenant.ID, workflowID); err != nil {
		s.fail(w, r, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// @Summary Run a workflow now
// @Description Queues a manual execution; the body becomes the trigger data
// @Tags Workflows
// @Accept json
// @Produce json
// @Param workflowID path string true "Workflow ID"
// @Success 202 {object} QueuedResponse
// @Failure 403 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Router /v1/workflows/{workflowID}/run [post]
func (s *Server) handleRunWorkflow(w http.ResponseWriter, r *http.Request) {
	tenant := requireTenant(w, r)
	if tenant == nil {
		return
	}

	workflowID, err := pathUUID(r, "workflowID")
	if err != nil {
		s.fail(w, r, err)
		return
	}

	var data map[string]any
	if err := decodeOptionalJSON(r, &data); err != nil {
		s.fail(w, r, err)
		return
	}

	jobID, err := s.workflows.RunManual(r.Context(), tenant.ID, workflowID, data)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	writeJSON(w, http.StatusAccepted, QueuedResponse{JobID: jobID.String()})
}

// @Summary List recent executions
// @Tags Workflows
// @Produce json
// @Param workflowID path string true "Workflow ID"
// @Param limit query int false "Maximum executions"
// @Success 200 {object} ListExecutionsResponse
// @Router /v1/workflows/{workflowID}/executions [get]
func (s *Server) handleListExecutions(w http.ResponseWriter, r *http.Request) {
	definition, ok := s.ownedWorkflow(w, r)
	if !ok {
		return
	}

	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	executions, err := s.store.ListExecutions(r.Context(), definition.ID, limit)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, ListExecutionsResponse{Executions: executions})
}

// @Summary Inbound webhook trigger
// @Description Queues a webhook-triggered workflow; the body becomes the trigger data
// @Tags Workflows
// @Accept json
// @Produce json
// @Param workflowID path string true "Workflow ID"
// @Success 202 {object} QueuedResponse
// @Failure 409 {object} ErrorResponse
// @Router /v1/hooks/{workflowID} [post]
func (s *Server) handleInboundHook(w http.ResponseWriter, r *http.Request) {
	workflowID, err := pathUUID(r, "workflowID")
	if err != nil {
		s.fail(w, r, err)
		return
	}

	var data map[string]any
	if err := decodeOptionalJSON(r, &data); err != nil {
		s.fail(w, r, err)
		return
	}

	jobID, err := s.workflows.Inbound(r.Context(), workflowID, data)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	writeJSON(w, http.StatusAccepted, QueuedResponse{JobID: jobID.String()})
}

// @Summary Publish a trigger event
// @Description Fans out to the tenant's event-triggered workflows and subscribed webhooks
// @Tags Workflows
// @Accept json
// @Produce json
// @Param request body PublishEventRequest true "Event"
// @Success 202 {object} PublishEventResponse
// @Router /v1/events [post]
func (s *Server) handlePublishEvent(w http.ResponseWriter, r *http.Request) {
	tenant := requireTenant(w, r)
	if tenant == nil {
		return
	}

	var request PublishEventRequest
	if err := decodeJSON(r, &request); err != nil {
		s.fail(w, r, err)
		return
	}
	if request.Event == "" {
		s.fail(w, r, invalid("event is required"))
		return
	}

	jobIDs, err := s.workflows.Publish(r.Context(), tenant.ID, request.Event, request.Data)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	deliveryIDs, err := s.webhooks.Dispatch(r.Context(), tenant.ID, request.Event, request.Data)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	LoggerFromContext(r.Context()).Info("event published",
		"event", request.Event,
		"workflows", len(jobIDs),
		"deliveries", len(deliveryIDs))

	writeJSON(w, http.StatusAccepted, PublishEventResponse{
		WorkflowJobIDs: idStrings(jobIDs),
		DeliveryIDs:    idStrings(deliveryIDs),
	})
}

// ownedWorkflow loads the path's workflow for the calling tenant. Another
// tenant's workflow reads as not found.
func (s *Server) ownedWorkflow(w http.ResponseWriter, r *http.Request) (*workflow.Workflow, bool) {
	tenant := requireTenant(w, r)
	if tenant == nil {
		return nil, false
	}

	workflowID, err := pathUUID(r, "workflowID")
	if err != nil {
		s.fail(w, r, err)
		return nil, false
	}

	definition, err := s.store.GetWorkflow(r.Context(), workflowID)
	if err == nil && definition.TenantID != tenant.ID {
		err = workflow.ErrWorkflowNotFound
	}
	if err != nil {
		s.fail(w, r, err)
		return nil, false
	}

	return definition, true
}

func idStrings(ids []uuid.UUID) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = id.String()
	}
	return out
}

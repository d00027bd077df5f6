package api

import (
	"crypto/rand"
	"net/http"
	"net/url"
	"strconv"

	"github.com/vin-jex/relay-gateway/internal/queue"
	"github.com/vin-jex/relay-gateway/internal/webhook"
)

const maxWebhookAttempts = 10

// @Summary Register a webhook
// @Description Subscribes a URL to events. The signing secret is only returned here.
// @Tags Webhooks
// @Accept json
// @Produce json
// @Param request body CreateWebhookRequest true "Webhook"
// @Success 201 {object} CreateWebhookResponse
// @Failure 400 {object} ErrorResponse
// @Router /v1/webhooks [post]
func (s *Server) handleCreateWebhook(w http.ResponseWriter, r *http.Request) {
	tenant := requireTenant(w, r)
	if tenant == nil {
		return
	}

	var request CreateWebhookRequest
	if err := decodeJSON(r, &request); err != nil {
		s.fail(w, r, err)
		return
	}

	target, err := url.Parse(request.URL)
	if err != nil || (target.Scheme != "http" && target.Scheme != "https") || target.Host == "" {
		s.fail(w, r, invalid("url must be an absolute http(s) URL"))
		return
	}
	if len(request.Events) == 0 {
		s.fail(w, r, invalid("at least one event is required"))
		return
	}
	if request.MaxAttempts < 0 || request.MaxAttempts > maxWebhookAttempts {
		s.fail(w, r, invalid("max_attempts must be between 1 and %d", maxWebhookAttempts))
		return
	}

	maxAttempts := request.MaxAttempts
	if maxAttempts == 0 {
		maxAttempts = s.webhookPolicyAttempts()
	}

	secret := request.Secret
	if secret == "" {
		secret = "whsec_" + rand.Text()
	}

	hook := &webhook.Webhook{
		TenantID:    tenant.ID,
		URL:         request.URL,
		Secret:      secret,
		Events:      request.Events,
		Enabled:     true,
		MaxAttempts: maxAttempts,
	}

	if err := s.store.CreateWebhook(r.Context(), hook); err != nil {
		s.fail(w, r, err)
		return
	}

	LoggerFromContext(r.Context()).Info("webhook created", "webhook_id", hook.ID, "events", hook.Events)

	writeJSON(w, http.StatusCreated, CreateWebhookResponse{Webhook: hook, Secret: secret})
}

// @Summary List the tenant's webhooks
// @Tags Webhooks
// @Produce json
// @Success 200 {object} ListWebhooksResponse
// @Router /v1/webhooks [get]
func (s *Server) handleListWebhooks(w http.ResponseWriter, r *http.Request) {
	tenant := requireTenant(w, r)
	if tenant == nil {
		return
	}

	hooks, err := s.store.ListWebhooks(r.Context(), tenant.ID)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, ListWebhooksResponse{Webhooks: hooks})
}

// @Summary Delete a webhook
// @Tags Webhooks
// @Param webhookID path string true "Webhook ID"
// @Success 204
// @Router /v1/webhooks/{webhookID} [delete]
func (s *Server) handleDeleteWebhook(w http.ResponseWriter, r *http.Request) {
	tenant := requireTenant(w, r)
	if tenant == nil {
		return
	}

	webhookID, err := pathUUID(r, "webhookID")
	if err != nil {
		s.fail(w, r, err)
		return
	}

	if err := s.store.DeleteWebhook(r.Context(), tenant.ID, webhookID); err != nil {
		s.fail(w, r, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// @Summary Send a test delivery
// @Description Sends one signed webhook.test event. Nothing is recorded and the attempt is not retried.
// @Tags Webhooks
// @Produce json
// @Param webhookID path string true "Webhook ID"
// @Success 200 {object} webhook.Result
// @Router /v1/webhooks/{webhookID}/test [post]
func (s *Server) handleTestWebhook(w http.ResponseWriter, r *http.Request) {
	hook, ok := s.ownedWebhook(w, r)
	if !ok {
		return
	}

	// The outcome of the attempt is the response, whether or not the
	// receiver accepted it.
	result, _ := s.deliverer.Test(r.Context(), hook)

	writeJSON(w, http.StatusOK, result)
}

// @Summary List recent deliveries
// @Tags Webhooks
// @Produce json
// @Param webhookID path string true "Webhook ID"
// @Param limit query int false "Maximum deliveries"
// @Success 200 {object} ListDeliveriesResponse
// @Router /v1/webhooks/{webhookID}/deliveries [get]
func (s *Server) handleListDeliveries(w http.ResponseWriter, r *http.Request) {
	hook, ok := s.ownedWebhook(w, r)
	if !ok {
		return
	}

	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	deliveries, err := s.store.ListDeliveries(r.Context(), hook.ID, limit)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, ListDeliveriesResponse{Deliveries: deliveries})
}

func (s *Server) ownedWebhook(w http.ResponseWriter, r *http.Request) (*webhook.Webhook, bool) {
	tenant := requireTenant(w, r)
	if tenant == nil {
		return nil, false
	}

	webhookID, err := pathUUID(r, "webhookID")
	if err != nil {
		s.fail(w, r, err)
		return nil, false
	}

	hook, err := s.store.GetWebhook(r.Context(), webhookID)
	if err == nil && hook.TenantID != tenant.ID {
		err = webhook.ErrWebhookNotFound
	}
	if err != nil {
		s.fail(w, r, err)
		return nil, false
	}

	return hook, true
}

func (s *Server) webhookPolicyAttempts() int {
	if q, ok := s.queues[queue.WebhookQueue]; ok {
		return q.Policy().MaxAttempts
	}
	return queue.WebhookPolicy().MaxAttempts
}

package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/vin-jex/relay-gateway/internal/proof"
	"github.com/vin-jex/relay-gateway/internal/queue"
	"github.com/vin-jex/relay-gateway/internal/store"
	"github.com/vin-jex/relay-gateway/internal/webhook"
)

// @Summary List jobs of a queue
// @Description Lists jobs oldest first, optionally filtered by status (e.g. dead)
// @Tags Jobs
// @Produce json
// @Param queue path string true "Queue name" Enums(workflow, webhook, proof)
// @Param status query string false "Job status"
// @Param limit query int false "Maximum jobs"
// @Success 200 {object} ListJobsResponse
// @Router /v1/jobs/{queue} [get]
func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	q, err := s.queueFor(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	var status queue.Status
	if raw := r.URL.Query().Get("status"); raw != "" {
		if status, err = queue.ParseStatus(raw); err != nil {
			s.fail(w, r, invalid("%v", err))
			return
		}
	}

	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	jobs, err := q.List(r.Context(), status, limit)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, ListJobsResponse{Jobs: jobs})
}

// @Summary Queue counts by status
// @Tags Jobs
// @Produce json
// @Param queue path string true "Queue name"
// @Success 200 {object} queue.Stats
// @Router /v1/jobs/{queue}/stats [get]
func (s *Server) handleQueueStats(w http.ResponseWriter, r *http.Request) {
	q, err := s.queueFor(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	stats, err := q.Stats(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, stats)
}

// @Summary Inspect a job
// @Tags Jobs
// @Produce json
// @Param queue path string true "Queue name"
// @Param jobID path string true "Job ID"
// @Success 200 {object} queue.Job
// @Failure 404 {object} ErrorResponse
// @Router /v1/jobs/{queue}/{jobID} [get]
func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	q, err := s.queueFor(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	jobID, err := pathUUID(r, "jobID")
	if err != nil {
		s.fail(w, r, err)
		return
	}

	job, err := q.Get(r.Context(), jobID)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, job)
}

// @Summary Resubmit a dead or failed job
// @Description Moves the job back to waiting with a fresh attempt budget and reopens its delivery or proof record
// @Tags Jobs
// @Produce json
// @Param queue path string true "Queue name"
// @Param jobID path string true "Job ID"
// @Success 202 {object} RetryJobResponse
// @Failure 409 {object} ErrorResponse
// @Router /v1/jobs/{queue}/{jobID}/retry [post]
func (s *Server) handleRetryJob(w http.ResponseWriter, r *http.Request) {
	q, err := s.queueFor(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	jobID, err := pathUUID(r, "jobID")
	if err != nil {
		s.fail(w, r, err)
		return
	}

	if err := Resubmit(r.Context(), s.store, q, jobID); err != nil {
		s.fail(w, r, err)
		return
	}

	LoggerFromContext(r.Context()).Info("job resubmitted", "queue", q.Name(), "job_id", jobID)

	writeJSON(w, http.StatusAccepted, RetryJobResponse{JobID: jobID.String(), Status: queue.StatusWaiting})
}

// Reopener moves the domain record behind a job back to its retryable
// state.
type Reopener interface {
	ReopenDelivery(ctx context.Context, id uuid.UUID) error
	ReopenProofJob(ctx context.Context, id uuid.UUID) error
}

// Resubmit reopens the domain record behind a dead or failed job, then
// returns the job to the queue with a fresh attempt budget.
func Resubmit(ctx context.Context, reopener Reopener, q queue.Queue, jobID uuid.UUID) error {
	job, err := q.Get(ctx, jobID)
	if err != nil {
		return err
	}
	if job.Status != queue.StatusDead && job.Status != queue.StatusFailed {
		return queue.ErrNotRetryable
	}

	var reopenErr error
	switch q.Name() {
	case queue.WebhookQueue:
		var payload webhook.JobPayload
		if err := job.Decode(&payload); err != nil {
			return fmt.Errorf("decode webhook job: %w", err)
		}
		reopenErr = reopener.ReopenDelivery(ctx, payload.DeliveryID)
	case queue.ProofQueue:
		var payload proof.JobPayload
		if err := job.Decode(&payload); err != nil {
			return fmt.Errorf("decode proof job: %w", err)
		}
		reopenErr = reopener.ReopenProofJob(ctx, payload.ProofID)
	}

	// A record that is not in its failed state (e.g. still pending after a
	// stalled final attempt) needs no reopening.
	if reopenErr != nil && !errors.Is(reopenErr, store.ErrInvalidStateTransition) {
		return reopenErr
	}

	return q.Retry(ctx, jobID)
}

func (s *Server) queueFor(r *http.Request) (queue.Queue, error) {
	name := mux.Vars(r)["queue"]

	q, ok := s.queues[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", queue.ErrUnknownQueue, name)
	}
	return q, nil
}

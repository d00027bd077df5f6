package api

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/vin-jex/relay-gateway/internal/proof"
)

// @Summary Queue a proof
// @Description Records a pending proof job and returns immediately. A full proof queue is rejected with 503.
// @Tags Proofs
// @Accept json
// @Produce json
// @Param request body SubmitProofRequest true "Circuit and inputs"
// @Success 202 {object} ProofAcceptedResponse
// @Failure 404 {object} ErrorResponse
// @Failure 503 {object} ErrorResponse
// @Router /v1/proofs [post]
func (s *Server) handleSubmitProof(w http.ResponseWriter, r *http.Request) {
	var request SubmitProofRequest
	if err := decodeJSON(r, &request); err != nil {
		s.fail(w, r, err)
		return
	}
	if !proof.KnownCircuit(request.CircuitID) {
		s.fail(w, r, proof.ErrUnknownCircuit)
		return
	}

	submit := proof.SubmitRequest{
		CircuitID:   request.CircuitID,
		Inputs:      request.Inputs,
		CallbackURL: request.CallbackURL,
	}
	if tenant := tenantFromContext(r.Context()); tenant != nil {
		submit.TenantID = &tenant.ID
	}

	job, err := s.proofs.Submit(r.Context(), submit)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	writeJSON(w, http.StatusAccepted, ProofAcceptedResponse{
		ProofID: job.ID.String(),
		Status:  string(job.Status),
	})
}

// @Summary Prove synchronously
// @Description Runs one of the canonical circuits (balance, holder, threshold) inside the request
// @Tags Proofs
// @Accept json
// @Produce json
// @Param circuitID path string true "Circuit"
// @Success 200 {object} proof.Result
// @Failure 422 {object} ErrorResponse
// @Router /v1/proofs/{circuitID}/sync [post]
func (s *Server) handleSyncProof(w http.ResponseWriter, r *http.Request) {
	var inputs map[string]any
	if err := decodeJSON(r, &inputs); err != nil {
		s.fail(w, r, err)
		return
	}

	result, err := s.proofs.GenerateSync(r.Context(), mux.Vars(r)["circuitID"], inputs)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// @Summary Proof job status
// @Tags Proofs
// @Produce json
// @Param proofID path string true "Proof ID"
// @Success 200 {object} proof.Job
// @Failure 404 {object} ErrorResponse
// @Router /v1/proofs/{proofID} [get]
func (s *Server) handleGetProof(w http.ResponseWriter, r *http.Request) {
	proofID, err := pathUUID(r, "proofID")
	if err != nil {
		s.fail(w, r, err)
		return
	}

	job, err := s.proofs.Get(r.Context(), proofID)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	if job.TenantID != nil {
		if tenant := tenantFromContext(r.Context()); tenant == nil || tenant.ID != *job.TenantID {
			s.fail(w, r, proof.ErrProofNotFound)
			return
		}
	}

	writeJSON(w, http.StatusOK, job)
}

// @Summary Verify a proof
// @Tags Proofs
// @Accept json
// @Produce json
// @Param request body VerifyProofRequest true "Proof"
// @Success 200 {object} VerifyProofResponse
// @Router /v1/proofs/verify [post]
func (s *Server) handleVerifyProof(w http.ResponseWriter, r *http.Request) {
	var request VerifyProofRequest
	if err := decodeJSON(r, &request); err != nil {
		s.fail(w, r, err)
		return
	}
	if len(request.Proof) == 0 {
		s.fail(w, r, invalid("proof is required"))
		return
	}

	valid, err := s.proofs.Verify(r.Context(), request.CircuitID, request.Proof, request.PublicSignals)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, VerifyProofResponse{Valid: valid})
}

package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/dialcore/dialcore/internal/database/models"
	"github.com/dialcore/dialcore/internal/flow"
)

// flowRequest is the JSON request body for creating/updating an IVR flow.
// Definition is the flow graph JSON, stored verbatim once it validates.
type flowRequest struct {
	FlowID     string `json:"flow_id"`
	Name       string `json:"name"`
	Definition string `json:"definition"`
}

// flowResponse is the JSON response for a single IVR flow.
type flowResponse struct {
	ID         int64  `json:"id"`
	FlowID     string `json:"flow_id"`
	Name       string `json:"name"`
	Definition string `json:"definition"`
	CreatedAt  string `json:"created_at"`
	UpdatedAt  string `json:"updated_at"`
}

func toFlowResponse(f *models.IVRFlow) flowResponse {
	return flowResponse{
		ID:         f.ID,
		FlowID:     f.FlowID,
		Name:       f.Name,
		Definition: f.Definition,
		CreatedAt:  f.CreatedAt.Format(time.RFC3339),
		UpdatedAt:  f.UpdatedAt.Format(time.RFC3339),
	}
}

func validateFlowRequest(req flowRequest) string {
	if msg := validateRequiredStringLen("flow_id", req.FlowID, maxShortStringLen); msg != "" {
		return msg
	}
	if msg := validateNoControlChars("flow_id", req.FlowID); msg != "" {
		return msg
	}
	if msg := validateRequiredStringLen("name", req.Name, maxNameLen); msg != "" {
		return msg
	}
	if msg := validateNoControlChars("name", req.Name); msg != "" {
		return msg
	}
	return validateRequiredStringLen("definition", req.Definition, maxFlowDataLen)
}

// checkDefinition parses and structurally validates a flow definition.
// Returns the validation result and an error string suitable for a 400.
// Warnings do not block storage; error-level issues do.
func checkDefinition(definition string) (*flow.ValidationResult, string) {
	parsed, err := flow.ParseFlow(definition)
	if err != nil {
		return nil, "definition is not valid flow JSON: " + err.Error()
	}
	result := flow.Validate(parsed)
	if !result.Valid {
		return result, "definition has validation errors"
	}
	return result, ""
}

// handleListFlows returns all stored IVR flows.
func (s *Server) handleListFlows(w http.ResponseWriter, r *http.Request) {
	flows, err := s.flows.List(r.Context())
	if err != nil {
		s.logger.Error("list flows failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	items := make([]flowResponse, len(flows))
	for i := range flows {
		items[i] = toFlowResponse(&flows[i])
	}

	writeJSON(w, http.StatusOK, items)
}

// handleCreateFlow stores a new IVR flow. The definition must parse and
// pass structural validation; calls already in other flows are unaffected.
func (s *Server) handleCreateFlow(w http.ResponseWriter, r *http.Request) {
	var req flowRequest
	if errMsg := readJSON(r, &req); errMsg != "" {
		writeError(w, http.StatusBadRequest, errMsg)
		return
	}
	if errMsg := validateFlowRequest(req); errMsg != "" {
		writeError(w, http.StatusBadRequest, errMsg)
		return
	}
	if _, errMsg := checkDefinition(req.Definition); errMsg != "" {
		writeError(w, http.StatusBadRequest, errMsg)
		return
	}

	existing, err := s.flows.GetByFlowID(r.Context(), req.FlowID)
	if err != nil {
		s.logger.Error("create flow: lookup failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if existing != nil {
		writeError(w, http.StatusConflict, "flow_id already exists")
		return
	}

	f := &models.IVRFlow{
		FlowID:     req.FlowID,
		Name:       req.Name,
		Definition: req.Definition,
	}
	if err := s.flows.Create(r.Context(), f); err != nil {
		s.logger.Error("create flow failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	// Re-fetch to get timestamps populated by the database.
	created, err := s.flows.GetByID(r.Context(), f.ID)
	if err != nil || created == nil {
		s.logger.Error("create flow: re-fetch failed", "error", err, "flow_db_id", f.ID)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	s.logger.Info("flow created", "flow_id", created.FlowID)
	writeJSON(w, http.StatusCreated, toFlowResponse(created))
}

// handleGetFlow returns a single IVR flow by database ID.
func (s *Server) handleGetFlow(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid flow id")
		return
	}

	f, err := s.flows.GetByID(r.Context(), id)
	if err != nil {
		s.logger.Error("get flow failed", "error", err, "flow_db_id", id)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if f == nil {
		writeError(w, http.StatusNotFound, "flow not found")
		return
	}

	writeJSON(w, http.StatusOK, toFlowResponse(f))
}

// handleUpdateFlow replaces a stored IVR flow. Calls currently traversing
// the flow keep their parsed snapshot and never see the update.
func (s *Server) handleUpdateFlow(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid flow id")
		return
	}

	var req flowRequest
	if errMsg := readJSON(r, &req); errMsg != "" {
		writeError(w, http.StatusBadRequest, errMsg)
		return
	}
	if errMsg := validateFlowRequest(req); errMsg != "" {
		writeError(w, http.StatusBadRequest, errMsg)
		return
	}
	if _, errMsg := checkDefinition(req.Definition); errMsg != "" {
		writeError(w, http.StatusBadRequest, errMsg)
		return
	}

	f, err := s.flows.GetByID(r.Context(), id)
	if err != nil {
		s.logger.Error("update flow: lookup failed", "error", err, "flow_db_id", id)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if f == nil {
		writeError(w, http.StatusNotFound, "flow not found")
		return
	}

	f.FlowID = req.FlowID
	f.Name = req.Name
	f.Definition = req.Definition

	if err := s.flows.Update(r.Context(), f); err != nil {
		s.logger.Error("update flow failed", "error", err, "flow_db_id", id)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	updated, err := s.flows.GetByID(r.Context(), id)
	if err != nil || updated == nil {
		s.logger.Error("update flow: re-fetch failed", "error", err, "flow_db_id", id)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	writeJSON(w, http.StatusOK, toFlowResponse(updated))
}

// handleDeleteFlow removes a stored IVR flow. Calls traversing it continue
// on their snapshot; new calls routed to it get no-route.
func (s *Server) handleDeleteFlow(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid flow id")
		return
	}

	f, err := s.flows.GetByID(r.Context(), id)
	if err != nil {
		s.logger.Error("delete flow: lookup failed", "error", err, "flow_db_id", id)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if f == nil {
		writeError(w, http.StatusNotFound, "flow not found")
		return
	}

	if err := s.flows.Delete(r.Context(), id); err != nil {
		s.logger.Error("delete flow failed", "error", err, "flow_db_id", id)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	s.logger.Info("flow deleted", "flow_id", f.FlowID)
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

// handleValidateFlow runs structural validation against a stored flow and
// returns the full issue list, warnings included.
func (s *Server) handleValidateFlow(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid flow id")
		return
	}

	f, err := s.flows.GetByID(r.Context(), id)
	if err != nil {
		s.logger.Error("validate flow: lookup failed", "error", err, "flow_db_id", id)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if f == nil {
		writeError(w, http.StatusNotFound, "flow not found")
		return
	}

	parsed, err := flow.ParseFlow(f.Definition)
	if err != nil {
		// Stored before stricter validation, or hand-edited. Report it as
		// a validation result rather than a server error.
		writeJSON(w, http.StatusOK, &flow.ValidationResult{
			Valid: false,
			Issues: []flow.ValidationIssue{{
				Severity: flow.SeverityError,
				Message:  "definition is not valid flow JSON: " + err.Error(),
			}},
		})
		return
	}

	writeJSON(w, http.StatusOK, flow.Validate(parsed))
}

package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/dialcore/dialcore/internal/database/models"
	"github.com/dialcore/dialcore/internal/routing"
)

// virtualNumberRequest is the JSON request body for creating/updating a
// virtual number.
type virtualNumberRequest struct {
	Number     string `json:"number"`
	RouteType  string `json:"route_type"`
	RouteTo    string `json:"route_to"`
	Department string `json:"department"`
	Active     *bool  `json:"active"`
}

// virtualNumberResponse is the JSON response for a single virtual number.
type virtualNumberResponse struct {
	ID         int64  `json:"id"`
	Number     string `json:"number"`
	RouteType  string `json:"route_type"`
	RouteTo    string `json:"route_to"`
	Department string `json:"department"`
	Active     bool   `json:"active"`
	CreatedAt  string `json:"created_at"`
	UpdatedAt  string `json:"updated_at"`
}

// toVirtualNumberResponse converts a models.VirtualNumber to the API response.
func toVirtualNumberResponse(vn *models.VirtualNumber) virtualNumberResponse {
	return virtualNumberResponse{
		ID:         vn.ID,
		Number:     vn.Number,
		RouteType:  vn.RouteType,
		RouteTo:    vn.RouteTo,
		Department: vn.Department,
		Active:     vn.Active,
		CreatedAt:  vn.CreatedAt.Format(time.RFC3339),
		UpdatedAt:  vn.UpdatedAt.Format(time.RFC3339),
	}
}

func validateVirtualNumberRequest(req virtualNumberRequest) string {
	if errMsg := validatePhoneNumber("number", req.Number); errMsg != "" {
		return errMsg
	}
	if req.RouteType != routing.TargetAgent && req.RouteType != routing.TargetFlow {
		return "route_type must be \"agent\" or \"flow\""
	}
	if errMsg := validateRequiredStringLen("route_to", req.RouteTo, maxShortStringLen); errMsg != "" {
		return errMsg
	}
	return validateStringLen("department", req.Department, maxNameLen)
}

// handleListNumbers returns all virtual numbers.
func (s *Server) handleListNumbers(w http.ResponseWriter, r *http.Request) {
	numbers, err := s.numbers.List(r.Context())
	if err != nil {
		s.logger.Error("list virtual numbers failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	items := make([]virtualNumberResponse, len(numbers))
	for i := range numbers {
		items[i] = toVirtualNumberResponse(&numbers[i])
	}

	writeJSON(w, http.StatusOK, items)
}

// handleCreateNumber creates a new virtual number mapping.
func (s *Server) handleCreateNumber(w http.ResponseWriter, r *http.Request) {
	var req virtualNumberRequest
	if errMsg := readJSON(r, &req); errMsg != "" {
		writeError(w, http.StatusBadRequest, errMsg)
		return
	}
	if errMsg := validateVirtualNumberRequest(req); errMsg != "" {
		writeError(w, http.StatusBadRequest, errMsg)
		return
	}

	existing, err := s.numbers.GetByNumber(r.Context(), req.Number)
	if err != nil {
		s.logger.Error("create virtual number: lookup failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if existing != nil {
		writeError(w, http.StatusConflict, "number already exists")
		return
	}

	active := true
	if req.Active != nil {
		active = *req.Active
	}

	vn := &models.VirtualNumber{
		Number:     req.Number,
		RouteType:  req.RouteType,
		RouteTo:    req.RouteTo,
		Department: req.Department,
		Active:     active,
	}
	if err := s.numbers.Create(r.Context(), vn); err != nil {
		s.logger.Error("create virtual number failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	// Re-fetch to get timestamps populated by the database.
	created, err := s.numbers.GetByID(r.Context(), vn.ID)
	if err != nil || created == nil {
		s.logger.Error("create virtual number: re-fetch failed", "error", err, "number_id", vn.ID)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	s.logger.Info("virtual number created", "number_id", created.ID, "number", created.Number)
	writeJSON(w, http.StatusCreated, toVirtualNumberResponse(created))
}

// handleGetNumber returns a single virtual number by ID.
func (s *Server) handleGetNumber(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid number id")
		return
	}

	vn, err := s.numbers.GetByID(r.Context(), id)
	if err != nil {
		s.logger.Error("get virtual number failed", "error", err, "number_id", id)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if vn == nil {
		writeError(w, http.StatusNotFound, "number not found")
		return
	}

	writeJSON(w, http.StatusOK, toVirtualNumberResponse(vn))
}

// handleUpdateNumber replaces a virtual number mapping.
func (s *Server) handleUpdateNumber(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid number id")
		return
	}

	var req virtualNumberRequest
	if errMsg := readJSON(r, &req); errMsg != "" {
		writeError(w, http.StatusBadRequest, errMsg)
		return
	}
	if errMsg := validateVirtualNumberRequest(req); errMsg != "" {
		writeError(w, http.StatusBadRequest, errMsg)
		return
	}

	vn, err := s.numbers.GetByID(r.Context(), id)
	if err != nil {
		s.logger.Error("update virtual number: lookup failed", "error", err, "number_id", id)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if vn == nil {
		writeError(w, http.StatusNotFound, "number not found")
		return
	}

	vn.Number = req.Number
	vn.RouteType = req.RouteType
	vn.RouteTo = req.RouteTo
	vn.Department = req.Department
	if req.Active != nil {
		vn.Active = *req.Active
	}

	if err := s.numbers.Update(r.Context(), vn); err != nil {
		s.logger.Error("update virtual number failed", "error", err, "number_id", id)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	updated, err := s.numbers.GetByID(r.Context(), id)
	if err != nil || updated == nil {
		s.logger.Error("update virtual number: re-fetch failed", "error", err, "number_id", id)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	writeJSON(w, http.StatusOK, toVirtualNumberResponse(updated))
}

// handleDeleteNumber removes a virtual number mapping. Calls already routed
// through it are unaffected.
func (s *Server) handleDeleteNumber(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid number id")
		return
	}

	vn, err := s.numbers.GetByID(r.Context(), id)
	if err != nil {
		s.logger.Error("delete virtual number: lookup failed", "error", err, "number_id", id)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if vn == nil {
		writeError(w, http.StatusNotFound, "number not found")
		return
	}

	if err := s.numbers.Delete(r.Context(), id); err != nil {
		s.logger.Error("delete virtual number failed", "error", err, "number_id", id)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	s.logger.Info("virtual number deleted", "number_id", id, "number", vn.Number)
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/dialcore/dialcore/internal/api/middleware"
	"github.com/dialcore/dialcore/internal/database"
	"github.com/dialcore/dialcore/internal/database/models"
)

// agentRequest is the JSON request body for creating/updating an agent.
// Password is write-only; it is hashed before storage and never returned.
type agentRequest struct {
	AgentID    string `json:"agent_id"`
	Name       string `json:"name"`
	Email      string `json:"email"`
	Extension  string `json:"extension"`
	Password   string `json:"password"`
	Status     string `json:"status"`
	Department string `json:"department"`
}

// agentResponse is the JSON response for a single agent.
type agentResponse struct {
	ID         int64  `json:"id"`
	AgentID    string `json:"agent_id"`
	Name       string `json:"name"`
	Email      string `json:"email"`
	Extension  string `json:"extension"`
	Status     string `json:"status"`
	Department string `json:"department"`
	CreatedAt  string `json:"created_at"`
	UpdatedAt  string `json:"updated_at"`
}

func toAgentResponse(a *models.Agent) agentResponse {
	return agentResponse{
		ID:         a.ID,
		AgentID:    a.AgentID,
		Name:       a.Name,
		Email:      a.Email,
		Extension:  a.Extension,
		Status:     a.Status,
		Department: a.Department,
		CreatedAt:  a.CreatedAt.Format(time.RFC3339),
		UpdatedAt:  a.UpdatedAt.Format(time.RFC3339),
	}
}

func validAgentStatus(status string) bool {
	switch status {
	case models.AgentAvailable, models.AgentBusy, models.AgentOffline:
		return true
	}
	return false
}

func validateAgentRequest(req agentRequest, isCreate bool) string {
	if msg := validateRequiredStringLen("agent_id", req.AgentID, maxShortStringLen); msg != "" {
		return msg
	}
	if msg := validateNoControlChars("agent_id", req.AgentID); msg != "" {
		return msg
	}
	if msg := validateRequiredStringLen("name", req.Name, maxNameLen); msg != "" {
		return msg
	}
	if msg := validateNoControlChars("name", req.Name); msg != "" {
		return msg
	}
	if msg := validateEmail("email", req.Email); msg != "" {
		return msg
	}
	if msg := validateExtensionNumber("extension", req.Extension); msg != "" {
		return msg
	}
	if isCreate && req.Password == "" {
		return "password is required"
	}
	if msg := validateStringLen("password", req.Password, maxPasswordLen); msg != "" {
		return msg
	}
	if req.Status != "" && !validAgentStatus(req.Status) {
		return "status must be \"available\", \"busy\", or \"offline\""
	}
	return validateStringLen("department", req.Department, maxNameLen)
}

// handleListAgents returns all agents.
func (s *Server) handleListAgents(w http.ResponseWriter, r *http.Request) {
	agents, err := s.agents.List(r.Context())
	if err != nil {
		s.logger.Error("list agents failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	items := make([]agentResponse, len(agents))
	for i := range agents {
		items[i] = toAgentResponse(&agents[i])
	}

	writeJSON(w, http.StatusOK, items)
}

// handleCreateAgent registers a new agent. New agents start offline unless
// the request says otherwise.
func (s *Server) handleCreateAgent(w http.ResponseWriter, r *http.Request) {
	var req agentRequest
	if errMsg := readJSON(r, &req); errMsg != "" {
		writeError(w, http.StatusBadRequest, errMsg)
		return
	}
	if errMsg := validateAgentRequest(req, true); errMsg != "" {
		writeError(w, http.StatusBadRequest, errMsg)
		return
	}

	existing, err := s.agents.GetByAgentID(r.Context(), req.AgentID)
	if err != nil {
		s.logger.Error("create agent: lookup failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if existing != nil {
		writeError(w, http.StatusConflict, "agent_id already exists")
		return
	}

	hash, err := database.HashPassword(req.Password)
	if err != nil {
		s.logger.Error("create agent: hash password failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	status := models.AgentOffline
	if req.Status != "" {
		status = req.Status
	}

	agent := &models.Agent{
		AgentID:      req.AgentID,
		Name:         req.Name,
		Email:        req.Email,
		Extension:    req.Extension,
		PasswordHash: hash,
		Status:       status,
		Department:   req.Department,
	}
	if err := s.agents.Create(r.Context(), agent); err != nil {
		s.logger.Error("create agent failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	// Re-fetch to get timestamps populated by the database.
	created, err := s.agents.GetByID(r.Context(), agent.ID)
	if err != nil || created == nil {
		s.logger.Error("create agent: re-fetch failed", "error", err, "agent_db_id", agent.ID)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	s.logger.Info("agent created", "agent_id", created.AgentID)
	writeJSON(w, http.StatusCreated, toAgentResponse(created))
}

// handleGetAgent returns a single agent by database ID.
func (s *Server) handleGetAgent(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid agent id")
		return
	}

	agent, err := s.agents.GetByID(r.Context(), id)
	if err != nil {
		s.logger.Error("get agent failed", "error", err, "agent_db_id", id)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if agent == nil {
		writeError(w, http.StatusNotFound, "agent not found")
		return
	}

	writeJSON(w, http.StatusOK, toAgentResponse(agent))
}

// handleUpdateAgent updates an agent. An empty password leaves the stored
// hash untouched.
func (s *Server) handleUpdateAgent(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid agent id")
		return
	}

	var req agentRequest
	if errMsg := readJSON(r, &req); errMsg != "" {
		writeError(w, http.StatusBadRequest, errMsg)
		return
	}
	if errMsg := validateAgentRequest(req, false); errMsg != "" {
		writeError(w, http.StatusBadRequest, errMsg)
		return
	}

	agent, err := s.agents.GetByID(r.Context(), id)
	if err != nil {
		s.logger.Error("update agent: lookup failed", "error", err, "agent_db_id", id)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if agent == nil {
		writeError(w, http.StatusNotFound, "agent not found")
		return
	}

	agent.AgentID = req.AgentID
	agent.Name = req.Name
	agent.Email = req.Email
	agent.Extension = req.Extension
	agent.Department = req.Department
	if req.Status != "" {
		agent.Status = req.Status
	}
	if req.Password != "" {
		hash, err := database.HashPassword(req.Password)
		if err != nil {
			s.logger.Error("update agent: hash password failed", "error", err, "agent_db_id", id)
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}
		agent.PasswordHash = hash
	}

	if err := s.agents.Update(r.Context(), agent); err != nil {
		s.logger.Error("update agent failed", "error", err, "agent_db_id", id)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	updated, err := s.agents.GetByID(r.Context(), id)
	if err != nil || updated == nil {
		s.logger.Error("update agent: re-fetch failed", "error", err, "agent_db_id", id)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	writeJSON(w, http.StatusOK, toAgentResponse(updated))
}

// handleDeleteAgent removes an agent. Virtual numbers still routing to the
// agent become dead routes and resolve to no-route until re-pointed.
func (s *Server) handleDeleteAgent(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid agent id")
		return
	}

	agent, err := s.agents.GetByID(r.Context(), id)
	if err != nil {
		s.logger.Error("delete agent: lookup failed", "error", err, "agent_db_id", id)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if agent == nil {
		writeError(w, http.StatusNotFound, "agent not found")
		return
	}

	if err := s.agents.Delete(r.Context(), id); err != nil {
		s.logger.Error("delete agent failed", "error", err, "agent_db_id", id)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	s.logger.Info("agent deleted", "agent_id", agent.AgentID)
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

// agentStatusRequest is the JSON body for presence updates.
type agentStatusRequest struct {
	Status string `json:"status"`
}

// handleSetAgentStatus updates an agent's presence.
func (s *Server) handleSetAgentStatus(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid agent id")
		return
	}

	var req agentStatusRequest
	if errMsg := readJSON(r, &req); errMsg != "" {
		writeError(w, http.StatusBadRequest, errMsg)
		return
	}
	if !validAgentStatus(req.Status) {
		writeError(w, http.StatusBadRequest, "status must be \"available\", \"busy\", or \"offline\"")
		return
	}

	agent, err := s.agents.GetByID(r.Context(), id)
	if err != nil {
		s.logger.Error("set agent status: lookup failed", "error", err, "agent_db_id", id)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if agent == nil {
		writeError(w, http.StatusNotFound, "agent not found")
		return
	}

	if err := s.agents.SetStatus(r.Context(), agent.AgentID, req.Status); err != nil {
		s.logger.Error("set agent status failed", "error", err, "agent_id", agent.AgentID)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	s.logger.Info("agent status changed", "agent_id", agent.AgentID, "status", req.Status)
	agent.Status = req.Status
	writeJSON(w, http.StatusOK, toAgentResponse(agent))
}

// loginRequest is the JSON body for agent authentication.
type loginRequest struct {
	AgentID  string `json:"agent_id"`
	Password string `json:"password"`
}

// loginResponse carries the bearer token on successful login.
type loginResponse struct {
	Token     string        `json:"token"`
	ExpiresAt string        `json:"expires_at"`
	Agent     agentResponse `json:"agent"`
}

// handleLogin authenticates an agent and issues a bearer token. Unknown
// agents and bad passwords get the same response so agent IDs cannot be
// probed.
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if s.cfg.JWTSecret == "" {
		writeError(w, http.StatusNotImplemented, "authentication is not configured")
		return
	}

	var req loginRequest
	if errMsg := readJSON(r, &req); errMsg != "" {
		writeError(w, http.StatusBadRequest, errMsg)
		return
	}
	if req.AgentID == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "agent_id and password are required")
		return
	}

	agent, err := s.agents.GetByAgentID(r.Context(), req.AgentID)
	if err != nil {
		s.logger.Error("login: lookup failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if agent == nil {
		writeError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}

	ok, err := database.CheckPassword(req.Password, agent.PasswordHash)
	if err != nil {
		s.logger.Error("login: password check failed", "error", err, "agent_id", req.AgentID)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if !ok {
		s.logger.Info("login rejected", "agent_id", req.AgentID)
		writeError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}

	token, expiresAt, err := middleware.GenerateAgentToken([]byte(s.cfg.JWTSecret), agent.AgentID)
	if err != nil {
		s.logger.Error("login: token generation failed", "error", err, "agent_id", req.AgentID)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	s.logger.Info("agent logged in", "agent_id", agent.AgentID)
	writeJSON(w, http.StatusOK, loginResponse{
		Token:     token,
		ExpiresAt: expiresAt.Format(time.RFC3339),
		Agent:     toAgentResponse(agent),
	})
}

package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/dialcore/dialcore/internal/call"
	"github.com/dialcore/dialcore/internal/database/models"
	"github.com/dialcore/dialcore/internal/flow"
	"github.com/dialcore/dialcore/internal/routing"
)

// callResponse is the JSON response for a call session.
type callResponse struct {
	ID              string  `json:"id"`
	From            string  `json:"from"`
	To              string  `json:"to"`
	Direction       string  `json:"direction"`
	State           string  `json:"state"`
	StartedAt       string  `json:"started_at"`
	EndedAt         *string `json:"ended_at,omitempty"`
	DurationSeconds int     `json:"duration_seconds"`
	CurrentNode     string  `json:"current_node,omitempty"`
	RecordingRef    string  `json:"recording_ref,omitempty"`
}

func toCallResponse(sess call.Session) callResponse {
	resp := callResponse{
		ID:              sess.ID,
		From:            sess.From,
		To:              sess.To,
		Direction:       string(sess.Direction),
		State:           string(sess.State),
		StartedAt:       sess.StartedAt.Format(time.RFC3339),
		DurationSeconds: sess.DurationSeconds,
		CurrentNode:     sess.CurrentNode,
		RecordingRef:    sess.RecordingRef,
	}
	if sess.EndedAt != nil {
		t := sess.EndedAt.Format(time.RFC3339)
		resp.EndedAt = &t
	}
	return resp
}

// recordToCallResponse presents a finalized call record in the same shape
// as a live session.
func recordToCallResponse(rec *models.CallRecord) callResponse {
	resp := callResponse{
		ID:              rec.CallID,
		From:            rec.FromNumber,
		To:              rec.ToNumber,
		Direction:       rec.Direction,
		State:           rec.State,
		StartedAt:       rec.StartedAt.Format(time.RFC3339),
		DurationSeconds: rec.DurationSeconds,
	}
	if rec.EndedAt != nil {
		t := rec.EndedAt.Format(time.RFC3339)
		resp.EndedAt = &t
	}
	if rec.RecordingRef != nil {
		resp.RecordingRef = *rec.RecordingRef
	}
	return resp
}

// callOrRecord looks up a call in the active set first, then in the record
// store. Terminal sessions leave the active set, so most lookups after a
// hangup land on the record.
func (s *Server) callOrRecord(ctx context.Context, id string) (callResponse, bool) {
	if sess, ok := s.manager.Get(id); ok {
		return toCallResponse(sess), true
	}
	rec, err := s.records.GetByCallID(ctx, id)
	if err != nil {
		s.logger.Error("call record lookup failed", "call_id", id, "error", err)
		return callResponse{}, false
	}
	if rec == nil {
		return callResponse{}, false
	}
	return recordToCallResponse(rec), true
}

type startCallRequest struct {
	From      string `json:"from"`
	To        string `json:"to"`
	Direction string `json:"direction"`
}

type startCallResponse struct {
	Call  callResponse    `json:"call"`
	Route *routing.Target `json:"route,omitempty"`
}

// handleStartCall originates a call: it creates a ringing session, resolves
// the dialed number and either hands the call to the IVR engine, leaves it
// ringing at an agent, or fails it when no route exists. The session is
// created either way, so the caller always gets a call ID and the record
// store always gets a row.
func (s *Server) handleStartCall(w http.ResponseWriter, r *http.Request) {
	var req startCallRequest
	if errMsg := readJSON(r, &req); errMsg != "" {
		writeError(w, http.StatusBadRequest, errMsg)
		return
	}
	if req.Direction == "" {
		req.Direction = string(call.DirectionInbound)
	}

	ctx := r.Context()
	id, err := s.manager.StartCall(ctx, req.From, req.To, call.Direction(req.Direction))
	if err != nil {
		if errors.Is(err, call.ErrInvalidArgument) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		s.logger.Error("start call failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	target, err := s.resolver.Resolve(ctx, req.To)
	if err != nil {
		if !errors.Is(err, routing.ErrNoRoute) {
			s.logger.Error("routing lookup failed", "call_id", id, "error", err)
		}
		if failErr := s.manager.Fail(ctx, id, "no route for dialed number"); failErr != nil {
			s.logger.Error("failing unrouted call", "call_id", id, "error", failErr)
		}
		resp, _ := s.callOrRecord(ctx, id)
		writeJSON(w, http.StatusCreated, startCallResponse{Call: resp})
		return
	}

	if target.Kind == routing.TargetFlow {
		if _, err := s.engine.Enter(ctx, target.FlowID, id); err != nil {
			s.logger.Error("entering flow failed", "call_id", id, "flow_id", target.FlowID, "error", err)
		}
	}
	// Agent targets stay ringing until the agent console answers via the
	// transition endpoint or the ring timeout marks the call missed.

	resp, _ := s.callOrRecord(ctx, id)
	writeJSON(w, http.StatusCreated, startCallResponse{Call: resp, Route: &target})
}

// handleActiveCalls returns all currently active sessions.
func (s *Server) handleActiveCalls(w http.ResponseWriter, r *http.Request) {
	active := s.manager.ListActive()
	items := make([]callResponse, len(active))
	for i, sess := range active {
		items[i] = toCallResponse(sess)
	}
	writeJSON(w, http.StatusOK, items)
}

// handleGetCall returns one session. Ended calls fall through to the record
// store so a call ID stays resolvable after termination.
func (s *Server) handleGetCall(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	resp, ok := s.callOrRecord(r.Context(), id)
	if !ok {
		writeError(w, http.StatusNotFound, "call not found")
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleHangup ends a call: ringing calls go to missed, live calls to completed.
func (s *Server) handleHangup(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if err := s.manager.Hangup(r.Context(), id); err != nil {
		if errors.Is(err, call.ErrNotFound) {
			writeError(w, http.StatusNotFound, "call not found")
			return
		}
		s.logger.Error("hangup failed", "call_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	resp, _ := s.callOrRecord(r.Context(), id)
	writeJSON(w, http.StatusOK, resp)
}

type transitionRequest struct {
	State        string  `json:"state"`
	CurrentNode  *string `json:"current_node,omitempty"`
	RecordingRef *string `json:"recording_ref,omitempty"`
}

// handleTransition applies an explicit state change to a session. Agent
// consoles use this to answer, hold, resume and complete calls.
func (s *Server) handleTransition(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req transitionRequest
	if errMsg := readJSON(r, &req); errMsg != "" {
		writeError(w, http.StatusBadRequest, errMsg)
		return
	}
	if req.State == "" {
		writeError(w, http.StatusBadRequest, "state is required")
		return
	}

	var meta *call.TransitionMeta
	if req.CurrentNode != nil || req.RecordingRef != nil {
		meta = &call.TransitionMeta{CurrentNode: req.CurrentNode, RecordingRef: req.RecordingRef}
	}

	err := s.manager.Transition(r.Context(), id, call.State(req.State), meta)
	switch {
	case errors.Is(err, call.ErrNotFound):
		writeError(w, http.StatusNotFound, "call not found")
		return
	case errors.Is(err, call.ErrInvalidTransition):
		writeError(w, http.StatusConflict, err.Error())
		return
	case errors.Is(err, call.ErrInvalidArgument):
		writeError(w, http.StatusBadRequest, err.Error())
		return
	case err != nil:
		s.logger.Error("transition failed", "call_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	resp, _ := s.callOrRecord(r.Context(), id)
	writeJSON(w, http.StatusOK, resp)
}

type inputRequest struct {
	Key string `json:"key"`
}

// handleInput feeds a caller key press (or an empty replay request) into the
// session's IVR traversal and returns the resulting action.
func (s *Server) handleInput(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req inputRequest
	if errMsg := readJSON(r, &req); errMsg != "" {
		writeError(w, http.StatusBadRequest, errMsg)
		return
	}

	action, err := s.engine.Advance(r.Context(), id, req.Key)
	switch {
	case errors.Is(err, flow.ErrNoTraversal):
		writeError(w, http.StatusNotFound, "call has no active flow")
		return
	case errors.Is(err, flow.ErrMenuRetriesExhausted):
		writeError(w, http.StatusConflict, "menu retries exhausted, call failed")
		return
	case errors.Is(err, routing.ErrAgentUnavailable), errors.Is(err, call.ErrNotFound):
		writeError(w, http.StatusConflict, "transfer target unavailable, call failed")
		return
	case err != nil:
		s.logger.Error("flow input failed", "call_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	writeJSON(w, http.StatusOK, action)
}

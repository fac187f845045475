package api

import (
	"net/http"
	"time"

	"github.com/dialcore/dialcore/internal/database/models"
)

// handleDashboardStats returns aggregate statistics for the operator
// dashboard. Individual data sources failing degrade to zero values rather
// than failing the whole response.
func (s *Server) handleDashboardStats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	activeCalls := 0
	if s.manager != nil {
		activeCalls = s.manager.ActiveCallCount()
	}

	activeTraversals := 0
	if s.engine != nil {
		activeTraversals = s.engine.ActiveTraversals()
	}

	eventSubscribers := 0
	if s.bus != nil {
		eventSubscribers = s.bus.SubscriberCount()
	}

	// Agent presence breakdown.
	agentCounts, err := s.agents.CountByStatus(ctx)
	if err != nil {
		s.logger.Error("dashboard stats: count agents failed", "error", err)
		agentCounts = map[string]int{}
	}
	totalAgents := 0
	for _, n := range agentCounts {
		totalAgents += n
	}

	// Today's traffic, local midnight onward.
	now := time.Now()
	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())

	callsToday, err := s.records.CountSince(ctx, midnight)
	if err != nil {
		s.logger.Error("dashboard stats: count calls failed", "error", err)
		callsToday = 0
	}

	summary, err := s.records.Summary(ctx, models.CallRecordFilter{StartDate: &midnight})
	if err != nil {
		s.logger.Error("dashboard stats: summarize calls failed", "error", err)
		summary = &models.CallSummary{}
	}

	// Most recent calls, newest first.
	recent, _, err := s.records.List(ctx, models.CallRecordFilter{Limit: 10})
	if err != nil {
		s.logger.Error("dashboard stats: list recent calls failed", "error", err)
		recent = nil
	}
	recentCalls := make([]cdrResponse, 0, len(recent))
	for i := range recent {
		recentCalls = append(recentCalls, toCDRResponse(&recent[i]))
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"active_calls":      activeCalls,
		"active_traversals": activeTraversals,
		"event_subscribers": eventSubscribers,
		"total_agents":      totalAgents,
		"agents":            agentCounts,
		"calls_today":       callsToday,
		"today": map[string]any{
			"total":            summary.TotalCalls,
			"answered":         summary.Answered,
			"missed":           summary.Missed,
			"failed":           summary.Failed,
			"avg_duration_sec": summary.AvgDurationSecs,
		},
		"recent_calls":   recentCalls,
		"uptime_seconds": int(time.Since(s.startTime).Seconds()),
	})
}

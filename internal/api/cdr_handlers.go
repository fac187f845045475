package api

import (
	"net/http"
	"time"

	"github.com/dialcore/dialcore/internal/database/models"
)

// cdrResponse is the JSON response for a single call record.
type cdrResponse struct {
	ID              int64   `json:"id"`
	CallID          string  `json:"call_id"`
	From            string  `json:"from"`
	To              string  `json:"to"`
	Direction       string  `json:"direction"`
	State           string  `json:"state"`
	StartedAt       string  `json:"started_at"`
	EndedAt         *string `json:"ended_at"`
	DurationSeconds int     `json:"duration_seconds"`
	RecordingRef    string  `json:"recording_ref,omitempty"`
}

// toCDRResponse converts a models.CallRecord to the API response.
func toCDRResponse(rec *models.CallRecord) cdrResponse {
	resp := cdrResponse{
		ID:              rec.ID,
		CallID:          rec.CallID,
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

// parseCDRFilter reads the shared CDR query parameters. Dates accept
// RFC 3339 or plain YYYY-MM-DD.
func parseCDRFilter(r *http.Request) (models.CallRecordFilter, string) {
	var filter models.CallRecordFilter
	q := r.URL.Query()

	if raw := q.Get("start_date"); raw != "" {
		t, errMsg := parseDateParam(raw)
		if errMsg != "" {
			return filter, "start_date " + errMsg
		}
		filter.StartDate = &t
	}
	if raw := q.Get("end_date"); raw != "" {
		t, errMsg := parseDateParam(raw)
		if errMsg != "" {
			return filter, "end_date " + errMsg
		}
		// A bare date means the whole day inclusive.
		if len(raw) == len("2006-01-02") {
			t = t.Add(24*time.Hour - time.Second)
		}
		filter.EndDate = &t
	}

	if state := q.Get("state"); state != "" {
		switch state {
		case "ringing", "answered", "holding", "transferring", "completed", "missed", "failed":
			filter.State = state
		default:
			return filter, "state is not a known call state"
		}
	}
	filter.Number = q.Get("number")

	return filter, ""
}

func parseDateParam(raw string) (time.Time, string) {
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t, ""
	}
	if t, err := time.Parse("2006-01-02", raw); err == nil {
		return t, ""
	}
	return time.Time{}, "must be RFC 3339 or YYYY-MM-DD"
}

// handleListCDRs returns call records with pagination and optional filters.
// Query params: limit, offset, state, number, start_date, end_date.
func (s *Server) handleListCDRs(w http.ResponseWriter, r *http.Request) {
	pg, errMsg := parsePagination(r)
	if errMsg != "" {
		writeError(w, http.StatusBadRequest, errMsg)
		return
	}
	filter, errMsg := parseCDRFilter(r)
	if errMsg != "" {
		writeError(w, http.StatusBadRequest, errMsg)
		return
	}
	filter.Limit = pg.Limit
	filter.Offset = pg.Offset

	records, total, err := s.records.List(r.Context(), filter)
	if err != nil {
		s.logger.Error("list cdrs failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	items := make([]cdrResponse, len(records))
	for i := range records {
		items[i] = toCDRResponse(&records[i])
	}

	writeJSON(w, http.StatusOK, PaginatedResponse{
		Items:  items,
		Total:  total,
		Limit:  pg.Limit,
		Offset: pg.Offset,
	})
}

// summaryResponse aggregates call records for reporting.
type summaryResponse struct {
	TotalCalls      int     `json:"total_calls"`
	Answered        int     `json:"answered"`
	Missed          int     `json:"missed"`
	Failed          int     `json:"failed"`
	AvgDurationSecs float64 `json:"avg_duration_seconds"`
}

// handleCDRSummary returns aggregate counts over the same filters as the
// list endpoint.
func (s *Server) handleCDRSummary(w http.ResponseWriter, r *http.Request) {
	filter, errMsg := parseCDRFilter(r)
	if errMsg != "" {
		writeError(w, http.StatusBadRequest, errMsg)
		return
	}

	summary, err := s.records.Summary(r.Context(), filter)
	if err != nil {
		s.logger.Error("cdr summary failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	writeJSON(w, http.StatusOK, summaryResponse{
		TotalCalls:      summary.TotalCalls,
		Answered:        summary.Answered,
		Missed:          summary.Missed,
		Failed:          summary.Failed,
		AvgDurationSecs: summary.AvgDurationSecs,
	})
}

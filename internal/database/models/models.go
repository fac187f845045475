package models

import "time"

// VirtualNumber represents an inbound number and where it routes. RouteTo
// holds either an agent ID or an IVR flow ID depending on RouteType.
type VirtualNumber struct {
	ID         int64
	Number     string
	RouteType  string // "agent" | "flow"
	RouteTo    string
	Department string
	Active     bool
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Agent presence states.
const (
	AgentAvailable = "available"
	AgentBusy      = "busy"
	AgentOffline   = "offline"
)

// Agent represents a call-center agent.
type Agent struct {
	ID           int64
	AgentID      string
	Name         string
	Email        string
	Extension    string
	PasswordHash string
	Status       string // "available" | "busy" | "offline"
	Department   string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// IVRFlow represents a stored flow. Definition is the flow graph JSON; the
// engine parses its own snapshot per call, so updates here never touch
// calls already inside the flow.
type IVRFlow struct {
	ID         int64
	FlowID     string
	Name       string
	Definition string // JSON
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// CallRecord is the durable record of a call. A row is appended when the
// call starts and finalized exactly once when it reaches a terminal state.
type CallRecord struct {
	ID              int64
	CallID          string
	FromNumber      string
	ToNumber        string
	Direction       string
	State           string
	StartedAt       time.Time
	EndedAt         *time.Time
	DurationSeconds int
	RecordingRef    *string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// CallSummary aggregates call records for reporting.
type CallSummary struct {
	TotalCalls      int
	Answered        int
	Missed          int
	Failed          int
	AvgDurationSecs float64
}

// CallRecordFilter narrows CDR listings. Zero values mean "no constraint";
// Limit 0 falls back to the store's default page size.
type CallRecordFilter struct {
	StartDate *time.Time
	EndDate   *time.Time
	State     string
	Number    string
	Limit     int
	Offset    int
}

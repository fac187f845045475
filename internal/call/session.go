package call

import "time"

// Direction indicates whether a call was placed into or out of the platform.
type Direction string

const (
	DirectionInbound  Direction = "inbound"
	DirectionOutbound Direction = "outbound"
)

// Valid reports whether d is a known direction.
func (d Direction) Valid() bool {
	return d == DirectionInbound || d == DirectionOutbound
}

// State is the lifecycle state of a call session.
type State string

const (
	StateRinging      State = "ringing"
	StateAnswered     State = "answered"
	StateHolding      State = "holding"
	StateTransferring State = "transferring"
	StateCompleted    State = "completed"
	StateMissed       State = "missed"
	StateFailed       State = "failed"
)

// Terminal reports whether s is a terminal state. Terminal sessions are
// removed from the active set and never mutated again.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateMissed || s == StateFailed
}

// legalTransitions maps each non-terminal state to the states it may move to.
// A transition to StateFailed is additionally allowed from any non-terminal
// state (unrecoverable routing or internal error).
var legalTransitions = map[State][]State{
	StateRinging:      {StateAnswered, StateMissed, StateFailed},
	StateAnswered:     {StateHolding, StateTransferring, StateCompleted, StateFailed},
	StateHolding:      {StateAnswered, StateCompleted, StateFailed},
	StateTransferring: {StateAnswered, StateCompleted, StateFailed},
}

// canTransition reports whether the edge from -> to is in the legal
// transition table.
func canTransition(from, to State) bool {
	if from.Terminal() {
		return false
	}
	if to == StateFailed {
		return true
	}
	for _, next := range legalTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Session is a snapshot of a single call's state. The Manager owns the
// authoritative copy; snapshots handed out via ListActive or events are
// value copies and never mutated after return.
type Session struct {
	ID              string     `json:"id"`
	From            string     `json:"from"`
	To              string     `json:"to"`
	Direction       Direction  `json:"direction"`
	State           State      `json:"state"`
	StartedAt       time.Time  `json:"started_at"`
	EndedAt         *time.Time `json:"ended_at,omitempty"`
	DurationSeconds int        `json:"duration_seconds"`
	CurrentNode     string     `json:"current_node,omitempty"`
	RecordingRef    string     `json:"recording_ref,omitempty"`
}

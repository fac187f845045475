package call

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrInvalidArgument is returned when a core operation receives malformed input.
var ErrInvalidArgument = errors.New("invalid argument")

// ErrNotFound is returned when the session is not in the active set.
var ErrNotFound = errors.New("session not found")

// ErrInvalidTransition is returned for a state change not present in the
// legal transition table. The session is left unchanged.
var ErrInvalidTransition = errors.New("invalid state transition")

// RecordStore persists call records. Append writes the in-flight record when
// a call starts; Finalize writes the terminal record, after which the record
// is immutable.
type RecordStore interface {
	Append(ctx context.Context, s Session) error
	Finalize(ctx context.Context, s Session) error
}

// EventSink receives session lifecycle notifications. The Manager calls it
// with the session's own lock held, immediately after the mutation is
// committed, so events for one session always arrive in commit order.
// Implementations must not block and must not call back into the Manager.
type EventSink interface {
	CallStarted(s Session)
	CallUpdated(s Session)
	CallEnded(s Session)
}

// TransitionMeta carries optional field updates applied together with a
// state transition. Nil pointers leave the field untouched.
type TransitionMeta struct {
	CurrentNode  *string
	RecordingRef *string
}

// session pairs the authoritative Session value with its own mutex and the
// ringing timeout timer. Transitions on one session are serialized by mu;
// different sessions proceed concurrently.
type session struct {
	mu        sync.Mutex
	data      Session
	ringTimer *time.Timer
}

// Manager owns the set of currently active calls and is the only component
// allowed to mutate a Session. All mutation goes through StartCall,
// Transition, Hangup and SetNode.
type Manager struct {
	mu     sync.RWMutex
	active map[string]*session

	store       RecordStore
	sink        EventSink
	ringTimeout time.Duration
	logger      *slog.Logger

	// onTerminal, if set, is invoked after a session reaches a terminal
	// state. The flow engine uses it to release any bound traversal.
	onTerminal func(sessionID string)

	// now is swapped out in tests to simulate the passage of time.
	now func() time.Time
}

// NewManager creates a session manager. ringTimeout bounds how long a call
// may stay in "ringing" before it is automatically marked missed.
func NewManager(store RecordStore, sink EventSink, ringTimeout time.Duration, logger *slog.Logger) *Manager {
	return &Manager{
		active:      make(map[string]*session),
		store:       store,
		sink:        sink,
		ringTimeout: ringTimeout,
		logger:      logger.With("subsystem", "session_manager"),
		now:         time.Now,
	}
}

// OnTerminal registers a hook invoked whenever a session reaches a terminal
// state. Must be called before the manager starts accepting calls.
func (m *Manager) OnTerminal(fn func(sessionID string)) {
	m.onTerminal = fn
}

// StartCall creates a new session in state "ringing", appends it to the
// record store and publishes CallStarted. It returns the generated session id.
func (m *Manager) StartCall(ctx context.Context, from, to string, direction Direction) (string, error) {
	if from == "" {
		return "", fmt.Errorf("%w: from is empty", ErrInvalidArgument)
	}
	if to == "" {
		return "", fmt.Errorf("%w: to is empty", ErrInvalidArgument)
	}
	if !direction.Valid() {
		return "", fmt.Errorf("%w: unknown direction %q", ErrInvalidArgument, direction)
	}

	id := uuid.NewString()
	s := &session{
		data: Session{
			ID:        id,
			From:      from,
			To:        to,
			Direction: direction,
			State:     StateRinging,
			StartedAt: m.now(),
		},
	}

	if err := m.store.Append(ctx, s.data); err != nil {
		return "", fmt.Errorf("appending call record: %w", err)
	}

	// Hold the session lock across map insertion, timer arming and the
	// CallStarted publish. Once the id is in the active set the timeout
	// callback or any concurrent caller may grab the session, so every
	// access to s.data and s.ringTimer from here on must be serialized.
	s.mu.Lock()
	m.mu.Lock()
	m.active[id] = s
	m.mu.Unlock()

	// Auto-miss calls that ring past the configured threshold. The timer is
	// cancelled by the first transition out of "ringing".
	s.ringTimer = time.AfterFunc(m.ringTimeout, func() {
		m.ringingTimeout(id)
	})

	m.sink.CallStarted(s.data)
	s.mu.Unlock()

	m.logger.Info("call started",
		"session_id", id,
		"from", from,
		"to", to,
		"direction", direction,
	)
	return id, nil
}

// Transition moves the session to newState after validating the edge
// against the legal transition table. A failed transition never mutates the
// session. Terminal states finalize the record, remove the session from the
// active set and publish CallEnded; non-terminal states publish CallUpdated.
func (m *Manager) Transition(ctx context.Context, id string, newState State, meta *TransitionMeta) error {
	s := m.lookup(id)
	if s == nil {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	s.mu.Lock()
	if s.data.State.Terminal() {
		// The session terminated between lookup and lock.
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if !canTransition(s.data.State, newState) {
		from := s.data.State
		s.mu.Unlock()
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, newState)
	}
	return m.apply(ctx, s, newState, meta)
}

// Hangup ends the call: a still-ringing session is marked missed, an
// answered, held or transferring one completed. Hanging up an absent or
// already-terminal session returns ErrNotFound so a second CallEnded is
// never emitted.
func (m *Manager) Hangup(ctx context.Context, id string) error {
	s := m.lookup(id)
	if s == nil {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	s.mu.Lock()
	var target State
	switch s.data.State {
	case StateRinging:
		target = StateMissed
	case StateAnswered, StateHolding, StateTransferring:
		target = StateCompleted
	default:
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return m.apply(ctx, s, target, nil)
}

// Fail forces any non-terminal session into "failed". Used by the routing
// and IVR layers as the fail-safe default so a call is never left in limbo.
func (m *Manager) Fail(ctx context.Context, id, reason string) error {
	s := m.lookup(id)
	if s == nil {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	s.mu.Lock()
	if s.data.State.Terminal() {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	m.logger.Warn("session failed", "session_id", id, "reason", reason)
	return m.apply(ctx, s, StateFailed, nil)
}

// SetNode updates the session's current IVR node without a state change and
// publishes CallUpdated. Part of the transition API used by the flow engine.
func (m *Manager) SetNode(ctx context.Context, id, nodeID string) error {
	s := m.lookup(id)
	if s == nil {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	s.mu.Lock()
	if s.data.State.Terminal() {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	s.data.CurrentNode = nodeID
	m.sink.CallUpdated(s.data)
	s.mu.Unlock()
	return nil
}

// Get returns a snapshot of an active session.
func (m *Manager) Get(id string) (Session, bool) {
	s := m.lookup(id)
	if s == nil {
		return Session{}, false
	}
	s.mu.Lock()
	snap := s.data
	s.mu.Unlock()
	if snap.State.Terminal() {
		return Session{}, false
	}
	return snap, true
}

// ListActive returns point-in-time snapshots of all active sessions,
// ordered by start time.
func (m *Manager) ListActive() []Session {
	m.mu.RLock()
	sessions := make([]*session, 0, len(m.active))
	for _, s := range m.active {
		sessions = append(sessions, s)
	}
	m.mu.RUnlock()

	out := make([]Session, 0, len(sessions))
	for _, s := range sessions {
		s.mu.Lock()
		snap := s.data
		s.mu.Unlock()
		if !snap.State.Terminal() {
			out = append(out, snap)
		}
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].StartedAt.Before(out[j].StartedAt)
	})
	return out
}

// ActiveCallCount returns the size of the active set. Used by the metrics
// collector.
func (m *Manager) ActiveCallCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.active)
}

// lookup returns the session by id, or nil if it is not active.
func (m *Manager) lookup(id string) *session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.active[id]
}

// apply commits a validated transition. The caller must hold s.mu; apply
// publishes to the sink before releasing it, so subscribers observe events
// for one session in commit order.
func (m *Manager) apply(ctx context.Context, s *session, newState State, meta *TransitionMeta) error {
	prev := s.data.State
	s.data.State = newState
	if meta != nil {
		if meta.CurrentNode != nil {
			s.data.CurrentNode = *meta.CurrentNode
		}
		// A recording ref accompanies successful completion only; missed
		// and failed calls never carry one.
		if meta.RecordingRef != nil && newState == StateCompleted {
			s.data.RecordingRef = *meta.RecordingRef
		}
	}

	if prev == StateRinging && s.ringTimer != nil {
		s.ringTimer.Stop()
	}

	if !newState.Terminal() {
		snap := s.data
		m.sink.CallUpdated(snap)
		s.mu.Unlock()

		m.logger.Debug("session transition",
			"session_id", snap.ID,
			"from", prev,
			"to", newState,
		)
		return nil
	}

	ended := m.now()
	s.data.EndedAt = &ended
	s.data.DurationSeconds = int(ended.Sub(s.data.StartedAt) / time.Second)
	if newState == StateCompleted && s.data.RecordingRef == "" {
		s.data.RecordingRef = "recording_" + uuid.NewString() + ".mp3"
	}
	snap := s.data

	m.mu.Lock()
	delete(m.active, snap.ID)
	m.mu.Unlock()

	if err := m.store.Finalize(ctx, snap); err != nil {
		// The transition already happened; surface the persistence failure
		// without rolling back the state machine.
		m.logger.Error("finalizing call record",
			"session_id", snap.ID,
			"error", err,
		)
	}

	m.sink.CallEnded(snap)
	s.mu.Unlock()

	m.logger.Info("call ended",
		"session_id", snap.ID,
		"from_state", prev,
		"to_state", newState,
		"duration_seconds", snap.DurationSeconds,
	)

	if m.onTerminal != nil {
		m.onTerminal(snap.ID)
	}
	return nil
}

// ringingTimeout fires when a session rings past the configured threshold.
// Losing the race against a concurrent transition is fine; the timeout is
// internal and not reported as an error.
func (m *Manager) ringingTimeout(id string) {
	s := m.lookup(id)
	if s == nil {
		return
	}

	s.mu.Lock()
	if s.data.State != StateRinging {
		s.mu.Unlock()
		return
	}

	m.logger.Info("ringing timeout, marking missed", "session_id", id)
	_ = m.apply(context.Background(), s, StateMissed, nil)
}

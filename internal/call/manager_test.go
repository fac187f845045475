package call

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"
)

// memStore is an in-memory RecordStore capturing appended and finalized
// records.
type memStore struct {
	mu        sync.Mutex
	appended  []Session
	finalized []Session
	appendErr error
}

func (s *memStore) Append(_ context.Context, sess Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.appendErr != nil {
		return s.appendErr
	}
	s.appended = append(s.appended, sess)
	return nil
}

func (s *memStore) Finalize(_ context.Context, sess Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.finalized = append(s.finalized, sess)
	return nil
}

// recordingSink captures lifecycle events in publish order.
type recordingSink struct {
	mu     sync.Mutex
	events []string
	last   map[string]Session
}

func newRecordingSink() *recordingSink {
	return &recordingSink{last: make(map[string]Session)}
}

func (r *recordingSink) record(kind string, s Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, kind)
	r.last[kind] = s
}

func (r *recordingSink) CallStarted(s Session) { r.record("call.started", s) }
func (r *recordingSink) CallUpdated(s Session) { r.record("call.updated", s) }
func (r *recordingSink) CallEnded(s Session)   { r.record("call.ended", s) }

func (r *recordingSink) kinds() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.events))
	copy(out, r.events)
	return out
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func newTestManager(t *testing.T) (*Manager, *memStore, *recordingSink) {
	t.Helper()
	store := &memStore{}
	sink := newRecordingSink()
	return NewManager(store, sink, time.Hour, testLogger()), store, sink
}

func TestStartCallCreatesRingingSession(t *testing.T) {
	m, store, sink := newTestManager(t)

	id, err := m.StartCall(context.Background(), "+1A", "+1B", DirectionInbound)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	s, ok := m.Get(id)
	if !ok {
		t.Fatal("session not in active set")
	}
	if s.State != StateRinging {
		t.Errorf("state = %q, want %q", s.State, StateRinging)
	}
	if s.DurationSeconds != 0 {
		t.Errorf("duration = %d, want 0 while active", s.DurationSeconds)
	}
	if len(store.appended) != 1 {
		t.Errorf("appended records = %d, want 1", len(store.appended))
	}
	if got := sink.kinds(); len(got) != 1 || got[0] != "call.started" {
		t.Errorf("events = %v, want [call.started]", got)
	}
}

func TestStartCallEmptyFromFails(t *testing.T) {
	m, store, _ := newTestManager(t)

	_, err := m.StartCall(context.Background(), "", "+1B", DirectionInbound)
	if !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("error = %v, want ErrInvalidArgument", err)
	}
	if n := m.ActiveCallCount(); n != 0 {
		t.Errorf("active set size = %d, want 0", n)
	}
	if len(store.appended) != 0 {
		t.Errorf("appended records = %d, want 0", len(store.appended))
	}
}

func TestStartCallStoreFailureCreatesNoSession(t *testing.T) {
	m, store, sink := newTestManager(t)
	store.appendErr = errors.New("disk full")

	_, err := m.StartCall(context.Background(), "+1A", "+1B", DirectionInbound)
	if err == nil {
		t.Fatal("expected error when record append fails")
	}
	if n := m.ActiveCallCount(); n != 0 {
		t.Errorf("active set size = %d, want 0", n)
	}
	if len(sink.kinds()) != 0 {
		t.Errorf("events = %v, want none", sink.kinds())
	}
}

func TestStartCallUnknownDirectionFails(t *testing.T) {
	m, _, _ := newTestManager(t)

	_, err := m.StartCall(context.Background(), "+1A", "+1B", Direction("sideways"))
	if !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("error = %v, want ErrInvalidArgument", err)
	}
}

func TestIllegalTransitionLeavesSessionUnchanged(t *testing.T) {
	m, _, _ := newTestManager(t)

	id, _ := m.StartCall(context.Background(), "+1A", "+1B", DirectionInbound)

	// ringing -> holding is not a legal edge.
	err := m.Transition(context.Background(), id, StateHolding, nil)
	if !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("error = %v, want ErrInvalidTransition", err)
	}

	s, _ := m.Get(id)
	if s.State != StateRinging {
		t.Errorf("state = %q, want %q (unchanged)", s.State, StateRinging)
	}
}

func TestTransitionUnknownSession(t *testing.T) {
	m, _, _ := newTestManager(t)

	err := m.Transition(context.Background(), "no-such-id", StateAnswered, nil)
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("error = %v, want ErrNotFound", err)
	}
}

func TestHoldResumeCycle(t *testing.T) {
	m, _, _ := newTestManager(t)
	ctx := context.Background()

	id, _ := m.StartCall(ctx, "+1A", "+1B", DirectionInbound)

	steps := []State{StateAnswered, StateHolding, StateAnswered, StateTransferring, StateAnswered, StateCompleted}
	for _, st := range steps {
		if err := m.Transition(ctx, id, st, nil); err != nil {
			t.Fatalf("transition to %s: %v", st, err)
		}
	}

	if _, ok := m.Get(id); ok {
		t.Error("completed session still in active set")
	}
}

func TestTerminalSessionDurationAndRemoval(t *testing.T) {
	m, store, _ := newTestManager(t)
	ctx := context.Background()

	base := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return base }

	id, _ := m.StartCall(ctx, "+1A", "+1B", DirectionInbound)
	if err := m.Transition(ctx, id, StateAnswered, nil); err != nil {
		t.Fatalf("answer: %v", err)
	}

	m.now = func() time.Time { return base.Add(30 * time.Second) }
	if err := m.Hangup(ctx, id); err != nil {
		t.Fatalf("hangup: %v", err)
	}

	if len(store.finalized) != 1 {
		t.Fatalf("finalized records = %d, want 1", len(store.finalized))
	}
	rec := store.finalized[0]
	if rec.State != StateCompleted {
		t.Errorf("state = %q, want %q", rec.State, StateCompleted)
	}
	if rec.DurationSeconds != 30 {
		t.Errorf("duration = %d, want 30", rec.DurationSeconds)
	}
	if rec.EndedAt == nil || !rec.EndedAt.Equal(base.Add(30*time.Second)) {
		t.Errorf("ended_at = %v, want %v", rec.EndedAt, base.Add(30*time.Second))
	}
	if rec.RecordingRef == "" {
		t.Error("completed call should carry a recording ref")
	}
	if _, ok := m.Get(id); ok {
		t.Error("terminal session still active")
	}
	if got := len(m.ListActive()); got != 0 {
		t.Errorf("ListActive size = %d, want 0", got)
	}
}

func TestLifecycleEventOrder(t *testing.T) {
	m, _, sink := newTestManager(t)
	ctx := context.Background()

	base := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return base }

	id, _ := m.StartCall(ctx, "+1A", "+1B", DirectionInbound)
	if err := m.Transition(ctx, id, StateAnswered, nil); err != nil {
		t.Fatalf("answer: %v", err)
	}

	m.now = func() time.Time { return base.Add(30 * time.Second) }
	if err := m.Hangup(ctx, id); err != nil {
		t.Fatalf("hangup: %v", err)
	}

	want := []string{"call.started", "call.updated", "call.ended"}
	got := sink.kinds()
	if len(got) != len(want) {
		t.Fatalf("events = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("events = %v, want %v", got, want)
		}
	}

	sink.mu.Lock()
	ended := sink.last["call.ended"]
	sink.mu.Unlock()
	if ended.DurationSeconds != 30 {
		t.Errorf("ended event duration = %d, want 30", ended.DurationSeconds)
	}
}

func TestHangupWhileRingingIsMissed(t *testing.T) {
	m, store, _ := newTestManager(t)
	ctx := context.Background()

	id, _ := m.StartCall(ctx, "+1A", "+1B", DirectionInbound)
	if err := m.Hangup(ctx, id); err != nil {
		t.Fatalf("hangup: %v", err)
	}

	if len(store.finalized) != 1 || store.finalized[0].State != StateMissed {
		t.Fatalf("finalized = %+v, want one missed record", store.finalized)
	}
	if store.finalized[0].RecordingRef != "" {
		t.Error("missed call must not carry a recording ref")
	}
}

func TestHangupTerminalSessionReturnsNotFound(t *testing.T) {
	m, _, sink := newTestManager(t)
	ctx := context.Background()

	id, _ := m.StartCall(ctx, "+1A", "+1B", DirectionInbound)
	if err := m.Transition(ctx, id, StateAnswered, nil); err != nil {
		t.Fatalf("answer: %v", err)
	}
	if err := m.Hangup(ctx, id); err != nil {
		t.Fatalf("first hangup: %v", err)
	}

	err := m.Hangup(ctx, id)
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("second hangup error = %v, want ErrNotFound", err)
	}

	ended := 0
	for _, kind := range sink.kinds() {
		if kind == "call.ended" {
			ended++
		}
	}
	if ended != 1 {
		t.Errorf("call.ended events = %d, want exactly 1", ended)
	}
}

func TestFailFromAnyNonTerminalState(t *testing.T) {
	m, store, _ := newTestManager(t)
	ctx := context.Background()

	for _, setup := range [][]State{
		nil,                             // ringing
		{StateAnswered},                 // answered
		{StateAnswered, StateHolding},   // holding
		{StateAnswered, StateTransferring}, // transferring
	} {
		id, _ := m.StartCall(ctx, "+1A", "+1B", DirectionOutbound)
		for _, st := range setup {
			if err := m.Transition(ctx, id, st, nil); err != nil {
				t.Fatalf("setup transition to %s: %v", st, err)
			}
		}
		if err := m.Fail(ctx, id, "routing target unresolved"); err != nil {
			t.Fatalf("fail from %v: %v", setup, err)
		}
	}

	for _, rec := range store.finalized {
		if rec.State != StateFailed {
			t.Errorf("finalized state = %q, want %q", rec.State, StateFailed)
		}
		if rec.RecordingRef != "" {
			t.Error("failed call must not carry a recording ref")
		}
	}
}

func TestRingingTimeoutMarksMissed(t *testing.T) {
	store := &memStore{}
	sink := newRecordingSink()
	m := NewManager(store, sink, 20*time.Millisecond, testLogger())

	id, _ := m.StartCall(context.Background(), "+1A", "+1B", DirectionInbound)

	deadline := time.Now().Add(time.Second)
	for {
		if _, ok := m.Get(id); !ok {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("ringing session was not auto-missed")
		}
		time.Sleep(5 * time.Millisecond)
	}

	store.mu.Lock()
	defer store.mu.Unlock()
	if len(store.finalized) != 1 || store.finalized[0].State != StateMissed {
		t.Fatalf("finalized = %+v, want one missed record", store.finalized)
	}
}

func TestAnswerCancelsRingTimer(t *testing.T) {
	store := &memStore{}
	sink := newRecordingSink()
	m := NewManager(store, sink, 20*time.Millisecond, testLogger())
	ctx := context.Background()

	id, _ := m.StartCall(ctx, "+1A", "+1B", DirectionInbound)
	if err := m.Transition(ctx, id, StateAnswered, nil); err != nil {
		t.Fatalf("answer: %v", err)
	}

	time.Sleep(60 * time.Millisecond)

	s, ok := m.Get(id)
	if !ok {
		t.Fatal("answered session disappeared after ring timeout window")
	}
	if s.State != StateAnswered {
		t.Errorf("state = %q, want %q", s.State, StateAnswered)
	}
}

func TestSetNodePublishesUpdate(t *testing.T) {
	m, _, sink := newTestManager(t)
	ctx := context.Background()

	id, _ := m.StartCall(ctx, "+1A", "+1B", DirectionInbound)
	if err := m.Transition(ctx, id, StateAnswered, nil); err != nil {
		t.Fatalf("answer: %v", err)
	}
	if err := m.SetNode(ctx, id, "menu1"); err != nil {
		t.Fatalf("set node: %v", err)
	}

	s, _ := m.Get(id)
	if s.CurrentNode != "menu1" {
		t.Errorf("current node = %q, want menu1", s.CurrentNode)
	}

	got := sink.kinds()
	if got[len(got)-1] != "call.updated" {
		t.Errorf("last event = %q, want call.updated", got[len(got)-1])
	}
}

func TestTransitionMetaUpdatesFields(t *testing.T) {
	m, store, _ := newTestManager(t)
	ctx := context.Background()

	id, _ := m.StartCall(ctx, "+1A", "+1B", DirectionInbound)
	node := "welcome"
	if err := m.Transition(ctx, id, StateAnswered, &TransitionMeta{CurrentNode: &node}); err != nil {
		t.Fatalf("answer: %v", err)
	}

	s, _ := m.Get(id)
	if s.CurrentNode != "welcome" {
		t.Errorf("current node = %q, want welcome", s.CurrentNode)
	}

	ref := "recording_custom.mp3"
	if err := m.Transition(ctx, id, StateCompleted, &TransitionMeta{RecordingRef: &ref}); err != nil {
		t.Fatalf("complete: %v", err)
	}
	if store.finalized[0].RecordingRef != ref {
		t.Errorf("recording ref = %q, want %q", store.finalized[0].RecordingRef, ref)
	}
}

func TestListActiveSnapshotsAreCopies(t *testing.T) {
	m, _, _ := newTestManager(t)
	ctx := context.Background()

	id, _ := m.StartCall(ctx, "+1A", "+1B", DirectionInbound)

	snaps := m.ListActive()
	if len(snaps) != 1 {
		t.Fatalf("ListActive size = %d, want 1", len(snaps))
	}
	snaps[0].State = StateFailed

	s, _ := m.Get(id)
	if s.State != StateRinging {
		t.Errorf("mutating a snapshot leaked into the manager: state = %q", s.State)
	}
}

func TestStartCallWithInstantRingTimeout(t *testing.T) {
	store := &memStore{}
	sink := newRecordingSink()
	// A 1ns timeout makes the timer fire while StartCall is still
	// publishing, so the timeout path and the start path contend for the
	// same session immediately.
	m := NewManager(store, sink, time.Nanosecond, testLogger())
	ctx := context.Background()

	const n = 200
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := m.StartCall(ctx, "+1A", "+1B", DirectionInbound); err != nil {
				t.Errorf("start: %v", err)
			}
		}()
	}
	wg.Wait()

	deadline := time.Now().Add(2 * time.Second)
	for m.ActiveCallCount() > 0 {
		if time.Now().After(deadline) {
			t.Fatalf("%d sessions never timed out", m.ActiveCallCount())
		}
		time.Sleep(5 * time.Millisecond)
	}

	store.mu.Lock()
	defer store.mu.Unlock()
	if len(store.finalized) != n {
		t.Fatalf("finalized records = %d, want %d", len(store.finalized), n)
	}
	for _, rec := range store.finalized {
		if rec.State != StateMissed {
			t.Errorf("finalized state = %q, want %q", rec.State, StateMissed)
		}
	}
}

func TestNoEventsPublishedAfterCallEnded(t *testing.T) {
	m, _, sink := newTestManager(t)
	ctx := context.Background()

	id, _ := m.StartCall(ctx, "+1A", "+1B", DirectionInbound)
	if err := m.Transition(ctx, id, StateAnswered, nil); err != nil {
		t.Fatalf("answer: %v", err)
	}

	// Hammer the session with node updates while it is hung up; updates
	// that lose the race must fail with ErrNotFound instead of publishing.
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				if err := m.SetNode(ctx, id, "menu1"); err != nil {
					if !errors.Is(err, ErrNotFound) {
						t.Errorf("set node: %v", err)
					}
					return
				}
			}
		}()
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := m.Hangup(ctx, id); err != nil {
			t.Errorf("hangup: %v", err)
		}
	}()
	wg.Wait()

	kinds := sink.kinds()
	endedAt := -1
	for i, kind := range kinds {
		if kind == "call.ended" {
			if endedAt != -1 {
				t.Fatalf("multiple call.ended events in %v", kinds)
			}
			endedAt = i
		}
	}
	if endedAt == -1 {
		t.Fatal("no call.ended event published")
	}
	for _, kind := range kinds[endedAt+1:] {
		t.Errorf("event %q published after call.ended", kind)
	}
}

func TestRecordingRefOnlyOnCompletion(t *testing.T) {
	m, store, _ := newTestManager(t)
	ctx := context.Background()
	ref := "recording_rogue.mp3"

	// A non-terminal transition must not pick up a recording ref.
	id, _ := m.StartCall(ctx, "+1A", "+1B", DirectionInbound)
	if err := m.Transition(ctx, id, StateAnswered, &TransitionMeta{RecordingRef: &ref}); err != nil {
		t.Fatalf("answer: %v", err)
	}
	s, _ := m.Get(id)
	if s.RecordingRef != "" {
		t.Errorf("recording ref = %q on answered session, want empty", s.RecordingRef)
	}

	// Neither must a failed one.
	if err := m.Transition(ctx, id, StateFailed, &TransitionMeta{RecordingRef: &ref}); err != nil {
		t.Fatalf("fail: %v", err)
	}
	if len(store.finalized) != 1 {
		t.Fatalf("finalized records = %d, want 1", len(store.finalized))
	}
	if got := store.finalized[0].RecordingRef; got != "" {
		t.Errorf("recording ref = %q on failed call, want empty", got)
	}
}

func TestConcurrentTransitionsAcrossSessions(t *testing.T) {
	m, store, _ := newTestManager(t)
	ctx := context.Background()

	const n = 50
	ids := make([]string, n)
	for i := range ids {
		id, err := m.StartCall(ctx, "+1A", "+1B", DirectionInbound)
		if err != nil {
			t.Fatalf("start %d: %v", i, err)
		}
		ids[i] = id
	}

	var wg sync.WaitGroup
	for _, id := range ids {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			if err := m.Transition(ctx, id, StateAnswered, nil); err != nil {
				t.Errorf("answer %s: %v", id, err)
				return
			}
			if err := m.Hangup(ctx, id); err != nil {
				t.Errorf("hangup %s: %v", id, err)
			}
		}(id)
	}
	wg.Wait()

	if got := m.ActiveCallCount(); got != 0 {
		t.Errorf("active count = %d, want 0", got)
	}
	store.mu.Lock()
	defer store.mu.Unlock()
	if len(store.finalized) != n {
		t.Errorf("finalized records = %d, want %d", len(store.finalized), n)
	}
}

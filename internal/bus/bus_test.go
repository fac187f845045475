package bus

import (
	"errors"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/dialcore/dialcore/internal/call"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestSubscriberReceivesEventsInOrder(t *testing.T) {
	b := New(8, testLogger())
	sub := b.Subscribe()
	defer sub.Close()

	for i, typ := range []EventType{EventCallStarted, EventCallUpdated, EventCallEnded} {
		b.Publish(Event{Type: typ, Call: call.Session{ID: "s1", DurationSeconds: i}})
	}

	want := []EventType{EventCallStarted, EventCallUpdated, EventCallEnded}
	for i, w := range want {
		select {
		case evt := <-sub.Events():
			if evt.Type != w {
				t.Fatalf("event %d = %q, want %q", i, evt.Type, w)
			}
		case <-time.After(time.Second):
			t.Fatalf("timed out waiting for event %d", i)
		}
	}
}

func TestNoReplayForLateSubscriber(t *testing.T) {
	b := New(8, testLogger())

	b.Publish(Event{Type: EventCallStarted, Call: call.Session{ID: "early"}})

	sub := b.Subscribe()
	defer sub.Close()

	b.Publish(Event{Type: EventCallEnded, Call: call.Session{ID: "late"}})

	evt := <-sub.Events()
	if evt.Call.ID != "late" {
		t.Errorf("first event call id = %q, want %q (no replay)", evt.Call.ID, "late")
	}
}

func TestSlowSubscriberIsDroppedNotBlocking(t *testing.T) {
	b := New(2, testLogger())
	slow := b.Subscribe()
	fast := b.Subscribe()
	defer fast.Close()

	// Fill the slow subscriber's queue and overflow it. Publish must not block.
	done := make(chan struct{})
	go func() {
		for i := 0; i < 5; i++ {
			b.Publish(Event{Type: EventCallUpdated, Call: call.Session{ID: "s1"}})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Publish blocked on a slow subscriber")
	}

	// The slow subscription is closed with an overrun error.
	received := 0
	for range slow.Events() {
		received++
	}
	if received != 2 {
		t.Errorf("slow subscriber received %d events, want 2 (its buffer)", received)
	}
	if !errors.Is(slow.Err(), ErrSubscriberOverrun) {
		t.Errorf("slow.Err() = %v, want ErrSubscriberOverrun", slow.Err())
	}

	// The fast subscriber keeps receiving.
	b.Publish(Event{Type: EventCallEnded, Call: call.Session{ID: "s1"}})
	count := 0
	for {
		select {
		case <-fast.Events():
			count++
			continue
		case <-time.After(50 * time.Millisecond):
		}
		break
	}
	if count == 0 {
		t.Error("fast subscriber stopped receiving after another subscriber overran")
	}
	if b.SubscriberCount() != 1 {
		t.Errorf("subscriber count = %d, want 1", b.SubscriberCount())
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	b := New(4, testLogger())
	sub := b.Subscribe()

	sub.Close()
	sub.Close()

	if sub.Err() != nil {
		t.Errorf("Err after caller Close = %v, want nil", sub.Err())
	}
	if b.SubscriberCount() != 0 {
		t.Errorf("subscriber count = %d, want 0", b.SubscriberCount())
	}

	// Publishing after close must not panic.
	b.Publish(Event{Type: EventCallStarted})
}

func TestSessionSinkPublishesSnapshots(t *testing.T) {
	b := New(4, testLogger())
	sub := b.Subscribe()
	defer sub.Close()

	sink := NewSessionSink(b)
	sink.CallStarted(call.Session{ID: "s1", State: call.StateRinging})
	sink.CallEnded(call.Session{ID: "s1", State: call.StateCompleted, DurationSeconds: 12})

	first := <-sub.Events()
	if first.Type != EventCallStarted || first.Call.State != call.StateRinging {
		t.Errorf("first event = %+v, want call.started/ringing", first)
	}
	second := <-sub.Events()
	if second.Type != EventCallEnded || second.Call.DurationSeconds != 12 {
		t.Errorf("second event = %+v, want call.ended with duration 12", second)
	}
	if first.Timestamp.IsZero() {
		t.Error("sink should stamp events with a publish time")
	}
}

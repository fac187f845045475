// Package bus delivers call lifecycle events to subscribers with bounded
// per-subscriber queues. Publishers never block: a subscriber that cannot
// keep up is disconnected rather than slowing call processing down.
package bus

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/dialcore/dialcore/internal/call"
)

// ErrSubscriberOverrun is the close reason for a subscription whose queue
// overflowed. Only the offending subscription is affected.
var ErrSubscriberOverrun = errors.New("subscriber queue overrun")

// EventType identifies the kind of lifecycle event.
type EventType string

const (
	EventCallStarted EventType = "call.started"
	EventCallUpdated EventType = "call.updated"
	EventCallEnded   EventType = "call.ended"
)

// Event is one call lifecycle notification. Call is a full session snapshot
// taken at publish time.
type Event struct {
	Type      EventType    `json:"type"`
	Timestamp time.Time    `json:"timestamp"`
	Call      call.Session `json:"call"`
}

// Subscription is a handle to a stream of events. Events are delivered in
// publish order until Close is called or the queue overruns; in both cases
// the channel returned by Events is closed and Err reports why.
type Subscription struct {
	ch  chan Event
	bus *Bus

	mu  sync.Mutex
	err error
}

// Events returns the subscription's event channel. It is closed when the
// subscription ends; there is no replay of events published before Subscribe.
func (s *Subscription) Events() <-chan Event {
	return s.ch
}

// Err returns the reason the subscription was closed: ErrSubscriberOverrun
// if the bus dropped it, nil for a caller-initiated Close or while still open.
func (s *Subscription) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Close detaches the subscription from the bus and closes its channel.
// Safe to call more than once.
func (s *Subscription) Close() {
	s.bus.remove(s, nil)
}

// Bus fans events out to any number of subscribers. Publishing is serialized
// so each subscriber observes events in publish order.
type Bus struct {
	mu     sync.Mutex
	subs   map[*Subscription]struct{}
	buffer int
	logger *slog.Logger
}

// New creates a bus whose subscribers each get a queue of the given size.
func New(buffer int, logger *slog.Logger) *Bus {
	return &Bus{
		subs:   make(map[*Subscription]struct{}),
		buffer: buffer,
		logger: logger.With("subsystem", "event_bus"),
	}
}

// Subscribe registers a new subscriber. The subscriber only receives events
// published after this call; initial state is established out-of-band via a
// ListActive snapshot.
func (b *Bus) Subscribe() *Subscription {
	sub := &Subscription{
		ch:  make(chan Event, b.buffer),
		bus: b,
	}

	b.mu.Lock()
	b.subs[sub] = struct{}{}
	total := len(b.subs)
	b.mu.Unlock()

	b.logger.Debug("subscriber attached", "total_subscribers", total)
	return sub
}

// Publish delivers the event to every subscriber without blocking. A
// subscriber whose queue is full is closed with ErrSubscriberOverrun.
func (b *Bus) Publish(evt Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for sub := range b.subs {
		select {
		case sub.ch <- evt:
		default:
			// Queue full: drop this subscriber instead of blocking the
			// publisher or the other subscribers.
			delete(b.subs, sub)
			sub.mu.Lock()
			sub.err = ErrSubscriberOverrun
			sub.mu.Unlock()
			close(sub.ch)
			b.logger.Warn("subscriber overrun, closing subscription",
				"buffer", b.buffer,
				"event_type", evt.Type,
			)
		}
	}
}

// SubscriberCount returns the number of attached subscriptions. Used by the
// metrics collector.
func (b *Bus) SubscriberCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// remove detaches a subscription, recording err as the close reason. A
// subscription already detached (overrun or earlier Close) is left alone.
func (b *Bus) remove(sub *Subscription, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.subs[sub]; !ok {
		return
	}
	delete(b.subs, sub)
	sub.mu.Lock()
	sub.err = err
	sub.mu.Unlock()
	close(sub.ch)
}

// SessionSink adapts the bus to the session manager's EventSink interface.
type SessionSink struct {
	bus *Bus
}

// NewSessionSink creates the adapter publishing session lifecycle events on b.
func NewSessionSink(b *Bus) *SessionSink {
	return &SessionSink{bus: b}
}

func (s *SessionSink) CallStarted(sess call.Session) {
	s.bus.Publish(Event{Type: EventCallStarted, Timestamp: time.Now(), Call: sess})
}

func (s *SessionSink) CallUpdated(sess call.Session) {
	s.bus.Publish(Event{Type: EventCallUpdated, Timestamp: time.Now(), Call: sess})
}

func (s *SessionSink) CallEnded(sess call.Session) {
	s.bus.Publish(Event{Type: EventCallEnded, Timestamp: time.Now(), Call: sess})
}

// Ensure SessionSink satisfies call.EventSink.
var _ call.EventSink = (*SessionSink)(nil)

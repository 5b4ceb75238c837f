// Package event provides the in-process publish/subscribe channel that
// broadcasts scheduler lifecycle and cycle outcomes to observers.
package event

import (
	"sync"
	"sync/atomic"
	"time"
)

// Kind names an event type.
type Kind string

const (
	KindCycleStarted   Kind = "cycle_started"
	KindCycleSkipped   Kind = "cycle_skipped"
	KindItemFailed     Kind = "item_failed"
	KindCycleCompleted Kind = "cycle_completed"
	KindStateChanged   Kind = "scheduler_state_changed"
)

// RunSummary describes one completed (or attempted) scheduler cycle.
type RunSummary struct {
	RunID      string    `json:"run_id"`
	StartedAt  time.Time `json:"started_at"`
	EndedAt    time.Time `json:"ended_at"`
	Attempted  int       `json:"items_attempted"`
	Succeeded  int       `json:"items_succeeded"`
	Failed     int       `json:"items_failed"`
	Surging    int       `json:"surging"`
	Categories int       `json:"categories"`
	Outcome    string    `json:"outcome"` // "completed", "partial", "failed"
}

// Event is the tagged union delivered to subscribers. Fields beyond Kind,
// Scheduler and At are set per kind.
type Event struct {
	Kind      Kind        `json:"kind"`
	Scheduler string      `json:"scheduler"`
	At        time.Time   `json:"at"`
	ContentID string      `json:"content_id,omitempty"` // item_failed
	Reason    string      `json:"reason,omitempty"`     // item_failed, cycle_skipped
	State     string      `json:"state,omitempty"`      // scheduler_state_changed
	Run       *RunSummary `json:"run,omitempty"`        // cycle_completed
}

// Subscription receives events on C until Close is called. The channel is
// buffered; when a subscriber falls behind, newer events are dropped rather
// than blocking publishers.
type Subscription struct {
	C chan Event

	bus     *Bus
	id      int
	dropped atomic.Int64
	once    sync.Once
}

// Close unregisters the subscription and closes its channel. Safe to call
// concurrently with Bus.Close. The lock is taken before the once so both
// close paths order lock-then-once, and the channel only ever closes under
// b.mu, serialized with Publish's sends.
func (s *Subscription) Close() {
	s.bus.mu.Lock()
	defer s.bus.mu.Unlock()
	delete(s.bus.subs, s.id)
	s.once.Do(func() { close(s.C) })
}

// Dropped returns how many events were discarded because the subscriber's
// buffer was full.
func (s *Subscription) Dropped() int64 {
	return s.dropped.Load()
}

// Bus fans events out to subscribers. Safe for concurrent publish from
// multiple schedulers and concurrent subscribe/unsubscribe. Events from one
// publisher reach each subscriber in publish order.
type Bus struct {
	mu     sync.Mutex
	subs   map[int]*Subscription
	nextID int
	buffer int
}

// DefaultBuffer is the per-subscriber queue depth.
const DefaultBuffer = 256

// NewBus creates a bus with the given per-subscriber buffer size.
func NewBus(buffer int) *Bus {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	return &Bus{
		subs:   make(map[int]*Subscription),
		buffer: buffer,
	}
}

// Subscribe registers a new observer.
func (b *Bus) Subscribe() *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub := &Subscription{
		C:   make(chan Event, b.buffer),
		bus: b,
		id:  b.nextID,
	}
	b.subs[b.nextID] = sub
	b.nextID++
	return sub
}

// Publish delivers ev to every current subscriber without blocking. A
// stalled subscriber loses events instead of stalling the publisher.
func (b *Bus) Publish(ev Event) {
	if ev.At.IsZero() {
		ev.At = time.Now().UTC()
	}

	// Sends stay under the lock so Close can never close a channel with a
	// send in flight. They cannot block: the buffered send has a default.
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, s := range b.subs {
		select {
		case s.C <- ev:
		default:
			s.dropped.Add(1)
		}
	}
}

// Close unregisters every subscription and closes its channel. Publish
// after Close is a harmless no-op.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for id, s := range b.subs {
		delete(b.subs, id)
		s.once.Do(func() { close(s.C) })
	}
}

// SubscriberCount returns the number of registered subscribers.
func (b *Bus) SubscriberCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

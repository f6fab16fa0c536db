// Package fanout implements the broadcast port with one bounded queue per subscriber.
package fanout

import (
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/Strob0t/AlarmRelay/internal/domain/alarm"
	"github.com/Strob0t/AlarmRelay/internal/port/broadcast"
)

// DefaultBuffer is the per-subscriber queue length used when none is configured.
const DefaultBuffer = 256

// Subscriber is a single registration with the Hub. Its queue is drained by
// the session that owns it; the Hub only ever enqueues without blocking.
type Subscriber struct {
	ch        chan alarm.Event
	done      chan struct{}
	closeOnce sync.Once
}

// Events returns the subscriber's queue.
func (s *Subscriber) Events() <-chan alarm.Event { return s.ch }

// Done is closed once the subscriber has been removed from the Hub.
func (s *Subscriber) Done() <-chan struct{} { return s.done }

func (s *Subscriber) close() {
	s.closeOnce.Do(func() { close(s.done) })
}

// Hub delivers published alarms to its subscribers. Subscribers are kept in
// subscription order and every Publish walks them in that order.
//
// A subscriber whose queue is full when an alarm is published is removed
// rather than skipped, so a subscriber that remains registered never misses
// an alarm. Its session ends and the client is expected to reconnect and
// catch up from a fresh snapshot.
type Hub struct {
	mu      sync.Mutex
	subs    []*Subscriber
	buffer  int
	closed  bool
	evicted atomic.Int64
}

// NewHub creates a Hub whose subscribers buffer up to buffer alarms.
func NewHub(buffer int) *Hub {
	if buffer < 1 {
		buffer = DefaultBuffer
	}
	return &Hub{buffer: buffer}
}

// Subscribe registers a new subscriber. After Close the returned subscriber
// is already done.
func (h *Hub) Subscribe() broadcast.Subscription {
	s := &Subscriber{
		ch:   make(chan alarm.Event, h.buffer),
		done: make(chan struct{}),
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		s.close()
		return s
	}
	h.subs = append(h.subs, s)
	return s
}

// Unsubscribe removes a subscriber. It is a no-op for subscribers that were
// already removed or do not belong to this Hub.
func (h *Hub) Unsubscribe(sub broadcast.Subscription) {
	s, ok := sub.(*Subscriber)
	if !ok {
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	for i, cur := range h.subs {
		if cur == s {
			h.subs = append(h.subs[:i], h.subs[i+1:]...)
			break
		}
	}
	s.close()
}

// Publish enqueues ev for every subscriber without blocking.
func (h *Hub) Publish(ev alarm.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()

	kept := h.subs[:0]
	for _, s := range h.subs {
		select {
		case s.ch <- ev:
			kept = append(kept, s)
		default:
			s.close()
			h.evicted.Add(1)
			slog.Warn("subscriber fell behind, dropping", "alarm_id", ev.ID, "buffer", h.buffer)
		}
	}
	// Clear the tail so removed subscribers can be collected.
	for i := len(kept); i < len(h.subs); i++ {
		h.subs[i] = nil
	}
	h.subs = kept
}

// Count returns the number of active subscribers.
func (h *Hub) Count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// Evicted returns how many subscribers were dropped for falling behind.
func (h *Hub) Evicted() int64 {
	return h.evicted.Load()
}

// Close removes every subscriber and rejects future ones. Sessions observe
// the closure through Done and tear themselves down.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, s := range h.subs {
		s.close()
	}
	h.subs = nil
	h.closed = true
}

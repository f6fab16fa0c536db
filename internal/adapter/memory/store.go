// Package memory implements the event store port as a fixed-capacity ring buffer.
package memory

import (
	"sync"

	"github.com/Strob0t/AlarmRelay/internal/domain/alarm"
)

// DefaultCapacity is the number of alarms retained when no capacity is configured.
const DefaultCapacity = 100

// Store keeps the most recent alarms in memory. The ID counter is independent
// of the buffer, so eviction never causes an ID to be reused.
type Store struct {
	mu     sync.RWMutex
	buf    []alarm.Event
	head   int // index of the oldest event
	size   int
	lastID uint64
}

// NewStore creates a Store retaining at most capacity events.
// A capacity below 1 falls back to DefaultCapacity.
func NewStore(capacity int) *Store {
	if capacity < 1 {
		capacity = DefaultCapacity
	}
	return &Store{buf: make([]alarm.Event, capacity)}
}

// Append stores the draft under the next ID and returns the stored event.
func (s *Store) Append(d alarm.Draft) alarm.Event {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.lastID++
	ev := d.WithID(s.lastID)

	if s.size < len(s.buf) {
		s.buf[(s.head+s.size)%len(s.buf)] = ev
		s.size++
		return ev
	}

	// Full: overwrite the oldest slot and advance head.
	s.buf[s.head] = ev
	s.head = (s.head + 1) % len(s.buf)
	return ev
}

// Snapshot returns the retained events, oldest first.
func (s *Store) Snapshot() []alarm.Event {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]alarm.Event, s.size)
	for i := range s.size {
		out[i] = s.buf[(s.head+i)%len(s.buf)]
	}
	return out
}

// LastID returns the most recently assigned ID.
func (s *Store) LastID() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastID
}

// Len returns the number of retained events.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.size
}

// Capacity returns the maximum number of retained events.
func (s *Store) Capacity() int {
	return len(s.buf)
}

// Package eventstore defines the port interface for the bounded alarm store.
package eventstore

import "github.com/Strob0t/AlarmRelay/internal/domain/alarm"

// Store retains the most recent alarms in arrival order.
type Store interface {
	// Append assigns the next ID to the draft, stores it as the newest entry
	// and evicts the oldest entries beyond capacity.
	Append(d alarm.Draft) alarm.Event

	// Snapshot returns a copy of every retained event, oldest first.
	Snapshot() []alarm.Event

	// LastID returns the most recently assigned ID, or 0 if none.
	LastID() uint64

	// Len returns the number of retained events.
	Len() int

	// Capacity returns the maximum number of retained events.
	Capacity() int
}

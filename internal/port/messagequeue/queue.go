// Package messagequeue defines the message queue port used to forward alarms downstream.
package messagequeue

import "context"

// Publisher is the port interface for publishing messages to a queue.
type Publisher interface {
	// Publish sends a message to the given subject. The message ID is used
	// by the queue for duplicate detection and may be empty.
	Publish(ctx context.Context, subject, msgID string, data []byte) error

	// IsConnected reports whether the queue is currently connected.
	IsConnected() bool

	// Close shuts down the queue connection.
	Close() error
}

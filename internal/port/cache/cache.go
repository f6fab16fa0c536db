// Package cache defines the port interface for caching encoded responses.
package cache

import (
	"context"
	"time"
)

// Cache is the port interface for key-value caching. Implementations may
// drop entries at any time; callers must treat a miss as normal.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

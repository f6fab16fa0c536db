// Package throttle bounds how much request work runs at once.
package throttle

import (
	"context"
	"sync/atomic"

	"golang.org/x/sync/semaphore"
)

// Pool caps the number of webhook bodies being buffered concurrently so a
// burst of large payloads cannot exhaust memory. Each slot holds at most one
// body of the configured ingest limit.
type Pool struct {
	sem      *semaphore.Weighted
	limit    int
	inFlight atomic.Int64
}

// NewPool creates a Pool that allows at most limit concurrent holders.
func NewPool(limit int) *Pool {
	if limit < 1 {
		limit = 1
	}
	return &Pool{sem: semaphore.NewWeighted(int64(limit)), limit: limit}
}

// Run acquires a slot, runs fn, and releases the slot.
// Blocks while all slots are busy and returns ctx.Err() if the context ends
// first. A nil pool runs fn directly.
func (p *Pool) Run(ctx context.Context, fn func() error) error {
	if p == nil || p.sem == nil {
		return fn()
	}
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	p.inFlight.Add(1)
	defer func() {
		p.inFlight.Add(-1)
		p.sem.Release(1)
	}()
	return fn()
}

// InFlight returns the number of slots currently held.
func (p *Pool) InFlight() int {
	if p == nil {
		return 0
	}
	return int(p.inFlight.Load())
}

// Limit returns the pool size.
func (p *Pool) Limit() int {
	if p == nil {
		return 0
	}
	return p.limit
}

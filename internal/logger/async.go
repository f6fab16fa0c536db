package logger

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// Closer flushes buffered records on shutdown and reports how many records
// were lost to a full buffer.
type Closer interface {
	Close()
	Dropped() int64
}

type syncCloser struct{}

func (syncCloser) Close()         {}
func (syncCloser) Dropped() int64 { return 0 }

// entry pairs a record with the handler it was logged through, so attributes
// and groups added by WithAttrs or WithGroup survive the hand-off.
type entry struct {
	h   slog.Handler
	rec slog.Record
}

// pipeline is shared by an AsyncHandler and every handler derived from it
// through WithAttrs or WithGroup.
type pipeline struct {
	queue   chan entry
	workers sync.WaitGroup
	dropped atomic.Int64
	closed  sync.Once
}

// AsyncHandler hands records to a fixed set of workers through a bounded
// queue. Records that do not fit are dropped and counted, so a slow log sink
// never stalls alarm ingestion or a stream.
type AsyncHandler struct {
	inner slog.Handler
	p     *pipeline
}

// NewAsyncHandler starts workers goroutines writing to inner from a queue of
// queueLen records.
func NewAsyncHandler(inner slog.Handler, queueLen, workers int) *AsyncHandler {
	p := &pipeline{queue: make(chan entry, queueLen)}
	for range max(workers, 1) {
		p.workers.Add(1)
		go func() {
			defer p.workers.Done()
			for e := range p.queue {
				_ = e.h.Handle(context.Background(), e.rec)
			}
		}()
	}
	return &AsyncHandler{inner: inner, p: p}
}

// Enabled delegates to the inner handler.
func (h *AsyncHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level)
}

// Handle enqueues a copy of rec, or counts it as dropped when the queue is full.
func (h *AsyncHandler) Handle(_ context.Context, rec slog.Record) error { //nolint:gocritic // slog.Handler interface requires value receiver
	select {
	case h.p.queue <- entry{h: h.inner, rec: rec.Clone()}:
	default:
		h.p.dropped.Add(1)
	}
	return nil
}

// WithAttrs shares the queue and workers of h.
func (h *AsyncHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &AsyncHandler{inner: h.inner.WithAttrs(attrs), p: h.p}
}

// WithGroup shares the queue and workers of h.
func (h *AsyncHandler) WithGroup(name string) slog.Handler {
	return &AsyncHandler{inner: h.inner.WithGroup(name), p: h.p}
}

// Dropped returns the number of records lost so far.
func (h *AsyncHandler) Dropped() int64 {
	return h.p.dropped.Load()
}

// Close drains the queue, stops the workers and writes one warning with the
// drop count if anything was lost. Later calls do nothing.
func (h *AsyncHandler) Close() {
	h.p.closed.Do(func() {
		close(h.p.queue)
		h.p.workers.Wait()

		if n := h.p.dropped.Load(); n > 0 {
			rec := slog.NewRecord(time.Now(), slog.LevelWarn, "async log records dropped", 0)
			rec.AddAttrs(slog.Int64("dropped", n))
			_ = h.inner.Handle(context.Background(), rec)
		}
	})
}

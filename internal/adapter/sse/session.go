package sse

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/Strob0t/AlarmRelay/internal/domain/alarm"
	"github.com/Strob0t/AlarmRelay/internal/port/broadcast"
)

// Source hands out coupled snapshot and live subscription pairs.
type Source interface {
	Subscribe(ctx context.Context) ([]alarm.Event, broadcast.Subscription)
	Unsubscribe(ctx context.Context, sub broadcast.Subscription)
}

// Options tune a streaming session.
type Options struct {
	HeartbeatInterval time.Duration
	WriteTimeout      time.Duration
}

// ErrStreamingUnsupported is returned when the response writer cannot flush.
var ErrStreamingUnsupported = errors.New("sse: response writer does not support flushing")

// Serve runs one streaming session on w until the client disconnects, the
// subscription is dropped, or a write fails. It sends the catch-up snapshot
// first, then one alarm frame per published alarm, with a keepalive comment
// every HeartbeatInterval. Serve always unsubscribes before returning.
//
// Once the response has started errors are only returned for logging; the
// caller must not write anything further.
func Serve(w http.ResponseWriter, r *http.Request, src Source, opts Options) error {
	if !canFlush(w) {
		return ErrStreamingUnsupported
	}
	ctx := r.Context()
	rc := http.NewResponseController(w)

	// The server-wide write timeout would cut long-lived streams; each frame
	// gets its own deadline instead.
	_ = rc.SetWriteDeadline(time.Time{})

	h := w.Header()
	h.Set("Content-Type", "text/event-stream; charset=utf-8")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	snapshot, sub := src.Subscribe(ctx)
	defer src.Unsubscribe(context.WithoutCancel(ctx), sub)

	s := &session{w: w, rc: rc, timeout: opts.WriteTimeout}

	data, err := json.Marshal(alarm.NewSnapshot(snapshot))
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	if err := s.send(func() error { return WriteFrame(w, 0, EventSnapshot, data) }); err != nil {
		return err
	}

	ticker := time.NewTicker(opts.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-sub.Done():
			slog.DebugContext(ctx, "stream subscription ended")
			return nil
		case ev := <-sub.Events():
			data, err := json.Marshal(ev)
			if err != nil {
				return fmt.Errorf("encode alarm %d: %w", ev.ID, err)
			}
			if err := s.send(func() error { return WriteFrame(w, ev.ID, EventAlarm, data) }); err != nil {
				return err
			}
		case now := <-ticker.C:
			if err := s.send(func() error { return WriteKeepalive(w, now) }); err != nil {
				return err
			}
		}
	}
}

type session struct {
	w       http.ResponseWriter
	rc      *http.ResponseController
	timeout time.Duration
}

// send runs write and flushes under a bounded deadline.
func (s *session) send(write func() error) error {
	if s.timeout > 0 {
		_ = s.rc.SetWriteDeadline(time.Now().Add(s.timeout))
	}
	if err := write(); err != nil {
		return fmt.Errorf("sse write: %w", err)
	}
	if err := s.rc.Flush(); err != nil {
		return fmt.Errorf("sse flush: %w", err)
	}
	return nil
}

// canFlush reports whether w, or a writer it wraps, supports flushing.
func canFlush(w http.ResponseWriter) bool {
	for {
		if _, ok := w.(http.Flusher); ok {
			return true
		}
		u, ok := w.(interface{ Unwrap() http.ResponseWriter })
		if !ok {
			return false
		}
		w = u.Unwrap()
	}
}

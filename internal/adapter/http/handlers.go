package http

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/Strob0t/AlarmRelay/internal/adapter/sse"
	"github.com/Strob0t/AlarmRelay/internal/config"
	"github.com/Strob0t/AlarmRelay/internal/domain"
	"github.com/Strob0t/AlarmRelay/internal/domain/alarm"
	"github.com/Strob0t/AlarmRelay/internal/port/messagequeue"
	"github.com/Strob0t/AlarmRelay/internal/resilience"
	"github.com/Strob0t/AlarmRelay/internal/service"
	"github.com/Strob0t/AlarmRelay/internal/throttle"
)

// Handlers holds the HTTP handlers and their dependencies.
type Handlers struct {
	Relay  *service.RelayService
	Ingest config.Ingest
	Stream config.Stream
	Pool   *throttle.Pool

	// WS serves the WebSocket stream. Nil disables the route.
	WS http.Handler

	// Queue and Breaker describe the optional forwarder in /health.
	Queue   messagequeue.Publisher
	Breaker *resilience.Breaker

	// Now is used for received-at timestamps. Nil means time.Now.
	Now func() time.Time
}

// IngestAlarm accepts a webhook notification, stores it, and publishes it
// to every live subscriber. Any body within the size limit is accepted;
// declared JSON that fails to parse is stored as a parse failure record.
func (h *Handlers) IngestAlarm(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	limit := h.Ingest.MaxBodyBytes

	if r.ContentLength > limit {
		h.rejectTooLarge(w, r)
		return
	}

	raw, err := h.readBody(w, r, limit)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrPayloadTooLarge):
			h.rejectTooLarge(w, r)
		case ctx.Err() != nil:
			// The client went away or the route timeout fired. The timeout
			// middleware owns the response in the latter case.
		case errors.Is(err, context.DeadlineExceeded):
			h.Relay.RecordRejected(ctx, "busy")
			writeError(w, http.StatusServiceUnavailable, "ingest capacity exhausted")
		default:
			slog.WarnContext(ctx, "alarm body read failed", "error", err)
			h.Relay.RecordRejected(ctx, "read_error")
			writeError(w, http.StatusBadRequest, "failed to read body")
		}
		return
	}

	contentType := r.Header.Get("Content-Type")
	if alarm.IsParseFailure(raw, contentType) {
		h.Relay.RecordParseFailure(ctx)
		slog.InfoContext(ctx, "alarm body is not valid json, storing raw text", "bytes", len(raw))
	}

	ev := h.Relay.Ingest(ctx, alarm.Draft{
		ReceivedAt:    h.now().UTC(),
		SourceAddress: alarm.SourceAddress(r.Header.Get("X-Forwarded-For"), r.RemoteAddr),
		Headers:       alarm.HeadersFrom(r.Header),
		Body:          alarm.DecodeBody(raw, contentType),
	})

	w.Header().Set("X-Alarm-Id", strconv.FormatUint(ev.ID, 10))
	w.WriteHeader(http.StatusOK)
}

// readBody buffers the request body under the ingest pool and size limit.
// Waiting for a pool slot is bounded by Ingest.AcquireTimeout.
func (h *Handlers) readBody(w http.ResponseWriter, r *http.Request, limit int64) ([]byte, error) {
	acquireCtx := r.Context()
	if h.Ingest.AcquireTimeout > 0 {
		var cancel context.CancelFunc
		acquireCtx, cancel = context.WithTimeout(acquireCtx, h.Ingest.AcquireTimeout)
		defer cancel()
	}

	var raw []byte
	err := h.Pool.Run(acquireCtx, func() error {
		var err error
		raw, err = io.ReadAll(http.MaxBytesReader(w, r.Body, limit))
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return fmt.Errorf("%w: limit %d bytes", domain.ErrPayloadTooLarge, tooLarge.Limit)
		}
		return err
	})
	return raw, err
}

func (h *Handlers) rejectTooLarge(w http.ResponseWriter, r *http.Request) {
	slog.WarnContext(r.Context(), "alarm rejected: payload too large",
		"content_length", r.ContentLength, "limit", h.Ingest.MaxBodyBytes)
	h.Relay.RecordRejected(r.Context(), "too_large")
	// The unread remainder is not drained; closing keeps a large sender from
	// tying up the connection.
	w.Header().Set("Connection", "close")
	writeError(w, http.StatusRequestEntityTooLarge, domain.ErrPayloadTooLarge.Error())
}

// ListAlarms returns the retained alarms, oldest first.
func (h *Handlers) ListAlarms(w http.ResponseWriter, r *http.Request) {
	data, err := h.Relay.SnapshotJSON(r.Context())
	if err != nil {
		writeInternalError(w, r, err)
		return
	}
	w.Header().Set("Cache-Control", "no-store")
	writeRawJSON(w, http.StatusOK, data)
}

// StreamAlarms serves the live alarm stream as Server-Sent Events.
func (h *Handlers) StreamAlarms(w http.ResponseWriter, r *http.Request) {
	err := sse.Serve(w, r, h.Relay, sse.Options{
		HeartbeatInterval: h.Stream.HeartbeatInterval,
		WriteTimeout:      h.Stream.WriteTimeout,
	})
	switch {
	case errors.Is(err, sse.ErrStreamingUnsupported):
		writeInternalError(w, r, err)
	case err != nil:
		// The response has started; the session simply ends.
		slog.InfoContext(r.Context(), "alarm stream closed", "error", err)
	}
}

// StreamAlarmsWS serves the live alarm stream over WebSocket.
func (h *Handlers) StreamAlarmsWS(w http.ResponseWriter, r *http.Request) {
	if h.WS == nil {
		writeError(w, http.StatusNotFound, "websocket stream disabled")
		return
	}
	h.WS.ServeHTTP(w, r)
}

type forwarderHealth struct {
	Connected bool   `json:"connected"`
	Breaker   string `json:"breaker,omitempty"`
}

type healthResponse struct {
	Status    string           `json:"status"`
	Relay     service.Stats    `json:"relay"`
	Ingesting int              `json:"ingesting"`
	Forwarder *forwarderHealth `json:"forwarder,omitempty"`
}

// Health reports liveness and relay statistics. A disconnected forwarder
// degrades the status but the relay itself keeps serving.
func (h *Handlers) Health(w http.ResponseWriter, _ *http.Request) {
	resp := healthResponse{
		Status:    "ok",
		Relay:     h.Relay.Stats(),
		Ingesting: h.Pool.InFlight(),
	}
	if h.Queue != nil {
		fh := &forwarderHealth{Connected: h.Queue.IsConnected()}
		if h.Breaker != nil {
			fh.Breaker = string(h.Breaker.State())
		}
		if !fh.Connected || fh.Breaker == string(resilience.StateOpen) {
			resp.Status = "degraded"
		}
		resp.Forwarder = fh
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handlers) now() time.Time {
	if h.Now != nil {
		return h.Now()
	}
	return time.Now()
}

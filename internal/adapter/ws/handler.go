// Package ws implements the WebSocket alarm stream. It carries the same
// session as the SSE stream, framed as JSON text messages.
package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/coder/websocket"

	"github.com/Strob0t/AlarmRelay/internal/domain/alarm"
	"github.com/Strob0t/AlarmRelay/internal/port/broadcast"
)

// Message types.
const (
	TypeSnapshot = "snapshot"
	TypeAlarm    = "alarm"
)

// Message is the envelope for all WebSocket messages. ID is set on alarm
// messages only.
type Message struct {
	Type    string          `json:"type"`
	ID      uint64          `json:"id,omitempty"`
	Payload json.RawMessage `json:"payload"`
}

// Source hands out coupled snapshot and live subscription pairs.
type Source interface {
	Subscribe(ctx context.Context) ([]alarm.Event, broadcast.Subscription)
	Unsubscribe(ctx context.Context, sub broadcast.Subscription)
}

// Options tune a WebSocket session.
type Options struct {
	HeartbeatInterval time.Duration
	WriteTimeout      time.Duration
	// AllowedOrigin restricts cross-origin upgrades. Empty or "*" allows any origin.
	AllowedOrigin string
}

// Handler upgrades requests to WebSocket alarm streams.
type Handler struct {
	src  Source
	opts Options
}

// NewHandler creates a Handler streaming from src.
func NewHandler(src Source, opts Options) *Handler {
	return &Handler{src: src, opts: opts}
}

// ServeHTTP upgrades the connection and runs the session until the client
// goes away, the subscription is dropped, or a write fails.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	accept := &websocket.AcceptOptions{}
	if h.opts.AllowedOrigin == "" || h.opts.AllowedOrigin == "*" {
		accept.InsecureSkipVerify = true // CORS handled by middleware
	} else {
		accept.OriginPatterns = []string{h.opts.AllowedOrigin}
	}

	c, err := websocket.Accept(w, r, accept)
	if err != nil {
		slog.WarnContext(r.Context(), "websocket accept failed", "error", err)
		return
	}
	defer func() { _ = c.CloseNow() }()

	// CloseRead consumes control frames and cancels ctx once the peer closes.
	ctx := c.CloseRead(r.Context())

	slog.DebugContext(ctx, "websocket stream connected", "remote", r.RemoteAddr)
	status, reason, err := h.session(ctx, c)
	if err != nil {
		slog.DebugContext(ctx, "websocket stream ended", "error", err)
		return
	}
	_ = c.Close(status, reason)
}

func (h *Handler) session(ctx context.Context, c *websocket.Conn) (websocket.StatusCode, string, error) {
	snapshot, sub := h.src.Subscribe(ctx)
	defer h.src.Unsubscribe(context.WithoutCancel(ctx), sub)

	payload, err := json.Marshal(alarm.NewSnapshot(snapshot))
	if err != nil {
		return 0, "", fmt.Errorf("encode snapshot: %w", err)
	}
	if err := h.write(ctx, c, Message{Type: TypeSnapshot, Payload: payload}); err != nil {
		return 0, "", err
	}

	ticker := time.NewTicker(h.opts.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return websocket.StatusNormalClosure, "", nil
		case <-sub.Done():
			return websocket.StatusGoingAway, "subscription ended", nil
		case ev := <-sub.Events():
			payload, err := json.Marshal(ev)
			if err != nil {
				return 0, "", fmt.Errorf("encode alarm %d: %w", ev.ID, err)
			}
			if err := h.write(ctx, c, Message{Type: TypeAlarm, ID: ev.ID, Payload: payload}); err != nil {
				return 0, "", err
			}
		case <-ticker.C:
			if err := h.ping(ctx, c); err != nil {
				return 0, "", err
			}
		}
	}
}

func (h *Handler) write(ctx context.Context, c *websocket.Conn, msg Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode message: %w", err)
	}
	ctx, cancel := h.deadline(ctx)
	defer cancel()
	if err := c.Write(ctx, websocket.MessageText, data); err != nil {
		return fmt.Errorf("websocket write: %w", err)
	}
	return nil
}

func (h *Handler) ping(ctx context.Context, c *websocket.Conn) error {
	ctx, cancel := h.deadline(ctx)
	defer cancel()
	if err := c.Ping(ctx); err != nil {
		return fmt.Errorf("websocket ping: %w", err)
	}
	return nil
}

func (h *Handler) deadline(ctx context.Context) (context.Context, context.CancelFunc) {
	if h.opts.WriteTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, h.opts.WriteTimeout)
}

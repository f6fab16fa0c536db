package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/codes"

	cfotel "github.com/Strob0t/AlarmRelay/internal/adapter/otel"
	"github.com/Strob0t/AlarmRelay/internal/domain/alarm"
	"github.com/Strob0t/AlarmRelay/internal/port/broadcast"
	"github.com/Strob0t/AlarmRelay/internal/port/messagequeue"
	"github.com/Strob0t/AlarmRelay/internal/resilience"
)

// DefaultRetryDelay is the pause between failed publish attempts.
const DefaultRetryDelay = time.Second

// Forwarder republishes every stored alarm to a message queue subject.
//
// It is an ordinary relay subscriber. If it falls behind and is evicted it
// resubscribes and replays the retained alarms it has not yet forwarded, so
// only alarms that aged out of the store while it was disconnected are lost.
type Forwarder struct {
	relay      *RelayService
	pub        messagequeue.Publisher
	subject    string
	breaker    *resilience.Breaker
	metrics    *cfotel.Metrics
	instance   string
	retryDelay time.Duration

	lastID uint64
}

// NewForwarder creates a Forwarder publishing to subject through pub.
// Publish calls are guarded by breaker.
func NewForwarder(relay *RelayService, pub messagequeue.Publisher, subject string, breaker *resilience.Breaker) *Forwarder {
	return &Forwarder{
		relay:      relay,
		pub:        pub,
		subject:    subject,
		breaker:    breaker,
		instance:   uuid.NewString(),
		retryDelay: DefaultRetryDelay,
	}
}

// SetMetrics enables metric recording.
func (f *Forwarder) SetMetrics(m *cfotel.Metrics) {
	f.metrics = m
}

// Run forwards alarms until ctx is cancelled or the relay is closed.
func (f *Forwarder) Run(ctx context.Context) error {
	slog.Info("alarm forwarder started", "subject", f.subject, "instance", f.instance)
	defer slog.Info("alarm forwarder stopped", "last_id", f.lastID)

	for {
		if ctx.Err() != nil || f.relay.Closed() {
			return nil
		}

		backlog, sub := f.relay.Subscribe(ctx)
		err := f.session(ctx, backlog, sub)
		f.relay.Unsubscribe(ctx, sub)

		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil
			}
			return err
		}
		if !f.relay.Closed() {
			slog.Warn("alarm forwarder fell behind, resubscribing", "last_id", f.lastID)
		}
	}
}

// session forwards the unsent part of backlog, then the live feed until the
// subscription ends.
func (f *Forwarder) session(ctx context.Context, backlog []alarm.Event, sub broadcast.Subscription) error {
	if len(backlog) > 0 && f.lastID > 0 && backlog[0].ID > f.lastID+1 {
		slog.Warn("alarms aged out before forwarding",
			"from_id", f.lastID+1, "to_id", backlog[0].ID-1)
	}
	for _, ev := range backlog {
		if ev.ID <= f.lastID {
			continue
		}
		if err := f.forward(ctx, ev); err != nil {
			return err
		}
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev := <-sub.Events():
			if err := f.forward(ctx, ev); err != nil {
				return err
			}
		case <-sub.Done():
			// Drain what was queued before removal.
			for {
				select {
				case ev := <-sub.Events():
					if err := f.forward(ctx, ev); err != nil {
						return err
					}
				default:
					return nil
				}
			}
		}
	}
}

// forward publishes ev, retrying until it succeeds or ctx ends.
func (f *Forwarder) forward(ctx context.Context, ev alarm.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode alarm %d: %w", ev.ID, err)
	}
	msgID := fmt.Sprintf("%s-%d", f.instance, ev.ID)

	for attempt := 1; ; attempt++ {
		err := f.publish(ctx, ev.ID, msgID, data)
		if err == nil {
			f.lastID = ev.ID
			return nil
		}
		if f.metrics != nil {
			f.metrics.ForwardFailures.Add(ctx, 1)
		}
		if !errors.Is(err, resilience.ErrCircuitOpen) {
			slog.Warn("alarm forward failed", "alarm_id", ev.ID, "attempt", attempt, "error", err)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(f.retryDelay):
		}
	}
}

func (f *Forwarder) publish(ctx context.Context, id uint64, msgID string, data []byte) error {
	ctx, span := cfotel.StartForwardSpan(ctx, id, f.subject)
	defer span.End()

	err := f.breaker.Execute(func() error {
		return f.pub.Publish(ctx, f.subject, msgID, data)
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	if f.metrics != nil {
		f.metrics.AlarmsForwarded.Add(ctx, 1)
	}
	return nil
}

// Package service contains application services.
package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/metric"

	cfotel "github.com/Strob0t/AlarmRelay/internal/adapter/otel"
	"github.com/Strob0t/AlarmRelay/internal/domain/alarm"
	"github.com/Strob0t/AlarmRelay/internal/port/broadcast"
	"github.com/Strob0t/AlarmRelay/internal/port/cache"
	"github.com/Strob0t/AlarmRelay/internal/port/eventstore"
)

// RelayService stores incoming alarms and fans them out to live subscribers.
//
// Appending to the store and publishing to the broadcaster happen under one
// lock, as do taking a snapshot and registering a subscriber. A subscriber
// therefore sees every alarm exactly once: either in its snapshot or on its
// live feed, never both and never neither.
type RelayService struct {
	mu       sync.Mutex
	store    eventstore.Store
	hub      broadcast.Broadcaster
	cache    cache.Cache
	cacheTTL time.Duration
	metrics  *cfotel.Metrics
	closed   atomic.Bool
}

// NewRelayService creates a RelayService over the given store and broadcaster.
func NewRelayService(store eventstore.Store, hub broadcast.Broadcaster) *RelayService {
	return &RelayService{store: store, hub: hub}
}

// SetCache enables caching of encoded snapshots.
func (s *RelayService) SetCache(c cache.Cache, ttl time.Duration) {
	s.cache = c
	s.cacheTTL = ttl
}

// SetMetrics enables metric recording.
func (s *RelayService) SetMetrics(m *cfotel.Metrics) {
	s.metrics = m
}

// Ingest stores d and publishes the stored event to every live subscriber.
func (s *RelayService) Ingest(ctx context.Context, d alarm.Draft) alarm.Event {
	ctx, span := cfotel.StartIngestSpan(ctx, d.SourceAddress, len(d.Body))
	defer span.End()

	s.mu.Lock()
	ev := s.store.Append(d)
	s.hub.Publish(ev)
	s.mu.Unlock()

	if s.metrics != nil {
		s.metrics.AlarmsReceived.Add(ctx, 1)
		s.metrics.PayloadBytes.Record(ctx, int64(len(d.Body)))
	}
	slog.DebugContext(ctx, "alarm stored", "alarm_id", ev.ID, "source", ev.SourceAddress)
	return ev
}

// Snapshot returns the retained alarms, oldest first.
func (s *RelayService) Snapshot() []alarm.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.store.Snapshot()
}

// SnapshotJSON returns the encoded snapshot document. Encodings are cached
// by the last assigned ID, which identifies the retained set exactly.
func (s *RelayService) SnapshotJSON(ctx context.Context) ([]byte, error) {
	s.mu.Lock()
	lastID := s.store.LastID()
	events := s.store.Snapshot()
	s.mu.Unlock()

	key := fmt.Sprintf("snapshot:%d", lastID)
	if s.cache != nil {
		if data, ok, err := s.cache.Get(ctx, key); err != nil {
			slog.WarnContext(ctx, "snapshot cache get failed", "error", err)
		} else if ok {
			return data, nil
		}
	}

	data, err := json.Marshal(alarm.NewSnapshot(events))
	if err != nil {
		return nil, fmt.Errorf("encode snapshot: %w", err)
	}

	if s.cache != nil {
		if err := s.cache.Set(ctx, key, data, s.cacheTTL); err != nil {
			slog.WarnContext(ctx, "snapshot cache set failed", "error", err)
		}
	}
	return data, nil
}

// Subscribe atomically takes a snapshot and registers a live subscription.
// The caller must Unsubscribe when done.
func (s *RelayService) Subscribe(ctx context.Context) ([]alarm.Event, broadcast.Subscription) {
	s.mu.Lock()
	events := s.store.Snapshot()
	sub := s.hub.Subscribe()
	s.mu.Unlock()

	if s.metrics != nil {
		s.metrics.StreamsOpened.Add(ctx, 1)
	}
	return events, sub
}

// Unsubscribe removes a subscription.
func (s *RelayService) Unsubscribe(ctx context.Context, sub broadcast.Subscription) {
	s.hub.Unsubscribe(sub)
	if s.metrics != nil {
		s.metrics.StreamsClosed.Add(ctx, 1)
	}
}

// RecordRejected counts a submission refused before storage.
func (s *RelayService) RecordRejected(ctx context.Context, reason string) {
	if s.metrics != nil {
		s.metrics.AlarmsRejected.Add(ctx, 1, metric.WithAttributes(cfotel.ReasonAttr(reason)))
	}
}

// RecordParseFailure counts an alarm stored with a ParseFailure body.
func (s *RelayService) RecordParseFailure(ctx context.Context) {
	if s.metrics != nil {
		s.metrics.ParseFailures.Add(ctx, 1)
	}
}

// Stats is a point-in-time view of relay state.
type Stats struct {
	Retained    int    `json:"retained"`
	Capacity    int    `json:"capacity"`
	LastID      uint64 `json:"last_id"`
	Subscribers int    `json:"subscribers"`
	Evicted     int64  `json:"evicted"`
}

// Stats returns the current relay state.
func (s *RelayService) Stats() Stats {
	return Stats{
		Retained:    s.Retained(),
		Capacity:    s.store.Capacity(),
		LastID:      s.store.LastID(),
		Subscribers: s.Subscribers(),
		Evicted:     s.Evicted(),
	}
}

// Retained returns the number of alarms held for catch-up.
func (s *RelayService) Retained() int { return s.store.Len() }

// Subscribers returns the number of live subscriptions.
func (s *RelayService) Subscribers() int { return s.hub.Count() }

// Evicted returns how many subscriptions were dropped for falling behind,
// when the broadcaster tracks it.
func (s *RelayService) Evicted() int64 {
	if e, ok := s.hub.(interface{ Evicted() int64 }); ok {
		return e.Evicted()
	}
	return 0
}

// Close ends every live subscription. Ingest keeps working so in-flight
// requests can finish during shutdown.
func (s *RelayService) Close() {
	s.closed.Store(true)
	s.hub.Close()
}

// Closed reports whether Close has been called.
func (s *RelayService) Closed() bool {
	return s.closed.Load()
}

var _ cfotel.RelayStats = (*RelayService)(nil)

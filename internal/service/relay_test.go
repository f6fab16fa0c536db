package service

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/Strob0t/AlarmRelay/internal/adapter/fanout"
	"github.com/Strob0t/AlarmRelay/internal/adapter/memory"
	"github.com/Strob0t/AlarmRelay/internal/adapter/ristretto"
	"github.com/Strob0t/AlarmRelay/internal/domain/alarm"
)

func newTestRelay(capacity, buffer int) *RelayService {
	return NewRelayService(memory.NewStore(capacity), fanout.NewHub(buffer))
}

func draft(body string) alarm.Draft {
	return alarm.Draft{
		ReceivedAt:    time.Now().UTC(),
		SourceAddress: "10.0.0.1",
		Headers:       alarm.Headers{"content-type": {"application/json"}},
		Body:          json.RawMessage(body),
	}
}

func TestRelayService_IngestAssignsIDsAndPublishes(t *testing.T) {
	svc := newTestRelay(100, 16)
	ctx := context.Background()

	_, sub := svc.Subscribe(ctx)
	defer svc.Unsubscribe(ctx, sub)

	for i := 1; i <= 3; i++ {
		ev := svc.Ingest(ctx, draft(`{"n":1}`))
		if ev.ID != uint64(i) {
			t.Fatalf("ingest %d: id = %d", i, ev.ID)
		}
	}

	for want := uint64(1); want <= 3; want++ {
		select {
		case ev := <-sub.Events():
			if ev.ID != want {
				t.Fatalf("live id = %d, want %d", ev.ID, want)
			}
		case <-time.After(time.Second):
			t.Fatalf("timed out waiting for id %d", want)
		}
	}
}

func TestRelayService_SubscribeSnapshot(t *testing.T) {
	svc := newTestRelay(2, 16)
	ctx := context.Background()

	for range 3 {
		svc.Ingest(ctx, draft(`{}`))
	}

	snap, sub := svc.Subscribe(ctx)
	defer svc.Unsubscribe(ctx, sub)

	if len(snap) != 2 || snap[0].ID != 2 || snap[1].ID != 3 {
		t.Fatalf("snapshot ids = %v, want [2 3]", ids(snap))
	}
	if svc.Subscribers() != 1 {
		t.Fatalf("Subscribers() = %d, want 1", svc.Subscribers())
	}
}

// Every alarm ingested while subscribers attach must reach each subscriber
// exactly once, either through its snapshot or its live feed.
func TestRelayService_NoGapNoDuplicateUnderConcurrentIngest(t *testing.T) {
	const total = 500
	svc := newTestRelay(total, total)
	ctx := context.Background()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for range total {
			svc.Ingest(ctx, draft(`{}`))
		}
	}()

	type result struct {
		seen map[uint64]int
	}
	const subscribers = 8
	results := make(chan result, subscribers)
	for range subscribers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			snap, sub := svc.Subscribe(ctx)
			defer svc.Unsubscribe(ctx, sub)

			seen := map[uint64]int{}
			for _, ev := range snap {
				seen[ev.ID]++
			}
			timeout := time.After(5 * time.Second)
			for len(seen) < total {
				select {
				case ev := <-sub.Events():
					seen[ev.ID]++
				case <-timeout:
					results <- result{seen}
					return
				}
			}
			results <- result{seen}
		}()
	}
	wg.Wait()
	close(results)

	for r := range results {
		if len(r.seen) != total {
			t.Errorf("subscriber saw %d distinct alarms, want %d", len(r.seen), total)
		}
		for id, n := range r.seen {
			if n != 1 {
				t.Errorf("alarm %d delivered %d times", id, n)
			}
		}
	}
}

func TestRelayService_SnapshotJSON(t *testing.T) {
	svc := newTestRelay(100, 16)
	ctx := context.Background()

	data, err := svc.SnapshotJSON(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != `{"items":[]}` {
		t.Fatalf("empty snapshot = %s", data)
	}

	svc.Ingest(ctx, draft(`{"a":1}`))
	data, err = svc.SnapshotJSON(ctx)
	if err != nil {
		t.Fatal(err)
	}
	var snap alarm.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		t.Fatal(err)
	}
	if len(snap.Items) != 1 || snap.Items[0].ID != 1 {
		t.Fatalf("snapshot = %s", data)
	}
}

func TestRelayService_SnapshotJSONCached(t *testing.T) {
	c, err := ristretto.New(1)
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()

	svc := newTestRelay(100, 16)
	svc.SetCache(c, time.Minute)
	ctx := context.Background()

	svc.Ingest(ctx, draft(`{"a":1}`))
	first, err := svc.SnapshotJSON(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok, _ := c.Get(ctx, "snapshot:1"); !ok {
		t.Fatal("expected snapshot:1 to be cached")
	}

	// A new alarm changes the key, so a stale encoding is never served.
	svc.Ingest(ctx, draft(`{"a":2}`))
	second, err := svc.SnapshotJSON(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if string(first) == string(second) {
		t.Fatal("snapshot did not change after ingest")
	}
}

func TestRelayService_CloseEndsSubscriptions(t *testing.T) {
	svc := newTestRelay(100, 16)
	ctx := context.Background()

	_, sub := svc.Subscribe(ctx)
	svc.Close()

	select {
	case <-sub.Done():
	case <-time.After(time.Second):
		t.Fatal("subscription not ended by Close")
	}
	if !svc.Closed() {
		t.Fatal("Closed() = false after Close")
	}
	if svc.Subscribers() != 0 {
		t.Fatalf("Subscribers() = %d after Close", svc.Subscribers())
	}

	// Ingest still stores after Close.
	if ev := svc.Ingest(ctx, draft(`{}`)); ev.ID != 1 {
		t.Fatalf("ingest after close id = %d", ev.ID)
	}
}

func TestRelayService_Stats(t *testing.T) {
	svc := newTestRelay(2, 1)
	ctx := context.Background()

	_, slow := svc.Subscribe(ctx)
	defer svc.Unsubscribe(ctx, slow)

	for range 3 {
		svc.Ingest(ctx, draft(`{}`))
	}

	st := svc.Stats()
	if st.Retained != 2 || st.Capacity != 2 || st.LastID != 3 {
		t.Fatalf("stats = %+v", st)
	}
	if st.Evicted != 1 || st.Subscribers != 0 {
		t.Fatalf("slow subscriber not evicted: %+v", st)
	}
}

func ids(events []alarm.Event) []uint64 {
	out := make([]uint64, len(events))
	for i, ev := range events {
		out[i] = ev.ID
	}
	return out
}

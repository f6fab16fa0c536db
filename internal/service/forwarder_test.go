package service

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Strob0t/AlarmRelay/internal/domain/alarm"
	"github.com/Strob0t/AlarmRelay/internal/resilience"
)

// fakePublisher records published messages and can be told to fail.
type fakePublisher struct {
	mu       sync.Mutex
	msgs     []alarm.Event
	msgIDs   []string
	failNext int
	notify   chan struct{}
}

func newFakePublisher() *fakePublisher {
	return &fakePublisher{notify: make(chan struct{}, 1024)}
}

func (p *fakePublisher) Publish(_ context.Context, _, msgID string, data []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.failNext > 0 {
		p.failNext--
		return errors.New("queue unavailable")
	}
	var ev alarm.Event
	if err := json.Unmarshal(data, &ev); err != nil {
		return err
	}
	p.msgs = append(p.msgs, ev)
	p.msgIDs = append(p.msgIDs, msgID)
	p.notify <- struct{}{}
	return nil
}

func (p *fakePublisher) IsConnected() bool { return true }
func (p *fakePublisher) Close() error      { return nil }

func (p *fakePublisher) published() []uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]uint64, len(p.msgs))
	for i, ev := range p.msgs {
		out[i] = ev.ID
	}
	return out
}

func (p *fakePublisher) waitFor(t *testing.T, n int) {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for len(p.published()) < n {
		select {
		case <-p.notify:
		case <-deadline:
			t.Fatalf("published %d messages, want %d", len(p.published()), n)
		}
	}
}

func startForwarder(t *testing.T, f *Forwarder) (cancel func(), done <-chan error) {
	t.Helper()
	ctx, cancelFn := context.WithCancel(context.Background())
	ch := make(chan error, 1)
	go func() { ch <- f.Run(ctx) }()
	return cancelFn, ch
}

func waitSubscribed(t *testing.T, svc *RelayService) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for svc.Subscribers() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("forwarder never subscribed")
		}
		time.Sleep(time.Millisecond)
	}
}

func TestForwarder_ForwardsInOrder(t *testing.T) {
	svc := newTestRelay(100, 16)
	pub := newFakePublisher()
	f := NewForwarder(svc, pub, "alarms.received", resilience.NewBreaker(5, time.Second))

	cancel, done := startForwarder(t, f)
	waitSubscribed(t, svc)

	for range 5 {
		svc.Ingest(context.Background(), draft(`{}`))
	}
	pub.waitFor(t, 5)

	cancel()
	if err := <-done; err != nil {
		t.Fatalf("Run returned %v", err)
	}

	got := pub.published()
	for i, id := range got {
		if id != uint64(i+1) {
			t.Fatalf("published ids = %v", got)
		}
	}
	for _, msgID := range pub.msgIDs {
		if !strings.HasPrefix(msgID, f.instance+"-") {
			t.Fatalf("msg id %q lacks instance prefix", msgID)
		}
	}
}

func TestForwarder_RetriesFailedPublish(t *testing.T) {
	svc := newTestRelay(100, 16)
	pub := newFakePublisher()
	pub.failNext = 2
	f := NewForwarder(svc, pub, "alarms.received", resilience.NewBreaker(5, time.Second))
	f.retryDelay = time.Millisecond

	cancel, done := startForwarder(t, f)
	defer func() { cancel(); <-done }()
	waitSubscribed(t, svc)

	svc.Ingest(context.Background(), draft(`{"retry":true}`))
	pub.waitFor(t, 1)

	if got := pub.published(); len(got) != 1 || got[0] != 1 {
		t.Fatalf("published ids = %v, want [1]", got)
	}
}

func TestForwarder_ReplaysBacklogAfterEviction(t *testing.T) {
	svc := newTestRelay(100, 1)
	pub := newFakePublisher()
	pub.failNext = 1
	f := NewForwarder(svc, pub, "alarms.received", resilience.NewBreaker(5, time.Second))
	f.retryDelay = 50 * time.Millisecond

	cancel, done := startForwarder(t, f)
	defer func() { cancel(); <-done }()
	waitSubscribed(t, svc)

	// The first publish fails, so the forwarder sits in its retry delay
	// while the queue of one fills and it is evicted.
	for range 4 {
		svc.Ingest(context.Background(), draft(`{}`))
	}
	pub.waitFor(t, 4)

	got := pub.published()
	for i, id := range got[:4] {
		if id != uint64(i+1) {
			t.Fatalf("published ids = %v, want 1..4 without gaps", got)
		}
	}
}

func TestForwarder_StopsWhenRelayCloses(t *testing.T) {
	svc := newTestRelay(100, 16)
	f := NewForwarder(svc, newFakePublisher(), "alarms.received", resilience.NewBreaker(5, time.Second))

	cancel, done := startForwarder(t, f)
	defer cancel()
	waitSubscribed(t, svc)

	svc.Close()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run returned %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("forwarder did not stop after relay close")
	}
}

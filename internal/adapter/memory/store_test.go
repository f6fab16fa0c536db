package memory

import (
	"fmt"
	"sort"
	"sync"
	"testing"

	"github.com/Strob0t/AlarmRelay/internal/domain/alarm"
	"github.com/Strob0t/AlarmRelay/internal/port/eventstore"
)

var _ eventstore.Store = (*Store)(nil)

func draft(n int) alarm.Draft {
	return alarm.Draft{SourceAddress: fmt.Sprintf("src-%d", n)}
}

func TestStoreRetainsMostRecent(t *testing.T) {
	for _, n := range []int{0, 1, 50, 99, 100, 101, 250} {
		t.Run(fmt.Sprintf("n=%d", n), func(t *testing.T) {
			s := NewStore(100)
			for i := 1; i <= n; i++ {
				s.Append(draft(i))
			}

			snap := s.Snapshot()
			want := min(n, 100)
			if len(snap) != want {
				t.Fatalf("expected %d retained, got %d", want, len(snap))
			}
			if s.Len() != want {
				t.Fatalf("Len() = %d, want %d", s.Len(), want)
			}

			// Oldest first, contiguous, ending at the last appended.
			for i, ev := range snap {
				wantID := uint64(n - want + i + 1)
				if ev.ID != wantID {
					t.Fatalf("snap[%d].ID = %d, want %d", i, ev.ID, wantID)
				}
				if ev.SourceAddress != fmt.Sprintf("src-%d", wantID) {
					t.Fatalf("snap[%d] has wrong payload %q", i, ev.SourceAddress)
				}
			}
		})
	}
}

func TestStoreEvictsExactlyOldest(t *testing.T) {
	s := NewStore(100)
	for i := 1; i <= 100; i++ {
		s.Append(draft(i))
	}
	before := s.Snapshot()

	ev := s.Append(draft(101))
	if ev.ID != 101 {
		t.Fatalf("expected id 101, got %d", ev.ID)
	}

	after := s.Snapshot()
	if len(after) != 100 {
		t.Fatalf("expected 100 retained, got %d", len(after))
	}
	for i := range 99 {
		if after[i].ID != before[i+1].ID {
			t.Fatalf("after[%d] = %d, want %d", i, after[i].ID, before[i+1].ID)
		}
	}
	if after[99].ID != 101 {
		t.Fatalf("newest = %d, want 101", after[99].ID)
	}
}

func TestStoreIDsStartAtOne(t *testing.T) {
	s := NewStore(3)
	if s.LastID() != 0 {
		t.Fatalf("expected LastID 0 on empty store, got %d", s.LastID())
	}
	for i := 1; i <= 5; i++ {
		if ev := s.Append(draft(i)); ev.ID != uint64(i) {
			t.Fatalf("append %d got id %d", i, ev.ID)
		}
	}
	if s.LastID() != 5 {
		t.Fatalf("expected LastID 5, got %d", s.LastID())
	}
}

func TestStoreDefaultCapacity(t *testing.T) {
	if got := NewStore(0).Capacity(); got != DefaultCapacity {
		t.Fatalf("expected capacity %d, got %d", DefaultCapacity, got)
	}
}

func TestStoreSnapshotIsCopy(t *testing.T) {
	s := NewStore(2)
	s.Append(draft(1))
	snap := s.Snapshot()
	snap[0].SourceAddress = "mutated"

	if got := s.Snapshot()[0].SourceAddress; got != "src-1" {
		t.Fatalf("snapshot mutation leaked into store: %q", got)
	}
}

func TestStoreConcurrentAppendIDs(t *testing.T) {
	const goroutines = 16
	const perGoroutine = 250
	total := goroutines * perGoroutine

	s := NewStore(100)

	var mu sync.Mutex
	ids := make([]uint64, 0, total)

	var wg sync.WaitGroup
	for g := range goroutines {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range perGoroutine {
				ev := s.Append(draft(g*perGoroutine + i))
				mu.Lock()
				ids = append(ids, ev.ID)
				mu.Unlock()
			}
		}()
	}

	// Concurrent readers must always see a contiguous, ordered window.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for range 200 {
			snap := s.Snapshot()
			for i := 1; i < len(snap); i++ {
				if snap[i].ID != snap[i-1].ID+1 {
					t.Errorf("torn snapshot: %d followed by %d", snap[i-1].ID, snap[i].ID)
					return
				}
			}
		}
	}()

	wg.Wait()
	<-done

	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	for i, id := range ids {
		if id != uint64(i+1) {
			t.Fatalf("ids not 1..%d without gaps: position %d has %d", total, i, id)
		}
	}

	snap := s.Snapshot()
	if len(snap) != 100 || snap[99].ID != uint64(total) {
		t.Fatalf("expected last 100 events ending at %d, got %d ending at %d", total, len(snap), snap[len(snap)-1].ID)
	}
}

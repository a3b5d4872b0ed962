package clock

import (
	"sync"
	"testing"
	"time"
)

func TestHLC_Monotonic(t *testing.T) {
	hlc := NewHLC()
	prev := hlc.Next()
	for i := 0; i < 1000; i++ {
		next := hlc.Next()
		if next <= prev {
			t.Fatalf("Stamp regressed: %d after %d", next, prev)
		}
		prev = next
	}
}

func TestHLC_NextIsAtLeastWallClock(t *testing.T) {
	hlc := NewHLC()
	before := time.Now().UnixMicro()
	stamp := hlc.Next()
	if stamp < before {
		t.Errorf("Stamp %d is behind the wall clock %d", stamp, before)
	}
}

func TestHLC_ObserveAdvancesPastRemote(t *testing.T) {
	hlc := NewHLC()
	// A remote stamp far in the future must push local stamps past it.
	future := time.Now().UnixMicro() + int64(time.Hour/time.Microsecond)
	hlc.Observe(future)

	stamp := hlc.Next()
	if stamp <= future {
		t.Errorf("Stamp %d should sort after observed %d", stamp, future)
	}
	if stamp != future+1 {
		t.Errorf("Wall clock is behind the observed stamp, expected %d, got %d", future+1, stamp)
	}
}

func TestHLC_ObserveIgnoresStale(t *testing.T) {
	hlc := NewHLC()
	first := hlc.Next()
	hlc.Observe(first - 1000)
	second := hlc.Next()
	if second <= first {
		t.Errorf("Stale observation regressed the source: %d after %d", second, first)
	}
}

func TestHLC_ConcurrentUniqueness(t *testing.T) {
	hlc := NewHLC()

	const workers = 8
	const perWorker = 200

	var mu sync.Mutex
	seen := make(map[int64]bool, workers*perWorker)

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perWorker; j++ {
				stamp := hlc.Next()
				mu.Lock()
				if seen[stamp] {
					t.Errorf("Duplicate stamp issued: %d", stamp)
				}
				seen[stamp] = true
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if len(seen) != workers*perWorker {
		t.Errorf("Expected %d unique stamps, got %d", workers*perWorker, len(seen))
	}
}

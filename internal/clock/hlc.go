package clock

import (
	"sync"
	"time"
)

// HLC is a hybrid-logical clock source. Stamps are wall-clock
// microseconds; when the wall clock repeats or regresses, the logical
// component folds into the same granularity by advancing one microsecond
// past the last stamp handed out. Stamps from a single source are
// strictly monotonic and stay within the JSON-safe integer range.
type HLC struct {
	mu   sync.Mutex
	last int64
}

// NewHLC returns a hybrid-logical clock source backed by the wall clock.
func NewHLC() *HLC {
	return &HLC{}
}

// Next returns a stamp strictly greater than every stamp previously
// returned or observed, and at least the current wall reading.
func (h *HLC) Next() int64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	now := time.Now().UnixMicro()
	if now > h.last {
		h.last = now
	} else {
		h.last++
	}
	return h.last
}

// Observe folds a remote stamp into the source so that stamps issued
// afterwards sort after it. Stale stamps are ignored.
func (h *HLC) Observe(stamp int64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if stamp > h.last {
		h.last = stamp
	}
}

package clock

import (
	"fmt"
	"sort"
	"strings"

	"github.com/goccy/go-json"
)

// stampKey is the reserved key carrying the hybrid-logical stamp in the
// JSON form of a clock. Node IDs must not begin with an underscore.
const stampKey = "_ts"

// VectorClock holds per-node monotonic counters plus the hybrid-logical
// timestamp recorded when the clock was last advanced. The zero value is
// the implicit zero clock: every counter reads zero. Methods never
// mutate the receiver; operations that advance a clock return a new one,
// so clocks can be shared across goroutines without coordination.
type VectorClock struct {
	counters map[string]uint64
	stamp    int64
}

// New creates a new empty vector clock.
func New() VectorClock {
	return VectorClock{}
}

// Make builds a vector clock from a counter map and a stamp. The map is
// copied; zero counters are dropped, since a missing entry already reads
// as zero.
func Make(counters map[string]uint64, stamp int64) VectorClock {
	vc := VectorClock{stamp: stamp}
	for node, counter := range counters {
		if counter == 0 {
			continue
		}
		if vc.counters == nil {
			vc.counters = make(map[string]uint64, len(counters))
		}
		vc.counters[node] = counter
	}
	return vc
}

// Counter returns the counter value for the given node ID, or 0 if not
// present.
func (vc VectorClock) Counter(node string) uint64 {
	return vc.counters[node]
}

// Stamp returns the hybrid-logical timestamp recorded when the clock was
// last advanced, in microseconds.
func (vc VectorClock) Stamp() int64 {
	return vc.stamp
}

// Len returns the number of nodes with a nonzero counter.
func (vc VectorClock) Len() int {
	return len(vc.counters)
}

// Sum returns the total of all counters. Comparing sums is a cheap lag
// heuristic between a device's known clock and a record's clock.
func (vc VectorClock) Sum() uint64 {
	var total uint64
	for _, counter := range vc.counters {
		total += counter
	}
	return total
}

// Nodes returns the node IDs with nonzero counters, sorted.
func (vc VectorClock) Nodes() []string {
	nodes := make([]string, 0, len(vc.counters))
	for node := range vc.counters {
		nodes = append(nodes, node)
	}
	sort.Strings(nodes)
	return nodes
}

// Counters returns a copy of the counter map.
func (vc VectorClock) Counters() map[string]uint64 {
	counters := make(map[string]uint64, len(vc.counters))
	for node, counter := range vc.counters {
		counters[node] = counter
	}
	return counters
}

// Increment returns a new clock with the given node's counter bumped by
// one and the hybrid-logical stamp advanced. The stamp becomes the given
// value when it is ahead of the clock's current stamp, otherwise the
// current stamp plus one, so incrementing always moves the stamp forward
// even under wall-clock regression.
func (vc VectorClock) Increment(node string, stamp int64) VectorClock {
	next := vc.Copy()
	if next.counters == nil {
		next.counters = make(map[string]uint64, 1)
	}
	next.counters[node]++
	if stamp > vc.stamp {
		next.stamp = stamp
	} else {
		next.stamp = vc.stamp + 1
	}
	return next
}

// Merge returns the pointwise maximum of both clocks, with the greater
// of the two stamps. Merging is commutative, associative and idempotent.
func (vc VectorClock) Merge(other VectorClock) VectorClock {
	merged := vc.Copy()
	for node, counter := range other.counters {
		if merged.counters == nil {
			merged.counters = make(map[string]uint64, len(other.counters))
		}
		if merged.counters[node] < counter {
			merged.counters[node] = counter
		}
	}
	if other.stamp > merged.stamp {
		merged.stamp = other.stamp
	}
	return merged
}

// Copy creates a deep copy of the vector clock.
func (vc VectorClock) Copy() VectorClock {
	if len(vc.counters) == 0 {
		return VectorClock{stamp: vc.stamp}
	}
	counters := make(map[string]uint64, len(vc.counters))
	for node, counter := range vc.counters {
		counters[node] = counter
	}
	return VectorClock{counters: counters, stamp: vc.stamp}
}

// CompareResult represents the result of comparing two vector clocks.
type CompareResult int

const (
	// Precedes indicates this clock happened before the other.
	Precedes CompareResult = iota
	// Succeeds indicates this clock happened after the other.
	Succeeds
	// Concurrent indicates the clocks are concurrent (no causal relationship).
	Concurrent
	// Equal indicates the clocks are equal.
	Equal
)

// String returns a human-readable name for the compare result.
func (r CompareResult) String() string {
	switch r {
	case Precedes:
		return "precedes"
	case Succeeds:
		return "succeeds"
	case Concurrent:
		return "concurrent"
	case Equal:
		return "equal"
	default:
		return "unknown"
	}
}

// Compare compares two vector clocks and returns their relationship.
// Nodes absent from either clock read as counter zero, and the stamp
// plays no part in the comparison.
// Returns:
//   - Equal: if all counters are equal
//   - Precedes: if this clock happened before other (all counters <=, at least one <)
//   - Succeeds: if this clock happened after other (all counters >=, at least one >)
//   - Concurrent: if neither dominates (some counters are greater, some are less)
func (vc VectorClock) Compare(other VectorClock) CompareResult {
	if vc.Equal(other) {
		return Equal
	}

	allNodes := make(map[string]bool, len(vc.counters)+len(other.counters))
	for node := range vc.counters {
		allNodes[node] = true
	}
	for node := range other.counters {
		allNodes[node] = true
	}

	var thisLess, thisGreater bool
	for node := range allNodes {
		thisVal := vc.counters[node]
		otherVal := other.counters[node]
		if thisVal < otherVal {
			thisLess = true
		} else if thisVal > otherVal {
			thisGreater = true
		}
	}

	if thisLess && !thisGreater {
		return Precedes
	}
	if thisGreater && !thisLess {
		return Succeeds
	}
	return Concurrent
}

// Equal checks if two vector clocks hold identical counters. Stamps are
// not compared; causally equal clocks may carry different stamps.
func (vc VectorClock) Equal(other VectorClock) bool {
	if len(vc.counters) != len(other.counters) {
		return false
	}
	for node, counter := range vc.counters {
		if other.counters[node] != counter {
			return false
		}
	}
	return true
}

// Dominates returns true if this clock strictly succeeds the other.
func (vc VectorClock) Dominates(other VectorClock) bool {
	return vc.Compare(other) == Succeeds
}

// IsConcurrent returns true if this clock is concurrent with the other.
func (vc VectorClock) IsConcurrent(other VectorClock) bool {
	return vc.Compare(other) == Concurrent
}

// String returns a string representation of the vector clock.
func (vc VectorClock) String() string {
	if len(vc.counters) == 0 {
		return "{}"
	}

	// Sort for deterministic output
	keys := make([]string, 0, len(vc.counters))
	for k := range vc.counters {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var parts []string
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s:%d", k, vc.counters[k]))
	}
	return "{" + strings.Join(parts, ", ") + "}"
}

// MarshalJSON encodes the clock as a flat {"node": counter} object with
// the stamp riding in the reserved "_ts" key.
func (vc VectorClock) MarshalJSON() ([]byte, error) {
	m := make(map[string]uint64, len(vc.counters)+1)
	for node, counter := range vc.counters {
		m[node] = counter
	}
	if vc.stamp != 0 {
		m[stampKey] = uint64(vc.stamp)
	}
	return json.Marshal(m)
}

// UnmarshalJSON decodes the flat wire form. Zero counters are dropped,
// the "_ts" key becomes the stamp, and any other underscore-prefixed key
// is ignored as reserved. A missing node is the implicit zero; decoding
// never fails on absent entries.
func (vc *VectorClock) UnmarshalJSON(data []byte) error {
	var m map[string]uint64
	if err := json.Unmarshal(data, &m); err != nil {
		return fmt.Errorf("clock: decode vector clock: %w", err)
	}
	next := VectorClock{}
	for node, counter := range m {
		if node == stampKey {
			next.stamp = int64(counter)
			continue
		}
		if strings.HasPrefix(node, "_") {
			continue
		}
		if counter == 0 {
			continue
		}
		if next.counters == nil {
			next.counters = make(map[string]uint64, len(m))
		}
		next.counters[node] = counter
	}
	*vc = next
	return nil
}

package clock

import (
	"testing"
)

// TestVectorClock_Property_MergeDominatesBoth tests that merge(a,b) dominates both a and b
func TestVectorClock_Property_MergeDominatesBoth(t *testing.T) {
	vc1 := Make(map[string]uint64{"n1": 1, "n2": 1}, 0)
	vc2 := Make(map[string]uint64{"n1": 2, "n3": 1}, 0)

	merged := vc1.Merge(vc2)

	// Merged should dominate vc1
	comp1 := merged.Compare(vc1)
	if comp1 != Succeeds && comp1 != Equal {
		t.Errorf("Merged clock should dominate or equal vc1, got %v", comp1)
	}

	// Merged should dominate vc2
	comp2 := merged.Compare(vc2)
	if comp2 != Succeeds && comp2 != Equal {
		t.Errorf("Merged clock should dominate or equal vc2, got %v", comp2)
	}

	// Merged should have max of each node
	if merged.Counter("n1") != 2 {
		t.Errorf("Merged should have n1=max(1,2)=2, got %d", merged.Counter("n1"))
	}
	if merged.Counter("n2") != 1 {
		t.Errorf("Merged should have n2=1, got %d", merged.Counter("n2"))
	}
	if merged.Counter("n3") != 1 {
		t.Errorf("Merged should have n3=1, got %d", merged.Counter("n3"))
	}
}

// TestVectorClock_Property_MergeCommutative tests that merge(a,b) equals merge(b,a)
func TestVectorClock_Property_MergeCommutative(t *testing.T) {
	vc1 := Make(map[string]uint64{"n1": 3, "n2": 1}, 10)
	vc2 := Make(map[string]uint64{"n1": 1, "n3": 4}, 20)

	ab := vc1.Merge(vc2)
	ba := vc2.Merge(vc1)

	if !ab.Equal(ba) {
		t.Errorf("Merge should be commutative: %s vs %s", ab, ba)
	}
	if ab.Stamp() != ba.Stamp() {
		t.Errorf("Merged stamps should match: %d vs %d", ab.Stamp(), ba.Stamp())
	}
}

// TestVectorClock_Property_MergeAssociative tests that merge order does not matter
func TestVectorClock_Property_MergeAssociative(t *testing.T) {
	vc1 := Make(map[string]uint64{"n1": 1}, 5)
	vc2 := Make(map[string]uint64{"n2": 2}, 9)
	vc3 := Make(map[string]uint64{"n1": 2, "n3": 1}, 7)

	left := vc1.Merge(vc2).Merge(vc3)
	right := vc1.Merge(vc2.Merge(vc3))

	if !left.Equal(right) {
		t.Errorf("Merge should be associative: %s vs %s", left, right)
	}
	if left.Stamp() != right.Stamp() {
		t.Errorf("Merged stamps should match: %d vs %d", left.Stamp(), right.Stamp())
	}
}

// TestVectorClock_Property_MergeIdempotent tests that merge(a,a) equals a
func TestVectorClock_Property_MergeIdempotent(t *testing.T) {
	vc := Make(map[string]uint64{"n1": 2, "n2": 5}, 30)

	merged := vc.Merge(vc)
	if !merged.Equal(vc) {
		t.Errorf("merge(a,a) should equal a: %s vs %s", merged, vc)
	}
	if merged.Stamp() != vc.Stamp() {
		t.Errorf("merge(a,a) should keep the stamp: %d vs %d", merged.Stamp(), vc.Stamp())
	}
}

// TestVectorClock_Property_CompareAntisymmetric tests antisymmetric property where applicable
func TestVectorClock_Property_CompareAntisymmetric(t *testing.T) {
	pairs := []struct {
		name string
		vc1  VectorClock
		vc2  VectorClock
	}{
		{"concurrent pair", Make(map[string]uint64{"n1": 1, "n2": 2}, 0), Make(map[string]uint64{"n1": 2, "n2": 1}, 0)},
		{"ordered pair", Make(map[string]uint64{"n1": 1}, 0), Make(map[string]uint64{"n1": 2}, 0)},
		{"equal pair", Make(map[string]uint64{"n1": 1}, 0), Make(map[string]uint64{"n1": 1}, 0)},
		{"empty vs nonzero", New(), Make(map[string]uint64{"n1": 1}, 0)},
	}

	for _, tt := range pairs {
		t.Run(tt.name, func(t *testing.T) {
			comp12 := tt.vc1.Compare(tt.vc2)
			comp21 := tt.vc2.Compare(tt.vc1)

			// If vc1 Precedes vc2, then vc2 should Succeed vc1
			if comp12 == Precedes && comp21 != Succeeds {
				t.Errorf("If vc1 precedes vc2, vc2 should succeed vc1, got %v", comp21)
			}

			// If vc1 Succeeds vc2, then vc2 should Precede vc1
			if comp12 == Succeeds && comp21 != Precedes {
				t.Errorf("If vc1 succeeds vc2, vc2 should precede vc1, got %v", comp21)
			}

			// Equality and concurrency are symmetric
			if comp12 == Equal && comp21 != Equal {
				t.Errorf("If vc1 equals vc2, vc2 should equal vc1, got %v", comp21)
			}
			if comp12 == Concurrent && comp21 != Concurrent {
				t.Errorf("If vc1 is concurrent with vc2, vc2 should be concurrent with vc1, got %v", comp21)
			}
		})
	}
}

// TestVectorClock_Property_IncrementSucceedsOriginal tests that incrementing produces a successor
func TestVectorClock_Property_IncrementSucceedsOriginal(t *testing.T) {
	vc := Make(map[string]uint64{"n1": 1, "n2": 2}, 100)
	next := vc.Increment("n1", 200)

	if next.Compare(vc) != Succeeds {
		t.Errorf("Incremented clock should succeed the original, got %v", next.Compare(vc))
	}
	if next.Stamp() <= vc.Stamp() {
		t.Errorf("Incremented clock stamp should advance: %d vs %d", next.Stamp(), vc.Stamp())
	}
}

// TestVectorClock_Property_MergeOfConcurrentSucceedsBoth tests that merging
// concurrent clocks yields a strict successor of each
func TestVectorClock_Property_MergeOfConcurrentSucceedsBoth(t *testing.T) {
	vc1 := Make(map[string]uint64{"x": 1}, 0)
	vc2 := Make(map[string]uint64{"y": 1}, 0)

	if vc1.Compare(vc2) != Concurrent {
		t.Fatalf("Clocks should be concurrent, got %v", vc1.Compare(vc2))
	}

	merged := vc1.Merge(vc2)
	if merged.Compare(vc1) != Succeeds {
		t.Errorf("Merged clock should strictly succeed vc1, got %v", merged.Compare(vc1))
	}
	if merged.Compare(vc2) != Succeeds {
		t.Errorf("Merged clock should strictly succeed vc2, got %v", merged.Compare(vc2))
	}
}

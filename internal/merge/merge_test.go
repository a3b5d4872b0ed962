package merge

import (
	"testing"

	"wardsync/internal/clock"
	"wardsync/internal/entity"
)

// makeOp builds a validated task operation for tests.
func makeOp(id, node string, counters map[string]uint64, ts int64, mutation map[string]entity.Value) entity.Operation {
	return entity.Operation{
		EntityType: entity.TypeTask,
		EntityID:   id,
		Node:       node,
		Clock:      clock.Make(counters, ts),
		Mutation:   mutation,
		ClientTS:   ts,
	}
}

// sameRecord compares two projections field by field.
func sameRecord(t *testing.T, a, b entity.Record) {
	t.Helper()
	if a.Type != b.Type || a.ID != b.ID {
		t.Fatalf("Identity differs: %s/%s vs %s/%s", a.Type, a.ID, b.Type, b.ID)
	}
	if !a.Clock.Equal(b.Clock) {
		t.Errorf("Clocks differ: %s vs %s", a.Clock, b.Clock)
	}
	if a.SchemaVersion != b.SchemaVersion {
		t.Errorf("Schema versions differ: %d vs %d", a.SchemaVersion, b.SchemaVersion)
	}
	if a.Retired != b.Retired {
		t.Errorf("Retired flags differ: %v vs %v", a.Retired, b.Retired)
	}
	if len(a.Fields) != len(b.Fields) {
		t.Fatalf("Field counts differ: %d vs %d", len(a.Fields), len(b.Fields))
	}
	for name, fa := range a.Fields {
		fb, ok := b.Fields[name]
		if !ok {
			t.Errorf("Field %q missing from second record", name)
			continue
		}
		if !fa.Value.Equal(fb.Value) || fa.Writer != fb.Writer || fa.WriteTS != fb.WriteTS {
			t.Errorf("Field %q differs: %+v vs %+v", name, fa, fb)
		}
	}
}

func TestApply_SeedsNewRecord(t *testing.T) {
	op := makeOp("t1", "x", map[string]uint64{"x": 1}, 100, map[string]entity.Value{
		"title":  entity.Text("restock trolley"),
		"status": entity.Text("todo"),
	})

	rec, outcome := Apply(nil, op)

	if outcome != OutcomeCleanApply {
		t.Errorf("Expected clean apply, got %v", outcome)
	}
	if rec.ID != "t1" || rec.Type != entity.TypeTask {
		t.Errorf("Unexpected identity: %s/%s", rec.Type, rec.ID)
	}
	if !rec.Clock.Equal(op.Clock) {
		t.Errorf("Record clock should equal the seeding op's clock, got %s", rec.Clock)
	}
	if rec.SchemaVersion != 1 {
		t.Errorf("Expected schema version 1, got %d", rec.SchemaVersion)
	}
	status := rec.Fields["status"]
	if status.Value.Text() != "todo" || status.Writer != "x" || status.WriteTS != 100 {
		t.Errorf("Unexpected status provenance: %+v", status)
	}
	if rec.Retired {
		t.Error("New record should not be retired")
	}
}

// Scenario: a record created on one device, then edited offline on a
// second device that had seen it. Either arrival order converges.
func TestApply_OfflineEditConvergesEitherOrder(t *testing.T) {
	create := makeOp("t1", "x", map[string]uint64{"x": 1}, 100, map[string]entity.Value{
		"status": entity.Text("todo"),
		"title":  entity.Text("give meds"),
	})
	edit := makeOp("t1", "y", map[string]uint64{"x": 1, "y": 1}, 200, map[string]entity.Value{
		"status": entity.Text("done"),
	})

	// Create first, then the edit.
	rec1, out1 := Apply(nil, create)
	rec1, out2 := applyTo(rec1, edit)
	if out1 != OutcomeCleanApply || out2 != OutcomeCleanApply {
		t.Errorf("Expected clean applies, got %v then %v", out1, out2)
	}

	// Edit arrives first, create second.
	rec2, _ := Apply(nil, edit)
	rec2, out4 := applyTo(rec2, create)
	if out4 != OutcomeNoOp {
		t.Errorf("Dominated create should be a no-op, got %v", out4)
	}

	sameRecord(t, rec1, rec2)

	if rec1.Fields["status"].Value.Text() != "done" {
		t.Errorf("Expected status done, got %s", rec1.Fields["status"].Value)
	}
	want := clock.Make(map[string]uint64{"x": 1, "y": 1}, 0)
	if !rec1.Clock.Equal(want) {
		t.Errorf("Expected clock %s, got %s", want, rec1.Clock)
	}
	// The title edit from the creating device must survive even when its
	// operation arrived after the one that dominated it.
	if rec1.Fields["title"].Value.Text() != "give meds" {
		t.Errorf("Expected title preserved, got %s", rec1.Fields["title"].Value)
	}
}

// Scenario: concurrent edits to different fields both survive.
func TestApply_ConcurrentDistinctFieldsBothSurvive(t *testing.T) {
	left := makeOp("t1", "x", map[string]uint64{"x": 1}, 100, map[string]entity.Value{
		"priority": entity.Integer(2),
	})
	right := makeOp("t1", "y", map[string]uint64{"y": 1}, 150, map[string]entity.Value{
		"note": entity.Text("family called"),
	})

	rec1, _ := Apply(nil, left)
	rec1, out := applyTo(rec1, right)
	if out != OutcomeCleanApply {
		t.Errorf("Disjoint concurrent edit should be a clean apply, got %v", out)
	}

	rec2, _ := Apply(nil, right)
	rec2, _ = applyTo(rec2, left)

	sameRecord(t, rec1, rec2)

	if rec1.Fields["priority"].Value.Integer() != 2 {
		t.Error("priority write lost")
	}
	if rec1.Fields["note"].Value.Text() != "family called" {
		t.Error("note write lost")
	}
	want := clock.Make(map[string]uint64{"x": 1, "y": 1}, 0)
	if !rec1.Clock.Equal(want) {
		t.Errorf("Expected clock %s, got %s", want, rec1.Clock)
	}
}

func TestApply_ConcurrentOverlapResolvesByTimestamp(t *testing.T) {
	early := makeOp("t1", "x", map[string]uint64{"x": 1}, 100, map[string]entity.Value{
		"status": entity.Text("todo"),
	})
	late := makeOp("t1", "y", map[string]uint64{"y": 1}, 200, map[string]entity.Value{
		"status": entity.Text("done"),
	})

	rec1, _ := Apply(nil, early)
	rec1, out1 := applyTo(rec1, late)
	if out1 != OutcomeConflict {
		t.Errorf("Concurrent overlapping write should report conflict, got %v", out1)
	}

	rec2, _ := Apply(nil, late)
	rec2, out2 := applyTo(rec2, early)
	if out2 != OutcomeConflict {
		t.Errorf("Concurrent overlapping write should report conflict, got %v", out2)
	}

	sameRecord(t, rec1, rec2)
	if rec1.Fields["status"].Value.Text() != "done" {
		t.Errorf("Later client timestamp should win, got %s", rec1.Fields["status"].Value)
	}
	if rec1.Fields["status"].Writer != "y" {
		t.Errorf("Winner provenance should be y, got %s", rec1.Fields["status"].Writer)
	}
}

func TestApply_ConcurrentOverlapTiesBreakByNode(t *testing.T) {
	a := makeOp("t1", "node-a", map[string]uint64{"node-a": 1}, 100, map[string]entity.Value{
		"assignee": entity.Text("rn-lee"),
	})
	b := makeOp("t1", "node-b", map[string]uint64{"node-b": 1}, 100, map[string]entity.Value{
		"assignee": entity.Text("rn-cho"),
	})

	rec1, _ := Apply(nil, a)
	rec1, _ = applyTo(rec1, b)

	rec2, _ := Apply(nil, b)
	rec2, _ = applyTo(rec2, a)

	sameRecord(t, rec1, rec2)
	if rec1.Fields["assignee"].Value.Text() != "rn-cho" {
		t.Errorf("Lexicographically greater node should win the tie, got %s", rec1.Fields["assignee"].Value)
	}
}

// Scenario: duplicate delivery of an already-applied operation.
func TestApply_DuplicateDeliveryIsNoOp(t *testing.T) {
	op := makeOp("t1", "x", map[string]uint64{"x": 1}, 100, map[string]entity.Value{
		"status": entity.Text("todo"),
	})

	rec, _ := Apply(nil, op)
	again, outcome := applyTo(rec, op)

	if outcome != OutcomeNoOp {
		t.Errorf("Duplicate should be a no-op, got %v", outcome)
	}
	sameRecord(t, rec, again)
}

func TestApply_NewFieldAlwaysWins(t *testing.T) {
	create := makeOp("t1", "x", map[string]uint64{"x": 1}, 200, map[string]entity.Value{
		"status": entity.Text("todo"),
	})
	// Concurrent edit with an older timestamp, but the field is new.
	older := makeOp("t1", "y", map[string]uint64{"y": 1}, 50, map[string]entity.Value{
		"note": entity.Text("brought forward"),
	})

	rec, _ := Apply(nil, create)
	rec, outcome := applyTo(rec, older)

	if outcome != OutcomeCleanApply {
		t.Errorf("New field should merge cleanly, got %v", outcome)
	}
	if rec.Fields["note"].Value.Text() != "brought forward" {
		t.Error("Field with no incumbent should always take the incoming value")
	}
}

func TestApply_RecordClockAbsorbsOperation(t *testing.T) {
	first := makeOp("t1", "x", map[string]uint64{"x": 1}, 100, map[string]entity.Value{
		"status": entity.Text("todo"),
	})
	second := makeOp("t1", "y", map[string]uint64{"y": 3}, 90, map[string]entity.Value{
		"note": entity.Text("n"),
	})

	rec, _ := Apply(nil, first)
	rec, _ = applyTo(rec, second)

	cmp := rec.Clock.Compare(second.Clock)
	if cmp != clock.Succeeds && cmp != clock.Equal {
		t.Errorf("Record clock should absorb the op clock, got %v", cmp)
	}
	if rec.Clock.Counter("x") != 1 || rec.Clock.Counter("y") != 3 {
		t.Errorf("Expected pointwise max clock, got %s", rec.Clock)
	}
}

func TestApply_TerminalFieldRetiresRecord(t *testing.T) {
	create := makeOp("t1", "x", map[string]uint64{"x": 1}, 100, map[string]entity.Value{
		"status": entity.Text("done"),
	})
	archive := makeOp("t1", "x", map[string]uint64{"x": 2}, 200, map[string]entity.Value{
		"status": entity.Text("archived"),
	})

	rec, _ := Apply(nil, create)
	if rec.Retired {
		t.Error("done is not a terminal status")
	}

	rec, outcome := applyTo(rec, archive)
	if outcome != OutcomeCleanApply {
		t.Errorf("Expected clean apply, got %v", outcome)
	}
	if !rec.Retired {
		t.Error("archived status should retire the record")
	}
}

func TestOutcome_String(t *testing.T) {
	tests := []struct {
		outcome Outcome
		want    string
	}{
		{OutcomeCleanApply, "clean_apply"},
		{OutcomeNoOp, "no_op"},
		{OutcomeConflict, "conflict"},
		{Outcome(42), "unknown"},
	}
	for _, tt := range tests {
		if got := tt.outcome.String(); got != tt.want {
			t.Errorf("Expected %q, got %q", tt.want, got)
		}
	}
}

// applyTo adapts Apply to a value receiver for chaining in tests.
func applyTo(rec entity.Record, op entity.Operation) (entity.Record, Outcome) {
	return Apply(&rec, op)
}

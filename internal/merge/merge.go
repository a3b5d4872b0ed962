package merge

import (
	"wardsync/internal/clock"
	"wardsync/internal/entity"
)

// Outcome classifies how an operation landed on a record.
type Outcome int

const (
	// OutcomeCleanApply indicates the operation merged without colliding
	// with a concurrent incumbent write.
	OutcomeCleanApply Outcome = iota
	// OutcomeNoOp indicates the operation's clock precedes or equals the
	// record's clock; it was already accounted for and is discarded
	// idempotently. Still reported as success.
	OutcomeNoOp
	// OutcomeConflict indicates concurrent clocks touched one or more
	// fields with an incumbent; last-writer-wins resolved them
	// deterministically. Still reported as success.
	OutcomeConflict
)

// String returns a stable label for the outcome, used in logs and
// metrics.
func (o Outcome) String() string {
	switch o {
	case OutcomeCleanApply:
		return "clean_apply"
	case OutcomeNoOp:
		return "no_op"
	case OutcomeConflict:
		return "conflict"
	default:
		return "unknown"
	}
}

// Apply merges one operation into the current record projection and
// returns the new projection. A nil current record seeds a new one from
// the operation. Apply is a total function over validated operations: it
// never fails, and the projection it returns does not depend on delivery
// order or duplication.
func Apply(current *entity.Record, op entity.Operation) (entity.Record, Outcome) {
	if current == nil {
		return seed(op), OutcomeCleanApply
	}

	rec := current.Copy()
	cmp := op.Clock.Compare(rec.Clock)

	// Overlap means the mutation touches a field that already has an
	// incumbent write. Only concurrent overlap counts as a conflict.
	overlap := false
	if cmp == clock.Concurrent {
		for name := range op.Mutation {
			if _, ok := rec.Fields[name]; ok {
				overlap = true
				break
			}
		}
	}

	// Per-field decisions use the (timestamp, node) total order and do
	// not depend on the clock comparison; the comparison only classifies
	// the outcome.
	for name, value := range op.Mutation {
		incumbent, ok := rec.Fields[name]
		if ok && !lwwWins(op.ClientTS, op.Node, incumbent) {
			continue
		}
		rec.Fields[name] = entity.Field{Value: value, Writer: op.Node, WriteTS: op.ClientTS}
	}

	rec.Clock = rec.Clock.Merge(op.Clock)
	if schema, ok := entity.SchemaFor(rec.Type); ok {
		rec.Retired = schema.Retires(rec.Fields)
	}

	switch cmp {
	case clock.Precedes, clock.Equal:
		return rec, OutcomeNoOp
	case clock.Succeeds:
		return rec, OutcomeCleanApply
	default:
		if overlap {
			return rec, OutcomeConflict
		}
		return rec, OutcomeCleanApply
	}
}

// seed builds the initial projection for an entity first seen through
// this operation.
func seed(op entity.Operation) entity.Record {
	fields := make(map[string]entity.Field, len(op.Mutation))
	for name, value := range op.Mutation {
		fields[name] = entity.Field{Value: value, Writer: op.Node, WriteTS: op.ClientTS}
	}

	version := 1
	retired := false
	if schema, ok := entity.SchemaFor(op.EntityType); ok {
		version = schema.Version
		retired = schema.Retires(fields)
	}

	return entity.Record{
		Type:          op.EntityType,
		ID:            op.EntityID,
		Clock:         op.Clock.Copy(),
		Fields:        fields,
		SchemaVersion: version,
		Retired:       retired,
	}
}

// lwwWins reports whether an incoming write at (ts, node) beats the
// incumbent. The incoming pair must be strictly greater: later timestamp
// first, lexicographically greater node on a timestamp tie.
func lwwWins(ts int64, node string, incumbent entity.Field) bool {
	if ts != incumbent.WriteTS {
		return ts > incumbent.WriteTS
	}
	return node > incumbent.Writer
}

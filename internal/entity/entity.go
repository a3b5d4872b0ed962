package entity

import (
	"fmt"
	"strings"

	"wardsync/internal/clock"
)

// Type identifies an entity record type known to the coordinator.
type Type string

const (
	// TypeTask is a clinical to-do item.
	TypeTask Type = "task"
	// TypeHandoverPackage is a shift handover summary.
	TypeHandoverPackage Type = "handover_package"
	// TypeVerificationRecord is a double-checked verification entry.
	TypeVerificationRecord Type = "verification_record"
)

// Valid reports whether the type is one of the known entity types.
func (t Type) Valid() bool {
	_, ok := schemas[t]
	return ok
}

// ParseType resolves a wire entity type name.
func ParseType(s string) (Type, error) {
	t := Type(s)
	if !t.Valid() {
		return "", fmt.Errorf("unknown entity type %q", s)
	}
	return t, nil
}

// Ref builds the deterministic identity string for an operation:
// type/id@node:counter. The counter is the originating node's own entry
// in the operation's post-apply clock, so redeliveries of the same edit
// always produce the same ref.
func Ref(t Type, id, node string, counter uint64) string {
	return fmt.Sprintf("%s/%s@%s:%d", t, id, node, counter)
}

// Operation is a single device edit to a single entity. Operations are
// immutable once appended to the log; the vector clock is the device's
// post-apply clock for the entity and the client timestamp is the
// device's hybrid-logical reading in microseconds.
type Operation struct {
	EntityType Type              `json:"entity_type"`
	EntityID   string            `json:"entity_id"`
	Node       string            `json:"originating_node"`
	Clock      clock.VectorClock `json:"vector_clock"`
	Mutation   map[string]Value  `json:"mutation"`
	ClientTS   int64             `json:"client_timestamp"`
}

// Ref returns the operation's deterministic identity string.
func (op Operation) Ref() string {
	return Ref(op.EntityType, op.EntityID, op.Node, op.Clock.Counter(op.Node))
}

// Copy creates a deep copy of the operation.
func (op Operation) Copy() Operation {
	dup := op
	dup.Clock = op.Clock.Copy()
	dup.Mutation = make(map[string]Value, len(op.Mutation))
	for name, value := range op.Mutation {
		dup.Mutation[name] = value
	}
	return dup
}

// Validate checks the operation against structural rules and its entity
// schema. A failure rejects only this operation, never the batch.
func (op Operation) Validate() error {
	schema, ok := SchemaFor(op.EntityType)
	if !ok {
		return fmt.Errorf("unknown entity type %q", op.EntityType)
	}
	if op.EntityID == "" {
		return fmt.Errorf("missing entity id")
	}
	if op.Node == "" {
		return fmt.Errorf("missing originating node")
	}
	if strings.HasPrefix(op.Node, "_") {
		return fmt.Errorf("node id %q uses the reserved underscore prefix", op.Node)
	}
	if op.Clock.Counter(op.Node) == 0 {
		return fmt.Errorf("vector clock is missing an entry for originating node %q", op.Node)
	}
	if op.ClientTS <= 0 {
		return fmt.Errorf("client timestamp must be positive")
	}
	if len(op.Mutation) == 0 {
		return fmt.Errorf("empty mutation")
	}
	for name, value := range op.Mutation {
		spec, ok := schema.Fields[name]
		if !ok {
			return fmt.Errorf("unknown field %q for entity type %q", name, op.EntityType)
		}
		if value.Kind() != spec.Kind {
			return fmt.Errorf("field %q expects %s, got %s", name, spec.Kind, value.Kind())
		}
	}
	return nil
}

// Field is one record field value along with its write provenance. The
// provenance pair (write timestamp, writer node) is the last-writer-wins
// order and is retained for audit.
type Field struct {
	Value   Value  `json:"value"`
	Writer  string `json:"writer_node"`
	WriteTS int64  `json:"write_timestamp"`
}

// Record is the current projection of an entity's operation history.
type Record struct {
	Type          Type              `json:"entity_type"`
	ID            string            `json:"entity_id"`
	Clock         clock.VectorClock `json:"current_vector_clock"`
	Fields        map[string]Field  `json:"fields"`
	SchemaVersion int               `json:"schema_version"`
	Retired       bool              `json:"retired"`
}

// Field returns the named field and whether it is present.
func (r Record) Field(name string) (Field, bool) {
	f, ok := r.Fields[name]
	return f, ok
}

// Copy creates a deep copy of the record.
func (r Record) Copy() Record {
	dup := r
	dup.Clock = r.Clock.Copy()
	dup.Fields = make(map[string]Field, len(r.Fields))
	for name, field := range r.Fields {
		dup.Fields[name] = field
	}
	return dup
}

package entity

import (
	"fmt"
	"strings"

	"github.com/goccy/go-json"
)

// FieldSpec declares a field's kind within a schema version.
type FieldSpec struct {
	Kind Kind
}

// Schema describes one version of an entity type: the fields a mutation
// may touch, the terminal condition that retires the entity, and the
// coarse routing fields used to build change-notification topics.
type Schema struct {
	Type           Type
	Version        int
	Fields         map[string]FieldSpec
	TerminalField  string
	TerminalValues []string
	TopicFields    []string
}

var schemas = map[Type]Schema{
	TypeTask: {
		Type:    TypeTask,
		Version: 1,
		Fields: map[string]FieldSpec{
			"title":      {Kind: KindText},
			"status":     {Kind: KindText},
			"priority":   {Kind: KindInteger},
			"assignee":   {Kind: KindText},
			"note":       {Kind: KindText},
			"escalated":  {Kind: KindBoolean},
			"due_at":     {Kind: KindTimestamp},
			"department": {Kind: KindText},
			"shift":      {Kind: KindText},
		},
		TerminalField:  "status",
		TerminalValues: []string{"archived"},
		TopicFields:    []string{"department", "shift"},
	},
	TypeHandoverPackage: {
		Type:    TypeHandoverPackage,
		Version: 1,
		Fields: map[string]FieldSpec{
			"department":      {Kind: KindText},
			"shift":           {Kind: KindText},
			"summary":         {Kind: KindText},
			"author":          {Kind: KindText},
			"state":           {Kind: KindText},
			"acknowledged_by": {Kind: KindText},
			"patient_count":   {Kind: KindInteger},
			"critical":        {Kind: KindBoolean},
		},
		TerminalField:  "state",
		TerminalValues: []string{"sealed"},
		TopicFields:    []string{"department", "shift"},
	},
	TypeVerificationRecord: {
		Type:    TypeVerificationRecord,
		Version: 1,
		Fields: map[string]FieldSpec{
			"subject_id":  {Kind: KindText},
			"method":      {Kind: KindText},
			"outcome":     {Kind: KindText},
			"verifier":    {Kind: KindText},
			"state":       {Kind: KindText},
			"score":       {Kind: KindNumber},
			"verified_at": {Kind: KindTimestamp},
			"department":  {Kind: KindText},
			"shift":       {Kind: KindText},
		},
		TerminalField:  "state",
		TerminalValues: []string{"finalized"},
		TopicFields:    []string{"department", "shift"},
	},
}

// SchemaFor returns the current schema for an entity type.
func SchemaFor(t Type) (Schema, bool) {
	s, ok := schemas[t]
	return s, ok
}

// ParseMutation decodes a wire mutation of bare JSON scalars against the
// schema. Unknown fields and ill-typed values are errors; the caller
// rejects the operation and continues with the rest of the batch.
func (s Schema) ParseMutation(raw map[string]json.RawMessage) (map[string]Value, error) {
	if len(raw) == 0 {
		return nil, fmt.Errorf("empty mutation")
	}
	mutation := make(map[string]Value, len(raw))
	for name, rawValue := range raw {
		spec, ok := s.Fields[name]
		if !ok {
			return nil, fmt.Errorf("unknown field %q for entity type %q", name, s.Type)
		}
		value, err := ParseScalar(spec.Kind, rawValue)
		if err != nil {
			return nil, fmt.Errorf("field %q: %w", name, err)
		}
		mutation[name] = value
	}
	return mutation, nil
}

// Retires reports whether the fields satisfy the schema's terminal
// condition.
func (s Schema) Retires(fields map[string]Field) bool {
	if s.TerminalField == "" {
		return false
	}
	field, ok := fields[s.TerminalField]
	if !ok || field.Value.Kind() != KindText {
		return false
	}
	for _, terminal := range s.TerminalValues {
		if field.Value.Text() == terminal {
			return true
		}
	}
	return false
}

// TopicKey builds the coarse routing key from the schema's topic fields,
// e.g. "icu/night". Missing routing fields are skipped; a record with
// none routes to "unrouted".
func (s Schema) TopicKey(fields map[string]Field) string {
	parts := make([]string, 0, len(s.TopicFields))
	for _, name := range s.TopicFields {
		field, ok := fields[name]
		if !ok || field.Value.Kind() != KindText {
			continue
		}
		part := topicSegment(field.Value.Text())
		if part == "" {
			continue
		}
		parts = append(parts, part)
	}
	if len(parts) == 0 {
		return "unrouted"
	}
	return strings.Join(parts, "/")
}

// topicSegment normalizes a routing field value into one topic path
// segment.
func topicSegment(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.ReplaceAll(s, " ", "-")
	s = strings.ReplaceAll(s, "/", "-")
	return s
}

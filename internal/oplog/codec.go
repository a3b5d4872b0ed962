package oplog

import (
	"fmt"

	"github.com/goccy/go-json"

	"wardsync/internal/entity"
)

// storedValue is the kind-tagged form of a field value in jsonb columns.
// The tag lets stored rows decode without consulting the schema
// registry, so persisted projections survive schema version bumps.
type storedValue struct {
	Kind  string          `json:"kind"`
	Value json.RawMessage `json:"value"`
}

// storedField extends storedValue with write provenance.
type storedField struct {
	Kind    string          `json:"kind"`
	Value   json.RawMessage `json:"value"`
	Writer  string          `json:"writer_node"`
	WriteTS int64           `json:"write_timestamp"`
}

func encodeValue(v entity.Value) (storedValue, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return storedValue{}, err
	}
	return storedValue{Kind: v.Kind().String(), Value: raw}, nil
}

func decodeValue(sv storedValue) (entity.Value, error) {
	kind, ok := entity.KindFromString(sv.Kind)
	if !ok {
		return entity.Value{}, fmt.Errorf("unknown stored kind %q", sv.Kind)
	}
	return entity.ParseScalar(kind, sv.Value)
}

// encodeFields serializes a projection's fields for the records table.
func encodeFields(fields map[string]entity.Field) ([]byte, error) {
	out := make(map[string]storedField, len(fields))
	for name, field := range fields {
		sv, err := encodeValue(field.Value)
		if err != nil {
			return nil, fmt.Errorf("encode field %q: %w", name, err)
		}
		out[name] = storedField{
			Kind:    sv.Kind,
			Value:   sv.Value,
			Writer:  field.Writer,
			WriteTS: field.WriteTS,
		}
	}
	return json.Marshal(out)
}

// decodeFields deserializes a records-table fields column.
func decodeFields(data []byte) (map[string]entity.Field, error) {
	var raw map[string]storedField
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("decode fields: %w", err)
	}
	fields := make(map[string]entity.Field, len(raw))
	for name, sf := range raw {
		value, err := decodeValue(storedValue{Kind: sf.Kind, Value: sf.Value})
		if err != nil {
			return nil, fmt.Errorf("decode field %q: %w", name, err)
		}
		fields[name] = entity.Field{Value: value, Writer: sf.Writer, WriteTS: sf.WriteTS}
	}
	return fields, nil
}

// encodeMutation serializes an operation's mutation for the operations
// table.
func encodeMutation(mutation map[string]entity.Value) ([]byte, error) {
	out := make(map[string]storedValue, len(mutation))
	for name, value := range mutation {
		sv, err := encodeValue(value)
		if err != nil {
			return nil, fmt.Errorf("encode mutation field %q: %w", name, err)
		}
		out[name] = sv
	}
	return json.Marshal(out)
}

// decodeMutation deserializes an operations-table mutation column.
func decodeMutation(data []byte) (map[string]entity.Value, error) {
	var raw map[string]storedValue
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("decode mutation: %w", err)
	}
	mutation := make(map[string]entity.Value, len(raw))
	for name, sv := range raw {
		value, err := decodeValue(sv)
		if err != nil {
			return nil, fmt.Errorf("decode mutation field %q: %w", name, err)
		}
		mutation[name] = value
	}
	return mutation, nil
}

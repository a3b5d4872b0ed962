package entity

import (
	"fmt"
	"time"

	"github.com/goccy/go-json"
)

// Kind identifies the type of a field value.
type Kind uint8

const (
	// KindText is a UTF-8 string field.
	KindText Kind = iota + 1
	// KindInteger is a 64-bit signed integer field.
	KindInteger
	// KindNumber is a 64-bit floating point field.
	KindNumber
	// KindBoolean is a true/false field.
	KindBoolean
	// KindTimestamp is a point-in-time field with microsecond precision.
	KindTimestamp
)

// String returns the schema name of the kind.
func (k Kind) String() string {
	switch k {
	case KindText:
		return "text"
	case KindInteger:
		return "integer"
	case KindNumber:
		return "number"
	case KindBoolean:
		return "boolean"
	case KindTimestamp:
		return "timestamp"
	default:
		return "invalid"
	}
}

// KindFromString resolves a schema kind name.
func KindFromString(s string) (Kind, bool) {
	switch s {
	case "text":
		return KindText, true
	case "integer":
		return KindInteger, true
	case "number":
		return KindNumber, true
	case "boolean":
		return KindBoolean, true
	case "timestamp":
		return KindTimestamp, true
	default:
		return 0, false
	}
}

// Value is a tagged union over the field kinds a schema can declare.
// The zero Value is invalid; build values with Text, Integer, Number,
// Boolean or Timestamp. Values are immutable.
type Value struct {
	kind Kind
	text string
	i    int64
	f    float64
	b    bool
	ts   time.Time
}

// Text builds a text value.
func Text(s string) Value {
	return Value{kind: KindText, text: s}
}

// Integer builds an integer value.
func Integer(i int64) Value {
	return Value{kind: KindInteger, i: i}
}

// Number builds a floating point value.
func Number(f float64) Value {
	return Value{kind: KindNumber, f: f}
}

// Boolean builds a boolean value.
func Boolean(b bool) Value {
	return Value{kind: KindBoolean, b: b}
}

// Timestamp builds a timestamp value, normalized to UTC and truncated to
// microsecond precision so wire round trips are stable.
func Timestamp(t time.Time) Value {
	return Value{kind: KindTimestamp, ts: t.UTC().Truncate(time.Microsecond)}
}

// Kind returns the value's kind, or 0 for the invalid zero Value.
func (v Value) Kind() Kind {
	return v.kind
}

// IsZero reports whether this is the invalid zero Value.
func (v Value) IsZero() bool {
	return v.kind == 0
}

// Text returns the text payload. Valid only for KindText.
func (v Value) Text() string {
	return v.text
}

// Integer returns the integer payload. Valid only for KindInteger.
func (v Value) Integer() int64 {
	return v.i
}

// Number returns the float payload. Valid only for KindNumber.
func (v Value) Number() float64 {
	return v.f
}

// Boolean returns the boolean payload. Valid only for KindBoolean.
func (v Value) Boolean() bool {
	return v.b
}

// Timestamp returns the time payload. Valid only for KindTimestamp.
func (v Value) Timestamp() time.Time {
	return v.ts
}

// Equal reports whether two values have the same kind and payload.
func (v Value) Equal(other Value) bool {
	if v.kind != other.kind {
		return false
	}
	switch v.kind {
	case KindText:
		return v.text == other.text
	case KindInteger:
		return v.i == other.i
	case KindNumber:
		return v.f == other.f
	case KindBoolean:
		return v.b == other.b
	case KindTimestamp:
		return v.ts.Equal(other.ts)
	default:
		return true
	}
}

// String renders the payload for logs and error messages.
func (v Value) String() string {
	switch v.kind {
	case KindText:
		return v.text
	case KindInteger:
		return fmt.Sprintf("%d", v.i)
	case KindNumber:
		return fmt.Sprintf("%g", v.f)
	case KindBoolean:
		return fmt.Sprintf("%t", v.b)
	case KindTimestamp:
		return v.ts.Format(time.RFC3339Nano)
	default:
		return "<invalid>"
	}
}

// MarshalJSON encodes the payload as a bare JSON scalar; timestamps
// become RFC 3339 strings. The consumer recovers the kind from the
// entity schema.
func (v Value) MarshalJSON() ([]byte, error) {
	switch v.kind {
	case KindText:
		return json.Marshal(v.text)
	case KindInteger:
		return json.Marshal(v.i)
	case KindNumber:
		return json.Marshal(v.f)
	case KindBoolean:
		return json.Marshal(v.b)
	case KindTimestamp:
		return json.Marshal(v.ts.Format(time.RFC3339Nano))
	default:
		return nil, fmt.Errorf("marshal invalid value")
	}
}

// ParseScalar decodes a bare JSON scalar into a value of the given kind.
// Types are strict: a quoted number is not an integer and a fractional
// number is not accepted where an integer is declared.
func ParseScalar(kind Kind, raw json.RawMessage) (Value, error) {
	switch kind {
	case KindText:
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return Value{}, fmt.Errorf("expected text: %w", err)
		}
		return Text(s), nil
	case KindInteger:
		var i int64
		if err := json.Unmarshal(raw, &i); err != nil {
			return Value{}, fmt.Errorf("expected integer: %w", err)
		}
		return Integer(i), nil
	case KindNumber:
		var f float64
		if err := json.Unmarshal(raw, &f); err != nil {
			return Value{}, fmt.Errorf("expected number: %w", err)
		}
		return Number(f), nil
	case KindBoolean:
		var b bool
		if err := json.Unmarshal(raw, &b); err != nil {
			return Value{}, fmt.Errorf("expected boolean: %w", err)
		}
		return Boolean(b), nil
	case KindTimestamp:
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return Value{}, fmt.Errorf("expected timestamp string: %w", err)
		}
		t, err := time.Parse(time.RFC3339Nano, s)
		if err != nil {
			return Value{}, fmt.Errorf("expected RFC 3339 timestamp: %w", err)
		}
		return Timestamp(t), nil
	default:
		return Value{}, fmt.Errorf("unknown field kind %d", kind)
	}
}

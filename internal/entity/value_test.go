package entity

import (
	"testing"
	"time"

	"github.com/goccy/go-json"
)

func TestParseScalar(t *testing.T) {
	tests := []struct {
		name    string
		kind    Kind
		raw     string
		want    Value
		wantErr bool
	}{
		{
			name: "text",
			kind: KindText,
			raw:  `"ward round"`,
			want: Text("ward round"),
		},
		{
			name: "integer",
			kind: KindInteger,
			raw:  `3`,
			want: Integer(3),
		},
		{
			name: "number",
			kind: KindNumber,
			raw:  `0.92`,
			want: Number(0.92),
		},
		{
			name: "boolean",
			kind: KindBoolean,
			raw:  `true`,
			want: Boolean(true),
		},
		{
			name: "timestamp",
			kind: KindTimestamp,
			raw:  `"2026-03-01T07:30:00Z"`,
			want: Timestamp(time.Date(2026, 3, 1, 7, 30, 0, 0, time.UTC)),
		},
		{
			name:    "quoted number is not an integer",
			kind:    KindInteger,
			raw:     `"3"`,
			wantErr: true,
		},
		{
			name:    "fractional number is not an integer",
			kind:    KindInteger,
			raw:     `3.5`,
			wantErr: true,
		},
		{
			name:    "number is not text",
			kind:    KindText,
			raw:     `42`,
			wantErr: true,
		},
		{
			name:    "malformed timestamp",
			kind:    KindTimestamp,
			raw:     `"yesterday"`,
			wantErr: true,
		},
		{
			name:    "unknown kind",
			kind:    Kind(99),
			raw:     `"x"`,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseScalar(tt.kind, json.RawMessage(tt.raw))
			if tt.wantErr {
				if err == nil {
					t.Fatal("Expected error, got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("Unexpected error: %v", err)
			}
			if !got.Equal(tt.want) {
				t.Errorf("Expected %s, got %s", tt.want, got)
			}
		})
	}
}

func TestValue_MarshalJSON(t *testing.T) {
	tests := []struct {
		name  string
		value Value
		want  string
	}{
		{"text", Text("icu"), `"icu"`},
		{"integer", Integer(7), `7`},
		{"number", Number(1.5), `1.5`},
		{"boolean", Boolean(false), `false`},
		{"timestamp", Timestamp(time.Date(2026, 3, 1, 7, 30, 0, 0, time.UTC)), `"2026-03-01T07:30:00Z"`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := json.Marshal(tt.value)
			if err != nil {
				t.Fatalf("Marshal failed: %v", err)
			}
			if string(data) != tt.want {
				t.Errorf("Expected %s, got %s", tt.want, string(data))
			}
		})
	}
}

func TestValue_MarshalJSON_ZeroValue(t *testing.T) {
	if _, err := json.Marshal(map[string]Value{"bad": {}}); err == nil {
		t.Error("Marshaling the zero Value should fail")
	}
}

func TestValue_MarshalParseRoundTrip(t *testing.T) {
	values := []Value{
		Text("night shift"),
		Integer(-4),
		Number(36.6),
		Boolean(true),
		Timestamp(time.Date(2026, 8, 21, 23, 59, 59, 123456000, time.UTC)),
	}
	for _, v := range values {
		data, err := json.Marshal(v)
		if err != nil {
			t.Fatalf("Marshal %s failed: %v", v.Kind(), err)
		}
		back, err := ParseScalar(v.Kind(), data)
		if err != nil {
			t.Fatalf("Parse %s failed: %v", v.Kind(), err)
		}
		if !back.Equal(v) {
			t.Errorf("Round trip changed %s value: %s vs %s", v.Kind(), back, v)
		}
	}
}

func TestValue_Equal(t *testing.T) {
	tests := []struct {
		name string
		a    Value
		b    Value
		want bool
	}{
		{"same text", Text("a"), Text("a"), true},
		{"different text", Text("a"), Text("b"), false},
		{"kind mismatch", Text("1"), Integer(1), false},
		{"same integer", Integer(2), Integer(2), true},
		{"same boolean", Boolean(true), Boolean(true), true},
		{"zero values", Value{}, Value{}, true},
		{
			name: "timestamps compare by instant",
			a:    Timestamp(time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)),
			b:    Timestamp(time.Date(2026, 1, 1, 13, 0, 0, 0, time.FixedZone("CET", 3600))),
			want: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.a.Equal(tt.b); got != tt.want {
				t.Errorf("Expected %v, got %v", tt.want, got)
			}
		})
	}
}

func TestKind_StringRoundTrip(t *testing.T) {
	kinds := []Kind{KindText, KindInteger, KindNumber, KindBoolean, KindTimestamp}
	for _, k := range kinds {
		back, ok := KindFromString(k.String())
		if !ok {
			t.Errorf("KindFromString(%q) not found", k.String())
			continue
		}
		if back != k {
			t.Errorf("Expected %v, got %v", k, back)
		}
	}
	if _, ok := KindFromString("blob"); ok {
		t.Error("Unknown kind name should not resolve")
	}
}

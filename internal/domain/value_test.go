package domain

import (
	"testing"
)

func TestFromAny(t *testing.T) {
	tests := []struct {
		name  string
		input any
		want  Value
	}{
		{name: "nil", input: nil, want: Null()},
		{name: "string", input: "IaC", want: String("IaC")},
		{name: "bool", input: true, want: Bool(true)},
		{name: "int", input: 5, want: Int(5)},
		{name: "integral float", input: float64(5), want: Int(5)},
		{name: "fractional float", input: 2.5, want: Float(2.5)},
		{name: "string slice", input: []string{"a", "b"}, want: Strings("a", "b")},
		{name: "any slice", input: []any{"a", float64(1), nil}, want: List(String("a"), Int(1), Null())},
		{name: "object", input: map[string]any{"name": "x"}, want: Unknown(map[string]any{"name": "x"})},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := FromAny(tt.input)
			if !got.Equal(tt.want) {
				t.Errorf("FromAny(%v) = %v (%v), want %v (%v)", tt.input, got, got.Kind(), tt.want, tt.want.Kind())
			}
		})
	}
}

func TestValueNativeRoundTrip(t *testing.T) {
	values := []Value{
		Null(),
		String("x"),
		Int(42),
		Float(0.5),
		Bool(false),
		Strings("a", "b"),
		List(Int(1), List(String("nested"))),
	}
	for _, v := range values {
		if back := FromAny(v.Native()); !back.Equal(v) {
			t.Errorf("FromAny(%v.Native()) = %v", v, back)
		}
	}
}

func TestValueItems(t *testing.T) {
	if got := String("solo").Items(); len(got) != 1 || !got[0].Equal(String("solo")) {
		t.Errorf("scalar Items() = %v", got)
	}
	if got := Null().Items(); len(got) != 0 {
		t.Errorf("null Items() = %v", got)
	}
	if got := List(String("a"), Null(), Int(3)).Strings(); len(got) != 2 || got[0] != "a" || got[1] != "3" {
		t.Errorf("Strings() = %v", got)
	}
}

func TestBagOrderAndEquality(t *testing.T) {
	a := NewBag()
	a.Set("workstream", String("IaC"))
	a.Set("points", Int(5))
	a.Set("workstream", String("Platform"))

	if keys := a.Keys(); len(keys) != 2 || keys[0] != "workstream" || keys[1] != "points" {
		t.Fatalf("Keys() = %v, want insertion order", keys)
	}

	b := NewBag()
	b.Set("points", Int(5))
	b.Set("workstream", String("Platform"))
	if a.Equal(b) {
		t.Error("bags with different key order must not be equal")
	}

	c := a.Clone()
	if !a.Equal(c) {
		t.Error("clone must equal original")
	}
	c.Delete("workstream")
	if a.Len() != 2 || c.Len() != 1 {
		t.Errorf("Delete on clone affected original: %d/%d", a.Len(), c.Len())
	}

	if s, ok := a.String("points"); !ok || s != "5" {
		t.Errorf("String(points) = %q, %v", s, ok)
	}
}

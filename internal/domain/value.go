package domain

import (
	"fmt"
	"math"
	"reflect"
	"strconv"
	"strings"
)

// Kind identifies the variant held by a Value.
type Kind int

const (
	KindNull Kind = iota
	KindString
	KindInt
	KindFloat
	KindBool
	KindList
	// KindUnknown carries any shape the mapping layer does not interpret,
	// such as a nested object resolved from a wire record.
	KindUnknown
)

func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindString:
		return "string"
	case KindInt:
		return "int"
	case KindFloat:
		return "float"
	case KindBool:
		return "bool"
	case KindList:
		return "list"
	case KindUnknown:
		return "unknown"
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// Value is a property value: a tagged union of the scalar and list shapes a
// property bag can hold. The zero Value is Null.
type Value struct {
	kind Kind
	s    string
	i    int64
	f    float64
	b    bool
	list []Value
	raw  any
}

func Null() Value { return Value{} }
func String(s string) Value { return Value{kind: KindString, s: s} }
func Int(i int64) Value { return Value{kind: KindInt, i: i} }
func Float(f float64) Value { return Value{kind: KindFloat, f: f} }
func Bool(b bool) Value { return Value{kind: KindBool, b: b} }
func Unknown(raw any) Value { return Value{kind: KindUnknown, raw: raw} }
func List(items ...Value) Value {
	return Value{kind: KindList, list: append([]Value{}, items...)}
}

// Strings builds a list value of strings.
func Strings(items ...string) Value {
	list := make([]Value, len(items))
	for i, s := range items {
		list[i] = String(s)
	}
	return Value{kind: KindList, list: list}
}

// FromAny converts a decoded JSON/YAML value into a Value. Integral floats
// become Int so that JSON numbers and YAML ints compare equal.
func FromAny(x any) Value {
	switch v := x.(type) {
	case nil:
		return Null()
	case Value:
		return v
	case string:
		return String(v)
	case bool:
		return Bool(v)
	case int:
		return Int(int64(v))
	case int32:
		return Int(int64(v))
	case int64:
		return Int(v)
	case uint64:
		if v <= math.MaxInt64 {
			return Int(int64(v))
		}
		return Float(float64(v))
	case float32:
		return fromFloat(float64(v))
	case float64:
		return fromFloat(v)
	case []string:
		return Strings(v...)
	case []any:
		list := make([]Value, len(v))
		for i, item := range v {
			list[i] = FromAny(item)
		}
		return Value{kind: KindList, list: list}
	default:
		return Unknown(x)
	}
}

func fromFloat(f float64) Value {
	if f == math.Trunc(f) && math.Abs(f) < 1<<53 {
		return Int(int64(f))
	}
	return Float(f)
}

func (v Value) Kind() Kind { return v.kind }
func (v Value) IsNull() bool { return v.kind == KindNull }

// Str returns the string variant.
func (v Value) Str() (string, bool) {
	if v.kind != KindString {
		return "", false
	}
	return v.s, true
}

// Items returns the list elements; a scalar is wrapped as a one-element list
// and Null yields no elements.
func (v Value) Items() []Value {
	switch v.kind {
	case KindList:
		return v.list
	case KindNull:
		return nil
	case KindString, KindInt, KindFloat, KindBool, KindUnknown:
		return []Value{v}
	}
	return nil
}

// Strings renders every element of Items as text.
func (v Value) Strings() []string {
	items := v.Items()
	out := make([]string, 0, len(items))
	for _, item := range items {
		if item.IsNull() {
			continue
		}
		out = append(out, item.Text())
	}
	return out
}

// Text renders a scalar as plain text. Lists are comma-joined.
func (v Value) Text() string {
	switch v.kind {
	case KindNull:
		return ""
	case KindString:
		return v.s
	case KindInt:
		return strconv.FormatInt(v.i, 10)
	case KindFloat:
		return strconv.FormatFloat(v.f, 'f', -1, 64)
	case KindBool:
		return strconv.FormatBool(v.b)
	case KindList:
		return strings.Join(v.Strings(), ", ")
	case KindUnknown:
		return fmt.Sprint(v.raw)
	}
	return ""
}

// Native converts the value back to plain Go data suitable for JSON/YAML.
func (v Value) Native() any {
	switch v.kind {
	case KindNull:
		return nil
	case KindString:
		return v.s
	case KindInt:
		return v.i
	case KindFloat:
		return v.f
	case KindBool:
		return v.b
	case KindList:
		out := make([]any, len(v.list))
		for i, item := range v.list {
			out[i] = item.Native()
		}
		return out
	case KindUnknown:
		return v.raw
	}
	return nil
}

// Equal compares two values variant by variant.
func (v Value) Equal(o Value) bool {
	if v.kind != o.kind {
		return false
	}
	switch v.kind {
	case KindNull:
		return true
	case KindString:
		return v.s == o.s
	case KindInt:
		return v.i == o.i
	case KindFloat:
		return v.f == o.f
	case KindBool:
		return v.b == o.b
	case KindList:
		if len(v.list) != len(o.list) {
			return false
		}
		for i := range v.list {
			if !v.list[i].Equal(o.list[i]) {
				return false
			}
		}
		return true
	case KindUnknown:
		return reflect.DeepEqual(v.raw, o.raw)
	}
	return false
}

func (v Value) String() string {
	switch v.kind {
	case KindNull:
		return "null"
	case KindString:
		return strconv.Quote(v.s)
	case KindList:
		parts := make([]string, len(v.list))
		for i, item := range v.list {
			parts[i] = item.String()
		}
		return "[" + strings.Join(parts, ", ") + "]"
	case KindInt, KindFloat, KindBool, KindUnknown:
		return v.Text()
	}
	return v.Text()
}

package domain

import "strings"

// Bag is an ordered property bag: property name -> Value, iterated in
// insertion order so serialized output is stable.
type Bag struct {
	keys   []string
	values map[string]Value
}

// NewBag creates an empty bag.
func NewBag() *Bag {
	return &Bag{values: make(map[string]Value)}
}

// Set stores a value, appending the key if it is new.
func (b *Bag) Set(key string, v Value) {
	if _, ok := b.values[key]; !ok {
		b.keys = append(b.keys, key)
	}
	b.values[key] = v
}

// Get returns the value for key.
func (b *Bag) Get(key string) (Value, bool) {
	if b == nil {
		return Null(), false
	}
	v, ok := b.values[key]
	return v, ok
}

// String returns the string value for key. Non-string scalars are rendered
// as text; missing and null values report ok=false.
func (b *Bag) String(key string) (string, bool) {
	v, ok := b.Get(key)
	if !ok || v.IsNull() {
		return "", false
	}
	if s, ok := v.Str(); ok {
		return s, true
	}
	return v.Text(), true
}

// Delete removes key, keeping the order of the remaining keys.
func (b *Bag) Delete(key string) {
	if _, ok := b.values[key]; !ok {
		return
	}
	delete(b.values, key)
	for i, k := range b.keys {
		if k == key {
			b.keys = append(b.keys[:i], b.keys[i+1:]...)
			break
		}
	}
}

// Keys returns the keys in insertion order.
func (b *Bag) Keys() []string {
	if b == nil {
		return nil
	}
	return append([]string(nil), b.keys...)
}

// Len returns the number of properties.
func (b *Bag) Len() int {
	if b == nil {
		return 0
	}
	return len(b.keys)
}

// Clone returns an independent copy.
func (b *Bag) Clone() *Bag {
	out := NewBag()
	for _, k := range b.Keys() {
		out.Set(k, b.values[k])
	}
	return out
}

// Equal reports whether both bags hold the same keys, in the same order,
// with equal values.
func (b *Bag) Equal(o *Bag) bool {
	if b.Len() != o.Len() {
		return false
	}
	for i, k := range b.Keys() {
		if o.keys[i] != k {
			return false
		}
		if !b.values[k].Equal(o.values[k]) {
			return false
		}
	}
	return true
}

// GoString renders the bag for test failure messages.
func (b *Bag) GoString() string {
	var sb strings.Builder
	sb.WriteByte('{')
	for i, k := range b.Keys() {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString(k)
		sb.WriteString(": ")
		sb.WriteString(b.values[k].String())
	}
	sb.WriteByte('}')
	return sb.String()
}

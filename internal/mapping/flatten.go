package mapping

import (
	"github.com/lherron/epicsync/internal/domain"
)

// FlatMap is an ordered wire path -> value map produced by Flatten.
type FlatMap struct {
	paths  []string
	values map[string]domain.Value
}

func newFlatMap() *FlatMap {
	return &FlatMap{values: make(map[string]domain.Value)}
}

// Set stores a value under a wire path, keeping first-insertion order.
func (f *FlatMap) Set(path string, v domain.Value) {
	if _, ok := f.values[path]; !ok {
		f.paths = append(f.paths, path)
	}
	f.values[path] = v
}

// Paths returns the wire paths in order.
func (f *FlatMap) Paths() []string {
	return append([]string(nil), f.paths...)
}

// Get returns the value stored under a wire path.
func (f *FlatMap) Get(path string) (domain.Value, bool) {
	v, ok := f.values[path]
	return v, ok
}

// Len returns the number of entries.
func (f *FlatMap) Len() int {
	return len(f.paths)
}

// Flatten converts a property bag into wire path -> value pairs for writing.
//
// Null and absent properties are skipped, read-only properties are skipped,
// and the grouping property is skipped for non-grouping types. Output follows
// the table's order.
func (e *Engine) Flatten(bag *domain.Bag, table *Table, t domain.IssueType) *FlatMap {
	out := newFlatMap()
	for _, entry := range table.Entries() {
		v, ok := bag.Get(entry.Property)
		if !ok || v.IsNull() {
			continue
		}
		if e.IsReadOnly(entry.Property) {
			continue
		}
		if entry.Property == e.grouping && !t.IsGrouping() {
			continue
		}
		out.Set(entry.Path, v)
	}
	return out
}

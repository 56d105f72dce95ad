// Package mapping translates between flat property bags and the tracker's
// nested wire schema, driven by a declarative property -> wire path table.
//
// Paths are dotted; a segment may carry an array marker ("components[]")
// meaning "every element of this array". Paths rooted at "fields." address
// the tracker's field object.
package mapping

import (
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// FieldsRoot is the wrapper object the tracker nests issue fields under.
const FieldsRoot = "fields"

const arrayMarker = "[]"

// Entry maps one property to one wire path.
type Entry struct {
	Property string
	Path     string
}

type segment struct {
	Name  string
	Array bool
}

// Table is an ordered, duplicate-free property -> wire path mapping.
type Table struct {
	entries []Entry
	parsed  [][]segment
	index   map[string]int
}

// NewTable validates entries and builds a table. A malformed table (empty
// names, bad paths, duplicate properties) is the only error the mapping
// layer raises.
func NewTable(entries ...Entry) (*Table, error) {
	t := &Table{index: make(map[string]int, len(entries))}
	for _, e := range entries {
		if err := t.add(e); err != nil {
			return nil, err
		}
	}
	return t, nil
}

// MustTable builds a table from property/path pairs and panics on error.
// Intended for package-level defaults and tests.
func MustTable(pairs ...string) *Table {
	if len(pairs)%2 != 0 {
		panic("mapping.MustTable: odd number of arguments")
	}
	entries := make([]Entry, 0, len(pairs)/2)
	for i := 0; i < len(pairs); i += 2 {
		entries = append(entries, Entry{Property: pairs[i], Path: pairs[i+1]})
	}
	t, err := NewTable(entries...)
	if err != nil {
		panic(err)
	}
	return t
}

func (t *Table) add(e Entry) error {
	if strings.TrimSpace(e.Property) == "" {
		return fmt.Errorf("mapping table: empty property name")
	}
	if _, dup := t.index[e.Property]; dup {
		return fmt.Errorf("mapping table: duplicate property %q", e.Property)
	}
	segs, err := parsePath(e.Path)
	if err != nil {
		return fmt.Errorf("mapping table: property %q: %w", e.Property, err)
	}
	t.index[e.Property] = len(t.entries)
	t.entries = append(t.entries, e)
	t.parsed = append(t.parsed, segs)
	return nil
}

func parsePath(path string) ([]segment, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("empty path")
	}

	parts := strings.Split(path, ".")
	segs := make([]segment, 0, len(parts))
	arrays := 0
	for _, part := range parts {
		s := segment{Name: part}
		if strings.HasSuffix(part, arrayMarker) {
			s.Name = strings.TrimSuffix(part, arrayMarker)
			s.Array = true
			arrays++
		}
		if s.Name == "" {
			return nil, fmt.Errorf("path %q has an empty segment", path)
		}
		if strings.ContainsAny(s.Name, "[]") {
			return nil, fmt.Errorf("path %q: array marker must end a segment", path)
		}
		segs = append(segs, s)
	}
	if arrays > 1 {
		return nil, fmt.Errorf("path %q: nested array markers are not supported", path)
	}
	return segs, nil
}

// Entries returns the table in order.
func (t *Table) Entries() []Entry {
	if t == nil {
		return nil
	}
	return append([]Entry(nil), t.entries...)
}

// Len returns the number of entries.
func (t *Table) Len() int {
	if t == nil {
		return 0
	}
	return len(t.entries)
}

// Path returns the wire path for a property.
func (t *Table) Path(property string) (string, bool) {
	if t == nil {
		return "", false
	}
	i, ok := t.index[property]
	if !ok {
		return "", false
	}
	return t.entries[i].Path, true
}

// Equal reports whether both tables hold the same entries in the same order.
func (t *Table) Equal(o *Table) bool {
	if t.Len() != o.Len() {
		return false
	}
	for i, e := range t.Entries() {
		if o.entries[i] != e {
			return false
		}
	}
	return true
}

// Subset returns a table restricted to the given properties, keeping the
// receiver's order. Unknown properties are ignored.
func (t *Table) Subset(properties ...string) *Table {
	want := make(map[string]bool, len(properties))
	for _, p := range properties {
		want[p] = true
	}
	out := &Table{index: make(map[string]int)}
	for i, e := range t.Entries() {
		if want[e.Property] {
			out.index[e.Property] = len(out.entries)
			out.entries = append(out.entries, e)
			out.parsed = append(out.parsed, t.parsed[i])
		}
	}
	return out
}

// MarshalYAML emits the table as a mapping node in table order.
func (t *Table) MarshalYAML() (interface{}, error) {
	node := &yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}
	for _, e := range t.Entries() {
		node.Content = append(node.Content,
			&yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: e.Property},
			&yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: e.Path},
		)
	}
	return node, nil
}

// UnmarshalYAML reads a mapping node, preserving document order.
func (t *Table) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode && node.ShortTag() == "!!null" {
		*t = Table{index: make(map[string]int)}
		return nil
	}
	if node.Kind != yaml.MappingNode {
		return fmt.Errorf("mapping table: expected a mapping at line %d", node.Line)
	}

	built := &Table{index: make(map[string]int, len(node.Content)/2)}
	for i := 0; i+1 < len(node.Content); i += 2 {
		k, v := node.Content[i], node.Content[i+1]
		if v.Kind != yaml.ScalarNode {
			return fmt.Errorf("mapping table: property %q must map to a path string (line %d)", k.Value, v.Line)
		}
		if err := built.add(Entry{Property: k.Value, Path: v.Value}); err != nil {
			return err
		}
	}
	*t = *built
	return nil
}

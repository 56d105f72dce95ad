package mapping

import (
	"github.com/lherron/epicsync/internal/domain"
)

// Extract reads every table entry out of a nested wire record.
//
// A segment with an array marker maps the rest of the path over each
// element and yields a list (empty when the field is absent or not an
// array). Any other missing key resolves to null and is returned as a
// MappingResolutionError warning; extraction always continues.
func (e *Engine) Extract(record map[string]any, table *Table) (*domain.Bag, []error) {
	bag := domain.NewBag()
	var warnings []error

	for i, entry := range table.Entries() {
		raw, missing := resolve(record, table.parsed[i])
		if missing != "" {
			w := &domain.MappingResolutionError{Property: entry.Property, Path: entry.Path, Segment: missing}
			e.log.Warn("mapping path did not resolve", "property", entry.Property, "path", entry.Path, "segment", missing)
			warnings = append(warnings, w)
			bag.Set(entry.Property, domain.Null())
			continue
		}
		bag.Set(entry.Property, domain.FromAny(raw))
	}

	return bag, warnings
}

// resolve walks segs through node. missing names the first segment that
// could not be found; it is empty on success.
func resolve(node any, segs []segment) (value any, missing string) {
	cur := node
	for i, s := range segs {
		obj, ok := asObject(cur)
		if !ok {
			if s.Array {
				return []any{}, ""
			}
			return nil, s.Name
		}
		next, present := obj[s.Name]
		if !s.Array {
			if !present {
				return nil, s.Name
			}
			cur = next
			continue
		}

		items, ok := asList(next)
		if !ok {
			return []any{}, ""
		}
		out := make([]any, 0, len(items))
		for _, item := range items {
			if i == len(segs)-1 {
				out = append(out, item)
				continue
			}
			if v, miss := resolve(item, segs[i+1:]); miss == "" {
				out = append(out, v)
			}
		}
		return out, ""
	}
	return cur, ""
}

func asObject(x any) (map[string]any, bool) {
	obj, ok := x.(map[string]any)
	return obj, ok
}

func asList(x any) ([]any, bool) {
	switch v := x.(type) {
	case []any:
		return v, true
	case []string:
		out := make([]any, len(v))
		for i, s := range v {
			out[i] = s
		}
		return out, true
	case []map[string]any:
		out := make([]any, len(v))
		for i, m := range v {
			out[i] = m
		}
		return out, true
	}
	return nil, false
}

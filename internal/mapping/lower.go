package mapping

import (
	"fmt"
	"strings"

	"github.com/lherron/epicsync/internal/domain"
)

// structuralFields have a fixed wire shape regardless of the path text used
// to reach them.
var structuralFields = map[string]func(v domain.Value) any{
	"labels": func(v domain.Value) any {
		items := v.Items()
		out := make([]any, 0, len(items))
		for _, item := range items {
			out = append(out, item.Native())
		}
		return out
	},
	"issuetype": namedObject,
	"status":    namedObject,
}

func namedObject(v domain.Value) any {
	items := v.Items()
	if len(items) == 0 {
		return map[string]any{"name": nil}
	}
	return map[string]any{"name": items[0].Native()}
}

// Lower turns a flat wire map into the nested object the tracker expects
// under "fields". The wrapper itself is stripped: the result is the field
// object handed to the write client. Paths outside "fields." (such as the
// issue key) are not writable and are skipped.
//
// Precedence per path:
//  1. structural fields by name (labels, issuetype, status)
//  2. array marker: "x[].name" -> {x: [{name: item}, ...]}, scalars wrapped
//  3. select-style "field.value" -> {field: {value: v}}
//  4. bare field -> {field: v}
//  5. literal dotted nesting, merging intermediate objects
func Lower(flat *FlatMap) (map[string]any, error) {
	out := make(map[string]any)
	for _, path := range flat.Paths() {
		rel, ok := strings.CutPrefix(path, FieldsRoot+".")
		if !ok {
			continue
		}
		segs, err := parsePath(rel)
		if err != nil {
			return nil, fmt.Errorf("lowering %q: %w", path, err)
		}
		v, _ := flat.Get(path)

		head := segs[0]
		var shaped any
		switch shape, structural := structuralFields[head.Name]; {
		case structural:
			shaped = shape(v)
		case head.Array:
			shaped = arrayOf(segs[1:], v)
		case len(segs) == 2 && segs[1].Name == "value" && !segs[1].Array:
			shaped = map[string]any{"value": v.Native()}
		case len(segs) == 1:
			shaped = v.Native()
		default:
			shaped = nest(segs[1:], v)
		}
		merge(out, head.Name, shaped)
	}
	return out, nil
}

// arrayOf maps every item of v through the remaining path.
func arrayOf(rest []segment, v domain.Value) []any {
	items := v.Items()
	arr := make([]any, 0, len(items))
	for _, item := range items {
		if len(rest) == 0 {
			arr = append(arr, item.Native())
			continue
		}
		arr = append(arr, nest(rest, item))
	}
	return arr
}

// nest builds {s0: {s1: ... v}} for the given segments.
func nest(segs []segment, v domain.Value) any {
	if len(segs) == 0 {
		return v.Native()
	}
	head := segs[0]
	if head.Array {
		return map[string]any{head.Name: arrayOf(segs[1:], v)}
	}
	return map[string]any{head.Name: nest(segs[1:], v)}
}

// merge stores value under key, deep-merging when both sides are objects.
func merge(dst map[string]any, key string, value any) {
	incoming, isMap := value.(map[string]any)
	existing, hasMap := dst[key].(map[string]any)
	if !isMap || !hasMap {
		dst[key] = value
		return
	}
	for k, v := range incoming {
		merge(existing, k, v)
	}
}

// WrapFields puts a lowered field object back under the "fields" wrapper,
// giving it the shape of a fetched record.
func WrapFields(fields map[string]any) map[string]any {
	return map[string]any{FieldsRoot: fields}
}

package query

import (
	"encoding/json"
	"math"
	"sort"
	"strconv"
	"strings"
)

// Value is a node of a query or document tree: a Scalar, a Map or a List.
type Value interface {
	isValue()
}

// Scalar holds a leaf value (string, number, bool or nil).
type Scalar struct {
	V any
}

// Map is a mapping node.
type Map map[string]Value

// List is a sequence node.
type List []Value

func (Scalar) isValue() {}
func (Map) isValue()    {}
func (List) isValue()   {}

// FromAny converts decoded JSON (or driver output) into a Value tree.
func FromAny(v any) Value {
	switch t := v.(type) {
	case Value:
		return t
	case map[string]any:
		return MapFromAny(t)
	case []any:
		l := make(List, len(t))
		for i, e := range t {
			l[i] = FromAny(e)
		}
		return l
	case []map[string]any:
		l := make(List, len(t))
		for i, e := range t {
			l[i] = MapFromAny(e)
		}
		return l
	case []string:
		l := make(List, len(t))
		for i, e := range t {
			l[i] = Scalar{e}
		}
		return l
	case []int64:
		l := make(List, len(t))
		for i, e := range t {
			l[i] = Scalar{e}
		}
		return l
	default:
		return Scalar{v}
	}
}

// MapFromAny converts a decoded JSON object into a Map.
func MapFromAny(m map[string]any) Map {
	out := make(Map, len(m))
	for k, v := range m {
		out[k] = FromAny(v)
	}
	return out
}

// ToAny converts a Value tree back into plain maps, slices and scalars.
func ToAny(v Value) any {
	switch t := v.(type) {
	case Map:
		return t.Any()
	case List:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = ToAny(e)
		}
		return out
	case Scalar:
		return t.V
	default:
		return nil
	}
}

// Any converts m into a plain map.
func (m Map) Any() map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = ToAny(v)
	}
	return out
}

// Keys returns the keys of m in sorted order.
func (m Map) Keys() []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// ToInt converts v to an integer when it represents one exactly.
// The boolean result is false when no conversion applies.
func ToInt(v any) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int32:
		return int64(n), true
	case int64:
		return n, true
	case float64:
		if n == math.Trunc(n) && math.Abs(n) < math.MaxInt64 {
			return int64(n), true
		}
	case json.Number:
		if i, err := n.Int64(); err == nil {
			return i, true
		}
	case string:
		if i, err := strconv.ParseInt(strings.TrimSpace(n), 10, 64); err == nil {
			return i, true
		}
	}
	return 0, false
}

// EntryFunc stores the (already visited) value of key into out.
type EntryFunc func(out Map, key string, value Value)

// Walk rebuilds v bottom-up, calling entry for every map entry after its
// value has been walked. Map keys are visited in sorted order.
func Walk(v Value, entry EntryFunc) Value {
	switch t := v.(type) {
	case Map:
		return WalkMap(t, entry)
	case List:
		out := make(List, len(t))
		for i, e := range t {
			out[i] = Walk(e, entry)
		}
		return out
	default:
		return v
	}
}

// WalkMap is Walk for a Map root.
func WalkMap(m Map, entry EntryFunc) Map {
	out := make(Map, len(m))
	for _, k := range m.Keys() {
		entry(out, k, Walk(m[k], entry))
	}
	return out
}

// merge copies src into dst, merging nested maps.
func merge(dst, src Map) {
	for k, v := range src {
		if sm, ok := v.(Map); ok {
			if dm, ok := dst[k].(Map); ok {
				merge(dm, sm)
				continue
			}
		}
		dst[k] = v
	}
}

package docstore

import (
	"encoding/json"
	"math"
	"strings"
)

// normalize converts driver-decoded values into plain JSON-like values.
func normalize(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, e := range t {
			out[k] = normalize(e)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = normalize(e)
		}
		return out
	case []map[string]any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = normalize(e)
		}
		return out
	case int:
		return int64(t)
	case int32:
		return int64(t)
	case float32:
		return normalize(float64(t))
	case float64:
		if t == math.Trunc(t) && math.Abs(t) < 1<<53 {
			return int64(t)
		}
		return t
	case json.Number:
		if i, err := t.Int64(); err == nil {
			return i
		}
		f, _ := t.Float64()
		return f
	default:
		return v
	}
}

func normalizeDoc(doc map[string]any) map[string]any {
	if doc == nil {
		return nil
	}
	return normalize(doc).(map[string]any)
}

// project applies a Mongo-style projection to a top-level document.
// Inclusion projections keep "_id" unless it is explicitly excluded.
func project(doc map[string]any, projection map[string]int) map[string]any {
	if len(projection) == 0 {
		return doc
	}
	include := false
	for _, v := range projection {
		if v == 1 {
			include = true
			break
		}
	}
	out := make(map[string]any, len(doc))
	if include {
		for k, v := range projection {
			if v == 1 {
				if val, ok := lookup(doc, k); ok {
					out[k] = val
				}
			}
		}
		if id, ok := doc["_id"]; ok {
			if p, set := projection["_id"]; !set || p != 0 {
				out["_id"] = id
			}
		}
		return out
	}
	for k, v := range doc {
		if p, ok := projection[k]; ok && p == 0 {
			continue
		}
		out[k] = v
	}
	return out
}

// lookup resolves a dotted path through nested documents.
func lookup(doc map[string]any, path string) (any, bool) {
	var cur any = doc
	for _, part := range strings.Split(path, ".") {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = m[part]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

// typeRank orders values of different kinds the way Mongo does for the
// kinds submissions contain.
func typeRank(v any) int {
	switch v.(type) {
	case nil:
		return 0
	case int64, float64, int, int32:
		return 1
	case string:
		return 2
	case map[string]any:
		return 3
	case []any:
		return 4
	case bool:
		return 5
	default:
		return 6
	}
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}

// compare returns -1, 0 or 1. Values of different kinds compare by rank.
func compare(a, b any) int {
	ra, rb := typeRank(a), typeRank(b)
	if ra != rb {
		if ra < rb {
			return -1
		}
		return 1
	}
	switch ra {
	case 1:
		fa, _ := toFloat(a)
		fb, _ := toFloat(b)
		switch {
		case fa < fb:
			return -1
		case fa > fb:
			return 1
		}
		return 0
	case 2:
		return strings.Compare(a.(string), b.(string))
	case 5:
		ba, bb := a.(bool), b.(bool)
		switch {
		case ba == bb:
			return 0
		case !ba:
			return -1
		}
		return 1
	}
	return 0
}

func equal(a, b any) bool {
	if typeRank(a) != typeRank(b) {
		return false
	}
	switch typeRank(a) {
	case 0:
		return true
	case 1, 2, 5:
		return compare(a, b) == 0
	case 3:
		ma, mb := a.(map[string]any), b.(map[string]any)
		if len(ma) != len(mb) {
			return false
		}
		for k, v := range ma {
			w, ok := mb[k]
			if !ok || !equal(v, w) {
				return false
			}
		}
		return true
	case 4:
		la, lb := a.([]any), b.([]any)
		if len(la) != len(lb) {
			return false
		}
		for i := range la {
			if !equal(la[i], lb[i]) {
				return false
			}
		}
		return true
	}
	return false
}

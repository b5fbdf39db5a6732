package docstore

import (
	"fmt"
	"regexp"
	"strings"
)

// Match reports whether doc satisfies filter. It understands the operator
// subset the query translator emits: $and, $or, $exists, $in, $all, $gt,
// $gte, $lt, $lte and $regex with $options. Any other operator is an error.
func Match(doc, filter map[string]any) (bool, error) {
	for key, cond := range filter {
		var (
			ok  bool
			err error
		)
		switch key {
		case "$and", "$or":
			ok, err = matchLogical(doc, key, cond)
		default:
			if strings.HasPrefix(key, "$") {
				return false, fmt.Errorf("docstore: unsupported operator %q", key)
			}
			val, present := lookup(doc, key)
			ok, err = matchField(val, present, cond)
		}
		if err != nil || !ok {
			return false, err
		}
	}
	return true, nil
}

func matchLogical(doc map[string]any, op string, cond any) (bool, error) {
	clauses, ok := cond.([]any)
	if !ok {
		return false, fmt.Errorf("docstore: %s needs an array", op)
	}
	for _, c := range clauses {
		sub, ok := c.(map[string]any)
		if !ok {
			return false, fmt.Errorf("docstore: %s clause must be a document", op)
		}
		m, err := Match(doc, sub)
		if err != nil {
			return false, err
		}
		if op == "$or" && m {
			return true, nil
		}
		if op == "$and" && !m {
			return false, nil
		}
	}
	return op == "$and", nil
}

func isOperatorDoc(cond any) (map[string]any, bool) {
	m, ok := cond.(map[string]any)
	if !ok || len(m) == 0 {
		return nil, false
	}
	for k := range m {
		if !strings.HasPrefix(k, "$") {
			return nil, false
		}
	}
	return m, true
}

func matchField(val any, present bool, cond any) (bool, error) {
	ops, isOps := isOperatorDoc(cond)
	if !isOps {
		if cond == nil {
			return !present || val == nil, nil
		}
		return equalOrContains(val, cond), nil
	}

	for op, arg := range ops {
		var ok bool
		switch op {
		case "$exists":
			want, _ := arg.(bool)
			ok = present == want
		case "$in":
			list, isList := arg.([]any)
			if !isList {
				return false, fmt.Errorf("docstore: $in needs an array")
			}
			for _, e := range list {
				if (e == nil && !present) || (present && equalOrContains(val, e)) {
					ok = true
					break
				}
			}
		case "$all":
			list, isList := arg.([]any)
			if !isList {
				return false, fmt.Errorf("docstore: $all needs an array")
			}
			ok = present && len(list) > 0
			for _, e := range list {
				if !equalOrContains(val, e) {
					ok = false
					break
				}
			}
		case "$gt", "$gte", "$lt", "$lte":
			ok = present && anyElement(val, func(v any) bool { return compareOp(op, v, arg) })
		case "$regex":
			re, err := compileRegex(arg, ops["$options"])
			if err != nil {
				return false, err
			}
			ok = present && anyElement(val, func(v any) bool {
				s, isStr := v.(string)
				return isStr && re.MatchString(s)
			})
		case "$options":
			ok = true
		default:
			return false, fmt.Errorf("docstore: unsupported operator %q", op)
		}
		if !ok {
			return false, nil
		}
	}
	return true, nil
}

func compareOp(op string, v, arg any) bool {
	if typeRank(v) != typeRank(arg) {
		return false
	}
	c := compare(v, arg)
	switch op {
	case "$gt":
		return c > 0
	case "$gte":
		return c >= 0
	case "$lt":
		return c < 0
	default:
		return c <= 0
	}
}

func compileRegex(pattern, options any) (*regexp.Regexp, error) {
	p, ok := pattern.(string)
	if !ok {
		return nil, fmt.Errorf("docstore: $regex needs a string")
	}
	if opts, _ := options.(string); opts != "" {
		flags := ""
		for _, f := range opts {
			if strings.ContainsRune("imsU", f) {
				flags += string(f)
			}
		}
		if flags != "" {
			p = "(?" + flags + ")" + p
		}
	}
	re, err := regexp.Compile(p)
	if err != nil {
		return nil, fmt.Errorf("docstore: bad $regex: %w", err)
	}
	return re, nil
}

// equalOrContains matches a value, or any element of an array value.
func equalOrContains(val, want any) bool {
	if equal(val, want) {
		return true
	}
	return anyElement(val, func(v any) bool { return equal(v, want) })
}

func anyElement(val any, fn func(any) bool) bool {
	if list, ok := val.([]any); ok {
		for _, e := range list {
			if fn(e) {
				return true
			}
		}
		return false
	}
	return fn(val)
}

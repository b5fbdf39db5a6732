package query

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/simatei/kpi/internal/keycodec"
)

// FilterParams are the inputs of BuildFilter.
type FilterParams struct {
	// Scope is the tenant partition (the form deployment's userform id).
	Scope string
	// Query is the caller's filter; it may be nil.
	Query Map
	// InstanceIDs restricts the result to these submission ids when non-empty.
	InstanceIDs []int64
	// PermissionFilters holds the caller's row-level clauses. nil means
	// unrestricted; an empty non-nil slice matches nothing.
	PermissionFilters []Map
	// HideDeleted excludes soft-deleted submissions.
	HideDeleted bool
}

// BuildFilter conjoins the caller's query with id, tenant, permission and
// soft-delete clauses, always in that order.
func BuildFilter(p FilterParams) Map {
	clauses := List{}
	if len(p.Query) > 0 {
		clauses = append(clauses, p.Query)
	}
	if len(p.InstanceIDs) > 0 {
		clauses = append(clauses, Map{IDField: Map{"$in": FromAny(p.InstanceIDs)}})
	}
	clauses = append(clauses, Map{ScopeField: Scalar{p.Scope}})

	if p.PermissionFilters != nil {
		if len(p.PermissionFilters) == 0 {
			clauses = append(clauses, Map{IDField: Map{"$in": List{}}})
		} else {
			or := make(List, len(p.PermissionFilters))
			for i, f := range p.PermissionFilters {
				or[i] = f
			}
			clauses = append(clauses, Map{"$or": or})
		}
	}

	if p.HideDeleted {
		clauses = append(clauses, Map{"$or": List{
			Map{DeletedAtField: Map{"$exists": Scalar{false}}},
			Map{DeletedAtField: Scalar{nil}},
		}})
	}
	return Map{"$and": clauses}
}

// Sort is a single-key sort specification.
type Sort struct {
	Field     string
	Direction int
}

// StoreField returns the field name as the store reads it.
func (s Sort) StoreField() string {
	for k := range ToSafe(Map{s.Field: Scalar{s.Direction}}, false) {
		return k
	}
	return s.Field
}

// Projection returns the store projection for the requested fields.
// With no fields, every field but the tenant scope is returned.
func Projection(fields []string) map[string]int {
	if len(fields) == 0 {
		return map[string]int{ScopeField: 0}
	}
	p := make(map[string]int, len(fields))
	for _, f := range fields {
		p[keycodec.Encode(f)] = 1
	}
	return p
}

// ErrMultiKeySort is returned for sort specifications with several keys.
var ErrMultiKeySort = errors.New("query: sorting on more than one field is not supported")

// ParseQuery decodes a JSON object filter. An empty string yields nil.
func ParseQuery(raw string) (Map, error) {
	if raw == "" {
		return nil, nil
	}
	var m map[string]any
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		return nil, fmt.Errorf("query: invalid query: %w", err)
	}
	return MapFromAny(m), nil
}

// ParseFields decodes a JSON array of field names.
func ParseFields(raw string) ([]string, error) {
	if raw == "" {
		return nil, nil
	}
	var fields []string
	if err := json.Unmarshal([]byte(raw), &fields); err != nil {
		return nil, fmt.Errorf("query: invalid fields: %w", err)
	}
	return fields, nil
}

// ParseSort decodes a JSON object such as {"_submission_time": -1}.
func ParseSort(raw string) (*Sort, error) {
	if raw == "" {
		return nil, nil
	}
	var m map[string]any
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		return nil, fmt.Errorf("query: invalid sort: %w", err)
	}
	switch len(m) {
	case 0:
		return nil, nil
	case 1:
	default:
		return nil, ErrMultiKeySort
	}
	for field, v := range m {
		dir, ok := ToInt(v)
		if !ok || (dir != 1 && dir != -1) {
			return nil, fmt.Errorf("query: sort direction for %q must be 1 or -1", field)
		}
		return &Sort{Field: field, Direction: int(dir)}, nil
	}
	return nil, nil
}

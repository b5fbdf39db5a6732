// Package query translates request-level submission filters into queries the
// document store can run safely.
//
// Keys that are not query operators but look like one (a leading "$") or that
// the store would read as a path (a "."), are encoded with keycodec before a
// query or document reaches the store. The operator whitelist below is the
// security boundary against operator injection.
package query

import (
	"fmt"
	"strings"

	"github.com/simatei/kpi/internal/keycodec"
)

// Reserved field names shared with the remote service.
const (
	IDField               = "_id"
	UUIDField             = "_uuid"
	ScopeField            = "_userform_id"
	DeletedAtField        = "_deleted_at"
	SubmittedByField      = "_submitted_by"
	ValidationStatusField = "_validation_status"
)

var keyWhitelist = map[string]struct{}{
	"$or": {}, "$and": {}, "$exists": {}, "$in": {}, "$gt": {}, "$gte": {},
	"$lt": {}, "$lte": {}, "$regex": {}, "$options": {}, "$all": {},
}

// nestedReserved lists the fields addressed through dotted paths that must be
// expanded into nested documents when written.
var nestedReserved = [...]string{ValidationStatusField}

// IsWhitelisted reports whether key is an allowed query operator.
func IsWhitelisted(key string) bool {
	_, ok := keyWhitelist[key]
	return ok
}

// IsKeyUnsafe reports whether key cannot be passed to the store as is.
func IsKeyUnsafe(key string) bool {
	return !IsWhitelisted(key) &&
		(strings.HasPrefix(key, keycodec.Sentinel) || strings.Contains(key, keycodec.Separator))
}

func isNestedReserved(key string) bool {
	for _, attr := range nestedReserved {
		if strings.HasPrefix(key, attr+keycodec.Separator) {
			return true
		}
	}
	return false
}

// ToSafe returns a copy of m in which unsafe keys are encoded.
//
// When forWriting is true, dotted paths under reserved nested attributes
// (e.g. "_validation_status.uid") are expanded into nested maps; when reading
// they are kept, since the store's query engine resolves dotted paths.
// Scalar "_id" values are converted to integers when possible.
func ToSafe(m Map, forWriting bool) Map {
	return WalkMap(m, func(out Map, key string, v Value) {
		if key == IDField {
			if s, ok := v.(Scalar); ok {
				if n, ok := ToInt(s.V); ok {
					v = Scalar{n}
				}
			}
		}

		switch {
		case isNestedReserved(key):
			if !forWriting {
				out[key] = v
				return
			}
			parts := strings.Split(key, keycodec.Separator)
			var tree Value = v
			for i := len(parts) - 1; i > 0; i-- {
				tree = Map{parts[i]: tree}
			}
			put(out, parts[0], ToSafe(tree.(Map), forWriting))
		case IsKeyUnsafe(key), keycodec.IsEncoded(key):
			// keys that already look encoded are escaped so they read back unchanged
			put(out, keycodec.Encode(key), v)
		default:
			put(out, key, v)
		}
	})
}

func put(out Map, key string, v Value) {
	if vm, ok := v.(Map); ok {
		if existing, ok := out[key].(Map); ok {
			merge(existing, vm)
			return
		}
	}
	out[key] = v
}

// ToReadable returns a copy of m with encoded keys decoded.
func ToReadable(m Map) Map {
	return WalkMap(m, func(out Map, key string, v Value) {
		if !IsWhitelisted(key) && keycodec.IsEncoded(key) {
			key = keycodec.Decode(key)
		}
		out[key] = v
	})
}

// UnsafeQueryError reports a key that survived translation unencoded.
type UnsafeQueryError struct {
	Key string
}

func (e *UnsafeQueryError) Error() string {
	return fmt.Sprintf("query: unsafe key %q", e.Key)
}

// AssertSafe checks that no unsafe key remains in a query prepared for
// reading.
func AssertSafe(m Map) error {
	var err error
	WalkMap(m, func(out Map, key string, v Value) {
		if err == nil && IsKeyUnsafe(key) && !isNestedReserved(key) {
			err = &UnsafeQueryError{Key: key}
		}
	})
	return err
}

// Package docstore is the document store holding submission JSON rows and the
// service's own bookkeeping collections.
//
// Filters, projections and documents are plain decoded-JSON values
// (map[string]any, []any, scalars). Numbers read back from any backend are
// normalized to int64 when integral, float64 otherwise.
package docstore

import (
	"context"
	"errors"
)

// Collection names.
const (
	Submissions = "instances"
	Deployments = "_kpi_deployments"
	Permissions = "_kpi_permissions"
	Tokens      = "_kpi_tokens"
)

// DefaultBatchSize is the cursor batch size used when none is given.
const DefaultBatchSize = 1000

// ErrNotFound is returned by FindOne when no document matches.
var ErrNotFound = errors.New("docstore: document not found")

// SortKey orders a Find on a single field; Direction is 1 or -1.
type SortKey struct {
	Field     string
	Direction int
}

// FindOptions shape a Find. Zero Skip and Limit mean "none".
type FindOptions struct {
	Projection map[string]int
	Sort       *SortKey
	Skip       int64
	Limit      int64
	BatchSize  int32
}

// Cursor is a forward-only, single-pass result sequence.
type Cursor interface {
	Next(ctx context.Context) bool
	Current() map[string]any
	Err() error
	Close(ctx context.Context) error
}

// Store is implemented by each backend.
type Store interface {
	Count(ctx context.Context, collection string, filter map[string]any) (int64, error)
	Find(ctx context.Context, collection string, filter map[string]any, opts FindOptions) (Cursor, error)
	FindOne(ctx context.Context, collection string, filter map[string]any, projection map[string]int) (map[string]any, error)
	Insert(ctx context.Context, collection string, docs ...map[string]any) error
	// Upsert replaces the first document matching filter with doc, or
	// inserts doc when none matches.
	Upsert(ctx context.Context, collection string, filter, doc map[string]any) error
	Ping(ctx context.Context) error
	Close(ctx context.Context) error
}

// All drains c into a slice and closes it.
func All(ctx context.Context, c Cursor) ([]map[string]any, error) {
	defer c.Close(ctx)
	var out []map[string]any
	for c.Next(ctx) {
		out = append(out, c.Current())
	}
	return out, c.Err()
}

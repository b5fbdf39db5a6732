// Package rawlog reads the durable log of raw submission XML kept by the
// remote data collection service (its logger_instance table).
package rawlog

import (
	"context"
	"fmt"
)

// Record is one raw submission.
type Record struct {
	ID  int64
	XML string
}

// Query selects the live (not soft-deleted) records of one form. Results are
// always ordered by ascending id.
type Query struct {
	XFormID int64
	// IDs restricts the result to these ids when non-nil. An empty non-nil
	// slice selects nothing.
	IDs    []int64
	Offset int64
	// Limit of 0 means no limit.
	Limit int64
}

// Store is implemented by the postgres and sqlite backends.
type Store interface {
	// Count ignores the query's Offset and Limit.
	Count(ctx context.Context, q Query) (int64, error)
	Read(ctx context.Context, q Query) (*Rows, error)
	Append(ctx context.Context, xformID int64, rec Record) error
	// SoftDelete marks records deleted; they disappear from Read.
	SoftDelete(ctx context.Context, xformID int64, ids []int64) error
	Ping(ctx context.Context) error
	Close()
}

type scanner interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
}

// Rows is a forward-only, single-pass sequence of records. It must be closed.
type Rows struct {
	src   scanner
	close func()
	cur   Record
	err   error
}

func newRows(src scanner, close func()) *Rows {
	return &Rows{src: src, close: close}
}

// Next advances to the next record.
func (r *Rows) Next() bool {
	if r.src == nil || r.err != nil || !r.src.Next() {
		return false
	}
	var rec Record
	if err := r.src.Scan(&rec.ID, &rec.XML); err != nil {
		r.err = fmt.Errorf("rawlog: scan: %w", err)
		return false
	}
	r.cur = rec
	return true
}

// Record returns the current record.
func (r *Rows) Record() Record { return r.cur }

// Err returns the first error met while iterating.
func (r *Rows) Err() error {
	if r.err != nil {
		return r.err
	}
	if r.src == nil {
		return nil
	}
	return r.src.Err()
}

// Close releases the underlying result set. It is safe to call twice.
func (r *Rows) Close() {
	if r.close != nil {
		r.close()
		r.close = nil
	}
}

// All drains r into a slice and closes it.
func All(r *Rows) ([]Record, error) {
	defer r.Close()
	var out []Record
	for r.Next() {
		out = append(out, r.Record())
	}
	return out, r.Err()
}

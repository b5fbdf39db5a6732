package docstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/simatei/kpi/internal/db"
	"github.com/simatei/kpi/internal/oxidb"
)

// storedIDField holds a document's "_id" on OxiDB, which assigns its own
// "_id" to every inserted document.
const storedIDField = "_sid"

// OxiDB is the Store backed by an oxidb-server connection pool.
type OxiDB struct {
	pool *db.Pool
}

// NewOxiDB wraps an open pool.
func NewOxiDB(pool *db.Pool) *OxiDB {
	return &OxiDB{pool: pool}
}

// EnsureIndexes creates the collections this service uses and the indexes
// submission listing relies on. Collections that already exist are kept.
func (s *OxiDB) EnsureIndexes(ctx context.Context) error {
	c := s.pool.Get()
	for _, coll := range []string{Submissions, Deployments, Permissions, Tokens} {
		var serverErr *oxidb.Error
		if err := c.CreateCollection(ctx, coll); err != nil && !errors.As(err, &serverErr) {
			return fmt.Errorf("oxidb: create %s: %w", coll, err)
		}
	}
	for _, field := range []string{"_userform_id", "_uuid", storedIDField} {
		if err := c.CreateIndex(ctx, Submissions, field); err != nil {
			return fmt.Errorf("oxidb: index %s: %w", field, err)
		}
	}
	return nil
}

// toServer renames "_id" keys anywhere in a filter or document.
func toServer(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, e := range t {
			if k == "_id" {
				k = storedIDField
			}
			out[k] = toServer(e)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = toServer(e)
		}
		return out
	default:
		return v
	}
}

func serverFilter(filter map[string]any) map[string]any {
	if filter == nil {
		return map[string]any{}
	}
	return toServer(filter).(map[string]any)
}

func fromServer(doc map[string]any, projection map[string]int) map[string]any {
	doc = normalizeDoc(doc)
	delete(doc, "_id")
	if id, ok := doc[storedIDField]; ok {
		doc["_id"] = id
		delete(doc, storedIDField)
	}
	return project(doc, projection)
}

// Count implements Store.
func (s *OxiDB) Count(ctx context.Context, collection string, filter map[string]any) (int64, error) {
	n, err := s.pool.Get().Count(ctx, collection, serverFilter(filter))
	if err != nil {
		return 0, fmt.Errorf("oxidb: count %s: %w", collection, err)
	}
	return n, nil
}

// Find implements Store. Documents are fetched lazily, one batch per
// round trip.
func (s *OxiDB) Find(ctx context.Context, collection string, filter map[string]any, opts FindOptions) (Cursor, error) {
	sortField, dir := storedIDField, 1
	if opts.Sort != nil {
		sortField, dir = opts.Sort.Field, opts.Sort.Direction
		if sortField == "_id" {
			sortField = storedIDField
		}
	}
	batch := int64(opts.BatchSize)
	if batch <= 0 {
		batch = DefaultBatchSize
	}
	return &oxidbCursor{
		client:     s.pool.Get(),
		collection: collection,
		filter:     serverFilter(filter),
		sort:       map[string]any{sortField: dir},
		projection: opts.Projection,
		offset:     opts.Skip,
		remaining:  opts.Limit,
		limited:    opts.Limit > 0,
		batch:      batch,
	}, nil
}

// FindOne implements Store.
func (s *OxiDB) FindOne(ctx context.Context, collection string, filter map[string]any, projection map[string]int) (map[string]any, error) {
	doc, err := s.pool.Get().FindOne(ctx, collection, serverFilter(filter))
	if err != nil {
		return nil, fmt.Errorf("oxidb: find one %s: %w", collection, err)
	}
	if doc == nil {
		return nil, ErrNotFound
	}
	return fromServer(doc, projection), nil
}

// Insert implements Store.
func (s *OxiDB) Insert(ctx context.Context, collection string, docs ...map[string]any) error {
	if len(docs) == 0 {
		return nil
	}
	batch := make([]map[string]any, len(docs))
	for i, d := range docs {
		batch[i] = toServer(d).(map[string]any)
	}
	if err := s.pool.Get().InsertMany(ctx, collection, batch); err != nil {
		return fmt.Errorf("oxidb: insert %s: %w", collection, err)
	}
	return nil
}

// Upsert implements Store.
func (s *OxiDB) Upsert(ctx context.Context, collection string, filter, doc map[string]any) error {
	c := s.pool.Get()
	f := serverFilter(filter)
	existing, err := c.FindOne(ctx, collection, f)
	if err != nil {
		return fmt.Errorf("oxidb: upsert %s: %w", collection, err)
	}
	if existing == nil {
		_, err = c.Insert(ctx, collection, toServer(doc).(map[string]any))
	} else {
		err = c.UpdateOne(ctx, collection, f, map[string]any{"$set": toServer(doc)})
	}
	if err != nil {
		return fmt.Errorf("oxidb: upsert %s: %w", collection, err)
	}
	return nil
}

// Ping implements Store.
func (s *OxiDB) Ping(ctx context.Context) error { return s.pool.Ping(ctx) }

// Close implements Store.
func (s *OxiDB) Close(ctx context.Context) error {
	s.pool.Close()
	return nil
}

type oxidbCursor struct {
	client     *oxidb.Client
	collection string
	filter     map[string]any
	sort       map[string]any
	projection map[string]int

	offset    int64
	remaining int64
	limited   bool
	batch     int64

	buf     []map[string]any
	pos     int
	done    bool
	current map[string]any
	err     error
}

func (c *oxidbCursor) fetch(ctx context.Context) {
	n := c.batch
	if c.limited && c.remaining < n {
		n = c.remaining
	}
	skip, limit := int(c.offset), int(n)
	docs, err := c.client.Find(ctx, c.collection, c.filter, &oxidb.FindOptions{Sort: c.sort, Skip: &skip, Limit: &limit})
	if err != nil {
		c.err = fmt.Errorf("oxidb: find %s: %w", c.collection, err)
		c.done = true
		return
	}
	c.buf, c.pos = docs, 0
	c.offset += int64(len(docs))
	if c.limited {
		c.remaining -= int64(len(docs))
	}
	if int64(len(docs)) < n || (c.limited && c.remaining <= 0) {
		c.done = true
	}
}

func (c *oxidbCursor) Next(ctx context.Context) bool {
	c.current = nil
	if c.pos >= len(c.buf) {
		if c.done || c.err != nil {
			return false
		}
		c.fetch(ctx)
		if c.pos >= len(c.buf) {
			return false
		}
	}
	c.current = fromServer(c.buf[c.pos], c.projection)
	c.pos++
	return true
}

func (c *oxidbCursor) Current() map[string]any { return c.current }

func (c *oxidbCursor) Err() error { return c.err }

func (c *oxidbCursor) Close(ctx context.Context) error {
	c.buf, c.done = nil, true
	return nil
}

package docstore

import (
	"context"
	"sort"
	"sync"
)

// Memory is an in-process Store used for development and tests.
type Memory struct {
	mu          sync.RWMutex
	collections map[string][]map[string]any
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{collections: make(map[string][]map[string]any)}
}

func (m *Memory) matching(collection string, filter map[string]any) ([]map[string]any, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []map[string]any
	for _, doc := range m.collections[collection] {
		ok, err := Match(doc, filter)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, normalizeDoc(doc))
		}
	}
	return out, nil
}

// Count implements Store.
func (m *Memory) Count(ctx context.Context, collection string, filter map[string]any) (int64, error) {
	docs, err := m.matching(collection, normalizeDoc(filter))
	if err != nil {
		return 0, err
	}
	return int64(len(docs)), nil
}

// Find implements Store.
func (m *Memory) Find(ctx context.Context, collection string, filter map[string]any, opts FindOptions) (Cursor, error) {
	docs, err := m.matching(collection, normalizeDoc(filter))
	if err != nil {
		return nil, err
	}
	if s := opts.Sort; s != nil {
		sort.SliceStable(docs, func(i, j int) bool {
			a, _ := lookup(docs[i], s.Field)
			b, _ := lookup(docs[j], s.Field)
			return compare(a, b)*s.Direction < 0
		})
	}
	if opts.Skip > 0 {
		if opts.Skip >= int64(len(docs)) {
			docs = nil
		} else {
			docs = docs[opts.Skip:]
		}
	}
	if opts.Limit > 0 && opts.Limit < int64(len(docs)) {
		docs = docs[:opts.Limit]
	}
	for i := range docs {
		docs[i] = project(docs[i], opts.Projection)
	}
	return &sliceCursor{docs: docs, pos: -1}, nil
}

// FindOne implements Store.
func (m *Memory) FindOne(ctx context.Context, collection string, filter map[string]any, projection map[string]int) (map[string]any, error) {
	docs, err := m.matching(collection, normalizeDoc(filter))
	if err != nil {
		return nil, err
	}
	if len(docs) == 0 {
		return nil, ErrNotFound
	}
	return project(docs[0], projection), nil
}

// Insert implements Store.
func (m *Memory) Insert(ctx context.Context, collection string, docs ...map[string]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, d := range docs {
		m.collections[collection] = append(m.collections[collection], normalizeDoc(d))
	}
	return nil
}

// Upsert implements Store.
func (m *Memory) Upsert(ctx context.Context, collection string, filter, doc map[string]any) error {
	filter = normalizeDoc(filter)
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, existing := range m.collections[collection] {
		ok, err := Match(existing, filter)
		if err != nil {
			return err
		}
		if ok {
			m.collections[collection][i] = normalizeDoc(doc)
			return nil
		}
	}
	m.collections[collection] = append(m.collections[collection], normalizeDoc(doc))
	return nil
}

// Ping implements Store.
func (m *Memory) Ping(ctx context.Context) error { return nil }

// Close implements Store.
func (m *Memory) Close(ctx context.Context) error { return nil }

type sliceCursor struct {
	docs []map[string]any
	pos  int
	err  error
}

func (c *sliceCursor) Next(ctx context.Context) bool {
	if c.err = ctx.Err(); c.err != nil || c.pos+1 >= len(c.docs) {
		c.pos = len(c.docs)
		return false
	}
	c.pos++
	return true
}

func (c *sliceCursor) Current() map[string]any {
	if c.pos < 0 || c.pos >= len(c.docs) {
		return nil
	}
	return c.docs[c.pos]
}

func (c *sliceCursor) Err() error { return c.err }

func (c *sliceCursor) Close(ctx context.Context) error {
	c.docs = nil
	return nil
}

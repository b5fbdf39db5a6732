package docstore_test

import (
	"context"
	"errors"
	"testing"

	"github.com/go-playground/assert/v2"

	"github.com/simatei/kpi/internal/docstore"
)

func seed(t *testing.T, s docstore.Store, n int) {
	t.Helper()
	docs := make([]map[string]any, 0, n)
	for i := 1; i <= n; i++ {
		scope := "alice_f"
		if i%2 == 0 {
			scope = "bob_f"
		}
		docs = append(docs, map[string]any{"_id": i, "_userform_id": scope, "n": i * 10})
	}
	if err := s.Insert(context.Background(), docstore.Submissions, docs...); err != nil {
		t.Fatalf("insert: %v", err)
	}
}

func ids(docs []map[string]any) []int64 {
	out := make([]int64, len(docs))
	for i, d := range docs {
		out[i], _ = d["_id"].(int64)
	}
	return out
}

func TestMemoryFind(t *testing.T) {
	ctx := context.Background()
	s := docstore.NewMemory()
	seed(t, s, 9)

	filter := map[string]any{"_userform_id": "alice_f"}
	n, err := s.Count(ctx, docstore.Submissions, filter)
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	assert.Equal(t, n, int64(5))

	cur, err := s.Find(ctx, docstore.Submissions, filter, docstore.FindOptions{
		Sort:       &docstore.SortKey{Field: "_id", Direction: -1},
		Skip:       1,
		Limit:      3,
		Projection: map[string]int{"_userform_id": 0},
	})
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	docs, err := docstore.All(ctx, cur)
	if err != nil {
		t.Fatalf("drain: %v", err)
	}
	assert.Equal(t, ids(docs), []int64{7, 5, 3})
	if _, ok := docs[0]["_userform_id"]; ok {
		t.Fatal("excluded field returned")
	}
	assert.Equal(t, docs[0]["n"], int64(70))
}

func TestMemoryInclusionProjection(t *testing.T) {
	ctx := context.Background()
	s := docstore.NewMemory()
	seed(t, s, 2)

	doc, err := s.FindOne(ctx, docstore.Submissions, map[string]any{"_id": 2}, map[string]int{"n": 1})
	if err != nil {
		t.Fatalf("find one: %v", err)
	}
	assert.Equal(t, doc, map[string]any{"_id": int64(2), "n": int64(20)})
}

func TestMemoryFindOneNotFound(t *testing.T) {
	s := docstore.NewMemory()
	_, err := s.FindOne(context.Background(), docstore.Submissions, map[string]any{"_id": 1}, nil)
	if !errors.Is(err, docstore.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestMemoryUpsert(t *testing.T) {
	ctx := context.Background()
	s := docstore.NewMemory()
	key := map[string]any{"username": "alice"}

	if err := s.Upsert(ctx, docstore.Tokens, key, map[string]any{"username": "alice", "key": "one"}); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if err := s.Upsert(ctx, docstore.Tokens, key, map[string]any{"username": "alice", "key": "two"}); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	n, _ := s.Count(ctx, docstore.Tokens, nil)
	assert.Equal(t, n, int64(1))

	doc, err := s.FindOne(ctx, docstore.Tokens, key, nil)
	if err != nil {
		t.Fatalf("find one: %v", err)
	}
	assert.Equal(t, doc["key"], "two")
}

func TestMemoryReturnsCopies(t *testing.T) {
	ctx := context.Background()
	s := docstore.NewMemory()
	seed(t, s, 1)

	doc, _ := s.FindOne(ctx, docstore.Submissions, map[string]any{"_id": 1}, nil)
	doc["n"] = "changed"

	again, _ := s.FindOne(ctx, docstore.Submissions, map[string]any{"_id": 1}, nil)
	assert.Equal(t, again["n"], int64(10))
}

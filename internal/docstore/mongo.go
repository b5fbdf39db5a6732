package docstore

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

// Mongo is the MongoDB-backed Store.
type Mongo struct {
	client *mongo.Client
	db     *mongo.Database
}

// OpenMongo connects to uri and pings the server.
func OpenMongo(ctx context.Context, uri, database string, maxPoolSize int) (*Mongo, error) {
	opts := options.Client().
		ApplyURI(uri).
		SetBSONOptions(&options.BSONOptions{DefaultDocumentM: true})
	if maxPoolSize > 0 {
		opts.SetMaxPoolSize(uint64(maxPoolSize))
	}
	client, err := mongo.Connect(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}
	return &Mongo{client: client, db: client.Database(database)}, nil
}

// EnsureIndexes creates the indexes submission listing relies on.
func (s *Mongo) EnsureIndexes(ctx context.Context) error {
	_, err := s.db.Collection(Submissions).Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "_userform_id", Value: 1}, {Key: "_id", Value: 1}}},
		{Keys: bson.D{{Key: "_uuid", Value: 1}}},
		{Keys: bson.D{{Key: "_deleted_at", Value: 1}}},
	})
	if err != nil {
		return fmt.Errorf("mongo: create indexes: %w", err)
	}
	return nil
}

func orEmpty(filter map[string]any) any {
	if filter == nil {
		return bson.M{}
	}
	return filter
}

// Count implements Store.
func (s *Mongo) Count(ctx context.Context, collection string, filter map[string]any) (int64, error) {
	n, err := s.db.Collection(collection).CountDocuments(ctx, orEmpty(filter))
	if err != nil {
		return 0, fmt.Errorf("mongo: count %s: %w", collection, err)
	}
	return n, nil
}

// Find implements Store.
func (s *Mongo) Find(ctx context.Context, collection string, filter map[string]any, opts FindOptions) (Cursor, error) {
	fo := options.Find()
	if len(opts.Projection) > 0 {
		fo.SetProjection(opts.Projection)
	}
	if opts.Sort != nil {
		fo.SetSort(bson.D{{Key: opts.Sort.Field, Value: opts.Sort.Direction}})
	}
	if opts.Skip > 0 {
		fo.SetSkip(opts.Skip)
	}
	if opts.Limit > 0 {
		fo.SetLimit(opts.Limit)
	}
	batch := opts.BatchSize
	if batch <= 0 {
		batch = DefaultBatchSize
	}
	fo.SetBatchSize(batch)

	cur, err := s.db.Collection(collection).Find(ctx, orEmpty(filter), fo)
	if err != nil {
		return nil, fmt.Errorf("mongo: find %s: %w", collection, err)
	}
	return &mongoCursor{cur: cur}, nil
}

// FindOne implements Store.
func (s *Mongo) FindOne(ctx context.Context, collection string, filter map[string]any, projection map[string]int) (map[string]any, error) {
	fo := options.FindOne()
	if len(projection) > 0 {
		fo.SetProjection(projection)
	}
	var doc bson.M
	err := s.db.Collection(collection).FindOne(ctx, orEmpty(filter), fo).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("mongo: find one %s: %w", collection, err)
	}
	return fromBSON(doc).(map[string]any), nil
}

// Insert implements Store.
func (s *Mongo) Insert(ctx context.Context, collection string, docs ...map[string]any) error {
	if len(docs) == 0 {
		return nil
	}
	batch := make([]any, len(docs))
	for i, d := range docs {
		batch[i] = d
	}
	if _, err := s.db.Collection(collection).InsertMany(ctx, batch); err != nil {
		return fmt.Errorf("mongo: insert %s: %w", collection, err)
	}
	return nil
}

// Upsert implements Store.
func (s *Mongo) Upsert(ctx context.Context, collection string, filter, doc map[string]any) error {
	_, err := s.db.Collection(collection).ReplaceOne(ctx, orEmpty(filter), doc, options.Replace().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("mongo: upsert %s: %w", collection, err)
	}
	return nil
}

// Ping implements Store.
func (s *Mongo) Ping(ctx context.Context) error {
	return s.client.Ping(ctx, nil)
}

// Close implements Store.
func (s *Mongo) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

type mongoCursor struct {
	cur     *mongo.Cursor
	current map[string]any
	err     error
}

func (c *mongoCursor) Next(ctx context.Context) bool {
	c.current = nil
	if c.err != nil || !c.cur.Next(ctx) {
		return false
	}
	var doc bson.M
	if err := c.cur.Decode(&doc); err != nil {
		c.err = fmt.Errorf("mongo: decode: %w", err)
		return false
	}
	c.current = fromBSON(doc).(map[string]any)
	return true
}

func (c *mongoCursor) Current() map[string]any { return c.current }

func (c *mongoCursor) Err() error {
	if c.err != nil {
		return c.err
	}
	return c.cur.Err()
}

func (c *mongoCursor) Close(ctx context.Context) error { return c.cur.Close(ctx) }

// fromBSON converts driver values into plain JSON-like values.
func fromBSON(v any) any {
	switch t := v.(type) {
	case bson.M:
		return fromBSON(map[string]any(t))
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, e := range t {
			out[k] = fromBSON(e)
		}
		return out
	case bson.D:
		out := make(map[string]any, len(t))
		for _, e := range t {
			out[e.Key] = fromBSON(e.Value)
		}
		return out
	case bson.A:
		return fromBSON([]any(t))
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = fromBSON(e)
		}
		return out
	case bson.ObjectID:
		return t.Hex()
	case bson.DateTime:
		return t.Time().UTC().Format("2006-01-02T15:04:05")
	default:
		return normalize(v)
	}
}

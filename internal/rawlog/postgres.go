package rawlog

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Postgres reads the log from the remote service's PostgreSQL database.
type Postgres struct {
	pool *pgxpool.Pool
}

// OpenPostgres connects a pgx pool to dsn.
func OpenPostgres(ctx context.Context, dsn string) (*Postgres, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("rawlog: open postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("rawlog: ping postgres: %w", err)
	}
	return &Postgres{pool: pool}, nil
}

func pgWhere(q Query) (string, []any) {
	where := `xform_id = $1 AND deleted_at IS NULL`
	args := []any{q.XFormID}
	if q.IDs != nil {
		where += ` AND id = ANY($2)`
		args = append(args, q.IDs)
	}
	return where, args
}

// Count implements Store.
func (s *Postgres) Count(ctx context.Context, q Query) (int64, error) {
	where, args := pgWhere(q)
	var n int64
	if err := s.pool.QueryRow(ctx, `SELECT count(*) FROM logger_instance WHERE `+where, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("rawlog: count: %w", err)
	}
	return n, nil
}

// Read implements Store.
func (s *Postgres) Read(ctx context.Context, q Query) (*Rows, error) {
	where, args := pgWhere(q)
	var limit *int64
	if q.Limit > 0 {
		limit = &q.Limit
	}
	n := len(args)
	sql := fmt.Sprintf(`SELECT id, xml FROM logger_instance WHERE %s ORDER BY id OFFSET $%d LIMIT $%d`,
		where, n+1, n+2)
	rows, err := s.pool.Query(ctx, sql, append(args, q.Offset, limit)...)
	if err != nil {
		return nil, fmt.Errorf("rawlog: query: %w", err)
	}
	return newRows(rows, rows.Close), nil
}

// Append implements Store.
func (s *Postgres) Append(ctx context.Context, xformID int64, rec Record) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO logger_instance (id, xml, xform_id) VALUES ($1, $2, $3)`,
		rec.ID, rec.XML, xformID)
	if err != nil {
		return fmt.Errorf("rawlog: append: %w", err)
	}
	return nil
}

// SoftDelete implements Store.
func (s *Postgres) SoftDelete(ctx context.Context, xformID int64, ids []int64) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE logger_instance SET deleted_at = now()
			WHERE xform_id = $1 AND id = ANY($2) AND deleted_at IS NULL`,
		xformID, ids)
	if err != nil {
		return fmt.Errorf("rawlog: soft delete: %w", err)
	}
	return nil
}

// Ping implements Store.
func (s *Postgres) Ping(ctx context.Context) error { return s.pool.Ping(ctx) }

// Close implements Store.
func (s *Postgres) Close() { s.pool.Close() }

package rawlog

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "modernc.org/sqlite" // pure go sqlite driver
)

// SQLite keeps the log in a local SQLite file, for development and tests.
type SQLite struct {
	db *sql.DB
}

// OpenSQLite opens path and creates the table when missing. With
// ":memory:" the store holds a single connection, so a Rows must be closed
// before the next call.
func OpenSQLite(ctx context.Context, path string) (*SQLite, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("rawlog: open sqlite: %w", err)
	}
	if path == ":memory:" {
		db.SetMaxOpenConns(1)
	}
	if _, err := db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS logger_instance (
		id INTEGER PRIMARY KEY,
		xml TEXT NOT NULL,
		xform_id INTEGER NOT NULL,
		deleted_at TEXT
	)`); err != nil {
		db.Close()
		return nil, fmt.Errorf("rawlog: create table: %w", err)
	}
	return &SQLite{db: db}, nil
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

func sqliteWhere(q Query) (string, []any) {
	where := `xform_id = ? AND deleted_at IS NULL`
	args := []any{q.XFormID}
	if q.IDs != nil {
		where += ` AND id IN (` + placeholders(len(q.IDs)) + `)`
		for _, id := range q.IDs {
			args = append(args, id)
		}
	}
	return where, args
}

// Count implements Store.
func (s *SQLite) Count(ctx context.Context, q Query) (int64, error) {
	if q.IDs != nil && len(q.IDs) == 0 {
		return 0, nil
	}
	where, args := sqliteWhere(q)
	var n int64
	if err := s.db.QueryRowContext(ctx, `SELECT count(*) FROM logger_instance WHERE `+where, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("rawlog: count: %w", err)
	}
	return n, nil
}

// Read implements Store.
func (s *SQLite) Read(ctx context.Context, q Query) (*Rows, error) {
	if q.IDs != nil && len(q.IDs) == 0 {
		return newRows(nil, nil), nil
	}
	where, args := sqliteWhere(q)
	limit := int64(-1)
	if q.Limit > 0 {
		limit = q.Limit
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, xml FROM logger_instance WHERE `+where+` ORDER BY id LIMIT ? OFFSET ?`,
		append(args, limit, q.Offset)...)
	if err != nil {
		return nil, fmt.Errorf("rawlog: query: %w", err)
	}
	return newRows(rows, func() { _ = rows.Close() }), nil
}

// Append implements Store.
func (s *SQLite) Append(ctx context.Context, xformID int64, rec Record) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO logger_instance (id, xml, xform_id) VALUES (?, ?, ?)`,
		rec.ID, rec.XML, xformID)
	if err != nil {
		return fmt.Errorf("rawlog: append: %w", err)
	}
	return nil
}

// SoftDelete implements Store.
func (s *SQLite) SoftDelete(ctx context.Context, xformID int64, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	args := []any{xformID}
	for _, id := range ids {
		args = append(args, id)
	}
	_, err := s.db.ExecContext(ctx,
		`UPDATE logger_instance SET deleted_at = datetime('now')
			WHERE xform_id = ? AND deleted_at IS NULL AND id IN (`+placeholders(len(ids))+`)`,
		args...)
	if err != nil {
		return fmt.Errorf("rawlog: soft delete: %w", err)
	}
	return nil
}

// Ping implements Store.
func (s *SQLite) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

// Close implements Store.
func (s *SQLite) Close() { _ = s.db.Close() }

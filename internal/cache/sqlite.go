package cache

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS perfume_notes (
    id INTEGER PRIMARY KEY,
    perfume_name TEXT NOT NULL UNIQUE,
    notes_json TEXT,
    updated_at INTEGER NOT NULL
);
`

// SQLiteStore persists records in the perfume_notes table.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite opens the database at dsn and creates the schema. Use ":memory:"
// for a private in-memory database.
func OpenSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %q: %w", dsn, err)
	}
	// a single connection keeps ":memory:" databases shared and serializes writers
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create perfume_notes schema: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Load(ctx context.Context, key string) ([]byte, error) {
	var value sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT notes_json FROM perfume_notes WHERE perfume_name = ?`, key,
	).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("select notes for %q: %w", key, err)
	}

	if !value.Valid {
		return []byte("{}"), nil
	}
	return []byte(value.String), nil
}

func (s *SQLiteStore) Save(ctx context.Context, key string, value []byte) error {
	_, err := s.db.ExecContext(ctx, `
INSERT INTO perfume_notes (perfume_name, notes_json, updated_at) VALUES (?, ?, ?)
ON CONFLICT(perfume_name) DO UPDATE SET notes_json = excluded.notes_json, updated_at = excluded.updated_at`,
		key, string(value), time.Now().UTC().Unix(),
	)
	if err != nil {
		return fmt.Errorf("upsert notes for %q: %w", key, err)
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

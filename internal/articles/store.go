package articles

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
	"go.uber.org/zap"
)

const schema = `
CREATE TABLE IF NOT EXISTS articles (
    id INTEGER PRIMARY KEY,
    title TEXT NOT NULL,
    content TEXT,
    source_url TEXT NOT NULL UNIQUE
);
`

// Store keeps articles in sqlite, unique by source URL.
type Store struct {
	db *sql.DB
}

func OpenStore(dsn string) (*Store, error) {
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %q: %w", dsn, err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create articles schema: %w", err)
	}

	return &Store{db: db}, nil
}

// SaveNew inserts articles whose URL is not stored yet and returns how many were added.
func (s *Store) SaveNew(ctx context.Context, items []Article) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	added := 0
	for _, a := range items {
		if a.URL == "" {
			continue
		}
		title := a.Title
		if title == "" {
			title = a.URL
		}

		res, err := tx.ExecContext(ctx,
			`INSERT INTO articles (title, content, source_url) VALUES (?, ?, ?) ON CONFLICT(source_url) DO NOTHING`,
			title, a.Snippet, a.URL,
		)
		if err != nil {
			return 0, fmt.Errorf("insert article %q: %w", a.URL, err)
		}
		if n, err := res.RowsAffected(); err == nil {
			added += int(n)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}
	return added, nil
}

// List returns stored articles, oldest first.
func (s *Store) List(ctx context.Context) ([]Article, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT title, COALESCE(content, ''), source_url FROM articles ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("select articles: %w", err)
	}
	defer rows.Close()

	var out []Article
	for rows.Next() {
		var a Article
		if err := rows.Scan(&a.Title, &a.Snippet, &a.URL); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Finder searches for articles and records new ones.
type Finder struct {
	searcher Searcher
	store    *Store
	results  int
	logger   *zap.Logger
}

func NewFinder(searcher Searcher, store *Store, results int, logger *zap.Logger) *Finder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Finder{searcher: searcher, store: store, results: results, logger: logger}
}

// Find runs the search and persists unseen results. Persistence errors are
// logged and do not fail the search.
func (f *Finder) Find(ctx context.Context, query string) ([]Article, error) {
	found, err := f.searcher.Search(ctx, query, f.results)
	if err != nil {
		return nil, err
	}

	if f.store != nil && len(found) > 0 {
		added, err := f.store.SaveNew(ctx, found)
		if err != nil {
			f.logger.Warn("storing articles", zap.Error(err))
		} else {
			f.logger.Debug("stored articles", zap.Int("found", len(found)), zap.Int("added", added))
		}
	}

	return found, nil
}

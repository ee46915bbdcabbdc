package catalog

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"time"

	"animeindex/internal/config"
	"animeindex/internal/sqlstore"
)

//go:embed schema.sql
var schemaSQL string

const schemaVersion = 1

// Store manages canonical works backed by SQLite.
type Store struct {
	db   *sql.DB
	path string
	now  func() time.Time
}

// Open initializes or connects to the catalog database.
func Open(cfg *config.Config) (*Store, error) {
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("ensure directories: %w", err)
	}
	return OpenPath(cfg.CatalogDatabasePath())
}

// OpenPath opens the catalog database at an explicit path.
func OpenPath(path string) (*Store, error) {
	db, err := sqlstore.Open(path)
	if err != nil {
		return nil, err
	}
	store := &Store{db: db, path: path, now: time.Now}
	if err := sqlstore.InitSchema(context.Background(), db, schemaSQL, schemaVersion,
		"the catalog cannot be rebuilt automatically; migrate it by hand"); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.path
}

// SetClock replaces the time source.
func (s *Store) SetClock(now func() time.Time) {
	if now == nil {
		now = time.Now
	}
	s.now = now
}

func (s *Store) stamp() string {
	return sqlstore.FormatTime(s.now())
}

var expectedColumns = []string{"id", "title", "created_at", "updated_at"}

// CheckHealth returns diagnostic information about the catalog database.
func (s *Store) CheckHealth(ctx context.Context) (sqlstore.Health, error) {
	return sqlstore.CheckHealth(ctx, s.db, s.path, "works", expectedColumns)
}

// Counts summarizes catalog size for status output.
type Counts struct {
	Works      int
	Links      map[string]int
	Candidates int
}

// Count returns work, per-source link and pending candidate totals.
func (s *Store) Count(ctx context.Context) (Counts, error) {
	ctx = sqlstore.EnsureContext(ctx)
	counts := Counts{Links: make(map[string]int)}
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(1) FROM works").Scan(&counts.Works); err != nil {
		return counts, fmt.Errorf("count works: %w", err)
	}
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(1) FROM resolution_candidates").Scan(&counts.Candidates); err != nil {
		return counts, fmt.Errorf("count candidates: %w", err)
	}
	rows, err := s.db.QueryContext(ctx, "SELECT source, COUNT(1) FROM external_links GROUP BY source")
	if err != nil {
		return counts, fmt.Errorf("count links: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var source string
		var n int
		if err := rows.Scan(&source, &n); err != nil {
			return counts, err
		}
		counts.Links[source] = n
	}
	return counts, rows.Err()
}

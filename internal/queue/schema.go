package queue

import (
	"context"
	_ "embed"

	"animeindex/internal/sqlstore"
)

//go:embed schema.sql
var schemaSQL string

// schemaVersion is the current schema version. Bump this when the schema changes.
// Users will need to clear their queue database after schema changes.
const schemaVersion = 1

// ErrSchemaMismatch indicates the database schema version doesn't match the expected version.
var ErrSchemaMismatch = sqlstore.ErrSchemaMismatch

func (s *Store) initSchema(ctx context.Context) error {
	return sqlstore.InitSchema(ctx, s.db, schemaSQL, schemaVersion,
		"delete queue.db; pending work is rebuilt by the next 'animeindex scan'")
}

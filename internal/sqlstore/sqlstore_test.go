package sqlstore_test

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"animeindex/internal/sqlstore"
)

const testSchema = `
CREATE TABLE schema_version (version INTEGER NOT NULL);
CREATE TABLE things (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    name TEXT NOT NULL UNIQUE,
    seen_at TEXT
);
`

func openTestDB(t *testing.T, path string) *sql.DB {
	t.Helper()
	db, err := sqlstore.Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestInitSchemaCreatesAndVerifiesVersion(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "test.db")
	db := openTestDB(t, path)
	ctx := context.Background()

	if err := sqlstore.InitSchema(ctx, db, testSchema, 1, "delete the file"); err != nil {
		t.Fatalf("InitSchema: %v", err)
	}
	if err := sqlstore.InitSchema(ctx, db, testSchema, 1, "delete the file"); err != nil {
		t.Fatalf("second InitSchema should be a no-op: %v", err)
	}
	err := sqlstore.InitSchema(ctx, db, testSchema, 2, "delete the file")
	if !errors.Is(err, sqlstore.ErrSchemaMismatch) {
		t.Fatalf("expected schema mismatch, got %v", err)
	}
}

func TestIsUniqueViolation(t *testing.T) {
	db := openTestDB(t, filepath.Join(t.TempDir(), "test.db"))
	ctx := context.Background()
	if err := sqlstore.InitSchema(ctx, db, testSchema, 1, ""); err != nil {
		t.Fatalf("InitSchema: %v", err)
	}
	if _, err := sqlstore.Exec(ctx, db, "INSERT INTO things (name) VALUES (?)", "a"); err != nil {
		t.Fatalf("insert: %v", err)
	}
	_, err := sqlstore.Exec(ctx, db, "INSERT INTO things (name) VALUES (?)", "a")
	if err == nil {
		t.Fatal("expected constraint error")
	}
	if !sqlstore.IsUniqueViolation(err) {
		t.Fatalf("expected unique violation, got %v", err)
	}
	if sqlstore.IsBusy(err) {
		t.Fatal("constraint error should not be busy")
	}
	if sqlstore.IsUniqueViolation(errors.New("boom")) {
		t.Fatal("plain error is not a unique violation")
	}
}

func TestRetryOnBusyRetriesOnlyBusyErrors(t *testing.T) {
	calls := 0
	err := sqlstore.RetryOnBusy(context.Background(), func() error {
		calls++
		if calls < 3 {
			return errors.New("database is locked (5) (SQLITE_BUSY)")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("expected success after retries, got %v", err)
	}
	if calls != 3 {
		t.Fatalf("expected 3 calls, got %d", calls)
	}

	calls = 0
	fatal := errors.New("no such table")
	if err := sqlstore.RetryOnBusy(context.Background(), func() error {
		calls++
		return fatal
	}); !errors.Is(err, fatal) || calls != 1 {
		t.Fatalf("expected single call returning fatal error, got calls=%d err=%v", calls, err)
	}
}

func TestTimeRoundTripPreservesOrder(t *testing.T) {
	early := time.Date(2026, 1, 2, 3, 4, 5, 100, time.UTC)
	late := early.Add(900 * time.Millisecond)
	a, b := sqlstore.FormatTime(early), sqlstore.FormatTime(late)
	if len(a) != len(b) || a >= b {
		t.Fatalf("expected fixed width ordered strings, got %q %q", a, b)
	}
	parsed := sqlstore.ParseTime(sql.NullString{String: a, Valid: true})
	if !parsed.Equal(early) {
		t.Fatalf("round trip mismatch: %v vs %v", parsed, early)
	}
	if !sqlstore.ParseTime(sql.NullString{}).IsZero() {
		t.Fatal("expected zero time for NULL")
	}
	if sqlstore.NullTime(time.Time{}) != nil {
		t.Fatal("expected nil for zero time")
	}
}

func TestCheckHealth(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")
	db := openTestDB(t, path)
	ctx := context.Background()
	if err := sqlstore.InitSchema(ctx, db, testSchema, 3, ""); err != nil {
		t.Fatalf("InitSchema: %v", err)
	}
	health, err := sqlstore.CheckHealth(ctx, db, path, "things", []string{"id", "name", "color"})
	if err != nil {
		t.Fatalf("CheckHealth: %v", err)
	}
	if !health.DatabaseExists || !health.DatabaseReadable || !health.TableExists || !health.IntegrityCheck {
		t.Fatalf("unexpected health: %+v", health)
	}
	if health.SchemaVersion != 3 {
		t.Fatalf("expected schema version 3, got %d", health.SchemaVersion)
	}
	if len(health.MissingColumns) != 1 || health.MissingColumns[0] != "color" {
		t.Fatalf("expected color missing, got %v", health.MissingColumns)
	}
}

package queue

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"animeindex/internal/config"
	"animeindex/internal/sqlstore"
)

// Policy holds the task-level retry settings.
type Policy struct {
	MaxAttempts int
	RetryBase   time.Duration
	RetryMax    time.Duration
}

// PolicyFromConfig derives the queue policy from configuration.
func PolicyFromConfig(cfg *config.Config) Policy {
	return Policy{
		MaxAttempts: cfg.Queue.MaxAttempts,
		RetryBase:   time.Duration(cfg.Queue.RetryBaseSeconds) * time.Second,
		RetryMax:    time.Duration(cfg.Queue.RetryMaxSeconds) * time.Second,
	}
}

// Backoff returns the delay before a task that has failed attempts times may
// be claimed again: base doubled per prior failure, capped at RetryMax.
func (p Policy) Backoff(attempts int) time.Duration {
	if attempts < 1 || p.RetryBase <= 0 {
		return 0
	}
	delay := p.RetryBase
	for i := 1; i < attempts; i++ {
		delay *= 2
		if p.RetryMax > 0 && delay >= p.RetryMax {
			return p.RetryMax
		}
	}
	if p.RetryMax > 0 && delay > p.RetryMax {
		return p.RetryMax
	}
	return delay
}

// Store manages queue persistence backed by SQLite.
type Store struct {
	db     *sql.DB
	path   string
	policy Policy
	now    func() time.Time
}

// Open initializes or connects to the queue database.
func Open(cfg *config.Config) (*Store, error) {
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("ensure directories: %w", err)
	}
	return OpenPath(cfg.QueueDatabasePath(), PolicyFromConfig(cfg))
}

// OpenPath opens the queue database at an explicit path.
func OpenPath(path string, policy Policy) (*Store, error) {
	if policy.MaxAttempts < 1 {
		policy.MaxAttempts = 1
	}
	db, err := sqlstore.Open(path)
	if err != nil {
		return nil, err
	}
	store := &Store{db: db, path: path, policy: policy, now: time.Now}
	if err := store.initSchema(context.Background()); err != nil {
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

// Policy returns the retry policy in effect.
func (s *Store) Policy() Policy {
	return s.policy
}

// SetClock replaces the time source. Tests use it to move freshness windows.
func (s *Store) SetClock(now func() time.Time) {
	if now == nil {
		now = time.Now
	}
	s.now = now
}

func (s *Store) clock() time.Time {
	return s.now().UTC()
}

func (s *Store) execWithRetry(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return sqlstore.Exec(ctx, s.db, query, args...)
}

const taskColumns = "id, subject_id, kind, payload_json, priority, status, attempts, last_error, claimed_by, claimed_at, heartbeat_at, available_at, last_checked_at, last_outcome, created_at, updated_at"

func scanTask(scanner interface{ Scan(dest ...any) error }) (*Task, error) {
	var (
		task        Task
		status      string
		lastError   sql.NullString
		claimedBy   sql.NullString
		claimedAt   sql.NullString
		heartbeatAt sql.NullString
		availableAt sql.NullString
		lastChecked sql.NullString
		lastOutcome sql.NullString
		createdAt   sql.NullString
		updatedAt   sql.NullString
	)
	if err := scanner.Scan(
		&task.ID,
		&task.SubjectID,
		&task.Kind,
		&task.PayloadJSON,
		&task.Priority,
		&status,
		&task.Attempts,
		&lastError,
		&claimedBy,
		&claimedAt,
		&heartbeatAt,
		&availableAt,
		&lastChecked,
		&lastOutcome,
		&createdAt,
		&updatedAt,
	); err != nil {
		return nil, err
	}
	task.Status = Status(status)
	task.LastError = lastError.String
	task.ClaimedBy = claimedBy.String
	task.ClaimedAt = sqlstore.ParseTime(claimedAt)
	task.HeartbeatAt = sqlstore.ParseTime(heartbeatAt)
	task.AvailableAt = sqlstore.ParseTime(availableAt)
	task.LastCheckedAt = sqlstore.ParseTime(lastChecked)
	task.LastOutcome = lastOutcome.String
	task.CreatedAt = sqlstore.ParseTime(createdAt)
	task.UpdatedAt = sqlstore.ParseTime(updatedAt)
	return &task, nil
}

func nullString(value string) any {
	if value == "" {
		return nil
	}
	return value
}

package queue

import (
	"context"
	"fmt"
	"time"

	"animeindex/internal/sqlstore"
)

// Stats returns a count of tasks grouped by status.
func (s *Store) Stats(ctx context.Context) (map[Status]int, error) {
	ctx = sqlstore.EnsureContext(ctx)
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(1) FROM tasks GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("queue stats: %w", err)
	}
	defer rows.Close()

	stats := make(map[Status]int)
	for rows.Next() {
		var status Status
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		stats[status] = count
	}
	return stats, rows.Err()
}

// KindStats is a count of tasks for one (kind, status) pair.
type KindStats struct {
	Kind   string
	Status Status
	Count  int
}

// StatsByKind returns task counts grouped by kind and status.
func (s *Store) StatsByKind(ctx context.Context) ([]KindStats, error) {
	ctx = sqlstore.EnsureContext(ctx)
	rows, err := s.db.QueryContext(ctx,
		`SELECT kind, status, COUNT(1) FROM tasks GROUP BY kind, status ORDER BY kind, status`)
	if err != nil {
		return nil, fmt.Errorf("queue stats by kind: %w", err)
	}
	defer rows.Close()

	var out []KindStats
	for rows.Next() {
		var entry KindStats
		if err := rows.Scan(&entry.Kind, &entry.Status, &entry.Count); err != nil {
			return nil, err
		}
		out = append(out, entry)
	}
	return out, rows.Err()
}

// RetryFailed returns failed tasks to pending with a fresh attempt budget.
// With no ids every failed task is retried.
func (s *Store) RetryFailed(ctx context.Context, ids ...int64) (int64, error) {
	stamp := sqlstore.FormatTime(s.clock())
	query := `UPDATE tasks SET status = ?, attempts = 0, available_at = ?, updated_at = ? WHERE status = ?`
	args := []any{StatusPending, stamp, stamp, StatusFailed}
	if len(ids) > 0 {
		query += " AND id IN (" + placeholders(len(ids)) + ")"
		for _, id := range ids {
			args = append(args, id)
		}
	}
	res, err := s.execWithRetry(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("retry failed tasks: %w", err)
	}
	return res.RowsAffected()
}

// Prune deletes done and failed tasks last updated before cutoff. Deleting a
// done row forgets when its subject was checked, so cutoff should be older
// than every freshness window.
func (s *Store) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.execWithRetry(ctx,
		`DELETE FROM tasks WHERE status IN (?, ?) AND updated_at < ?`,
		StatusDone, StatusFailed, sqlstore.FormatTime(cutoff),
	)
	if err != nil {
		return 0, fmt.Errorf("prune tasks: %w", err)
	}
	return res.RowsAffected()
}

// HealthSummary describes aggregated task counts per lifecycle state.
type HealthSummary struct {
	Total   int
	Pending int
	Claimed int
	Done    int
	Failed  int
}

// Health aggregates queue state for diagnostic output.
func (s *Store) Health(ctx context.Context) (HealthSummary, error) {
	stats, err := s.Stats(ctx)
	if err != nil {
		return HealthSummary{}, err
	}
	health := HealthSummary{}
	for status, count := range stats {
		health.Total += count
		switch status {
		case StatusPending:
			health.Pending += count
		case StatusClaimed:
			health.Claimed += count
		case StatusDone:
			health.Done += count
		case StatusFailed:
			health.Failed += count
		}
	}
	return health, nil
}

var expectedColumns = []string{
	"id", "subject_id", "kind", "payload_json", "priority", "status", "attempts",
	"last_error", "claimed_by", "claimed_at", "heartbeat_at", "available_at",
	"last_checked_at", "last_outcome", "created_at", "updated_at",
}

// CheckHealth returns diagnostic information about the queue database.
func (s *Store) CheckHealth(ctx context.Context) (sqlstore.Health, error) {
	return sqlstore.CheckHealth(ctx, s.db, s.path, "tasks", expectedColumns)
}

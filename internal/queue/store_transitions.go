package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"animeindex/internal/sqlstore"
)

// Claim atomically moves the highest-priority eligible pending task to
// claimed and returns it. Kinds restricts the candidates when non-empty. A nil
// task with a nil error means nothing is eligible.
func (s *Store) Claim(ctx context.Context, workerID string, kinds ...string) (*Task, error) {
	ctx = sqlstore.EnsureContext(ctx)
	workerID = strings.TrimSpace(workerID)
	if workerID == "" {
		return nil, errors.New("claim: worker id is required")
	}

	stamp := sqlstore.FormatTime(s.clock())
	args := []any{StatusClaimed, workerID, stamp, stamp, stamp, StatusPending, stamp}
	filter := ""
	if len(kinds) > 0 {
		filter = " AND kind IN (" + placeholders(len(kinds)) + ")"
		for _, kind := range kinds {
			args = append(args, kind)
		}
	}
	args = append(args, StatusPending)

	// The subquery and the outer status guard run inside one statement, so a
	// row can move to claimed for exactly one caller.
	query := `UPDATE tasks
        SET status = ?, claimed_by = ?, claimed_at = ?, heartbeat_at = ?, updated_at = ?
        WHERE id = (
            SELECT id FROM tasks
            WHERE status = ? AND available_at <= ?` + filter + `
            ORDER BY priority DESC, created_at ASC, id ASC
            LIMIT 1
        ) AND status = ?
        RETURNING ` + taskColumns

	var task *Task
	err := sqlstore.RetryOnBusy(ctx, func() error {
		claimed, err := scanTask(s.db.QueryRowContext(ctx, query, args...))
		if err != nil {
			return err
		}
		task = claimed
		return nil
	})
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("claim task: %w", err)
	}
	return task, nil
}

// claimGuard matches a row only while the given claim is still held.
const claimGuard = "id = ? AND status = 'claimed' AND claimed_by = ? AND claimed_at = ?"

func claimArgs(task *Task) []any {
	return []any{task.ID, task.ClaimedBy, sqlstore.FormatTime(task.ClaimedAt)}
}

func checkClaimed(res sql.Result, task *Task) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("task %d: %w", task.ID, ErrLostClaim)
	}
	return nil
}

// Heartbeat refreshes the claim so ReclaimStale leaves the task alone.
func (s *Store) Heartbeat(ctx context.Context, task *Task) error {
	if task == nil {
		return errors.New("heartbeat: nil task")
	}
	stamp := sqlstore.FormatTime(s.clock())
	res, err := s.execWithRetry(ctx,
		"UPDATE tasks SET heartbeat_at = ?, updated_at = ? WHERE "+claimGuard,
		append([]any{stamp, stamp}, claimArgs(task)...)...,
	)
	if err != nil {
		return fmt.Errorf("update heartbeat: %w", err)
	}
	return checkClaimed(res, task)
}

// Complete marks a claimed task done and stamps when and how it was checked.
func (s *Store) Complete(ctx context.Context, task *Task, outcome string) error {
	if task == nil {
		return errors.New("complete: nil task")
	}
	now := s.clock()
	stamp := sqlstore.FormatTime(now)
	res, err := s.execWithRetry(ctx,
		`UPDATE tasks
         SET status = ?, last_error = NULL, last_checked_at = ?, last_outcome = ?, heartbeat_at = NULL, updated_at = ?
         WHERE `+claimGuard,
		append([]any{StatusDone, stamp, nullString(outcome), stamp}, claimArgs(task)...)...,
	)
	if err != nil {
		return fmt.Errorf("complete task: %w", err)
	}
	if err := checkClaimed(res, task); err != nil {
		return err
	}
	task.Status = StatusDone
	task.LastCheckedAt = now
	task.LastOutcome = outcome
	task.LastError = ""
	return nil
}

// Fail records a failed attempt. The task returns to pending behind an
// exponential backoff, or becomes failed once the attempt ceiling is reached.
// The resulting status is returned.
func (s *Store) Fail(ctx context.Context, task *Task, message string) (Status, error) {
	return s.fail(ctx, task, message, false)
}

// FailPermanently marks a claimed task failed without further retries.
func (s *Store) FailPermanently(ctx context.Context, task *Task, message string) error {
	_, err := s.fail(ctx, task, message, true)
	return err
}

func (s *Store) fail(ctx context.Context, task *Task, message string, permanent bool) (Status, error) {
	if task == nil {
		return "", errors.New("fail: nil task")
	}
	ctx = sqlstore.EnsureContext(ctx)
	message = strings.TrimSpace(message)
	if message == "" {
		message = "task failed"
	}

	var (
		next      Status
		attempts  int
		available time.Time
	)
	err := sqlstore.InTx(ctx, s.db, func(tx *sql.Tx) error {
		var current int
		err := tx.QueryRowContext(ctx, "SELECT attempts FROM tasks WHERE "+claimGuard, claimArgs(task)...).Scan(&current)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("task %d: %w", task.ID, ErrLostClaim)
		}
		if err != nil {
			return err
		}

		now := s.clock()
		attempts = current + 1
		next = StatusPending
		if permanent || attempts >= s.policy.MaxAttempts {
			next = StatusFailed
		}
		available = now.Add(s.policy.Backoff(attempts))
		_, err = tx.ExecContext(ctx,
			`UPDATE tasks
             SET status = ?, attempts = ?, last_error = ?, available_at = ?, heartbeat_at = NULL, updated_at = ?
             WHERE id = ?`,
			next, attempts, message, sqlstore.FormatTime(available), sqlstore.FormatTime(now), task.ID,
		)
		return err
	})
	if err != nil {
		if errors.Is(err, ErrLostClaim) {
			return "", err
		}
		return "", fmt.Errorf("fail task: %w", err)
	}
	task.Status = next
	task.Attempts = attempts
	task.LastError = message
	task.AvailableAt = available
	return next, nil
}

// ReclaimStale returns claims whose last heartbeat (or claim time, when no
// heartbeat was recorded) is older than cutoff to pending. The abandoned claim
// counts as an attempt, so a task that keeps crashing workers ends up failed.
func (s *Store) ReclaimStale(ctx context.Context, cutoff time.Time) (int64, error) {
	stamp := sqlstore.FormatTime(s.clock())
	res, err := s.execWithRetry(ctx,
		`UPDATE tasks
         SET status = CASE WHEN attempts + 1 >= ? THEN ? ELSE ? END,
             attempts = attempts + 1,
             last_error = 'claim abandoned by ' || COALESCE(claimed_by, 'unknown worker'),
             available_at = ?, heartbeat_at = NULL, updated_at = ?
         WHERE status = ? AND COALESCE(heartbeat_at, claimed_at) < ?`,
		s.policy.MaxAttempts, StatusFailed, StatusPending,
		stamp, stamp,
		StatusClaimed, sqlstore.FormatTime(cutoff),
	)
	if err != nil {
		return 0, fmt.Errorf("reclaim stale claims: %w", err)
	}
	return res.RowsAffected()
}

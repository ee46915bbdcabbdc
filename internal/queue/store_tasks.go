package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"slices"
	"strings"

	"animeindex/internal/config"
	"animeindex/internal/sqlstore"
)

// Enqueue inserts a pending task unless an equivalent one is already pending
// or claimed. Duplicates are reported through the result, never as errors.
func (s *Store) Enqueue(ctx context.Context, subjectID int64, kind string, payload any, priority int) (EnqueueResult, error) {
	return s.EnqueueWithPolicy(ctx, EnqueueRequest{
		SubjectID: subjectID,
		Kind:      kind,
		Payload:   payload,
		Priority:  priority,
	})
}

// EnqueueWithPolicy applies manual protection and freshness before writing.
//
// Existing rows for the same key are handled by state: pending and claimed
// rows are left alone, failed rows are held until an operator retries them,
// and done rows are re-armed unless they were checked within FreshFor. A
// check-type task whose last outcome carried no usable evidence is re-armed
// regardless of age.
func (s *Store) EnqueueWithPolicy(ctx context.Context, req EnqueueRequest) (EnqueueResult, error) {
	ctx = sqlstore.EnsureContext(ctx)
	kind := strings.TrimSpace(req.Kind)
	if !slices.Contains(config.KnownTaskKinds(), kind) {
		return "", fmt.Errorf("%w: %q", ErrUnknownKind, req.Kind)
	}
	if req.SubjectID <= 0 {
		return "", fmt.Errorf("enqueue %s: subject id must be positive", kind)
	}
	payload, err := CanonicalPayload(req.Payload)
	if err != nil {
		return "", err
	}
	if req.Protected {
		return EnqueueProtected, nil
	}

	var result EnqueueResult
	err = sqlstore.InTx(ctx, s.db, func(tx *sql.Tx) error {
		now := s.clock()
		stamp := sqlstore.FormatTime(now)

		existing, err := scanTask(tx.QueryRowContext(ctx,
			"SELECT "+taskColumns+" FROM tasks WHERE subject_id = ? AND kind = ? AND payload_json = ?",
			req.SubjectID, kind, payload,
		))
		switch {
		case errors.Is(err, sql.ErrNoRows):
			_, err := tx.ExecContext(ctx,
				`INSERT INTO tasks (subject_id, kind, payload_json, priority, status, attempts, available_at, created_at, updated_at)
                 VALUES (?, ?, ?, ?, ?, 0, ?, ?, ?)`,
				req.SubjectID, kind, payload, req.Priority, StatusPending, stamp, stamp, stamp,
			)
			if err != nil {
				if sqlstore.IsUniqueViolation(err) {
					result = EnqueueDuplicate
					return nil
				}
				return fmt.Errorf("insert task: %w", err)
			}
			result = EnqueueInserted
			return nil
		case err != nil:
			return fmt.Errorf("lookup task: %w", err)
		}

		switch existing.Status {
		case StatusPending, StatusClaimed:
			result = EnqueueDuplicate
			return nil
		case StatusFailed:
			result = EnqueueHeld
			return nil
		}

		checked := existing.LastCheckedAt
		if checked.IsZero() {
			checked = existing.UpdatedAt
		}
		recent := req.FreshFor > 0 && now.Sub(checked) < req.FreshFor
		if recent && !(IsCheckKind(kind) && IncompleteEvidence(existing.LastOutcome)) {
			result = EnqueueFresh
			return nil
		}

		if _, err := tx.ExecContext(ctx,
			`UPDATE tasks
             SET status = ?, attempts = 0, last_error = NULL, priority = ?, available_at = ?, heartbeat_at = NULL, updated_at = ?
             WHERE id = ?`,
			StatusPending, req.Priority, stamp, stamp, existing.ID,
		); err != nil {
			return fmt.Errorf("re-arm task: %w", err)
		}
		result = EnqueueRearmed
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("enqueue %s for subject %d: %w", kind, req.SubjectID, err)
	}
	return result, nil
}

// Get fetches a task by id. It returns nil when the task does not exist.
func (s *Store) Get(ctx context.Context, id int64) (*Task, error) {
	ctx = sqlstore.EnsureContext(ctx)
	task, err := scanTask(s.db.QueryRowContext(ctx, "SELECT "+taskColumns+" FROM tasks WHERE id = ?", id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get task %d: %w", id, err)
	}
	return task, nil
}

// List returns tasks matching filter, newest first.
func (s *Store) List(ctx context.Context, filter ListFilter) ([]*Task, error) {
	ctx = sqlstore.EnsureContext(ctx)
	var (
		clauses []string
		args    []any
	)
	if len(filter.Statuses) > 0 {
		clauses = append(clauses, "status IN ("+placeholders(len(filter.Statuses))+")")
		for _, status := range filter.Statuses {
			args = append(args, string(status))
		}
	}
	if len(filter.Kinds) > 0 {
		clauses = append(clauses, "kind IN ("+placeholders(len(filter.Kinds))+")")
		for _, kind := range filter.Kinds {
			args = append(args, kind)
		}
	}
	if filter.SubjectID > 0 {
		clauses = append(clauses, "subject_id = ?")
		args = append(args, filter.SubjectID)
	}
	query := "SELECT " + taskColumns + " FROM tasks"
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY updated_at DESC, id DESC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()

	var tasks []*Task
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		tasks = append(tasks, task)
	}
	return tasks, rows.Err()
}

func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

package catalog

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"animeindex/internal/services"
	"animeindex/internal/sqlstore"
)

// Patch writes attribute values for a work.
//
// Without Force only empty attributes are filled. Automatic writes never
// replace a manual value, even with Force; manual writes replace anything.
// A nil value is ignored. Names are processed in sorted order so results are
// stable.
func (s *Store) Patch(ctx context.Context, workID int64, values map[string]any, opts PatchOptions) (PatchResult, error) {
	ctx = sqlstore.EnsureContext(ctx)
	if opts.Provenance == "" {
		opts.Provenance = ProvenanceAuto
	}
	encoded := make(map[string]string, len(values))
	names := make([]string, 0, len(values))
	for name, value := range values {
		name = strings.TrimSpace(name)
		if name == "" || value == nil {
			continue
		}
		raw, err := encodeValue(value)
		if err != nil {
			return PatchResult{}, services.Wrap(services.ErrValidation, "catalog", "patch", fmt.Sprintf("attribute %q", name), err)
		}
		encoded[name] = raw
		names = append(names, name)
	}
	sort.Strings(names)

	var result PatchResult
	err := sqlstore.InTx(ctx, s.db, func(tx *sql.Tx) error {
		result = PatchResult{}
		var exists int
		if err := tx.QueryRowContext(ctx, "SELECT COUNT(1) FROM works WHERE id = ?", workID).Scan(&exists); err != nil {
			return err
		}
		if exists == 0 {
			return services.Wrap(services.ErrNotFound, "catalog", "patch", fmt.Sprintf("work %d does not exist", workID), nil)
		}

		stamp := s.stamp()
		for _, name := range names {
			current, found, err := attributeTx(ctx, tx, workID, name)
			if err != nil {
				return err
			}
			if found && opts.Provenance != ProvenanceManual {
				if current.IsManual() {
					result.SkippedManual = append(result.SkippedManual, name)
					continue
				}
				if !opts.Force && !current.IsEmpty() {
					result.SkippedFilled = append(result.SkippedFilled, name)
					continue
				}
			}
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO attributes (work_id, name, value_json, provenance, source, updated_at, checked_at)
                 VALUES (?, ?, ?, ?, ?, ?, ?)
                 ON CONFLICT (work_id, name) DO UPDATE SET
                     value_json = excluded.value_json,
                     provenance = excluded.provenance,
                     source = excluded.source,
                     updated_at = excluded.updated_at,
                     checked_at = excluded.checked_at`,
				workID, name, encoded[name], opts.Provenance, nullable(opts.Source), stamp, stamp,
			); err != nil {
				return err
			}
			result.Written = append(result.Written, name)
		}
		if len(result.Written) > 0 {
			if _, err := tx.ExecContext(ctx, "UPDATE works SET updated_at = ? WHERE id = ?", stamp, workID); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return PatchResult{}, fmt.Errorf("patch work %d: %w", workID, err)
	}
	return result, nil
}

// Protected reports whether every named attribute holds a manual value, which
// leaves nothing for an automatic task to write.
func (s *Store) Protected(ctx context.Context, workID int64, names ...string) (bool, error) {
	if len(names) == 0 {
		return false, nil
	}
	ctx = sqlstore.EnsureContext(ctx)
	args := []any{workID, ProvenanceManual}
	for _, name := range names {
		args = append(args, name)
	}
	var manual int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(DISTINCT name) FROM attributes WHERE work_id = ? AND provenance = ? AND name IN ("+
			strings.TrimSuffix(strings.Repeat("?, ", len(names)), ", ")+")",
		args...,
	).Scan(&manual)
	if err != nil {
		return false, fmt.Errorf("check manual attributes: %w", err)
	}
	return manual == len(uniqueNames(names)), nil
}

// MarkChecked stamps checked_at on existing attributes without changing values.
func (s *Store) MarkChecked(ctx context.Context, workID int64, names ...string) error {
	if len(names) == 0 {
		return nil
	}
	args := []any{s.stamp(), workID}
	for _, name := range names {
		args = append(args, name)
	}
	_, err := sqlstore.Exec(ctx, s.db,
		"UPDATE attributes SET checked_at = ? WHERE work_id = ? AND name IN ("+
			strings.TrimSuffix(strings.Repeat("?, ", len(names)), ", ")+")",
		args...,
	)
	if err != nil {
		return fmt.Errorf("mark attributes checked: %w", err)
	}
	return nil
}

func attributeTx(ctx context.Context, tx *sql.Tx, workID int64, name string) (Attribute, bool, error) {
	attr, err := scanAttribute(tx.QueryRowContext(ctx,
		"SELECT name, value_json, provenance, source, updated_at, checked_at FROM attributes WHERE work_id = ? AND name = ?",
		workID, name,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return Attribute{}, false, nil
	}
	if err != nil {
		return Attribute{}, false, err
	}
	return attr, true, nil
}

func encodeValue(value any) (string, error) {
	switch v := value.(type) {
	case json.RawMessage:
		if !json.Valid(v) {
			return "", errors.New("invalid JSON value")
		}
		return string(v), nil
	default:
		raw, err := json.Marshal(value)
		if err != nil {
			return "", err
		}
		return string(raw), nil
	}
}

func nullable(value string) any {
	if strings.TrimSpace(value) == "" {
		return nil
	}
	return value
}

func uniqueNames(names []string) map[string]struct{} {
	set := make(map[string]struct{}, len(names))
	for _, name := range names {
		set[name] = struct{}{}
	}
	return set
}

package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"animeindex/internal/services"
	"animeindex/internal/sqlstore"
)

// Link ties workID to source:externalID.
//
// An external id owned by a different work is never moved; a *ConflictError
// naming the owner is returned instead, whether the owner was found by the
// in-transaction check or by the UNIQUE constraint after a concurrent insert.
// A work that already holds a different id for the source keeps it unless the
// new link is manual, in which case the old link is replaced.
func (s *Store) Link(ctx context.Context, workID int64, source, externalID string, provenance Provenance) (LinkResult, error) {
	ctx = sqlstore.EnsureContext(ctx)
	source = strings.TrimSpace(source)
	externalID = strings.TrimSpace(externalID)
	if source == "" || externalID == "" {
		return "", services.Wrap(services.ErrValidation, "catalog", "link", "source and external id are required", nil)
	}
	if provenance == "" {
		provenance = ProvenanceAuto
	}

	var result LinkResult
	err := sqlstore.InTx(ctx, s.db, func(tx *sql.Tx) error {
		var exists int
		if err := tx.QueryRowContext(ctx, "SELECT COUNT(1) FROM works WHERE id = ?", workID).Scan(&exists); err != nil {
			return err
		}
		if exists == 0 {
			return services.Wrap(services.ErrNotFound, "catalog", "link", fmt.Sprintf("work %d does not exist", workID), nil)
		}

		owner, found, err := linkedWorkTx(ctx, tx, source, externalID)
		if err != nil {
			return err
		}
		if found {
			if owner != workID {
				return &ConflictError{Source: source, ExternalID: externalID, WorkID: workID, ExistingWorkID: owner}
			}
			result = LinkUnchanged
			if provenance == ProvenanceManual {
				_, err := tx.ExecContext(ctx,
					"UPDATE external_links SET provenance = ? WHERE source = ? AND external_id = ?",
					provenance, source, externalID)
				return err
			}
			return nil
		}

		var current string
		err = tx.QueryRowContext(ctx,
			"SELECT external_id FROM external_links WHERE work_id = ? AND source = ?", workID, source,
		).Scan(&current)
		switch {
		case errors.Is(err, sql.ErrNoRows):
			result = LinkCreated
		case err != nil:
			return err
		case provenance != ProvenanceManual:
			return &ConflictError{Source: source, ExternalID: externalID, WorkID: workID, ExistingWorkID: workID, ExistingID: current}
		default:
			if _, err := tx.ExecContext(ctx,
				"DELETE FROM external_links WHERE work_id = ? AND source = ?", workID, source); err != nil {
				return err
			}
			result = LinkReplaced
		}

		stamp := s.stamp()
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO external_links (work_id, source, external_id, provenance, linked_at) VALUES (?, ?, ?, ?, ?)",
			workID, source, externalID, provenance, stamp,
		); err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, "UPDATE works SET updated_at = ? WHERE id = ?", stamp, workID)
		return err
	})
	if err != nil {
		if sqlstore.IsUniqueViolation(err) {
			owner, found, lookupErr := s.LinkedWork(ctx, source, externalID)
			if lookupErr == nil && found && owner != workID {
				return "", &ConflictError{Source: source, ExternalID: externalID, WorkID: workID, ExistingWorkID: owner}
			}
			return "", services.Wrap(services.ErrConflict, "catalog", "link", fmt.Sprintf("%s:%s", source, externalID), err)
		}
		var conflict *ConflictError
		if errors.As(err, &conflict) {
			return "", conflict
		}
		return "", fmt.Errorf("link %s:%s to work %d: %w", source, externalID, workID, err)
	}
	return result, nil
}

// LinkedWork returns the work that owns source:externalID.
func (s *Store) LinkedWork(ctx context.Context, source, externalID string) (int64, bool, error) {
	ctx = sqlstore.EnsureContext(ctx)
	var workID int64
	err := s.db.QueryRowContext(ctx,
		"SELECT work_id FROM external_links WHERE source = ? AND external_id = ?", source, externalID,
	).Scan(&workID)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("lookup link: %w", err)
	}
	return workID, true, nil
}

func linkedWorkTx(ctx context.Context, tx *sql.Tx, source, externalID string) (int64, bool, error) {
	var workID int64
	err := tx.QueryRowContext(ctx,
		"SELECT work_id FROM external_links WHERE source = ? AND external_id = ?", source, externalID,
	).Scan(&workID)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return workID, true, nil
}

// Unlink removes the work's link for source. Automatic callers cannot remove
// a manual link.
func (s *Store) Unlink(ctx context.Context, workID int64, source string, provenance Provenance) (bool, error) {
	query := "DELETE FROM external_links WHERE work_id = ? AND source = ?"
	if provenance != ProvenanceManual {
		query += " AND provenance != 'manual'"
	}
	res, err := sqlstore.Exec(ctx, s.db, query, workID, source)
	if err != nil {
		return false, fmt.Errorf("unlink work %d from %s: %w", workID, source, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

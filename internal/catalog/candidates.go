package catalog

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"animeindex/internal/sqlstore"
)

// SaveCandidates stores resolution candidates for review. A candidate already
// stored for the same (work, source, external id) is refreshed in place.
// Candidates never imply a link.
func (s *Store) SaveCandidates(ctx context.Context, workID int64, source, term, outcome string, candidates []Candidate) error {
	if len(candidates) == 0 {
		return nil
	}
	ctx = sqlstore.EnsureContext(ctx)
	err := sqlstore.InTx(ctx, s.db, func(tx *sql.Tx) error {
		stamp := s.stamp()
		for _, cand := range candidates {
			names, err := json.Marshal(cand.Names)
			if err != nil {
				return err
			}
			if cand.Names == nil {
				names = []byte("[]")
			}
			candTerm := cand.Term
			if candTerm == "" {
				candTerm = term
			}
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO resolution_candidates (work_id, source, external_id, names_json, score, term, outcome, created_at)
                 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
                 ON CONFLICT (work_id, source, external_id) DO UPDATE SET
                     names_json = excluded.names_json,
                     score = excluded.score,
                     term = excluded.term,
                     outcome = excluded.outcome,
                     created_at = excluded.created_at`,
				workID, source, cand.ExternalID, string(names), cand.Score, candTerm, outcome, stamp,
			); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("save candidates for work %d: %w", workID, err)
	}
	return nil
}

// Candidates returns stored candidates for a work, best score first.
func (s *Store) Candidates(ctx context.Context, workID int64) ([]Candidate, error) {
	return s.queryCandidates(ctx,
		"WHERE work_id = ? ORDER BY score DESC, id", workID)
}

// ListCandidates returns stored candidates across works, newest first. An
// empty outcome matches every outcome.
func (s *Store) ListCandidates(ctx context.Context, outcome string, limit int) ([]Candidate, error) {
	if outcome == "" {
		return s.queryCandidates(ctx, "ORDER BY created_at DESC, work_id, score DESC LIMIT ?", pageLimit(limit))
	}
	return s.queryCandidates(ctx,
		"WHERE outcome = ? ORDER BY created_at DESC, work_id, score DESC LIMIT ?", outcome, pageLimit(limit))
}

// ClearCandidates removes stored candidates for a work, typically after a
// manual link settles it.
func (s *Store) ClearCandidates(ctx context.Context, workID int64) (int64, error) {
	res, err := sqlstore.Exec(ctx, s.db, "DELETE FROM resolution_candidates WHERE work_id = ?", workID)
	if err != nil {
		return 0, fmt.Errorf("clear candidates: %w", err)
	}
	return res.RowsAffected()
}

func (s *Store) queryCandidates(ctx context.Context, clause string, args ...any) ([]Candidate, error) {
	ctx = sqlstore.EnsureContext(ctx)
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, work_id, source, external_id, names_json, score, term, outcome, created_at FROM resolution_candidates "+clause,
		args...,
	)
	if err != nil {
		return nil, fmt.Errorf("list candidates: %w", err)
	}
	defer rows.Close()

	var out []Candidate
	for rows.Next() {
		var (
			cand    Candidate
			names   string
			created sql.NullString
		)
		if err := rows.Scan(&cand.ID, &cand.WorkID, &cand.Source, &cand.ExternalID, &names, &cand.Score, &cand.Term, &cand.Outcome, &created); err != nil {
			return nil, err
		}
		_ = json.Unmarshal([]byte(names), &cand.Names)
		cand.CreatedAt = sqlstore.ParseTime(created)
		out = append(out, cand)
	}
	return out, rows.Err()
}

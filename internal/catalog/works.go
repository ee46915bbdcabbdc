package catalog

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"animeindex/internal/services"
	"animeindex/internal/sqlstore"
)

// CreateWork inserts a new canonical work.
func (s *Store) CreateWork(ctx context.Context, title string) (*Work, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return nil, services.Wrap(services.ErrValidation, "catalog", "create work", "title is required", nil)
	}
	stamp := s.stamp()
	res, err := sqlstore.Exec(ctx, s.db,
		"INSERT INTO works (title, created_at, updated_at) VALUES (?, ?, ?)",
		title, stamp, stamp,
	)
	if err != nil {
		return nil, fmt.Errorf("insert work: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("work id: %w", err)
	}
	return s.GetWork(ctx, id)
}

// GetWork loads a work with its links and attributes. It returns nil when the
// work does not exist.
func (s *Store) GetWork(ctx context.Context, id int64) (*Work, error) {
	ctx = sqlstore.EnsureContext(ctx)
	var (
		work    Work
		created sql.NullString
		updated sql.NullString
	)
	err := s.db.QueryRowContext(ctx,
		"SELECT id, title, created_at, updated_at FROM works WHERE id = ?", id,
	).Scan(&work.ID, &work.Title, &created, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get work %d: %w", id, err)
	}
	work.CreatedAt = sqlstore.ParseTime(created)
	work.UpdatedAt = sqlstore.ParseTime(updated)

	if work.Links, err = s.links(ctx, id); err != nil {
		return nil, err
	}
	if work.Attributes, err = s.attributes(ctx, id); err != nil {
		return nil, err
	}
	return &work, nil
}

// MustGetWork is GetWork with a not-found error instead of a nil work.
func (s *Store) MustGetWork(ctx context.Context, id int64) (*Work, error) {
	work, err := s.GetWork(ctx, id)
	if err != nil {
		return nil, err
	}
	if work == nil {
		return nil, services.Wrap(services.ErrNotFound, "catalog", "get work", fmt.Sprintf("work %d does not exist", id), nil)
	}
	return work, nil
}

// ListWorks pages through works in id order, starting after afterID.
func (s *Store) ListWorks(ctx context.Context, afterID int64, limit int) ([]*Work, error) {
	return s.listWorks(ctx, "SELECT id FROM works WHERE id > ? ORDER BY id LIMIT ?", afterID, pageLimit(limit))
}

// ListMissing pages through works that have no value for attribute name.
// Attributes holding an empty value count as missing.
func (s *Store) ListMissing(ctx context.Context, name string, afterID int64, limit int) ([]*Work, error) {
	return s.listWorks(ctx,
		`SELECT w.id FROM works w
         LEFT JOIN attributes a ON a.work_id = w.id AND a.name = ?
         WHERE w.id > ? AND (a.work_id IS NULL OR a.value_json IS NULL OR a.value_json IN ('null', '""', '[]', '{}'))
         ORDER BY w.id LIMIT ?`,
		name, afterID, pageLimit(limit),
	)
}

// ListUnlinked pages through works without a link for source.
func (s *Store) ListUnlinked(ctx context.Context, source string, afterID int64, limit int) ([]*Work, error) {
	return s.listWorks(ctx,
		`SELECT w.id FROM works w
         WHERE w.id > ? AND NOT EXISTS (
             SELECT 1 FROM external_links l WHERE l.work_id = w.id AND l.source = ?
         )
         ORDER BY w.id LIMIT ?`,
		afterID, source, pageLimit(limit),
	)
}

// ListLinked pages through works that hold a link for source.
func (s *Store) ListLinked(ctx context.Context, source string, afterID int64, limit int) ([]*Work, error) {
	return s.listWorks(ctx,
		`SELECT w.id FROM works w
         JOIN external_links l ON l.work_id = w.id AND l.source = ?
         WHERE w.id > ?
         ORDER BY w.id LIMIT ?`,
		source, afterID, pageLimit(limit),
	)
}

func pageLimit(limit int) int {
	if limit <= 0 {
		return 100
	}
	return limit
}

func (s *Store) listWorks(ctx context.Context, query string, args ...any) ([]*Work, error) {
	ctx = sqlstore.EnsureContext(ctx)
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list works: %w", err)
	}
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, err
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	works := make([]*Work, 0, len(ids))
	for _, id := range ids {
		work, err := s.GetWork(ctx, id)
		if err != nil {
			return nil, err
		}
		if work != nil {
			works = append(works, work)
		}
	}
	return works, nil
}

func (s *Store) links(ctx context.Context, workID int64) ([]Link, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT work_id, source, external_id, provenance, linked_at FROM external_links WHERE work_id = ? ORDER BY source",
		workID,
	)
	if err != nil {
		return nil, fmt.Errorf("load links: %w", err)
	}
	defer rows.Close()

	var links []Link
	for rows.Next() {
		var (
			link       Link
			provenance string
			linkedAt   sql.NullString
		)
		if err := rows.Scan(&link.WorkID, &link.Source, &link.ExternalID, &provenance, &linkedAt); err != nil {
			return nil, err
		}
		link.Provenance = Provenance(provenance)
		link.LinkedAt = sqlstore.ParseTime(linkedAt)
		links = append(links, link)
	}
	return links, rows.Err()
}

func (s *Store) attributes(ctx context.Context, workID int64) (map[string]Attribute, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT name, value_json, provenance, source, updated_at, checked_at FROM attributes WHERE work_id = ?",
		workID,
	)
	if err != nil {
		return nil, fmt.Errorf("load attributes: %w", err)
	}
	defer rows.Close()

	attrs := make(map[string]Attribute)
	for rows.Next() {
		attr, err := scanAttribute(rows)
		if err != nil {
			return nil, err
		}
		attrs[attr.Name] = attr
	}
	return attrs, rows.Err()
}

func scanAttribute(scanner interface{ Scan(dest ...any) error }) (Attribute, error) {
	var (
		attr       Attribute
		value      sql.NullString
		provenance string
		source     sql.NullString
		updated    sql.NullString
		checked    sql.NullString
	)
	if err := scanner.Scan(&attr.Name, &value, &provenance, &source, &updated, &checked); err != nil {
		return Attribute{}, err
	}
	if value.Valid {
		attr.Value = json.RawMessage(value.String)
	}
	attr.Provenance = Provenance(provenance)
	attr.Source = source.String
	attr.UpdatedAt = sqlstore.ParseTime(updated)
	attr.CheckedAt = sqlstore.ParseTime(checked)
	return attr, nil
}

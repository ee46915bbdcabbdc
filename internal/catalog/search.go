package catalog

import (
	"context"
	"fmt"

	"animeindex/internal/sqlstore"
	"animeindex/internal/titlematch"
)

// AttrTitles holds alternate names gathered by fact fetches.
const AttrTitles = "titles"

const minSearchDice = 0.3

// Search ranks works by how well their title or stored alternate names match
// query. It uses the text-search track (containment first, then bigram
// overlap), which is never used for resolution decisions.
func (s *Store) Search(ctx context.Context, query string, limit int) ([]SearchHit, error) {
	ctx = sqlstore.EnsureContext(ctx)
	rows, err := s.db.QueryContext(ctx,
		`SELECT w.id, w.title, a.value_json FROM works w
         LEFT JOIN attributes a ON a.work_id = w.id AND a.name = ?
         ORDER BY w.id`, AttrTitles)
	if err != nil {
		return nil, fmt.Errorf("search works: %w", err)
	}
	defer rows.Close()

	var (
		names   []string
		owners  []int64
		display = make(map[int64]string)
	)
	for rows.Next() {
		var (
			id     int64
			title  string
			titles *string
		)
		if err := rows.Scan(&id, &title, &titles); err != nil {
			return nil, err
		}
		display[id] = title
		names = append(names, title)
		owners = append(owners, id)
		if titles != nil {
			var alt []string
			if err := (Attribute{Value: []byte(*titles)}).Decode(&alt); err == nil {
				for _, name := range alt {
					names = append(names, name)
					owners = append(owners, id)
				}
			}
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	seen := make(map[int64]struct{})
	var hits []SearchHit
	for _, hit := range titlematch.RankText(query, names) {
		if !hit.Contained && hit.Dice < minSearchDice {
			continue
		}
		workID := owners[hit.Index]
		if _, dup := seen[workID]; dup {
			continue
		}
		seen[workID] = struct{}{}
		hits = append(hits, SearchHit{
			WorkID:           workID,
			Title:            display[workID],
			MatchedName:      hit.Name,
			Dice:             hit.Dice,
			Contained:        hit.Contained,
			ContainmentRatio: hit.ContainmentRatio,
		})
		if limit > 0 && len(hits) >= limit {
			break
		}
	}
	return hits, nil
}

package storage

import (
	"context"
	"fmt"

	"github.com/wagnerlima/memory-cloud/graph-mcp/internal/models"
)

// Search performs a substring search over entity names and observations.
// Without CaseSensitive both sides are folded with lower(), which in SQLite
// folds ASCII letters only. Name matches rank before observation-only
// matches, then the most recently updated entities, then by name.
func (s *SQLiteStore) Search(ctx context.Context, q models.SearchQuery) ([]models.Entity, error) {
	fold := func(expr string) string {
		if q.CaseSensitive {
			return expr
		}
		return "lower(" + expr + ")"
	}
	limit := q.Limit
	if limit <= 0 {
		limit = DefaultSearchLimit
	}

	query := fmt.Sprintf(
		`SELECT e.id, e.project, e.name, e.entity_type, e.properties, e.created_at, e.updated_at
		 FROM entities e
		 WHERE (?1 = '' OR e.project = ?1)
		   AND (instr(%[1]s, %[2]s) > 0
		        OR EXISTS (SELECT 1 FROM observations o
		                   WHERE o.entity_id = e.id AND instr(%[3]s, %[2]s) > 0))
		 ORDER BY CASE WHEN instr(%[1]s, %[2]s) > 0 THEN 0 ELSE 1 END,
		          e.updated_at DESC, e.name ASC
		 LIMIT ?3`,
		fold("e.name"), fold("?2"), fold("o.content"),
	)
	return s.queryEntities(ctx, s.db, query, q.Project, q.Query, limit)
}

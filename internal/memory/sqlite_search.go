package memory

import (
	"fmt"

	"github.com/kmorand/ensemble/pkg/models"
)

// SearchKeywords performs a full-text search over content, tags, and
// keywords, best match first. The query uses FTS5 match syntax, so plain
// words work and so do phrases in double quotes.
func (s *SQLiteRecordStore) SearchKeywords(query string, limit int) ([]*models.MemoryRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 {
		limit = DefaultLimit
	}

	rows, err := s.db.Query(`
		SELECT m.id, m.content, m.tier, m.importance, m.tags, m.keywords,
			   m.source, m.pinned, m.created_at, m.last_accessed_at, m.access_count
		FROM memories m
		JOIN memories_fts fts ON m.rowid = fts.rowid
		WHERE memories_fts MATCH ?
		ORDER BY rank
		LIMIT ?
	`, query, limit)
	if err != nil {
		return nil, fmt.Errorf("search memories: %w", err)
	}
	defer rows.Close()

	return scanRecords(rows)
}

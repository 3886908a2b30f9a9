package memory

import (
	"database/sql"
	"fmt"

	"github.com/kmorand/ensemble/pkg/models"
)

// Save inserts the record or replaces the stored row with the same id.
func (s *SQLiteRecordStore) Save(rec *models.MemoryRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`
		INSERT INTO memories (
			id, content, tier, importance, tags, keywords,
			source, pinned, created_at, last_accessed_at, access_count
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			content = excluded.content,
			tier = excluded.tier,
			importance = excluded.importance,
			tags = excluded.tags,
			keywords = excluded.keywords,
			source = excluded.source,
			pinned = excluded.pinned,
			last_accessed_at = excluded.last_accessed_at,
			access_count = excluded.access_count
	`,
		rec.ID,
		rec.Content,
		string(rec.Tier),
		rec.Importance,
		marshalStrings(rec.Tags),
		marshalStrings(rec.Keywords),
		nullString(string(rec.Source)),
		boolToInt(rec.Pinned),
		formatTime(rec.CreatedAt),
		formatTime(rec.LastAccessedAt),
		rec.AccessCount,
	)
	if err != nil {
		return fmt.Errorf("save memory: %w", err)
	}

	return nil
}

// Delete removes a record. Deleting an id that is not stored is a no-op;
// the in-memory store is the authority on what exists.
func (s *SQLiteRecordStore) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.db.Exec("DELETE FROM memories WHERE id = ?", id); err != nil {
		return fmt.Errorf("delete memory: %w", err)
	}
	return nil
}

// LoadAll returns every stored record, oldest first.
func (s *SQLiteRecordStore) LoadAll() ([]*models.MemoryRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(`
		SELECT id, content, tier, importance, tags, keywords,
			   source, pinned, created_at, last_accessed_at, access_count
		FROM memories
		ORDER BY created_at ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("load memories: %w", err)
	}
	defer rows.Close()

	return scanRecords(rows)
}

// scanRecords scans rows into a slice of MemoryRecord pointers.
func scanRecords(rows *sql.Rows) ([]*models.MemoryRecord, error) {
	var records []*models.MemoryRecord

	for rows.Next() {
		var (
			rec            models.MemoryRecord
			tier           string
			tags           sql.NullString
			keywords       sql.NullString
			source         sql.NullString
			pinned         int
			createdAt      string
			lastAccessedAt string
		)

		err := rows.Scan(
			&rec.ID,
			&rec.Content,
			&tier,
			&rec.Importance,
			&tags,
			&keywords,
			&source,
			&pinned,
			&createdAt,
			&lastAccessedAt,
			&rec.AccessCount,
		)
		if err != nil {
			return nil, fmt.Errorf("scan memory: %w", err)
		}

		rec.Tier = models.MemoryTier(tier)
		rec.Tags = unmarshalStrings(tags)
		rec.Keywords = unmarshalStrings(keywords)
		rec.Source = models.MemorySource(source.String)
		rec.Pinned = pinned != 0

		ca, _ := parseTime(createdAt)
		rec.CreatedAt = ca
		la, _ := parseTime(lastAccessedAt)
		rec.LastAccessedAt = la

		records = append(records, &rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate memories: %w", err)
	}

	return records, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

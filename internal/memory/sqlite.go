package memory

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteRecordStore backs RecordStore with a SQLite database. One row per
// record, with a full-text index over content, tags, and keywords.
type SQLiteRecordStore struct {
	db     *sql.DB
	dbPath string
	mu     sync.RWMutex
}

var _ RecordStore = (*SQLiteRecordStore)(nil)

// NewSQLiteRecordStore opens (or creates) the database at dbPath and
// applies pending migrations. It creates the parent directories if they
// don't exist.
func NewSQLiteRecordStore(dbPath string) (*SQLiteRecordStore, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	conn, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// Enable WAL mode for concurrent reads
	if _, err := conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}

	// Enable foreign keys
	if _, err := conn.Exec("PRAGMA foreign_keys=ON"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}

	store := &SQLiteRecordStore{
		db:     conn,
		dbPath: dbPath,
	}

	if err := store.Migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *SQLiteRecordStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Close()
}

// Path returns the path to the database file.
func (s *SQLiteRecordStore) Path() string {
	return s.dbPath
}

// Helper functions

// formatTime formats a time.Time for SQLite storage.
func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

// parseTime parses a time string from SQLite.
func parseTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339, s)
}

// nullString converts a string to sql.NullString, treating empty as null.
func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// marshalStrings encodes a string slice as a JSON array for a TEXT column.
// Empty slices store as null.
func marshalStrings(list []string) sql.NullString {
	if len(list) == 0 {
		return sql.NullString{}
	}
	data, err := json.Marshal(list)
	if err != nil {
		return sql.NullString{}
	}
	return sql.NullString{String: string(data), Valid: true}
}

// unmarshalStrings decodes a JSON array column back into a string slice.
func unmarshalStrings(ns sql.NullString) []string {
	if !ns.Valid || ns.String == "" {
		return nil
	}
	var list []string
	if err := json.Unmarshal([]byte(ns.String), &list); err != nil {
		return nil
	}
	return list
}

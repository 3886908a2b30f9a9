package memory

import (
	"io"

	"github.com/kmorand/ensemble/pkg/models"
)

// RecordStore is the durable side of the memory system. The in-memory
// store writes through to it on every mutation and seeds from it on load.
type RecordStore interface {
	// Save inserts the record or replaces the stored row with the same id.
	Save(rec *models.MemoryRecord) error
	// Delete removes the record. Deleting an absent id is not an error.
	Delete(id string) error
	// LoadAll returns every stored record.
	LoadAll() ([]*models.MemoryRecord, error)
	// SearchKeywords returns records whose indexed text matches the
	// full-text query, best match first.
	SearchKeywords(query string, limit int) ([]*models.MemoryRecord, error)

	io.Closer
}

package state

import (
	"io"

	"github.com/kmorand/ensemble/pkg/models"
)

// SessionWriter persists session lifecycle changes.
type SessionWriter interface {
	SaveSession(s *models.CoordinationSession) error
	CompleteSession(s *models.CoordinationSession) error
	UpsertTaskResult(sessionID string, r *models.TaskResult) error
}

// SessionReader loads persisted sessions for inspection.
type SessionReader interface {
	GetSession(id string) (*models.CoordinationSession, error)
	ListSessions(limit int) ([]models.CoordinationSession, error)
	GetTaskResults(sessionID string) ([]models.TaskResult, error)
}

// Migrator handles database schema migrations.
// Separating this allows clients to depend only on migration functionality.
type Migrator interface {
	// Migrate applies all pending schema migrations.
	Migrate() error
}

// Store is the full persistence surface for coordination sessions. The CLI
// works against this interface rather than the concrete SQLite type.
type Store interface {
	io.Closer
	Migrator
	SessionWriter
	SessionReader
}

// Compile-time verification that DB implements all interfaces.
var (
	_ Store         = (*DB)(nil)
	_ Migrator      = (*DB)(nil)
	_ SessionWriter = (*DB)(nil)
	_ SessionReader = (*DB)(nil)
)

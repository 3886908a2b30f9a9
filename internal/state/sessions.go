package state

import (
	"database/sql"
	"fmt"

	"github.com/kmorand/ensemble/pkg/models"
)

// SaveSession inserts a session row. The manager calls this once at
// submission, before any task runs.
func (db *DB) SaveSession(s *models.CoordinationSession) error {
	_, err := db.Exec(`
		INSERT INTO sessions (id, strategy, status, task_count, created_at, completed_at, summary)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, s.ID, string(s.Strategy), string(s.Status), s.TaskCount,
		formatTime(s.CreatedAt), formatNullableTime(s.CompletedAt), s.Summary)
	if err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	return nil
}

// CompleteSession records a session's terminal status, completion time,
// and synthesized summary.
func (db *DB) CompleteSession(s *models.CoordinationSession) error {
	_, err := db.Exec(`
		UPDATE sessions SET status = ?, completed_at = ?, summary = ?
		WHERE id = ?
	`, string(s.Status), formatNullableTime(s.CompletedAt), s.Summary, s.ID)
	if err != nil {
		return fmt.Errorf("complete session: %w", err)
	}
	return nil
}

// GetSession retrieves a session by ID, or ErrNotFound.
func (db *DB) GetSession(id string) (*models.CoordinationSession, error) {
	row := db.QueryRow(`
		SELECT id, strategy, status, task_count, created_at, completed_at, summary
		FROM sessions WHERE id = ?
	`, id)

	s, err := scanSession(row.Scan)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("session %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	return s, nil
}

// ListSessions returns sessions most recent first. A non-positive limit
// returns all of them.
func (db *DB) ListSessions(limit int) ([]models.CoordinationSession, error) {
	query := `
		SELECT id, strategy, status, task_count, created_at, completed_at, summary
		FROM sessions ORDER BY created_at DESC, id ASC
	`
	var rows *sql.Rows
	var err error
	if limit > 0 {
		rows, err = db.Query(query+" LIMIT ?", limit)
	} else {
		rows, err = db.Query(query)
	}
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var sessions []models.CoordinationSession
	for rows.Next() {
		s, err := scanSession(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		sessions = append(sessions, *s)
	}
	return sessions, rows.Err()
}

// scanSession reads one session row through the given scan function.
func scanSession(scan func(dest ...any) error) (*models.CoordinationSession, error) {
	var s models.CoordinationSession
	var strategy, status, createdAt string
	var completedAt, summary sql.NullString
	if err := scan(&s.ID, &strategy, &status, &s.TaskCount, &createdAt, &completedAt, &summary); err != nil {
		return nil, err
	}
	s.Strategy = models.Strategy(strategy)
	s.Status = models.SessionStatus(status)
	s.CreatedAt, _ = parseTime(createdAt)
	s.CompletedAt = parseNullableTime(completedAt)
	if summary.Valid {
		s.Summary = summary.String
	}
	return &s, nil
}

// UpsertTaskResult records a task's latest result for a session, replacing
// any earlier row for the same task.
func (db *DB) UpsertTaskResult(sessionID string, r *models.TaskResult) error {
	_, err := db.Exec(`
		INSERT OR REPLACE INTO task_results
			(session_id, task_id, profile, status, output, reason, wave, started_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, sessionID, r.TaskID, string(r.Profile), string(r.Status), r.Output, r.Reason, r.Wave,
		formatNullableTime(r.StartedAt), formatNullableTime(r.FinishedAt))
	if err != nil {
		return fmt.Errorf("upsert task result: %w", err)
	}
	return nil
}

// GetTaskResults returns a session's task results ordered by wave, then
// task ID.
func (db *DB) GetTaskResults(sessionID string) ([]models.TaskResult, error) {
	rows, err := db.Query(`
		SELECT task_id, profile, status, output, reason, wave, started_at, finished_at
		FROM task_results WHERE session_id = ?
		ORDER BY wave ASC, task_id ASC
	`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("get task results: %w", err)
	}
	defer rows.Close()

	var results []models.TaskResult
	for rows.Next() {
		var r models.TaskResult
		var profile, status string
		var output, reason sql.NullString
		var startedAt, finishedAt sql.NullString
		if err := rows.Scan(&r.TaskID, &profile, &status, &output, &reason, &r.Wave, &startedAt, &finishedAt); err != nil {
			return nil, fmt.Errorf("scan task result: %w", err)
		}
		r.Profile = models.Profile(profile)
		r.Status = models.TaskStatus(status)
		if output.Valid {
			r.Output = output.String
		}
		if reason.Valid {
			r.Reason = reason.String
		}
		r.StartedAt = parseNullableTime(startedAt)
		r.FinishedAt = parseNullableTime(finishedAt)
		results = append(results, r)
	}
	return results, rows.Err()
}

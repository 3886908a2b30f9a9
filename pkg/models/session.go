package models

import "time"

// SessionStatus represents the state of a coordination session.
type SessionStatus string

const (
	// SessionStatusRunning indicates the session is still executing tasks.
	SessionStatusRunning SessionStatus = "running"
	// SessionStatusCompleted indicates every task finished done.
	SessionStatusCompleted SessionStatus = "completed"
	// SessionStatusPartiallyFailed indicates a mix of done and non-done tasks.
	SessionStatusPartiallyFailed SessionStatus = "partially_failed"
	// SessionStatusFailed indicates no task finished done.
	SessionStatusFailed SessionStatus = "failed"
)

// Valid returns true if the status is a known value.
func (s SessionStatus) Valid() bool {
	switch s {
	case SessionStatusRunning, SessionStatusCompleted,
		SessionStatusPartiallyFailed, SessionStatusFailed:
		return true
	default:
		return false
	}
}

// Terminal returns true if the status is a final state.
func (s SessionStatus) Terminal() bool {
	return s == SessionStatusCompleted || s == SessionStatusPartiallyFailed || s == SessionStatusFailed
}

// CoordinationSession binds one task graph to one strategy and tracks the
// outcome. Sessions are never shared; each owns its graph exclusively.
type CoordinationSession struct {
	// ID is the unique identifier for this session.
	ID string `json:"id"`
	// Strategy is how the session schedules its tasks.
	Strategy Strategy `json:"strategy"`
	// Status is the current state of the session.
	Status SessionStatus `json:"status"`
	// TaskCount is the number of tasks in the session's graph.
	TaskCount int `json:"task_count"`
	// CreatedAt is when the session was submitted.
	CreatedAt time.Time `json:"created_at"`
	// CompletedAt is when the session reached a terminal status.
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	// Summary is the synthesized result text, set on completion.
	Summary string `json:"summary,omitempty"`
}

// TaskResult is the per-task outcome reported by a session. Failed and
// skipped tasks always appear here with a reason; nothing is dropped.
type TaskResult struct {
	// TaskID identifies the task.
	TaskID string `json:"task_id"`
	// Profile is the worker capability that handled the task.
	Profile Profile `json:"profile"`
	// Status is the task's terminal status.
	Status TaskStatus `json:"status"`
	// Output is the worker result text, if the task produced one.
	Output string `json:"output,omitempty"`
	// Reason explains a failure, skip, or cancellation.
	Reason string `json:"reason,omitempty"`
	// Wave is the execution wave the task was scheduled in (adaptive and
	// sequential strategies; zero for parallel).
	Wave int `json:"wave"`
	// StartedAt is when the task was dispatched, if it ever was.
	StartedAt *time.Time `json:"started_at,omitempty"`
	// FinishedAt is when the task reached a terminal status.
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

// SessionStatusFor derives the terminal session status from task statuses:
// completed when everything is done, failed when nothing is, partially
// failed otherwise.
func SessionStatusFor(statuses []TaskStatus) SessionStatus {
	done := 0
	for _, s := range statuses {
		if s == TaskStatusDone {
			done++
		}
	}
	switch {
	case len(statuses) == 0:
		return SessionStatusFailed
	case done == len(statuses):
		return SessionStatusCompleted
	case done == 0:
		return SessionStatusFailed
	default:
		return SessionStatusPartiallyFailed
	}
}

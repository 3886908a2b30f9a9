// Package coordinator executes task graphs against a pool of workers. The
// Engine schedules tasks under one of three strategies, the Manager tracks
// sessions from submission to terminal status, and the Synthesizer folds
// per-task results into a single summary.
package coordinator

import (
	"time"

	"github.com/kmorand/ensemble/pkg/models"
)

// EventType represents the type of coordination event.
type EventType string

const (
	// EventSessionStarted indicates a session began executing.
	EventSessionStarted EventType = "session_started"
	// EventWaveStarted indicates a scheduling wave began.
	EventWaveStarted EventType = "wave_started"
	// EventTaskStarted indicates a task was dispatched to a worker.
	EventTaskStarted EventType = "task_started"
	// EventTaskCompleted indicates a task finished successfully.
	EventTaskCompleted EventType = "task_completed"
	// EventTaskFailed indicates a task failed or timed out.
	EventTaskFailed EventType = "task_failed"
	// EventTaskSkipped indicates a task was not attempted because a
	// dependency did not complete.
	EventTaskSkipped EventType = "task_skipped"
	// EventTaskCancelled indicates a task was cancelled by the session.
	EventTaskCancelled EventType = "task_cancelled"
	// EventWaveCompleted indicates every task in a wave reached a terminal
	// status.
	EventWaveCompleted EventType = "wave_completed"
	// EventSessionDone indicates the session reached a terminal status.
	EventSessionDone EventType = "session_done"
)

// Event is emitted by the engine as a session progresses. Events feed the
// watch TUI and plain-log streaming; they are advisory and may be dropped
// when the consumer falls behind.
type Event struct {
	// Type is the kind of event.
	Type EventType
	// SessionID identifies the session the event belongs to.
	SessionID string
	// TaskID is the ID of the related task, if applicable.
	TaskID string
	// Profile is the worker profile of the related task, if applicable.
	Profile models.Profile
	// Wave is the scheduling wave the event belongs to, if applicable.
	Wave int
	// Message provides additional context about the event.
	Message string
	// Err contains error details for failure events.
	Err error
	// Timestamp is when the event occurred.
	Timestamp time.Time
}

package models

import (
	"fmt"
	"strings"
	"time"
)

// TaskStatus represents the current state of a task.
type TaskStatus string

const (
	// TaskStatusPending indicates the task has not started.
	TaskStatusPending TaskStatus = "pending"
	// TaskStatusRunning indicates the task has been dispatched to a worker.
	TaskStatusRunning TaskStatus = "running"
	// TaskStatusDone indicates the task completed successfully.
	TaskStatusDone TaskStatus = "done"
	// TaskStatusFailed indicates the task failed or timed out.
	TaskStatusFailed TaskStatus = "failed"
	// TaskStatusSkipped indicates the task was never attempted because a
	// dependency failed, was skipped, or was cancelled.
	TaskStatusSkipped TaskStatus = "skipped"
	// TaskStatusCancelled indicates the task was cancelled by the session.
	TaskStatusCancelled TaskStatus = "cancelled"
)

// Valid returns true if the status is a known value.
func (s TaskStatus) Valid() bool {
	switch s {
	case TaskStatusPending, TaskStatusRunning, TaskStatusDone,
		TaskStatusFailed, TaskStatusSkipped, TaskStatusCancelled:
		return true
	default:
		return false
	}
}

// Terminal returns true if the status is a final state.
func (s TaskStatus) Terminal() bool {
	switch s {
	case TaskStatusDone, TaskStatusFailed, TaskStatusSkipped, TaskStatusCancelled:
		return true
	default:
		return false
	}
}

// Profile identifies the worker capability a task requires.
type Profile string

const (
	// ProfileResearcher handles information gathering and investigation.
	ProfileResearcher Profile = "researcher"
	// ProfileDeveloper handles implementation and building work.
	ProfileDeveloper Profile = "developer"
	// ProfileAnalyst handles evaluation, comparison, and review work.
	ProfileAnalyst Profile = "analyst"
	// ProfilePlanner handles decomposition and sequencing work.
	ProfilePlanner Profile = "planner"
)

// AllProfiles lists every known profile.
func AllProfiles() []Profile {
	return []Profile{ProfileResearcher, ProfileDeveloper, ProfileAnalyst, ProfilePlanner}
}

// Valid returns true if the profile is a known value.
func (p Profile) Valid() bool {
	switch p {
	case ProfileResearcher, ProfileDeveloper, ProfileAnalyst, ProfilePlanner:
		return true
	default:
		return false
	}
}

// Strategy selects how a coordination session schedules its tasks.
type Strategy string

const (
	// StrategySequential executes tasks one at a time in topological order.
	StrategySequential Strategy = "sequential"
	// StrategyParallel dispatches every task concurrently; the caller asserts
	// the tasks are independent and dependency edges are not consulted.
	StrategyParallel Strategy = "parallel"
	// StrategyAdaptive executes dependency waves, each wave fully in parallel.
	StrategyAdaptive Strategy = "adaptive"
)

// Valid returns true if the strategy is a known value.
func (s Strategy) Valid() bool {
	switch s {
	case StrategySequential, StrategyParallel, StrategyAdaptive:
		return true
	default:
		return false
	}
}

// Task represents a unit of work submitted to a coordination session.
type Task struct {
	// ID is the unique identifier for this task within its graph.
	ID string `json:"id"`
	// Profile selects the worker capability that handles this task.
	Profile Profile `json:"profile"`
	// Instructions is the work description handed to the worker.
	Instructions string `json:"instructions"`
	// Priority orders dispatch within a wave; higher runs first.
	Priority int `json:"priority,omitempty"`
	// DependsOn lists task IDs that must complete before this task.
	DependsOn []string `json:"depends_on,omitempty"`
	// Timeout overrides the session's per-task timeout when non-zero.
	Timeout time.Duration `json:"timeout,omitempty"`
	// Status is the current state of the task.
	Status TaskStatus `json:"status"`
	// Result holds the worker output once the task is done.
	Result string `json:"result,omitempty"`
	// Error contains the failure or skip reason, if any.
	Error string `json:"error,omitempty"`
	// CreatedAt is when the task was submitted.
	CreatedAt time.Time `json:"created_at"`
	// StartedAt is when the task was dispatched, if it ever was.
	StartedAt *time.Time `json:"started_at,omitempty"`
	// CompletedAt is when the task reached a terminal status.
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// Validate checks that the task is well-formed for submission.
func (t *Task) Validate() error {
	if strings.TrimSpace(t.ID) == "" {
		return fmt.Errorf("task id is required")
	}
	if strings.TrimSpace(t.Instructions) == "" {
		return fmt.Errorf("task %s: instructions are required", t.ID)
	}
	if !t.Profile.Valid() {
		return fmt.Errorf("task %s: unknown profile %q", t.ID, t.Profile)
	}
	if t.Timeout < 0 {
		return fmt.Errorf("task %s: negative timeout", t.ID)
	}
	for _, dep := range t.DependsOn {
		if dep == t.ID {
			return fmt.Errorf("task %s: depends on itself", t.ID)
		}
	}
	return nil
}

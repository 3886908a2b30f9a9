package coordinator

import (
	"sync"

	"github.com/kmorand/ensemble/pkg/models"
)

// ResultSet accumulates per-task results for one session. The engine writes
// as tasks change state; the manager and CLI read snapshots at any time.
// Stored results are copied on the way in and out, so callers never share
// memory with the engine.
type ResultSet struct {
	// results maps task ID to its most recent result.
	results map[string]*models.TaskResult
	// mu protects results.
	mu sync.RWMutex
}

// NewResultSet creates an empty ResultSet.
func NewResultSet() *ResultSet {
	return &ResultSet{
		results: make(map[string]*models.TaskResult),
	}
}

// put records a result, replacing any earlier entry for the task.
func (rs *ResultSet) put(r *models.TaskResult) {
	cp := *r
	rs.mu.Lock()
	rs.results[cp.TaskID] = &cp
	rs.mu.Unlock()
}

// Get returns a copy of the result for a task.
// The second return is false if the task has no result yet.
func (rs *ResultSet) Get(taskID string) (*models.TaskResult, bool) {
	rs.mu.RLock()
	defer rs.mu.RUnlock()
	r, ok := rs.results[taskID]
	if !ok {
		return nil, false
	}
	cp := *r
	return &cp, true
}

// Snapshot returns copies of all recorded results keyed by task ID.
func (rs *ResultSet) Snapshot() map[string]*models.TaskResult {
	rs.mu.RLock()
	defer rs.mu.RUnlock()

	out := make(map[string]*models.TaskResult, len(rs.results))
	for id, r := range rs.results {
		cp := *r
		out[id] = &cp
	}
	return out
}

// Statuses returns the status of every recorded result, in no particular
// order. Used to derive a session status.
func (rs *ResultSet) Statuses() []models.TaskStatus {
	rs.mu.RLock()
	defer rs.mu.RUnlock()

	out := make([]models.TaskStatus, 0, len(rs.results))
	for _, r := range rs.results {
		out = append(out, r.Status)
	}
	return out
}

// Len returns the number of tasks with a recorded result.
func (rs *ResultSet) Len() int {
	rs.mu.RLock()
	defer rs.mu.RUnlock()
	return len(rs.results)
}

package coordinator

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/kmorand/ensemble/internal/worker"
	"github.com/kmorand/ensemble/pkg/models"
)

// WorkerRegistry maps profiles to the workers that serve them. It provides
// thread-safe registration and lookup; the engine resolves every dispatch
// through it.
type WorkerRegistry struct {
	// workers maps profiles to their worker implementations.
	workers map[models.Profile]worker.Worker
	// mu protects workers.
	mu sync.RWMutex
}

// NewWorkerRegistry creates an empty WorkerRegistry.
func NewWorkerRegistry() *WorkerRegistry {
	return &WorkerRegistry{
		workers: make(map[models.Profile]worker.Worker),
	}
}

// Register binds a worker to a profile, replacing any previous binding.
// Unknown profiles and nil workers are rejected.
func (r *WorkerRegistry) Register(profile models.Profile, w worker.Worker) error {
	if !profile.Valid() {
		return fmt.Errorf("register worker: unknown profile %q", profile)
	}
	if w == nil {
		return fmt.Errorf("register worker: nil worker for profile %q", profile)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.workers[profile] = w
	return nil
}

// RegisterAll binds the same worker to every known profile. Used by the
// dry-run path and single-backend setups.
func (r *WorkerRegistry) RegisterAll(w worker.Worker) error {
	for _, profile := range models.AllProfiles() {
		if err := r.Register(profile, w); err != nil {
			return err
		}
	}
	return nil
}

// Lookup retrieves the worker for a profile.
// The second return is false if no worker is registered.
func (r *WorkerRegistry) Lookup(profile models.Profile) (worker.Worker, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	w, ok := r.workers[profile]
	return w, ok
}

// Covers reports whether every task in the list has a registered worker.
// Returns the first uncovered profile found, in task order.
func (r *WorkerRegistry) Covers(tasks []*models.Task) error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, t := range tasks {
		if _, ok := r.workers[t.Profile]; !ok {
			return fmt.Errorf("task %s: no worker registered for profile %q", t.ID, t.Profile)
		}
	}
	return nil
}

// Profiles returns the registered profiles in sorted order.
func (r *WorkerRegistry) Profiles() []models.Profile {
	r.mu.RLock()
	defer r.mu.RUnlock()

	profiles := make([]models.Profile, 0, len(r.workers))
	for p := range r.workers {
		profiles = append(profiles, p)
	}
	sort.Slice(profiles, func(i, j int) bool { return profiles[i] < profiles[j] })
	return profiles
}

// Count returns the number of registered profiles.
func (r *WorkerRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.workers)
}

// profileVocab pairs a profile with the instruction keywords that suggest it.
// Checked in order; the first profile with a keyword hit wins.
var profileVocab = []struct {
	profile  models.Profile
	keywords []string
}{
	{models.ProfileResearcher, []string{"research", "find", "search", "investigate"}},
	{models.ProfileDeveloper, []string{"code", "implement", "develop", "build", "write"}},
	{models.ProfileAnalyst, []string{"analyze", "analyse", "evaluate", "assess", "compare", "review"}},
	{models.ProfilePlanner, []string{"plan", "organize", "coordinate", "sequence"}},
}

// InferProfile guesses a profile from instruction keywords. Tasks submitted
// without an explicit profile go through here; the fallback is developer.
func InferProfile(instructions string) models.Profile {
	lower := strings.ToLower(instructions)
	for _, entry := range profileVocab {
		for _, kw := range entry.keywords {
			if strings.Contains(lower, kw) {
				return entry.profile
			}
		}
	}
	return models.ProfileDeveloper
}

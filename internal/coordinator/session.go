package coordinator

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kmorand/ensemble/internal/graph"
	"github.com/kmorand/ensemble/pkg/models"
)

// ErrUnknownSession indicates the session ID is not tracked by the manager.
var ErrUnknownSession = errors.New("unknown session")

// SessionStore persists sessions and their task results. The manager treats
// persistence as best-effort: store failures are logged, never fatal to a
// running session.
type SessionStore interface {
	SaveSession(s *models.CoordinationSession) error
	CompleteSession(s *models.CoordinationSession) error
	UpsertTaskResult(sessionID string, r *models.TaskResult) error
}

// MemorySink stores a finished session's summary for later retrieval.
type MemorySink interface {
	SaveSessionSummary(ctx context.Context, sessionID, summary string) (string, error)
}

// ManagerConfig holds the manager's optional collaborators.
type ManagerConfig struct {
	// Store persists sessions and task results. Nil disables persistence.
	Store SessionStore
	// Memory receives session summaries. Nil disables write-back.
	Memory MemorySink
}

// Manager tracks coordination sessions from submission to terminal status.
// Submit starts a session in the background and returns its ID; Get, Wait,
// and Cancel operate on it afterwards. Sessions never share task graphs.
type Manager struct {
	engine *Engine
	store  SessionStore
	memory MemorySink

	// mu protects sessions.
	mu       sync.RWMutex
	sessions map[string]*session

	// wg tracks running sessions so Stop can drain them.
	wg  sync.WaitGroup
	now func() time.Time
}

// session is the manager's view of one running or finished session.
type session struct {
	// mu protects model, which changes once on completion.
	mu      sync.RWMutex
	model   models.CoordinationSession
	graph   *graph.TaskGraph
	results *ResultSet
	waveOf  map[string]int
	cancel  context.CancelFunc
	// done closes after the terminal status is recorded and persisted.
	done chan struct{}
}

// SessionSnapshot is a point-in-time view of a session. Results hold one
// entry per task in topological order; tasks the engine has not touched
// yet appear as Pending.
type SessionSnapshot struct {
	Session models.CoordinationSession
	Results []*models.TaskResult
}

// NewManager creates a manager running sessions on the given engine.
func NewManager(engine *Engine, cfg ManagerConfig) *Manager {
	return &Manager{
		engine:   engine,
		store:    cfg.Store,
		memory:   cfg.Memory,
		sessions: make(map[string]*session),
		now:      time.Now,
	}
}

// Submit validates the tasks, builds their graph, and starts a session in
// the background, returning its ID. Tasks without a profile get one
// inferred from their instructions. The manager takes ownership of the
// task slice; callers must not touch the tasks afterwards.
func (m *Manager) Submit(tasks []*models.Task, strategy models.Strategy) (string, error) {
	if strategy == "" {
		strategy = models.StrategyAdaptive
	}
	if !strategy.Valid() {
		return "", fmt.Errorf("unknown strategy %q", strategy)
	}

	now := m.now()
	for _, t := range tasks {
		if t.Profile == "" {
			t.Profile = InferProfile(t.Instructions)
		}
		if t.Status == "" {
			t.Status = models.TaskStatusPending
		}
		if t.CreatedAt.IsZero() {
			t.CreatedAt = now
		}
	}

	g, err := graph.Build(tasks)
	if err != nil {
		return "", err
	}
	if err := m.engine.Registry().Covers(tasks); err != nil {
		return "", err
	}

	id := uuid.New().String()[:8]
	s := &session{
		model: models.CoordinationSession{
			ID:        id,
			Strategy:  strategy,
			Status:    models.SessionStatusRunning,
			TaskCount: g.Len(),
			CreatedAt: now,
		},
		graph:   g,
		results: NewResultSet(),
		done:    make(chan struct{}),
	}
	if strategy != models.StrategyParallel {
		s.waveOf = waveIndex(g)
	}

	if m.store != nil {
		if err := m.store.SaveSession(&s.model); err != nil {
			log.Printf("[manager] persist session %s: %v", id, err)
		}
	}

	runCtx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel

	m.mu.Lock()
	m.sessions[id] = s
	m.mu.Unlock()

	m.wg.Add(1)
	go m.execute(runCtx, s)

	log.Printf("[manager] session %s submitted: %d tasks, strategy %s", id, g.Len(), strategy)
	return id, nil
}

// execute runs the session to its terminal status, then persists results
// and writes the summary back to memory.
func (m *Manager) execute(ctx context.Context, s *session) {
	defer m.wg.Done()
	defer s.cancel()

	if err := m.engine.Run(ctx, s.model.ID, s.graph, s.model.Strategy, s.results); err != nil {
		log.Printf("[manager] session %s: engine: %v", s.model.ID, err)
	}

	results := s.results.Snapshot()
	status := models.SessionStatusFor(s.results.Statuses())
	summary := Synthesize(s.graph, results)
	completed := m.now()

	s.mu.Lock()
	s.model.Status = status
	s.model.CompletedAt = &completed
	s.model.Summary = summary
	model := s.model
	s.mu.Unlock()

	if m.store != nil {
		for _, id := range s.graph.Flatten() {
			if r, ok := results[id]; ok {
				if err := m.store.UpsertTaskResult(model.ID, r); err != nil {
					log.Printf("[manager] persist task result %s/%s: %v", model.ID, id, err)
				}
			}
		}
		if err := m.store.CompleteSession(&model); err != nil {
			log.Printf("[manager] persist session %s: %v", model.ID, err)
		}
	}

	// Write-back runs on a fresh context: the session context is already
	// cancelled when the session was cancelled, and partial results must
	// survive regardless.
	if m.memory != nil {
		recID, err := m.memory.SaveSessionSummary(context.Background(), model.ID, summary)
		if err != nil {
			log.Printf("[manager] memory write-back for session %s: %v", model.ID, err)
		} else {
			log.Printf("[manager] session %s summary stored as memory %s", model.ID, recID)
		}
	}

	close(s.done)
}

// lookup returns the tracked session or nil.
func (m *Manager) lookup(id string) *session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.sessions[id]
}

// Get returns a snapshot of the session's current state.
func (m *Manager) Get(id string) (*SessionSnapshot, error) {
	s := m.lookup(id)
	if s == nil {
		return nil, fmt.Errorf("session %s: %w", id, ErrUnknownSession)
	}
	return s.snapshot(), nil
}

// Wait blocks until the session reaches a terminal status and returns the
// final snapshot, or returns early with the context's error.
func (m *Manager) Wait(ctx context.Context, id string) (*SessionSnapshot, error) {
	s := m.lookup(id)
	if s == nil {
		return nil, fmt.Errorf("session %s: %w", id, ErrUnknownSession)
	}
	select {
	case <-s.done:
		return s.snapshot(), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Cancel stops a session. In-flight tasks become Cancelled; accumulated
// results are retained. Cancelling a finished session is a no-op.
func (m *Manager) Cancel(id string) error {
	s := m.lookup(id)
	if s == nil {
		return fmt.Errorf("session %s: %w", id, ErrUnknownSession)
	}
	log.Printf("[manager] cancelling session %s", id)
	s.cancel()
	return nil
}

// CancelAll stops every tracked session.
func (m *Manager) CancelAll() {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for id, s := range m.sessions {
		log.Printf("[manager] cancelling session %s", id)
		s.cancel()
	}
}

// Pause holds back new task dispatches across all sessions.
func (m *Manager) Pause() {
	m.engine.Pause()
}

// Resume releases dispatches held by Pause.
func (m *Manager) Resume() {
	m.engine.Resume()
}

// List returns snapshots of every tracked session's model, most recent
// first.
func (m *Manager) List() []models.CoordinationSession {
	m.mu.RLock()
	out := make([]models.CoordinationSession, 0, len(m.sessions))
	for _, s := range m.sessions {
		s.mu.RLock()
		out = append(out, s.model)
		s.mu.RUnlock()
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Stop cancels every session and waits for them to finish. The engine is
// caller-owned and stays open.
func (m *Manager) Stop() {
	m.CancelAll()
	m.wg.Wait()
}

// snapshot builds a point-in-time view of the session.
func (s *session) snapshot() *SessionSnapshot {
	s.mu.RLock()
	model := s.model
	s.mu.RUnlock()

	recorded := s.results.Snapshot()
	results := make([]*models.TaskResult, 0, s.graph.Len())
	for _, id := range s.graph.Flatten() {
		if r, ok := recorded[id]; ok {
			results = append(results, r)
			continue
		}
		t := s.graph.Task(id)
		wave := 0
		if s.waveOf != nil {
			wave = s.waveOf[id]
		}
		results = append(results, &models.TaskResult{
			TaskID:  id,
			Profile: t.Profile,
			Status:  models.TaskStatusPending,
			Wave:    wave,
		})
	}
	return &SessionSnapshot{Session: model, Results: results}
}

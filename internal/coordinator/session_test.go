package coordinator

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/kmorand/ensemble/internal/graph"
	"github.com/kmorand/ensemble/internal/worker"
	"github.com/kmorand/ensemble/pkg/models"
)

// fakeSessionStore records persistence calls in memory.
type fakeSessionStore struct {
	mu        sync.Mutex
	saved     []models.CoordinationSession
	completed []models.CoordinationSession
	results   map[string][]models.TaskResult
}

func newFakeSessionStore() *fakeSessionStore {
	return &fakeSessionStore{results: make(map[string][]models.TaskResult)}
}

func (f *fakeSessionStore) SaveSession(s *models.CoordinationSession) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.saved = append(f.saved, *s)
	return nil
}

func (f *fakeSessionStore) CompleteSession(s *models.CoordinationSession) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.completed = append(f.completed, *s)
	return nil
}

func (f *fakeSessionStore) UpsertTaskResult(sessionID string, r *models.TaskResult) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.results[sessionID] = append(f.results[sessionID], *r)
	return nil
}

// fakeMemorySink records write-backs.
type fakeMemorySink struct {
	mu        sync.Mutex
	sessionID string
	summary   string
	calls     int
}

func (f *fakeMemorySink) SaveSessionSummary(ctx context.Context, sessionID, summary string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sessionID = sessionID
	f.summary = summary
	f.calls++
	return "rec-1234", nil
}

var _ SessionStore = (*fakeSessionStore)(nil)
var _ MemorySink = (*fakeMemorySink)(nil)

func TestManager_SubmitAndWait(t *testing.T) {
	store := newFakeSessionStore()
	sink := &fakeMemorySink{}
	e := NewEngine(echoAll(t), EngineConfig{})
	defer e.Close()
	m := NewManager(e, ManagerConfig{Store: store, Memory: sink})

	id, err := m.Submit([]*models.Task{
		testTask("t1"), testTask("t2", "t1"),
	}, models.StrategyAdaptive)
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	if len(id) != 8 {
		t.Errorf("session id %q, want 8 characters", id)
	}

	snap, err := m.Wait(context.Background(), id)
	if err != nil {
		t.Fatalf("Wait() error = %v", err)
	}
	if snap.Session.Status != models.SessionStatusCompleted {
		t.Errorf("status = %s, want %s", snap.Session.Status, models.SessionStatusCompleted)
	}
	if snap.Session.CompletedAt == nil {
		t.Error("CompletedAt not set on a finished session")
	}
	if snap.Session.TaskCount != 2 {
		t.Errorf("TaskCount = %d, want 2", snap.Session.TaskCount)
	}
	if !strings.HasPrefix(snap.Session.Summary, "# Coordination Results") {
		t.Errorf("summary = %q, want the synthesis header", snap.Session.Summary)
	}
	if len(snap.Results) != 2 {
		t.Fatalf("snapshot has %d results, want 2", len(snap.Results))
	}
	for _, r := range snap.Results {
		if r.Status != models.TaskStatusDone {
			t.Errorf("task %s status = %s, want done", r.TaskID, r.Status)
		}
	}

	// Persistence saw the initial row, both task results, and completion.
	store.mu.Lock()
	defer store.mu.Unlock()
	if len(store.saved) != 1 || store.saved[0].Status != models.SessionStatusRunning {
		t.Errorf("saved sessions = %+v, want one running row", store.saved)
	}
	if len(store.completed) != 1 || store.completed[0].Status != models.SessionStatusCompleted {
		t.Errorf("completed sessions = %+v, want one completed row", store.completed)
	}
	if got := len(store.results[id]); got != 2 {
		t.Errorf("persisted %d task results, want 2", got)
	}

	// Memory write-back carried the summary.
	sink.mu.Lock()
	defer sink.mu.Unlock()
	if sink.calls != 1 || sink.sessionID != id {
		t.Errorf("write-back calls = %d session %q, want 1 call for %q", sink.calls, sink.sessionID, id)
	}
	if !strings.Contains(sink.summary, "## t1") {
		t.Errorf("write-back summary missing task section:\n%s", sink.summary)
	}
}

func TestManager_SubmitValidation(t *testing.T) {
	e := NewEngine(echoAll(t), EngineConfig{})
	defer e.Close()
	m := NewManager(e, ManagerConfig{})

	if _, err := m.Submit(nil, models.StrategyAdaptive); !errors.Is(err, graph.ErrEmptyGraph) {
		t.Errorf("Submit(no tasks) error = %v, want %v", err, graph.ErrEmptyGraph)
	}
	if _, err := m.Submit([]*models.Task{testTask("a")}, models.Strategy("mystery")); err == nil {
		t.Error("Submit() accepted an unknown strategy")
	}
	if _, err := m.Submit([]*models.Task{
		testTask("a", "b"), testTask("b", "a"),
	}, models.StrategyAdaptive); !errors.Is(err, graph.ErrCycleDetected) {
		t.Errorf("Submit(cycle) error = %v, want %v", err, graph.ErrCycleDetected)
	}
}

func TestManager_SubmitRejectsUncoveredProfile(t *testing.T) {
	reg := NewWorkerRegistry()
	if err := reg.Register(models.ProfileDeveloper, nopWorker()); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	e := NewEngine(reg, EngineConfig{})
	defer e.Close()
	m := NewManager(e, ManagerConfig{})

	task := testTask("needs-research")
	task.Profile = models.ProfileResearcher
	_, err := m.Submit([]*models.Task{task}, models.StrategyAdaptive)
	if err == nil {
		t.Fatal("Submit() accepted a task with no registered worker")
	}
	if !strings.Contains(err.Error(), "researcher") {
		t.Errorf("error = %v, want it to name the uncovered profile", err)
	}
}

func TestManager_InfersMissingProfiles(t *testing.T) {
	e := NewEngine(echoAll(t), EngineConfig{})
	defer e.Close()
	m := NewManager(e, ManagerConfig{})

	id, err := m.Submit([]*models.Task{
		{ID: "r", Instructions: "Research available embedding models"},
		{ID: "d", Instructions: "do something unspecific"},
	}, models.StrategyAdaptive)
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}

	snap, err := m.Wait(context.Background(), id)
	if err != nil {
		t.Fatalf("Wait() error = %v", err)
	}
	profiles := make(map[string]models.Profile, len(snap.Results))
	for _, r := range snap.Results {
		profiles[r.TaskID] = r.Profile
	}
	if profiles["r"] != models.ProfileResearcher {
		t.Errorf("task r profile = %s, want researcher", profiles["r"])
	}
	if profiles["d"] != models.ProfileDeveloper {
		t.Errorf("task d profile = %s, want developer", profiles["d"])
	}
}

func TestManager_GetProgressSnapshot(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{})
	fn := worker.Func(func(ctx context.Context, req worker.Request) (*worker.Result, error) {
		close(started)
		select {
		case <-release:
			return &worker.Result{Text: "ok", Status: worker.StatusSuccess}, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	})
	e := NewEngine(registryFunc(t, fn), EngineConfig{})
	defer e.Close()
	m := NewManager(e, ManagerConfig{})

	id, err := m.Submit([]*models.Task{
		testTask("running"), testTask("queued", "running"),
	}, models.StrategyAdaptive)
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	<-started

	snap, err := m.Get(id)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if snap.Session.Status != models.SessionStatusRunning {
		t.Errorf("mid-run status = %s, want running", snap.Session.Status)
	}
	byID := make(map[string]*models.TaskResult, len(snap.Results))
	for _, r := range snap.Results {
		byID[r.TaskID] = r
	}
	if byID["running"] == nil || byID["running"].Status != models.TaskStatusRunning {
		t.Errorf("running task = %+v, want running status", byID["running"])
	}
	if byID["queued"] == nil || byID["queued"].Status != models.TaskStatusPending {
		t.Errorf("queued task = %+v, want pending placeholder", byID["queued"])
	}

	close(release)
	if _, err := m.Wait(context.Background(), id); err != nil {
		t.Fatalf("Wait() error = %v", err)
	}
}

func TestManager_CancelRetainsPartials(t *testing.T) {
	slowStarted := make(chan struct{})
	fn := worker.Func(func(ctx context.Context, req worker.Request) (*worker.Result, error) {
		if req.Instructions == "slow" {
			close(slowStarted)
			<-ctx.Done()
			return nil, ctx.Err()
		}
		return &worker.Result{Text: "fast done", Status: worker.StatusSuccess}, nil
	})
	e := NewEngine(registryFunc(t, fn), EngineConfig{})
	defer e.Close()
	m := NewManager(e, ManagerConfig{})

	id, err := m.Submit([]*models.Task{
		testTask("fast"), testTask("slow"),
	}, models.StrategyAdaptive)
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}

	<-slowStarted
	deadline := time.Now().Add(2 * time.Second)
	for {
		snap, err := m.Get(id)
		if err != nil {
			t.Fatalf("Get() error = %v", err)
		}
		done := false
		for _, r := range snap.Results {
			if r.TaskID == "fast" && r.Status == models.TaskStatusDone {
				done = true
			}
		}
		if done {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("fast task never completed")
		}
		time.Sleep(2 * time.Millisecond)
	}

	if err := m.Cancel(id); err != nil {
		t.Fatalf("Cancel() error = %v", err)
	}
	snap, err := m.Wait(context.Background(), id)
	if err != nil {
		t.Fatalf("Wait() error = %v", err)
	}

	if snap.Session.Status != models.SessionStatusPartiallyFailed {
		t.Errorf("status = %s, want %s", snap.Session.Status, models.SessionStatusPartiallyFailed)
	}
	for _, r := range snap.Results {
		switch r.TaskID {
		case "fast":
			if r.Status != models.TaskStatusDone || r.Output != "fast done" {
				t.Errorf("fast = %+v, want retained done result", r)
			}
		case "slow":
			if r.Status != models.TaskStatusCancelled {
				t.Errorf("slow = %+v, want cancelled", r)
			}
		}
	}
}

func TestManager_UnknownSession(t *testing.T) {
	e := NewEngine(echoAll(t), EngineConfig{})
	defer e.Close()
	m := NewManager(e, ManagerConfig{})

	if _, err := m.Get("nope"); !errors.Is(err, ErrUnknownSession) {
		t.Errorf("Get() error = %v, want %v", err, ErrUnknownSession)
	}
	if err := m.Cancel("nope"); !errors.Is(err, ErrUnknownSession) {
		t.Errorf("Cancel() error = %v, want %v", err, ErrUnknownSession)
	}
	if _, err := m.Wait(context.Background(), "nope"); !errors.Is(err, ErrUnknownSession) {
		t.Errorf("Wait() error = %v, want %v", err, ErrUnknownSession)
	}
}

func TestManager_ListMostRecentFirst(t *testing.T) {
	e := NewEngine(echoAll(t), EngineConfig{})
	defer e.Close()
	m := NewManager(e, ManagerConfig{})

	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	clock := base
	m.now = func() time.Time { return clock }

	// Wait for each session before moving the clock so the completion
	// goroutine never reads it concurrently.
	first, err := m.Submit([]*models.Task{testTask("a")}, models.StrategyAdaptive)
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	if _, err := m.Wait(context.Background(), first); err != nil {
		t.Fatalf("Wait() error = %v", err)
	}

	clock = base.Add(time.Minute)
	second, err := m.Submit([]*models.Task{testTask("b")}, models.StrategyAdaptive)
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	if _, err := m.Wait(context.Background(), second); err != nil {
		t.Fatalf("Wait() error = %v", err)
	}

	list := m.List()
	if len(list) != 2 {
		t.Fatalf("List() returned %d sessions, want 2", len(list))
	}
	if list[0].ID != second || list[1].ID != first {
		t.Errorf("List() order = [%s %s], want [%s %s]", list[0].ID, list[1].ID, second, first)
	}

	m.Stop()
}

package coordinator

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kmorand/ensemble/internal/graph"
	"github.com/kmorand/ensemble/internal/worker"
	"github.com/kmorand/ensemble/pkg/models"
)

const (
	// DefaultMaxConcurrentAgents bounds how many workers run at once.
	DefaultMaxConcurrentAgents = 5
	// DefaultTaskTimeout bounds a single dispatch when the task carries no
	// override.
	DefaultTaskTimeout = 5 * time.Minute
	// defaultEventBuffer is the event channel capacity.
	defaultEventBuffer = 100
)

// ErrEngineClosed indicates Run was called after Close.
var ErrEngineClosed = errors.New("engine is closed")

// EngineConfig holds the engine's tunable settings. Zero values fall back
// to the defaults above.
type EngineConfig struct {
	// MaxConcurrentAgents is the worker pool size.
	MaxConcurrentAgents int
	// DefaultTaskTimeout applies to tasks without their own timeout.
	DefaultTaskTimeout time.Duration
	// EventBuffer is the event channel capacity.
	EventBuffer int
	// Logger receives scheduling traces. Nil disables them.
	Logger *DebugLogger
}

// Engine executes task graphs against registered workers. One engine serves
// any number of sessions, concurrently; per-session state lives in the run,
// never on the engine.
type Engine struct {
	registry *WorkerRegistry
	cfg      EngineConfig
	events   chan Event
	dropped  atomic.Int64
	gate     *pauseGate

	// mu guards closed; wg tracks in-flight Run calls so Close can drain
	// them before closing the event channel.
	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup

	now func() time.Time
}

// NewEngine creates an engine dispatching through the given registry.
func NewEngine(registry *WorkerRegistry, cfg EngineConfig) *Engine {
	if registry == nil {
		registry = NewWorkerRegistry()
	}
	if cfg.MaxConcurrentAgents <= 0 {
		cfg.MaxConcurrentAgents = DefaultMaxConcurrentAgents
	}
	if cfg.DefaultTaskTimeout <= 0 {
		cfg.DefaultTaskTimeout = DefaultTaskTimeout
	}
	if cfg.EventBuffer <= 0 {
		cfg.EventBuffer = defaultEventBuffer
	}
	if cfg.Logger != nil {
		setPackageLogger(cfg.Logger)
	}
	return &Engine{
		registry: registry,
		cfg:      cfg,
		events:   make(chan Event, cfg.EventBuffer),
		gate:     newPauseGate(),
		now:      time.Now,
	}
}

// Pause holds back new task dispatches until Resume. Tasks already running
// are unaffected.
func (e *Engine) Pause() {
	if e.gate.pause() {
		log.Printf("[engine] paused - no new tasks will be dispatched")
	}
}

// Resume releases dispatches held by Pause.
func (e *Engine) Resume() {
	if e.gate.resume() {
		log.Printf("[engine] resumed - task dispatch enabled")
	}
}

// Paused reports whether dispatch is currently held.
func (e *Engine) Paused() bool {
	return e.gate.isPaused()
}

// Events returns a read-only channel of coordination events.
// The channel closes when the engine is closed.
func (e *Engine) Events() <-chan Event {
	return e.events
}

// DroppedEvents returns how many events were discarded because the
// consumer fell behind.
func (e *Engine) DroppedEvents() int64 {
	return e.dropped.Load()
}

// Registry returns the worker registry the engine dispatches through.
func (e *Engine) Registry() *WorkerRegistry {
	return e.registry
}

// Close waits for in-flight sessions to finish and closes the event
// channel. Run calls after Close fail with ErrEngineClosed.
func (e *Engine) Close() {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.closed = true
	e.mu.Unlock()

	e.gate.stop()
	e.wg.Wait()
	close(e.events)
}

// run carries the state of one executing session.
type run struct {
	sessionID string
	graph     *graph.TaskGraph
	results   *ResultSet
	// sem bounds concurrent dispatches.
	sem chan struct{}
	// waveOf maps task ID to its wave index; nil under the parallel
	// strategy, which reports every task as wave zero.
	waveOf map[string]int
}

// wave returns the wave index a task was scheduled in.
func (r *run) wave(id string) int {
	if r.waveOf == nil {
		return 0
	}
	return r.waveOf[id]
}

// orderByPriority returns ids sorted by priority, highest first. The sort
// is stable, so submission order breaks ties as long as the input is in
// submission order.
func (r *run) orderByPriority(ids []string) []string {
	out := append([]string(nil), ids...)
	sort.SliceStable(out, func(i, j int) bool {
		return r.graph.Task(out[i]).Priority > r.graph.Task(out[j]).Priority
	})
	return out
}

// blockedReason reports whether a task's dependencies prevent it from
// running. Any dependency without a Done result blocks the task. Callers
// only ask once every dependency has reached a terminal status.
func (r *run) blockedReason(id string) (string, bool) {
	for _, dep := range r.graph.Dependencies(id) {
		res, ok := r.results.Get(dep)
		if !ok {
			return fmt.Sprintf("dependency %s did not run", dep), true
		}
		if res.Status != models.TaskStatusDone {
			return fmt.Sprintf("dependency %s %s", dep, res.Status), true
		}
	}
	return "", false
}

// Run executes the graph under the given strategy, recording every task's
// outcome in rs. It blocks until all tasks reach a terminal status and
// never aborts on individual task failures; the error return covers
// invalid input only. Cancel ctx to cancel the session; in-flight tasks
// become Cancelled and their results are retained.
func (e *Engine) Run(ctx context.Context, sessionID string, g *graph.TaskGraph, strategy models.Strategy, rs *ResultSet) error {
	if g == nil || g.Len() == 0 {
		return graph.ErrEmptyGraph
	}
	if strategy == "" {
		strategy = models.StrategyAdaptive
	}
	if !strategy.Valid() {
		return fmt.Errorf("unknown strategy %q", strategy)
	}
	if rs == nil {
		return fmt.Errorf("nil result set")
	}

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return ErrEngineClosed
	}
	e.wg.Add(1)
	e.mu.Unlock()
	defer e.wg.Done()

	r := &run{
		sessionID: sessionID,
		graph:     g,
		results:   rs,
		sem:       make(chan struct{}, e.cfg.MaxConcurrentAgents),
	}
	if strategy != models.StrategyParallel {
		r.waveOf = waveIndex(g)
	}

	log.Printf("[engine] session %s: %d tasks, strategy %s", sessionID, g.Len(), strategy)
	e.emit(Event{
		Type:      EventSessionStarted,
		SessionID: sessionID,
		Message:   fmt.Sprintf("%d tasks, strategy %s", g.Len(), strategy),
	})

	switch strategy {
	case models.StrategySequential:
		e.runSequential(ctx, r)
	case models.StrategyParallel:
		e.runParallel(ctx, r)
	default:
		e.runAdaptive(ctx, r)
	}

	e.finalize(r)

	status := models.SessionStatusFor(rs.Statuses())
	log.Printf("[engine] session %s: %s", sessionID, status)
	e.emit(Event{Type: EventSessionDone, SessionID: sessionID, Message: string(status)})
	return nil
}

// runSequential executes waves one task at a time, each wave ordered by
// priority. A failed task skips its dependents via the dependency check on
// every later task.
func (e *Engine) runSequential(ctx context.Context, r *run) {
	for waveIdx, wave := range r.graph.Waves() {
		e.emitWaveStarted(r, waveIdx, len(wave))
		for _, id := range r.orderByPriority(wave) {
			if e.gate.wait(ctx) != nil {
				return
			}
			if ctx.Err() != nil {
				return
			}
			task := r.graph.Task(id)
			if reason, blocked := r.blockedReason(id); blocked {
				e.completeTask(r, task, models.TaskStatusSkipped, "", reason)
				continue
			}
			e.dispatch(ctx, r, task)
		}
		e.emitWaveCompleted(r, waveIdx)
	}
}

// runParallel dispatches every task concurrently in priority order, bounded
// by the semaphore. Dependency edges are not consulted; the caller asserted
// the tasks are independent.
func (e *Engine) runParallel(ctx context.Context, r *run) {
	ids := make([]string, 0, r.graph.Len())
	for _, t := range r.graph.Tasks() {
		ids = append(ids, t.ID)
	}

	var wg sync.WaitGroup
	for _, id := range r.orderByPriority(ids) {
		task := r.graph.Task(id)
		wg.Add(1)
		go func(task *models.Task) {
			defer wg.Done()
			e.dispatchBounded(ctx, r, task)
		}(task)
	}
	wg.Wait()
}

// runAdaptive executes each wave fully in parallel and joins before moving
// on, so every wave-k task is terminal before wave k+1 starts.
func (e *Engine) runAdaptive(ctx context.Context, r *run) {
	for waveIdx, wave := range r.graph.Waves() {
		if ctx.Err() != nil {
			return
		}
		e.emitWaveStarted(r, waveIdx, len(wave))

		var wg sync.WaitGroup
		for _, id := range r.orderByPriority(wave) {
			task := r.graph.Task(id)
			if reason, blocked := r.blockedReason(id); blocked {
				e.completeTask(r, task, models.TaskStatusSkipped, "", reason)
				continue
			}
			wg.Add(1)
			go func(task *models.Task) {
				defer wg.Done()
				e.dispatchBounded(ctx, r, task)
			}(task)
		}
		wg.Wait()

		e.emitWaveCompleted(r, waveIdx)
	}
}

// dispatchBounded waits out any pause, acquires a pool slot, then
// dispatches. Tasks that lose the race against cancellation while queued
// become Cancelled without ever reaching a worker.
func (e *Engine) dispatchBounded(ctx context.Context, r *run, task *models.Task) {
	if e.gate.wait(ctx) != nil {
		e.completeTask(r, task, models.TaskStatusCancelled, "", "session cancelled")
		return
	}

	select {
	case r.sem <- struct{}{}:
	case <-ctx.Done():
		e.completeTask(r, task, models.TaskStatusCancelled, "", "session cancelled")
		return
	}
	defer func() { <-r.sem }()

	if ctx.Err() != nil {
		e.completeTask(r, task, models.TaskStatusCancelled, "", "session cancelled")
		return
	}
	e.dispatch(ctx, r, task)
}

// dispatch runs one task against its worker and records the outcome. It
// blocks until the task reaches a terminal status.
func (e *Engine) dispatch(ctx context.Context, r *run, task *models.Task) {
	w, ok := e.registry.Lookup(task.Profile)
	if !ok {
		e.completeTask(r, task, models.TaskStatusFailed, "",
			fmt.Sprintf("no worker registered for profile %q", task.Profile))
		return
	}

	timeout := task.Timeout
	if timeout <= 0 {
		timeout = e.cfg.DefaultTaskTimeout
	}

	started := e.now()
	task.Status = models.TaskStatusRunning
	task.StartedAt = &started
	r.results.put(&models.TaskResult{
		TaskID:    task.ID,
		Profile:   task.Profile,
		Status:    models.TaskStatusRunning,
		Wave:      r.wave(task.ID),
		StartedAt: &started,
	})
	e.emit(Event{
		Type:      EventTaskStarted,
		SessionID: r.sessionID,
		TaskID:    task.ID,
		Profile:   task.Profile,
		Wave:      r.wave(task.ID),
	})
	debugLog("session %s: dispatch %s (%s), timeout %s", r.sessionID, task.ID, task.Profile, timeout)

	taskCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	res, err := w.Invoke(taskCtx, worker.Request{
		Profile:      task.Profile,
		Instructions: task.Instructions,
		Timeout:      timeout,
	})

	switch {
	case err == nil:
		var output string
		if res != nil {
			output = res.Text
		}
		e.completeTask(r, task, models.TaskStatusDone, output, "")
	case ctx.Err() != nil:
		// The session context won; the worker error is cancellation fallout.
		e.completeTask(r, task, models.TaskStatusCancelled, "", "session cancelled")
	case errors.Is(err, context.DeadlineExceeded) || taskCtx.Err() == context.DeadlineExceeded:
		e.completeTask(r, task, models.TaskStatusFailed, "", "timeout")
	default:
		e.completeTask(r, task, models.TaskStatusFailed, "", err.Error())
	}
}

// finalize assigns a terminal status to every task the strategies left
// behind. Only cancellation leaves tasks behind, and dispatched tasks
// record their own cancellation, so whatever remains was never dispatched:
// Cancelled, unless a dependency already failed or was skipped, which
// makes it Skipped instead. Topological order lets skips propagate.
func (e *Engine) finalize(r *run) {
	for _, id := range r.graph.Flatten() {
		if _, ok := r.results.Get(id); ok {
			continue
		}
		task := r.graph.Task(id)

		var skipReason string
		for _, dep := range r.graph.Dependencies(id) {
			res, ok := r.results.Get(dep)
			if ok && (res.Status == models.TaskStatusFailed || res.Status == models.TaskStatusSkipped) {
				skipReason = fmt.Sprintf("dependency %s %s", dep, res.Status)
				break
			}
		}
		if skipReason != "" {
			e.completeTask(r, task, models.TaskStatusSkipped, "", skipReason)
		} else {
			e.completeTask(r, task, models.TaskStatusCancelled, "", "session cancelled")
		}
	}
}

// eventFor maps terminal task statuses to their event types.
var eventFor = map[models.TaskStatus]EventType{
	models.TaskStatusDone:      EventTaskCompleted,
	models.TaskStatusFailed:    EventTaskFailed,
	models.TaskStatusSkipped:   EventTaskSkipped,
	models.TaskStatusCancelled: EventTaskCancelled,
}

// completeTask records a terminal status on the task and in the result
// set, and emits the matching event. Each task is completed exactly once,
// by the single goroutine responsible for it.
func (e *Engine) completeTask(r *run, task *models.Task, status models.TaskStatus, output, reason string) {
	finished := e.now()
	task.Status = status
	task.Result = output
	task.Error = reason
	task.CompletedAt = &finished

	r.results.put(&models.TaskResult{
		TaskID:     task.ID,
		Profile:    task.Profile,
		Status:     status,
		Output:     output,
		Reason:     reason,
		Wave:       r.wave(task.ID),
		StartedAt:  task.StartedAt,
		FinishedAt: &finished,
	})

	if status == models.TaskStatusFailed {
		log.Printf("[engine] session %s: task %s failed: %s", r.sessionID, task.ID, reason)
	}
	debugLog("session %s: task %s -> %s", r.sessionID, task.ID, status)

	e.emit(Event{
		Type:      eventFor[status],
		SessionID: r.sessionID,
		TaskID:    task.ID,
		Profile:   task.Profile,
		Wave:      r.wave(task.ID),
		Message:   reason,
	})
}

func (e *Engine) emitWaveStarted(r *run, wave, size int) {
	debugLog("session %s: wave %d started, %d tasks", r.sessionID, wave, size)
	e.emit(Event{
		Type:      EventWaveStarted,
		SessionID: r.sessionID,
		Wave:      wave,
		Message:   fmt.Sprintf("%d tasks", size),
	})
}

func (e *Engine) emitWaveCompleted(r *run, wave int) {
	debugLog("session %s: wave %d completed", r.sessionID, wave)
	e.emit(Event{
		Type:      EventWaveCompleted,
		SessionID: r.sessionID,
		Wave:      wave,
	})
}

// emit sends an event without blocking. Slow consumers lose events; the
// drop counter records how many.
func (e *Engine) emit(ev Event) {
	ev.Timestamp = e.now()
	select {
	case e.events <- ev:
	default:
		e.dropped.Add(1)
	}
}

// waveIndex maps every task ID to its wave number.
func waveIndex(g *graph.TaskGraph) map[string]int {
	idx := make(map[string]int, g.Len())
	for i, wave := range g.Waves() {
		for _, id := range wave {
			idx[id] = i
		}
	}
	return idx
}

package coordinator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/kmorand/ensemble/internal/graph"
	"github.com/kmorand/ensemble/internal/worker"
	"github.com/kmorand/ensemble/pkg/models"
)

// testTask builds a pending task whose instructions are its own ID, so test
// workers can route on req.Instructions.
func testTask(id string, deps ...string) *models.Task {
	return &models.Task{
		ID:           id,
		Profile:      models.ProfileDeveloper,
		Instructions: id,
		DependsOn:    deps,
		Status:       models.TaskStatusPending,
		CreatedAt:    time.Now(),
	}
}

// echoAll registers a worker on every profile that echoes the instructions.
func echoAll(t *testing.T) *WorkerRegistry {
	t.Helper()
	reg := NewWorkerRegistry()
	err := reg.RegisterAll(worker.Func(func(ctx context.Context, req worker.Request) (*worker.Result, error) {
		return &worker.Result{Text: "echo: " + req.Instructions, Status: worker.StatusSuccess}, nil
	}))
	if err != nil {
		t.Fatalf("RegisterAll() error = %v", err)
	}
	return reg
}

// registryFunc registers fn on every profile.
func registryFunc(t *testing.T, fn worker.Func) *WorkerRegistry {
	t.Helper()
	reg := NewWorkerRegistry()
	if err := reg.RegisterAll(fn); err != nil {
		t.Fatalf("RegisterAll() error = %v", err)
	}
	return reg
}

func mustBuild(t *testing.T, tasks ...*models.Task) *graph.TaskGraph {
	t.Helper()
	g, err := graph.Build(tasks)
	if err != nil {
		t.Fatalf("graph.Build() error = %v", err)
	}
	return g
}

// waitForStatus polls until the task reaches the wanted status.
func waitForStatus(t *testing.T, rs *ResultSet, id string, want models.TaskStatus) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if r, ok := rs.Get(id); ok && r.Status == want {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("task %s never reached %s", id, want)
}

func TestEngineRun_AdaptiveScenario(t *testing.T) {
	// t1 fails, t2 depends on t1, t3 is independent: t2 is skipped, t3
	// still runs, and the session is partially failed.
	fn := worker.Func(func(ctx context.Context, req worker.Request) (*worker.Result, error) {
		if req.Instructions == "t1" {
			return nil, &worker.Error{Profile: req.Profile, Err: errors.New("boom")}
		}
		return &worker.Result{Text: "ok " + req.Instructions, Status: worker.StatusSuccess}, nil
	})
	e := NewEngine(registryFunc(t, fn), EngineConfig{})
	g := mustBuild(t, testTask("t1"), testTask("t2", "t1"), testTask("t3"))
	rs := NewResultSet()

	if err := e.Run(context.Background(), "sess", g, models.StrategyAdaptive, rs); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	r1, _ := rs.Get("t1")
	if r1 == nil || r1.Status != models.TaskStatusFailed {
		t.Fatalf("t1 = %+v, want failed", r1)
	}
	if !strings.Contains(r1.Reason, "boom") {
		t.Errorf("t1 reason = %q, want it to mention boom", r1.Reason)
	}
	r2, _ := rs.Get("t2")
	if r2 == nil || r2.Status != models.TaskStatusSkipped {
		t.Fatalf("t2 = %+v, want skipped", r2)
	}
	if want := "dependency t1 failed"; r2.Reason != want {
		t.Errorf("t2 reason = %q, want %q", r2.Reason, want)
	}
	r3, _ := rs.Get("t3")
	if r3 == nil || r3.Status != models.TaskStatusDone {
		t.Fatalf("t3 = %+v, want done", r3)
	}
	if r3.Output != "ok t3" {
		t.Errorf("t3 output = %q, want %q", r3.Output, "ok t3")
	}

	// Wave stamps: t1 and t3 in wave 0, t2 in wave 1.
	if r1.Wave != 0 || r3.Wave != 0 || r2.Wave != 1 {
		t.Errorf("waves = t1:%d t2:%d t3:%d, want 0, 1, 0", r1.Wave, r2.Wave, r3.Wave)
	}

	if got := models.SessionStatusFor(rs.Statuses()); got != models.SessionStatusPartiallyFailed {
		t.Errorf("session status = %s, want %s", got, models.SessionStatusPartiallyFailed)
	}
}

func TestEngineRun_SequentialPreservesSubmissionOrder(t *testing.T) {
	var mu sync.Mutex
	var order []string
	fn := worker.Func(func(ctx context.Context, req worker.Request) (*worker.Result, error) {
		mu.Lock()
		order = append(order, req.Instructions)
		mu.Unlock()
		return &worker.Result{Text: "ok", Status: worker.StatusSuccess}, nil
	})
	e := NewEngine(registryFunc(t, fn), EngineConfig{})
	g := mustBuild(t, testTask("t1"), testTask("t2"), testTask("t3"))
	rs := NewResultSet()

	if err := e.Run(context.Background(), "sess", g, models.StrategySequential, rs); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	want := []string{"t1", "t2", "t3"}
	if len(order) != len(want) {
		t.Fatalf("dispatched %d tasks, want %d", len(order), len(want))
	}
	for i := range want {
		if order[i] != want[i] {
			t.Errorf("dispatch order = %v, want %v", order, want)
			break
		}
	}
}

func TestEngineRun_PriorityOrdersDispatchWithinWave(t *testing.T) {
	var mu sync.Mutex
	var order []string
	fn := worker.Func(func(ctx context.Context, req worker.Request) (*worker.Result, error) {
		mu.Lock()
		order = append(order, req.Instructions)
		mu.Unlock()
		return &worker.Result{Text: "ok", Status: worker.StatusSuccess}, nil
	})
	e := NewEngine(registryFunc(t, fn), EngineConfig{})

	low := testTask("low")
	high := testTask("high")
	high.Priority = 5
	mid := testTask("mid")
	mid.Priority = 1
	g := mustBuild(t, low, high, mid)
	rs := NewResultSet()

	if err := e.Run(context.Background(), "sess", g, models.StrategySequential, rs); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	want := []string{"high", "mid", "low"}
	if len(order) != len(want) {
		t.Fatalf("dispatched %d tasks, want %d", len(order), len(want))
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("dispatch order = %v, want %v", order, want)
		}
	}
}

func TestEngineRun_SkipPropagationIsTransitive(t *testing.T) {
	fn := worker.Func(func(ctx context.Context, req worker.Request) (*worker.Result, error) {
		if req.Instructions == "a" {
			return nil, errors.New("a broke")
		}
		return &worker.Result{Text: "ok", Status: worker.StatusSuccess}, nil
	})
	e := NewEngine(registryFunc(t, fn), EngineConfig{})
	// a <- b <- c, plus d <- a: everything downstream of a is skipped.
	g := mustBuild(t, testTask("a"), testTask("b", "a"), testTask("c", "b"), testTask("d", "a"))
	rs := NewResultSet()

	if err := e.Run(context.Background(), "sess", g, models.StrategyAdaptive, rs); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	for _, tt := range []struct {
		id     string
		status models.TaskStatus
		reason string
	}{
		{"a", models.TaskStatusFailed, "a broke"},
		{"b", models.TaskStatusSkipped, "dependency a failed"},
		{"c", models.TaskStatusSkipped, "dependency b skipped"},
		{"d", models.TaskStatusSkipped, "dependency a failed"},
	} {
		r, ok := rs.Get(tt.id)
		if !ok {
			t.Fatalf("no result for %s", tt.id)
		}
		if r.Status != tt.status {
			t.Errorf("%s status = %s, want %s", tt.id, r.Status, tt.status)
		}
		if r.Reason != tt.reason {
			t.Errorf("%s reason = %q, want %q", tt.id, r.Reason, tt.reason)
		}
	}
}

func TestEngineRun_ParallelBoundsInFlight(t *testing.T) {
	const limit = 3
	var inFlight, peak atomic.Int64
	fn := worker.Func(func(ctx context.Context, req worker.Request) (*worker.Result, error) {
		cur := inFlight.Add(1)
		defer inFlight.Add(-1)
		for {
			old := peak.Load()
			if cur <= old || peak.CompareAndSwap(old, cur) {
				break
			}
		}
		time.Sleep(10 * time.Millisecond)
		return &worker.Result{Text: "ok", Status: worker.StatusSuccess}, nil
	})
	e := NewEngine(registryFunc(t, fn), EngineConfig{MaxConcurrentAgents: limit})

	tasks := make([]*models.Task, 0, 8)
	for i := 0; i < 8; i++ {
		tasks = append(tasks, testTask(fmt.Sprintf("t%d", i)))
	}
	g := mustBuild(t, tasks...)
	rs := NewResultSet()

	if err := e.Run(context.Background(), "sess", g, models.StrategyParallel, rs); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if got := peak.Load(); got > limit {
		t.Errorf("peak in-flight = %d, want <= %d", got, limit)
	}
	if got := models.SessionStatusFor(rs.Statuses()); got != models.SessionStatusCompleted {
		t.Errorf("session status = %s, want %s", got, models.SessionStatusCompleted)
	}
}

func TestEngineRun_ParallelIgnoresDependencies(t *testing.T) {
	// Parallel is caller-asserted independence: t2 runs even though its
	// dependency failed, and wave stamps stay zero.
	fn := worker.Func(func(ctx context.Context, req worker.Request) (*worker.Result, error) {
		if req.Instructions == "t1" {
			return nil, errors.New("boom")
		}
		return &worker.Result{Text: "ok", Status: worker.StatusSuccess}, nil
	})
	e := NewEngine(registryFunc(t, fn), EngineConfig{})
	g := mustBuild(t, testTask("t1"), testTask("t2", "t1"))
	rs := NewResultSet()

	if err := e.Run(context.Background(), "sess", g, models.StrategyParallel, rs); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	r2, _ := rs.Get("t2")
	if r2 == nil || r2.Status != models.TaskStatusDone {
		t.Fatalf("t2 = %+v, want done despite failed dependency", r2)
	}
	if r2.Wave != 0 {
		t.Errorf("t2 wave = %d, want 0 under parallel", r2.Wave)
	}
}

func TestEngineRun_TimeoutFailsTask(t *testing.T) {
	fn := worker.Func(func(ctx context.Context, req worker.Request) (*worker.Result, error) {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(5 * time.Second):
			return &worker.Result{Text: "too late", Status: worker.StatusSuccess}, nil
		}
	})
	e := NewEngine(registryFunc(t, fn), EngineConfig{DefaultTaskTimeout: 20 * time.Millisecond})
	g := mustBuild(t, testTask("slow"))
	rs := NewResultSet()

	if err := e.Run(context.Background(), "sess", g, models.StrategyAdaptive, rs); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	r, _ := rs.Get("slow")
	if r == nil || r.Status != models.TaskStatusFailed {
		t.Fatalf("slow = %+v, want failed", r)
	}
	if r.Reason != "timeout" {
		t.Errorf("reason = %q, want %q", r.Reason, "timeout")
	}
}

func TestEngineRun_TaskTimeoutOverridesDefault(t *testing.T) {
	fn := worker.Func(func(ctx context.Context, req worker.Request) (*worker.Result, error) {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(5 * time.Second):
			return &worker.Result{Text: "too late", Status: worker.StatusSuccess}, nil
		}
	})
	// Generous default, tight per-task override: the override must win.
	e := NewEngine(registryFunc(t, fn), EngineConfig{DefaultTaskTimeout: time.Hour})
	task := testTask("slow")
	task.Timeout = 20 * time.Millisecond
	g := mustBuild(t, task)
	rs := NewResultSet()

	start := time.Now()
	if err := e.Run(context.Background(), "sess", g, models.StrategyAdaptive, rs); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Fatalf("Run() took %s, per-task timeout did not apply", elapsed)
	}

	r, _ := rs.Get("slow")
	if r == nil || r.Status != models.TaskStatusFailed || r.Reason != "timeout" {
		t.Fatalf("slow = %+v, want failed with timeout reason", r)
	}
}

func TestEngineRun_CancellationRetainsPartials(t *testing.T) {
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
	g := mustBuild(t, testTask("fast"), testTask("slow"))
	rs := NewResultSet()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	runDone := make(chan error, 1)
	go func() { runDone <- e.Run(ctx, "sess", g, models.StrategyAdaptive, rs) }()

	<-slowStarted
	waitForStatus(t, rs, "fast", models.TaskStatusDone)
	cancel()

	if err := <-runDone; err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	fast, _ := rs.Get("fast")
	if fast == nil || fast.Status != models.TaskStatusDone || fast.Output != "fast done" {
		t.Fatalf("fast = %+v, want retained done result", fast)
	}
	slow, _ := rs.Get("slow")
	if slow == nil || slow.Status != models.TaskStatusCancelled {
		t.Fatalf("slow = %+v, want cancelled", slow)
	}
	if got := models.SessionStatusFor(rs.Statuses()); got != models.SessionStatusPartiallyFailed {
		t.Errorf("session status = %s, want %s", got, models.SessionStatusPartiallyFailed)
	}
}

func TestEngineRun_CancelSkipsFailedSubtreeCancelsRest(t *testing.T) {
	// After cancellation, undispatched tasks become cancelled unless a
	// dependency already failed or was skipped, which skips them instead.
	slowStarted := make(chan struct{})
	fn := worker.Func(func(ctx context.Context, req worker.Request) (*worker.Result, error) {
		switch req.Instructions {
		case "bad":
			return nil, errors.New("bad broke")
		case "slow":
			close(slowStarted)
			<-ctx.Done()
			return nil, ctx.Err()
		default:
			return &worker.Result{Text: "ok", Status: worker.StatusSuccess}, nil
		}
	})
	e := NewEngine(registryFunc(t, fn), EngineConfig{})
	g := mustBuild(t,
		testTask("bad"),
		testTask("slow"),
		testTask("child", "bad"),
		testTask("orphan", "slow"),
	)
	rs := NewResultSet()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	runDone := make(chan error, 1)
	go func() { runDone <- e.Run(ctx, "sess", g, models.StrategyAdaptive, rs) }()

	<-slowStarted
	waitForStatus(t, rs, "bad", models.TaskStatusFailed)
	cancel()

	if err := <-runDone; err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	for _, tt := range []struct {
		id     string
		status models.TaskStatus
	}{
		{"bad", models.TaskStatusFailed},
		{"slow", models.TaskStatusCancelled},
		{"child", models.TaskStatusSkipped},
		{"orphan", models.TaskStatusCancelled},
	} {
		r, ok := rs.Get(tt.id)
		if !ok {
			t.Fatalf("no result for %s", tt.id)
		}
		if r.Status != tt.status {
			t.Errorf("%s status = %s, want %s", tt.id, r.Status, tt.status)
		}
	}

	if got := models.SessionStatusFor(rs.Statuses()); got != models.SessionStatusFailed {
		t.Errorf("session status = %s, want %s", got, models.SessionStatusFailed)
	}
}

func TestEngineRun_AllFailuresFailSession(t *testing.T) {
	fn := worker.Func(func(ctx context.Context, req worker.Request) (*worker.Result, error) {
		return nil, errors.New("no luck")
	})
	e := NewEngine(registryFunc(t, fn), EngineConfig{})
	g := mustBuild(t, testTask("t1"), testTask("t2"))
	rs := NewResultSet()

	if err := e.Run(context.Background(), "sess", g, models.StrategyParallel, rs); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if got := models.SessionStatusFor(rs.Statuses()); got != models.SessionStatusFailed {
		t.Errorf("session status = %s, want %s", got, models.SessionStatusFailed)
	}
}

func TestEngineRun_EmitsLifecycleEvents(t *testing.T) {
	e := NewEngine(echoAll(t), EngineConfig{})
	g := mustBuild(t, testTask("only"))
	rs := NewResultSet()

	if err := e.Run(context.Background(), "sess", g, models.StrategyAdaptive, rs); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	e.Close()

	var types []EventType
	for ev := range e.Events() {
		if ev.SessionID != "sess" {
			t.Errorf("event %s has session %q, want sess", ev.Type, ev.SessionID)
		}
		types = append(types, ev.Type)
	}

	want := []EventType{
		EventSessionStarted,
		EventWaveStarted,
		EventTaskStarted,
		EventTaskCompleted,
		EventWaveCompleted,
		EventSessionDone,
	}
	if len(types) != len(want) {
		t.Fatalf("got %d events %v, want %d", len(types), types, len(want))
	}
	for i := range want {
		if types[i] != want[i] {
			t.Errorf("event[%d] = %s, want %s", i, types[i], want[i])
		}
	}
}

func TestEngineRun_DropsEventsWhenConsumerLags(t *testing.T) {
	e := NewEngine(echoAll(t), EngineConfig{EventBuffer: 1})
	g := mustBuild(t, testTask("t1"), testTask("t2"), testTask("t3"))
	rs := NewResultSet()

	if err := e.Run(context.Background(), "sess", g, models.StrategyAdaptive, rs); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if got := e.DroppedEvents(); got == 0 {
		t.Error("DroppedEvents() = 0, want drops with a full buffer and no consumer")
	}
}

func TestEngineRun_InputValidation(t *testing.T) {
	e := NewEngine(echoAll(t), EngineConfig{})
	g := mustBuild(t, testTask("t1"))

	if err := e.Run(context.Background(), "sess", nil, models.StrategyAdaptive, NewResultSet()); !errors.Is(err, graph.ErrEmptyGraph) {
		t.Errorf("Run(nil graph) error = %v, want %v", err, graph.ErrEmptyGraph)
	}
	if err := e.Run(context.Background(), "sess", g, models.Strategy("zigzag"), NewResultSet()); err == nil {
		t.Error("Run() accepted an unknown strategy")
	}
	if err := e.Run(context.Background(), "sess", g, models.StrategyAdaptive, nil); err == nil {
		t.Error("Run() accepted a nil result set")
	}
}

func TestEngineRun_AfterCloseFails(t *testing.T) {
	e := NewEngine(echoAll(t), EngineConfig{})
	e.Close()

	g := mustBuild(t, testTask("t1"))
	if err := e.Run(context.Background(), "sess", g, models.StrategyAdaptive, NewResultSet()); !errors.Is(err, ErrEngineClosed) {
		t.Errorf("Run() after Close error = %v, want %v", err, ErrEngineClosed)
	}
}

func TestEngineRun_MissingWorkerFailsTask(t *testing.T) {
	reg := NewWorkerRegistry()
	if err := reg.Register(models.ProfileDeveloper, worker.Func(func(ctx context.Context, req worker.Request) (*worker.Result, error) {
		return &worker.Result{Text: "ok", Status: worker.StatusSuccess}, nil
	})); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	e := NewEngine(reg, EngineConfig{})

	analyst := testTask("needs-analyst")
	analyst.Profile = models.ProfileAnalyst
	g := mustBuild(t, testTask("dev-task"), analyst)
	rs := NewResultSet()

	if err := e.Run(context.Background(), "sess", g, models.StrategyAdaptive, rs); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	r, _ := rs.Get("needs-analyst")
	if r == nil || r.Status != models.TaskStatusFailed {
		t.Fatalf("needs-analyst = %+v, want failed", r)
	}
	if !strings.Contains(r.Reason, "no worker registered") {
		t.Errorf("reason = %q, want missing-worker reason", r.Reason)
	}
}

func TestEngineRun_PauseHoldsDispatch(t *testing.T) {
	var started atomic.Int32
	fn := worker.Func(func(ctx context.Context, req worker.Request) (*worker.Result, error) {
		started.Add(1)
		return &worker.Result{Text: "ok", Status: worker.StatusSuccess}, nil
	})
	e := NewEngine(registryFunc(t, fn), EngineConfig{})
	e.Pause()
	if !e.Paused() {
		t.Fatal("engine should report paused")
	}

	g := mustBuild(t, testTask("a"), testTask("b"))
	rs := NewResultSet()

	errCh := make(chan error, 1)
	go func() {
		errCh <- e.Run(context.Background(), "sess", g, models.StrategyAdaptive, rs)
	}()

	time.Sleep(30 * time.Millisecond)
	if n := started.Load(); n != 0 {
		t.Fatalf("%d tasks started while paused, want 0", n)
	}

	e.Resume()
	if e.Paused() {
		t.Error("engine should report resumed")
	}
	if err := <-errCh; err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if n := started.Load(); n != 2 {
		t.Errorf("started = %d, want 2", n)
	}
	for _, id := range []string{"a", "b"} {
		if r, _ := rs.Get(id); r == nil || r.Status != models.TaskStatusDone {
			t.Errorf("%s = %+v, want done", id, r)
		}
	}
}

func TestEngineRun_CancelWhilePaused(t *testing.T) {
	e := NewEngine(echoAll(t), EngineConfig{})
	e.Pause()

	g := mustBuild(t, testTask("a"))
	rs := NewResultSet()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	errCh := make(chan error, 1)
	go func() {
		errCh <- e.Run(ctx, "sess", g, models.StrategyAdaptive, rs)
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()
	if err := <-errCh; err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	r, _ := rs.Get("a")
	if r == nil || r.Status != models.TaskStatusCancelled {
		t.Fatalf("a = %+v, want cancelled", r)
	}
	if r.Reason != "session cancelled" {
		t.Errorf("reason = %q, want %q", r.Reason, "session cancelled")
	}
	if got := models.SessionStatusFor(rs.Statuses()); got != models.SessionStatusFailed {
		t.Errorf("session status = %v, want failed", got)
	}
}

package coordinator

import (
	"context"
	"sync"
)

// pauseGate blocks task dispatch while the engine is paused. Running tasks
// are unaffected; the gate sits in front of the worker pool only.
type pauseGate struct {
	// paused indicates whether dispatch is held.
	paused bool
	// stopped permanently releases the gate; waiters get ErrEngineClosed.
	stopped bool
	// mu protects all fields.
	mu sync.Mutex
	// cond signals waiters when the gate opens or stops.
	cond *sync.Cond
}

func newPauseGate() *pauseGate {
	g := &pauseGate{}
	g.cond = sync.NewCond(&g.mu)
	return g
}

// pause holds future dispatches. Returns true on the closed→paused edge.
func (g *pauseGate) pause() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.paused || g.stopped {
		return false
	}
	g.paused = true
	return true
}

// resume releases held dispatches. Returns true on the paused→open edge.
func (g *pauseGate) resume() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.paused || g.stopped {
		return false
	}
	g.paused = false
	g.cond.Broadcast()
	return true
}

func (g *pauseGate) isPaused() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.paused
}

// stop permanently unblocks all waiters with ErrEngineClosed.
func (g *pauseGate) stop() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.stopped {
		g.stopped = true
		g.cond.Broadcast()
	}
}

// wait blocks until the gate is open, the context is cancelled, or the gate
// is stopped.
func (g *pauseGate) wait(ctx context.Context) error {
	g.mu.Lock()
	if g.paused && !g.stopped {
		// One goroutine to wake the cond when the context is cancelled.
		done := make(chan struct{})
		go func() {
			select {
			case <-ctx.Done():
				g.mu.Lock()
				g.cond.Broadcast()
				g.mu.Unlock()
			case <-done:
			}
		}()

		for g.paused && !g.stopped {
			g.cond.Wait()
			if ctx.Err() != nil {
				close(done)
				g.mu.Unlock()
				return ctx.Err()
			}
		}
		close(done)
	}
	if g.stopped {
		g.mu.Unlock()
		return ErrEngineClosed
	}
	g.mu.Unlock()
	return nil
}

package worker

import (
	"context"
	"fmt"
	"time"
)

// DryRunWorker echoes instructions back without touching the network. It
// backs `ensemble run --dry-run` so the full coordination path can be
// exercised deterministically.
type DryRunWorker struct {
	// Delay simulates work per invocation when non-zero.
	Delay time.Duration
}

// Invoke returns a deterministic echo of the request.
func (w *DryRunWorker) Invoke(ctx context.Context, req Request) (*Result, error) {
	if req.Timeout > 0 {
		if _, set := ctx.Deadline(); !set {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, req.Timeout)
			defer cancel()
		}
	}

	if w.Delay > 0 {
		timer := time.NewTimer(w.Delay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return nil, &Error{Profile: req.Profile, Err: ctx.Err()}
		case <-timer.C:
		}
	} else if err := ctx.Err(); err != nil {
		return nil, &Error{Profile: req.Profile, Err: err}
	}

	text := fmt.Sprintf("[dry-run %s] %s", req.Profile, req.Instructions)
	return &Result{Text: text, Status: StatusSuccess}, nil
}

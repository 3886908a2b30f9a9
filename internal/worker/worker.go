// Package worker defines the capability boundary between the coordination
// engine and the systems that execute task instructions. The engine depends
// on the Worker interface only; the Anthropic and dry-run implementations
// live alongside it.
package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/kmorand/ensemble/pkg/models"
)

// StatusSuccess is the Result status for a completed invocation.
const StatusSuccess = "success"

// Request describes a single unit of work handed to a worker.
type Request struct {
	// Profile selects the persona the worker adopts for this request.
	Profile models.Profile
	// Instructions is the work description.
	Instructions string
	// Timeout bounds the invocation when non-zero. Callers that manage
	// deadlines through the context may leave it zero.
	Timeout time.Duration
}

// Result is the outcome of a successful invocation.
type Result struct {
	// Text is the worker's output.
	Text string
	// Status describes how the invocation ended.
	Status string
}

// Worker executes task instructions on behalf of the coordination engine.
type Worker interface {
	Invoke(ctx context.Context, req Request) (*Result, error)
}

// Func adapts a function to the Worker interface.
type Func func(ctx context.Context, req Request) (*Result, error)

// Invoke calls f.
func (f Func) Invoke(ctx context.Context, req Request) (*Result, error) {
	return f(ctx, req)
}

// Error records a failed invocation along with the profile that handled it.
type Error struct {
	// Profile is the persona the request asked for.
	Profile models.Profile
	// Err is the underlying cause.
	Err error
}

func (e *Error) Error() string {
	return fmt.Sprintf("worker %s: %v", e.Profile, e.Err)
}

// Unwrap returns the underlying cause so errors.Is and errors.As see
// through the worker layer.
func (e *Error) Unwrap() error {
	return e.Err
}

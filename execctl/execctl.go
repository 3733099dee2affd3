// Package execctl is the execution controller: it owns the
// per-execution timeout timer, exposes cooperative cancellation via
// shouldAbort, and bounds the engine-wide number of concurrently
// running steps.
package execctl

import (
	"context"
	"sync"
	"time"

	"github.com/detectforge/runbookcore/core"
)

// AbortReason classifies why shouldAbort started returning true.
type AbortReason string

const (
	AbortNone      AbortReason = ""
	AbortTimeout   AbortReason = "timed_out"
	AbortCancelled AbortReason = "cancelled"
)

// Controller tracks one execution's deadline and cancellation state.
// The orchestrator creates one per execution and calls Stop when the
// execution reaches a terminal state.
type Controller struct {
	mu        sync.Mutex
	ctx       context.Context
	cancel    context.CancelFunc
	reason    AbortReason
	startedAt time.Time
	deadline  time.Time
}

// New starts a controller whose timer fires after maxExecutionTime.
// parent is the caller's context (request lifecycle, test teardown);
// cancelling it also aborts the controller.
func New(parent context.Context, maxExecutionTime time.Duration) *Controller {
	ctx, cancel := context.WithTimeout(parent, maxExecutionTime)
	c := &Controller{
		ctx:       ctx,
		cancel:    cancel,
		startedAt: time.Now(),
		deadline:  time.Now().Add(maxExecutionTime),
	}
	return c
}

// Done returns a channel closed when the controller's timer fires or
// Cancel is called.
func (c *Controller) Done() <-chan struct{} {
	return c.ctx.Done()
}

// Context returns the controller's context, to be threaded into
// adapter calls and the approval gate so they inherit the execution
// deadline.
func (c *Controller) Context() context.Context {
	return c.ctx
}

// Cancel aborts the execution cooperatively: in-flight adapter I/O is
// not interrupted directly, but shouldAbort starts returning true and
// the context is cancelled so any select on it unblocks.
func (c *Controller) Cancel() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.reason == AbortNone {
		c.reason = AbortCancelled
	}
	c.cancel()
}

// Stop releases the controller's timer without marking it aborted.
// Call this once the execution reaches a terminal state on its own.
func (c *Controller) Stop() {
	c.cancel()
}

// ShouldAbort reports whether the execution should stop at the next
// cooperative checkpoint (between steps, between retry attempts), and
// why. Step executors consult this; it never blocks.
func (c *Controller) ShouldAbort() (bool, AbortReason) {
	c.mu.Lock()
	reason := c.reason
	c.mu.Unlock()

	select {
	case <-c.ctx.Done():
		if reason == AbortNone {
			reason = AbortTimeout
		}
		return true, reason
	default:
		return false, AbortNone
	}
}

// Err maps the controller's terminal condition to a sentinel error
// for the caller to wrap into a StepError / Execution.Error.
func (c *Controller) Err() error {
	abort, reason := c.ShouldAbort()
	if !abort {
		return nil
	}
	if reason == AbortCancelled {
		return core.ErrExecutionCancelled
	}
	return core.ErrExecutionTimeout
}

// Deadline returns the execution's absolute deadline.
func (c *Controller) Deadline() time.Time {
	return c.deadline
}

// Elapsed returns how long the controller has been running.
func (c *Controller) Elapsed() time.Duration {
	return time.Since(c.startedAt)
}

// Limiter bounds the engine-wide number of concurrently executing
// steps. It is the only concurrency bound the engine applies; an
// adapter's Capabilities.MaxConcurrency is not enforced.
type Limiter struct {
	sem chan struct{}
}

// NewLimiter returns a Limiter that admits at most ceiling concurrent
// holders. A non-positive ceiling means unlimited.
func NewLimiter(ceiling int) *Limiter {
	if ceiling <= 0 {
		return &Limiter{}
	}
	return &Limiter{sem: make(chan struct{}, ceiling)}
}

// Acquire blocks until a slot is free or ctx is done.
func (l *Limiter) Acquire(ctx context.Context) error {
	if l.sem == nil {
		return nil
	}
	select {
	case l.sem <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Release frees the slot acquired by a matching Acquire call.
func (l *Limiter) Release() {
	if l.sem == nil {
		return
	}
	<-l.sem
}

package admission

import (
	"context"
	"fmt"
	"time"

	"github.com/Iron-Ham/ragbatch/internal/errors"
	"github.com/Iron-Ham/ragbatch/internal/logging"
)

// ExecutorOption configures an Executor.
type ExecutorOption func(*Executor)

// WithEnabled turns permit discipline on or off. A disabled executor runs
// operations directly.
func WithEnabled(enabled bool) ExecutorOption {
	return func(e *Executor) { e.enabled = enabled }
}

// WithCacheRelease sets a hook that frees resource-local caches after an
// exhaustion failure, before the ceiling shrinks.
func WithCacheRelease(fn func()) ExecutorOption {
	return func(e *Executor) { e.release = fn }
}

// WithMaxExhaustionRetries bounds how many exhaustion failures a single Run
// absorbs before giving up. Zero, the default, retries until the operation
// succeeds or fails with some other error.
func WithMaxExhaustionRetries(n int) ExecutorOption {
	return func(e *Executor) { e.maxRetries = n }
}

// WithExecutorLogger sets the executor's logger.
func WithExecutorLogger(l *logging.Logger) ExecutorOption {
	return func(e *Executor) { e.logger = l }
}

// Executor runs operations against a protected resource under a Controller's
// permits, degrading the ceiling and retrying whenever an operation fails
// with errors.ErrResourceExhausted.
type Executor struct {
	ctrl       *Controller
	enabled    bool
	release    func()
	maxRetries int
	logger     *logging.Logger
	throttle   *logging.Throttle

	// for testing
	sleep func(ctx context.Context, d time.Duration) error
}

// NewExecutor creates an Executor bound to ctrl. A nil ctrl means no protected
// resource is present, and operations run unprotected.
func NewExecutor(ctrl *Controller, opts ...ExecutorOption) *Executor {
	e := &Executor{
		ctrl:     ctrl,
		enabled:  true,
		throttle: logging.NewThrottle(nil),
		sleep:    sleepContext,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.logger == nil {
		e.logger = logging.NopLogger()
	}
	return e
}

// Protected reports whether operations run under permit discipline.
func (e *Executor) Protected() bool {
	return e != nil && e.enabled && e.ctrl != nil
}

// Controller returns the underlying controller, or nil.
func (e *Executor) Controller() *Controller {
	if e == nil {
		return nil
	}
	return e.ctrl
}

// Run executes op under one permit. The permit is released on every exit
// path. Resource exhaustion frees caches, shrinks the ceiling, waits out the
// cool-down and retries from permit acquisition. Any other error is returned
// immediately.
func (e *Executor) Run(ctx context.Context, op func(ctx context.Context) error) error {
	if !e.Protected() {
		return op(ctx)
	}

	for attempt := 1; ; attempt++ {
		if err := e.ctrl.Acquire(ctx); err != nil {
			return errors.Wrap(errors.Join(errors.ErrCanceled, err), "waiting for permit")
		}

		err := e.runHeld(ctx, op)
		if err == nil || !errors.IsResourceExhausted(err) {
			return err
		}

		e.throttle.Warn(e.logger, "exhausted", "resource exhausted, degrading",
			"attempt", attempt,
			"error", err.Error(),
		)
		if e.release != nil {
			e.release()
		}
		e.ctrl.TryShrink()

		if e.maxRetries > 0 && attempt >= e.maxRetries {
			return fmt.Errorf("gave up after %d attempts: %w", attempt, err)
		}

		if err := e.sleep(ctx, e.ctrl.CoolDown()); err != nil {
			return errors.Wrap(errors.Join(errors.ErrCanceled, err), "cooling down")
		}
	}
}

// runHeld runs op while a permit is held, releasing it even if op panics.
func (e *Executor) runHeld(ctx context.Context, op func(ctx context.Context) error) error {
	defer e.ctrl.Release()
	return op(ctx)
}

// Do is the value-returning form of Executor.Run.
func Do[T any](ctx context.Context, e *Executor, op func(ctx context.Context) (T, error)) (T, error) {
	var out T
	err := e.Run(ctx, func(ctx context.Context) error {
		v, err := op(ctx)
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	return out, err
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

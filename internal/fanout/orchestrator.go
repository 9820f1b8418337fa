// Package fanout runs a handler over every item of an ordered list on a
// bounded worker pool, isolating per-item failures so that one bad item
// never stops the rest.
package fanout

import (
	"context"
	"fmt"
	"runtime/debug"
	"strings"

	"github.com/sourcegraph/conc/pool"

	"github.com/Iron-Ham/ragbatch/internal/errors"
	"github.com/Iron-Ham/ragbatch/internal/logging"
	"github.com/Iron-Ham/ragbatch/internal/progress"
)

// DefaultConcurrency is the worker count used when none is configured.
const DefaultConcurrency = 4

// Handler processes the item at index.
type Handler[In, Out any] func(ctx context.Context, index int, input In) (Out, error)

// Result is the outcome of one item: either a Value or an Err.
type Result[Out any] struct {
	Value   Out
	Err     error
	Skipped bool
}

// OK reports whether the item succeeded (or was skipped).
func (r Result[Out]) OK() bool { return r.Err == nil }

// Text formats the result for output. Failures become "Error: <msg>" and
// skipped items become the empty string.
func (r Result[Out]) Text() string {
	switch {
	case r.Err != nil:
		return "Error: " + r.Err.Error()
	case r.Skipped:
		return ""
	}
	if s, ok := any(r.Value).(string); ok {
		return s
	}
	return fmt.Sprint(r.Value)
}

// Option configures an Orchestrator.
type Option[In any] func(*options[In])

type options[In any] struct {
	concurrency int
	skip        func(In) bool
	reporter    progress.Reporter
	logger      *logging.Logger
}

// WithConcurrency sets the number of workers.
func WithConcurrency[In any](n int) Option[In] {
	return func(o *options[In]) { o.concurrency = n }
}

// WithSkip sets the predicate for items that bypass the handler.
func WithSkip[In any](skip func(In) bool) Option[In] {
	return func(o *options[In]) { o.skip = skip }
}

// WithReporter sets the progress reporter.
func WithReporter[In any](r progress.Reporter) Option[In] {
	return func(o *options[In]) { o.reporter = r }
}

// WithLogger sets the logger used for per-item failures.
func WithLogger[In any](l *logging.Logger) Option[In] {
	return func(o *options[In]) { o.logger = l }
}

// SkipBlank reports whether s is empty or whitespace only.
func SkipBlank(s string) bool {
	return strings.TrimSpace(s) == ""
}

// Orchestrator applies a Handler to every item of a list concurrently and
// returns the results in input order.
type Orchestrator[In, Out any] struct {
	handler Handler[In, Out]
	opts    options[In]
}

// New creates an Orchestrator for handler.
func New[In, Out any](handler Handler[In, Out], opts ...Option[In]) *Orchestrator[In, Out] {
	if handler == nil {
		panic("fanout: nil handler")
	}
	o := options[In]{concurrency: DefaultConcurrency}
	for _, opt := range opts {
		opt(&o)
	}
	if o.concurrency < 1 {
		o.concurrency = DefaultConcurrency
	}
	if o.reporter == nil {
		o.reporter = progress.Nop{}
	}
	if o.logger == nil {
		o.logger = logging.NopLogger()
	}
	return &Orchestrator[In, Out]{handler: handler, opts: o}
}

// Concurrency returns the worker count.
func (o *Orchestrator[In, Out]) Concurrency() int { return o.opts.concurrency }

// ProcessAll runs every item and returns one Result per item, in input
// order. It never returns early on item failure. Items not yet started when
// ctx is cancelled fail with ErrCanceled without reaching the handler.
func (o *Orchestrator[In, Out]) ProcessAll(ctx context.Context, items []In) []Result[Out] {
	results := make([]Result[Out], len(items))

	o.opts.reporter.Start(len(items))
	defer o.opts.reporter.Finish()

	p := pool.New().WithMaxGoroutines(o.opts.concurrency)
	for i, item := range items {
		p.Go(func() {
			results[i] = o.processOne(ctx, i, item)
			o.opts.reporter.Increment()
		})
	}
	p.Wait()

	return results
}

func (o *Orchestrator[In, Out]) processOne(ctx context.Context, index int, item In) (res Result[Out]) {
	if o.opts.skip != nil && o.opts.skip(item) {
		return Result[Out]{Skipped: true}
	}
	if err := ctx.Err(); err != nil {
		return Result[Out]{Err: errors.Join(errors.ErrCanceled, err)}
	}

	logger := o.opts.logger.WithItem(index)
	defer func() {
		if r := recover(); r != nil {
			logger.Error("item handler panicked",
				"panic", fmt.Sprint(r),
				"stack", string(debug.Stack()),
			)
			res = Result[Out]{Err: fmt.Errorf("panic: %v", r)}
		}
	}()

	out, err := o.handler(ctx, index, item)
	if err != nil {
		logger.Warn("item failed", "error", err.Error())
		return Result[Out]{Err: err}
	}
	return Result[Out]{Value: out}
}

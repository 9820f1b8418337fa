package batch

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Iron-Ham/ragbatch/internal/errors"
	"github.com/Iron-Ham/ragbatch/internal/logging"
)

// Default dispatcher values.
const (
	DefaultBatchSize   = 10
	DefaultConcurrency = 4
	DefaultMaxRetries  = 3
	DefaultBackoff     = time.Second
)

// Producer turns one batch of inputs into outputs aligned 1:1 with the inputs.
type Producer[T, R any] func(ctx context.Context, batch []T) ([]R, error)

// PadFunc returns the value used to fill a short batch. It receives the
// outputs the producer did return, which may be empty.
type PadFunc[R any] func(got []R) R

// Option configures a Dispatcher.
type Option func(*config)

type config struct {
	batchSize   int
	concurrency int
	maxRetries  int
	backoff     time.Duration
	logger      *logging.Logger
	throttle    *logging.Throttle
}

// WithBatchSize sets the maximum number of inputs per producer call.
func WithBatchSize(n int) Option {
	return func(c *config) { c.batchSize = n }
}

// WithConcurrency sets the maximum number of producer calls in flight.
func WithConcurrency(n int) Option {
	return func(c *config) { c.concurrency = n }
}

// WithMaxRetries sets the number of attempts per batch.
func WithMaxRetries(n int) Option {
	return func(c *config) { c.maxRetries = n }
}

// WithBackoff sets the fixed pause between attempts of one batch.
func WithBackoff(d time.Duration) Option {
	return func(c *config) { c.backoff = d }
}

// WithLogger sets the logger used for retries and padding warnings.
func WithLogger(l *logging.Logger) Option {
	return func(c *config) { c.logger = l }
}

// WithThrottle sets the throttle applied to padding warnings.
func WithThrottle(t *logging.Throttle) Option {
	return func(c *config) { c.throttle = t }
}

// Dispatcher splits ordered inputs into batches, runs them concurrently
// against a Producer and reassembles the outputs in input order.
type Dispatcher[T, R any] struct {
	producer Producer[T, R]
	pad      PadFunc[R]
	cfg      config

	// for testing
	sleep func(ctx context.Context, d time.Duration) error
}

// NewDispatcher creates a Dispatcher for producer. A nil pad fills short
// batches with the zero value of R. Non-positive settings fall back to the
// defaults.
func NewDispatcher[T, R any](producer Producer[T, R], pad PadFunc[R], opts ...Option) *Dispatcher[T, R] {
	if producer == nil {
		panic("batch: nil producer")
	}
	cfg := config{
		batchSize:   DefaultBatchSize,
		concurrency: DefaultConcurrency,
		maxRetries:  DefaultMaxRetries,
		backoff:     DefaultBackoff,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.batchSize < 1 {
		cfg.batchSize = DefaultBatchSize
	}
	if cfg.concurrency < 1 {
		cfg.concurrency = DefaultConcurrency
	}
	if cfg.maxRetries < 1 {
		cfg.maxRetries = DefaultMaxRetries
	}
	if cfg.backoff < 0 {
		cfg.backoff = 0
	}
	if cfg.logger == nil {
		cfg.logger = logging.NopLogger()
	}
	if cfg.throttle == nil {
		cfg.throttle = logging.NewThrottle(nil)
	}
	if pad == nil {
		pad = func([]R) R {
			var zero R
			return zero
		}
	}
	return &Dispatcher[T, R]{
		producer: producer,
		pad:      pad,
		cfg:      cfg,
		sleep:    sleepContext,
	}
}

// BatchSize returns the configured batch size.
func (d *Dispatcher[T, R]) BatchSize() int { return d.cfg.batchSize }

// Concurrency returns the configured number of concurrent batches.
func (d *Dispatcher[T, R]) Concurrency() int { return d.cfg.concurrency }

// Dispatch runs every batch of inputs through the producer and returns the
// outputs in input order. If any batch fails on every attempt, the remaining
// batches are cancelled and the BatchError is returned; partial output is
// never returned.
func (d *Dispatcher[T, R]) Dispatch(ctx context.Context, inputs []T) ([]R, error) {
	if len(inputs) == 0 {
		return []R{}, nil
	}

	batches := Split(inputs, d.cfg.batchSize)
	results := make([][]R, len(batches))

	d.cfg.logger.Debug("dispatching batches",
		"inputs", len(inputs),
		"batches", len(batches),
		"batch_size", d.cfg.batchSize,
		"concurrency", d.cfg.concurrency,
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(d.cfg.concurrency)
	for i, b := range batches {
		g.Go(func() error {
			out, err := d.runBatch(gctx, i, b)
			if err != nil {
				return err
			}
			results[i] = out
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := make([]R, 0, len(inputs))
	for i, r := range results {
		if r == nil && len(batches[i]) > 0 {
			return nil, fmt.Errorf("missing results for batch %d: %w", i, errors.ErrBatchFailed)
		}
		out = append(out, r...)
	}
	if len(out) != len(inputs) {
		return nil, fmt.Errorf("dispatched %d inputs, got %d outputs: %w",
			len(inputs), len(out), errors.ErrLengthMismatch)
	}
	return out, nil
}

// DispatchOne runs a single input as a batch of one.
func (d *Dispatcher[T, R]) DispatchOne(ctx context.Context, input T) (R, error) {
	out, err := d.runBatch(ctx, 0, []T{input})
	if err != nil {
		var zero R
		return zero, err
	}
	return out[0], nil
}

// runBatch calls the producer up to maxRetries times, correcting the output
// length on success.
func (d *Dispatcher[T, R]) runBatch(ctx context.Context, index int, batch []T) ([]R, error) {
	logger := d.cfg.logger.WithBatch(index)

	var lastErr error
	for attempt := 1; attempt <= d.cfg.maxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, errors.Wrapf(errors.Join(errors.ErrCanceled, err), "batch %d", index)
		}

		out, err := d.producer(ctx, batch)
		if err == nil {
			return d.fit(logger, batch, out), nil
		}

		lastErr = err
		logger.Warn("batch attempt failed",
			"attempt", attempt,
			"max_retries", d.cfg.maxRetries,
			"error", err.Error(),
		)
		if attempt < d.cfg.maxRetries {
			if err := d.sleep(ctx, d.cfg.backoff); err != nil {
				return nil, errors.Wrapf(errors.Join(errors.ErrCanceled, err), "batch %d", index)
			}
		}
	}

	logger.Error("batch failed on every attempt", "attempts", d.cfg.maxRetries)
	return nil, errors.NewBatchError(index, d.cfg.maxRetries, lastErr)
}

// fit pads a short output with pad values, or truncates a long one, so that
// it lines up with the batch.
func (d *Dispatcher[T, R]) fit(logger *logging.Logger, batch []T, out []R) []R {
	if len(out) == len(batch) {
		return out
	}

	d.cfg.throttle.Warn(logger, "length_mismatch", "producer output length mismatch, correcting",
		"got", len(out),
		"want", len(batch),
	)
	if len(out) > len(batch) {
		return out[:len(batch)]
	}
	fixed := make([]R, len(out), len(batch))
	copy(fixed, out)
	for len(fixed) < len(batch) {
		fixed = append(fixed, d.pad(out))
	}
	return fixed
}

// Split partitions inputs into contiguous batches of at most size elements,
// preserving order. Batch i covers inputs[i*size : (i+1)*size].
func Split[T any](inputs []T, size int) [][]T {
	if size < 1 {
		size = 1
	}
	batches := make([][]T, 0, (len(inputs)+size-1)/size)
	for start := 0; start < len(inputs); start += size {
		end := min(start+size, len(inputs))
		batches = append(batches, inputs[start:end:end])
	}
	return batches
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

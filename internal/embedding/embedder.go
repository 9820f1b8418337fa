// Package embedding turns text into vectors through a remote embedding
// endpoint, in bounded concurrent batches, with an optional vector cache.
package embedding

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/Iron-Ham/ragbatch/internal/admission"
	"github.com/Iron-Ham/ragbatch/internal/batch"
	"github.com/Iron-Ham/ragbatch/internal/cache"
	"github.com/Iron-Ham/ragbatch/internal/logging"
)

// DefaultDimension is the vector size assumed for padding before any
// vector has been observed. Such placeholders are resized once a call
// returns a real vector.
const DefaultDimension = 1024

// Option configures an Embedder.
type Option func(*settings)

type settings struct {
	batchSize   int
	concurrency int
	maxRetries  int
	backoff     time.Duration
	dimension   int
	store       cache.Store
	executor    *admission.Executor
	logger      *logging.Logger
	throttle    *logging.Throttle
}

// WithBatchSize sets the number of texts per request.
func WithBatchSize(n int) Option {
	return func(s *settings) { s.batchSize = n }
}

// WithConcurrency sets the number of requests in flight.
func WithConcurrency(n int) Option {
	return func(s *settings) { s.concurrency = n }
}

// WithMaxRetries sets the attempts per batch.
func WithMaxRetries(n int) Option {
	return func(s *settings) { s.maxRetries = n }
}

// WithBackoff sets the pause between attempts of one batch.
func WithBackoff(d time.Duration) Option {
	return func(s *settings) { s.backoff = d }
}

// WithDimension sets the padding dimension used before a vector is seen.
func WithDimension(n int) Option {
	return func(s *settings) { s.dimension = n }
}

// WithCache sets the vector cache.
func WithCache(store cache.Store) Option {
	return func(s *settings) { s.store = store }
}

// WithExecutor runs every request under admission control. Used when the
// embedding model shares the local accelerator.
func WithExecutor(e *admission.Executor) Option {
	return func(s *settings) { s.executor = e }
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(s *settings) { s.logger = l }
}

// WithThrottle sets the throttle for padding warnings.
func WithThrottle(t *logging.Throttle) Option {
	return func(s *settings) { s.throttle = t }
}

// Embedder embeds documents and queries.
type Embedder struct {
	model      string
	dispatcher *batch.Dispatcher[string, []float32]
	store      cache.Store
	logger     *logging.Logger
	dim        atomic.Int64
}

// NewEmbedder creates an Embedder over producer. model is used for cache
// keys only.
func NewEmbedder(producer batch.Producer[string, []float32], model string, opts ...Option) *Embedder {
	s := settings{dimension: DefaultDimension}
	for _, opt := range opts {
		opt(&s)
	}
	if s.dimension < 1 {
		s.dimension = DefaultDimension
	}
	if s.logger == nil {
		s.logger = logging.NopLogger()
	}

	e := &Embedder{
		model:  model,
		store:  s.store,
		logger: s.logger,
	}
	e.dim.Store(int64(s.dimension))

	if s.executor.Protected() {
		inner := producer
		exec := s.executor
		producer = func(ctx context.Context, texts []string) ([][]float32, error) {
			return admission.Do(ctx, exec, func(ctx context.Context) ([][]float32, error) {
				return inner(ctx, texts)
			})
		}
	}

	e.dispatcher = batch.NewDispatcher(e.observe(producer), e.zeroVector,
		batch.WithBatchSize(s.batchSize),
		batch.WithConcurrency(s.concurrency),
		batch.WithMaxRetries(s.maxRetries),
		batch.WithBackoff(s.backoff),
		batch.WithLogger(s.logger),
		batch.WithThrottle(s.throttle),
	)
	return e
}

// Dimension returns the most recently observed vector size.
func (e *Embedder) Dimension() int { return int(e.dim.Load()) }

// observe records the dimension of the vectors a producer returns.
func (e *Embedder) observe(p batch.Producer[string, []float32]) batch.Producer[string, []float32] {
	return func(ctx context.Context, texts []string) ([][]float32, error) {
		out, err := p(ctx, texts)
		if err == nil {
			for _, v := range out {
				if len(v) > 0 {
					e.dim.Store(int64(len(v)))
					break
				}
			}
		}
		return out, err
	}
}

func (e *Embedder) zeroVector(got [][]float32) []float32 {
	for _, v := range got {
		if len(v) > 0 {
			return make([]float32, len(v))
		}
	}
	return make([]float32, e.Dimension())
}

// repad resizes placeholder vectors that were padded before the model's
// dimension was known, so every vector of vecs has the same length.
func (e *Embedder) repad(vecs [][]float32) {
	dim := 0
	for _, v := range vecs {
		if len(v) > 0 && !isZero(v) {
			dim = len(v)
			break
		}
	}
	if dim == 0 {
		dim = e.Dimension()
	}

	resized, from := 0, 0
	for i, v := range vecs {
		if len(v) != dim && isZero(v) {
			from = len(v)
			vecs[i] = make([]float32, dim)
			resized++
		}
	}
	if resized > 0 {
		e.logger.Warn("placeholder vectors resized to the model dimension",
			"vectors", resized,
			"padded_dimension", from,
			"dimension", dim,
		)
	}
}

// EmbedDocuments returns one vector per text, in order. Cached vectors are
// reused and only the misses are sent to the endpoint.
func (e *Embedder) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	if e.store == nil {
		out, err := e.dispatcher.Dispatch(ctx, texts)
		if err != nil {
			return nil, err
		}
		e.repad(out)
		return out, nil
	}

	keys := cache.Keys(e.model, texts)
	out, err := e.store.GetMany(ctx, keys)
	if err != nil {
		e.logger.Warn("embedding cache lookup failed, embedding everything", "error", err.Error())
		out = make([][]float32, len(texts))
	}

	var missIdx []int
	var missTexts []string
	for i, v := range out {
		if v == nil {
			missIdx = append(missIdx, i)
			missTexts = append(missTexts, texts[i])
		}
	}
	e.logger.Debug("embedding cache lookup",
		"texts", len(texts),
		"hits", len(texts)-len(missIdx),
		"misses", len(missIdx),
	)
	if len(missIdx) == 0 {
		return out, nil
	}

	fresh, err := e.dispatcher.Dispatch(ctx, missTexts)
	if err != nil {
		return nil, err
	}
	e.repad(fresh)

	var storeKeys []string
	var storeVecs [][]float32
	for j, i := range missIdx {
		out[i] = fresh[j]
		// padded vectors are placeholders, not results
		if !isZero(fresh[j]) {
			storeKeys = append(storeKeys, keys[i])
			storeVecs = append(storeVecs, fresh[j])
		}
	}
	if err := e.store.SetMany(ctx, storeKeys, storeVecs); err != nil {
		e.logger.Warn("embedding cache store failed", "error", err.Error())
	}
	// hits fix the dimension when every miss came back empty
	e.repad(out)
	return out, nil
}

// EmbedQuery embeds a single query text.
func (e *Embedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	v, err := e.dispatcher.DispatchOne(ctx, text)
	if err != nil {
		return nil, err
	}
	out := [][]float32{v}
	e.repad(out)
	return out[0], nil
}

func isZero(v []float32) bool {
	for _, f := range v {
		if f != 0 {
			return false
		}
	}
	return true
}

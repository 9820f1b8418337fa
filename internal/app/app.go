// Package app wires the configured components into the two top-level
// flows: building the vector index from the corpus and answering every
// question of a test-case sheet.
package app

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"runtime/debug"
	"time"

	"github.com/Iron-Ham/ragbatch/internal/admission"
	"github.com/Iron-Ham/ragbatch/internal/cache"
	"github.com/Iron-Ham/ragbatch/internal/config"
	"github.com/Iron-Ham/ragbatch/internal/corpus"
	"github.com/Iron-Ham/ragbatch/internal/embedding"
	"github.com/Iron-Ham/ragbatch/internal/errors"
	"github.com/Iron-Ham/ragbatch/internal/fanout"
	"github.com/Iron-Ham/ragbatch/internal/inference"
	"github.com/Iron-Ham/ragbatch/internal/llm"
	"github.com/Iron-Ham/ragbatch/internal/logging"
	"github.com/Iron-Ham/ragbatch/internal/progress"
	"github.com/Iron-Ham/ragbatch/internal/rag"
	"github.com/Iron-Ham/ragbatch/internal/rerank"
	"github.com/Iron-Ham/ragbatch/internal/sheet"
	"github.com/Iron-Ham/ragbatch/internal/vectorstore"
)

// Option configures an App.
type Option func(*App)

// WithReporter sets the progress reporter used by Run. By default a
// terminal bar is shown when stdout is a TTY and log lines otherwise.
func WithReporter(r progress.Reporter) Option {
	return func(a *App) { a.reporter = r }
}

// WithCache replaces the cache selected by cache.backend.
func WithCache(store cache.Store) Option {
	return func(a *App) {
		a.cache = store
		a.cacheSet = true
	}
}

// App holds the components of one ragbatch process.
type App struct {
	cfg        *config.Config
	runID      string
	logger     *logging.Logger
	reporter   progress.Reporter
	cache      cache.Store
	cacheSet   bool
	loader     *corpus.Loader
	store      *vectorstore.Store
	controller *admission.Controller
	executor   *admission.Executor
	embedder   *embedding.Embedder
	engine     *rag.Engine
}

// Summary describes a finished Run.
type Summary struct {
	RunID      string
	Total      int
	Answered   int
	Failed     int
	Skipped    int
	OutputPath string
	Duration   time.Duration
	Admission  admission.Stats
}

// New builds an App from cfg. ctx bounds connecting to external services
// such as the Redis cache.
func New(ctx context.Context, cfg *config.Config, logger *logging.Logger, opts ...Option) (*App, error) {
	if logger == nil {
		logger = logging.NopLogger()
	}
	runID := generateRunID()
	a := &App{
		cfg:    cfg,
		runID:  runID,
		logger: logger.WithRun(runID),
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.reporter == nil {
		a.reporter = progress.ForFile(os.Stdout, "answering", a.logger.WithComponent("progress"))
	}

	loader, err := corpus.NewLoader(cfg.Paths.CorpusDir, cfg.Corpus.Pattern,
		corpus.NewSplitter(cfg.RAG.ChunkSize, cfg.RAG.ChunkOverlap),
		a.logger.WithComponent("corpus"))
	if err != nil {
		return nil, err
	}
	a.loader = loader

	generator, err := newGenerator(cfg.LLM, a.logger.WithComponent("llm"))
	if err != nil {
		return nil, err
	}

	// nothing below can fail once the cache is open
	if !a.cacheSet {
		store, err := openCache(ctx, cfg.Cache, a.logger)
		if err != nil {
			return nil, err
		}
		a.cache = store
	}

	a.controller = admission.NewController(cfg.Execution.Concurrency,
		admission.WithMinCapacity(cfg.Adaptive.MinConcurrency),
		admission.WithStepSize(cfg.Adaptive.StepSize),
		admission.WithCoolDown(cfg.Adaptive.CoolDown()),
		admission.WithLogger(a.logger.WithComponent("admission")),
	)
	a.executor = admission.NewExecutor(a.controller,
		admission.WithEnabled(cfg.Adaptive.Enabled),
		admission.WithMaxExhaustionRetries(cfg.Adaptive.MaxRetries),
		admission.WithCacheRelease(debug.FreeOSMemory),
		admission.WithExecutorLogger(a.logger.WithComponent("admission")),
	)

	modelTransport := inference.NewClient(
		inference.WithTimeout(cfg.Models.Timeout()),
		inference.WithNoProxy(cfg.Models.NoProxy),
		inference.WithInsecureSkipVerify(cfg.Models.InsecureSkipVerify),
	)

	ep := cfg.Models.Embedding()
	embedOpts := []embedding.Option{
		embedding.WithBatchSize(cfg.Models.BatchSize),
		embedding.WithConcurrency(cfg.Models.EmbedConcurrency),
		embedding.WithMaxRetries(cfg.Models.MaxRetries),
		embedding.WithDimension(cfg.Models.Dimension),
		embedding.WithLogger(a.logger.WithComponent("embedding")),
		embedding.WithThrottle(logging.NewThrottle(nil)),
	}
	if a.cache != nil {
		embedOpts = append(embedOpts, embedding.WithCache(a.cache))
	}
	if cfg.Models.EmbeddingMode == config.EmbeddingModeLocal {
		// local models share the GPU with the reranker
		embedOpts = append(embedOpts, embedding.WithExecutor(a.executor))
	}
	a.embedder = embedding.NewEmbedder(
		embedding.NewClient(modelTransport, ep.APIURL, ep.ModelName).Embed,
		ep.ModelName,
		embedOpts...,
	)

	var scorer rag.Scorer
	if cfg.Execution.EnableRerank {
		scorer = rerank.NewClient(modelTransport, cfg.Models.Rerank.APIURL, cfg.Models.Rerank.ModelName)
	}

	a.store = vectorstore.New(cfg.Paths.VectorDBDir)
	a.engine = rag.NewEngine(rag.Config{
		TopKRetrieval: cfg.RAG.TopKRetrieval,
		TopKRerank:    cfg.RAG.TopKRerank,
		Model:         ep.ModelName,
	}, a.embedder, a.store, scorer, generator, a.executor, a.logger.WithComponent("rag"))

	a.logger.Info("ragbatch ready",
		"embedding_mode", cfg.Models.EmbeddingMode,
		"embedding_model", ep.ModelName,
		"llm_mode", cfg.LLM.Mode,
		"rerank", cfg.Execution.EnableRerank,
		"concurrency", cfg.Execution.Concurrency,
		"adaptive", cfg.Adaptive.Enabled,
		"cache", cfg.Cache.Backend,
	)
	return a, nil
}

// RunID returns the identifier attached to every log line of this App.
func (a *App) RunID() string { return a.runID }

// Engine returns the retrieval engine.
func (a *App) Engine() *rag.Engine { return a.engine }

// Close releases the cache connection.
func (a *App) Close() error {
	if a.cache == nil {
		return nil
	}
	return a.cache.Close()
}

// BuildIndex makes the vector index available. Unless rebuild is set, a
// persisted index is loaded instead of re-embedding the corpus. It returns
// the number of indexed chunks.
func (a *App) BuildIndex(ctx context.Context, rebuild bool) (int, error) {
	if !rebuild {
		loaded, err := a.engine.LoadIndex()
		if err != nil {
			a.logger.Warn("persisted index unusable, rebuilding", "error", err.Error())
		} else if loaded {
			return a.store.Len(), nil
		}
	}

	chunks, err := a.loader.LoadChunks()
	if err != nil {
		return 0, err
	}
	if err := a.engine.BuildIndex(ctx, chunks); err != nil {
		return 0, err
	}
	return a.store.Len(), nil
}

// Watch rebuilds the index whenever matching corpus files change, until
// ctx is cancelled. A failed rebuild is logged and the previous index stays
// in place.
func (a *App) Watch(ctx context.Context, onRebuild func(chunks int, err error)) error {
	w, err := corpus.NewWatcher(a.loader, a.cfg.Corpus.WatchDebounce(), a.logger.WithComponent("watcher"))
	if err != nil {
		return err
	}
	defer func() { _ = w.Close() }()

	a.logger.Info("watching corpus", "dir", a.loader.Dir())
	err = w.Run(ctx, func(paths []string) {
		a.logger.Info("corpus changed, rebuilding index", "files", paths)
		n, err := a.BuildIndex(ctx, true)
		if err != nil {
			a.logger.Error("index rebuild failed", "error", err.Error())
		}
		if onRebuild != nil {
			onRebuild(n, err)
		}
	})
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// Run answers every question of the test-case sheet and writes the
// answers column. Questions that fail are recorded as "Error: ..." and do
// not stop the run. If ctx is cancelled, the answers gathered so far are
// still saved.
func (a *App) Run(ctx context.Context) (*Summary, error) {
	start := time.Now()

	if _, err := a.BuildIndex(ctx, false); err != nil {
		return nil, errors.Wrap(err, "prepare index")
	}

	input := a.cfg.Paths.TestCasePath
	table, err := sheet.Read(input)
	if err != nil {
		return nil, err
	}
	questions, err := table.Column(a.cfg.Columns.QuestionCol)
	if err != nil {
		return nil, err
	}

	a.logger.Info("answering questions", "input", input, "questions", len(questions))

	orch := fanout.New(a.engine.Answer,
		fanout.WithConcurrency[string](a.cfg.Execution.Concurrency),
		fanout.WithSkip(fanout.SkipBlank),
		fanout.WithReporter[string](a.reporter),
		fanout.WithLogger[string](a.logger.WithComponent("fanout")),
	)
	results := orch.ProcessAll(ctx, questions)

	summary := &Summary{RunID: a.runID, Total: len(results)}
	answers := make([]string, len(results))
	for i, r := range results {
		answers[i] = r.Text()
		switch {
		case r.Skipped:
			summary.Skipped++
		case r.Err != nil:
			summary.Failed++
		default:
			summary.Answered++
		}
	}

	if err := table.SetColumn(a.cfg.Columns.OutputCol, answers); err != nil {
		return nil, err
	}

	output := a.cfg.Paths.OutputPath
	if output == "" {
		output = sheet.DefaultOutputPath(input)
	}
	written, saveErr := sheet.Save(output, sheet.BackupPath(input), table, a.logger)
	summary.OutputPath = written
	summary.Duration = time.Since(start)
	summary.Admission = a.controller.Stats()

	a.logger.Info("run finished",
		"answered", summary.Answered,
		"failed", summary.Failed,
		"skipped", summary.Skipped,
		"output", summary.OutputPath,
		"duration", summary.Duration.Round(time.Millisecond).String(),
		"final_concurrency", summary.Admission.Current,
		"shrink_events", summary.Admission.ShrinkEvents,
	)

	if saveErr != nil {
		return summary, saveErr
	}
	if err := ctx.Err(); err != nil {
		return summary, errors.Join(errors.ErrCanceled, err)
	}
	return summary, nil
}

// openCache returns the embedding cache selected by cfg.Backend, or nil.
func openCache(ctx context.Context, cfg config.CacheConfig, logger *logging.Logger) (cache.Store, error) {
	switch cfg.Backend {
	case config.CacheBackendMemory:
		return cache.NewMemory(), nil
	case config.CacheBackendRedis:
		store, err := cache.DialRedis(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB,
			cache.WithPrefix(cfg.Redis.Prefix),
			cache.WithTTL(cfg.Redis.TTL()),
		)
		if err != nil {
			return nil, fmt.Errorf("connect embedding cache: %w", err)
		}
		logger.Info("embedding cache connected", "addr", cfg.Redis.Addr, "db", cfg.Redis.DB)
		return store, nil
	default:
		return nil, nil
	}
}

// newGenerator builds the transport and generator for the configured mode.
func newGenerator(cfg config.LLMConfig, logger *logging.Logger) (llm.Generator, error) {
	opts := []inference.Option{inference.WithTimeout(cfg.Timeout())}
	if cfg.RateLimit > 0 {
		opts = append(opts, inference.WithRateLimit(cfg.RateLimit, cfg.RateBurst))
	}

	s := llm.Settings{
		Mode:         cfg.Mode,
		Temperature:  cfg.Temperature,
		MaxTokens:    cfg.MaxTokens,
		SystemPrompt: cfg.SystemPrompt,
	}
	switch cfg.Mode {
	case config.LLMModeExternal:
		s.URL = cfg.External.APIBase
		s.Model = cfg.External.ModelName
		if cfg.External.APIKey != "" {
			opts = append(opts, inference.WithHeader("Authorization", "Bearer "+cfg.External.APIKey))
		}
	default:
		s.URL = cfg.Internal.APIURL
		s.Model = cfg.Internal.ModelName
		opts = append(opts, inference.WithNoProxy(cfg.Internal.NoProxy))
	}

	prompt, err := llm.NewPrompt(cfg.PromptTemplate)
	if err != nil {
		return nil, errors.NewValidationError("invalid prompt template").
			WithField("llm.prompt_template").
			WithCause(err)
	}
	s.Prompt = prompt

	return llm.New(s, inference.NewClient(opts...), logger)
}

// generateRunID creates a short random hex ID
func generateRunID() string {
	b := make([]byte, 4)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}

// Package rag answers questions by retrieval-augmented generation: embed the
// question, search the vector index, optionally rerank the candidates under
// admission control, and generate an answer from the best fragments.
package rag

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/Iron-Ham/ragbatch/internal/admission"
	"github.com/Iron-Ham/ragbatch/internal/corpus"
	"github.com/Iron-Ham/ragbatch/internal/errors"
	"github.com/Iron-Ham/ragbatch/internal/llm"
	"github.com/Iron-Ham/ragbatch/internal/logging"
	"github.com/Iron-Ham/ragbatch/internal/vectorstore"
)

// Default retrieval depths.
const (
	DefaultTopKRetrieval = 10
	DefaultTopKRerank    = 3
)

// Embedder turns text into vectors.
type Embedder interface {
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// Scorer assigns a relevance score to each document for a query.
type Scorer interface {
	Score(ctx context.Context, query string, documents []string) ([]float64, error)
}

// Config holds the engine settings.
type Config struct {
	TopKRetrieval int
	TopKRerank    int
	Model         string // embedding model recorded with the index
}

// Engine is safe for concurrent use once the index is built or loaded.
type Engine struct {
	cfg       Config
	embedder  Embedder
	store     *vectorstore.Store
	scorer    Scorer
	generator llm.Generator
	executor  *admission.Executor
	logger    *logging.Logger
}

// NewEngine creates an Engine. A nil scorer disables reranking, and the
// first TopKRerank search hits are used as they are. executor guards the
// scorer; a nil executor runs it unprotected.
func NewEngine(cfg Config, embedder Embedder, store *vectorstore.Store, scorer Scorer,
	generator llm.Generator, executor *admission.Executor, logger *logging.Logger) *Engine {
	if cfg.TopKRetrieval < 1 {
		cfg.TopKRetrieval = DefaultTopKRetrieval
	}
	if cfg.TopKRerank < 1 {
		cfg.TopKRerank = DefaultTopKRerank
	}
	if logger == nil {
		logger = logging.NopLogger()
	}
	return &Engine{
		cfg:       cfg,
		embedder:  embedder,
		store:     store,
		scorer:    scorer,
		generator: generator,
		executor:  executor,
		logger:    logger,
	}
}

// RerankEnabled reports whether retrieval reranks candidates.
func (e *Engine) RerankEnabled() bool { return e.scorer != nil }

// BuildIndex embeds chunks, replaces the in-memory index and persists it.
// Any batch that fails on every attempt aborts the build and leaves the
// persisted index untouched.
func (e *Engine) BuildIndex(ctx context.Context, chunks []corpus.Chunk) error {
	if len(chunks) == 0 {
		return errors.NewValidationError("corpus produced no chunks").WithField("paths.corpus_dir")
	}

	start := time.Now()
	e.logger.Info("building vector index", "chunks", len(chunks))

	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
	}
	vectors, err := e.embedder.EmbedDocuments(ctx, texts)
	if err != nil {
		return errors.Wrap(err, "embed corpus")
	}

	e.store.Reset()
	if err := e.store.Add(chunks, vectors); err != nil {
		return errors.Wrap(err, "index chunks")
	}
	e.store.SetModel(e.cfg.Model)
	if err := e.store.Save(); err != nil {
		return errors.Wrap(err, "save index")
	}

	e.logger.Info("vector index built",
		"chunks", e.store.Len(),
		"path", e.store.Path(),
		"duration", time.Since(start).Round(time.Millisecond).String(),
	)
	return nil
}

// LoadIndex loads the persisted index. It reports false, without error,
// when none exists.
func (e *Engine) LoadIndex() (bool, error) {
	if !e.store.Exists() {
		return false, nil
	}
	if err := e.store.Load(); err != nil {
		return false, err
	}
	if m := e.store.Model(); m != "" && e.cfg.Model != "" && m != e.cfg.Model {
		e.logger.Warn("index was built with a different embedding model",
			"index_model", m,
			"configured_model", e.cfg.Model,
		)
	}
	e.logger.Info("vector index loaded", "chunks", e.store.Len(), "path", e.store.Path())
	return true, nil
}

// Retrieve returns the most relevant chunks for question, best first.
func (e *Engine) Retrieve(ctx context.Context, question string) ([]corpus.Chunk, error) {
	if e.store.Len() == 0 {
		return nil, errors.ErrIndexNotLoaded
	}

	vector, err := e.embedder.EmbedQuery(ctx, question)
	if err != nil {
		return nil, errors.Wrap(err, "embed question")
	}
	hits, err := e.store.Search(vector, e.cfg.TopKRetrieval)
	if err != nil {
		return nil, errors.Wrap(err, "search index")
	}
	if len(hits) == 0 {
		return []corpus.Chunk{}, nil
	}

	if e.scorer == nil {
		return topChunks(hits, e.cfg.TopKRerank), nil
	}

	docs := make([]string, len(hits))
	for i, h := range hits {
		docs[i] = h.Chunk.Text
	}
	scores, err := admission.Do(ctx, e.executor, func(ctx context.Context) ([]float64, error) {
		return e.scorer.Score(ctx, question, docs)
	})
	if err != nil {
		return nil, errors.Wrap(err, "rerank")
	}
	if len(scores) != len(hits) {
		return nil, fmt.Errorf("rerank returned %d scores for %d candidates: %w",
			len(scores), len(hits), errors.ErrLengthMismatch)
	}

	for i := range hits {
		hits[i].Score = scores[i]
	}
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })
	return topChunks(hits, e.cfg.TopKRerank), nil
}

// Answer retrieves context for question and generates an answer. Its
// signature matches the per-item handler of a fanout orchestrator.
func (e *Engine) Answer(ctx context.Context, index int, question string) (string, error) {
	logger := e.logger.WithItem(index)

	chunks, err := e.Retrieve(ctx, question)
	if err != nil {
		return "", err
	}
	contexts := make([]string, len(chunks))
	for i, c := range chunks {
		contexts[i] = c.Text
	}

	answer, err := e.generator.Generate(ctx, question, contexts)
	if err != nil {
		return "", errors.Wrap(err, "generate")
	}
	logger.Debug("answered", "fragments", len(chunks), "answer_len", len(answer))
	return answer, nil
}

func topChunks(hits []vectorstore.Hit, k int) []corpus.Chunk {
	if k < len(hits) {
		hits = hits[:k]
	}
	out := make([]corpus.Chunk, len(hits))
	for i, h := range hits {
		out[i] = h.Chunk
	}
	return out
}

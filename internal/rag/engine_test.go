package rag

import (
	"context"
	"path/filepath"
	"reflect"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Iron-Ham/ragbatch/internal/admission"
	"github.com/Iron-Ham/ragbatch/internal/corpus"
	"github.com/Iron-Ham/ragbatch/internal/errors"
	"github.com/Iron-Ham/ragbatch/internal/vectorstore"
)

// fakeEmbedder maps a text to a 3-dim vector by keyword.
type fakeEmbedder struct{ fail bool }

func (f fakeEmbedder) vector(text string) []float32 {
	v := []float32{0.01, 0.01, 0.01}
	if strings.Contains(text, "cat") {
		v[0] = 1
	}
	if strings.Contains(text, "dog") {
		v[1] = 1
	}
	if strings.Contains(text, "fish") {
		v[2] = 1
	}
	return v
}

func (f fakeEmbedder) EmbedDocuments(_ context.Context, texts []string) ([][]float32, error) {
	if f.fail {
		return nil, errors.NewBatchError(0, 3, errors.New("connection refused"))
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = f.vector(t)
	}
	return out, nil
}

func (f fakeEmbedder) EmbedQuery(_ context.Context, text string) ([]float32, error) {
	return f.vector(text), nil
}

type fakeScorer struct {
	calls  atomic.Int32
	failN  int32 // first failN calls fail with exhaustion
	scores map[string]float64
}

func (f *fakeScorer) Score(_ context.Context, _ string, docs []string) ([]float64, error) {
	if f.calls.Add(1) <= f.failN {
		return nil, errors.ErrResourceExhausted
	}
	out := make([]float64, len(docs))
	for i, d := range docs {
		out[i] = f.scores[d]
	}
	return out, nil
}

type fakeGenerator struct{}

func (fakeGenerator) Generate(_ context.Context, question string, contexts []string) (string, error) {
	if question == "explode" {
		return "", errors.New("model offline")
	}
	return question + " <- " + strings.Join(contexts, " | "), nil
}

var testChunks = []corpus.Chunk{
	{ID: "a#0", Source: "a.txt", Text: "the cat sat"},
	{ID: "a#1", Source: "a.txt", Text: "the dog ran"},
	{ID: "b#0", Source: "b.txt", Text: "a fish swam"},
	{ID: "b#1", Source: "b.txt", Text: "cat and dog"},
}

func newTestEngine(t *testing.T, scorer Scorer, exec *admission.Executor, cfg Config) *Engine {
	t.Helper()
	store := vectorstore.New(t.TempDir())
	e := NewEngine(cfg, fakeEmbedder{}, store, scorer, fakeGenerator{}, exec, nil)
	if err := e.BuildIndex(context.Background(), testChunks); err != nil {
		t.Fatalf("BuildIndex() error = %v", err)
	}
	return e
}

func ids(chunks []corpus.Chunk) []string {
	out := make([]string, len(chunks))
	for i, c := range chunks {
		out[i] = c.ID
	}
	return out
}

func TestRetrieve_WithoutRerank(t *testing.T) {
	e := newTestEngine(t, nil, nil, Config{TopKRetrieval: 3, TopKRerank: 2})
	if e.RerankEnabled() {
		t.Fatal("RerankEnabled() = true with nil scorer")
	}

	got, err := e.Retrieve(context.Background(), "where is the cat")
	if err != nil {
		t.Fatalf("Retrieve() error = %v", err)
	}
	if want := []string{"a#0", "b#1"}; !reflect.DeepEqual(ids(got), want) {
		t.Errorf("Retrieve() = %v, want %v", ids(got), want)
	}
}

func TestRetrieve_Rerank(t *testing.T) {
	scorer := &fakeScorer{scores: map[string]float64{
		"the cat sat": 0.2,
		"cat and dog": 0.9,
		"the dog ran": 0.5,
	}}
	e := newTestEngine(t, scorer, nil, Config{TopKRetrieval: 3, TopKRerank: 2})

	got, err := e.Retrieve(context.Background(), "cat dog")
	if err != nil {
		t.Fatalf("Retrieve() error = %v", err)
	}
	if want := []string{"b#1", "a#1"}; !reflect.DeepEqual(ids(got), want) {
		t.Errorf("Retrieve() = %v, want %v", ids(got), want)
	}
}

func TestRetrieve_RerankDegradesOnExhaustion(t *testing.T) {
	scorer := &fakeScorer{failN: 2, scores: map[string]float64{"the cat sat": 1}}
	ctrl := admission.NewController(8, admission.WithStepSize(2), admission.WithCoolDown(time.Millisecond))
	exec := admission.NewExecutor(ctrl)
	e := newTestEngine(t, scorer, exec, Config{TopKRetrieval: 2, TopKRerank: 1})

	got, err := e.Retrieve(context.Background(), "cat")
	if err != nil {
		t.Fatalf("Retrieve() error = %v", err)
	}
	if ids(got)[0] != "a#0" {
		t.Errorf("Retrieve() = %v", ids(got))
	}
	if scorer.calls.Load() != 3 {
		t.Errorf("scorer calls = %d, want 3", scorer.calls.Load())
	}
	if s := ctrl.Stats(); s.Current != 4 || s.Held != 0 {
		t.Errorf("controller stats = %+v, want Current 4 and nothing held", s)
	}
}

func TestRetrieve_IndexNotLoaded(t *testing.T) {
	e := NewEngine(Config{}, fakeEmbedder{}, vectorstore.New(t.TempDir()), nil, fakeGenerator{}, nil, nil)
	if _, err := e.Retrieve(context.Background(), "q"); !errors.Is(err, errors.ErrIndexNotLoaded) {
		t.Errorf("Retrieve() error = %v, want ErrIndexNotLoaded", err)
	}
}

func TestAnswer(t *testing.T) {
	e := newTestEngine(t, nil, nil, Config{TopKRetrieval: 4, TopKRerank: 1})

	got, err := e.Answer(context.Background(), 0, "fish")
	if err != nil {
		t.Fatalf("Answer() error = %v", err)
	}
	if got != "fish <- a fish swam" {
		t.Errorf("Answer() = %q", got)
	}

	if _, err := e.Answer(context.Background(), 1, "explode"); err == nil || !strings.Contains(err.Error(), "model offline") {
		t.Errorf("Answer() error = %v, want generator failure", err)
	}
}

func TestLoadIndex(t *testing.T) {
	dir := t.TempDir()
	cfg := Config{Model: "bge-m3"}

	e := NewEngine(cfg, fakeEmbedder{}, vectorstore.New(dir), nil, fakeGenerator{}, nil, nil)
	ok, err := e.LoadIndex()
	if ok || err != nil {
		t.Fatalf("LoadIndex() on empty dir = %v, %v; want false, nil", ok, err)
	}
	if err := e.BuildIndex(context.Background(), testChunks); err != nil {
		t.Fatal(err)
	}

	reloaded := NewEngine(cfg, fakeEmbedder{}, vectorstore.New(dir), nil, fakeGenerator{}, nil, nil)
	ok, err = reloaded.LoadIndex()
	if !ok || err != nil {
		t.Fatalf("LoadIndex() = %v, %v; want true, nil", ok, err)
	}
	got, err := reloaded.Retrieve(context.Background(), "dog")
	if err != nil {
		t.Fatal(err)
	}
	if got[0].Text != "the dog ran" {
		t.Errorf("Retrieve() after reload = %v", ids(got))
	}
}

func TestBuildIndex_FailsClosed(t *testing.T) {
	dir := t.TempDir()
	store := vectorstore.New(dir)
	e := NewEngine(Config{}, fakeEmbedder{fail: true}, store, nil, fakeGenerator{}, nil, nil)

	err := e.BuildIndex(context.Background(), testChunks)
	if !errors.Is(err, errors.ErrBatchFailed) {
		t.Fatalf("BuildIndex() error = %v, want ErrBatchFailed", err)
	}
	if store.Exists() {
		t.Errorf("index file %s written after a failed build", filepath.Join(dir, vectorstore.IndexFileName))
	}
}

func TestBuildIndex_EmptyCorpus(t *testing.T) {
	e := NewEngine(Config{}, fakeEmbedder{}, vectorstore.New(t.TempDir()), nil, fakeGenerator{}, nil, nil)
	if err := e.BuildIndex(context.Background(), nil); !errors.Is(err, &errors.ValidationError{}) {
		t.Errorf("BuildIndex(nil) error = %v, want ValidationError", err)
	}
}

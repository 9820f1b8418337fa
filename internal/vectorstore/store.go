// Package vectorstore holds chunk embeddings in memory, answers
// nearest-neighbour queries by cosine similarity and persists the index to a
// single JSON file.
package vectorstore

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/Iron-Ham/ragbatch/internal/corpus"
	"github.com/Iron-Ham/ragbatch/internal/errors"
)

// IndexFileName is the file written inside the index directory.
const IndexFileName = "index.json"

const formatVersion = 1

// Hit is a search result.
type Hit struct {
	Chunk corpus.Chunk
	Score float64
}

type entry struct {
	corpus.Chunk
	Vector []float32 `json:"vector"`
	norm   float64
}

type indexFile struct {
	Version   int       `json:"version"`
	Model     string    `json:"model"`
	Dimension int       `json:"dimension"`
	CreatedAt time.Time `json:"created_at"`
	Entries   []entry   `json:"entries"`
}

// Store is an in-memory vector index. It is safe for concurrent use.
type Store struct {
	dir string

	mu        sync.RWMutex
	model     string
	dimension int
	entries   []entry
}

// New creates an empty Store persisted under dir.
func New(dir string) *Store {
	return &Store{dir: dir}
}

// Path returns the index file path.
func (s *Store) Path() string {
	return filepath.Join(s.dir, IndexFileName)
}

// Exists reports whether a persisted index is present.
func (s *Store) Exists() bool {
	info, err := os.Stat(s.Path())
	return err == nil && !info.IsDir()
}

// SetModel records the embedding model the vectors come from.
func (s *Store) SetModel(model string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.model = model
}

// Model returns the embedding model recorded with the index.
func (s *Store) Model() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.model
}

// Len returns the number of indexed chunks.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// Reset drops every entry.
func (s *Store) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = nil
	s.dimension = 0
}

// Add indexes chunks[i] with vectors[i]. All vectors must share one
// dimension.
func (s *Store) Add(chunks []corpus.Chunk, vectors [][]float32) error {
	if len(chunks) != len(vectors) {
		return fmt.Errorf("add %d chunks with %d vectors: %w", len(chunks), len(vectors), errors.ErrLengthMismatch)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	dim := s.dimension
	for i, v := range vectors {
		if dim == 0 {
			dim = len(v)
		}
		if len(v) != dim {
			return errors.NewValidationError("vector dimension mismatch").
				WithField(chunks[i].ID).
				WithValue(fmt.Sprintf("%d != %d", len(v), dim))
		}
	}
	s.dimension = dim
	for i, c := range chunks {
		s.entries = append(s.entries, entry{Chunk: c, Vector: vectors[i], norm: norm(vectors[i])})
	}
	return nil
}

// Search returns up to k chunks most similar to vector, best first. Ties
// keep insertion order.
func (s *Store) Search(vector []float32, k int) ([]Hit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if len(s.entries) == 0 {
		return nil, errors.ErrIndexNotLoaded
	}
	if len(vector) != s.dimension {
		return nil, errors.NewValidationError("query dimension mismatch").
			WithValue(fmt.Sprintf("%d != %d", len(vector), s.dimension))
	}
	if k <= 0 {
		return []Hit{}, nil
	}

	qn := norm(vector)
	hits := make([]Hit, len(s.entries))
	for i, e := range s.entries {
		hits[i] = Hit{Chunk: e.Chunk, Score: cosine(vector, qn, e.Vector, e.norm)}
	}
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })
	if k < len(hits) {
		hits = hits[:k]
	}
	return hits, nil
}

// Save writes the index to disk, replacing any previous file atomically.
func (s *Store) Save() error {
	s.mu.RLock()
	file := indexFile{
		Version:   formatVersion,
		Model:     s.model,
		Dimension: s.dimension,
		CreatedAt: time.Now().UTC(),
		Entries:   s.entries,
	}
	data, err := json.Marshal(file)
	s.mu.RUnlock()
	if err != nil {
		return fmt.Errorf("encode index: %w", err)
	}

	if err := os.MkdirAll(s.dir, 0755); err != nil {
		return fmt.Errorf("create index directory: %w", err)
	}
	tmp, err := os.CreateTemp(s.dir, IndexFileName+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp index file: %w", err)
	}
	defer os.Remove(tmp.Name()) // no-op after a successful rename

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write index: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close index: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.Path()); err != nil {
		return fmt.Errorf("replace index: %w", err)
	}
	return nil
}

// Load replaces the in-memory index with the persisted one. It returns
// errors.ErrIndexNotFound when no index file exists.
func (s *Store) Load() error {
	data, err := os.ReadFile(s.Path())
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%s: %w", s.Path(), errors.ErrIndexNotFound)
		}
		return fmt.Errorf("read index: %w", err)
	}

	var file indexFile
	if err := json.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("decode index %s: %w", s.Path(), err)
	}
	if file.Version != formatVersion {
		return fmt.Errorf("index %s has format version %d, want %d", s.Path(), file.Version, formatVersion)
	}
	for i := range file.Entries {
		if len(file.Entries[i].Vector) != file.Dimension {
			return fmt.Errorf("index %s: entry %s has dimension %d, want %d",
				s.Path(), file.Entries[i].ID, len(file.Entries[i].Vector), file.Dimension)
		}
		file.Entries[i].norm = norm(file.Entries[i].Vector)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.model = file.Model
	s.dimension = file.Dimension
	s.entries = file.Entries
	return nil
}

func norm(v []float32) float64 {
	var sum float64
	for _, f := range v {
		sum += float64(f) * float64(f)
	}
	return math.Sqrt(sum)
}

func cosine(a []float32, an float64, b []float32, bn float64) float64 {
	if an == 0 || bn == 0 {
		return 0
	}
	var dot float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
	}
	return dot / (an * bn)
}

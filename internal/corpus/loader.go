// Package corpus reads the document corpus from disk and splits it into
// chunks for indexing.
package corpus

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/gobwas/glob"

	"github.com/Iron-Ham/ragbatch/internal/logging"
)

// DefaultPattern selects the files loaded from the corpus directory.
const DefaultPattern = "*.txt"

// Document is one file of the corpus.
type Document struct {
	Source string // path relative to the corpus directory, slash-separated
	Text   string
}

// Chunk is an indexable piece of a Document.
type Chunk struct {
	ID     string `json:"id"`
	Source string `json:"source"`
	Index  int    `json:"index"`
	Text   string `json:"text"`
}

// Loader loads documents that match a glob pattern under a directory.
type Loader struct {
	dir      string
	pattern  string
	match    glob.Glob
	splitter *Splitter
	logger   *logging.Logger
}

// NewLoader creates a Loader for dir. The pattern is matched against
// slash-separated paths relative to dir, and '*' does not cross directory
// boundaries; use "**.txt" to descend into subdirectories.
func NewLoader(dir, pattern string, splitter *Splitter, logger *logging.Logger) (*Loader, error) {
	if pattern == "" {
		pattern = DefaultPattern
	}
	g, err := glob.Compile(pattern, '/')
	if err != nil {
		return nil, fmt.Errorf("invalid corpus pattern %q: %w", pattern, err)
	}
	if logger == nil {
		logger = logging.NopLogger()
	}
	return &Loader{
		dir:      dir,
		pattern:  pattern,
		match:    g,
		splitter: splitter,
		logger:   logger,
	}, nil
}

// Dir returns the corpus directory.
func (l *Loader) Dir() string { return l.dir }

// Matches reports whether the file at rel (relative to the corpus
// directory) is part of the corpus.
func (l *Loader) Matches(rel string) bool {
	return l.match.Match(filepath.ToSlash(rel))
}

// Load reads every matching file, sorted by path. Files that cannot be read
// or are not valid UTF-8 are skipped with a warning.
func (l *Loader) Load() ([]Document, error) {
	info, err := os.Stat(l.dir)
	if err != nil {
		return nil, fmt.Errorf("corpus directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("corpus path %s is not a directory", l.dir)
	}

	var paths []string
	err = filepath.WalkDir(l.dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			l.logger.Warn("skipping unreadable corpus path", "path", path, "error", err.Error())
			if d != nil && d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			if path != l.dir && strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}
			return nil
		}
		rel, err := filepath.Rel(l.dir, path)
		if err != nil {
			return nil
		}
		if l.Matches(rel) {
			paths = append(paths, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk corpus directory: %w", err)
	}
	sort.Strings(paths)

	l.logger.Info("corpus files found", "dir", l.dir, "pattern", l.pattern, "files", len(paths))

	docs := make([]Document, 0, len(paths))
	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			l.logger.Warn("skipping unreadable corpus file", "path", path, "error", err.Error())
			continue
		}
		if !utf8.Valid(data) {
			l.logger.Warn("skipping corpus file that is not UTF-8", "path", path)
			continue
		}
		rel, _ := filepath.Rel(l.dir, path)
		docs = append(docs, Document{Source: filepath.ToSlash(rel), Text: string(data)})
	}
	return docs, nil
}

// Chunk splits documents into chunks, in document order.
func (l *Loader) Chunk(docs []Document) []Chunk {
	var chunks []Chunk
	for _, doc := range docs {
		for i, text := range l.splitter.Split(doc.Text) {
			chunks = append(chunks, Chunk{
				ID:     fmt.Sprintf("%s#%d", doc.Source, i),
				Source: doc.Source,
				Index:  i,
				Text:   text,
			})
		}
	}
	return chunks
}

// LoadChunks loads the corpus and splits it.
func (l *Loader) LoadChunks() ([]Chunk, error) {
	docs, err := l.Load()
	if err != nil {
		return nil, err
	}
	chunks := l.Chunk(docs)
	l.logger.Info("corpus chunked", "documents", len(docs), "chunks", len(chunks))
	return chunks, nil
}

package corpus

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/Iron-Ham/ragbatch/internal/logging"
)

// DefaultDebounce is how long the watcher waits for events to settle.
const DefaultDebounce = 500 * time.Millisecond

// Watcher reports changes to corpus files.
type Watcher struct {
	watcher  *fsnotify.Watcher
	loader   *Loader
	debounce time.Duration
	logger   *logging.Logger
}

// NewWatcher watches the loader's directory and its subdirectories.
func NewWatcher(loader *Loader, debounce time.Duration, logger *logging.Logger) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	if logger == nil {
		logger = logging.NopLogger()
	}
	w := &Watcher{
		watcher:  fw,
		loader:   loader,
		debounce: debounce,
		logger:   logger,
	}
	if err := w.watchDirRecursive(loader.Dir()); err != nil {
		_ = fw.Close()
		return nil, err
	}
	return w, nil
}

// watchDirRecursive adds root and every non-hidden directory below it.
func (w *Watcher) watchDirRecursive(root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if path != root && strings.HasPrefix(d.Name(), ".") {
			return filepath.SkipDir
		}
		return w.watcher.Add(path)
	})
}

// Run delivers batches of changed corpus paths (relative, sorted) to
// onChange until ctx is done. Events are collected until none arrive for
// the debounce interval. onChange runs on the watcher goroutine.
func (w *Watcher) Run(ctx context.Context, onChange func(paths []string)) error {
	debounceTimer := time.NewTimer(0)
	<-debounceTimer.C // drain initial timer

	pending := make(map[string]struct{})

	for {
		select {
		case <-ctx.Done():
			debounceTimer.Stop()
			return ctx.Err()

		case event, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			if event.Op&fsnotify.Create != 0 {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					if err := w.watchDirRecursive(event.Name); err != nil {
						w.logger.Warn("failed to watch new directory", "path", event.Name, "error", err.Error())
					}
					continue
				}
			}
			rel, err := filepath.Rel(w.loader.Dir(), event.Name)
			if err != nil || !w.loader.Matches(rel) {
				continue
			}
			pending[filepath.ToSlash(rel)] = struct{}{}
			debounceTimer.Reset(w.debounce)

		case <-debounceTimer.C:
			if len(pending) == 0 {
				continue
			}
			paths := make([]string, 0, len(pending))
			for p := range pending {
				paths = append(paths, p)
			}
			sort.Strings(paths)
			pending = make(map[string]struct{})
			w.logger.Info("corpus changed", "files", len(paths))
			onChange(paths)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("corpus watcher error", "error", err.Error())
		}
	}
}

// Close stops watching.
func (w *Watcher) Close() error {
	return w.watcher.Close()
}

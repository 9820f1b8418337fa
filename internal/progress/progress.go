// Package progress reports completion of a fixed number of work items,
// either as a terminal progress bar or as periodic log lines.
package progress

import (
	"os"
	"sync"
	"time"

	"golang.org/x/term"

	"github.com/Iron-Ham/ragbatch/internal/logging"
)

// Reporter receives completion events for a run of total items.
// Increment may be called from many goroutines.
type Reporter interface {
	Start(total int)
	Increment()
	Finish()
}

// Nop is a Reporter that does nothing.
type Nop struct{}

func (Nop) Start(int)  {}
func (Nop) Increment() {}
func (Nop) Finish()    {}

// DefaultLogEvery is how many completions pass between two Log reports.
const DefaultLogEvery = 10

// Log reports progress as structured log lines.
type Log struct {
	logger *logging.Logger
	every  int

	mu        sync.Mutex
	total     int
	completed int
	started   time.Time
}

// NewLog creates a Log reporter that emits a line every n completions.
func NewLog(logger *logging.Logger, every int) *Log {
	if logger == nil {
		logger = logging.NopLogger()
	}
	if every < 1 {
		every = DefaultLogEvery
	}
	return &Log{logger: logger, every: every}
}

// Start resets the counters.
func (l *Log) Start(total int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.total = total
	l.completed = 0
	l.started = time.Now()
	l.logger.Info("processing started", "total", total)
}

// Increment records one completion.
func (l *Log) Increment() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.completed++
	if l.completed%l.every == 0 && l.completed < l.total {
		l.logger.Info("progress",
			"completed", l.completed,
			"total", l.total,
			"percent", percent(l.completed, l.total),
		)
	}
}

// Finish logs the final count and elapsed time.
func (l *Log) Finish() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.logger.Info("processing finished",
		"completed", l.completed,
		"total", l.total,
		"elapsed", time.Since(l.started).Round(time.Millisecond).String(),
	)
}

// Completed returns the number of completions recorded since Start.
func (l *Log) Completed() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.completed
}

// ForFile returns a Terminal reporter when f is a terminal and a Log
// reporter otherwise.
func ForFile(f *os.File, label string, logger *logging.Logger) Reporter {
	if f != nil && term.IsTerminal(int(f.Fd())) {
		return NewTerminal(f, label)
	}
	return NewLog(logger, DefaultLogEvery)
}

func percent(completed, total int) float64 {
	if total <= 0 {
		return 1
	}
	return float64(completed) / float64(total)
}

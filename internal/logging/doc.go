// Package logging provides structured logging for ragbatch runs.
//
// This package wraps Go's log/slog to provide JSON-formatted logs with
// context propagation, so a batch run over thousands of questions can be
// reconstructed after the fact: which item failed, which embedding batch was
// padded, when the admission ceiling shrank.
//
// # Thread Safety
//
// All types in this package are safe for concurrent use. The [Logger] type
// uses Go's slog internally which is designed for concurrent access. Child
// loggers created via With* methods share the underlying writer safely.
//
// # Basic Usage
//
//	logger, err := logging.NewLogger("/path/to/logs", "INFO")
//	if err != nil {
//	    return err
//	}
//	defer logger.Close()
//
//	runLogger := logger.WithRun("run-20260101-120000").WithComponent("fanout")
//	runLogger.WithItem(42).Warn("handler failed", "error", err)
//
// Output:
//
//	{"time":"...","level":"WARN","msg":"handler failed","run_id":"run-20260101-120000","component":"fanout","item":42,"error":"..."}
//
// # Throttling
//
// Hot paths that may warn for every batch use a [Throttle], which applies
// per-category sliding-window rate limits and reports how many messages were
// suppressed in between:
//
//	throttle := logging.NewThrottle(nil)
//	throttle.Warn(logger, "pad", "producer returned too few outputs", "got", 8, "want", 10)
//
// # Rotation and Reading
//
// File loggers write through a [RotatingWriter], which renames ragbatch.log
// to ragbatch.log.1 (optionally gzipped) once it reaches the configured
// size. [ReadEntries] reads the live file and its backups back in time
// order for the logs and stats commands:
//
//	entries, err := logging.ReadEntries(dir)
//	warnings := logging.FilterEntries(entries, logging.Filter{Level: logging.LevelWarn})
//
// # Testing
//
// For testing, use [NopLogger] to discard all log output, or
// [NewWriterLogger] with a bytes.Buffer to assert on emitted lines.
package logging

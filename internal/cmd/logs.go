package cmd

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/Iron-Ham/ragbatch/internal/config"
	"github.com/Iron-Ham/ragbatch/internal/logging"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

var logsCmd = &cobra.Command{
	Use:   "logs",
	Short: "View run logs",
	Long: `View and filter the JSON log written to logging.dir.

By default, shows the last 50 entries of the most recent run. Rotated
backups (including gzipped ones) are read as well.

Examples:
  # Warnings and errors of the latest run
  ragbatch logs --level warn

  # Everything the admission controller logged in a given run
  ragbatch logs -r 3fa9c2d1 --component admission -n 0

  # Follow the live log while a run is in progress
  ragbatch logs -f

  # Export the latest run as CSV
  ragbatch logs -n 0 --export run.csv --format csv`,
	Args: cobra.NoArgs,
	RunE: runLogs,
}

var (
	logsRunID     string
	logsAllRuns   bool
	logsTail      int
	logsFollow    bool
	logsLevel     string
	logsSince     string
	logsGrep      string
	logsComponent string
	logsExport    string
	logsFormat    string
)

func init() {
	rootCmd.AddCommand(logsCmd)

	logsCmd.Flags().StringVarP(&logsRunID, "run", "r", "", "run ID (default: most recent)")
	logsCmd.Flags().BoolVar(&logsAllRuns, "all", false, "include every run")
	logsCmd.Flags().IntVarP(&logsTail, "tail", "n", 50, "number of entries to show (0 for all)")
	logsCmd.Flags().BoolVarP(&logsFollow, "follow", "f", false, "follow log output (like tail -f)")
	logsCmd.Flags().StringVar(&logsLevel, "level", "", "minimum level (debug/info/warn/error)")
	logsCmd.Flags().StringVar(&logsSince, "since", "", "only entries newer than this duration (e.g. 1h, 30m)")
	logsCmd.Flags().StringVar(&logsGrep, "grep", "", "only entries whose message or attributes match this regex")
	logsCmd.Flags().StringVar(&logsComponent, "component", "", "only entries from this component (e.g. admission, batch, fanout)")
	logsCmd.Flags().StringVar(&logsExport, "export", "", "write matching entries to this file instead of the terminal")
	logsCmd.Flags().StringVar(&logsFormat, "format", logging.FormatText, "export format: text, json or csv")
}

func runLogs(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if cfg.Logging.Dir == "" {
		return fmt.Errorf("logging.dir is not set; logs are written to stderr\nSet it with 'ragbatch config set logging.dir <dir>'")
	}

	filter, err := buildLogFilter()
	if err != nil {
		return err
	}

	if logsFollow {
		return followLogs(cmd.Context(), cmd.OutOrStdout(), filepath.Join(cfg.Logging.Dir, logging.LogFileName), filter)
	}

	entries, err := logging.ReadEntries(cfg.Logging.Dir)
	if err != nil {
		return err
	}
	if filter.RunID == "" && !logsAllRuns {
		filter.RunID = logging.LatestRunID(entries)
	}

	entries = logging.FilterEntries(entries, filter)
	if logsTail > 0 && len(entries) > logsTail {
		entries = entries[len(entries)-logsTail:]
	}

	if logsExport != "" {
		return exportLogs(cmd, entries)
	}
	return showLogs(cmd.OutOrStdout(), entries)
}

func buildLogFilter() (logging.Filter, error) {
	filter := logging.Filter{
		RunID:     logsRunID,
		Component: logsComponent,
	}
	if logsLevel != "" {
		filter.Level = logging.ParseLevel(logsLevel)
	}
	if logsSince != "" {
		d, err := time.ParseDuration(logsSince)
		if err != nil {
			return filter, fmt.Errorf("invalid duration format: %w", err)
		}
		filter.Since = time.Now().Add(-d)
	}
	if logsGrep != "" {
		re, err := regexp.Compile(logsGrep)
		if err != nil {
			return filter, fmt.Errorf("invalid grep pattern: %w", err)
		}
		filter.Pattern = re
	}
	return filter, nil
}

func showLogs(out io.Writer, entries []logging.Entry) error {
	if len(entries) == 0 {
		fmt.Fprintln(out, "No matching log entries found.")
		return nil
	}
	color := isTerminal(out)
	for _, e := range entries {
		fmt.Fprintln(out, logging.FormatEntry(e, color))
	}
	return nil
}

func exportLogs(cmd *cobra.Command, entries []logging.Entry) error {
	f, err := os.Create(logsExport)
	if err != nil {
		return fmt.Errorf("failed to create export file: %w", err)
	}
	if err := logging.WriteEntries(f, entries, logsFormat); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Exported %d entries to %s\n", len(entries), logsExport)
	return nil
}

// followLogs prints entries appended to path until ctx is done.
func followLogs(ctx context.Context, out io.Writer, path string, filter logging.Filter) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}
	defer func() { _ = f.Close() }()

	if _, err := f.Seek(0, io.SeekEnd); err != nil {
		return fmt.Errorf("failed to seek to end: %w", err)
	}
	fmt.Fprintf(out, "Following %s... (Ctrl+C to stop)\n\n", path)

	color := isTerminal(out)
	reader := bufio.NewReader(f)
	var partial strings.Builder
	for {
		chunk, err := reader.ReadString('\n')
		partial.WriteString(chunk)
		if err == io.EOF {
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(100 * time.Millisecond):
			}
			continue
		}
		if err != nil {
			return fmt.Errorf("error reading log file: %w", err)
		}

		line := partial.String()
		partial.Reset()
		entry, ok := logging.ParseEntry(line)
		if !ok {
			if s := strings.TrimSpace(line); s != "" {
				fmt.Fprintln(out, s)
			}
			continue
		}
		if filter.Match(entry) {
			fmt.Fprintln(out, logging.FormatEntry(entry, color))
		}
	}
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

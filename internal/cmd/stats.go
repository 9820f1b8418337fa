package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/Iron-Ham/ragbatch/internal/config"
	"github.com/Iron-Ham/ragbatch/internal/logging"
	"github.com/spf13/cobra"
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Summarize past runs from the log",
	Long: `Summarize finished runs recorded in logging.dir.

For each run, shows when it finished, how many questions were answered,
failed or skipped, how long it took, and how often the admission controller
had to lower concurrency.`,
	Args: cobra.NoArgs,
	RunE: runStats,
}

var (
	statsJSON  bool
	statsLimit int
)

func init() {
	statsCmd.Flags().BoolVar(&statsJSON, "json", false, "output statistics as JSON")
	statsCmd.Flags().IntVarP(&statsLimit, "limit", "n", 10, "number of most recent runs to show (0 for all)")
	rootCmd.AddCommand(statsCmd)
}

// runStat is one finished run as recorded by the "run finished" log entry.
type runStat struct {
	RunID            string `json:"run_id"`
	Finished         string `json:"finished"`
	Answered         int    `json:"answered"`
	Failed           int    `json:"failed"`
	Skipped          int    `json:"skipped"`
	Duration         string `json:"duration"`
	FinalConcurrency int    `json:"final_concurrency"`
	ShrinkEvents     int    `json:"shrink_events"`
	Output           string `json:"output"`
}

func runStats(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if cfg.Logging.Dir == "" {
		return fmt.Errorf("logging.dir is not set; no run history is kept")
	}

	entries, err := logging.ReadEntries(cfg.Logging.Dir)
	if err != nil {
		return err
	}
	stats := collectRunStats(entries)
	if statsLimit > 0 && len(stats) > statsLimit {
		stats = stats[len(stats)-statsLimit:]
	}

	out := cmd.OutOrStdout()
	if statsJSON {
		if stats == nil {
			stats = []runStat{}
		}
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(stats)
	}
	printStatsText(out, stats)
	return nil
}

func collectRunStats(entries []logging.Entry) []runStat {
	var stats []runStat
	for _, e := range entries {
		if e.Message != "run finished" {
			continue
		}
		stats = append(stats, runStat{
			RunID:            e.RunID,
			Finished:         e.Time.Format("2006-01-02 15:04:05"),
			Answered:         attrInt(e.Attrs, "answered"),
			Failed:           attrInt(e.Attrs, "failed"),
			Skipped:          attrInt(e.Attrs, "skipped"),
			Duration:         attrString(e.Attrs, "duration"),
			FinalConcurrency: attrInt(e.Attrs, "final_concurrency"),
			ShrinkEvents:     attrInt(e.Attrs, "shrink_events"),
			Output:           attrString(e.Attrs, "output"),
		})
	}
	return stats
}

func printStatsText(out io.Writer, stats []runStat) {
	if len(stats) == 0 {
		fmt.Fprintln(out, "No finished runs found.")
		return
	}

	fmt.Fprintln(out)
	fmt.Fprintln(out, "RUNS")
	fmt.Fprintln(out, strings.Repeat("─", 78))
	fmt.Fprintf(out, "%-10s %-19s %8s %6s %7s %10s %6s\n",
		"RUN", "FINISHED", "ANSWERED", "FAILED", "SKIPPED", "DURATION", "SHRINK")
	for _, s := range stats {
		fmt.Fprintf(out, "%-10s %-19s %8d %6d %7d %10s %6d\n",
			s.RunID, s.Finished, s.Answered, s.Failed, s.Skipped, s.Duration, s.ShrinkEvents)
	}
	fmt.Fprintln(out)
}

// JSON numbers decode as float64.
func attrInt(attrs map[string]any, key string) int {
	if f, ok := attrs[key].(float64); ok {
		return int(f)
	}
	return 0
}

func attrString(attrs map[string]any, key string) string {
	s, _ := attrs[key].(string)
	return s
}

package cmd

import (
	"fmt"
	"time"

	"github.com/Iron-Ham/ragbatch/internal/app"
	"github.com/Iron-Ham/ragbatch/internal/errors"
	"github.com/spf13/cobra"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Answer every question in the test-case sheet",
	Long: `Answer every question in the test-case sheet.

The vector index is loaded from paths.vector_db_dir, or built from
paths.corpus_dir when none exists yet. Each question is answered
independently; a failed question is recorded as "Error: ..." in the output
column and does not stop the run. Blank questions are left blank.

Answers are written to paths.output_path, or to <input>_gen_answers.<ext>
next to the input when unset. If the output cannot be written, a backup is
saved as result_backup.<ext> (the input's format) in the working directory.

Examples:
  # Use ./config.yaml or ~/.config/ragbatch/config.yaml
  ragbatch run

  # Use a specific config and answer 16 questions at once
  RAGBATCH_EXECUTION_CONCURRENCY=16 ragbatch run -c project/config.yaml`,
	Args: cobra.NoArgs,
	RunE: runRun,
}

func init() {
	rootCmd.AddCommand(runCmd)
}

func runRun(cmd *cobra.Command, args []string) error {
	cfg, logger, err := loadRuntime()
	if err != nil {
		return err
	}
	defer func() { _ = logger.Close() }()

	ctx := cmd.Context()
	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	summary, err := a.Run(ctx)
	if summary != nil {
		printSummary(cmd, summary)
	}
	if summary != nil && summary.OutputPath != "" && errors.Is(err, errors.ErrCanceled) {
		return fmt.Errorf("interrupted; partial results saved to %s", summary.OutputPath)
	}
	return err
}

func printSummary(cmd *cobra.Command, s *app.Summary) {
	out := cmd.OutOrStdout()
	fmt.Fprintln(out)
	fmt.Fprintf(out, "Run %s finished in %s\n", s.RunID, s.Duration.Round(time.Second))
	fmt.Fprintf(out, "  questions: %d\n", s.Total)
	fmt.Fprintf(out, "  answered:  %d\n", s.Answered)
	fmt.Fprintf(out, "  failed:    %d\n", s.Failed)
	fmt.Fprintf(out, "  skipped:   %d\n", s.Skipped)
	if s.Admission.ShrinkEvents > 0 {
		fmt.Fprintf(out, "  concurrency reduced %d times, final %d of %d\n",
			s.Admission.ShrinkEvents, s.Admission.Current, s.Admission.Max)
	}
	if s.Admission.FloorAlerts > 0 {
		fmt.Fprintf(out, "  out-of-memory at minimum concurrency: %d times\n", s.Admission.FloorAlerts)
	}
	fmt.Fprintf(out, "Results: %s\n", s.OutputPath)
}

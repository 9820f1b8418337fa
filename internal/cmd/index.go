package cmd

import (
	"fmt"

	"github.com/Iron-Ham/ragbatch/internal/app"
	"github.com/spf13/cobra"
)

var indexCmd = &cobra.Command{
	Use:   "index",
	Short: "Build the vector index from the corpus",
	Long: `Build the vector index from the corpus.

Files under paths.corpus_dir matching corpus.pattern are split into chunks,
embedded and saved to paths.vector_db_dir. An existing index is reused unless
--rebuild is given.

With --watch, the command keeps running and rebuilds the index whenever a
matching corpus file is created, changed or removed.

Examples:
  # Build the index if it does not exist yet
  ragbatch index

  # Re-embed the whole corpus
  ragbatch index --rebuild

  # Keep the index in sync while editing the corpus
  ragbatch index --watch`,
	Args: cobra.NoArgs,
	RunE: runIndex,
}

var (
	indexRebuild bool
	indexWatch   bool
)

func init() {
	rootCmd.AddCommand(indexCmd)

	indexCmd.Flags().BoolVar(&indexRebuild, "rebuild", false, "re-embed the corpus even if an index exists")
	indexCmd.Flags().BoolVarP(&indexWatch, "watch", "w", false, "rebuild the index when corpus files change")
}

func runIndex(cmd *cobra.Command, args []string) error {
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

	out := cmd.OutOrStdout()
	n, err := a.BuildIndex(ctx, indexRebuild)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Index ready: %d chunks in %s\n", n, cfg.Paths.VectorDBDir)

	if !indexWatch {
		return nil
	}

	fmt.Fprintf(out, "Watching %s (Ctrl+C to stop)\n", cfg.Paths.CorpusDir)
	return a.Watch(ctx, func(chunks int, err error) {
		if err != nil {
			fmt.Fprintf(out, "Rebuild failed: %v\n", err)
			return
		}
		fmt.Fprintf(out, "Index rebuilt: %d chunks\n", chunks)
	})
}

package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/Iron-Ham/ragbatch/internal/config"
	"github.com/Iron-Ham/ragbatch/internal/logging"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var rootCmd = &cobra.Command{
	Use:   "ragbatch",
	Short: "Batch question answering over a document corpus",
	Long: `ragbatch answers every question in a CSV/TSV sheet with retrieval-augmented
generation: questions are embedded, matched against a vector index of the
corpus, optionally reranked, and answered by a chat model. Answers are written
to a new column of the sheet.

Calls to GPU-backed local models go through an adaptive admission controller
that lowers concurrency whenever the device runs out of memory.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command. SIGINT and SIGTERM cancel the command's
// context so in-flight work can stop and partial results can be saved.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return rootCmd.ExecuteContext(ctx)
}

func init() {
	cobra.OnInitialize(initConfig)

	// Global flags
	rootCmd.PersistentFlags().StringP("config", "c", "", "config file (default is $HOME/.config/ragbatch/config.yaml or ./config.yaml)")
	rootCmd.PersistentFlags().String("log-level", "", "override logging.level (debug, info, warn, error)")
	_ = viper.BindPFlag("config", rootCmd.PersistentFlags().Lookup("config"))
	_ = viper.BindPFlag("logging.level", rootCmd.PersistentFlags().Lookup("log-level"))
}

func initConfig() {
	// Set defaults first so they're available even without a config file
	config.SetDefaults()

	if cfgFile := viper.GetString("config"); cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")
		viper.AddConfigPath(config.ConfigDir())
	}

	// e.g., RAGBATCH_EXECUTION_CONCURRENCY for execution.concurrency
	config.BindEnv()

	// Read config file if it exists (ignore error if not found)
	_ = viper.ReadInConfig()
}

// loadRuntime loads and validates the configuration and opens the logger
// it names. The caller closes the logger.
func loadRuntime() (*config.Config, *logging.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	logger, err := logging.NewRotatingLogger(cfg.Logging.Dir, cfg.Logging.Level, logging.RotationConfig{
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
		Compress:   cfg.Logging.Compress,
	})
	if err != nil {
		return nil, nil, err
	}
	return cfg, logger, nil
}

package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"

	"github.com/Iron-Ham/ragbatch/internal/config"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "View or modify ragbatch configuration",
	Long: `View or modify ragbatch configuration.

Without arguments, displays the current configuration.
Use subcommands to modify settings or create a config file.`,
	RunE: runConfigShow,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE:  runConfigShow,
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Long: `Set a configuration value in the active config file.

Keys use dot notation, e.g.:
  ragbatch config set execution.concurrency 8
  ragbatch config set models.embedding_mode local
  ragbatch config set adaptive.cool_down_seconds 2.5

Run 'ragbatch config show' to list every key. The value is checked against
the key's type and the resulting configuration must validate.`,
	Args: cobra.ExactArgs(2),
	RunE: runConfigSet,
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Create a default config file",
	Long: `Create a default config file with all available options.

The file is written to ~/.config/ragbatch/config.yaml unless --path is given.`,
	RunE: runConfigInit,
}

var configPathCmd = &cobra.Command{
	Use:   "path",
	Short: "Show the config file path",
	RunE:  runConfigPath,
}

var configInitPath string

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configPathCmd)

	configInitCmd.Flags().StringVarP(&configInitPath, "path", "p", "", "write the config file here instead")
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()

	// Show where config is being read from
	if viper.ConfigFileUsed() != "" {
		fmt.Fprintf(out, "# Config file: %s\n", viper.ConfigFileUsed())
	} else {
		fmt.Fprintln(out, "# Config file: (none - using defaults)")
	}

	if cfg.LLM.External.APIKey != "" {
		cfg.LLM.External.APIKey = "********"
	}
	if cfg.Cache.Redis.Password != "" {
		cfg.Cache.Redis.Password = "********"
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	_, err = out.Write(data)
	return err
}

func runConfigSet(cmd *cobra.Command, args []string) error {
	key := strings.ToLower(args[0])
	value := args[1]

	if !slices.Contains(viper.AllKeys(), key) || key == "config" {
		return fmt.Errorf("unknown configuration key: %s\nRun 'ragbatch config show' to see valid keys", key)
	}

	typedValue, err := parseValue(key, viper.Get(key), value)
	if err != nil {
		return err
	}

	viper.Set(key, typedValue)
	if _, err := config.Load(); err != nil {
		return err
	}

	configFile := viper.ConfigFileUsed()
	if configFile == "" {
		configFile = config.ConfigFile()
		if err := os.MkdirAll(filepath.Dir(configFile), 0755); err != nil {
			return fmt.Errorf("failed to create config directory: %w", err)
		}
	}
	if err := viper.WriteConfigAs(configFile); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Set %s = %v\n", key, typedValue)
	fmt.Fprintf(cmd.OutOrStdout(), "Config saved to %s\n", configFile)
	return nil
}

// parseValue converts raw to the type of the key's current value.
func parseValue(key string, current any, raw string) (any, error) {
	switch current.(type) {
	case bool:
		b, err := strconv.ParseBool(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid value for %s: expected true or false", key)
		}
		return b, nil
	case int, int64:
		n, err := strconv.Atoi(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid value for %s: expected integer", key)
		}
		return n, nil
	case float64:
		f, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid value for %s: expected number", key)
		}
		return f, nil
	default:
		return raw, nil
	}
}

func runConfigInit(cmd *cobra.Command, args []string) error {
	configFile := configInitPath
	if configFile == "" {
		configFile = config.ConfigFile()
	}

	// Check if config file already exists
	if _, err := os.Stat(configFile); err == nil {
		return fmt.Errorf("config file already exists at %s\nUse 'ragbatch config set' to modify values", configFile)
	}

	if err := os.MkdirAll(filepath.Dir(configFile), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	if err := os.WriteFile(configFile, []byte(defaultConfigContent), 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Created config file at %s\n", configFile)
	fmt.Fprintln(cmd.OutOrStdout(), "Edit this file to point ragbatch at your corpus, questions and model servers.")
	return nil
}

func runConfigPath(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	configFile := config.ConfigFile()

	if viper.ConfigFileUsed() != "" {
		fmt.Fprintf(out, "Active config: %s\n", viper.ConfigFileUsed())
	} else {
		fmt.Fprintf(out, "Default path: %s (not created)\n", configFile)
	}

	// Also show config search paths
	fmt.Fprintln(out, "\nSearch paths:")
	fmt.Fprintln(out, "  1. ./config.yaml (current directory)")
	fmt.Fprintf(out, "  2. %s\n", configFile)
	fmt.Fprintf(out, "\nEnvironment variables: %s_* (e.g., %s)\n", config.EnvPrefix, config.EnvKey("execution.concurrency"))
	fmt.Fprintln(out, "Relative paths under paths.* are resolved against the config file's directory.")
	return nil
}

const defaultConfigContent = `# ragbatch configuration
# Relative paths are resolved against the directory of this file.

paths:
  # Knowledge base documents
  corpus_dir: data/corpus
  # Where the vector index is stored
  vector_db_dir: data/vector_db
  # Excel (.xlsx), CSV or TSV file with one question per row
  test_case_path: data/test_cases.xlsx
  # Empty writes <test_case_name>_gen_answers.<ext> next to the input
  output_path: ""

corpus:
  # Glob matched against paths relative to corpus_dir ("**.txt" descends)
  pattern: "*.txt"
  # Quiet period before 'index --watch' rebuilds
  watch_debounce_ms: 500

models:
  # internal: remote embeddings service
  # local: GPU-backed server on this host, guarded by the adaptive controller
  embedding_mode: internal
  internal_embedding:
    api_url: http://127.0.0.1:8000/v1/embeddings
    model_name: bge-m3
  local_embedding:
    api_url: http://127.0.0.1:8080/v1/embeddings
    model_name: bge-m3
  # Texts per embeddings request and requests in flight
  batch_size: 10
  embed_concurrency: 4
  # Attempts per embeddings batch before the index build fails
  max_retries: 3
  # Vector size used to pad short responses before any vector is seen
  dimension: 1024
  timeout_seconds: 60
  rerank:
    api_url: http://127.0.0.1:8081/rerank
    model_name: bge-reranker-v2-m3
  no_proxy: true
  insecure_skip_verify: false

execution:
  # Questions answered at once; also the adaptive controller's ceiling
  concurrency: 4
  enable_rerank: false

adaptive:
  # Shrink concurrency and retry when a local model runs out of memory
  enabled: true
  min_concurrency: 1
  step_size: 2
  cool_down_seconds: 5
  # Exhaustion retries per call (0 = retry until it succeeds)
  max_retries: 0

rag:
  # Chunk size and overlap in characters
  chunk_size: 500
  chunk_overlap: 50
  top_k_retrieval: 10
  top_k_rerank: 3

llm:
  # internal: streaming endpoint on the private network
  # external: OpenAI-compatible API
  mode: internal
  internal:
    api_url: http://127.0.0.1:8001/v1/chat/completions
    model_name: qwen2.5-72b-instruct
    no_proxy: true
  external:
    api_base: https://api.openai.com/v1
    # Prefer RAGBATCH_LLM_EXTERNAL_API_KEY over storing the key here
    api_key: ""
    model_name: gpt-4o-mini
  timeout_seconds: 120
  # Requests per second (0 = unlimited)
  rate_limit: 0
  rate_burst: 1
  # Go text/template with .Question and .Contexts; empty uses the built-in prompt
  prompt_template: ""
  system_prompt: ""
  temperature: 0.1
  max_tokens: 2048

columns:
  question_col: question
  output_col: gen_answer

cache:
  # Embedding cache: none, memory or redis
  backend: none
  redis:
    addr: 127.0.0.1:6379
    password: ""
    db: 0
    prefix: "ragbatch:emb"
    ttl_hours: 168

logging:
  # debug, info, warn or error
  level: info
  # Empty logs to stderr
  dir: ""
  # Rotate ragbatch.log at this size (0 = never) and keep this many backups
  max_size_mb: 10
  max_backups: 3
  compress: false
`

package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config represents the complete ragbatch configuration
type Config struct {
	Paths     PathsConfig     `mapstructure:"paths" yaml:"paths"`
	Corpus    CorpusConfig    `mapstructure:"corpus" yaml:"corpus"`
	Models    ModelsConfig    `mapstructure:"models" yaml:"models"`
	Execution ExecutionConfig `mapstructure:"execution" yaml:"execution"`
	Adaptive  AdaptiveConfig  `mapstructure:"adaptive" yaml:"adaptive"`
	RAG       RAGConfig       `mapstructure:"rag" yaml:"rag"`
	LLM       LLMConfig       `mapstructure:"llm" yaml:"llm"`
	Columns   ColumnsConfig   `mapstructure:"columns" yaml:"columns"`
	Cache     CacheConfig     `mapstructure:"cache" yaml:"cache"`
	Logging   LoggingConfig   `mapstructure:"logging" yaml:"logging"`
}

// PathsConfig holds file and directory locations. Relative paths are
// resolved against the directory of the config file.
type PathsConfig struct {
	// CorpusDir is the directory holding the knowledge base documents
	CorpusDir string `mapstructure:"corpus_dir" yaml:"corpus_dir"`
	// VectorDBDir is where the vector index is persisted
	VectorDBDir string `mapstructure:"vector_db_dir" yaml:"vector_db_dir"`
	// TestCasePath is the .xlsx, .csv or .tsv file with one question per row
	TestCasePath string `mapstructure:"test_case_path" yaml:"test_case_path"`
	// OutputPath is where answers are written.
	// Empty means <test_case_name>_gen_answers<ext> next to the input.
	OutputPath string `mapstructure:"output_path" yaml:"output_path"`
}

// ResolvePaths makes every relative path absolute against baseDir.
func (p *PathsConfig) ResolvePaths(baseDir string) {
	for _, path := range []*string{&p.CorpusDir, &p.VectorDBDir, &p.TestCasePath, &p.OutputPath} {
		if *path == "" || filepath.IsAbs(*path) {
			continue
		}
		*path = filepath.Clean(filepath.Join(baseDir, *path))
	}
}

// CorpusConfig controls which corpus files are indexed
type CorpusConfig struct {
	// Pattern is a glob matched against paths relative to corpus_dir.
	// "*.txt" matches top-level files only, "**.txt" descends.
	Pattern string `mapstructure:"pattern" yaml:"pattern"`
	// WatchDebounceMs is the quiet period before index --watch rebuilds
	WatchDebounceMs int `mapstructure:"watch_debounce_ms" yaml:"watch_debounce_ms"`
}

// WatchDebounce returns the watch debounce as a time.Duration
func (c *CorpusConfig) WatchDebounce() time.Duration {
	return time.Duration(c.WatchDebounceMs) * time.Millisecond
}

// EmbeddingEndpointConfig describes one embeddings server
type EmbeddingEndpointConfig struct {
	APIURL    string `mapstructure:"api_url" yaml:"api_url"`
	ModelName string `mapstructure:"model_name" yaml:"model_name"`
}

// RerankConfig describes the cross-encoder rerank server
type RerankConfig struct {
	APIURL    string `mapstructure:"api_url" yaml:"api_url"`
	ModelName string `mapstructure:"model_name" yaml:"model_name"`
}

// ModelsConfig controls the embedding and rerank models
type ModelsConfig struct {
	// EmbeddingMode selects the embeddings server.
	// Options: "internal" (remote service), "local" (GPU-backed server on this host)
	EmbeddingMode string `mapstructure:"embedding_mode" yaml:"embedding_mode"`
	// InternalEmbedding is used when embedding_mode is "internal"
	InternalEmbedding EmbeddingEndpointConfig `mapstructure:"internal_embedding" yaml:"internal_embedding"`
	// LocalEmbedding is used when embedding_mode is "local"; its calls go
	// through the adaptive admission controller
	LocalEmbedding EmbeddingEndpointConfig `mapstructure:"local_embedding" yaml:"local_embedding"`
	// BatchSize is the number of texts per embeddings request
	BatchSize int `mapstructure:"batch_size" yaml:"batch_size"`
	// EmbedConcurrency is the number of embeddings requests in flight
	EmbedConcurrency int `mapstructure:"embed_concurrency" yaml:"embed_concurrency"`
	// MaxRetries is the number of attempts per embeddings batch
	MaxRetries int `mapstructure:"max_retries" yaml:"max_retries"`
	// Dimension is the vector size assumed before any response is seen
	Dimension int `mapstructure:"dimension" yaml:"dimension"`
	// TimeoutSeconds bounds one embeddings or rerank request
	TimeoutSeconds int `mapstructure:"timeout_seconds" yaml:"timeout_seconds"`
	// Rerank is the cross-encoder server used when execution.enable_rerank is set
	Rerank RerankConfig `mapstructure:"rerank" yaml:"rerank"`
	// NoProxy bypasses HTTP(S)_PROXY for model servers
	NoProxy bool `mapstructure:"no_proxy" yaml:"no_proxy"`
	// InsecureSkipVerify disables TLS verification for model servers
	InsecureSkipVerify bool `mapstructure:"insecure_skip_verify" yaml:"insecure_skip_verify"`
}

// Embedding returns the endpoint for the active embedding mode.
func (m *ModelsConfig) Embedding() EmbeddingEndpointConfig {
	if m.EmbeddingMode == EmbeddingModeLocal {
		return m.LocalEmbedding
	}
	return m.InternalEmbedding
}

// Timeout returns the model request timeout as a time.Duration
func (m *ModelsConfig) Timeout() time.Duration {
	return time.Duration(m.TimeoutSeconds) * time.Second
}

// ExecutionConfig controls question-level parallelism
type ExecutionConfig struct {
	// Concurrency is the number of questions processed at once. It is also
	// the starting capacity of the adaptive admission controller.
	Concurrency int `mapstructure:"concurrency" yaml:"concurrency"`
	// EnableRerank reranks retrieved chunks with the cross-encoder
	EnableRerank bool `mapstructure:"enable_rerank" yaml:"enable_rerank"`
}

// AdaptiveConfig controls the admission controller guarding GPU-backed calls
type AdaptiveConfig struct {
	// Enabled turns on exhaustion handling. When false, exhaustion errors
	// propagate like any other error.
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`
	// MinConcurrency is the floor the controller never shrinks below
	MinConcurrency int `mapstructure:"min_concurrency" yaml:"min_concurrency"`
	// StepSize is how many permits one exhaustion event withdraws
	StepSize int `mapstructure:"step_size" yaml:"step_size"`
	// CoolDownSeconds is the pause after an exhaustion event
	CoolDownSeconds float64 `mapstructure:"cool_down_seconds" yaml:"cool_down_seconds"`
	// MaxRetries caps exhaustion retries per call (0 = unbounded)
	MaxRetries int `mapstructure:"max_retries" yaml:"max_retries"`
}

// CoolDown returns the cool-down pause as a time.Duration
func (a *AdaptiveConfig) CoolDown() time.Duration {
	return time.Duration(a.CoolDownSeconds * float64(time.Second))
}

// RAGConfig controls chunking and retrieval
type RAGConfig struct {
	ChunkSize     int `mapstructure:"chunk_size" yaml:"chunk_size"`
	ChunkOverlap  int `mapstructure:"chunk_overlap" yaml:"chunk_overlap"`
	TopKRetrieval int `mapstructure:"top_k_retrieval" yaml:"top_k_retrieval"`
	TopKRerank    int `mapstructure:"top_k_rerank" yaml:"top_k_rerank"`
}

// LLMInternalConfig describes the streaming chat endpoint on the private network
type LLMInternalConfig struct {
	// APIURL is the full chat completions URL
	APIURL    string `mapstructure:"api_url" yaml:"api_url"`
	ModelName string `mapstructure:"model_name" yaml:"model_name"`
	// NoProxy bypasses HTTP(S)_PROXY for this endpoint
	NoProxy bool `mapstructure:"no_proxy" yaml:"no_proxy"`
}

// LLMExternalConfig describes an OpenAI-compatible endpoint
type LLMExternalConfig struct {
	// APIBase is the API root; /chat/completions is appended
	APIBase   string `mapstructure:"api_base" yaml:"api_base"`
	APIKey    string `mapstructure:"api_key" yaml:"api_key"`
	ModelName string `mapstructure:"model_name" yaml:"model_name"`
}

// LLMConfig controls answer generation
type LLMConfig struct {
	// Mode selects the generator. Options: "internal", "external"
	Mode     string            `mapstructure:"mode" yaml:"mode"`
	Internal LLMInternalConfig `mapstructure:"internal" yaml:"internal"`
	External LLMExternalConfig `mapstructure:"external" yaml:"external"`
	// TimeoutSeconds bounds one generation request
	TimeoutSeconds int `mapstructure:"timeout_seconds" yaml:"timeout_seconds"`
	// RateLimit is the maximum requests per second (0 = unlimited)
	RateLimit float64 `mapstructure:"rate_limit" yaml:"rate_limit"`
	// RateBurst is the token bucket size when rate_limit is set
	RateBurst int `mapstructure:"rate_burst" yaml:"rate_burst"`
	// PromptTemplate overrides the built-in text/template prompt
	PromptTemplate string `mapstructure:"prompt_template" yaml:"prompt_template"`
	// SystemPrompt overrides the built-in system message
	SystemPrompt string  `mapstructure:"system_prompt" yaml:"system_prompt"`
	Temperature  float64 `mapstructure:"temperature" yaml:"temperature"`
	MaxTokens    int     `mapstructure:"max_tokens" yaml:"max_tokens"`
}

// Timeout returns the generation timeout as a time.Duration
func (l *LLMConfig) Timeout() time.Duration {
	return time.Duration(l.TimeoutSeconds) * time.Second
}

// ColumnsConfig names the spreadsheet columns
type ColumnsConfig struct {
	QuestionCol string `mapstructure:"question_col" yaml:"question_col"`
	OutputCol   string `mapstructure:"output_col" yaml:"output_col"`
}

// RedisConfig describes the Redis embedding cache
type RedisConfig struct {
	Addr     string `mapstructure:"addr" yaml:"addr"`
	Password string `mapstructure:"password" yaml:"password"`
	DB       int    `mapstructure:"db" yaml:"db"`
	Prefix   string `mapstructure:"prefix" yaml:"prefix"`
	TTLHours int    `mapstructure:"ttl_hours" yaml:"ttl_hours"`
}

// TTL returns the entry lifetime as a time.Duration
func (r *RedisConfig) TTL() time.Duration {
	return time.Duration(r.TTLHours) * time.Hour
}

// CacheConfig controls the embedding cache
type CacheConfig struct {
	// Backend selects the cache. Options: "none", "memory", "redis"
	Backend string      `mapstructure:"backend" yaml:"backend"`
	Redis   RedisConfig `mapstructure:"redis" yaml:"redis"`
}

// LoggingConfig controls debug logging behavior
type LoggingConfig struct {
	// Level is the minimum log level: "debug", "info", "warn", "error"
	Level string `mapstructure:"level" yaml:"level"`
	// Dir is where ragbatch.log is written (empty = stderr)
	Dir string `mapstructure:"dir" yaml:"dir"`
	// MaxSizeMB rotates ragbatch.log at this size (0 = never)
	MaxSizeMB int `mapstructure:"max_size_mb" yaml:"max_size_mb"`
	// MaxBackups is the number of rotated files kept
	MaxBackups int `mapstructure:"max_backups" yaml:"max_backups"`
	// Compress gzips rotated files
	Compress bool `mapstructure:"compress" yaml:"compress"`
}

// Embedding modes
const (
	EmbeddingModeInternal = "internal"
	EmbeddingModeLocal    = "local"
)

// LLM modes
const (
	LLMModeInternal = "internal"
	LLMModeExternal = "external"
)

// Cache backends
const (
	CacheBackendNone   = "none"
	CacheBackendMemory = "memory"
	CacheBackendRedis  = "redis"
)

// Default returns a Config with sensible default values
func Default() *Config {
	return &Config{
		Paths: PathsConfig{
			CorpusDir:    "data/corpus",
			VectorDBDir:  "data/vector_db",
			TestCasePath: "data/test_cases.xlsx",
			OutputPath:   "",
		},
		Corpus: CorpusConfig{
			Pattern:         "*.txt",
			WatchDebounceMs: 500,
		},
		Models: ModelsConfig{
			EmbeddingMode: EmbeddingModeInternal,
			InternalEmbedding: EmbeddingEndpointConfig{
				APIURL:    "http://127.0.0.1:8000/v1/embeddings",
				ModelName: "bge-m3",
			},
			LocalEmbedding: EmbeddingEndpointConfig{
				APIURL:    "http://127.0.0.1:8080/v1/embeddings",
				ModelName: "bge-m3",
			},
			BatchSize:        10,
			EmbedConcurrency: 4,
			MaxRetries:       3,
			Dimension:        1024,
			TimeoutSeconds:   60,
			Rerank: RerankConfig{
				APIURL:    "http://127.0.0.1:8081/rerank",
				ModelName: "bge-reranker-v2-m3",
			},
			NoProxy:            true,
			InsecureSkipVerify: false,
		},
		Execution: ExecutionConfig{
			Concurrency:  4,
			EnableRerank: false,
		},
		Adaptive: AdaptiveConfig{
			Enabled:         true,
			MinConcurrency:  1,
			StepSize:        2,
			CoolDownSeconds: 5,
			MaxRetries:      0,
		},
		RAG: RAGConfig{
			ChunkSize:     500,
			ChunkOverlap:  50,
			TopKRetrieval: 10,
			TopKRerank:    3,
		},
		LLM: LLMConfig{
			Mode: LLMModeInternal,
			Internal: LLMInternalConfig{
				APIURL:    "http://127.0.0.1:8001/v1/chat/completions",
				ModelName: "qwen2.5-72b-instruct",
				NoProxy:   true,
			},
			External: LLMExternalConfig{
				APIBase:   "https://api.openai.com/v1",
				APIKey:    "",
				ModelName: "gpt-4o-mini",
			},
			TimeoutSeconds: 120,
			RateLimit:      0,
			RateBurst:      1,
			PromptTemplate: "",
			SystemPrompt:   "",
			Temperature:    0.1,
			MaxTokens:      2048,
		},
		Columns: ColumnsConfig{
			QuestionCol: "question",
			OutputCol:   "gen_answer",
		},
		Cache: CacheConfig{
			Backend: CacheBackendNone,
			Redis: RedisConfig{
				Addr:     "127.0.0.1:6379",
				Password: "",
				DB:       0,
				Prefix:   "ragbatch:emb",
				TTLHours: 168,
			},
		},
		Logging: LoggingConfig{
			Level:      "info",
			Dir:        "",
			MaxSizeMB:  10,
			MaxBackups: 3,
			Compress:   false,
		},
	}
}

// SetDefaults registers default values with viper
func SetDefaults() {
	defaults := Default()

	// Paths defaults
	viper.SetDefault("paths.corpus_dir", defaults.Paths.CorpusDir)
	viper.SetDefault("paths.vector_db_dir", defaults.Paths.VectorDBDir)
	viper.SetDefault("paths.test_case_path", defaults.Paths.TestCasePath)
	viper.SetDefault("paths.output_path", defaults.Paths.OutputPath)

	// Corpus defaults
	viper.SetDefault("corpus.pattern", defaults.Corpus.Pattern)
	viper.SetDefault("corpus.watch_debounce_ms", defaults.Corpus.WatchDebounceMs)

	// Models defaults
	viper.SetDefault("models.embedding_mode", defaults.Models.EmbeddingMode)
	viper.SetDefault("models.internal_embedding.api_url", defaults.Models.InternalEmbedding.APIURL)
	viper.SetDefault("models.internal_embedding.model_name", defaults.Models.InternalEmbedding.ModelName)
	viper.SetDefault("models.local_embedding.api_url", defaults.Models.LocalEmbedding.APIURL)
	viper.SetDefault("models.local_embedding.model_name", defaults.Models.LocalEmbedding.ModelName)
	viper.SetDefault("models.batch_size", defaults.Models.BatchSize)
	viper.SetDefault("models.embed_concurrency", defaults.Models.EmbedConcurrency)
	viper.SetDefault("models.max_retries", defaults.Models.MaxRetries)
	viper.SetDefault("models.dimension", defaults.Models.Dimension)
	viper.SetDefault("models.timeout_seconds", defaults.Models.TimeoutSeconds)
	viper.SetDefault("models.rerank.api_url", defaults.Models.Rerank.APIURL)
	viper.SetDefault("models.rerank.model_name", defaults.Models.Rerank.ModelName)
	viper.SetDefault("models.no_proxy", defaults.Models.NoProxy)
	viper.SetDefault("models.insecure_skip_verify", defaults.Models.InsecureSkipVerify)

	// Execution defaults
	viper.SetDefault("execution.concurrency", defaults.Execution.Concurrency)
	viper.SetDefault("execution.enable_rerank", defaults.Execution.EnableRerank)

	// Adaptive defaults
	viper.SetDefault("adaptive.enabled", defaults.Adaptive.Enabled)
	viper.SetDefault("adaptive.min_concurrency", defaults.Adaptive.MinConcurrency)
	viper.SetDefault("adaptive.step_size", defaults.Adaptive.StepSize)
	viper.SetDefault("adaptive.cool_down_seconds", defaults.Adaptive.CoolDownSeconds)
	viper.SetDefault("adaptive.max_retries", defaults.Adaptive.MaxRetries)

	// RAG defaults
	viper.SetDefault("rag.chunk_size", defaults.RAG.ChunkSize)
	viper.SetDefault("rag.chunk_overlap", defaults.RAG.ChunkOverlap)
	viper.SetDefault("rag.top_k_retrieval", defaults.RAG.TopKRetrieval)
	viper.SetDefault("rag.top_k_rerank", defaults.RAG.TopKRerank)

	// LLM defaults
	viper.SetDefault("llm.mode", defaults.LLM.Mode)
	viper.SetDefault("llm.internal.api_url", defaults.LLM.Internal.APIURL)
	viper.SetDefault("llm.internal.model_name", defaults.LLM.Internal.ModelName)
	viper.SetDefault("llm.internal.no_proxy", defaults.LLM.Internal.NoProxy)
	viper.SetDefault("llm.external.api_base", defaults.LLM.External.APIBase)
	viper.SetDefault("llm.external.api_key", defaults.LLM.External.APIKey)
	viper.SetDefault("llm.external.model_name", defaults.LLM.External.ModelName)
	viper.SetDefault("llm.timeout_seconds", defaults.LLM.TimeoutSeconds)
	viper.SetDefault("llm.rate_limit", defaults.LLM.RateLimit)
	viper.SetDefault("llm.rate_burst", defaults.LLM.RateBurst)
	viper.SetDefault("llm.prompt_template", defaults.LLM.PromptTemplate)
	viper.SetDefault("llm.system_prompt", defaults.LLM.SystemPrompt)
	viper.SetDefault("llm.temperature", defaults.LLM.Temperature)
	viper.SetDefault("llm.max_tokens", defaults.LLM.MaxTokens)

	// Columns defaults
	viper.SetDefault("columns.question_col", defaults.Columns.QuestionCol)
	viper.SetDefault("columns.output_col", defaults.Columns.OutputCol)

	// Cache defaults
	viper.SetDefault("cache.backend", defaults.Cache.Backend)
	viper.SetDefault("cache.redis.addr", defaults.Cache.Redis.Addr)
	viper.SetDefault("cache.redis.password", defaults.Cache.Redis.Password)
	viper.SetDefault("cache.redis.db", defaults.Cache.Redis.DB)
	viper.SetDefault("cache.redis.prefix", defaults.Cache.Redis.Prefix)
	viper.SetDefault("cache.redis.ttl_hours", defaults.Cache.Redis.TTLHours)

	// Logging defaults
	viper.SetDefault("logging.level", defaults.Logging.Level)
	viper.SetDefault("logging.dir", defaults.Logging.Dir)
	viper.SetDefault("logging.max_size_mb", defaults.Logging.MaxSizeMB)
	viper.SetDefault("logging.max_backups", defaults.Logging.MaxBackups)
	viper.SetDefault("logging.compress", defaults.Logging.Compress)
}

// Load reads the configuration from viper, resolves relative paths against
// the config file's directory (or the working directory when no file was
// read) and validates the result.
func Load() (*Config, error) {
	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	cfg.Paths.ResolvePaths(BaseDir())

	// Validate the configuration
	if errs := cfg.Validate(); len(errs) > 0 {
		return nil, ValidationErrors(errs)
	}

	return &cfg, nil
}

// Get returns the current configuration, falling back to defaults when
// the loaded configuration does not validate
func Get() *Config {
	cfg, err := Load()
	if err != nil {
		return Default()
	}
	return cfg
}

// BaseDir returns the directory relative paths are resolved against
func BaseDir() string {
	if used := viper.ConfigFileUsed(); used != "" {
		if abs, err := filepath.Abs(used); err == nil {
			return filepath.Dir(abs)
		}
		return filepath.Dir(used)
	}
	wd, err := os.Getwd()
	if err != nil {
		return "."
	}
	return wd
}

// ConfigDir returns the ragbatch config directory
func ConfigDir() string {
	// Check XDG_CONFIG_HOME first
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "ragbatch")
	}
	// Fall back to ~/.config/ragbatch
	home, err := os.UserHomeDir()
	if err != nil {
		return ".ragbatch"
	}
	return filepath.Join(home, ".config", "ragbatch")
}

// ConfigFile returns the default config file path
func ConfigFile() string {
	return filepath.Join(ConfigDir(), "config.yaml")
}

// BindEnv enables RAGBATCH_* environment overrides for every registered key.
// Dots in keys become underscores, e.g. RAGBATCH_EXECUTION_CONCURRENCY for
// execution.concurrency.
func BindEnv() {
	viper.SetEnvPrefix(EnvPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()
}

// EnvKey returns the environment variable that overrides key,
// e.g. RAGBATCH_LLM_EXTERNAL_API_KEY for llm.external.api_key
func EnvKey(key string) string {
	return EnvPrefix + "_" + strings.ToUpper(strings.NewReplacer(".", "_").Replace(key))
}

// EnvPrefix is the prefix of environment overrides
const EnvPrefix = "RAGBATCH"

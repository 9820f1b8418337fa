package config

import (
	"fmt"
	"net/url"
	"slices"
	"strings"
)

// ValidationError represents a single validation failure
type ValidationError struct {
	Field   string // The config field path (e.g., "execution.concurrency")
	Value   any    // The invalid value
	Message string // Human-readable error description
}

// Error implements the error interface for ValidationError
func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s (got: %v)", e.Field, e.Message, e.Value)
}

// ValidationErrors is a collection of validation errors
type ValidationErrors []ValidationError

// Error implements the error interface for ValidationErrors
func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	if len(e) == 1 {
		return e[0].Error()
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%d validation errors:\n", len(e)))
	for i, err := range e {
		sb.WriteString(fmt.Sprintf("  %d. %s\n", i+1, err.Error()))
	}
	return sb.String()
}

// ValidLogLevels returns the list of valid log levels
func ValidLogLevels() []string {
	return []string{"debug", "info", "warn", "error"}
}

// ValidEmbeddingModes returns the list of valid embedding modes
func ValidEmbeddingModes() []string {
	return []string{EmbeddingModeInternal, EmbeddingModeLocal}
}

// ValidLLMModes returns the list of valid generator modes
func ValidLLMModes() []string {
	return []string{LLMModeInternal, LLMModeExternal}
}

// ValidCacheBackends returns the list of valid embedding cache backends
func ValidCacheBackends() []string {
	return []string{CacheBackendNone, CacheBackendMemory, CacheBackendRedis}
}

// Validate checks the Config for invalid values and returns all validation errors found
func (c *Config) Validate() []ValidationError {
	var errors []ValidationError

	errors = append(errors, c.validatePaths()...)
	errors = append(errors, c.validateCorpus()...)
	errors = append(errors, c.validateModels()...)
	errors = append(errors, c.validateExecution()...)
	errors = append(errors, c.validateAdaptive()...)
	errors = append(errors, c.validateRAG()...)
	errors = append(errors, c.validateLLM()...)
	errors = append(errors, c.validateColumns()...)
	errors = append(errors, c.validateCache()...)
	errors = append(errors, c.validateLogging()...)

	return errors
}

// validatePaths validates the PathsConfig
func (c *Config) validatePaths() []ValidationError {
	var errors []ValidationError

	required := map[string]string{
		"paths.corpus_dir":     c.Paths.CorpusDir,
		"paths.vector_db_dir":  c.Paths.VectorDBDir,
		"paths.test_case_path": c.Paths.TestCasePath,
	}
	for _, field := range []string{"paths.corpus_dir", "paths.vector_db_dir", "paths.test_case_path"} {
		if strings.TrimSpace(required[field]) == "" {
			errors = append(errors, ValidationError{
				Field:   field,
				Value:   required[field],
				Message: "must not be empty",
			})
		}
	}

	all := map[string]string{
		"paths.corpus_dir":     c.Paths.CorpusDir,
		"paths.vector_db_dir":  c.Paths.VectorDBDir,
		"paths.test_case_path": c.Paths.TestCasePath,
		"paths.output_path":    c.Paths.OutputPath,
	}
	for _, field := range []string{"paths.corpus_dir", "paths.vector_db_dir", "paths.test_case_path", "paths.output_path"} {
		// Check for null bytes which are invalid in paths
		if strings.ContainsRune(all[field], '\x00') {
			errors = append(errors, ValidationError{
				Field:   field,
				Value:   all[field],
				Message: "path contains invalid null character",
			})
		}
	}

	if c.Paths.OutputPath != "" && c.Paths.OutputPath == c.Paths.TestCasePath {
		errors = append(errors, ValidationError{
			Field:   "paths.output_path",
			Value:   c.Paths.OutputPath,
			Message: "must differ from paths.test_case_path",
		})
	}

	return errors
}

// validateCorpus validates the CorpusConfig
func (c *Config) validateCorpus() []ValidationError {
	var errors []ValidationError

	if strings.TrimSpace(c.Corpus.Pattern) == "" {
		errors = append(errors, ValidationError{
			Field:   "corpus.pattern",
			Value:   c.Corpus.Pattern,
			Message: "must not be empty",
		})
	}

	if c.Corpus.WatchDebounceMs < 0 {
		errors = append(errors, ValidationError{
			Field:   "corpus.watch_debounce_ms",
			Value:   c.Corpus.WatchDebounceMs,
			Message: "must be non-negative",
		})
	}

	return errors
}

// validateModels validates the ModelsConfig
func (c *Config) validateModels() []ValidationError {
	var errors []ValidationError

	if !slices.Contains(ValidEmbeddingModes(), c.Models.EmbeddingMode) {
		errors = append(errors, ValidationError{
			Field:   "models.embedding_mode",
			Value:   c.Models.EmbeddingMode,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(ValidEmbeddingModes(), ", ")),
		})
	} else {
		prefix := "models.internal_embedding"
		if c.Models.EmbeddingMode == EmbeddingModeLocal {
			prefix = "models.local_embedding"
		}
		ep := c.Models.Embedding()
		errors = append(errors, validateURL(prefix+".api_url", ep.APIURL)...)
		if strings.TrimSpace(ep.ModelName) == "" {
			errors = append(errors, ValidationError{
				Field:   prefix + ".model_name",
				Value:   ep.ModelName,
				Message: "must not be empty",
			})
		}
	}

	positive := []struct {
		field string
		value int
	}{
		{"models.batch_size", c.Models.BatchSize},
		{"models.embed_concurrency", c.Models.EmbedConcurrency},
		{"models.max_retries", c.Models.MaxRetries},
		{"models.dimension", c.Models.Dimension},
		{"models.timeout_seconds", c.Models.TimeoutSeconds},
	}
	for _, p := range positive {
		if p.value <= 0 {
			errors = append(errors, ValidationError{
				Field:   p.field,
				Value:   p.value,
				Message: "must be positive",
			})
		}
	}

	if c.Execution.EnableRerank {
		errors = append(errors, validateURL("models.rerank.api_url", c.Models.Rerank.APIURL)...)
	}

	return errors
}

// validateExecution validates the ExecutionConfig
func (c *Config) validateExecution() []ValidationError {
	var errors []ValidationError

	if c.Execution.Concurrency < 1 {
		errors = append(errors, ValidationError{
			Field:   "execution.concurrency",
			Value:   c.Execution.Concurrency,
			Message: "must be at least 1",
		})
	}

	// Reasonable upper bound for worker goroutines
	const maxConcurrency = 256
	if c.Execution.Concurrency > maxConcurrency {
		errors = append(errors, ValidationError{
			Field:   "execution.concurrency",
			Value:   c.Execution.Concurrency,
			Message: fmt.Sprintf("exceeds maximum of %d", maxConcurrency),
		})
	}

	return errors
}

// validateAdaptive validates the AdaptiveConfig
func (c *Config) validateAdaptive() []ValidationError {
	var errors []ValidationError

	if c.Adaptive.MinConcurrency < 1 {
		errors = append(errors, ValidationError{
			Field:   "adaptive.min_concurrency",
			Value:   c.Adaptive.MinConcurrency,
			Message: "must be at least 1",
		})
	}

	if c.Execution.Concurrency >= 1 && c.Adaptive.MinConcurrency > c.Execution.Concurrency {
		errors = append(errors, ValidationError{
			Field:   "adaptive.min_concurrency",
			Value:   c.Adaptive.MinConcurrency,
			Message: fmt.Sprintf("must not exceed execution.concurrency (%d)", c.Execution.Concurrency),
		})
	}

	if c.Adaptive.StepSize < 1 {
		errors = append(errors, ValidationError{
			Field:   "adaptive.step_size",
			Value:   c.Adaptive.StepSize,
			Message: "must be at least 1",
		})
	}

	if c.Adaptive.CoolDownSeconds < 0 {
		errors = append(errors, ValidationError{
			Field:   "adaptive.cool_down_seconds",
			Value:   c.Adaptive.CoolDownSeconds,
			Message: "must be non-negative",
		})
	}

	if c.Adaptive.MaxRetries < 0 {
		errors = append(errors, ValidationError{
			Field:   "adaptive.max_retries",
			Value:   c.Adaptive.MaxRetries,
			Message: "must be non-negative (0 = unbounded)",
		})
	}

	return errors
}

// validateRAG validates the RAGConfig
func (c *Config) validateRAG() []ValidationError {
	var errors []ValidationError

	if c.RAG.ChunkSize < 1 {
		errors = append(errors, ValidationError{
			Field:   "rag.chunk_size",
			Value:   c.RAG.ChunkSize,
			Message: "must be at least 1",
		})
	}

	if c.RAG.ChunkOverlap < 0 {
		errors = append(errors, ValidationError{
			Field:   "rag.chunk_overlap",
			Value:   c.RAG.ChunkOverlap,
			Message: "must be non-negative",
		})
	} else if c.RAG.ChunkSize >= 1 && c.RAG.ChunkOverlap >= c.RAG.ChunkSize {
		errors = append(errors, ValidationError{
			Field:   "rag.chunk_overlap",
			Value:   c.RAG.ChunkOverlap,
			Message: fmt.Sprintf("must be smaller than rag.chunk_size (%d)", c.RAG.ChunkSize),
		})
	}

	if c.RAG.TopKRetrieval < 1 {
		errors = append(errors, ValidationError{
			Field:   "rag.top_k_retrieval",
			Value:   c.RAG.TopKRetrieval,
			Message: "must be at least 1",
		})
	}

	if c.RAG.TopKRerank < 1 {
		errors = append(errors, ValidationError{
			Field:   "rag.top_k_rerank",
			Value:   c.RAG.TopKRerank,
			Message: "must be at least 1",
		})
	} else if c.RAG.TopKRetrieval >= 1 && c.RAG.TopKRerank > c.RAG.TopKRetrieval {
		errors = append(errors, ValidationError{
			Field:   "rag.top_k_rerank",
			Value:   c.RAG.TopKRerank,
			Message: fmt.Sprintf("must not exceed rag.top_k_retrieval (%d)", c.RAG.TopKRetrieval),
		})
	}

	return errors
}

// validateLLM validates the LLMConfig
func (c *Config) validateLLM() []ValidationError {
	var errors []ValidationError

	switch c.LLM.Mode {
	case LLMModeInternal:
		errors = append(errors, validateURL("llm.internal.api_url", c.LLM.Internal.APIURL)...)
	case LLMModeExternal:
		errors = append(errors, validateURL("llm.external.api_base", c.LLM.External.APIBase)...)
		if strings.TrimSpace(c.LLM.External.ModelName) == "" {
			errors = append(errors, ValidationError{
				Field:   "llm.external.model_name",
				Value:   c.LLM.External.ModelName,
				Message: "must not be empty",
			})
		}
	default:
		errors = append(errors, ValidationError{
			Field:   "llm.mode",
			Value:   c.LLM.Mode,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(ValidLLMModes(), ", ")),
		})
	}

	if c.LLM.TimeoutSeconds <= 0 {
		errors = append(errors, ValidationError{
			Field:   "llm.timeout_seconds",
			Value:   c.LLM.TimeoutSeconds,
			Message: "must be positive",
		})
	}

	if c.LLM.RateLimit < 0 {
		errors = append(errors, ValidationError{
			Field:   "llm.rate_limit",
			Value:   c.LLM.RateLimit,
			Message: "must be non-negative (0 = unlimited)",
		})
	}

	if c.LLM.RateLimit > 0 && c.LLM.RateBurst < 1 {
		errors = append(errors, ValidationError{
			Field:   "llm.rate_burst",
			Value:   c.LLM.RateBurst,
			Message: "must be at least 1 when llm.rate_limit is set",
		})
	}

	if c.LLM.Temperature < 0 || c.LLM.Temperature > 2 {
		errors = append(errors, ValidationError{
			Field:   "llm.temperature",
			Value:   c.LLM.Temperature,
			Message: "must be between 0 and 2",
		})
	}

	if c.LLM.MaxTokens < 1 {
		errors = append(errors, ValidationError{
			Field:   "llm.max_tokens",
			Value:   c.LLM.MaxTokens,
			Message: "must be at least 1",
		})
	}

	return errors
}

// validateColumns validates the ColumnsConfig
func (c *Config) validateColumns() []ValidationError {
	var errors []ValidationError

	if strings.TrimSpace(c.Columns.QuestionCol) == "" {
		errors = append(errors, ValidationError{
			Field:   "columns.question_col",
			Value:   c.Columns.QuestionCol,
			Message: "must not be empty",
		})
	}

	if strings.TrimSpace(c.Columns.OutputCol) == "" {
		errors = append(errors, ValidationError{
			Field:   "columns.output_col",
			Value:   c.Columns.OutputCol,
			Message: "must not be empty",
		})
	} else if c.Columns.OutputCol == c.Columns.QuestionCol {
		errors = append(errors, ValidationError{
			Field:   "columns.output_col",
			Value:   c.Columns.OutputCol,
			Message: "must differ from columns.question_col",
		})
	}

	return errors
}

// validateCache validates the CacheConfig
func (c *Config) validateCache() []ValidationError {
	var errors []ValidationError

	if !slices.Contains(ValidCacheBackends(), c.Cache.Backend) {
		errors = append(errors, ValidationError{
			Field:   "cache.backend",
			Value:   c.Cache.Backend,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(ValidCacheBackends(), ", ")),
		})
		return errors
	}

	if c.Cache.Backend != CacheBackendRedis {
		return errors
	}

	if strings.TrimSpace(c.Cache.Redis.Addr) == "" {
		errors = append(errors, ValidationError{
			Field:   "cache.redis.addr",
			Value:   c.Cache.Redis.Addr,
			Message: "must not be empty when cache.backend is redis",
		})
	}

	if c.Cache.Redis.DB < 0 {
		errors = append(errors, ValidationError{
			Field:   "cache.redis.db",
			Value:   c.Cache.Redis.DB,
			Message: "must be non-negative",
		})
	}

	if c.Cache.Redis.TTLHours < 0 {
		errors = append(errors, ValidationError{
			Field:   "cache.redis.ttl_hours",
			Value:   c.Cache.Redis.TTLHours,
			Message: "must be non-negative (0 = no expiry)",
		})
	}

	return errors
}

// validateLogging validates the LoggingConfig
func (c *Config) validateLogging() []ValidationError {
	var errors []ValidationError

	// Validate log level
	if c.Logging.Level != "" && !slices.Contains(ValidLogLevels(), c.Logging.Level) {
		errors = append(errors, ValidationError{
			Field:   "logging.level",
			Value:   c.Logging.Level,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(ValidLogLevels(), ", ")),
		})
	}
	if c.Logging.MaxSizeMB < 0 {
		errors = append(errors, ValidationError{
			Field:   "logging.max_size_mb",
			Value:   c.Logging.MaxSizeMB,
			Message: "must be non-negative (0 disables rotation)",
		})
	}
	if c.Logging.MaxBackups < 0 {
		errors = append(errors, ValidationError{
			Field:   "logging.max_backups",
			Value:   c.Logging.MaxBackups,
			Message: "must be non-negative",
		})
	}

	return errors
}

// validateURL checks that raw is an absolute http(s) URL
func validateURL(field, raw string) []ValidationError {
	if strings.TrimSpace(raw) == "" {
		return []ValidationError{{
			Field:   field,
			Value:   raw,
			Message: "must not be empty",
		}}
	}
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return []ValidationError{{
			Field:   field,
			Value:   raw,
			Message: "must be an absolute http or https URL",
		}}
	}
	return nil
}

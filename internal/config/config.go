package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Port string `yaml:"port"`

	// Uploads
	UploadDir      string `yaml:"upload_dir"`
	MaxUploadBytes int64  `yaml:"max_upload_bytes"`

	// Generation
	GenerationProvider  string        `yaml:"generation_provider"` // openai | anthropic
	GenerationBaseURL   string        `yaml:"generation_base_url"`
	GenerationAPIKey    string        `yaml:"generation_api_key"`
	GenerationModel     string        `yaml:"generation_model"`
	GenerationMaxTokens int           `yaml:"generation_max_tokens"`
	GenerationTimeout   time.Duration `yaml:"generation_timeout"`
	AnthropicAPIKey     string        `yaml:"anthropic_api_key"`
	AnthropicModel      string        `yaml:"anthropic_model"`

	// Embeddings
	EmbeddingProvider  string `yaml:"embedding_provider"` // openai | local
	EmbeddingBaseURL   string `yaml:"embedding_base_url"`
	EmbeddingAPIKey    string `yaml:"embedding_api_key"`
	EmbeddingModel     string `yaml:"embedding_model"`
	EmbeddingBatchSize int    `yaml:"embedding_batch_size"`
	EmbeddingDim       int    `yaml:"embedding_dim"`
	EmbedCache         string `yaml:"embed_cache"` // none | memory | bolt | sqlite
	EmbedCachePath     string `yaml:"embed_cache_path"`

	// Chunking and retrieval
	ChunkSize          int     `yaml:"chunk_size"`
	ChunkOverlap       int     `yaml:"chunk_overlap"`
	RetrievalK         int     `yaml:"retrieval_k"`
	RetrievalMinScore  float64 `yaml:"retrieval_min_score"`
	SummaryTemperature float64 `yaml:"summary_temperature"`
	ParseTemperature   float64 `yaml:"parse_temperature"`

	// Worker pool
	WorkerCount  int `yaml:"worker_count"`
	MaxQueueSize int `yaml:"max_queue_size"`

	// State lifetimes
	JobTTL     time.Duration `yaml:"job_ttl"`
	SessionTTL time.Duration `yaml:"session_ttl"`

	// PDF
	PDFFallbackPdftotext bool `yaml:"pdf_fallback_pdftotext"`
}

// Defaults returns the built-in configuration.
func Defaults() Config {
	return Config{
		Port: "8000",

		UploadDir:      "uploads",
		MaxUploadBytes: 52428800, // 50MB

		GenerationProvider:  "openai",
		GenerationBaseURL:   "https://router.huggingface.co/v1",
		GenerationModel:     "meta-llama/Llama-3.1-8B-Instruct",
		GenerationMaxTokens: 1024,
		GenerationTimeout:   120 * time.Second,
		AnthropicModel:      "claude-sonnet-4-5-20250929",

		EmbeddingProvider:  "local",
		EmbeddingModel:     "text-embedding-3-small",
		EmbeddingBatchSize: 64,
		EmbeddingDim:       1024,
		EmbedCache:         "none",
		EmbedCachePath:     "embeddings.db",

		ChunkSize:          1000,
		ChunkOverlap:       500,
		RetrievalK:         50,
		SummaryTemperature: 0.7,
		ParseTemperature:   0.1,

		WorkerCount:  4,
		MaxQueueSize: 100,

		JobTTL:     1 * time.Hour,
		SessionTTL: 24 * time.Hour,

		PDFFallbackPdftotext: true,
	}
}

// Load builds a Config from defaults, then the YAML file named by
// CHARMEM_CONFIG if set, then environment variables.
func Load() (Config, error) {
	cfg := Defaults()
	if path := os.Getenv("CHARMEM_CONFIG"); path != "" {
		if err := cfg.mergeFile(path); err != nil {
			return cfg, err
		}
	}
	cfg.applyEnv()
	cfg.fillZeroes()
	return cfg, nil
}

func (c *Config) mergeFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() {
	c.Port = envOr("PORT", c.Port)

	c.UploadDir = envOr("UPLOAD_DIR", c.UploadDir)
	c.MaxUploadBytes = envInt64("MAX_UPLOAD_BYTES", c.MaxUploadBytes)

	c.GenerationProvider = strings.ToLower(envOr("GENERATION_PROVIDER", c.GenerationProvider))
	c.GenerationBaseURL = envOr("GENERATION_BASE_URL", c.GenerationBaseURL)
	c.GenerationAPIKey = envOr("GENERATION_API_KEY", envOr("HUGGINGFACE_API_TOKEN", c.GenerationAPIKey))
	c.GenerationModel = envOr("GENERATION_MODEL", c.GenerationModel)
	c.GenerationMaxTokens = envInt("GENERATION_MAX_TOKENS", c.GenerationMaxTokens)
	c.GenerationTimeout = envDuration("GENERATION_TIMEOUT", c.GenerationTimeout)
	c.AnthropicAPIKey = envOr("ANTHROPIC_API_KEY", c.AnthropicAPIKey)
	c.AnthropicModel = envOr("ANTHROPIC_MODEL", c.AnthropicModel)

	c.EmbeddingProvider = strings.ToLower(envOr("EMBEDDING_PROVIDER", c.EmbeddingProvider))
	c.EmbeddingBaseURL = envOr("EMBEDDING_BASE_URL", c.EmbeddingBaseURL)
	c.EmbeddingAPIKey = envOr("EMBEDDING_API_KEY", c.EmbeddingAPIKey)
	c.EmbeddingModel = envOr("EMBEDDING_MODEL", c.EmbeddingModel)
	c.EmbeddingBatchSize = envInt("EMBEDDING_BATCH_SIZE", c.EmbeddingBatchSize)
	c.EmbeddingDim = envInt("EMBEDDING_DIM", c.EmbeddingDim)
	c.EmbedCache = strings.ToLower(envOr("EMBED_CACHE", c.EmbedCache))
	c.EmbedCachePath = envOr("EMBED_CACHE_PATH", c.EmbedCachePath)

	c.ChunkSize = envInt("CHUNK_SIZE", c.ChunkSize)
	c.ChunkOverlap = envInt("CHUNK_OVERLAP", c.ChunkOverlap)
	c.RetrievalK = envInt("RETRIEVAL_K", c.RetrievalK)
	c.RetrievalMinScore = envFloat("RETRIEVAL_MIN_SCORE", c.RetrievalMinScore)
	c.SummaryTemperature = envFloat("SUMMARY_TEMPERATURE", c.SummaryTemperature)
	c.ParseTemperature = envFloat("PARSE_TEMPERATURE", c.ParseTemperature)

	c.WorkerCount = envInt("WORKER_COUNT", c.WorkerCount)
	c.MaxQueueSize = envInt("MAX_QUEUE_SIZE", c.MaxQueueSize)

	c.JobTTL = envDuration("JOB_TTL", c.JobTTL)
	c.SessionTTL = envDuration("SESSION_TTL", c.SessionTTL)

	c.PDFFallbackPdftotext = envBool("PDF_FALLBACK_PDFTOTEXT", c.PDFFallbackPdftotext)
}

func (c *Config) fillZeroes() {
	d := Defaults()
	if c.WorkerCount <= 0 {
		c.WorkerCount = d.WorkerCount
	}
	if c.MaxQueueSize <= 0 {
		c.MaxQueueSize = d.MaxQueueSize
	}
	if c.MaxUploadBytes <= 0 {
		c.MaxUploadBytes = d.MaxUploadBytes
	}
	if c.EmbeddingBatchSize <= 0 {
		c.EmbeddingBatchSize = d.EmbeddingBatchSize
	}
	if c.RetrievalK <= 0 {
		c.RetrievalK = d.RetrievalK
	}
	if c.JobTTL <= 0 {
		c.JobTTL = d.JobTTL
	}
	if c.SessionTTL <= 0 {
		c.SessionTTL = d.SessionTTL
	}
}

func (c Config) Validate() error {
	var errs []error
	switch c.GenerationProvider {
	case "openai":
		if c.GenerationAPIKey == "" {
			errs = append(errs, fmt.Errorf("GENERATION_API_KEY or HUGGINGFACE_API_TOKEN is required"))
		}
	case "anthropic":
		if c.AnthropicAPIKey == "" {
			errs = append(errs, fmt.Errorf("ANTHROPIC_API_KEY is required"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown GENERATION_PROVIDER %q", c.GenerationProvider))
	}
	switch c.EmbeddingProvider {
	case "openai":
		if c.EmbeddingAPIKey == "" {
			errs = append(errs, fmt.Errorf("EMBEDDING_API_KEY is required for the openai embedding provider"))
		}
	case "local":
		if c.EmbeddingDim <= 0 {
			errs = append(errs, fmt.Errorf("EMBEDDING_DIM must be positive"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown EMBEDDING_PROVIDER %q", c.EmbeddingProvider))
	}
	switch c.EmbedCache {
	case "", "none", "memory", "bolt", "sqlite":
	default:
		errs = append(errs, fmt.Errorf("unknown EMBED_CACHE %q", c.EmbedCache))
	}
	if c.ChunkSize <= 0 {
		errs = append(errs, fmt.Errorf("CHUNK_SIZE must be positive"))
	}
	if c.ChunkOverlap < 0 || c.ChunkOverlap >= c.ChunkSize {
		errs = append(errs, fmt.Errorf("CHUNK_OVERLAP must be in [0, CHUNK_SIZE)"))
	}
	return errors.Join(errs...)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envInt64(key string, fallback int64) int64 {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n
		}
	}
	return fallback
}

func envFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

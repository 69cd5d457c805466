// Package config builds the process configuration from a .env file and the
// environment.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/medtext/medrag/engine/domain"
	"github.com/medtext/medrag/engine/segment"
	"github.com/medtext/medrag/engine/semantic"
	"github.com/medtext/medrag/pkg/llm"
	"github.com/medtext/medrag/pkg/ollama"
)

// Vector backends.
const (
	BackendQdrant   = "qdrant"
	BackendPGVector = "pgvector"
	BackendMemory   = "memory"
)

// Embedding providers.
const (
	ProviderOllama = "ollama"
	ProviderOpenAI = "openai"
	ProviderHash   = "hash"
)

// Config holds all environment-based configuration.
type Config struct {
	VectorBackend   string
	QdrantURL       string
	IndexName       string
	Dimension       int
	Metric          semantic.Metric
	PostgresURL     string
	UpsertBatchSize int

	EmbedProvider  string
	OllamaURL      string
	EmbeddingModel string
	OpenAIKey      string
	OpenAIBaseURL  string
	EmbedBatchSize int
	EmbedWorkers   int

	ChunkSize    int
	ChunkOverlap int
	TopK         int

	GroqKey           string
	GroqBaseURL       string
	PrimaryModel      string
	FallbackModel     string
	MaxTokens         int
	Temperature       float32
	GroqRPS           float64
	GenerationTimeout time.Duration

	MaxPDFBytes int64

	RedisURL  string
	NATSURL   string
	Neo4jURL  string
	Neo4jUser string
	Neo4jPass string

	Port       string
	CORSOrigin string
	LogLevel   string
	LogFormat  string
}

// Load reads .env (when present) and then the environment. Malformed
// numbers are reported; range checks are left to Validate.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, domain.NewConfigError(".env", "%v", err)
	}
	return FromEnv(os.Getenv)
}

// FromEnv builds a Config from a lookup function.
func FromEnv(getenv func(string) string) (Config, error) {
	e := env{get: getenv}
	cfg := Config{
		VectorBackend:   strings.ToLower(e.strOr("VECTOR_BACKEND", BackendQdrant)),
		QdrantURL:       e.strOr("QDRANT_URL", "localhost:6334"),
		IndexName:       e.strOr("INDEX_NAME", "medical-rag-aiims"),
		Dimension:       e.intOr("EMBEDDING_DIMENSION", 384),
		PostgresURL:     e.strOr("POSTGRES_URL", ""),
		UpsertBatchSize: e.intOr("UPSERT_BATCH_SIZE", semantic.DefaultUpsertBatch),

		EmbedProvider:  strings.ToLower(e.strOr("EMBED_PROVIDER", ProviderOllama)),
		OllamaURL:      e.strOr("OLLAMA_URL", "http://localhost:11434"),
		EmbeddingModel: e.strOr("EMBEDDING_MODEL", ollama.DefaultModel),
		OpenAIKey:      e.strOr("OPENAI_API_KEY", ""),
		OpenAIBaseURL:  e.strOr("OPENAI_BASE_URL", ""),
		EmbedBatchSize: e.intOr("EMBED_BATCH_SIZE", 64),
		EmbedWorkers:   e.intOr("EMBED_WORKERS", 4),

		ChunkSize:    e.intOr("CHUNK_SIZE", segment.DefaultChunkSize),
		ChunkOverlap: e.intOr("CHUNK_OVERLAP", segment.DefaultChunkOverlap),
		TopK:         e.intOr("TOP_K", 5),

		GroqKey:           e.strOr("GROQ_API_KEY", ""),
		GroqBaseURL:       e.strOr("GROQ_BASE_URL", llm.DefaultBaseURL),
		PrimaryModel:      e.strOr("GROQ_MODEL_PRIMARY", llm.DefaultPrimaryModel),
		FallbackModel:     e.strOr("GROQ_MODEL_FALLBACK", llm.DefaultFallbackModel),
		MaxTokens:         e.intOr("GROQ_MAX_TOKENS", llm.DefaultMaxTokens),
		Temperature:       float32(e.floatOr("GROQ_TEMPERATURE", llm.DefaultTemperature)),
		GroqRPS:           e.floatOr("GROQ_RPS", 5),
		GenerationTimeout: e.durationOr("GENERATION_TIMEOUT", llm.DefaultTimeout),

		MaxPDFBytes: int64(e.intOr("MAX_PDF_SIZE_MB", 500)) << 20,

		RedisURL:  e.strOr("REDIS_URL", ""),
		NATSURL:   e.strOr("NATS_URL", ""),
		Neo4jURL:  e.strOr("NEO4J_URL", ""),
		Neo4jUser: e.strOr("NEO4J_USER", ""),
		Neo4jPass: e.strOr("NEO4J_PASS", ""),

		Port:       e.strOr("PORT", "8080"),
		CORSOrigin: e.strOr("CORS_ORIGIN", "*"),
		LogLevel:   strings.ToLower(e.strOr("LOG_LEVEL", "info")),
		LogFormat:  strings.ToLower(e.strOr("LOG_FORMAT", "text")),
	}
	metric, err := semantic.ParseMetric(e.strOr("INDEX_METRIC", string(semantic.MetricCosine)))
	if err != nil {
		e.errs = append(e.errs, domain.NewConfigError("INDEX_METRIC", "%v", err))
	}
	cfg.Metric = metric
	return cfg, errors.Join(e.errs...)
}

// Validate reports every invalid setting. needGeneration requires the Groq
// credential, which only the query commands use.
func (c Config) Validate(needGeneration bool) error {
	var errs []error
	add := func(field, format string, args ...any) {
		errs = append(errs, domain.NewConfigError(field, format, args...))
	}

	if err := c.SegmentOptions().Validate(); err != nil {
		errs = append(errs, err)
	}
	if c.Dimension <= 0 {
		add("EMBEDDING_DIMENSION", "must be positive, got %d", c.Dimension)
	}
	if c.EmbedBatchSize <= 0 {
		add("EMBED_BATCH_SIZE", "must be positive, got %d", c.EmbedBatchSize)
	}
	if c.EmbedWorkers <= 0 {
		add("EMBED_WORKERS", "must be positive, got %d", c.EmbedWorkers)
	}
	if c.UpsertBatchSize <= 0 {
		add("UPSERT_BATCH_SIZE", "must be positive, got %d", c.UpsertBatchSize)
	}
	if c.TopK <= 0 {
		add("TOP_K", "must be positive, got %d", c.TopK)
	}
	if c.MaxPDFBytes <= 0 {
		add("MAX_PDF_SIZE_MB", "must be positive")
	}

	switch c.VectorBackend {
	case BackendQdrant:
		if c.QdrantURL == "" {
			add("QDRANT_URL", "required for the qdrant backend")
		}
	case BackendPGVector:
		if c.PostgresURL == "" {
			add("POSTGRES_URL", "required for the pgvector backend")
		}
	case BackendMemory:
	default:
		add("VECTOR_BACKEND", "unknown backend %q (want qdrant, pgvector or memory)", c.VectorBackend)
	}

	switch c.EmbedProvider {
	case ProviderOllama:
		if c.OllamaURL == "" {
			add("OLLAMA_URL", "required for the ollama provider")
		}
	case ProviderOpenAI:
		if c.OpenAIKey == "" {
			errs = append(errs, &domain.ConfigError{Field: "OPENAI_API_KEY", Reason: "not set", Err: domain.ErrMissingCredential})
		}
	case ProviderHash:
	default:
		add("EMBED_PROVIDER", "unknown provider %q (want ollama, openai or hash)", c.EmbedProvider)
	}

	if needGeneration {
		if c.GroqKey == "" {
			errs = append(errs, &domain.ConfigError{Field: "GROQ_API_KEY", Reason: "not set", Err: domain.ErrMissingCredential})
		}
		if c.PrimaryModel == "" {
			add("GROQ_MODEL_PRIMARY", "not set")
		}
		if c.MaxTokens <= 0 {
			add("GROQ_MAX_TOKENS", "must be positive, got %d", c.MaxTokens)
		}
		if c.Temperature < 0 || c.Temperature > 2 {
			add("GROQ_TEMPERATURE", "must be within [0, 2], got %g", c.Temperature)
		}
	}

	if _, err := c.SlogLevel(); err != nil {
		add("LOG_LEVEL", "%v", err)
	}
	if c.LogFormat != "text" && c.LogFormat != "json" {
		add("LOG_FORMAT", "want text or json, got %q", c.LogFormat)
	}
	return errors.Join(errs...)
}

// SegmentOptions derives the segmenter settings.
func (c Config) SegmentOptions() segment.Options {
	return segment.Options{
		ChunkSizeTokens:    c.ChunkSize,
		ChunkOverlapTokens: c.ChunkOverlap,
		MinParagraphWords:  segment.DefaultMinParagraphWords,
	}
}

// SlogLevel parses LogLevel.
func (c Config) SlogLevel() (slog.Level, error) {
	var l slog.Level
	err := l.UnmarshalText([]byte(c.LogLevel))
	return l, err
}

// NewLogger builds the process logger.
func (c Config) NewLogger() *slog.Logger {
	level, err := c.SlogLevel()
	if err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if c.LogFormat == "json" {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}

type env struct {
	get  func(string) string
	errs []error
}

func (e *env) strOr(key, fallback string) string {
	if v := strings.TrimSpace(e.get(key)); v != "" {
		return v
	}
	return fallback
}

func (e *env) intOr(key string, fallback int) int {
	v := e.strOr(key, "")
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		e.errs = append(e.errs, domain.NewConfigError(key, "not an integer: %q", v))
		return fallback
	}
	return n
}

func (e *env) floatOr(key string, fallback float64) float64 {
	v := e.strOr(key, "")
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		e.errs = append(e.errs, domain.NewConfigError(key, "not a number: %q", v))
		return fallback
	}
	return f
}

func (e *env) durationOr(key string, fallback time.Duration) time.Duration {
	v := e.strOr(key, "")
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		e.errs = append(e.errs, domain.NewConfigError(key, "not a duration: %q", v))
		return fallback
	}
	return d
}

// String renders the config with secrets masked.
func (c Config) String() string {
	return fmt.Sprintf("backend=%s index=%s dim=%d metric=%s embed=%s/%s groq=%s models=%s,%s redis=%t nats=%t neo4j=%t",
		c.VectorBackend, c.IndexName, c.Dimension, c.Metric, c.EmbedProvider, c.EmbeddingModel,
		mask(c.GroqKey), c.PrimaryModel, c.FallbackModel, c.RedisURL != "", c.NATSURL != "", c.Neo4jURL != "")
}

func mask(s string) string {
	if s == "" {
		return "unset"
	}
	return "set"
}

package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	StoreDriverPostgres = "postgres"
	StoreDriverBadger   = "badger"

	EmbedProviderGemini = "gemini"
	EmbedProviderOpenAI = "openai"
)

type Config struct {
	Port     string
	LogLevel string

	StoreDriver  string
	DatabaseURL  string
	SslCertPath  string
	BadgerPath   string
	StoreTimeout time.Duration

	AwsAccessKey string
	AwsSecretKey string
	AwsRegion    string
	BucketName   string

	EmbedProvider string
	AIAPIKey      string
	OpenAIBaseURL string
	OpenAIAPIKey  string
	EmbedModel    string
	EmbedDim      int

	ChunkSize           int
	ChunkOverlap        int
	EmbedBatchSize      int
	EmbedConcurrency    int
	EmbedMaxRetries     int
	EmbedRetryBaseDelay time.Duration
	EmbedBatchTimeout   time.Duration
	EmbedRateLimit      float64
	MaxUploadBytes      int64
	IngestWorkers       int
	JobRetention        time.Duration
	MaxFinishedJobs     int

	JWTSecret   string
	CorsOrigins []string
}

// LoadConfig loads the environment variables (and an optional .env file) and returns config.
func LoadConfig() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Port:     getEnv("PORT", "8080"),
		LogLevel: getEnv("LOG_LEVEL", "info"),

		StoreDriver:  strings.ToLower(getEnv("STORE_DRIVER", StoreDriverPostgres)),
		DatabaseURL:  getEnv("DATABASE_URL", ""),
		SslCertPath:  getEnv("SSL_CERT_PATH", ""),
		BadgerPath:   getEnv("BADGER_PATH", "./data/badger"),
		StoreTimeout: getEnvDuration("STORE_TIMEOUT", 30*time.Second),

		AwsAccessKey: getEnv("AWS_ACCESS_KEY", ""),
		AwsSecretKey: getEnv("AWS_SECRET_KEY", ""),
		AwsRegion:    getEnv("AWS_REGION", "us-east-2"),
		BucketName:   getEnv("BUCKET_NAME", ""),

		EmbedProvider: strings.ToLower(getEnv("EMBED_PROVIDER", EmbedProviderGemini)),
		AIAPIKey:      getEnv("GEMINI_API_KEY", ""),
		OpenAIBaseURL: getEnv("OPENAI_BASE_URL", "http://localhost:11434/v1"),
		OpenAIAPIKey:  getEnv("OPENAI_API_KEY", "none"),
		EmbedModel:    getEnv("EMBED_MODEL", "text-embedding-004"),
		EmbedDim:      getEnvInt("EMBED_DIM", 768),

		ChunkSize:           getEnvInt("CHUNK_SIZE", 1000),
		ChunkOverlap:        getEnvInt("CHUNK_OVERLAP", 150),
		EmbedBatchSize:      getEnvInt("EMBED_BATCH_SIZE", 16),
		EmbedConcurrency:    getEnvInt("EMBED_CONCURRENCY", 4),
		EmbedMaxRetries:     getEnvInt("EMBED_MAX_RETRIES", 3),
		EmbedRetryBaseDelay: getEnvDuration("EMBED_RETRY_BASE_DELAY", 500*time.Millisecond),
		EmbedBatchTimeout:   getEnvDuration("EMBED_BATCH_TIMEOUT", 30*time.Second),
		EmbedRateLimit:      getEnvFloat("EMBED_RATE_LIMIT", 0),
		MaxUploadBytes:      int64(getEnvInt("MAX_UPLOAD_BYTES", 10<<20)),
		IngestWorkers:       getEnvInt("INGEST_WORKERS", 4),
		JobRetention:        getEnvDuration("JOB_RETENTION", time.Hour),
		MaxFinishedJobs:     getEnvInt("MAX_FINISHED_JOBS", 1000),

		JWTSecret:   getEnv("JWT_SECRET", ""),
		CorsOrigins: splitList(getEnv("CORS_ORIGINS", "http://localhost:5173")),
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.StoreDriver {
	case StoreDriverPostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL not set")
		}
	case StoreDriverBadger:
		if c.BadgerPath == "" {
			return fmt.Errorf("BADGER_PATH not set")
		}
	default:
		return fmt.Errorf("unknown STORE_DRIVER %q", c.StoreDriver)
	}

	switch c.EmbedProvider {
	case EmbedProviderGemini, EmbedProviderOpenAI:
	default:
		return fmt.Errorf("unknown EMBED_PROVIDER %q", c.EmbedProvider)
	}
	return nil
}

// ArchiveEnabled reports whether raw uploads should be kept in S3.
func (c *Config) ArchiveEnabled() bool {
	return c.BucketName != "" && c.AwsAccessKey != "" && c.AwsSecretKey != ""
}

// SlogLevel maps LOG_LEVEL onto a slog level, defaulting to info.
func (c *Config) SlogLevel() slog.Level {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Helper to read environment variables with a default fallback
func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func getEnvInt(key string, def int) int {
	v := getEnv(key, "")
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		slog.Warn("env value is not an int, using default", "key", key, "value", v, "default", def)
		return def
	}
	return n
}

func getEnvFloat(key string, def float64) float64 {
	v := getEnv(key, "")
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		slog.Warn("env value is not a number, using default", "key", key, "value", v, "default", def)
		return def
	}
	return f
}

func getEnvDuration(key string, def time.Duration) time.Duration {
	v := getEnv(key, "")
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		slog.Warn("env value is not a duration, using default", "key", key, "value", v, "default", def)
		return def
	}
	return d
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// Package config loads runtime settings from the environment.
package config

import (
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// Provider names accepted by LINGOSTREAM_PROVIDER.
const (
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
	ProviderOllama    = "ollama"
	ProviderBedrock   = "bedrock"
	ProviderSSE       = "sse"
)

// Storage and cache backends.
const (
	BackendMemory  = "memory"
	BackendSurreal = "surreal"
	BackendRedis   = "redis"
)

// Config holds all configuration values.
type Config struct {
	// SurrealDB connection
	SurrealDBURL       string
	SurrealDBNamespace string
	SurrealDBDatabase  string
	SurrealDBUser      string
	SurrealDBPass      string
	SurrealDBAuthLevel string

	// Redis (explanation cache backend)
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// Backends
	Storage      string // ledger + segments: "surreal" or "memory"
	CacheBackend string // "memory", "redis" or "surreal"
	CacheSize    int    // in-process LRU entries
	CacheTTL     time.Duration

	// Model provider
	Provider        string
	Model           string
	TargetLanguage  string
	OpenAIAPIKey    string
	AnthropicAPIKey string
	OllamaHost      string
	AWSRegion       string
	SSEEndpoint     string
	SSEAPIKey       string

	// Billing
	PricingFile string

	// Pipeline
	StreamTimeout       time.Duration
	HoldTimeout         time.Duration
	ReconcileInterval   time.Duration
	BatchConcurrency    int
	BatchMaxConcurrency int
	BatchRetention      time.Duration

	// Server
	ServerPort string

	// Logging
	LogFile  string
	LogLevel slog.Level
}

// Load reads configuration from environment variables.
func Load() Config {
	return Config{
		SurrealDBURL:       getEnv("SURREALDB_URL", "ws://localhost:8000/rpc"),
		SurrealDBNamespace: getEnv("SURREALDB_NAMESPACE", "lingostream"),
		SurrealDBDatabase:  getEnv("SURREALDB_DATABASE", "pipeline"),
		SurrealDBUser:      getEnv("SURREALDB_USER", "root"),
		SurrealDBPass:      getEnv("SURREALDB_PASS", "root"),
		SurrealDBAuthLevel: getEnv("SURREALDB_AUTH_LEVEL", "root"),

		RedisAddr:     getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvInt("REDIS_DB", 0),

		Storage:      strings.ToLower(getEnv("LINGOSTREAM_STORAGE", BackendSurreal)),
		CacheBackend: strings.ToLower(getEnv("LINGOSTREAM_CACHE", BackendSurreal)),
		CacheSize:    getEnvInt("LINGOSTREAM_CACHE_SIZE", 2048),
		CacheTTL:     getEnvDuration("LINGOSTREAM_CACHE_TTL", 0),

		Provider:        strings.ToLower(getEnv("LINGOSTREAM_PROVIDER", ProviderOpenAI)),
		Model:           getEnv("LINGOSTREAM_MODEL", "gpt-4o-mini"),
		TargetLanguage:  getEnv("LINGOSTREAM_TARGET_LANGUAGE", "English"),
		OpenAIAPIKey:    getEnv("OPENAI_API_KEY", ""),
		AnthropicAPIKey: getEnv("ANTHROPIC_API_KEY", ""),
		OllamaHost:      getEnv("OLLAMA_HOST", "http://localhost:11434"),
		AWSRegion:       getEnv("AWS_REGION", "us-east-1"),
		SSEEndpoint:     getEnv("LINGOSTREAM_SSE_ENDPOINT", ""),
		SSEAPIKey:       getEnv("LINGOSTREAM_SSE_API_KEY", ""),

		PricingFile: getEnv("LINGOSTREAM_PRICING_FILE", ""),

		StreamTimeout:       getEnvDuration("LINGOSTREAM_STREAM_TIMEOUT", 90*time.Second),
		HoldTimeout:         getEnvDuration("LINGOSTREAM_HOLD_TIMEOUT", 5*time.Minute),
		ReconcileInterval:   getEnvDuration("LINGOSTREAM_RECONCILE_INTERVAL", time.Minute),
		BatchConcurrency:    getEnvInt("LINGOSTREAM_BATCH_CONCURRENCY", 3),
		BatchMaxConcurrency: getEnvInt("LINGOSTREAM_BATCH_MAX_CONCURRENCY", 16),
		BatchRetention:      getEnvDuration("LINGOSTREAM_BATCH_RETENTION", 10*time.Minute),

		ServerPort: getEnv("LINGOSTREAM_SERVER_PORT", "8484"),

		LogFile:  getEnv("LINGOSTREAM_LOG_FILE", "/tmp/lingostream.log"),
		LogLevel: parseLogLevel(getEnv("LINGOSTREAM_LOG_LEVEL", "INFO")),
	}
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	v, err := strconv.Atoi(os.Getenv(key))
	if err != nil {
		return defaultVal
	}
	return v
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	d, err := time.ParseDuration(os.Getenv(key))
	if err != nil {
		return defaultVal
	}
	return d
}

func parseLogLevel(s string) slog.Level {
	switch strings.ToUpper(s) {
	case "DEBUG":
		return slog.LevelDebug
	case "INFO":
		return slog.LevelInfo
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Package config assembles process configuration from the environment,
// with defaults matching the environment knobs table.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// DatabaseConfig configures the Postgres connection pool.
type DatabaseConfig struct {
	Host            string
	Port            int
	User            string
	Password        string
	Database        string
	SSLMode         string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

func (c DatabaseConfig) Validate() error {
	if c.MaxIdleConns > c.MaxOpenConns {
		return fmt.Errorf("DB_MAX_IDLE_CONNS (%d) cannot exceed DB_MAX_OPEN_CONNS (%d)", c.MaxIdleConns, c.MaxOpenConns)
	}
	if c.MaxOpenConns < 1 {
		return fmt.Errorf("DB_MAX_OPEN_CONNS must be at least 1")
	}
	return nil
}

// ServerConfig configures the HTTP listener and the interactive pipeline deadline.
type ServerConfig struct {
	Addr              string
	RequestDeadline   time.Duration
	IdentityHeader    string
}

// QueueConfig configures the batch job queue.
type QueueConfig struct {
	MaxConcurrent int
	ItemDelay     time.Duration
	Retention     time.Duration
}

// CacheConfig configures the four bounded LRU caches.
type CacheConfig struct {
	MappingsSize   int
	MappingsTTL    time.Duration
	EmbeddingsSize int
	EmbeddingsTTL  time.Duration
	SearchSize     int
	SearchTTL      time.Duration
	FHIRSize       int
	FHIRTTL        time.Duration
}

// RateLimitClassConfig configures one named rate-limiter class.
type RateLimitClassConfig struct {
	WindowMS    int64
	MaxRequests int
	Message     string
}

// RateLimitConfig is the full set of configured classes.
type RateLimitConfig struct {
	Standard RateLimitClassConfig
	Mapping  RateLimitClassConfig
	Batch    RateLimitClassConfig
	Search   RateLimitClassConfig
	Health   RateLimitClassConfig
}

// EmbedderConfig configures the external embedding model client.
type EmbedderConfig struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
	Dim     int
}

// LLMConfig configures the Anthropic-backed adjudicator.
type LLMConfig struct {
	APIKey      string
	Model       string
	MaxTokens   int
	Timeout     time.Duration
}

// WHOProbeConfig configures the upstream connectivity probe.
type WHOProbeConfig struct {
	BaseURL string
	Timeout time.Duration
}

// Config is the fully assembled process configuration.
type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Queue     QueueConfig
	Cache     CacheConfig
	RateLimit RateLimitConfig
	Embedder  EmbedderConfig
	LLM       LLMConfig
	WHOProbe  WHOProbeConfig
	LogFormat string
}

// Load reads every knob from the environment, applying the documented
// defaults, and validates the assembled configuration.
func Load() (Config, error) {
	dbPort, err := strconv.Atoi(getEnvOrDefault("DB_PORT", "5432"))
	if err != nil {
		return Config{}, fmt.Errorf("invalid DB_PORT: %w", err)
	}
	maxOpen, _ := strconv.Atoi(getEnvOrDefault("DB_MAX_OPEN_CONNS", "25"))
	maxIdle, _ := strconv.Atoi(getEnvOrDefault("DB_MAX_IDLE_CONNS", "10"))
	maxLifetime, err := time.ParseDuration(getEnvOrDefault("DB_CONN_MAX_LIFETIME", "1h"))
	if err != nil {
		return Config{}, fmt.Errorf("invalid DB_CONN_MAX_LIFETIME: %w", err)
	}
	maxIdleTime, err := time.ParseDuration(getEnvOrDefault("DB_CONN_MAX_IDLE_TIME", "15m"))
	if err != nil {
		return Config{}, fmt.Errorf("invalid DB_CONN_MAX_IDLE_TIME: %w", err)
	}

	db := DatabaseConfig{
		Host:            getEnvOrDefault("DB_HOST", "localhost"),
		Port:            dbPort,
		User:            getEnvOrDefault("DB_USER", "tm2bridge"),
		Password:        os.Getenv("DB_PASSWORD"),
		Database:        getEnvOrDefault("DB_NAME", "tm2bridge"),
		SSLMode:         getEnvOrDefault("DB_SSLMODE", "disable"),
		MaxOpenConns:    maxOpen,
		MaxIdleConns:    maxIdle,
		ConnMaxLifetime: maxLifetime,
		ConnMaxIdleTime: maxIdleTime,
	}
	if err := db.Validate(); err != nil {
		return Config{}, err
	}

	deadline, err := parseDurationMS("D_REQUEST_DEADLINE_MS", 25_000)
	if err != nil {
		return Config{}, err
	}
	itemDelay, err := parseDurationMS("JOB_ITEM_DELAY_MS", 500)
	if err != nil {
		return Config{}, err
	}
	retention, err := parseDurationMS("JOB_RETENTION_MS", 86_400_000)
	if err != nil {
		return Config{}, err
	}
	maxConcurrent, _ := strconv.Atoi(getEnvOrDefault("JOB_MAX_CONCURRENT", "3"))

	embedDim, _ := strconv.Atoi(getEnvOrDefault("EMBEDDING_DIM", "768"))

	cfg := Config{
		Server: ServerConfig{
			Addr:            getEnvOrDefault("HTTP_ADDR", ":8080"),
			RequestDeadline: deadline,
			IdentityHeader:  getEnvOrDefault("IDENTITY_HEADER", "X-Forwarded-User"),
		},
		Database: db,
		Queue: QueueConfig{
			MaxConcurrent: maxConcurrent,
			ItemDelay:     itemDelay,
			Retention:     retention,
		},
		Cache: CacheConfig{
			MappingsSize:   envInt("CACHE_MAPPINGS_SIZE", 2000),
			MappingsTTL:    time.Hour,
			EmbeddingsSize: envInt("CACHE_EMBEDDINGS_SIZE", 5000),
			EmbeddingsTTL:  24 * time.Hour,
			SearchSize:     envInt("CACHE_SEARCH_SIZE", 1000),
			SearchTTL:      5 * time.Minute,
			FHIRSize:       envInt("CACHE_FHIR_SIZE", 1000),
			FHIRTTL:        10 * time.Minute,
		},
		RateLimit: RateLimitConfig{
			Standard: RateLimitClassConfig{WindowMS: 60_000, MaxRequests: 100, Message: "rate limit exceeded"},
			Mapping:  RateLimitClassConfig{WindowMS: 60_000, MaxRequests: 20, Message: "rate limit exceeded"},
			Batch:    RateLimitClassConfig{WindowMS: 60_000, MaxRequests: 5, Message: "rate limit exceeded"},
			Search:   RateLimitClassConfig{WindowMS: 60_000, MaxRequests: 200, Message: "rate limit exceeded"},
			Health:   RateLimitClassConfig{WindowMS: 60_000, MaxRequests: 1000, Message: "rate limit exceeded"},
		},
		Embedder: EmbedderConfig{
			BaseURL: getEnvOrDefault("EMBEDDER_BASE_URL", ""),
			APIKey:  os.Getenv("EMBEDDER_API_KEY"),
			Timeout: envDuration("EMBEDDER_TIMEOUT", 8*time.Second),
			Dim:     embedDim,
		},
		LLM: LLMConfig{
			APIKey:    os.Getenv("ANTHROPIC_API_KEY"),
			Model:     getEnvOrDefault("LLM_MODEL", "claude-haiku-4-5"),
			MaxTokens: envInt("LLM_MAX_TOKENS", 1024),
			Timeout:   envDuration("LLM_TIMEOUT", 15*time.Second),
		},
		WHOProbe: WHOProbeConfig{
			BaseURL: getEnvOrDefault("WHO_BASE_URL", "https://id.who.int"),
			Timeout: envDuration("WHO_PROBE_TIMEOUT", 5*time.Second),
		},
		LogFormat: getEnvOrDefault("TM2B_LOG_FORMAT", "json"),
	}

	return cfg, nil
}

func parseDurationMS(key string, defaultMS int64) (time.Duration, error) {
	v, err := strconv.ParseInt(getEnvOrDefault(key, strconv.FormatInt(defaultMS, 10)), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return time.Duration(v) * time.Millisecond, nil
}

func envInt(key string, defaultVal int) int {
	v, err := strconv.Atoi(getEnvOrDefault(key, strconv.Itoa(defaultVal)))
	if err != nil {
		return defaultVal
	}
	return v
}

func envDuration(key string, defaultVal time.Duration) time.Duration {
	v, err := time.ParseDuration(getEnvOrDefault(key, defaultVal.String()))
	if err != nil {
		return defaultVal
	}
	return v
}

func getEnvOrDefault(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

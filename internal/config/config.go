// Package config provides configuration management for the document
// retrieval server, handling environment variables, a local .env file, and
// validated runtime defaults.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config represents the application configuration
type Config struct {
	Server    ServerConfig    `json:"server"`
	Database  DatabaseConfig  `json:"database"`
	Redis     RedisConfig     `json:"redis"`
	OpenAI    OpenAIConfig    `json:"openai"`
	Rerank    RerankConfig    `json:"rerank"`
	Retrieval RetrievalConfig `json:"retrieval"`
	RateLimit RateLimitConfig `json:"rate_limit"`
	Session   SessionConfig   `json:"session"`
	Logging   LoggingConfig   `json:"logging"`
	Identity  IdentityConfig  `json:"identity"`
}

// ServerConfig represents HTTP server configuration
type ServerConfig struct {
	Port         int    `json:"port"`
	Host         string `json:"host"`
	ReadTimeout  int    `json:"read_timeout_seconds"`
	WriteTimeout int    `json:"write_timeout_seconds"`
}

// DatabaseConfig represents PostgreSQL configuration for the corpus and
// identity schemas.
type DatabaseConfig struct {
	Host            string        `json:"host"`
	Port            int           `json:"port"`
	Name            string        `json:"name"`
	User            string        `json:"user"`
	Password        string        `json:"-"` // Never serialize password
	SSLMode         string        `json:"ssl_mode"`
	MaxOpenConns    int           `json:"max_open_conns"`
	MaxIdleConns    int           `json:"max_idle_conns"`
	ConnMaxLifetime time.Duration `json:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `json:"conn_max_idle_time"`

	QueryTimeout       time.Duration `json:"query_timeout"`
	SlowQueryThreshold time.Duration `json:"slow_query_threshold"`
	EnableQueryLogging bool          `json:"enable_query_logging"`

	MigrationTimeout  time.Duration `json:"migration_timeout"`
	EnableAutoMigrate bool          `json:"enable_auto_migrate"`
	MigrationsPath    string        `json:"migrations_path"`
}

// RedisConfig represents the Redis connection backing the rate limiter.
type RedisConfig struct {
	Host         string        `json:"host"`
	Port         int           `json:"port"`
	Password     string        `json:"-"`
	DB           int           `json:"db"`
	DialTimeout  time.Duration `json:"dial_timeout"`
	ReadTimeout  time.Duration `json:"read_timeout"`
	WriteTimeout time.Duration `json:"write_timeout"`
	PoolSize     int           `json:"pool_size"`
}

// OpenAIConfig represents embedding generation configuration. APIKeys holds
// one or more credentials; the embedding client advances through them on
// InvalidCredential so a single revoked key does not take the server down.
type OpenAIConfig struct {
	APIKeys        []string `json:"-"`
	EmbeddingModel string   `json:"embedding_model"`
	Dimensions     int      `json:"dimensions"`
	RequestTimeout int      `json:"request_timeout_seconds"`
	RateLimitRPM   int      `json:"rate_limit_rpm"`
	CacheSize      int      `json:"cache_size"`
}

// RerankConfig represents the cross-encoder reranker HTTP client.
type RerankConfig struct {
	BaseURL        string `json:"base_url"`
	APIKey         string `json:"-"`
	Model          string `json:"model"`
	Instruction    string `json:"instruction"`
	RequestTimeout int    `json:"request_timeout_seconds"`
}

// RetrievalConfig represents hybrid-search behavior tuning.
type RetrievalConfig struct {
	SmallDocThreshold int `json:"small_doc_threshold"`
	CandidateLimit    int `json:"candidate_limit"`
	MaxResults        int `json:"max_results"`
	MaxAdditionalURLs int `json:"max_additional_urls"`
	QueryTimeout      int `json:"query_timeout_seconds"`

	// DeclaredMaxResults is the result_count ceiling advertised in the
	// search tool's input schema. The hard [1, 50] clamp applied regardless
	// of what the schema advertises is a fixed constant in the search tool
	// and the retrieval engine; MaxResults is not read by either.
	DeclaredMaxResults int `json:"declared_max_results"`
}

// EndpointLimit describes one rate-limit window applied to a method.
type EndpointLimit struct {
	Requests int           `json:"requests"`
	Window   time.Duration `json:"window"`
}

// PlanScale multiplies the base short/long window limits for one
// authenticated plan tier.
type PlanScale struct {
	ShortScale float64 `json:"short_scale"`
	LongScale  float64 `json:"long_scale"`
}

// RateLimitConfig represents the short/long window limits applied per
// identity plan tier. Plans holds the per-tier multiplier applied on top of
// ShortWindow/LongWindow for authenticated identities; anonymous identities
// use AnonymousShortScale/AnonymousLongScale instead, ignoring Plans.
type RateLimitConfig struct {
	ShortWindow         EndpointLimit        `json:"short_window"`
	LongWindow          EndpointLimit        `json:"long_window"`
	AnonymousShortScale float64              `json:"anonymous_short_scale"`
	AnonymousLongScale  float64              `json:"anonymous_long_scale"`
	Plans               map[string]PlanScale `json:"plans"`
}

// ScaleFor resolves the (short, long) multiplier for one identity. anonymous
// always wins over plan, since an anonymous caller has no plan tier.
func (c RateLimitConfig) ScaleFor(plan string, anonymous bool) (shortScale, longScale float64) {
	if anonymous {
		return c.AnonymousShortScale, c.AnonymousLongScale
	}
	if s, ok := c.Plans[plan]; ok {
		return s.ShortScale, s.LongScale
	}
	return 1.0, 1.0
}

// SessionConfig controls the in-process session/inflight/progress registry.
type SessionConfig struct {
	Enabled          bool          `json:"enabled"`
	SessionTTL       time.Duration `json:"session_ttl"`
	SessionSweep     time.Duration `json:"session_sweep_interval"`
	InflightGrace    time.Duration `json:"inflight_grace"`
	InflightSweep    time.Duration `json:"inflight_sweep_interval"`
	ToolCallTimeout  time.Duration `json:"tool_call_timeout"`
	MetaCallTimeout  time.Duration `json:"meta_call_timeout"`
}

// LoggingConfig represents structured logging configuration.
type LoggingConfig struct {
	Level  string `json:"level"`
	Format string `json:"format"`
}

// IdentityConfig tunes the identity store's validation cache and its
// asynchronous last-used/usage-logging queue.
type IdentityConfig struct {
	CacheSize       int           `json:"cache_size"`
	CacheTTL        time.Duration `json:"cache_ttl"`
	AsyncQueueSize  int           `json:"async_queue_size"`
	AsyncWorkers    int           `json:"async_workers"`
	TokenPrefix     string        `json:"token_prefix"`
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:         8080,
			Host:         "0.0.0.0",
			ReadTimeout:  30,
			WriteTimeout: 30,
		},
		Database: DatabaseConfig{
			Host:               "localhost",
			Port:               5432,
			Name:               "docsearch",
			User:               "postgres",
			SSLMode:            "disable",
			MaxOpenConns:       25,
			MaxIdleConns:       5,
			ConnMaxLifetime:    time.Hour,
			ConnMaxIdleTime:    15 * time.Minute,
			QueryTimeout:       10 * time.Second,
			SlowQueryThreshold: 100 * time.Millisecond,
			EnableQueryLogging: false,
			MigrationTimeout:   10 * time.Minute,
			EnableAutoMigrate:  false,
			MigrationsPath:     "./migrations",
		},
		Redis: RedisConfig{
			Host:         "localhost",
			Port:         6379,
			DB:           0,
			DialTimeout:  5 * time.Second,
			ReadTimeout:  3 * time.Second,
			WriteTimeout: 3 * time.Second,
			PoolSize:     10,
		},
		OpenAI: OpenAIConfig{
			EmbeddingModel: "text-embedding-3-small",
			Dimensions:     1536,
			RequestTimeout: 30,
			RateLimitRPM:   500,
			CacheSize:      2000,
		},
		Rerank: RerankConfig{
			BaseURL:        "https://api.cohere.ai/v1",
			Model:          "rerank-english-v3.0",
			Instruction:    "Rank these documents by relevance to the query.",
			RequestTimeout: 10,
		},
		Retrieval: RetrievalConfig{
			SmallDocThreshold:  1500,
			CandidateLimit:     50,
			MaxResults:         25,
			MaxAdditionalURLs:  10,
			QueryTimeout:       30,
			DeclaredMaxResults: 10,
		},
		RateLimit: RateLimitConfig{
			ShortWindow:         EndpointLimit{Requests: 60, Window: time.Minute},
			LongWindow:          EndpointLimit{Requests: 5000, Window: 7 * 24 * time.Hour},
			AnonymousShortScale: 0.2,
			AnonymousLongScale:  0.1,
			Plans: map[string]PlanScale{
				"free":       {ShortScale: 1, LongScale: 1},
				"pro":        {ShortScale: 3, LongScale: 5},
				"enterprise": {ShortScale: 10, LongScale: 20},
			},
		},
		Session: SessionConfig{
			Enabled:         true,
			SessionTTL:      24 * time.Hour,
			SessionSweep:    5 * time.Minute,
			InflightGrace:   5 * time.Second,
			InflightSweep:   time.Minute,
			ToolCallTimeout: 30 * time.Second,
			MetaCallTimeout: 5 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Identity: IdentityConfig{
			CacheSize:      5000,
			CacheTTL:       5 * time.Minute,
			AsyncQueueSize: 1000,
			AsyncWorkers:   2,
			TokenPrefix:    "at_",
		},
	}
}

// LoadConfig loads configuration from environment variables and defaults
func LoadConfig() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("error loading .env file: %w", err)
		}
	}

	config := DefaultConfig()
	loadFromEnv(config)

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return config, nil
}

func loadFromEnv(config *Config) {
	loadServerConfig(config)
	loadDatabaseConfig(config)
	loadRedisConfig(config)
	loadOpenAIConfig(config)
	loadRerankConfig(config)
	loadRetrievalConfig(config)
	loadRateLimitConfig(config)
	loadSessionConfig(config)
	loadLoggingConfig(config)
	loadIdentityConfig(config)
}

func loadServerConfig(config *Config) {
	config.Server.Port = getIntEnvWithDefault("SERVER_PORT", config.Server.Port)
	config.Server.Host = getStringEnvWithDefault("SERVER_HOST", config.Server.Host)
	config.Server.ReadTimeout = getIntEnvWithDefault("SERVER_READ_TIMEOUT_SECONDS", config.Server.ReadTimeout)
	config.Server.WriteTimeout = getIntEnvWithDefault("SERVER_WRITE_TIMEOUT_SECONDS", config.Server.WriteTimeout)
}

func loadDatabaseConfig(config *Config) {
	config.Database.Host = getStringEnvWithDefault("DB_HOST", config.Database.Host)
	config.Database.Port = getIntEnvWithDefault("DB_PORT", config.Database.Port)
	config.Database.Name = getStringEnvWithDefault("DB_NAME", config.Database.Name)
	config.Database.User = getStringEnvWithDefault("DB_USER", config.Database.User)
	config.Database.Password = getStringEnvWithDefault("DB_PASSWORD", config.Database.Password)
	config.Database.SSLMode = getStringEnvWithDefault("DB_SSLMODE", config.Database.SSLMode)
	config.Database.MaxOpenConns = getIntEnvWithDefault("DB_MAX_OPEN_CONNS", config.Database.MaxOpenConns)
	config.Database.MaxIdleConns = getIntEnvWithDefault("DB_MAX_IDLE_CONNS", config.Database.MaxIdleConns)

	if v := os.Getenv("DB_CONN_MAX_LIFETIME"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			config.Database.ConnMaxLifetime = d
		}
	}
	if v := os.Getenv("DB_CONN_MAX_IDLE_TIME"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			config.Database.ConnMaxIdleTime = d
		}
	}
	if v := os.Getenv("DB_QUERY_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			config.Database.QueryTimeout = d
		}
	}
	if v := os.Getenv("DB_SLOW_QUERY_THRESHOLD"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			config.Database.SlowQueryThreshold = d
		}
	}
	config.Database.EnableQueryLogging = getBoolEnvWithDefault("DB_ENABLE_QUERY_LOGGING", config.Database.EnableQueryLogging)

	if v := os.Getenv("DB_MIGRATION_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			config.Database.MigrationTimeout = d
		}
	}
	config.Database.EnableAutoMigrate = getBoolEnvWithDefault("DB_ENABLE_AUTO_MIGRATE", config.Database.EnableAutoMigrate)
	config.Database.MigrationsPath = getStringEnvWithDefault("DB_MIGRATIONS_PATH", config.Database.MigrationsPath)
}

func loadRedisConfig(config *Config) {
	config.Redis.Host = getStringEnvWithDefault("REDIS_HOST", config.Redis.Host)
	config.Redis.Port = getIntEnvWithDefault("REDIS_PORT", config.Redis.Port)
	config.Redis.Password = getStringEnvWithDefault("REDIS_PASSWORD", config.Redis.Password)
	config.Redis.DB = getIntEnvWithDefault("REDIS_DB", config.Redis.DB)
	config.Redis.PoolSize = getIntEnvWithDefault("REDIS_POOL_SIZE", config.Redis.PoolSize)
}

func loadOpenAIConfig(config *Config) {
	if keys := os.Getenv("OPENAI_API_KEYS"); keys != "" {
		config.OpenAI.APIKeys = splitAndTrim(keys)
	} else if key := os.Getenv("OPENAI_API_KEY"); key != "" {
		config.OpenAI.APIKeys = []string{key}
	}
	config.OpenAI.EmbeddingModel = getStringEnvWithDefault("OPENAI_EMBEDDING_MODEL", config.OpenAI.EmbeddingModel)
	config.OpenAI.Dimensions = getIntEnvWithDefault("OPENAI_EMBEDDING_DIMENSIONS", config.OpenAI.Dimensions)
	config.OpenAI.RequestTimeout = getIntEnvWithDefault("OPENAI_REQUEST_TIMEOUT_SECONDS", config.OpenAI.RequestTimeout)
	config.OpenAI.RateLimitRPM = getIntEnvWithDefault("OPENAI_RATE_LIMIT_RPM", config.OpenAI.RateLimitRPM)
	config.OpenAI.CacheSize = getIntEnvWithDefault("OPENAI_EMBEDDING_CACHE_SIZE", config.OpenAI.CacheSize)
}

func loadRerankConfig(config *Config) {
	config.Rerank.BaseURL = getStringEnvWithDefault("RERANK_BASE_URL", config.Rerank.BaseURL)
	config.Rerank.APIKey = getStringEnvWithDefault("RERANK_API_KEY", config.Rerank.APIKey)
	config.Rerank.Model = getStringEnvWithDefault("RERANK_MODEL", config.Rerank.Model)
	config.Rerank.Instruction = getStringEnvWithDefault("RERANK_INSTRUCTION", config.Rerank.Instruction)
	config.Rerank.RequestTimeout = getIntEnvWithDefault("RERANK_REQUEST_TIMEOUT_SECONDS", config.Rerank.RequestTimeout)
}

func loadRetrievalConfig(config *Config) {
	config.Retrieval.SmallDocThreshold = getIntEnvWithDefault("RETRIEVAL_SMALL_DOC_THRESHOLD", config.Retrieval.SmallDocThreshold)
	config.Retrieval.CandidateLimit = getIntEnvWithDefault("RETRIEVAL_CANDIDATE_LIMIT", config.Retrieval.CandidateLimit)
	config.Retrieval.MaxResults = getIntEnvWithDefault("RETRIEVAL_MAX_RESULTS", config.Retrieval.MaxResults)
	config.Retrieval.MaxAdditionalURLs = getIntEnvWithDefault("RETRIEVAL_MAX_ADDITIONAL_URLS", config.Retrieval.MaxAdditionalURLs)
	config.Retrieval.QueryTimeout = getIntEnvWithDefault("RETRIEVAL_QUERY_TIMEOUT_SECONDS", config.Retrieval.QueryTimeout)
	config.Retrieval.DeclaredMaxResults = getIntEnvWithDefault("RETRIEVAL_DECLARED_MAX_RESULTS", config.Retrieval.DeclaredMaxResults)
}

func loadRateLimitConfig(config *Config) {
	config.RateLimit.ShortWindow.Requests = getIntEnvWithDefault("RATE_LIMIT_SHORT_REQUESTS", config.RateLimit.ShortWindow.Requests)
	if v := os.Getenv("RATE_LIMIT_SHORT_WINDOW"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			config.RateLimit.ShortWindow.Window = d
		}
	}
	config.RateLimit.LongWindow.Requests = getIntEnvWithDefault("RATE_LIMIT_LONG_REQUESTS", config.RateLimit.LongWindow.Requests)
	if v := os.Getenv("RATE_LIMIT_LONG_WINDOW"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			config.RateLimit.LongWindow.Window = d
		}
	}
	if v := os.Getenv("RATE_LIMIT_ANON_SHORT_SCALE"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			config.RateLimit.AnonymousShortScale = f
		}
	}
	if v := os.Getenv("RATE_LIMIT_ANON_LONG_SCALE"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			config.RateLimit.AnonymousLongScale = f
		}
	}
}

func loadSessionConfig(config *Config) {
	config.Session.Enabled = getBoolEnvWithDefault("MCP_SESSIONS_ENABLED", config.Session.Enabled)
	if v := os.Getenv("SESSION_TTL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			config.Session.SessionTTL = d
		}
	}
	if v := os.Getenv("SESSION_SWEEP_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			config.Session.SessionSweep = d
		}
	}
	if v := os.Getenv("INFLIGHT_GRACE"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			config.Session.InflightGrace = d
		}
	}
	if v := os.Getenv("INFLIGHT_SWEEP_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			config.Session.InflightSweep = d
		}
	}
	if v := os.Getenv("TOOL_CALL_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			config.Session.ToolCallTimeout = d
		}
	}
	if v := os.Getenv("META_CALL_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			config.Session.MetaCallTimeout = d
		}
	}
}

func loadLoggingConfig(config *Config) {
	config.Logging.Level = getStringEnvWithDefault("LOG_LEVEL", config.Logging.Level)
	config.Logging.Format = getStringEnvWithDefault("LOG_FORMAT", config.Logging.Format)
}

func loadIdentityConfig(config *Config) {
	config.Identity.CacheSize = getIntEnvWithDefault("IDENTITY_CACHE_SIZE", config.Identity.CacheSize)
	if v := os.Getenv("IDENTITY_CACHE_TTL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			config.Identity.CacheTTL = d
		}
	}
	config.Identity.AsyncQueueSize = getIntEnvWithDefault("IDENTITY_ASYNC_QUEUE_SIZE", config.Identity.AsyncQueueSize)
	config.Identity.AsyncWorkers = getIntEnvWithDefault("IDENTITY_ASYNC_WORKERS", config.Identity.AsyncWorkers)
	config.Identity.TokenPrefix = getStringEnvWithDefault("IDENTITY_TOKEN_PREFIX", config.Identity.TokenPrefix)
}

func splitAndTrim(csv string) []string {
	parts := strings.Split(csv, ",")
	cleaned := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			cleaned = append(cleaned, trimmed)
		}
	}
	return cleaned
}

func getStringEnvWithDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnvWithDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getBoolEnvWithDefault(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if err := c.validateServerConfig(); err != nil {
		return err
	}
	if err := c.validateDatabaseConfig(); err != nil {
		return err
	}
	if err := c.validateOpenAIConfig(); err != nil {
		return err
	}
	if err := c.validateRetrievalConfig(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validateServerConfig() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	if c.Server.Host == "" {
		return errors.New("server host cannot be empty")
	}
	return nil
}

func (c *Config) validateDatabaseConfig() error {
	if c.Database.Host == "" {
		return errors.New("database host cannot be empty")
	}
	if c.Database.Port <= 0 || c.Database.Port > 65535 {
		return fmt.Errorf("invalid database port: %d", c.Database.Port)
	}
	if c.Database.Name == "" {
		return errors.New("database name cannot be empty")
	}
	if c.Database.MaxIdleConns > c.Database.MaxOpenConns {
		return errors.New("max idle connections cannot exceed max open connections")
	}
	return nil
}

func (c *Config) validateOpenAIConfig() error {
	if len(c.OpenAI.APIKeys) == 0 {
		return errors.New("at least one OpenAI API key is required")
	}
	if c.OpenAI.EmbeddingModel == "" {
		return errors.New("OpenAI embedding model cannot be empty")
	}
	return nil
}

func (c *Config) validateRetrievalConfig() error {
	if c.Retrieval.SmallDocThreshold <= 0 {
		return errors.New("small document threshold must be positive")
	}
	if c.Retrieval.MaxAdditionalURLs < 0 {
		return errors.New("max additional URLs cannot be negative")
	}
	return nil
}

// DSN builds the Postgres connection string lib/pq expects.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d dbname=%s user=%s password=%s sslmode=%s",
		d.Host, d.Port, d.Name, d.User, d.Password, d.SSLMode)
}

// Addr builds the host:port address go-redis expects.
func (r RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

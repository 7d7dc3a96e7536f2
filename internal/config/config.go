// Package config defines the top-level configuration for the prediction-market
// indexer and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by PMIDX_* environment variables.
type Config struct {
	Polymarket PolymarketConfig `toml:"polymarket"`
	Kalshi     KalshiConfig     `toml:"kalshi"`
	Postgres   PostgresConfig   `toml:"postgres"`
	Redis      RedisConfig      `toml:"redis"`
	S3         S3Config         `toml:"s3"`
	Qdrant     QdrantConfig     `toml:"qdrant"`
	Embeddings EmbeddingsConfig `toml:"embeddings"`
	Sync       SyncConfig       `toml:"sync"`
	Jobs       JobsConfig       `toml:"jobs"`
	Search     SearchConfig     `toml:"search"`
	RateLimit  RateLimitConfig  `toml:"rate_limit"`
	Archive    ArchiveConfig    `toml:"archive"`
	Server     ServerConfig     `toml:"server"`
	Notify     NotifyConfig     `toml:"notify"`
	Mode       string           `toml:"mode"`
	LogLevel   string           `toml:"log_level"`
}

// PolymarketConfig holds Polymarket API endpoints.
type PolymarketConfig struct {
	GammaHost string `toml:"gamma_host"`
}

// KalshiConfig holds Kalshi API endpoints.
type KalshiConfig struct {
	BaseURL string `toml:"base_url"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters. Leave Addr empty to run
// without the cache and distributed lock.
type RedisConfig struct {
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
}

// S3Config holds S3-compatible object storage parameters for snapshot
// archival.
type S3Config struct {
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// QdrantConfig holds vector index parameters.
type QdrantConfig struct {
	URL        string `toml:"url"`
	APIKey     string `toml:"api_key"`
	Collection string `toml:"collection"`
	VectorSize int    `toml:"vector_size"`
}

// EmbeddingsConfig holds embedding provider parameters.
type EmbeddingsConfig struct {
	Provider string `toml:"provider"` // "ollama" or "openai"
	BaseURL  string `toml:"base_url"`
	APIKey   string `toml:"api_key"`
	Model    string `toml:"model"`
}

// SyncConfig holds sync orchestration parameters.
type SyncConfig struct {
	Interval       duration `toml:"interval"`
	FullSyncHour   int      `toml:"full_sync_hour"`
	FetchLimit     int      `toml:"fetch_limit"`
	ExcludeSports  bool     `toml:"exclude_sports"`
	DeferEmbedding bool     `toml:"defer_embedding"`
	StaleRunAfter  duration `toml:"stale_run_after"`
}

// JobsConfig holds the embedding job worker parameters.
type JobsConfig struct {
	WorkerEnabled bool     `toml:"worker_enabled"`
	PollInterval  duration `toml:"poll_interval"`
	BatchSize     int      `toml:"batch_size"`
	MaxAttempts   int      `toml:"max_attempts"`
}

// SearchConfig holds the search read-path parameters.
type SearchConfig struct {
	SortWindow int `toml:"sort_window"`
}

// RateLimitConfig holds the two independent limiter instances.
type RateLimitConfig struct {
	Search LimiterConfig `toml:"search"`
	Admin  LimiterConfig `toml:"admin"`
}

// LimiterConfig configures one fixed-window limiter instance.
type LimiterConfig struct {
	Max        int      `toml:"max"`
	Window     duration `toml:"window"`
	MaxBuckets int      `toml:"max_buckets"`
}

// ArchiveConfig holds snapshot cold-storage parameters.
type ArchiveConfig struct {
	Enabled       bool   `toml:"enabled"`
	RetentionDays int    `toml:"retention_days"`
	Cron          string `toml:"cron"`
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Enabled     bool     `toml:"enabled"`
	Port        int      `toml:"port"`
	APIKey      string   `toml:"api_key"`
	CORSOrigins []string `toml:"cors_origins"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// duration is a wrapper around time.Duration that supports TOML string
// decoding (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns a Config populated with reasonable default values.
func Defaults() Config {
	return Config{
		Polymarket: PolymarketConfig{
			GammaHost: "https://gamma-api.polymarket.com",
		},
		Kalshi: KalshiConfig{
			BaseURL: "https://api.elections.kalshi.com/trade-api/v2",
		},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "pmindexer",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			PoolSize:   20,
			MaxRetries: 3,
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "pmindexer-archive",
			ForcePathStyle: true,
		},
		Qdrant: QdrantConfig{
			URL:        "http://localhost:6333",
			Collection: "markets",
			VectorSize: 768,
		},
		Embeddings: EmbeddingsConfig{
			Provider: "ollama",
			BaseURL:  "http://localhost:11434",
			Model:    "nomic-embed-text",
		},
		Sync: SyncConfig{
			Interval:       duration{10 * time.Minute},
			FullSyncHour:   4,
			FetchLimit:     2000,
			ExcludeSports:  true,
			DeferEmbedding: true,
			StaleRunAfter:  duration{30 * time.Minute},
		},
		Jobs: JobsConfig{
			WorkerEnabled: true,
			PollInterval:  duration{15 * time.Second},
			BatchSize:     5,
			MaxAttempts:   5,
		},
		Search: SearchConfig{
			SortWindow: 200,
		},
		RateLimit: RateLimitConfig{
			Search: LimiterConfig{Max: 60, Window: duration{time.Minute}, MaxBuckets: 10_000},
			Admin:  LimiterConfig{Max: 10, Window: duration{time.Minute}, MaxBuckets: 1_000},
		},
		Archive: ArchiveConfig{
			Enabled:       false,
			RetentionDays: 90,
			Cron:          "0 3 * * *",
		},
		Server: ServerConfig{
			Enabled:     true,
			Port:        8000,
			CORSOrigins: []string{"http://localhost:3000"},
		},
		Notify: NotifyConfig{
			Events: []string{"alert_triggered", "sync_failed"},
		},
		Mode:     "full",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"serve":  true, // HTTP API only
	"sync":   true, // scheduler + sync pipeline only
	"worker": true, // job worker only
	"full":   true, // everything
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks Config for obviously invalid or missing values and returns
// a combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: serve, sync, worker, full)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	if c.Polymarket.GammaHost == "" {
		errs = append(errs, "polymarket: gamma_host must not be empty")
	}
	if c.Kalshi.BaseURL == "" {
		errs = append(errs, "kalshi: base_url must not be empty")
	}

	if strings.TrimSpace(c.Postgres.DSN) == "" {
		if c.Postgres.Host == "" {
			errs = append(errs, "postgres: host must not be empty (or set postgres.dsn)")
		}
		if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
			errs = append(errs, fmt.Sprintf("postgres: port must be 1-65535, got %d", c.Postgres.Port))
		}
		if c.Postgres.Database == "" {
			errs = append(errs, "postgres: database must not be empty")
		}
	}
	if c.Postgres.PoolMaxConns < 1 {
		errs = append(errs, "postgres: pool_max_conns must be >= 1")
	}
	if c.Postgres.PoolMinConns < 0 {
		errs = append(errs, "postgres: pool_min_conns must be >= 0")
	}
	if c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
		errs = append(errs, "postgres: pool_min_conns must not exceed pool_max_conns")
	}

	if c.Qdrant.URL == "" {
		errs = append(errs, "qdrant: url must not be empty")
	}
	if c.Qdrant.Collection == "" {
		errs = append(errs, "qdrant: collection must not be empty")
	}
	if c.Qdrant.VectorSize <= 0 {
		errs = append(errs, "qdrant: vector_size must be > 0")
	}

	switch c.Embeddings.Provider {
	case "ollama", "openai":
	default:
		errs = append(errs, fmt.Sprintf("embeddings: unknown provider %q (valid: ollama, openai)", c.Embeddings.Provider))
	}
	if c.Embeddings.BaseURL == "" {
		errs = append(errs, "embeddings: base_url must not be empty")
	}
	if c.Embeddings.Model == "" {
		errs = append(errs, "embeddings: model must not be empty")
	}

	if c.Sync.Interval.Duration <= 0 {
		errs = append(errs, "sync: interval must be > 0")
	}
	if c.Sync.FullSyncHour < 0 || c.Sync.FullSyncHour > 23 {
		errs = append(errs, fmt.Sprintf("sync: full_sync_hour must be 0-23, got %d", c.Sync.FullSyncHour))
	}
	if c.Sync.FetchLimit <= 0 {
		errs = append(errs, "sync: fetch_limit must be > 0")
	}

	if c.Jobs.BatchSize < 1 {
		errs = append(errs, "jobs: batch_size must be >= 1")
	}
	if c.Jobs.MaxAttempts < 1 {
		errs = append(errs, "jobs: max_attempts must be >= 1")
	}
	if c.Jobs.WorkerEnabled && c.Jobs.PollInterval.Duration <= 0 {
		errs = append(errs, "jobs: poll_interval must be > 0 when the worker is enabled")
	}

	if c.Search.SortWindow < 1 {
		errs = append(errs, "search: sort_window must be >= 1")
	}

	if c.Archive.Enabled {
		if c.Archive.RetentionDays < 1 {
			errs = append(errs, "archive: retention_days must be >= 1 when enabled")
		}
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty when archiving is enabled")
		}
	}

	if c.Server.Enabled {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

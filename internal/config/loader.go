package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies PMIDX_* environment variable overrides, and
// returns the final Config. The returned Config has NOT been validated; the
// caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, err
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known PMIDX_* environment variables and
// overwrites the corresponding Config fields when a variable is set. This
// lets operators inject secrets at deploy time without touching the TOML
// file.
func applyEnvOverrides(cfg *Config) {
	// ── Sources ──
	setStr(&cfg.Polymarket.GammaHost, "PMIDX_POLYMARKET_GAMMA_HOST")
	setStr(&cfg.Kalshi.BaseURL, "PMIDX_KALSHI_BASE_URL")

	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "PMIDX_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "PMIDX_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "PMIDX_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "PMIDX_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "PMIDX_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "PMIDX_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "PMIDX_POSTGRES_SSLMODE")
	setInt(&cfg.Postgres.PoolMaxConns, "PMIDX_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "PMIDX_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "PMIDX_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "PMIDX_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "PMIDX_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "PMIDX_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "PMIDX_REDIS_POOL_SIZE")
	setBool(&cfg.Redis.TLSEnabled, "PMIDX_REDIS_TLS_ENABLED")

	// ── S3 ──
	setStr(&cfg.S3.Endpoint, "PMIDX_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "PMIDX_S3_REGION")
	setStr(&cfg.S3.Bucket, "PMIDX_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "PMIDX_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "PMIDX_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "PMIDX_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "PMIDX_S3_FORCE_PATH_STYLE")

	// ── Qdrant ──
	setStr(&cfg.Qdrant.URL, "PMIDX_QDRANT_URL")
	setStr(&cfg.Qdrant.APIKey, "PMIDX_QDRANT_API_KEY")
	setStr(&cfg.Qdrant.Collection, "PMIDX_QDRANT_COLLECTION")
	setInt(&cfg.Qdrant.VectorSize, "PMIDX_QDRANT_VECTOR_SIZE")

	// ── Embeddings ──
	setStr(&cfg.Embeddings.Provider, "PMIDX_EMBEDDINGS_PROVIDER")
	setStr(&cfg.Embeddings.BaseURL, "PMIDX_EMBEDDINGS_BASE_URL")
	setStr(&cfg.Embeddings.APIKey, "PMIDX_EMBEDDINGS_API_KEY")
	setStr(&cfg.Embeddings.Model, "PMIDX_EMBEDDINGS_MODEL")

	// ── Sync ──
	setDuration(&cfg.Sync.Interval, "PMIDX_SYNC_INTERVAL")
	setInt(&cfg.Sync.FullSyncHour, "PMIDX_SYNC_FULL_SYNC_HOUR")
	setInt(&cfg.Sync.FetchLimit, "PMIDX_SYNC_FETCH_LIMIT")
	setBool(&cfg.Sync.ExcludeSports, "PMIDX_SYNC_EXCLUDE_SPORTS")
	setBool(&cfg.Sync.DeferEmbedding, "PMIDX_SYNC_DEFER_EMBEDDING")
	setDuration(&cfg.Sync.StaleRunAfter, "PMIDX_SYNC_STALE_RUN_AFTER")

	// ── Jobs ──
	setBool(&cfg.Jobs.WorkerEnabled, "PMIDX_JOBS_WORKER_ENABLED")
	setDuration(&cfg.Jobs.PollInterval, "PMIDX_JOBS_POLL_INTERVAL")
	setInt(&cfg.Jobs.BatchSize, "PMIDX_JOBS_BATCH_SIZE")
	setInt(&cfg.Jobs.MaxAttempts, "PMIDX_JOBS_MAX_ATTEMPTS")

	// ── Search & rate limits ──
	setInt(&cfg.Search.SortWindow, "PMIDX_SEARCH_SORT_WINDOW")
	setInt(&cfg.RateLimit.Search.Max, "PMIDX_RATE_LIMIT_SEARCH_MAX")
	setDuration(&cfg.RateLimit.Search.Window, "PMIDX_RATE_LIMIT_SEARCH_WINDOW")
	setInt(&cfg.RateLimit.Search.MaxBuckets, "PMIDX_RATE_LIMIT_SEARCH_MAX_BUCKETS")
	setInt(&cfg.RateLimit.Admin.Max, "PMIDX_RATE_LIMIT_ADMIN_MAX")
	setDuration(&cfg.RateLimit.Admin.Window, "PMIDX_RATE_LIMIT_ADMIN_WINDOW")
	setInt(&cfg.RateLimit.Admin.MaxBuckets, "PMIDX_RATE_LIMIT_ADMIN_MAX_BUCKETS")

	// ── Archive ──
	setBool(&cfg.Archive.Enabled, "PMIDX_ARCHIVE_ENABLED")
	setInt(&cfg.Archive.RetentionDays, "PMIDX_ARCHIVE_RETENTION_DAYS")
	setStr(&cfg.Archive.Cron, "PMIDX_ARCHIVE_CRON")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "PMIDX_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "PMIDX_SERVER_PORT")
	setStr(&cfg.Server.APIKey, "PMIDX_SERVER_API_KEY")
	setStringSlice(&cfg.Server.CORSOrigins, "PMIDX_SERVER_CORS_ORIGINS")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "PMIDX_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "PMIDX_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "PMIDX_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "PMIDX_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.Mode, "PMIDX_MODE")
	setStr(&cfg.LogLevel, "PMIDX_LOG_LEVEL")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}

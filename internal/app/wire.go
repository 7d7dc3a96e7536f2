package app

import (
	"context"
	"fmt"
	"log/slog"

	s3blob "github.com/0xqtpie/pm-indexer/internal/blob/s3"
	"github.com/0xqtpie/pm-indexer/internal/cache/redis"
	"github.com/0xqtpie/pm-indexer/internal/config"
	"github.com/0xqtpie/pm-indexer/internal/domain"
	"github.com/0xqtpie/pm-indexer/internal/embeddings"
	"github.com/0xqtpie/pm-indexer/internal/notify"
	"github.com/0xqtpie/pm-indexer/internal/store/postgres"
	"github.com/0xqtpie/pm-indexer/internal/vector/qdrant"
)

// Dependencies bundles every domain-level dependency the application modes
// need. It is constructed by Wire and torn down by the returned cleanup
// function.
type Dependencies struct {
	// Stores
	MarketStore   domain.MarketStore
	SnapshotStore domain.SnapshotStore
	JobStore      domain.JobStore
	SyncRunStore  domain.SyncRunStore
	AlertStore    domain.AlertStore

	// Redis-backed pieces; nil when no Redis address is configured.
	MarketCache domain.MarketCache
	LockManager domain.LockManager

	// Vector index and embeddings
	VectorIndex domain.VectorIndex
	Embedder    embeddings.Embedder

	// Blob storage; nil unless archiving is enabled.
	Archiver *s3blob.Archiver

	// Notifications
	Notifier *notify.Notifier
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that
// should be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{}

	// --- PostgreSQL ---
	pgClient, err := postgres.New(ctx, postgres.ClientConfig{
		DSN:      cfg.Postgres.DSN,
		Host:     cfg.Postgres.Host,
		Port:     cfg.Postgres.Port,
		Database: cfg.Postgres.Database,
		User:     cfg.Postgres.User,
		Password: cfg.Postgres.Password,
		SSLMode:  cfg.Postgres.SSLMode,
		MaxConns: cfg.Postgres.PoolMaxConns,
		MinConns: cfg.Postgres.PoolMinConns,
	})
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: postgres: %w", err)
	}
	closers = append(closers, pgClient.Close)

	if cfg.Postgres.RunMigrations {
		if err := pgClient.RunMigrations(ctx); err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
		}
	}

	pool := pgClient.Pool()
	deps.MarketStore = postgres.NewMarketStore(pool)
	deps.SnapshotStore = postgres.NewSnapshotStore(pool)
	deps.JobStore = postgres.NewJobStore(pool)
	deps.SyncRunStore = postgres.NewSyncRunStore(pool)
	deps.AlertStore = postgres.NewAlertStore(pool)

	// --- Redis (optional) ---
	if cfg.Redis.Addr != "" {
		redisClient, err := redis.New(ctx, redis.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: redis: %w", err)
		}
		closers = append(closers, func() { _ = redisClient.Close() })

		deps.MarketCache = redis.NewMarketCache(redisClient)
		deps.LockManager = redis.NewLockManager(redisClient)
	} else {
		logger.Info("redis not configured, running without cache and distributed lock")
	}

	// --- Qdrant vector index ---
	qdrantClient := qdrant.New(cfg.Qdrant.URL, cfg.Qdrant.APIKey, cfg.Qdrant.Collection, cfg.Qdrant.VectorSize)
	if err := qdrantClient.EnsureCollection(ctx); err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: qdrant: %w", err)
	}
	deps.VectorIndex = qdrantClient

	// --- Embeddings ---
	embedder, err := embeddings.New(cfg.Embeddings.Provider, cfg.Embeddings.BaseURL, cfg.Embeddings.APIKey, cfg.Embeddings.Model)
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: embeddings: %w", err)
	}
	deps.Embedder = embedder

	// --- S3 snapshot archive (optional) ---
	if cfg.Archive.Enabled {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: s3: %w", err)
		}
		closers = append(closers, func() { _ = s3Client.Close() })

		deps.Archiver = s3blob.NewArchiver(
			s3blob.NewWriter(s3Client),
			deps.SnapshotStore,
			cfg.Archive.RetentionDays,
			logger,
		)
	}

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(cfg.Notify.TelegramToken, cfg.Notify.TelegramChatID))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)

	return deps, cleanup, nil
}

package app

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/0xqtpie/pm-indexer/internal/alerts"
	"github.com/0xqtpie/pm-indexer/internal/config"
	"github.com/0xqtpie/pm-indexer/internal/jobs"
	"github.com/0xqtpie/pm-indexer/internal/notify"
	"github.com/0xqtpie/pm-indexer/internal/platform/kalshi"
	"github.com/0xqtpie/pm-indexer/internal/platform/polymarket"
	"github.com/0xqtpie/pm-indexer/internal/ratelimit"
	"github.com/0xqtpie/pm-indexer/internal/scheduler"
	"github.com/0xqtpie/pm-indexer/internal/search"
	"github.com/0xqtpie/pm-indexer/internal/server"
	"github.com/0xqtpie/pm-indexer/internal/server/handler"
	"github.com/0xqtpie/pm-indexer/internal/server/ws"
	"github.com/0xqtpie/pm-indexer/internal/service"
	"github.com/0xqtpie/pm-indexer/internal/syncer"
)

// ServeMode runs the HTTP API and WebSocket hub. Syncs happen only on
// manual admin triggers; no scheduler loops run.
func (a *App) ServeMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting serve mode")

	g, ctx := errgroup.WithContext(ctx)

	hub := ws.NewHub(a.logger)
	g.Go(func() error {
		err := hub.Run(ctx)
		if ctx.Err() != nil {
			return nil // clean shutdown
		}
		return err
	})

	orch := a.buildSyncer(deps, hub)
	a.startHTTPServer(ctx, g, deps, orch, hub)

	return g.Wait()
}

// SyncMode runs the scheduler loops (incremental, daily full, snapshot
// archive) without the HTTP server or job worker.
func (a *App) SyncMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting sync mode")

	orch := a.buildSyncer(deps, nil)
	if err := orch.RecoverStale(ctx); err != nil {
		return fmt.Errorf("sync mode: recover stale runs: %w", err)
	}

	sched := scheduler.New(orch, deps.Archiver, deps.Notifier, a.logger, scheduler.Config{
		SyncInterval: a.cfg.Sync.Interval.Duration,
		FullSyncHour: a.cfg.Sync.FullSyncHour,
		ArchiveCron:  a.cfg.Archive.Cron,
	})
	return sched.Run(ctx)
}

// WorkerMode runs only the embedding job worker.
func (a *App) WorkerMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting worker mode")
	return a.buildWorker(deps).Run(ctx)
}

// FullMode runs everything in one process: scheduler, job worker, and the
// HTTP server.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting full mode")

	g, ctx := errgroup.WithContext(ctx)

	hub := ws.NewHub(a.logger)
	g.Go(func() error {
		err := hub.Run(ctx)
		if ctx.Err() != nil {
			return nil // clean shutdown
		}
		return err
	})

	orch := a.buildSyncer(deps, hub)
	if err := orch.RecoverStale(ctx); err != nil {
		return fmt.Errorf("full mode: recover stale runs: %w", err)
	}

	sched := scheduler.New(orch, deps.Archiver, deps.Notifier, a.logger, scheduler.Config{
		SyncInterval: a.cfg.Sync.Interval.Duration,
		FullSyncHour: a.cfg.Sync.FullSyncHour,
		ArchiveCron:  a.cfg.Archive.Cron,
	})
	sched.OnRun(hub.SyncCompleted)
	g.Go(func() error {
		return sched.Run(ctx)
	})

	if a.cfg.Jobs.WorkerEnabled {
		worker := a.buildWorker(deps)
		g.Go(func() error {
			err := worker.Run(ctx)
			if ctx.Err() != nil {
				return nil // clean shutdown
			}
			return err
		})
	}

	if a.cfg.Server.Enabled {
		a.startHTTPServer(ctx, g, deps, orch, hub)
	}

	return g.Wait()
}

// buildSyncer assembles the sync orchestrator. The hub may be nil; sinks
// then fall back to the configured notification channels only.
func (a *App) buildSyncer(deps *Dependencies, hub *ws.Hub) *syncer.Orchestrator {
	fetchers := []syncer.Fetcher{
		polymarket.NewClient(a.cfg.Polymarket.GammaHost),
		kalshi.NewClient(a.cfg.Kalshi.BaseURL),
	}

	sinks := []alerts.EventSink{notify.NewAlertSink(deps.Notifier)}
	if hub != nil {
		sinks = append(sinks, hub)
	}
	evaluator := alerts.NewEvaluator(deps.AlertStore, deps.MarketStore, a.logger, sinks...)

	queue := jobs.NewQueue(deps.JobStore, a.cfg.Jobs.MaxAttempts)

	return syncer.New(
		fetchers,
		deps.MarketStore,
		deps.SyncRunStore,
		queue,
		deps.Embedder,
		deps.VectorIndex,
		evaluator,
		deps.MarketCache,
		deps.LockManager,
		a.logger,
		syncer.Options{
			FetchLimit:     a.cfg.Sync.FetchLimit,
			ExcludeSports:  a.cfg.Sync.ExcludeSports,
			DeferEmbedding: a.cfg.Sync.DeferEmbedding,
			StaleRunAfter:  a.cfg.Sync.StaleRunAfter.Duration,
		},
	)
}

// buildWorker assembles the embedding job worker with a per-process id.
func (a *App) buildWorker(deps *Dependencies) *jobs.Worker {
	host, err := os.Hostname()
	if err != nil {
		host = "worker"
	}
	workerID := fmt.Sprintf("%s-%s", host, uuid.NewString()[:8])

	return jobs.NewWorker(
		deps.JobStore,
		deps.MarketStore,
		deps.Embedder,
		deps.VectorIndex,
		a.logger,
		workerID,
		a.cfg.Jobs.BatchSize,
		a.cfg.Jobs.PollInterval.Duration,
	)
}

// startHTTPServer builds the handler set and runs the server under the
// group, shutting it down when the context ends.
func (a *App) startHTTPServer(ctx context.Context, g *errgroup.Group, deps *Dependencies, orch *syncer.Orchestrator, hub *ws.Hub) {
	marketSvc := service.NewMarketService(deps.MarketStore, deps.SnapshotStore, deps.MarketCache, a.logger)
	searchSvc := search.NewService(deps.Embedder, deps.VectorIndex, deps.MarketStore, a.cfg.Search.SortWindow, a.logger)

	handlers := server.Handlers{
		Health:  handler.NewHealthHandler(marketSvc, a.logger),
		Markets: handler.NewMarketHandler(marketSvc, a.logger),
		Search:  handler.NewSearchHandler(searchSvc, a.logger),
		Admin:   handler.NewAdminHandler(orch, deps.JobStore, a.logger),
		Alerts:  handler.NewAlertHandler(deps.AlertStore, deps.MarketStore, a.logger),
	}
	limiters := server.Limiters{
		Search: newLimiter(a.cfg.RateLimit.Search),
		Admin:  newLimiter(a.cfg.RateLimit.Admin),
	}

	srv := server.NewServer(server.Config{
		Port:        a.cfg.Server.Port,
		CORSOrigins: a.cfg.Server.CORSOrigins,
		APIKey:      a.cfg.Server.APIKey,
	}, handlers, limiters, hub, a.logger)

	g.Go(func() error {
		return srv.Start()
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
}

func newLimiter(cfg config.LimiterConfig) *ratelimit.Limiter {
	if cfg.Max <= 0 {
		return nil
	}
	return ratelimit.New(cfg.Max, cfg.Window.Duration, cfg.MaxBuckets)
}

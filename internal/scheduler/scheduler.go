// Package scheduler drives the background loops: periodic incremental
// syncs, the daily full sync, and cron-scheduled snapshot archival.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	s3blob "github.com/0xqtpie/pm-indexer/internal/blob/s3"
	"github.com/0xqtpie/pm-indexer/internal/domain"
	"github.com/0xqtpie/pm-indexer/internal/notify"
	"github.com/0xqtpie/pm-indexer/internal/syncer"
)

// Config tunes the scheduler loops.
type Config struct {
	SyncInterval time.Duration
	FullSyncHour int // UTC hour of the daily full sync
	ArchiveCron  string
}

// Scheduler owns the long-running loops of the sync and worker modes.
// Archiver and notifier may be nil.
type Scheduler struct {
	sync     *syncer.Orchestrator
	archiver *s3blob.Archiver
	notifier *notify.Notifier
	logger   *slog.Logger
	cfg      Config
	onRun    func(domain.SyncRun)
}

// New creates a Scheduler.
func New(sync *syncer.Orchestrator, archiver *s3blob.Archiver, notifier *notify.Notifier, logger *slog.Logger, cfg Config) *Scheduler {
	if cfg.SyncInterval <= 0 {
		cfg.SyncInterval = 5 * time.Minute
	}
	return &Scheduler{
		sync:     sync,
		archiver: archiver,
		notifier: notifier,
		logger:   logger.With(slog.String("component", "scheduler")),
		cfg:      cfg,
	}
}

// OnRun registers a callback invoked after every completed scheduled sync.
// Must be called before Run.
func (s *Scheduler) OnRun(fn func(domain.SyncRun)) {
	s.onRun = fn
}

// Run starts every loop and blocks until the context is cancelled or a loop
// fails unrecoverably.
func (s *Scheduler) Run(ctx context.Context) error {
	s.logger.Info("scheduler starting",
		slog.Duration("sync_interval", s.cfg.SyncInterval),
		slog.Int("full_sync_hour", s.cfg.FullSyncHour),
		slog.String("archive_cron", s.cfg.ArchiveCron))

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		err := s.runIncrementalLoop(ctx)
		if ctx.Err() != nil {
			return nil // clean shutdown
		}
		return fmt.Errorf("incremental sync loop: %w", err)
	})

	g.Go(func() error {
		err := s.runFullSyncLoop(ctx)
		if ctx.Err() != nil {
			return nil // clean shutdown
		}
		return fmt.Errorf("full sync loop: %w", err)
	})

	if s.archiver != nil && s.cfg.ArchiveCron != "" {
		g.Go(func() error {
			err := s.runArchiveCron(ctx)
			if ctx.Err() != nil {
				return nil // clean shutdown
			}
			return fmt.Errorf("archive cron: %w", err)
		})
	}

	if err := g.Wait(); err != nil {
		s.logger.Error("scheduler stopped with error", slog.String("error", err.Error()))
		return err
	}
	s.logger.Info("scheduler stopped cleanly")
	return nil
}

// runIncrementalLoop syncs immediately on start, then on every tick.
func (s *Scheduler) runIncrementalLoop(ctx context.Context) error {
	s.trigger(ctx, domain.SyncTypeIncremental)

	ticker := time.NewTicker(s.cfg.SyncInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.trigger(ctx, domain.SyncTypeIncremental)
		}
	}
}

// runFullSyncLoop waits for the configured UTC hour once per day.
func (s *Scheduler) runFullSyncLoop(ctx context.Context) error {
	for {
		next := nextDailyHour(time.Now().UTC(), s.cfg.FullSyncHour)
		s.logger.Info("next full sync scheduled", slog.Time("at", next))

		timer := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
			s.trigger(ctx, domain.SyncTypeFull)
		}
	}
}

func (s *Scheduler) runArchiveCron(ctx context.Context) error {
	s.logger.Info("archive cron started", slog.String("cron", s.cfg.ArchiveCron))

	for {
		next, err := nextCronTime(s.cfg.ArchiveCron, time.Now().UTC())
		if err != nil {
			return fmt.Errorf("parsing cron expression %q: %w", s.cfg.ArchiveCron, err)
		}

		timer := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
			if _, err := s.archiver.Run(ctx); err != nil {
				s.logger.Error("archive run failed", slog.String("error", err.Error()))
			}
		}
	}
}

// trigger runs one sync, treats an overlapping trigger as a skip, and
// reports degraded runs through the notifier.
func (s *Scheduler) trigger(ctx context.Context, typ domain.SyncType) {
	run, err := s.sync.Run(ctx, typ)
	if err != nil {
		if errors.Is(err, domain.ErrSyncInProgress) {
			s.logger.Debug("sync already in flight, skipping tick", slog.String("type", string(typ)))
			return
		}
		if ctx.Err() == nil {
			s.logger.Error("sync trigger failed",
				slog.String("type", string(typ)),
				slog.String("error", err.Error()))
		}
		return
	}
	if run.Status != domain.SyncRunSuccess {
		notify.SyncFailed(ctx, s.notifier, run)
	}
	if s.onRun != nil {
		s.onRun(run)
	}
}

// nextDailyHour returns the next occurrence of the given UTC hour strictly
// after now.
func nextDailyHour(now time.Time, hour int) time.Time {
	next := time.Date(now.Year(), now.Month(), now.Day(), hour, 0, 0, 0, time.UTC)
	if !next.After(now) {
		next = next.Add(24 * time.Hour)
	}
	return next
}

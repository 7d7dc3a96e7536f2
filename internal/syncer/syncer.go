// Package syncer orchestrates the ingestion pipeline: fetch both sources,
// diff against the stored mirror, persist each source's pass in one
// transaction, and push embeddings to the vector index inline or via the
// job queue.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/0xqtpie/pm-indexer/internal/alerts"
	"github.com/0xqtpie/pm-indexer/internal/diff"
	"github.com/0xqtpie/pm-indexer/internal/domain"
	"github.com/0xqtpie/pm-indexer/internal/embeddings"
	"github.com/0xqtpie/pm-indexer/internal/jobs"
)

// syncLockKey names the cross-process lock guarding concurrent syncs.
const syncLockKey = "sync"

// syncLockTTL bounds how long a crashed process can hold the sync lock.
const syncLockTTL = 15 * time.Minute

// Fetcher is one upstream marketplace client.
type Fetcher interface {
	Source() domain.Source
	Fetch(ctx context.Context, status domain.FetchStatus, limit int, excludeSports bool) ([]domain.Market, error)
}

// Options tunes one Orchestrator.
type Options struct {
	FetchLimit     int
	ExcludeSports  bool
	DeferEmbedding bool
	StaleRunAfter  time.Duration
}

// Orchestrator runs sync passes. At most one sync is in flight per process;
// with a LockManager wired in, at most one per deployment.
type Orchestrator struct {
	fetchers []Fetcher
	markets  domain.MarketStore
	runs     domain.SyncRunStore
	queue    *jobs.Queue
	embedder embeddings.Embedder
	index    domain.VectorIndex
	alerts   *alerts.Evaluator
	cache    domain.MarketCache
	locks    domain.LockManager
	logger   *slog.Logger
	opts     Options

	running atomic.Bool
	now     func() time.Time
}

// New creates an Orchestrator. Cache, locks, and alerts may be nil; the
// corresponding behavior is skipped.
func New(
	fetchers []Fetcher,
	markets domain.MarketStore,
	runs domain.SyncRunStore,
	queue *jobs.Queue,
	embedder embeddings.Embedder,
	index domain.VectorIndex,
	evaluator *alerts.Evaluator,
	cache domain.MarketCache,
	locks domain.LockManager,
	logger *slog.Logger,
	opts Options,
) *Orchestrator {
	if opts.FetchLimit <= 0 {
		opts.FetchLimit = 1000
	}
	if opts.StaleRunAfter <= 0 {
		opts.StaleRunAfter = 30 * time.Minute
	}
	return &Orchestrator{
		fetchers: fetchers,
		markets:  markets,
		runs:     runs,
		queue:    queue,
		embedder: embedder,
		index:    index,
		alerts:   evaluator,
		cache:    cache,
		locks:    locks,
		logger:   logger.With(slog.String("component", "syncer")),
		opts:     opts,
		now:      time.Now,
	}
}

// RecoverStale fails abandoned running rows from a previous process. Call
// once at startup, before the first sync.
func (o *Orchestrator) RecoverStale(ctx context.Context) error {
	n, err := o.runs.RecoverStale(ctx, o.now().Add(-o.opts.StaleRunAfter))
	if err != nil {
		return fmt.Errorf("syncer: recover stale runs: %w", err)
	}
	if n > 0 {
		o.logger.Warn("recovered stale sync runs", slog.Int64("count", n))
	}
	return nil
}

// Busy reports whether this process has a sync in flight. It is advisory;
// Run itself is the authoritative single-flight gate.
func (o *Orchestrator) Busy() bool {
	return o.running.Load()
}

// Run executes one sync of the given type across all sources. A second call
// while one is in flight returns domain.ErrSyncInProgress. One source
// failing never aborts the other; the run is partial instead.
func (o *Orchestrator) Run(ctx context.Context, typ domain.SyncType) (domain.SyncRun, error) {
	if !o.running.CompareAndSwap(false, true) {
		return domain.SyncRun{}, domain.ErrSyncInProgress
	}
	defer o.running.Store(false)

	if o.locks != nil {
		unlock, err := o.locks.Acquire(ctx, syncLockKey, syncLockTTL)
		if err != nil {
			if errors.Is(err, domain.ErrLockHeld) {
				return domain.SyncRun{}, domain.ErrSyncInProgress
			}
			return domain.SyncRun{}, fmt.Errorf("syncer: acquire lock: %w", err)
		}
		defer unlock()
	}

	// The store-level guard covers multi-process deployments without Redis.
	if prev, err := o.runs.LatestRunning(ctx); err == nil {
		if o.now().Sub(prev.StartedAt) < o.opts.StaleRunAfter {
			return domain.SyncRun{}, domain.ErrSyncInProgress
		}
		if _, err := o.runs.RecoverStale(ctx, o.now().Add(-o.opts.StaleRunAfter)); err != nil {
			return domain.SyncRun{}, fmt.Errorf("syncer: recover stale runs: %w", err)
		}
	} else if !errors.Is(err, domain.ErrNotFound) {
		return domain.SyncRun{}, fmt.Errorf("syncer: check running sync: %w", err)
	}

	// The collection can vanish between startup and this run. Re-ensure it
	// here; if that fails, vector pushes degrade the run to partial later
	// rather than aborting the relational sync.
	if err := o.index.EnsureCollection(ctx); err != nil {
		o.logger.Warn("ensure vector collection failed",
			slog.String("error", err.Error()))
	}

	started := o.now()
	run := domain.SyncRun{
		ID:        uuid.New().String(),
		Type:      typ,
		Status:    domain.SyncRunRunning,
		StartedAt: started,
	}
	if err := o.runs.Create(ctx, run); err != nil {
		return domain.SyncRun{}, fmt.Errorf("syncer: create run: %w", err)
	}

	o.logger.Info("sync started",
		slog.String("run_id", run.ID),
		slog.String("type", string(typ)),
		slog.Int("sources", len(o.fetchers)))

	// Every source runs to completion; failures settle into results rather
	// than cancelling the sibling pass.
	results := make([]domain.SourceResult, len(o.fetchers))
	g, gctx := errgroup.WithContext(ctx)
	for i, f := range o.fetchers {
		g.Go(func() error {
			results[i] = o.syncSource(gctx, f, typ)
			return nil
		})
	}
	_ = g.Wait()

	run.Results = results
	run.Status = aggregate(results)
	for _, res := range results {
		run.Errors = append(run.Errors, res.Errors...)
	}
	ended := o.now()
	run.EndedAt = &ended
	run.DurationMs = ended.Sub(started).Milliseconds()

	if err := o.runs.Finish(ctx, run); err != nil {
		return run, fmt.Errorf("syncer: finish run: %w", err)
	}

	o.logger.Info("sync finished",
		slog.String("run_id", run.ID),
		slog.String("status", string(run.Status)),
		slog.Int64("duration_ms", run.DurationMs))
	return run, nil
}

// aggregate folds per-source outcomes into the run status.
func aggregate(results []domain.SourceResult) domain.SyncRunStatus {
	failed := 0
	clean := 0
	for _, r := range results {
		switch r.Status {
		case domain.SyncRunFailed:
			failed++
		case domain.SyncRunSuccess:
			clean++
		}
	}
	switch {
	case failed == len(results):
		return domain.SyncRunFailed
	case failed == 0 && clean == len(results):
		return domain.SyncRunSuccess
	default:
		return domain.SyncRunPartial
	}
}

// syncSource runs one source's full pass. All relational writes land in one
// transaction; vector and queue writes happen strictly after it commits.
func (o *Orchestrator) syncSource(ctx context.Context, f Fetcher, typ domain.SyncType) domain.SourceResult {
	source := f.Source()
	log := o.logger.With(slog.String("source", string(source)))
	started := o.now()

	res := domain.SourceResult{Source: source, Status: domain.SyncRunSuccess}
	fail := func(err error) domain.SourceResult {
		log.Error("source sync failed", slog.String("error", err.Error()))
		res.Status = domain.SyncRunFailed
		res.Errors = append(res.Errors, err.Error())
		res.DurationMs = o.now().Sub(started).Milliseconds()
		return res
	}

	status := domain.FetchOpen
	if typ == domain.SyncTypeFull {
		status = domain.FetchAll
	}

	incoming, err := f.Fetch(ctx, status, o.opts.FetchLimit, o.opts.ExcludeSports)
	if err != nil {
		return fail(fmt.Errorf("fetch %s: %w", source, err))
	}
	res.Fetched = len(incoming)

	// Mint ids up front; the diff overwrites them for already-known records.
	sourceIDs := make([]string, len(incoming))
	for i := range incoming {
		if incoming[i].ID == "" {
			incoming[i].ID = uuid.New().String()
		}
		sourceIDs[i] = incoming[i].SourceID
	}

	refs, err := o.markets.ResolveRefs(ctx, source, sourceIDs)
	if err != nil {
		return fail(fmt.Errorf("resolve refs %s: %w", source, err))
	}

	d := diff.Compute(incoming, diff.RefMap(refs))
	res.NewMarkets = d.NewMarkets
	res.UpdatedPrices = d.UpdatedPrices
	res.ContentChanged = d.ContentChanged

	batch := buildBatch(d, o.now())

	pass, err := o.alerts.Prepare(ctx, d.ToUpdatePrices)
	if err != nil {
		// Alert evaluation is advisory; the pass still commits.
		log.Error("alert prepare failed", slog.String("error", err.Error()))
		res.Errors = append(res.Errors, err.Error())
	}

	if err := o.markets.ApplySyncBatch(ctx, batch); err != nil {
		return fail(fmt.Errorf("apply batch %s: %w", source, err))
	}

	pass.Fire(ctx)
	o.invalidate(ctx, d.ToUpdatePrices)

	if err := o.pushVectors(ctx, d, &res); err != nil {
		// Relational state is committed; the vector index catches up later.
		log.Error("vector push failed", slog.String("error", err.Error()))
		res.Status = domain.SyncRunPartial
		res.Errors = append(res.Errors, err.Error())
	}

	res.DurationMs = o.now().Sub(started).Milliseconds()
	log.Info("source sync finished",
		slog.Int("fetched", res.Fetched),
		slog.Int("new", res.NewMarkets),
		slog.Int("content_changed", res.ContentChanged),
		slog.Int("embedded", res.EmbeddingsGenerated),
		slog.Int("deferred", res.EmbeddingsDeferred),
		slog.Int64("duration_ms", res.DurationMs))
	return res
}

// buildBatch translates diff buckets into the transactional write set, with
// one history snapshot per touched market.
func buildBatch(d diff.Result, now time.Time) domain.SyncBatch {
	inserted := make(map[string]bool, len(d.ToInsert))
	for _, m := range d.ToInsert {
		inserted[m.ID] = true
	}

	var contentUpdates []domain.Market
	for _, m := range d.NeedingEmbedding {
		if !inserted[m.ID] {
			contentUpdates = append(contentUpdates, m)
		}
	}

	batch := domain.SyncBatch{
		Inserts:        d.ToInsert,
		PriceUpdates:   d.ToUpdatePrices,
		ContentUpdates: contentUpdates,
	}
	for _, m := range append(append([]domain.Market{}, d.ToInsert...), d.ToUpdatePrices...) {
		batch.Snapshots = append(batch.Snapshots, domain.PriceSnapshot{
			MarketID:   m.ID,
			YesPrice:   m.YesPrice,
			NoPrice:    m.NoPrice,
			Volume:     m.Volume,
			Volume24h:  m.Volume24h,
			Status:     m.Status,
			RecordedAt: now,
		})
	}
	return batch
}

// pushVectors handles the post-commit vector work: embed new or changed
// markets (inline or deferred), and refresh payloads for price-only updates.
func (o *Orchestrator) pushVectors(ctx context.Context, d diff.Result, res *domain.SourceResult) error {
	if len(d.NeedingEmbedding) > 0 {
		ids := make([]string, len(d.NeedingEmbedding))
		for i, m := range d.NeedingEmbedding {
			ids[i] = m.ID
		}

		if o.opts.DeferEmbedding {
			if err := o.queue.EnqueueEmbedMarkets(ctx, ids); err != nil {
				return err
			}
			res.EmbeddingsDeferred = len(ids)
		} else {
			texts := make([]string, len(d.NeedingEmbedding))
			for i, m := range d.NeedingEmbedding {
				texts[i] = m.EmbedText()
			}
			vectors, err := o.embedder.EmbedBatch(ctx, texts)
			if err != nil {
				return err
			}
			points := make([]domain.VectorPoint, len(d.NeedingEmbedding))
			for i, m := range d.NeedingEmbedding {
				points[i] = domain.VectorPoint{ID: m.ID, Vector: vectors[i], Payload: domain.PayloadFor(m)}
			}
			if err := o.index.Upsert(ctx, points); err != nil {
				return err
			}
			if err := o.markets.SetEmbeddingModel(ctx, ids, o.embedder.Model()); err != nil {
				return err
			}
			res.EmbeddingsGenerated = len(ids)
		}
	}

	// Price-only updates keep their vector but need fresh payload metadata.
	reembedded := make(map[string]bool, len(d.NeedingEmbedding))
	for _, m := range d.NeedingEmbedding {
		reembedded[m.ID] = true
	}
	for _, m := range d.ToUpdatePrices {
		if reembedded[m.ID] {
			continue
		}
		if err := o.index.SetPayload(ctx, m.ID, domain.PayloadFor(m)); err != nil {
			return err
		}
	}
	return nil
}

func (o *Orchestrator) invalidate(ctx context.Context, updated []domain.Market) {
	if o.cache == nil {
		return
	}
	for _, m := range updated {
		// One miss must not strand the rest behind a stale TTL.
		if err := o.cache.Invalidate(ctx, m.ID); err != nil {
			o.logger.Warn("cache invalidate failed",
				slog.String("market_id", m.ID),
				slog.String("error", err.Error()))
		}
	}
}

// Status builds the aggregate view served by the admin status endpoint.
func (o *Orchestrator) Status(ctx context.Context) (domain.SyncStatus, error) {
	st := domain.SyncStatus{IsSyncing: o.running.Load()}

	if run, err := o.runs.LatestRunning(ctx); err == nil {
		if o.now().Sub(run.StartedAt) < o.opts.StaleRunAfter {
			st.IsSyncing = true
		}
	} else if !errors.Is(err, domain.ErrNotFound) {
		return domain.SyncStatus{}, fmt.Errorf("syncer: status: %w", err)
	}

	if run, err := o.runs.LatestByType(ctx, domain.SyncTypeIncremental); err == nil {
		st.LastSyncTime = run.EndedAt
		st.LastResult = &run
	} else if !errors.Is(err, domain.ErrNotFound) {
		return domain.SyncStatus{}, fmt.Errorf("syncer: status: %w", err)
	}

	if run, err := o.runs.LatestByType(ctx, domain.SyncTypeFull); err == nil {
		st.LastFullSyncTime = run.EndedAt
		if st.LastResult == nil || (run.EndedAt != nil && st.LastResult.EndedAt != nil && run.EndedAt.After(*st.LastResult.EndedAt)) {
			st.LastResult = &run
		}
	} else if !errors.Is(err, domain.ErrNotFound) {
		return domain.SyncStatus{}, fmt.Errorf("syncer: status: %w", err)
	}

	return st, nil
}

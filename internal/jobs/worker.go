package jobs

import (
	"context"
	"log/slog"
	"time"

	"github.com/0xqtpie/pm-indexer/internal/domain"
	"github.com/0xqtpie/pm-indexer/internal/embeddings"
)

// maxBackoff caps the requeue delay between attempts.
const maxBackoff = 60 * time.Second

// Backoff returns the delay before the next attempt of a job that has
// already been tried the given number of times.
func Backoff(attempts int) time.Duration {
	if attempts < 0 {
		attempts = 0
	}
	// 1s, 2s, 4s, ... capped; guard the shift against large attempt counts.
	if attempts > 6 {
		return maxBackoff
	}
	d := time.Second << uint(attempts)
	if d > maxBackoff {
		return maxBackoff
	}
	return d
}

// Worker claims queued jobs and executes them: embed the markets named in
// the payload, upsert their vectors, stamp the embedding model. A job either
// completes in full or is retried in full.
type Worker struct {
	jobs     domain.JobStore
	markets  domain.MarketStore
	embedder embeddings.Embedder
	index    domain.VectorIndex
	logger   *slog.Logger

	workerID     string
	batchSize    int
	pollInterval time.Duration
	now          func() time.Time
}

// NewWorker creates a Worker identified by workerID.
func NewWorker(
	jobStore domain.JobStore,
	markets domain.MarketStore,
	embedder embeddings.Embedder,
	index domain.VectorIndex,
	logger *slog.Logger,
	workerID string,
	batchSize int,
	pollInterval time.Duration,
) *Worker {
	if batchSize <= 0 {
		batchSize = 10
	}
	if pollInterval <= 0 {
		pollInterval = 5 * time.Second
	}
	return &Worker{
		jobs:         jobStore,
		markets:      markets,
		embedder:     embedder,
		index:        index,
		logger:       logger.With(slog.String("component", "job_worker")),
		workerID:     workerID,
		batchSize:    batchSize,
		pollInterval: pollInterval,
		now:          time.Now,
	}
}

// Run polls for due jobs until the context is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	w.logger.Info("job worker started",
		slog.String("worker_id", w.workerID),
		slog.Duration("poll_interval", w.pollInterval))

	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	for {
		if _, err := w.RunOnce(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			w.logger.Error("job poll failed", slog.String("error", err.Error()))
		}
		select {
		case <-ctx.Done():
			w.logger.Info("job worker stopped")
			return nil
		case <-ticker.C:
		}
	}
}

// RunOnce drains every currently due job and returns how many were
// processed.
func (w *Worker) RunOnce(ctx context.Context) (int, error) {
	processed := 0
	for {
		claimed, err := w.jobs.ClaimBatch(ctx, w.workerID, w.batchSize)
		if err != nil {
			return processed, err
		}
		if len(claimed) == 0 {
			return processed, nil
		}
		for _, job := range claimed {
			w.process(ctx, job)
			processed++
		}
	}
}

// process runs one claimed job to a terminal or requeued state.
func (w *Worker) process(ctx context.Context, job domain.Job) {
	log := w.logger.With(slog.String("job_id", job.ID), slog.Int("attempt", job.Attempts))

	payload, err := job.EmbedMarketsPayload()
	if err != nil {
		// A malformed payload never heals; fail immediately.
		log.Error("job payload rejected", slog.String("error", err.Error()))
		if merr := w.jobs.MarkFailed(ctx, job.ID, err.Error()); merr != nil {
			log.Error("mark job failed", slog.String("error", merr.Error()))
		}
		return
	}

	if err := w.embedMarkets(ctx, payload.MarketIDs); err != nil {
		w.retry(ctx, job, err)
		return
	}

	if err := w.jobs.MarkSucceeded(ctx, job.ID); err != nil {
		log.Error("mark job succeeded", slog.String("error", err.Error()))
		return
	}
	log.Info("job succeeded", slog.Int("markets", len(payload.MarketIDs)))
}

// embedMarkets is the job body: load, embed, upsert, stamp. Markets deleted
// since enqueue are skipped.
func (w *Worker) embedMarkets(ctx context.Context, marketIDs []string) error {
	markets, err := w.markets.GetByIDs(ctx, marketIDs)
	if err != nil {
		return err
	}
	if len(markets) == 0 {
		return nil
	}

	texts := make([]string, len(markets))
	for i, m := range markets {
		texts[i] = m.EmbedText()
	}
	vectors, err := w.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return err
	}

	points := make([]domain.VectorPoint, len(markets))
	ids := make([]string, len(markets))
	for i, m := range markets {
		points[i] = domain.VectorPoint{ID: m.ID, Vector: vectors[i], Payload: domain.PayloadFor(m)}
		ids[i] = m.ID
	}
	// Recreate the collection if it was dropped since startup; on failure
	// the job retries with backoff like any other index error.
	if err := w.index.EnsureCollection(ctx); err != nil {
		return err
	}
	if err := w.index.Upsert(ctx, points); err != nil {
		return err
	}
	return w.markets.SetEmbeddingModel(ctx, ids, w.embedder.Model())
}

// retry requeues the job with backoff, or fails it terminally once its
// attempt budget is spent.
func (w *Worker) retry(ctx context.Context, job domain.Job, cause error) {
	log := w.logger.With(slog.String("job_id", job.ID), slog.Int("attempt", job.Attempts))

	if job.Attempts >= job.MaxAttempts {
		log.Error("job failed terminally", slog.String("error", cause.Error()))
		if err := w.jobs.MarkFailed(ctx, job.ID, cause.Error()); err != nil {
			log.Error("mark job failed", slog.String("error", err.Error()))
		}
		return
	}

	delay := Backoff(job.Attempts)
	log.Warn("job requeued",
		slog.String("error", cause.Error()),
		slog.Duration("delay", delay))
	if err := w.jobs.Requeue(ctx, job.ID, w.now().Add(delay), cause.Error()); err != nil {
		log.Error("requeue job", slog.String("error", err.Error()))
	}
}

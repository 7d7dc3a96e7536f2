package syncer

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/0xqtpie/pm-indexer/internal/domain"
	"github.com/0xqtpie/pm-indexer/internal/jobs"
)

func newQueue(store domain.JobStore) *jobs.Queue {
	return jobs.NewQueue(store, 3)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeFetcher struct {
	source  domain.Source
	markets []domain.Market
	err     error
	block   chan struct{}
}

func (f *fakeFetcher) Source() domain.Source { return f.source }

func (f *fakeFetcher) Fetch(ctx context.Context, _ domain.FetchStatus, _ int, _ bool) ([]domain.Market, error) {
	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.err != nil {
		return nil, f.err
	}
	return f.markets, nil
}

type fakeMarketStore struct {
	domain.MarketStore
	mu      sync.Mutex
	refs    map[domain.Source][]domain.StoredRef
	batches []domain.SyncBatch
	stamped []string
}

func (s *fakeMarketStore) ResolveRefs(_ context.Context, source domain.Source, _ []string) ([]domain.StoredRef, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.refs[source], nil
}

func (s *fakeMarketStore) ApplySyncBatch(_ context.Context, batch domain.SyncBatch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.batches = append(s.batches, batch)
	return nil
}

func (s *fakeMarketStore) GetByIDs(_ context.Context, _ []string) ([]domain.Market, error) {
	return nil, nil
}

func (s *fakeMarketStore) SetEmbeddingModel(_ context.Context, ids []string, _ string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stamped = append(s.stamped, ids...)
	return nil
}

type fakeRunStore struct {
	mu   sync.Mutex
	runs map[string]domain.SyncRun
}

func newFakeRunStore() *fakeRunStore {
	return &fakeRunStore{runs: make(map[string]domain.SyncRun)}
}

func (s *fakeRunStore) Create(_ context.Context, run domain.SyncRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runs[run.ID] = run
	return nil
}

func (s *fakeRunStore) Finish(_ context.Context, run domain.SyncRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.runs[run.ID]; !ok {
		return domain.ErrNotFound
	}
	s.runs[run.ID] = run
	return nil
}

func (s *fakeRunStore) LatestRunning(_ context.Context) (domain.SyncRun, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var latest domain.SyncRun
	found := false
	for _, run := range s.runs {
		if run.Status != domain.SyncRunRunning {
			continue
		}
		if !found || run.StartedAt.After(latest.StartedAt) {
			latest = run
			found = true
		}
	}
	if !found {
		return domain.SyncRun{}, domain.ErrNotFound
	}
	return latest, nil
}

func (s *fakeRunStore) RecoverStale(_ context.Context, olderThan time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for id, run := range s.runs {
		if run.Status == domain.SyncRunRunning && run.StartedAt.Before(olderThan) {
			run.Status = domain.SyncRunFailed
			s.runs[id] = run
			n++
		}
	}
	return n, nil
}

func (s *fakeRunStore) LatestByType(_ context.Context, t domain.SyncType) (domain.SyncRun, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var latest domain.SyncRun
	found := false
	for _, run := range s.runs {
		if run.Type != t || run.Status == domain.SyncRunRunning {
			continue
		}
		if !found || run.StartedAt.After(latest.StartedAt) {
			latest = run
			found = true
		}
	}
	if !found {
		return domain.SyncRun{}, domain.ErrNotFound
	}
	return latest, nil
}

type fakeEmbedder struct{}

func (fakeEmbedder) Embed(_ context.Context, _ string) ([]float32, error) { return []float32{1}, nil }

func (fakeEmbedder) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{1}
	}
	return out, nil
}

func (fakeEmbedder) Model() string { return "fake-model" }

type fakeIndex struct {
	domain.VectorIndex
	mu       sync.Mutex
	upserted []domain.VectorPoint
	payloads []string
	ensured  int
}

func (f *fakeIndex) EnsureCollection(_ context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ensured++
	return nil
}

func (f *fakeIndex) Upsert(_ context.Context, points []domain.VectorPoint) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.upserted = append(f.upserted, points...)
	return nil
}

func (f *fakeIndex) SetPayload(_ context.Context, id string, _ domain.MarketPayload) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.payloads = append(f.payloads, id)
	return nil
}

func market(source domain.Source, sourceID, title string) domain.Market {
	return domain.Market{
		Source:      source,
		SourceID:    sourceID,
		Title:       title,
		ContentHash: domain.ComputeContentHash(title, "", ""),
		YesPrice:    0.5,
		Status:      domain.MarketStatusOpen,
	}
}

func newOrchestrator(fetchers []Fetcher, markets *fakeMarketStore, runs *fakeRunStore, idx *fakeIndex) *Orchestrator {
	return New(fetchers, markets, runs, nil, fakeEmbedder{}, idx, nil, nil, nil,
		testLogger(), Options{FetchLimit: 100})
}

func TestRunSyncsAllSources(t *testing.T) {
	markets := &fakeMarketStore{refs: map[domain.Source][]domain.StoredRef{}}
	runs := newFakeRunStore()
	idx := &fakeIndex{}
	fetchers := []Fetcher{
		&fakeFetcher{source: domain.SourcePolymarket, markets: []domain.Market{
			market(domain.SourcePolymarket, "pm-1", "Will it rain?"),
			market(domain.SourcePolymarket, "pm-2", "Will it snow?"),
		}},
		&fakeFetcher{source: domain.SourceKalshi, markets: []domain.Market{
			market(domain.SourceKalshi, "KX-1", "Fed cuts rates?"),
		}},
	}

	o := newOrchestrator(fetchers, markets, runs, idx)
	run, err := o.Run(context.Background(), domain.SyncTypeIncremental)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if run.Status != domain.SyncRunSuccess {
		t.Fatalf("status = %s, want success", run.Status)
	}
	if len(run.Results) != 2 {
		t.Fatalf("results = %d, want 2", len(run.Results))
	}
	total := 0
	for _, r := range run.Results {
		total += r.NewMarkets
	}
	if total != 3 {
		t.Fatalf("new markets = %d, want 3", total)
	}
	if len(idx.upserted) != 3 {
		t.Fatalf("vector upserts = %d, want 3", len(idx.upserted))
	}
	// Each run re-ensures the collection before touching the index.
	if idx.ensured != 1 {
		t.Fatalf("ensure collection calls = %d, want 1", idx.ensured)
	}
	// One batch per source, each with one snapshot per fetched market.
	if len(markets.batches) != 2 {
		t.Fatalf("batches = %d, want 2", len(markets.batches))
	}
	snaps := 0
	for _, b := range markets.batches {
		snaps += len(b.Snapshots)
	}
	if snaps != 3 {
		t.Fatalf("snapshots = %d, want 3", snaps)
	}
}

func TestRunKeepsStoredIdentity(t *testing.T) {
	existing := market(domain.SourcePolymarket, "pm-1", "Will it rain?")
	markets := &fakeMarketStore{refs: map[domain.Source][]domain.StoredRef{
		domain.SourcePolymarket: {{ID: "id-stored", SourceID: "pm-1", ContentHash: existing.ContentHash}},
	}}
	runs := newFakeRunStore()
	idx := &fakeIndex{}
	fetchers := []Fetcher{
		&fakeFetcher{source: domain.SourcePolymarket, markets: []domain.Market{existing}},
	}

	o := newOrchestrator(fetchers, markets, runs, idx)
	run, err := o.Run(context.Background(), domain.SyncTypeIncremental)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if run.Results[0].NewMarkets != 0 {
		t.Fatalf("new markets = %d, want 0", run.Results[0].NewMarkets)
	}
	batch := markets.batches[0]
	if len(batch.Inserts) != 0 || len(batch.PriceUpdates) != 1 {
		t.Fatalf("batch inserts=%d updates=%d, want 0/1", len(batch.Inserts), len(batch.PriceUpdates))
	}
	if batch.PriceUpdates[0].ID != "id-stored" {
		t.Fatalf("updated id = %s, want id-stored", batch.PriceUpdates[0].ID)
	}
	// Unchanged content means no re-embedding, only a payload refresh.
	if len(idx.upserted) != 0 {
		t.Fatalf("vector upserts = %d, want 0", len(idx.upserted))
	}
	if len(idx.payloads) != 1 || idx.payloads[0] != "id-stored" {
		t.Fatalf("payload refreshes = %v, want [id-stored]", idx.payloads)
	}
}

func TestRunIsPartialWhenOneSourceFails(t *testing.T) {
	markets := &fakeMarketStore{refs: map[domain.Source][]domain.StoredRef{}}
	runs := newFakeRunStore()
	idx := &fakeIndex{}
	fetchers := []Fetcher{
		&fakeFetcher{source: domain.SourcePolymarket, markets: []domain.Market{
			market(domain.SourcePolymarket, "pm-1", "Will it rain?"),
		}},
		&fakeFetcher{source: domain.SourceKalshi, err: errors.New("upstream 503")},
	}

	o := newOrchestrator(fetchers, markets, runs, idx)
	run, err := o.Run(context.Background(), domain.SyncTypeIncremental)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if run.Status != domain.SyncRunPartial {
		t.Fatalf("status = %s, want partial", run.Status)
	}
	if len(run.Errors) == 0 {
		t.Fatal("expected run errors to be recorded")
	}
	// The healthy source still landed its batch.
	if len(markets.batches) != 1 {
		t.Fatalf("batches = %d, want 1", len(markets.batches))
	}
}

func TestRunRejectsConcurrentSync(t *testing.T) {
	block := make(chan struct{})
	markets := &fakeMarketStore{refs: map[domain.Source][]domain.StoredRef{}}
	runs := newFakeRunStore()
	fetchers := []Fetcher{
		&fakeFetcher{source: domain.SourcePolymarket, block: block},
	}

	o := newOrchestrator(fetchers, markets, runs, &fakeIndex{})

	done := make(chan error, 1)
	go func() {
		_, err := o.Run(context.Background(), domain.SyncTypeIncremental)
		done <- err
	}()

	// Wait for the first run to take the in-flight slot.
	for !o.running.Load() {
		time.Sleep(time.Millisecond)
	}

	if _, err := o.Run(context.Background(), domain.SyncTypeIncremental); !errors.Is(err, domain.ErrSyncInProgress) {
		t.Fatalf("second run err = %v, want ErrSyncInProgress", err)
	}

	close(block)
	if err := <-done; err != nil {
		t.Fatalf("first run: %v", err)
	}
}

func TestRunDefersEmbeddingsToQueue(t *testing.T) {
	markets := &fakeMarketStore{refs: map[domain.Source][]domain.StoredRef{}}
	runs := newFakeRunStore()
	idx := &fakeIndex{}
	jobStore := &captureJobStore{}
	fetchers := []Fetcher{
		&fakeFetcher{source: domain.SourcePolymarket, markets: []domain.Market{
			market(domain.SourcePolymarket, "pm-1", "Will it rain?"),
		}},
	}

	o := New(fetchers, markets, runs, newQueue(jobStore), fakeEmbedder{}, idx, nil, nil, nil,
		testLogger(), Options{FetchLimit: 100, DeferEmbedding: true})

	run, err := o.Run(context.Background(), domain.SyncTypeIncremental)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if run.Results[0].EmbeddingsDeferred != 1 || run.Results[0].EmbeddingsGenerated != 0 {
		t.Fatalf("deferred=%d generated=%d, want 1/0",
			run.Results[0].EmbeddingsDeferred, run.Results[0].EmbeddingsGenerated)
	}
	if len(idx.upserted) != 0 {
		t.Fatalf("vector upserts = %d, want 0 when deferring", len(idx.upserted))
	}
	if len(jobStore.enqueued) != 1 {
		t.Fatalf("enqueued jobs = %d, want 1", len(jobStore.enqueued))
	}
}

type captureJobStore struct {
	domain.JobStore
	enqueued []domain.Job
}

func (s *captureJobStore) Enqueue(_ context.Context, job domain.Job) error {
	s.enqueued = append(s.enqueued, job)
	return nil
}

type fakeCache struct {
	domain.MarketCache
	mu          sync.Mutex
	invalidated []string
	failID      string
}

func (c *fakeCache) Invalidate(_ context.Context, id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if id == c.failID {
		return errors.New("connection reset")
	}
	c.invalidated = append(c.invalidated, id)
	return nil
}

func TestInvalidateSurvivesFailedEntry(t *testing.T) {
	cache := &fakeCache{failID: "b"}
	markets := &fakeMarketStore{refs: map[domain.Source][]domain.StoredRef{}}
	o := New(nil, markets, newFakeRunStore(), nil, fakeEmbedder{}, &fakeIndex{},
		nil, cache, nil, testLogger(), Options{})

	o.invalidate(context.Background(), []domain.Market{{ID: "a"}, {ID: "b"}, {ID: "c"}})

	if len(cache.invalidated) != 2 || cache.invalidated[0] != "a" || cache.invalidated[1] != "c" {
		t.Fatalf("invalidated = %v, want [a c]", cache.invalidated)
	}
}

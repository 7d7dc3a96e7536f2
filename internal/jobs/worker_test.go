package jobs

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/0xqtpie/pm-indexer/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeJobStore struct {
	jobs []domain.Job
	now  time.Time
}

func (s *fakeJobStore) Enqueue(_ context.Context, job domain.Job) error {
	s.jobs = append(s.jobs, job)
	return nil
}

func (s *fakeJobStore) ClaimBatch(_ context.Context, workerID string, n int) ([]domain.Job, error) {
	var claimed []domain.Job
	for i := range s.jobs {
		if len(claimed) >= n {
			break
		}
		j := &s.jobs[i]
		if j.Status != domain.JobStatusQueued || j.RunAt.After(s.now) || j.Attempts >= j.MaxAttempts {
			continue
		}
		j.Status = domain.JobStatusProcessing
		j.Attempts++
		j.LockedBy = workerID
		claimed = append(claimed, *j)
	}
	return claimed, nil
}

func (s *fakeJobStore) MarkSucceeded(_ context.Context, id string) error {
	return s.setStatus(id, domain.JobStatusSucceeded, "")
}

func (s *fakeJobStore) Requeue(_ context.Context, id string, runAt time.Time, lastError string) error {
	for i := range s.jobs {
		if s.jobs[i].ID == id {
			s.jobs[i].Status = domain.JobStatusQueued
			s.jobs[i].RunAt = runAt
			s.jobs[i].LastError = lastError
			return nil
		}
	}
	return domain.ErrNotFound
}

func (s *fakeJobStore) MarkFailed(_ context.Context, id string, lastError string) error {
	return s.setStatus(id, domain.JobStatusFailed, lastError)
}

func (s *fakeJobStore) CountPending(_ context.Context) (int64, error) {
	var n int64
	for _, j := range s.jobs {
		if j.Status == domain.JobStatusQueued || j.Status == domain.JobStatusProcessing {
			n++
		}
	}
	return n, nil
}

func (s *fakeJobStore) setStatus(id string, status domain.JobStatus, lastError string) error {
	for i := range s.jobs {
		if s.jobs[i].ID == id {
			s.jobs[i].Status = status
			s.jobs[i].LastError = lastError
			return nil
		}
	}
	return domain.ErrNotFound
}

type fakeMarketStore struct {
	domain.MarketStore
	markets map[string]domain.Market
	stamped map[string]string
}

func (s *fakeMarketStore) GetByIDs(_ context.Context, ids []string) ([]domain.Market, error) {
	var out []domain.Market
	for _, id := range ids {
		if m, ok := s.markets[id]; ok {
			out = append(out, m)
		}
	}
	return out, nil
}

func (s *fakeMarketStore) SetEmbeddingModel(_ context.Context, ids []string, model string) error {
	if s.stamped == nil {
		s.stamped = make(map[string]string)
	}
	for _, id := range ids {
		s.stamped[id] = model
	}
	return nil
}

type fakeEmbedder struct {
	err   error
	calls int
}

func (e *fakeEmbedder) Embed(_ context.Context, _ string) ([]float32, error) {
	if e.err != nil {
		return nil, e.err
	}
	return []float32{0.1}, nil
}

func (e *fakeEmbedder) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	e.calls++
	if e.err != nil {
		return nil, e.err
	}
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{float32(i)}
	}
	return out, nil
}

func (e *fakeEmbedder) Model() string { return "fake-model" }

type fakeIndex struct {
	domain.VectorIndex
	upserted  []domain.VectorPoint
	ensured   int
	ensureErr error
}

func (f *fakeIndex) EnsureCollection(_ context.Context) error {
	f.ensured++
	return f.ensureErr
}

func (f *fakeIndex) Upsert(_ context.Context, points []domain.VectorPoint) error {
	f.upserted = append(f.upserted, points...)
	return nil
}

func newTestWorker(jobStore *fakeJobStore, markets *fakeMarketStore, emb *fakeEmbedder, idx *fakeIndex) *Worker {
	return NewWorker(jobStore, markets, emb, idx, testLogger(), "w1", 10, time.Second)
}

func TestBackoffDoublesAndCaps(t *testing.T) {
	cases := []struct {
		attempts int
		want     time.Duration
	}{
		{0, time.Second},
		{1, 2 * time.Second},
		{3, 8 * time.Second},
		{5, 32 * time.Second},
		{6, 60 * time.Second},
		{20, 60 * time.Second},
	}
	for _, tc := range cases {
		if got := Backoff(tc.attempts); got != tc.want {
			t.Errorf("Backoff(%d) = %v, want %v", tc.attempts, got, tc.want)
		}
	}
}

func TestQueueSkipsEmptyBatch(t *testing.T) {
	store := &fakeJobStore{now: time.Now()}
	q := NewQueue(store, 3)

	if err := q.EnqueueEmbedMarkets(context.Background(), nil); err != nil {
		t.Fatalf("enqueue empty: %v", err)
	}
	if len(store.jobs) != 0 {
		t.Fatalf("expected no jobs, got %d", len(store.jobs))
	}
}

func TestWorkerProcessesJob(t *testing.T) {
	now := time.Now()
	store := &fakeJobStore{now: now}
	markets := &fakeMarketStore{markets: map[string]domain.Market{
		"m1": {ID: "m1", Title: "Will it rain tomorrow?"},
		"m2": {ID: "m2", Title: "Will the Fed cut rates?"},
	}}
	emb := &fakeEmbedder{}
	idx := &fakeIndex{}

	q := NewQueue(store, 3)
	q.now = func() time.Time { return now }
	if err := q.EnqueueEmbedMarkets(context.Background(), []string{"m1", "m2"}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	w := newTestWorker(store, markets, emb, idx)
	n, err := w.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("run once: %v", err)
	}
	if n != 1 {
		t.Fatalf("processed = %d, want 1", n)
	}
	if store.jobs[0].Status != domain.JobStatusSucceeded {
		t.Fatalf("job status = %s, want succeeded", store.jobs[0].Status)
	}
	if len(idx.upserted) != 2 {
		t.Fatalf("upserted %d points, want 2", len(idx.upserted))
	}
	// The collection is re-ensured inside the job, not only at startup.
	if idx.ensured != 1 {
		t.Fatalf("ensure collection calls = %d, want 1", idx.ensured)
	}
	if markets.stamped["m1"] != "fake-model" || markets.stamped["m2"] != "fake-model" {
		t.Fatalf("embedding model not stamped: %v", markets.stamped)
	}
}

func TestWorkerRequeuesWhenCollectionMissing(t *testing.T) {
	now := time.Now()
	store := &fakeJobStore{now: now}
	markets := &fakeMarketStore{markets: map[string]domain.Market{
		"m1": {ID: "m1", Title: "q"},
	}}
	idx := &fakeIndex{ensureErr: errors.New("qdrant unreachable")}

	q := NewQueue(store, 3)
	q.now = func() time.Time { return now }
	if err := q.EnqueueEmbedMarkets(context.Background(), []string{"m1"}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	w := newTestWorker(store, markets, &fakeEmbedder{}, idx)
	if _, err := w.RunOnce(context.Background()); err != nil {
		t.Fatalf("run once: %v", err)
	}
	if store.jobs[0].Status != domain.JobStatusQueued {
		t.Fatalf("job status = %s, want queued for retry", store.jobs[0].Status)
	}
	if len(idx.upserted) != 0 {
		t.Fatalf("upserted %d points into a missing collection", len(idx.upserted))
	}
}

func TestWorkerRequeuesOnEmbedFailure(t *testing.T) {
	now := time.Now()
	store := &fakeJobStore{now: now}
	markets := &fakeMarketStore{markets: map[string]domain.Market{
		"m1": {ID: "m1", Title: "q"},
	}}
	emb := &fakeEmbedder{err: errors.New("provider down")}
	idx := &fakeIndex{}

	q := NewQueue(store, 3)
	q.now = func() time.Time { return now }
	if err := q.EnqueueEmbedMarkets(context.Background(), []string{"m1"}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	w := newTestWorker(store, markets, emb, idx)
	if _, err := w.RunOnce(context.Background()); err != nil {
		t.Fatalf("run once: %v", err)
	}

	job := store.jobs[0]
	if job.Status != domain.JobStatusQueued {
		t.Fatalf("job status = %s, want queued", job.Status)
	}
	if job.LastError == "" {
		t.Fatal("expected last error to be recorded")
	}
	if !job.RunAt.After(now) {
		t.Fatal("expected run_at pushed into the future")
	}
}

func TestWorkerFailsTerminallyAfterMaxAttempts(t *testing.T) {
	now := time.Now()
	store := &fakeJobStore{now: now}
	markets := &fakeMarketStore{markets: map[string]domain.Market{
		"m1": {ID: "m1", Title: "q"},
	}}
	emb := &fakeEmbedder{err: errors.New("provider down")}
	idx := &fakeIndex{}

	q := NewQueue(store, 2)
	if err := q.EnqueueEmbedMarkets(context.Background(), []string{"m1"}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	w := newTestWorker(store, markets, emb, idx)
	for i := 0; i < 3; i++ {
		// Each pass the fake clock has moved past the backoff.
		store.now = store.now.Add(2 * time.Minute)
		w.now = func() time.Time { return store.now }
		if _, err := w.RunOnce(context.Background()); err != nil {
			t.Fatalf("run once %d: %v", i, err)
		}
	}

	job := store.jobs[0]
	if job.Status != domain.JobStatusFailed {
		t.Fatalf("job status = %s, want failed", job.Status)
	}
	if job.Attempts != 2 {
		t.Fatalf("attempts = %d, want 2", job.Attempts)
	}
	if emb.calls != 2 {
		t.Fatalf("embed calls = %d, want 2", emb.calls)
	}
}

func TestWorkerFailsMalformedPayloadImmediately(t *testing.T) {
	now := time.Now()
	store := &fakeJobStore{now: now}
	store.jobs = append(store.jobs, domain.Job{
		ID:          "bad",
		Type:        domain.JobTypeEmbedMarkets,
		Status:      domain.JobStatusQueued,
		Payload:     []byte(`{"market_ids":[]}`),
		MaxAttempts: 5,
		RunAt:       now.Add(-time.Second),
	})

	w := newTestWorker(store, &fakeMarketStore{}, &fakeEmbedder{}, &fakeIndex{})
	if _, err := w.RunOnce(context.Background()); err != nil {
		t.Fatalf("run once: %v", err)
	}
	if store.jobs[0].Status != domain.JobStatusFailed {
		t.Fatalf("job status = %s, want failed", store.jobs[0].Status)
	}
}

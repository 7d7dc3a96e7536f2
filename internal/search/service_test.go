package search

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/0xqtpie/pm-indexer/internal/domain"
)

type fakeEmbedder struct{}

func (fakeEmbedder) Embed(_ context.Context, _ string) ([]float32, error) {
	return []float32{0.5, 0.5}, nil
}

func (fakeEmbedder) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{0.5, 0.5}
	}
	return out, nil
}

func (fakeEmbedder) Model() string { return "fake-model" }

// fakeIndex serves a fixed ranking and records the limit/offset it was
// asked for.
type fakeIndex struct {
	domain.VectorIndex
	ranking    []domain.ScoredMarket
	lastLimit  int
	lastOffset int
}

func (f *fakeIndex) Search(_ context.Context, _ []float32, _ domain.VectorFilter, limit, offset int) ([]domain.ScoredMarket, error) {
	f.lastLimit = limit
	f.lastOffset = offset
	if offset >= len(f.ranking) {
		return nil, nil
	}
	end := offset + limit
	if end > len(f.ranking) {
		end = len(f.ranking)
	}
	return f.ranking[offset:end], nil
}

func (f *fakeIndex) Recommend(_ context.Context, _ []string, _ domain.VectorFilter, limit int) ([]domain.ScoredMarket, error) {
	if limit > len(f.ranking) {
		limit = len(f.ranking)
	}
	return f.ranking[:limit], nil
}

type fakeMarkets struct {
	domain.MarketStore
	markets map[string]domain.Market
}

func (s *fakeMarkets) GetByID(_ context.Context, id string) (domain.Market, error) {
	m, ok := s.markets[id]
	if !ok {
		return domain.Market{}, domain.ErrNotFound
	}
	return m, nil
}

func (s *fakeMarkets) GetByIDs(_ context.Context, ids []string) ([]domain.Market, error) {
	var out []domain.Market
	for _, id := range ids {
		if m, ok := s.markets[id]; ok {
			out = append(out, m)
		}
	}
	return out, nil
}

func ranking(n int) ([]domain.ScoredMarket, map[string]domain.Market) {
	scored := make([]domain.ScoredMarket, n)
	markets := make(map[string]domain.Market, n)
	for i := 0; i < n; i++ {
		id := fmt.Sprintf("m%d", i)
		scored[i] = domain.ScoredMarket{ID: id, Score: 1 - float32(i)/float32(n)}
		markets[id] = domain.Market{ID: id, Title: "market " + id}
	}
	return scored, markets
}

func newService(idx *fakeIndex, markets *fakeMarkets, window int) *Service {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewService(fakeEmbedder{}, idx, markets, window, logger)
}

func TestSearchPaginatesWithCursor(t *testing.T) {
	scored, byID := ranking(25)
	idx := &fakeIndex{ranking: scored}
	svc := newService(idx, &fakeMarkets{markets: byID}, 1000)

	page1, err := svc.Search(context.Background(), Request{Query: "rain", Limit: 10})
	if err != nil {
		t.Fatalf("page 1: %v", err)
	}
	if len(page1.Hits) != 10 {
		t.Fatalf("page 1 hits = %d, want 10", len(page1.Hits))
	}
	if page1.NextCursor == "" {
		t.Fatal("expected next cursor on page 1")
	}
	if page1.Hits[0].Market.ID != "m0" {
		t.Fatalf("first hit = %s, want m0", page1.Hits[0].Market.ID)
	}

	page2, err := svc.Search(context.Background(), Request{Query: "rain", Limit: 10, Cursor: page1.NextCursor})
	if err != nil {
		t.Fatalf("page 2: %v", err)
	}
	if page2.Hits[0].Market.ID != "m10" {
		t.Fatalf("page 2 first hit = %s, want m10", page2.Hits[0].Market.ID)
	}

	page3, err := svc.Search(context.Background(), Request{Query: "rain", Limit: 10, Cursor: page2.NextCursor})
	if err != nil {
		t.Fatalf("page 3: %v", err)
	}
	if len(page3.Hits) != 5 {
		t.Fatalf("page 3 hits = %d, want 5", len(page3.Hits))
	}
	if page3.NextCursor != "" {
		t.Fatal("expected no cursor on the last page")
	}
}

func TestSearchRejectsCursorFromDifferentQuery(t *testing.T) {
	scored, byID := ranking(25)
	idx := &fakeIndex{ranking: scored}
	svc := newService(idx, &fakeMarkets{markets: byID}, 1000)

	page1, err := svc.Search(context.Background(), Request{Query: "rain", Limit: 10})
	if err != nil {
		t.Fatalf("page 1: %v", err)
	}

	_, err = svc.Search(context.Background(), Request{Query: "snow", Limit: 10, Cursor: page1.NextCursor})
	if !errors.Is(err, domain.ErrInvalidCursor) {
		t.Fatalf("err = %v, want ErrInvalidCursor", err)
	}
}

func TestSearchStopsAtSortWindow(t *testing.T) {
	scored, byID := ranking(50)
	idx := &fakeIndex{ranking: scored}
	svc := newService(idx, &fakeMarkets{markets: byID}, 30)

	page1, err := svc.Search(context.Background(), Request{Query: "rain", Limit: 20})
	if err != nil {
		t.Fatalf("page 1: %v", err)
	}
	if len(page1.Hits) != 20 || page1.NextCursor == "" {
		t.Fatalf("page 1: hits=%d cursor=%q", len(page1.Hits), page1.NextCursor)
	}

	// The second page is clamped to the window edge and is terminal.
	page2, err := svc.Search(context.Background(), Request{Query: "rain", Limit: 20, Cursor: page1.NextCursor})
	if err != nil {
		t.Fatalf("page 2: %v", err)
	}
	if len(page2.Hits) != 10 {
		t.Fatalf("page 2 hits = %d, want 10", len(page2.Hits))
	}
	if page2.NextCursor != "" {
		t.Fatal("expected no cursor past the sort window")
	}
}

func TestSearchDropsHitsMissingFromMirror(t *testing.T) {
	scored, byID := ranking(5)
	delete(byID, "m2")
	idx := &fakeIndex{ranking: scored}
	svc := newService(idx, &fakeMarkets{markets: byID}, 1000)

	res, err := svc.Search(context.Background(), Request{Query: "rain", Limit: 5})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(res.Hits) != 4 {
		t.Fatalf("hits = %d, want 4", len(res.Hits))
	}
	for _, h := range res.Hits {
		if h.Market.ID == "m2" {
			t.Fatal("m2 should have been dropped")
		}
	}
}

func TestSimilarRequiresExistingSeed(t *testing.T) {
	scored, byID := ranking(5)
	idx := &fakeIndex{ranking: scored}
	svc := newService(idx, &fakeMarkets{markets: byID}, 1000)

	if _, err := svc.Similar(context.Background(), "missing", 5); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}

	hits, err := svc.Similar(context.Background(), "m0", 3)
	if err != nil {
		t.Fatalf("similar: %v", err)
	}
	if len(hits) != 3 {
		t.Fatalf("hits = %d, want 3", len(hits))
	}
}

func TestSearchResortsWindowByVolume(t *testing.T) {
	scored := []domain.ScoredMarket{
		{ID: "m0", Score: 0.9}, {ID: "m1", Score: 0.8}, {ID: "m2", Score: 0.7},
		{ID: "m3", Score: 0.6}, {ID: "m4", Score: 0.5}, {ID: "m5", Score: 0.4},
	}
	byID := map[string]domain.Market{
		"m0": {ID: "m0", Volume: 10},
		"m1": {ID: "m1", Volume: 40},
		"m2": {ID: "m2", Volume: 40},
		"m3": {ID: "m3", Volume: 5},
		"m4": {ID: "m4", Volume: 100},
		"m5": {ID: "m5", Volume: 7},
	}
	idx := &fakeIndex{ranking: scored}
	svc := newService(idx, &fakeMarkets{markets: byID}, 1000)

	page1, err := svc.Search(context.Background(), Request{Query: "rain", Sort: "volume", Limit: 3})
	if err != nil {
		t.Fatalf("page 1: %v", err)
	}
	// The whole candidate window is fetched in one call, from the top.
	if idx.lastLimit != 1000 || idx.lastOffset != 0 {
		t.Fatalf("index queried with limit=%d offset=%d, want 1000/0", idx.lastLimit, idx.lastOffset)
	}
	// m1 and m2 tie on volume; id breaks the tie.
	assertHitOrder(t, page1.Hits, "m4", "m1", "m2")
	if page1.NextCursor == "" {
		t.Fatal("expected next cursor on page 1")
	}

	page2, err := svc.Search(context.Background(), Request{Query: "rain", Sort: "volume", Limit: 3, Cursor: page1.NextCursor})
	if err != nil {
		t.Fatalf("page 2: %v", err)
	}
	if idx.lastOffset != 0 {
		t.Fatalf("page 2 offset pushed into the index (%d); paging must stay inside the window", idx.lastOffset)
	}
	assertHitOrder(t, page2.Hits, "m0", "m5", "m3")
	if page2.NextCursor != "" {
		t.Fatal("expected no cursor on the last page")
	}
}

func TestSearchSortsByCloseTimeAscending(t *testing.T) {
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	soon := base.Add(time.Hour)
	later := base.Add(48 * time.Hour)
	scored := []domain.ScoredMarket{
		{ID: "m0", Score: 0.9}, {ID: "m1", Score: 0.8}, {ID: "m2", Score: 0.7},
	}
	byID := map[string]domain.Market{
		"m0": {ID: "m0", CloseAt: &later},
		"m1": {ID: "m1"}, // no close time, dropped from the sort
		"m2": {ID: "m2", CloseAt: &soon},
	}
	idx := &fakeIndex{ranking: scored}
	svc := newService(idx, &fakeMarkets{markets: byID}, 1000)

	res, err := svc.Search(context.Background(), Request{Query: "rain", Sort: "close_at", Order: domain.OrderAsc, Limit: 10})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	assertHitOrder(t, res.Hits, "m2", "m0")
}

func TestSearchBindsCursorToSort(t *testing.T) {
	scored, byID := ranking(25)
	for id, m := range byID {
		m.Volume = float64(len(id))
		byID[id] = m
	}
	idx := &fakeIndex{ranking: scored}
	svc := newService(idx, &fakeMarkets{markets: byID}, 1000)

	page1, err := svc.Search(context.Background(), Request{Query: "rain", Sort: "volume", Limit: 10})
	if err != nil {
		t.Fatalf("page 1: %v", err)
	}

	// Same query, relevance sort: the cursor no longer matches.
	if _, err := svc.Search(context.Background(), Request{Query: "rain", Limit: 10, Cursor: page1.NextCursor}); !errors.Is(err, domain.ErrInvalidCursor) {
		t.Fatalf("relevance reuse: err = %v, want ErrInvalidCursor", err)
	}
	// Same sort, flipped order: rejected too.
	if _, err := svc.Search(context.Background(), Request{Query: "rain", Sort: "volume", Order: domain.OrderAsc, Limit: 10, Cursor: page1.NextCursor}); !errors.Is(err, domain.ErrInvalidCursor) {
		t.Fatalf("flipped order: err = %v, want ErrInvalidCursor", err)
	}
}

func TestSearchRejectsUnknownSort(t *testing.T) {
	scored, byID := ranking(5)
	svc := newService(&fakeIndex{ranking: scored}, &fakeMarkets{markets: byID}, 1000)

	if _, err := svc.Search(context.Background(), Request{Query: "rain", Sort: "price"}); !errors.Is(err, domain.ErrInvalidCursor) {
		t.Fatalf("err = %v, want ErrInvalidCursor", err)
	}
}

func assertHitOrder(t *testing.T, hits []Hit, want ...string) {
	t.Helper()
	if len(hits) != len(want) {
		t.Fatalf("hits = %d, want %d", len(hits), len(want))
	}
	for i, id := range want {
		if hits[i].Market.ID != id {
			t.Fatalf("hit %d = %s, want %s", i, hits[i].Market.ID, id)
		}
	}
}

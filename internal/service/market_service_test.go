package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strconv"
	"testing"
	"time"

	"github.com/0xqtpie/pm-indexer/internal/domain"
)

type fakeMarketStore struct {
	domain.MarketStore
	markets  []domain.Market
	lastQ    domain.MarketListQuery
	getCalls int
}

func (s *fakeMarketStore) GetByID(_ context.Context, id string) (domain.Market, error) {
	s.getCalls++
	for _, m := range s.markets {
		if m.ID == id {
			return m, nil
		}
	}
	return domain.Market{}, domain.ErrNotFound
}

func (s *fakeMarketStore) List(_ context.Context, q domain.MarketListQuery) ([]domain.Market, error) {
	s.lastQ = q
	start := 0
	if q.After.LastID != "" {
		for i, m := range s.markets {
			if m.ID == q.After.LastID {
				start = i + 1
				break
			}
		}
	}
	end := start + q.Limit
	if end > len(s.markets) {
		end = len(s.markets)
	}
	return s.markets[start:end], nil
}

type memCache struct {
	entries map[string]domain.Market
	sets    int
}

func (c *memCache) Get(_ context.Context, id string) (domain.Market, error) {
	m, ok := c.entries[id]
	if !ok {
		return domain.Market{}, domain.ErrNotFound
	}
	return m, nil
}

func (c *memCache) Set(_ context.Context, m domain.Market) error {
	if c.entries == nil {
		c.entries = make(map[string]domain.Market)
	}
	c.entries[m.ID] = m
	c.sets++
	return nil
}

func (c *memCache) Invalidate(_ context.Context, id string) error {
	delete(c.entries, id)
	return nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func seedMarkets(n int) []domain.Market {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	out := make([]domain.Market, n)
	for i := 0; i < n; i++ {
		out[i] = domain.Market{
			ID:        fmt.Sprintf("m%02d", i),
			Title:     fmt.Sprintf("market %d", i),
			CreatedAt: base.Add(time.Duration(n-i) * time.Hour),
			Volume:    float64(1000 - i),
		}
	}
	return out
}

func TestGetMarketBackfillsCache(t *testing.T) {
	store := &fakeMarketStore{markets: seedMarkets(1)}
	cache := &memCache{}
	svc := NewMarketService(store, nil, cache, testLogger())

	m, err := svc.GetMarket(context.Background(), "m00")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if m.ID != "m00" {
		t.Fatalf("id = %s", m.ID)
	}
	if cache.sets != 1 {
		t.Fatalf("cache sets = %d, want 1", cache.sets)
	}

	// Second lookup is served from the cache.
	if _, err := svc.GetMarket(context.Background(), "m00"); err != nil {
		t.Fatalf("get cached: %v", err)
	}
	if store.getCalls != 1 {
		t.Fatalf("store reads = %d, want 1", store.getCalls)
	}
}

func TestGetMarketNotFound(t *testing.T) {
	svc := NewMarketService(&fakeMarketStore{}, nil, nil, testLogger())
	if _, err := svc.GetMarket(context.Background(), "nope"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestListMarketsPagesWithKeysetCursor(t *testing.T) {
	store := &fakeMarketStore{markets: seedMarkets(25)}
	svc := NewMarketService(store, nil, nil, testLogger())

	page1, cur, err := svc.ListMarkets(context.Background(), ListParams{Limit: 10})
	if err != nil {
		t.Fatalf("page 1: %v", err)
	}
	if len(page1) != 10 || cur == "" {
		t.Fatalf("page 1: len=%d cursor=%q", len(page1), cur)
	}

	page2, cur2, err := svc.ListMarkets(context.Background(), ListParams{Limit: 10, Cursor: cur})
	if err != nil {
		t.Fatalf("page 2: %v", err)
	}
	if page2[0].ID != "m10" {
		t.Fatalf("page 2 first = %s, want m10", page2[0].ID)
	}
	if store.lastQ.After.LastID != "m09" {
		t.Fatalf("store saw anchor %q, want m09", store.lastQ.After.LastID)
	}

	page3, cur3, err := svc.ListMarkets(context.Background(), ListParams{Limit: 10, Cursor: cur2})
	if err != nil {
		t.Fatalf("page 3: %v", err)
	}
	if len(page3) != 5 || cur3 != "" {
		t.Fatalf("page 3: len=%d cursor=%q, want 5 and empty", len(page3), cur3)
	}
}

func TestListMarketsRejectsCursorWithMismatchedSort(t *testing.T) {
	store := &fakeMarketStore{markets: seedMarkets(25)}
	svc := NewMarketService(store, nil, nil, testLogger())

	_, cur, err := svc.ListMarkets(context.Background(), ListParams{Limit: 10, Sort: "volume"})
	if err != nil {
		t.Fatalf("list: %v", err)
	}

	if _, _, err := svc.ListMarkets(context.Background(), ListParams{Limit: 10, Sort: "created_at", Cursor: cur}); !errors.Is(err, domain.ErrInvalidCursor) {
		t.Fatalf("err = %v, want ErrInvalidCursor", err)
	}
}

func TestListMarketsRejectsUnknownSort(t *testing.T) {
	svc := NewMarketService(&fakeMarketStore{}, nil, nil, testLogger())
	if _, _, err := svc.ListMarkets(context.Background(), ListParams{Sort: "liquidity; DROP TABLE"}); !errors.Is(err, domain.ErrInvalidCursor) {
		t.Fatalf("err = %v, want ErrInvalidCursor", err)
	}
}

// keysetStore pages by comparing (sort value, id) tuples against the anchor
// the way the SQL keyset predicate does, so ties on the sort column cross
// page boundaries. It only understands the volume sort.
type keysetStore struct {
	domain.MarketStore
	markets []domain.Market
}

func (s *keysetStore) List(_ context.Context, q domain.MarketListQuery) ([]domain.Market, error) {
	less := func(a, b domain.Market) bool {
		if a.Volume != b.Volume {
			if q.Order == domain.OrderAsc {
				return a.Volume < b.Volume
			}
			return a.Volume > b.Volume
		}
		if q.Order == domain.OrderAsc {
			return a.ID < b.ID
		}
		return a.ID > b.ID
	}

	rows := make([]domain.Market, len(s.markets))
	copy(rows, s.markets)
	sort.Slice(rows, func(i, j int) bool { return less(rows[i], rows[j]) })

	var out []domain.Market
	for _, m := range rows {
		if q.After.LastID != "" {
			vol, err := strconv.ParseFloat(q.After.LastValue, 64)
			if err != nil {
				return nil, err
			}
			anchor := domain.Market{ID: q.After.LastID, Volume: vol}
			if !less(anchor, m) {
				continue
			}
		}
		out = append(out, m)
		if len(out) == q.Limit {
			break
		}
	}
	return out, nil
}

func TestListMarketsKeysetStableAcrossTiedSortValues(t *testing.T) {
	store := &keysetStore{markets: []domain.Market{
		{ID: "m00", Volume: 50},
		{ID: "m01", Volume: 50},
		{ID: "m02", Volume: 50},
		{ID: "m03", Volume: 20},
		{ID: "m04", Volume: 20},
		{ID: "m05", Volume: 90},
		{ID: "m06", Volume: 50},
	}}
	svc := NewMarketService(store, nil, nil, testLogger())

	var got []string
	cur := ""
	for page := 0; ; page++ {
		if page > 10 {
			t.Fatal("pagination did not terminate")
		}
		markets, next, err := svc.ListMarkets(context.Background(), ListParams{
			Sort:   "volume",
			Order:  domain.OrderDesc,
			Limit:  2,
			Cursor: cur,
		})
		if err != nil {
			t.Fatalf("page %d: %v", page, err)
		}
		for _, m := range markets {
			got = append(got, m.ID)
		}
		if next == "" {
			break
		}
		cur = next
	}

	// Volume desc, id desc inside each tie; the 50-volume tie spans three
	// page boundaries and every row shows up exactly once.
	want := []string{"m05", "m06", "m02", "m01", "m00", "m04", "m03"}
	if len(got) != len(want) {
		t.Fatalf("ids = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("ids = %v, want %v", got, want)
		}
	}
}

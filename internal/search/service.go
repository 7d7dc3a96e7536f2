// Package search implements semantic market search over the vector index,
// with opaque offset cursors bounded by a fixed sort window.
package search

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/0xqtpie/pm-indexer/internal/cursor"
	"github.com/0xqtpie/pm-indexer/internal/domain"
	"github.com/0xqtpie/pm-indexer/internal/embeddings"
)

const (
	defaultLimit = 20
	maxLimit     = 100
)

// sortRelevance orders hits by similarity score, the default.
const sortRelevance = "score"

// searchSorts whitelists the result sort fields.
var searchSorts = map[string]bool{
	sortRelevance: true,
	"volume":      true,
	"volume_24h":  true,
	"close_at":    true,
}

// Request is one search query. Sort defaults to relevance; Order is ignored
// for relevance, which is always descending.
type Request struct {
	Query    string
	Source   domain.Source
	Status   domain.MarketStatus
	Category string
	Sort     string
	Order    domain.SortOrder
	Limit    int
	Cursor   string
}

// Hit is one ranked result hydrated from the relational mirror.
type Hit struct {
	Market domain.Market `json:"market"`
	Score  float32       `json:"score"`
}

// Result is one page of hits. NextCursor is empty on the last page and when
// the sort window is exhausted.
type Result struct {
	Hits       []Hit  `json:"hits"`
	NextCursor string `json:"next_cursor,omitempty"`
}

// Service ranks markets against a query embedding. Pagination never walks
// past sortWindow results; deep result tails of a similarity ranking are
// noise, not signal.
type Service struct {
	embedder   embeddings.Embedder
	index      domain.VectorIndex
	markets    domain.MarketStore
	sortWindow int
	logger     *slog.Logger
}

// NewService creates a search Service with the given sort window.
func NewService(embedder embeddings.Embedder, index domain.VectorIndex, markets domain.MarketStore, sortWindow int, logger *slog.Logger) *Service {
	if sortWindow <= 0 {
		sortWindow = 1000
	}
	return &Service{
		embedder:   embedder,
		index:      index,
		markets:    markets,
		sortWindow: sortWindow,
		logger:     logger.With(slog.String("component", "search")),
	}
}

// Search runs one semantic query page. A cursor minted for a different
// query, filter set, or sort is rejected with domain.ErrInvalidCursor.
func (s *Service) Search(ctx context.Context, req Request) (Result, error) {
	limit := req.Limit
	if limit <= 0 {
		limit = defaultLimit
	}
	if limit > maxLimit {
		limit = maxLimit
	}

	sortField := req.Sort
	if sortField == "" {
		sortField = sortRelevance
	}
	if !searchSorts[sortField] {
		return Result{}, fmt.Errorf("search: %w: unsupported sort %q", domain.ErrInvalidCursor, req.Sort)
	}
	order := req.Order
	if sortField == sortRelevance || order == "" {
		order = domain.OrderDesc
	}

	fp := cursor.Fingerprint(req.Query, s.filterMap(req), sortField, order)

	offset := 0
	if req.Cursor != "" {
		c, err := cursor.DecodeOffset(req.Cursor, fp)
		if err != nil {
			return Result{}, err
		}
		offset = c.Offset
	}

	// The window is a hard ceiling; a cursor pointing past it gets an empty
	// terminal page rather than an error.
	if offset >= s.sortWindow {
		return Result{}, nil
	}
	if offset+limit > s.sortWindow {
		limit = s.sortWindow - offset
	}

	vector, err := s.embedder.Embed(ctx, req.Query)
	if err != nil {
		return Result{}, fmt.Errorf("search: embed query: %w", err)
	}

	filter := domain.VectorFilter{Source: req.Source, Status: req.Status, Category: req.Category}
	if sortField != sortRelevance {
		return s.searchSorted(ctx, vector, filter, sortField, order, limit, offset, fp)
	}

	// Fetch one extra to learn whether a next page exists.
	scored, err := s.index.Search(ctx, vector, filter, limit+1, offset)
	if err != nil {
		return Result{}, fmt.Errorf("search: query index: %w", err)
	}

	hasMore := len(scored) > limit
	if hasMore {
		scored = scored[:limit]
	}

	hits, err := s.hydrate(ctx, scored)
	if err != nil {
		return Result{}, err
	}

	res := Result{Hits: hits}
	if hasMore && offset+limit < s.sortWindow {
		res.NextCursor = cursor.EncodeOffset(cursor.Offset{Offset: offset + limit, Fingerprint: fp})
	}
	return res, nil
}

// searchSorted serves the non-relevance sorts. The top-sortWindow relevance
// candidates are fetched once, re-sorted by the requested field, and the
// page is cut from that fixed window; the ranking never shifts between
// pages of one cursor chain.
func (s *Service) searchSorted(ctx context.Context, vector []float32, filter domain.VectorFilter, field string, order domain.SortOrder, limit, offset int, fp string) (Result, error) {
	scored, err := s.index.Search(ctx, vector, filter, s.sortWindow, 0)
	if err != nil {
		return Result{}, fmt.Errorf("search: query index: %w", err)
	}
	hits, err := s.hydrate(ctx, scored)
	if err != nil {
		return Result{}, err
	}
	hits = sortHits(hits, field, order)

	if offset >= len(hits) {
		return Result{}, nil
	}
	end := offset + limit
	if end > len(hits) {
		end = len(hits)
	}
	res := Result{Hits: hits[offset:end]}
	if end < len(hits) {
		res.NextCursor = cursor.EncodeOffset(cursor.Offset{Offset: end, Fingerprint: fp})
	}
	return res, nil
}

// sortHits orders a hydrated window by a market field, breaking ties by id
// so pages cut from the window neither skip nor repeat hits. Markets with
// no close time are dropped from a close_at sort, matching the list
// endpoint's ordering.
func sortHits(hits []Hit, field string, order domain.SortOrder) []Hit {
	if field == "close_at" {
		kept := hits[:0]
		for _, h := range hits {
			if h.Market.CloseAt != nil {
				kept = append(kept, h)
			}
		}
		hits = kept
	}
	sort.Slice(hits, func(i, j int) bool {
		a, b := hits[i].Market, hits[j].Market
		var cmp int
		switch field {
		case "volume":
			cmp = compareFloat(a.Volume, b.Volume)
		case "volume_24h":
			cmp = compareFloat(a.Volume24h, b.Volume24h)
		case "close_at":
			cmp = a.CloseAt.Compare(*b.CloseAt)
		}
		if cmp != 0 {
			if order == domain.OrderAsc {
				return cmp < 0
			}
			return cmp > 0
		}
		return a.ID < b.ID
	})
	return hits
}

func compareFloat(a, b float64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

// Similar returns markets near an existing one, excluding the seed itself.
func (s *Service) Similar(ctx context.Context, marketID string, limit int) ([]Hit, error) {
	if limit <= 0 {
		limit = defaultLimit
	}
	if limit > maxLimit {
		limit = maxLimit
	}

	// Confirm the seed exists so the caller gets ErrNotFound rather than an
	// empty ranking.
	if _, err := s.markets.GetByID(ctx, marketID); err != nil {
		return nil, err
	}

	scored, err := s.index.Recommend(ctx, []string{marketID}, domain.VectorFilter{}, limit)
	if err != nil {
		return nil, fmt.Errorf("search: recommend: %w", err)
	}
	return s.hydrate(ctx, scored)
}

func (s *Service) filterMap(req Request) map[string]string {
	return map[string]string{
		"source":   string(req.Source),
		"status":   string(req.Status),
		"category": req.Category,
	}
}

// hydrate loads full markets for the ranked ids, preserving ranking order.
// Ids present in the index but missing from the mirror are dropped; the two
// stores are only eventually consistent.
func (s *Service) hydrate(ctx context.Context, scored []domain.ScoredMarket) ([]Hit, error) {
	if len(scored) == 0 {
		return nil, nil
	}
	ids := make([]string, len(scored))
	for i, sc := range scored {
		ids[i] = sc.ID
	}
	markets, err := s.markets.GetByIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("search: hydrate: %w", err)
	}
	byID := make(map[string]domain.Market, len(markets))
	for _, m := range markets {
		byID[m.ID] = m
	}

	hits := make([]Hit, 0, len(scored))
	for _, sc := range scored {
		m, ok := byID[sc.ID]
		if !ok {
			s.logger.Warn("indexed market missing from mirror", slog.String("market_id", sc.ID))
			continue
		}
		hits = append(hits, Hit{Market: m, Score: sc.Score})
	}
	return hits, nil
}

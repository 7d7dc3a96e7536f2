// Package service holds the read-side application services behind the HTTP
// handlers.
package service

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/0xqtpie/pm-indexer/internal/cursor"
	"github.com/0xqtpie/pm-indexer/internal/domain"
)

const (
	defaultListLimit = 50
	maxListLimit     = 200
)

// listSorts whitelists the sortable columns for market listing.
var listSorts = map[string]bool{
	"created_at": true,
	"close_at":   true,
	"volume":     true,
	"volume_24h": true,
}

// ListParams filter and page a market listing.
type ListParams struct {
	Source   domain.Source
	Status   domain.MarketStatus
	Category string
	Sort     string
	Order    domain.SortOrder
	Limit    int
	Cursor   string
}

// MarketService serves market reads: single lookups through the cache,
// keyset-paginated listings, and price history.
type MarketService struct {
	markets   domain.MarketStore
	snapshots domain.SnapshotStore
	cache     domain.MarketCache
	logger    *slog.Logger
}

// NewMarketService creates a MarketService. Cache may be nil; lookups then
// always hit the store.
func NewMarketService(
	markets domain.MarketStore,
	snapshots domain.SnapshotStore,
	cache domain.MarketCache,
	logger *slog.Logger,
) *MarketService {
	return &MarketService{
		markets:   markets,
		snapshots: snapshots,
		cache:     cache,
		logger:    logger.With(slog.String("component", "market_service")),
	}
}

// GetMarket retrieves a market by id, checking the cache first and
// back-filling it on a miss.
func (s *MarketService) GetMarket(ctx context.Context, id string) (domain.Market, error) {
	if s.cache != nil {
		if m, err := s.cache.Get(ctx, id); err == nil {
			return m, nil
		}
	}

	m, err := s.markets.GetByID(ctx, id)
	if err != nil {
		return domain.Market{}, fmt.Errorf("market_service: get by id %q: %w", id, err)
	}

	if s.cache != nil {
		if cacheErr := s.cache.Set(ctx, m); cacheErr != nil {
			s.logger.WarnContext(ctx, "cache set failed",
				slog.String("market_id", id),
				slog.String("error", cacheErr.Error()))
		}
	}
	return m, nil
}

// ListMarkets returns one page of markets plus an opaque cursor for the
// next page. A cursor minted for a different sort or order is rejected with
// domain.ErrInvalidCursor.
func (s *MarketService) ListMarkets(ctx context.Context, p ListParams) ([]domain.Market, string, error) {
	sortCol := p.Sort
	if sortCol == "" {
		sortCol = "created_at"
	}
	if !listSorts[sortCol] {
		return nil, "", fmt.Errorf("market_service: %w: unsupported sort %q", domain.ErrInvalidCursor, p.Sort)
	}
	order := p.Order
	if order == "" {
		order = domain.OrderDesc
	}
	limit := p.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}

	q := domain.MarketListQuery{
		Source:   p.Source,
		Status:   p.Status,
		Category: p.Category,
		Sort:     sortCol,
		Order:    order,
		Limit:    limit + 1,
	}
	if p.Cursor != "" {
		c, err := cursor.DecodeKeyset(p.Cursor, sortCol, order)
		if err != nil {
			return nil, "", err
		}
		q.After = domain.KeysetPage{LastValue: c.LastValue, LastID: c.LastID}
	}

	markets, err := s.markets.List(ctx, q)
	if err != nil {
		return nil, "", fmt.Errorf("market_service: list: %w", err)
	}

	next := ""
	if len(markets) > limit {
		markets = markets[:limit]
		last := markets[len(markets)-1]
		next = cursor.EncodeKeyset(cursor.Keyset{
			Sort:      sortCol,
			Order:     order,
			LastValue: sortValue(last, sortCol),
			LastID:    last.ID,
		})
	}
	return markets, next, nil
}

// History returns a market's price snapshots since the given time, newest
// first. The market must exist.
func (s *MarketService) History(ctx context.Context, marketID string, since time.Time, limit int) ([]domain.PriceSnapshot, error) {
	if _, err := s.markets.GetByID(ctx, marketID); err != nil {
		return nil, fmt.Errorf("market_service: history for %q: %w", marketID, err)
	}
	snaps, err := s.snapshots.ListByMarket(ctx, marketID, since, limit)
	if err != nil {
		return nil, fmt.Errorf("market_service: history for %q: %w", marketID, err)
	}
	return snaps, nil
}

// Count exposes the mirror size for the health endpoint.
func (s *MarketService) Count(ctx context.Context) (int64, error) {
	return s.markets.Count(ctx)
}

// sortValue renders a market's sort-column value as the keyset anchor
// string the store casts back.
func sortValue(m domain.Market, col string) string {
	switch col {
	case "close_at":
		if m.CloseAt == nil {
			return ""
		}
		return m.CloseAt.UTC().Format(time.RFC3339Nano)
	case "volume":
		return strconv.FormatFloat(m.Volume, 'f', -1, 64)
	case "volume_24h":
		return strconv.FormatFloat(m.Volume24h, 'f', -1, 64)
	default:
		return m.CreatedAt.UTC().Format(time.RFC3339Nano)
	}
}

package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/0xqtpie/pm-indexer/internal/domain"
	"github.com/0xqtpie/pm-indexer/internal/service"
)

// MarketService is the read surface the market endpoints need.
type MarketService interface {
	GetMarket(ctx context.Context, id string) (domain.Market, error)
	ListMarkets(ctx context.Context, p service.ListParams) ([]domain.Market, string, error)
	History(ctx context.Context, marketID string, since time.Time, limit int) ([]domain.PriceSnapshot, error)
}

// MarketHandler serves the market catalog endpoints.
type MarketHandler struct {
	svc    MarketService
	logger *slog.Logger
}

func NewMarketHandler(svc MarketService, logger *slog.Logger) *MarketHandler {
	return &MarketHandler{
		svc:    svc,
		logger: logger.With(slog.String("handler", "market")),
	}
}

type listMarketsResponse struct {
	Markets    []domain.Market `json:"markets"`
	NextCursor string          `json:"next_cursor,omitempty"`
}

// List handles GET /api/markets.
func (h *MarketHandler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	p := service.ListParams{
		Source:   domain.Source(q.Get("source")),
		Status:   domain.MarketStatus(q.Get("status")),
		Category: q.Get("category"),
		Sort:     q.Get("sort"),
		Limit:    queryInt(r, "limit", 0),
		Cursor:   q.Get("cursor"),
	}
	switch q.Get("order") {
	case "asc":
		p.Order = domain.OrderAsc
	case "desc", "":
		p.Order = domain.OrderDesc
	default:
		writeError(w, http.StatusBadRequest, "order must be asc or desc")
		return
	}

	markets, next, err := h.svc.ListMarkets(r.Context(), p)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "list markets failed", slog.String("error", err.Error()))
		writeDomainError(w, err, "failed to list markets")
		return
	}
	if markets == nil {
		markets = []domain.Market{}
	}
	writeJSON(w, http.StatusOK, listMarketsResponse{Markets: markets, NextCursor: next})
}

// Get handles GET /api/markets/{id}.
func (h *MarketHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "market id is required")
		return
	}

	m, err := h.svc.GetMarket(r.Context(), id)
	if err != nil {
		writeDomainError(w, err, "failed to get market")
		return
	}
	writeJSON(w, http.StatusOK, m)
}

type historyResponse struct {
	MarketID  string                 `json:"market_id"`
	Snapshots []domain.PriceSnapshot `json:"snapshots"`
}

// History handles GET /api/markets/{id}/history. The lookback defaults to
// 24 hours and is capped at 30 days.
func (h *MarketHandler) History(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "market id is required")
		return
	}

	hours := queryInt(r, "hours", 24)
	if hours > 720 {
		hours = 720
	}
	limit := queryInt(r, "limit", 0)

	since := time.Now().Add(-time.Duration(hours) * time.Hour)
	snaps, err := h.svc.History(r.Context(), id, since, limit)
	if err != nil {
		writeDomainError(w, err, "failed to load price history")
		return
	}
	if snaps == nil {
		snaps = []domain.PriceSnapshot{}
	}
	writeJSON(w, http.StatusOK, historyResponse{MarketID: id, Snapshots: snaps})
}

package handler

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/0xqtpie/pm-indexer/internal/domain"
	"github.com/0xqtpie/pm-indexer/internal/service"
)

type fakeMarketService struct {
	markets map[string]domain.Market
	listed  []domain.Market
	lastP   service.ListParams
}

func (f *fakeMarketService) GetMarket(_ context.Context, id string) (domain.Market, error) {
	m, ok := f.markets[id]
	if !ok {
		return domain.Market{}, domain.ErrNotFound
	}
	return m, nil
}

func (f *fakeMarketService) ListMarkets(_ context.Context, p service.ListParams) ([]domain.Market, string, error) {
	f.lastP = p
	return f.listed, "next-cursor", nil
}

func (f *fakeMarketService) History(_ context.Context, marketID string, _ time.Time, _ int) ([]domain.PriceSnapshot, error) {
	if _, ok := f.markets[marketID]; !ok {
		return nil, domain.ErrNotFound
	}
	return []domain.PriceSnapshot{{MarketID: marketID, YesPrice: 0.42}}, nil
}

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestMarketHandlerList(t *testing.T) {
	svc := &fakeMarketService{
		listed: []domain.Market{{ID: "m1", Title: "Will it rain"}},
	}
	h := NewMarketHandler(svc, newTestLogger())

	req := httptest.NewRequest(http.MethodGet, "/api/markets?source=polymarket&status=open&sort=volume&order=asc&limit=10", nil)
	rec := httptest.NewRecorder()
	h.List(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, domain.SourcePolymarket, svc.lastP.Source)
	require.Equal(t, domain.OrderAsc, svc.lastP.Order)
	require.Equal(t, 10, svc.lastP.Limit)

	var body struct {
		Markets    []domain.Market `json:"markets"`
		NextCursor string          `json:"next_cursor"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Markets, 1)
	require.Equal(t, "m1", body.Markets[0].ID)
	require.Equal(t, "next-cursor", body.NextCursor)
}

func TestMarketHandlerListRejectsBadOrder(t *testing.T) {
	h := NewMarketHandler(&fakeMarketService{}, newTestLogger())

	req := httptest.NewRequest(http.MethodGet, "/api/markets?order=sideways", nil)
	rec := httptest.NewRecorder()
	h.List(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestMarketHandlerGetNotFound(t *testing.T) {
	h := NewMarketHandler(&fakeMarketService{markets: map[string]domain.Market{}}, newTestLogger())

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/markets/{id}", h.Get)

	req := httptest.NewRequest(http.MethodGet, "/api/markets/nope", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestMarketHandlerHistory(t *testing.T) {
	svc := &fakeMarketService{
		markets: map[string]domain.Market{"m1": {ID: "m1"}},
	}
	h := NewMarketHandler(svc, newTestLogger())

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/markets/{id}/history", h.History)

	req := httptest.NewRequest(http.MethodGet, "/api/markets/m1/history?hours=48", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		MarketID  string                 `json:"market_id"`
		Snapshots []domain.PriceSnapshot `json:"snapshots"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, "m1", body.MarketID)
	require.Len(t, body.Snapshots, 1)
}

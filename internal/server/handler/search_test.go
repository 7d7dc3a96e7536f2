package handler

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/0xqtpie/pm-indexer/internal/domain"
	"github.com/0xqtpie/pm-indexer/internal/search"
)

type fakeSearchService struct {
	lastReq search.Request
}

func (f *fakeSearchService) Search(_ context.Context, req search.Request) (search.Result, error) {
	f.lastReq = req
	return search.Result{Hits: []search.Hit{{Market: domain.Market{ID: "m1"}, Score: 0.9}}}, nil
}

func (f *fakeSearchService) Similar(_ context.Context, _ string, _ int) ([]search.Hit, error) {
	return nil, nil
}

func TestSearchHandlerForwardsSortAndOrder(t *testing.T) {
	svc := &fakeSearchService{}
	h := NewSearchHandler(svc, newTestLogger())

	req := httptest.NewRequest(http.MethodGet, "/api/search?q=rain&sort=volume&order=asc&limit=5", nil)
	rec := httptest.NewRecorder()
	h.Search(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "rain", svc.lastReq.Query)
	require.Equal(t, "volume", svc.lastReq.Sort)
	require.Equal(t, domain.OrderAsc, svc.lastReq.Order)
	require.Equal(t, 5, svc.lastReq.Limit)
}

func TestSearchHandlerDefaultsOrderDesc(t *testing.T) {
	svc := &fakeSearchService{}
	h := NewSearchHandler(svc, newTestLogger())

	req := httptest.NewRequest(http.MethodGet, "/api/search?q=rain", nil)
	rec := httptest.NewRecorder()
	h.Search(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, domain.OrderDesc, svc.lastReq.Order)
}

func TestSearchHandlerRejectsBadOrder(t *testing.T) {
	h := NewSearchHandler(&fakeSearchService{}, newTestLogger())

	req := httptest.NewRequest(http.MethodGet, "/api/search?q=rain&order=sideways", nil)
	rec := httptest.NewRecorder()
	h.Search(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
}

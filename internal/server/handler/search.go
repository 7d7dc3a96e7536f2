package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/0xqtpie/pm-indexer/internal/domain"
	"github.com/0xqtpie/pm-indexer/internal/search"
)

// SearchService is the query surface the search endpoints need.
type SearchService interface {
	Search(ctx context.Context, req search.Request) (search.Result, error)
	Similar(ctx context.Context, marketID string, limit int) ([]search.Hit, error)
}

// SearchHandler serves semantic search and similarity endpoints.
type SearchHandler struct {
	svc    SearchService
	logger *slog.Logger
}

func NewSearchHandler(svc SearchService, logger *slog.Logger) *SearchHandler {
	return &SearchHandler{
		svc:    svc,
		logger: logger.With(slog.String("handler", "search")),
	}
}

// Search handles GET /api/search.
func (h *SearchHandler) Search(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	query := q.Get("q")
	if query == "" {
		writeError(w, http.StatusBadRequest, "q is required")
		return
	}

	var order domain.SortOrder
	switch q.Get("order") {
	case "asc":
		order = domain.OrderAsc
	case "desc", "":
		order = domain.OrderDesc
	default:
		writeError(w, http.StatusBadRequest, "order must be asc or desc")
		return
	}

	req := search.Request{
		Query:    query,
		Source:   domain.Source(q.Get("source")),
		Status:   domain.MarketStatus(q.Get("status")),
		Category: q.Get("category"),
		Sort:     q.Get("sort"),
		Order:    order,
		Limit:    queryInt(r, "limit", 0),
		Cursor:   q.Get("cursor"),
	}

	res, err := h.svc.Search(r.Context(), req)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "search failed",
			slog.String("query", query),
			slog.String("error", err.Error()))
		writeDomainError(w, err, "search failed")
		return
	}
	if res.Hits == nil {
		res.Hits = []search.Hit{}
	}
	writeJSON(w, http.StatusOK, res)
}

type similarResponse struct {
	MarketID string       `json:"market_id"`
	Hits     []search.Hit `json:"hits"`
}

// Similar handles GET /api/markets/{id}/similar.
func (h *SearchHandler) Similar(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "market id is required")
		return
	}

	hits, err := h.svc.Similar(r.Context(), id, queryInt(r, "limit", 0))
	if err != nil {
		writeDomainError(w, err, "failed to find similar markets")
		return
	}
	if hits == nil {
		hits = []search.Hit{}
	}
	writeJSON(w, http.StatusOK, similarResponse{MarketID: id, Hits: hits})
}

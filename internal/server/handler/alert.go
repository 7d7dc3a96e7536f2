package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/0xqtpie/pm-indexer/internal/domain"
)

// AlertHandler serves alert creation and event listing.
type AlertHandler struct {
	alerts  domain.AlertStore
	markets domain.MarketStore
	logger  *slog.Logger
}

func NewAlertHandler(alerts domain.AlertStore, markets domain.MarketStore, logger *slog.Logger) *AlertHandler {
	return &AlertHandler{
		alerts:  alerts,
		markets: markets,
		logger:  logger.With(slog.String("handler", "alert")),
	}
}

type createAlertRequest struct {
	MarketID      string  `json:"market_id"`
	Type          string  `json:"type"`
	Threshold     float64 `json:"threshold"`
	WindowMinutes int     `json:"window_minutes"`
}

// Create handles POST /api/alerts.
func (h *AlertHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createAlertRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.MarketID == "" {
		writeError(w, http.StatusBadRequest, "market_id is required")
		return
	}

	alert := domain.Alert{
		ID:        uuid.NewString(),
		MarketID:  req.MarketID,
		Type:      domain.AlertType(req.Type),
		Enabled:   true,
		CreatedAt: time.Now().UTC(),
	}
	switch alert.Type {
	case domain.AlertPriceMove:
		if req.Threshold <= 0 || req.Threshold > 1 {
			writeError(w, http.StatusBadRequest, "threshold must be in (0, 1]")
			return
		}
		alert.Threshold = req.Threshold
	case domain.AlertClosingSoon:
		if req.WindowMinutes <= 0 {
			writeError(w, http.StatusBadRequest, "window_minutes must be positive")
			return
		}
		alert.WindowMinutes = req.WindowMinutes
	default:
		writeError(w, http.StatusBadRequest, "type must be price_move or closing_soon")
		return
	}

	// Reject alerts on markets the mirror has never seen.
	if _, err := h.markets.GetByID(r.Context(), req.MarketID); err != nil {
		writeDomainError(w, err, "failed to look up market")
		return
	}

	if err := h.alerts.Create(r.Context(), alert); err != nil {
		h.logger.ErrorContext(r.Context(), "create alert failed",
			slog.String("market_id", req.MarketID),
			slog.String("error", err.Error()))
		writeDomainError(w, err, "failed to create alert")
		return
	}
	writeJSON(w, http.StatusCreated, alert)
}

type alertEventsResponse struct {
	AlertID string              `json:"alert_id"`
	Events  []domain.AlertEvent `json:"events"`
}

// Events handles GET /api/alerts/{id}/events.
func (h *AlertHandler) Events(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "alert id is required")
		return
	}

	if _, err := h.alerts.GetByID(r.Context(), id); err != nil {
		writeDomainError(w, err, "failed to look up alert")
		return
	}

	events, err := h.alerts.ListEvents(r.Context(), id, queryInt(r, "limit", 0))
	if err != nil {
		writeDomainError(w, err, "failed to list alert events")
		return
	}
	if events == nil {
		events = []domain.AlertEvent{}
	}
	writeJSON(w, http.StatusOK, alertEventsResponse{AlertID: id, Events: events})
}

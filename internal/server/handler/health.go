package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"
)

// Counter exposes the mirror size for the health payload.
type Counter interface {
	Count(ctx context.Context) (int64, error)
}

// HealthHandler serves the health-check endpoint.
type HealthHandler struct {
	markets Counter
	logger  *slog.Logger
}

// NewHealthHandler creates a HealthHandler.
func NewHealthHandler(markets Counter, logger *slog.Logger) *HealthHandler {
	return &HealthHandler{markets: markets, logger: logger}
}

// HealthCheck responds with liveness plus the mirrored market count.
// GET /api/health
func (h *HealthHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	resp := map[string]any{
		"status":    "ok",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}
	if count, err := h.markets.Count(r.Context()); err == nil {
		resp["markets"] = count
	} else {
		h.logger.WarnContext(r.Context(), "handler: market count failed",
			slog.String("error", err.Error()))
		resp["status"] = "degraded"
	}
	writeJSON(w, http.StatusOK, resp)
}

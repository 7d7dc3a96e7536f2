// Package server assembles the HTTP API: routes, middleware, and the
// WebSocket endpoint.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/0xqtpie/pm-indexer/internal/ratelimit"
	"github.com/0xqtpie/pm-indexer/internal/server/handler"
	"github.com/0xqtpie/pm-indexer/internal/server/middleware"
	"github.com/0xqtpie/pm-indexer/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port        int
	CORSOrigins []string
	APIKey      string // if empty, authentication is disabled
}

// Handlers aggregates all HTTP handlers that the server needs to register.
type Handlers struct {
	Health  *handler.HealthHandler
	Markets *handler.MarketHandler
	Search  *handler.SearchHandler
	Admin   *handler.AdminHandler
	Alerts  *handler.AlertHandler
}

// Limiters are the per-surface rate limiters. Either may be nil to disable
// limiting for that surface.
type Limiters struct {
	Search *ratelimit.Limiter
	Admin  *ratelimit.Limiter
}

// Server is the HTTP + WebSocket API over the market mirror.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer creates a Server with all routes registered. Search endpoints
// and admin endpoints sit behind their own rate limiters; everything except
// health goes through auth when an API key is configured.
func NewServer(cfg Config, handlers Handlers, limiters Limiters, wsHub *ws.Hub, logger *slog.Logger) *Server {
	mux := http.NewServeMux()

	searchLimited := middleware.RateLimit(limiters.Search)
	adminLimited := middleware.RateLimit(limiters.Admin)

	// Health check (no auth required).
	mux.HandleFunc("GET /api/health", handlers.Health.HealthCheck)

	// Market catalog.
	mux.HandleFunc("GET /api/markets", handlers.Markets.List)
	mux.HandleFunc("GET /api/markets/{id}", handlers.Markets.Get)
	mux.HandleFunc("GET /api/markets/{id}/history", handlers.Markets.History)

	// Semantic search.
	mux.Handle("GET /api/search", searchLimited(http.HandlerFunc(handlers.Search.Search)))
	mux.Handle("GET /api/markets/{id}/similar", searchLimited(http.HandlerFunc(handlers.Search.Similar)))

	// Alerts.
	mux.HandleFunc("POST /api/alerts", handlers.Alerts.Create)
	mux.HandleFunc("GET /api/alerts/{id}/events", handlers.Alerts.Events)

	// Admin.
	mux.Handle("POST /api/admin/sync", adminLimited(http.HandlerFunc(handlers.Admin.TriggerSync)))
	mux.Handle("GET /api/admin/sync/status", adminLimited(http.HandlerFunc(handlers.Admin.SyncStatus)))
	mux.Handle("GET /api/admin/jobs", adminLimited(http.HandlerFunc(handlers.Admin.Jobs)))

	// WebSocket endpoint.
	if wsHub != nil {
		mux.HandleFunc("GET /ws", wsHub.HandleWS)
	}

	var h http.Handler = mux
	h = middleware.Auth(cfg.APIKey)(h)
	h = middleware.Logging(logger)(h)
	h = middleware.CORS(cfg.CORSOrigins)(h)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      h,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return &Server{
		httpServer: srv,
		logger:     logger,
	}
}

// Start begins listening for HTTP requests. It blocks until the server
// encounters an error or is shut down.
func (s *Server) Start() error {
	s.logger.Info("server: starting", slog.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server: listen: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the server, waiting for in-flight requests
// to complete within the given context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("server: shutting down")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}

package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/0xqtpie/pm-indexer/internal/domain"
)

// SyncService is the admin surface over the sync orchestrator.
type SyncService interface {
	Run(ctx context.Context, typ domain.SyncType) (domain.SyncRun, error)
	Status(ctx context.Context) (domain.SyncStatus, error)
	Busy() bool
}

// JobCounter reports the embedding queue backlog.
type JobCounter interface {
	CountPending(ctx context.Context) (int64, error)
}

// AdminHandler serves the sync trigger and status endpoints.
type AdminHandler struct {
	sync   SyncService
	jobs   JobCounter
	logger *slog.Logger
}

func NewAdminHandler(sync SyncService, jobs JobCounter, logger *slog.Logger) *AdminHandler {
	return &AdminHandler{
		sync:   sync,
		jobs:   jobs,
		logger: logger.With(slog.String("handler", "admin")),
	}
}

// TriggerSync handles POST /api/admin/sync. The run happens in the
// background; a full sync can take far longer than the server's write
// timeout. Its outcome lands in sync_runs and is visible via SyncStatus.
func (h *AdminHandler) TriggerSync(w http.ResponseWriter, r *http.Request) {
	typ := domain.SyncTypeIncremental
	switch r.URL.Query().Get("type") {
	case "", "incremental":
	case "full":
		typ = domain.SyncTypeFull
	default:
		writeError(w, http.StatusBadRequest, "type must be incremental or full")
		return
	}

	if h.sync.Busy() {
		writeDomainError(w, domain.ErrSyncInProgress, "sync failed")
		return
	}

	go func() {
		// Detached from the request; the run outlives the response.
		ctx := context.WithoutCancel(r.Context())
		if _, err := h.sync.Run(ctx, typ); err != nil && !errors.Is(err, domain.ErrSyncInProgress) {
			h.logger.ErrorContext(ctx, "manual sync failed",
				slog.String("type", string(typ)),
				slog.String("error", err.Error()))
		}
	}()

	writeJSON(w, http.StatusAccepted, map[string]string{
		"status": "accepted",
		"type":   string(typ),
	})
}

// SyncStatus handles GET /api/admin/sync/status.
func (h *AdminHandler) SyncStatus(w http.ResponseWriter, r *http.Request) {
	status, err := h.sync.Status(r.Context())
	if err != nil {
		writeDomainError(w, err, "failed to load sync status")
		return
	}
	writeJSON(w, http.StatusOK, status)
}

// Jobs handles GET /api/admin/jobs.
func (h *AdminHandler) Jobs(w http.ResponseWriter, r *http.Request) {
	pending, err := h.jobs.CountPending(r.Context())
	if err != nil {
		writeDomainError(w, err, "failed to count jobs")
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"pending": pending})
}

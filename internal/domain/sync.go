package domain

import "time"

// FetchStatus selects which lifecycle states a source fetch requests.
type FetchStatus string

const (
	FetchOpen    FetchStatus = "open"
	FetchClosed  FetchStatus = "closed"
	FetchSettled FetchStatus = "settled"
	FetchAll     FetchStatus = "all"
)

// SyncType distinguishes the two scheduled sync flavors.
type SyncType string

const (
	SyncTypeIncremental SyncType = "incremental"
	SyncTypeFull        SyncType = "full"
)

// SyncRunStatus is the overall outcome of one orchestrator invocation.
type SyncRunStatus string

const (
	SyncRunRunning SyncRunStatus = "running"
	SyncRunSuccess SyncRunStatus = "success"
	SyncRunPartial SyncRunStatus = "partial"
	SyncRunFailed  SyncRunStatus = "failed"
)

// SourceResult is the per-source outcome of one sync pass. A source's failure
// never aborts the other source's pass; both results are always recorded.
type SourceResult struct {
	Source              Source        `json:"source"`
	Status              SyncRunStatus `json:"status"`
	Fetched             int           `json:"fetched"`
	NewMarkets          int           `json:"new_markets"`
	UpdatedPrices       int           `json:"updated_prices"`
	ContentChanged      int           `json:"content_changed"`
	EmbeddingsGenerated int           `json:"embeddings_generated"`
	EmbeddingsDeferred  int           `json:"embeddings_deferred"`
	Errors              []string      `json:"errors,omitempty"`
	DurationMs          int64         `json:"duration_ms"`
}

// SyncRun is one durable record per orchestrator invocation. The latest
// non-terminal row doubles as the "is a sync in flight" signal across
// process restarts.
type SyncRun struct {
	ID         string         `json:"id"`
	Type       SyncType       `json:"type"`
	Status     SyncRunStatus  `json:"status"`
	StartedAt  time.Time      `json:"started_at"`
	EndedAt    *time.Time     `json:"ended_at,omitempty"`
	DurationMs int64          `json:"duration_ms"`
	Results    []SourceResult `json:"results,omitempty"`
	Errors     []string       `json:"errors,omitempty"`
}

// SyncStatus is the aggregate view served by the admin status endpoint.
type SyncStatus struct {
	IsSyncing        bool       `json:"is_syncing"`
	LastSyncTime     *time.Time `json:"last_sync_time,omitempty"`
	LastFullSyncTime *time.Time `json:"last_full_sync_time,omitempty"`
	LastResult       *SyncRun   `json:"last_result,omitempty"`
}

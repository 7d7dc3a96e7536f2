package domain

import (
	"context"
	"time"
)

// SortOrder is the direction of a keyset-sorted list query.
type SortOrder string

const (
	OrderAsc  SortOrder = "asc"
	OrderDesc SortOrder = "desc"
)

// KeysetPage anchors a list query after the last row of the previous page.
// Zero value means "first page".
type KeysetPage struct {
	LastValue string
	LastID    string
}

// MarketListQuery filters and orders a market list query.
type MarketListQuery struct {
	Source   Source
	Status   MarketStatus
	Category string
	Sort     string // one of: created_at, close_at, volume, volume_24h
	Order    SortOrder
	Limit    int
	After    KeysetPage
}

// MarketStore persists the deduplicated market mirror.
type MarketStore interface {
	// ResolveRefs returns the stored (id, sourceId, contentHash) projection
	// for every known sourceID of the given source. Implementations chunk the
	// lookup to stay under query parameter limits.
	ResolveRefs(ctx context.Context, source Source, sourceIDs []string) ([]StoredRef, error)

	// ApplySyncBatch applies every relational write of one source's sync pass
	// in a single transaction.
	ApplySyncBatch(ctx context.Context, batch SyncBatch) error

	GetByID(ctx context.Context, id string) (Market, error)
	GetByIDs(ctx context.Context, ids []string) ([]Market, error)
	List(ctx context.Context, q MarketListQuery) ([]Market, error)
	SetEmbeddingModel(ctx context.Context, ids []string, model string) error
	Count(ctx context.Context) (int64, error)
}

// SnapshotStore reads and prunes the append-only price history. Snapshot
// inserts happen inside MarketStore.ApplySyncBatch.
type SnapshotStore interface {
	ListByMarket(ctx context.Context, marketID string, since time.Time, limit int) ([]PriceSnapshot, error)
	ListBefore(ctx context.Context, cutoff time.Time, limit int) ([]PriceSnapshot, error)
	DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// JobStore persists the durable embedding work queue.
type JobStore interface {
	Enqueue(ctx context.Context, job Job) error

	// ClaimBatch atomically selects up to n eligible jobs (queued, due,
	// attempts below max), transitions them to processing, stamps claim
	// metadata, increments attempts, and returns them. Two concurrent
	// callers never receive the same job.
	ClaimBatch(ctx context.Context, workerID string, n int) ([]Job, error)

	MarkSucceeded(ctx context.Context, id string) error
	Requeue(ctx context.Context, id string, runAt time.Time, lastError string) error
	MarkFailed(ctx context.Context, id string, lastError string) error
	CountPending(ctx context.Context) (int64, error)
}

// SyncRunStore persists one row per orchestrator invocation.
type SyncRunStore interface {
	Create(ctx context.Context, run SyncRun) error
	Finish(ctx context.Context, run SyncRun) error

	// LatestRunning returns the most recent non-terminal run, or ErrNotFound.
	LatestRunning(ctx context.Context) (SyncRun, error)

	// RecoverStale marks running rows older than the cutoff as failed and
	// returns how many were recovered. Called once at startup.
	RecoverStale(ctx context.Context, olderThan time.Time) (int64, error)

	LatestByType(ctx context.Context, t SyncType) (SyncRun, error)
}

// AlertStore persists alerts and their emitted events.
type AlertStore interface {
	Create(ctx context.Context, alert Alert) error
	GetByID(ctx context.Context, id string) (Alert, error)
	ListEnabledByMarkets(ctx context.Context, marketIDs []string) ([]Alert, error)
	StampTriggered(ctx context.Context, alertID string, at time.Time) error
	InsertEvent(ctx context.Context, ev AlertEvent) error
	ListEvents(ctx context.Context, alertID string, limit int) ([]AlertEvent, error)
}

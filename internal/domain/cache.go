package domain

import (
	"context"
	"time"
)

// MarketCache is a read-through cache over market-by-id lookups.
type MarketCache interface {
	Get(ctx context.Context, id string) (Market, error)
	Set(ctx context.Context, market Market) error
	Invalidate(ctx context.Context, id string) error
}

// LockManager provides cross-process mutual exclusion. The orchestrator uses
// it to extend the single-flight sync guard beyond one process when multiple
// instances share a store.
type LockManager interface {
	// Acquire obtains the lock or returns ErrLockHeld. The returned function
	// releases the lock and is safe to call more than once.
	Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error)
}

// Package jobs implements the durable embedding work queue: enqueueing
// deferred work during sync and a polling worker that drains it.
package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/0xqtpie/pm-indexer/internal/domain"
)

// Queue enqueues deferred embedding work.
type Queue struct {
	store       domain.JobStore
	maxAttempts int
	now         func() time.Time
}

// NewQueue creates a Queue writing jobs with the given attempt budget.
func NewQueue(store domain.JobStore, maxAttempts int) *Queue {
	if maxAttempts <= 0 {
		maxAttempts = 5
	}
	return &Queue{store: store, maxAttempts: maxAttempts, now: time.Now}
}

// EnqueueEmbedMarkets queues one embed_markets job for the given market ids.
// An empty id list is a no-op, not an error.
func (q *Queue) EnqueueEmbedMarkets(ctx context.Context, marketIDs []string) error {
	if len(marketIDs) == 0 {
		return nil
	}
	payload, err := json.Marshal(domain.EmbedMarketsPayload{MarketIDs: marketIDs})
	if err != nil {
		return fmt.Errorf("jobs: encode payload: %w", err)
	}
	job := domain.Job{
		ID:          uuid.New().String(),
		Type:        domain.JobTypeEmbedMarkets,
		Status:      domain.JobStatusQueued,
		Payload:     payload,
		MaxAttempts: q.maxAttempts,
		RunAt:       q.now(),
	}
	if err := q.store.Enqueue(ctx, job); err != nil {
		return fmt.Errorf("jobs: enqueue: %w", err)
	}
	return nil
}

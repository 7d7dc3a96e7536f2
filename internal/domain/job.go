package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

// JobType identifies a deferred unit of work. There is currently one variant.
type JobType string

const (
	JobTypeEmbedMarkets JobType = "embed_markets"
)

// JobStatus is the lifecycle state of a queued job.
type JobStatus string

const (
	JobStatusQueued     JobStatus = "queued"
	JobStatusProcessing JobStatus = "processing"
	JobStatusSucceeded  JobStatus = "succeeded"
	JobStatusFailed     JobStatus = "failed"
)

// EmbedMarketsPayload is the payload for JobTypeEmbedMarkets jobs.
type EmbedMarketsPayload struct {
	MarketIDs []string `json:"market_ids"`
}

// Job is a durable, claimable unit of deferred embedding work. A job in
// processing always carries claim metadata; attempts only increases; once
// attempts reaches MaxAttempts a failure is terminal.
type Job struct {
	ID          string
	Type        JobType
	Status      JobStatus
	Payload     json.RawMessage
	Attempts    int
	MaxAttempts int
	RunAt       time.Time
	LockedAt    *time.Time
	LockedBy    string
	LastError   string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// EmbedMarketsPayload decodes and validates the job payload against the job's
// declared type. A shape mismatch is a hard contract failure, never a silent
// zero value.
func (j Job) EmbedMarketsPayload() (EmbedMarketsPayload, error) {
	if j.Type != JobTypeEmbedMarkets {
		return EmbedMarketsPayload{}, fmt.Errorf("job %s: payload requested as %s but job type is %s",
			j.ID, JobTypeEmbedMarkets, j.Type)
	}
	var p EmbedMarketsPayload
	if err := json.Unmarshal(j.Payload, &p); err != nil {
		return EmbedMarketsPayload{}, fmt.Errorf("job %s: decode %s payload: %w", j.ID, j.Type, err)
	}
	if len(p.MarketIDs) == 0 {
		return EmbedMarketsPayload{}, fmt.Errorf("job %s: %s payload has no market ids", j.ID, j.Type)
	}
	return p, nil
}

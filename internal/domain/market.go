package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"
)

// Source identifies the upstream marketplace a market was ingested from.
type Source string

const (
	SourcePolymarket Source = "polymarket"
	SourceKalshi     Source = "kalshi"
)

// Sources lists every upstream marketplace the indexer mirrors.
var Sources = []Source{SourcePolymarket, SourceKalshi}

// MarketStatus represents the lifecycle state of a market.
type MarketStatus string

const (
	MarketStatusOpen    MarketStatus = "open"
	MarketStatusClosed  MarketStatus = "closed"
	MarketStatusSettled MarketStatus = "settled"
)

// Market is the canonical, source-normalized representation of one tradable
// question. The (Source, SourceID) pair is unique; ID is minted on first
// sighting and reused for every subsequent sync of the same upstream record.
type Market struct {
	ID          string   `json:"id"`
	Source      Source   `json:"source"`
	SourceID    string   `json:"source_id"`
	Title       string   `json:"title"`
	Subtitle    string   `json:"subtitle,omitempty"`
	Description string   `json:"description,omitempty"`
	Rules       string   `json:"rules,omitempty"`
	Category    string   `json:"category,omitempty"`
	Tags        []string `json:"tags,omitempty"`
	ContentHash string   `json:"content_hash"`

	YesPrice  float64 `json:"yes_price"`
	NoPrice   float64 `json:"no_price"`
	Volume    float64 `json:"volume"`
	Volume24h float64 `json:"volume_24h"`
	Liquidity float64 `json:"liquidity"`

	Status MarketStatus `json:"status"`
	Result string       `json:"result,omitempty"`

	URL            string `json:"url,omitempty"`
	ImageURL       string `json:"image_url,omitempty"`
	EmbeddingModel string `json:"embedding_model,omitempty"`

	CreatedAt    time.Time  `json:"created_at"`
	OpenAt       *time.Time `json:"open_at,omitempty"`
	CloseAt      *time.Time `json:"close_at,omitempty"`
	ExpiresAt    *time.Time `json:"expires_at,omitempty"`
	LastSyncedAt time.Time  `json:"last_synced_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// ComputeContentHash digests the fields that drive the embedding text. Two
// markets with the same hash never need re-embedding.
func ComputeContentHash(title, description, rules string) string {
	h := sha256.Sum256([]byte(title + "\x00" + description + "\x00" + rules))
	return hex.EncodeToString(h[:])
}

// EmbedText builds the text sent to the embedding provider for this market.
func (m Market) EmbedText() string {
	parts := []string{m.Title}
	if m.Subtitle != "" {
		parts = append(parts, m.Subtitle)
	}
	if m.Description != "" {
		parts = append(parts, m.Description)
	}
	if m.Rules != "" {
		parts = append(parts, m.Rules)
	}
	if m.Category != "" {
		parts = append(parts, "Category: "+m.Category)
	}
	if len(m.Tags) > 0 {
		parts = append(parts, "Tags: "+strings.Join(m.Tags, ", "))
	}
	return strings.Join(parts, "\n")
}

// StoredRef is the projection of a persisted market used by the diff engine
// to resolve identity and detect content changes.
type StoredRef struct {
	ID          string
	SourceID    string
	ContentHash string
}

// PriceSnapshot is an append-only history row, written once per sync pass for
// every market the pass touched. Never mutated.
type PriceSnapshot struct {
	ID         int64        `json:"id"`
	MarketID   string       `json:"market_id"`
	YesPrice   float64      `json:"yes_price"`
	NoPrice    float64      `json:"no_price"`
	Volume     float64      `json:"volume"`
	Volume24h  float64      `json:"volume_24h"`
	Status     MarketStatus `json:"status"`
	RecordedAt time.Time    `json:"recorded_at"`
}

// SyncBatch bundles every relational write produced by one source's sync pass.
// A store implementation must apply the whole batch in a single transaction.
type SyncBatch struct {
	Inserts        []Market
	PriceUpdates   []Market
	ContentUpdates []Market
	Snapshots      []PriceSnapshot
}

// Empty reports whether the batch contains no writes at all.
func (b SyncBatch) Empty() bool {
	return len(b.Inserts) == 0 && len(b.PriceUpdates) == 0 &&
		len(b.ContentUpdates) == 0 && len(b.Snapshots) == 0
}

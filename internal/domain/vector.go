package domain

import (
	"context"
	"time"
)

// MarketPayload is the metadata stored alongside a market's vector. It is
// what SetPayload refreshes in place when prices move without a content
// change.
type MarketPayload struct {
	Title     string       `json:"title"`
	Source    Source       `json:"source"`
	Status    MarketStatus `json:"status"`
	Category  string       `json:"category,omitempty"`
	Tags      []string     `json:"tags,omitempty"`
	YesPrice  float64      `json:"yes_price"`
	NoPrice   float64      `json:"no_price"`
	Volume    float64      `json:"volume"`
	Volume24h float64      `json:"volume_24h"`
	CloseAt   *time.Time   `json:"close_at,omitempty"`
	URL       string       `json:"url,omitempty"`
}

// PayloadFor projects a market into its vector payload.
func PayloadFor(m Market) MarketPayload {
	return MarketPayload{
		Title:     m.Title,
		Source:    m.Source,
		Status:    m.Status,
		Category:  m.Category,
		Tags:      m.Tags,
		YesPrice:  m.YesPrice,
		NoPrice:   m.NoPrice,
		Volume:    m.Volume,
		Volume24h: m.Volume24h,
		CloseAt:   m.CloseAt,
		URL:       m.URL,
	}
}

// VectorPoint is one embedded market headed for the index.
type VectorPoint struct {
	ID      string
	Vector  []float32
	Payload MarketPayload
}

// VectorFilter narrows a vector search or recommendation.
type VectorFilter struct {
	Source   Source
	Status   MarketStatus
	Category string
}

// ScoredMarket is one ranked hit from the vector index.
type ScoredMarket struct {
	ID      string
	Score   float32
	Payload MarketPayload
}

// VectorIndex is the narrow contract over the external vector store. It is
// eventually consistent with the relational mirror and is always written
// after, never inside, a relational transaction.
type VectorIndex interface {
	EnsureCollection(ctx context.Context) error
	Upsert(ctx context.Context, points []VectorPoint) error
	SetPayload(ctx context.Context, id string, payload MarketPayload) error
	Search(ctx context.Context, vector []float32, filter VectorFilter, limit, offset int) ([]ScoredMarket, error)
	Recommend(ctx context.Context, seedIDs []string, filter VectorFilter, limit int) ([]ScoredMarket, error)
}

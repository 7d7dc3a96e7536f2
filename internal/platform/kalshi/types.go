package kalshi

import (
	"strings"
	"time"

	"github.com/0xqtpie/pm-indexer/internal/domain"
)

// KalshiMarket represents a market as returned by the Kalshi REST API.
// Prices are in cents (1-99).
type KalshiMarket struct {
	Ticker         string  `json:"ticker"`
	EventTicker    string  `json:"event_ticker"`
	Title          string  `json:"title"`
	Subtitle       string  `json:"subtitle"`
	Status         string  `json:"status"` // "open", "closed", "settled"
	YesBid         float64 `json:"yes_bid"`
	YesAsk         float64 `json:"yes_ask"`
	LastPrice      float64 `json:"last_price"`
	Volume         float64 `json:"volume"`
	Volume24H      float64 `json:"volume_24h"`
	Liquidity      float64 `json:"liquidity"`
	OpenInterest   float64 `json:"open_interest"`
	Category       string  `json:"category"`
	RulesPrimary   string  `json:"rules_primary"`
	RulesSecondary string  `json:"rules_secondary"`
	Result         string  `json:"result"` // "yes", "no", "" (unsettled)
	OpenTime       string  `json:"open_time"`
	CloseTime      string  `json:"close_time"`
	ExpirationTime string  `json:"expiration_time"`
}

// IsSports reports whether the sports filter should drop this market.
func (m *KalshiMarket) IsSports() bool {
	return strings.EqualFold(m.Category, "sports")
}

// Normalize converts a KalshiMarket to the canonical domain.Market. The
// system id is left empty; the diff engine assigns or reuses it.
func (m *KalshiMarket) Normalize() domain.Market {
	yes := m.LastPrice / 100
	if yes == 0 && m.YesBid > 0 {
		// No last trade yet: fall back to the bid/ask midpoint.
		yes = (m.YesBid + m.YesAsk) / 200
	}

	rules := m.RulesPrimary
	if m.RulesSecondary != "" {
		rules += "\n" + m.RulesSecondary
	}

	out := domain.Market{
		Source:      domain.SourceKalshi,
		SourceID:    m.Ticker,
		Title:       m.Title,
		Subtitle:    m.Subtitle,
		Rules:       rules,
		Category:    m.Category,
		YesPrice:    yes,
		NoPrice:     1 - yes,
		Volume:      m.Volume,
		Volume24h:   m.Volume24H,
		Liquidity:   m.Liquidity,
		Status:      normalizeStatus(m.Status),
		Result:      m.Result,
		URL:         "https://kalshi.com/markets/" + m.EventTicker,
	}

	if t, err := time.Parse(time.RFC3339, m.OpenTime); err == nil {
		out.OpenAt = &t
	}
	if t, err := time.Parse(time.RFC3339, m.CloseTime); err == nil {
		out.CloseAt = &t
	}
	if t, err := time.Parse(time.RFC3339, m.ExpirationTime); err == nil {
		out.ExpiresAt = &t
	}

	out.ContentHash = domain.ComputeContentHash(out.Title, out.Description, out.Rules)
	return out
}

func normalizeStatus(s string) domain.MarketStatus {
	switch strings.ToLower(s) {
	case "settled", "finalized":
		return domain.MarketStatusSettled
	case "closed", "inactive":
		return domain.MarketStatusClosed
	default:
		return domain.MarketStatusOpen
	}
}

package polymarket

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/0xqtpie/pm-indexer/internal/domain"
)

// flexBool unmarshals from JSON bool or string ("true"/"false") so Gamma API
// responses work whether "active" is sent as bool or string.
type flexBool bool

func (f *flexBool) UnmarshalJSON(data []byte) error {
	var b bool
	if err := json.Unmarshal(data, &b); err == nil {
		*f = flexBool(b)
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	*f = flexBool(strings.EqualFold(s, "true") || s == "1")
	return nil
}

// flexFloat unmarshals from JSON number or numeric string; the Gamma API
// sends volume and liquidity both ways.
type flexFloat float64

func (f *flexFloat) UnmarshalJSON(data []byte) error {
	var n float64
	if err := json.Unmarshal(data, &n); err == nil {
		*f = flexFloat(n)
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	if s == "" {
		*f = 0
		return nil
	}
	n, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return err
	}
	*f = flexFloat(n)
	return nil
}

// APITag is a tag object attached to a Gamma market.
type APITag struct {
	ID    string `json:"id"`
	Label string `json:"label"`
	Slug  string `json:"slug"`
}

// APIMarket represents a market as returned by the Polymarket Gamma API.
type APIMarket struct {
	ID             string    `json:"id"`
	Question       string    `json:"question"`
	Slug           string    `json:"slug"`
	Description    string    `json:"description"`
	Active         flexBool  `json:"active"`
	Closed         bool      `json:"closed"`
	Category       string    `json:"category"`
	Tags           []APITag  `json:"tags"`
	Outcomes       string    `json:"outcomes"`      // JSON-encoded: e.g. "[\"Yes\",\"No\"]"
	OutcomePrices  string    `json:"outcomePrices"` // JSON-encoded: e.g. "[\"0.5\",\"0.5\"]"
	Volume         flexFloat `json:"volume"`
	Volume24hr     flexFloat `json:"volume24hr"`
	Liquidity      flexFloat `json:"liquidity"`
	Image          string    `json:"image"`
	ResolutionData string    `json:"umaResolutionStatus"`
	StartDate      string    `json:"startDate"`
	EndDate        string    `json:"endDate"`
	CreatedAt      string    `json:"createdAt"`
}

// HasResolution reports whether the market has been settled upstream.
func (m *APIMarket) HasResolution() bool {
	return m.Closed && strings.EqualFold(m.ResolutionData, "resolved")
}

// Normalize converts a Gamma APIMarket to the canonical domain.Market. The
// system id is left empty; the diff engine assigns or reuses it.
func (m *APIMarket) Normalize() domain.Market {
	yes, no := m.prices()

	out := domain.Market{
		Source:      domain.SourcePolymarket,
		SourceID:    m.ID,
		Title:       m.Question,
		Description: m.Description,
		Category:    m.Category,
		YesPrice:    yes,
		NoPrice:     no,
		Volume:      float64(m.Volume),
		Volume24h:   float64(m.Volume24hr),
		Liquidity:   float64(m.Liquidity),
		Status:      m.status(),
		URL:         "https://polymarket.com/market/" + m.Slug,
		ImageURL:    m.Image,
	}

	for _, t := range m.Tags {
		if t.Label != "" {
			out.Tags = append(out.Tags, t.Label)
		}
	}

	if m.HasResolution() {
		if yes >= 0.5 {
			out.Result = "yes"
		} else {
			out.Result = "no"
		}
	}

	if t, err := time.Parse(time.RFC3339, m.CreatedAt); err == nil {
		out.CreatedAt = t
	}
	if t, err := time.Parse(time.RFC3339, m.StartDate); err == nil {
		out.OpenAt = &t
	}
	if t, err := time.Parse(time.RFC3339, m.EndDate); err == nil {
		out.CloseAt = &t
	}

	out.ContentHash = domain.ComputeContentHash(out.Title, out.Description, out.Rules)
	return out
}

// prices parses the JSON-encoded outcome price array. Binary markets list
// the Yes price first.
func (m *APIMarket) prices() (yes, no float64) {
	var raw []string
	if err := json.Unmarshal([]byte(m.OutcomePrices), &raw); err != nil || len(raw) == 0 {
		return 0, 0
	}
	yes, _ = strconv.ParseFloat(raw[0], 64)
	if len(raw) > 1 {
		no, _ = strconv.ParseFloat(raw[1], 64)
	} else {
		no = 1 - yes
	}
	return yes, no
}

func (m *APIMarket) status() domain.MarketStatus {
	switch {
	case m.HasResolution():
		return domain.MarketStatusSettled
	case m.Closed:
		return domain.MarketStatusClosed
	default:
		return domain.MarketStatusOpen
	}
}

// sportsCategories are Gamma categories excluded when the sports filter is on.
var sportsCategories = map[string]bool{
	"sports": true,
	"nba":    true,
	"nfl":    true,
	"mlb":    true,
	"nhl":    true,
	"soccer": true,
	"epl":    true,
	"ufc":    true,
	"tennis": true,
	"golf":   true,
}

// isSports reports whether a market should be dropped by the sports filter,
// checking the category first and tag labels second.
func isSports(m APIMarket) bool {
	if sportsCategories[strings.ToLower(m.Category)] {
		return true
	}
	for _, t := range m.Tags {
		if sportsCategories[strings.ToLower(t.Label)] || sportsCategories[strings.ToLower(t.Slug)] {
			return true
		}
	}
	return false
}

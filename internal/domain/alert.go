package domain

import "time"

// AlertType identifies what condition an alert watches for.
type AlertType string

const (
	AlertPriceMove   AlertType = "price_move"
	AlertClosingSoon AlertType = "closing_soon"
)

// AlertCooldown is the minimum gap between two events for the same alert,
// shared by both alert types.
const AlertCooldown = 30 * time.Minute

// Alert is a standing user subscription on one market. Threshold is the
// fractional price change for price_move alerts; WindowMinutes is the
// lead time for closing_soon alerts.
type Alert struct {
	ID              string     `json:"id"`
	WatchlistID     string     `json:"watchlist_id,omitempty"`
	MarketID        string     `json:"market_id"`
	Type            AlertType  `json:"type"`
	Threshold       float64    `json:"threshold,omitempty"`
	WindowMinutes   int        `json:"window_minutes,omitempty"`
	Enabled         bool       `json:"enabled"`
	LastTriggeredAt *time.Time `json:"last_triggered_at,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
}

// AlertEventPayload carries the observed values that triggered an event.
type AlertEventPayload struct {
	PrevYesPrice float64    `json:"prev_yes_price,omitempty"`
	NewYesPrice  float64    `json:"new_yes_price,omitempty"`
	Change       float64    `json:"change,omitempty"`
	CloseAt      *time.Time `json:"close_at,omitempty"`
	Title        string     `json:"title,omitempty"`
}

// AlertEvent is one user-visible firing of an alert. The evaluator guarantees
// at most one event per alert per cooldown window.
type AlertEvent struct {
	ID          string            `json:"id"`
	AlertID     string            `json:"alert_id"`
	MarketID    string            `json:"market_id"`
	TriggeredAt time.Time         `json:"triggered_at"`
	Payload     AlertEventPayload `json:"payload"`
}

package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/0xqtpie/pm-indexer/internal/domain"
)

// AlertStore implements domain.AlertStore using PostgreSQL.
type AlertStore struct {
	pool *pgxpool.Pool
}

var _ domain.AlertStore = (*AlertStore)(nil)

func NewAlertStore(pool *pgxpool.Pool) *AlertStore {
	return &AlertStore{pool: pool}
}

const alertCols = `id, watchlist_id, market_id, type, threshold, window_minutes,
	enabled, last_triggered_at, created_at`

// Create inserts a new alert subscription.
func (s *AlertStore) Create(ctx context.Context, alert domain.Alert) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO alerts (id, watchlist_id, market_id, type, threshold, window_minutes, enabled, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, NOW())`,
		alert.ID, alert.WatchlistID, alert.MarketID, string(alert.Type),
		alert.Threshold, alert.WindowMinutes, alert.Enabled)
	if err != nil {
		return fmt.Errorf("postgres: create alert %s: %w", alert.ID, err)
	}
	return nil
}

// GetByID retrieves an alert by its primary key.
func (s *AlertStore) GetByID(ctx context.Context, id string) (domain.Alert, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+alertCols+` FROM alerts WHERE id = $1`, id)
	alert, err := scanAlert(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Alert{}, domain.ErrNotFound
		}
		return domain.Alert{}, fmt.Errorf("postgres: get alert %s: %w", id, err)
	}
	return alert, nil
}

// ListEnabledByMarkets returns every enabled alert watching one of the given
// markets.
func (s *AlertStore) ListEnabledByMarkets(ctx context.Context, marketIDs []string) ([]domain.Alert, error) {
	if len(marketIDs) == 0 {
		return nil, nil
	}
	rows, err := s.pool.Query(ctx,
		`SELECT `+alertCols+` FROM alerts
		 WHERE enabled AND market_id = ANY($1)`, marketIDs)
	if err != nil {
		return nil, fmt.Errorf("postgres: list enabled alerts: %w", err)
	}
	defer rows.Close()

	var alerts []domain.Alert
	for rows.Next() {
		alert, err := scanAlert(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan alert: %w", err)
		}
		alerts = append(alerts, alert)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: alert rows: %w", err)
	}
	return alerts, nil
}

// StampTriggered records the moment an alert last fired. The cooldown check
// reads this column.
func (s *AlertStore) StampTriggered(ctx context.Context, alertID string, at time.Time) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE alerts SET last_triggered_at = $2 WHERE id = $1`, alertID, at)
	if err != nil {
		return fmt.Errorf("postgres: stamp alert %s: %w", alertID, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// InsertEvent records one user-visible alert firing.
func (s *AlertStore) InsertEvent(ctx context.Context, ev domain.AlertEvent) error {
	payload, err := json.Marshal(ev.Payload)
	if err != nil {
		return fmt.Errorf("postgres: encode alert event payload: %w", err)
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO alert_events (id, alert_id, market_id, triggered_at, payload)
		 VALUES ($1, $2, $3, $4, $5)`,
		ev.ID, ev.AlertID, ev.MarketID, ev.TriggeredAt, payload)
	if err != nil {
		return fmt.Errorf("postgres: insert alert event %s: %w", ev.ID, err)
	}
	return nil
}

// ListEvents returns an alert's firing history, newest first.
func (s *AlertStore) ListEvents(ctx context.Context, alertID string, limit int) ([]domain.AlertEvent, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx,
		`SELECT id, alert_id, market_id, triggered_at, payload FROM alert_events
		 WHERE alert_id = $1
		 ORDER BY triggered_at DESC
		 LIMIT $2`,
		alertID, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: list alert events: %w", err)
	}
	defer rows.Close()

	var events []domain.AlertEvent
	for rows.Next() {
		var ev domain.AlertEvent
		var payload []byte
		if err := rows.Scan(&ev.ID, &ev.AlertID, &ev.MarketID, &ev.TriggeredAt, &payload); err != nil {
			return nil, fmt.Errorf("postgres: scan alert event: %w", err)
		}
		if len(payload) > 0 {
			if err := json.Unmarshal(payload, &ev.Payload); err != nil {
				return nil, fmt.Errorf("postgres: decode alert event payload: %w", err)
			}
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: alert event rows: %w", err)
	}
	return events, nil
}

func scanAlert(row pgx.Row) (domain.Alert, error) {
	var alert domain.Alert
	var typ string
	err := row.Scan(
		&alert.ID, &alert.WatchlistID, &alert.MarketID, &typ, &alert.Threshold,
		&alert.WindowMinutes, &alert.Enabled, &alert.LastTriggeredAt, &alert.CreatedAt,
	)
	if err != nil {
		return domain.Alert{}, err
	}
	alert.Type = domain.AlertType(typ)
	return alert, nil
}

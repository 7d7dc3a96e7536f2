// Package alerts evaluates standing alert subscriptions against the price
// movement observed during a sync pass.
package alerts

import (
	"context"
	"log/slog"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/0xqtpie/pm-indexer/internal/domain"
)

// priceFloor keeps the relative-change calculation from exploding when the
// previous price is at or near zero.
const priceFloor = 0.01

// EventSink receives alert events as they fire. Implementations must not
// block; slow delivery belongs behind a buffer.
type EventSink interface {
	AlertTriggered(ctx context.Context, alert domain.Alert, ev domain.AlertEvent)
}

// Evaluator checks enabled alerts against a sync pass. Evaluation is
// two-phase: Prepare reads previous prices before the pass commits, Fire
// runs after commit so events never describe writes that rolled back.
type Evaluator struct {
	store   domain.AlertStore
	markets domain.MarketStore
	sinks   []EventSink
	logger  *slog.Logger
	now     func() time.Time
}

// NewEvaluator creates an Evaluator delivering events to the given sinks.
func NewEvaluator(store domain.AlertStore, markets domain.MarketStore, logger *slog.Logger, sinks ...EventSink) *Evaluator {
	return &Evaluator{
		store:   store,
		markets: markets,
		sinks:   sinks,
		logger:  logger.With(slog.String("component", "alerts")),
		now:     time.Now,
	}
}

// PassEval carries the pre-commit state an evaluation needs: the enabled
// alerts watching the updated markets and their prices before the pass.
type PassEval struct {
	eval       *Evaluator
	alerts     []domain.Alert
	prevPrices map[string]float64
	updates    map[string]domain.Market
}

// Prepare snapshots previous prices for every updated market that has an
// enabled alert. Call before the sync batch commits.
func (e *Evaluator) Prepare(ctx context.Context, updates []domain.Market) (*PassEval, error) {
	if e == nil || len(updates) == 0 {
		return &PassEval{eval: e}, nil
	}

	byID := make(map[string]domain.Market, len(updates))
	ids := make([]string, 0, len(updates))
	for _, m := range updates {
		byID[m.ID] = m
		ids = append(ids, m.ID)
	}

	watching, err := e.store.ListEnabledByMarkets(ctx, ids)
	if err != nil {
		return nil, err
	}
	if len(watching) == 0 {
		return &PassEval{eval: e}, nil
	}

	alertedIDs := make([]string, 0, len(watching))
	seen := make(map[string]bool, len(watching))
	for _, a := range watching {
		if !seen[a.MarketID] {
			seen[a.MarketID] = true
			alertedIDs = append(alertedIDs, a.MarketID)
		}
	}
	prev, err := e.markets.GetByIDs(ctx, alertedIDs)
	if err != nil {
		return nil, err
	}
	prevPrices := make(map[string]float64, len(prev))
	for _, m := range prev {
		prevPrices[m.ID] = m.YesPrice
	}

	return &PassEval{
		eval:       e,
		alerts:     watching,
		prevPrices: prevPrices,
		updates:    byID,
	}, nil
}

// Fire evaluates the prepared alerts and emits at most one event per alert
// per cooldown window. Call after the sync batch commits. Delivery failures
// are logged, never propagated; a broken sink must not fail a sync.
func (p *PassEval) Fire(ctx context.Context) {
	if p == nil || p.eval == nil || len(p.alerts) == 0 {
		return
	}
	e := p.eval
	now := e.now()

	for _, alert := range p.alerts {
		market, ok := p.updates[alert.MarketID]
		if !ok {
			continue
		}
		if alert.LastTriggeredAt != nil && now.Sub(*alert.LastTriggeredAt) < domain.AlertCooldown {
			continue
		}

		payload, fired := evaluate(alert, market, p.prevPrices[alert.MarketID], now)
		if !fired {
			continue
		}
		payload.Title = market.Title

		ev := domain.AlertEvent{
			ID:          uuid.New().String(),
			AlertID:     alert.ID,
			MarketID:    alert.MarketID,
			TriggeredAt: now,
			Payload:     payload,
		}
		if err := e.store.InsertEvent(ctx, ev); err != nil {
			e.logger.Error("insert alert event", slog.String("alert_id", alert.ID), slog.String("error", err.Error()))
			continue
		}
		if err := e.store.StampTriggered(ctx, alert.ID, now); err != nil {
			e.logger.Error("stamp alert", slog.String("alert_id", alert.ID), slog.String("error", err.Error()))
		}
		for _, sink := range e.sinks {
			sink.AlertTriggered(ctx, alert, ev)
		}
		e.logger.Info("alert fired",
			slog.String("alert_id", alert.ID),
			slog.String("market_id", alert.MarketID),
			slog.String("type", string(alert.Type)))
	}
}

// evaluate decides whether one alert fires for one updated market.
func evaluate(alert domain.Alert, market domain.Market, prevPrice float64, now time.Time) (domain.AlertEventPayload, bool) {
	switch alert.Type {
	case domain.AlertPriceMove:
		change := math.Abs(market.YesPrice-prevPrice) / math.Max(prevPrice, priceFloor)
		if change < alert.Threshold {
			return domain.AlertEventPayload{}, false
		}
		return domain.AlertEventPayload{
			PrevYesPrice: prevPrice,
			NewYesPrice:  market.YesPrice,
			Change:       change,
		}, true

	case domain.AlertClosingSoon:
		if market.CloseAt == nil || market.Status != domain.MarketStatusOpen {
			return domain.AlertEventPayload{}, false
		}
		window := time.Duration(alert.WindowMinutes) * time.Minute
		until := market.CloseAt.Sub(now)
		if until < 0 || until > window {
			return domain.AlertEventPayload{}, false
		}
		return domain.AlertEventPayload{CloseAt: market.CloseAt}, true
	}
	return domain.AlertEventPayload{}, false
}

package notify

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/0xqtpie/pm-indexer/internal/domain"
)

// Event type strings used for notification filtering.
const (
	EventAlertPriceMove   = "alert.price_move"
	EventAlertClosingSoon = "alert.closing_soon"
	EventSyncFailed       = "sync.failed"
)

// AlertSink adapts a Notifier to the alert evaluator's sink interface, so
// fired alerts reach the configured channels.
type AlertSink struct {
	notifier *Notifier
}

// NewAlertSink creates an AlertSink delivering through n.
func NewAlertSink(n *Notifier) *AlertSink {
	return &AlertSink{notifier: n}
}

// AlertTriggered formats and dispatches one alert event. Delivery errors are
// already logged per sender inside the Notifier.
func (s *AlertSink) AlertTriggered(ctx context.Context, alert domain.Alert, ev domain.AlertEvent) {
	var event, title, message string

	switch alert.Type {
	case domain.AlertPriceMove:
		event = EventAlertPriceMove
		title = "Price move: " + ev.Payload.Title
		message = fmt.Sprintf("YES %.2f -> %.2f (%.1f%% change, threshold %.1f%%)",
			ev.Payload.PrevYesPrice, ev.Payload.NewYesPrice,
			ev.Payload.Change*100, alert.Threshold*100)
	case domain.AlertClosingSoon:
		event = EventAlertClosingSoon
		title = "Closing soon: " + ev.Payload.Title
		if ev.Payload.CloseAt != nil {
			message = "Market closes at " + ev.Payload.CloseAt.UTC().Format(time.RFC3339)
		}
	default:
		return
	}

	_ = s.notifier.Notify(ctx, event, title, message)
}

// SyncFailed reports a failed or partial sync run through the notifier.
func SyncFailed(ctx context.Context, n *Notifier, run domain.SyncRun) {
	if n == nil {
		return
	}
	title := fmt.Sprintf("Sync %s: %s", run.Type, run.Status)
	message := fmt.Sprintf("run %s finished in %dms", run.ID, run.DurationMs)
	if len(run.Errors) > 0 {
		message += "\n" + strings.Join(run.Errors, "\n")
	}
	_ = n.Notify(ctx, EventSyncFailed, title, message)
}

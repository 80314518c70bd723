// Package notify delivers engine events to external sinks without blocking the cycle.
package notify

import (
	"fmt"
	"strings"
	"time"

	"github.com/eddiefleurent/spread_engine/internal/models"
)

// EventType names a notification.
type EventType string

const (
	EventTradeOpened       EventType = "trade_opened"
	EventTradeClosed       EventType = "trade_closed"
	EventRegimeChanged     EventType = "regime_changed"
	EventDailySummary      EventType = "daily_summary"
	EventOrderRejected     EventType = "order_rejected"
	EventReconcileMismatch EventType = "reconcile_mismatch"
	EventStartup           EventType = "startup"
	EventShutdown          EventType = "shutdown"
)

var knownEvents = map[EventType]bool{
	EventTradeOpened:       true,
	EventTradeClosed:       true,
	EventRegimeChanged:     true,
	EventDailySummary:      true,
	EventOrderRejected:     true,
	EventReconcileMismatch: true,
	EventStartup:           true,
	EventShutdown:          true,
}

// ParseEventTypes validates configured event names.
func ParseEventTypes(names []string) ([]EventType, error) {
	out := make([]EventType, 0, len(names))
	for _, n := range names {
		t := EventType(strings.TrimSpace(strings.ToLower(n)))
		if !knownEvents[t] {
			return nil, fmt.Errorf("unknown notification event %q", n)
		}
		out = append(out, t)
	}
	return out, nil
}

// Event is one notification. Data holds machine-readable fields for structured sinks.
type Event struct {
	Time    time.Time              `json:"time"`
	Data    map[string]interface{} `json:"data,omitempty"`
	Type    EventType              `json:"type"`
	Message string                 `json:"message"`
}

// TradeOpened reports a confirmed entry fill.
func TradeOpened(p models.Position, at time.Time) Event {
	return Event{
		Type: EventTradeOpened,
		Time: at,
		Message: fmt.Sprintf("Opened %s %s x%d exp %s for $%.2f credit",
			p.Underlying, p.Strategy, p.Quantity, p.Expiration.Format("2006-01-02"), p.EntryCredit),
		Data: map[string]interface{}{
			"position_id": p.ID,
			"underlying":  p.Underlying,
			"strategy":    p.Strategy.String(),
			"quantity":    p.Quantity,
			"credit":      p.EntryCredit,
			"max_loss":    p.MaxLoss(),
		},
	}
}

// TradeClosed reports a confirmed close fill.
func TradeClosed(p models.Position, at time.Time) Event {
	return Event{
		Type: EventTradeClosed,
		Time: at,
		Message: fmt.Sprintf("Closed %s %s x%d (%s): P&L $%.2f",
			p.Underlying, p.Strategy, p.Quantity, p.ExitCause, p.RealizedPnL),
		Data: map[string]interface{}{
			"position_id":  p.ID,
			"underlying":   p.Underlying,
			"strategy":     p.Strategy.String(),
			"exit_cause":   p.ExitCause,
			"close_debit":  p.CloseDebit,
			"realized_pnl": p.RealizedPnL,
		},
	}
}

// OrderRejected reports a refused entry.
func OrderRejected(p models.Position, at time.Time) Event {
	return Event{
		Type:    EventOrderRejected,
		Time:    at,
		Message: fmt.Sprintf("Entry for %s %s rejected: %s", p.Underlying, p.Strategy, p.RejectReason),
		Data: map[string]interface{}{
			"position_id": p.ID,
			"underlying":  p.Underlying,
			"reason":      p.RejectReason,
		},
	}
}

// RegimeChanged reports a new regime classification for an underlying.
func RegimeChanged(underlying string, from, to models.Regime, at time.Time) Event {
	return Event{
		Type:    EventRegimeChanged,
		Time:    at,
		Message: fmt.Sprintf("%s regime %s -> %s", underlying, from, to),
		Data: map[string]interface{}{
			"underlying": underlying,
			"from":       from.String(),
			"to":         to.String(),
		},
	}
}

// DailySummary reports the end-of-day ledger state.
func DailySummary(date string, open int, realizedPnL float64, at time.Time) Event {
	return Event{
		Type:    EventDailySummary,
		Time:    at,
		Message: fmt.Sprintf("Summary %s: %d open, realized P&L $%.2f", date, open, realizedPnL),
		Data: map[string]interface{}{
			"date":         date,
			"open":         open,
			"realized_pnl": realizedPnL,
		},
	}
}

// ReconcileMismatch reports ledger and broker disagreement.
func ReconcileMismatch(details []string, at time.Time) Event {
	return Event{
		Type:    EventReconcileMismatch,
		Time:    at,
		Message: "Reconciliation mismatch, entries blocked: " + strings.Join(details, "; "),
		Data: map[string]interface{}{
			"details": details,
		},
	}
}

// Lifecycle reports process startup or shutdown.
func Lifecycle(t EventType, message string, at time.Time) Event {
	return Event{Type: t, Time: at, Message: message}
}

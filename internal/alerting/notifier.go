package alerting

import (
	"context"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/tathienbao/short-averager/internal/types"
)

// ParseSeverity parses a configured severity name. Empty means info.
func ParseSeverity(s string) (Severity, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "info":
		return SeverityInfo, nil
	case "warning", "warn":
		return SeverityWarning, nil
	case "high":
		return SeverityHigh, nil
	case "critical":
		return SeverityCritical, nil
	default:
		return SeverityInfo, fmt.Errorf("unknown severity %q", s)
	}
}

// EventNotifier publishes position events as alerts. It satisfies the
// engine's event sink.
type EventNotifier struct {
	alerter     Alerter
	minSeverity Severity
}

// NewEventNotifier creates a notifier that forwards events at or above
// minSeverity to alerter.
func NewEventNotifier(alerter Alerter, minSeverity Severity) *EventNotifier {
	return &EventNotifier{alerter: alerter, minSeverity: minSeverity}
}

// Publish formats ev and sends it.
func (n *EventNotifier) Publish(ctx context.Context, ev types.Event) error {
	severity := EventSeverity(ev.Kind)
	if severity < n.minSeverity {
		return nil
	}
	message, fields := FormatEvent(ev)
	if err := n.alerter.Alert(ctx, severity, message, fields...); err != nil {
		return fmt.Errorf("alert %s %s: %w", ev.Symbol, ev.Kind, err)
	}
	return nil
}

// FormatEvent renders the headline and key/value details for ev.
func FormatEvent(ev types.Event) (string, []any) {
	fields := []any{"symbol", ev.Symbol}
	add := func(kv ...any) { fields = append(fields, kv...) }

	switch ev.Kind {
	case types.EventPositionOpened:
		add("quantity", ev.Quantity, "entry_price", ev.EntryPrice,
			"take_profit", ev.TakeProfit, "usdt_amount", ev.UsdtAmount.StringFixed(2))
		return "Short position opened", fields

	case types.EventAveragingOrderPlaced:
		add("price", ev.Price, "quantity", ev.Quantity, "order_id", ev.OrderID)
		return "Averaging order placed", fields

	case types.EventAveragingExecuted:
		add("averaged_price", ev.AveragedPrice, "total_quantity", ev.Quantity,
			"take_profit", ev.TakeProfit, "stop_loss", ev.StopLoss)
		return "Averaging executed", fields

	case types.EventTakeProfitReached:
		add("price", ev.Price, "profit", percent(ev.ProfitPercent), "breakeven", ev.Breakeven)
		return "Take profit reached", fields

	case types.EventBreakevenMoved:
		add("breakeven", ev.Breakeven, "profit", percent(ev.ProfitPercent))
		if ev.Message != "" {
			add("level", ev.Message)
		}
		return "Breakeven moved", fields

	case types.EventStopLossTriggered:
		add("price", ev.Price, "stop_loss", ev.StopLoss)
		return "Stop loss triggered, closing position", fields

	case types.EventPositionClosed:
		averaged := "no"
		if ev.WasAveraged {
			averaged = "yes"
		}
		add("reason", ev.Reason, "entry_price", ev.EntryPrice, "close_price", ev.ClosePrice,
			"quantity", ev.Quantity, "averaged", averaged,
			"pnl", percent(ev.PnLPercent), "pnl_usdt", signed(ev.PnLUsdt))
		if ev.PnLUsdt.IsNegative() {
			return "Position closed at a loss", fields
		}
		return "Position closed in profit", fields

	case types.EventStrategyError:
		add("error", ev.Message)
		return "Strategy error", fields

	case types.EventQuantityAdjusted:
		add("detail", ev.Message)
		return "Quantity raised to the exchange minimum", fields

	case types.EventManualCloseDetected:
		add("last_price", ev.Price, "quantity", ev.Quantity)
		return "Position closed outside the bot", fields

	case types.EventMonitoringStopped:
		add("detail", ev.Message)
		return "Monitoring stopped", fields

	default:
		return ev.Kind.String(), fields
	}
}

func percent(v decimal.Decimal) string {
	return signed(v) + "%"
}

func signed(v decimal.Decimal) string {
	s := v.StringFixed(2)
	if v.IsPositive() {
		return "+" + s
	}
	return s
}

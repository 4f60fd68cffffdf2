package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// EventKind identifies a domain event emitted by a position engine.
type EventKind int

const (
	EventPositionOpened EventKind = iota + 1
	EventAveragingOrderPlaced
	EventAveragingExecuted
	EventTakeProfitReached
	EventBreakevenMoved
	EventStopLossTriggered
	EventPositionClosed
	EventStrategyError
	EventQuantityAdjusted
	EventManualCloseDetected
	EventMonitoringStopped
)

func (k EventKind) String() string {
	switch k {
	case EventPositionOpened:
		return "position_opened"
	case EventAveragingOrderPlaced:
		return "averaging_order_placed"
	case EventAveragingExecuted:
		return "averaging_executed"
	case EventTakeProfitReached:
		return "take_profit_reached"
	case EventBreakevenMoved:
		return "breakeven_moved"
	case EventStopLossTriggered:
		return "stop_loss_triggered"
	case EventPositionClosed:
		return "position_closed"
	case EventStrategyError:
		return "strategy_error"
	case EventQuantityAdjusted:
		return "quantity_adjusted"
	case EventManualCloseDetected:
		return "manual_close_detected"
	case EventMonitoringStopped:
		return "monitoring_stopped"
	default:
		return "unknown"
	}
}

// Event is a domain event. Only the fields relevant to Kind are set.
type Event struct {
	Kind       EventKind
	Time       time.Time
	Symbol     string
	PositionID string

	Price         decimal.Decimal // tick or order price the event refers to
	Quantity      decimal.Decimal
	EntryPrice    decimal.Decimal
	AveragedPrice decimal.Decimal
	TakeProfit    decimal.Decimal
	Breakeven     decimal.Decimal
	StopLoss      decimal.Decimal
	ProfitPercent decimal.Decimal
	OrderID       string

	// PositionClosed
	ClosePrice  decimal.Decimal
	PnLPercent  decimal.Decimal
	PnLUsdt     decimal.Decimal
	WasAveraged bool
	Reason      CloseReason
	UsdtAmount  decimal.Decimal
	OpenedAt    time.Time

	// StrategyError, QuantityAdjusted
	Message string
}

// Trade builds the completed trade record for a PositionClosed event.
func (e Event) Trade() CompletedTrade {
	return CompletedTrade{
		ID:          e.PositionID,
		Symbol:      e.Symbol,
		Side:        SideShort,
		Quantity:    e.Quantity,
		EntryPrice:  e.EntryPrice,
		ClosePrice:  e.ClosePrice,
		PnLPercent:  e.PnLPercent,
		PnLUsdt:     e.PnLUsdt,
		WasAveraged: e.WasAveraged,
		Reason:      e.Reason,
		UsdtAmount:  e.UsdtAmount,
		OpenedAt:    e.OpenedAt,
		ClosedAt:    e.Time,
	}
}

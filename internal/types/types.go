// Package types defines shared types used across the trading system.
package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// Side represents the direction of a trade.
type Side int

const (
	SideFlat Side = iota
	SideLong
	SideShort
)

func (s Side) String() string {
	switch s {
	case SideLong:
		return "LONG"
	case SideShort:
		return "SHORT"
	default:
		return "FLAT"
	}
}

// Opposite returns the opposite side.
func (s Side) Opposite() Side {
	switch s {
	case SideLong:
		return SideShort
	case SideShort:
		return SideLong
	default:
		return SideFlat
	}
}

// OrderSide returns the exchange order side that opens a position in this direction.
func (s Side) OrderSide() string {
	switch s {
	case SideLong:
		return "Buy"
	case SideShort:
		return "Sell"
	default:
		return ""
	}
}

// PositionStatus is the lifecycle state of a managed position.
type PositionStatus int

const (
	StatusIdle PositionStatus = iota
	StatusOpeningPosition
	StatusAveragingPending
	StatusAveraged
	StatusClosing
	StatusClosed
	StatusFailed
)

func (s PositionStatus) String() string {
	switch s {
	case StatusIdle:
		return "IDLE"
	case StatusOpeningPosition:
		return "OPENING_POSITION"
	case StatusAveragingPending:
		return "AVERAGING_PENDING"
	case StatusAveraged:
		return "AVERAGED"
	case StatusClosing:
		return "CLOSING"
	case StatusClosed:
		return "CLOSED"
	case StatusFailed:
		return "FAILED"
	default:
		return "UNKNOWN"
	}
}

// IsTerminal returns true for states that accept no further ticks.
func (s PositionStatus) IsTerminal() bool {
	return s == StatusClosed || s == StatusFailed
}

// IsOpen returns true while the exchange is expected to hold the position.
func (s PositionStatus) IsOpen() bool {
	return s == StatusAveragingPending || s == StatusAveraged
}

// CloseReason records why a position was closed.
type CloseReason int

const (
	CloseReasonNone CloseReason = iota
	CloseReasonStop
	CloseReasonBreakeven
	CloseReasonStopLoss
)

func (r CloseReason) String() string {
	switch r {
	case CloseReasonStop:
		return "STOP"
	case CloseReasonBreakeven:
		return "BREAKEVEN"
	case CloseReasonStopLoss:
		return "STOP_LOSS"
	default:
		return "NONE"
	}
}

// ParseCloseReason converts a stored reason string back to a CloseReason.
func ParseCloseReason(s string) CloseReason {
	switch s {
	case "STOP":
		return CloseReasonStop
	case "BREAKEVEN":
		return CloseReasonBreakeven
	case "STOP_LOSS":
		return CloseReasonStopLoss
	default:
		return CloseReasonNone
	}
}

// Tick is a single last-trade price update for one symbol.
type Tick struct {
	Symbol string
	Price  decimal.Decimal
	Time   time.Time
}

// InstrumentRules holds the exchange rounding rules for one symbol.
type InstrumentRules struct {
	Symbol       string
	QtyStep      decimal.Decimal
	QtyPrecision int32
	MinQty       decimal.Decimal
	MaxQty       decimal.Decimal
	PriceTick    decimal.Decimal
	Fallback     bool // true when the exchange could not supply the rules
}

// Fallback rounding rules used when the exchange cannot be queried.
var (
	FallbackQtyStep      = decimal.RequireFromString("0.001")
	FallbackQtyPrecision = int32(3)
	FallbackMinQty       = decimal.RequireFromString("0.001")
	FallbackMaxQty       = decimal.NewFromInt(1_000_000)
	FallbackPriceTick    = decimal.RequireFromString("0.01")
)

// FallbackRules returns conservative rules for a symbol.
func FallbackRules(symbol string) InstrumentRules {
	return InstrumentRules{
		Symbol:       symbol,
		QtyStep:      FallbackQtyStep,
		QtyPrecision: FallbackQtyPrecision,
		MinQty:       FallbackMinQty,
		MaxQty:       FallbackMaxQty,
		PriceTick:    FallbackPriceTick,
		Fallback:     true,
	}
}

// PositionSnapshot is a read-only copy of a managed position.
type PositionSnapshot struct {
	ID                string
	Symbol            string
	Side              Side
	Status            PositionStatus
	Quantity          decimal.Decimal
	EntryPrice        decimal.Decimal
	AveragedPrice     *decimal.Decimal
	IsAveraged        bool
	RestingOrderID    string
	TakeProfitPrice   decimal.Decimal
	BreakevenPrice    *decimal.Decimal
	BestProfitPercent decimal.Decimal
	StopLossPrice     *decimal.Decimal
	OpenAttempts      int
	MaxOpenAttempts   int
	LastError         string
	CloseReason       CloseReason
	LastPrice         decimal.Decimal
	UsdtAmount        decimal.Decimal
	OpenedAt          time.Time
	UpdatedAt         time.Time
}

// BasePrice returns the price profit is measured against.
func (p PositionSnapshot) BasePrice() decimal.Decimal {
	if p.IsAveraged && p.AveragedPrice != nil {
		return *p.AveragedPrice
	}
	return p.EntryPrice
}

// CompletedTrade is the audit record of a closed position.
type CompletedTrade struct {
	ID          string
	Symbol      string
	Side        Side
	Quantity    decimal.Decimal
	EntryPrice  decimal.Decimal
	ClosePrice  decimal.Decimal
	PnLPercent  decimal.Decimal
	PnLUsdt     decimal.Decimal
	WasAveraged bool
	Reason      CloseReason
	UsdtAmount  decimal.Decimal
	OpenedAt    time.Time
	ClosedAt    time.Time
}

// IsWin returns true if the trade closed in profit.
func (t CompletedTrade) IsWin() bool {
	return t.PnLUsdt.IsPositive()
}

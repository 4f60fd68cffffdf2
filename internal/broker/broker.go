// Package broker defines the order gateway used to trade on the exchange.
package broker

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
	"github.com/tathienbao/short-averager/internal/types"
)

// Common gateway errors.
var (
	ErrNotConnected = errors.New("gateway not connected")
	ErrNoPrice      = errors.New("no price available for symbol")
)

// ConnectionState represents a streaming connection state.
type ConnectionState int

const (
	StateDisconnected ConnectionState = iota
	StateConnecting
	StateConnected
	StateError
)

func (s ConnectionState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

// Gateway defines stateless operations against the exchange.
// Each call is one round-trip and may fail transiently; retry belongs to the caller.
type Gateway interface {
	// Order execution. reduceOnly market orders can only shrink a position.
	PlaceMarketOrder(ctx context.Context, symbol string, side types.Side, qty decimal.Decimal, reduceOnly bool) (*OrderResult, error)
	PlaceLimitOrder(ctx context.Context, symbol string, side types.Side, qty, price decimal.Decimal) (string, error)
	// CancelOrder treats an unknown order as already cancelled.
	CancelOrder(ctx context.Context, symbol, orderID string) error
	GetOpenOrders(ctx context.Context, symbol string) ([]Order, error)

	// IsOrderFilled reports a fill only when the order has left the book and its
	// history status is Filled. Any ambiguity, including errors, reports false.
	IsOrderFilled(ctx context.Context, symbol, orderID string) (bool, error)

	// Position management
	GetPositionSize(ctx context.Context, symbol string) (decimal.Decimal, error)
	// GetPositionAvgPrice returns ok=false when the exchange reports no usable price.
	GetPositionAvgPrice(ctx context.Context, symbol string) (price decimal.Decimal, ok bool, err error)

	// Market data
	GetLastPrice(ctx context.Context, symbol string) (decimal.Decimal, error)
}

// Position represents an exchange position.
type Position struct {
	Symbol        string
	Side          types.Side
	Size          decimal.Decimal
	AvgPrice      decimal.Decimal
	MarkPrice     decimal.Decimal
	UnrealizedPnL decimal.Decimal
	UpdatedAt     time.Time
}

// Order represents an exchange order.
type Order struct {
	OrderID     string
	OrderLinkID string
	Symbol      string
	Side        types.Side
	Type        OrderType
	Qty         decimal.Decimal
	Price       decimal.Decimal
	Status      OrderStatus
	CumExecQty  decimal.Decimal
	AvgPrice    decimal.Decimal
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// OrderType represents the type of order.
type OrderType string

const (
	OrderTypeMarket OrderType = "Market"
	OrderTypeLimit  OrderType = "Limit"
)

// OrderStatus is the exchange order status string.
type OrderStatus string

const (
	OrderStatusNew             OrderStatus = "New"
	OrderStatusPartiallyFilled OrderStatus = "PartiallyFilled"
	OrderStatusFilled          OrderStatus = "Filled"
	OrderStatusCancelled       OrderStatus = "Cancelled"
	OrderStatusRejected        OrderStatus = "Rejected"
	OrderStatusDeactivated     OrderStatus = "Deactivated"
)

// IsFinal returns true if the order can no longer trade.
func (s OrderStatus) IsFinal() bool {
	switch s {
	case OrderStatusFilled, OrderStatusCancelled, OrderStatusRejected, OrderStatusDeactivated:
		return true
	default:
		return false
	}
}

// OrderResult represents the result of placing an order.
type OrderResult struct {
	OrderID     string
	OrderLinkID string
	Symbol      string
	Side        types.Side
	Qty         decimal.Decimal
	Status      OrderStatus
	AvgPrice    decimal.Decimal
	SubmittedAt time.Time
}

// SideFromExchange converts an exchange side string ("Buy"/"Sell").
// For positions a Sell side means a short.
func SideFromExchange(s string) types.Side {
	switch s {
	case "Buy":
		return types.SideLong
	case "Sell":
		return types.SideShort
	default:
		return types.SideFlat
	}
}

// OrderUpdate is a pushed order status change from a private stream.
type OrderUpdate struct {
	OrderID    string
	Symbol     string
	Status     OrderStatus
	AvgPrice   decimal.Decimal
	CumExecQty decimal.Decimal
	UpdatedAt  time.Time
}

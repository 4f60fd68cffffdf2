// Package paper provides a simulated gateway for paper trading and replays.
package paper

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"
	"github.com/tathienbao/short-averager/internal/broker"
	"github.com/tathienbao/short-averager/internal/types"
)

// Config holds paper trading configuration.
type Config struct {
	InitialBalance decimal.Decimal
	// SlippageTicks moves market fills against the taker.
	SlippageTicks int
	// FeeRate is charged on the notional of every fill.
	FeeRate decimal.Decimal
	// Rules are reported for every symbol.
	Rules types.InstrumentRules
}

// DefaultConfig returns default paper trading config.
func DefaultConfig() Config {
	rules := types.FallbackRules("")
	rules.Fallback = false
	return Config{
		InitialBalance: decimal.NewFromInt(10000),
		SlippageTicks:  0,
		FeeRate:        decimal.RequireFromString("0.00055"), // Bybit taker
		Rules:          rules,
	}
}

// Fill is one simulated execution.
type Fill struct {
	OrderID     string
	Symbol      string
	Side        types.Side
	Type        broker.OrderType
	Qty         decimal.Decimal
	Price       decimal.Decimal
	Fee         decimal.Decimal
	RealizedPnL decimal.Decimal
	Time        time.Time
}

// position is a signed net quantity; negative means short.
type position struct {
	net decimal.Decimal
	avg decimal.Decimal
}

// Gateway implements broker.Gateway against in-memory state. Orders fill
// synchronously so replays are deterministic.
type Gateway struct {
	cfg    Config
	logger *slog.Logger

	mu        sync.RWMutex
	prices    map[string]decimal.Decimal
	positions map[string]*position
	orders    map[string]*broker.Order
	fills     []Fill
	balance   decimal.Decimal
	realized  decimal.Decimal
	fees      decimal.Decimal
	now       time.Time
	nextID    atomic.Int64
}

// NewGateway creates a paper gateway.
func NewGateway(cfg Config, logger *slog.Logger) *Gateway {
	if logger == nil {
		logger = slog.Default()
	}
	return &Gateway{
		cfg:       cfg,
		logger:    logger,
		prices:    make(map[string]decimal.Decimal),
		positions: make(map[string]*position),
		orders:    make(map[string]*broker.Order),
		balance:   cfg.InitialBalance,
	}
}

// SetPrice updates the last price of symbol and fills crossed limit orders.
func (g *Gateway) SetPrice(symbol string, price decimal.Decimal, at time.Time) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.prices[symbol] = price
	if !at.IsZero() {
		g.now = at
	}
	g.matchLocked(symbol)
}

func (g *Gateway) clock() time.Time {
	if g.now.IsZero() {
		return time.Now()
	}
	return g.now
}

// matchLocked fills resting limits that the current price has crossed.
// Iteration is by order ID for determinism.
func (g *Gateway) matchLocked(symbol string) {
	price, ok := g.prices[symbol]
	if !ok {
		return
	}

	ids := make([]string, 0, len(g.orders))
	for id, o := range g.orders {
		if o.Symbol == symbol && o.Type == broker.OrderTypeLimit && !o.Status.IsFinal() {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)

	for _, id := range ids {
		o := g.orders[id]
		crossed := (o.Side == types.SideShort && price.GreaterThanOrEqual(o.Price)) ||
			(o.Side == types.SideLong && price.LessThanOrEqual(o.Price))
		if !crossed {
			continue
		}
		g.fillLocked(o, o.Price)
	}
}

func (g *Gateway) fillLocked(o *broker.Order, price decimal.Decimal) {
	now := g.clock()
	pnl := g.applyLocked(o.Symbol, o.Side, o.Qty, price)
	fee := o.Qty.Mul(price).Mul(g.cfg.FeeRate)

	g.balance = g.balance.Add(pnl).Sub(fee)
	g.realized = g.realized.Add(pnl)
	g.fees = g.fees.Add(fee)

	o.Status = broker.OrderStatusFilled
	o.CumExecQty = o.Qty
	o.AvgPrice = price
	o.UpdatedAt = now

	g.fills = append(g.fills, Fill{
		OrderID:     o.OrderID,
		Symbol:      o.Symbol,
		Side:        o.Side,
		Type:        o.Type,
		Qty:         o.Qty,
		Price:       price,
		Fee:         fee,
		RealizedPnL: pnl,
		Time:        now,
	})

	g.logger.Debug("paper order filled",
		"order_id", o.OrderID,
		"symbol", o.Symbol,
		"side", o.Side,
		"type", o.Type,
		"qty", o.Qty,
		"price", price,
		"pnl", pnl,
	)
}

// applyLocked updates the net position and returns the realized PnL.
func (g *Gateway) applyLocked(symbol string, side types.Side, qty, price decimal.Decimal) decimal.Decimal {
	signed := qty
	if side == types.SideShort {
		signed = qty.Neg()
	}

	pos, ok := g.positions[symbol]
	if !ok {
		pos = &position{}
		g.positions[symbol] = pos
	}

	// Opening or adding.
	if pos.net.IsZero() || pos.net.Sign() == signed.Sign() {
		size := pos.net.Abs()
		pos.avg = pos.avg.Mul(size).Add(price.Mul(qty)).Div(size.Add(qty))
		pos.net = pos.net.Add(signed)
		return decimal.Zero
	}

	// Reducing, closing or flipping.
	closed := decimal.Min(pos.net.Abs(), qty)
	pnl := price.Sub(pos.avg).Mul(closed)
	if pos.net.IsNegative() {
		pnl = pnl.Neg()
	}

	pos.net = pos.net.Add(signed)
	switch {
	case pos.net.IsZero():
		delete(g.positions, symbol)
	case pos.net.Sign() == signed.Sign():
		pos.avg = price
	}
	return pnl
}

func (g *Gateway) newOrderID() string {
	return fmt.Sprintf("PAPER-%d", g.nextID.Add(1))
}

// PlaceMarketOrder fills immediately at the last price plus slippage.
func (g *Gateway) PlaceMarketOrder(_ context.Context, symbol string, side types.Side, qty decimal.Decimal, reduceOnly bool) (*broker.OrderResult, error) {
	if !qty.IsPositive() {
		return nil, fmt.Errorf("%w: qty %s", types.ErrInvalidOrderSize, qty)
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	price, ok := g.prices[symbol]
	if !ok {
		return nil, fmt.Errorf("%s: %w", symbol, broker.ErrNoPrice)
	}

	if reduceOnly {
		pos, ok := g.positions[symbol]
		if !ok || pos.net.IsZero() || (side == types.SideLong) != pos.net.IsNegative() {
			return nil, fmt.Errorf("%w: reduce-only order would increase position", types.ErrOrderRejected)
		}
		qty = decimal.Min(qty, pos.net.Abs())
	}

	slip := g.cfg.Rules.PriceTick.Mul(decimal.NewFromInt(int64(g.cfg.SlippageTicks)))
	if side == types.SideLong {
		price = price.Add(slip)
	} else {
		price = price.Sub(slip)
	}

	now := g.clock()
	o := &broker.Order{
		OrderID:   g.newOrderID(),
		Symbol:    symbol,
		Side:      side,
		Type:      broker.OrderTypeMarket,
		Qty:       qty,
		Status:    broker.OrderStatusNew,
		CreatedAt: now,
	}
	g.orders[o.OrderID] = o
	g.fillLocked(o, price)

	return &broker.OrderResult{
		OrderID:     o.OrderID,
		Symbol:      symbol,
		Side:        side,
		Qty:         qty,
		Status:      o.Status,
		AvgPrice:    price,
		SubmittedAt: now,
	}, nil
}

// PlaceLimitOrder rests a limit order. A marketable order fills at once.
func (g *Gateway) PlaceLimitOrder(_ context.Context, symbol string, side types.Side, qty, price decimal.Decimal) (string, error) {
	if !qty.IsPositive() {
		return "", fmt.Errorf("%w: qty %s", types.ErrInvalidOrderSize, qty)
	}
	if !price.IsPositive() {
		return "", fmt.Errorf("%w: %s", types.ErrInvalidPrice, price)
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.clock()
	o := &broker.Order{
		OrderID:   g.newOrderID(),
		Symbol:    symbol,
		Side:      side,
		Type:      broker.OrderTypeLimit,
		Qty:       qty,
		Price:     price,
		Status:    broker.OrderStatusNew,
		CreatedAt: now,
		UpdatedAt: now,
	}
	g.orders[o.OrderID] = o
	g.matchLocked(symbol)

	return o.OrderID, nil
}

// CancelOrder cancels a resting order. Unknown or final orders are a no-op.
func (g *Gateway) CancelOrder(_ context.Context, _ string, orderID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	o, ok := g.orders[orderID]
	if !ok || o.Status.IsFinal() {
		return nil
	}
	o.Status = broker.OrderStatusCancelled
	o.UpdatedAt = g.clock()
	return nil
}

// GetOpenOrders returns resting orders for symbol.
func (g *Gateway) GetOpenOrders(_ context.Context, symbol string) ([]broker.Order, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	var out []broker.Order
	for _, o := range g.orders {
		if o.Symbol == symbol && !o.Status.IsFinal() {
			out = append(out, *o)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].OrderID < out[j].OrderID })
	return out, nil
}

// IsOrderFilled reports whether orderID has filled.
func (g *Gateway) IsOrderFilled(_ context.Context, _ string, orderID string) (bool, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	o, ok := g.orders[orderID]
	return ok && o.Status == broker.OrderStatusFilled, nil
}

// GetPositionSize returns the absolute position size.
func (g *Gateway) GetPositionSize(_ context.Context, symbol string) (decimal.Decimal, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	if pos, ok := g.positions[symbol]; ok {
		return pos.net.Abs(), nil
	}
	return decimal.Zero, nil
}

// GetPositionAvgPrice returns the average entry of the open position.
func (g *Gateway) GetPositionAvgPrice(_ context.Context, symbol string) (decimal.Decimal, bool, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	pos, ok := g.positions[symbol]
	if !ok || !pos.avg.IsPositive() {
		return decimal.Zero, false, nil
	}
	return pos.avg, true, nil
}

// GetLastPrice returns the last price set for symbol.
func (g *Gateway) GetLastPrice(_ context.Context, symbol string) (decimal.Decimal, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	price, ok := g.prices[symbol]
	if !ok {
		return decimal.Zero, fmt.Errorf("%s: %w", symbol, broker.ErrNoPrice)
	}
	return price, nil
}

// InstrumentRules reports the configured rules for any symbol.
func (g *Gateway) InstrumentRules(_ context.Context, symbol string) (types.InstrumentRules, error) {
	rules := g.cfg.Rules
	rules.Symbol = symbol
	return rules, nil
}

// GetPositions returns all open positions.
func (g *Gateway) GetPositions(_ context.Context) ([]broker.Position, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	out := make([]broker.Position, 0, len(g.positions))
	for symbol, pos := range g.positions {
		side := types.SideLong
		if pos.net.IsNegative() {
			side = types.SideShort
		}
		mark := g.prices[symbol]
		upnl := mark.Sub(pos.avg).Mul(pos.net)
		out = append(out, broker.Position{
			Symbol:        symbol,
			Side:          side,
			Size:          pos.net.Abs(),
			AvgPrice:      pos.avg,
			MarkPrice:     mark,
			UnrealizedPnL: upnl,
			UpdatedAt:     g.clock(),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out, nil
}

// Balance returns the cash balance after realized PnL and fees.
func (g *Gateway) Balance() decimal.Decimal {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.balance
}

// RealizedPnL returns the realized PnL before fees.
func (g *Gateway) RealizedPnL() decimal.Decimal {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.realized
}

// Fees returns total fees paid.
func (g *Gateway) Fees() decimal.Decimal {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.fees
}

// Fills returns a copy of all fills in execution order.
func (g *Gateway) Fills() []Fill {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]Fill, len(g.fills))
	copy(out, g.fills)
	return out
}

var _ broker.Gateway = (*Gateway)(nil)

// Package execution wraps exchange order calls with retry policies.
package execution

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"
	"github.com/tathienbao/short-averager/internal/broker"
	"github.com/tathienbao/short-averager/internal/metrics"
	"github.com/tathienbao/short-averager/internal/types"
)

// Order kinds used in logs and metrics.
const (
	KindOpen      = "open"
	KindAveraging = "averaging"
	KindClose     = "close"
	KindCancel    = "cancel"
)

// Executor places and cancels the orders of one short-averaging position.
// Opening is a single attempt; the engine counts open attempts across ticks.
// Cancel and close are critical and run under the retry policy.
type Executor struct {
	gw       broker.Gateway
	retry    RetryPolicy
	logger   *slog.Logger
	recorder *metrics.Recorder
}

// NewExecutor creates a new executor.
func NewExecutor(gw broker.Gateway, retry RetryPolicy, logger *slog.Logger) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{
		gw:       gw,
		retry:    retry,
		logger:   logger,
		recorder: metrics.NewRecorder(),
	}
}

// Gateway returns the underlying gateway.
func (e *Executor) Gateway() broker.Gateway {
	return e.gw
}

// OpenShort sells qty at market.
func (e *Executor) OpenShort(ctx context.Context, symbol string, qty decimal.Decimal) (*broker.OrderResult, error) {
	start := time.Now()
	res, err := e.gw.PlaceMarketOrder(ctx, symbol, types.SideShort, qty, false)
	e.recorder.RecordOrder(symbol, KindOpen, err, time.Since(start))
	if err != nil {
		return nil, fmt.Errorf("open short %s: %w", symbol, err)
	}
	return res, nil
}

// PlaceAveraging rests a sell limit order at price.
func (e *Executor) PlaceAveraging(ctx context.Context, symbol string, qty, price decimal.Decimal) (string, error) {
	start := time.Now()
	id, err := Get(ctx, e.retry, KindAveraging, e.logger, func(ctx context.Context) (string, error) {
		return e.gw.PlaceLimitOrder(ctx, symbol, types.SideShort, qty, price)
	})
	e.recorder.RecordOrder(symbol, KindAveraging, err, time.Since(start))
	if err != nil {
		return "", fmt.Errorf("place averaging order %s: %w", symbol, err)
	}
	return id, nil
}

// Cancel cancels a resting order. When every attempt fails, the open order
// list decides: an order that is no longer open counts as cancelled.
func (e *Executor) Cancel(ctx context.Context, symbol, orderID string) error {
	if orderID == "" {
		return nil
	}

	start := time.Now()
	err := e.retry.Run(ctx, KindCancel, e.logger, func(ctx context.Context) error {
		return e.gw.CancelOrder(ctx, symbol, orderID)
	})
	e.recorder.RecordOrder(symbol, KindCancel, err, time.Since(start))
	if err == nil {
		return nil
	}

	open, qerr := e.gw.GetOpenOrders(ctx, symbol)
	if qerr != nil {
		return fmt.Errorf("cancel order %s: %w (open orders check: %v)", orderID, err, qerr)
	}
	for _, o := range open {
		if o.OrderID == orderID {
			return fmt.Errorf("cancel order %s: %w", orderID, err)
		}
	}

	e.logger.Info("cancel failed but order is no longer open",
		"symbol", symbol,
		"order_id", orderID,
		"err", err,
	)
	return nil
}

// CloseShort buys qty back at market with reduce-only set.
func (e *Executor) CloseShort(ctx context.Context, symbol string, qty decimal.Decimal) (*broker.OrderResult, error) {
	start := time.Now()
	res, err := Get(ctx, e.retry, KindClose, e.logger, func(ctx context.Context) (*broker.OrderResult, error) {
		return e.gw.PlaceMarketOrder(ctx, symbol, types.SideLong, qty, true)
	})
	e.recorder.RecordOrder(symbol, KindClose, err, time.Since(start))
	if err != nil {
		return nil, fmt.Errorf("close short %s: %w", symbol, err)
	}
	return res, nil
}

// LastPrice fetches the current price once. ok is false when unavailable.
func (e *Executor) LastPrice(ctx context.Context, symbol string) (decimal.Decimal, bool) {
	price, err := e.gw.GetLastPrice(ctx, symbol)
	if err != nil || !price.IsPositive() {
		e.logger.Debug("last price unavailable", "symbol", symbol, "err", err)
		return decimal.Zero, false
	}
	return price, true
}

package engine

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/tathienbao/short-averager/internal/strategy"
	"github.com/tathienbao/short-averager/internal/types"
)

// close runs the exit sequence once: cancel the resting order, price the
// exit, buy back the full quantity. With placeOrder false the exchange
// position is already gone and only the bookkeeping runs.
func (e *Engine) close(ctx context.Context, reason types.CloseReason, placeOrder bool) {
	p := e.pos
	if p.status == types.StatusClosing || p.status.IsTerminal() {
		return
	}
	wasOpen := p.status.IsOpen()
	p.closeReason = reason
	e.transition(types.StatusClosing)

	e.cancelResting(ctx)

	closePrice := p.lastPrice
	if price, ok := e.exec.LastPrice(ctx, p.symbol); ok {
		closePrice = price
	}

	if placeOrder {
		e.syncCloseQty(ctx)
		res, err := e.exec.CloseShort(ctx, p.symbol, p.qty)
		if err != nil {
			e.recorder.RecordPositionEnded(p.symbol, wasOpen)
			e.fail(ctx, fmt.Errorf("close (%s) failed, position may still be open: %w: %w",
				reason, types.ErrMaxAttemptsExceeded, err))
			return
		}
		if res != nil && res.AvgPrice.IsPositive() {
			closePrice = res.AvgPrice
		}
	}

	base := p.basePrice()
	pnlPct, pnlUsdt := decimal.Zero, decimal.Zero
	if closePrice.IsPositive() {
		pnlPct, pnlUsdt = strategy.PnL(base, closePrice, p.qty)
	}

	e.transition(types.StatusClosed)
	e.recorder.RecordPositionEnded(p.symbol, wasOpen)
	e.recorder.RecordTrade(p.symbol, reason.String(), pnlUsdt)

	e.logger.Info("position closed",
		"reason", reason,
		"entry", base,
		"close_price", closePrice,
		"qty", p.qty,
		"pnl_percent", pnlPct.StringFixed(2),
		"pnl_usdt", pnlUsdt.StringFixed(4),
		"averaged", p.isAveraged,
	)
	e.emit(ctx, types.Event{
		Kind:          types.EventPositionClosed,
		Quantity:      p.qty,
		EntryPrice:    base,
		AveragedPrice: valueOr(p.averagedPrice),
		ClosePrice:    closePrice,
		PnLPercent:    pnlPct,
		PnLUsdt:       pnlUsdt,
		WasAveraged:   p.isAveraged,
		Reason:        reason,
		UsdtAmount:    e.params.UsdtAmount,
		OpenedAt:      p.openedAt,
	})
}

// cancelResting cancels the averaging order if one is resting. A failed
// cancel does not block the close.
func (e *Engine) cancelResting(ctx context.Context) {
	p := e.pos
	if p.restingOrderID == "" {
		return
	}
	if err := e.exec.Cancel(ctx, p.symbol, p.restingOrderID); err != nil {
		p.lastError = err.Error()
		e.recorder.RecordError("cancel")
		e.logger.Error("averaging order could not be cancelled", "order_id", p.restingOrderID, "err", err)
		return
	}
	e.logger.Info("averaging order cancelled", "order_id", p.restingOrderID)
	p.restingOrderID = ""
}

// syncCloseQty takes the exchange position size as the quantity to buy back.
// A partially filled averaging order is only visible there. Errors and an
// empty position keep the tracked quantity.
func (e *Engine) syncCloseQty(ctx context.Context) {
	p := e.pos
	size, err := e.exec.Gateway().GetPositionSize(ctx, p.symbol)
	if err != nil || !size.IsPositive() || size.Equal(p.qty) {
		return
	}
	e.logger.Warn("close quantity differs from exchange position",
		"tracked", p.qty,
		"exchange", size,
	)
	p.qty = size
}

// Stop handles an external stop request. Without force an open position is
// left on the exchange and only monitoring ends.
func (e *Engine) Stop(ctx context.Context, force bool) {
	p := e.pos
	if p.status == types.StatusClosing || p.status.IsTerminal() {
		return
	}

	if force && p.status.IsOpen() {
		e.logger.Info("force close requested")
		e.close(ctx, types.CloseReasonStop, true)
		e.publish(ctx)
		return
	}

	wasOpen := p.status.IsOpen()
	e.cancelResting(ctx)
	p.closeReason = types.CloseReasonStop
	e.transition(types.StatusClosed)
	e.recorder.RecordPositionEnded(p.symbol, wasOpen)

	e.logger.Info("monitoring stopped", "position_open", wasOpen, "qty", p.qty)
	e.emit(ctx, types.Event{
		Kind:       types.EventMonitoringStopped,
		Price:      p.lastPrice,
		Quantity:   p.qty,
		EntryPrice: p.entryPrice,
		Message:    monitoringStoppedMessage(wasOpen),
	})
	e.publish(ctx)
}

func monitoringStoppedMessage(wasOpen bool) string {
	if wasOpen {
		return "monitoring stopped, exchange position left open"
	}
	return "monitoring stopped before a position was opened"
}

// fail moves to the terminal Failed state and surfaces err to operators.
func (e *Engine) fail(ctx context.Context, err error) {
	p := e.pos
	e.err = err
	p.lastError = err.Error()
	e.transition(types.StatusFailed)
	e.recorder.RecordError("strategy_failed")

	e.logger.Error("position failed", "err", err, "status", p.status)
	e.emit(ctx, types.Event{
		Kind:     types.EventStrategyError,
		Price:    p.lastPrice,
		Quantity: p.qty,
		Message:  p.lastError,
	})
}

func valueOr(v *decimal.Decimal) decimal.Decimal {
	if v == nil {
		return decimal.Zero
	}
	return *v
}

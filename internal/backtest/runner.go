// Package backtest replays recorded ticks through the position engine over
// the paper gateway.
package backtest

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"
	"github.com/tathienbao/short-averager/internal/broker/paper"
	"github.com/tathienbao/short-averager/internal/engine"
	"github.com/tathienbao/short-averager/internal/execution"
	"github.com/tathienbao/short-averager/internal/risk"
	"github.com/tathienbao/short-averager/internal/strategy"
	"github.com/tathienbao/short-averager/internal/types"
)

// ProgressUpdate contains info for UI updates
type ProgressUpdate struct {
	Tick      int
	TotalTick int
	Price     decimal.Decimal
	Time      time.Time
	Equity    decimal.Decimal
	Trades    int
	Position  types.PositionSnapshot
}

// ProgressCallback is called on each tick for UI updates
type ProgressCallback func(update ProgressUpdate)

// Config holds backtest configuration.
type Config struct {
	Params strategy.Params
	Engine engine.Config
	Paper  paper.Config
	// MinNotional is passed to the quantity sizer.
	MinNotional decimal.Decimal
	// Reenter opens a new position on the next tick after one finishes.
	Reenter bool
	// CloseAtEnd force closes a position still open when the data ends.
	CloseAtEnd bool
	StartTime  time.Time
	EndTime    time.Time
}

// Result holds backtest results.
type Result struct {
	Symbol       string
	Ticks        int
	From         time.Time
	To           time.Time
	StartBalance decimal.Decimal
	EndBalance   decimal.Decimal
	Fees         decimal.Decimal
	Trades       []types.CompletedTrade
	Events       []types.Event
	// Final is the last position, which may still be open.
	Final       types.PositionSnapshot
	EquityCurve []EquityPoint
}

// EquityPoint represents the balance after a close.
type EquityPoint struct {
	Timestamp time.Time
	Equity    decimal.Decimal
	Drawdown  decimal.Decimal
}

// Runner executes backtests.
type Runner struct {
	cfg    Config
	logger *slog.Logger

	gw     *paper.Gateway
	exec   *execution.Executor
	sizer  *risk.QuantitySizer
	events *engine.MemorySink
	clock  time.Time

	trades      []types.CompletedTrade
	equityCurve []EquityPoint
	highWater   decimal.Decimal

	progressCb ProgressCallback
}

// NewRunner creates a new backtest runner.
func NewRunner(cfg Config, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Paper.Rules.PriceTick.IsZero() {
		cfg.Paper.Rules = paper.DefaultConfig().Rules
	}
	if cfg.Engine.ReconcileInterval <= 0 {
		cfg.Engine.ReconcileInterval = engine.DefaultConfig().ReconcileInterval
	}
	cfg.Params.Symbol = strategy.NormalizeSymbol(cfg.Params.Symbol)

	r := &Runner{
		cfg:    cfg,
		logger: logger,
	}
	r.Reset()
	return r
}

// SetProgressCallback sets a callback for UI updates
func (r *Runner) SetProgressCallback(cb ProgressCallback) {
	r.progressCb = cb
}

// Reset resets the runner for a new backtest.
func (r *Runner) Reset() {
	r.gw = paper.NewGateway(r.cfg.Paper, r.logger)
	r.exec = execution.NewExecutor(r.gw, execution.NoRetry(), r.logger)
	r.sizer = risk.NewQuantitySizerWithMinNotional(r.cfg.MinNotional)
	r.events = &engine.MemorySink{}
	r.clock = time.Time{}
	r.trades = nil
	r.equityCurve = make([]EquityPoint, 0)
	r.highWater = r.cfg.Paper.InitialBalance
}

func (r *Runner) now() time.Time {
	return r.clock
}

func (r *Runner) newEngine(ctx context.Context) (*engine.Engine, error) {
	rules, err := r.gw.InstrumentRules(ctx, r.cfg.Params.Symbol)
	if err != nil {
		return nil, fmt.Errorf("instrument rules: %w", err)
	}
	return engine.New(r.cfg.Params, rules, r.cfg.Engine, engine.Deps{
		Executor: r.exec,
		Sizer:    r.sizer,
		Sink:     engine.NewMultiSink(r.events, engine.SinkFunc(r.onEvent)),
		Logger:   r.logger,
		Now:      r.now,
	}), nil
}

// onEvent records realized trades and the balance after each close.
func (r *Runner) onEvent(_ context.Context, ev types.Event) error {
	if ev.Kind != types.EventPositionClosed {
		return nil
	}
	r.trades = append(r.trades, ev.Trade())
	r.recordEquity(ev.Time, r.gw.Balance())
	return nil
}

// Run replays ticks in order. Fills and reconciliation follow the tick
// timestamps, so a run over the same data is deterministic.
func (r *Runner) Run(ctx context.Context, ticks []types.Tick) (*Result, error) {
	if err := r.cfg.Params.Validate(); err != nil {
		return nil, err
	}
	symbol := r.cfg.Params.Symbol

	eng, err := r.newEngine(ctx)
	if err != nil {
		return nil, err
	}

	res := &Result{
		Symbol:       symbol,
		StartBalance: r.cfg.Paper.InitialBalance,
	}
	var lastReconcile time.Time

	for i, tick := range ticks {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if !r.cfg.StartTime.IsZero() && tick.Time.Before(r.cfg.StartTime) {
			continue
		}
		if !r.cfg.EndTime.IsZero() && tick.Time.After(r.cfg.EndTime) {
			break
		}

		if eng.Snapshot().Status.IsTerminal() {
			if !r.cfg.Reenter {
				break
			}
			if eng, err = r.newEngine(ctx); err != nil {
				return nil, err
			}
			lastReconcile = time.Time{}
		}

		tick.Symbol = symbol
		r.clock = tick.Time
		r.gw.SetPrice(symbol, tick.Price, tick.Time)

		if res.Ticks == 0 {
			res.From = tick.Time
		}
		res.Ticks++
		res.To = tick.Time

		if !lastReconcile.IsZero() && tick.Time.Sub(lastReconcile) >= r.cfg.Engine.ReconcileInterval {
			eng.Reconcile(ctx)
			lastReconcile = tick.Time
		}
		eng.OnTick(ctx, tick)
		if lastReconcile.IsZero() {
			lastReconcile = tick.Time
		}

		if r.progressCb != nil {
			r.progressCb(ProgressUpdate{
				Tick:      i + 1,
				TotalTick: len(ticks),
				Price:     tick.Price,
				Time:      tick.Time,
				Equity:    r.gw.Balance(),
				Trades:    len(r.trades),
				Position:  eng.Snapshot(),
			})
		}
	}

	if r.cfg.CloseAtEnd && eng.Snapshot().Status.IsOpen() {
		r.logger.Info("closing open position at end of data", "symbol", symbol)
		eng.Stop(ctx, true)
	}

	res.Final = eng.Snapshot()
	res.EndBalance = r.gw.Balance()
	res.Fees = r.gw.Fees()
	res.Trades = r.trades
	res.Events = r.events.Events()
	res.EquityCurve = r.equityCurve
	return res, nil
}

// recordEquity records an equity point.
func (r *Runner) recordEquity(timestamp time.Time, equity decimal.Decimal) {
	if equity.GreaterThan(r.highWater) {
		r.highWater = equity
	}
	var drawdown decimal.Decimal
	if r.highWater.IsPositive() {
		drawdown = r.highWater.Sub(equity).Div(r.highWater)
	}

	r.equityCurve = append(r.equityCurve, EquityPoint{
		Timestamp: timestamp,
		Equity:    equity,
		Drawdown:  drawdown,
	})
}

// Package engine runs the lifecycle of short-averaging positions: one
// single-writer state machine per symbol plus the registry that starts and
// stops them.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/tathienbao/short-averager/internal/execution"
	"github.com/tathienbao/short-averager/internal/metrics"
	"github.com/tathienbao/short-averager/internal/observer"
	"github.com/tathienbao/short-averager/internal/risk"
	"github.com/tathienbao/short-averager/internal/strategy"
	"github.com/tathienbao/short-averager/internal/types"
)

// Config holds engine configuration.
type Config struct {
	// ReconcileInterval is the cadence of fill and existence checks.
	ReconcileInterval time.Duration
	MaxOpenAttempts   int
}

// DefaultConfig returns default engine config.
func DefaultConfig() Config {
	return Config{
		ReconcileInterval: 500 * time.Millisecond,
		MaxOpenAttempts:   5,
	}
}

// Deps are the collaborators of one engine.
type Deps struct {
	Executor *execution.Executor
	// Fills defaults to polling the executor's gateway.
	Fills  observer.FillDetector
	Sizer  *risk.QuantitySizer
	Sink   EventSink
	// Snapshots, when set, receives the position after every state change.
	Snapshots SnapshotStore
	Logger    *slog.Logger
	// Now defaults to time.Now. Backtests pass the replay clock.
	Now func() time.Time
}

// SnapshotStore persists position snapshots.
type SnapshotStore interface {
	SaveSnapshot(ctx context.Context, snap types.PositionSnapshot) error
}

type stopRequest struct {
	force bool
}

// Engine owns one short position from entry to close.
//
// OnTick, Reconcile and Stop mutate the position and must be called from a
// single goroutine; Run does that for live trading. Snapshot is safe from
// any goroutine.
type Engine struct {
	cfg    Config
	params strategy.Params
	rules  types.InstrumentRules

	exec     *execution.Executor
	fills    observer.FillDetector
	sizer    *risk.QuantitySizer
	sink     EventSink
	store    SnapshotStore
	logger   *slog.Logger
	recorder *metrics.Recorder
	now      func() time.Time

	pos   *position
	snap  atomic.Pointer[types.PositionSnapshot]
	dirty bool
	err   error

	stopMu sync.Mutex
	stopCh chan stopRequest
	done   chan struct{}
}

// New creates an engine in the Idle state. The first tick opens the position.
func New(params strategy.Params, rules types.InstrumentRules, cfg Config, deps Deps) *Engine {
	if cfg.ReconcileInterval <= 0 {
		cfg.ReconcileInterval = DefaultConfig().ReconcileInterval
	}
	if cfg.MaxOpenAttempts <= 0 {
		cfg.MaxOpenAttempts = DefaultConfig().MaxOpenAttempts
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Sizer == nil {
		deps.Sizer = risk.NewQuantitySizer()
	}
	if deps.Fills == nil {
		deps.Fills = observer.NewPollingFillDetector(deps.Executor.Gateway())
	}
	if deps.Sink == nil {
		deps.Sink = NewMultiSink()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}

	id := uuid.NewString()
	e := &Engine{
		cfg:      cfg,
		params:   params,
		rules:    rules,
		exec:     deps.Executor,
		fills:    deps.Fills,
		sizer:    deps.Sizer,
		sink:     deps.Sink,
		store:    deps.Snapshots,
		logger:   deps.Logger.With("symbol", params.Symbol, "position_id", id),
		recorder: metrics.NewRecorder(),
		now:      deps.Now,
		pos: &position{
			id:              id,
			symbol:          params.Symbol,
			status:          types.StatusIdle,
			ratchet:         strategy.NewRatchet(params.InitialTPPercent, params.BreakevenStep, params.Basis),
			maxOpenAttempts: cfg.MaxOpenAttempts,
		},
		stopCh: make(chan stopRequest, 1),
		done:   make(chan struct{}),
	}
	e.storeSnapshot()
	return e
}

// ID returns the position identifier.
func (e *Engine) ID() string {
	return e.pos.id
}

// Symbol returns the traded symbol.
func (e *Engine) Symbol() string {
	return e.params.Symbol
}

// Snapshot returns the state as of the last processed step.
func (e *Engine) Snapshot() types.PositionSnapshot {
	return *e.snap.Load()
}

// Err returns the failure that moved the position to Failed. Read it after
// Done is closed when Run drives the engine.
func (e *Engine) Err() error {
	return e.err
}

// Done is closed when Run returns.
func (e *Engine) Done() <-chan struct{} {
	return e.done
}

// RequestStop queues a stop request for the Run loop. With force the
// position is closed at market; without it monitoring ends after the resting
// order is cancelled. A force request replaces a queued plain one. Returns
// false if an equal or stronger request is already queued.
func (e *Engine) RequestStop(force bool) bool {
	e.stopMu.Lock()
	defer e.stopMu.Unlock()

	select {
	case e.stopCh <- stopRequest{force: force}:
		return true
	default:
	}
	if !force {
		return false
	}
	// Run is the only other reader, so after the drain the slot is free.
	select {
	case queued := <-e.stopCh:
		if queued.force {
			e.stopCh <- queued
			return false
		}
	default:
	}
	e.stopCh <- stopRequest{force: true}
	return true
}

// Run consumes ticks and reconciles on a timer until the position reaches a
// terminal state or ctx is cancelled.
func (e *Engine) Run(ctx context.Context, ticks <-chan types.Tick) error {
	defer close(e.done)

	ticker := time.NewTicker(e.cfg.ReconcileInterval)
	defer ticker.Stop()

	e.logger.Info("position engine started",
		"usdt_amount", e.params.UsdtAmount,
		"averaging_percent", e.params.AveragingPercent,
		"tp_percent", e.params.InitialTPPercent,
		"breakeven_step", e.params.BreakevenStep,
		"stop_loss_percent", e.params.StopLossPercent,
		"basis", e.params.Basis,
	)

	for !e.pos.status.IsTerminal() {
		select {
		case <-ctx.Done():
			e.logger.Info("position engine stopped: context cancelled", "status", e.pos.status)
			return ctx.Err()
		case req := <-e.stopCh:
			e.Stop(ctx, req.force)
		case tick, ok := <-ticks:
			if !ok {
				e.logger.Warn("price feed closed", "status", e.pos.status)
				return fmt.Errorf("%s: %w", e.params.Symbol, types.ErrDataUnavailable)
			}
			e.recorder.RecordTickLag(tick.Time)
			e.OnTick(ctx, tick)
		case <-ticker.C:
			e.Reconcile(ctx)
		}
	}

	e.logger.Info("position engine finished",
		"status", e.pos.status,
		"reason", e.pos.closeReason,
	)
	return e.err
}

// OnTick applies one price update. Ticks after Closing are ignored.
func (e *Engine) OnTick(ctx context.Context, tick types.Tick) {
	p := e.pos
	if p.status.IsTerminal() || p.status == types.StatusClosing {
		return
	}
	if !tick.Price.IsPositive() {
		return
	}
	p.lastPrice = tick.Price
	e.recorder.RecordHeartbeat()

	switch p.status {
	case types.StatusIdle:
		e.transition(types.StatusOpeningPosition)
		e.open(ctx, tick)
	case types.StatusOpeningPosition:
		e.open(ctx, tick)
	case types.StatusAveragingPending, types.StatusAveraged:
		e.evaluate(ctx, tick)
	}
	e.publish(ctx)
}

// open makes one attempt to sell at market.
func (e *Engine) open(ctx context.Context, tick types.Tick) {
	p := e.pos
	p.openAttempts++

	size := e.sizer.Size(e.params.UsdtAmount, tick.Price, e.rules)
	if size.Bumped {
		e.emitQuantityAdjusted(ctx, "open", size, tick.Price)
	}

	_, err := e.exec.OpenShort(ctx, p.symbol, size.Qty)
	if err != nil {
		p.lastError = err.Error()
		e.logger.Warn("open attempt failed",
			"attempt", p.openAttempts,
			"max_attempts", p.maxOpenAttempts,
			"err", err,
		)
		if p.openAttempts >= p.maxOpenAttempts {
			e.fail(ctx, fmt.Errorf("open failed after %d attempts: %w: %w",
				p.openAttempts, types.ErrMaxAttemptsExceeded, err))
		}
		return
	}

	now := e.now()
	p.qty = size.Qty
	p.entryPrice = tick.Price
	p.takeProfitPrice = strategy.TakeProfitPrice(p.entryPrice, e.params.InitialTPPercent)
	p.openedAt = now
	p.lastError = ""
	e.transition(types.StatusAveragingPending)
	e.recorder.RecordPositionOpened(p.symbol, p.qty)

	e.logger.Info("position opened",
		"qty", p.qty,
		"entry", p.entryPrice,
		"take_profit", p.takeProfitPrice,
		"attempt", p.openAttempts,
	)
	e.emit(ctx, types.Event{
		Kind:       types.EventPositionOpened,
		Price:      p.entryPrice,
		Quantity:   p.qty,
		EntryPrice: p.entryPrice,
		TakeProfit: p.takeProfitPrice,
		UsdtAmount: e.params.UsdtAmount,
	})

	e.placeAveraging(ctx)
}

// placeAveraging rests the single averaging sell limit above entry.
func (e *Engine) placeAveraging(ctx context.Context) {
	p := e.pos
	if p.restingOrderID != "" || p.isAveraged {
		return
	}

	price := strategy.RoundToTick(strategy.AveragingPrice(p.entryPrice, e.params.AveragingPercent), e.rules.PriceTick)
	size := e.sizer.Size(e.params.UsdtAmount, price, e.rules)
	if size.Bumped {
		e.emitQuantityAdjusted(ctx, "averaging", size, price)
	}

	id, err := e.exec.PlaceAveraging(ctx, p.symbol, size.Qty, price)
	if err != nil {
		p.lastError = err.Error()
		e.recorder.RecordError("averaging_order")
		e.logger.Error("averaging order not placed", "price", price, "qty", size.Qty, "err", err)
		return
	}

	p.restingOrderID = id
	p.averagingPrice = price
	p.averagingQty = size.Qty

	e.logger.Info("averaging order placed", "order_id", id, "price", price, "qty", size.Qty)
	e.emit(ctx, types.Event{
		Kind:       types.EventAveragingOrderPlaced,
		Price:      price,
		Quantity:   size.Qty,
		EntryPrice: p.entryPrice,
		OrderID:    id,
	})
}

// evaluate runs the in-memory exit checks against a tick.
func (e *Engine) evaluate(ctx context.Context, tick types.Tick) {
	p := e.pos
	price := tick.Price

	if p.isAveraged && p.stopLossPrice != nil && price.GreaterThanOrEqual(*p.stopLossPrice) {
		e.logger.Warn("stop loss triggered", "price", price, "stop_loss", *p.stopLossPrice)
		e.emit(ctx, types.Event{
			Kind:          types.EventStopLossTriggered,
			Price:         price,
			StopLoss:      *p.stopLossPrice,
			AveragedPrice: p.basePrice(),
			ProfitPercent: strategy.ProfitPercent(p.basePrice(), price),
		})
		e.close(ctx, types.CloseReasonStopLoss, true)
		return
	}

	base := p.basePrice()
	u := p.ratchet.Observe(base, price)
	switch {
	case u.Reached:
		e.logger.Info("take profit reached", "price", price, "profit_percent", u.ProfitPercent.StringFixed(2), "breakeven", u.Breakeven)
		e.emit(ctx, types.Event{
			Kind:          types.EventTakeProfitReached,
			Price:         price,
			TakeProfit:    p.takeProfitPrice,
			Breakeven:     u.Breakeven,
			ProfitPercent: u.ProfitPercent,
		})
	case u.Moved:
		e.recorder.RecordBreakevenMove(p.symbol)
		e.logger.Info("breakeven moved",
			"from", u.Previous,
			"to", u.Breakeven,
			"target_percent", u.TargetPercent,
			"profit_percent", u.ProfitPercent.StringFixed(2),
		)
		e.emit(ctx, types.Event{
			Kind:          types.EventBreakevenMoved,
			Price:         price,
			Breakeven:     u.Breakeven,
			ProfitPercent: u.ProfitPercent,
			Message:       fmt.Sprintf("target %s%%", u.TargetPercent),
		})
	}

	if p.ratchet.Touched(price) {
		e.logger.Info("breakeven touched", "price", price, "breakeven", *p.ratchet.Breakeven())
		e.close(ctx, types.CloseReasonBreakeven, true)
	}
}

// Reconcile checks the exchange for an averaging fill and for a position
// closed outside the engine. Failures leave the state unchanged.
func (e *Engine) Reconcile(ctx context.Context) {
	p := e.pos
	if !p.status.IsOpen() {
		return
	}
	timer := metrics.NewTimer()
	defer func() { e.recorder.RecordReconcile(timer.Elapsed()) }()

	if p.restingOrderID != "" && !p.isAveraged {
		filled, err := e.fills.IsFilled(ctx, p.symbol, p.restingOrderID)
		if err != nil {
			e.logger.Debug("fill check failed", "order_id", p.restingOrderID, "err", err)
		} else if filled {
			e.applyAveraging(ctx)
		}
	}

	size, err := e.exec.Gateway().GetPositionSize(ctx, p.symbol)
	if err != nil {
		e.logger.Debug("position check failed", "err", err)
		e.publish(ctx)
		return
	}
	if size.IsZero() {
		e.logger.Info("position closed outside the engine")
		e.emit(ctx, types.Event{
			Kind:     types.EventManualCloseDetected,
			Price:    p.lastPrice,
			Quantity: p.qty,
		})
		e.close(ctx, types.CloseReasonStop, false)
	}
	e.publish(ctx)
}

// applyAveraging switches the position to the averaged basis.
func (e *Engine) applyAveraging(ctx context.Context) {
	p := e.pos
	gw := e.exec.Gateway()

	avg, ok, err := gw.GetPositionAvgPrice(ctx, p.symbol)
	if err != nil || !ok {
		avg = strategy.WeightedAverage(p.entryPrice, p.qty, p.averagingPrice, p.averagingQty)
		e.logger.Info("exchange average price unavailable, using weighted mean", "avg_price", avg, "err", err)
	}

	qty := p.qty.Add(p.averagingQty)
	if size, err := gw.GetPositionSize(ctx, p.symbol); err == nil && size.IsPositive() {
		qty = size
	}

	orderID := p.restingOrderID
	p.isAveraged = true
	p.averagedPrice = &avg
	p.qty = qty
	p.restingOrderID = ""
	sl := strategy.StopLossPrice(avg, e.params.StopLossPercent)
	p.stopLossPrice = &sl
	p.takeProfitPrice = strategy.TakeProfitPrice(avg, e.params.InitialTPPercent)
	p.ratchet.Reset()
	e.transition(types.StatusAveraged)
	e.recorder.RecordAveraging(p.symbol)
	e.recorder.RecordPositionQuantity(p.symbol, p.qty)

	e.logger.Info("averaging executed",
		"order_id", orderID,
		"avg_price", avg,
		"qty", qty,
		"take_profit", p.takeProfitPrice,
		"stop_loss", sl,
	)
	e.emit(ctx, types.Event{
		Kind:          types.EventAveragingExecuted,
		Price:         p.averagingPrice,
		Quantity:      qty,
		EntryPrice:    p.entryPrice,
		AveragedPrice: avg,
		TakeProfit:    p.takeProfitPrice,
		StopLoss:      sl,
		OrderID:       orderID,
	})
}

func (e *Engine) emitQuantityAdjusted(ctx context.Context, kind string, size risk.SizeResult, price decimal.Decimal) {
	e.logger.Info("quantity raised to meet minimum notional",
		"kind", kind,
		"raw_qty", size.Raw,
		"qty", size.Qty,
		"notional", size.Notional,
	)
	e.emit(ctx, types.Event{
		Kind:     types.EventQuantityAdjusted,
		Price:    price,
		Quantity: size.Qty,
		Message:  fmt.Sprintf("%s qty raised to %s (notional %s USDT)", kind, size.Qty, size.Notional.StringFixed(2)),
	})
}

func (e *Engine) transition(to types.PositionStatus) {
	p := e.pos
	if p.status == to {
		return
	}
	e.logger.Debug("status change", "from", p.status, "to", to)
	p.status = to
	p.updatedAt = e.now()
	e.dirty = true
	e.recorder.RecordTransition(to.String())
}

func (e *Engine) emit(ctx context.Context, ev types.Event) {
	ev.Time = e.now()
	ev.Symbol = e.pos.symbol
	ev.PositionID = e.pos.id
	e.dirty = true
	if err := e.sink.Publish(ctx, ev); err != nil {
		e.logger.Warn("failed to publish event", "event", ev.Kind, "err", err)
	}
}

// publish refreshes the snapshot readers see and persists it when the
// position changed since the last save.
func (e *Engine) publish(ctx context.Context) {
	s := e.storeSnapshot()
	if !e.dirty || e.store == nil {
		return
	}
	e.dirty = false
	if err := e.store.SaveSnapshot(ctx, s); err != nil {
		e.logger.Warn("failed to save position snapshot", "status", s.Status, "err", err)
	}
}

func (e *Engine) storeSnapshot() types.PositionSnapshot {
	e.pos.updatedAt = e.now()
	s := e.pos.snapshot(e.params.UsdtAmount)
	e.snap.Store(&s)
	return s
}

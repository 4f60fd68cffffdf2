package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/tathienbao/short-averager/internal/execution"
	"github.com/tathienbao/short-averager/internal/instrument"
	"github.com/tathienbao/short-averager/internal/metrics"
	"github.com/tathienbao/short-averager/internal/observer"
	"github.com/tathienbao/short-averager/internal/risk"
	"github.com/tathienbao/short-averager/internal/strategy"
	"github.com/tathienbao/short-averager/internal/types"
)

// Venue is the exchange environment a position trades on.
type Venue struct {
	Executor *execution.Executor
	Rules    *instrument.Resolver
	// Fills is optional; nil polls the executor's gateway.
	Fills observer.FillDetector
}

// VenueFunc returns the venue for the demo or the live environment.
type VenueFunc func(useDemo bool) (Venue, error)

// ManagerDeps are the shared collaborators of all engines.
type ManagerDeps struct {
	Feed   observer.PriceFeed
	Venue  VenueFunc
	Limits *risk.Limits
	Sink   EventSink
	Sizer  *risk.QuantitySizer
	// Snapshots and Requests are optional audit stores.
	Snapshots SnapshotStore
	Requests  RequestLog
	Logger    *slog.Logger
}

// RequestLog records accepted trade requests.
type RequestLog interface {
	RecordRequest(ctx context.Context, positionID string, params strategy.Params) error
}

type handle struct {
	engine *Engine
	cancel context.CancelFunc
}

// Manager is the registry of active positions. It starts one engine
// goroutine per symbol and removes it when the engine reaches a terminal
// state.
type Manager struct {
	cfg      Config
	deps     ManagerDeps
	logger   *slog.Logger
	recorder *metrics.Recorder

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu       sync.Mutex
	active   map[string]*handle
	pending  map[string]struct{}
	finished map[string]types.PositionSnapshot
	closed   bool
}

// NewManager creates a manager.
func NewManager(cfg Config, deps ManagerDeps) *Manager {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Limits == nil {
		deps.Limits = risk.NewLimits(risk.LimitsConfig{}, deps.Logger)
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		cfg:      cfg,
		deps:     deps,
		logger:   deps.Logger,
		recorder: metrics.NewRecorder(),
		ctx:      ctx,
		cancel:   cancel,
		active:   make(map[string]*handle),
		pending:  make(map[string]struct{}),
		finished: make(map[string]types.PositionSnapshot),
	}
}

// Start accepts a trade request and launches its engine. ctx bounds only
// the setup calls; the engine runs until it finishes or Shutdown.
func (m *Manager) Start(ctx context.Context, params strategy.Params) (types.PositionSnapshot, error) {
	params.Symbol = strategy.NormalizeSymbol(params.Symbol)
	if err := params.Validate(); err != nil {
		m.recorder.RecordStartRequest(false)
		return types.PositionSnapshot{}, err
	}
	symbol := params.Symbol

	if err := m.reserve(symbol, params); err != nil {
		m.recorder.RecordStartRequest(false)
		return types.PositionSnapshot{}, err
	}

	eng, err := m.build(ctx, params)
	if err != nil {
		m.unreserve(symbol)
		m.recorder.RecordStartRequest(false)
		return types.PositionSnapshot{}, err
	}

	engCtx, cancel := context.WithCancel(m.ctx)
	ticks, err := m.deps.Feed.Subscribe(engCtx, symbol)
	if err != nil {
		cancel()
		m.unreserve(symbol)
		m.recorder.RecordStartRequest(false)
		return types.PositionSnapshot{}, fmt.Errorf("subscribe %s: %w", symbol, err)
	}

	m.mu.Lock()
	delete(m.pending, symbol)
	delete(m.finished, symbol)
	m.active[symbol] = &handle{engine: eng, cancel: cancel}
	m.mu.Unlock()

	m.wg.Add(1)
	go m.run(engCtx, cancel, eng, ticks)

	m.recorder.RecordStartRequest(true)
	if m.deps.Requests != nil {
		if err := m.deps.Requests.RecordRequest(ctx, eng.ID(), params); err != nil {
			m.logger.Warn("failed to record trade request", "symbol", symbol, "err", err)
		}
	}
	m.logger.Info("position accepted",
		"symbol", symbol,
		"position_id", eng.ID(),
		"usdt_amount", params.UsdtAmount,
		"demo", params.UseDemo,
	)
	return eng.Snapshot(), nil
}

func (m *Manager) reserve(symbol string, params strategy.Params) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return types.ErrEngineStopped
	}
	if _, ok := m.active[symbol]; ok {
		return fmt.Errorf("%s: %w", symbol, types.ErrPositionExists)
	}
	if _, ok := m.pending[symbol]; ok {
		return fmt.Errorf("%s: %w", symbol, types.ErrPositionExists)
	}
	if err := m.deps.Limits.Reserve(symbol, params.CommittedNotional()); err != nil {
		return err
	}
	m.pending[symbol] = struct{}{}
	return nil
}

func (m *Manager) unreserve(symbol string) {
	m.mu.Lock()
	delete(m.pending, symbol)
	m.mu.Unlock()
	m.deps.Limits.Release(symbol)
}

func (m *Manager) build(ctx context.Context, params strategy.Params) (*Engine, error) {
	venue, err := m.deps.Venue(params.UseDemo)
	if err != nil {
		return nil, fmt.Errorf("select venue: %w", err)
	}

	rules := types.FallbackRules(params.Symbol)
	if venue.Rules != nil {
		rules = venue.Rules.Resolve(ctx, params.Symbol)
	}

	sink := NewMultiSink(m.deps.Sink, SinkFunc(m.onEvent))
	return New(params, rules, m.cfg, Deps{
		Executor:  venue.Executor,
		Fills:     venue.Fills,
		Sizer:     m.deps.Sizer,
		Sink:      sink,
		Snapshots: m.deps.Snapshots,
		Logger:    m.logger,
	}), nil
}

// onEvent feeds realized results into the risk limits.
func (m *Manager) onEvent(_ context.Context, ev types.Event) error {
	if ev.Kind == types.EventPositionClosed {
		m.deps.Limits.RecordTrade(ev.PnLUsdt)
	}
	return nil
}

func (m *Manager) run(ctx context.Context, cancel context.CancelFunc, eng *Engine, ticks <-chan types.Tick) {
	defer m.wg.Done()
	defer cancel()

	if err := eng.Run(ctx, ticks); err != nil && ctx.Err() == nil {
		m.logger.Error("position engine exited", "symbol", eng.Symbol(), "position_id", eng.ID(), "err", err)
	}

	symbol := eng.Symbol()
	m.deps.Limits.Release(symbol)

	m.mu.Lock()
	if h, ok := m.active[symbol]; ok && h.engine == eng {
		delete(m.active, symbol)
	}
	m.finished[symbol] = eng.Snapshot()
	m.mu.Unlock()
}

// Stop queues a stop request for symbol.
func (m *Manager) Stop(symbol string, force bool) error {
	symbol = strategy.NormalizeSymbol(symbol)
	m.mu.Lock()
	h, ok := m.active[symbol]
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("%s: %w", symbol, types.ErrPositionNotFound)
	}
	if !h.engine.RequestStop(force) {
		m.logger.Debug("stop already requested", "symbol", symbol)
	}
	return nil
}

// Wait blocks until the engine for symbol finishes or ctx is done.
func (m *Manager) Wait(ctx context.Context, symbol string) error {
	symbol = strategy.NormalizeSymbol(symbol)
	m.mu.Lock()
	h, ok := m.active[symbol]
	m.mu.Unlock()
	if !ok {
		return nil
	}
	select {
	case <-h.engine.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Status returns the snapshot of the active position for symbol. Finished
// positions stay visible until a new one starts on the symbol.
func (m *Manager) Status(symbol string) (types.PositionSnapshot, bool) {
	symbol = strategy.NormalizeSymbol(symbol)
	m.mu.Lock()
	defer m.mu.Unlock()
	if h, ok := m.active[symbol]; ok {
		return h.engine.Snapshot(), true
	}
	s, ok := m.finished[symbol]
	return s, ok
}

// List returns snapshots of all active positions ordered by symbol.
func (m *Manager) List() []types.PositionSnapshot {
	m.mu.Lock()
	out := make([]types.PositionSnapshot, 0, len(m.active))
	for _, h := range m.active {
		out = append(out, h.engine.Snapshot())
	}
	m.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}

// ActiveCount returns the number of running engines.
func (m *Manager) ActiveCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.active)
}

// Shutdown stops accepting positions, asks every engine to stop and waits
// for them. With closePositions the open shorts are closed at market.
// Engines still running when ctx expires are cancelled.
func (m *Manager) Shutdown(ctx context.Context, closePositions bool) error {
	m.mu.Lock()
	m.closed = true
	handles := make([]*handle, 0, len(m.active))
	for _, h := range m.active {
		handles = append(handles, h)
	}
	m.mu.Unlock()

	m.logger.Info("stopping position engines", "count", len(handles), "close_positions", closePositions)
	for _, h := range handles {
		h.engine.RequestStop(closePositions)
	}

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		m.cancel()
		return nil
	case <-ctx.Done():
		m.cancel()
		select {
		case <-done:
		case <-time.After(time.Second):
		}
		return fmt.Errorf("shutdown: %w", ctx.Err())
	}
}

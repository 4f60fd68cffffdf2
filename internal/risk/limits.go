package risk

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/shopspring/decimal"
	"github.com/tathienbao/short-averager/internal/types"
)

// LimitsConfig holds exposure limits. Zero values disable a limit.
type LimitsConfig struct {
	MaxActivePositions int
	// MaxTotalNotional caps the sum of committed USDT across active positions.
	// A position commits its entry amount plus its averaging amount.
	MaxTotalNotional decimal.Decimal
	// MaxDrawdownUsdt engages the kill switch when realized PnL falls this far below its peak.
	MaxDrawdownUsdt decimal.Decimal
}

// Limits gates new positions. Thread-safe for concurrent access.
type Limits struct {
	mu sync.Mutex

	cfg       LimitsConfig
	committed map[string]decimal.Decimal // symbol -> committed USDT
	pnl       *PnLTracker

	killSwitch bool
	logger     *slog.Logger
}

// NewLimits creates exposure limits.
func NewLimits(cfg LimitsConfig, logger *slog.Logger) *Limits {
	if logger == nil {
		logger = slog.Default()
	}
	return &Limits{
		cfg:       cfg,
		committed: make(map[string]decimal.Decimal),
		pnl:       NewPnLTracker(decimal.Zero),
		logger:    logger,
	}
}

// Reserve admits a new position for symbol committing usdt.
func (l *Limits) Reserve(symbol string, usdt decimal.Decimal) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.killSwitch {
		return types.ErrKillSwitchActive
	}
	if _, ok := l.committed[symbol]; ok {
		return fmt.Errorf("%s: %w", symbol, types.ErrPositionExists)
	}
	if l.cfg.MaxActivePositions > 0 && len(l.committed) >= l.cfg.MaxActivePositions {
		return fmt.Errorf("%w: %d active positions (max %d)",
			types.ErrExposureLimit, len(l.committed), l.cfg.MaxActivePositions)
	}
	if l.cfg.MaxTotalNotional.IsPositive() {
		total := l.totalLocked().Add(usdt)
		if total.GreaterThan(l.cfg.MaxTotalNotional) {
			return fmt.Errorf("%w: total notional %s exceeds %s",
				types.ErrExposureLimit, total.StringFixed(2), l.cfg.MaxTotalNotional.StringFixed(2))
		}
	}

	l.committed[symbol] = usdt
	return nil
}

// Release frees the reservation for symbol.
func (l *Limits) Release(symbol string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.committed, symbol)
}

// RecordTrade applies a realized PnL and engages the kill switch when the
// drawdown limit is reached.
func (l *Limits) RecordTrade(pnlUsdt decimal.Decimal) {
	l.pnl.Add(pnlUsdt)

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.killSwitch || !l.cfg.MaxDrawdownUsdt.IsPositive() {
		return
	}
	if dd := l.pnl.Drawdown(); dd.GreaterThanOrEqual(l.cfg.MaxDrawdownUsdt) {
		l.killSwitch = true
		l.logger.Error("kill switch engaged: realized drawdown limit reached",
			"drawdown_usdt", dd,
			"limit_usdt", l.cfg.MaxDrawdownUsdt,
		)
	}
}

// ResetKillSwitch re-enables new positions.
func (l *Limits) ResetKillSwitch() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.killSwitch = false
	l.pnl.Reset(l.pnl.Current())
	l.logger.Warn("kill switch reset")
}

// LimitsSnapshot is a copy of the current limits state.
type LimitsSnapshot struct {
	ActivePositions int
	TotalCommitted  decimal.Decimal
	RealizedPnL     decimal.Decimal
	PeakPnL         decimal.Decimal
	Drawdown        decimal.Decimal
	Trades          int
	KillSwitch      bool
}

// Snapshot returns the current state.
func (l *Limits) Snapshot() LimitsSnapshot {
	l.mu.Lock()
	defer l.mu.Unlock()

	current, peak, dd, trades := l.pnl.Snapshot()
	return LimitsSnapshot{
		ActivePositions: len(l.committed),
		TotalCommitted:  l.totalLocked(),
		RealizedPnL:     current,
		PeakPnL:         peak,
		Drawdown:        dd,
		Trades:          trades,
		KillSwitch:      l.killSwitch,
	}
}

func (l *Limits) totalLocked() decimal.Decimal {
	total := decimal.Zero
	for _, v := range l.committed {
		total = total.Add(v)
	}
	return total
}

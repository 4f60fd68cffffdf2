// Package risk implements quantity sizing and exposure limits.
package risk

import (
	"sync"

	"github.com/shopspring/decimal"
)

// PnLTracker tracks cumulative realized PnL and its peak.
// Thread-safe for concurrent access.
type PnLTracker struct {
	mu      sync.RWMutex
	peak    decimal.Decimal
	current decimal.Decimal
	trades  int
}

// NewPnLTracker creates a tracker starting at start (usually zero).
func NewPnLTracker(start decimal.Decimal) *PnLTracker {
	return &PnLTracker{
		peak:    start,
		current: start,
	}
}

// Add applies a realized trade result. Returns true if a new peak was set.
func (h *PnLTracker) Add(pnl decimal.Decimal) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.current = h.current.Add(pnl)
	h.trades++

	if h.current.GreaterThan(h.peak) {
		h.peak = h.current
		return true
	}
	return false
}

// Current returns cumulative realized PnL.
func (h *PnLTracker) Current() decimal.Decimal {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.current
}

// Peak returns the highest cumulative PnL seen.
func (h *PnLTracker) Peak() decimal.Decimal {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.peak
}

// Drawdown returns peak - current in USDT, never negative.
func (h *PnLTracker) Drawdown() decimal.Decimal {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.drawdownLocked()
}

func (h *PnLTracker) drawdownLocked() decimal.Decimal {
	if h.current.GreaterThanOrEqual(h.peak) {
		return decimal.Zero
	}
	return h.peak.Sub(h.current)
}

// Reset resets the tracker.
func (h *PnLTracker) Reset(start decimal.Decimal) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.peak = start
	h.current = start
	h.trades = 0
}

// Snapshot returns the current state as a copy.
func (h *PnLTracker) Snapshot() (current, peak, drawdown decimal.Decimal, trades int) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.current, h.peak, h.drawdownLocked(), h.trades
}

package observer

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/tathienbao/short-averager/internal/broker"
)

// FillDetector reports whether a resting order has been completely filled.
type FillDetector interface {
	IsFilled(ctx context.Context, symbol, orderID string) (bool, error)
}

// PollingFillDetector asks the exchange on every check.
type PollingFillDetector struct {
	gw broker.Gateway
}

// NewPollingFillDetector creates a detector backed by order queries.
func NewPollingFillDetector(gw broker.Gateway) *PollingFillDetector {
	return &PollingFillDetector{gw: gw}
}

// IsFilled queries the order state.
func (d *PollingFillDetector) IsFilled(ctx context.Context, symbol, orderID string) (bool, error) {
	return d.gw.IsOrderFilled(ctx, symbol, orderID)
}

// StreamFillDetector learns fills from pushed order updates. While the
// stream is down, or when an order has not been heard of for PollEvery,
// it falls back to polling.
type StreamFillDetector struct {
	fallback  FillDetector
	connected func() bool
	pollEvery time.Duration
	logger    *slog.Logger
	now       func() time.Time

	mu       sync.Mutex
	filled   map[string]bool
	lastPoll map[string]time.Time
}

// NewStreamFillDetector creates a stream-backed detector.
// connected reports whether the order stream is currently live.
func NewStreamFillDetector(fallback FillDetector, connected func() bool, pollEvery time.Duration, logger *slog.Logger) *StreamFillDetector {
	if logger == nil {
		logger = slog.Default()
	}
	if pollEvery <= 0 {
		pollEvery = 5 * time.Second
	}
	return &StreamFillDetector{
		fallback:  fallback,
		connected: connected,
		pollEvery: pollEvery,
		logger:    logger,
		now:       time.Now,
		filled:    make(map[string]bool),
		lastPoll:  make(map[string]time.Time),
	}
}

// Consume records order updates until the channel closes or ctx is done.
func (d *StreamFillDetector) Consume(ctx context.Context, updates <-chan broker.OrderUpdate) {
	for {
		select {
		case <-ctx.Done():
			return
		case u, ok := <-updates:
			if !ok {
				return
			}
			d.Observe(u)
		}
	}
}

// Observe records a single order update.
func (d *StreamFillDetector) Observe(u broker.OrderUpdate) {
	if u.Status != broker.OrderStatusFilled {
		return
	}
	d.mu.Lock()
	d.filled[u.OrderID] = true
	d.mu.Unlock()
	d.logger.Debug("fill observed on stream", "symbol", u.Symbol, "order_id", u.OrderID)
}

// IsFilled reports a fill seen on the stream, or polls when the stream cannot be trusted.
func (d *StreamFillDetector) IsFilled(ctx context.Context, symbol, orderID string) (bool, error) {
	d.mu.Lock()
	if d.filled[orderID] {
		delete(d.filled, orderID)
		delete(d.lastPoll, orderID)
		d.mu.Unlock()
		return true, nil
	}

	now := d.now()
	live := d.connected != nil && d.connected()
	if live && now.Sub(d.lastPoll[orderID]) < d.pollEvery {
		d.mu.Unlock()
		return false, nil
	}
	d.lastPoll[orderID] = now
	d.mu.Unlock()

	filled, err := d.fallback.IsFilled(ctx, symbol, orderID)
	if filled {
		d.mu.Lock()
		delete(d.lastPoll, orderID)
		d.mu.Unlock()
	}
	return filled, err
}

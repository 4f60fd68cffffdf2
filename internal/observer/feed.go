// Package observer handles price feeds and order fill detection.
package observer

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/tathienbao/short-averager/internal/broker"
	"github.com/tathienbao/short-averager/internal/types"
)

// PriceFeed defines the interface for tick sources.
// Implementations can be live streams or replayed data.
type PriceFeed interface {
	// Subscribe starts receiving ticks for a symbol.
	// The channel is closed when the context is cancelled or the feed ends.
	Subscribe(ctx context.Context, symbol string) (<-chan types.Tick, error)

	// Name returns the feed identifier (e.g., "replay", "bybit").
	Name() string
}

// TickHandlerFactory builds a stream handler that publishes ticks for one symbol.
type TickHandlerFactory func(symbol string, out chan<- types.Tick) StreamHandler

// StreamFeed is a live PriceFeed with one reconnecting Stream per subscription.
type StreamFeed struct {
	name       string
	factory    TickHandlerFactory
	cfg        StreamConfig
	bufferSize int
	logger     *slog.Logger

	mu      sync.RWMutex
	streams map[string]*Stream
}

// NewStreamFeed creates a live price feed.
func NewStreamFeed(name string, factory TickHandlerFactory, cfg StreamConfig, bufferSize int, logger *slog.Logger) *StreamFeed {
	if logger == nil {
		logger = slog.Default()
	}
	if bufferSize <= 0 {
		bufferSize = 256
	}
	return &StreamFeed{
		name:       name,
		factory:    factory,
		cfg:        cfg,
		bufferSize: bufferSize,
		logger:     logger,
		streams:    make(map[string]*Stream),
	}
}

// Subscribe starts a stream for symbol. Ticks are delivered through a bounded
// channel; the stream blocks rather than drops when the consumer falls behind.
func (f *StreamFeed) Subscribe(ctx context.Context, symbol string) (<-chan types.Tick, error) {
	if symbol == "" {
		return nil, fmt.Errorf("subscribe: %w", types.ErrInvalidSymbol)
	}

	ch := make(chan types.Tick, f.bufferSize)
	stream := NewStream(f.factory(symbol, ch), f.cfg, f.logger.With("symbol", symbol))

	f.mu.Lock()
	f.streams[symbol] = stream
	f.mu.Unlock()

	go func() {
		defer close(ch)
		defer func() {
			f.mu.Lock()
			if f.streams[symbol] == stream {
				delete(f.streams, symbol)
			}
			f.mu.Unlock()
		}()
		stream.Run(ctx)
	}()

	return ch, nil
}

// State returns the connection state of the stream for symbol.
func (f *StreamFeed) State(symbol string) broker.ConnectionState {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if s, ok := f.streams[symbol]; ok {
		return s.State()
	}
	return broker.StateDisconnected
}

// Name returns the feed identifier.
func (f *StreamFeed) Name() string {
	return f.name
}

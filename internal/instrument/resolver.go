// Package instrument resolves exchange quantity rules per symbol.
package instrument

import (
	"context"
	"log/slog"
	"strings"
	"sync"

	"github.com/shopspring/decimal"
	"github.com/tathienbao/short-averager/internal/types"
)

// Source fetches rules from the exchange.
type Source interface {
	InstrumentRules(ctx context.Context, symbol string) (types.InstrumentRules, error)
}

// Resolver caches instrument rules. Resolve never fails: when the source
// errors or reports an unusable step, fallback rules are returned.
type Resolver struct {
	source Source
	logger *slog.Logger

	mu    sync.RWMutex
	cache map[string]types.InstrumentRules
}

// NewResolver creates a resolver. A nil source always yields fallback rules.
func NewResolver(source Source, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{
		source: source,
		logger: logger,
		cache:  make(map[string]types.InstrumentRules),
	}
}

// Resolve returns the rules for symbol. Only exchange-supplied rules are cached,
// so a later call can still pick up real rules after a transient failure.
func (r *Resolver) Resolve(ctx context.Context, symbol string) types.InstrumentRules {
	r.mu.RLock()
	rules, ok := r.cache[symbol]
	r.mu.RUnlock()
	if ok {
		return rules
	}

	if r.source == nil {
		return types.FallbackRules(symbol)
	}

	rules, err := r.source.InstrumentRules(ctx, symbol)
	if err != nil {
		r.logger.Warn("instrument rules unavailable, using fallback",
			"symbol", symbol,
			"err", err,
		)
		return types.FallbackRules(symbol)
	}
	if !rules.QtyStep.IsPositive() {
		r.logger.Warn("instrument rules invalid, using fallback",
			"symbol", symbol,
			"qty_step", rules.QtyStep,
		)
		return types.FallbackRules(symbol)
	}

	rules.Symbol = symbol
	rules.QtyPrecision = QtyPrecision(rules.QtyStep)
	if !rules.MinQty.IsPositive() {
		rules.MinQty = rules.QtyStep
	}
	if !rules.MaxQty.IsPositive() {
		rules.MaxQty = types.FallbackMaxQty
	}
	if !rules.PriceTick.IsPositive() {
		rules.PriceTick = types.FallbackPriceTick
	}

	r.mu.Lock()
	r.cache[symbol] = rules
	r.mu.Unlock()

	r.logger.Debug("instrument rules resolved",
		"symbol", symbol,
		"qty_step", rules.QtyStep,
		"precision", rules.QtyPrecision,
		"min_qty", rules.MinQty,
		"max_qty", rules.MaxQty,
	)
	return rules
}

// Invalidate drops a cached entry.
func (r *Resolver) Invalidate(symbol string) {
	r.mu.Lock()
	delete(r.cache, symbol)
	r.mu.Unlock()
}

// QtyPrecision returns the number of decimal places in a quantity step.
// 0.001 -> 3, 0.01 -> 2, 1 -> 0, 0.00001 -> 5.
func QtyPrecision(step decimal.Decimal) int32 {
	s := step.String()
	i := strings.IndexByte(s, '.')
	if i < 0 {
		return 0
	}
	return int32(len(strings.TrimRight(s[i+1:], "0")))
}

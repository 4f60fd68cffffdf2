package risk

import (
	"github.com/shopspring/decimal"
	"github.com/tathienbao/short-averager/internal/types"
)

// MinNotional is the smallest order value the exchange accepts, in USDT.
var MinNotional = decimal.NewFromInt(5)

// SizeResult contains the result of a quantity calculation.
type SizeResult struct {
	Qty      decimal.Decimal
	Notional decimal.Decimal
	// Bumped is true when qty was raised step by step to reach MinNotional.
	Bumped bool
	// Raw is usdt/price before rounding and clamping.
	Raw decimal.Decimal
}

// QuantitySizer turns a USDT amount into an order quantity that satisfies
// the instrument rules and the minimum notional.
type QuantitySizer struct {
	minNotional decimal.Decimal
}

// NewQuantitySizer creates a sizer with the exchange minimum notional.
func NewQuantitySizer() *QuantitySizer {
	return &QuantitySizer{minNotional: MinNotional}
}

// NewQuantitySizerWithMinNotional creates a sizer with a custom minimum notional.
func NewQuantitySizerWithMinNotional(minNotional decimal.Decimal) *QuantitySizer {
	return &QuantitySizer{minNotional: minNotional}
}

// Size calculates the order quantity.
//
//	qty = round(usdt / price, precision)
//	qty = clamp(qty, minQty, maxQty)
//	while qty * price < minNotional: qty += qtyStep
//
// Returns a zero result for a non-positive price or amount.
func (s *QuantitySizer) Size(usdt, price decimal.Decimal, rules types.InstrumentRules) SizeResult {
	if !price.IsPositive() || !usdt.IsPositive() {
		return SizeResult{}
	}

	raw := usdt.Div(price)
	qty := raw.Round(rules.QtyPrecision)

	if rules.MinQty.IsPositive() && qty.LessThan(rules.MinQty) {
		qty = rules.MinQty
	}
	if rules.MaxQty.IsPositive() && qty.GreaterThan(rules.MaxQty) {
		qty = rules.MaxQty
	}

	bumped := false
	if rules.QtyStep.IsPositive() {
		for qty.Mul(price).LessThan(s.minNotional) {
			next := qty.Add(rules.QtyStep)
			if rules.MaxQty.IsPositive() && next.GreaterThan(rules.MaxQty) {
				break
			}
			qty = next
			bumped = true
		}
	}

	return SizeResult{
		Qty:      qty,
		Notional: qty.Mul(price),
		Bumped:   bumped,
		Raw:      raw,
	}
}

package strategy

import "github.com/shopspring/decimal"

// RatchetUpdate reports what one observed price did to the ratchet.
type RatchetUpdate struct {
	// Reached is set on the first crossing of the take-profit percent.
	Reached bool
	// Moved is set when an existing breakeven level was tightened.
	Moved         bool
	Breakeven     decimal.Decimal
	Previous      decimal.Decimal
	TargetPercent decimal.Decimal
	ProfitPercent decimal.Decimal
}

// Changed returns true if the breakeven level was set or moved.
func (u RatchetUpdate) Changed() bool {
	return u.Reached || u.Moved
}

// Ratchet tracks the breakeven level of a short. Once set the level only
// moves down.
type Ratchet struct {
	tp    decimal.Decimal
	step  decimal.Decimal
	basis BreakevenBasis

	breakeven *decimal.Decimal
	best      decimal.Decimal
	level     int64
}

// NewRatchet creates a ratchet for the given take-profit and step percents.
func NewRatchet(tpPercent, stepPercent decimal.Decimal, basis BreakevenBasis) *Ratchet {
	if basis == "" {
		basis = BasisEntry
	}
	return &Ratchet{tp: tpPercent, step: stepPercent, basis: basis}
}

// Observe applies a price against base and returns what changed.
func (r *Ratchet) Observe(base, price decimal.Decimal) RatchetUpdate {
	profit := ProfitPercent(base, price)
	u := RatchetUpdate{ProfitPercent: profit}
	if profit.LessThan(r.tp) {
		return u
	}

	if r.breakeven == nil {
		var be decimal.Decimal
		if r.basis == BasisTick {
			be = r.trail(price)
		} else {
			be = BreakevenPrice(base, r.tp)
		}
		r.breakeven = &be
		r.best = profit
		r.level = 0
		u.Reached = true
		u.Breakeven = be
		u.TargetPercent = r.tp
		return u
	}

	if !r.step.IsPositive() {
		return u
	}
	steps := profit.Sub(r.tp).Div(r.step).Floor().IntPart()
	target := r.tp.Add(r.step.Mul(decimal.NewFromInt(steps)))

	var candidate decimal.Decimal
	switch r.basis {
	case BasisTick:
		if steps <= r.level {
			return u
		}
		r.level = steps
		candidate = r.trail(price)
	default:
		candidate = BreakevenPrice(base, target)
	}

	if candidate.LessThan(*r.breakeven) {
		u.Moved = true
		u.Previous = *r.breakeven
		u.Breakeven = candidate
		u.TargetPercent = target
		r.breakeven = &candidate
		r.best = profit
		r.level = steps
	}
	return u
}

func (r *Ratchet) trail(price decimal.Decimal) decimal.Decimal {
	return price.Mul(one.Add(pct(r.step)))
}

// Touched returns true when price has come back up to the breakeven level.
func (r *Ratchet) Touched(price decimal.Decimal) bool {
	return r.breakeven != nil && price.GreaterThanOrEqual(*r.breakeven)
}

// Breakeven returns the current level, or nil before the first crossing.
func (r *Ratchet) Breakeven() *decimal.Decimal {
	if r.breakeven == nil {
		return nil
	}
	be := *r.breakeven
	return &be
}

// BestProfitPercent returns the profit recorded at the last level change.
func (r *Ratchet) BestProfitPercent() decimal.Decimal {
	return r.best
}

// Reset clears the level. Used when the base price changes after averaging.
func (r *Ratchet) Reset() {
	r.breakeven = nil
	r.best = decimal.Zero
	r.level = 0
}

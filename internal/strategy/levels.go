package strategy

import "github.com/shopspring/decimal"

var (
	hundred = decimal.NewFromInt(100)
	one     = decimal.NewFromInt(1)
)

func pct(p decimal.Decimal) decimal.Decimal {
	return p.Div(hundred)
}

// TakeProfitPrice is the first profit target of a short: base·(1 − tp/100).
func TakeProfitPrice(base, tpPercent decimal.Decimal) decimal.Decimal {
	return base.Mul(one.Sub(pct(tpPercent)))
}

// AveragingPrice is where the averaging sell limit rests: entry·(1 + avg/100).
func AveragingPrice(entry, averagingPercent decimal.Decimal) decimal.Decimal {
	return entry.Mul(one.Add(pct(averagingPercent)))
}

// StopLossPrice is the hard exit above the averaged price: avg·(1 + sl/100).
func StopLossPrice(averaged, stopLossPercent decimal.Decimal) decimal.Decimal {
	return averaged.Mul(one.Add(pct(stopLossPercent)))
}

// BreakevenPrice is the level that locks targetPercent of profit on a short.
func BreakevenPrice(base, targetPercent decimal.Decimal) decimal.Decimal {
	return base.Mul(one.Sub(pct(targetPercent)))
}

// ProfitPercent returns the unrealized profit of a short in percent.
// Positive when price is below base. Zero for a non-positive base.
func ProfitPercent(base, price decimal.Decimal) decimal.Decimal {
	if !base.IsPositive() {
		return decimal.Zero
	}
	return base.Sub(price).Div(base).Mul(hundred)
}

// WeightedAverage returns (p1·q1 + p2·q2) / (q1 + q2).
func WeightedAverage(p1, q1, p2, q2 decimal.Decimal) decimal.Decimal {
	total := q1.Add(q2)
	if !total.IsPositive() {
		return decimal.Zero
	}
	return p1.Mul(q1).Add(p2.Mul(q2)).Div(total)
}

// PnL returns the realized result of closing a short of qty at closePrice.
func PnL(base, closePrice, qty decimal.Decimal) (percent, usdt decimal.Decimal) {
	return ProfitPercent(base, closePrice), base.Sub(closePrice).Mul(qty)
}

// RoundToTick rounds price to the nearest multiple of tick. A non-positive
// tick leaves price unchanged.
func RoundToTick(price, tick decimal.Decimal) decimal.Decimal {
	if !tick.IsPositive() {
		return price
	}
	return price.Div(tick).Round(0).Mul(tick)
}

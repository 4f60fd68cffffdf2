package backtest

import (
	"math"

	"github.com/shopspring/decimal"
	"github.com/tathienbao/short-averager/internal/types"
)

var hundred = decimal.NewFromInt(100)

// Metrics computes performance figures over the completed trades of a run.
// Per-trade returns are the trade PnL percentages.
type Metrics struct {
	trades       []types.CompletedTrade
	equityCurve  []EquityPoint
	startBalance decimal.Decimal
	endBalance   decimal.Decimal
}

// NewMetrics creates a new metrics calculator.
func NewMetrics(result *Result) *Metrics {
	return &Metrics{
		trades:       result.Trades,
		equityCurve:  result.EquityCurve,
		startBalance: result.StartBalance,
		endBalance:   result.EndBalance,
	}
}

// Summary collects every metric for reporting.
type Summary struct {
	TotalTrades   int
	WinningTrades int
	LosingTrades  int
	Averaged      int
	ByReason      map[types.CloseReason]int
	NetPnL        decimal.Decimal
	TotalReturn   decimal.Decimal // ratio
	WinRate       decimal.Decimal // ratio
	ProfitFactor  decimal.Decimal
	AverageWin    decimal.Decimal
	AverageLoss   decimal.Decimal
	Expectancy    decimal.Decimal
	MaxDrawdown   decimal.Decimal // ratio
	SharpeRatio   decimal.Decimal
	SortinoRatio  decimal.Decimal
}

// Summary computes all metrics.
func (m *Metrics) Summary() Summary {
	s := Summary{
		TotalTrades:  len(m.trades),
		ByReason:     make(map[types.CloseReason]int),
		NetPnL:       decimal.Zero,
		TotalReturn:  m.TotalReturn(),
		WinRate:      m.WinRate(),
		ProfitFactor: m.ProfitFactor(),
		AverageWin:   m.AverageWin(),
		AverageLoss:  m.AverageLoss(),
		Expectancy:   m.Expectancy(),
		MaxDrawdown:  m.MaxDrawdown(),
		SharpeRatio:  m.SharpeRatio(),
		SortinoRatio: m.SortinoRatio(),
	}
	for _, t := range m.trades {
		s.NetPnL = s.NetPnL.Add(t.PnLUsdt)
		s.ByReason[t.Reason]++
		if t.WasAveraged {
			s.Averaged++
		}
		switch {
		case t.PnLUsdt.IsPositive():
			s.WinningTrades++
		case t.PnLUsdt.IsNegative():
			s.LosingTrades++
		}
	}
	return s
}

// TotalReturn returns the balance change as a ratio of the start balance.
// Fees are included.
func (m *Metrics) TotalReturn() decimal.Decimal {
	if !m.startBalance.IsPositive() {
		return decimal.Zero
	}
	return m.endBalance.Sub(m.startBalance).Div(m.startBalance)
}

// SharpeRatio is the mean per-trade return over its standard deviation.
// It is not annualized: trades are irregular in time.
func (m *Metrics) SharpeRatio() decimal.Decimal {
	returns := m.tradeReturns()
	if len(returns) < 2 {
		return decimal.Zero
	}

	stdDev := standardDeviation(returns)
	if stdDev.IsZero() {
		return decimal.Zero
	}
	return mean(returns).Div(stdDev)
}

// SortinoRatio is like SharpeRatio with downside deviation.
func (m *Metrics) SortinoRatio() decimal.Decimal {
	returns := m.tradeReturns()
	if len(returns) < 2 {
		return decimal.Zero
	}

	downsideDev := downsideDeviation(returns, decimal.Zero)
	if downsideDev.IsZero() {
		return decimal.Zero
	}
	return mean(returns).Div(downsideDev)
}

// MaxDrawdown returns the maximum drawdown of the balance as a ratio.
func (m *Metrics) MaxDrawdown() decimal.Decimal {
	hwm := m.startBalance
	maxDD := decimal.Zero

	for _, point := range m.equityCurve {
		if point.Equity.GreaterThan(hwm) {
			hwm = point.Equity
		}
		if hwm.IsPositive() {
			dd := hwm.Sub(point.Equity).Div(hwm)
			if dd.GreaterThan(maxDD) {
				maxDD = dd
			}
		}
	}

	return maxDD
}

// WinRate returns the win rate as a ratio.
func (m *Metrics) WinRate() decimal.Decimal {
	if len(m.trades) == 0 {
		return decimal.Zero
	}

	wins := 0
	for _, trade := range m.trades {
		if trade.IsWin() {
			wins++
		}
	}

	return decimal.NewFromInt(int64(wins)).Div(decimal.NewFromInt(int64(len(m.trades))))
}

// ProfitFactor calculates gross profit / gross loss.
func (m *Metrics) ProfitFactor() decimal.Decimal {
	grossProfit := decimal.Zero
	grossLoss := decimal.Zero

	for _, trade := range m.trades {
		if trade.PnLUsdt.IsPositive() {
			grossProfit = grossProfit.Add(trade.PnLUsdt)
		} else {
			grossLoss = grossLoss.Add(trade.PnLUsdt.Abs())
		}
	}

	if grossLoss.IsZero() {
		return decimal.Zero
	}

	return grossProfit.Div(grossLoss)
}

// AverageWin returns the average winning trade PnL in USDT.
func (m *Metrics) AverageWin() decimal.Decimal {
	totalWin := decimal.Zero
	winCount := 0

	for _, trade := range m.trades {
		if trade.PnLUsdt.IsPositive() {
			totalWin = totalWin.Add(trade.PnLUsdt)
			winCount++
		}
	}

	if winCount == 0 {
		return decimal.Zero
	}

	return totalWin.Div(decimal.NewFromInt(int64(winCount)))
}

// AverageLoss returns the average losing trade PnL in USDT (negative).
func (m *Metrics) AverageLoss() decimal.Decimal {
	totalLoss := decimal.Zero
	lossCount := 0

	for _, trade := range m.trades {
		if trade.PnLUsdt.IsNegative() {
			totalLoss = totalLoss.Add(trade.PnLUsdt)
			lossCount++
		}
	}

	if lossCount == 0 {
		return decimal.Zero
	}

	return totalLoss.Div(decimal.NewFromInt(int64(lossCount)))
}

// Expectancy calculates expected value per trade.
// Expectancy = (WinRate * AvgWin) + ((1 - WinRate) * AvgLoss)
func (m *Metrics) Expectancy() decimal.Decimal {
	winRate := m.WinRate()
	avgWin := m.AverageWin()
	avgLoss := m.AverageLoss()

	return winRate.Mul(avgWin).Add(decimal.NewFromInt(1).Sub(winRate).Mul(avgLoss))
}

func (m *Metrics) tradeReturns() []decimal.Decimal {
	returns := make([]decimal.Decimal, 0, len(m.trades))
	for _, t := range m.trades {
		returns = append(returns, t.PnLPercent.Div(hundred))
	}
	return returns
}

// Helper: mean of decimal slice.
func mean(values []decimal.Decimal) decimal.Decimal {
	if len(values) == 0 {
		return decimal.Zero
	}

	sum := decimal.Zero
	for _, v := range values {
		sum = sum.Add(v)
	}

	return sum.Div(decimal.NewFromInt(int64(len(values))))
}

// Helper: sample standard deviation of decimal slice.
func standardDeviation(values []decimal.Decimal) decimal.Decimal {
	if len(values) < 2 {
		return decimal.Zero
	}

	m := mean(values)
	sumSquares := decimal.Zero

	for _, v := range values {
		diff := v.Sub(m)
		sumSquares = sumSquares.Add(diff.Mul(diff))
	}

	variance := sumSquares.Div(decimal.NewFromInt(int64(len(values) - 1)))

	varianceFloat := variance.InexactFloat64()
	if varianceFloat < 0 {
		return decimal.Zero
	}

	return decimal.NewFromFloat(math.Sqrt(varianceFloat))
}

// Helper: downside deviation (std dev of returns below target).
func downsideDeviation(returns []decimal.Decimal, target decimal.Decimal) decimal.Decimal {
	negativeReturns := make([]decimal.Decimal, 0)

	for _, r := range returns {
		if r.LessThan(target) {
			negativeReturns = append(negativeReturns, r)
		}
	}

	if len(negativeReturns) < 2 {
		return decimal.Zero
	}

	return standardDeviation(negativeReturns)
}

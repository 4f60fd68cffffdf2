package alerting

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"
	"github.com/tathienbao/short-averager/internal/risk"
	"github.com/tathienbao/short-averager/internal/types"
)

// TradeSummary aggregates completed trades over a period.
type TradeSummary struct {
	From time.Time
	To   time.Time

	TotalTrades    int
	WinningTrades  int
	LosingTrades   int
	AveragedTrades int
	WinRate        decimal.Decimal

	TotalPnL      decimal.Decimal
	AvgPnLPercent decimal.Decimal
	BestPnL       decimal.Decimal
	WorstPnL      decimal.Decimal
	MaxDrawdown   decimal.Decimal
	Volume        decimal.Decimal

	ByReason      map[types.CloseReason]int
	OpenPositions int
}

// NewTradeSummary builds a summary of trades closed in [from, to). A zero
// bound is open.
func NewTradeSummary(trades []types.CompletedTrade, from, to time.Time, openPositions int) TradeSummary {
	s := TradeSummary{
		From:          from,
		To:            to,
		ByReason:      make(map[types.CloseReason]int),
		OpenPositions: openPositions,
	}

	in := make([]types.CompletedTrade, 0, len(trades))
	for _, t := range trades {
		if !from.IsZero() && t.ClosedAt.Before(from) {
			continue
		}
		if !to.IsZero() && !t.ClosedAt.Before(to) {
			continue
		}
		in = append(in, t)
	}
	sort.SliceStable(in, func(i, j int) bool { return in[i].ClosedAt.Before(in[j].ClosedAt) })

	curve := risk.NewPnLTracker(decimal.Zero)
	sumPct := decimal.Zero
	for i, t := range in {
		s.TotalTrades++
		switch {
		case t.IsWin():
			s.WinningTrades++
		case t.PnLUsdt.IsNegative():
			s.LosingTrades++
		}
		if t.WasAveraged {
			s.AveragedTrades++
		}
		s.ByReason[t.Reason]++
		s.Volume = s.Volume.Add(t.UsdtAmount)
		sumPct = sumPct.Add(t.PnLPercent)

		if i == 0 || t.PnLUsdt.GreaterThan(s.BestPnL) {
			s.BestPnL = t.PnLUsdt
		}
		if i == 0 || t.PnLUsdt.LessThan(s.WorstPnL) {
			s.WorstPnL = t.PnLUsdt
		}

		curve.Add(t.PnLUsdt)
		if dd := curve.Drawdown(); dd.GreaterThan(s.MaxDrawdown) {
			s.MaxDrawdown = dd
		}
	}

	s.TotalPnL = curve.Current()
	if s.TotalTrades > 0 {
		n := decimal.NewFromInt(int64(s.TotalTrades))
		s.WinRate = decimal.NewFromInt(int64(s.WinningTrades)).Div(n).Mul(decimal.NewFromInt(100))
		s.AvgPnLPercent = sumPct.Div(n)
	}
	return s
}

// DailyWindow returns the UTC day containing t.
func DailyWindow(t time.Time) (time.Time, time.Time) {
	day := t.UTC().Truncate(24 * time.Hour)
	return day, day.Add(24 * time.Hour)
}

package backtest

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/tathienbao/short-averager/internal/types"
)

func pnlTrades(values ...int64) []types.CompletedTrade {
	trades := make([]types.CompletedTrade, 0, len(values))
	for _, v := range values {
		trades = append(trades, types.CompletedTrade{
			PnLUsdt:    decimal.NewFromInt(v),
			PnLPercent: decimal.NewFromInt(v).Div(decimal.NewFromInt(10)),
		})
	}
	return trades
}

func TestMetrics_WinRate(t *testing.T) {
	result := &Result{Trades: pnlTrades(100, -50, 75, -25, 50)}
	metrics := NewMetrics(result)

	winRate := metrics.WinRate()
	expected := decimal.RequireFromString("0.6") // 3 wins out of 5

	if !winRate.Equal(expected) {
		t.Errorf("WinRate = %s, want %s", winRate, expected)
	}
}

func TestMetrics_ProfitFactor(t *testing.T) {
	result := &Result{Trades: pnlTrades(100, -50, 100, -50)}
	metrics := NewMetrics(result)

	pf := metrics.ProfitFactor()
	expected := decimal.NewFromInt(2) // 200 profit / 100 loss

	if !pf.Equal(expected) {
		t.Errorf("ProfitFactor = %s, want %s", pf, expected)
	}
}

func TestMetrics_AverageWinLoss(t *testing.T) {
	result := &Result{Trades: pnlTrades(100, -50, 200, -100)}
	metrics := NewMetrics(result)

	if got, want := metrics.AverageWin(), decimal.NewFromInt(150); !got.Equal(want) {
		t.Errorf("AverageWin = %s, want %s", got, want)
	}
	if got, want := metrics.AverageLoss(), decimal.NewFromInt(-75); !got.Equal(want) {
		t.Errorf("AverageLoss = %s, want %s", got, want)
	}
}

func TestMetrics_MaxDrawdown(t *testing.T) {
	baseTime := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	equityCurve := []EquityPoint{
		{Timestamp: baseTime.Add(time.Hour), Equity: decimal.NewFromInt(11000)},     // New high
		{Timestamp: baseTime.Add(2 * time.Hour), Equity: decimal.NewFromInt(9900)},  // 10% DD
		{Timestamp: baseTime.Add(3 * time.Hour), Equity: decimal.NewFromInt(10500)}, // Partial recovery
		{Timestamp: baseTime.Add(4 * time.Hour), Equity: decimal.NewFromInt(12000)}, // New high
		{Timestamp: baseTime.Add(5 * time.Hour), Equity: decimal.NewFromInt(10800)}, // 10% DD
	}

	result := &Result{EquityCurve: equityCurve, StartBalance: decimal.NewFromInt(10000)}
	metrics := NewMetrics(result)

	maxDD := metrics.MaxDrawdown()
	expected := decimal.RequireFromString("0.1")

	if !maxDD.Equal(expected) {
		t.Errorf("MaxDrawdown = %s, want %s", maxDD, expected)
	}
}

func TestMetrics_FirstCloseBelowStart(t *testing.T) {
	result := &Result{
		StartBalance: decimal.NewFromInt(1000),
		EquityCurve:  []EquityPoint{{Equity: decimal.NewFromInt(950)}},
	}
	if got, want := NewMetrics(result).MaxDrawdown(), decimal.RequireFromString("0.05"); !got.Equal(want) {
		t.Errorf("MaxDrawdown = %s, want %s", got, want)
	}
}

func TestMetrics_Expectancy(t *testing.T) {
	// 50% win rate, avg win 200, avg loss -100
	// Expectancy = 0.5 * 200 + 0.5 * (-100) = 50
	result := &Result{Trades: pnlTrades(200, -100)}
	metrics := NewMetrics(result)

	expectancy := metrics.Expectancy()
	expected := decimal.NewFromInt(50)

	if !expectancy.Equal(expected) {
		t.Errorf("Expectancy = %s, want %s", expectancy, expected)
	}
}

func TestMetrics_SharpeRatio(t *testing.T) {
	result := &Result{Trades: pnlTrades(30, 20, -10, 30, 25, -5, 30)}
	metrics := NewMetrics(result)

	if sharpe := metrics.SharpeRatio(); !sharpe.IsPositive() {
		t.Errorf("SharpeRatio should be positive for mostly winning trades, got %s", sharpe)
	}
	if sortino := metrics.SortinoRatio(); !sortino.IsPositive() {
		t.Errorf("SortinoRatio should be positive, got %s", sortino)
	}
}

func TestMetrics_TotalReturn(t *testing.T) {
	result := &Result{
		StartBalance: decimal.NewFromInt(10000),
		EndBalance:   decimal.NewFromInt(10250),
	}
	if got, want := NewMetrics(result).TotalReturn(), decimal.RequireFromString("0.025"); !got.Equal(want) {
		t.Errorf("TotalReturn = %s, want %s", got, want)
	}
}

func TestMetrics_Summary(t *testing.T) {
	trades := pnlTrades(40, -150, 25)
	trades[0].Reason = types.CloseReasonBreakeven
	trades[1].Reason = types.CloseReasonStopLoss
	trades[1].WasAveraged = true
	trades[2].Reason = types.CloseReasonStop
	trades[2].WasAveraged = true

	s := NewMetrics(&Result{Trades: trades}).Summary()

	if s.TotalTrades != 3 || s.WinningTrades != 2 || s.LosingTrades != 1 || s.Averaged != 2 {
		t.Errorf("counts = %d/%d/%d/%d", s.TotalTrades, s.WinningTrades, s.LosingTrades, s.Averaged)
	}
	if !s.NetPnL.Equal(decimal.NewFromInt(-85)) {
		t.Errorf("NetPnL = %s, want -85", s.NetPnL)
	}
	if s.ByReason[types.CloseReasonStopLoss] != 1 || s.ByReason[types.CloseReasonBreakeven] != 1 {
		t.Errorf("ByReason = %v", s.ByReason)
	}
}

func TestMetrics_NoTrades(t *testing.T) {
	metrics := NewMetrics(&Result{})

	if !metrics.WinRate().IsZero() {
		t.Error("WinRate should be 0 for no trades")
	}
	if !metrics.ProfitFactor().IsZero() {
		t.Error("ProfitFactor should be 0 for no trades")
	}
	if !metrics.Expectancy().IsZero() {
		t.Error("Expectancy should be 0 for no trades")
	}
	if !metrics.MaxDrawdown().IsZero() {
		t.Error("MaxDrawdown should be 0 for empty curve")
	}
	if !metrics.SharpeRatio().IsZero() || !metrics.SortinoRatio().IsZero() {
		t.Error("ratios should be 0 for no trades")
	}
	if !metrics.TotalReturn().IsZero() {
		t.Error("TotalReturn should be 0 without a start balance")
	}
}

func TestMetrics_OnlyWinningTrades(t *testing.T) {
	metrics := NewMetrics(&Result{Trades: pnlTrades(100, 200)})

	if winRate := metrics.WinRate(); !winRate.Equal(decimal.NewFromInt(1)) {
		t.Errorf("WinRate = %s, want 1", winRate)
	}

	// Profit factor with no losses should return 0 (avoid division by zero)
	if pf := metrics.ProfitFactor(); !pf.IsZero() {
		t.Errorf("ProfitFactor should be 0 when no losses, got %s", pf)
	}
	if avgLoss := metrics.AverageLoss(); !avgLoss.IsZero() {
		t.Errorf("AverageLoss should be 0 when no losses, got %s", avgLoss)
	}
}

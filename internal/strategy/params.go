// Package strategy holds the price math of the short-averaging strategy:
// parameters, target levels and the breakeven ratchet. It performs no I/O.
package strategy

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/tathienbao/short-averager/internal/types"
)

// BreakevenBasis selects how the breakeven level is anchored.
type BreakevenBasis string

const (
	// BasisEntry anchors breakeven levels to the entry (or averaged) price.
	BasisEntry BreakevenBasis = "entry"
	// BasisTick anchors each new breakeven level to the tick that reached it.
	BasisTick BreakevenBasis = "tick"
)

// ParseBreakevenBasis converts a config value. Empty means BasisEntry.
func ParseBreakevenBasis(s string) (BreakevenBasis, error) {
	switch BreakevenBasis(strings.ToLower(strings.TrimSpace(s))) {
	case "", BasisEntry:
		return BasisEntry, nil
	case BasisTick:
		return BasisTick, nil
	default:
		return "", fmt.Errorf("%w: breakeven basis %q (want entry or tick)", types.ErrInvalidParams, s)
	}
}

// Params configures one short-averaging position. Percentages are plain
// numbers: 3 means 3%.
type Params struct {
	Symbol           string
	UsdtAmount       decimal.Decimal
	AveragingPercent decimal.Decimal
	InitialTPPercent decimal.Decimal
	BreakevenStep    decimal.Decimal
	StopLossPercent  decimal.Decimal
	UseDemo          bool
	Basis            BreakevenBasis
}

// DefaultParams returns the strategy defaults for a symbol.
func DefaultParams(symbol string) Params {
	return Params{
		Symbol:           NormalizeSymbol(symbol),
		UsdtAmount:       decimal.NewFromInt(100),
		AveragingPercent: decimal.NewFromInt(10),
		InitialTPPercent: decimal.NewFromInt(3),
		BreakevenStep:    decimal.NewFromInt(2),
		StopLossPercent:  decimal.NewFromInt(15),
		UseDemo:          true,
		Basis:            BasisEntry,
	}
}

// CommittedNotional is the USDT a position can hold once its averaging
// order fills: the entry amount plus an equal averaging amount.
func (p Params) CommittedNotional() decimal.Decimal {
	return p.UsdtAmount.Add(p.UsdtAmount)
}

// Validate checks the parameters.
func (p Params) Validate() error {
	var errs []string

	if p.Symbol == "" {
		errs = append(errs, "symbol is required")
	}
	if !p.UsdtAmount.IsPositive() {
		errs = append(errs, "usdt_amount must be positive")
	}
	if !p.AveragingPercent.IsPositive() {
		errs = append(errs, "averaging_percent must be positive")
	}
	if !p.InitialTPPercent.IsPositive() || p.InitialTPPercent.GreaterThanOrEqual(hundred) {
		errs = append(errs, "initial_tp_percent must be in (0, 100)")
	}
	if !p.BreakevenStep.IsPositive() {
		errs = append(errs, "breakeven_step must be positive")
	}
	if !p.StopLossPercent.IsPositive() {
		errs = append(errs, "stop_loss_percent must be positive")
	}
	if p.Basis != BasisEntry && p.Basis != BasisTick {
		errs = append(errs, fmt.Sprintf("unknown breakeven basis %q", p.Basis))
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %s", types.ErrInvalidParams, strings.Join(errs, "; "))
	}
	return nil
}

// NormalizeSymbol upper-cases a ticker and appends the USDT quote when missing.
// "btc" and "BTCUSDT" both become "BTCUSDT".
func NormalizeSymbol(s string) string {
	s = strings.ToUpper(strings.TrimSpace(s))
	s = strings.TrimPrefix(s, "#")
	s = strings.TrimPrefix(s, "$")
	if s == "" {
		return ""
	}
	if !strings.HasSuffix(s, "USDT") {
		s += "USDT"
	}
	return s
}

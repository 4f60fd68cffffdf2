package ui

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/shopspring/decimal"
	"github.com/tathienbao/short-averager/internal/strategy"
	"github.com/tathienbao/short-averager/internal/types"
)

// StatusBoard prints a table of managed positions.
type StatusBoard struct {
	out   io.Writer
	color bool
	now   func() time.Time
}

// NewStatusBoard creates a board. Colors are used only when color is set.
func NewStatusBoard(out io.Writer, color bool) *StatusBoard {
	return &StatusBoard{out: out, color: color, now: time.Now}
}

// Render writes one row per position.
func (b *StatusBoard) Render(positions []types.PositionSnapshot) error {
	if len(positions) == 0 {
		_, err := fmt.Fprintln(b.out, "no active positions")
		return err
	}

	tw := tabwriter.NewWriter(b.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "SYMBOL\tSTATUS\tQTY\tBASE\tLAST\tPNL%\tTP\tBREAKEVEN\tSTOP\tAGE")
	for _, p := range positions {
		base := p.BasePrice()
		pnl := "-"
		if base.IsPositive() && p.LastPrice.IsPositive() {
			pnl = b.paint(strategy.ProfitPercent(base, p.LastPrice))
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			p.Symbol,
			statusLabel(p),
			p.Quantity.String(),
			priceOrDash(&base),
			priceOrDash(&p.LastPrice),
			pnl,
			priceOrDash(&p.TakeProfitPrice),
			priceOrDash(p.BreakevenPrice),
			priceOrDash(p.StopLossPrice),
			b.age(p.OpenedAt),
		)
	}
	return tw.Flush()
}

// statusLabel marks positions with a resting averaging order.
func statusLabel(p types.PositionSnapshot) string {
	if !p.IsAveraged && p.RestingOrderID != "" {
		return p.Status.String() + "*"
	}
	return p.Status.String()
}

func (b *StatusBoard) paint(pnl decimal.Decimal) string {
	s := signedFixed(pnl)
	if !b.color {
		return s
	}
	if pnl.IsNegative() {
		return ColorRed + s + ColorReset
	}
	return ColorGreen + s + ColorReset
}

func (b *StatusBoard) age(opened time.Time) string {
	if opened.IsZero() {
		return "-"
	}
	return b.now().Sub(opened).Round(time.Second).String()
}

func priceOrDash(p *decimal.Decimal) string {
	if p == nil || !p.IsPositive() {
		return "-"
	}
	return strings.TrimRight(strings.TrimRight(p.StringFixed(8), "0"), ".")
}

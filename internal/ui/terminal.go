// Package ui renders backtest progress and position tables in the terminal.
package ui

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/shopspring/decimal"
	"golang.org/x/term"
)

// ANSI escape codes
const (
	ClearLine   = "\033[2K"
	MoveToStart = "\r"
	HideCursor  = "\033[?25l"
	ShowCursor  = "\033[?25h"
	ColorReset  = "\033[0m"
	ColorGreen  = "\033[32m"
	ColorRed    = "\033[31m"
	ColorYellow = "\033[33m"
	ColorCyan   = "\033[36m"
	ColorDim    = "\033[2m"
	ColorBold   = "\033[1m"
)

// Level is a horizontal line drawn across the price chart.
type Level struct {
	Name  string
	Price decimal.Decimal
	Color string
}

// BacktestUI draws a live price chart with the position levels while a
// replay runs.
type BacktestUI struct {
	out io.Writer

	prices      []decimal.Decimal
	maxPoints   int
	chartHeight int
	levels      []Level

	// Stats
	current     int
	total       int
	equity      decimal.Decimal
	startEquity decimal.Decimal
	trades      int
	status      string

	width        int
	linesPrinted int
}

// NewBacktestUI creates a new backtest UI writing to out.
func NewBacktestUI(out io.Writer, total int, startEquity decimal.Decimal) *BacktestUI {
	width, _ := TerminalSize()

	maxPoints := width - 12 // Leave room for price axis
	if maxPoints < 20 {
		maxPoints = 20
	}
	if maxPoints > 120 {
		maxPoints = 120
	}

	return &BacktestUI{
		out:         out,
		prices:      make([]decimal.Decimal, 0, maxPoints),
		maxPoints:   maxPoints,
		chartHeight: 12,
		total:       total,
		startEquity: startEquity,
		equity:      startEquity,
		width:       width,
	}
}

// Start initializes the UI
func (ui *BacktestUI) Start() {
	fmt.Fprint(ui.out, HideCursor)
	fmt.Fprintln(ui.out)
}

// Stop cleans up the UI
func (ui *BacktestUI) Stop() {
	fmt.Fprint(ui.out, ShowCursor)
	fmt.Fprintln(ui.out)
}

// AddPrice appends a tick price to the sliding chart window.
func (ui *BacktestUI) AddPrice(p decimal.Decimal) {
	ui.prices = append(ui.prices, p)
	if len(ui.prices) > ui.maxPoints {
		ui.prices = ui.prices[1:]
	}
	ui.current++
}

// SetLevels replaces the levels drawn on the chart.
func (ui *BacktestUI) SetLevels(levels ...Level) {
	ui.levels = levels
}

// UpdateStats updates trading statistics
func (ui *BacktestUI) UpdateStats(equity decimal.Decimal, trades int, status string) {
	ui.equity = equity
	ui.trades = trades
	ui.status = status
}

// Render draws the current state
func (ui *BacktestUI) Render() {
	// Move cursor up to overwrite previous frame
	if ui.linesPrinted > 0 {
		fmt.Fprintf(ui.out, "\033[%dA", ui.linesPrinted)
	}

	var lines []string

	progress := 0.0
	if ui.total > 0 {
		progress = float64(ui.current) / float64(ui.total)
	}
	progressWidth := ui.width - 30
	if progressWidth < 20 {
		progressWidth = 20
	}
	filled := int(progress * float64(progressWidth))
	if filled > progressWidth {
		filled = progressWidth
	}
	progressBar := strings.Repeat("█", filled) + strings.Repeat("░", progressWidth-filled)
	lines = append(lines, fmt.Sprintf("%s%s %.1f%% [%d/%d]%s",
		ColorCyan, progressBar, progress*100, ui.current, ui.total, ColorReset))

	lines = append(lines, ui.renderChart()...)
	lines = append(lines, ui.statsLine())

	for _, line := range lines {
		fmt.Fprint(ui.out, ClearLine)
		fmt.Fprintln(ui.out, line)
	}

	ui.linesPrinted = len(lines)
}

func (ui *BacktestUI) statsLine() string {
	pnl := ui.equity.Sub(ui.startEquity)
	pnlColor := ColorGreen
	if pnl.IsNegative() {
		pnlColor = ColorRed
	}

	var legend strings.Builder
	for _, l := range ui.levels {
		fmt.Fprintf(&legend, " %s%s%s %s", l.Color, l.Name, ColorReset, l.Price.StringFixed(4))
	}

	return fmt.Sprintf("%sBalance:%s %s (%s%s%s) │ %sTrades:%s %d │ %sStatus:%s %s │%s",
		ColorBold, ColorReset, ui.equity.StringFixed(2),
		pnlColor, signedFixed(pnl), ColorReset,
		ColorBold, ColorReset, ui.trades,
		ColorBold, ColorReset, ui.status,
		legend.String())
}

// renderChart creates an ASCII line chart of recent prices
func (ui *BacktestUI) renderChart() []string {
	height := ui.chartHeight
	if len(ui.prices) < 2 {
		lines := make([]string, height)
		for i := range lines {
			lines[i] = ColorDim + "│" + ColorReset
		}
		return lines
	}

	minPrice, maxPrice := ui.prices[0], ui.prices[0]
	for _, p := range ui.prices {
		minPrice = decimal.Min(minPrice, p)
		maxPrice = decimal.Max(maxPrice, p)
	}
	for _, l := range ui.levels {
		if l.Price.IsPositive() {
			minPrice = decimal.Min(minPrice, l.Price)
			maxPrice = decimal.Max(maxPrice, l.Price)
		}
	}

	// Add padding to price range
	priceRange := maxPrice.Sub(minPrice)
	if priceRange.IsZero() {
		priceRange = maxPrice.Mul(decimal.RequireFromString("0.01"))
	}
	padding := priceRange.Mul(decimal.RequireFromString("0.05"))
	minPrice = minPrice.Sub(padding)
	priceRange = priceRange.Add(padding.Mul(decimal.NewFromInt(2)))

	width := len(ui.prices)
	chart := make([][]rune, height)
	colors := make([][]string, height)
	for i := range chart {
		chart[i] = make([]rune, width)
		colors[i] = make([]string, width)
		for j := range chart[i] {
			chart[i][j] = ' '
			colors[i][j] = ColorReset
		}
	}

	for _, l := range ui.levels {
		if !l.Price.IsPositive() {
			continue
		}
		y := priceToY(l.Price, minPrice, priceRange, height)
		for x := 0; x < width; x++ {
			chart[y][x] = '┄'
			colors[y][x] = l.Color
		}
	}

	for x, p := range ui.prices {
		y := priceToY(p, minPrice, priceRange, height)
		color := ColorGreen
		if x > 0 && p.GreaterThan(ui.prices[x-1]) {
			color = ColorRed // rising price hurts a short
		}
		chart[y][x] = '•'
		colors[y][x] = color
	}

	lines := make([]string, height)
	labelEvery := height / 4
	for y := 0; y < height; y++ {
		var sb strings.Builder

		if y%labelEvery == 0 {
			price := yToPrice(y, minPrice, priceRange, height)
			sb.WriteString(fmt.Sprintf("%s%9s%s │", ColorDim, price.StringFixed(2), ColorReset))
		} else {
			sb.WriteString(fmt.Sprintf("%s          │%s", ColorDim, ColorReset))
		}

		for x := 0; x < width; x++ {
			sb.WriteString(colors[y][x])
			sb.WriteRune(chart[y][x])
		}
		sb.WriteString(ColorReset)

		lines[y] = sb.String()
	}

	axisLine := strings.Repeat("─", width)
	lines = append(lines, fmt.Sprintf("%s          └%s%s", ColorDim, axisLine, ColorReset))

	return lines
}

// priceToY converts a price to a row, clamped to the chart.
func priceToY(price, minPrice, priceRange decimal.Decimal, height int) int {
	if priceRange.IsZero() {
		return height / 2
	}
	normalized := price.Sub(minPrice).Div(priceRange)
	y := decimal.NewFromInt(int64(height - 1)).Sub(normalized.Mul(decimal.NewFromInt(int64(height - 1))))
	row := int(y.Round(0).IntPart())
	if row < 0 {
		return 0
	}
	if row >= height {
		return height - 1
	}
	return row
}

// yToPrice converts y coordinate back to price
func yToPrice(y int, minPrice, priceRange decimal.Decimal, height int) decimal.Decimal {
	normalized := decimal.NewFromInt(int64(height - 1 - y)).Div(decimal.NewFromInt(int64(height - 1)))
	return minPrice.Add(priceRange.Mul(normalized))
}

// TerminalSize returns the stdout dimensions, or 80x24 when stdout is not a
// terminal.
func TerminalSize() (width, height int) {
	width, height, err := term.GetSize(int(os.Stdout.Fd()))
	if err != nil {
		return 80, 24
	}
	return width, height
}

// IsTerminal reports whether stdout is a terminal.
func IsTerminal() bool {
	return term.IsTerminal(int(os.Stdout.Fd()))
}

// ProgressLine prints a single updating progress line
func ProgressLine(w io.Writer, current, total int, message string) {
	progress := 0.0
	if total > 0 {
		progress = float64(current) / float64(total) * 100
	}
	fmt.Fprintf(w, "%s%s[%d/%d] %.1f%% - %s", ClearLine, MoveToStart, current, total, progress, message)
}

func signedFixed(d decimal.Decimal) string {
	s := d.StringFixed(2)
	if d.IsPositive() {
		return "+" + s
	}
	return s
}

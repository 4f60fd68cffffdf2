package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/tathienbao/short-averager/internal/strategy"
	"github.com/tathienbao/short-averager/internal/types"
)

// number accepts a JSON number or a numeric string.
type number struct {
	set   bool
	value decimal.Decimal
}

func (n *number) UnmarshalJSON(b []byte) error {
	if bytes.Equal(b, []byte("null")) {
		return nil
	}
	s := strings.Trim(string(b), `"`)
	if s == "" {
		return nil
	}
	v, err := decimal.NewFromString(s)
	if err != nil {
		return fmt.Errorf("not a number: %s", b)
	}
	n.set, n.value = true, v
	return nil
}

// startRequest is the body of POST /short_averaging.
type startRequest struct {
	Text             string `json:"text"`
	Ticker           string `json:"ticker"`
	Symbol           string `json:"symbol"`
	UsdtAmount       number `json:"usdt_amount"`
	AveragingPercent number `json:"averaging_percent"`
	InitialTPPercent number `json:"initial_tp_percent"`
	BreakevenStep    number `json:"breakeven_step"`
	StopLossPercent  number `json:"stop_loss_percent"`
	UseDemo          *bool  `json:"use_demo"`
	BreakevenBasis   string `json:"breakeven_basis"`
}

// stopRequest is the body of POST /stop_monitoring.
type stopRequest struct {
	Text   string `json:"text"`
	Ticker string `json:"ticker"`
	Symbol string `json:"symbol"`
	Force  bool   `json:"force"`
}

var errEmptyBody = errors.New("empty request body")

// decodeBody reads a JSON object into dst. A body that is not JSON is taken
// as the signal text itself, so plain alerts like "ALUUSDT.P: Code 1" work.
func decodeBody(body []byte, dst any, setText func(string)) error {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return errEmptyBody
	}
	if err := json.Unmarshal(trimmed, dst); err != nil {
		if trimmed[0] == '{' {
			return fmt.Errorf("invalid JSON body: %w", err)
		}
		setText(string(trimmed))
	}
	return nil
}

// firstSymbol returns the first non-empty candidate in text, ticker, symbol order.
func firstSymbol(candidates ...string) string {
	for _, c := range candidates {
		if strings.TrimSpace(c) != "" {
			return c
		}
	}
	return ""
}

// ParseSymbol extracts the trading symbol from a signal. Surrounding quotes,
// the text after the first colon and a perpetual ".P" suffix are dropped,
// then the symbol is normalized to the USDT linear contract.
func ParseSymbol(raw string) (string, error) {
	s := strings.TrimSpace(raw)
	if i := strings.Index(s, ":"); i >= 0 {
		s = s[:i]
	}
	s = strings.Trim(strings.TrimSpace(s), `'"`)
	s = strings.TrimSuffix(strings.TrimSuffix(s, ".P"), ".p")

	symbol := strategy.NormalizeSymbol(s)
	if symbol == "" {
		return "", fmt.Errorf("%w: empty symbol", types.ErrInvalidSymbol)
	}
	for _, r := range symbol {
		if (r < 'A' || r > 'Z') && (r < '0' || r > '9') {
			return "", fmt.Errorf("%w: %q", types.ErrInvalidSymbol, raw)
		}
	}
	return symbol, nil
}

// params overlays the request onto the configured defaults.
func (r startRequest) params(defaults strategy.Params) (strategy.Params, error) {
	symbol, err := ParseSymbol(firstSymbol(r.Text, r.Ticker, r.Symbol))
	if err != nil {
		return strategy.Params{}, err
	}

	p := defaults
	p.Symbol = symbol
	overlay := []struct {
		n   number
		dst *decimal.Decimal
	}{
		{r.UsdtAmount, &p.UsdtAmount},
		{r.AveragingPercent, &p.AveragingPercent},
		{r.InitialTPPercent, &p.InitialTPPercent},
		{r.BreakevenStep, &p.BreakevenStep},
		{r.StopLossPercent, &p.StopLossPercent},
	}
	for _, o := range overlay {
		if o.n.set {
			*o.dst = o.n.value
		}
	}
	if r.UseDemo != nil {
		p.UseDemo = *r.UseDemo
	}
	if r.BreakevenBasis != "" {
		basis, err := strategy.ParseBreakevenBasis(r.BreakevenBasis)
		if err != nil {
			return strategy.Params{}, err
		}
		p.Basis = basis
	}
	return p, p.Validate()
}

package instrument

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/tathienbao/short-averager/internal/types"
)

type stubSource struct {
	rules types.InstrumentRules
	err   error
	calls int
}

func (s *stubSource) InstrumentRules(ctx context.Context, symbol string) (types.InstrumentRules, error) {
	s.calls++
	return s.rules, s.err
}

func TestQtyPrecision(t *testing.T) {
	tests := []struct {
		step string
		want int32
	}{
		{"0.001", 3},
		{"0.01", 2},
		{"0.1", 1},
		{"1", 0},
		{"10", 0},
		{"0.00001", 5},
		{"0.0010", 3},
		{"0.5", 1},
		{"1e-05", 5},
		{"1E-3", 3},
		{"5e-1", 1},
		{"1e+1", 0},
	}

	for _, tt := range tests {
		got := QtyPrecision(decimal.RequireFromString(tt.step))
		if got != tt.want {
			t.Errorf("QtyPrecision(%s) = %d, want %d", tt.step, got, tt.want)
		}
	}
}

func TestResolver_ExchangeRules(t *testing.T) {
	src := &stubSource{rules: types.InstrumentRules{
		QtyStep: decimal.RequireFromString("0.01"),
		MinQty:  decimal.RequireFromString("0.01"),
		MaxQty:  decimal.NewFromInt(500),
	}}
	r := NewResolver(src, nil)

	rules := r.Resolve(context.Background(), "ETHUSDT")
	if rules.Fallback {
		t.Fatal("expected exchange rules, got fallback")
	}
	if rules.QtyPrecision != 2 {
		t.Errorf("QtyPrecision = %d, want 2", rules.QtyPrecision)
	}
	if rules.Symbol != "ETHUSDT" {
		t.Errorf("Symbol = %q, want ETHUSDT", rules.Symbol)
	}
	if !rules.PriceTick.Equal(types.FallbackPriceTick) {
		t.Errorf("PriceTick = %s, want fallback tick", rules.PriceTick)
	}

	r.Resolve(context.Background(), "ETHUSDT")
	if src.calls != 1 {
		t.Errorf("source calls = %d, want 1 (cached)", src.calls)
	}

	r.Invalidate("ETHUSDT")
	r.Resolve(context.Background(), "ETHUSDT")
	if src.calls != 2 {
		t.Errorf("source calls = %d, want 2 after invalidate", src.calls)
	}
}

func TestResolver_FallbackOnError(t *testing.T) {
	src := &stubSource{err: errors.New("timeout")}
	r := NewResolver(src, nil)

	rules := r.Resolve(context.Background(), "XYZUSDT")
	if !rules.Fallback {
		t.Fatal("expected fallback rules")
	}
	if !rules.QtyStep.Equal(decimal.RequireFromString("0.001")) || rules.QtyPrecision != 3 {
		t.Errorf("fallback step/precision = %s/%d, want 0.001/3", rules.QtyStep, rules.QtyPrecision)
	}

	// Fallbacks are not cached.
	r.Resolve(context.Background(), "XYZUSDT")
	if src.calls != 2 {
		t.Errorf("source calls = %d, want 2", src.calls)
	}
}

func TestResolver_FallbackOnInvalidStep(t *testing.T) {
	r := NewResolver(&stubSource{rules: types.InstrumentRules{QtyStep: decimal.Zero}}, nil)

	if rules := r.Resolve(context.Background(), "BTCUSDT"); !rules.Fallback {
		t.Error("expected fallback for zero qty step")
	}
}

func TestResolver_NilSource(t *testing.T) {
	r := NewResolver(nil, nil)
	if rules := r.Resolve(context.Background(), "BTCUSDT"); !rules.Fallback {
		t.Error("expected fallback with nil source")
	}
}

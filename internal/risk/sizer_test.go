package risk

import (
	"math/rand"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/tathienbao/short-averager/internal/types"
)

func rules(step string, precision int32, minQty, maxQty string) types.InstrumentRules {
	return types.InstrumentRules{
		QtyStep:      decimal.RequireFromString(step),
		QtyPrecision: precision,
		MinQty:       decimal.RequireFromString(minQty),
		MaxQty:       decimal.RequireFromString(maxQty),
	}
}

func TestQuantitySizer_Size(t *testing.T) {
	sizer := NewQuantitySizer()

	tests := []struct {
		name       string
		usdt       string
		price      string
		rules      types.InstrumentRules
		wantQty    string
		wantBumped bool
	}{
		{
			name:    "plain division",
			usdt:    "100",
			price:   "50000",
			rules:   rules("0.001", 3, "0.001", "100"),
			wantQty: "0.002",
		},
		{
			name:    "rounded to precision",
			usdt:    "100",
			price:   "3",
			rules:   rules("0.1", 1, "0.1", "100000"),
			wantQty: "33.3",
		},
		{
			name:    "clamped up to min",
			usdt:    "10",
			price:   "100000",
			rules:   rules("0.001", 3, "0.001", "100"),
			wantQty: "0.001",
			// 0.001 * 100000 = 100 >= 5, no bump needed
		},
		{
			name:    "clamped down to max",
			usdt:    "1000000",
			price:   "1",
			rules:   rules("1", 0, "1", "5000"),
			wantQty: "5000",
		},
		{
			name:       "bumped to minimum notional",
			usdt:       "4",
			price:      "2",
			rules:      rules("1", 0, "1", "1000"),
			wantQty:    "3",
			wantBumped: true,
		},
		{
			name:       "bumped after min clamp",
			usdt:       "1",
			price:      "1000",
			rules:      rules("0.001", 3, "0.001", "100"),
			wantQty:    "0.005",
			wantBumped: true,
		},
		{
			name:    "scientific step",
			usdt:    "100",
			price:   "0.3",
			rules:   rules("0.00001", 5, "0.00001", "10000000"),
			wantQty: "333.33333",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := sizer.Size(decimal.RequireFromString(tt.usdt), decimal.RequireFromString(tt.price), tt.rules)
			if !got.Qty.Equal(decimal.RequireFromString(tt.wantQty)) {
				t.Errorf("Qty = %s, want %s", got.Qty, tt.wantQty)
			}
			if got.Bumped != tt.wantBumped {
				t.Errorf("Bumped = %v, want %v", got.Bumped, tt.wantBumped)
			}
			if !got.Notional.Equal(got.Qty.Mul(decimal.RequireFromString(tt.price))) {
				t.Errorf("Notional = %s, want qty*price", got.Notional)
			}
		})
	}
}

func TestQuantitySizer_InvalidInput(t *testing.T) {
	sizer := NewQuantitySizer()
	r := types.FallbackRules("BTCUSDT")

	for _, tc := range []struct{ usdt, price string }{
		{"100", "0"},
		{"100", "-1"},
		{"0", "100"},
		{"-5", "100"},
	} {
		got := sizer.Size(decimal.RequireFromString(tc.usdt), decimal.RequireFromString(tc.price), r)
		if !got.Qty.IsZero() {
			t.Errorf("Size(%s, %s).Qty = %s, want 0", tc.usdt, tc.price, got.Qty)
		}
	}
}

func TestQuantitySizer_BumpStopsAtMax(t *testing.T) {
	sizer := NewQuantitySizer()
	got := sizer.Size(decimal.NewFromInt(1), decimal.NewFromInt(1), rules("1", 0, "1", "2"))

	if !got.Qty.Equal(decimal.NewFromInt(2)) {
		t.Errorf("Qty = %s, want 2 (max)", got.Qty)
	}
}

func TestQuantitySizer_CustomMinNotional(t *testing.T) {
	sizer := NewQuantitySizerWithMinNotional(decimal.NewFromInt(100))
	got := sizer.Size(decimal.NewFromInt(10), decimal.NewFromInt(10), rules("1", 0, "1", "1000"))

	if !got.Qty.Equal(decimal.NewFromInt(10)) || !got.Bumped {
		t.Errorf("Size() = %s bumped=%v, want 10 bumped=true", got.Qty, got.Bumped)
	}
}

// TestQuantitySizer_Properties checks bounds, precision and notional over random inputs.
func TestQuantitySizer_Properties(t *testing.T) {
	sizer := NewQuantitySizer()
	rng := rand.New(rand.NewSource(42))
	steps := []struct {
		step      string
		precision int32
	}{
		{"1", 0}, {"0.1", 1}, {"0.01", 2}, {"0.001", 3}, {"0.00001", 5},
	}

	for i := 0; i < 2000; i++ {
		s := steps[rng.Intn(len(steps))]
		step := decimal.RequireFromString(s.step)
		r := types.InstrumentRules{
			QtyStep:      step,
			QtyPrecision: s.precision,
			MinQty:       step,
			MaxQty:       decimal.NewFromInt(1_000_000),
		}
		usdt := decimal.NewFromFloat(rng.Float64()*1000 + 5).Round(2)
		price := decimal.NewFromFloat(rng.Float64()*60000 + 0.5).Round(3)

		got := sizer.Size(usdt, price, r)

		if got.Qty.LessThan(r.MinQty) || got.Qty.GreaterThan(r.MaxQty) {
			t.Fatalf("Size(%s, %s) qty %s outside [%s, %s]", usdt, price, got.Qty, r.MinQty, r.MaxQty)
		}
		if !got.Qty.Equal(got.Qty.Round(s.precision)) {
			t.Fatalf("Size(%s, %s) qty %s not at precision %d", usdt, price, got.Qty, s.precision)
		}
		if got.Notional.LessThan(MinNotional) {
			t.Fatalf("Size(%s, %s) notional %s below minimum", usdt, price, got.Notional)
		}
	}
}

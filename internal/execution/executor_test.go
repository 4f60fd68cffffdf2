package execution

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/tathienbao/short-averager/internal/broker"
	"github.com/tathienbao/short-averager/internal/types"
)

// stubGateway fails the first failN calls of each operation.
type stubGateway struct {
	failN      map[string]int
	calls      map[string]int
	openOrders []broker.Order
	lastSide   types.Side
	lastReduce bool
	lastPrice  decimal.Decimal
}

func newStubGateway() *stubGateway {
	return &stubGateway{failN: map[string]int{}, calls: map[string]int{}}
}

var errExchange = errors.New("exchange unavailable")

func (g *stubGateway) hit(op string) error {
	g.calls[op]++
	if g.calls[op] <= g.failN[op] {
		return errExchange
	}
	return nil
}

func (g *stubGateway) PlaceMarketOrder(ctx context.Context, symbol string, side types.Side, qty decimal.Decimal, reduceOnly bool) (*broker.OrderResult, error) {
	g.lastSide, g.lastReduce = side, reduceOnly
	if err := g.hit("market"); err != nil {
		return nil, err
	}
	return &broker.OrderResult{OrderID: "m1", Symbol: symbol, Side: side, Qty: qty}, nil
}

func (g *stubGateway) PlaceLimitOrder(ctx context.Context, symbol string, side types.Side, qty, price decimal.Decimal) (string, error) {
	if err := g.hit("limit"); err != nil {
		return "", err
	}
	return "l1", nil
}

func (g *stubGateway) CancelOrder(ctx context.Context, symbol, orderID string) error {
	return g.hit("cancel")
}

func (g *stubGateway) GetOpenOrders(ctx context.Context, symbol string) ([]broker.Order, error) {
	if err := g.hit("open_orders"); err != nil {
		return nil, err
	}
	return g.openOrders, nil
}

func (g *stubGateway) IsOrderFilled(ctx context.Context, symbol, orderID string) (bool, error) {
	return false, nil
}

func (g *stubGateway) GetPositionSize(ctx context.Context, symbol string) (decimal.Decimal, error) {
	return decimal.Zero, nil
}

func (g *stubGateway) GetPositionAvgPrice(ctx context.Context, symbol string) (decimal.Decimal, bool, error) {
	return decimal.Zero, false, nil
}

func (g *stubGateway) GetLastPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	if err := g.hit("price"); err != nil {
		return decimal.Zero, err
	}
	return g.lastPrice, nil
}

func fastRetry() RetryPolicy {
	return RetryPolicy{MaxAttempts: 3, Delay: time.Millisecond}
}

func TestRetryPolicy_RunSucceedsAfterFailures(t *testing.T) {
	calls := 0
	err := fastRetry().Run(context.Background(), "test", nil, func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return errExchange
		}
		return nil
	})

	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
}

func TestRetryPolicy_RunReturnsLastError(t *testing.T) {
	calls := 0
	err := fastRetry().Run(context.Background(), "test", nil, func(ctx context.Context) error {
		calls++
		return errExchange
	})

	if !errors.Is(err, errExchange) {
		t.Errorf("Run() error = %v, want %v", err, errExchange)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
}

func TestRetryPolicy_ZeroAttemptsRunsOnce(t *testing.T) {
	calls := 0
	_ = RetryPolicy{}.Run(context.Background(), "test", nil, func(ctx context.Context) error {
		calls++
		return errExchange
	})
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestRetryPolicy_DoesNotRetryCancellation(t *testing.T) {
	calls := 0
	_ = fastRetry().Run(context.Background(), "test", nil, func(ctx context.Context) error {
		calls++
		return context.Canceled
	})
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestGet_ReturnsValue(t *testing.T) {
	calls := 0
	got, err := Get(context.Background(), fastRetry(), "test", nil, func(ctx context.Context) (int, error) {
		calls++
		if calls == 1 {
			return 0, errExchange
		}
		return 42, nil
	})
	if err != nil || got != 42 {
		t.Errorf("Get() = %d, %v, want 42, nil", got, err)
	}
}

func TestDefaultRetryPolicy(t *testing.T) {
	p := DefaultRetryPolicy()
	if p.MaxAttempts != 3 || p.Delay != 500*time.Millisecond {
		t.Errorf("DefaultRetryPolicy() = %+v, want 3 attempts, 500ms", p)
	}
}

func TestExecutor_OpenShortSingleAttempt(t *testing.T) {
	gw := newStubGateway()
	gw.failN["market"] = 1
	e := NewExecutor(gw, fastRetry(), nil)

	if _, err := e.OpenShort(context.Background(), "BTCUSDT", decimal.NewFromInt(1)); err == nil {
		t.Fatal("expected open error")
	}
	if gw.calls["market"] != 1 {
		t.Errorf("market calls = %d, want 1", gw.calls["market"])
	}
	if gw.lastSide != types.SideShort || gw.lastReduce {
		t.Errorf("open side/reduce = %v/%v, want short/false", gw.lastSide, gw.lastReduce)
	}
}

func TestExecutor_CloseShortRetriesReduceOnlyBuy(t *testing.T) {
	gw := newStubGateway()
	gw.failN["market"] = 2
	e := NewExecutor(gw, fastRetry(), nil)

	res, err := e.CloseShort(context.Background(), "BTCUSDT", decimal.NewFromInt(1))
	if err != nil {
		t.Fatalf("CloseShort() error = %v", err)
	}
	if res.OrderID != "m1" {
		t.Errorf("OrderID = %s, want m1", res.OrderID)
	}
	if gw.calls["market"] != 3 {
		t.Errorf("market calls = %d, want 3", gw.calls["market"])
	}
	if gw.lastSide != types.SideLong || !gw.lastReduce {
		t.Errorf("close side/reduce = %v/%v, want long/true", gw.lastSide, gw.lastReduce)
	}
}

func TestExecutor_CloseShortExhausted(t *testing.T) {
	gw := newStubGateway()
	gw.failN["market"] = 10
	e := NewExecutor(gw, fastRetry(), nil)

	_, err := e.CloseShort(context.Background(), "BTCUSDT", decimal.NewFromInt(1))
	if !errors.Is(err, errExchange) {
		t.Errorf("CloseShort() error = %v, want %v", err, errExchange)
	}
}

func TestExecutor_Cancel(t *testing.T) {
	tests := []struct {
		name        string
		cancelFails int
		openFails   int
		open        []broker.Order
		wantErr     bool
	}{
		{name: "first attempt", cancelFails: 0},
		{name: "after retries", cancelFails: 2},
		{name: "exhausted but gone", cancelFails: 3, open: []broker.Order{{OrderID: "other"}}},
		{name: "exhausted and still open", cancelFails: 3, open: []broker.Order{{OrderID: "o1"}}, wantErr: true},
		{name: "exhausted and check fails", cancelFails: 3, openFails: 1, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gw := newStubGateway()
			gw.failN["cancel"] = tt.cancelFails
			gw.failN["open_orders"] = tt.openFails
			gw.openOrders = tt.open
			e := NewExecutor(gw, fastRetry(), nil)

			err := e.Cancel(context.Background(), "BTCUSDT", "o1")
			if (err != nil) != tt.wantErr {
				t.Errorf("Cancel() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestExecutor_CancelEmptyID(t *testing.T) {
	gw := newStubGateway()
	e := NewExecutor(gw, fastRetry(), nil)

	if err := e.Cancel(context.Background(), "BTCUSDT", ""); err != nil {
		t.Errorf("Cancel(\"\") error = %v", err)
	}
	if gw.calls["cancel"] != 0 {
		t.Errorf("cancel calls = %d, want 0", gw.calls["cancel"])
	}
}

func TestExecutor_LastPrice(t *testing.T) {
	gw := newStubGateway()
	gw.lastPrice = decimal.NewFromInt(100)
	e := NewExecutor(gw, fastRetry(), nil)

	if price, ok := e.LastPrice(context.Background(), "BTCUSDT"); !ok || !price.Equal(decimal.NewFromInt(100)) {
		t.Errorf("LastPrice() = %s, %v, want 100, true", price, ok)
	}

	gw.failN["price"] = 10
	if _, ok := e.LastPrice(context.Background(), "BTCUSDT"); ok {
		t.Error("LastPrice() ok = true on error")
	}
	if gw.calls["price"] != 2 {
		t.Errorf("price calls = %d, want 2 (no retry)", gw.calls["price"])
	}
}

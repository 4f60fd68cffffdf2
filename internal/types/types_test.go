package types

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

// TestSide_String tests Side string conversion.
func TestSide_String(t *testing.T) {
	tests := []struct {
		side Side
		want string
	}{
		{SideLong, "LONG"},
		{SideShort, "SHORT"},
		{SideFlat, "FLAT"},
		{Side(99), "FLAT"}, // Unknown defaults to FLAT
	}

	for _, tt := range tests {
		got := tt.side.String()
		if got != tt.want {
			t.Errorf("Side(%d).String() = %s, want %s", tt.side, got, tt.want)
		}
	}
}

// TestSide_Opposite tests direction flip.
func TestSide_Opposite(t *testing.T) {
	tests := []struct {
		side Side
		want Side
	}{
		{SideLong, SideShort},
		{SideShort, SideLong},
		{SideFlat, SideFlat},
	}

	for _, tt := range tests {
		got := tt.side.Opposite()
		if got != tt.want {
			t.Errorf("Side(%d).Opposite() = %d, want %d", tt.side, got, tt.want)
		}
	}
}

func TestSide_OrderSide(t *testing.T) {
	if got := SideShort.OrderSide(); got != "Sell" {
		t.Errorf("SideShort.OrderSide() = %s, want Sell", got)
	}
	if got := SideShort.Opposite().OrderSide(); got != "Buy" {
		t.Errorf("closing side = %s, want Buy", got)
	}
	if got := SideFlat.OrderSide(); got != "" {
		t.Errorf("SideFlat.OrderSide() = %q, want empty", got)
	}
}

func TestPositionStatus_Terminal(t *testing.T) {
	tests := []struct {
		status   PositionStatus
		terminal bool
		open     bool
	}{
		{StatusIdle, false, false},
		{StatusOpeningPosition, false, false},
		{StatusAveragingPending, false, true},
		{StatusAveraged, false, true},
		{StatusClosing, false, false},
		{StatusClosed, true, false},
		{StatusFailed, true, false},
	}

	for _, tt := range tests {
		if got := tt.status.IsTerminal(); got != tt.terminal {
			t.Errorf("%s.IsTerminal() = %v, want %v", tt.status, got, tt.terminal)
		}
		if got := tt.status.IsOpen(); got != tt.open {
			t.Errorf("%s.IsOpen() = %v, want %v", tt.status, got, tt.open)
		}
	}
}

func TestCloseReason_ParseRoundTrip(t *testing.T) {
	for _, r := range []CloseReason{CloseReasonStop, CloseReasonBreakeven, CloseReasonStopLoss} {
		if got := ParseCloseReason(r.String()); got != r {
			t.Errorf("ParseCloseReason(%s) = %v, want %v", r, got, r)
		}
	}
	if got := ParseCloseReason("garbage"); got != CloseReasonNone {
		t.Errorf("ParseCloseReason(garbage) = %v, want NONE", got)
	}
}

func TestFallbackRules(t *testing.T) {
	r := FallbackRules("FOOUSDT")

	if !r.Fallback {
		t.Error("Fallback flag should be set")
	}
	if r.QtyPrecision != 3 {
		t.Errorf("QtyPrecision = %d, want 3", r.QtyPrecision)
	}
	if !r.MinQty.Equal(decimal.RequireFromString("0.001")) {
		t.Errorf("MinQty = %s, want 0.001", r.MinQty)
	}
	if !r.MaxQty.Equal(decimal.NewFromInt(1_000_000)) {
		t.Errorf("MaxQty = %s, want 1000000", r.MaxQty)
	}
}

func TestPositionSnapshot_BasePrice(t *testing.T) {
	avg := decimal.NewFromInt(105)
	snap := PositionSnapshot{EntryPrice: decimal.NewFromInt(100)}

	if !snap.BasePrice().Equal(decimal.NewFromInt(100)) {
		t.Errorf("BasePrice() = %s, want 100", snap.BasePrice())
	}

	snap.IsAveraged = true
	snap.AveragedPrice = &avg
	if !snap.BasePrice().Equal(avg) {
		t.Errorf("BasePrice() after averaging = %s, want 105", snap.BasePrice())
	}
}

func TestEvent_Trade(t *testing.T) {
	opened := time.Date(2025, 1, 2, 10, 0, 0, 0, time.UTC)
	closed := opened.Add(time.Hour)

	ev := Event{
		Kind:        EventPositionClosed,
		Time:        closed,
		Symbol:      "BTCUSDT",
		PositionID:  "pos-1",
		Quantity:    decimal.RequireFromString("0.002"),
		EntryPrice:  decimal.NewFromInt(100),
		ClosePrice:  decimal.NewFromInt(97),
		PnLPercent:  decimal.NewFromInt(3),
		PnLUsdt:     decimal.RequireFromString("0.006"),
		WasAveraged: true,
		Reason:      CloseReasonBreakeven,
		UsdtAmount:  decimal.NewFromInt(100),
		OpenedAt:    opened,
	}

	trade := ev.Trade()
	if trade.ID != "pos-1" || trade.Symbol != "BTCUSDT" {
		t.Errorf("trade identity = %s/%s, want pos-1/BTCUSDT", trade.ID, trade.Symbol)
	}
	if trade.Side != SideShort {
		t.Errorf("Side = %v, want SHORT", trade.Side)
	}
	if !trade.ClosedAt.Equal(closed) || !trade.OpenedAt.Equal(opened) {
		t.Errorf("times = %v..%v, want %v..%v", trade.OpenedAt, trade.ClosedAt, opened, closed)
	}
	if !trade.IsWin() {
		t.Error("positive PnL should be a win")
	}
}

func TestEventKind_String(t *testing.T) {
	if EventPositionClosed.String() != "position_closed" {
		t.Errorf("EventPositionClosed.String() = %s", EventPositionClosed.String())
	}
	if EventKind(0).String() != "unknown" {
		t.Errorf("EventKind(0).String() = %s, want unknown", EventKind(0).String())
	}
}

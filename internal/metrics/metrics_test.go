package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/shopspring/decimal"
)

// value reads the current value of a counter or gauge.
func value(t *testing.T, m prometheus.Metric) float64 {
	t.Helper()
	var pb dto.Metric
	if err := m.Write(&pb); err != nil {
		t.Fatalf("write metric: %v", err)
	}
	switch {
	case pb.Counter != nil:
		return pb.Counter.GetValue()
	case pb.Gauge != nil:
		return pb.Gauge.GetValue()
	}
	t.Fatal("metric is neither counter nor gauge")
	return 0
}

func TestRecorder_RecordOrder(t *testing.T) {
	r := NewRecorder()

	before := value(t, OrdersTotal.WithLabelValues("TESTUSDT", "close", "error"))
	r.RecordOrder("TESTUSDT", "close", errors.New("rejected"), 120*time.Millisecond)
	r.RecordOrder("TESTUSDT", "close", nil, 80*time.Millisecond)

	if got := value(t, OrdersTotal.WithLabelValues("TESTUSDT", "close", "error")); got != before+1 {
		t.Errorf("error orders = %v, want %v", got, before+1)
	}
	if got := value(t, OrdersTotal.WithLabelValues("TESTUSDT", "close", "ok")); got < 1 {
		t.Errorf("ok orders = %v, want >= 1", got)
	}
}

func TestRecorder_PositionLifecycle(t *testing.T) {
	r := NewRecorder()

	before := value(t, PositionsOpen)
	r.RecordPositionOpened("LIFEUSDT", decimal.RequireFromString("0.5"))
	if got := value(t, PositionQuantity.WithLabelValues("LIFEUSDT")); got != 0.5 {
		t.Errorf("quantity = %v, want 0.5", got)
	}

	r.RecordPositionQuantity("LIFEUSDT", decimal.NewFromInt(1))
	if got := value(t, PositionQuantity.WithLabelValues("LIFEUSDT")); got != 1 {
		t.Errorf("quantity = %v, want 1", got)
	}

	r.RecordPositionEnded("LIFEUSDT", true)
	if got := value(t, PositionsOpen); got != before {
		t.Errorf("positions open = %v, want %v", got, before)
	}
}

func TestRecorder_RecordTrade(t *testing.T) {
	r := NewRecorder()

	r.RecordTrade("PNLUSDT", "breakeven", decimal.NewFromInt(3))
	r.RecordTrade("PNLUSDT", "stop_loss", decimal.NewFromInt(-15))

	if got := value(t, TradesTotal.WithLabelValues("PNLUSDT", "breakeven", "win")); got != 1 {
		t.Errorf("wins = %v, want 1", got)
	}
	if got := value(t, TradesTotal.WithLabelValues("PNLUSDT", "stop_loss", "loss")); got != 1 {
		t.Errorf("losses = %v, want 1", got)
	}
}

func TestRecorder_Feed(t *testing.T) {
	r := NewRecorder()

	r.RecordFeedStatus("tickers.FEEDUSDT", true)
	if got := value(t, FeedConnected.WithLabelValues("tickers.FEEDUSDT")); got != 1 {
		t.Errorf("feed connected = %v, want 1", got)
	}
	r.RecordFeedStatus("tickers.FEEDUSDT", false)
	if got := value(t, FeedConnected.WithLabelValues("tickers.FEEDUSDT")); got != 0 {
		t.Errorf("feed connected = %v, want 0", got)
	}

	r.RecordFeedReconnect("tickers.FEEDUSDT", "silence")
	if got := value(t, FeedReconnects.WithLabelValues("tickers.FEEDUSDT", "silence")); got != 1 {
		t.Errorf("reconnects = %v, want 1", got)
	}
}

func TestRecorder_Misc(t *testing.T) {
	r := NewRecorder()

	r.RecordTransition("averaged")
	r.RecordAveraging("BTCUSDT")
	r.RecordBreakevenMove("BTCUSDT")
	r.RecordStartRequest(true)
	r.RecordStartRequest(false)
	r.RecordTickLag(time.Now().Add(-50 * time.Millisecond))
	r.RecordTickLag(time.Time{})
	r.RecordReconcile(3 * time.Millisecond)
	r.RecordHeartbeat()
	r.RecordError("close_failed")
}

func TestTimer(t *testing.T) {
	timer := NewTimer()
	time.Sleep(10 * time.Millisecond)

	if elapsed := timer.Elapsed(); elapsed < 10*time.Millisecond {
		t.Errorf("elapsed = %v, expected >= 10ms", elapsed)
	}
}

func TestSetBuildInfo(t *testing.T) {
	SetBuildInfo("1.0.0", "abc123", "2024-12-31")
}

func TestMetricsRegistered(t *testing.T) {
	collectors := []prometheus.Collector{
		OrdersTotal,
		OrderLatency,
		PositionsOpen,
		PositionQuantity,
		PositionTransitions,
		AveragingExecuted,
		BreakevenMoves,
		TradesTotal,
		RealizedPnL,
		StartRequests,
		FeedConnected,
		FeedReconnects,
		TickLag,
		ReconcileLatency,
		ErrorsTotal,
		HeartbeatTimestamp,
		BuildInfo,
	}

	for _, c := range collectors {
		if c == nil {
			t.Error("metric is nil")
		}
	}
}

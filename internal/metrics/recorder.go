package metrics

import (
	"time"

	"github.com/shopspring/decimal"
)

// Recorder provides methods for recording metrics.
type Recorder struct{}

// NewRecorder creates a new metrics recorder.
func NewRecorder() *Recorder {
	return &Recorder{}
}

// RecordOrder records an exchange order call and its latency.
func (r *Recorder) RecordOrder(symbol, kind string, err error, duration time.Duration) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	OrdersTotal.WithLabelValues(symbol, kind, outcome).Inc()
	OrderLatency.WithLabelValues(kind).Observe(duration.Seconds())
}

// RecordPositionOpened records a position being opened.
func (r *Recorder) RecordPositionOpened(symbol string, qty decimal.Decimal) {
	PositionsOpen.Inc()
	PositionQuantity.WithLabelValues(symbol).Set(qty.InexactFloat64())
}

// RecordPositionQuantity records a reconciled quantity.
func (r *Recorder) RecordPositionQuantity(symbol string, qty decimal.Decimal) {
	PositionQuantity.WithLabelValues(symbol).Set(qty.InexactFloat64())
}

// RecordPositionEnded records a position leaving the engine, opened or not.
func (r *Recorder) RecordPositionEnded(symbol string, wasOpen bool) {
	if wasOpen {
		PositionsOpen.Dec()
	}
	PositionQuantity.DeleteLabelValues(symbol)
}

// RecordTransition records a state transition.
func (r *Recorder) RecordTransition(status string) {
	PositionTransitions.WithLabelValues(status).Inc()
}

// RecordAveraging records an averaging fill.
func (r *Recorder) RecordAveraging(symbol string) {
	AveragingExecuted.WithLabelValues(symbol).Inc()
}

// RecordBreakevenMove records a ratchet step.
func (r *Recorder) RecordBreakevenMove(symbol string) {
	BreakevenMoves.WithLabelValues(symbol).Inc()
}

// RecordTrade records a completed trade.
func (r *Recorder) RecordTrade(symbol, reason string, pnlUsdt decimal.Decimal) {
	outcome := "loss"
	if pnlUsdt.IsPositive() {
		outcome = "win"
	}
	TradesTotal.WithLabelValues(symbol, reason, outcome).Inc()
	RealizedPnL.Add(pnlUsdt.InexactFloat64())
}

// RecordStartRequest records an accepted or rejected start.
func (r *Recorder) RecordStartRequest(accepted bool) {
	if accepted {
		StartRequests.WithLabelValues("accepted").Inc()
	} else {
		StartRequests.WithLabelValues("rejected").Inc()
	}
}

// RecordFeedStatus records stream connection status.
func (r *Recorder) RecordFeedStatus(stream string, connected bool) {
	if connected {
		FeedConnected.WithLabelValues(stream).Set(1)
	} else {
		FeedConnected.WithLabelValues(stream).Set(0)
	}
}

// RecordFeedReconnect records a stream reconnect.
func (r *Recorder) RecordFeedReconnect(stream, reason string) {
	FeedReconnects.WithLabelValues(stream, reason).Inc()
}

// RecordTickLag records how old a tick was when processed.
func (r *Recorder) RecordTickLag(tickTime time.Time) {
	if tickTime.IsZero() {
		return
	}
	lag := time.Since(tickTime)
	if lag < 0 {
		lag = 0
	}
	TickLag.Observe(lag.Seconds())
}

// RecordReconcile records a reconciliation pass.
func (r *Recorder) RecordReconcile(duration time.Duration) {
	ReconcileLatency.Observe(duration.Seconds())
}

// RecordHeartbeat records a heartbeat.
func (r *Recorder) RecordHeartbeat() {
	HeartbeatTimestamp.Set(float64(time.Now().Unix()))
}

// RecordError records an error.
func (r *Recorder) RecordError(errorType string) {
	ErrorsTotal.WithLabelValues(errorType).Inc()
}

// Timer is a helper for measuring latency.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// Elapsed returns the elapsed duration.
func (t *Timer) Elapsed() time.Duration {
	return time.Since(t.start)
}

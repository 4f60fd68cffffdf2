// Package metrics exposes Prometheus collectors for the position engine.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "short_averager"

// Order metrics.
var (
	OrdersTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "orders_total",
		Help:      "Orders sent to the exchange by kind (open, averaging, close, cancel) and outcome.",
	}, []string{"symbol", "kind", "outcome"})

	OrderLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "order_latency_seconds",
		Help:      "Exchange order round-trip latency, including retries.",
		Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
	}, []string{"kind"})
)

// Position metrics.
var (
	PositionsOpen = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "positions_open",
		Help:      "Positions currently managed by an engine.",
	})

	PositionQuantity = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "position_quantity",
		Help:      "Open short quantity per symbol.",
	}, []string{"symbol"})

	PositionTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "position_transitions_total",
		Help:      "Position state transitions by target status.",
	}, []string{"status"})

	AveragingExecuted = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "averaging_executed_total",
		Help:      "Averaging limit orders detected as filled.",
	}, []string{"symbol"})

	BreakevenMoves = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "breakeven_moves_total",
		Help:      "Breakeven ratchet steps, including the first take-profit crossing.",
	}, []string{"symbol"})

	TradesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "trades_total",
		Help:      "Completed trades by close reason and outcome.",
	}, []string{"symbol", "reason", "outcome"})

	RealizedPnL = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "realized_pnl_usdt",
		Help:      "Cumulative realized PnL in USDT since start.",
	})

	StartRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "start_requests_total",
		Help:      "Position start requests by outcome.",
	}, []string{"outcome"})
)

// Feed metrics.
var (
	FeedConnected = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "feed_connected",
		Help:      "Websocket stream connection status (1 = connected).",
	}, []string{"stream"})

	FeedReconnects = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "feed_reconnects_total",
		Help:      "Websocket reconnects by reason (silence, error).",
	}, []string{"stream", "reason"})

	TickLag = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "tick_lag_seconds",
		Help:      "Delay between exchange tick time and engine processing.",
		Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 5},
	})

	ReconcileLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "reconcile_latency_seconds",
		Help:      "Duration of a fill and existence reconciliation pass.",
		Buckets:   prometheus.DefBuckets,
	})
)

// System metrics.
var (
	ErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "errors_total",
		Help:      "Errors by type.",
	}, []string{"type"})

	HeartbeatTimestamp = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "heartbeat_timestamp_seconds",
		Help:      "Unix time of the last engine heartbeat.",
	})

	BuildInfo = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "build_info",
		Help:      "Build information.",
	}, []string{"version", "commit", "build_time"})
)

// SetBuildInfo publishes the build labels.
func SetBuildInfo(version, commit, buildTime string) {
	BuildInfo.WithLabelValues(version, commit, buildTime).Set(1)
}

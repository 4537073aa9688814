// Package metrics exposes Prometheus metrics and the /healthz endpoint.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds all Prometheus metrics for the signal bot.
type Metrics struct {
	ObservationsTotal *prometheus.CounterVec // labels: kind=tick|candle
	CandlesBuilt      prometheus.Counter
	DroppedTicks      prometheus.Counter
	FeedReconnects    prometheus.Counter
	FeedDrops         *prometheus.CounterVec // labels: subscriber
	OutOfOrder        prometheus.Counter

	// Buffer
	BufferLen       prometheus.Gauge
	BufferEvictions prometheus.Counter

	// Indicator engine
	RecomputeDur     prometheus.Histogram
	RecomputesTotal  prometheus.Counter
	Discontinuities  prometheus.Counter
	IndicatorsWarm   prometheus.Gauge
	ProvisionalPrice prometheus.Gauge

	// Signal, sizing, execution
	SignalsTotal      *prometheus.CounterVec // labels: level
	SizingRejections  *prometheus.CounterVec // labels: reason
	OrdersTotal       *prometheus.CounterVec // labels: action, outcome
	ExecutionFailures prometheus.Counter
	CooldownSkips     prometheus.Counter
	PositionOpen      prometheus.Gauge
	Balance           prometheus.Gauge
	RealizedPnL       prometheus.Gauge

	// Storage
	SQLiteCommitted prometheus.Counter

	// Circuit breaker
	RedisCircuitBreakerState prometheus.Gauge // 0=closed, 1=open, 2=half-open
	RedisCircuitBreakerTrips prometheus.Counter
	RedisBufferedWrites      prometheus.Counter
	RedisDroppedWrites       prometheus.Counter
	PublishErrors            prometheus.Counter
}

// NewMetrics registers all metrics with the default Prometheus registry.
func NewMetrics() *Metrics {
	return NewMetricsWith(prometheus.DefaultRegisterer)
}

// NewMetricsWith registers all metrics with reg. Tests pass a fresh
// prometheus.NewRegistry() so repeated construction does not collide.
func NewMetricsWith(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		ObservationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "signalbot_observations_total",
			Help: "Price observations ingested, by kind",
		}, []string{"kind"}),
		CandlesBuilt: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "signalbot_candles_built_total",
			Help: "Candles aggregated from ticks",
		}),
		DroppedTicks: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "signalbot_dropped_ticks_total",
			Help: "Ticks dropped by the candle builder (late)",
		}),
		FeedReconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "signalbot_feed_reconnects_total",
			Help: "Total WebSocket reconnection attempts",
		}),
		FeedDrops: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "signalbot_fanout_drops_total",
			Help: "Observations dropped by the fan-out bus per subscriber",
		}, []string{"subscriber"}),
		OutOfOrder: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "signalbot_out_of_order_total",
			Help: "Candles rejected by the buffer for non-increasing timestamps",
		}),

		BufferLen: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "signalbot_buffer_len",
			Help: "Candles currently held in the buffer",
		}),
		BufferEvictions: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "signalbot_buffer_evictions_total",
			Help: "Candles evicted from the buffer on overflow",
		}),

		RecomputeDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "signalbot_recompute_duration_seconds",
			Help:    "Indicator recompute latency per cycle",
			Buckets: []float64{0.000001, 0.000005, 0.00001, 0.00005, 0.0001, 0.0005, 0.001, 0.01},
		}),
		RecomputesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "signalbot_recomputes_total",
			Help: "Recompute cycles run",
		}),
		Discontinuities: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "signalbot_feed_discontinuities_total",
			Help: "Candle gaps that forced an indicator re-warm",
		}),
		IndicatorsWarm: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "signalbot_indicators_warm",
			Help: "1 when every indicator has a value",
		}),
		ProvisionalPrice: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "signalbot_provisional_price",
			Help: "Latest observed price",
		}),

		SignalsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "signalbot_signals_total",
			Help: "Signals evaluated, by level",
		}, []string{"level"}),
		SizingRejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "signalbot_sizing_rejections_total",
			Help: "Risk sizing rejections, by reason",
		}, []string{"reason"}),
		OrdersTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "signalbot_orders_total",
			Help: "Execution coordinator actions, by action and outcome",
		}, []string{"action", "outcome"}),
		ExecutionFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "signalbot_execution_failures_total",
			Help: "Order placements that failed after all retries",
		}),
		CooldownSkips: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "signalbot_cooldown_skips_total",
			Help: "Actionable signals suppressed by the trade gap",
		}),
		PositionOpen: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "signalbot_position_open",
			Help: "Open position side (1=long, -1=short, 0=flat)",
		}),
		Balance: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "signalbot_balance",
			Help: "Available balance reported by the balance source",
		}),
		RealizedPnL: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "signalbot_realized_pnl",
			Help: "Realized PnL of the paper broker",
		}),

		SQLiteCommitted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "signalbot_sqlite_candles_committed_total",
			Help: "Candles committed to the SQLite history store",
		}),

		RedisCircuitBreakerState: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "signalbot_redis_circuit_breaker_state",
			Help: "Redis circuit breaker state (0=closed, 1=open, 2=half-open)",
		}),
		RedisCircuitBreakerTrips: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "signalbot_redis_circuit_breaker_trips_total",
			Help: "Times the Redis circuit breaker tripped open",
		}),
		RedisBufferedWrites: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "signalbot_redis_buffered_writes_total",
			Help: "Writes buffered locally while Redis was unavailable",
		}),
		RedisDroppedWrites: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "signalbot_redis_dropped_writes_total",
			Help: "Buffered writes dropped because the local buffer was full",
		}),
		PublishErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "signalbot_publish_errors_total",
			Help: "Snapshot or decision publishes that returned an error",
		}),
	}

	reg.MustRegister(
		m.ObservationsTotal,
		m.CandlesBuilt,
		m.DroppedTicks,
		m.FeedReconnects,
		m.FeedDrops,
		m.OutOfOrder,
		m.BufferLen,
		m.BufferEvictions,
		m.RecomputeDur,
		m.RecomputesTotal,
		m.Discontinuities,
		m.IndicatorsWarm,
		m.ProvisionalPrice,
		m.SignalsTotal,
		m.SizingRejections,
		m.OrdersTotal,
		m.ExecutionFailures,
		m.CooldownSkips,
		m.PositionOpen,
		m.Balance,
		m.RealizedPnL,
		m.SQLiteCommitted,
		m.RedisCircuitBreakerState,
		m.RedisCircuitBreakerTrips,
		m.RedisBufferedWrites,
		m.RedisDroppedWrites,
		m.PublishErrors,
	)

	return m
}

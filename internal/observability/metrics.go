// Package observability provides Prometheus metrics for monitoring.
package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"delta-keeper/internal/breaker"
)

// Metrics holds all Prometheus metrics for the application.
type Metrics struct {
	// Keeper metrics
	TicksTotal      *prometheus.CounterVec
	TickDuration    *prometheus.HistogramVec
	DecisionsTotal  *prometheus.CounterVec
	ExecutionErrors *prometheus.CounterVec
	TradesExecuted  *prometheus.CounterVec
	EmergencyExits  prometheus.Counter
	StrategiesLive  prometheus.Gauge

	// Position metrics
	PositionOpen  *prometheus.GaugeVec
	UnrealizedPnL *prometheus.GaugeVec
	Equity        *prometheus.GaugeVec

	// Market metrics
	FundingRate            *prometheus.GaugeVec
	EstimatedAPY           *prometheus.GaugeVec
	FundingSamplesRecorded prometheus.Counter

	// Breaker metrics
	BreakerState    *prometheus.GaugeVec
	BreakerErrors   *prometheus.GaugeVec
	BreakerRejected *prometheus.CounterVec

	// Feed metrics
	FeedMessages   prometheus.Counter
	FeedReconnects prometheus.Counter
	FeedErrors     *prometheus.CounterVec
	FeedLatency    prometheus.Histogram

	// Database metrics
	DBQueryDuration *prometheus.HistogramVec
	DBQueryErrors   *prometheus.CounterVec

	// Health metrics
	LastSuccessfulTick prometheus.Gauge
	UptimeSeconds      prometheus.Counter
}

// NewMetrics creates a new Metrics instance with all metrics registered.
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "delta_keeper"
	}

	return &Metrics{
		// Keeper metrics
		TicksTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "keeper",
			Name:      "ticks_total",
			Help:      "Total number of strategy evaluation ticks by outcome",
		}, []string{"strategy", "status"}),
		TickDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "keeper",
			Name:      "tick_duration_seconds",
			Help:      "Strategy evaluation tick duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"strategy"}),
		DecisionsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "keeper",
			Name:      "decisions_total",
			Help:      "Total number of decisions journaled by action",
		}, []string{"strategy", "action"}),
		ExecutionErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "keeper",
			Name:      "execution_errors_total",
			Help:      "Total number of execution errors by type",
		}, []string{"strategy", "error_type"}),
		TradesExecuted: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "keeper",
			Name:      "trades_executed_total",
			Help:      "Total number of fills produced by strategy decisions",
		}, []string{"strategy", "side"}),
		EmergencyExits: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "keeper",
			Name:      "emergency_exits_total",
			Help:      "Total number of emergency exits executed",
		}),
		StrategiesLive: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "keeper",
			Name:      "strategies_live",
			Help:      "Number of strategy loops currently running",
		}),

		// Position metrics
		PositionOpen: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "position",
			Name:      "open",
			Help:      "Whether the strategy currently holds a position (1) or is flat (0)",
		}, []string{"strategy", "asset"}),
		UnrealizedPnL: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "position",
			Name:      "unrealized_pnl",
			Help:      "Unrealized profit and loss in quote currency",
		}, []string{"strategy"}),
		Equity: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "position",
			Name:      "equity",
			Help:      "Account equity in quote currency",
		}, []string{"strategy"}),

		// Market metrics
		FundingRate: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "market",
			Name:      "funding_rate",
			Help:      "Last observed per-period funding rate",
		}, []string{"asset"}),
		EstimatedAPY: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "market",
			Name:      "estimated_apy_percent",
			Help:      "Estimated strategy APY in percent",
		}, []string{"strategy"}),
		FundingSamplesRecorded: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "market",
			Name:      "funding_samples_recorded_total",
			Help:      "Total number of funding samples journaled",
		}),

		// Breaker metrics
		BreakerState: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "breaker",
			Name:      "state",
			Help:      "Circuit breaker state (0 closed, 1 half-open, 2 open)",
		}, []string{"strategy"}),
		BreakerErrors: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "breaker",
			Name:      "errors_in_window",
			Help:      "Errors currently inside the breaker window",
		}, []string{"strategy"}),
		BreakerRejected: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "breaker",
			Name:      "rejected_total",
			Help:      "Total number of actions deferred by an open breaker",
		}, []string{"strategy"}),

		// Feed metrics
		FeedMessages: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "feed",
			Name:      "messages_total",
			Help:      "Total number of market data messages received",
		}),
		FeedReconnects: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "feed",
			Name:      "reconnects_total",
			Help:      "Total number of feed reconnections",
		}),
		FeedErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "feed",
			Name:      "errors_total",
			Help:      "Total number of feed errors by type",
		}, []string{"error_type"}),
		FeedLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "feed",
			Name:      "message_latency_seconds",
			Help:      "Feed message processing latency in seconds",
			Buckets:   prometheus.DefBuckets,
		}),

		// Database metrics
		DBQueryDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "database",
			Name:      "query_duration_seconds",
			Help:      "Database query duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"database", "operation"}),
		DBQueryErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "database",
			Name:      "query_errors_total",
			Help:      "Total number of database query errors",
		}, []string{"database", "operation"}),

		// Health metrics
		LastSuccessfulTick: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "health",
			Name:      "last_successful_tick_timestamp",
			Help:      "Unix timestamp of the last successful strategy tick",
		}),
		UptimeSeconds: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "health",
			Name:      "uptime_seconds_total",
			Help:      "Total uptime in seconds",
		}),
	}
}

// Handler returns an HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// DefaultMetrics is the default metrics instance.
var DefaultMetrics = NewMetrics("")

// RecordTick records one strategy evaluation tick.
func (m *Metrics) RecordTick(strategy, status string, seconds float64) {
	m.TicksTotal.WithLabelValues(strategy, status).Inc()
	m.TickDuration.WithLabelValues(strategy).Observe(seconds)
}

// RecordDecision counts a journaled decision by action.
func (m *Metrics) RecordDecision(strategy, action string) {
	m.DecisionsTotal.WithLabelValues(strategy, action).Inc()
}

// RecordTrade counts one fill.
func (m *Metrics) RecordTrade(strategy, side string) {
	m.TradesExecuted.WithLabelValues(strategy, side).Inc()
}

// UpdateBreaker reflects breaker diagnostics into gauges.
func (m *Metrics) UpdateBreaker(strategy string, state breaker.State, errorsInWindow int) {
	m.BreakerState.WithLabelValues(strategy).Set(breakerStateValue(state))
	m.BreakerErrors.WithLabelValues(strategy).Set(float64(errorsInWindow))
}

// RecordDBQuery records database query metrics.
func (m *Metrics) RecordDBQuery(database, operation string, seconds float64, err error) {
	m.DBQueryDuration.WithLabelValues(database, operation).Observe(seconds)
	if err != nil {
		m.DBQueryErrors.WithLabelValues(database, operation).Inc()
	}
}

func breakerStateValue(state breaker.State) float64 {
	switch state {
	case breaker.StateHalfOpen:
		return 1
	case breaker.StateOpen:
		return 2
	default:
		return 0
	}
}

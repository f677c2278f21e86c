// Package observability provides Prometheus metrics for monitoring.
package observability

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Outcome labels of an engine operation.
const (
	OutcomeApplied  = "applied"
	OutcomeSkipped  = "skipped"  // self-transfer or duplicate in flight
	OutcomeRejected = "rejected" // client error
	OutcomeFailed   = "failed"
)

// Metrics holds all Prometheus metrics for the application.
type Metrics struct {
	// Engine metrics
	OperationsTotal   *prometheus.CounterVec
	OperationDuration *prometheus.HistogramVec
	RetriesTotal      *prometheus.CounterVec
	InFlight          *prometheus.GaugeVec
	PotLamports       *prometheus.GaugeVec

	// Watcher metrics
	ActiveSubscriptions *prometheus.GaugeVec
	WatcherEvents       *prometheus.CounterVec

	// Scheduler metrics
	SchedulerSweeps   prometheus.Counter
	SettlementPending prometheus.Gauge

	// Ledger metrics
	RPCCallLatency *prometheus.HistogramVec

	// HTTP metrics
	HTTPRequests *prometheus.CounterVec
}

// NewMetrics creates a new Metrics instance with all metrics registered.
func NewMetrics(namespace string) *Metrics {
	return newMetrics(promauto.With(prometheus.DefaultRegisterer), namespace)
}

func newMetrics(f promauto.Factory, namespace string) *Metrics {
	if namespace == "" {
		namespace = "overunder"
	}

	return &Metrics{
		OperationsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "operations_total",
			Help:      "Total number of engine operations by kind and outcome",
		}, []string{"op", "outcome"}),
		OperationDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "operation_duration_seconds",
			Help:      "Engine operation duration in seconds, ledger round trips included",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		}, []string{"op"}),
		RetriesTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "retries_total",
			Help:      "Total number of operation restarts after a transient ledger error",
		}, []string{"op"}),
		InFlight: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "in_flight",
			Help:      "Signatures currently being processed by operation",
		}, []string{"op"}),
		PotLamports: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "pot_lamports",
			Help:      "Pot balance in lamports by game and side",
		}, []string{"game", "side"}),

		ActiveSubscriptions: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "watcher",
			Name:      "active_subscriptions",
			Help:      "Account subscriptions held by each watcher",
		}, []string{"watcher"}),
		WatcherEvents: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "watcher",
			Name:      "events_total",
			Help:      "Transfers dispatched to the engine by watcher and outcome",
		}, []string{"watcher", "outcome"}),

		SchedulerSweeps: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scheduler",
			Name:      "sweeps_total",
			Help:      "Total number of scheduler ticks",
		}),
		SettlementPending: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "scheduler",
			Name:      "merge_pending_games",
			Help:      "Ended games whose settlement merge has not completed",
		}),

		RPCCallLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "solana",
			Name:      "rpc_call_latency_seconds",
			Help:      "Solana RPC call latency in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method"}),

		HTTPRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests by route and status code",
		}, []string{"route", "code"}),
	}
}

// Handler returns an HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// DefaultMetrics is the default metrics instance.
var DefaultMetrics = NewMetrics("")

// RecordOperation records one finished engine operation.
func RecordOperation(op, outcome string, seconds float64) {
	DefaultMetrics.OperationsTotal.WithLabelValues(op, outcome).Inc()
	DefaultMetrics.OperationDuration.WithLabelValues(op).Observe(seconds)
}

// RecordRetry counts a restart of op.
func RecordRetry(op string) {
	DefaultMetrics.RetriesTotal.WithLabelValues(op).Inc()
}

// SetInFlight sets the number of signatures op is processing.
func SetInFlight(op string, n int) {
	DefaultMetrics.InFlight.WithLabelValues(op).Set(float64(n))
}

// UpdatePots sets the pot gauges of a game.
func UpdatePots(gameID int64, over, under int64) {
	id := strconv.FormatInt(gameID, 10)
	DefaultMetrics.PotLamports.WithLabelValues(id, "over").Set(float64(over))
	DefaultMetrics.PotLamports.WithLabelValues(id, "under").Set(float64(under))
}

// SetSubscriptions sets the subscription gauge of a watcher.
func SetSubscriptions(watcher string, n int) {
	DefaultMetrics.ActiveSubscriptions.WithLabelValues(watcher).Set(float64(n))
}

// RecordWatcherEvent counts a transfer dispatched by a watcher.
func RecordWatcherEvent(watcher, outcome string) {
	DefaultMetrics.WatcherEvents.WithLabelValues(watcher, outcome).Inc()
}

// RecordSweep counts a scheduler tick and the merges it found pending.
func RecordSweep(pending int) {
	DefaultMetrics.SchedulerSweeps.Inc()
	DefaultMetrics.SettlementPending.Set(float64(pending))
}

// RecordRPCLatency records RPC call latency.
func RecordRPCLatency(method string, seconds float64) {
	DefaultMetrics.RPCCallLatency.WithLabelValues(method).Observe(seconds)
}

// RecordHTTPRequest counts a served request.
func RecordHTTPRequest(route string, code int) {
	DefaultMetrics.HTTPRequests.WithLabelValues(route, strconv.Itoa(code)).Inc()
}

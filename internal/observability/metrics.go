// Package observability provides Prometheus metrics for monitoring.
package observability

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the node and the crank.
type Metrics struct {
	// Ledger metrics
	TransactionsTotal    *prometheus.CounterVec
	TransactionLatency   prometheus.Histogram
	InstructionsTotal    *prometheus.CounterVec
	ProgramErrors        *prometheus.CounterVec
	CurrentSlot          prometheus.Gauge
	AccountNotifications prometheus.Counter
	ActiveSubscriptions  prometheus.Gauge

	// Refresh metrics
	PricesRefreshed *prometheus.CounterVec
	SlotsSkipped    prometheus.Counter
	MappingsUpdated prometheus.Counter

	// Crank metrics
	RefreshCyclesTotal    *prometheus.CounterVec
	RefreshChunksTotal    *prometheus.CounterVec
	RefreshCycleDuration  prometheus.Histogram
	HistoryPointsRecorded prometheus.Counter

	// RPC metrics
	RPCRequestsTotal *prometheus.CounterVec
	RPCCallLatency   *prometheus.HistogramVec

	// Database metrics
	DBQueryDuration *prometheus.HistogramVec
	DBQueryErrors   *prometheus.CounterVec

	// Health metrics
	LastSuccessfulRefresh prometheus.Gauge
}

// NewMetrics creates a new Metrics instance with all metrics registered.
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "scope"
	}

	return &Metrics{
		// Ledger metrics
		TransactionsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "transactions_total",
			Help:      "Total number of submitted transactions by status",
		}, []string{"status"}),
		TransactionLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "transaction_latency_seconds",
			Help:      "Transaction execution latency in seconds",
			Buckets:   prometheus.DefBuckets,
		}),
		InstructionsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "instructions_total",
			Help:      "Total number of executed instructions by program",
		}, []string{"program"}),
		ProgramErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "program_errors_total",
			Help:      "Total number of failed instructions by program error code",
		}, []string{"code"}),
		CurrentSlot: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "current_slot",
			Help:      "Slot of the last processed transaction",
		}),
		AccountNotifications: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "account_notifications_total",
			Help:      "Total number of account change notifications pushed to subscribers",
		}),
		ActiveSubscriptions: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "active_subscriptions",
			Help:      "Current number of websocket account subscriptions",
		}),

		// Refresh metrics
		PricesRefreshed: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "refresh",
			Name:      "prices_refreshed_total",
			Help:      "Total number of price slots refreshed by oracle type",
		}, []string{"oracle_type"}),
		SlotsSkipped: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "refresh",
			Name:      "slots_skipped_total",
			Help:      "Total number of refresh requests for unset slots",
		}),
		MappingsUpdated: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "refresh",
			Name:      "mappings_updated_total",
			Help:      "Total number of mapping entries changed",
		}),

		// Crank metrics
		RefreshCyclesTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "crank",
			Name:      "refresh_cycles_total",
			Help:      "Total number of refresh-all cycles by status",
		}, []string{"status"}),
		RefreshChunksTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "crank",
			Name:      "refresh_chunks_total",
			Help:      "Total number of refresh chunks submitted by status",
		}, []string{"status"}),
		RefreshCycleDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "crank",
			Name:      "refresh_cycle_duration_seconds",
			Help:      "Duration of a refresh-all cycle in seconds",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		}),
		HistoryPointsRecorded: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "crank",
			Name:      "history_points_recorded_total",
			Help:      "Total number of price points written to the history store",
		}),

		// RPC metrics
		RPCRequestsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "rpc",
			Name:      "requests_total",
			Help:      "Total number of JSON-RPC requests served by method and status",
		}, []string{"method", "status"}),
		RPCCallLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "rpc",
			Name:      "call_latency_seconds",
			Help:      "JSON-RPC call latency in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method"}),

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
		LastSuccessfulRefresh: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "health",
			Name:      "last_successful_refresh_timestamp",
			Help:      "Unix timestamp of the last refresh cycle without failed chunks",
		}),
	}
}

// Handler returns an HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// DefaultMetrics is the default metrics instance.
var DefaultMetrics = NewMetrics("")

// RecordTransaction records a processed transaction.
func RecordTransaction(status string, seconds float64, slot uint64) {
	DefaultMetrics.TransactionsTotal.WithLabelValues(status).Inc()
	DefaultMetrics.TransactionLatency.Observe(seconds)
	DefaultMetrics.CurrentSlot.Set(float64(slot))
}

// RecordInstruction records an executed instruction.
func RecordInstruction(program string) {
	DefaultMetrics.InstructionsTotal.WithLabelValues(program).Inc()
}

// RecordProgramError records a failed instruction by error code.
func RecordProgramError(code uint32) {
	DefaultMetrics.ProgramErrors.WithLabelValues(strconv.FormatUint(uint64(code), 10)).Inc()
}

// RecordNotification records a pushed account notification.
func RecordNotification() {
	DefaultMetrics.AccountNotifications.Inc()
}

// AddSubscriptions adjusts the active subscription gauge.
func AddSubscriptions(delta int) {
	DefaultMetrics.ActiveSubscriptions.Add(float64(delta))
}

// RecordPriceRefreshed increments the refreshed prices counter.
func RecordPriceRefreshed(oracleType string) {
	DefaultMetrics.PricesRefreshed.WithLabelValues(oracleType).Inc()
}

// RecordSlotSkipped increments the skipped slots counter.
func RecordSlotSkipped() {
	DefaultMetrics.SlotsSkipped.Inc()
}

// RecordMappingUpdated increments the mapping updates counter.
func RecordMappingUpdated() {
	DefaultMetrics.MappingsUpdated.Inc()
}

// RecordRefreshCycle records a refresh-all cycle.
func RecordRefreshCycle(okChunks, failedChunks int, durationSeconds float64, finishedAt int64) {
	DefaultMetrics.RefreshChunksTotal.WithLabelValues("ok").Add(float64(okChunks))
	DefaultMetrics.RefreshChunksTotal.WithLabelValues("failed").Add(float64(failedChunks))
	DefaultMetrics.RefreshCycleDuration.Observe(durationSeconds)
	if failedChunks == 0 {
		DefaultMetrics.RefreshCyclesTotal.WithLabelValues("ok").Inc()
		DefaultMetrics.LastSuccessfulRefresh.Set(float64(finishedAt))
	} else {
		DefaultMetrics.RefreshCyclesTotal.WithLabelValues("partial").Inc()
	}
}

// RecordHistoryPoints increments the recorded history points counter.
func RecordHistoryPoints(n int) {
	DefaultMetrics.HistoryPointsRecorded.Add(float64(n))
}

// RecordRPCRequest records a served JSON-RPC request.
func RecordRPCRequest(method, status string, seconds float64) {
	DefaultMetrics.RPCRequestsTotal.WithLabelValues(method, status).Inc()
	DefaultMetrics.RPCCallLatency.WithLabelValues(method).Observe(seconds)
}

// RecordDBQuery records database query metrics.
func RecordDBQuery(database, operation string, seconds float64, err error) {
	DefaultMetrics.DBQueryDuration.WithLabelValues(database, operation).Observe(seconds)
	if err != nil {
		DefaultMetrics.DBQueryErrors.WithLabelValues(database, operation).Inc()
	}
}

// Package observability provides Prometheus metrics for monitoring.
package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the application.
type Metrics struct {
	// Placement metrics
	PlacementsTotal      *prometheus.CounterVec
	PlacementDepth       prometheus.Histogram
	PlacementSlotRetries prometheus.Counter

	// Purchase metrics
	PurchasesTotal  *prometheus.CounterVec
	AncestorsWalked prometheus.Histogram

	// Ledger metrics
	PairReleasesTotal *prometheus.CounterVec
	BonusEventsTotal  *prometheus.CounterVec
	BonusAmountTotal  *prometheus.CounterVec
	EventsMatured     prometheus.Counter

	// Database metrics
	TxRetries   prometheus.Counter
	TxConflicts prometheus.Counter

	// Queue metrics
	TasksTotal   *prometheus.CounterVec
	TaskDuration *prometheus.HistogramVec
	QueueDepth   *prometheus.GaugeVec

	// HTTP metrics
	HTTPRequests *prometheus.CounterVec
	HTTPDuration *prometheus.HistogramVec

	// Health metrics
	LastTaskCompleted prometheus.Gauge
}

// NewMetrics creates a new Metrics instance registered with reg.
// A nil reg uses the default registerer.
func NewMetrics(namespace string, reg prometheus.Registerer) *Metrics {
	if namespace == "" {
		namespace = "binary_referral"
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		// Placement metrics
		PlacementsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "placement",
			Name:      "placements_total",
			Help:      "Total number of placement attempts by outcome",
		}, []string{"outcome"}),
		PlacementDepth: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "placement",
			Name:      "depth",
			Help:      "Depth of newly placed tree nodes",
			Buckets:   []float64{1, 2, 4, 8, 16, 32, 64, 128},
		}),
		PlacementSlotRetries: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "placement",
			Name:      "slot_retries_total",
			Help:      "Total number of placement searches re-run after losing a slot race",
		}),

		// Purchase metrics
		PurchasesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "purchase",
			Name:      "orders_total",
			Help:      "Total number of paid orders processed by status",
		}, []string{"status"}),
		AncestorsWalked: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "purchase",
			Name:      "ancestors_walked",
			Help:      "Number of ancestor counters incremented per order",
			Buckets:   []float64{0, 1, 2, 4, 8, 16, 32, 64},
		}),

		// Ledger metrics
		PairReleasesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pairing",
			Name:      "release_calls_total",
			Help:      "Total number of pair release calls by status",
		}, []string{"status"}),
		BonusEventsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "events_total",
			Help:      "Total number of bonus events appended by type and status",
		}, []string{"bonus_type", "status"}),
		BonusAmountTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "amount_total",
			Help:      "Total bonus amount appended by type",
		}, []string{"bonus_type"}),
		EventsMatured: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "events_matured_total",
			Help:      "Total number of PENDING events moved to RELEASED",
		}),

		// Database metrics
		TxRetries: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "database",
			Name:      "tx_retries_total",
			Help:      "Total number of transactions retried after a serialization conflict",
		}),
		TxConflicts: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "database",
			Name:      "tx_conflicts_total",
			Help:      "Total number of transactions that ran out of retry attempts",
		}),

		// Queue metrics
		TasksTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "queue",
			Name:      "tasks_total",
			Help:      "Total number of task runs by task name and outcome",
		}, []string{"task", "outcome"}),
		TaskDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "queue",
			Name:      "task_duration_seconds",
			Help:      "Task handler duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"task"}),
		QueueDepth: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "queue",
			Name:      "tasks",
			Help:      "Number of tasks by status",
		}, []string{"status"}),

		// HTTP metrics
		HTTPRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests by route and status code",
		}, []string{"route", "code"}),
		HTTPDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route"}),

		// Health metrics
		LastTaskCompleted: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "health",
			Name:      "last_task_completed_timestamp",
			Help:      "Unix timestamp of the last successfully completed task",
		}),
	}
}

// Handler returns an HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// DefaultMetrics is the default metrics instance.
var DefaultMetrics = NewMetrics("", nil)

// RecordPlacement records a placement attempt. depth is ignored unless outcome is "placed".
func RecordPlacement(outcome string, depth int) {
	DefaultMetrics.PlacementsTotal.WithLabelValues(outcome).Inc()
	if outcome == "placed" {
		DefaultMetrics.PlacementDepth.Observe(float64(depth))
	}
}

// RecordPlacementRetry records a placement search lost to a concurrent insert.
func RecordPlacementRetry() {
	DefaultMetrics.PlacementSlotRetries.Inc()
}

// RecordPurchase records a processed order and the number of ancestors it touched.
func RecordPurchase(status string, ancestors int) {
	DefaultMetrics.PurchasesTotal.WithLabelValues(status).Inc()
	DefaultMetrics.AncestorsWalked.Observe(float64(ancestors))
}

// RecordPairRelease records a pair release call.
func RecordPairRelease(status string) {
	DefaultMetrics.PairReleasesTotal.WithLabelValues(status).Inc()
}

// RecordBonusEvent records an appended ledger row.
func RecordBonusEvent(bonusType, status string, amount float64) {
	DefaultMetrics.BonusEventsTotal.WithLabelValues(bonusType, status).Inc()
	DefaultMetrics.BonusAmountTotal.WithLabelValues(bonusType).Add(amount)
}

// RecordMatured records PENDING events released by the maturation sweep.
func RecordMatured(n int) {
	DefaultMetrics.EventsMatured.Add(float64(n))
}

// RecordTxRetry increments the transaction retry counter.
func RecordTxRetry() {
	DefaultMetrics.TxRetries.Inc()
}

// RecordTxConflict increments the exhausted-retries counter.
func RecordTxConflict() {
	DefaultMetrics.TxConflicts.Inc()
}

// RecordTask records a task run.
func RecordTask(task, outcome string, seconds float64) {
	DefaultMetrics.TasksTotal.WithLabelValues(task, outcome).Inc()
	DefaultMetrics.TaskDuration.WithLabelValues(task).Observe(seconds)
	if outcome == "done" {
		DefaultMetrics.LastTaskCompleted.Set(float64(time.Now().Unix()))
	}
}

// SetQueueDepth updates the task gauge for one status.
func SetQueueDepth(status string, n int64) {
	DefaultMetrics.QueueDepth.WithLabelValues(status).Set(float64(n))
}

// RecordHTTPRequest records an HTTP request.
func RecordHTTPRequest(route string, code int, seconds float64) {
	DefaultMetrics.HTTPRequests.WithLabelValues(route, strconv.Itoa(code)).Inc()
	DefaultMetrics.HTTPDuration.WithLabelValues(route).Observe(seconds)
}

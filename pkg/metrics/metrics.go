package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// BackendsTotal tracks configured backends by status.
	BackendsTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "sentrypool_backends_total",
			Help: "Number of configured backends by status",
		},
		[]string{"status"},
	)

	MasterNodeID = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "sentrypool_master_node_id",
			Help: "Current master node index, -1 if none",
		},
	)

	PrimaryNodeID = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "sentrypool_primary_node_id",
			Help: "Current primary node index, -1 if none or not applicable",
		},
	)

	Switching = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "sentrypool_switching",
			Help: "Whether a failover is currently in flight (1) or not (0)",
		},
	)

	RequestQueueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "sentrypool_request_queue_depth",
			Help: "Current number of pending entries in the request queue",
		},
	)

	RequestQueueDropsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "sentrypool_request_queue_drops_total",
			Help: "Total number of requests rejected because the queue was full",
		},
	)

	RequestsProcessedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sentrypool_requests_processed_total",
			Help: "Total number of requests dequeued by the failover engine, by kind",
		},
		[]string{"kind"},
	)

	HealthCheckDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "sentrypool_health_check_duration_seconds",
			Help:    "Time taken for one full health-check sweep",
			Buckets: prometheus.DefBuckets,
		},
	)

	HealthCheckFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sentrypool_health_check_failures_total",
			Help: "Total number of health-check probe failures by backend",
		},
		[]string{"backend"},
	)

	FailoverDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "sentrypool_failover_duration_seconds",
			Help:    "Time taken to process one request-queue entry end to end",
			Buckets: prometheus.DefBuckets,
		},
	)

	FailoverRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sentrypool_failover_requests_total",
			Help: "Total number of failover requests processed by kind and outcome",
		},
		[]string{"kind", "outcome"},
	)

	PrimaryDiscoveryDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "sentrypool_primary_discovery_duration_seconds",
			Help:    "Time taken to locate the writable primary node",
			Buckets: prometheus.DefBuckets,
		},
	)

	WorkerRestartsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sentrypool_worker_restarts_total",
			Help: "Total number of worker-slot restarts by role",
		},
		[]string{"role"},
	)

	WatchdogLockWaitDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "sentrypool_watchdog_lock_wait_duration_seconds",
			Help:    "Time spent waiting to acquire a named watchdog lock",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"lock"},
	)
)

func init() {
	prometheus.MustRegister(BackendsTotal)
	prometheus.MustRegister(MasterNodeID)
	prometheus.MustRegister(PrimaryNodeID)
	prometheus.MustRegister(Switching)
	prometheus.MustRegister(RequestQueueDepth)
	prometheus.MustRegister(RequestQueueDropsTotal)
	prometheus.MustRegister(RequestsProcessedTotal)
	prometheus.MustRegister(HealthCheckDuration)
	prometheus.MustRegister(HealthCheckFailuresTotal)
	prometheus.MustRegister(FailoverDuration)
	prometheus.MustRegister(FailoverRequestsTotal)
	prometheus.MustRegister(PrimaryDiscoveryDuration)
	prometheus.MustRegister(WorkerRestartsTotal)
	prometheus.MustRegister(WatchdogLockWaitDuration)
}

// Handler returns the Prometheus HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a helper for timing operations.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the duration to a histogram.
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	histogram.Observe(time.Since(t.start).Seconds())
}

// ObserveDurationVec records the duration to a histogram vec with labels.
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	histogram.WithLabelValues(labels...).Observe(time.Since(t.start).Seconds())
}

// Duration returns the elapsed time since the timer started.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}

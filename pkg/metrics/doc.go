// Package metrics registers the Prometheus collectors exposed by
// sentrypoold: backend/master/primary/switching gauges, request-queue
// depth and drop counters, health-check and failover-engine
// duration/outcome histograms and counters, primary-discovery duration,
// worker-restart counts by role, and watchdog lock-wait duration. All
// metrics are registered at package init and served over /metrics via
// promhttp.Handler().
package metrics

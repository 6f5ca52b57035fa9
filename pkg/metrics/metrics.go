// Package metrics provides Prometheus metrics for the dispatch layer.
//
// All dispatch operations are counted by platform, operation, and outcome so
// providers that start rate limiting or rejecting credentials are visible
// before callers complain. Metrics are registered automatically and exposed
// via the promhttp handler on the dispatch server.
//
// Example:
//
//	timer := metrics.NewTimer()
//	result, err := connector.PublishContent(ctx, envelope)
//	metrics.ObserveOperation("shopify", "publish", err, timer.Stop())
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/meridianhq/meridian/pkg/errors"
)

var (
	// OperationsTotal counts dispatch operations by platform, operation, and
	// outcome ("ok" or the classified error type).
	OperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "meridian_operations_total",
			Help: "Total number of dispatched connector operations",
		},
		[]string{"platform", "operation", "outcome"},
	)

	// OperationLatency tracks provider call latency per platform and operation
	OperationLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "meridian_operation_latency_seconds",
			Help:    "Latency of dispatched connector operations in seconds",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
		[]string{"platform", "operation"},
	)

	// ActiveInstances tracks the number of live connector instances per platform
	ActiveInstances = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "meridian_active_instances",
			Help: "Number of live connector instances",
		},
		[]string{"platform"},
	)

	// ScheduledJobsPending tracks pending fallback scheduled jobs per platform
	ScheduledJobsPending = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "meridian_scheduled_jobs_pending",
			Help: "Number of pending in-process scheduled publish jobs",
		},
		[]string{"platform"},
	)

	// WebhookEventsTotal counts inbound webhook events by platform and
	// normalized type (message, status-update, non-message, error)
	WebhookEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "meridian_webhook_events_total",
			Help: "Total number of inbound webhook events received",
		},
		[]string{"platform", "type"},
	)
)

// ObserveOperation records one dispatched operation: its outcome counter and
// its latency observation.
func ObserveOperation(platform, operation string, err error, elapsed time.Duration) {
	outcome := "ok"
	if err != nil {
		outcome = string(errors.AsError(err).Type)
	}
	OperationsTotal.WithLabelValues(platform, operation, outcome).Inc()
	OperationLatency.WithLabelValues(platform, operation).Observe(elapsed.Seconds())
}

// Timer provides a simple timing mechanism for measuring operation durations
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer and starts timing immediately
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// Stop returns the elapsed duration since creation
func (t *Timer) Stop() time.Duration {
	return time.Since(t.start)
}

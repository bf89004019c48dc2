// Package metrics provides performance tracking for quotaflow. It offers
// per-operation counters consumed by the optimizer's recommendations, plus
// Prometheus series for process-wide observability.
//
// OperationMetrics instances track one logical engine operation and are
// mutated only by the workers executing that operation. The Collector wraps
// the package-level Prometheus series and is shared freely.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Collector records engine activity into the package-level Prometheus
// series. Each engine component labels its series with the component name.
type Collector struct {
	name      string
	startTime time.Time
}

// NewCollector creates a collector labeled with the given component name
func NewCollector(name string) *Collector {
	return &Collector{
		name:      name,
		startTime: time.Now(),
	}
}

// StartTime returns when the collector was created
func (c *Collector) StartTime() time.Time {
	return c.startTime
}

// RecordItem counts one item reaching a terminal state (success or failure)
func (c *Collector) RecordItem(status string) {
	ItemsProcessed.WithLabelValues(c.name, status).Inc()
}

// RecordRemoteCall counts one admitted call to a downstream service
func (c *Collector) RecordRemoteCall(service string) {
	RemoteCalls.WithLabelValues(c.name, service).Inc()
}

// RecordRetry counts one retry attempt against a downstream service
func (c *Collector) RecordRetry(service string) {
	RetryAttempts.WithLabelValues(c.name, service).Inc()
}

// RecordRateLimitDelay accumulates time spent blocked in the rate limiter
func (c *Collector) RecordRateLimitDelay(service string, delay time.Duration) {
	if delay > 0 {
		RateLimitDelay.WithLabelValues(c.name, service).Add(delay.Seconds())
	}
}

// ObserveBatchDuration records the wall-clock time of one batch
func (c *Collector) ObserveBatchDuration(service string, d time.Duration) {
	BatchDuration.WithLabelValues(c.name, service).Observe(d.Seconds())
}

var (
	// ItemsProcessed counts items reaching a terminal state.
	// Labels: component, status (success/failure)
	ItemsProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "quotaflow_items_processed_total",
			Help: "Total number of items reaching a terminal state",
		},
		[]string{"component", "status"},
	)

	// RemoteCalls counts calls admitted to downstream services.
	// Labels: component, service
	RemoteCalls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "quotaflow_remote_calls_total",
			Help: "Total number of remote calls admitted",
		},
		[]string{"component", "service"},
	)

	// RetryAttempts counts retries of transient remote failures.
	// Labels: component, service
	RetryAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "quotaflow_retry_attempts_total",
			Help: "Total number of retry attempts",
		},
		[]string{"component", "service"},
	)

	// RateLimitDelay accumulates seconds spent blocked by admission control.
	// Labels: component, service
	RateLimitDelay = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "quotaflow_rate_limit_delay_seconds_total",
			Help: "Total seconds spent waiting on the rate limiter",
		},
		[]string{"component", "service"},
	)

	// BatchDuration tracks the distribution of batch wall-clock times.
	// Labels: component, service
	BatchDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "quotaflow_batch_duration_seconds",
			Help:    "Wall-clock duration of one batch",
			Buckets: prometheus.ExponentialBuckets(0.001, 4, 10),
		},
		[]string{"component", "service"},
	)
)

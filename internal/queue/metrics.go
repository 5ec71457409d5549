package queue

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metric names as constants for consistency.
const (
	MetricEventsEnqueued = "engagement_events_enqueued_total"
	MetricEventsDropped  = "engagement_events_dropped_total"
	MetricEventsFlushed  = "engagement_events_flushed_total"
	MetricFlushErrors    = "engagement_flush_errors_total"
	MetricFlushDuration  = "engagement_flush_duration_seconds"
)

// Metrics contains Prometheus metrics for the event queue and flush engine.
// All operations are thread-safe.
type Metrics struct {
	eventsEnqueued prometheus.Counter
	eventsDropped  prometheus.Counter
	eventsFlushed  prometheus.Counter
	flushErrors    prometheus.Counter
	flushDuration  prometheus.Histogram
}

// NewMetrics creates and returns a new Metrics instance with all collectors
// initialized. The metrics are not registered; call Register to register
// them with a registry.
func NewMetrics() *Metrics {
	return &Metrics{
		eventsEnqueued: prometheus.NewCounter(prometheus.CounterOpts{
			Name: MetricEventsEnqueued,
			Help: "Total number of engagement events enqueued",
		}),
		eventsDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: MetricEventsDropped,
			Help: "Total number of engagement events evicted from the full queue",
		}),
		eventsFlushed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: MetricEventsFlushed,
			Help: "Total number of engagement events durably delivered to the store",
		}),
		flushErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: MetricFlushErrors,
			Help: "Total number of flush attempts that failed and were requeued or dropped",
		}),
		flushDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    MetricFlushDuration,
			Help:    "Histogram of flush cycle duration in seconds",
			Buckets: prometheus.DefBuckets,
		}),
	}
}

// Register registers all metrics with the given registry.
// Returns an error if registration fails.
func (m *Metrics) Register(reg prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		m.eventsEnqueued,
		m.eventsDropped,
		m.eventsFlushed,
		m.flushErrors,
		m.flushDuration,
	}

	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

// IncEnqueued increments the enqueued-events counter.
func (m *Metrics) IncEnqueued() {
	m.eventsEnqueued.Inc()
}

// IncDropped increments the dropped-events counter.
func (m *Metrics) IncDropped() {
	m.eventsDropped.Inc()
}

// AddFlushed adds a delivered batch size to the flushed-events counter.
func (m *Metrics) AddFlushed(n int) {
	m.eventsFlushed.Add(float64(n))
}

// IncFlushErrors increments the flush-errors counter.
func (m *Metrics) IncFlushErrors() {
	m.flushErrors.Inc()
}

// ObserveFlushDuration records a flush cycle duration sample.
func (m *Metrics) ObserveFlushDuration(seconds float64) {
	m.flushDuration.Observe(seconds)
}

// Collectors returns all Prometheus collectors for testing.
func (m *Metrics) Collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.eventsEnqueued,
		m.eventsDropped,
		m.eventsFlushed,
		m.flushErrors,
		m.flushDuration,
	}
}

// Package metrics registers the Prometheus instruments for the pipeline.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the pipeline.
type Metrics struct {
	EventsReceived  prometheus.Counter
	EventsRejected  prometheus.Counter
	EventsProcessed prometheus.Counter
	EventsFailed    prometheus.Counter
	Retries         prometheus.Counter
	AlertsEmitted   prometheus.Counter
	AlertsDeduped   prometheus.Counter
	ArchiveFailures prometheus.Counter

	InferenceLatency  prometheus.Histogram
	ProcessingLatency prometheus.Histogram

	BreakerOpen prometheus.Gauge
}

// New creates all pipeline metrics and registers them on the default
// registry.
func New() *Metrics {
	return NewWith(prometheus.DefaultRegisterer)
}

// NewWith registers the pipeline metrics on the given registerer. Tests
// pass a fresh prometheus.NewRegistry to avoid duplicate registration.
func NewWith(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		EventsReceived: factory.NewCounter(prometheus.CounterOpts{
			Name: "vigil_events_received_total",
			Help: "Total number of audit events accepted at intake",
		}),
		EventsRejected: factory.NewCounter(prometheus.CounterOpts{
			Name: "vigil_events_rejected_total",
			Help: "Total number of submissions rejected before enqueue",
		}),
		EventsProcessed: factory.NewCounter(prometheus.CounterOpts{
			Name: "vigil_events_processed_total",
			Help: "Total number of events that reached a scored terminal status",
		}),
		EventsFailed: factory.NewCounter(prometheus.CounterOpts{
			Name: "vigil_events_failed_total",
			Help: "Total number of events marked failed after retry exhaustion",
		}),
		Retries: factory.NewCounter(prometheus.CounterOpts{
			Name: "vigil_processing_retries_total",
			Help: "Total number of transient-failure retries across all events",
		}),
		AlertsEmitted: factory.NewCounter(prometheus.CounterOpts{
			Name: "vigil_alerts_emitted_total",
			Help: "Total number of alerts delivered to the dashboard channel",
		}),
		AlertsDeduped: factory.NewCounter(prometheus.CounterOpts{
			Name: "vigil_alerts_deduped_total",
			Help: "Total number of alerts suppressed inside the dedup window",
		}),
		ArchiveFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "vigil_archive_failures_total",
			Help: "Total number of fire-and-forget archive writes that failed",
		}),
		InferenceLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "vigil_inference_latency_seconds",
			Help:    "Latency of anomaly scoring calls",
			Buckets: prometheus.DefBuckets,
		}),
		ProcessingLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "vigil_processing_latency_seconds",
			Help:    "End-to-end per-event processing latency",
			Buckets: prometheus.DefBuckets,
		}),
		BreakerOpen: factory.NewGauge(prometheus.GaugeOpts{
			Name: "vigil_inference_breaker_open",
			Help: "Inference circuit breaker state (0=closed, 1=open)",
		}),
	}
}

// ObserveInference records one scoring call duration.
func (m *Metrics) ObserveInference(d time.Duration) {
	m.InferenceLatency.Observe(d.Seconds())
}

// ObserveProcessing records one end-to-end event duration.
func (m *Metrics) ObserveProcessing(d time.Duration) {
	m.ProcessingLatency.Observe(d.Seconds())
}

// SetBreakerOpen flips the breaker gauge.
func (m *Metrics) SetBreakerOpen(open bool) {
	if open {
		m.BreakerOpen.Set(1)
	} else {
		m.BreakerOpen.Set(0)
	}
}

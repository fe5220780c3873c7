package service

import (
	"net/http"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsService encapsulates Prometheus instrumentation and provides
// lightweight snapshots for API consumption.
type MetricsService struct {
	registry *prometheus.Registry
	handler  http.Handler

	requestDuration *prometheus.HistogramVec
	requestTotal    *prometheus.CounterVec

	eventsAdmitted prometheus.Counter
	eventsDropped  prometheus.Counter
	outboxDrained  prometheus.Counter
	outboxRetried  prometheus.Counter
	outboxFailed   prometheus.Counter
	drainDuration  prometheus.Histogram
	verifyFailures prometheus.Counter

	admittedCount uint64
	droppedCount  uint64
	drainedCount  uint64
	retriedCount  uint64
	failedCount   uint64
}

// NewMetricsService registers core Prometheus collectors.
func NewMetricsService() *MetricsService {
	registry := prometheus.NewRegistry()

	requestDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "Duration of HTTP requests in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	requestTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})

	eventsAdmitted := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "audit_events_admitted_total",
		Help: "Audit events accepted into the outbox",
	})

	eventsDropped := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "audit_events_dropped_total",
		Help: "Audit events shed by the admission gate",
	})

	outboxDrained := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "audit_outbox_drained_total",
		Help: "Outbox rows promoted to the immutable log",
	})

	outboxRetried := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "audit_outbox_retried_total",
		Help: "Outbox promotion attempts that failed and were scheduled for retry",
	})

	outboxFailed := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "audit_outbox_failed_total",
		Help: "Outbox rows abandoned after exhausting retries",
	})

	drainDuration := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "audit_drain_duration_seconds",
		Help:    "Duration of outbox drain batches",
		Buckets: prometheus.DefBuckets,
	})

	verifyFailures := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "audit_chain_verify_failures_total",
		Help: "Integrity verification runs that found chain issues",
	})

	registry.MustRegister(requestDuration, requestTotal,
		eventsAdmitted, eventsDropped, outboxDrained, outboxRetried, outboxFailed,
		drainDuration, verifyFailures)

	return &MetricsService{
		registry:        registry,
		handler:         promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		requestDuration: requestDuration,
		requestTotal:    requestTotal,
		eventsAdmitted:  eventsAdmitted,
		eventsDropped:   eventsDropped,
		outboxDrained:   outboxDrained,
		outboxRetried:   outboxRetried,
		outboxFailed:    outboxFailed,
		drainDuration:   drainDuration,
		verifyFailures:  verifyFailures,
	}
}

// Handler exposes the Prometheus scrape endpoint.
func (s *MetricsService) Handler() http.Handler {
	return s.handler
}

// ObserveHTTPRequest records one HTTP request.
func (s *MetricsService) ObserveHTTPRequest(method, path string, status int, duration time.Duration) {
	labels := prometheus.Labels{"method": method, "path": path, "status": httpStatusLabel(status)}
	s.requestDuration.With(labels).Observe(duration.Seconds())
	s.requestTotal.With(labels).Inc()
}

// AuditAdmitted counts an event accepted into the outbox.
func (s *MetricsService) AuditAdmitted() {
	s.eventsAdmitted.Inc()
	atomic.AddUint64(&s.admittedCount, 1)
}

// AuditDropped counts an event shed by the admission gate.
func (s *MetricsService) AuditDropped() {
	s.eventsDropped.Inc()
	atomic.AddUint64(&s.droppedCount, 1)
}

// OutboxDrained counts successfully promoted rows.
func (s *MetricsService) OutboxDrained(n int) {
	if n <= 0 {
		return
	}
	s.outboxDrained.Add(float64(n))
	atomic.AddUint64(&s.drainedCount, uint64(n))
}

// OutboxRetried counts a failed promotion attempt scheduled for retry.
func (s *MetricsService) OutboxRetried() {
	s.outboxRetried.Inc()
	atomic.AddUint64(&s.retriedCount, 1)
}

// OutboxFailed counts a row abandoned after exhausting retries.
func (s *MetricsService) OutboxFailed() {
	s.outboxFailed.Inc()
	atomic.AddUint64(&s.failedCount, 1)
}

// ObserveDrain records the duration of one drain batch.
func (s *MetricsService) ObserveDrain(duration time.Duration) {
	s.drainDuration.Observe(duration.Seconds())
}

// VerifyFailed counts an integrity run that reported issues.
func (s *MetricsService) VerifyFailed() {
	s.verifyFailures.Inc()
}

// Snapshot is a point-in-time summary for the admin API.
type Snapshot struct {
	EventsAdmitted uint64 `json:"events_admitted"`
	EventsDropped  uint64 `json:"events_dropped"`
	OutboxDrained  uint64 `json:"outbox_drained"`
	OutboxRetried  uint64 `json:"outbox_retried"`
	OutboxFailed   uint64 `json:"outbox_failed"`
}

// Summary returns the current counter values.
func (s *MetricsService) Summary() Snapshot {
	return Snapshot{
		EventsAdmitted: atomic.LoadUint64(&s.admittedCount),
		EventsDropped:  atomic.LoadUint64(&s.droppedCount),
		OutboxDrained:  atomic.LoadUint64(&s.drainedCount),
		OutboxRetried:  atomic.LoadUint64(&s.retriedCount),
		OutboxFailed:   atomic.LoadUint64(&s.failedCount),
	}
}

func httpStatusLabel(status int) string {
	switch {
	case status >= 500:
		return "5xx"
	case status >= 400:
		return "4xx"
	case status >= 300:
		return "3xx"
	default:
		return "2xx"
	}
}

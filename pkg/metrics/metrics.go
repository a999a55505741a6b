package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	registry *prometheus.Registry

	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Collection metrics
	CollectionCycles   *prometheus.CounterVec
	CollectionDuration prometheus.Histogram
	SamplesCollected   *prometheus.CounterVec
	DegradedSamples    prometheus.Counter
	GaugeFallbacks     *prometheus.CounterVec

	// Resilience metrics
	BreakerState       *prometheus.GaugeVec
	BreakerTransitions *prometheus.CounterVec
	BulkheadRejections *prometheus.CounterVec

	// Alerting metrics
	AlertCycles   *prometheus.CounterVec
	AlertsCreated *prometheus.CounterVec

	// Notification metrics
	NotificationsFailed  *prometheus.CounterVec
	NotificationsDropped prometheus.Counter
}

// Config holds metrics configuration
type Config struct {
	Namespace string `json:"namespace"`
	Subsystem string `json:"subsystem"`
	Enabled   bool   `json:"enabled"`
}

// DefaultConfig returns default metrics configuration
func DefaultConfig() *Config {
	return &Config{
		Namespace: "servermon",
		Enabled:   true,
	}
}

// NewMetrics creates all metrics on a private registry
func NewMetrics(config *Config) *Metrics {
	if config == nil {
		config = DefaultConfig()
	}

	if !config.Enabled {
		return &Metrics{}
	}

	ns, sub := config.Namespace, config.Subsystem
	m := &Metrics{
		registry: prometheus.NewRegistry(),

		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: ns,
				Subsystem: sub,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"method", "path", "status_code"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: ns,
				Subsystem: sub,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "path", "status_code"},
		),

		CollectionCycles: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: ns,
				Subsystem: sub,
				Name:      "collection_cycles_total",
				Help:      "Total number of metric collection cycles",
			},
			[]string{"status"},
		),
		CollectionDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: ns,
				Subsystem: sub,
				Name:      "collection_cycle_duration_seconds",
				Help:      "Duration of metric collection cycles in seconds",
				Buckets:   []float64{0.5, 1, 5, 15, 30, 60, 120, 300},
			},
		),
		SamplesCollected: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: ns,
				Subsystem: sub,
				Name:      "samples_collected_total",
				Help:      "Total number of samples collected by derived status",
			},
			[]string{"status"},
		),
		DegradedSamples: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: ns,
				Subsystem: sub,
				Name:      "degraded_samples_total",
				Help:      "Total number of samples recorded with unavailable gauges",
			},
		),
		GaugeFallbacks: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: ns,
				Subsystem: sub,
				Name:      "gauge_fallbacks_total",
				Help:      "Total number of sub-collections that fell back to a substitute value",
			},
			[]string{"gauge"},
		),

		BreakerState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: ns,
				Subsystem: sub,
				Name:      "circuit_breaker_state",
				Help:      "Circuit breaker state (0 closed, 1 open, 2 half-open)",
			},
			[]string{"name"},
		),
		BreakerTransitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: ns,
				Subsystem: sub,
				Name:      "circuit_breaker_transitions_total",
				Help:      "Total number of circuit breaker state transitions",
			},
			[]string{"name", "from", "to"},
		),
		BulkheadRejections: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: ns,
				Subsystem: sub,
				Name:      "bulkhead_rejections_total",
				Help:      "Total number of calls rejected by a full bulkhead",
			},
			[]string{"name"},
		),

		AlertCycles: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: ns,
				Subsystem: sub,
				Name:      "alert_evaluation_cycles_total",
				Help:      "Total number of alert evaluation cycles",
			},
			[]string{"status"},
		),
		AlertsCreated: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: ns,
				Subsystem: sub,
				Name:      "alerts_created_total",
				Help:      "Total number of alerts created",
			},
			[]string{"kind", "severity"},
		),

		NotificationsFailed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: ns,
				Subsystem: sub,
				Name:      "notifications_failed_total",
				Help:      "Total number of events a sink failed to publish",
			},
			[]string{"sink"},
		),
		NotificationsDropped: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: ns,
				Subsystem: sub,
				Name:      "notifications_dropped_total",
				Help:      "Total number of events dropped because the dispatch buffer was full",
			},
		),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.CollectionCycles,
		m.CollectionDuration,
		m.SamplesCollected,
		m.DegradedSamples,
		m.GaugeFallbacks,
		m.BreakerState,
		m.BreakerTransitions,
		m.BulkheadRejections,
		m.AlertCycles,
		m.AlertsCreated,
		m.NotificationsFailed,
		m.NotificationsDropped,
	)

	return m
}

func (m *Metrics) enabled() bool {
	return m != nil && m.registry != nil
}

// RecordHTTPRequest records HTTP request metrics
func (m *Metrics) RecordHTTPRequest(method, path string, statusCode int, duration time.Duration) {
	if !m.enabled() {
		return
	}
	status := strconv.Itoa(statusCode)
	m.HTTPRequestsTotal.WithLabelValues(method, path, status).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, path, status).Observe(duration.Seconds())
}

// RecordCollectionCycle records a completed collection cycle
func (m *Metrics) RecordCollectionCycle(status string, duration time.Duration) {
	if !m.enabled() {
		return
	}
	m.CollectionCycles.WithLabelValues(status).Inc()
	m.CollectionDuration.Observe(duration.Seconds())
}

// RecordSample records a collected sample by status
func (m *Metrics) RecordSample(status string, degraded bool) {
	if !m.enabled() {
		return
	}
	m.SamplesCollected.WithLabelValues(status).Inc()
	if degraded {
		m.DegradedSamples.Inc()
	}
}

// RecordFallback records a sub-collection fallback
func (m *Metrics) RecordFallback(gauge string) {
	if !m.enabled() {
		return
	}
	m.GaugeFallbacks.WithLabelValues(gauge).Inc()
}

// RecordBreakerTransition records a circuit breaker state change. States
// are the numeric values of resilience.CircuitState.
func (m *Metrics) RecordBreakerTransition(name, from, to string, state int) {
	if !m.enabled() {
		return
	}
	m.BreakerTransitions.WithLabelValues(name, from, to).Inc()
	m.BreakerState.WithLabelValues(name).Set(float64(state))
}

// RecordBulkheadRejection records a rejected call
func (m *Metrics) RecordBulkheadRejection(name string) {
	if !m.enabled() {
		return
	}
	m.BulkheadRejections.WithLabelValues(name).Inc()
}

// RecordAlertCycle records a completed alert evaluation cycle
func (m *Metrics) RecordAlertCycle(status string) {
	if !m.enabled() {
		return
	}
	m.AlertCycles.WithLabelValues(status).Inc()
}

// RecordAlertCreated records a new alert
func (m *Metrics) RecordAlertCreated(kind, severity string) {
	if !m.enabled() {
		return
	}
	m.AlertsCreated.WithLabelValues(kind, severity).Inc()
}

// RecordNotificationFailure records a sink publish failure
func (m *Metrics) RecordNotificationFailure(sink string) {
	if !m.enabled() {
		return
	}
	m.NotificationsFailed.WithLabelValues(sink).Inc()
}

// RecordNotificationDropped records an event dropped by the dispatcher
func (m *Metrics) RecordNotificationDropped() {
	if !m.enabled() {
		return
	}
	m.NotificationsDropped.Inc()
}

// PrometheusMiddleware creates a middleware for Prometheus metrics collection
func (m *Metrics) PrometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		m.RecordHTTPRequest(c.Request.Method, c.FullPath(), c.Writer.Status(), time.Since(start))
	}
}

// Handler returns the Prometheus metrics HTTP handler
func (m *Metrics) Handler() http.Handler {
	if !m.enabled() {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

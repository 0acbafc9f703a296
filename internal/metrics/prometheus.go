package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PrometheusMetrics contains all Prometheus metrics for the backbone
type PrometheusMetrics struct {
	// Recorder metrics
	EventsRecordedTotal  *prometheus.CounterVec
	AppendConflictsTotal *prometheus.CounterVec
	RecordDuration       prometheus.Histogram

	// Store RPC metrics
	RPCRequestsTotal      *prometheus.CounterVec
	RPCRequestDuration    *prometheus.HistogramVec
	ConnectionErrorsTotal *prometheus.CounterVec

	// Hub metrics
	HubSubscribers    prometheus.Gauge
	HubPublishedTotal prometheus.Counter
	HubDroppedTotal   prometheus.Counter

	// Verification metrics
	VerificationsTotal *prometheus.CounterVec

	// Alert metrics
	AlertsSentTotal *prometheus.CounterVec

	// API metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Storage metrics
	DatabaseOperationsTotal *prometheus.CounterVec

	// Application health metrics
	ApplicationUptime prometheus.Gauge
	ComponentHealth   *prometheus.GaugeVec
	GoroutineCount    prometheus.Gauge
	BannedOrigins     prometheus.Gauge
}

// NewPrometheusMetrics creates and registers all Prometheus metrics
func NewPrometheusMetrics() *PrometheusMetrics {
	return &PrometheusMetrics{
		EventsRecordedTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sentinel_events_recorded_total",
				Help: "Total number of threat events recorded",
			},
			[]string{"threat_type", "action", "chain_status"},
		),

		AppendConflictsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sentinel_append_conflicts_total",
				Help: "Total number of sequence slot conflicts on append",
			},
			[]string{"ledger"},
		),

		RecordDuration: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "sentinel_record_duration_seconds",
				Help:    "Time spent recording one event end to end",
				Buckets: prometheus.DefBuckets,
			},
		),

		RPCRequestsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sentinel_store_rpc_requests_total",
				Help: "Total number of RPC requests made to the ledger store",
			},
			[]string{"endpoint", "method", "status"},
		),

		RPCRequestDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "sentinel_store_rpc_request_duration_seconds",
				Help:    "Duration of RPC requests to the ledger store",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"endpoint", "method"},
		),

		ConnectionErrorsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sentinel_store_connection_errors_total",
				Help: "Total number of connection errors to ledger store nodes",
			},
			[]string{"endpoint", "error_type"},
		),

		HubSubscribers: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "sentinel_hub_subscribers",
				Help: "Current number of live stream subscribers",
			},
		),

		HubPublishedTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "sentinel_hub_published_total",
				Help: "Total number of events published to the hub",
			},
		),

		HubDroppedTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "sentinel_hub_dropped_total",
				Help: "Total number of messages dropped from slow subscriber queues",
			},
		),

		VerificationsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sentinel_verifications_total",
				Help: "Total number of verification requests by result",
			},
			[]string{"result"},
		),

		AlertsSentTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sentinel_alerts_sent_total",
				Help: "Total number of alerts dispatched",
			},
			[]string{"sink"},
		),

		HTTPRequestsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sentinel_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),

		HTTPRequestDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "sentinel_http_request_duration_seconds",
				Help:    "Duration of HTTP requests",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),

		DatabaseOperationsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sentinel_database_operations_total",
				Help: "Total number of database operations",
			},
			[]string{"operation", "status"},
		),

		ApplicationUptime: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "sentinel_application_uptime_seconds",
				Help: "Application uptime in seconds",
			},
		),

		ComponentHealth: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "sentinel_component_health",
				Help: "Health status of application components (1 healthy, 0 unhealthy)",
			},
			[]string{"component"},
		),

		GoroutineCount: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "sentinel_goroutines",
				Help: "Current number of goroutines",
			},
		),

		BannedOrigins: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "sentinel_banned_origins",
				Help: "Current number of banned origins",
			},
		),
	}
}

// RecordEventRecorded records a recorded threat event
func (m *PrometheusMetrics) RecordEventRecorded(threatType, action, chainStatus string) {
	m.EventsRecordedTotal.WithLabelValues(threatType, action, chainStatus).Inc()
}

// RecordAppendConflict records a lost race for a sequence slot
func (m *PrometheusMetrics) RecordAppendConflict(ledger string) {
	m.AppendConflictsTotal.WithLabelValues(ledger).Inc()
}

// RecordRecordDuration records the duration of one record call
func (m *PrometheusMetrics) RecordRecordDuration(duration time.Duration) {
	m.RecordDuration.Observe(duration.Seconds())
}

// RecordRPCRequest records an RPC request to the ledger store
func (m *PrometheusMetrics) RecordRPCRequest(endpoint, method, status string, duration time.Duration) {
	m.RPCRequestsTotal.WithLabelValues(endpoint, method, status).Inc()
	m.RPCRequestDuration.WithLabelValues(endpoint, method).Observe(duration.Seconds())
}

// RecordConnectionError records a ledger store connection error
func (m *PrometheusMetrics) RecordConnectionError(endpoint, errorType string) {
	m.ConnectionErrorsTotal.WithLabelValues(endpoint, errorType).Inc()
}

// UpdateHubSubscribers updates the live subscriber gauge
func (m *PrometheusMetrics) UpdateHubSubscribers(count int) {
	m.HubSubscribers.Set(float64(count))
}

// RecordHubPublished records a published event
func (m *PrometheusMetrics) RecordHubPublished() {
	m.HubPublishedTotal.Inc()
}

// RecordHubDropped records messages dropped from subscriber queues
func (m *PrometheusMetrics) RecordHubDropped(count uint64) {
	m.HubDroppedTotal.Add(float64(count))
}

// RecordVerification records a verification result
func (m *PrometheusMetrics) RecordVerification(result string) {
	m.VerificationsTotal.WithLabelValues(result).Inc()
}

// RecordAlertSent records an alert dispatch
func (m *PrometheusMetrics) RecordAlertSent(sink string) {
	m.AlertsSentTotal.WithLabelValues(sink).Inc()
}

// RecordHTTPRequest records an HTTP request
func (m *PrometheusMetrics) RecordHTTPRequest(method, path, status string, duration time.Duration) {
	m.HTTPRequestsTotal.WithLabelValues(method, path, status).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// RecordDatabaseOperation records a database operation
func (m *PrometheusMetrics) RecordDatabaseOperation(operation, status string) {
	m.DatabaseOperationsTotal.WithLabelValues(operation, status).Inc()
}

// UpdateApplicationUptime updates the application uptime metric
func (m *PrometheusMetrics) UpdateApplicationUptime(startTime time.Time) {
	m.ApplicationUptime.Set(time.Since(startTime).Seconds())
}

// UpdateComponentHealth updates the health status of a component
func (m *PrometheusMetrics) UpdateComponentHealth(component string, healthy bool) {
	value := 0.0
	if healthy {
		value = 1.0
	}
	m.ComponentHealth.WithLabelValues(component).Set(value)
}

// UpdateGoroutineCount updates the goroutine count metric
func (m *PrometheusMetrics) UpdateGoroutineCount(count int) {
	m.GoroutineCount.Set(float64(count))
}

// UpdateBannedOrigins updates the banned origin gauge
func (m *PrometheusMetrics) UpdateBannedOrigins(count int) {
	m.BannedOrigins.Set(float64(count))
}

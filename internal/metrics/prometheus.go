package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PrometheusMetrics contains all Prometheus metrics for the drawing scanner
type PrometheusMetrics struct {
	// Scan metrics
	ScansTotal          *prometheus.CounterVec
	ScanDuration        prometheus.Histogram
	EntriesAssigned     *prometheus.CounterVec
	BuysFilteredTotal   *prometheus.CounterVec
	TransactionsScanned prometheus.Counter
	ActiveDrawings      prometheus.Gauge

	// Upstream metrics
	RPCRequestsTotal   *prometheus.CounterVec
	RPCRequestDuration *prometheus.HistogramVec
	RPCRetriesTotal    *prometheus.CounterVec
	PriceLookupsTotal  *prometheus.CounterVec

	// Notification metrics
	NotificationsTotal *prometheus.CounterVec

	// Storage metrics
	DatabaseOperationsTotal   *prometheus.CounterVec
	DatabaseOperationDuration *prometheus.HistogramVec

	// API metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Application health metrics
	ApplicationUptime prometheus.Gauge
	ComponentHealth   *prometheus.GaugeVec
	MemoryUsage       prometheus.Gauge
	GoroutineCount    prometheus.Gauge
}

// NewPrometheusMetrics creates and registers all Prometheus metrics on reg
func NewPrometheusMetrics(reg prometheus.Registerer) *PrometheusMetrics {
	factory := promauto.With(reg)

	return &PrometheusMetrics{
		ScansTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "draw_scans_total",
				Help: "Total number of drawing scans by result",
			},
			[]string{"result"},
		),

		ScanDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "draw_scan_duration_seconds",
				Help:    "Time spent scanning a single drawing",
				Buckets: []float64{0.5, 1, 5, 15, 30, 60, 120, 300, 600},
			},
		),

		EntriesAssigned: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "draw_entries_assigned_total",
				Help: "Total number of tickets assigned",
			},
			[]string{"source"},
		),

		BuysFilteredTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "draw_buys_filtered_total",
				Help: "Parsed buys that did not become entries, by reason",
			},
			[]string{"reason"},
		),

		TransactionsScanned: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "draw_transactions_scanned_total",
				Help: "Total number of venue transactions examined",
			},
		),

		ActiveDrawings: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "draw_active_drawings",
				Help: "Number of active drawings seen by the last scheduled pass",
			},
		),

		RPCRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "draw_rpc_requests_total",
				Help: "Total number of Solana RPC requests",
			},
			[]string{"method", "status"},
		),

		RPCRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "draw_rpc_request_duration_seconds",
				Help:    "Duration of Solana RPC requests",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method"},
		),

		RPCRetriesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "draw_rpc_retries_total",
				Help: "Total number of retried upstream calls",
			},
			[]string{"operation"},
		),

		PriceLookupsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "draw_price_lookups_total",
				Help: "Price oracle lookups by outcome",
			},
			[]string{"status"},
		),

		NotificationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "draw_notifications_total",
				Help: "Webhook notifications by event and outcome",
			},
			[]string{"event", "status"},
		),

		DatabaseOperationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "draw_database_operations_total",
				Help: "Total number of database operations",
			},
			[]string{"operation", "table", "status"},
		),

		DatabaseOperationDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "draw_database_operation_duration_seconds",
				Help:    "Duration of database operations",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation", "table"},
		),

		HTTPRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "draw_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),

		HTTPRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "draw_http_request_duration_seconds",
				Help:    "Duration of HTTP requests",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),

		ApplicationUptime: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "draw_application_uptime_seconds",
				Help: "Application uptime in seconds",
			},
		),

		ComponentHealth: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "draw_component_health",
				Help: "Health status of application components (1 = healthy, 0 = unhealthy)",
			},
			[]string{"component"},
		),

		MemoryUsage: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "draw_memory_usage_bytes",
				Help: "Current memory usage in bytes",
			},
		),

		GoroutineCount: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "draw_goroutines_count",
				Help: "Current number of goroutines",
			},
		),
	}
}

// RecordScan records the outcome of one drawing scan
func (m *PrometheusMetrics) RecordScan(result string, duration time.Duration) {
	m.ScansTotal.WithLabelValues(result).Inc()
	m.ScanDuration.Observe(duration.Seconds())
}

// RecordEntriesAssigned counts tickets handed out by source (scan, backfill)
func (m *PrometheusMetrics) RecordEntriesAssigned(source string, count int) {
	if count > 0 {
		m.EntriesAssigned.WithLabelValues(source).Add(float64(count))
	}
}

// RecordBuysFiltered counts buys dropped for reason
func (m *PrometheusMetrics) RecordBuysFiltered(reason string, count int) {
	if count > 0 {
		m.BuysFilteredTotal.WithLabelValues(reason).Add(float64(count))
	}
}

// RecordTransactionsScanned counts examined venue transactions
func (m *PrometheusMetrics) RecordTransactionsScanned(count int) {
	if count > 0 {
		m.TransactionsScanned.Add(float64(count))
	}
}

// UpdateActiveDrawings sets the active drawing gauge
func (m *PrometheusMetrics) UpdateActiveDrawings(count int) {
	m.ActiveDrawings.Set(float64(count))
}

// RecordRPCRequest records a Solana RPC call
func (m *PrometheusMetrics) RecordRPCRequest(method, status string, duration time.Duration) {
	m.RPCRequestsTotal.WithLabelValues(method, status).Inc()
	m.RPCRequestDuration.WithLabelValues(method).Observe(duration.Seconds())
}

// RecordRetry counts a retried upstream operation
func (m *PrometheusMetrics) RecordRetry(operation string) {
	m.RPCRetriesTotal.WithLabelValues(operation).Inc()
}

// RecordPriceLookup counts price oracle outcomes (ok, unavailable, error)
func (m *PrometheusMetrics) RecordPriceLookup(status string) {
	m.PriceLookupsTotal.WithLabelValues(status).Inc()
}

// RecordNotification counts a webhook delivery (sent, failed)
func (m *PrometheusMetrics) RecordNotification(event, status string) {
	m.NotificationsTotal.WithLabelValues(event, status).Inc()
}

// RecordDatabaseOperation records a database operation
func (m *PrometheusMetrics) RecordDatabaseOperation(operation, table, status string, duration time.Duration) {
	m.DatabaseOperationsTotal.WithLabelValues(operation, table, status).Inc()
	m.DatabaseOperationDuration.WithLabelValues(operation, table).Observe(duration.Seconds())
}

// RecordHTTPRequest records an HTTP request
func (m *PrometheusMetrics) RecordHTTPRequest(method, path, status string, duration time.Duration) {
	m.HTTPRequestsTotal.WithLabelValues(method, path, status).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// UpdateApplicationUptime updates the application uptime
func (m *PrometheusMetrics) UpdateApplicationUptime(startTime time.Time) {
	m.ApplicationUptime.Set(time.Since(startTime).Seconds())
}

// UpdateComponentHealth updates component health status
func (m *PrometheusMetrics) UpdateComponentHealth(component string, healthy bool) {
	value := 0.0
	if healthy {
		value = 1.0
	}
	m.ComponentHealth.WithLabelValues(component).Set(value)
}

// UpdateMemoryUsage updates memory usage
func (m *PrometheusMetrics) UpdateMemoryUsage(bytes uint64) {
	m.MemoryUsage.Set(float64(bytes))
}

// UpdateGoroutineCount updates goroutine count
func (m *PrometheusMetrics) UpdateGoroutineCount(count int) {
	m.GoroutineCount.Set(float64(count))
}

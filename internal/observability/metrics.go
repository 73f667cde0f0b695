// Package observability provides Prometheus metrics for monitoring.
package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the application.
type Metrics struct {
	// Remote data cache metrics
	CacheRequests   *prometheus.CounterVec
	FetchesInFlight prometheus.Gauge
	FetchLatency    *prometheus.HistogramVec
	FetchErrors     *prometheus.CounterVec
	PollDeliveries  *prometheus.CounterVec

	// Widget metrics
	StaleResponsesDiscarded *prometheus.CounterVec
	SeriesPoints            *prometheus.GaugeVec

	// Live tick metrics
	TicksMerged      *prometheus.CounterVec
	TicksDropped     *prometheus.CounterVec
	StreamReconnects prometheus.Counter

	// Database metrics
	DBQueryDuration *prometheus.HistogramVec
	DBQueryErrors   *prometheus.CounterVec
}

// NewMetrics creates a new Metrics instance with all metrics registered.
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "agent_chart_lab"
	}

	return &Metrics{
		CacheRequests: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "querycache",
			Name:      "requests_total",
			Help:      "Total number of cache lookups by source and result (hit, miss, shared)",
		}, []string{"source", "result"}),
		FetchesInFlight: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "querycache",
			Name:      "fetches_in_flight",
			Help:      "Number of upstream fetches currently running",
		}),
		FetchLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "upstream",
			Name:      "fetch_latency_seconds",
			Help:      "Upstream fetch latency in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"source"}),
		FetchErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "upstream",
			Name:      "fetch_errors_total",
			Help:      "Total number of failed upstream fetches by source",
		}, []string{"source"}),
		PollDeliveries: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "querycache",
			Name:      "poll_deliveries_total",
			Help:      "Total number of snapshots pushed to subscribers by poll schedule",
		}, []string{"schedule"}),

		StaleResponsesDiscarded: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "widget",
			Name:      "stale_responses_discarded_total",
			Help:      "Total number of responses dropped because the widget key changed",
		}, []string{"source"}),
		SeriesPoints: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "widget",
			Name:      "series_points",
			Help:      "Number of points in the displayed series by widget",
		}, []string{"widget"}),

		TicksMerged: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "livetick",
			Name:      "ticks_merged_total",
			Help:      "Total number of live ticks applied by result (overwritten, appended)",
		}, []string{"result"}),
		TicksDropped: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "livetick",
			Name:      "ticks_dropped_total",
			Help:      "Total number of live ticks dropped by reason",
		}, []string{"reason"}),
		StreamReconnects: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "marketstream",
			Name:      "reconnects_total",
			Help:      "Total number of kline stream reconnect attempts",
		}),

		DBQueryDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "database",
			Name:      "query_duration_seconds",
			Help:      "Database query duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"database", "operation"}),
		DBQueryErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "database",
			Name:      "query_errors_total",
			Help:      "Total number of database query errors",
		}, []string{"database", "operation"}),
	}
}

// Handler returns an HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// DefaultMetrics is the default metrics instance.
var DefaultMetrics = NewMetrics("")

// RecordCacheRequest records a cache lookup outcome.
func RecordCacheRequest(source, result string) {
	DefaultMetrics.CacheRequests.WithLabelValues(source, result).Inc()
}

// RecordFetch records an upstream fetch.
func RecordFetch(source string, seconds float64, err error) {
	DefaultMetrics.FetchLatency.WithLabelValues(source).Observe(seconds)
	if err != nil {
		DefaultMetrics.FetchErrors.WithLabelValues(source).Inc()
	}
}

// RecordPollDelivery increments the poll delivery counter.
func RecordPollDelivery(schedule string) {
	DefaultMetrics.PollDeliveries.WithLabelValues(schedule).Inc()
}

// RecordStaleDiscard increments the stale response counter.
func RecordStaleDiscard(source string) {
	DefaultMetrics.StaleResponsesDiscarded.WithLabelValues(source).Inc()
}

// UpdateSeriesPoints sets the displayed series size for a widget.
func UpdateSeriesPoints(widget string, n int) {
	DefaultMetrics.SeriesPoints.WithLabelValues(widget).Set(float64(n))
}

// RecordTickMerged records an applied live tick.
func RecordTickMerged(result string) {
	DefaultMetrics.TicksMerged.WithLabelValues(result).Inc()
}

// RecordTickDropped records a live tick that was not applied.
func RecordTickDropped(reason string) {
	DefaultMetrics.TicksDropped.WithLabelValues(reason).Inc()
}

// RecordStreamReconnect increments the stream reconnect counter.
func RecordStreamReconnect() {
	DefaultMetrics.StreamReconnects.Inc()
}

// RecordDBQuery records database query metrics.
func RecordDBQuery(database, operation string, seconds float64, err error) {
	DefaultMetrics.DBQueryDuration.WithLabelValues(database, operation).Observe(seconds)
	if err != nil {
		DefaultMetrics.DBQueryErrors.WithLabelValues(database, operation).Inc()
	}
}

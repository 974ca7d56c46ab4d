// Package metrics exposes Prometheus instrumentation for the monitor.
package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

var (
	registry           *prometheus.Registry
	registryOnce       sync.Once
	defaultMetricsPath = "/metrics"
	metricsEnabled     = true

	// Pipeline metrics
	SamplesProcessed prometheus.Counter
	SamplesDropped   *prometheus.CounterVec
	ScoringFailures  prometheus.Counter
	TickDuration     prometheus.Histogram
	ConfusionLevel   prometheus.Gauge
	SignalQuality    *prometheus.GaugeVec
	DeviceConnected  prometheus.Gauge
	DeviceReconnects prometheus.Counter

	// Advisory metrics
	AdvisoryRequests *prometheus.CounterVec
	AdvisoryLatency  prometheus.Histogram

	// WebSocket metrics
	WSClientsConnected  prometheus.Gauge
	WSBroadcastsSent    *prometheus.CounterVec
	WSBroadcastsDropped prometheus.Counter

	// AMQP metrics
	AMQPPublishedMessages *prometheus.CounterVec
	AMQPPublishErrors     *prometheus.CounterVec
	AMQPConnectionErrors  *prometheus.CounterVec
	AMQPReconnectAttempts prometheus.Counter
	AMQPConnectionStatus  prometheus.Gauge
)

// Init initializes all metrics and registers them with Prometheus.
func Init(logger *logrus.Logger) {
	registryOnce.Do(func() {
		registry = prometheus.NewRegistry()

		SamplesProcessed = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "bci_samples_processed_total",
				Help: "Total number of EEG sample batches processed",
			},
		)

		SamplesDropped = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bci_samples_dropped_total",
				Help: "Total number of sample batches dropped",
			},
			[]string{"reason"},
		)

		ScoringFailures = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "bci_scoring_failures_total",
				Help: "Total number of ticks where scoring failed",
			},
		)

		TickDuration = prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "bci_tick_duration_seconds",
				Help:    "Duration of one sampling loop tick",
				Buckets: prometheus.ExponentialBuckets(0.0005, 2, 10), // 0.5ms to ~0.5s
			},
		)

		ConfusionLevel = prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "bci_confusion_level",
				Help: "Current smoothed confusion level (0 to 1)",
			},
		)

		SignalQuality = prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "bci_signal_quality",
				Help: "Per-channel signal quality (0 to 1)",
			},
			[]string{"channel"},
		)

		DeviceConnected = prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "bci_device_connected",
				Help: "Whether the EEG data source is connected (1 = connected)",
			},
		)

		DeviceReconnects = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "bci_device_reconnects_total",
				Help: "Total number of data source reconnect attempts",
			},
		)

		AdvisoryRequests = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bci_advisory_requests_total",
				Help: "Total number of advisory dispatches",
			},
			[]string{"provider", "status"},
		)

		AdvisoryLatency = prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "bci_advisory_latency_seconds",
				Help:    "Latency of advisory generation",
				Buckets: prometheus.ExponentialBuckets(0.01, 2, 12), // 10ms to ~40s
			},
		)

		WSClientsConnected = prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "bci_websocket_clients_connected",
				Help: "Number of connected websocket clients",
			},
		)

		WSBroadcastsSent = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bci_websocket_broadcasts_total",
				Help: "Total number of websocket broadcasts by message type",
			},
			[]string{"type"},
		)

		WSBroadcastsDropped = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "bci_websocket_broadcasts_dropped_total",
				Help: "Total number of broadcasts dropped due to slow clients",
			},
		)

		AMQPPublishedMessages = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bci_amqp_published_messages_total",
				Help: "Total number of records published to AMQP",
			},
			[]string{"kind"},
		)

		AMQPPublishErrors = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bci_amqp_publish_errors_total",
				Help: "Total number of failed AMQP publishes",
			},
			[]string{"kind"},
		)

		AMQPConnectionErrors = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bci_amqp_connection_errors_total",
				Help: "Total number of AMQP connection errors",
			},
			[]string{"reason"},
		)

		AMQPReconnectAttempts = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "bci_amqp_reconnect_attempts_total",
				Help: "Total number of AMQP reconnect attempts",
			},
		)

		AMQPConnectionStatus = prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "bci_amqp_connection_status",
				Help: "Status of AMQP connection (1 = connected, 0 = disconnected)",
			},
		)

		registry.MustRegister(
			// Pipeline metrics
			SamplesProcessed,
			SamplesDropped,
			ScoringFailures,
			TickDuration,
			ConfusionLevel,
			SignalQuality,
			DeviceConnected,
			DeviceReconnects,

			// Advisory metrics
			AdvisoryRequests,
			AdvisoryLatency,

			// WebSocket metrics
			WSClientsConnected,
			WSBroadcastsSent,
			WSBroadcastsDropped,

			// AMQP metrics
			AMQPPublishedMessages,
			AMQPPublishErrors,
			AMQPConnectionErrors,
			AMQPReconnectAttempts,
			AMQPConnectionStatus,
		)

		logger.Info("Prometheus metrics initialized")
	})
}

// GetRegistry returns the prometheus registry.
func GetRegistry() *prometheus.Registry {
	return registry
}

// SetMetricsPath sets the HTTP path for the metrics endpoint.
func SetMetricsPath(path string) {
	defaultMetricsPath = path
}

// EnableMetrics enables or disables metrics collection.
func EnableMetrics(enabled bool) {
	metricsEnabled = enabled
}

// IsMetricsEnabled returns whether metrics are enabled.
func IsMetricsEnabled() bool {
	return metricsEnabled
}

// RegisterHandler registers the metrics HTTP handler.
func RegisterHandler(mux *http.ServeMux) {
	if metricsEnabled {
		handler := promhttp.HandlerFor(
			registry,
			promhttp.HandlerOpts{
				EnableOpenMetrics: true,
				Registry:          registry,
			},
		)
		mux.Handle(defaultMetricsPath, handler)
	}
}

// RecordAdvisoryRequest records an advisory dispatch outcome.
func RecordAdvisoryRequest(provider, status string) {
	if metricsEnabled && AdvisoryRequests != nil {
		AdvisoryRequests.WithLabelValues(provider, status).Inc()
	}
}

// ObserveAdvisoryLatency returns a function to be deferred that records
// advisory generation latency.
func ObserveAdvisoryLatency() func() {
	if !metricsEnabled || AdvisoryLatency == nil {
		return func() {}
	}
	start := time.Now()
	return func() {
		AdvisoryLatency.Observe(time.Since(start).Seconds())
	}
}

// ObserveTick returns a function to be deferred that records tick
// duration.
func ObserveTick() func() {
	if !metricsEnabled || TickDuration == nil {
		return func() {}
	}
	start := time.Now()
	return func() {
		TickDuration.Observe(time.Since(start).Seconds())
	}
}

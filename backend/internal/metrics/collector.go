package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsCollector collects and exports service metrics
type MetricsCollector struct {
	registry *prometheus.Registry

	// Data Collection Metrics
	flowsIngested prometheus.Counter

	// ML Detection Metrics
	trainings          *prometheus.CounterVec
	trainingLatency    prometheus.Histogram
	predictions        prometheus.Counter
	anomalies          prometheus.Counter
	mlDetectionErrors  prometheus.Counter
	mlDetectionLatency prometheus.Histogram

	// Alert Metrics
	alertsRaised prometheus.Counter

	// Storage Metrics
	storageOps     *prometheus.CounterVec
	storageLatency *prometheus.HistogramVec

	// HTTP Metrics
	httpRequests *prometheus.CounterVec
}

// NewMetricsCollector creates a collector registered on its own registry
func NewMetricsCollector() *MetricsCollector {
	m := &MetricsCollector{
		registry: prometheus.NewRegistry(),
		flowsIngested: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "flowguard_flows_ingested_total",
			Help: "Flow records stored",
		}),
		trainings: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "flowguard_trainings_total",
			Help: "Model training runs by outcome",
		}, []string{"status"}),
		trainingLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "flowguard_training_duration_seconds",
			Help:    "Model training duration",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
		}),
		predictions: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "flowguard_predictions_total",
			Help: "Flow records scored",
		}),
		anomalies: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "flowguard_anomalies_total",
			Help: "Flow records flagged as anomalous",
		}),
		mlDetectionErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "flowguard_detection_errors_total",
			Help: "Failed analysis requests",
		}),
		mlDetectionLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "flowguard_detection_duration_seconds",
			Help:    "Analysis request duration",
			Buckets: prometheus.DefBuckets,
		}),
		alertsRaised: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "flowguard_alerts_total",
			Help: "Alerts created",
		}),
		storageOps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "flowguard_storage_operations_total",
			Help: "Storage operations by kind and outcome",
		}, []string{"op", "status"}),
		storageLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "flowguard_storage_duration_seconds",
			Help:    "Storage operation duration",
			Buckets: prometheus.DefBuckets,
		}, []string{"op"}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "flowguard_http_requests_total",
			Help: "HTTP requests by route and status code",
		}, []string{"method", "route", "code"}),
	}

	m.registry.MustRegister(
		m.flowsIngested,
		m.trainings,
		m.trainingLatency,
		m.predictions,
		m.anomalies,
		m.mlDetectionErrors,
		m.mlDetectionLatency,
		m.alertsRaised,
		m.storageOps,
		m.storageLatency,
		m.httpRequests,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry exposes the underlying registry
func (m *MetricsCollector) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the metrics in the Prometheus exposition format
func (m *MetricsCollector) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordDataCollection records stored flow records
func (m *MetricsCollector) RecordDataCollection(count int) {
	m.flowsIngested.Add(float64(count))
}

// RecordTraining records a training run
func (m *MetricsCollector) RecordTraining(latency time.Duration, err error) {
	m.trainings.WithLabelValues(status(err)).Inc()
	if err == nil {
		m.trainingLatency.Observe(latency.Seconds())
	}
}

// RecordMLDetection records an analysis request
func (m *MetricsCollector) RecordMLDetection(latency time.Duration, err error, scored, anomalous int) {
	m.mlDetectionLatency.Observe(latency.Seconds())
	if err != nil {
		m.mlDetectionErrors.Inc()
		return
	}
	m.predictions.Add(float64(scored))
	m.anomalies.Add(float64(anomalous))
}

// RecordAlert records a created alert
func (m *MetricsCollector) RecordAlert() {
	m.alertsRaised.Inc()
}

// RecordStorageWrite records a storage write
func (m *MetricsCollector) RecordStorageWrite(op string, latency time.Duration, err error) {
	m.recordStorage("write_"+op, latency, err)
}

// RecordStorageRead records a storage read
func (m *MetricsCollector) RecordStorageRead(op string, latency time.Duration, err error) {
	m.recordStorage("read_"+op, latency, err)
}

func (m *MetricsCollector) recordStorage(op string, latency time.Duration, err error) {
	m.storageOps.WithLabelValues(op, status(err)).Inc()
	m.storageLatency.WithLabelValues(op).Observe(latency.Seconds())
}

// RecordHTTPRequest records a served HTTP request
func (m *MetricsCollector) RecordHTTPRequest(method, route string, code int) {
	m.httpRequests.WithLabelValues(method, route, strconv.Itoa(code)).Inc()
}

func status(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}

// HTTPRequests exposes the HTTP request counter
func (m *MetricsCollector) HTTPRequests() *prometheus.CounterVec {
	return m.httpRequests
}

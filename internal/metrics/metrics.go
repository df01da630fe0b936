// Package metrics provides Prometheus metrics collection for the KOI classifier.
// It defines the prediction, batch, bundle and HTTP metrics exposed on the
// /metrics endpoint.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "koi"

// Metrics holds all Prometheus metrics for the classifier service.
type Metrics struct {
	// Prediction metrics
	PredictionsTotal     *prometheus.CounterVec // Predictions by disposition label
	RowErrorsTotal       *prometheus.CounterVec // Failed rows by error kind
	PredictLatency       prometheus.Histogram   // Per-row inference latency in seconds
	PredictionConfidence prometheus.Histogram   // Probability of the predicted label

	// Batch metrics
	BatchRuns     prometheus.Counter   // Completed batch runs
	BatchSize     prometheus.Histogram // Rows per batch
	BatchDuration prometheus.Histogram // Wall time per batch in seconds

	// Bundle metrics
	BundleAge  prometheus.Gauge     // Age of the loaded model in seconds
	BundleInfo *prometheus.GaugeVec // Constant 1 labelled with the bundle version

	// Service metrics
	HTTPRequests   *prometheus.CounterVec   // Requests by route and status code
	HTTPDuration   *prometheus.HistogramVec // Request duration by route
	WSConnections  prometheus.Gauge         // Open websocket streams
	ArchiveLookups *prometheus.CounterVec   // Stellar archive lookups by outcome
	ErrorsTotal    prometheus.Counter       // Total number of errors encountered
}

// New creates and registers all Prometheus metrics using the default registry.
func New() *Metrics {
	return NewWithRegistry(prometheus.DefaultRegisterer)
}

// NewWithRegistry creates metrics with a custom registry (useful for testing).
func NewWithRegistry(registerer prometheus.Registerer) *Metrics {
	factory := promauto.With(registerer)
	return &Metrics{
		PredictionsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "predictions_total",
			Help:      "Total number of predictions by disposition label",
		}, []string{"label"}),
		RowErrorsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "row_errors_total",
			Help:      "Total number of rows that failed prediction, by error kind",
		}, []string{"kind"}),
		PredictLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "predict_latency_seconds",
			Help:      "Per-row inference latency in seconds",
			Buckets:   []float64{0.00001, 0.00005, 0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1},
		}),
		PredictionConfidence: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "prediction_confidence",
			Help:      "Distribution of the predicted label's probability",
			Buckets:   prometheus.LinearBuckets(0, 0.1, 11),
		}),
		BatchRuns: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "batch_runs_total",
			Help:      "Total number of batch runs completed",
		}),
		BatchSize: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "batch_size_rows",
			Help:      "Number of rows per batch run",
			Buckets:   prometheus.ExponentialBuckets(1, 4, 10),
		}),
		BatchDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "batch_duration_seconds",
			Help:      "Duration of batch runs in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 15),
		}),
		BundleAge: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "bundle_age_seconds",
			Help:      "Age of the loaded model bundle in seconds",
		}),
		BundleInfo: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "bundle_info",
			Help:      "Loaded model bundle version",
		}, []string{"version"}),
		HTTPRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total HTTP requests by route and status code",
		}, []string{"route", "code"}),
		HTTPDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route"}),
		WSConnections: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "ws_connections",
			Help:      "Number of open prediction websocket streams",
		}),
		ArchiveLookups: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "archive_lookups_total",
			Help:      "Stellar archive lookups by outcome",
		}, []string{"outcome"}),
		ErrorsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "errors_total",
			Help:      "Total number of errors encountered",
		}),
	}
}

// SetBundle records the loaded bundle version.
func (m *Metrics) SetBundle(version string, ageSeconds float64) {
	m.BundleInfo.Reset()
	m.BundleInfo.WithLabelValues(version).Set(1)
	m.BundleAge.Set(ageSeconds)
}

// GetErrorRate returns failed rows over all rows seen by the gatherer, or 0
// when nothing has been predicted yet.
func GetErrorRate(gatherer prometheus.Gatherer) float64 {
	var predictions, failures float64

	metricFamilies, err := gatherer.Gather()
	if err != nil {
		return 0
	}

	for _, mf := range metricFamilies {
		switch mf.GetName() {
		case namespace + "_predictions_total":
			for _, m := range mf.Metric {
				predictions += m.GetCounter().GetValue()
			}
		case namespace + "_row_errors_total":
			for _, m := range mf.Metric {
				failures += m.GetCounter().GetValue()
			}
		}
	}

	// Avoid division by zero
	if predictions+failures == 0 {
		return 0
	}

	return failures / (predictions + failures)
}

package metrics

import (
	"strconv"
	"time"
)

// MetricsWrapper adapts Metrics to the narrow interfaces the predictor, batch
// runner and API depend on.
type MetricsWrapper struct {
	m *Metrics
}

func NewWrapper(m *Metrics) *MetricsWrapper {
	return &MetricsWrapper{m: m}
}

func (w *MetricsWrapper) PredictionsInc(label string) {
	w.m.PredictionsTotal.WithLabelValues(label).Inc()
}

func (w *MetricsWrapper) RowErrorsInc(kind string) {
	w.m.RowErrorsTotal.WithLabelValues(kind).Inc()
}

func (w *MetricsWrapper) LatencyObserve(seconds float64) {
	w.m.PredictLatency.Observe(seconds)
}

func (w *MetricsWrapper) ConfidenceObserve(p float64) {
	w.m.PredictionConfidence.Observe(p)
}

func (w *MetricsWrapper) BundleAgeSet(seconds float64) {
	w.m.BundleAge.Set(seconds)
}

// BatchObserve records one completed batch run.
func (w *MetricsWrapper) BatchObserve(rows int, elapsed time.Duration) {
	w.m.BatchRuns.Inc()
	w.m.BatchSize.Observe(float64(rows))
	w.m.BatchDuration.Observe(elapsed.Seconds())
}

// RequestObserve records one HTTP request.
func (w *MetricsWrapper) RequestObserve(route string, code int, elapsed time.Duration) {
	w.m.HTTPRequests.WithLabelValues(route, strconv.Itoa(code)).Inc()
	w.m.HTTPDuration.WithLabelValues(route).Observe(elapsed.Seconds())
	if code >= 500 {
		w.m.ErrorsTotal.Inc()
	}
}

func (w *MetricsWrapper) WSConnectionsAdd(delta float64) {
	w.m.WSConnections.Add(delta)
}

func (w *MetricsWrapper) ArchiveLookupInc(outcome string) {
	w.m.ArchiveLookups.WithLabelValues(outcome).Inc()
}

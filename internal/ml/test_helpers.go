package ml

import (
	"sync"
	"time"

	"koi-classifier/internal/features"
)

// MockMetrics implements MetricsInterface for testing
type MockMetrics struct {
	mu          sync.Mutex
	predictions map[string]int
	rowErrors   map[string]int
	latencySum  float64
	latencies   int
	confidence  []float64
	bundleAge   float64
}

func (m *MockMetrics) PredictionsInc(label string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.predictions == nil {
		m.predictions = make(map[string]int)
	}
	m.predictions[label]++
}

func (m *MockMetrics) RowErrorsInc(kind string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.rowErrors == nil {
		m.rowErrors = make(map[string]int)
	}
	m.rowErrors[kind]++
}

func (m *MockMetrics) LatencyObserve(v float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.latencySum += v
	m.latencies++
}

func (m *MockMetrics) ConfidenceObserve(v float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.confidence = append(m.confidence, v)
}

func (m *MockMetrics) BundleAgeSet(v float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.bundleAge = v
}

// Predictions returns the prediction count for label.
func (m *MockMetrics) Predictions(label string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.predictions[label]
}

// RowErrors returns the error count for kind.
func (m *MockMetrics) RowErrors(kind string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.rowErrors[kind]
}

// FixtureFeatureNames is the fitted feature order of the fixture bundle. It
// deliberately differs from the order the pipeline produces.
var FixtureFeatureNames = []string{
	features.TransitStrength,
	features.Score,
	features.PlanetStarRatio,
	features.Period,
	features.DepthLog,
	features.ModelSNRLog,
	features.Impact,
	features.ImpactDepthProduct,
	features.PeriodDurationRatio,
	features.StellarTeff,
}

// FixtureBundleFiles builds a small, hand-checked bundle. A koi_score at or
// below 0.5 votes FALSE POSITIVE, above it votes CONFIRMED.
func FixtureBundleFiles() BundleFiles {
	n := len(FixtureFeatureNames)
	mean := make([]float64, n)
	scale := make([]float64, n)
	for i := range scale {
		scale[i] = 1
	}
	// koi_score standardizes to 0 at the decision point.
	mean[1], scale[1] = 0.5, 0.25

	leaf := func(v ...float64) Node { return Node{Left: -1, Right: -1, Value: v} }
	split := func(feature int, threshold float64) Node {
		return Node{Feature: feature, Threshold: threshold, Left: 1, Right: 2}
	}

	// Classifier index order follows the codec: CANDIDATE, CONFIRMED, FALSE POSITIVE.
	ens := &Ensemble{
		Format:    EnsembleFormat,
		NFeatures: n,
		NClasses:  3,
		Voting:    "soft",
		Estimators: []Estimator{
			{
				Name: "random_forest",
				Kind: KindForest,
				Trees: []Tree{
					{Nodes: []Node{split(1, 0), leaf(1, 1, 8), leaf(3, 6, 1)}},
					{Nodes: []Node{split(0, 10000), leaf(2, 2, 6), leaf(2, 6, 2)}},
				},
			},
			{
				Name:      "gradient_boosting",
				Kind:      KindBoosted,
				BaseScore: []float64{0, 0, 0},
				Trees: []Tree{
					{Class: 1, Nodes: []Node{split(1, 0), leaf(-1), leaf(1)}},
					{Class: 2, Nodes: []Node{split(1, 0), leaf(1), leaf(-1)}},
				},
			},
		},
	}

	return BundleFiles{
		Scaler:   &Scaler{FeatureNames: append([]string(nil), FixtureFeatureNames...), Mean: mean, Scale: scale},
		Ensemble: ens,
		Codec:    DefaultCodec(),
		Manifest: &Manifest{
			Version:      "fixture-1",
			TrainedAt:    time.Date(2025, 1, 15, 12, 0, 0, 0, time.UTC),
			FeatureNames: append([]string(nil), FixtureFeatureNames...),
			Stats:        fixtureStats(),
			Metrics:      map[string]float64{"accuracy": 0.91, "f1_macro": 0.88},
		},
	}
}

// fixtureStats are batch statistics over reference rows with varied score and period.
func fixtureStats() features.Stats {
	var recs []features.Record
	for i := 0; i < 9; i++ {
		rec := features.Record{}
		for k, v := range features.ReferenceDefaults {
			rec[k] = v
		}
		rec[features.Score] = 0.1 * float64(i+1)
		rec[features.Period] = 10 + 20*float64(i)
		recs = append(recs, rec)
	}
	tbl, _, _ := features.DefaultSchema().Reconcile(recs, nil)
	tbl, _ = features.Engineer(tbl, nil)

	stats := make(features.Stats)
	for _, c := range tbl.Columns() {
		if s, ok := features.ComputeStats(tbl.Column(c)); ok {
			stats[c] = s
		}
	}
	return stats
}

// WriteFixtureBundle writes the fixture bundle to dir.
func WriteFixtureBundle(dir string) error {
	return SaveBundle(dir, FixtureBundleFiles())
}

package features

import (
	"math"
	"sort"
)

// ColumnStats are the imputation and clipping statistics of one column.
type ColumnStats struct {
	Median float64 `json:"median" yaml:"median"`
	Q1     float64 `json:"q1" yaml:"q1"`
	Q3     float64 `json:"q3" yaml:"q3"`
}

// Stats maps column name to its statistics.
type Stats map[string]ColumnStats

// IQRMultiplier scales the interquartile range into clip bounds.
const IQRMultiplier = 2.0

// Bounds returns the clip interval [Q1 - 2*IQR, Q3 + 2*IQR].
func (s ColumnStats) Bounds() (lo, hi float64) {
	iqr := s.Q3 - s.Q1
	return s.Q1 - IQRMultiplier*iqr, s.Q3 + IQRMultiplier*iqr
}

// Median returns the median of the non-NaN values, averaging the two middle
// values for even counts. ok is false when no value is present.
func Median(values []float64) (float64, bool) {
	sorted := presentSorted(values)
	n := len(sorted)
	if n == 0 {
		return math.NaN(), false
	}
	if n%2 == 1 {
		return sorted[n/2], true
	}
	return (sorted[n/2-1] + sorted[n/2]) / 2, true
}

// Quantile returns the q-quantile of the non-NaN values using linear
// interpolation between the closest ranks at position (n-1)*q.
func Quantile(values []float64, q float64) (float64, bool) {
	sorted := presentSorted(values)
	if len(sorted) == 0 {
		return math.NaN(), false
	}
	return quantileSorted(sorted, q), true
}

// ComputeStats fills missing values with the median and then takes the
// quartiles of the filled column.
func ComputeStats(values []float64) (ColumnStats, bool) {
	med, ok := Median(values)
	if !ok {
		return ColumnStats{Median: math.NaN(), Q1: math.NaN(), Q3: math.NaN()}, false
	}
	filled := make([]float64, len(values))
	for i, v := range values {
		if math.IsNaN(v) {
			v = med
		}
		filled[i] = v
	}
	sort.Float64s(filled)
	return ColumnStats{
		Median: med,
		Q1:     quantileSorted(filled, 0.25),
		Q3:     quantileSorted(filled, 0.75),
	}, true
}

func quantileSorted(sorted []float64, q float64) float64 {
	pos := float64(len(sorted)-1) * q
	lo := math.Floor(pos)
	i := int(lo)
	if i+1 >= len(sorted) {
		return sorted[len(sorted)-1]
	}
	t := pos - lo
	if t == 0 {
		return sorted[i]
	}
	a, b := sorted[i], sorted[i+1]
	diff := b - a
	// Interpolate from the nearer end so that t=1 yields b exactly.
	if t >= 0.5 {
		return b - diff*(1-t)
	}
	return a + diff*t
}

func presentSorted(values []float64) []float64 {
	out := make([]float64, 0, len(values))
	for _, v := range values {
		if !math.IsNaN(v) {
			out = append(out, v)
		}
	}
	sort.Float64s(out)
	return out
}

package ml

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
)

// Scaler standardizes features as (x - mean) / scale in FeatureNames order.
type Scaler struct {
	FeatureNames []string  `json:"feature_names"`
	Mean         []float64 `json:"mean"`
	Scale        []float64 `json:"scale"`
}

func (s *Scaler) validate() error {
	n := len(s.FeatureNames)
	if n == 0 {
		return fmt.Errorf("scaler has no features")
	}
	if len(s.Mean) != n || len(s.Scale) != n {
		return fmt.Errorf("scaler widths differ: %d names, %d means, %d scales", n, len(s.Mean), len(s.Scale))
	}
	seen := make(map[string]bool, n)
	for i, name := range s.FeatureNames {
		if seen[name] {
			return fmt.Errorf("scaler feature %q listed twice", name)
		}
		seen[name] = true
		if math.IsNaN(s.Mean[i]) || math.IsInf(s.Mean[i], 0) {
			return fmt.Errorf("scaler mean for %s is not finite", name)
		}
		if !(s.Scale[i] > 0) || math.IsInf(s.Scale[i], 0) {
			return fmt.Errorf("scaler scale for %s must be positive and finite", name)
		}
	}
	return nil
}

// Width returns the number of features.
func (s *Scaler) Width() int { return len(s.FeatureNames) }

// Transform writes the standardized vector of x into a new slice.
func (s *Scaler) Transform(x []float64) ([]float64, error) {
	if len(x) != len(s.Mean) {
		return nil, fmt.Errorf("scaler expects %d features, got %d", len(s.Mean), len(x))
	}
	out := make([]float64, len(x))
	floats.SubTo(out, x, s.Mean)
	floats.Div(out, s.Scale)
	return out, nil
}

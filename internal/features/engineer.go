package features

import (
	"fmt"
	"math"
	"strings"
)

// Derived feature columns, appended in this order.
const (
	DepthLog            = "koi_depth_log"
	ModelSNRLog         = "koi_model_snr_log"
	TransitStrength     = "transit_strength"
	PlanetStarRatio     = "planet_star_ratio"
	ImpactDepthProduct  = "impact_depth_product"
	PeriodDurationRatio = "period_duration_ratio"
)

const (
	// SolarEffectiveTempK is the solar effective temperature reference.
	SolarEffectiveTempK = 5778.0
	hoursPerDay         = 24.0
)

// DerivedColumns lists the engineered columns in append order.
var DerivedColumns = []string{
	DepthLog, ModelSNRLog, TransitStrength, PlanetStarRatio, ImpactDepthProduct, PeriodDurationRatio,
}

type derivation struct {
	name   string
	inputs []string
	fn     func(get func(string) float64) float64
}

var derivations = []derivation{
	{DepthLog, []string{Depth}, func(g func(string) float64) float64 {
		return math.Log1p(g(Depth))
	}},
	{ModelSNRLog, []string{ModelSNR}, func(g func(string) float64) float64 {
		return math.Log1p(g(ModelSNR))
	}},
	{TransitStrength, []string{Depth, ModelSNR, Period}, func(g func(string) float64) float64 {
		return g(Depth) * g(ModelSNR) / (g(Period) + 1)
	}},
	{PlanetStarRatio, []string{PlanetRadius, StellarTeff}, func(g func(string) float64) float64 {
		return g(PlanetRadius) / (g(StellarTeff) / SolarEffectiveTempK)
	}},
	{ImpactDepthProduct, []string{Impact, Depth}, func(g func(string) float64) float64 {
		return g(Impact) * g(DepthLog)
	}},
	{PeriodDurationRatio, []string{Period, Duration}, func(g func(string) float64) float64 {
		return g(Period) / (g(Duration) / hoursPerDay)
	}},
}

// imputedBeforeDerivation are filled with their median ahead of the log transforms.
var imputedBeforeDerivation = []string{Depth, ModelSNR}

// Engineer returns a copy of t with the derived columns appended. koi_depth and
// koi_model_snr are first filled with their median (frozen when available,
// otherwise over the rows of t). Rows whose derived values cannot be computed
// from present inputs are reported by table row index.
func Engineer(t *Table, frozen Stats) (*Table, map[int]error) {
	out := t.WithColumns(DerivedColumns...)
	failures := make(map[int]error)

	for _, c := range imputedBeforeDerivation {
		if !out.Has(c) {
			continue
		}
		med, ok := frozenOrBatchMedian(out, c, frozen)
		if !ok {
			continue
		}
		for i := 0; i < out.Len(); i++ {
			if math.IsNaN(out.Value(i, c)) {
				out.set(i, c, med)
			}
		}
	}

	for i := 0; i < out.Len(); i++ {
		get := func(c string) float64 { return out.Value(i, c) }
		for _, d := range derivations {
			v := d.fn(get)
			out.set(i, d.name, v)
			if _, failed := failures[i]; failed {
				continue
			}
			if math.IsInf(v, 0) || (math.IsNaN(v) && inputsPresent(get, d.inputs)) {
				failures[i] = &FeaturizationError{
					Field:  d.name,
					Reason: fmt.Sprintf("non-finite result from %s", strings.Join(d.inputs, ", ")),
				}
			}
		}
	}
	return out, failures
}

func inputsPresent(get func(string) float64, inputs []string) bool {
	for _, c := range inputs {
		if math.IsNaN(get(c)) {
			return false
		}
	}
	return true
}

func frozenOrBatchMedian(t *Table, column string, frozen Stats) (float64, bool) {
	if s, ok := frozen[column]; ok {
		return s.Median, true
	}
	return Median(t.Column(column))
}

package features

import (
	"fmt"
	"math"
	"sort"
)

// Raw input columns
const (
	Period            = "koi_period"
	Time0BK           = "koi_time0bk"
	Duration          = "koi_duration"
	Depth             = "koi_depth"
	PlanetRadius      = "koi_prad"
	Impact            = "koi_impact"
	ModelSNR          = "koi_model_snr"
	Score             = "koi_score"
	PDispositionBin   = "koi_pdisposition_bin"
	StellarTeff       = "koi_steff"
	StellarRadius     = "koi_srad"
	StellarSurfaceLog = "koi_slogg"
)

// RawColumns is the canonical order of known raw columns.
var RawColumns = []string{
	Period, Time0BK, Duration, Depth, PlanetRadius, Impact,
	ModelSNR, Score, PDispositionBin, StellarTeff, StellarRadius, StellarSurfaceLog,
}

// ReferenceDefaults are the values the analysis form pre-fills.
var ReferenceDefaults = map[string]float64{
	Period:            75.0,
	Time0BK:           0.0,
	Duration:          4.0,
	Depth:             23791.0,
	PlanetRadius:      1.0,
	Impact:            0.7,
	ModelSNR:          10.0,
	Score:             0.5,
	PDispositionBin:   1.2,
	StellarTeff:       5778.0,
	StellarRadius:     1.0,
	StellarSurfaceLog: 4.4,
}

// Schema decides how raw columns are reconciled before feature engineering.
type Schema struct {
	defaults map[string]float64
}

// DefaultSchema uses the reference defaults for every raw column.
func DefaultSchema() Schema {
	s, _ := NewSchema(nil, nil)
	return s
}

// NewSchema builds a schema. overrides replace reference defaults; required
// fields lose their default and must be supplied by every record.
func NewSchema(required []string, overrides map[string]float64) (Schema, error) {
	known := make(map[string]bool, len(RawColumns))
	for _, c := range RawColumns {
		known[c] = true
	}

	defaults := make(map[string]float64, len(ReferenceDefaults))
	for k, v := range ReferenceDefaults {
		defaults[k] = v
	}
	for k, v := range overrides {
		if !known[k] {
			return Schema{}, fmt.Errorf("default override for unknown column %q", k)
		}
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return Schema{}, fmt.Errorf("default override for %s must be finite", k)
		}
		defaults[k] = v
	}
	for _, k := range required {
		if !known[k] {
			return Schema{}, fmt.Errorf("required field %q is not a known column", k)
		}
		delete(defaults, k)
	}
	return Schema{defaults: defaults}, nil
}

// IsZero reports whether s is the zero Schema rather than one built by NewSchema.
func (s Schema) IsZero() bool { return s.defaults == nil }

// Default returns the documented default for a raw column.
func (s Schema) Default(column string) (float64, bool) {
	v, ok := s.defaults[column]
	return v, ok
}

// Required returns the raw columns that have no default.
func (s Schema) Required() []string {
	var out []string
	for _, c := range RawColumns {
		if _, ok := s.defaults[c]; !ok {
			out = append(out, c)
		}
	}
	return out
}

// Reconcile turns records into a table over the known raw columns followed by
// any extra columns (sorted). Absent columns take their default; a column with
// no value anywhere in the batch is treated as absent unless frozen holds its
// statistics. Rows that cannot be reconciled are reported by input index and
// left out of the table; rowIndex maps table rows back to input positions.
func (s Schema) Reconcile(recs []Record, frozen Stats) (*Table, []int, map[int]error) {
	failures := make(map[int]error)

	known := make(map[string]bool, len(RawColumns))
	for _, c := range RawColumns {
		known[c] = true
	}
	extraSet := make(map[string]bool)
	for _, r := range recs {
		for k := range r {
			if !known[k] {
				extraSet[k] = true
			}
		}
	}
	extras := make([]string, 0, len(extraSet))
	for k := range extraSet {
		extras = append(extras, k)
	}
	sort.Strings(extras)

	columns := append(append([]string{}, RawColumns...), extras...)
	t := NewTable(columns)
	var rowIndex []int

	for i, r := range recs {
		row := make([]float64, len(columns))
		var err error
		for j, c := range columns {
			v, ok := r[c]
			if !ok {
				if !known[c] {
					row[j] = math.NaN()
					continue
				}
				def, hasDef := s.defaults[c]
				if !hasDef {
					err = &FeaturizationError{Field: c, Reason: "required field is absent"}
					break
				}
				v = def
			}
			if math.IsInf(v, 0) {
				err = &FeaturizationError{Field: c, Reason: "value is not finite"}
				break
			}
			row[j] = v
		}
		if err != nil {
			failures[i] = err
			continue
		}
		t.AppendRow(row)
		rowIndex = append(rowIndex, i)
	}

	// Columns with no value anywhere have no median to impute from.
	var emptyExtras []string
	for _, c := range columns {
		if _, ok := frozen[c]; ok {
			continue
		}
		if !allMissing(t.Column(c)) {
			continue
		}
		if !known[c] {
			emptyExtras = append(emptyExtras, c)
			continue
		}
		def, hasDef := s.defaults[c]
		if hasDef {
			for i := 0; i < t.Len(); i++ {
				t.set(i, c, def)
			}
			continue
		}
		drop := make(map[int]bool, t.Len())
		for i := 0; i < t.Len(); i++ {
			drop[i] = true
			failures[rowIndex[i]] = &FeaturizationError{Field: c, Reason: "value missing and no default available"}
		}
		t = t.Without(drop)
		rowIndex = nil
	}

	if len(emptyExtras) > 0 {
		keep := make([]string, 0, len(columns))
		skip := make(map[string]bool, len(emptyExtras))
		for _, c := range emptyExtras {
			skip[c] = true
		}
		for _, c := range t.Columns() {
			if !skip[c] {
				keep = append(keep, c)
			}
		}
		t, _ = t.Select(keep)
	}

	return t, rowIndex, failures
}

func allMissing(values []float64) bool {
	for _, v := range values {
		if !math.IsNaN(v) {
			return false
		}
	}
	return true
}

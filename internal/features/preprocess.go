package features

import (
	"fmt"
	"math"
	"strings"
)

// StatsMode selects where imputation and clipping statistics come from.
type StatsMode string

const (
	// StatsBatch computes statistics over the rows processed together.
	StatsBatch StatsMode = "batch"
	// StatsFrozen uses statistics recorded with the model bundle.
	StatsFrozen StatsMode = "frozen"
	// StatsRow processes every row as its own one-row batch.
	StatsRow StatsMode = "row"
)

// ParseStatsMode validates a mode name.
func ParseStatsMode(s string) (StatsMode, error) {
	switch m := StatsMode(strings.ToLower(strings.TrimSpace(s))); m {
	case StatsBatch, StatsFrozen, StatsRow:
		return m, nil
	case "":
		return StatsBatch, nil
	default:
		return "", fmt.Errorf("unknown stats mode %q (want batch, frozen or row)", s)
	}
}

// Preprocessor imputes missing values with the column median and clips every
// column to [Q1 - 2*IQR, Q3 + 2*IQR].
type Preprocessor struct {
	frozen Stats
}

// NewPreprocessor returns a batch-relative preprocessor when frozen is nil.
func NewPreprocessor(frozen Stats) *Preprocessor {
	return &Preprocessor{frozen: frozen}
}

// Apply returns a preprocessed copy of t with the same shape and column order.
func (p *Preprocessor) Apply(t *Table) *Table {
	out := t.Clone()
	for _, c := range out.Columns() {
		stats, ok := p.StatsFor(out, c)
		if !ok {
			continue
		}
		lo, hi := stats.Bounds()
		for i := 0; i < out.Len(); i++ {
			v := out.Value(i, c)
			if math.IsNaN(v) {
				v = stats.Median
			}
			out.set(i, c, Clip(v, lo, hi))
		}
	}
	return out
}

// StatsFor returns the statistics applied to column c of t.
func (p *Preprocessor) StatsFor(t *Table, c string) (ColumnStats, bool) {
	if s, ok := p.frozen[c]; ok {
		return s, true
	}
	return ComputeStats(t.Column(c))
}

// Clip bounds v to [lo, hi].
func Clip(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// Pipeline runs reconciliation, feature engineering and preprocessing.
type Pipeline struct {
	Schema Schema
	Frozen Stats
}

// Transform featurizes a batch. The returned table holds one row per
// surviving record; rowIndex maps its rows to input positions and failures
// holds the rows that were rejected.
func (p Pipeline) Transform(recs []Record) (*Table, []int, map[int]error) {
	t, rowIndex, failures := p.Schema.Reconcile(recs, p.Frozen)

	engineered, engFailures := Engineer(t, p.Frozen)
	if len(engFailures) > 0 {
		drop := make(map[int]bool, len(engFailures))
		kept := make([]int, 0, len(rowIndex))
		for i, src := range rowIndex {
			if err, ok := engFailures[i]; ok {
				failures[src] = err
				drop[i] = true
				continue
			}
			kept = append(kept, src)
		}
		engineered = engineered.Without(drop)
		rowIndex = kept
	}

	return NewPreprocessor(p.Frozen).Apply(engineered), rowIndex, failures
}

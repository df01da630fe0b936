package features

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQuantile_LinearInterpolation(t *testing.T) {
	values := []float64{4, 1, 3, 2}

	q1, ok := Quantile(values, 0.25)
	require.True(t, ok)
	q3, _ := Quantile(values, 0.75)
	med, _ := Median(values)

	assert.Equal(t, 1.75, q1)
	assert.Equal(t, 3.25, q3)
	assert.Equal(t, 2.5, med)
}

func TestQuantile_IgnoresNaNAndEmpty(t *testing.T) {
	med, ok := Median([]float64{math.NaN(), 5, math.NaN(), 7, 9})
	require.True(t, ok)
	assert.Equal(t, 7.0, med)

	_, ok = Median([]float64{math.NaN()})
	assert.False(t, ok)
	_, ok = Quantile(nil, 0.5)
	assert.False(t, ok)
}

func TestComputeStats_ImputesBeforeQuartiles(t *testing.T) {
	// Median of present values is 3; the NaN is filled before the quartiles.
	stats, ok := ComputeStats([]float64{1, math.NaN(), 3, 5})
	require.True(t, ok)

	assert.Equal(t, 3.0, stats.Median)
	assert.Equal(t, 2.5, stats.Q1) // [1 3 3 5] at position 0.75
	assert.Equal(t, 3.5, stats.Q3)
}

func TestColumnStats_Bounds(t *testing.T) {
	lo, hi := ColumnStats{Q1: 2, Q3: 4}.Bounds()
	assert.Equal(t, -2.0, lo)
	assert.Equal(t, 8.0, hi)
}

func singleColumn(values ...float64) *Table {
	t := NewTable([]string{"x"})
	for _, v := range values {
		t.AppendRow([]float64{v})
	}
	return t
}

func TestPreprocessor_ClipsOutliers(t *testing.T) {
	tbl := singleColumn(1, 2, 3, 4, 100)

	out := NewPreprocessor(nil).Apply(tbl)

	assert.Equal(t, []float64{1, 2, 3, 4, 8}, out.Column("x"))
	assert.Equal(t, 100.0, tbl.Value(4, "x"), "input must not be modified")
}

func TestPreprocessor_FillsMissingWithMedian(t *testing.T) {
	out := NewPreprocessor(nil).Apply(singleColumn(1, math.NaN(), 3))

	assert.Equal(t, []float64{1, 2, 3}, out.Column("x"))
}

func TestPreprocessor_SingleRowIsUnchanged(t *testing.T) {
	tbl := NewTable([]string{"a", "b"})
	tbl.AppendRow([]float64{123.4, -7})

	out := NewPreprocessor(nil).Apply(tbl)

	assert.Equal(t, []float64{123.4, -7}, out.Row(0))
}

func TestPreprocessor_ClipIsIdempotentForFixedBounds(t *testing.T) {
	tbl := singleColumn(-50, 0, 0, 1, 2, 3, 90, 1000)
	p := NewPreprocessor(nil)

	stats, ok := p.StatsFor(tbl, "x")
	require.True(t, ok)
	frozen := NewPreprocessor(Stats{"x": stats})

	once := frozen.Apply(tbl)
	twice := frozen.Apply(once)

	assert.Equal(t, once.Column("x"), twice.Column("x"))
	assert.Equal(t, p.Apply(tbl).Column("x"), once.Column("x"))
}

func TestPreprocessor_KeepsShapeAndOrder(t *testing.T) {
	tbl := NewTable([]string{"c", "a", "b"})
	tbl.AppendRow([]float64{1, 2, 3})
	tbl.AppendRow([]float64{4, math.NaN(), 6})

	out := NewPreprocessor(nil).Apply(tbl)

	assert.Equal(t, []string{"c", "a", "b"}, out.Columns())
	assert.Equal(t, 2, out.Len())
	for i := 0; i < out.Len(); i++ {
		for _, v := range out.Row(i) {
			assert.False(t, math.IsNaN(v))
		}
	}
}

func TestPreprocessor_FrozenStatsOverrideBatch(t *testing.T) {
	p := NewPreprocessor(Stats{"x": {Median: 10, Q1: 9, Q3: 11}})

	out := p.Apply(singleColumn(math.NaN(), 0, 100))

	assert.Equal(t, []float64{10, 5, 15}, out.Column("x"))
}

func TestParseStatsMode(t *testing.T) {
	tests := []struct {
		in      string
		want    StatsMode
		wantErr bool
	}{
		{"batch", StatsBatch, false},
		{" Frozen ", StatsFrozen, false},
		{"row", StatsRow, false},
		{"", StatsBatch, false},
		{"training", "", true},
	}
	for _, tt := range tests {
		got, err := ParseStatsMode(tt.in)
		if tt.wantErr {
			assert.Error(t, err, tt.in)
			continue
		}
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got)
	}
}

func TestPipeline_BatchAndRowDiffer(t *testing.T) {
	recs := []Record{referenceRecord(), referenceRecord(), referenceRecord(), referenceRecord(), referenceRecord()}
	recs[4][Period] = 5000

	p := Pipeline{Schema: DefaultSchema()}
	batch, idx, failures := p.Transform(recs)
	require.Empty(t, failures)
	require.Equal(t, []int{0, 1, 2, 3, 4}, idx)

	alone, _, _ := p.Transform(recs[4:])

	assert.Equal(t, 75.0, batch.Value(4, Period), "clipped to the batch bounds")
	assert.Equal(t, 5000.0, alone.Value(0, Period), "a single row is never clipped")
}

func TestPipeline_ReportsEngineeringFailuresByInputIndex(t *testing.T) {
	recs := []Record{referenceRecord(), referenceRecord(), referenceRecord()}
	recs[1][Duration] = 0

	tbl, idx, failures := Pipeline{Schema: DefaultSchema()}.Transform(recs)

	assert.Equal(t, []int{0, 2}, idx)
	assert.Equal(t, 2, tbl.Len())
	require.Contains(t, failures, 1)
}

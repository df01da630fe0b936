package features

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func referenceRecord() Record {
	rec := Record{}
	for k, v := range ReferenceDefaults {
		rec[k] = v
	}
	return rec
}

func reconciled(t *testing.T, recs ...Record) *Table {
	t.Helper()
	tbl, idx, failures := DefaultSchema().Reconcile(recs, nil)
	require.Empty(t, failures)
	require.Len(t, idx, len(recs))
	return tbl
}

func TestEngineer_ReferenceRow(t *testing.T) {
	tbl := reconciled(t, referenceRecord())

	out, failures := Engineer(tbl, nil)
	require.Empty(t, failures)

	assert.Equal(t, 450.0, out.Value(0, PeriodDurationRatio), "75 / (4/24)")
	assert.Equal(t, 1.0, out.Value(0, PlanetStarRatio), "solar reference row")
	assert.Equal(t, math.Log1p(23791.0), out.Value(0, DepthLog))
	assert.Equal(t, math.Log1p(10.0), out.Value(0, ModelSNRLog))
	assert.Equal(t, 23791.0*10.0/76.0, out.Value(0, TransitStrength))
	assert.Equal(t, 0.7*math.Log1p(23791.0), out.Value(0, ImpactDepthProduct))
}

func TestEngineer_AppendsDerivedColumnsInOrder(t *testing.T) {
	tbl := reconciled(t, referenceRecord())

	out, _ := Engineer(tbl, nil)
	cols := out.Columns()

	require.Len(t, cols, len(RawColumns)+len(DerivedColumns))
	assert.Equal(t, DerivedColumns, cols[len(RawColumns):])
}

func TestEngineer_PureAndDeterministic(t *testing.T) {
	rec := referenceRecord()
	rec[Period] = 12.3
	rec[Depth] = math.NaN()
	other := referenceRecord()
	other[Depth] = 400

	tbl := reconciled(t, rec, other)
	before := tbl.Clone()

	first, _ := Engineer(tbl, nil)
	second, _ := Engineer(tbl, nil)

	for i := 0; i < first.Len(); i++ {
		assert.Equal(t, first.Row(i), second.Row(i))
	}
	assert.True(t, math.IsNaN(tbl.Value(0, Depth)), "input table must not be modified")
	assert.Equal(t, before.Row(1), tbl.Row(1))
}

func TestEngineer_ImputesDepthWithBatchMedian(t *testing.T) {
	a, b, c := referenceRecord(), referenceRecord(), referenceRecord()
	a[Depth] = 100
	b[Depth] = math.NaN()
	c[Depth] = 300

	out, failures := Engineer(reconciled(t, a, b, c), nil)
	require.Empty(t, failures)

	assert.Equal(t, 200.0, out.Value(1, Depth))
	assert.Equal(t, math.Log1p(200), out.Value(1, DepthLog))
}

func TestEngineer_ImputesWithFrozenMedian(t *testing.T) {
	a := referenceRecord()
	a[ModelSNR] = math.NaN()
	frozen := Stats{ModelSNR: {Median: 42, Q1: 10, Q3: 60}}

	tbl, _, failures := DefaultSchema().Reconcile([]Record{a}, frozen)
	require.Empty(t, failures)

	out, engFailures := Engineer(tbl, frozen)
	require.Empty(t, engFailures)
	assert.Equal(t, 42.0, out.Value(0, ModelSNR))
	assert.Equal(t, math.Log1p(42), out.Value(0, ModelSNRLog))
}

func TestEngineer_NonFiniteDerivedFailsRow(t *testing.T) {
	tests := []struct {
		name  string
		field string
		value float64
		want  string
	}{
		{"zero duration", Duration, 0, PeriodDurationRatio},
		{"zero stellar temperature", StellarTeff, 0, PlanetStarRatio},
		{"period of minus one", Period, -1, TransitStrength},
		{"depth below minus one", Depth, -5, DepthLog},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bad := referenceRecord()
			bad[tt.field] = tt.value

			out, failures := Engineer(reconciled(t, referenceRecord(), bad), nil)

			require.Len(t, failures, 1)
			var fe *FeaturizationError
			require.ErrorAs(t, failures[1], &fe)
			assert.Equal(t, tt.want, fe.Field)
			assert.Equal(t, 2, out.Len())
		})
	}
}

func TestEngineer_MissingInputLeavesDerivedNaN(t *testing.T) {
	a, b := referenceRecord(), referenceRecord()
	a[Period] = math.NaN()

	out, failures := Engineer(reconciled(t, a, b), nil)

	assert.Empty(t, failures)
	assert.True(t, math.IsNaN(out.Value(0, PeriodDurationRatio)))
	assert.True(t, math.IsNaN(out.Value(0, TransitStrength)))
}

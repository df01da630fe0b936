package batch

import (
	"bytes"
	"context"
	"errors"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"koi-classifier/internal/features"
	"koi-classifier/internal/ml"
	"koi-classifier/internal/storage"
)

// referenceCSV renders rows over the raw columns; overrides replace cells by
// column name.
func referenceCSV(overrides ...map[string]string) string {
	var b strings.Builder
	b.WriteString(strings.Join(features.RawColumns, ","))
	b.WriteString("\n")
	for _, o := range overrides {
		cells := make([]string, len(features.RawColumns))
		for i, c := range features.RawColumns {
			cells[i] = strconv.FormatFloat(features.ReferenceDefaults[c], 'f', -1, 64)
			if v, ok := o[c]; ok {
				cells[i] = v
			}
		}
		b.WriteString(strings.Join(cells, ","))
		b.WriteString("\n")
	}
	return b.String()
}

func newTestRunner(t *testing.T, cfg RunnerConfig) *Runner {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, ml.WriteFixtureBundle(dir))
	b, err := ml.LoadBundle(dir)
	require.NoError(t, err)
	p, err := ml.NewPredictor(b, ml.PredictorConfig{Mode: features.StatsRow}, nil)
	require.NoError(t, err)
	r, err := NewRunner(p, cfg)
	require.NoError(t, err)
	return r
}

type mockBatchMetrics struct {
	runs int
	rows int
}

func (m *mockBatchMetrics) BatchObserve(rows int, _ time.Duration) {
	m.runs++
	m.rows += rows
}

func TestReadCSV(t *testing.T) {
	data := "koi_period,koi_depth,kepler_name,koi_score\n" +
		"10.5,,Kepler-22 b,0.9\n" +
		"11,NaN,,0.1\n" +
		"abc,100,x,0.2\n" +
		"12,100\n"

	in, err := ReadCSV(strings.NewReader(data), 0)
	require.NoError(t, err)
	require.Equal(t, 4, in.Len())

	assert.Equal(t, 10.5, in.Records[0][features.Period])
	assert.True(t, math.IsNaN(in.Records[0][features.Depth]), "empty cell is missing")
	assert.True(t, math.IsNaN(in.Records[0]["kepler_name"]), "text in an extra column is missing")
	assert.True(t, math.IsNaN(in.Records[1][features.Depth]))
	_, hasImpact := in.Records[0][features.Impact]
	assert.False(t, hasImpact, "columns outside the header stay absent")

	require.Len(t, in.Invalid, 2)
	var fe *features.FeaturizationError
	require.ErrorAs(t, in.Invalid[2], &fe)
	assert.Equal(t, features.Period, fe.Field)
	assert.Contains(t, in.Invalid[3].Error(), "has 2 fields")
}

func TestReadCSV_HeaderErrors(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"empty", ""},
		{"duplicate column", "koi_period,koi_period\n1,2\n"},
		{"blank column", "koi_period,,koi_depth\n1,2,3\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ReadCSV(strings.NewReader(tt.data), 0)
			assert.Error(t, err)
		})
	}
}

func TestReadCSV_BOMAndRowLimit(t *testing.T) {
	in, err := ReadCSV(strings.NewReader("\ufeffkoi_period\n1\n2\n"), 2)
	require.NoError(t, err)
	assert.Equal(t, 1.0, in.Records[0][features.Period])

	_, err = ReadCSV(strings.NewReader("koi_period\n1\n2\n3\n"), 2)
	assert.ErrorIs(t, err, ErrTooManyRows)
}

func TestReadJSON(t *testing.T) {
	data := `[
		{"koi_period": 10, "koi_depth": null, "koi_score": "0.75"},
		{"koi_period": "soon"},
		{"kepler_name": "Kepler-22 b", "koi_period": 3}
	]`

	in, err := ReadJSON(strings.NewReader(data), 0)
	require.NoError(t, err)
	require.Equal(t, 3, in.Len())

	assert.Equal(t, 10.0, in.Records[0][features.Period])
	assert.True(t, math.IsNaN(in.Records[0][features.Depth]))
	assert.Equal(t, 0.75, in.Records[0][features.Score])
	assert.Contains(t, in.Invalid, 1)
	assert.True(t, math.IsNaN(in.Records[2]["kepler_name"]))

	_, err = ReadJSON(strings.NewReader(`{"koi_period": 1}`), 0)
	assert.Error(t, err, "a bare object is not a table")
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	csvPath := filepath.Join(dir, "kois.csv")
	require.NoError(t, os.WriteFile(csvPath, []byte(referenceCSV(nil, nil)), 0o644))

	in, err := LoadFile(csvPath, 0)
	require.NoError(t, err)
	assert.Equal(t, 2, in.Len())
	assert.Equal(t, "kois.csv", in.Source)

	_, err = LoadFile(filepath.Join(dir, "kois.parquet"), 0)
	assert.Error(t, err)
}

func TestDetectFormat(t *testing.T) {
	assert.Equal(t, "json", DetectFormat([]byte("  \n[{}]")))
	assert.Equal(t, "csv", DetectFormat([]byte("koi_period\n1\n")))
}

func TestRunner_Run(t *testing.T) {
	store, err := storage.New(t.TempDir())
	require.NoError(t, err)
	defer store.Close()
	metrics := &mockBatchMetrics{}

	r := newTestRunner(t, RunnerConfig{Store: store, Metrics: metrics})

	in, err := ReadCSV(strings.NewReader(referenceCSV(
		nil,
		map[string]string{features.Score: "0.9"},
		map[string]string{features.Period: "n/a"},
		map[string]string{features.Duration: "0"},
	)), 0)
	require.NoError(t, err)
	in.Source = "upload.csv"

	rep, err := r.Run(context.Background(), in)
	require.NoError(t, err)

	require.Len(t, rep.Results, 4)
	for i, row := range rep.Results {
		assert.Equal(t, i+1, row.RowNumber)
	}
	assert.Equal(t, ml.LabelFalsePositive, rep.Results[0].Prediction)
	assert.Equal(t, ml.LabelConfirmed, rep.Results[1].Prediction)
	assert.Len(t, rep.Results[1].Proba, 3)
	assert.Equal(t, "featurization", rep.Results[2].ErrorKind)
	assert.Equal(t, "featurization", rep.Results[3].ErrorKind)
	assert.Empty(t, rep.Results[3].Prediction)

	assert.Equal(t, Summary{TotalRows: 4, Confirmed: 1, FalsePositives: 1, Errors: 2}, rep.Summary)
	assert.Equal(t, "fixture-1", rep.BundleVersion)
	assert.Equal(t, "row", rep.StatsMode)
	assert.Equal(t, 1, metrics.runs)
	assert.Equal(t, 4, metrics.rows)

	run, err := store.GetRun(rep.RunID)
	require.NoError(t, err)
	assert.Equal(t, "upload.csv", run.Source)
	assert.Equal(t, rep.Summary, run.Summary)

	preds, err := store.GetPredictions(rep.RunID)
	require.NoError(t, err)
	restored := ReportFromStore(run, preds)
	assert.Equal(t, rep.Results, restored.Results)
}

func TestRunner_RowLimit(t *testing.T) {
	r := newTestRunner(t, RunnerConfig{MaxRows: 1})

	in, err := ReadCSV(strings.NewReader(referenceCSV(nil, nil)), 0)
	require.NoError(t, err)

	_, err = r.Run(context.Background(), in)
	assert.ErrorIs(t, err, ErrTooManyRows)
}

func TestRunner_Cancelled(t *testing.T) {
	store, err := storage.New(t.TempDir())
	require.NoError(t, err)
	defer store.Close()
	r := newTestRunner(t, RunnerConfig{Store: store})

	in, err := ReadCSV(strings.NewReader(referenceCSV(nil, nil, nil)), 0)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	rep, err := r.Run(ctx, in)
	assert.Nil(t, rep)
	assert.True(t, errors.Is(err, context.Canceled))

	runs, err := store.ListRuns(time.Time{}, time.Now().Add(time.Hour))
	require.NoError(t, err)
	assert.Empty(t, runs, "abandoned runs are not persisted")
}

func TestNewRunner_NilPredictor(t *testing.T) {
	_, err := NewRunner(nil, RunnerConfig{})
	assert.Error(t, err)
}

func TestSummarize(t *testing.T) {
	s := Summarize([]RowReport{
		{Prediction: ml.LabelCandidate},
		{Prediction: ml.LabelCandidate},
		{Prediction: ml.LabelConfirmed},
		{Error: "boom"},
	})
	assert.Equal(t, Summary{TotalRows: 4, Candidates: 2, Confirmed: 1, Errors: 1}, s)
}

func sampleReport() *Report {
	return &Report{
		RunID:         "run-1",
		CreatedAt:     time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC),
		BundleVersion: "fixture-1",
		StatsMode:     "batch",
		Summary:       Summary{TotalRows: 2, Confirmed: 1, Errors: 1},
		Results: []RowReport{
			{RowNumber: 1, Prediction: ml.LabelConfirmed, Proba: []float64{0.1, 0.2, 0.7}},
			{RowNumber: 2, Error: "featurization failed on koi_period: non-numeric value \"x\"", ErrorKind: "featurization"},
		},
	}
}

func TestWriteCSV(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteCSV(&buf, sampleReport()))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, "row_number,prediction,p_false_positive,p_candidate,p_confirmed,error", lines[0])
	assert.Equal(t, "1,CONFIRMED,0.100000,0.200000,0.700000,", lines[1])
	assert.True(t, strings.HasPrefix(lines[2], "2,,,,,"))
}

func TestWriteSummary(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteSummary(&buf, sampleReport()))

	out := buf.String()
	assert.Contains(t, out, "Rows Processed: 2")
	assert.Contains(t, out, "CONFIRMED: 1")
	assert.Contains(t, out, "Row 2 [featurization]")
	assert.Contains(t, out, "Source: -")
}

func TestReporter_GenerateReport(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "out")
	require.NoError(t, NewReporter(sampleReport(), dir).GenerateReport())

	for _, name := range []string{"summary.txt", "predictions.csv", "report.json"} {
		_, err := os.Stat(filepath.Join(dir, name))
		assert.NoError(t, err, name)
	}

	data, err := os.ReadFile(filepath.Join(dir, "report.json"))
	require.NoError(t, err)
	assert.Contains(t, string(data), `"exoplanets_found": 1`)
	assert.Contains(t, string(data), `"row_number": 2`)
}

// Package batch maps uploaded tables through the predictor and summarizes
// the outcome as a report that can be persisted and rendered.
package batch

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"koi-classifier/internal/features"
	"koi-classifier/internal/ml"
	"koi-classifier/internal/storage"
)

// Store persists completed runs.
type Store interface {
	SaveRun(run storage.RunRecord, preds []storage.PredictionRecord) error
}

// MetricsInterface defines metrics methods needed by the runner
type MetricsInterface interface {
	BatchObserve(rows int, elapsed time.Duration)
}

// Summary counts the outcomes of a run.
type Summary = storage.RunSummary

// RowReport is the outcome of one input row. RowNumber is 1-based.
type RowReport struct {
	RowNumber  int       `json:"row_number"`
	Prediction string    `json:"prediction,omitempty"`
	Proba      []float64 `json:"proba,omitempty"`
	Error      string    `json:"error,omitempty"`
	ErrorKind  string    `json:"error_kind,omitempty"`
}

// Report is the result of one batch run.
type Report struct {
	RunID         string        `json:"run_id"`
	CreatedAt     time.Time     `json:"created_at"`
	Source        string        `json:"source,omitempty"`
	BundleVersion string        `json:"bundle_version"`
	StatsMode     string        `json:"stats_mode"`
	Duration      time.Duration `json:"-"`
	Summary       Summary       `json:"summary"`
	Results       []RowReport   `json:"results"`
}

// RunnerConfig holds optional collaborators of a Runner.
type RunnerConfig struct {
	Store   Store
	Metrics MetricsInterface
	MaxRows int
}

// Runner is a sequential fold of the predictor over a table.
type Runner struct {
	predictor *ml.Predictor
	store     Store
	metrics   MetricsInterface
	maxRows   int
}

// NewRunner creates a runner over predictor.
func NewRunner(predictor *ml.Predictor, cfg RunnerConfig) (*Runner, error) {
	if predictor == nil {
		return nil, fmt.Errorf("runner requires a predictor")
	}
	return &Runner{
		predictor: predictor,
		store:     cfg.Store,
		metrics:   cfg.Metrics,
		maxRows:   cfg.MaxRows,
	}, nil
}

// Run predicts every row of in and returns a report with one entry per row,
// in input order. A cancelled context abandons the run without persisting it.
func (r *Runner) Run(ctx context.Context, in *Input) (*Report, error) {
	if in == nil {
		return nil, fmt.Errorf("batch input is nil")
	}
	if r.maxRows > 0 && in.Len() > r.maxRows {
		return nil, fmt.Errorf("%w of %d", ErrTooManyRows, r.maxRows)
	}

	start := time.Now()
	bundle := r.predictor.Bundle()
	report := &Report{
		RunID:         uuid.NewString(),
		CreatedAt:     start.UTC(),
		Source:        in.Source,
		BundleVersion: bundle.Version(),
		StatsMode:     string(r.predictor.Mode()),
		Results:       make([]RowReport, in.Len()),
	}

	// Rows that failed parsing stay out of the batch statistics.
	valid := make([]features.Record, 0, in.Len())
	origin := make([]int, 0, in.Len())
	for i, rec := range in.Records {
		if _, bad := in.Invalid[i]; bad {
			continue
		}
		valid = append(valid, rec)
		origin = append(origin, i)
	}

	rows := r.predictor.PredictBatch(ctx, valid)
	if err := ctx.Err(); err != nil {
		log.Warn().Str("run_id", report.RunID).Err(err).Msg("Batch run abandoned")
		return nil, err
	}

	for i, err := range in.Invalid {
		report.Results[i] = errorRow(i, err)
	}
	for k, row := range rows {
		i := origin[k]
		if row.Err != nil {
			report.Results[i] = errorRow(i, row.Err)
			continue
		}
		report.Results[i] = RowReport{
			RowNumber:  i + 1,
			Prediction: row.Result.Prediction,
			Proba:      row.Result.Proba[:],
		}
	}
	report.Summary = Summarize(report.Results)
	report.Duration = time.Since(start)

	if r.metrics != nil {
		r.metrics.BatchObserve(in.Len(), report.Duration)
	}

	if r.store != nil {
		if err := r.store.SaveRun(report.runRecord(), report.predictionRecords()); err != nil {
			log.Error().Err(err).Str("run_id", report.RunID).Msg("Failed to persist batch run")
		}
	}

	log.Info().
		Str("run_id", report.RunID).
		Str("source", report.Source).
		Int("rows", report.Summary.TotalRows).
		Int("confirmed", report.Summary.Confirmed).
		Int("errors", report.Summary.Errors).
		Dur("duration", report.Duration).
		Msg("Batch run completed")

	return report, nil
}

func errorRow(i int, err error) RowReport {
	return RowReport{RowNumber: i + 1, Error: err.Error(), ErrorKind: ml.ErrorKind(err)}
}

// Summarize counts predictions by label and errors.
func Summarize(rows []RowReport) Summary {
	s := Summary{TotalRows: len(rows)}
	for _, row := range rows {
		switch {
		case row.Error != "":
			s.Errors++
		case row.Prediction == ml.LabelConfirmed:
			s.Confirmed++
		case row.Prediction == ml.LabelCandidate:
			s.Candidates++
		case row.Prediction == ml.LabelFalsePositive:
			s.FalsePositives++
		}
	}
	return s
}

func (rep *Report) runRecord() storage.RunRecord {
	return storage.RunRecord{
		ID:            rep.RunID,
		CreatedAt:     rep.CreatedAt,
		Source:        rep.Source,
		BundleVersion: rep.BundleVersion,
		StatsMode:     rep.StatsMode,
		DurationMs:    rep.Duration.Milliseconds(),
		Summary:       rep.Summary,
	}
}

func (rep *Report) predictionRecords() []storage.PredictionRecord {
	out := make([]storage.PredictionRecord, len(rep.Results))
	for i, row := range rep.Results {
		out[i] = storage.PredictionRecord{
			Row:        row.RowNumber,
			Prediction: row.Prediction,
			Error:      row.Error,
			ErrorKind:  row.ErrorKind,
		}
		copy(out[i].Proba[:], row.Proba)
	}
	return out
}

// ReportFromStore rebuilds a report from a persisted run.
func ReportFromStore(run *storage.RunRecord, preds []storage.PredictionRecord) *Report {
	rep := &Report{
		RunID:         run.ID,
		CreatedAt:     run.CreatedAt,
		Source:        run.Source,
		BundleVersion: run.BundleVersion,
		StatsMode:     run.StatsMode,
		Duration:      time.Duration(run.DurationMs) * time.Millisecond,
		Summary:       run.Summary,
		Results:       make([]RowReport, len(preds)),
	}
	for i, p := range preds {
		row := RowReport{RowNumber: p.Row, Error: p.Error, ErrorKind: p.ErrorKind}
		if p.Error == "" {
			row.Prediction = p.Prediction
			row.Proba = append([]float64(nil), p.Proba[:]...)
		}
		rep.Results[i] = row
	}
	return rep
}

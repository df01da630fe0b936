package ml

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/rs/zerolog/log"

	"koi-classifier/internal/features"
)

// MetricsInterface defines metrics methods needed by the predictor
type MetricsInterface interface {
	PredictionsInc(label string)
	RowErrorsInc(kind string)
	LatencyObserve(seconds float64)
	ConfidenceObserve(p float64)
	BundleAgeSet(seconds float64)
}

// Result is the prediction for one row. Proba is ordered FALSE POSITIVE,
// CANDIDATE, CONFIRMED.
type Result struct {
	Prediction string     `json:"prediction"`
	Proba      [3]float64 `json:"proba"`
}

// Confidence is the probability of the predicted label.
func (r *Result) Confidence() float64 {
	return r.Proba[canonicalIndex(r.Prediction)]
}

// RowResult pairs an input row with its result or error; exactly one is set.
type RowResult struct {
	Row    int
	Result *Result
	Err    error
}

// PredictorConfig controls reconciliation and preprocessing statistics.
type PredictorConfig struct {
	Schema features.Schema
	Mode   features.StatsMode
}

// Predictor runs records through the feature pipeline and a bundle.
// It holds no mutable state and may be shared between goroutines.
type Predictor struct {
	bundle   *Bundle
	mode     features.StatsMode
	pipeline features.Pipeline
	metrics  MetricsInterface
}

// NewPredictor binds a loaded bundle to a schema and statistics mode.
func NewPredictor(b *Bundle, cfg PredictorConfig, metrics MetricsInterface) (*Predictor, error) {
	if b == nil {
		return nil, fmt.Errorf("predictor requires a bundle")
	}
	if cfg.Schema.IsZero() {
		cfg.Schema = features.DefaultSchema()
	}
	if cfg.Mode == "" {
		cfg.Mode = features.StatsBatch
	}

	p := &Predictor{
		bundle:   b,
		mode:     cfg.Mode,
		pipeline: features.Pipeline{Schema: cfg.Schema},
		metrics:  metrics,
	}
	switch cfg.Mode {
	case features.StatsFrozen:
		if len(b.Stats()) == 0 {
			return nil, bundleErr(b.Dir(), "stats mode %q needs preprocessing stats in the manifest", cfg.Mode)
		}
		p.pipeline.Frozen = b.Stats()
	case features.StatsBatch, features.StatsRow:
	default:
		return nil, fmt.Errorf("unknown stats mode %q", cfg.Mode)
	}

	if metrics != nil {
		metrics.BundleAgeSet(b.Age().Seconds())
	}
	log.Debug().
		Str("version", b.Version()).
		Str("stats_mode", string(cfg.Mode)).
		Strs("required", cfg.Schema.Required()).
		Msg("Predictor ready")
	return p, nil
}

// Bundle returns the bundle the predictor uses.
func (p *Predictor) Bundle() *Bundle { return p.bundle }

// Mode returns the statistics mode.
func (p *Predictor) Mode() features.StatsMode { return p.mode }

// PredictOne classifies a single record.
func (p *Predictor) PredictOne(ctx context.Context, rec features.Record) (*Result, error) {
	if p == nil {
		return nil, fmt.Errorf("predictor not initialized")
	}
	rows := p.PredictBatch(ctx, []features.Record{rec})
	return rows[0].Result, rows[0].Err
}

// PredictBatch classifies records and returns one entry per input, in input
// order. A failing row never affects its siblings. Cancelling ctx stops the
// batch at the next row boundary; unprocessed rows carry ctx.Err().
func (p *Predictor) PredictBatch(ctx context.Context, recs []features.Record) []RowResult {
	out := make([]RowResult, len(recs))
	for i := range out {
		out[i].Row = i
	}
	if p == nil {
		for i := range out {
			out[i].Err = fmt.Errorf("predictor not initialized")
		}
		return out
	}

	if p.mode == features.StatsRow {
		for i := range recs {
			if err := ctx.Err(); err != nil {
				out[i].Err = err
				continue
			}
			out[i] = p.predictRows(ctx, recs[i:i+1])[0]
			out[i].Row = i
		}
	} else if err := ctx.Err(); err != nil {
		for i := range out {
			out[i].Err = err
		}
	} else {
		out = p.predictRows(ctx, recs)
	}

	for _, r := range out {
		if r.Err != nil {
			p.rowError(r.Err)
		}
	}
	return out
}

func (p *Predictor) predictRows(ctx context.Context, recs []features.Record) []RowResult {
	out := make([]RowResult, len(recs))
	for i := range out {
		out[i].Row = i
	}

	tbl, rowIndex, failures := p.pipeline.Transform(recs)
	for i, err := range failures {
		out[i].Err = err
	}

	expected := p.bundle.FeatureNames()
	selected, missing := tbl.Select(expected)
	if len(missing) > 0 {
		for _, src := range rowIndex {
			out[src].Err = &SchemaMismatchError{Missing: missing, Expected: expected}
		}
		return out
	}

	for k, src := range rowIndex {
		if err := ctx.Err(); err != nil {
			out[src].Err = err
			continue
		}
		start := time.Now()
		res, err := p.infer(selected.Row(k), expected)
		if p.metrics != nil {
			p.metrics.LatencyObserve(time.Since(start).Seconds())
		}
		if err != nil {
			out[src].Err = err
			continue
		}
		out[src].Result = res
		if p.metrics != nil {
			p.metrics.PredictionsInc(res.Prediction)
			p.metrics.ConfidenceObserve(res.Confidence())
		}
	}
	return out
}

func (p *Predictor) infer(row []float64, names []string) (*Result, error) {
	for j, v := range row {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, &FeaturizationError{Field: names[j], Reason: "no finite value after preprocessing"}
		}
	}

	x, err := p.bundle.Scaler().Transform(row)
	if err != nil {
		return nil, err
	}
	proba, err := p.bundle.Classifier().PredictProba(x)
	if err != nil {
		return nil, fmt.Errorf("classifier: %w", err)
	}
	label, err := p.bundle.Codec().Decode(Argmax(proba))
	if err != nil {
		return nil, err
	}
	return &Result{Prediction: label, Proba: p.bundle.Codec().Canonical(proba)}, nil
}

func (p *Predictor) rowError(err error) {
	kind := ErrorKind(err)
	if p.metrics != nil {
		p.metrics.RowErrorsInc(kind)
	}
	log.Debug().Err(err).Str("kind", kind).Msg("Row prediction failed")
}

package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"koi-classifier/internal/batch"
	"koi-classifier/internal/common"
	"koi-classifier/internal/features"
	"koi-classifier/internal/ml"
	"koi-classifier/internal/storage"
)

type predictOptions struct {
	modelPath    string
	statsMode    string
	required     []string
	format       string
	outDir       string
	dataPath     string
	maxRows      int
	failOnErrors bool
}

func newPredictCommand() *cobra.Command {
	opts := &predictOptions{}

	cmd := &cobra.Command{
		Use:   "predict <file>",
		Short: "Classify every row of a CSV or JSON file",
		Long: `Classify every row of a CSV, JSON or gzip-compressed file with the
active model bundle and print the report.

Rows that fail featurization are reported with their error and do not stop
the run. Use --fail-on-errors to exit with status 1 when any row failed.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPredict(cmd.Context(), cmd.OutOrStdout(), opts, args[0])
		},
	}

	cmd.Flags().StringVar(&opts.modelPath, "model", envOr(common.EnvModelPath, common.DefaultModelPath), "Bundle directory or models root")
	cmd.Flags().StringVar(&opts.statsMode, "stats-mode", common.DefaultStatsMode, "Preprocessing statistics: batch, frozen or row")
	cmd.Flags().StringSliceVar(&opts.required, "required", nil, "Input fields that must be present in every row")
	cmd.Flags().StringVar(&opts.format, "format", "json", "Output format: json, csv or summary")
	cmd.Flags().StringVar(&opts.outDir, "out", "", "Also write summary.txt, predictions.csv and report.json to this directory")
	cmd.Flags().StringVar(&opts.dataPath, "data", "", "Persist the run to the run store in this directory")
	cmd.Flags().IntVar(&opts.maxRows, "max-rows", common.DefaultMaxBatchRows, "Maximum rows accepted from the input file")
	cmd.Flags().BoolVar(&opts.failOnErrors, "fail-on-errors", false, "Exit with status 1 when any row fails")

	return cmd
}

func runPredict(ctx context.Context, out io.Writer, opts *predictOptions, path string) error {
	write, err := reportWriter(opts.format)
	if err != nil {
		return err
	}

	predictor, err := loadPredictor(opts.modelPath, opts.statsMode, opts.required)
	if err != nil {
		return err
	}

	in, err := batch.LoadFile(path, opts.maxRows)
	if err != nil {
		return err
	}

	runCfg := batch.RunnerConfig{MaxRows: opts.maxRows}
	if opts.dataPath != "" {
		store, err := storage.New(opts.dataPath)
		if err != nil {
			return err
		}
		defer store.Close()
		runCfg.Store = store
	}

	runner, err := batch.NewRunner(predictor, runCfg)
	if err != nil {
		return err
	}
	report, err := runner.Run(ctx, in)
	if err != nil {
		return err
	}

	if opts.outDir != "" {
		if err := batch.NewReporter(report, opts.outDir).GenerateReport(); err != nil {
			return fmt.Errorf("write report files: %w", err)
		}
	}
	if err := write(out, report); err != nil {
		return err
	}

	if opts.failOnErrors && report.Summary.Errors > 0 {
		return &RowErrorsError{Failed: report.Summary.Errors, Total: report.Summary.TotalRows}
	}
	return nil
}

func reportWriter(format string) (func(io.Writer, *batch.Report) error, error) {
	switch format {
	case "json":
		return batch.WriteJSON, nil
	case "csv":
		return batch.WriteCSV, nil
	case "summary":
		return batch.WriteSummary, nil
	default:
		return nil, fmt.Errorf("unknown format %q (want json, csv or summary)", format)
	}
}

// loadPredictor resolves a bundle directory or models root and binds it to
// the given statistics mode and required fields.
func loadPredictor(modelPath, statsMode string, required []string) (*ml.Predictor, error) {
	mode, err := features.ParseStatsMode(statsMode)
	if err != nil {
		return nil, err
	}
	schema, err := features.NewSchema(required, nil)
	if err != nil {
		return nil, err
	}

	dir, err := ml.ResolveBundleDir(modelPath)
	if err != nil {
		return nil, err
	}
	bundle, err := ml.LoadBundle(dir)
	if err != nil {
		return nil, err
	}
	return ml.NewPredictor(bundle, ml.PredictorConfig{Schema: schema, Mode: mode}, nil)
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

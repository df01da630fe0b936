package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"koi-classifier/internal/catalog"
	"koi-classifier/internal/common"
)

type matchOptions struct {
	catalogPath string
	file        string
	maxRows     int
	params      catalog.Params
}

func newMatchCommand() *cobra.Command {
	opts := &matchOptions{}

	cmd := &cobra.Command{
		Use:   "match",
		Short: "Match transit parameters against the NASA catalog",
		Long: `Match a period, impact parameter and transit depth against the local
NASA catalog, each within 10% of the catalog value.

Pass --file to match every row of a CSV with period, impact and depth
columns instead.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMatch(cmd, opts)
		},
	}

	cmd.Flags().StringVar(&opts.catalogPath, "catalog", envOr(common.EnvCatalogPath, common.DefaultCatalogPath), "Path to the NASA catalog JSON")
	cmd.Flags().StringVar(&opts.file, "file", "", "CSV file with period, impact and depth columns")
	cmd.Flags().IntVar(&opts.maxRows, "max-rows", common.DefaultMaxBatchRows, "Maximum rows accepted from --file")
	cmd.Flags().Float64Var(&opts.params.Period, "period", 0, "Orbital period in days")
	cmd.Flags().Float64Var(&opts.params.Impact, "impact", 0, "Impact parameter")
	cmd.Flags().Float64Var(&opts.params.Depth, "depth", 0, "Transit depth in ppm")
	cmd.MarkFlagsMutuallyExclusive("file", "period")
	cmd.MarkFlagsMutuallyExclusive("file", "impact")
	cmd.MarkFlagsMutuallyExclusive("file", "depth")

	return cmd
}

func runMatch(cmd *cobra.Command, opts *matchOptions) error {
	cat := catalog.Load(opts.catalogPath)
	if cat.Len() == 0 {
		return fmt.Errorf("%w: %s", catalog.ErrCatalogUnavailable, opts.catalogPath)
	}

	if opts.file != "" {
		f, err := os.Open(opts.file)
		if err != nil {
			return err
		}
		defer f.Close()

		results, summary, err := cat.MatchCSV(f, opts.maxRows)
		if err != nil {
			return err
		}
		return writeIndented(cmd.OutOrStdout(), map[string]any{
			"summary": summary,
			"results": results,
		})
	}

	if !cmd.Flags().Changed("period") || !cmd.Flags().Changed("depth") {
		return fmt.Errorf("--period and --depth are required without --file")
	}
	det, err := cat.Match(opts.params)
	if err != nil {
		return err
	}
	return writeIndented(cmd.OutOrStdout(), det)
}

func writeIndented(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

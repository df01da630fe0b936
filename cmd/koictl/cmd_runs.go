package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"koi-classifier/internal/batch"
	"koi-classifier/internal/common"
	"koi-classifier/internal/storage"
)

func newRunsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "Inspect batch runs in the run store",
	}

	cmd.AddCommand(newRunsListCommand())
	cmd.AddCommand(newRunsShowCommand())
	cmd.AddCommand(newRunsDeleteCommand())

	return cmd
}

func dataFlag(cmd *cobra.Command, into *string) {
	cmd.Flags().StringVar(into, "data", envOr(common.EnvDataPath, "data"), "Directory holding the run store")
}

func openStore(dataPath string) (*storage.Store, error) {
	store, err := storage.New(dataPath)
	if err != nil {
		return nil, fmt.Errorf("open run store: %w", err)
	}
	return store, nil
}

func newRunsListCommand() *cobra.Command {
	var (
		dataPath string
		since    time.Duration
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List stored runs, oldest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStore(dataPath)
			if err != nil {
				return err
			}
			defer store.Close()

			end := time.Now()
			runs, err := store.ListRuns(end.Add(-since), end)
			if err != nil {
				return err
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "RUN\tCREATED\tSOURCE\tBUNDLE\tROWS\tCONFIRMED\tERRORS")
			for _, r := range runs {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t%d\t%d\n",
					r.ID, r.CreatedAt.Format(time.RFC3339), r.Source, r.BundleVersion,
					r.Summary.TotalRows, r.Summary.Confirmed, r.Summary.Errors)
			}
			return tw.Flush()
		},
	}
	dataFlag(cmd, &dataPath)
	cmd.Flags().DurationVar(&since, "since", 24*time.Hour, "Only list runs created within this window")
	return cmd
}

func newRunsShowCommand() *cobra.Command {
	var (
		dataPath string
		format   string
	)

	cmd := &cobra.Command{
		Use:   "show <run-id>",
		Short: "Print a stored run as a report",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			write, err := reportWriter(format)
			if err != nil {
				return err
			}
			store, err := openStore(dataPath)
			if err != nil {
				return err
			}
			defer store.Close()

			run, err := store.GetRun(args[0])
			if err != nil {
				return err
			}
			preds, err := store.GetPredictions(args[0])
			if err != nil {
				return err
			}
			return write(cmd.OutOrStdout(), batch.ReportFromStore(run, preds))
		},
	}
	dataFlag(cmd, &dataPath)
	cmd.Flags().StringVar(&format, "format", "summary", "Output format: json, csv or summary")
	return cmd
}

func newRunsDeleteCommand() *cobra.Command {
	var dataPath string

	cmd := &cobra.Command{
		Use:   "delete <run-id>",
		Short: "Delete a stored run and its predictions",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStore(dataPath)
			if err != nil {
				return err
			}
			defer store.Close()

			if err := store.DeleteRun(args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted run %s\n", args[0])
			return nil
		},
	}
	dataFlag(cmd, &dataPath)
	return cmd
}

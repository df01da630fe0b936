package main

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"koi-classifier/internal/common"
	"koi-classifier/internal/ml"
)

func newBundleCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "bundle",
		Short: "Inspect and manage model bundles",
		Long: `Inspect a model bundle, or manage the versions registered under a
models root. The server loads the active version of a models root.`,
	}

	cmd.AddCommand(newBundleInspectCommand())
	cmd.AddCommand(newBundleListCommand())
	cmd.AddCommand(newBundleRegisterCommand())
	cmd.AddCommand(newBundleActivateCommand())
	cmd.AddCommand(newBundleRollbackCommand())

	return cmd
}

// BundleInfo is the description printed by "bundle inspect".
type BundleInfo struct {
	Dir          string             `json:"dir"`
	Version      string             `json:"version"`
	TrainedAt    *time.Time         `json:"trained_at,omitempty"`
	Description  string             `json:"description,omitempty"`
	FeatureNames []string           `json:"feature_names"`
	Classes      []string           `json:"classes"`
	Estimators   []string           `json:"estimators,omitempty"`
	StatsColumns []string           `json:"stats_columns,omitempty"`
	Metrics      map[string]float64 `json:"metrics,omitempty"`
}

func inspectBundle(path string) (*BundleInfo, error) {
	dir, err := ml.ResolveBundleDir(path)
	if err != nil {
		return nil, err
	}
	b, err := ml.LoadBundle(dir)
	if err != nil {
		return nil, err
	}

	info := &BundleInfo{
		Dir:          b.Dir(),
		Version:      b.Version(),
		FeatureNames: b.FeatureNames(),
		Classes:      b.Codec().Classes(),
	}
	if m := b.Manifest(); m != nil {
		if !m.TrainedAt.IsZero() {
			t := m.TrainedAt
			info.TrainedAt = &t
		}
		info.Description = m.Description
		info.Metrics = m.Metrics
	}
	if ens, ok := b.Classifier().(*ml.Ensemble); ok {
		for _, est := range ens.Estimators {
			info.Estimators = append(info.Estimators, est.Name)
		}
	}
	for c := range b.Stats() {
		info.StatsColumns = append(info.StatsColumns, c)
	}
	sort.Strings(info.StatsColumns)
	return info, nil
}

func newBundleInspectCommand() *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "inspect <dir>",
		Short: "Validate a bundle and print its contents",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			info, err := inspectBundle(args[0])
			if err != nil {
				return err
			}
			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(info)
			}
			printBundleInfo(cmd.OutOrStdout(), info)
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the description as JSON")
	return cmd
}

func printBundleInfo(w io.Writer, info *BundleInfo) {
	fmt.Fprintf(w, "Bundle:      %s\n", info.Dir)
	fmt.Fprintf(w, "Version:     %s\n", info.Version)
	if info.TrainedAt != nil {
		fmt.Fprintf(w, "Trained At:  %s\n", info.TrainedAt.Format(time.RFC3339))
	}
	if info.Description != "" {
		fmt.Fprintf(w, "Description: %s\n", info.Description)
	}
	fmt.Fprintf(w, "Classes:     %s\n", strings.Join(info.Classes, ", "))
	if len(info.Estimators) > 0 {
		fmt.Fprintf(w, "Estimators:  %s\n", strings.Join(info.Estimators, ", "))
	}
	fmt.Fprintf(w, "Features (%d):\n", len(info.FeatureNames))
	for i, f := range info.FeatureNames {
		fmt.Fprintf(w, "  %2d. %s\n", i+1, f)
	}
	fmt.Fprintf(w, "Frozen Stats: %d columns\n", len(info.StatsColumns))

	if len(info.Metrics) > 0 {
		names := make([]string, 0, len(info.Metrics))
		for k := range info.Metrics {
			names = append(names, k)
		}
		sort.Strings(names)
		fmt.Fprintln(w, "Metrics:")
		for _, k := range names {
			fmt.Fprintf(w, "  %s: %.4f\n", k, info.Metrics[k])
		}
	}
}

func modelsFlag(cmd *cobra.Command, into *string) {
	cmd.Flags().StringVar(into, "models", envOr(common.EnvModelPath, common.DefaultModelPath), "Models root holding the version registry")
}

func newBundleListCommand() *cobra.Command {
	var modelsDir string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List registered bundle versions, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			mm, err := ml.NewModelManager(modelsDir)
			if err != nil {
				return err
			}
			versions := mm.ListVersions()
			if len(versions) == 0 {
				fmt.Fprintf(cmd.OutOrStdout(), "No versions registered in %s\n", modelsDir)
				return nil
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ACTIVE\tVERSION\tCREATED\tPATH")
			for _, v := range versions {
				active := ""
				if v.IsActive {
					active = "*"
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", active, v.Version, v.CreatedAt.Format(time.RFC3339), v.Path)
			}
			return tw.Flush()
		},
	}
	modelsFlag(cmd, &modelsDir)
	return cmd
}

func newBundleRegisterCommand() *cobra.Command {
	var (
		modelsDir string
		activate  bool
	)

	cmd := &cobra.Command{
		Use:   "register <bundle-dir>",
		Short: "Validate a bundle and register it as a new version",
		Long: `Validate a bundle and register it as a new version. A relative
bundle directory is resolved against the models root.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			mm, err := ml.NewModelManager(modelsDir)
			if err != nil {
				return err
			}
			v, err := mm.Register(args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Registered version %s\n", v.Version)

			if activate {
				if err := mm.ActivateVersion(v.Version); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Activated version %s\n", v.Version)
			}
			return nil
		},
	}
	modelsFlag(cmd, &modelsDir)
	cmd.Flags().BoolVar(&activate, "activate", false, "Activate the version after registering it")
	return cmd
}

func newBundleActivateCommand() *cobra.Command {
	var modelsDir string

	cmd := &cobra.Command{
		Use:   "activate <version>",
		Short: "Make a registered version the active one",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			mm, err := ml.NewModelManager(modelsDir)
			if err != nil {
				return err
			}
			if err := mm.ActivateVersion(args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Activated version %s\n", args[0])
			return nil
		},
	}
	modelsFlag(cmd, &modelsDir)
	return cmd
}

func newBundleRollbackCommand() *cobra.Command {
	var modelsDir string

	cmd := &cobra.Command{
		Use:   "rollback",
		Short: "Activate the version registered before the active one",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			mm, err := ml.NewModelManager(modelsDir)
			if err != nil {
				return err
			}
			if err := mm.Rollback(); err != nil {
				return err
			}
			if cur := mm.GetCurrentVersion(); cur != nil {
				fmt.Fprintf(cmd.OutOrStdout(), "Rolled back to version %s\n", cur.Version)
			}
			return nil
		},
	}
	modelsFlag(cmd, &modelsDir)
	return cmd
}

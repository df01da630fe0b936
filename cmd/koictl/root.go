package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var version = "dev"

func newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "koictl",
		Short: "koictl - offline tooling for the KOI disposition classifier",
		Long: `koictl classifies Kepler Objects of Interest from CSV or JSON files,
manages model bundles under a models root, matches transit parameters
against the NASA catalog and inspects stored batch runs.`,
		Version:      version,
		SilenceUsage: true,
	}

	logLevel := cmd.PersistentFlags().String("log-level", "warn", "Log level: debug, info, warn, error")
	cmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		level, err := zerolog.ParseLevel(*logLevel)
		if err != nil {
			return fmt.Errorf("invalid --log-level %q: %w", *logLevel, err)
		}
		zerolog.SetGlobalLevel(level)
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
		return nil
	}

	cmd.AddCommand(newPredictCommand())
	cmd.AddCommand(newBundleCommand())
	cmd.AddCommand(newMatchCommand())
	cmd.AddCommand(newRunsCommand())

	return cmd
}

func execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rootCmd := newRootCommand()
	return rootCmd.ExecuteContext(ctx)
}

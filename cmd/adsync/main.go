package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var version = "0.1.0"

func main() {
	// Load .env file if it exists
	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCommand().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		stop()
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:   "adsync",
		Short: "adsync - resumable Google Ads extractor",
		Long: `adsync extracts Google Ads account and reporting data for every eligible
customer account and writes it to stdout as Singer SCHEMA, RECORD and STATE
messages. Interrupted runs resume at the (stream, customer) pair they stopped on.`,
		SilenceUsage: true,
	}

	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "adsync v%s\n", version)
			fmt.Fprintf(out, "Go version: %s\n", runtime.Version())
			fmt.Fprintf(out, "OS/Arch: %s/%s\n", runtime.GOOS, runtime.GOARCH)
		},
	})

	root.AddCommand(newSyncCommand())
	root.AddCommand(newAccountsCommand())
	root.AddCommand(newConfigCommand())
	return root
}

func newSyncCommand() *cobra.Command {
	var opts syncOptions

	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Sync every selected stream for every eligible account",
		Long: `Sync every selected catalog stream for every eligible customer account.

State is read from --state when given, otherwise from the configured
state_backend. Checkpoints are written to stdout as STATE messages and to
the state_backend.

Example:
  adsync sync --config config.json --catalog catalog.json --state state.json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSync(cmd.Context(), opts, cmd.OutOrStdout())
		},
	}

	cmd.Flags().StringVarP(&opts.configPath, "config", "c", "", "Path to the JSON or YAML config file (required)")
	cmd.Flags().StringVar(&opts.catalogPath, "catalog", "", "Path to the Singer catalog JSON file (required)")
	cmd.Flags().StringVar(&opts.statePath, "state", "", "Path to a state JSON file to resume from")
	_ = cmd.MarkFlagRequired("config")
	_ = cmd.MarkFlagRequired("catalog")
	return cmd
}

func newAccountsCommand() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "accounts",
		Short: "List the accounts a sync would cover",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAccounts(cmd.Context(), configPath, cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to the JSON or YAML config file (required)")
	_ = cmd.MarkFlagRequired("config")
	return cmd
}

func newConfigCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect configuration",
	}

	var configPath string
	show := &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration as YAML with secrets redacted",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConfigShow(configPath, cmd.OutOrStdout())
		},
	}
	show.Flags().StringVarP(&configPath, "config", "c", "", "Path to the JSON or YAML config file (required)")
	_ = show.MarkFlagRequired("config")

	cmd.AddCommand(show)
	return cmd
}

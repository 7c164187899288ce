package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

// rootOptions holds the persistent flags shared by every command.
type rootOptions struct {
	configPath string
	project    string
	verbose    bool
	jsonOutput bool
	version    string
}

// Execute runs the root command
func Execute(ctx context.Context, version, commit, buildDate string) error {
	rootCmd := newRootCommand(version, commit, buildDate)
	return rootCmd.ExecuteContext(ctx)
}

func newRootCommand(version, commit, buildDate string) *cobra.Command {
	opts := &rootOptions{version: version}

	rootCmd := &cobra.Command{
		Use:   "fleetdeck",
		Short: "fleetdeck - infrastructure inventory reconciliation",
		Long: `fleetdeck keeps an inventory of hosts, application instances, supporting
services and groups in sync with the infrastructure that runs them.

Providers bind an external source to one group:
  - Kubernetes clusters, via kubectl or the Kubernetes API
  - Terraform state documents, from a local file or S3

A sync discovers what the source currently holds and reconciles it into the
inventory without touching anything the operator or another provider owns.`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "config file path")
	rootCmd.PersistentFlags().StringVarP(&opts.project, "project", "p", "", "project to operate on (overrides config)")
	rootCmd.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "enable verbose output")
	rootCmd.PersistentFlags().BoolVar(&opts.jsonOutput, "json", false, "output in JSON format")

	rootCmd.AddCommand(newProviderCommand(opts))
	rootCmd.AddCommand(newDiscoverCommand(opts))
	rootCmd.AddCommand(newSyncCommand(opts))
	rootCmd.AddCommand(newHostCommand(opts))
	rootCmd.AddCommand(newInstanceCommand(opts))
	rootCmd.AddCommand(newGroupCommand(opts))
	rootCmd.AddCommand(newInventoryCommand(opts))

	return rootCmd
}

package commands

import (
	"context"
	"fmt"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/fleetdeck/fleetdeck/pkg/discovery"
	"github.com/fleetdeck/fleetdeck/pkg/discovery/cluster"
	"github.com/fleetdeck/fleetdeck/pkg/discovery/statebackend"
	"github.com/fleetdeck/fleetdeck/pkg/provider"
)

func newDiscoverCommand(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "discover <provider>",
		Short: "Preview what a provider would sync",
		Long: `Query a provider's source and show the entities a sync would reconcile.
The inventory is not modified.

Use the cluster and state subcommands to look at a source before creating a
provider for it.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.run(cmd, func(ctx context.Context, a *app) error {
				preview, err := a.syncer.Discover(ctx, args[0])
				if err != nil {
					return err
				}
				return a.out.Result(preview, func() {
					a.out.Printf("Provider %q (%s) into group %q\n", preview.Provider, preview.Kind, preview.Group)
					printResult(a.out, preview.Result)
				})
			})
		},
	}

	cmd.AddCommand(newDiscoverClusterCommand(opts))
	cmd.AddCommand(newDiscoverStateCommand(opts))

	return cmd
}

func newDiscoverClusterCommand(opts *rootOptions) *cobra.Command {
	var (
		cfg        provider.ClusterConfig
		registries []string
	)

	cmd := &cobra.Command{
		Use:     "cluster",
		Short:   "Preview the namespaces of a cluster",
		Example: `  fleetdeck discover cluster --context prod --registry registry.example.com/`,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg.PrivateRegistries = registries
			return opts.run(cmd, func(ctx context.Context, a *app) error {
				preview, err := a.syncer.PreviewCluster(ctx, cfg)
				if err != nil {
					return err
				}
				return a.out.Result(preview, func() { printClusterPreview(a.out, preview) })
			})
		},
	}

	cmd.Flags().StringVar(&cfg.Context, "context", "", "kubeconfig context")
	cmd.Flags().StringVar(&cfg.Kubeconfig, "kubeconfig", "", "kubeconfig path")
	cmd.Flags().StringSliceVar(&registries, "registry", nil, "image prefix of the operator's own application")
	_ = cmd.MarkFlagRequired("context")

	return cmd
}

func newDiscoverStateCommand(opts *rootOptions) *cobra.Command {
	var state provider.StateBackendConfig

	cmd := &cobra.Command{
		Use:   "state",
		Short: "Preview the resources of a Terraform state",
		Example: `  fleetdeck discover state --path ./terraform.tfstate
  fleetdeck discover state --bucket tf-state --key legacy/terraform.tfstate --region eu-west-1`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			state.Backend = backendOf(state)
			return opts.run(cmd, func(ctx context.Context, a *app) error {
				preview, err := a.syncer.PreviewState(ctx, state)
				if err != nil {
					return err
				}
				return a.out.Result(preview, func() { printStatePreview(a.out, preview) })
			})
		},
	}

	addStateFlags(cmd, &state)

	return cmd
}

func printClusterPreview(out *printer, preview *cluster.Preview) {
	out.Printf("Context %q: %d node(s)\n", preview.Context, len(preview.Nodes))
	rows := make([]table.Row, 0, len(preview.Namespaces))
	for _, ns := range preview.Namespaces {
		rows = append(rows, table.Row{ns.Namespace, ns.InstanceCount(), ns.ServiceCount(), strings.Join(ns.Instances, ", ")})
	}
	out.Table(table.Row{"Namespace", "Instances", "Services", "Instance names"}, rows)
}

func printStatePreview(out *printer, preview *statebackend.Preview) {
	out.Printf("State %s (terraform %s, serial %d)\n", preview.Location, preview.TerraformVersion, preview.Serial)
	rows := make([]table.Row, 0, len(preview.Resources))
	for _, r := range preview.Resources {
		group := r.EffectiveGroup()
		if group == "" {
			group = "(needs assignment)"
		}
		rows = append(rows, table.Row{r.ID, r.Role, r.Label, group})
	}
	out.Table(table.Row{"Resource", "Role", "Label", "Group"}, rows)
	if preview.Unmapped > 0 {
		out.Printf("%d resource(s) of unsupported types ignored\n", preview.Unmapped)
	}
}

func printResult(out *printer, result *discovery.Result) {
	rows := make([]table.Row, 0, len(result.Hosts)+len(result.Instances)+len(result.Services))
	for _, h := range result.Hosts {
		rows = append(rows, table.Row{"host", h.Name, h.Address})
	}
	for _, inst := range result.Instances {
		rows = append(rows, table.Row{"instance", inst.Name, inst.Host})
	}
	for _, hs := range result.Services {
		rows = append(rows, table.Row{"service", hs.Service.Name, hs.Host})
	}
	out.Table(table.Row{"Kind", "Name", "Host"}, rows)
	printNotes(out, result.Warnings, result.NeedsAssignment)
}

func printNotes(out *printer, warnings []string, unassigned []discovery.Unassigned) {
	for _, w := range warnings {
		out.Printf("warning: %s\n", w)
	}
	if len(unassigned) == 0 {
		return
	}
	out.Printf("%d resource(s) need a group, use 'fleetdeck provider assign':\n", len(unassigned))
	for _, u := range unassigned {
		out.Printf("  %s\n", describeUnassigned(u))
	}
}

func describeUnassigned(u discovery.Unassigned) string {
	return fmt.Sprintf("%s (%s)", u.ResourceID, u.Type)
}

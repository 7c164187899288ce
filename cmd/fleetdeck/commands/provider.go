package commands

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/fleetdeck/fleetdeck/pkg/provider"
)

func newProviderCommand(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "provider",
		Short: "Manage providers",
		Long: `Providers bind an external infrastructure source to one group of the
current project. Each provider owns the entities it discovers.`,
	}

	cmd.AddCommand(newProviderAddClusterCommand(opts))
	cmd.AddCommand(newProviderAddStateCommand(opts))
	cmd.AddCommand(newProviderImportCommand(opts))
	cmd.AddCommand(newProviderListCommand(opts))
	cmd.AddCommand(newProviderShowCommand(opts))
	cmd.AddCommand(newProviderRemoveCommand(opts))
	cmd.AddCommand(newProviderAssignCommand(opts))
	cmd.AddCommand(newProviderHistoryCommand(opts))

	return cmd
}

func newProviderAddClusterCommand(opts *rootOptions) *cobra.Command {
	var (
		spec       provider.Spec
		cluster    provider.ClusterConfig
		registries []string
	)

	cmd := &cobra.Command{
		Use:   "add-cluster <name>",
		Short: "Add a Kubernetes cluster provider",
		Example: `  # Sync namespace "prod" of the prod context into group "prod"
  fleetdeck provider add-cluster prod-k8s --context prod --group prod \
    --registry registry.example.com/`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			spec.Name = args[0]
			cluster.PrivateRegistries = registries
			spec.Config = provider.ClusterVariant(cluster)
			return opts.run(cmd, func(ctx context.Context, a *app) error {
				return addProvider(ctx, a, spec)
			})
		},
	}

	cmd.Flags().StringVar(&spec.Group, "group", "", "group the provider syncs into")
	cmd.Flags().BoolVar(&spec.AutoSync, "auto-sync", false, "mark the provider for scheduled syncs")
	cmd.Flags().StringVar(&cluster.Context, "context", "", "kubeconfig context")
	cmd.Flags().StringVar(&cluster.Kubeconfig, "kubeconfig", "", "kubeconfig path")
	cmd.Flags().StringSliceVar(&registries, "registry", nil, "image prefix of the operator's own application")
	_ = cmd.MarkFlagRequired("group")
	_ = cmd.MarkFlagRequired("context")

	return cmd
}

func newProviderAddStateCommand(opts *rootOptions) *cobra.Command {
	var (
		spec  provider.Spec
		state provider.StateBackendConfig
	)

	cmd := &cobra.Command{
		Use:   "add-state <name>",
		Short: "Add a Terraform state provider",
		Example: `  # Local state file
  fleetdeck provider add-state legacy --group legacy --path ./terraform.tfstate

  # State in S3
  fleetdeck provider add-state legacy --group legacy \
    --bucket tf-state --key legacy/terraform.tfstate --region eu-west-1`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			spec.Name = args[0]
			state.Backend = backendOf(state)
			spec.Config = provider.StateBackendVariant(state)
			return opts.run(cmd, func(ctx context.Context, a *app) error {
				return addProvider(ctx, a, spec)
			})
		},
	}

	cmd.Flags().StringVar(&spec.Group, "group", "", "group the provider syncs into")
	cmd.Flags().BoolVar(&spec.AutoSync, "auto-sync", false, "mark the provider for scheduled syncs")
	addStateFlags(cmd, &state)
	_ = cmd.MarkFlagRequired("group")

	return cmd
}

// addStateFlags registers the state location flags shared by add-state and
// discover state.
func addStateFlags(cmd *cobra.Command, state *provider.StateBackendConfig) {
	cmd.Flags().StringVar(&state.Path, "path", "", "local state file")
	cmd.Flags().StringVar(&state.Bucket, "bucket", "", "S3 bucket holding the state")
	cmd.Flags().StringVar(&state.Key, "key", "", "S3 object key of the state")
	cmd.Flags().StringVar(&state.Region, "region", "", "S3 region")
	cmd.Flags().StringVar(&state.Profile, "profile", "", "AWS shared config profile")
	cmd.MarkFlagsMutuallyExclusive("path", "bucket")
	cmd.MarkFlagsOneRequired("path", "bucket")
}

func backendOf(state provider.StateBackendConfig) string {
	if state.Bucket != "" {
		return provider.BackendS3
	}
	return provider.BackendLocal
}

func addProvider(ctx context.Context, a *app, spec provider.Spec) error {
	if err := a.schemas.ValidateProvider(ctx, spec); err != nil {
		return err
	}
	p := spec.Provider(a.cfg.Project)
	if err := a.syncer.Registry().Add(ctx, p); err != nil {
		return err
	}
	return a.out.Result(p, func() {
		a.out.Printf("Added %s provider %q syncing into group %q\n", p.Config.Kind, p.Name, p.Group)
	})
}

func newProviderImportCommand(opts *rootOptions) *cobra.Command {
	var file string

	cmd := &cobra.Command{
		Use:   "import",
		Short: "Add providers from a provider file",
		Long: `Validate a YAML provider file against the provider schema and add every
provider it declares. Nothing is added when the file is invalid.`,
		Example: `  fleetdeck provider import -f providers.yaml`,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.run(cmd, func(ctx context.Context, a *app) error {
				specs, err := a.schemas.LoadProviderFile(ctx, file)
				if err != nil {
					return err
				}

				added := make([]*provider.Provider, 0, len(specs))
				for _, spec := range specs {
					p := spec.Provider(a.cfg.Project)
					if err := a.syncer.Registry().Add(ctx, p); err != nil {
						return fmt.Errorf("provider %s: %w", spec.Name, err)
					}
					added = append(added, p)
				}

				return a.out.Result(added, func() {
					for _, p := range added {
						a.out.Printf("Added %s provider %q syncing into group %q\n", p.Config.Kind, p.Name, p.Group)
					}
				})
			})
		},
	}

	cmd.Flags().StringVarP(&file, "file", "f", "", "provider file")
	_ = cmd.MarkFlagRequired("file")

	return cmd
}

func newProviderListCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List providers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.run(cmd, func(ctx context.Context, a *app) error {
				providers, err := a.syncer.Registry().List(ctx, a.cfg.Project)
				if err != nil {
					return err
				}
				return a.out.Result(providers, func() {
					rows := make([]table.Row, 0, len(providers))
					for _, p := range providers {
						rows = append(rows, table.Row{p.Name, p.Config.Kind, p.Group, location(p), lastSync(p)})
					}
					a.out.Table(table.Row{"Name", "Kind", "Group", "Source", "Last sync"}, rows)
				})
			})
		},
	}
}

func newProviderShowCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "show <name>",
		Short: "Show a provider and its resource mappings",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.run(cmd, func(ctx context.Context, a *app) error {
				p, err := a.syncer.Registry().Get(ctx, a.cfg.Project, args[0])
				if err != nil {
					return err
				}
				return a.out.Result(p, func() {
					a.out.Printf("Name:      %s\n", p.Name)
					a.out.Printf("Kind:      %s\n", p.Config.Kind)
					a.out.Printf("Group:     %s\n", p.Group)
					a.out.Printf("Source:    %s\n", location(p))
					a.out.Printf("Auto sync: %t\n", p.AutoSync)
					a.out.Printf("Last sync: %s\n", lastSync(p))
					if len(p.ResourceMappings) == 0 {
						return
					}
					rows := make([]table.Row, 0, len(p.ResourceMappings))
					for _, m := range p.ResourceMappings {
						rows = append(rows, table.Row{m.ResourceID, m.Group, m.AssignedAt.Format(time.RFC3339)})
					}
					a.out.Table(table.Row{"Resource", "Group", "Assigned"}, rows)
				})
			})
		},
	}
}

func newProviderRemoveCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "remove <name>",
		Short: "Remove a provider",
		Long: `Remove a provider record. Entities it created stay in the inventory and
are no longer refreshed.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.run(cmd, func(ctx context.Context, a *app) error {
				if err := a.syncer.Registry().Remove(ctx, a.cfg.Project, args[0]); err != nil {
					return err
				}
				return a.out.Result(map[string]string{"removed": args[0]}, func() {
					a.out.Printf("Removed provider %q\n", args[0])
				})
			})
		},
	}
}

func newProviderAssignCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "assign <provider> <resource> <group>",
		Short: "Assign a state resource to a group",
		Long: `Remember the group of a Terraform resource that discovery could not place.
The group is created when it does not exist. The next sync uses the mapping.`,
		Example: `  fleetdeck provider assign legacy aws_db_instance.orders prod`,
		Args:    cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.run(cmd, func(ctx context.Context, a *app) error {
				p, err := a.syncer.AssignResource(ctx, args[0], args[1], args[2])
				if err != nil {
					return err
				}
				return a.out.Result(p, func() {
					a.out.Printf("Assigned %s to group %q\n", args[1], args[2])
				})
			})
		},
	}
}

func newProviderHistoryCommand(opts *rootOptions) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "history <name>",
		Short: "Show recent syncs of a provider",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.run(cmd, func(ctx context.Context, a *app) error {
				runs, err := a.syncer.History(ctx, args[0], limit)
				if err != nil {
					return err
				}
				return a.out.Result(runs, func() {
					rows := make([]table.Row, 0, len(runs))
					for _, run := range runs {
						msg := ""
						if run.Error != nil {
							msg = *run.Error
						}
						rows = append(rows, table.Row{run.ID, run.Status, run.StartedAt.Format(time.RFC3339), msg})
					}
					a.out.Table(table.Row{"Run", "Status", "Started", "Error"}, rows)
				})
			})
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 10, "number of runs to show")

	return cmd
}

func location(p *provider.Provider) string {
	switch {
	case p.Config.Cluster != nil:
		parts := []string{"context=" + p.Config.Cluster.Context, "namespace=" + p.Namespace()}
		return strings.Join(parts, " ")
	case p.Config.StateBackend != nil:
		return p.Config.StateBackend.Location()
	}
	return ""
}

func lastSync(p *provider.Provider) string {
	if p.LastSync == nil {
		return "never"
	}
	return p.LastSync.Format(time.RFC3339)
}

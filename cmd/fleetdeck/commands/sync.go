package commands

import (
	"context"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/fleetdeck/fleetdeck/pkg/engine"
	"github.com/fleetdeck/fleetdeck/pkg/reconcile"
)

func newSyncCommand(opts *rootOptions) *cobra.Command {
	var all bool

	cmd := &cobra.Command{
		Use:   "sync [provider...]",
		Short: "Sync providers into the inventory",
		Long: `Discover each provider's source and reconcile the result into its group.
Entities owned by the operator or by other providers are never modified.
A failed sync leaves the inventory unchanged.`,
		Example: `  fleetdeck sync prod-k8s
  fleetdeck sync --all`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.run(cmd, func(ctx context.Context, a *app) error {
				names := args
				if all {
					providers, err := a.syncer.Registry().List(ctx, a.cfg.Project)
					if err != nil {
						return err
					}
					names = nil
					for _, p := range providers {
						names = append(names, p.Name)
					}
				}
				if len(names) == 0 {
					return engine.NewValidationError("no provider given, pass names or --all", nil)
				}

				reports := make([]*engine.SyncReport, 0, len(names))
				for _, name := range names {
					report, err := a.syncer.Sync(ctx, name)
					if err != nil {
						return err
					}
					reports = append(reports, report)
				}

				return a.out.Result(reports, func() {
					for _, r := range reports {
						printSyncReport(a.out, r)
					}
				})
			})
		},
	}

	cmd.Flags().BoolVar(&all, "all", false, "sync every provider of the project")

	return cmd
}

func printSyncReport(out *printer, r *engine.SyncReport) {
	out.Printf("Synced %q into group %q in %s\n", r.Provider, r.Group, r.Duration().Round(time.Millisecond))
	if r.GroupCreated {
		out.Printf("Created group %q\n", r.Group)
	}
	rows := []table.Row{
		changesRow("hosts", r.Hosts),
		changesRow("instances", r.Instances),
		changesRow("services", r.Services),
		changesRow("group members", r.GroupMembers),
	}
	out.Table(table.Row{"Entity", "Created", "Updated", "Pruned", "Skipped"}, rows)
	for _, c := range r.Conflicts {
		out.Printf("conflict: %s\n", c)
	}
	if r.Policy != nil {
		for _, w := range r.Policy.Warnings {
			out.Printf("warning: %s\n", w)
		}
	}
	printNotes(out, r.Warnings, r.NeedsAssignment)
}

func changesRow(entity string, c reconcile.Changes) table.Row {
	return table.Row{entity, c.Created, c.Updated, c.Pruned, c.Skipped}
}

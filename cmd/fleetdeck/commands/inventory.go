package commands

import (
	"context"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/fleetdeck/fleetdeck/pkg/inventory"
)

func newInventoryCommand(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "inventory",
		Short: "Show the inventory of the project",
	}

	cmd.AddCommand(inventoryView(opts, "hosts", "List hosts and their services", func(a *app, s *inventory.State) error {
		return a.out.Result(s.Hosts, func() {
			rows := make([]table.Row, 0, len(s.Hosts))
			for _, h := range s.Hosts {
				names := make([]string, 0, len(h.Services))
				for _, svc := range h.Services {
					names = append(names, svc.Name)
				}
				rows = append(rows, table.Row{h.Name, h.Address, h.ConnectionType, h.Source, strings.Join(names, ", ")})
			}
			a.out.Table(table.Row{"Name", "Address", "Connection", "Source", "Services"}, rows)
		})
	}))

	cmd.AddCommand(inventoryView(opts, "instances", "List application instances", func(a *app, s *inventory.State) error {
		return a.out.Result(s.Instances, func() {
			rows := make([]table.Row, 0, len(s.Instances))
			for _, inst := range s.Instances {
				rows = append(rows, table.Row{inst.Name, inst.Host, inst.Path, inst.Source})
			}
			a.out.Table(table.Row{"Name", "Host", "Path", "Source"}, rows)
		})
	}))

	cmd.AddCommand(inventoryView(opts, "groups", "List groups and their members", func(a *app, s *inventory.State) error {
		return a.out.Result(s.Groups, func() {
			rows := make([]table.Row, 0, len(s.Groups))
			for _, g := range s.Groups {
				refs := make([]string, 0, len(g.Services))
				for _, ref := range g.Services {
					refs = append(refs, ref.Host+"/"+ref.Service)
				}
				rows = append(rows, table.Row{g.Name, strings.Join(g.Instances, ", "), strings.Join(refs, ", ")})
			}
			a.out.Table(table.Row{"Name", "Instances", "Services"}, rows)
		})
	}))

	return cmd
}

func inventoryView(opts *rootOptions, use, short string, render func(*app, *inventory.State) error) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.run(cmd, func(ctx context.Context, a *app) error {
				state, err := a.curator.State(ctx)
				if err != nil {
					return err
				}
				return render(a, state)
			})
		},
	}
}

package commands

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/fleetdeck/fleetdeck/pkg/inventory"
)

func newHostCommand(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "host",
		Short: "Manage manual hosts",
	}
	cmd.AddCommand(newHostAddCommand(opts))
	cmd.AddCommand(newServiceAddCommand(opts))
	return cmd
}

func newHostAddCommand(opts *rootOptions) *cobra.Command {
	var (
		host           inventory.Host
		connectionType string
	)

	cmd := &cobra.Command{
		Use:     "add <name>",
		Short:   "Add a host maintained by hand",
		Example: `  fleetdeck host add bastion --address 10.0.0.5 --connection ssh --connectable`,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			host.Name = args[0]
			host.ConnectionType = inventory.ConnectionType(connectionType)
			return opts.run(cmd, func(ctx context.Context, a *app) error {
				if err := a.curator.AddHost(ctx, host); err != nil {
					return err
				}
				return a.out.Result(host, func() {
					a.out.Printf("Added host %q\n", host.Name)
				})
			})
		},
	}

	cmd.Flags().StringVar(&host.Address, "address", "", "host address")
	cmd.Flags().StringVar(&connectionType, "connection", "", "connection type (ssh, cluster, state-backend)")
	cmd.Flags().BoolVar(&host.Connectable, "connectable", false, "the host accepts remote sessions")

	return cmd
}

func newServiceAddCommand(opts *rootOptions) *cobra.Command {
	var svc inventory.Service

	cmd := &cobra.Command{
		Use:     "add-service <host> <name>",
		Short:   "Attach a manual service to a host",
		Example: `  fleetdeck host add-service bastion redis --process redis-server --port 6379`,
		Args:    cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc.Name = args[1]
			return opts.run(cmd, func(ctx context.Context, a *app) error {
				if err := a.curator.AddService(ctx, args[0], svc); err != nil {
					return err
				}
				return a.out.Result(svc, func() {
					a.out.Printf("Added service %q to host %q\n", svc.Name, args[0])
				})
			})
		},
	}

	cmd.Flags().StringVar(&svc.Process, "process", "", "process name")
	cmd.Flags().StringVar(&svc.Endpoint, "endpoint", "", "service endpoint")
	cmd.Flags().IntVar(&svc.Port, "port", 0, "service port")

	return cmd
}

func newInstanceCommand(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "instance",
		Short: "Manage manual instances",
	}
	cmd.AddCommand(newInstanceAddCommand(opts))
	return cmd
}

func newInstanceAddCommand(opts *rootOptions) *cobra.Command {
	var (
		inst   inventory.Instance
		groups []string
	)

	cmd := &cobra.Command{
		Use:     "add <name>",
		Short:   "Add an application instance maintained by hand",
		Example: `  fleetdeck instance add web --host bastion --path /srv/web --group prod`,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			inst.Name = args[0]
			return opts.run(cmd, func(ctx context.Context, a *app) error {
				if err := a.curator.AddInstance(ctx, inst, groups...); err != nil {
					return err
				}
				return a.out.Result(inst, func() {
					a.out.Printf("Added instance %q\n", inst.Name)
				})
			})
		},
	}

	cmd.Flags().StringVar(&inst.Host, "host", "", "host running the instance")
	cmd.Flags().StringVar(&inst.Path, "path", "", "install path")
	cmd.Flags().StringVar(&inst.Repository, "repository", "", "source repository")
	cmd.Flags().StringVar(&inst.Branch, "branch", "", "deployed branch")
	cmd.Flags().StringSliceVar(&groups, "group", nil, "group to place the instance in (created if missing)")

	return cmd
}

func newGroupCommand(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "group",
		Short: "Manage groups",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "add <name>",
		Short: "Add an empty group",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.run(cmd, func(ctx context.Context, a *app) error {
				if err := a.curator.AddGroup(ctx, args[0]); err != nil {
					return err
				}
				return a.out.Result(map[string]string{"group": args[0]}, func() {
					a.out.Printf("Added group %q\n", args[0])
				})
			})
		},
	})
	return cmd
}

package commands

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/user"

	"github.com/spf13/cobra"

	"github.com/fleetdeck/fleetdeck/pkg/config"
	"github.com/fleetdeck/fleetdeck/pkg/discovery/statebackend"
	"github.com/fleetdeck/fleetdeck/pkg/engine"
	"github.com/fleetdeck/fleetdeck/pkg/policy"
	"github.com/fleetdeck/fleetdeck/pkg/runner"
	"github.com/fleetdeck/fleetdeck/pkg/stores"
	"github.com/fleetdeck/fleetdeck/pkg/telemetry"
)

// app is the wired application for one command invocation.
type app struct {
	cfg       *config.AppConfig
	store     *stores.SQLiteStore
	telemetry *telemetry.Telemetry
	syncer    *engine.Syncer
	curator   *engine.Curator
	schemas   *config.SchemaRegistry
	out       *printer
}

// open loads the configuration and wires the store, telemetry and engine.
// Everything opened so far is released when a later step fails.
func (o *rootOptions) open(ctx context.Context, cmd *cobra.Command) (_ *app, err error) {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return nil, err
	}
	if o.project != "" {
		cfg.Project = o.project
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
	}
	if o.verbose {
		cfg.Logging.Level = "debug"
	}

	tel, err := telemetry.NewTelemetry(cfg.Telemetry(o.version))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tel.Shutdown(context.WithoutCancel(ctx))
		}
	}()

	store, err := stores.NewSQLiteStore(stores.Config{Path: cfg.Database.Path})
	if err != nil {
		return nil, err
	}
	if err := store.Init(ctx); err != nil {
		return nil, err
	}
	defer func() {
		if err != nil {
			_ = store.Close()
		}
	}()
	if err := store.Migrate(ctx); err != nil {
		return nil, err
	}

	r := runner.New(cfg.Exec.Timeout, cfg.Exec.MaxOutput)
	clusters, err := engine.NewClusterClientFactory(cfg.Cluster.Driver, r, cfg.Exec.Kubectl, cfg.Exec.Timeout)
	if err != nil {
		return nil, err
	}

	var policies *policy.Engine
	if cfg.Policy.Enabled {
		if policies, err = newPolicyEngine(ctx, cfg.Policy, tel.Logger); err != nil {
			return nil, err
		}
	}

	actor := currentUser()
	syncer, err := engine.NewSyncer(engine.Options{
		Project:        cfg.Project,
		Store:          store,
		ClusterClients: clusters,
		StateLoader:    statebackend.NewBackendLoader(cfg.Exec.MaxOutput, cfg.Exec.Timeout),
		Policies:       policies,
		Telemetry:      tel,
		Actor:          actor,
	})
	if err != nil {
		return nil, err
	}

	return &app{
		cfg:       cfg,
		store:     store,
		telemetry: tel,
		syncer:    syncer,
		curator:   engine.NewCurator(cfg.Project, store, tel.Logger, actor),
		schemas:   config.NewSchemaRegistry(),
		out:       newPrinter(cmd.OutOrStdout(), o.jsonOutput),
	}, nil
}

func newPolicyEngine(ctx context.Context, cfg config.PolicyConfig, logger *telemetry.Logger) (*policy.Engine, error) {
	e, err := policy.NewEngine(ctx, logger)
	if err != nil {
		return nil, err
	}
	if err := e.LoadPolicies(ctx, cfg.Paths); err != nil {
		return nil, err
	}
	for _, name := range cfg.Disabled {
		if err := e.DisablePolicy(name); err != nil {
			return nil, err
		}
	}
	return e, nil
}

// close flushes telemetry and closes the store.
func (a *app) close(ctx context.Context) error {
	return errors.Join(
		a.telemetry.Shutdown(ctx),
		a.store.Close(),
	)
}

// run wires the application, runs fn and tears everything down.
func (o *rootOptions) run(cmd *cobra.Command, fn func(ctx context.Context, a *app) error) (err error) {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	a, err := o.open(ctx, cmd)
	if err != nil {
		return err
	}
	defer func() {
		err = errors.Join(err, a.close(context.WithoutCancel(ctx)))
	}()

	return fn(a.telemetry.WithContext(ctx), a)
}

func currentUser() string {
	if u, err := user.Current(); err == nil && u.Username != "" {
		return u.Username
	}
	if name := os.Getenv("USER"); name != "" {
		return name
	}
	return "fleetdeck"
}

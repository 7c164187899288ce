package engine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fleetdeck/fleetdeck/pkg/inventory"
)

func TestCuratorAddsManualEntities(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	c := NewCurator(project, store, nil, "ops")

	require.NoError(t, c.AddHost(ctx, inventory.Host{
		Name:           "db-1",
		Address:        "10.0.0.9",
		ConnectionType: inventory.ConnectionSSH,
		Connectable:    true,
		Source:         inventory.ProviderSource("sneaky"),
	}))
	require.NoError(t, c.AddService(ctx, "db-1", inventory.Service{Name: "postgres", Process: "postgres", Port: 5432}))
	require.NoError(t, c.AddInstance(ctx, inventory.Instance{Name: "billing", Path: "/srv/billing", Host: "db-1"}, "prod", "prod"))
	require.NoError(t, c.AddGroup(ctx, "staging"))

	state, err := c.State(ctx)
	require.NoError(t, err)

	host := state.Host("db-1")
	require.NotNil(t, host)
	assert.Equal(t, inventory.SourceManual, host.Source)
	assert.Equal(t, inventory.SourceManual, host.Service("postgres").Source)
	assert.Equal(t, inventory.SourceManual, state.Instance("billing").Source)
	assert.Equal(t, []string{"billing"}, state.Group("prod").Instances)
	assert.Equal(t, []string{"prod", "staging"}, state.GroupNames())

	action := ActionAddHost
	entries, err := store.ListAuditEntries(ctx, &action, nil, 10, 0)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "ops", entries[0].Actor)
}

func TestCuratorRejections(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	c := NewCurator(project, store, nil, "")

	require.NoError(t, c.AddHost(ctx, inventory.Host{Name: "db-1"}))

	assert.True(t, IsConflict(c.AddHost(ctx, inventory.Host{Name: "db-1"})))
	assert.True(t, IsValidation(c.AddHost(ctx, inventory.Host{})))
	assert.True(t, IsValidation(c.AddService(ctx, "missing", inventory.Service{Name: "redis"})))
	assert.True(t, IsValidation(c.AddInstance(ctx, inventory.Instance{Name: "api", Host: "missing"})))
	assert.True(t, IsValidation(c.AddGroup(ctx, "")))

	require.NoError(t, c.AddGroup(ctx, "prod"))
	assert.True(t, IsConflict(c.AddGroup(ctx, "prod")))
}

func TestManualEntitiesSurviveSync(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	c := NewCurator(project, f.store, nil, "")
	require.NoError(t, c.AddHost(ctx, inventory.Host{Name: "node-1", Address: "192.168.1.10", ConnectionType: inventory.ConnectionSSH}))
	require.NoError(t, c.AddInstance(ctx, inventory.Instance{Name: "legacy", Path: "/srv/legacy"}, "prod"))
	require.NoError(t, f.syncer.Registry().Add(ctx, clusterProvider()))

	report, err := f.syncer.Sync(ctx, "p1")
	require.NoError(t, err)
	assert.NotEmpty(t, report.Conflicts)

	state := f.state(t)
	host := state.Host("node-1")
	assert.Equal(t, "192.168.1.10", host.Address)
	assert.Equal(t, inventory.SourceManual, host.Source)
	assert.Empty(t, host.Services)
	assert.Equal(t, []string{"legacy", "app-abcde"}, state.Group("prod").Instances)
	assert.Empty(t, state.Group("prod").Services)
}

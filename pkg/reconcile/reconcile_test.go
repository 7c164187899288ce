package reconcile

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fleetdeck/fleetdeck/pkg/discovery"
	"github.com/fleetdeck/fleetdeck/pkg/inventory"
	"github.com/fleetdeck/fleetdeck/pkg/provider"
)

const p1 inventory.Source = "provider:p1"

func clusterProvider() *provider.Provider {
	return &provider.Provider{
		Name:    "p1",
		Project: "demo",
		Group:   "prod",
		Config: provider.ClusterVariant(provider.ClusterConfig{
			Context:           "kind-demo",
			PrivateRegistries: []string{"registry.internal/"},
		}),
	}
}

func stateProvider() *provider.Provider {
	return &provider.Provider{
		Name:    "tf",
		Project: "demo",
		Group:   "prod",
		Config: provider.StateBackendVariant(provider.StateBackendConfig{
			Backend: provider.BackendLocal,
			Path:    "infra/terraform.tfstate",
		}),
	}
}

// clusterResult is one node running a private-image pod and a public
// workload owned by ReplicaSet web-7f8b9c.
func clusterResult(withApp bool) *discovery.Result {
	r := discovery.NewResult("p1", "prod")
	r.AddHost(inventory.Host{Name: "node-1", Address: "10.0.0.5", ConnectionType: inventory.ConnectionCluster, Source: p1})
	if withApp {
		r.AddInstance(inventory.Instance{
			Name:     "app-abcde",
			Path:     "prod/app-abcde",
			Host:     "node-1",
			Source:   p1,
			Metadata: map[string]string{"image": "registry.internal/app:1"},
		})
	}
	r.AddService("node-1", inventory.Service{
		Name:     "web",
		Process:  "nginx",
		Source:   p1,
		Metadata: map[string]string{"image": "nginx:1.25"},
	})
	return r
}

func reconcileOK(t *testing.T, state *inventory.State, p *provider.Provider, result *discovery.Result) (*inventory.State, *Report) {
	t.Helper()
	out, report, err := Reconcile(state, p, result)
	require.NoError(t, err)
	require.NotNil(t, out)
	require.NotNil(t, report)
	return out, report
}

func TestReconcileClusterSync(t *testing.T) {
	out, report := reconcileOK(t, inventory.NewState(), clusterProvider(), clusterResult(true))

	host := out.Host("node-1")
	require.NotNil(t, host)
	assert.Equal(t, "10.0.0.5", host.Address)
	assert.Equal(t, p1, host.Source)

	inst := out.Instance("app-abcde")
	require.NotNil(t, inst)
	assert.Equal(t, "node-1", inst.Host)
	assert.Equal(t, p1, inst.Source)

	require.NotNil(t, host.Service("web"))

	group := out.Group("prod")
	require.NotNil(t, group)
	assert.Equal(t, []string{"app-abcde"}, group.Instances)
	assert.Equal(t, []inventory.ServiceRef{{Host: "node-1", Service: "web"}}, group.Services)

	assert.True(t, report.GroupCreated)
	assert.Equal(t, Changes{Created: 1}, report.Hosts)
	assert.Equal(t, Changes{Created: 1}, report.Instances)
	assert.Equal(t, Changes{Created: 1}, report.Services)
	assert.Equal(t, Changes{Created: 2}, report.GroupMembers)
	assert.True(t, report.Changed())
}

func TestReconcileIdempotent(t *testing.T) {
	tests := []struct {
		name   string
		p      *provider.Provider
		result func() *discovery.Result
	}{
		{name: "cluster", p: clusterProvider(), result: func() *discovery.Result { return clusterResult(true) }},
		{name: "state backend", p: stateProvider(), result: stateResult},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			first, _ := reconcileOK(t, inventory.NewState(), tt.p, tt.result())
			second, report := reconcileOK(t, first, tt.p, tt.result())

			assert.Equal(t, first, second)
			assert.False(t, report.Changed())
			assert.Empty(t, report.Conflicts)
		})
	}
}

func TestReconcileResyncPrunesInstanceKeepsService(t *testing.T) {
	first, _ := reconcileOK(t, inventory.NewState(), clusterProvider(), clusterResult(true))

	// The web workload is gone too: cluster services still stay on the node.
	result := discovery.NewResult("p1", "prod")
	result.AddHost(inventory.Host{Name: "node-1", Address: "10.0.0.5", ConnectionType: inventory.ConnectionCluster, Source: p1})
	second, report := reconcileOK(t, first, clusterProvider(), result)

	assert.Nil(t, second.Instance("app-abcde"))
	assert.Empty(t, second.Group("prod").Instances)
	assert.NotNil(t, second.Host("node-1").Service("web"))
	assert.Equal(t, 1, report.Instances.Pruned)
	assert.Zero(t, report.Services.Pruned)
}

func TestReconcileResyncWithoutApp(t *testing.T) {
	first, _ := reconcileOK(t, inventory.NewState(), clusterProvider(), clusterResult(true))
	second, report := reconcileOK(t, first, clusterProvider(), clusterResult(false))

	assert.Nil(t, second.Instance("app-abcde"))
	assert.Equal(t, []string{}, second.Group("prod").Instances)
	assert.NotNil(t, second.Host("node-1").Service("web"))
	assert.Equal(t, []inventory.ServiceRef{{Host: "node-1", Service: "web"}}, second.Group("prod").Services)
	assert.Equal(t, Changes{Pruned: 1}, report.Instances)
	assert.Equal(t, 1, report.GroupMembers.Pruned)
}

func TestReconcileOwnershipInvariant(t *testing.T) {
	state := inventory.NewState()
	require.NoError(t, state.AddHost(inventory.Host{
		Name:           "node-1",
		Address:        "192.168.1.10",
		ConnectionType: inventory.ConnectionSSH,
		Source:         inventory.SourceManual,
		Connectable:    true,
		Services:       []inventory.Service{{Name: "web", Process: "apache", Source: inventory.SourceManual}},
	}))
	require.NoError(t, state.AddInstance(inventory.Instance{Name: "app-abcde", Path: "/srv/app", Source: inventory.SourceManual}))
	require.NoError(t, state.AddInstance(inventory.Instance{Name: "legacy", Path: "/srv/legacy", Source: inventory.SourceManual}))
	require.NoError(t, state.AddGroup(inventory.Group{Name: "prod", Instances: []string{"legacy"}}))
	before := state.Clone()

	out, report := reconcileOK(t, state, clusterProvider(), clusterResult(true))

	assert.Equal(t, before, state, "input state must not change")

	host := out.Host("node-1")
	assert.Equal(t, "192.168.1.10", host.Address)
	assert.Equal(t, inventory.ConnectionSSH, host.ConnectionType)
	assert.Equal(t, inventory.SourceManual, host.Source)
	assert.Equal(t, "apache", host.Service("web").Process)
	assert.Equal(t, inventory.SourceManual, host.Service("web").Source)

	assert.Equal(t, "/srv/app", out.Instance("app-abcde").Path)
	assert.Equal(t, inventory.SourceManual, out.Instance("app-abcde").Source)
	assert.NotNil(t, out.Instance("legacy"))

	assert.Equal(t, []string{"legacy"}, out.Group("prod").Instances)
	assert.Empty(t, out.Group("prod").Services)

	assert.Equal(t, 1, report.Hosts.Skipped)
	assert.Equal(t, 1, report.Instances.Skipped)
	assert.Equal(t, 1, report.Services.Skipped)
	assert.Len(t, report.Conflicts, 3)
	assert.Contains(t, report.Conflicts[0], `host "node-1" is owned by manual`)
}

func TestReconcileLeavesManualHostServicesAlone(t *testing.T) {
	state := inventory.NewState()
	require.NoError(t, state.AddHost(inventory.Host{
		Name:           "node-1",
		Address:        "192.168.1.10",
		ConnectionType: inventory.ConnectionSSH,
		Source:         inventory.SourceManual,
	}))

	out, report := reconcileOK(t, state, clusterProvider(), clusterResult(false))

	assert.Empty(t, out.Host("node-1").Services)
	assert.Empty(t, out.Group("prod").Services)
	assert.Equal(t, 0, report.Services.Created)
	assert.Equal(t, 1, report.Services.Skipped)
	assert.Contains(t, report.Conflicts[len(report.Conflicts)-1], `host "node-1" is owned by manual, 1 service(s) not attached`)

	again, _ := reconcileOK(t, out, clusterProvider(), clusterResult(false))
	assert.Equal(t, out, again)
}

func TestReconcileStateBackendSkipsManualSyntheticHost(t *testing.T) {
	synthetic := stateResult().Hosts[0].Name
	state := inventory.NewState()
	require.NoError(t, state.AddHost(inventory.Host{Name: synthetic, Source: inventory.SourceManual}))

	out, report := reconcileOK(t, state, stateProvider(), stateResult())

	assert.Empty(t, out.Host(synthetic).Services)
	assert.Empty(t, out.Group("prod").Services)
	assert.Equal(t, 0, report.Services.Created)
}

func TestReconcileManualMembersSurvive(t *testing.T) {
	first, _ := reconcileOK(t, inventory.NewState(), clusterProvider(), clusterResult(true))
	require.NoError(t, first.AddService("node-1", inventory.Service{Name: "cron", Source: inventory.SourceManual}))
	g := first.Group("prod")
	g.AddInstances("manual-app")
	g.AddServices(inventory.ServiceRef{Host: "node-1", Service: "cron"})

	second, _ := reconcileOK(t, first, clusterProvider(), discovery.NewResult("p1", "prod"))

	assert.Equal(t, []string{"manual-app"}, second.Group("prod").Instances)
	assert.Equal(t, []inventory.ServiceRef{{Host: "node-1", Service: "cron"}}, second.Group("prod").Services)
	assert.NotNil(t, second.Host("node-1").Service("cron"))
	assert.NotNil(t, second.Host("node-1").Service("web"))
}

func TestReconcileGroupUnion(t *testing.T) {
	state := inventory.NewState()
	require.NoError(t, state.AddGroup(inventory.Group{Name: "prod", Instances: []string{"a", "b"}}))

	result := discovery.NewResult("p1", "prod")
	for _, name := range []string{"b", "c"} {
		result.AddInstance(inventory.Instance{Name: name, Source: p1})
	}

	out, report := reconcileOK(t, state, clusterProvider(), result)

	assert.Equal(t, []string{"a", "b", "c"}, out.Group("prod").Instances)
	assert.False(t, report.GroupCreated)
	assert.Equal(t, 1, report.GroupMembers.Created)

	again, _ := reconcileOK(t, out, clusterProvider(), result)
	assert.Equal(t, []string{"a", "b", "c"}, again.Group("prod").Instances)
}

func TestReconcileInstanceUpdatedInPlace(t *testing.T) {
	state := inventory.NewState()
	require.NoError(t, state.AddInstance(inventory.Instance{Name: "first", Source: inventory.SourceManual}))
	first, _ := reconcileOK(t, state, clusterProvider(), clusterResult(true))
	require.NoError(t, first.AddInstance(inventory.Instance{Name: "last", Source: inventory.SourceManual}))

	result := clusterResult(true)
	result.Instances[0].Metadata["image"] = "registry.internal/app:2"
	second, report := reconcileOK(t, first, clusterProvider(), result)

	names := make([]string, 0, len(second.Instances))
	for _, inst := range second.Instances {
		names = append(names, inst.Name)
	}
	assert.Equal(t, []string{"first", "app-abcde", "last"}, names)
	assert.Equal(t, "registry.internal/app:2", second.Instance("app-abcde").Metadata["image"])
	assert.Equal(t, Changes{Updated: 1}, report.Instances)
}

func TestReconcileOtherProviderConflict(t *testing.T) {
	first, _ := reconcileOK(t, inventory.NewState(), clusterProvider(), clusterResult(true))

	other := clusterProvider()
	other.Name = "p2"
	other.Group = "staging"
	result := discovery.NewResult("p2", "staging")
	result.AddInstance(inventory.Instance{Name: "app-abcde", Source: "provider:p2"})

	out, report := reconcileOK(t, first, other, result)

	assert.Equal(t, p1, out.Instance("app-abcde").Source)
	assert.Equal(t, []string{}, out.Group("staging").Instances)
	assert.Equal(t, []string{"app-abcde"}, out.Group("prod").Instances)
	require.Len(t, report.Conflicts, 1)
	assert.Contains(t, report.Conflicts[0], "provider:p1")
}

func TestReconcileMissingHostWarns(t *testing.T) {
	result := discovery.NewResult("p1", "prod")
	result.AddService("ghost", inventory.Service{Name: "web", Source: p1})

	out, report := reconcileOK(t, inventory.NewState(), clusterProvider(), result)

	assert.Empty(t, out.Hosts)
	assert.Equal(t, 1, report.Services.Skipped)
	require.Len(t, report.Warnings, 1)
	assert.Contains(t, report.Warnings[0], `host "ghost" not found`)
	assert.Empty(t, out.Group("prod").Services)
}

// stateResult is a state-backend result: the synthetic host carries a
// database, a queue and one connectable server host.
func stateResult() *discovery.Result {
	src := inventory.ProviderSource("tf")
	r := discovery.NewResult("tf", "prod")
	r.AddHost(inventory.Host{Name: "tf", Address: "infra/terraform.tfstate", ConnectionType: inventory.ConnectionStateBackend, Source: src})
	r.AddHost(inventory.Host{Name: "bastion", Address: "10.1.0.4", ConnectionType: inventory.ConnectionSSH, Source: src, Connectable: true})
	r.AddService("tf", inventory.Service{Name: "orders", Process: "postgres", Endpoint: "orders.db", Port: 5432, Source: src})
	r.AddService("tf", inventory.Service{Name: "jobs", Process: "sqs", Source: src})
	r.NeedsAssignment = []discovery.Unassigned{{ResourceID: "aws_elasticache_replication_group.sessions", Type: "aws_elasticache_replication_group", Name: "sessions"}}
	return r
}

func TestReconcileStateBackendReplacesOwnedServices(t *testing.T) {
	p := stateProvider()
	first, report := reconcileOK(t, inventory.NewState(), p, stateResult())
	require.Len(t, report.NeedsAssignment, 1)
	require.Len(t, first.Host("tf").Services, 2)

	require.NoError(t, first.AddService("tf", inventory.Service{Name: "notes", Source: inventory.SourceManual}))

	src := inventory.ProviderSource("tf")
	result := discovery.NewResult("tf", "prod")
	result.AddHost(inventory.Host{Name: "tf", Address: "s3://state/prod.tfstate", ConnectionType: inventory.ConnectionStateBackend, Source: src})
	result.AddService("tf", inventory.Service{Name: "orders", Process: "postgres", Endpoint: "orders.db", Port: 5433, Source: src})

	second, report := reconcileOK(t, first, p, result)

	host := second.Host("tf")
	assert.Equal(t, "s3://state/prod.tfstate", host.Address)
	require.Len(t, host.Services, 2)
	assert.Equal(t, "orders", host.Services[0].Name)
	assert.Equal(t, 5433, host.Services[0].Port)
	assert.Equal(t, "notes", host.Services[1].Name)

	assert.Equal(t, Changes{Updated: 1}, report.Hosts)
	assert.Equal(t, Changes{Updated: 1, Pruned: 1}, report.Services)
	assert.Equal(t, []inventory.ServiceRef{{Host: "tf", Service: "orders"}}, second.Group("prod").Services)

	// bastion is a provider-owned host no longer discovered; hosts are never pruned.
	assert.NotNil(t, second.Host("bastion"))
}

func TestReconcileStateBackendPrunesWhenNothingDiscovered(t *testing.T) {
	p := stateProvider()
	first, _ := reconcileOK(t, inventory.NewState(), p, stateResult())

	result := discovery.NewResult("tf", "prod")
	result.AddHost(inventory.Host{Name: "tf", Address: "infra/terraform.tfstate", ConnectionType: inventory.ConnectionStateBackend, Source: inventory.ProviderSource("tf")})

	second, report := reconcileOK(t, first, p, result)

	assert.Empty(t, second.Host("tf").Services)
	assert.Equal(t, 2, report.Services.Pruned)
	assert.Empty(t, second.Group("prod").Services)
}

func TestReconcileAssignThenSync(t *testing.T) {
	p := stateProvider()
	first, _ := reconcileOK(t, inventory.NewState(), p, stateResult())

	// Once mapped to staging, the resource is synced by the provider bound to staging.
	staging := stateProvider()
	staging.Group = "staging"
	src := inventory.ProviderSource("tf")
	result := discovery.NewResult("tf", "staging")
	result.AddHost(inventory.Host{Name: "tf", Address: "infra/terraform.tfstate", ConnectionType: inventory.ConnectionStateBackend, Source: src})
	result.AddService("tf", inventory.Service{Name: "sessions", Process: "redis", Source: src})

	second, report := reconcileOK(t, first, staging, result)

	assert.True(t, report.GroupCreated)
	assert.Equal(t, []inventory.ServiceRef{{Host: "tf", Service: "sessions"}}, second.Group("staging").Services)
	assert.Empty(t, second.Group("prod").Services)
}

func TestReconcileRejectsMismatchedResult(t *testing.T) {
	state := inventory.NewState()

	_, _, err := Reconcile(state, clusterProvider(), discovery.NewResult("other", "prod"))
	assert.True(t, errors.Is(err, ErrMismatch))

	_, _, err = Reconcile(state, clusterProvider(), discovery.NewResult("p1", "staging"))
	assert.True(t, errors.Is(err, ErrMismatch))

	p := clusterProvider()
	p.Group = ""
	_, _, err = Reconcile(state, p, discovery.NewResult("p1", ""))
	assert.True(t, errors.Is(err, provider.ErrInvalid))

	_, _, err = Reconcile(nil, clusterProvider(), discovery.NewResult("p1", "prod"))
	assert.Error(t, err)
}

package commands

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fleetdeck/fleetdeck/pkg/engine"
	"github.com/fleetdeck/fleetdeck/pkg/inventory"
	"github.com/fleetdeck/fleetdeck/pkg/provider"
)

const stateFixture = "../../../pkg/discovery/statebackend/testdata/terraform.tfstate"

type cli struct {
	t      *testing.T
	config string
}

func newCLI(t *testing.T, extra ...string) *cli {
	t.Helper()
	t.Setenv("FLEETDECK_PROJECT", "")
	t.Setenv("FLEETDECK_DB", "")

	dir := t.TempDir()
	path := filepath.Join(dir, "fleetdeck.yaml")
	content := "project: shop\n" +
		"database:\n  path: " + filepath.Join(dir, "fleetdeck.db") + "\n" +
		"logging:\n  level: error\n  output: " + filepath.Join(dir, "fleetdeck.log") + "\n" +
		"metrics:\n  enabled: false\n" +
		strings.Join(extra, "")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return &cli{t: t, config: path}
}

func (c *cli) run(args ...string) (string, error) {
	c.t.Helper()
	cmd := newRootCommand("test", "none", "now")
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(io.Discard)
	cmd.SetArgs(append([]string{"--config", c.config}, args...))
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func (c *cli) mustRun(args ...string) string {
	c.t.Helper()
	out, err := c.run(args...)
	require.NoError(c.t, err, "fleetdeck %v", args)
	return out
}

func TestCurationCommands(t *testing.T) {
	c := newCLI(t)

	c.mustRun("host", "add", "bastion", "--address", "10.0.0.5", "--connection", "ssh", "--connectable")
	c.mustRun("host", "add-service", "bastion", "redis", "--port", "6379")
	c.mustRun("instance", "add", "web", "--host", "bastion", "--path", "/srv/web", "--group", "prod")
	c.mustRun("group", "add", "staging")

	var hosts []inventory.Host
	require.NoError(t, json.Unmarshal([]byte(c.mustRun("--json", "inventory", "hosts")), &hosts))
	require.Len(t, hosts, 1)
	assert.Equal(t, inventory.SourceManual, hosts[0].Source)
	require.Len(t, hosts[0].Services, 1)
	assert.Equal(t, 6379, hosts[0].Services[0].Port)

	var groups []inventory.Group
	require.NoError(t, json.Unmarshal([]byte(c.mustRun("--json", "inventory", "groups")), &groups))
	require.Len(t, groups, 2)
	assert.Equal(t, "prod", groups[0].Name)
	assert.Equal(t, []string{"web"}, groups[0].Instances)
	assert.Equal(t, "staging", groups[1].Name)

	out := c.mustRun("inventory", "instances")
	assert.Contains(t, out, "web")
	assert.Contains(t, out, "/srv/web")

	_, err := c.run("host", "add", "bastion")
	assert.True(t, engine.IsConflict(err), "got %v", err)

	_, err = c.run("instance", "add", "api", "--host", "missing")
	assert.True(t, engine.IsValidation(err), "got %v", err)
}

func TestStateProviderLifecycle(t *testing.T) {
	c := newCLI(t)

	c.mustRun("group", "add", "prod")
	c.mustRun("provider", "add-state", "legacy", "--group", "prod", "--path", stateFixture)

	out := c.mustRun("provider", "list")
	assert.Contains(t, out, "legacy")
	assert.Contains(t, out, "never")

	var preview engine.DiscoveryPreview
	require.NoError(t, json.Unmarshal([]byte(c.mustRun("--json", "discover", "legacy")), &preview))
	assert.Equal(t, provider.KindStateBackend, preview.Kind)
	require.NotNil(t, preview.State)
	assert.NotEmpty(t, preview.State.Resources)

	var hosts []inventory.Host
	require.NoError(t, json.Unmarshal([]byte(c.mustRun("--json", "inventory", "hosts")), &hosts))
	assert.Empty(t, hosts, "discover must not write state")

	var reports []engine.SyncReport
	require.NoError(t, json.Unmarshal([]byte(c.mustRun("--json", "sync", "legacy")), &reports))
	require.Len(t, reports, 1)
	assert.Equal(t, "legacy", reports[0].Provider)
	require.NotNil(t, reports[0].Report)
	assert.Positive(t, reports[0].Hosts.Created)
	assert.NotEmpty(t, reports[0].NeedsAssignment)

	c.mustRun("provider", "assign", "legacy", reports[0].NeedsAssignment[0].ResourceID, "cache")

	var p provider.Provider
	require.NoError(t, json.Unmarshal([]byte(c.mustRun("--json", "provider", "show", "legacy")), &p))
	require.Len(t, p.ResourceMappings, 1)
	assert.Equal(t, "cache", p.ResourceMappings[0].Group)
	assert.NotNil(t, p.LastSync)

	out = c.mustRun("provider", "history", "legacy")
	assert.Contains(t, out, "completed")

	c.mustRun("provider", "remove", "legacy")
	_, err := c.run("sync", "legacy")
	assert.True(t, engine.IsValidation(err), "got %v", err)
}

func TestProviderImport(t *testing.T) {
	c := newCLI(t)

	file := filepath.Join(t.TempDir(), "providers.yaml")
	require.NoError(t, os.WriteFile(file, []byte(`
providers:
  - name: prod-k8s
    group: prod
    config:
      kind: cluster
      cluster:
        context: prod
  - name: legacy
    group: legacy
    config:
      kind: state-backend
      state_backend:
        backend: local
        path: ./terraform.tfstate
`), 0o600))

	c.mustRun("provider", "import", "-f", file)

	var providers []provider.Provider
	require.NoError(t, json.Unmarshal([]byte(c.mustRun("--json", "provider", "list")), &providers))
	require.Len(t, providers, 2)
	assert.Equal(t, "legacy", providers[0].Name)
	assert.Equal(t, "prod-k8s", providers[1].Name)
	assert.Equal(t, "shop", providers[1].Project)

	_, err := c.run("provider", "import", "-f", file)
	assert.ErrorIs(t, err, provider.ErrExists)
}

func TestCommandValidation(t *testing.T) {
	c := newCLI(t)

	_, err := c.run("sync")
	assert.True(t, engine.IsValidation(err), "got %v", err)

	_, err = c.run("provider", "add-cluster", "bad/name", "--group", "prod", "--context", "prod")
	assert.Error(t, err)

	_, err = c.run("provider", "add-state", "legacy", "--group", "prod")
	assert.Error(t, err, "a state location is required")

	_, err = c.run("--project", "a/b", "inventory", "hosts")
	assert.Error(t, err)
}

func TestSyncDeniedByPolicyFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "no-state.rego"), []byte(`package fleetdeck.policies.no_state

import rego.v1

deny contains "state backends are read-only here" if {
	input.provider.kind == "state-backend"
	input.changes.hosts.created > 0
}`), 0o600))

	c := newCLI(t, "policy:\n  enabled: true\n  paths: ["+dir+"]\n  disabled: [mass-prune]\n")
	c.mustRun("provider", "add-state", "legacy", "--group", "prod", "--path", stateFixture)

	_, err := c.run("sync", "legacy")
	require.Error(t, err)
	assert.True(t, engine.IsValidation(err), "got %v", err)
	assert.Contains(t, err.Error(), "state backends are read-only here")

	var hosts []inventory.Host
	require.NoError(t, json.Unmarshal([]byte(c.mustRun("--json", "inventory", "hosts")), &hosts))
	assert.Empty(t, hosts)

	out := c.mustRun("provider", "history", "legacy")
	assert.Contains(t, out, "failed")
}

func TestOpenFailureFlushesTelemetry(t *testing.T) {
	t.Setenv("FLEETDECK_PROJECT", "")
	t.Setenv("FLEETDECK_DB", "")

	dir := t.TempDir()
	blocker := filepath.Join(dir, "not-a-dir")
	require.NoError(t, os.WriteFile(blocker, nil, 0o600))
	textfile := filepath.Join(dir, "fleetdeck.prom")

	path := filepath.Join(dir, "fleetdeck.yaml")
	content := "project: shop\n" +
		"database:\n  path: " + filepath.Join(blocker, "fleetdeck.db") + "\n" +
		"logging:\n  level: error\n  output: " + filepath.Join(dir, "fleetdeck.log") + "\n" +
		"metrics:\n  enabled: true\n  textfile: " + textfile + "\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	_, err := (&cli{t: t, config: path}).run("inventory", "hosts")
	require.Error(t, err)
	assert.FileExists(t, textfile, "telemetry is shut down when the store cannot be opened")
}

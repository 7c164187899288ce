package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fleetdeck/fleetdeck/pkg/runner"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "default", cfg.Project)
	assert.Equal(t, "fleetdeck.db", cfg.Database.Path)
	assert.Equal(t, runner.DefaultTimeout, cfg.Exec.Timeout)
	assert.Equal(t, "kubectl", cfg.Cluster.Driver)
}

func TestLoadWithoutFileReturnsDefaults(t *testing.T) {
	t.Setenv(EnvProject, "")
	t.Setenv(EnvDatabase, "")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoadOverridesDefaults(t *testing.T) {
	t.Setenv(EnvProject, "")
	t.Setenv(EnvDatabase, "")

	path := writeFile(t, "fleetdeck.yaml", `
project: payments
database:
  path: /var/lib/fleetdeck/state.db
exec:
  timeout: 15s
cluster:
  driver: client-go
logging:
  level: debug
  format: json
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "payments", cfg.Project)
	assert.Equal(t, "/var/lib/fleetdeck/state.db", cfg.Database.Path)
	assert.Equal(t, 15*time.Second, cfg.Exec.Timeout)
	assert.Equal(t, runner.DefaultMaxOutput, cfg.Exec.MaxOutput)
	assert.Equal(t, "kubectl", cfg.Exec.Kubectl)
	assert.Equal(t, "client-go", cfg.Cluster.Driver)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Format)
	assert.Equal(t, "stderr", cfg.Logging.Output)
}

func TestLoadEnvironmentWins(t *testing.T) {
	t.Setenv(EnvProject, "from-env")
	t.Setenv(EnvDatabase, ":memory:")

	path := writeFile(t, "fleetdeck.yaml", "project: from-file\n")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "from-env", cfg.Project)
	assert.Equal(t, ":memory:", cfg.Database.Path)
}

func TestLoadRejectsInvalidConfig(t *testing.T) {
	t.Setenv(EnvProject, "")
	t.Setenv(EnvDatabase, "")

	tests := []struct {
		name    string
		content string
		want    string
	}{
		{
			name:    "unknown driver",
			content: "cluster:\n  driver: grpc\n",
			want:    "appconfig.cluster.driver failed oneof validation",
		},
		{
			name:    "project with slash",
			content: "project: a/b\n",
			want:    "appconfig.project failed excludesall validation",
		},
		{
			name:    "zero timeout",
			content: "exec:\n  timeout: 0s\n",
			want:    "appconfig.exec.timeout failed gt validation",
		},
		{
			name:    "bad log format",
			content: "logging:\n  format: xml\n",
			want:    "appconfig.logging.format failed oneof validation",
		},
		{
			name:    "otlp without endpoint",
			content: "tracing:\n  enabled: true\n  exporter: otlp\n",
			want:    "otlp exporter requires an endpoint",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeFile(t, "fleetdeck.yaml", tt.content))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestTelemetryMapping(t *testing.T) {
	cfg := Default()
	cfg.Logging.Level = "warn"
	cfg.Metrics.Textfile = "/tmp/fleetdeck.prom"
	cfg.Tracing.Enabled = true
	cfg.Tracing.Exporter = "stdout"

	tel := cfg.Telemetry("1.2.3")
	assert.Equal(t, "fleetdeck", tel.ServiceName)
	assert.Equal(t, "1.2.3", tel.ServiceVersion)
	assert.Equal(t, "warn", tel.Logging.Level)
	assert.Equal(t, "/tmp/fleetdeck.prom", tel.Metrics.Textfile)
	assert.True(t, tel.Tracing.Enabled)
	assert.Equal(t, "stdout", tel.Tracing.Exporter)

	assert.Equal(t, "dev", cfg.Telemetry("").ServiceVersion)
}

func TestLoadPolicyConfig(t *testing.T) {
	t.Setenv(EnvProject, "")
	t.Setenv(EnvDatabase, "")

	assert.True(t, Default().Policy.Enabled)

	cfg, err := Load(writeFile(t, "fleetdeck.yaml", `
policy:
  enabled: true
  paths: [./policies]
  disabled: [mass-prune]
`))
	require.NoError(t, err)
	assert.Equal(t, []string{"./policies"}, cfg.Policy.Paths)
	assert.Equal(t, []string{"mass-prune"}, cfg.Policy.Disabled)

	_, err = Load(writeFile(t, "fleetdeck.yaml", "policy:\n  paths: ['']\n"))
	assert.Error(t, err)
}

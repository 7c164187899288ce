package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fleetdeck/fleetdeck/pkg/provider"
)

func TestSchemaRegistryBuiltins(t *testing.T) {
	sr := NewSchemaRegistry()
	assert.Equal(t, []string{"provider", "providers"}, sr.ListSchemas())

	for _, name := range sr.ListSchemas() {
		schema, ok := sr.GetSchema(name)
		require.True(t, ok)
		assert.NoError(t, schema.Err())
	}
}

func TestSchemaRegistryRegisterCustom(t *testing.T) {
	sr := NewSchemaRegistry()

	require.NoError(t, sr.RegisterSchema("label", `#Label: {key: string & !="", value: string}`, "#Label"))
	ctx := context.Background()

	assert.NoError(t, sr.ValidateAgainstSchema(ctx, "label", map[string]interface{}{"key": "env", "value": "prod"}))
	assert.ErrorIs(t, sr.ValidateAgainstSchema(ctx, "label", map[string]interface{}{"key": "", "value": "prod"}), ErrSchema)

	err := sr.RegisterSchema("broken", `#Broken: {`, "")
	assert.Error(t, err)

	err = sr.RegisterSchema("missing", `#Label: {key: string}`, "#Other")
	assert.Error(t, err)

	err = sr.ValidateAgainstSchema(ctx, "unknown", map[string]interface{}{})
	assert.ErrorContains(t, err, "schema unknown not found")
}

func TestValidateProvider(t *testing.T) {
	sr := NewSchemaRegistry()
	ctx := context.Background()

	tests := []struct {
		name    string
		spec    provider.Spec
		wantErr bool
	}{
		{
			name: "cluster",
			spec: provider.Spec{
				Name:  "prod-k8s",
				Group: "prod",
				Config: provider.ClusterVariant(provider.ClusterConfig{
					Context:           "prod",
					PrivateRegistries: []string{"registry.example.com/"},
				}),
			},
		},
		{
			name: "local state",
			spec: provider.Spec{
				Name:   "legacy",
				Group:  "legacy",
				Config: provider.StateBackendVariant(provider.StateBackendConfig{Backend: "local", Path: "terraform.tfstate"}),
			},
		},
		{
			name: "s3 state",
			spec: provider.Spec{
				Name:  "legacy",
				Group: "legacy",
				Config: provider.StateBackendVariant(provider.StateBackendConfig{
					Backend: "s3", Bucket: "tf", Key: "legacy.tfstate", Region: "eu-west-1",
				}),
			},
		},
		{
			name: "s3 state without bucket",
			spec: provider.Spec{
				Name:   "legacy",
				Group:  "legacy",
				Config: provider.StateBackendVariant(provider.StateBackendConfig{Backend: "s3", Key: "k", Region: "r"}),
			},
			wantErr: true,
		},
		{
			name: "unknown backend",
			spec: provider.Spec{
				Name:   "legacy",
				Group:  "legacy",
				Config: provider.StateBackendVariant(provider.StateBackendConfig{Backend: "gcs", Path: "x"}),
			},
			wantErr: true,
		},
		{
			name: "cluster without context",
			spec: provider.Spec{
				Name:   "prod-k8s",
				Group:  "prod",
				Config: provider.ClusterVariant(provider.ClusterConfig{}),
			},
			wantErr: true,
		},
		{
			name: "name with slash",
			spec: provider.Spec{
				Name:   "prod/k8s",
				Group:  "prod",
				Config: provider.ClusterVariant(provider.ClusterConfig{Context: "prod"}),
			},
			wantErr: true,
		},
		{
			name: "missing group",
			spec: provider.Spec{
				Name:   "prod-k8s",
				Config: provider.ClusterVariant(provider.ClusterConfig{Context: "prod"}),
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := sr.ValidateProvider(ctx, tt.spec)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrSchema)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestLoadProviderFile(t *testing.T) {
	sr := NewSchemaRegistry()
	path := filepath.Join(t.TempDir(), "providers.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
providers:
  - name: prod-k8s
    group: prod
    auto_sync: true
    config:
      kind: cluster
      cluster:
        context: prod
        private_registries:
          - registry.example.com/
  - name: legacy
    group: legacy
    config:
      kind: state-backend
      state_backend:
        backend: local
        path: ./terraform.tfstate
`), 0o600))

	specs, err := sr.LoadProviderFile(context.Background(), path)
	require.NoError(t, err)
	require.Len(t, specs, 2)

	assert.Equal(t, "prod-k8s", specs[0].Name)
	assert.True(t, specs[0].AutoSync)
	assert.Equal(t, provider.KindCluster, specs[0].Config.Kind)
	require.NotNil(t, specs[0].Config.Cluster)
	assert.Equal(t, []string{"registry.example.com/"}, specs[0].Config.Cluster.PrivateRegistries)

	assert.Equal(t, provider.KindStateBackend, specs[1].Config.Kind)
	require.NotNil(t, specs[1].Config.StateBackend)
	assert.Equal(t, "./terraform.tfstate", specs[1].Config.StateBackend.Path)
}

func TestParseProvidersErrors(t *testing.T) {
	sr := NewSchemaRegistry()
	ctx := context.Background()

	t.Run("schema violation carries a path", func(t *testing.T) {
		_, err := sr.ParseProviders(ctx, []byte(`
providers:
  - name: prod-k8s
    group: ""
    config:
      kind: cluster
      cluster:
        context: prod
`))
		require.Error(t, err)

		var schemaErr *SchemaError
		require.ErrorAs(t, err, &schemaErr)
		assert.Equal(t, "providers", schemaErr.Schema)
		assert.NotEmpty(t, schemaErr.Errors)
	})

	t.Run("duplicate names", func(t *testing.T) {
		_, err := sr.ParseProviders(ctx, []byte(`
providers:
  - name: a
    group: g
    config: {kind: cluster, cluster: {context: c}}
  - name: a
    group: h
    config: {kind: cluster, cluster: {context: c}}
`))
		assert.ErrorIs(t, err, ErrSchema)
		assert.ErrorContains(t, err, `duplicate provider name "a"`)
	})

	t.Run("cluster namespace is the group", func(t *testing.T) {
		_, err := sr.ParseProviders(ctx, []byte(`
providers:
  - name: prod-k8s
    group: prod
    config: {kind: cluster, cluster: {context: prod, namespace: apps}}
`))
		assert.ErrorIs(t, err, ErrSchema)
	})

	t.Run("not yaml", func(t *testing.T) {
		_, err := sr.ParseProviders(ctx, []byte("providers: [\n"))
		assert.ErrorContains(t, err, "failed to parse provider file")
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := sr.LoadProviderFile(ctx, filepath.Join(t.TempDir(), "none.yaml"))
		assert.ErrorIs(t, err, os.ErrNotExist)
	})
}

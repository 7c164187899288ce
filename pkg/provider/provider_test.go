package provider

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fleetdeck/fleetdeck/pkg/stores"
)

func newTestRegistry(t *testing.T) (*Registry, stores.Store) {
	t.Helper()

	store, err := stores.NewSQLiteStore(stores.Config{Path: ":memory:"})
	require.NoError(t, err)
	ctx := context.Background()
	require.NoError(t, store.Init(ctx))
	require.NoError(t, store.Migrate(ctx))
	t.Cleanup(func() { _ = store.Close() })

	return NewRegistry(store), store
}

func clusterProvider(name string) *Provider {
	return &Provider{
		Name:    name,
		Project: "demo",
		Group:   "prod",
		Config: ClusterVariant(ClusterConfig{
			Context:           "kind-demo",
			PrivateRegistries: []string{"registry.internal/"},
		}),
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr string
	}{
		{name: "cluster", cfg: ClusterVariant(ClusterConfig{Context: "kind"})},
		{name: "cluster without context", cfg: ClusterVariant(ClusterConfig{}), wantErr: "context is required"},
		{name: "local", cfg: StateBackendVariant(StateBackendConfig{Backend: BackendLocal, Path: "tf.tfstate"})},
		{name: "local without path", cfg: StateBackendVariant(StateBackendConfig{Backend: BackendLocal}), wantErr: "path is required"},
		{
			name: "s3",
			cfg:  StateBackendVariant(StateBackendConfig{Backend: BackendS3, Bucket: "b", Key: "k", Region: "eu-west-1"}),
		},
		{
			name:    "s3 without region",
			cfg:     StateBackendVariant(StateBackendConfig{Backend: BackendS3, Bucket: "b", Key: "k"}),
			wantErr: "region is required",
		},
		{name: "unknown backend", cfg: StateBackendVariant(StateBackendConfig{Backend: "gcs"}), wantErr: "backend must be one of"},
		{name: "missing kind", cfg: Config{}, wantErr: "kind is required"},
		{name: "kind without variant", cfg: Config{Kind: KindCluster}, wantErr: "requires cluster config"},
		{
			name: "both variants",
			cfg: Config{
				Kind:         KindStateBackend,
				Cluster:      &ClusterConfig{Context: "x"},
				StateBackend: &StateBackendConfig{Backend: BackendLocal, Path: "p"},
			},
			wantErr: "must not carry cluster config",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrInvalid))
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestStateBackendLocation(t *testing.T) {
	assert.Equal(t, "s3://tf/prod.tfstate", StateBackendConfig{Backend: BackendS3, Bucket: "tf", Key: "prod.tfstate"}.Location())
	assert.Equal(t, "/srv/tf.tfstate", StateBackendConfig{Backend: BackendLocal, Path: "/srv/tf.tfstate"}.Location())
}

func TestProviderNamespaceIsGroup(t *testing.T) {
	p := clusterProvider("k8s")
	assert.Equal(t, "prod", p.Namespace())

	p.Group = "staging"
	assert.Equal(t, "staging", p.Namespace())
}

func TestRegistryAddGetList(t *testing.T) {
	reg, _ := newTestRegistry(t)
	ctx := context.Background()

	require.NoError(t, reg.Add(ctx, clusterProvider("k8s")))
	require.NoError(t, reg.Add(ctx, &Provider{
		Name:    "tf",
		Project: "demo",
		Group:   "staging",
		Config:  StateBackendVariant(StateBackendConfig{Backend: BackendLocal, Path: "tf.tfstate"}),
	}))

	err := reg.Add(ctx, clusterProvider("k8s"))
	assert.True(t, errors.Is(err, ErrExists))

	got, err := reg.Get(ctx, "demo", "k8s")
	require.NoError(t, err)
	assert.Equal(t, KindCluster, got.Config.Kind)
	assert.Equal(t, []string{"registry.internal/"}, got.Config.Cluster.PrivateRegistries)
	assert.False(t, got.CreatedAt.IsZero())

	list, err := reg.List(ctx, "demo")
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "k8s", list[0].Name)
	assert.Equal(t, "tf", list[1].Name)

	_, err = reg.Get(ctx, "other", "k8s")
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestRegistryAddRejectsInvalid(t *testing.T) {
	reg, _ := newTestRegistry(t)

	p := clusterProvider("k8s")
	p.Group = ""
	err := reg.Add(context.Background(), p)
	assert.True(t, errors.Is(err, ErrInvalid))

	p = clusterProvider("bad/name")
	assert.True(t, errors.Is(reg.Add(context.Background(), p), ErrInvalid))
}

func TestRegistryResourceMappingLastWins(t *testing.T) {
	reg, _ := newTestRegistry(t)
	ctx := context.Background()
	require.NoError(t, reg.Add(ctx, clusterProvider("k8s")))

	_, err := reg.AddResourceMapping(ctx, "demo", "k8s", "aws_db_instance.main", "staging")
	require.NoError(t, err)
	p, err := reg.AddResourceMapping(ctx, "demo", "k8s", "aws_db_instance.main", "prod")
	require.NoError(t, err)

	require.Len(t, p.ResourceMappings, 1)
	group, ok := p.Mapping("aws_db_instance.main")
	assert.True(t, ok)
	assert.Equal(t, "prod", group)

	_, err = reg.AddResourceMapping(ctx, "demo", "missing", "x", "prod")
	assert.True(t, errors.Is(err, ErrNotFound))
	_, err = reg.AddResourceMapping(ctx, "demo", "k8s", "", "prod")
	assert.True(t, errors.Is(err, ErrInvalid))
}

func TestRegistrySetGroupAndRemove(t *testing.T) {
	reg, _ := newTestRegistry(t)
	ctx := context.Background()
	require.NoError(t, reg.Add(ctx, clusterProvider("k8s")))

	p, err := reg.SetGroup(ctx, "demo", "k8s", "staging")
	require.NoError(t, err)
	assert.Equal(t, "staging", p.Group)

	_, err = reg.SetGroup(ctx, "demo", "k8s", "")
	assert.True(t, errors.Is(err, ErrInvalid))

	require.NoError(t, reg.Remove(ctx, "demo", "k8s"))
	assert.True(t, errors.Is(reg.Remove(ctx, "demo", "k8s"), ErrNotFound))
}

func TestRegistryLastSync(t *testing.T) {
	reg, store := newTestRegistry(t)
	ctx := context.Background()
	require.NoError(t, reg.Add(ctx, clusterProvider("k8s")))

	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	p, err := reg.UpdateLastSync(ctx, "demo", "k8s", at)
	require.NoError(t, err)
	require.NotNil(t, p.LastSync)
	assert.True(t, p.LastSync.Equal(at))

	later := at.Add(time.Hour)
	batch := stores.NewBatch()
	require.NoError(t, reg.StageLastSync(batch, p, later))
	require.NoError(t, store.Apply(ctx, batch))

	got, err := reg.Get(ctx, "demo", "k8s")
	require.NoError(t, err)
	assert.True(t, got.LastSync.Equal(later))
}

// Package provider defines sync bindings to external infrastructure sources
// and the registry that persists them.
package provider

import (
	"fmt"
	"time"

	"github.com/fleetdeck/fleetdeck/pkg/inventory"
)

// Kind discriminates the connection config variant.
type Kind string

const (
	KindCluster      Kind = "cluster"
	KindStateBackend Kind = "state-backend"
)

// Backend kinds of a state-backend provider.
const (
	BackendLocal = "local"
	BackendS3    = "s3"
)

// ClusterConfig connects to a Kubernetes cluster.
type ClusterConfig struct {
	// Context is the kubeconfig context to use.
	Context string `json:"context" yaml:"context" validate:"required"`
	// Kubeconfig is an optional credentials path.
	Kubeconfig string `json:"kubeconfig,omitempty" yaml:"kubeconfig,omitempty"`
	// PrivateRegistries are image prefixes whose workloads are Instances.
	PrivateRegistries []string `json:"private_registries,omitempty" yaml:"private_registries,omitempty" validate:"dive,required"`
}

// StateBackendConfig locates a Terraform state document.
type StateBackendConfig struct {
	Backend string `json:"backend" yaml:"backend" validate:"required,oneof=local s3"`
	Path    string `json:"path,omitempty" yaml:"path,omitempty" validate:"required_if=Backend local"`
	Bucket  string `json:"bucket,omitempty" yaml:"bucket,omitempty" validate:"required_if=Backend s3"`
	Key     string `json:"key,omitempty" yaml:"key,omitempty" validate:"required_if=Backend s3"`
	Region  string `json:"region,omitempty" yaml:"region,omitempty" validate:"required_if=Backend s3"`
	Profile string `json:"profile,omitempty" yaml:"profile,omitempty"`
}

// Location renders the backend location, used as the synthetic host address.
func (c StateBackendConfig) Location() string {
	if c.Backend == BackendS3 {
		return fmt.Sprintf("s3://%s/%s", c.Bucket, c.Key)
	}
	return c.Path
}

// Config is the connection config of a provider. Exactly one variant is
// set and it must match Kind.
type Config struct {
	Kind         Kind                `json:"kind" yaml:"kind" validate:"required,oneof=cluster state-backend"`
	Cluster      *ClusterConfig      `json:"cluster,omitempty" yaml:"cluster,omitempty"`
	StateBackend *StateBackendConfig `json:"state_backend,omitempty" yaml:"state_backend,omitempty"`
}

// ClusterVariant builds a cluster config.
func ClusterVariant(c ClusterConfig) Config {
	return Config{Kind: KindCluster, Cluster: &c}
}

// StateBackendVariant builds a state-backend config.
func StateBackendVariant(c StateBackendConfig) Config {
	return Config{Kind: KindStateBackend, StateBackend: &c}
}

// ResourceMapping remembers the group of a state-backend resource.
type ResourceMapping struct {
	ResourceID string    `json:"resource_id" yaml:"resource_id" validate:"required"`
	Group      string    `json:"group" yaml:"group" validate:"required"`
	AssignedAt time.Time `json:"assigned_at" yaml:"assigned_at"`
}

// Provider is a sync binding owning exactly one group.
type Provider struct {
	Name             string            `json:"name" validate:"required,max=128,excludesall=/"`
	Project          string            `json:"project" validate:"required"`
	Config           Config            `json:"config"`
	Group            string            `json:"group" validate:"required"`
	ResourceMappings []ResourceMapping `json:"resource_mappings,omitempty" validate:"dive"`
	LastSync         *time.Time        `json:"last_sync,omitempty"`
	AutoSync         bool              `json:"auto_sync"`
	CreatedAt        time.Time         `json:"created_at"`
	UpdatedAt        time.Time         `json:"updated_at"`
}

// Source returns the ownership tag of entities created by this provider.
func (p *Provider) Source() inventory.Source {
	return inventory.ProviderSource(p.Name)
}

// Mapping returns the remembered group of a resource.
func (p *Provider) Mapping(resourceID string) (string, bool) {
	for _, m := range p.ResourceMappings {
		if m.ResourceID == resourceID {
			return m.Group, true
		}
	}
	return "", false
}

// Namespace returns the cluster namespace a cluster provider syncs. The
// namespace is the group.
func (p *Provider) Namespace() string {
	return p.Group
}

// Spec is the operator-facing definition of a provider, as found in
// provider files.
type Spec struct {
	Name     string `json:"name" yaml:"name"`
	Group    string `json:"group" yaml:"group"`
	AutoSync bool   `json:"auto_sync,omitempty" yaml:"auto_sync,omitempty"`
	Config   Config `json:"config" yaml:"config"`
}

// Provider builds a provider record for a project from the spec.
func (s Spec) Provider(project string) *Provider {
	return &Provider{
		Name:     s.Name,
		Project:  project,
		Config:   s.Config,
		Group:    s.Group,
		AutoSync: s.AutoSync,
	}
}

// Package inventory holds the entity model tracked by fleetdeck (Hosts,
// Instances, Services and Groups) and persists a project's snapshot through
// the record store.
package inventory

import (
	"strings"
)

// Source is the ownership tag of an entity: "manual" or "provider:<name>".
type Source string

// SourceManual marks entities created by the operator.
const SourceManual Source = "manual"

const providerSourcePrefix = "provider:"

// ProviderSource returns the ownership tag of the named provider.
func ProviderSource(name string) Source {
	return Source(providerSourcePrefix + name)
}

// IsManual reports whether the entity was created by the operator. An empty
// source is treated as manual.
func (s Source) IsManual() bool {
	return s == SourceManual || s == ""
}

// Provider returns the provider name of a provider-owned source.
func (s Source) Provider() (string, bool) {
	if !strings.HasPrefix(string(s), providerSourcePrefix) {
		return "", false
	}
	return strings.TrimPrefix(string(s), providerSourcePrefix), true
}

// ConnectionType tags how a Host is reached.
type ConnectionType string

const (
	ConnectionSSH          ConnectionType = "ssh"
	ConnectionCluster      ConnectionType = "cluster"
	ConnectionStateBackend ConnectionType = "state-backend"
)

// Host is a machine or cluster node.
type Host struct {
	Name           string         `json:"name" yaml:"name" validate:"required"`
	Address        string         `json:"address" yaml:"address"`
	ConnectionType ConnectionType `json:"connection_type,omitempty" yaml:"connection_type,omitempty" validate:"omitempty,oneof=ssh cluster state-backend"`
	Source         Source         `json:"source" yaml:"source"`
	Connectable    bool           `json:"connectable" yaml:"connectable"`
	Services       []Service      `json:"services,omitempty" yaml:"services,omitempty" validate:"dive"`
}

// Service returns the named service attached to the host.
func (h *Host) Service(name string) *Service {
	for i := range h.Services {
		if h.Services[i].Name == name {
			return &h.Services[i]
		}
	}
	return nil
}

// Instance is a deployed copy of the operator's own application.
type Instance struct {
	Name       string            `json:"name" yaml:"name" validate:"required"`
	Path       string            `json:"path" yaml:"path"`
	Host       string            `json:"host,omitempty" yaml:"host,omitempty"`
	Repository string            `json:"repository,omitempty" yaml:"repository,omitempty"`
	Branch     string            `json:"branch,omitempty" yaml:"branch,omitempty"`
	Source     Source            `json:"source" yaml:"source"`
	Metadata   map[string]string `json:"metadata,omitempty" yaml:"metadata,omitempty"`
}

// Service is a supporting process attached to exactly one Host.
type Service struct {
	Name     string            `json:"name" yaml:"name" validate:"required"`
	Process  string            `json:"process" yaml:"process"`
	Endpoint string            `json:"endpoint,omitempty" yaml:"endpoint,omitempty"`
	Port     int               `json:"port,omitempty" yaml:"port,omitempty" validate:"gte=0,lte=65535"`
	Source   Source            `json:"source" yaml:"source"`
	Metadata map[string]string `json:"metadata,omitempty" yaml:"metadata,omitempty"`
}

// ServiceRef points at a Service on a Host.
type ServiceRef struct {
	Host    string `json:"host" yaml:"host"`
	Service string `json:"service" yaml:"service"`
}

// Group is a named collection of Instances and Service references.
type Group struct {
	Name      string       `json:"name" yaml:"name" validate:"required"`
	Instances []string     `json:"instances" yaml:"instances"`
	Services  []ServiceRef `json:"services" yaml:"services"`
}

// HasInstance reports whether the group lists the instance.
func (g *Group) HasInstance(name string) bool {
	for _, n := range g.Instances {
		if n == name {
			return true
		}
	}
	return false
}

// HasService reports whether the group holds the reference.
func (g *Group) HasService(ref ServiceRef) bool {
	for _, r := range g.Services {
		if r == ref {
			return true
		}
	}
	return false
}

// AddInstances appends names not already present, keeping order.
func (g *Group) AddInstances(names ...string) int {
	added := 0
	for _, n := range names {
		if n == "" || g.HasInstance(n) {
			continue
		}
		g.Instances = append(g.Instances, n)
		added++
	}
	return added
}

// AddServices appends references not already present, keeping order.
func (g *Group) AddServices(refs ...ServiceRef) int {
	added := 0
	for _, r := range refs {
		if g.HasService(r) {
			continue
		}
		g.Services = append(g.Services, r)
		added++
	}
	return added
}

// State is the persisted snapshot of one project.
type State struct {
	Hosts     []Host     `json:"hosts"`
	Instances []Instance `json:"instances"`
	Groups    []Group    `json:"groups"`
}

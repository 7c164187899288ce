// Package discovery holds the result shared by the cluster and state-backend
// adapters: the entity set one provider produced in one sync.
package discovery

import (
	"errors"

	"github.com/fleetdeck/fleetdeck/pkg/inventory"
)

// ErrDecode wraps failures to decode what a backend returned.
var ErrDecode = errors.New("failed to decode backend output")

// HostService is a discovered Service together with the Host it attaches to.
type HostService struct {
	Host    string            `json:"host"`
	Service inventory.Service `json:"service"`
}

// Ref returns the group reference of the service.
func (hs HostService) Ref() inventory.ServiceRef {
	return inventory.ServiceRef{Host: hs.Host, Service: hs.Service.Name}
}

// Unassigned is a state-backend resource that could not be placed in a group.
type Unassigned struct {
	ResourceID string `json:"resource_id"`
	Type       string `json:"type"`
	Name       string `json:"name"`
}

// Result is the entity set produced by one discovery run for one provider.
type Result struct {
	Provider  string               `json:"provider"`
	Group     string               `json:"group"`
	Hosts     []inventory.Host     `json:"hosts"`
	Instances []inventory.Instance `json:"instances"`
	Services  []HostService        `json:"services"`

	// NeedsAssignment lists resources excluded until a mapping exists.
	NeedsAssignment []Unassigned `json:"needs_assignment,omitempty"`
	// Warnings are non-fatal problems, such as a pod without a node.
	Warnings []string `json:"warnings,omitempty"`
}

// NewResult returns an empty result for a provider and group.
func NewResult(providerName, group string) *Result {
	return &Result{
		Provider:  providerName,
		Group:     group,
		Hosts:     []inventory.Host{},
		Instances: []inventory.Instance{},
		Services:  []HostService{},
	}
}

// AddHost appends a host unless one with the same name was already added.
func (r *Result) AddHost(h inventory.Host) bool {
	for _, existing := range r.Hosts {
		if existing.Name == h.Name {
			return false
		}
	}
	r.Hosts = append(r.Hosts, h)
	return true
}

// AddInstance appends an instance unless the name was already added.
func (r *Result) AddInstance(inst inventory.Instance) bool {
	for _, existing := range r.Instances {
		if existing.Name == inst.Name {
			return false
		}
	}
	r.Instances = append(r.Instances, inst)
	return true
}

// AddService appends a service unless the host already has one of that name
// in this result.
func (r *Result) AddService(host string, svc inventory.Service) bool {
	for _, existing := range r.Services {
		if existing.Host == host && existing.Service.Name == svc.Name {
			return false
		}
	}
	r.Services = append(r.Services, HostService{Host: host, Service: svc})
	return true
}

// Warn records a non-fatal problem.
func (r *Result) Warn(msg string) {
	r.Warnings = append(r.Warnings, msg)
}

// Counts summarizes the result by role.
func (r *Result) Counts() map[string]int {
	return map[string]int{
		"host":             len(r.Hosts),
		"instance":         len(r.Instances),
		"service":          len(r.Services),
		"needs_assignment": len(r.NeedsAssignment),
	}
}

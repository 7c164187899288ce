// Package reconcile merges a provider's discovered entity set into project
// state without touching entities owned by anyone else.
//
// Instances owned by the provider are pruned and replaced on every sync.
// Services discovered on cluster nodes are only ever added; once attached
// they stay even if the workload disappears upstream. The synthetic Host of
// a state-backend provider is wholly owned by it, so its provider-owned
// Services are replaced like Instances. Retained entries keep their position,
// which makes a repeated reconcile with the same input a no-op.
package reconcile

import (
	"errors"
	"fmt"
	"reflect"

	"github.com/fleetdeck/fleetdeck/pkg/discovery"
	"github.com/fleetdeck/fleetdeck/pkg/inventory"
	"github.com/fleetdeck/fleetdeck/pkg/provider"
)

// ErrMismatch is returned when a result was produced for another provider
// or group.
var ErrMismatch = errors.New("discovery result does not match provider")

type reconciler struct {
	prev   *inventory.State
	out    *inventory.State
	p      *provider.Provider
	source inventory.Source
	result *discovery.Result
	report *Report

	discoveredInstances map[string]inventory.Instance
	discoveredRefs      map[inventory.ServiceRef]bool
	// replaceHosts are hosts whose provider-owned services are replaced.
	replaceHosts map[string]bool
	placed       []string
}

// Reconcile returns a new state with result merged in. The input state is
// not modified. The caller commits the returned state.
func Reconcile(state *inventory.State, p *provider.Provider, result *discovery.Result) (*inventory.State, *Report, error) {
	if state == nil || p == nil || result == nil {
		return nil, nil, errors.New("reconcile: state, provider and result are required")
	}
	if p.Group == "" {
		return nil, nil, fmt.Errorf("%w: provider %s has no group", provider.ErrInvalid, p.Name)
	}
	if result.Provider != "" && result.Provider != p.Name {
		return nil, nil, fmt.Errorf("%w: result from %q applied to %q", ErrMismatch, result.Provider, p.Name)
	}
	if result.Group != "" && result.Group != p.Group {
		return nil, nil, fmt.Errorf("%w: result for group %q applied to group %q", ErrMismatch, result.Group, p.Group)
	}

	r := &reconciler{
		prev:   state,
		out:    state.Clone(),
		p:      p,
		source: p.Source(),
		result: result,
		report: &Report{
			Provider:        p.Name,
			Group:           p.Group,
			Warnings:        append([]string(nil), result.Warnings...),
			NeedsAssignment: append([]discovery.Unassigned(nil), result.NeedsAssignment...),
		},
		discoveredInstances: map[string]inventory.Instance{},
		discoveredRefs:      map[inventory.ServiceRef]bool{},
		replaceHosts:        map[string]bool{},
	}
	for _, inst := range result.Instances {
		if _, dup := r.discoveredInstances[inst.Name]; !dup {
			r.discoveredInstances[inst.Name] = inst
		}
	}
	for _, hs := range result.Services {
		r.discoveredRefs[hs.Ref()] = true
	}

	r.pruneGroups()
	r.mergeHosts()
	r.mergeInstances()
	r.mergeServices()
	r.mergeGroup()

	return r.out, r.report, nil
}

// pruneGroups drops group members owned by this provider that this sync
// will not re-add to the provider's group.
func (r *reconciler) pruneGroups() {
	ownedInstances := map[string]bool{}
	for _, inst := range r.prev.Instances {
		if inst.Source == r.source {
			ownedInstances[inst.Name] = true
		}
	}
	ownedRefs := map[inventory.ServiceRef]bool{}
	for _, h := range r.prev.Hosts {
		for _, svc := range h.Services {
			if svc.Source == r.source {
				ownedRefs[inventory.ServiceRef{Host: h.Name, Service: svc.Name}] = true
			}
		}
	}

	for gi := range r.out.Groups {
		g := &r.out.Groups[gi]
		inTarget := g.Name == r.p.Group

		instances := g.Instances[:0]
		for _, name := range g.Instances {
			_, rediscovered := r.discoveredInstances[name]
			if ownedInstances[name] && !(inTarget && rediscovered) {
				r.report.GroupMembers.Pruned++
				continue
			}
			instances = append(instances, name)
		}
		g.Instances = instances

		refs := g.Services[:0]
		for _, ref := range g.Services {
			if ownedRefs[ref] && !(inTarget && r.discoveredRefs[ref]) {
				r.report.GroupMembers.Pruned++
				continue
			}
			refs = append(refs, ref)
		}
		g.Services = refs
	}
}

// mergeHosts creates missing hosts. Existing hosts are left alone, except
// that a state-backend provider refreshes the hosts it owns.
func (r *reconciler) mergeHosts() {
	stateBackend := r.p.Config.Kind == provider.KindStateBackend

	for _, dh := range r.result.Hosts {
		existing := r.out.Host(dh.Name)
		if existing == nil {
			h := dh
			h.Services = nil
			r.out.Hosts = append(r.out.Hosts, h)
			r.report.Hosts.Created++
			if stateBackend {
				r.replaceHosts[h.Name] = true
			}
			continue
		}

		if existing.Source != r.source {
			r.report.Hosts.Skipped++
			r.report.conflict("host %q is owned by %s, left untouched", existing.Name, sourceLabel(existing.Source))
			continue
		}

		if !stateBackend {
			continue
		}
		r.replaceHosts[existing.Name] = true
		if existing.Address != dh.Address || existing.ConnectionType != dh.ConnectionType || existing.Connectable != dh.Connectable {
			existing.Address = dh.Address
			existing.ConnectionType = dh.ConnectionType
			existing.Connectable = dh.Connectable
			r.report.Hosts.Updated++
		}
	}
}

// mergeInstances replaces this provider's instances with the discovered set,
// keeping the position of instances that survive.
func (r *reconciler) mergeInstances() {
	placed := map[string]bool{}
	instances := make([]inventory.Instance, 0, len(r.out.Instances)+len(r.result.Instances))

	for _, inst := range r.out.Instances {
		if inst.Source != r.source {
			instances = append(instances, inst)
			continue
		}
		d, ok := r.discoveredInstances[inst.Name]
		if !ok {
			r.report.Instances.Pruned++
			continue
		}
		if !reflect.DeepEqual(inst, d) {
			r.report.Instances.Updated++
		}
		instances = append(instances, d)
		placed[d.Name] = true
	}

	taken := map[string]inventory.Source{}
	for _, inst := range instances {
		taken[inst.Name] = inst.Source
	}

	for _, d := range r.result.Instances {
		if placed[d.Name] {
			continue
		}
		if owner, ok := taken[d.Name]; ok {
			r.report.Instances.Skipped++
			r.report.conflict("instance %q is owned by %s, discovered copy skipped", d.Name, sourceLabel(owner))
			continue
		}
		instances = append(instances, d)
		taken[d.Name] = d.Source
		placed[d.Name] = true
		r.report.Instances.Created++
	}

	// Group order follows discovery order.
	for _, d := range r.result.Instances {
		if placed[d.Name] {
			r.placed = append(r.placed, d.Name)
			placed[d.Name] = false
		}
	}
	r.out.Instances = instances
}

// mergeServices attaches discovered services to their hosts.
func (r *reconciler) mergeServices() {
	byHost := map[string][]inventory.Service{}
	var order []string
	seen := map[string]bool{}
	visit := func(host string) {
		if !seen[host] {
			seen[host] = true
			order = append(order, host)
		}
	}
	for _, h := range r.result.Hosts {
		if r.replaceHosts[h.Name] {
			visit(h.Name)
		}
	}
	for _, hs := range r.result.Services {
		visit(hs.Host)
		byHost[hs.Host] = append(byHost[hs.Host], hs.Service)
	}

	for _, hostName := range order {
		discovered := byHost[hostName]
		h := r.out.Host(hostName)
		if h == nil {
			r.report.Services.Skipped += len(discovered)
			r.report.warn("host %q not found, %d service(s) skipped", hostName, len(discovered))
			continue
		}
		if h.Source.IsManual() {
			r.report.Services.Skipped += len(discovered)
			if len(discovered) > 0 {
				r.report.conflict("host %q is owned by manual, %d service(s) not attached", hostName, len(discovered))
			}
			continue
		}
		if r.replaceHosts[hostName] {
			r.replaceServices(h, discovered)
		} else {
			r.addServices(h, discovered)
		}
	}
}

// replaceServices prunes and re-adds this provider's services on a host it
// owns. Services of other sources stay.
func (r *reconciler) replaceServices(h *inventory.Host, discovered []inventory.Service) {
	want := map[string]inventory.Service{}
	for _, svc := range discovered {
		if _, dup := want[svc.Name]; !dup {
			want[svc.Name] = svc
		}
	}

	placed := map[string]bool{}
	var services []inventory.Service
	for _, svc := range h.Services {
		if svc.Source != r.source {
			services = append(services, svc)
			continue
		}
		d, ok := want[svc.Name]
		if !ok {
			r.report.Services.Pruned++
			continue
		}
		if !reflect.DeepEqual(svc, d) {
			r.report.Services.Updated++
		}
		services = append(services, d)
		placed[d.Name] = true
	}

	for _, d := range discovered {
		if placed[d.Name] {
			continue
		}
		if existing := findService(services, d.Name); existing != nil {
			r.report.Services.Skipped++
			r.report.conflict("service %q on host %q is owned by %s, discovered copy skipped", d.Name, h.Name, sourceLabel(existing.Source))
			continue
		}
		services = append(services, d)
		placed[d.Name] = true
		r.report.Services.Created++
	}
	h.Services = services
}

// addServices attaches services whose name is free on the host. Existing
// services are never overwritten or removed.
func (r *reconciler) addServices(h *inventory.Host, discovered []inventory.Service) {
	for _, d := range discovered {
		existing := h.Service(d.Name)
		if existing == nil {
			h.Services = append(h.Services, d)
			r.report.Services.Created++
			continue
		}
		if existing.Source != r.source {
			r.report.Services.Skipped++
			r.report.conflict("service %q on host %q is owned by %s, left untouched", d.Name, h.Name, sourceLabel(existing.Source))
		}
	}
}

// mergeGroup unions the discovered members into the provider's group,
// creating it if needed.
func (r *reconciler) mergeGroup() {
	g, created := r.out.EnsureGroup(r.p.Group)
	r.report.GroupCreated = created

	r.report.GroupMembers.Created += g.AddInstances(r.placed...)

	for _, hs := range r.result.Services {
		h := r.out.Host(hs.Host)
		if h == nil {
			continue
		}
		if svc := h.Service(hs.Service.Name); svc == nil || svc.Source != r.source {
			continue
		}
		r.report.GroupMembers.Created += g.AddServices(hs.Ref())
	}
}

func findService(services []inventory.Service, name string) *inventory.Service {
	for i := range services {
		if services[i].Name == name {
			return &services[i]
		}
	}
	return nil
}

func sourceLabel(s inventory.Source) string {
	if s == "" {
		return string(inventory.SourceManual)
	}
	return string(s)
}

package inventory

import (
	"errors"
	"fmt"
)

// ErrExists is returned when an entity with the same identity already exists.
var ErrExists = errors.New("already exists")

// NewState returns an empty state.
func NewState() *State {
	return &State{
		Hosts:     []Host{},
		Instances: []Instance{},
		Groups:    []Group{},
	}
}

// Host returns the named host or nil.
func (s *State) Host(name string) *Host {
	for i := range s.Hosts {
		if s.Hosts[i].Name == name {
			return &s.Hosts[i]
		}
	}
	return nil
}

// Instance returns the named instance or nil.
func (s *State) Instance(name string) *Instance {
	for i := range s.Instances {
		if s.Instances[i].Name == name {
			return &s.Instances[i]
		}
	}
	return nil
}

// Group returns the named group or nil.
func (s *State) Group(name string) *Group {
	for i := range s.Groups {
		if s.Groups[i].Name == name {
			return &s.Groups[i]
		}
	}
	return nil
}

// EnsureGroup returns the named group, creating an empty one if needed.
func (s *State) EnsureGroup(name string) (*Group, bool) {
	if g := s.Group(name); g != nil {
		return g, false
	}
	s.Groups = append(s.Groups, Group{Name: name, Instances: []string{}, Services: []ServiceRef{}})
	return &s.Groups[len(s.Groups)-1], true
}

// GroupNames lists group names in order.
func (s *State) GroupNames() []string {
	names := make([]string, 0, len(s.Groups))
	for _, g := range s.Groups {
		names = append(names, g.Name)
	}
	return names
}

// AddHost adds a host, rejecting duplicate names.
func (s *State) AddHost(h Host) error {
	if s.Host(h.Name) != nil {
		return fmt.Errorf("host %q: %w", h.Name, ErrExists)
	}
	s.Hosts = append(s.Hosts, h)
	return nil
}

// AddInstance adds an instance, rejecting duplicate names.
func (s *State) AddInstance(inst Instance) error {
	if s.Instance(inst.Name) != nil {
		return fmt.Errorf("instance %q: %w", inst.Name, ErrExists)
	}
	s.Instances = append(s.Instances, inst)
	return nil
}

// AddGroup adds a group, rejecting duplicate names.
func (s *State) AddGroup(g Group) error {
	if s.Group(g.Name) != nil {
		return fmt.Errorf("group %q: %w", g.Name, ErrExists)
	}
	if g.Instances == nil {
		g.Instances = []string{}
	}
	if g.Services == nil {
		g.Services = []ServiceRef{}
	}
	s.Groups = append(s.Groups, g)
	return nil
}

// AddService attaches a service to an existing host, rejecting duplicate
// names on that host.
func (s *State) AddService(hostName string, svc Service) error {
	h := s.Host(hostName)
	if h == nil {
		return fmt.Errorf("host %q not found", hostName)
	}
	if h.Service(svc.Name) != nil {
		return fmt.Errorf("service %q on host %q: %w", svc.Name, hostName, ErrExists)
	}
	h.Services = append(h.Services, svc)
	return nil
}

// Clone returns a deep copy of the state.
func (s *State) Clone() *State {
	out := &State{
		Hosts:     make([]Host, len(s.Hosts)),
		Instances: make([]Instance, len(s.Instances)),
		Groups:    make([]Group, len(s.Groups)),
	}
	for i, h := range s.Hosts {
		h.Services = cloneServices(h.Services)
		out.Hosts[i] = h
	}
	for i, inst := range s.Instances {
		inst.Metadata = cloneMap(inst.Metadata)
		out.Instances[i] = inst
	}
	for i, g := range s.Groups {
		g.Instances = append([]string{}, g.Instances...)
		g.Services = append([]ServiceRef{}, g.Services...)
		out.Groups[i] = g
	}
	return out
}

func cloneServices(in []Service) []Service {
	if in == nil {
		return nil
	}
	out := make([]Service, len(in))
	for i, svc := range in {
		svc.Metadata = cloneMap(svc.Metadata)
		out[i] = svc
	}
	return out
}

func cloneMap(in map[string]string) map[string]string {
	if in == nil {
		return nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

package reconcile

import (
	"fmt"

	"github.com/fleetdeck/fleetdeck/pkg/discovery"
)

// Changes counts what happened to one entity kind.
type Changes struct {
	Created int `json:"created"`
	Updated int `json:"updated"`
	Pruned  int `json:"pruned"`
	Skipped int `json:"skipped"`
}

func (c Changes) changed() bool {
	return c.Created+c.Updated+c.Pruned > 0
}

// Report describes the effect of one reconcile.
type Report struct {
	Provider     string  `json:"provider"`
	Group        string  `json:"group"`
	GroupCreated bool    `json:"group_created"`
	Hosts        Changes `json:"hosts"`
	Instances    Changes `json:"instances"`
	Services     Changes `json:"services"`
	// GroupMembers counts instance names and service references.
	GroupMembers Changes `json:"group_members"`

	Conflicts       []string               `json:"conflicts,omitempty"`
	Warnings        []string               `json:"warnings,omitempty"`
	NeedsAssignment []discovery.Unassigned `json:"needs_assignment,omitempty"`
}

// Changed reports whether the state was modified.
func (r *Report) Changed() bool {
	return r.GroupCreated ||
		r.Hosts.changed() ||
		r.Instances.changed() ||
		r.Services.changed() ||
		r.GroupMembers.changed()
}

func (r *Report) conflict(format string, args ...interface{}) {
	r.Conflicts = append(r.Conflicts, fmt.Sprintf(format, args...))
}

func (r *Report) warn(format string, args ...interface{}) {
	r.Warnings = append(r.Warnings, fmt.Sprintf(format, args...))
}

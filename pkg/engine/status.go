package engine

import (
	"encoding/json"
	"time"

	"github.com/fleetdeck/fleetdeck/pkg/discovery"
	"github.com/fleetdeck/fleetdeck/pkg/discovery/cluster"
	"github.com/fleetdeck/fleetdeck/pkg/discovery/statebackend"
	"github.com/fleetdeck/fleetdeck/pkg/policy"
	"github.com/fleetdeck/fleetdeck/pkg/provider"
	"github.com/fleetdeck/fleetdeck/pkg/reconcile"
)

// Audit actions written by the engine.
const (
	ActionSync        = "provider.sync"
	ActionAssign      = "provider.assign"
	ActionAddHost     = "host.add"
	ActionAddService  = "service.add"
	ActionAddInstance = "instance.add"
	ActionAddGroup    = "group.add"
)

// SyncReport is the outcome of one sync.
type SyncReport struct {
	RunID       string         `json:"run_id"`
	Provider    string         `json:"provider"`
	Kind        provider.Kind  `json:"kind"`
	Group       string         `json:"group"`
	StartedAt   time.Time      `json:"started_at"`
	CompletedAt time.Time      `json:"completed_at"`
	Discovered  map[string]int `json:"discovered"`
	// Policy is the verdict of the policy engine, nil when none is set.
	Policy *policy.Result `json:"policy,omitempty"`

	*reconcile.Report
}

// Duration returns how long the sync took.
func (r *SyncReport) Duration() time.Duration {
	return r.CompletedAt.Sub(r.StartedAt)
}

// summary renders the report for the sync run record.
func (r *SyncReport) summary() string {
	data, err := json.Marshal(r)
	if err != nil {
		return "{}"
	}
	return string(data)
}

// DiscoveryPreview is what a provider would contribute to a sync, without
// any state being touched.
type DiscoveryPreview struct {
	Provider string        `json:"provider"`
	Kind     provider.Kind `json:"kind"`
	Group    string        `json:"group"`

	// Exactly one of Cluster and State is set.
	Cluster *cluster.Preview      `json:"cluster,omitempty"`
	State   *statebackend.Preview `json:"state,omitempty"`

	// Result is the entity set a sync would reconcile.
	Result *discovery.Result `json:"result"`
}

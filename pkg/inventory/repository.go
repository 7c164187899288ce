package inventory

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/fleetdeck/fleetdeck/pkg/stores"
)

// Record namespaces. Hosts are global, instances and groups are per project.
const (
	HostsNamespace = "hosts"
)

// InstancesNamespace returns the record namespace of a project's instances.
func InstancesNamespace(project string) string {
	return "instances/" + project
}

// GroupsNamespace returns the record namespace of a project's groups.
func GroupsNamespace(project string) string {
	return "groups/" + project
}

// envelope keeps the list position so order survives the round trip.
type envelope[T any] struct {
	Position int `json:"position"`
	Item     T   `json:"item"`
}

// Repository loads and saves project state through a record store.
type Repository struct {
	store stores.Store
}

// NewRepository creates a repository over the given store.
func NewRepository(store stores.Store) *Repository {
	return &Repository{store: store}
}

// Load reads the state of a project. A project with no records yields an
// empty state.
func (r *Repository) Load(ctx context.Context, project string) (*State, error) {
	hosts, err := loadOrdered[Host](ctx, r.store, HostsNamespace)
	if err != nil {
		return nil, fmt.Errorf("failed to load hosts: %w", err)
	}
	instances, err := loadOrdered[Instance](ctx, r.store, InstancesNamespace(project))
	if err != nil {
		return nil, fmt.Errorf("failed to load instances: %w", err)
	}
	groups, err := loadOrdered[Group](ctx, r.store, GroupsNamespace(project))
	if err != nil {
		return nil, fmt.Errorf("failed to load groups: %w", err)
	}

	for i := range groups {
		if groups[i].Instances == nil {
			groups[i].Instances = []string{}
		}
		if groups[i].Services == nil {
			groups[i].Services = []ServiceRef{}
		}
	}

	return &State{Hosts: hosts, Instances: instances, Groups: groups}, nil
}

// Save writes the state of a project in one transaction.
func (r *Repository) Save(ctx context.Context, project string, state *State) error {
	batch := stores.NewBatch()
	if err := Stage(batch, project, state); err != nil {
		return err
	}
	if err := r.store.Apply(ctx, batch); err != nil {
		return fmt.Errorf("failed to save state: %w", err)
	}
	return nil
}

// Stage adds the writes that persist state to batch, so callers can commit
// them together with other records.
func Stage(batch *stores.Batch, project string, state *State) error {
	hosts, err := encodeOrdered(state.Hosts, func(h Host) string { return h.Name })
	if err != nil {
		return fmt.Errorf("failed to encode hosts: %w", err)
	}
	instances, err := encodeOrdered(state.Instances, func(i Instance) string { return i.Name })
	if err != nil {
		return fmt.Errorf("failed to encode instances: %w", err)
	}
	groups, err := encodeOrdered(state.Groups, func(g Group) string { return g.Name })
	if err != nil {
		return fmt.Errorf("failed to encode groups: %w", err)
	}

	batch.ReplaceNamespace(HostsNamespace, hosts)
	batch.ReplaceNamespace(InstancesNamespace(project), instances)
	batch.ReplaceNamespace(GroupsNamespace(project), groups)
	return nil
}

func encodeOrdered[T any](items []T, key func(T) string) (map[string]string, error) {
	out := make(map[string]string, len(items))
	for i, item := range items {
		k := key(item)
		if _, dup := out[k]; dup {
			return nil, fmt.Errorf("duplicate name %q", k)
		}
		data, err := json.Marshal(envelope[T]{Position: i, Item: item})
		if err != nil {
			return nil, err
		}
		out[k] = string(data)
	}
	return out, nil
}

func loadOrdered[T any](ctx context.Context, store stores.Store, namespace string) ([]T, error) {
	records, err := store.ListRecords(ctx, namespace)
	if err != nil {
		return nil, err
	}

	envs := make([]envelope[T], 0, len(records))
	for _, rec := range records {
		var env envelope[T]
		if err := json.Unmarshal([]byte(rec.Value), &env); err != nil {
			return nil, fmt.Errorf("failed to decode record %s/%s: %w", namespace, rec.Key, err)
		}
		envs = append(envs, env)
	}
	sort.SliceStable(envs, func(i, j int) bool { return envs[i].Position < envs[j].Position })

	items := make([]T, 0, len(envs))
	for _, env := range envs {
		items = append(items, env.Item)
	}
	return items, nil
}

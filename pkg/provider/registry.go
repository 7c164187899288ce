package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/fleetdeck/fleetdeck/pkg/stores"
)

var (
	// ErrNotFound is returned for unknown providers.
	ErrNotFound = errors.New("provider not found")
	// ErrExists is returned when adding a provider whose name is taken.
	ErrExists = errors.New("provider already exists")
)

// Namespace returns the record namespace holding a project's providers.
func Namespace(project string) string {
	return "providers/" + project
}

// Registry persists provider records keyed by (project, name).
type Registry struct {
	store stores.Store
	now   func() time.Time
}

// NewRegistry creates a registry over the given store.
func NewRegistry(store stores.Store) *Registry {
	return &Registry{
		store: store,
		now:   func() time.Time { return time.Now().UTC() },
	}
}

// Add validates and stores a new provider.
func (r *Registry) Add(ctx context.Context, p *Provider) error {
	if err := p.Validate(); err != nil {
		return err
	}

	if _, err := r.Get(ctx, p.Project, p.Name); err == nil {
		return fmt.Errorf("%w: %s", ErrExists, p.Name)
	} else if !errors.Is(err, ErrNotFound) {
		return err
	}

	now := r.now()
	p.CreatedAt = now
	p.UpdatedAt = now
	return r.put(ctx, p)
}

// Get returns a provider by name.
func (r *Registry) Get(ctx context.Context, project, name string) (*Provider, error) {
	rec, err := r.store.GetRecord(ctx, Namespace(project), name)
	if errors.Is(err, stores.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get provider: %w", err)
	}
	return decode(rec.Value)
}

// List returns the providers of a project sorted by name.
func (r *Registry) List(ctx context.Context, project string) ([]*Provider, error) {
	records, err := r.store.ListRecords(ctx, Namespace(project))
	if err != nil {
		return nil, fmt.Errorf("failed to list providers: %w", err)
	}

	providers := make([]*Provider, 0, len(records))
	for _, rec := range records {
		p, err := decode(rec.Value)
		if err != nil {
			return nil, err
		}
		providers = append(providers, p)
	}
	sort.Slice(providers, func(i, j int) bool { return providers[i].Name < providers[j].Name })
	return providers, nil
}

// Remove deletes a provider record. Entities it created are left in place.
func (r *Registry) Remove(ctx context.Context, project, name string) error {
	err := r.store.DeleteRecord(ctx, Namespace(project), name)
	if errors.Is(err, stores.ErrNotFound) {
		return fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	if err != nil {
		return fmt.Errorf("failed to remove provider: %w", err)
	}
	return nil
}

// SetGroup changes the group a provider syncs into.
func (r *Registry) SetGroup(ctx context.Context, project, name, group string) (*Provider, error) {
	return r.update(ctx, project, name, func(p *Provider) {
		p.Group = group
	})
}

// AddResourceMapping upserts the group assignment of a resource. The last
// assignment wins.
func (r *Registry) AddResourceMapping(ctx context.Context, project, name, resourceID, group string) (*Provider, error) {
	if resourceID == "" || group == "" {
		return nil, fmt.Errorf("%w: resource id and group are required", ErrInvalid)
	}
	return r.update(ctx, project, name, func(p *Provider) {
		setMapping(p, resourceID, group, r.now())
	})
}

// UpdateLastSync records a completed sync.
func (r *Registry) UpdateLastSync(ctx context.Context, project, name string, at time.Time) (*Provider, error) {
	return r.update(ctx, project, name, func(p *Provider) {
		at := at.UTC()
		p.LastSync = &at
	})
}

// StageLastSync sets the provider's last sync time and adds the record write
// to batch instead of writing it directly.
func (r *Registry) StageLastSync(batch *stores.Batch, p *Provider, at time.Time) error {
	at = at.UTC()
	p.LastSync = &at
	return r.stage(batch, p)
}

// StageResourceMapping is AddResourceMapping with the record write added to
// batch.
func (r *Registry) StageResourceMapping(batch *stores.Batch, p *Provider, resourceID, group string) error {
	if resourceID == "" || group == "" {
		return fmt.Errorf("%w: resource id and group are required", ErrInvalid)
	}
	setMapping(p, resourceID, group, r.now())
	if err := p.Validate(); err != nil {
		return err
	}
	return r.stage(batch, p)
}

func (r *Registry) stage(batch *stores.Batch, p *Provider) error {
	p.UpdatedAt = r.now()
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("failed to marshal provider: %w", err)
	}
	batch.Put(Namespace(p.Project), p.Name, string(data))
	return nil
}

func (r *Registry) update(ctx context.Context, project, name string, mutate func(*Provider)) (*Provider, error) {
	p, err := r.Get(ctx, project, name)
	if err != nil {
		return nil, err
	}

	mutate(p)
	if err := p.Validate(); err != nil {
		return nil, err
	}
	p.UpdatedAt = r.now()

	if err := r.put(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}

func (r *Registry) put(ctx context.Context, p *Provider) error {
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("failed to marshal provider: %w", err)
	}
	if err := r.store.PutRecord(ctx, Namespace(p.Project), p.Name, string(data)); err != nil {
		return fmt.Errorf("failed to store provider: %w", err)
	}
	return nil
}

func decode(value string) (*Provider, error) {
	var p Provider
	if err := json.Unmarshal([]byte(value), &p); err != nil {
		return nil, fmt.Errorf("failed to decode provider: %w", err)
	}
	return &p, nil
}

func setMapping(p *Provider, resourceID, group string, at time.Time) {
	for i := range p.ResourceMappings {
		if p.ResourceMappings[i].ResourceID == resourceID {
			p.ResourceMappings[i].Group = group
			p.ResourceMappings[i].AssignedAt = at
			return
		}
	}
	p.ResourceMappings = append(p.ResourceMappings, ResourceMapping{
		ResourceID: resourceID,
		Group:      group,
		AssignedAt: at,
	})
}

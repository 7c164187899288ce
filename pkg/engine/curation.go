package engine

import (
	"context"
	"encoding/json"

	"github.com/fleetdeck/fleetdeck/pkg/inventory"
	"github.com/fleetdeck/fleetdeck/pkg/stores"
	"github.com/fleetdeck/fleetdeck/pkg/telemetry"
)

// Curator adds operator-created entities to a project. Everything it
// creates is tagged "manual" and is never touched by a sync.
type Curator struct {
	project string
	store   stores.Store
	repo    *inventory.Repository
	logger  *telemetry.Logger
	actor   string
}

// NewCurator creates a curator for a project.
func NewCurator(project string, store stores.Store, logger *telemetry.Logger, actor string) *Curator {
	if logger == nil {
		logger = telemetry.Nop()
	}
	if actor == "" {
		actor = "fleetdeck"
	}
	return &Curator{
		project: project,
		store:   store,
		repo:    inventory.NewRepository(store),
		logger:  logger.NewComponentLogger("curator").WithProject(project),
		actor:   actor,
	}
}

// State returns the current project state.
func (c *Curator) State(ctx context.Context) (*inventory.State, error) {
	state, err := c.repo.Load(ctx, c.project)
	if err != nil {
		return nil, NewInternalError("failed to load state", err)
	}
	return state, nil
}

// AddHost adds a manual host. Services listed on it are added too.
func (c *Curator) AddHost(ctx context.Context, h inventory.Host) error {
	h.Source = inventory.SourceManual
	for i := range h.Services {
		h.Services[i].Source = inventory.SourceManual
	}
	if err := h.Validate(); err != nil {
		return Classify("invalid host", err)
	}
	return c.mutate(ctx, ActionAddHost, h.Name, func(s *inventory.State) error {
		return s.AddHost(h)
	})
}

// AddService attaches a manual service to an existing host.
func (c *Curator) AddService(ctx context.Context, host string, svc inventory.Service) error {
	svc.Source = inventory.SourceManual
	if err := svc.Validate(); err != nil {
		return Classify("invalid service", err)
	}
	return c.mutate(ctx, ActionAddService, host+"/"+svc.Name, func(s *inventory.State) error {
		if s.Host(host) == nil {
			return NewValidationError("unknown host "+host, nil).WithCode(ErrCodeNotFound)
		}
		return s.AddService(host, svc)
	})
}

// AddInstance adds a manual instance and optionally places it in groups,
// creating groups that do not exist.
func (c *Curator) AddInstance(ctx context.Context, inst inventory.Instance, groups ...string) error {
	inst.Source = inventory.SourceManual
	if err := inst.Validate(); err != nil {
		return Classify("invalid instance", err)
	}
	return c.mutate(ctx, ActionAddInstance, inst.Name, func(s *inventory.State) error {
		if inst.Host != "" && s.Host(inst.Host) == nil {
			return NewValidationError("unknown host "+inst.Host, nil).WithCode(ErrCodeNotFound)
		}
		if err := s.AddInstance(inst); err != nil {
			return err
		}
		for _, name := range groups {
			g, _ := s.EnsureGroup(name)
			g.AddInstances(inst.Name)
		}
		return nil
	})
}

// AddGroup adds an empty group.
func (c *Curator) AddGroup(ctx context.Context, name string) error {
	g := inventory.Group{Name: name}
	if err := g.Validate(); err != nil {
		return Classify("invalid group", err)
	}
	return c.mutate(ctx, ActionAddGroup, name, func(s *inventory.State) error {
		return s.AddGroup(g)
	})
}

func (c *Curator) mutate(ctx context.Context, action, target string, fn func(*inventory.State) error) error {
	state, err := c.repo.Load(ctx, c.project)
	if err != nil {
		return NewInternalError("failed to load state", err)
	}
	if err := fn(state); err != nil {
		return Classify(action+" failed", err)
	}
	if err := c.repo.Save(ctx, c.project, state); err != nil {
		return NewInternalError("failed to save state", err)
	}

	details, _ := json.Marshal(map[string]string{"project": c.project})
	d := string(details)
	if err := c.store.CreateAuditEntry(ctx, &stores.AuditEntry{
		Action:   action,
		Actor:    c.actor,
		TargetID: &target,
		Details:  &d,
	}); err != nil {
		c.logger.WithError(err).Warn("failed to write audit entry")
	}

	c.logger.WithField("action", action).WithField("target", target).Info("inventory updated")
	return nil
}

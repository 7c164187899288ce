package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/fleetdeck/fleetdeck/pkg/discovery"
	"github.com/fleetdeck/fleetdeck/pkg/discovery/cluster"
	"github.com/fleetdeck/fleetdeck/pkg/discovery/statebackend"
	"github.com/fleetdeck/fleetdeck/pkg/inventory"
	"github.com/fleetdeck/fleetdeck/pkg/policy"
	"github.com/fleetdeck/fleetdeck/pkg/provider"
	"github.com/fleetdeck/fleetdeck/pkg/reconcile"
	"github.com/fleetdeck/fleetdeck/pkg/stores"
	"github.com/fleetdeck/fleetdeck/pkg/telemetry"
)

// Options configures a Syncer.
type Options struct {
	// Project scopes providers and state.
	Project string
	Store   stores.Store
	// ClusterClients builds the client of a cluster provider.
	ClusterClients ClusterClientFactory
	// StateLoader reads state documents.
	StateLoader statebackend.Loader
	// Policies, when set, are evaluated before every commit.
	Policies *policy.Engine
	// Telemetry defaults to telemetry.Noop().
	Telemetry *telemetry.Telemetry
	// Actor is recorded in the audit trail.
	Actor string
}

// Syncer runs the select, discover, reconcile and commit flow for the
// providers of one project.
type Syncer struct {
	project        string
	store          stores.Store
	registry       *provider.Registry
	repo           *inventory.Repository
	clusterClients ClusterClientFactory
	stateAdapter   *statebackend.Adapter
	policies       *policy.Engine
	telemetry      *telemetry.Telemetry
	logger         *telemetry.Logger
	actor          string
	now            func() time.Time
}

// NewSyncer creates a syncer.
func NewSyncer(opts Options) (*Syncer, error) {
	if opts.Project == "" {
		return nil, errors.New("project is required")
	}
	if opts.Store == nil {
		return nil, errors.New("store is required")
	}
	tel := opts.Telemetry
	if tel == nil {
		tel = telemetry.Noop()
	}
	actor := opts.Actor
	if actor == "" {
		actor = "fleetdeck"
	}

	return &Syncer{
		project:        opts.Project,
		store:          opts.Store,
		registry:       provider.NewRegistry(opts.Store),
		repo:           inventory.NewRepository(opts.Store),
		clusterClients: opts.ClusterClients,
		stateAdapter:   statebackend.NewAdapter(opts.StateLoader, tel.Logger),
		policies:       opts.Policies,
		telemetry:      tel,
		logger:         tel.Logger.NewComponentLogger("engine").WithProject(opts.Project),
		actor:          actor,
		now:            func() time.Time { return time.Now().UTC() },
	}, nil
}

// Registry returns the provider registry of the project.
func (s *Syncer) Registry() *provider.Registry {
	return s.registry
}

// Project returns the project the syncer works on.
func (s *Syncer) Project() string {
	return s.project
}

// Sync discovers a provider's backend, reconciles the result into project
// state and commits the state together with the provider's last sync time.
// A failure before the commit leaves persisted state unchanged.
func (s *Syncer) Sync(ctx context.Context, name string) (*SyncReport, error) {
	p, err := s.lookup(ctx, name)
	if err != nil {
		return nil, s.fail(nil, nil, err)
	}
	logger := s.logger.WithProvider(p.Name, string(p.Config.Kind))

	ctx, span := s.telemetry.Tracer.StartProviderSpan(ctx, p.Name, string(p.Config.Kind), "sync")
	defer span.End()

	run := &stores.SyncRun{
		ID:        uuid.New().String(),
		Project:   s.project,
		Provider:  p.Name,
		StartedAt: s.now(),
	}
	if err := s.store.CreateSyncRun(ctx, run); err != nil {
		return nil, s.fail(p, nil, NewInternalError("failed to record sync run", err).WithProvider(p.Name))
	}

	logger.Info("sync started")

	state, err := s.repo.Load(ctx, s.project)
	if err != nil {
		return nil, s.fail(p, run, NewInternalError("failed to load state", err).WithOperation("load"))
	}

	result, err := s.discover(ctx, p, state.GroupNames())
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, s.fail(p, run, err)
	}

	_, rspan := s.telemetry.Tracer.StartProviderSpan(ctx, p.Name, string(p.Config.Kind), "reconcile")
	next, report, err := reconcile.Reconcile(state, p, result)
	rspan.End()
	if err != nil {
		return nil, s.fail(p, run, Classify("reconcile failed", err).WithOperation("reconcile"))
	}

	verdict, err := s.evaluatePolicies(ctx, p, state, result, report)
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, s.fail(p, run, err)
	}

	completed := s.now()
	if err := s.commit(ctx, p, next, completed); err != nil {
		telemetry.RecordError(span, err)
		return nil, s.fail(p, run, err)
	}

	sr := &SyncReport{
		RunID:       run.ID,
		Provider:    p.Name,
		Kind:        p.Config.Kind,
		Group:       p.Group,
		StartedAt:   run.StartedAt,
		CompletedAt: completed,
		Discovered:  result.Counts(),
		Report:      report,
		Policy:      verdict,
	}

	summary := sr.summary()
	if err := s.store.CompleteSyncRun(ctx, run.ID, stores.SyncStatusCompleted, nil, summary); err != nil {
		logger.WithError(err).Warn("failed to complete sync run record")
	}
	s.audit(ctx, ActionSync, p.Name, map[string]interface{}{
		"run_id":  run.ID,
		"group":   p.Group,
		"changed": report.Changed(),
	})
	s.observe(p, sr)
	telemetry.RecordSuccess(span)

	logger.WithFields(map[string]interface{}{
		"run_id":           run.ID,
		"changed":          report.Changed(),
		"conflicts":        len(report.Conflicts),
		"needs_assignment": len(report.NeedsAssignment),
		"duration_ms":      sr.Duration().Milliseconds(),
	}).Info("sync completed")
	return sr, nil
}

// Discover runs a provider's discovery without touching state.
func (s *Syncer) Discover(ctx context.Context, name string) (*DiscoveryPreview, error) {
	p, err := s.lookup(ctx, name)
	if err != nil {
		return nil, err
	}
	ctx, span := s.telemetry.Tracer.StartProviderSpan(ctx, p.Name, string(p.Config.Kind), "preview")
	defer span.End()

	state, err := s.repo.Load(ctx, s.project)
	if err != nil {
		return nil, NewInternalError("failed to load state", err).WithOperation("load")
	}

	preview := &DiscoveryPreview{Provider: p.Name, Kind: p.Config.Kind, Group: p.Group}
	switch p.Config.Kind {
	case provider.KindCluster:
		adapter, err := s.clusterAdapter(*p.Config.Cluster)
		if err != nil {
			return nil, discoveryError(p, err)
		}
		if preview.Cluster, err = adapter.Preview(ctx, *p.Config.Cluster); err != nil {
			return nil, discoveryError(p, err)
		}
		if preview.Result, err = adapter.Discover(ctx, p); err != nil {
			return nil, discoveryError(p, err)
		}
	case provider.KindStateBackend:
		groups := state.GroupNames()
		if preview.State, err = s.stateAdapter.Preview(ctx, *p.Config.StateBackend, groups, p.ResourceMappings); err != nil {
			return nil, discoveryError(p, err)
		}
		if preview.Result, err = s.stateAdapter.Discover(ctx, p, groups); err != nil {
			return nil, discoveryError(p, err)
		}
	}
	telemetry.RecordSuccess(span)
	return preview, nil
}

// PreviewCluster previews a cluster before any provider exists for it.
func (s *Syncer) PreviewCluster(ctx context.Context, cfg provider.ClusterConfig) (*cluster.Preview, error) {
	if err := provider.ClusterVariant(cfg).Validate(); err != nil {
		return nil, NewValidationError("invalid cluster config", err)
	}
	adapter, err := s.clusterAdapter(cfg)
	if err != nil {
		return nil, Classify("failed to create cluster client", err)
	}
	preview, err := adapter.Preview(ctx, cfg)
	if err != nil {
		return nil, connectivity("cluster preview failed", err)
	}
	return preview, nil
}

// PreviewState previews a state document before any provider exists for it.
func (s *Syncer) PreviewState(ctx context.Context, cfg provider.StateBackendConfig) (*statebackend.Preview, error) {
	state, err := s.repo.Load(ctx, s.project)
	if err != nil {
		return nil, NewInternalError("failed to load state", err)
	}
	preview, err := s.stateAdapter.Preview(ctx, cfg, state.GroupNames(), nil)
	if err != nil {
		return nil, connectivity("state preview failed", err)
	}
	return preview, nil
}

// AssignResource remembers the group of a state-backend resource so later
// syncs place it there. The group is created if it does not exist.
func (s *Syncer) AssignResource(ctx context.Context, name, resourceID, group string) (*provider.Provider, error) {
	p, err := s.lookup(ctx, name)
	if err != nil {
		return nil, err
	}
	if p.Config.Kind != provider.KindStateBackend {
		return nil, NewValidationError("resource assignment requires a state-backend provider", nil).WithProvider(p.Name)
	}

	if err := (inventory.Group{Name: group}).Validate(); err != nil {
		return nil, NewValidationError("invalid group", err)
	}

	state, err := s.repo.Load(ctx, s.project)
	if err != nil {
		return nil, NewInternalError("failed to load state", err)
	}

	// The group and the mapping are written in one transaction.
	batch := stores.NewBatch()
	_, created := state.EnsureGroup(group)
	if created {
		if err := inventory.Stage(batch, s.project, state); err != nil {
			return nil, NewInternalError("failed to encode state", err)
		}
	}
	if err := s.registry.StageResourceMapping(batch, p, resourceID, group); err != nil {
		return nil, Classify("failed to assign resource", err).WithProvider(name)
	}
	if err := s.store.Apply(ctx, batch); err != nil {
		return nil, NewInternalError("failed to assign resource", err).WithProvider(name)
	}
	if created {
		s.logger.WithField("group", group).Info("group created for resource assignment")
	}

	s.audit(ctx, ActionAssign, p.Name, map[string]interface{}{
		"resource_id": resourceID,
		"group":       group,
	})
	s.logger.WithProvider(p.Name, string(p.Config.Kind)).
		WithField("resource_id", resourceID).
		WithField("group", group).
		Info("resource assigned")
	return p, nil
}

// History lists the most recent sync runs of a provider, newest first. An
// empty name lists every provider of the project.
func (s *Syncer) History(ctx context.Context, name string, limit int) ([]*stores.SyncRun, error) {
	runs, err := s.store.ListSyncRuns(ctx, s.project, name, limit)
	if err != nil {
		return nil, NewInternalError("failed to list sync runs", err)
	}
	return runs, nil
}

func (s *Syncer) lookup(ctx context.Context, name string) (*provider.Provider, error) {
	p, err := s.registry.Get(ctx, s.project, name)
	if err != nil {
		return nil, Classify("unknown provider", err).WithProvider(name)
	}
	if err := p.Validate(); err != nil {
		return nil, NewValidationError("invalid provider config", err).WithProvider(name)
	}
	return p, nil
}

func (s *Syncer) discover(ctx context.Context, p *provider.Provider, groups []string) (*discovery.Result, error) {
	ctx, span := s.telemetry.Tracer.StartProviderSpan(ctx, p.Name, string(p.Config.Kind), "discover")
	defer span.End()

	var (
		result *discovery.Result
		err    error
	)
	switch p.Config.Kind {
	case provider.KindCluster:
		var adapter *cluster.Adapter
		adapter, err = s.clusterAdapter(*p.Config.Cluster)
		if err == nil {
			result, err = adapter.Discover(ctx, p)
		}
	case provider.KindStateBackend:
		result, err = s.stateAdapter.Discover(ctx, p, groups)
	default:
		err = fmt.Errorf("%w: unknown kind %q", provider.ErrInvalid, p.Config.Kind)
	}
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, discoveryError(p, err)
	}
	telemetry.RecordSuccess(span)
	return result, nil
}

// evaluatePolicies checks the pending sync against the policy engine. A
// blocking violation fails the sync before anything is written.
func (s *Syncer) evaluatePolicies(ctx context.Context, p *provider.Provider, prev *inventory.State, result *discovery.Result, report *reconcile.Report) (*policy.Result, error) {
	if s.policies == nil {
		return nil, nil
	}
	ctx, span := s.telemetry.Tracer.StartProviderSpan(ctx, p.Name, string(p.Config.Kind), "policy")
	defer span.End()

	verdict, err := s.policies.Evaluate(ctx, &policy.Input{
		Project:    s.project,
		Actor:      s.actor,
		Provider:   policy.ProviderInfo{Name: p.Name, Kind: string(p.Config.Kind), Group: p.Group},
		Discovered: result.Counts(),
		Owned:      ownedCounts(prev, p.Source()),
		Changes:    report,
	})
	if err != nil {
		return nil, NewInternalError("policy evaluation failed", err).WithProvider(p.Name).WithOperation("policy")
	}
	for _, w := range verdict.Warnings {
		s.logger.WithProvider(p.Name, string(p.Config.Kind)).
			WithField("policy", w.Policy).
			Warn(w.Message)
	}
	if !verdict.Allowed {
		msgs := make([]string, 0, len(verdict.Violations))
		for _, v := range verdict.Violations {
			msgs = append(msgs, v.String())
		}
		return verdict, NewValidationError("sync denied: "+strings.Join(msgs, "; "), nil).
			WithProvider(p.Name).
			WithOperation("policy").
			WithCode(ErrCodePolicyDenied)
	}
	telemetry.RecordSuccess(span)
	return verdict, nil
}

// ownedCounts counts the entities tagged with src.
func ownedCounts(state *inventory.State, src inventory.Source) map[string]int {
	counts := map[string]int{"host": 0, "instance": 0, "service": 0}
	for _, h := range state.Hosts {
		if h.Source == src {
			counts["host"]++
		}
		for _, svc := range h.Services {
			if svc.Source == src {
				counts["service"]++
			}
		}
	}
	for _, inst := range state.Instances {
		if inst.Source == src {
			counts["instance"]++
		}
	}
	return counts
}

func (s *Syncer) clusterAdapter(cfg provider.ClusterConfig) (*cluster.Adapter, error) {
	if s.clusterClients == nil {
		return nil, errors.New("no cluster client configured")
	}
	client, err := s.clusterClients(cfg)
	if err != nil {
		return nil, err
	}
	return cluster.NewAdapter(client, s.telemetry.Logger), nil
}

func (s *Syncer) commit(ctx context.Context, p *provider.Provider, state *inventory.State, at time.Time) error {
	ctx, span := s.telemetry.Tracer.StartProviderSpan(ctx, p.Name, string(p.Config.Kind), "commit")
	defer span.End()

	batch := stores.NewBatch()
	if err := inventory.Stage(batch, s.project, state); err != nil {
		return NewInternalError("failed to encode state", err).WithProvider(p.Name).WithOperation("commit")
	}
	if err := s.registry.StageLastSync(batch, p, at); err != nil {
		return NewInternalError("failed to encode provider", err).WithProvider(p.Name).WithOperation("commit")
	}
	if err := s.store.Apply(ctx, batch); err != nil {
		return NewInternalError("failed to commit state", err).WithProvider(p.Name).WithOperation("commit")
	}
	return nil
}

// fail records a failed run and returns the classified error.
func (s *Syncer) fail(p *provider.Provider, run *stores.SyncRun, err error) error {
	se := Classify("sync failed", err)
	s.telemetry.Metrics.RecordError(string(se.Class))

	if p == nil {
		return se
	}
	if se.Provider == "" {
		se.Provider = p.Name
	}
	var elapsed time.Duration
	if run != nil {
		elapsed = s.now().Sub(run.StartedAt)
	}
	s.telemetry.Metrics.RecordSync(p.Name, string(p.Config.Kind), string(stores.SyncStatusFailed), elapsed)
	s.logger.WithProvider(p.Name, string(p.Config.Kind)).
		WithError(se).
		WithField("class", string(se.Class)).
		Error("sync failed")

	if run != nil {
		msg := se.Error()
		if err := s.store.CompleteSyncRun(context.Background(), run.ID, stores.SyncStatusFailed, &msg, ""); err != nil {
			s.logger.WithError(err).Warn("failed to complete sync run record")
		}
		run.Status = stores.SyncStatusFailed
		run.Error = &msg
	}
	return se
}

func (s *Syncer) observe(p *provider.Provider, r *SyncReport) {
	m := s.telemetry.Metrics
	m.RecordSync(p.Name, string(p.Config.Kind), string(stores.SyncStatusCompleted), r.Duration())
	for role, n := range r.Discovered {
		if role == "needs_assignment" {
			continue
		}
		m.SetDiscovered(p.Name, role, n)
	}
	m.SetNeedsAssignment(p.Name, len(r.NeedsAssignment))

	for entity, c := range map[string]reconcile.Changes{
		"host":         r.Hosts,
		"instance":     r.Instances,
		"service":      r.Services,
		"group_member": r.GroupMembers,
	} {
		m.RecordChanges(p.Name, entity, "created", c.Created)
		m.RecordChanges(p.Name, entity, "updated", c.Updated)
		m.RecordChanges(p.Name, entity, "pruned", c.Pruned)
		m.RecordChanges(p.Name, entity, "skipped", c.Skipped)
	}
}

func (s *Syncer) audit(ctx context.Context, action, target string, details map[string]interface{}) {
	entry := &stores.AuditEntry{Action: action, Actor: s.actor, TargetID: &target}
	if data, err := json.Marshal(details); err == nil {
		d := string(data)
		entry.Details = &d
	}
	if err := s.store.CreateAuditEntry(ctx, entry); err != nil {
		s.logger.WithError(err).WithField("action", action).Warn("failed to write audit entry")
	}
}

// discoveryError classifies a discovery failure. Anything that is not a
// validation or decode problem came from talking to the backend.
func discoveryError(p *provider.Provider, err error) *SyncError {
	return connectivity("discovery failed", err).WithProvider(p.Name).WithOperation("discover")
}

func connectivity(message string, err error) *SyncError {
	se := Classify(message, err)
	if se.Class == ErrorClassInternal && !errors.Is(err, discovery.ErrDecode) {
		se.Class = ErrorClassConnectivity
		se.Code = ErrCodeBackendFailed
	}
	return se
}

package statebackend

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/fleetdeck/fleetdeck/pkg/classify"
	"github.com/fleetdeck/fleetdeck/pkg/discovery"
	"github.com/fleetdeck/fleetdeck/pkg/inventory"
	"github.com/fleetdeck/fleetdeck/pkg/provider"
	"github.com/fleetdeck/fleetdeck/pkg/telemetry"
)

// Metadata keys set on discovered services and hosts.
const (
	MetaResourceID   = "resource_id"
	MetaResourceType = "resource_type"
	MetaModule       = "module"
)

// MappedResource is one classified resource instance of the state.
type MappedResource struct {
	ID          string              `json:"id"`
	Type        string              `json:"type"`
	Name        string              `json:"name"`
	Module      string              `json:"module,omitempty"`
	Role        classify.Role       `json:"role"`
	DisplayName string              `json:"display_name"`
	Label       string              `json:"label"`
	Endpoint    string              `json:"endpoint,omitempty"`
	Port        int                 `json:"port,omitempty"`
	Connectable bool                `json:"connectable"`
	Attributes  classify.Attributes `json:"-"`

	// SuggestedGroup is derived from tags and keywords, MappedGroup from a
	// stored ResourceMapping. The mapping wins.
	SuggestedGroup string `json:"suggested_group,omitempty"`
	MappedGroup    string `json:"mapped_group,omitempty"`
}

// EffectiveGroup returns the mapped group, else the suggestion.
func (r MappedResource) EffectiveGroup() string {
	if r.MappedGroup != "" {
		return r.MappedGroup
	}
	return r.SuggestedGroup
}

// NeedsAssignment reports a resource with no resolvable group.
func (r MappedResource) NeedsAssignment() bool {
	return r.EffectiveGroup() == ""
}

// Preview is the classified view of a state document.
type Preview struct {
	Location         string           `json:"location"`
	TerraformVersion string           `json:"terraform_version"`
	Serial           int              `json:"serial"`
	Lineage          string           `json:"lineage"`
	Resources        []MappedResource `json:"resources"`
	// Unmapped counts managed resource instances whose type is not in the table.
	Unmapped int `json:"unmapped"`
}

// NeedsAssignment lists resources without a resolvable group.
func (p *Preview) NeedsAssignment() []MappedResource {
	var out []MappedResource
	for _, r := range p.Resources {
		if r.NeedsAssignment() {
			out = append(out, r)
		}
	}
	return out
}

// Resource returns the resource with the given identity, or nil.
func (p *Preview) Resource(id string) *MappedResource {
	for i := range p.Resources {
		if p.Resources[i].ID == id {
			return &p.Resources[i]
		}
	}
	return nil
}

// Adapter classifies state documents.
type Adapter struct {
	loader Loader
	logger *telemetry.Logger
}

// NewAdapter creates an adapter reading documents through loader.
func NewAdapter(loader Loader, logger *telemetry.Logger) *Adapter {
	if logger == nil {
		logger = telemetry.Nop()
	}
	return &Adapter{loader: loader, logger: logger.NewComponentLogger("statebackend")}
}

// Preview loads and classifies the document at cfg. groups are the existing
// group names used for suggestions; mappings may be nil.
func (a *Adapter) Preview(ctx context.Context, cfg provider.StateBackendConfig, groups []string, mappings []provider.ResourceMapping) (*Preview, error) {
	if err := provider.StateBackendVariant(cfg).Validate(); err != nil {
		return nil, err
	}

	data, err := a.loader.Load(ctx, cfg)
	if err != nil {
		return nil, err
	}
	doc, err := ParseDocument(data)
	if err != nil {
		return nil, err
	}

	mapped := make(map[string]string, len(mappings))
	for _, m := range mappings {
		mapped[m.ResourceID] = m.Group
	}

	preview := &Preview{
		Location:         cfg.Location(),
		TerraformVersion: doc.TerraformVersion,
		Serial:           doc.Serial,
		Lineage:          doc.Lineage,
		Resources:        []MappedResource{},
	}

	for _, res := range doc.Resources {
		if res.Mode != ModeManaged {
			continue
		}
		mapping, ok := classify.Lookup(res.Type)
		if !ok {
			preview.Unmapped += len(res.Instances)
			continue
		}

		for _, inst := range res.Instances {
			attrs := inst.Attributes
			if attrs == nil {
				attrs = classify.Attributes{}
			}
			endpoint, port := mapping.Extract(attrs)
			displayName := classify.ResourceName(attrs, res.Name)
			id := res.Address(inst)

			preview.Resources = append(preview.Resources, MappedResource{
				ID:             id,
				Type:           res.Type,
				Name:           res.Name,
				Module:         res.Module,
				Role:           mapping.Role,
				DisplayName:    displayName,
				Label:          mapping.ServiceLabel(attrs),
				Endpoint:       endpoint,
				Port:           port,
				Connectable:    mapping.Role == classify.RoleHost && endpoint != "",
				Attributes:     attrs,
				SuggestedGroup: classify.SuggestGroup(attrs, res.Name, displayName, groups),
				MappedGroup:    mapped[id],
			})
		}
	}

	sort.SliceStable(preview.Resources, func(i, j int) bool {
		return preview.Resources[i].ID < preview.Resources[j].ID
	})
	return preview, nil
}

// Discover produces the entity set of a state-backend provider. Only
// resources whose effective group is the provider's group are included;
// unresolved ones are reported in NeedsAssignment. Services attach to a
// synthetic Host named after the provider.
func (a *Adapter) Discover(ctx context.Context, p *provider.Provider, groups []string) (*discovery.Result, error) {
	if p.Config.Kind != provider.KindStateBackend || p.Config.StateBackend == nil {
		return nil, fmt.Errorf("%w: provider %s is not a state-backend provider", provider.ErrInvalid, p.Name)
	}
	cfg := *p.Config.StateBackend
	logger := a.logger.WithProvider(p.Name, string(p.Config.Kind)).WithField("location", cfg.Location())

	candidates := groups
	if !containsFold(groups, p.Group) {
		candidates = append(append([]string{}, groups...), p.Group)
	}
	preview, err := a.Preview(ctx, cfg, candidates, p.ResourceMappings)
	if err != nil {
		return nil, err
	}

	source := p.Source()
	result := discovery.NewResult(p.Name, p.Group)
	result.AddHost(SyntheticHost(p))

	skipped := 0
	for _, r := range preview.Resources {
		if r.NeedsAssignment() {
			result.NeedsAssignment = append(result.NeedsAssignment, discovery.Unassigned{
				ResourceID: r.ID,
				Type:       r.Type,
				Name:       r.DisplayName,
			})
			continue
		}
		if r.EffectiveGroup() != p.Group {
			skipped++
			continue
		}

		meta := map[string]string{
			MetaResourceID:   r.ID,
			MetaResourceType: r.Type,
		}
		if r.Module != "" {
			meta[MetaModule] = r.Module
		}

		if r.Role == classify.RoleHost {
			connType := inventory.ConnectionStateBackend
			if r.Connectable {
				connType = inventory.ConnectionSSH
			}
			if !result.AddHost(inventory.Host{
				Name:           r.DisplayName,
				Address:        r.Endpoint,
				ConnectionType: connType,
				Source:         source,
				Connectable:    r.Connectable,
			}) {
				result.Warn(fmt.Sprintf("duplicate host name %q from %s, skipped", r.DisplayName, r.ID))
			}
			continue
		}

		if !result.AddService(p.Name, inventory.Service{
			Name:     r.DisplayName,
			Process:  r.Label,
			Endpoint: r.Endpoint,
			Port:     r.Port,
			Source:   source,
			Metadata: meta,
		}) {
			result.Warn(fmt.Sprintf("duplicate service name %q from %s, skipped", r.DisplayName, r.ID))
		}
	}

	logger.WithFields(map[string]interface{}{
		"resources":        len(preview.Resources),
		"services":         len(result.Services),
		"hosts":            len(result.Hosts) - 1,
		"needs_assignment": len(result.NeedsAssignment),
		"other_groups":     skipped,
		"unmapped":         preview.Unmapped,
	}).Info("state discovery complete")
	return result, nil
}

// SyntheticHost is the single Host holding a provider's state services.
func SyntheticHost(p *provider.Provider) inventory.Host {
	address := ""
	if p.Config.StateBackend != nil {
		address = p.Config.StateBackend.Location()
	}
	return inventory.Host{
		Name:           p.Name,
		Address:        address,
		ConnectionType: inventory.ConnectionStateBackend,
		Source:         p.Source(),
		Connectable:    false,
	}
}

func containsFold(list []string, v string) bool {
	for _, s := range list {
		if strings.EqualFold(s, v) {
			return true
		}
	}
	return false
}

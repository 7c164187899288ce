package cluster

import (
	"context"
	"fmt"
	"sort"

	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"

	"github.com/fleetdeck/fleetdeck/pkg/classify"
	"github.com/fleetdeck/fleetdeck/pkg/discovery"
	"github.com/fleetdeck/fleetdeck/pkg/inventory"
	"github.com/fleetdeck/fleetdeck/pkg/provider"
	"github.com/fleetdeck/fleetdeck/pkg/telemetry"
)

// Metadata keys set on discovered entities.
const (
	MetaNamespace = "namespace"
	MetaWorkload  = "workload"
	MetaImage     = "image"
	MetaPod       = "pod"
)

// Adapter turns cluster objects into entities.
type Adapter struct {
	client Client
	logger *telemetry.Logger
}

// NewAdapter creates an adapter over the given client.
func NewAdapter(client Client, logger *telemetry.Logger) *Adapter {
	if logger == nil {
		logger = telemetry.Nop()
	}
	return &Adapter{client: client, logger: logger.NewComponentLogger("cluster")}
}

// NodeInfo describes one node in a preview.
type NodeInfo struct {
	Name    string `json:"name"`
	Address string `json:"address"`
}

// NamespacePreview summarizes what a sync of one namespace would produce.
type NamespacePreview struct {
	Namespace string   `json:"namespace"`
	Instances []string `json:"instances"`
	Services  []string `json:"services"`
}

// InstanceCount returns the number of distinct instances.
func (n NamespacePreview) InstanceCount() int { return len(n.Instances) }

// ServiceCount returns the number of distinct services.
func (n NamespacePreview) ServiceCount() int { return len(n.Services) }

// Preview is the read-only view of a cluster used before creating a provider.
type Preview struct {
	Context    string             `json:"context"`
	Nodes      []NodeInfo         `json:"nodes"`
	Namespaces []NamespacePreview `json:"namespaces"`
}

// Namespace returns the preview of one namespace, or nil.
func (p *Preview) Namespace(name string) *NamespacePreview {
	for i := range p.Namespaces {
		if p.Namespaces[i].Namespace == name {
			return &p.Namespaces[i]
		}
	}
	return nil
}

// Preview lists every namespace with the names a sync would produce, plus
// the node list. It never mutates anything.
func (a *Adapter) Preview(ctx context.Context, cfg provider.ClusterConfig) (*Preview, error) {
	nodes, err := a.client.ListNodes(ctx)
	if err != nil {
		return nil, err
	}
	namespaces, err := a.client.ListNamespaces(ctx)
	if err != nil {
		return nil, err
	}
	pods, err := a.client.ListPods(ctx, "")
	if err != nil {
		return nil, err
	}

	preview := &Preview{Context: cfg.Context, Nodes: []NodeInfo{}, Namespaces: []NamespacePreview{}}
	for _, n := range nodes {
		preview.Nodes = append(preview.Nodes, NodeInfo{Name: n.Name, Address: NodeAddress(n)})
	}

	byNamespace := map[string]*NamespacePreview{}
	for _, ns := range namespaces {
		byNamespace[ns.Name] = &NamespacePreview{Namespace: ns.Name, Instances: []string{}, Services: []string{}}
	}
	for _, pod := range pods {
		w, ok := classifyPod(pod, cfg.PrivateRegistries)
		if !ok {
			continue
		}
		np := byNamespace[pod.Namespace]
		if np == nil {
			np = &NamespacePreview{Namespace: pod.Namespace, Instances: []string{}, Services: []string{}}
			byNamespace[pod.Namespace] = np
		}
		if w.role == classify.RoleInstance {
			np.Instances = appendUnique(np.Instances, pod.Name)
		} else {
			np.Services = appendUnique(np.Services, w.displayName)
		}
	}

	for _, np := range byNamespace {
		preview.Namespaces = append(preview.Namespaces, *np)
	}
	sort.Slice(preview.Namespaces, func(i, j int) bool {
		return preview.Namespaces[i].Namespace < preview.Namespaces[j].Namespace
	})

	a.logger.WithField("context", cfg.Context).
		WithField("nodes", len(preview.Nodes)).
		WithField("namespaces", len(preview.Namespaces)).
		Debug("cluster preview complete")
	return preview, nil
}

// Discover produces the entity set of a cluster provider: every node as a
// Host, and the running pods of the provider's namespace as Instances or
// Services. A namespace missing from the cluster yields an empty result.
func (a *Adapter) Discover(ctx context.Context, p *provider.Provider) (*discovery.Result, error) {
	if p.Config.Kind != provider.KindCluster || p.Config.Cluster == nil {
		return nil, fmt.Errorf("%w: provider %s is not a cluster provider", provider.ErrInvalid, p.Name)
	}
	cfg := p.Config.Cluster
	namespace := p.Namespace()
	source := p.Source()
	logger := a.logger.WithProvider(p.Name, string(p.Config.Kind)).WithField("namespace", namespace)

	result := discovery.NewResult(p.Name, p.Group)

	namespaces, err := a.client.ListNamespaces(ctx)
	if err != nil {
		return nil, err
	}
	if !hasNamespace(namespaces, namespace) {
		logger.Warn("namespace not found on cluster, treating as empty")
		result.Warn(fmt.Sprintf("namespace %q not found on cluster", namespace))
		return result, nil
	}

	nodes, err := a.client.ListNodes(ctx)
	if err != nil {
		return nil, err
	}
	for _, n := range nodes {
		result.AddHost(inventory.Host{
			Name:           n.Name,
			Address:        NodeAddress(n),
			ConnectionType: inventory.ConnectionCluster,
			Source:         source,
			Connectable:    false,
		})
	}

	pods, err := a.client.ListPods(ctx, namespace)
	if err != nil {
		return nil, err
	}

	for _, pod := range pods {
		w, ok := classifyPod(pod, cfg.PrivateRegistries)
		if !ok {
			logger.WithField("pod", pod.Name).Debug("skipping pod without containers")
			continue
		}
		meta := map[string]string{
			MetaNamespace: pod.Namespace,
			MetaWorkload:  w.displayName,
			MetaImage:     w.image,
			MetaPod:       pod.Name,
		}

		if w.role == classify.RoleInstance {
			result.AddInstance(inventory.Instance{
				Name:     pod.Name,
				Host:     pod.Spec.NodeName,
				Source:   source,
				Metadata: meta,
			})
			continue
		}

		if pod.Spec.NodeName == "" {
			msg := fmt.Sprintf("service %q from pod %q has no node assignment, skipped", w.displayName, pod.Name)
			logger.Warn(msg)
			result.Warn(msg)
			continue
		}
		result.AddService(pod.Spec.NodeName, inventory.Service{
			Name:     w.displayName,
			Process:  w.image,
			Source:   source,
			Metadata: meta,
		})
	}

	logger.WithFields(map[string]interface{}{
		"hosts":     len(result.Hosts),
		"instances": len(result.Instances),
		"services":  len(result.Services),
	}).Info("cluster discovery complete")
	return result, nil
}

type workload struct {
	role        classify.Role
	displayName string
	image       string
}

func classifyPod(pod corev1.Pod, registries []string) (workload, bool) {
	if len(pod.Spec.Containers) == 0 {
		return workload{}, false
	}
	image := pod.Spec.Containers[0].Image

	var ownerKind, ownerName string
	if owner := ownerOf(pod); owner != nil {
		ownerKind, ownerName = owner.Kind, owner.Name
	}

	return workload{
		role:        classify.ClassifyImage(image, registries),
		displayName: classify.DisplayName(pod.Name, ownerKind, ownerName),
		image:       image,
	}, true
}

// ownerOf prefers the controller reference and falls back to the first owner.
func ownerOf(pod corev1.Pod) *metav1.OwnerReference {
	if ref := metav1.GetControllerOf(&pod); ref != nil {
		return ref
	}
	if len(pod.OwnerReferences) > 0 {
		return &pod.OwnerReferences[0]
	}
	return nil
}

// NodeAddress returns the node's InternalIP, falling back to its first
// address.
func NodeAddress(n corev1.Node) string {
	for _, addr := range n.Status.Addresses {
		if addr.Type == corev1.NodeInternalIP {
			return addr.Address
		}
	}
	if len(n.Status.Addresses) > 0 {
		return n.Status.Addresses[0].Address
	}
	return ""
}

func hasNamespace(namespaces []corev1.Namespace, name string) bool {
	for _, ns := range namespaces {
		if ns.Name == name {
			return true
		}
	}
	return false
}

func appendUnique(list []string, v string) []string {
	for _, existing := range list {
		if existing == v {
			return list
		}
	}
	return append(list, v)
}

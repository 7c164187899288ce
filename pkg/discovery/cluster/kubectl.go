package cluster

import (
	"context"
	"encoding/json"
	"fmt"

	corev1 "k8s.io/api/core/v1"

	"github.com/fleetdeck/fleetdeck/pkg/discovery"
	"github.com/fleetdeck/fleetdeck/pkg/provider"
	"github.com/fleetdeck/fleetdeck/pkg/runner"
)

// KubectlClient queries the cluster by shelling out to kubectl.
type KubectlClient struct {
	runner     runner.Runner
	binary     string
	context    string
	kubeconfig string
}

// NewKubectlClient creates a client for the cluster config. An empty binary
// means "kubectl" on PATH.
func NewKubectlClient(r runner.Runner, binary string, cfg provider.ClusterConfig) *KubectlClient {
	if binary == "" {
		binary = "kubectl"
	}
	return &KubectlClient{
		runner:     r,
		binary:     binary,
		context:    cfg.Context,
		kubeconfig: cfg.Kubeconfig,
	}
}

// ListNodes implements Client.
func (k *KubectlClient) ListNodes(ctx context.Context) ([]corev1.Node, error) {
	var list corev1.NodeList
	if err := k.get(ctx, &list, "nodes"); err != nil {
		return nil, err
	}
	return list.Items, nil
}

// ListNamespaces implements Client.
func (k *KubectlClient) ListNamespaces(ctx context.Context) ([]corev1.Namespace, error) {
	var list corev1.NamespaceList
	if err := k.get(ctx, &list, "namespaces"); err != nil {
		return nil, err
	}
	return list.Items, nil
}

// ListPods implements Client.
func (k *KubectlClient) ListPods(ctx context.Context, namespace string) ([]corev1.Pod, error) {
	args := []string{"pods"}
	if namespace == "" {
		args = append(args, "--all-namespaces")
	} else {
		args = append(args, "--namespace", namespace)
	}
	args = append(args, "--field-selector=status.phase=Running")

	var list corev1.PodList
	if err := k.get(ctx, &list, args...); err != nil {
		return nil, err
	}
	return runningOnly(list.Items), nil
}

func (k *KubectlClient) get(ctx context.Context, into interface{}, args ...string) error {
	cmd := runner.Command{Name: k.binary, Args: k.args(append([]string{"get"}, append(args, "-o", "json")...)...)}
	res, err := k.runner.Run(ctx, cmd)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(res.Stdout, into); err != nil {
		return fmt.Errorf("%w: kubectl %s: %v", discovery.ErrDecode, args[0], err)
	}
	return nil
}

func (k *KubectlClient) args(rest ...string) []string {
	var args []string
	if k.context != "" {
		args = append(args, "--context", k.context)
	}
	if k.kubeconfig != "" {
		args = append(args, "--kubeconfig", k.kubeconfig)
	}
	return append(args, rest...)
}

var _ Client = (*KubectlClient)(nil)

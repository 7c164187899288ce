package cluster

import (
	"context"
	"fmt"
	"time"

	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/tools/clientcmd"

	"github.com/fleetdeck/fleetdeck/pkg/provider"
)

// ClientGoClient queries the cluster through client-go.
type ClientGoClient struct {
	clientset kubernetes.Interface
	timeout   time.Duration
}

// NewClientGoClient builds a clientset from the kubeconfig path (or the
// default loading rules) with the configured context.
func NewClientGoClient(cfg provider.ClusterConfig, timeout time.Duration) (*ClientGoClient, error) {
	rules := clientcmd.NewDefaultClientConfigLoadingRules()
	if cfg.Kubeconfig != "" {
		rules.ExplicitPath = cfg.Kubeconfig
	}
	overrides := &clientcmd.ConfigOverrides{CurrentContext: cfg.Context}

	restConfig, err := clientcmd.NewNonInteractiveDeferredLoadingClientConfig(rules, overrides).ClientConfig()
	if err != nil {
		return nil, fmt.Errorf("could not load kubernetes config for context %q: %w", cfg.Context, err)
	}
	restConfig.Timeout = timeout

	clientset, err := kubernetes.NewForConfig(restConfig)
	if err != nil {
		return nil, fmt.Errorf("could not create kubernetes client: %w", err)
	}
	return NewClientGoClientFromInterface(clientset, timeout), nil
}

// NewClientGoClientFromInterface wraps an existing clientset.
func NewClientGoClientFromInterface(clientset kubernetes.Interface, timeout time.Duration) *ClientGoClient {
	return &ClientGoClient{clientset: clientset, timeout: timeout}
}

func (c *ClientGoClient) bound(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, c.timeout)
}

// ListNodes implements Client.
func (c *ClientGoClient) ListNodes(ctx context.Context) ([]corev1.Node, error) {
	ctx, cancel := c.bound(ctx)
	defer cancel()

	list, err := c.clientset.CoreV1().Nodes().List(ctx, metav1.ListOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to list nodes: %w", err)
	}
	return list.Items, nil
}

// ListNamespaces implements Client.
func (c *ClientGoClient) ListNamespaces(ctx context.Context) ([]corev1.Namespace, error) {
	ctx, cancel := c.bound(ctx)
	defer cancel()

	list, err := c.clientset.CoreV1().Namespaces().List(ctx, metav1.ListOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to list namespaces: %w", err)
	}
	return list.Items, nil
}

// ListPods implements Client.
func (c *ClientGoClient) ListPods(ctx context.Context, namespace string) ([]corev1.Pod, error) {
	ctx, cancel := c.bound(ctx)
	defer cancel()

	// metav1.NamespaceAll is "", so an empty namespace lists every namespace.
	list, err := c.clientset.CoreV1().Pods(namespace).List(ctx, metav1.ListOptions{
		FieldSelector: "status.phase=" + string(corev1.PodRunning),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list pods: %w", err)
	}
	return runningOnly(list.Items), nil
}

var _ Client = (*ClientGoClient)(nil)

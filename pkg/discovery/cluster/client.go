// Package cluster discovers Hosts, Instances and Services from a Kubernetes
// cluster.
package cluster

import (
	"context"

	corev1 "k8s.io/api/core/v1"
)

// Client is the cluster query surface the adapter consumes.
type Client interface {
	ListNodes(ctx context.Context) ([]corev1.Node, error)
	ListNamespaces(ctx context.Context) ([]corev1.Namespace, error)
	// ListPods returns running pods. An empty namespace lists all namespaces.
	ListPods(ctx context.Context, namespace string) ([]corev1.Pod, error)
}

// runningOnly drops pods outside the Running phase. Both clients apply it so
// the result does not depend on server-side field selectors.
func runningOnly(pods []corev1.Pod) []corev1.Pod {
	out := pods[:0]
	for _, p := range pods {
		if p.Status.Phase == corev1.PodRunning {
			out = append(out, p)
		}
	}
	return out
}

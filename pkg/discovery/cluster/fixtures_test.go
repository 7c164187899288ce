package cluster

import (
	"context"

	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
)

func node(name, internalIP string) corev1.Node {
	n := corev1.Node{ObjectMeta: metav1.ObjectMeta{Name: name}}
	if internalIP != "" {
		n.Status.Addresses = []corev1.NodeAddress{
			{Type: corev1.NodeHostName, Address: name},
			{Type: corev1.NodeInternalIP, Address: internalIP},
		}
	}
	return n
}

func namespace(name string) corev1.Namespace {
	return corev1.Namespace{ObjectMeta: metav1.ObjectMeta{Name: name}}
}

func pod(ns, name, nodeName, image string, owner *metav1.OwnerReference) corev1.Pod {
	p := corev1.Pod{
		ObjectMeta: metav1.ObjectMeta{Name: name, Namespace: ns},
		Spec: corev1.PodSpec{
			NodeName:   nodeName,
			Containers: []corev1.Container{{Name: "main", Image: image}},
		},
		Status: corev1.PodStatus{Phase: corev1.PodRunning},
	}
	if owner != nil {
		p.OwnerReferences = []metav1.OwnerReference{*owner}
	}
	return p
}

func replicaSet(name string) *metav1.OwnerReference {
	controller := true
	return &metav1.OwnerReference{APIVersion: "apps/v1", Kind: "ReplicaSet", Name: name, Controller: &controller}
}

// fakeClient serves fixed objects and filters pods by namespace and phase.
type fakeClient struct {
	nodes      []corev1.Node
	namespaces []corev1.Namespace
	pods       []corev1.Pod
	err        error
}

func (f *fakeClient) ListNodes(_ context.Context) ([]corev1.Node, error) {
	return f.nodes, f.err
}

func (f *fakeClient) ListNamespaces(_ context.Context) ([]corev1.Namespace, error) {
	return f.namespaces, f.err
}

func (f *fakeClient) ListPods(_ context.Context, ns string) ([]corev1.Pod, error) {
	if f.err != nil {
		return nil, f.err
	}
	var out []corev1.Pod
	for _, p := range f.pods {
		if ns == "" || p.Namespace == ns {
			out = append(out, p)
		}
	}
	return runningOnly(out), nil
}

// Copyright 2025 The CAAPF Authors
// SPDX-License-Identifier: Apache-2.0

package cluster

import (
	"context"
	"encoding/json"
	"fmt"

	corev1 "k8s.io/api/core/v1"
	apiextensionsv1 "k8s.io/apiextensions-apiserver/pkg/apis/apiextensions/v1"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/runtime"
	clusterv1 "sigs.k8s.io/cluster-api/api/v1beta1"
	"sigs.k8s.io/controller-runtime/pkg/client"
)

// Keys of the fleet cluster template values.
const (
	TemplateKeyCluster               = "Cluster"
	TemplateKeyControlPlane          = "ControlPlane"
	TemplateKeyInfrastructureCluster = "InfrastructureCluster"
)

// TemplateSources are the objects exposed to fleet bundle templating.
type TemplateSources struct {
	Cluster *clusterv1.Cluster
}

// Resolve reads the control plane and infrastructure objects of the cluster
// and returns them, with the cluster itself, as template values. Volatile
// fields are stripped so the values only change with the spec.
func (t TemplateSources) Resolve(ctx context.Context, c client.Reader) (map[string]apiextensionsv1.JSON, error) {
	cluster := t.Cluster.DeepCopy()
	cluster.Status = clusterv1.ClusterStatus{}
	cluster.ManagedFields = nil
	cluster.ResourceVersion = ""
	cluster.SetGroupVersionKind(clusterv1.GroupVersion.WithKind("Cluster"))

	clusterContent, err := runtime.DefaultUnstructuredConverter.ToUnstructured(cluster)
	if err != nil {
		return nil, fmt.Errorf("convert cluster: %w", err)
	}
	// the typed status is not a pointer and would leave an empty object behind
	delete(clusterContent, "status")

	controlPlane, err := fetchReference(ctx, c, t.Cluster.Spec.ControlPlaneRef, t.Cluster.Namespace)
	if err != nil {
		return nil, fmt.Errorf("fetch control plane: %w", err)
	}
	infrastructure, err := fetchReference(ctx, c, t.Cluster.Spec.InfrastructureRef, t.Cluster.Namespace)
	if err != nil {
		return nil, fmt.Errorf("fetch infrastructure cluster: %w", err)
	}

	values := map[string]apiextensionsv1.JSON{}
	for key, content := range map[string]map[string]any{
		TemplateKeyCluster:               clusterContent,
		TemplateKeyControlPlane:          controlPlane,
		TemplateKeyInfrastructureCluster: infrastructure,
	} {
		raw, err := json.Marshal(content)
		if err != nil {
			return nil, fmt.Errorf("marshal %s: %w", key, err)
		}
		values[key] = apiextensionsv1.JSON{Raw: raw}
	}
	return values, nil
}

func fetchReference(ctx context.Context, c client.Reader, ref *corev1.ObjectReference, defaultNamespace string) (map[string]any, error) {
	if ref == nil {
		return nil, fmt.Errorf("reference is not set")
	}
	obj := &unstructured.Unstructured{}
	obj.SetGroupVersionKind(ref.GroupVersionKind())

	namespace := ref.Namespace
	if namespace == "" {
		namespace = defaultNamespace
	}
	if err := c.Get(ctx, client.ObjectKey{Namespace: namespace, Name: ref.Name}, obj); err != nil {
		return nil, err
	}

	content := obj.UnstructuredContent()
	delete(content, "status")
	unstructured.RemoveNestedField(content, "metadata", "managedFields")
	unstructured.RemoveNestedField(content, "metadata", "resourceVersion")
	return content, nil
}

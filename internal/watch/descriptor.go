// Copyright 2025 The CAAPF Authors
// SPDX-License-Identifier: Apache-2.0

package watch

import (
	"fmt"
	"sort"

	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/fields"
	"k8s.io/apimachinery/pkg/labels"
	"k8s.io/apimachinery/pkg/runtime/schema"
	clusterv1 "sigs.k8s.io/cluster-api/api/v1beta1"
	"sigs.k8s.io/controller-runtime/pkg/client"

	addonsv1alpha1 "github.com/rancher/cluster-api-addon-provider-fleet/api/v1alpha1"
	"github.com/rancher/cluster-api-addon-provider-fleet/internal/controller"
)

var (
	// ClusterGVK is the CAPI Cluster kind driven by the dynamic watches.
	ClusterGVK = clusterv1.GroupVersion.WithKind("Cluster")
	// NamespaceGVK is the Namespace kind used for namespace expansion.
	NamespaceGVK = corev1.SchemeGroupVersion.WithKind("Namespace")
)

// Descriptor identifies one logical watch. An empty Namespace watches the whole cluster.
type Descriptor struct {
	GVK           schema.GroupVersionKind
	Namespace     string
	LabelSelector string
	FieldSelector string
}

// Key is the canonical identity of the descriptor.
func (d Descriptor) Key() string {
	return fmt.Sprintf("%s|%s|%s|%s", d.GVK.String(), d.Namespace, d.LabelSelector, d.FieldSelector)
}

func (d Descriptor) String() string {
	scope := d.Namespace
	if scope == "" {
		scope = "*"
	}
	return fmt.Sprintf("%s in %s (labels=%q, fields=%q)", d.GVK.Kind, scope, d.LabelSelector, d.FieldSelector)
}

// ListOptions parses the selectors into controller-runtime list options.
func (d Descriptor) ListOptions() (*client.ListOptions, error) {
	opts := &client.ListOptions{Namespace: d.Namespace}
	if d.LabelSelector != "" {
		sel, err := labels.Parse(d.LabelSelector)
		if err != nil {
			return nil, &controller.SelectorParseError{Selector: d.LabelSelector, Err: err}
		}
		opts.LabelSelector = sel
	}
	if d.FieldSelector != "" {
		sel, err := fields.ParseSelector(d.FieldSelector)
		if err != nil {
			return nil, &controller.SelectorParseError{Selector: d.FieldSelector, Err: err}
		}
		opts.FieldSelector = sel
	}
	return opts, nil
}

// NamespacedClusters returns the descriptor watching every CAPI Cluster in namespace.
func NamespacedClusters(namespace string) Descriptor {
	return Descriptor{GVK: ClusterGVK, Namespace: namespace}
}

// DescriptorsFor computes the watch set driven by the addon configuration:
// CAPI Clusters matching the cluster selector and Namespaces matching the
// namespace selector.
func DescriptorsFor(cfg *addonsv1alpha1.FleetAddonConfig) ([]Descriptor, error) {
	clusterSelector, err := cfg.ClusterSelector()
	if err != nil {
		return nil, &controller.SelectorParseError{Selector: formatSelector(cfg.Spec.Cluster, true), Err: err}
	}
	namespaceSelector, err := cfg.NamespaceSelector()
	if err != nil {
		return nil, &controller.SelectorParseError{Selector: formatSelector(cfg.Spec.Cluster, false), Err: err}
	}

	return []Descriptor{
		{GVK: ClusterGVK, LabelSelector: clusterSelector.String()},
		{GVK: NamespaceGVK, LabelSelector: namespaceSelector.String()},
	}, nil
}

// Keys returns the sorted keys of descriptors.
func Keys(descriptors []Descriptor) []string {
	keys := make([]string, 0, len(descriptors))
	for _, d := range descriptors {
		keys = append(keys, d.Key())
	}
	sort.Strings(keys)
	return keys
}

func formatSelector(c *addonsv1alpha1.ClusterConfig, cluster bool) string {
	if c == nil {
		return ""
	}
	if cluster {
		return metav1.FormatLabelSelector(c.Selector)
	}
	return metav1.FormatLabelSelector(c.NamespaceSelector)
}

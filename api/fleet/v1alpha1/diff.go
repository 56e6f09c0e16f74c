// Copyright 2025 The CAAPF Authors
// SPDX-License-Identifier: Apache-2.0

package v1alpha1

import (
	"k8s.io/apimachinery/pkg/api/equality"
	"sigs.k8s.io/controller-runtime/pkg/client"

	"github.com/rancher/cluster-api-addon-provider-fleet/pkg/diff"
)

// Diff reports whether the desired fleet cluster differs from live in the fields managed by the addon provider.
func (c *Cluster) Diff(live client.Object) bool {
	l, ok := live.(*Cluster)
	if !ok {
		return true
	}

	specEqual := diff.JSONSuperset(c.Spec.TemplateValues, l.Spec.TemplateValues) &&
		c.Spec.AgentNamespace == l.Spec.AgentNamespace &&
		equality.Semantic.DeepEqual(c.Spec.HostNetwork, l.Spec.HostNetwork) &&
		equality.Semantic.DeepEqual(c.Spec.AgentEnvVars, l.Spec.AgentEnvVars) &&
		equality.Semantic.DeepEqual(c.Spec.AgentTolerations, l.Spec.AgentTolerations)
	if !specEqual {
		return true
	}

	return !diff.MetadataSuperset(c, l)
}

// Diff reports whether the desired cluster group differs from live.
func (g *ClusterGroup) Diff(live client.Object) bool {
	l, ok := live.(*ClusterGroup)
	if !ok {
		return true
	}
	return !equality.Semantic.DeepEqual(g.Spec, l.Spec) || !diff.MetadataSuperset(g, l)
}

// Diff reports whether the desired mapping differs from live.
func (m *BundleNamespaceMapping) Diff(live client.Object) bool {
	l, ok := live.(*BundleNamespaceMapping)
	if !ok {
		return true
	}
	return !equality.Semantic.DeepEqual(m.BundleSelector, l.BundleSelector) ||
		!equality.Semantic.DeepEqual(m.NamespaceSelector, l.NamespaceSelector) ||
		!diff.MetadataSuperset(m, l)
}

// Diff reports whether the desired token differs from live.
func (t *ClusterRegistrationToken) Diff(live client.Object) bool {
	l, ok := live.(*ClusterRegistrationToken)
	if !ok {
		return true
	}
	return !equality.Semantic.DeepEqual(t.Spec, l.Spec)
}

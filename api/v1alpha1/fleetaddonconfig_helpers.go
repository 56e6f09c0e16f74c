// Copyright 2025 The CAAPF Authors
// SPDX-License-Identifier: Apache-2.0

package v1alpha1

import (
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/labels"
	"k8s.io/utils/ptr"
)

const (
	// DefaultAgentNamespace is the namespace fleet agents are installed into when none is configured.
	DefaultAgentNamespace = "cattle-fleet-system"
)

// NewDefaultFleetAddonConfig returns the configuration used when no FleetAddonConfig object exists.
func NewDefaultFleetAddonConfig() *FleetAddonConfig {
	return &FleetAddonConfig{
		TypeMeta: metav1.TypeMeta{
			APIVersion: GroupVersion.String(),
			Kind:       "FleetAddonConfig",
		},
		ObjectMeta: metav1.ObjectMeta{Name: FleetAddonConfigName},
		Spec: FleetAddonConfigSpec{
			Cluster:      &ClusterConfig{},
			ClusterClass: &ClusterClassConfig{},
		},
	}
}

// ClusterOperationsEnabled reports whether CAPI clusters are imported into fleet.
func (c *FleetAddonConfig) ClusterOperationsEnabled() bool {
	return c.Spec.Cluster != nil && ptr.Deref(c.Spec.Cluster.Enabled, true)
}

// ClusterPatchEnabled reports whether fleet cluster resources are kept in sync after creation.
func (c *FleetAddonConfig) ClusterPatchEnabled() bool {
	return c.Spec.Cluster != nil && ptr.Deref(c.Spec.Cluster.PatchResource, true)
}

// ClusterClassOperationsEnabled reports whether CAPI cluster classes are mirrored into fleet.
func (c *FleetAddonConfig) ClusterClassOperationsEnabled() bool {
	return c.Spec.ClusterClass != nil && ptr.Deref(c.Spec.ClusterClass.Enabled, true)
}

// ClusterClassPatchEnabled reports whether cluster groups derived from classes are kept in sync.
func (c *FleetAddonConfig) ClusterClassPatchEnabled() bool {
	return c.Spec.ClusterClass != nil && ptr.Deref(c.Spec.ClusterClass.PatchResource, true)
}

// ClusterSelector returns the selector for watched CAPI clusters.
// A missing selector matches every cluster.
func (c *FleetAddonConfig) ClusterSelector() (labels.Selector, error) {
	if c.Spec.Cluster == nil || c.Spec.Cluster.Selector == nil {
		return labels.Everything(), nil
	}
	return metav1.LabelSelectorAsSelector(c.Spec.Cluster.Selector)
}

// NamespaceSelector returns the selector for namespaces whose clusters are all watched.
// A missing selector matches every namespace.
func (c *FleetAddonConfig) NamespaceSelector() (labels.Selector, error) {
	if c.Spec.Cluster == nil || c.Spec.Cluster.NamespaceSelector == nil {
		return labels.Everything(), nil
	}
	return metav1.LabelSelectorAsSelector(c.Spec.Cluster.NamespaceSelector)
}

// FeatureGates returns the configured feature gates, or nil.
func (c *FleetAddonConfig) FeatureGates() *FeatureGates {
	if c.Spec.Config == nil {
		return nil
	}
	return c.Spec.Config.FeatureGates
}

// Server returns the configured fleet server settings, or nil.
func (c *FleetAddonConfig) Server() *Server {
	if c.Spec.Config == nil {
		return nil
	}
	return c.Spec.Config.Server
}

// BootstrapLocalCluster reports whether fleet should register the management cluster.
func (c *FleetAddonConfig) BootstrapLocalCluster() bool {
	return c.Spec.Config != nil && ptr.Deref(c.Spec.Config.BootstrapLocalCluster, false)
}

// ApplyNaming decorates name with the configured prefix and suffix.
func (c *ClusterConfig) ApplyNaming(name string) string {
	if c == nil {
		return name
	}
	return c.Naming.Prefix + name + c.Naming.Suffix
}

// AgentInstallNamespace returns the namespace used for fleet agents.
func (c *ClusterConfig) AgentInstallNamespace() string {
	if c == nil || c.AgentNamespace == "" {
		return DefaultAgentNamespace
	}
	return c.AgentNamespace
}

// ApplyClassGroupEnabled reports whether class based cluster groups and namespace mappings are created.
func (c *ClusterConfig) ApplyClassGroupEnabled() bool {
	return c != nil && ptr.Deref(c.ApplyClassGroup, true)
}

// SetOwnerReferencesEnabled reports whether fleet clusters are owned by their CAPI cluster.
func (c *ClusterConfig) SetOwnerReferencesEnabled() bool {
	return c != nil && ptr.Deref(c.SetOwnerReferences, true)
}

// AgentInitiatedEnabled reports whether fleet agents register themselves with a token.
func (c *ClusterConfig) AgentInitiatedEnabled() bool {
	return c != nil && ptr.Deref(c.AgentInitiated, false)
}

// SetOwnerReferencesEnabled reports whether cluster groups are owned by their cluster class.
func (c *ClusterClassConfig) SetOwnerReferencesEnabled() bool {
	return c == nil || ptr.Deref(c.SetOwnerReferences, true)
}

// ConfigMapRef returns the referenced helm values ConfigMap, or nil.
func (g *FeatureGates) ConfigMapRef() *corev1.ObjectReference {
	if g == nil || g.ConfigMap == nil {
		return nil
	}
	return g.ConfigMap.Ref
}

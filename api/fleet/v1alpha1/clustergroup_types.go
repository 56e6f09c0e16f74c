// Copyright 2025 The CAAPF Authors
// SPDX-License-Identifier: Apache-2.0

package v1alpha1

import (
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
)

const (
	// ClusterClassNameLabel marks fleet resources derived from a CAPI cluster class.
	ClusterClassNameLabel = "clusterclass-name.fleet.addons.cluster.x-k8s.io"
	// ClusterClassNamespaceLabel records the namespace of the originating cluster class.
	ClusterClassNamespaceLabel = "clusterclass-namespace.fleet.addons.cluster.x-k8s.io"
)

// ClusterGroupSpec selects the member clusters of a group.
type ClusterGroupSpec struct {
	Selector *metav1.LabelSelector `json:"selector,omitempty"`
}

// ClusterGroupStatus is the subset of the fleet cluster group status read by the addon provider.
type ClusterGroupStatus struct {
	ClusterCount         int `json:"clusterCount"`
	NonReadyClusterCount int `json:"nonReadyClusterCount"`
}

// +kubebuilder:object:root=true
// +kubebuilder:subresource:status

// ClusterGroup is a set of fleet clusters selected by labels.
type ClusterGroup struct {
	metav1.TypeMeta   `json:",inline"`
	metav1.ObjectMeta `json:"metadata,omitempty"`

	Spec   ClusterGroupSpec   `json:"spec,omitempty"`
	Status ClusterGroupStatus `json:"status,omitempty"`
}

// ClusterClassName returns the name of the originating cluster class, if any.
func (g *ClusterGroup) ClusterClassName() string {
	return g.GetLabels()[ClusterClassNameLabel]
}

// ClusterClassNamespace returns the namespace of the originating cluster class, if any.
func (g *ClusterGroup) ClusterClassNamespace() string {
	return g.GetLabels()[ClusterClassNamespaceLabel]
}

// +kubebuilder:object:root=true

// ClusterGroupList contains a list of ClusterGroup.
type ClusterGroupList struct {
	metav1.TypeMeta `json:",inline"`
	metav1.ListMeta `json:"metadata,omitempty"`
	Items           []ClusterGroup `json:"items"`
}

func init() {
	SchemeBuilder.Register(&ClusterGroup{}, &ClusterGroupList{})
}

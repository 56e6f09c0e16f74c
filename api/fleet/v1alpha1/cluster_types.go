// Copyright 2025 The CAAPF Authors
// SPDX-License-Identifier: Apache-2.0

package v1alpha1

import (
	corev1 "k8s.io/api/core/v1"
	apiextensionsv1 "k8s.io/apiextensions-apiserver/pkg/apis/apiextensions/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
)

// ClusterSpec is the subset of the fleet cluster spec managed by the addon provider.
type ClusterSpec struct {
	// Paused stops fleet from deploying bundles to the cluster.
	Paused bool `json:"paused,omitempty"`
	// ClientID is the unique identifier used by agent initiated registration.
	ClientID string `json:"clientID,omitempty"`
	// KubeConfigSecret names the secret holding the downstream kubeconfig.
	KubeConfigSecret string `json:"kubeConfigSecret,omitempty"`
	// KubeConfigSecretNamespace is the namespace of KubeConfigSecret, defaulting to the cluster namespace.
	KubeConfigSecretNamespace string `json:"kubeConfigSecretNamespace,omitempty"`
	// RedeployAgentGeneration forces an agent redeploy when changed.
	RedeployAgentGeneration int64 `json:"redeployAgentGeneration,omitempty"`
	// AgentEnvVars are extra environment variables for the fleet agent.
	AgentEnvVars []corev1.EnvVar `json:"agentEnvVars,omitempty"`
	// AgentNamespace is the namespace the fleet agent is installed to.
	AgentNamespace string `json:"agentNamespace,omitempty"`
	// PrivateRepoURL prefixes the agent image.
	PrivateRepoURL string `json:"privateRepoURL,omitempty"`
	// TemplateValues are values available to fleet bundle templating.
	TemplateValues map[string]apiextensionsv1.JSON `json:"templateValues,omitempty"`
	// AgentTolerations are extra tolerations for the fleet agent.
	AgentTolerations []corev1.Toleration `json:"agentTolerations,omitempty"`
	// HostNetwork runs the fleet agent in the host network.
	HostNetwork *bool `json:"hostNetwork,omitempty"`
}

// ClusterStatus is the subset of the fleet cluster status read by the addon provider.
type ClusterStatus struct {
	Namespace               string             `json:"namespace,omitempty"`
	AgentDeployedGeneration *int64             `json:"agentDeployedGeneration,omitempty"`
	Conditions              []metav1.Condition `json:"conditions,omitempty"`
}

// +kubebuilder:object:root=true
// +kubebuilder:subresource:status

// Cluster is a downstream cluster registered with fleet.
type Cluster struct {
	metav1.TypeMeta   `json:",inline"`
	metav1.ObjectMeta `json:"metadata,omitempty"`

	Spec   ClusterSpec   `json:"spec,omitempty"`
	Status ClusterStatus `json:"status,omitempty"`
}

// +kubebuilder:object:root=true

// ClusterList contains a list of Cluster.
type ClusterList struct {
	metav1.TypeMeta `json:",inline"`
	metav1.ListMeta `json:"metadata,omitempty"`
	Items           []Cluster `json:"items"`
}

func init() {
	SchemeBuilder.Register(&Cluster{}, &ClusterList{})
}

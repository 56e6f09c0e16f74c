// Copyright 2025 The CAAPF Authors
// SPDX-License-Identifier: Apache-2.0

package v1alpha1

import (
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
)

// FleetAddonConfigName is the name of the singleton configuration object read by all controllers.
const FleetAddonConfigName = "fleet-addon-config"

// FleetAddonConfigSpec defines the desired state of FleetAddonConfig.
type FleetAddonConfigSpec struct {
	// Config holds the settings propagated to the fleet controller.
	// +optional
	Config *FleetConfig `json:"config,omitempty"`

	// Install controls the fleet helm installation performed in helm-install mode.
	// +optional
	Install *FleetInstall `json:"install,omitempty"`

	// Cluster holds the settings used when importing CAPI clusters into fleet.
	// +optional
	Cluster *ClusterConfig `json:"cluster,omitempty"`

	// ClusterClass holds the settings used when mirroring CAPI cluster classes into fleet cluster groups.
	// +optional
	ClusterClass *ClusterClassConfig `json:"clusterClass,omitempty"`
}

// FleetConfig describes the fleet controller settings managed by the addon provider.
type FleetConfig struct {
	// Server selects how the API server URL and CA are determined for fleet agents.
	// +optional
	Server *Server `json:"server,omitempty"`

	// FeatureGates toggles experimental fleet features.
	// +optional
	FeatureGates *FeatureGates `json:"featureGates,omitempty"`

	// BootstrapLocalCluster enables fleet registration of the management cluster itself.
	// +optional
	BootstrapLocalCluster *bool `json:"bootstrapLocalCluster,omitempty"`
}

// Server is either inferred from the local cluster or provided explicitly.
// +kubebuilder:validation:XValidation:rule="!(has(self.inferLocal) && self.inferLocal && has(self.custom))",message="inferLocal and custom are mutually exclusive"
type Server struct {
	// InferLocal reads the API server URL and CA from the management cluster.
	// +optional
	InferLocal bool `json:"inferLocal,omitempty"`

	// Custom provides the API server URL and CA reference explicitly.
	// +optional
	Custom *ServerCustom `json:"custom,omitempty"`
}

// ServerCustom is an explicit API server endpoint configuration.
type ServerCustom struct {
	// +optional
	APIServerURL string `json:"apiServerUrl,omitempty"`

	// APIServerCAConfigRef references a ConfigMap holding the CA under the ca.crt key.
	// +optional
	APIServerCAConfigRef *corev1.ObjectReference `json:"apiServerCaConfigRef,omitempty"`
}

// FeatureGates are experimental fleet features.
type FeatureGates struct {
	// +optional
	ExperimentalOCIStorage bool `json:"experimentalOciStorage,omitempty"`

	// +optional
	ExperimentalHelmOps bool `json:"experimentalHelmOps,omitempty"`

	// ConfigMap references a ConfigMap with fleet helm values in which the gates are kept in sync.
	// +optional
	ConfigMap *FeatureGatesConfigMap `json:"configMap,omitempty"`
}

// FeatureGatesConfigMap points to the ConfigMap holding fleet chart values.
type FeatureGatesConfigMap struct {
	// +optional
	Ref *corev1.ObjectReference `json:"ref,omitempty"`
}

// FleetInstall selects which fleet chart version is installed.
// +kubebuilder:validation:XValidation:rule="!(has(self.followLatest) && self.followLatest && has(self.version))",message="followLatest and version are mutually exclusive"
type FleetInstall struct {
	// FollowLatest keeps fleet upgraded to the latest chart version found in the repository.
	// +optional
	FollowLatest bool `json:"followLatest,omitempty"`

	// Version pins the fleet chart version. A leading "v" is ignored.
	// +optional
	Version string `json:"version,omitempty"`
}

// NamingStrategy decorates the fleet cluster name.
type NamingStrategy struct {
	// +optional
	Prefix string `json:"prefix,omitempty"`
	// +optional
	Suffix string `json:"suffix,omitempty"`
}

// ClusterConfig holds the CAPI cluster import settings.
type ClusterConfig struct {
	// Enabled turns cluster import on or off. Defaults to true.
	// +optional
	Enabled *bool `json:"enabled,omitempty"`

	// PatchResource keeps fleet resources updated with server-side apply.
	// When false, resources are only created once. Defaults to true.
	// +optional
	PatchResource *bool `json:"patchResource,omitempty"`

	// SetOwnerReferences sets the CAPI cluster as owner of the fleet cluster. Defaults to true.
	// +optional
	SetOwnerReferences *bool `json:"setOwnerReferences,omitempty"`

	// ApplyClassGroup creates a cluster group and namespace mapping for clusters with a topology. Defaults to true.
	// +optional
	ApplyClassGroup *bool `json:"applyClassGroup,omitempty"`

	// AgentInitiated registers clusters through a registration token instead of a kubeconfig secret.
	// +optional
	AgentInitiated *bool `json:"agentInitiated,omitempty"`

	// +optional
	Naming NamingStrategy `json:"naming,omitempty"`

	// AgentNamespace is the namespace fleet agents are installed to. Defaults to cattle-fleet-system.
	// +optional
	AgentNamespace string `json:"agentNamespace,omitempty"`

	// +optional
	AgentTolerations []corev1.Toleration `json:"agentTolerations,omitempty"`

	// +optional
	AgentEnvVars []corev1.EnvVar `json:"agentEnvVars,omitempty"`

	// +optional
	HostNetwork *bool `json:"hostNetwork,omitempty"`

	// Selector limits the watched CAPI clusters. An empty selector matches all clusters.
	// +optional
	Selector *metav1.LabelSelector `json:"selector,omitempty"`

	// NamespaceSelector selects namespaces in which all CAPI clusters are watched regardless of Selector.
	// +optional
	NamespaceSelector *metav1.LabelSelector `json:"namespaceSelector,omitempty"`
}

// ClusterClassConfig holds the CAPI cluster class mirroring settings.
type ClusterClassConfig struct {
	// Enabled turns cluster class mirroring on or off. Defaults to true.
	// +optional
	Enabled *bool `json:"enabled,omitempty"`

	// PatchResource keeps cluster groups updated with server-side apply. Defaults to true.
	// +optional
	PatchResource *bool `json:"patchResource,omitempty"`

	// SetOwnerReferences sets the cluster class as owner of the cluster group. Defaults to true.
	// +optional
	SetOwnerReferences *bool `json:"setOwnerReferences,omitempty"`
}

// FleetAddonConfigStatus defines the observed state of FleetAddonConfig.
type FleetAddonConfigStatus struct {
	// InstalledVersion is the fleet chart app version found installed by the helm controller.
	// +optional
	InstalledVersion string `json:"installedVersion,omitempty"`

	// +optional
	Conditions []metav1.Condition `json:"conditions,omitempty"`
}

// +kubebuilder:object:root=true
// +kubebuilder:subresource:status
// +kubebuilder:resource:scope=Cluster

// FleetAddonConfig is the Schema for the fleetaddonconfigs API.
type FleetAddonConfig struct {
	metav1.TypeMeta   `json:",inline"`
	metav1.ObjectMeta `json:"metadata,omitempty"`

	Spec   FleetAddonConfigSpec   `json:"spec,omitempty"`
	Status FleetAddonConfigStatus `json:"status,omitempty"`
}

func (c *FleetAddonConfig) GetConditions() []metav1.Condition {
	return c.Status.Conditions
}

func (c *FleetAddonConfig) SetConditions(conditions []metav1.Condition) {
	c.Status.Conditions = conditions
}

// +kubebuilder:object:root=true

// FleetAddonConfigList contains a list of FleetAddonConfig.
type FleetAddonConfigList struct {
	metav1.TypeMeta `json:",inline"`
	metav1.ListMeta `json:"metadata,omitempty"`
	Items           []FleetAddonConfig `json:"items"`
}

func init() {
	SchemeBuilder.Register(&FleetAddonConfig{}, &FleetAddonConfigList{})
}

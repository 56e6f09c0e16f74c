// Copyright 2025 The CAAPF Authors
// SPDX-License-Identifier: Apache-2.0

package cluster

import (
	"context"
	"fmt"
	"maps"
	"time"

	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/utils/ptr"
	clusterv1 "sigs.k8s.io/cluster-api/api/v1beta1"
	"sigs.k8s.io/cluster-api/util/conditions"
	"sigs.k8s.io/controller-runtime/pkg/client"

	fleetv1alpha1 "github.com/rancher/cluster-api-addon-provider-fleet/api/fleet/v1alpha1"
	addonsv1alpha1 "github.com/rancher/cluster-api-addon-provider-fleet/api/v1alpha1"
	"github.com/rancher/cluster-api-addon-provider-fleet/internal/controller"
	"github.com/rancher/cluster-api-addon-provider-fleet/internal/labels"
	"github.com/rancher/cluster-api-addon-provider-fleet/pkg/hash"
)

// RegistrationTokenTTL is the lifetime of registration tokens created for agent initiated clusters.
const RegistrationTokenTTL = time.Hour

// Deriver computes the fleet bundle of a CAPI Cluster.
type Deriver struct {
	// Client reads the addon configuration and the template sources.
	Client client.Client
	Events controller.EventRecorder
}

var _ controller.Deriver[*clusterv1.Cluster] = (*Deriver)(nil)

func (d *Deriver) Derive(ctx context.Context, cluster *clusterv1.Cluster) (controller.Bundle, error) {
	cfg, err := controller.FetchConfig(ctx, d.Client)
	if err != nil {
		return nil, err
	}
	if !cfg.ClusterOperationsEnabled() {
		return nil, nil
	}
	if !ControlPlaneReady(cluster) {
		return nil, nil
	}

	cc := cfg.Spec.Cluster
	return &Bundle{
		client:    d.Client,
		events:    d.Events,
		config:    cfg,
		source:    cluster,
		fleet:     FleetCluster(cluster, cc),
		group:     ClassGroup(cluster, cc),
		mapping:   NamespaceMapping(cluster, cc),
		token:     RegistrationToken(cluster, cc),
		templates: TemplateSources{Cluster: cluster},
	}, nil
}

// ControlPlaneReady reports whether the cluster control plane is reachable.
func ControlPlaneReady(cluster *clusterv1.Cluster) bool {
	return conditions.IsTrue(cluster, clusterv1.ControlPlaneReadyCondition) || cluster.Status.ControlPlaneReady
}

// ClassName returns the topology class of the cluster, or "".
func ClassName(cluster *clusterv1.Cluster) string {
	if cluster.Spec.Topology == nil {
		return ""
	}
	return cluster.Spec.Topology.Class
}

// ClassNamespace returns the namespace of the topology class. Classes without
// an explicit namespace live in the cluster namespace.
func ClassNamespace(cluster *clusterv1.Cluster) string {
	if cluster.Spec.Topology == nil {
		return ""
	}
	if cluster.Spec.Topology.ClassNamespace != "" {
		return cluster.Spec.Topology.ClassNamespace
	}
	return cluster.Namespace
}

func ownerReference(cluster *clusterv1.Cluster) metav1.OwnerReference {
	return metav1.OwnerReference{
		APIVersion: clusterv1.GroupVersion.String(),
		Kind:       "Cluster",
		Name:       cluster.Name,
		UID:        cluster.UID,
	}
}

// FleetCluster returns the fleet Cluster registering cluster.
func FleetCluster(cluster *clusterv1.Cluster, cc *addonsv1alpha1.ClusterConfig) *fleetv1alpha1.Cluster {
	clusterLabels := maps.Clone(cluster.Labels)
	if class := ClassName(cluster); class != "" {
		clusterLabels = controller.MergeLabels(clusterLabels, controller.ClusterClassLabels(class, ClassNamespace(cluster)))
	}

	fleet := &fleetv1alpha1.Cluster{
		TypeMeta: metav1.TypeMeta{
			APIVersion: fleetv1alpha1.GroupVersion.String(),
			Kind:       "Cluster",
		},
		ObjectMeta: metav1.ObjectMeta{
			Name:        cc.ApplyNaming(cluster.Name),
			Namespace:   cluster.Namespace,
			Labels:      clusterLabels,
			Annotations: maps.Clone(cluster.Annotations),
		},
		Spec: fleetv1alpha1.ClusterSpec{
			AgentNamespace: cc.AgentInstallNamespace(),
		},
	}
	if cc != nil {
		fleet.Spec.AgentTolerations = cc.AgentTolerations
		fleet.Spec.AgentEnvVars = cc.AgentEnvVars
		fleet.Spec.HostNetwork = cc.HostNetwork
	}

	if cc.SetOwnerReferencesEnabled() {
		ref := ownerReference(cluster)
		ref.Controller = ptr.To(true)
		ref.BlockOwnerDeletion = ptr.To(true)
		fleet.OwnerReferences = []metav1.OwnerReference{ref}
	}

	if cc.AgentInitiatedEnabled() {
		fleet.Spec.ClientID = ClientID(cluster)
	} else {
		fleet.Spec.KubeConfigSecret = cluster.Name + "-kubeconfig"
	}
	return fleet
}

// ClientID is the stable agent client id of an agent initiated cluster.
func ClientID(cluster *clusterv1.Cluster) string {
	return fmt.Sprintf("%s-%s", cluster.Name, hash.ComputeHash(cluster.UID, nil))
}

// ClassGroup returns the fleet ClusterGroup selecting every cluster of the
// same class, or nil when the cluster has no class or groups are disabled.
func ClassGroup(cluster *clusterv1.Cluster, cc *addonsv1alpha1.ClusterConfig) *fleetv1alpha1.ClusterGroup {
	class := ClassName(cluster)
	if !cc.ApplyClassGroupEnabled() || class == "" {
		return nil
	}
	classNamespace := ClassNamespace(cluster)
	classLabels := controller.ClusterClassLabels(class, classNamespace)

	return &fleetv1alpha1.ClusterGroup{
		TypeMeta: metav1.TypeMeta{
			APIVersion: fleetv1alpha1.GroupVersion.String(),
			Kind:       "ClusterGroup",
		},
		ObjectMeta: metav1.ObjectMeta{
			Name:            fmt.Sprintf("%s.%s", class, classNamespace),
			Namespace:       cluster.Namespace,
			Labels:          classLabels,
			OwnerReferences: []metav1.OwnerReference{ownerReference(cluster)},
		},
		Spec: fleetv1alpha1.ClusterGroupSpec{
			Selector: &metav1.LabelSelector{MatchLabels: maps.Clone(classLabels)},
		},
	}
}

// NamespaceMapping returns the BundleNamespaceMapping letting bundles from the
// class namespace target the cluster namespace. It is nil when the class
// lives next to the cluster or groups are disabled.
func NamespaceMapping(cluster *clusterv1.Cluster, cc *addonsv1alpha1.ClusterConfig) *fleetv1alpha1.BundleNamespaceMapping {
	if !cc.ApplyClassGroupEnabled() || ClassName(cluster) == "" {
		return nil
	}
	classNamespace := ClassNamespace(cluster)
	if classNamespace == cluster.Namespace {
		return nil
	}

	return &fleetv1alpha1.BundleNamespaceMapping{
		TypeMeta: metav1.TypeMeta{
			APIVersion: fleetv1alpha1.GroupVersion.String(),
			Kind:       "BundleNamespaceMapping",
		},
		ObjectMeta: metav1.ObjectMeta{
			Name:      cluster.Namespace,
			Namespace: classNamespace,
		},
		BundleSelector: &metav1.LabelSelector{},
		NamespaceSelector: &metav1.LabelSelector{
			MatchLabels: map[string]string{labels.LabelKeyMetadataName: cluster.Namespace},
		},
	}
}

// RegistrationToken returns the token used by the agent of an agent initiated cluster, or nil.
func RegistrationToken(cluster *clusterv1.Cluster, cc *addonsv1alpha1.ClusterConfig) *fleetv1alpha1.ClusterRegistrationToken {
	if !cc.AgentInitiatedEnabled() {
		return nil
	}
	return &fleetv1alpha1.ClusterRegistrationToken{
		TypeMeta: metav1.TypeMeta{
			APIVersion: fleetv1alpha1.GroupVersion.String(),
			Kind:       "ClusterRegistrationToken",
		},
		ObjectMeta: metav1.ObjectMeta{
			Name:      cluster.Name,
			Namespace: cluster.Namespace,
		},
		Spec: fleetv1alpha1.ClusterRegistrationTokenSpec{
			TTL: &metav1.Duration{Duration: RegistrationTokenTTL},
		},
	}
}

// Copyright 2025 The CAAPF Authors
// SPDX-License-Identifier: Apache-2.0

package clusterclass

import (
	"context"
	"maps"
	"time"

	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/utils/ptr"
	clusterv1 "sigs.k8s.io/cluster-api/api/v1beta1"
	ctrl "sigs.k8s.io/controller-runtime"
	"sigs.k8s.io/controller-runtime/pkg/builder"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/handler"
	"sigs.k8s.io/controller-runtime/pkg/source"

	fleetv1alpha1 "github.com/rancher/cluster-api-addon-provider-fleet/api/fleet/v1alpha1"
	addonsv1alpha1 "github.com/rancher/cluster-api-addon-provider-fleet/api/v1alpha1"
	"github.com/rancher/cluster-api-addon-provider-fleet/internal/controller"
	"github.com/rancher/cluster-api-addon-provider-fleet/internal/metrics"
	"github.com/rancher/cluster-api-addon-provider-fleet/internal/readiness"
)

// ControllerName is the controller and barrier participant name.
const ControllerName = "cluster-class"

// Controller mirrors CAPI ClusterClasses into fleet ClusterGroups.
type Controller struct {
	client.Client
	Barrier *readiness.Barrier
	Events  controller.EventRecorder
	Metrics *metrics.Metrics

	ErrorRequeue time.Duration
}

// +kubebuilder:rbac:groups=cluster.x-k8s.io,resources=clusterclasses,verbs=get;list;watch;patch
// +kubebuilder:rbac:groups=fleet.cattle.io,resources=clustergroups,verbs=get;list;watch;create;patch

// Reconciler returns the finalizer driven reconciler of the controller.
func (c *Controller) Reconciler() *controller.Reconciler[*clusterv1.ClusterClass] {
	return &controller.Reconciler[*clusterv1.ClusterClass]{
		Client:    c.Client,
		Name:      ControllerName,
		NewObject: func() *clusterv1.ClusterClass { return &clusterv1.ClusterClass{} },
		Deriver:   &Deriver{Client: c.Client, Events: c.Events},
		Events:    c.Events,
		Metrics:   c.Metrics,

		ErrorRequeue: c.ErrorRequeue,
	}
}

// SetupWithManager sets up the controller with the Manager.
func (c *Controller) SetupWithManager(mgr ctrl.Manager) error {
	classes := source.Kind(mgr.GetCache(), &clusterv1.ClusterClass{},
		&handler.TypedEnqueueRequestForObject[*clusterv1.ClusterClass]{})

	return ctrl.NewControllerManagedBy(mgr).
		Named(ControllerName).
		WatchesRawSource(readiness.Gate(c.Barrier, ControllerName, classes)).
		Watches(&fleetv1alpha1.ClusterGroup{},
			handler.EnqueueRequestForOwner(mgr.GetScheme(), mgr.GetRESTMapper(), &clusterv1.ClusterClass{}, handler.OnlyControllerOwner()),
			builder.OnlyMetadata).
		Complete(c.Reconciler())
}

// Deriver computes the ClusterGroup of a ClusterClass.
type Deriver struct {
	Client client.Client
	Events controller.EventRecorder
}

var _ controller.Deriver[*clusterv1.ClusterClass] = (*Deriver)(nil)

func (d *Deriver) Derive(ctx context.Context, class *clusterv1.ClusterClass) (controller.Bundle, error) {
	cfg, err := controller.FetchConfig(ctx, d.Client)
	if err != nil {
		return nil, err
	}
	if !cfg.ClusterClassOperationsEnabled() {
		return nil, nil
	}
	return &Bundle{
		client: d.Client,
		events: d.Events,
		patch:  cfg.ClusterClassPatchEnabled(),
		group:  ClusterGroup(class, cfg.Spec.ClusterClass),
	}, nil
}

// Bundle holds the ClusterGroup of one class. The group is removed with its
// owner, so cleanup has nothing to do.
type Bundle struct {
	controller.NoopCleanup

	client client.Client
	events controller.EventRecorder
	patch  bool
	group  *fleetv1alpha1.ClusterGroup
}

func (b *Bundle) Sync(ctx context.Context) (ctrl.Result, error) {
	var err error
	if b.patch {
		_, err = controller.PatchIfDifferent(ctx, b.client, b.events, b.group)
	} else {
		_, err = controller.GetOrCreate(ctx, b.client, b.events, b.group)
	}
	if err != nil {
		return ctrl.Result{}, &controller.SyncError{Kind: controller.SyncKindClusterGroup, Err: err}
	}
	return ctrl.Result{}, nil
}

// ClusterGroup returns the group selecting every fleet cluster created from class.
func ClusterGroup(class *clusterv1.ClusterClass, cfg *addonsv1alpha1.ClusterClassConfig) *fleetv1alpha1.ClusterGroup {
	classLabels := controller.ClusterClassLabels(class.Name, class.Namespace)

	group := &fleetv1alpha1.ClusterGroup{
		TypeMeta: metav1.TypeMeta{
			APIVersion: fleetv1alpha1.GroupVersion.String(),
			Kind:       "ClusterGroup",
		},
		ObjectMeta: metav1.ObjectMeta{
			Name:      class.Name,
			Namespace: class.Namespace,
			Labels:    controller.MergeLabels(class.Labels, classLabels),
		},
		Spec: fleetv1alpha1.ClusterGroupSpec{
			Selector: &metav1.LabelSelector{MatchLabels: maps.Clone(classLabels)},
		},
	}
	if cfg.SetOwnerReferencesEnabled() {
		group.OwnerReferences = []metav1.OwnerReference{{
			APIVersion:         clusterv1.GroupVersion.String(),
			Kind:               "ClusterClass",
			Name:               class.Name,
			UID:                class.UID,
			Controller:         ptr.To(true),
			BlockOwnerDeletion: ptr.To(true),
		}}
	}
	return group
}

// Copyright 2025 The CAAPF Authors
// SPDX-License-Identifier: Apache-2.0

package clustergroup

import (
	"context"

	apierrors "k8s.io/apimachinery/pkg/api/errors"
	clusterv1 "sigs.k8s.io/cluster-api/api/v1beta1"
	ctrl "sigs.k8s.io/controller-runtime"
	"sigs.k8s.io/controller-runtime/pkg/builder"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/controller/controllerutil"
	"sigs.k8s.io/controller-runtime/pkg/handler"
	"sigs.k8s.io/controller-runtime/pkg/log"
	"sigs.k8s.io/controller-runtime/pkg/predicate"

	fleetv1alpha1 "github.com/rancher/cluster-api-addon-provider-fleet/api/fleet/v1alpha1"
	"github.com/rancher/cluster-api-addon-provider-fleet/internal/controller"
	"github.com/rancher/cluster-api-addon-provider-fleet/internal/metrics"
	"github.com/rancher/cluster-api-addon-provider-fleet/pkg/diff"
)

// ControllerName is the name of the cluster group label sync loop.
const ControllerName = "cluster-group"

// Reconciler copies the labels of a ClusterClass onto the fleet ClusterGroups
// derived from it, and strips the finalizer older releases put on groups.
type Reconciler struct {
	client.Client
	Events  controller.EventRecorder
	Metrics *metrics.Metrics
}

// +kubebuilder:rbac:groups=fleet.cattle.io,resources=clustergroups,verbs=get;list;watch;patch
// +kubebuilder:rbac:groups=cluster.x-k8s.io,resources=clusterclasses,verbs=get;list;watch

func (r *Reconciler) Reconcile(ctx context.Context, req ctrl.Request) (ctrl.Result, error) {
	logger := log.FromContext(ctx).WithValues("clusterGroup", req.NamespacedName.String())
	ctx = log.IntoContext(ctx, logger)
	defer r.Metrics.CountAndMeasure()()

	group := &fleetv1alpha1.ClusterGroup{}
	if err := r.Get(ctx, req.NamespacedName, group); err != nil {
		if apierrors.IsNotFound(err) {
			return ctrl.Result{}, nil
		}
		return r.failed(ctx, req, &controller.LookupError{Err: err})
	}

	if err := r.syncLabels(ctx, group); err != nil {
		return r.failed(ctx, req, err)
	}

	if controllerutil.ContainsFinalizer(group, controller.FleetFinalizer) {
		base := group.DeepCopy()
		controllerutil.RemoveFinalizer(group, controller.FleetFinalizer)
		if err := r.Patch(ctx, group, client.MergeFrom(base)); err != nil {
			if apierrors.IsNotFound(err) {
				return ctrl.Result{}, nil
			}
			return r.failed(ctx, req, &controller.FinalizerError{Op: controller.OpRemove, Err: err})
		}
		logger.Info("Removed legacy finalizer")
	}
	return ctrl.Result{}, nil
}

func (r *Reconciler) syncLabels(ctx context.Context, group *fleetv1alpha1.ClusterGroup) error {
	class, err := controller.GetClusterClass(ctx, r.Client, group)
	if err != nil {
		if controller.IgnoreHierarchyNotFoundError(err) == nil {
			log.FromContext(ctx).V(1).Info("Skipping label sync", "reason", err.Error())
			return nil
		}
		return &controller.LookupError{Err: err}
	}
	if len(class.Labels) == 0 {
		return nil
	}

	desired := group.DeepCopy()
	desired.SetGroupVersionKind(fleetv1alpha1.GroupVersion.WithKind("ClusterGroup"))
	desired.Labels = controller.MergeLabels(group.Labels, class.Labels)
	desired.Status = fleetv1alpha1.ClusterGroupStatus{}

	resource := controller.WithDiff(desired, func(live client.Object) bool {
		return !diff.LabelsSuperset(desired, live)
	})
	if _, err := controller.PatchIfDifferent(ctx, r.Client, r.Events, resource); err != nil {
		return &controller.SyncError{Kind: controller.SyncKindClusterGroup, Err: err}
	}
	return nil
}

func (r *Reconciler) failed(ctx context.Context, req ctrl.Request, err error) (ctrl.Result, error) {
	e := controller.NewError(err)
	log.FromContext(ctx).Error(e, "Reconcile failed", "error_class", e.Class)
	r.Metrics.ReconcileFailure(req.Name, e.Class)
	return ctrl.Result{RequeueAfter: controller.DefaultErrorRequeue}, nil
}

// SetupWithManager sets up the controller with the Manager.
func (r *Reconciler) SetupWithManager(mgr ctrl.Manager) error {
	return ctrl.NewControllerManagedBy(mgr).
		Named(ControllerName).
		For(&fleetv1alpha1.ClusterGroup{},
			builder.WithPredicates(predicate.NewPredicateFuncs(controller.HasClusterClassLabels))).
		Watches(&clusterv1.ClusterClass{},
			handler.EnqueueRequestsFromMapFunc(
				controller.HierarchyWatchHandler[*clusterv1.ClusterClass, *fleetv1alpha1.ClusterGroup](
					r.Client, controller.GetClassClusterGroup)),
			builder.WithPredicates(predicate.LabelChangedPredicate{})).
		Complete(r)
}

// Copyright 2025 The CAAPF Authors
// SPDX-License-Identifier: Apache-2.0

package cluster

import (
	"context"
	"slices"
	"time"

	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/types"
	clusterv1 "sigs.k8s.io/cluster-api/api/v1beta1"
	ctrl "sigs.k8s.io/controller-runtime"
	"sigs.k8s.io/controller-runtime/pkg/builder"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/handler"
	"sigs.k8s.io/controller-runtime/pkg/predicate"
	"sigs.k8s.io/controller-runtime/pkg/reconcile"

	fleetv1alpha1 "github.com/rancher/cluster-api-addon-provider-fleet/api/fleet/v1alpha1"
	"github.com/rancher/cluster-api-addon-provider-fleet/internal/controller"
	"github.com/rancher/cluster-api-addon-provider-fleet/internal/metrics"
	"github.com/rancher/cluster-api-addon-provider-fleet/internal/readiness"
	"github.com/rancher/cluster-api-addon-provider-fleet/internal/watch"
)

const (
	// ControllerName is the name of the CAPI Cluster loop.
	ControllerName = "cluster"
	// NamespaceControllerName is the name of the namespace expansion loop.
	NamespaceControllerName = "cluster-namespace"
)

// Controller wires the CAPI Cluster loop and the namespace expansion loop.
// Both are fed by dispatcher subscriptions rather than the manager cache.
type Controller struct {
	// Client is an uncached API client.
	Client     client.Client
	Clusters   *watch.Subscription
	Namespaces *watch.Subscription
	Registry   *watch.Registry
	Barrier    *readiness.Barrier
	Events     controller.EventRecorder
	Metrics    *metrics.Metrics

	// ErrorRequeue overrides controller.DefaultErrorRequeue when set.
	ErrorRequeue time.Duration
}

// SetupWithManager sets up both loops with the Manager.
func (c *Controller) SetupWithManager(mgr ctrl.Manager) error {
	reconciler := &controller.Reconciler[*clusterv1.Cluster]{
		Client:    c.Client,
		Getter:    c.Clusters,
		Name:      ControllerName,
		NewObject: func() *clusterv1.Cluster { return &clusterv1.Cluster{} },
		Deriver:   &Deriver{Client: c.Client, Events: c.Events},
		Events:    c.Events,
		Metrics:   c.Metrics,

		ErrorRequeue: c.ErrorRequeue,
	}

	err := ctrl.NewControllerManagedBy(mgr).
		Named(ControllerName).
		WatchesRawSource(readiness.Gate(c.Barrier, ControllerName, c.Clusters)).
		Watches(&fleetv1alpha1.Cluster{},
			handler.EnqueueRequestForOwner(mgr.GetScheme(), mgr.GetRESTMapper(), &clusterv1.Cluster{}, handler.OnlyControllerOwner()),
			builder.OnlyMetadata).
		Watches(&fleetv1alpha1.ClusterGroup{},
			handler.EnqueueRequestForOwner(mgr.GetScheme(), mgr.GetRESTMapper(), &clusterv1.Cluster{}),
			builder.OnlyMetadata,
			builder.WithPredicates(predicate.NewPredicateFuncs(controller.HasClusterClassLabels))).
		Watches(&fleetv1alpha1.BundleNamespaceMapping{},
			handler.EnqueueRequestsFromMapFunc(ClustersForMapping(c.Clusters.Store())),
			builder.OnlyMetadata).
		Complete(reconciler)
	if err != nil {
		return err
	}

	return ctrl.NewControllerManagedBy(mgr).
		Named(NamespaceControllerName).
		WatchesRawSource(c.Namespaces).
		Complete(&NamespaceReconciler{
			Client:     c.Client,
			Namespaces: c.Namespaces,
			Registry:   c.Registry,
			Events:     c.Events,
			Metrics:    c.Metrics,
		})
}

// ClustersForMapping maps a BundleNamespaceMapping to every cached CAPI
// Cluster whose class lives in the mapping namespace.
func ClustersForMapping(store *watch.Store) handler.MapFunc {
	return func(_ context.Context, mapping client.Object) []reconcile.Request {
		var requests []reconcile.Request
		for _, obj := range store.List() {
			if classNamespaceOf(obj) != mapping.GetNamespace() {
				continue
			}
			requests = append(requests, reconcile.Request{
				NamespacedName: types.NamespacedName{Namespace: obj.GetNamespace(), Name: obj.GetName()},
			})
		}
		return requests
	}
}

// RequestsWithWaitingSiblings reconciles the changed cluster and every
// deleting cluster of its namespace that still holds the finalizer. Those
// wait for the namespace mapping to fall out of use, which any change to a
// sibling may cause.
func RequestsWithWaitingSiblings(store *watch.Store) watch.MapFunc {
	return func(ctx context.Context, obj *unstructured.Unstructured) []reconcile.Request {
		requests := watch.RequestForObject(ctx, obj)
		for _, other := range store.List() {
			if other.GetNamespace() != obj.GetNamespace() || other.GetName() == obj.GetName() {
				continue
			}
			if other.GetDeletionTimestamp() == nil || !slices.Contains(other.GetFinalizers(), controller.FleetFinalizer) {
				continue
			}
			requests = append(requests, reconcile.Request{
				NamespacedName: types.NamespacedName{Namespace: other.GetNamespace(), Name: other.GetName()},
			})
		}
		return requests
	}
}

func classNamespaceOf(obj *unstructured.Unstructured) string {
	class, _, _ := unstructured.NestedString(obj.Object, "spec", "topology", "class")
	if class == "" {
		return ""
	}
	if ns, _, _ := unstructured.NestedString(obj.Object, "spec", "topology", "classNamespace"); ns != "" {
		return ns
	}
	return obj.GetNamespace()
}

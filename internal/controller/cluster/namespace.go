// Copyright 2025 The CAAPF Authors
// SPDX-License-Identifier: Apache-2.0

package cluster

import (
	"context"

	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	ctrl "sigs.k8s.io/controller-runtime"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/log"

	"github.com/rancher/cluster-api-addon-provider-fleet/internal/controller"
	"github.com/rancher/cluster-api-addon-provider-fleet/internal/metrics"
	"github.com/rancher/cluster-api-addon-provider-fleet/internal/watch"
	"github.com/rancher/cluster-api-addon-provider-fleet/pkg/diff"
)

// NamespaceReconciler expands the watch set with a namespaced Cluster watch
// for every namespace selected by the addon configuration.
type NamespaceReconciler struct {
	Client client.Client
	// Namespaces is the subscription the selected namespaces are read from.
	Namespaces controller.Getter
	Registry   *watch.Registry
	Events     controller.EventRecorder
	Metrics    *metrics.Metrics
}

func (r *NamespaceReconciler) Reconcile(ctx context.Context, req ctrl.Request) (ctrl.Result, error) {
	logger := log.FromContext(ctx).WithValues("namespace", req.Name)
	ctx = log.IntoContext(ctx, logger)

	ns := &corev1.Namespace{}
	if err := r.Namespaces.Get(ctx, req.NamespacedName, ns); err != nil {
		if apierrors.IsNotFound(err) {
			return ctrl.Result{}, nil
		}
		return r.failed(ctx, req, &controller.LookupError{Err: err})
	}
	if !ns.DeletionTimestamp.IsZero() {
		return ctrl.Result{}, nil
	}

	if r.Registry.Add(ctx, watch.NamespacedClusters(ns.Name)) {
		logger.Info("Reconciled dynamic watches: added namespace watch")
	}

	cfg, err := controller.FetchConfig(ctx, r.Client)
	if err != nil {
		return r.failed(ctx, req, err)
	}
	// only namespaces explicitly opted in become fleet workspaces
	if cfg.Spec.Cluster == nil || cfg.Spec.Cluster.NamespaceSelector == nil {
		return ctrl.Result{}, nil
	}

	if _, err := controller.PatchIfDifferent(ctx, r.Client, r.Events, WorkspaceNamespace(ns.Name)); err != nil {
		return r.failed(ctx, req, &controller.SyncError{Kind: controller.SyncKindNamespace, Err: err})
	}
	return ctrl.Result{}, nil
}

func (r *NamespaceReconciler) failed(ctx context.Context, req ctrl.Request, err error) (ctrl.Result, error) {
	e := controller.NewError(err)
	log.FromContext(ctx).Error(e, "Reconcile failed", "error_class", e.Class)
	r.Metrics.ReconcileFailure(req.Name, e.Class)
	return ctrl.Result{RequeueAfter: controller.DefaultErrorRequeue}, nil
}

// WorkspaceNamespace returns the namespace annotation that lets fleet adopt
// an existing namespace as a workspace.
func WorkspaceNamespace(name string) controller.Resource {
	ns := &corev1.Namespace{
		TypeMeta: metav1.TypeMeta{APIVersion: "v1", Kind: "Namespace"},
		ObjectMeta: metav1.ObjectMeta{
			Name:        name,
			Annotations: controller.WithAnnotation(nil, controller.AnnotationKeyAllowFleetWorkspace, "true"),
		},
	}
	return controller.WithDiff(ns, func(live client.Object) bool {
		return !diff.AnnotationsSuperset(ns, live)
	})
}

// Copyright 2025 The CAAPF Authors
// SPDX-License-Identifier: Apache-2.0

package cluster

import (
	"context"
	"time"

	apierrors "k8s.io/apimachinery/pkg/api/errors"
	clusterv1 "sigs.k8s.io/cluster-api/api/v1beta1"
	ctrl "sigs.k8s.io/controller-runtime"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/log"

	fleetv1alpha1 "github.com/rancher/cluster-api-addon-provider-fleet/api/fleet/v1alpha1"
	addonsv1alpha1 "github.com/rancher/cluster-api-addon-provider-fleet/api/v1alpha1"
	"github.com/rancher/cluster-api-addon-provider-fleet/internal/controller"
)

// MappingInUseRequeue is how often a deleted cluster checks whether its
// namespace mapping is still used by another cluster.
const MappingInUseRequeue = 30 * time.Second

// Bundle is the fleet state derived from one CAPI Cluster.
type Bundle struct {
	client client.Client
	events controller.EventRecorder
	config *addonsv1alpha1.FleetAddonConfig

	source  *clusterv1.Cluster
	fleet   *fleetv1alpha1.Cluster
	group   *fleetv1alpha1.ClusterGroup
	mapping *fleetv1alpha1.BundleNamespaceMapping
	token   *fleetv1alpha1.ClusterRegistrationToken

	templates TemplateSources
}

var _ controller.Bundle = (*Bundle)(nil)

func (b *Bundle) Sync(ctx context.Context) (ctrl.Result, error) {
	logger := log.FromContext(ctx)
	patchEnabled := b.config.ClusterPatchEnabled()
	clusterOwner := controller.WithFieldOwner(controller.FieldOwnerFor(b.fleet.Name))

	if values, err := b.templates.Resolve(ctx, b.client); err != nil {
		logger.V(1).Info("Template values are not available", "reason", err.Error())
	} else {
		b.fleet.Spec.TemplateValues = values
	}

	if b.mapping != nil {
		if err := b.write(ctx, b.mapping, patchEnabled, clusterOwner); err != nil {
			return ctrl.Result{}, &controller.SyncError{Kind: controller.SyncKindMapping, Err: err}
		}
		logger.Info("Updated BundleNamespaceMapping",
			"classNamespace", b.mapping.Namespace, "clusterNamespace", b.mapping.Name)
	}

	if err := b.write(ctx, b.fleet, patchEnabled); err != nil {
		return ctrl.Result{}, &controller.SyncError{Kind: controller.SyncKindCluster, Err: err}
	}

	if b.token != nil {
		if _, err := controller.GetOrCreate(ctx, b.client, b.events, b.token); err != nil {
			return ctrl.Result{}, &controller.SyncError{Kind: controller.SyncKindToken, Err: err}
		}
	}

	if b.group != nil {
		if err := b.write(ctx, b.group, patchEnabled, clusterOwner); err != nil {
			return ctrl.Result{}, &controller.SyncError{Kind: controller.SyncKindClusterGroup, Err: err}
		}
	}

	return ctrl.Result{}, nil
}

func (b *Bundle) write(ctx context.Context, obj controller.Resource, patch bool, opts ...controller.PatchOption) error {
	var err error
	if patch {
		_, err = controller.PatchIfDifferent(ctx, b.client, b.events, obj, opts...)
	} else {
		_, err = controller.GetOrCreate(ctx, b.client, b.events, obj)
	}
	return err
}

// Cleanup removes the namespace mapping unless another live cluster of the
// same namespace still uses the class namespace. While it does, the cleanup
// is retried and the finalizer stays in place.
func (b *Bundle) Cleanup(ctx context.Context) (ctrl.Result, error) {
	if b.mapping == nil {
		return ctrl.Result{}, nil
	}

	clusters := &clusterv1.ClusterList{}
	if err := b.client.List(ctx, clusters, client.InNamespace(b.mapping.Name)); err != nil {
		return ctrl.Result{}, &controller.SyncError{Kind: controller.SyncKindMapping, Err: err}
	}
	for i := range clusters.Items {
		other := &clusters.Items[i]
		if other.Name == b.source.Name || !other.DeletionTimestamp.IsZero() {
			continue
		}
		if ClassNamespace(other) == b.mapping.Namespace {
			log.FromContext(ctx).Info("BundleNamespaceMapping is still in use",
				"mapping", client.ObjectKeyFromObject(b.mapping), "cluster", client.ObjectKeyFromObject(other))
			return ctrl.Result{RequeueAfter: MappingInUseRequeue}, nil
		}
	}

	if err := b.client.Delete(ctx, b.mapping); err != nil && !apierrors.IsNotFound(err) {
		return ctrl.Result{}, &controller.SyncError{Kind: controller.SyncKindMapping, Err: err}
	}
	return ctrl.Result{}, nil
}

// Copyright 2025 The CAAPF Authors
// SPDX-License-Identifier: Apache-2.0

package addonconfig

import (
	"context"
	"slices"
	"sync"

	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	ctrl "sigs.k8s.io/controller-runtime"
	"sigs.k8s.io/controller-runtime/pkg/builder"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/handler"
	"sigs.k8s.io/controller-runtime/pkg/log"
	"sigs.k8s.io/controller-runtime/pkg/predicate"
	"sigs.k8s.io/controller-runtime/pkg/reconcile"

	addonsv1alpha1 "github.com/rancher/cluster-api-addon-provider-fleet/api/v1alpha1"
	"github.com/rancher/cluster-api-addon-provider-fleet/internal/controller"
	"github.com/rancher/cluster-api-addon-provider-fleet/internal/metrics"
	"github.com/rancher/cluster-api-addon-provider-fleet/internal/watch"
)

// ControllerName is the name of the addon configuration loop.
const ControllerName = "addon-config"

// Reconciler keeps the dynamic watch set and the fleet controller settings in
// line with the FleetAddonConfig.
type Reconciler struct {
	client.Client
	Registry *watch.Registry
	Events   controller.EventRecorder
	Metrics  *metrics.Metrics

	mu      sync.Mutex
	applied []string
}

// +kubebuilder:rbac:groups=addons.cluster.x-k8s.io,resources=fleetaddonconfigs,verbs=get;list;watch
// +kubebuilder:rbac:groups="",resources=configmaps,verbs=get;list;watch;create;patch
// +kubebuilder:rbac:groups="",resources=endpoints,verbs=get;list;watch
// +kubebuilder:rbac:groups="",resources=namespaces,verbs=get;list;watch;patch
// +kubebuilder:rbac:groups=cluster.x-k8s.io,resources=clusters,verbs=get;list;watch;patch

func (r *Reconciler) Reconcile(ctx context.Context, req ctrl.Request) (ctrl.Result, error) {
	logger := log.FromContext(ctx).WithValues("fleetAddonConfig", req.Name)
	ctx = log.IntoContext(ctx, logger)
	defer r.Metrics.CountAndMeasure()()

	if req.Name != addonsv1alpha1.FleetAddonConfigName {
		logger.V(1).Info("Ignoring addon config that is not the singleton")
		return ctrl.Result{}, nil
	}

	cfg, err := controller.FetchConfig(ctx, r.Client)
	if err != nil {
		return r.failed(ctx, req, err)
	}

	if err := r.ReconcileWatches(ctx, cfg); err != nil {
		return r.failed(ctx, req, err)
	}
	if err := r.syncFleetConfig(ctx, cfg); err != nil {
		return r.failed(ctx, req, err)
	}
	if err := r.syncFeatureGates(ctx, cfg); err != nil {
		return r.failed(ctx, req, err)
	}
	return ctrl.Result{}, nil
}

// Bootstrap installs the initial watch set. It is the dispatcher bootstrap function.
func (r *Reconciler) Bootstrap(ctx context.Context, registry *watch.Registry) error {
	cfg, err := controller.FetchConfig(ctx, r.Client)
	if err != nil {
		return err
	}
	return r.reconfigure(ctx, registry, cfg)
}

// ReconcileWatches reconfigures the registry when the selectors of cfg
// produce a different watch set than the one last installed.
func (r *Reconciler) ReconcileWatches(ctx context.Context, cfg *addonsv1alpha1.FleetAddonConfig) error {
	return r.reconfigure(ctx, r.Registry, cfg)
}

func (r *Reconciler) reconfigure(ctx context.Context, registry *watch.Registry, cfg *addonsv1alpha1.FleetAddonConfig) error {
	descriptors, err := watch.DescriptorsFor(cfg)
	if err != nil {
		return err
	}
	keys := watch.Keys(descriptors)

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.applied != nil && slices.Equal(r.applied, keys) {
		return nil
	}
	log.FromContext(ctx).Info("Reconciling dynamic watches")
	if err := registry.Reconfigure(ctx, descriptors); err != nil {
		return err
	}
	r.applied = keys
	return nil
}

func (r *Reconciler) syncFleetConfig(ctx context.Context, cfg *addonsv1alpha1.FleetAddonConfig) error {
	logger := log.FromContext(ctx)

	server := cfg.Server()
	if server == nil {
		return nil
	}

	live := &corev1.ConfigMap{}
	if err := r.Get(ctx, client.ObjectKey{Namespace: FleetNamespace, Name: FleetControllerConfigMap}, live); err != nil {
		if apierrors.IsNotFound(err) {
			logger.V(1).Info("Fleet controller settings are not installed yet")
			return nil
		}
		return &controller.SyncError{Kind: controller.SyncKindConfigMap, Err: err}
	}

	settings, err := ResolveServer(ctx, r.Client, server)
	if err != nil {
		return &controller.SyncError{Kind: controller.SyncKindConfigMap, Err: err}
	}
	current := live.Data[FleetConfigKey]
	merged, err := MergeFleetConfig(current, settings)
	if err != nil {
		return &controller.SerializationError{Err: err}
	}

	desired := fleetControllerConfigMap(merged)
	resource := controller.WithDiff(desired, func(client.Object) bool { return merged != current })
	if _, err := controller.PatchIfDifferent(ctx, r.Client, r.Events, resource, controller.WithForce()); err != nil {
		return &controller.SyncError{Kind: controller.SyncKindConfigMap, Err: err}
	}
	return nil
}

func (r *Reconciler) syncFeatureGates(ctx context.Context, cfg *addonsv1alpha1.FleetAddonConfig) error {
	gates := cfg.FeatureGates()
	ref := gates.ConfigMapRef()
	if ref == nil {
		return nil
	}

	live := &corev1.ConfigMap{}
	if err := r.Get(ctx, client.ObjectKey{Namespace: ref.Namespace, Name: ref.Name}, live); err != nil {
		return &controller.SyncError{Kind: controller.SyncKindConfigMap, Err: err}
	}
	current := live.Data[FleetValuesKey]
	merged, err := MergeFeatureGates(current, gates)
	if err != nil {
		return &controller.SerializationError{Err: err}
	}

	desired := &corev1.ConfigMap{
		TypeMeta:   metav1.TypeMeta{APIVersion: "v1", Kind: "ConfigMap"},
		ObjectMeta: metav1.ObjectMeta{Name: live.Name, Namespace: live.Namespace},
		Data:       map[string]string{FleetValuesKey: merged},
	}
	resource := controller.WithDiff(desired, func(client.Object) bool { return merged != current })
	if _, err := controller.PatchIfDifferent(ctx, r.Client, r.Events, resource, controller.WithForce()); err != nil {
		return &controller.SyncError{Kind: controller.SyncKindConfigMap, Err: err}
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
		For(&addonsv1alpha1.FleetAddonConfig{}, builder.WithPredicates(predicate.GenerationChangedPredicate{})).
		Watches(&corev1.ConfigMap{},
			handler.EnqueueRequestsFromMapFunc(configRequest),
			builder.WithPredicates(predicate.NewPredicateFuncs(isFleetControllerConfig))).
		Complete(r)
}

func isFleetControllerConfig(obj client.Object) bool {
	return obj.GetNamespace() == FleetNamespace && obj.GetName() == FleetControllerConfigMap
}

func configRequest(context.Context, client.Object) []reconcile.Request {
	return []reconcile.Request{{NamespacedName: client.ObjectKey{Name: addonsv1alpha1.FleetAddonConfigName}}}
}

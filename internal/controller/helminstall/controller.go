// Copyright 2025 The CAAPF Authors
// SPDX-License-Identifier: Apache-2.0

package helminstall

import (
	"context"
	"fmt"
	"time"

	apierrors "k8s.io/apimachinery/pkg/api/errors"
	apimeta "k8s.io/apimachinery/pkg/api/meta"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	ctrl "sigs.k8s.io/controller-runtime"
	"sigs.k8s.io/controller-runtime/pkg/builder"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/log"
	"sigs.k8s.io/controller-runtime/pkg/predicate"

	addonsv1alpha1 "github.com/rancher/cluster-api-addon-provider-fleet/api/v1alpha1"
	"github.com/rancher/cluster-api-addon-provider-fleet/internal/controller"
	"github.com/rancher/cluster-api-addon-provider-fleet/internal/helm"
	"github.com/rancher/cluster-api-addon-provider-fleet/internal/metrics"
)

const (
	// ControllerName is the name of the helm install loop.
	ControllerName = "fleet-helm-install"

	// ChartNotFoundRequeue is the retry delay while the fleet charts are not in the repository.
	ChartNotFoundRequeue = 10 * time.Second
)

// Condition types set on the FleetAddonConfig status.
const (
	ConditionReady      = "Ready"
	ConditionRepoAdd    = "RepoAdd"
	ConditionRepoUpdate = "RepoUpdate"
	ConditionInstalled  = "Installed"
)

// Reconciler installs and upgrades fleet with helm according to the addon configuration.
type Reconciler struct {
	client.Client
	Helm    *helm.Client
	Metrics *metrics.Metrics
}

// +kubebuilder:rbac:groups=addons.cluster.x-k8s.io,resources=fleetaddonconfigs,verbs=get;list;watch
// +kubebuilder:rbac:groups=addons.cluster.x-k8s.io,resources=fleetaddonconfigs/status,verbs=get;update;patch

func (r *Reconciler) Reconcile(ctx context.Context, req ctrl.Request) (ctrl.Result, error) {
	logger := log.FromContext(ctx).WithValues("fleetAddonConfig", req.Name)
	ctx = log.IntoContext(ctx, logger)
	defer r.Metrics.CountAndMeasure()()

	cfg := &addonsv1alpha1.FleetAddonConfig{}
	if err := r.Get(ctx, req.NamespacedName, cfg); err != nil {
		if apierrors.IsNotFound(err) {
			return ctrl.Result{}, nil
		}
		return r.failed(ctx, req, &controller.LookupError{Err: err})
	}

	result, syncErr := r.install(ctx, cfg)

	ready := metav1.Condition{
		Type:               ConditionReady,
		Status:             metav1.ConditionTrue,
		Reason:             ConditionReady,
		Message:            "Addon provider is ready",
		ObservedGeneration: cfg.Generation,
	}
	if syncErr != nil {
		ready.Status = metav1.ConditionFalse
		ready.Message = fmt.Sprintf("FleetAddonConfig reconcile error: %v", syncErr)
	}
	apimeta.SetStatusCondition(&cfg.Status.Conditions, ready)

	if err := r.Status().Update(ctx, cfg); err != nil {
		if syncErr == nil {
			syncErr = &controller.PatchError{Op: controller.OpPatch, Err: err}
		}
	}
	if syncErr != nil {
		return r.failed(ctx, req, syncErr)
	}
	return result, nil
}

func (r *Reconciler) install(ctx context.Context, cfg *addonsv1alpha1.FleetAddonConfig) (ctrl.Result, error) {
	chart := helm.DefaultChart()
	chart.BootstrapLocalCluster = cfg.BootstrapLocalCluster()
	if gates := cfg.FeatureGates(); gates != nil {
		chart.ExperimentalOCIStorage = gates.ExperimentalOCIStorage
		chart.ExperimentalHelmOps = gates.ExperimentalHelmOps
	}

	if err := r.Helm.AddRepo(ctx, chart); err != nil {
		return ctrl.Result{}, &controller.SyncError{Kind: controller.SyncKindHelm, Err: err}
	}
	setCondition(cfg, ConditionRepoAdd, "Repo added: "+chart.Repo)

	if err := r.Helm.UpdateRepo(ctx); err != nil {
		return ctrl.Result{}, &controller.SyncError{Kind: controller.SyncKindHelm, Err: err}
	}
	setCondition(cfg, ConditionRepoUpdate, "Repo updated: "+chart.Repo)

	install := cfg.Spec.Install
	if install == nil || (!install.FollowLatest && install.Version == "") {
		return ctrl.Result{}, nil
	}
	chart.Version = install.Version

	found, err := r.installChart(ctx, cfg, helm.ChartFleetCRD, chart, install)
	if err != nil || !found {
		return requeueIfMissing(found), err
	}
	found, err = r.installChart(ctx, cfg, helm.ChartFleet, chart, install)
	return requeueIfMissing(found), err
}

func requeueIfMissing(found bool) ctrl.Result {
	if found {
		return ctrl.Result{}
	}
	return ctrl.Result{RequeueAfter: ChartNotFoundRequeue}
}

// installChart brings one chart to the requested version. It reports false
// when the chart is not available in the repository.
func (r *Reconciler) installChart(ctx context.Context, cfg *addonsv1alpha1.FleetAddonConfig, name string, chart helm.Chart, install *addonsv1alpha1.FleetInstall) (bool, error) {
	logger := log.FromContext(ctx).WithValues("chart", name)

	release, err := r.Helm.Lookup(ctx, name)
	if err != nil {
		return false, &controller.SyncError{Kind: controller.SyncKindHelm, Err: err}
	}
	if release.Available == nil {
		logger.Info("Chart is not available in the repository")
		return false, nil
	}

	var (
		op      helm.Operation
		version string
		message string
	)
	switch installed := release.Installed; {
	case installed == nil:
		op, version = helm.Install, release.Available.AppVersion
		if install.Version != "" {
			version = install.Version
		}
		message = "Installed fleet version " + version
	case install.FollowLatest && release.Available.AppVersion != installed.AppVersion:
		op, version = helm.Upgrade, release.Available.AppVersion
		message = "Updated fleet to version " + version
	case install.Version != "" && !helm.SameVersion(install.Version, installed.AppVersion):
		op, version = helm.Upgrade, install.Version
		message = "Updated fleet to version " + version
	default:
		if name == helm.ChartFleet {
			cfg.Status.InstalledVersion = installed.AppVersion
		}
		return true, nil
	}

	logger.Info("Running helm operation", "operation", op, "version", version)
	if name == helm.ChartFleetCRD {
		err = r.Helm.InstallCRDs(ctx, op, chart)
	} else {
		err = r.Helm.InstallFleet(ctx, op, chart)
	}
	if err != nil {
		return true, &controller.SyncError{Kind: controller.SyncKindHelm, Err: err}
	}

	if name == helm.ChartFleet {
		cfg.Status.InstalledVersion = version
		setCondition(cfg, ConditionInstalled, message)
	}
	return true, nil
}

func setCondition(cfg *addonsv1alpha1.FleetAddonConfig, conditionType, message string) {
	apimeta.SetStatusCondition(&cfg.Status.Conditions, metav1.Condition{
		Type:               conditionType,
		Status:             metav1.ConditionTrue,
		Reason:             conditionType,
		Message:            message,
		ObservedGeneration: cfg.Generation,
	})
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
		Complete(r)
}

// Copyright 2025 The CAAPF Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"math"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	corev1 "k8s.io/api/core/v1"
	"k8s.io/apimachinery/pkg/runtime"
	utilruntime "k8s.io/apimachinery/pkg/util/runtime"
	"k8s.io/apimachinery/pkg/util/wait"
	"k8s.io/client-go/discovery"
	clientgoscheme "k8s.io/client-go/kubernetes/scheme"
	_ "k8s.io/client-go/plugin/pkg/client/auth"
	"k8s.io/client-go/rest"
	clusterv1 "sigs.k8s.io/cluster-api/api/v1beta1"
	ctrl "sigs.k8s.io/controller-runtime"
	"sigs.k8s.io/controller-runtime/pkg/cache"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/healthz"
	ctrlmetrics "sigs.k8s.io/controller-runtime/pkg/metrics"
	metricsserver "sigs.k8s.io/controller-runtime/pkg/metrics/server"

	fleetv1alpha1 "github.com/rancher/cluster-api-addon-provider-fleet/api/fleet/v1alpha1"
	addonsv1alpha1 "github.com/rancher/cluster-api-addon-provider-fleet/api/v1alpha1"
	"github.com/rancher/cluster-api-addon-provider-fleet/internal/config"
	"github.com/rancher/cluster-api-addon-provider-fleet/internal/controller"
	"github.com/rancher/cluster-api-addon-provider-fleet/internal/controller/addonconfig"
	"github.com/rancher/cluster-api-addon-provider-fleet/internal/controller/cluster"
	"github.com/rancher/cluster-api-addon-provider-fleet/internal/controller/clusterclass"
	"github.com/rancher/cluster-api-addon-provider-fleet/internal/controller/clustergroup"
	"github.com/rancher/cluster-api-addon-provider-fleet/internal/controller/helminstall"
	"github.com/rancher/cluster-api-addon-provider-fleet/internal/helm"
	"github.com/rancher/cluster-api-addon-provider-fleet/internal/logging"
	"github.com/rancher/cluster-api-addon-provider-fleet/internal/metrics"
	"github.com/rancher/cluster-api-addon-provider-fleet/internal/readiness"
	"github.com/rancher/cluster-api-addon-provider-fleet/internal/version"
	"github.com/rancher/cluster-api-addon-provider-fleet/internal/watch"
)

// eventInstance is the reporting instance of published events.
const eventInstance = "caapf-controller"

var (
	scheme   = runtime.NewScheme()
	setupLog = ctrl.Log.WithName("setup")
)

func init() {
	utilruntime.Must(clientgoscheme.AddToScheme(scheme))
	utilruntime.Must(clusterv1.AddToScheme(scheme))
	utilruntime.Must(fleetv1alpha1.AddToScheme(scheme))
	utilruntime.Must(addonsv1alpha1.AddToScheme(scheme))
	// +kubebuilder:scaffold:scheme
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		configPath  string
		printConfig bool
	)
	cmd := &cobra.Command{
		Use:          "cluster-api-addon-provider-fleet",
		Short:        "Registers Cluster API clusters with Fleet",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Flags(), configPath, printConfig)
		},
	}

	defaults := config.Defaults()
	flags := cmd.Flags()
	flags.StringVar(&configPath, "config", "", "Path to a YAML configuration file.")
	flags.String("metrics-bind-address", defaults.Manager.MetricsBindAddress,
		"The address the metrics endpoint binds to. Use 0 to disable the metrics service.")
	flags.String("health-probe-bind-address", defaults.Manager.HealthProbeBindAddress,
		"The address the probe endpoint binds to.")
	flags.Bool("leader-elect", defaults.Manager.LeaderElect,
		"Enable leader election. Only the leader runs watches and reconciles.")
	flags.Bool("helm-install", defaults.Manager.HelmInstall,
		"Only install and upgrade fleet with helm according to the FleetAddonConfig.")
	flags.String("log-level", defaults.Logging.Level, "Log level: debug, info, warn or error.")
	flags.String("log-format", defaults.Logging.Format, "Log format: json or text.")
	flags.BoolVar(&printConfig, "print-config", false, "Print the merged configuration and exit.")
	return cmd
}

func run(flags *pflag.FlagSet, configPath string, printConfig bool) error {
	cfg, loader, err := config.Load(configPath, flags)
	if err != nil {
		return err
	}
	if printConfig {
		return loader.DumpYAML(os.Stdout)
	}

	ctrl.SetLogger(logging.NewLogr(logging.New(cfg.Logging.ToLoggingConfig())))
	setupLog.Info("Starting controller manager", append(version.GetLogKeyValues(), "helmInstall", cfg.Manager.HelmInstall)...)

	restConfig := ctrl.GetConfigOrDie()
	mgr, err := ctrl.NewManager(restConfig, ctrl.Options{
		Scheme:                 scheme,
		Metrics:                metricsserver.Options{BindAddress: cfg.Manager.MetricsBindAddress},
		HealthProbeBindAddress: cfg.Manager.HealthProbeBindAddress,
		LeaderElection:         cfg.Manager.LeaderElect,
		LeaderElectionID:       cfg.Manager.LeaderElectionID,
		Cache: cache.Options{
			ByObject: map[client.Object]cache.ByObject{
				// only the fleet-controller ConfigMap is watched
				&corev1.ConfigMap{}: {Namespaces: map[string]cache.Config{addonconfig.FleetNamespace: {}}},
			},
		},
	})
	if err != nil {
		setupLog.Error(err, "Unable to create manager")
		os.Exit(1)
	}

	m := metrics.New(ctrlmetrics.Registry)

	if cfg.Manager.HelmInstall {
		if err := (&helminstall.Reconciler{
			Client:  mgr.GetClient(),
			Helm:    helm.NewClient(),
			Metrics: m,
		}).SetupWithManager(mgr); err != nil {
			setupLog.Error(err, "Unable to create controller", "controller", helminstall.ControllerName)
			os.Exit(1)
		}
		return start(mgr, healthz.Ping)
	}

	barrier, err := setupControllers(mgr, restConfig, cfg, m)
	if err != nil {
		setupLog.Error(err, "Unable to set up controllers")
		os.Exit(1)
	}
	return start(mgr, barrier.LeaderChecker(mgr.Elected()))
}

// setupControllers wires the dispatcher and every fleet import loop.
func setupControllers(mgr ctrl.Manager, restConfig *rest.Config, cfg *config.Operator, m *metrics.Metrics) (*readiness.Barrier, error) {
	uncached, err := client.NewWithWatch(restConfig, client.Options{Scheme: mgr.GetScheme(), Mapper: mgr.GetRESTMapper()})
	if err != nil {
		return nil, fmt.Errorf("create API client: %w", err)
	}

	mode, err := watchMode(restConfig, cfg.Watch.Mode)
	if err != nil {
		return nil, err
	}
	setupLog.Info("Selected watch mode", "mode", mode)

	events := controller.NewEventRecorder(uncached, eventInstance)
	barrier := readiness.NewBarrier(watch.BarrierParticipant, cluster.ControllerName, clusterclass.ControllerName)

	addonConfig := &addonconfig.Reconciler{Client: uncached, Events: events, Metrics: m}
	dispatcher := watch.NewDispatcher(
		&watch.APIStreamer{Client: uncached, Mode: mode, Timeout: cfg.Watch.Timeout},
		watch.WithBufferSize(cfg.Watch.BufferSize),
		watch.WithBootstrap(addonConfig.Bootstrap),
		watch.WithBarrier(barrier),
		watch.WithMetrics(m),
	)
	dispatcher.Registry().SetBackoff(wait.Backoff{
		Duration: cfg.Watch.BackoffInitial,
		Factor:   2,
		Jitter:   0.1,
		Steps:    math.MaxInt32,
		Cap:      cfg.Watch.BackoffMax,
	})
	addonConfig.Registry = dispatcher.Registry()
	if err := mgr.Add(dispatcher); err != nil {
		return nil, fmt.Errorf("add dispatcher: %w", err)
	}

	if err := (&cluster.Controller{
		Client:       uncached,
		Clusters:     dispatcher.Subscribe(cluster.ControllerName, watch.ClusterGVK, watch.WithStoreMapFunc(cluster.RequestsWithWaitingSiblings)),
		Namespaces:   dispatcher.Subscribe(cluster.NamespaceControllerName, watch.NamespaceGVK),
		Registry:     dispatcher.Registry(),
		Barrier:      barrier,
		Events:       events,
		Metrics:      m,
		ErrorRequeue: cfg.Reconcile.ErrorRequeue,
	}).SetupWithManager(mgr); err != nil {
		return nil, fmt.Errorf("controller %s: %w", cluster.ControllerName, err)
	}
	if err := (&clusterclass.Controller{
		Client:       mgr.GetClient(),
		Barrier:      barrier,
		Events:       events,
		Metrics:      m,
		ErrorRequeue: cfg.Reconcile.ErrorRequeue,
	}).SetupWithManager(mgr); err != nil {
		return nil, fmt.Errorf("controller %s: %w", clusterclass.ControllerName, err)
	}
	if err := (&clustergroup.Reconciler{
		Client:  mgr.GetClient(),
		Events:  events,
		Metrics: m,
	}).SetupWithManager(mgr); err != nil {
		return nil, fmt.Errorf("controller %s: %w", clustergroup.ControllerName, err)
	}
	if err := addonConfig.SetupWithManager(mgr); err != nil {
		return nil, fmt.Errorf("controller %s: %w", addonconfig.ControllerName, err)
	}
	// +kubebuilder:scaffold:builder

	return barrier, nil
}

// watchMode returns the configured mode, or detects it from the server version.
func watchMode(restConfig *rest.Config, configured string) (watch.Mode, error) {
	mode, explicit, err := watch.ParseMode(configured)
	if err != nil || explicit {
		return mode, err
	}
	dc, err := discovery.NewDiscoveryClientForConfig(restConfig)
	if err != nil {
		return mode, fmt.Errorf("create discovery client: %w", err)
	}
	info, err := dc.ServerVersion()
	if err != nil {
		return mode, fmt.Errorf("detect server version: %w", err)
	}
	return watch.ModeForVersion(info)
}

func start(mgr ctrl.Manager, ready healthz.Checker) error {
	if err := mgr.AddHealthzCheck("healthz", healthz.Ping); err != nil {
		setupLog.Error(err, "Unable to set up health check")
		os.Exit(1)
	}
	if err := mgr.AddReadyzCheck("readyz", ready); err != nil {
		setupLog.Error(err, "Unable to set up ready check")
		os.Exit(1)
	}

	setupLog.Info("Starting manager")
	if err := mgr.Start(ctrl.SetupSignalHandler()); err != nil {
		setupLog.Error(err, "Problem running manager")
		os.Exit(1)
	}
	return nil
}

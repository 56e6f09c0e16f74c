// Copyright 2025 The CAAPF Authors
// SPDX-License-Identifier: Apache-2.0

package addonconfig

import (
	"context"
	"encoding/json"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	ctrl "sigs.k8s.io/controller-runtime"
	"sigs.k8s.io/controller-runtime/pkg/client"

	addonsv1alpha1 "github.com/rancher/cluster-api-addon-provider-fleet/api/v1alpha1"
	"github.com/rancher/cluster-api-addon-provider-fleet/internal/controller"
	"github.com/rancher/cluster-api-addon-provider-fleet/internal/controller/testutil"
	"github.com/rancher/cluster-api-addon-provider-fleet/internal/watch"
)

func idleStreamer() watch.Streamer {
	return watch.StreamerFunc(func(ctx context.Context, _ watch.Descriptor, _ watch.EmitFunc) error {
		<-ctx.Done()
		return ctx.Err()
	})
}

func fleetController(config string) *corev1.ConfigMap {
	return &corev1.ConfigMap{
		ObjectMeta: metav1.ObjectMeta{Name: FleetControllerConfigMap, Namespace: FleetNamespace},
		Data:       map[string]string{FleetConfigKey: config},
	}
}

var _ = Describe("AddonConfig Controller", func() {
	var (
		scheme   = testutil.Scheme()
		req      = ctrl.Request{NamespacedName: client.ObjectKey{Name: addonsv1alpha1.FleetAddonConfigName}}
		resets   chan watch.Event
		registry *watch.Registry
	)

	BeforeEach(func() {
		resets = make(chan watch.Event, 16)
		registry = watch.NewRegistry(idleStreamer(), resets, nil)
	})

	AfterEach(func() {
		registry.Stop()
	})

	newReconciler := func(c client.Client) *Reconciler {
		return &Reconciler{Client: c, Registry: registry, Events: &testutil.Events{}}
	}

	drainResets := func() []watch.Event {
		var out []watch.Event
		for {
			select {
			case ev := <-resets:
				if ev.Type == watch.EventReset {
					out = append(out, ev)
				}
			default:
				return out
			}
		}
	}

	It("should install the watch set once per selector change", func() {
		cfg := addonsv1alpha1.NewDefaultFleetAddonConfig()
		c, _ := testutil.NewClient(scheme, cfg)
		r := newReconciler(c)

		Expect(r.Bootstrap(ctx, registry)).To(Succeed())
		Expect(registry.Generation()).To(Equal(uint64(1)))

		_, err := r.Reconcile(ctx, req)
		Expect(err).NotTo(HaveOccurred())
		Expect(registry.Generation()).To(Equal(uint64(1)))

		By("changing the cluster selector")
		live := &addonsv1alpha1.FleetAddonConfig{}
		Expect(c.Get(ctx, req.NamespacedName, live)).To(Succeed())
		live.Spec.Cluster.Selector = &metav1.LabelSelector{MatchLabels: map[string]string{"import": "true"}}
		Expect(c.Update(ctx, live)).To(Succeed())

		_, err = r.Reconcile(ctx, req)
		Expect(err).NotTo(HaveOccurred())
		Expect(registry.Generation()).To(Equal(uint64(2)))

		events := drainResets()
		Expect(events).To(HaveLen(2))
		Expect(events[1].Keys).To(ContainElement(ContainSubstring("import=true")))
	})

	It("should fail the reconcile on an invalid selector", func() {
		cfg := addonsv1alpha1.NewDefaultFleetAddonConfig()
		cfg.Spec.Cluster.Selector = &metav1.LabelSelector{MatchExpressions: []metav1.LabelSelectorRequirement{{
			Key: "env", Operator: "Bogus",
		}}}
		c, _ := testutil.NewClient(scheme, cfg)
		r := newReconciler(c)

		result, err := r.Reconcile(ctx, req)
		Expect(err).NotTo(HaveOccurred())
		Expect(result.RequeueAfter).To(Equal(controller.DefaultErrorRequeue))
		Expect(registry.Generation()).To(BeZero())
	})

	It("should propagate the API server settings to fleet", func() {
		cfg := addonsv1alpha1.NewDefaultFleetAddonConfig()
		cfg.Spec.Config = &addonsv1alpha1.FleetConfig{Server: &addonsv1alpha1.Server{
			Custom: &addonsv1alpha1.ServerCustom{APIServerURL: "https://mgmt:6443"},
		}}
		c, writes := testutil.NewClient(scheme, cfg, fleetController(`{"agentCheckinInterval":"15m"}`))
		r := newReconciler(c)

		_, err := r.Reconcile(ctx, req)
		Expect(err).NotTo(HaveOccurred())
		Expect(writes.Count(testutil.VerbApply)).To(Equal(1))
		Expect(writes.Forced()).To(ConsistOf(true))

		live := &corev1.ConfigMap{}
		Expect(c.Get(ctx, client.ObjectKeyFromObject(fleetController("")), live)).To(Succeed())
		var settings map[string]any
		Expect(json.Unmarshal([]byte(live.Data[FleetConfigKey]), &settings)).To(Succeed())
		Expect(settings).To(HaveKeyWithValue("apiServerURL", "https://mgmt:6443"))
		Expect(settings).To(HaveKeyWithValue("agentCheckinInterval", "15m"))

		By("not rewriting settings that are already in place")
		writes.Reset()
		_, err = r.Reconcile(ctx, req)
		Expect(err).NotTo(HaveOccurred())
		Expect(writes.Total()).To(Equal(0))
	})

	It("should wait for fleet to be installed", func() {
		cfg := addonsv1alpha1.NewDefaultFleetAddonConfig()
		cfg.Spec.Config = &addonsv1alpha1.FleetConfig{Server: &addonsv1alpha1.Server{InferLocal: true}}
		c, writes := testutil.NewClient(scheme, cfg)
		r := newReconciler(c)

		result, err := r.Reconcile(ctx, req)
		Expect(err).NotTo(HaveOccurred())
		Expect(result.IsZero()).To(BeTrue())
		Expect(writes.Total()).To(Equal(0))
	})

	It("should keep the feature gates in the referenced chart values", func() {
		values := &corev1.ConfigMap{
			ObjectMeta: metav1.ObjectMeta{Name: "fleet-values", Namespace: "rancher-turtles-system"},
			Data:       map[string]string{FleetValuesKey: "replicas: 1\n"},
		}
		cfg := addonsv1alpha1.NewDefaultFleetAddonConfig()
		cfg.Spec.Config = &addonsv1alpha1.FleetConfig{FeatureGates: &addonsv1alpha1.FeatureGates{
			ExperimentalHelmOps: true,
			ConfigMap: &addonsv1alpha1.FeatureGatesConfigMap{
				Ref: &corev1.ObjectReference{Name: values.Name, Namespace: values.Namespace},
			},
		}}
		c, writes := testutil.NewClient(scheme, cfg, values)
		r := newReconciler(c)

		_, err := r.Reconcile(ctx, req)
		Expect(err).NotTo(HaveOccurred())

		live := &corev1.ConfigMap{}
		Expect(c.Get(ctx, client.ObjectKeyFromObject(values), live)).To(Succeed())
		Expect(live.Data[FleetValuesKey]).To(ContainSubstring(EnvExperimentalHelmOps))
		Expect(live.Data[FleetValuesKey]).To(ContainSubstring("replicas: 1"))

		writes.Reset()
		_, err = r.Reconcile(ctx, req)
		Expect(err).NotTo(HaveOccurred())
		Expect(writes.Total()).To(Equal(0))
	})

	It("should ignore other addon configs", func() {
		c, writes := testutil.NewClient(scheme)
		r := newReconciler(c)

		_, err := r.Reconcile(ctx, ctrl.Request{NamespacedName: client.ObjectKey{Name: "other"}})
		Expect(err).NotTo(HaveOccurred())
		Expect(writes.Total()).To(Equal(0))
		Expect(registry.Generation()).To(BeZero())
	})
})

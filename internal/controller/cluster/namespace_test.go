// Copyright 2025 The CAAPF Authors
// SPDX-License-Identifier: Apache-2.0

package cluster

import (
	"context"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/runtime"
	clusterv1 "sigs.k8s.io/cluster-api/api/v1beta1"
	ctrl "sigs.k8s.io/controller-runtime"
	"sigs.k8s.io/controller-runtime/pkg/client"

	addonsv1alpha1 "github.com/rancher/cluster-api-addon-provider-fleet/api/v1alpha1"
	"github.com/rancher/cluster-api-addon-provider-fleet/internal/controller"
	"github.com/rancher/cluster-api-addon-provider-fleet/internal/controller/testutil"
	"github.com/rancher/cluster-api-addon-provider-fleet/internal/watch"
)

// storeWith returns a subscription store holding clusters.
func storeWith(clusters ...*clusterv1.Cluster) *watch.Store {
	store := watch.NewStore()
	desc := watch.Descriptor{GVK: watch.ClusterGVK}
	for _, c := range clusters {
		content, err := runtime.DefaultUnstructuredConverter.ToUnstructured(c)
		Expect(err).NotTo(HaveOccurred())
		obj := &unstructured.Unstructured{Object: content}
		obj.SetGroupVersionKind(watch.ClusterGVK)
		store.Apply(watch.Event{Type: watch.EventApply, Object: obj, GVK: watch.ClusterGVK, Descriptor: desc.Key()})
	}
	return store
}

func idleStreamer() watch.Streamer {
	return watch.StreamerFunc(func(ctx context.Context, _ watch.Descriptor, _ watch.EmitFunc) error {
		<-ctx.Done()
		return ctx.Err()
	})
}

var _ = Describe("Namespace Controller", func() {
	var (
		scheme   = testutil.Scheme()
		registry *watch.Registry
	)

	BeforeEach(func() {
		registry = watch.NewRegistry(idleStreamer(), make(chan watch.Event, 8), nil)
	})

	AfterEach(func() {
		registry.Stop()
	})

	newReconciler := func(c client.Client) *NamespaceReconciler {
		return &NamespaceReconciler{
			Client:     c,
			Namespaces: c,
			Registry:   registry,
			Events:     &testutil.Events{},
		}
	}

	It("should add one cluster watch per selected namespace", func() {
		ns := &corev1.Namespace{ObjectMeta: metav1.ObjectMeta{Name: "team-a"}}
		c, writes := testutil.NewClient(scheme, ns)
		r := newReconciler(c)

		req := ctrl.Request{NamespacedName: client.ObjectKeyFromObject(ns)}
		_, err := r.Reconcile(ctx, req)
		Expect(err).NotTo(HaveOccurred())
		_, err = r.Reconcile(ctx, req)
		Expect(err).NotTo(HaveOccurred())

		Expect(registry.Descriptors()).To(ConsistOf(watch.NamespacedClusters("team-a")))
		Expect(registry.Add(ctx, watch.NamespacedClusters("team-a"))).To(BeFalse())

		By("leaving the namespace alone without an explicit selector")
		Expect(writes.Total()).To(Equal(0))
	})

	It("should mark selected namespaces as fleet workspaces", func() {
		ns := &corev1.Namespace{ObjectMeta: metav1.ObjectMeta{
			Name:   "team-a",
			Labels: map[string]string{"import": "true"},
		}}
		cfg := addonsv1alpha1.NewDefaultFleetAddonConfig()
		cfg.Spec.Cluster.NamespaceSelector = &metav1.LabelSelector{MatchLabels: map[string]string{"import": "true"}}
		c, writes := testutil.NewClient(scheme, ns, cfg)
		r := newReconciler(c)

		req := ctrl.Request{NamespacedName: client.ObjectKeyFromObject(ns)}
		_, err := r.Reconcile(ctx, req)
		Expect(err).NotTo(HaveOccurred())

		live := &corev1.Namespace{}
		Expect(c.Get(ctx, req.NamespacedName, live)).To(Succeed())
		Expect(live.Annotations).To(HaveKeyWithValue(controller.AnnotationKeyAllowFleetWorkspace, "true"))
		Expect(live.Labels).To(HaveKeyWithValue("import", "true"))
		Expect(writes.Count(testutil.VerbApply)).To(Equal(1))

		writes.Reset()
		_, err = r.Reconcile(ctx, req)
		Expect(err).NotTo(HaveOccurred())
		Expect(writes.Total()).To(Equal(0))
	})

	It("should ignore namespaces that are gone", func() {
		c, writes := testutil.NewClient(scheme)
		r := newReconciler(c)

		result, err := r.Reconcile(ctx, ctrl.Request{NamespacedName: client.ObjectKey{Name: "missing"}})
		Expect(err).NotTo(HaveOccurred())
		Expect(result.IsZero()).To(BeTrue())
		Expect(registry.Descriptors()).To(BeEmpty())
		Expect(writes.Total()).To(Equal(0))
	})
})

// Copyright 2025 The CAAPF Authors
// SPDX-License-Identifier: Apache-2.0

package clustergroup

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	clusterv1 "sigs.k8s.io/cluster-api/api/v1beta1"
	ctrl "sigs.k8s.io/controller-runtime"
	"sigs.k8s.io/controller-runtime/pkg/client"

	fleetv1alpha1 "github.com/rancher/cluster-api-addon-provider-fleet/api/fleet/v1alpha1"
	"github.com/rancher/cluster-api-addon-provider-fleet/internal/controller"
	"github.com/rancher/cluster-api-addon-provider-fleet/internal/controller/testutil"
	"github.com/rancher/cluster-api-addon-provider-fleet/internal/metrics"
)

func newGroup(finalizers ...string) *fleetv1alpha1.ClusterGroup {
	return &fleetv1alpha1.ClusterGroup{
		ObjectMeta: metav1.ObjectMeta{
			Name:       "quick-start",
			Namespace:  "classes",
			Labels:     controller.ClusterClassLabels("quick-start", "classes"),
			Finalizers: finalizers,
		},
		Spec: fleetv1alpha1.ClusterGroupSpec{
			Selector: &metav1.LabelSelector{MatchLabels: controller.ClusterClassLabels("quick-start", "classes")},
		},
	}
}

func newClass(labels map[string]string) *clusterv1.ClusterClass {
	return &clusterv1.ClusterClass{
		ObjectMeta: metav1.ObjectMeta{Name: "quick-start", Namespace: "classes", Labels: labels},
	}
}

var _ = Describe("ClusterGroup Controller", func() {
	var (
		scheme = testutil.Scheme()
		req    = ctrl.Request{NamespacedName: client.ObjectKey{Namespace: "classes", Name: "quick-start"}}
	)

	newReconciler := func(c client.Client) *Reconciler {
		return &Reconciler{Client: c, Events: &testutil.Events{}, Metrics: metrics.New(nil)}
	}

	It("should copy the class labels onto the group", func() {
		c, writes := testutil.NewClient(scheme, newGroup(), newClass(map[string]string{"team": "platform"}))
		r := newReconciler(c)

		_, err := r.Reconcile(ctx, req)
		Expect(err).NotTo(HaveOccurred())
		Expect(writes.Count(testutil.VerbApply)).To(Equal(1))

		group := &fleetv1alpha1.ClusterGroup{}
		Expect(c.Get(ctx, req.NamespacedName, group)).To(Succeed())
		Expect(group.Labels).To(HaveKeyWithValue("team", "platform"))
		Expect(controller.HasClusterClassLabels(group)).To(BeTrue())

		By("not patching a group that already carries the labels")
		writes.Reset()
		_, err = r.Reconcile(ctx, req)
		Expect(err).NotTo(HaveOccurred())
		Expect(writes.Total()).To(Equal(0))
	})

	It("should remove the legacy finalizer", func() {
		c, writes := testutil.NewClient(scheme, newGroup(controller.FleetFinalizer, "other"), newClass(nil))
		r := newReconciler(c)

		_, err := r.Reconcile(ctx, req)
		Expect(err).NotTo(HaveOccurred())
		Expect(writes.Count(testutil.VerbPatch)).To(Equal(1))

		group := &fleetv1alpha1.ClusterGroup{}
		Expect(c.Get(ctx, req.NamespacedName, group)).To(Succeed())
		Expect(group.Finalizers).To(ConsistOf("other"))
	})

	It("should tolerate a missing class", func() {
		c, writes := testutil.NewClient(scheme, newGroup())
		r := newReconciler(c)

		result, err := r.Reconcile(ctx, req)
		Expect(err).NotTo(HaveOccurred())
		Expect(result.IsZero()).To(BeTrue())
		Expect(writes.Total()).To(Equal(0))
	})

	It("should map a class to its group", func() {
		c, _ := testutil.NewClient(scheme, newGroup())
		mapFn := controller.HierarchyWatchHandler[*clusterv1.ClusterClass, *fleetv1alpha1.ClusterGroup](c, controller.GetClassClusterGroup)

		Expect(mapFn(ctx, newClass(nil))).To(ConsistOf(req))

		other := newClass(nil)
		other.Name = "unknown"
		Expect(mapFn(ctx, other)).To(BeEmpty())
	})
})

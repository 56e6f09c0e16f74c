// Copyright 2025 The CAAPF Authors
// SPDX-License-Identifier: Apache-2.0

package clusterclass

import (
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/utils/ptr"
	clusterv1 "sigs.k8s.io/cluster-api/api/v1beta1"
	ctrl "sigs.k8s.io/controller-runtime"
	"sigs.k8s.io/controller-runtime/pkg/client"

	fleetv1alpha1 "github.com/rancher/cluster-api-addon-provider-fleet/api/fleet/v1alpha1"
	addonsv1alpha1 "github.com/rancher/cluster-api-addon-provider-fleet/api/v1alpha1"
	"github.com/rancher/cluster-api-addon-provider-fleet/internal/controller"
	"github.com/rancher/cluster-api-addon-provider-fleet/internal/controller/testutil"
	"github.com/rancher/cluster-api-addon-provider-fleet/internal/labels"
)

func newClass() *clusterv1.ClusterClass {
	return &clusterv1.ClusterClass{
		ObjectMeta: metav1.ObjectMeta{
			Name:      "quick-start",
			Namespace: "classes",
			UID:       "quick-start-uid",
			Labels:    map[string]string{"provider": "docker"},
		},
	}
}

var _ = Describe("ClusterClass Controller", func() {
	var (
		scheme = testutil.Scheme()
		events *testutil.Events
		req    = ctrl.Request{NamespacedName: client.ObjectKey{Namespace: "classes", Name: "quick-start"}}
	)

	BeforeEach(func() {
		events = &testutil.Events{}
	})

	It("should create an owned cluster group selecting the class clusters", func() {
		c, writes := testutil.NewClient(scheme, newClass())
		r := (&Controller{Client: c, Events: events}).Reconciler()

		_, err := r.Reconcile(ctx, req)
		Expect(err).NotTo(HaveOccurred())

		group := &fleetv1alpha1.ClusterGroup{}
		Expect(c.Get(ctx, req.NamespacedName, group)).To(Succeed())
		Expect(group.Labels).To(HaveKeyWithValue("provider", "docker"))
		Expect(group.Labels).To(HaveKeyWithValue(labels.LabelKeyClusterClassName, "quick-start"))
		Expect(group.Labels).To(HaveKeyWithValue(labels.LabelKeyClusterClassNamespace, "classes"))
		Expect(group.Spec.Selector.MatchLabels).To(Equal(controller.ClusterClassLabels("quick-start", "classes")))
		Expect(group.OwnerReferences).To(HaveLen(1))
		Expect(group.OwnerReferences[0].Kind).To(Equal("ClusterClass"))

		class := &clusterv1.ClusterClass{}
		Expect(c.Get(ctx, req.NamespacedName, class)).To(Succeed())
		Expect(class.Finalizers).To(ContainElement(controller.FleetFinalizer))
		Expect(events.Reasons()).To(ContainElement(controller.ReasonUpdated))

		By("reconciling again without changes")
		writes.Reset()
		_, err = r.Reconcile(ctx, req)
		Expect(err).NotTo(HaveOccurred())
		Expect(writes.Total()).To(Equal(0))
	})

	It("should leave owner references off when disabled", func() {
		cfg := addonsv1alpha1.NewDefaultFleetAddonConfig()
		cfg.Spec.ClusterClass.SetOwnerReferences = ptr.To(false)
		cfg.Spec.ClusterClass.PatchResource = ptr.To(false)
		c, writes := testutil.NewClient(scheme, newClass(), cfg)
		r := (&Controller{Client: c, Events: events}).Reconciler()

		_, err := r.Reconcile(ctx, req)
		Expect(err).NotTo(HaveOccurred())
		Expect(writes.Count(testutil.VerbApply)).To(Equal(0))
		Expect(writes.Count(testutil.VerbCreate)).To(Equal(1))

		group := &fleetv1alpha1.ClusterGroup{}
		Expect(c.Get(ctx, req.NamespacedName, group)).To(Succeed())
		Expect(group.OwnerReferences).To(BeEmpty())
	})

	It("should do nothing when class operations are disabled", func() {
		cfg := addonsv1alpha1.NewDefaultFleetAddonConfig()
		cfg.Spec.ClusterClass.Enabled = ptr.To(false)
		c, writes := testutil.NewClient(scheme, newClass(), cfg)
		r := (&Controller{Client: c, Events: events}).Reconciler()

		_, err := r.Reconcile(ctx, req)
		Expect(err).NotTo(HaveOccurred())
		Expect(writes.Total()).To(Equal(0))
	})

	It("should release a deleted class", func() {
		class := newClass()
		now := metav1.NewTime(time.Now())
		class.DeletionTimestamp = &now
		class.Finalizers = []string{controller.FleetFinalizer}
		c, _ := testutil.NewClient(scheme, class)
		r := (&Controller{Client: c, Events: events}).Reconciler()

		_, err := r.Reconcile(ctx, req)
		Expect(err).NotTo(HaveOccurred())
		err = c.Get(ctx, req.NamespacedName, &clusterv1.ClusterClass{})
		Expect(apierrors.IsNotFound(err)).To(BeTrue())
	})
})

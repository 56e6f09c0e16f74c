// Copyright 2025 The CAAPF Authors
// SPDX-License-Identifier: Apache-2.0

package cluster

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/types"
	"k8s.io/utils/ptr"
	clusterv1 "sigs.k8s.io/cluster-api/api/v1beta1"
	ctrl "sigs.k8s.io/controller-runtime"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/client/interceptor"

	fleetv1alpha1 "github.com/rancher/cluster-api-addon-provider-fleet/api/fleet/v1alpha1"
	addonsv1alpha1 "github.com/rancher/cluster-api-addon-provider-fleet/api/v1alpha1"
	"github.com/rancher/cluster-api-addon-provider-fleet/internal/controller"
	"github.com/rancher/cluster-api-addon-provider-fleet/internal/controller/testutil"
	"github.com/rancher/cluster-api-addon-provider-fleet/internal/metrics"
)

func newCluster(name, namespace string, ready bool) *clusterv1.Cluster {
	return &clusterv1.Cluster{
		ObjectMeta: metav1.ObjectMeta{
			Name:      name,
			Namespace: namespace,
			UID:       types.UID(name + "-uid"),
			Labels:    map[string]string{"env": "dev"},
		},
		Spec: clusterv1.ClusterSpec{
			Topology: &clusterv1.Topology{
				Class:          "quick-start",
				ClassNamespace: "classes",
				Version:        "v1.32.0",
			},
		},
		Status: clusterv1.ClusterStatus{ControlPlaneReady: ready},
	}
}

func deleting(c *clusterv1.Cluster) *clusterv1.Cluster {
	now := metav1.NewTime(time.Now())
	c.DeletionTimestamp = &now
	c.Finalizers = []string{controller.FleetFinalizer}
	return c
}

func newClusterReconciler(c client.Client, events *testutil.Events) *controller.Reconciler[*clusterv1.Cluster] {
	return &controller.Reconciler[*clusterv1.Cluster]{
		Client:    c,
		Name:      ControllerName,
		NewObject: func() *clusterv1.Cluster { return &clusterv1.Cluster{} },
		Deriver:   &Deriver{Client: c, Events: events},
		Events:    events,
		Metrics:   metrics.New(nil),
	}
}

func requestFor(obj client.Object) ctrl.Request {
	return ctrl.Request{NamespacedName: client.ObjectKeyFromObject(obj)}
}

var _ = Describe("Cluster Controller", func() {
	var (
		events *testutil.Events
		scheme = testutil.Scheme()
	)

	BeforeEach(func() {
		events = &testutil.Events{}
	})

	Context("When reconciling a ready cluster", func() {
		It("should create the fleet state and add the finalizer", func() {
			source := newCluster("cluster-a", "default", true)
			c, writes := testutil.NewClient(scheme, source)
			r := newClusterReconciler(c, events)

			result, err := r.Reconcile(ctx, requestFor(source))
			Expect(err).NotTo(HaveOccurred())
			Expect(result.IsZero()).To(BeTrue())

			By("keeping the finalizer on the source")
			live := &clusterv1.Cluster{}
			Expect(c.Get(ctx, client.ObjectKeyFromObject(source), live)).To(Succeed())
			Expect(live.Finalizers).To(ContainElement(controller.FleetFinalizer))

			By("registering the fleet cluster with a kubeconfig secret")
			fleet := &fleetv1alpha1.Cluster{}
			Expect(c.Get(ctx, client.ObjectKey{Namespace: "default", Name: "cluster-a"}, fleet)).To(Succeed())
			Expect(fleet.Spec.KubeConfigSecret).To(Equal("cluster-a-kubeconfig"))
			Expect(fleet.Spec.ClientID).To(BeEmpty())
			Expect(fleet.Spec.AgentNamespace).To(Equal(addonsv1alpha1.DefaultAgentNamespace))
			Expect(fleet.Labels).To(HaveKeyWithValue("env", "dev"))
			Expect(controller.GetClusterClassName(fleet)).To(Equal("quick-start"))
			Expect(controller.GetClusterClassNamespace(fleet)).To(Equal("classes"))
			Expect(fleet.OwnerReferences).To(HaveLen(1))
			Expect(fleet.OwnerReferences[0].UID).To(Equal(source.UID))
			Expect(ptr.Deref(fleet.OwnerReferences[0].Controller, false)).To(BeTrue())

			By("creating the class group in the cluster namespace")
			group := &fleetv1alpha1.ClusterGroup{}
			Expect(c.Get(ctx, client.ObjectKey{Namespace: "default", Name: "quick-start.classes"}, group)).To(Succeed())
			Expect(group.Spec.Selector.MatchLabels).To(Equal(controller.ClusterClassLabels("quick-start", "classes")))

			By("mapping the class namespace to the cluster namespace")
			mapping := &fleetv1alpha1.BundleNamespaceMapping{}
			Expect(c.Get(ctx, client.ObjectKey{Namespace: "classes", Name: "default"}, mapping)).To(Succeed())
			Expect(mapping.NamespaceSelector.MatchLabels).To(HaveKeyWithValue("kubernetes.io/metadata.name", "default"))

			Expect(writes.Count(testutil.VerbPatch)).To(Equal(1))
			Expect(writes.Count(testutil.VerbApply)).To(Equal(3))
			Expect(writes.FieldOwners()).To(ContainElement(controller.FieldOwnerFor("cluster-a")))
		})

		It("should not write anything when the fleet state is current", func() {
			source := newCluster("cluster-a", "default", true)
			c, writes := testutil.NewClient(scheme, source)
			r := newClusterReconciler(c, events)

			_, err := r.Reconcile(ctx, requestFor(source))
			Expect(err).NotTo(HaveOccurred())
			writes.Reset()

			_, err = r.Reconcile(ctx, requestFor(source))
			Expect(err).NotTo(HaveOccurred())
			Expect(writes.Total()).To(Equal(0))
		})

		It("should expose the referenced objects as template values", func() {
			source := newCluster("cluster-a", "default", true)
			source.Spec.ControlPlaneRef = &corev1.ObjectReference{APIVersion: "v1", Kind: "ConfigMap", Name: "cluster-a-control-plane"}
			source.Spec.InfrastructureRef = &corev1.ObjectReference{APIVersion: "v1", Kind: "ConfigMap", Name: "cluster-a-infra", Namespace: "default"}
			controlPlane := &corev1.ConfigMap{
				ObjectMeta: metav1.ObjectMeta{
					Name:      "cluster-a-control-plane",
					Namespace: "default",
					ManagedFields: []metav1.ManagedFieldsEntry{{
						Manager:   "kubeadm",
						Operation: metav1.ManagedFieldsOperationUpdate,
					}},
				},
				Data: map[string]string{"replicas": "3"},
			}
			infra := &corev1.ConfigMap{
				ObjectMeta: metav1.ObjectMeta{Name: "cluster-a-infra", Namespace: "default"},
				Data:       map[string]string{"region": "eu-west-1"},
			}
			c, writes := testutil.NewClient(scheme, source, controlPlane, infra)
			r := newClusterReconciler(c, events)

			_, err := r.Reconcile(ctx, requestFor(source))
			Expect(err).NotTo(HaveOccurred())

			fleet := &fleetv1alpha1.Cluster{}
			Expect(c.Get(ctx, client.ObjectKey{Namespace: "default", Name: "cluster-a"}, fleet)).To(Succeed())
			Expect(fleet.Spec.TemplateValues).To(HaveLen(3))

			decode := func(key string) map[string]any {
				Expect(fleet.Spec.TemplateValues).To(HaveKey(key))
				out := map[string]any{}
				Expect(json.Unmarshal(fleet.Spec.TemplateValues[key].Raw, &out)).To(Succeed())
				return out
			}

			By("stripping volatile fields from the cluster")
			clusterValue := decode(TemplateKeyCluster)
			Expect(clusterValue).NotTo(HaveKey("status"))
			Expect(clusterValue).To(HaveKeyWithValue("kind", "Cluster"))
			Expect(clusterValue["metadata"]).NotTo(HaveKey("resourceVersion"))
			Expect(clusterValue["metadata"]).To(HaveKeyWithValue("name", "cluster-a"))

			By("resolving the control plane in the cluster namespace")
			controlPlaneValue := decode(TemplateKeyControlPlane)
			Expect(controlPlaneValue["data"]).To(HaveKeyWithValue("replicas", "3"))
			Expect(controlPlaneValue["metadata"]).NotTo(HaveKey("resourceVersion"))
			Expect(controlPlaneValue["metadata"]).NotTo(HaveKey("managedFields"))

			By("resolving the infrastructure cluster")
			infraValue := decode(TemplateKeyInfrastructureCluster)
			Expect(infraValue["data"]).To(HaveKeyWithValue("region", "eu-west-1"))
			Expect(infraValue["metadata"]).NotTo(HaveKey("resourceVersion"))

			By("keeping the values stable across reconciles")
			writes.Reset()
			for range 3 {
				_, err = r.Reconcile(ctx, requestFor(source))
				Expect(err).NotTo(HaveOccurred())
			}
			Expect(writes.Total()).To(Equal(0))
		})

		It("should tolerate labels added by other writers", func() {
			source := newCluster("cluster-a", "default", true)
			c, writes := testutil.NewClient(scheme, source)
			r := newClusterReconciler(c, events)

			_, err := r.Reconcile(ctx, requestFor(source))
			Expect(err).NotTo(HaveOccurred())

			fleet := &fleetv1alpha1.Cluster{}
			Expect(c.Get(ctx, client.ObjectKey{Namespace: "default", Name: "cluster-a"}, fleet)).To(Succeed())
			fleet.Labels["fleet.cattle.io/extra"] = "true"
			Expect(c.Update(ctx, fleet)).To(Succeed())
			writes.Reset()

			_, err = r.Reconcile(ctx, requestFor(source))
			Expect(err).NotTo(HaveOccurred())
			Expect(writes.Count(testutil.VerbApply)).To(Equal(0))
		})

		It("should skip clusters whose control plane is not ready", func() {
			source := newCluster("cluster-a", "default", false)
			c, writes := testutil.NewClient(scheme, source)
			r := newClusterReconciler(c, events)

			result, err := r.Reconcile(ctx, requestFor(source))
			Expect(err).NotTo(HaveOccurred())
			Expect(result.IsZero()).To(BeTrue())
			Expect(writes.Total()).To(Equal(0))

			live := &clusterv1.Cluster{}
			Expect(c.Get(ctx, client.ObjectKeyFromObject(source), live)).To(Succeed())
			Expect(live.Finalizers).To(BeEmpty())
		})

		It("should skip clusters when cluster operations are disabled", func() {
			source := newCluster("cluster-a", "default", true)
			cfg := addonsv1alpha1.NewDefaultFleetAddonConfig()
			cfg.Spec.Cluster.Enabled = ptr.To(false)
			c, writes := testutil.NewClient(scheme, source, cfg)
			r := newClusterReconciler(c, events)

			_, err := r.Reconcile(ctx, requestFor(source))
			Expect(err).NotTo(HaveOccurred())
			Expect(writes.Total()).To(Equal(0))
		})
	})

	Context("When the addon config customises clusters", func() {
		It("should register agent initiated clusters with a token", func() {
			source := newCluster("cluster-a", "default", true)
			cfg := addonsv1alpha1.NewDefaultFleetAddonConfig()
			cfg.Spec.Cluster.AgentInitiated = ptr.To(true)
			cfg.Spec.Cluster.Naming = addonsv1alpha1.NamingStrategy{Prefix: "capi-"}
			c, _ := testutil.NewClient(scheme, source, cfg)
			r := newClusterReconciler(c, events)

			_, err := r.Reconcile(ctx, requestFor(source))
			Expect(err).NotTo(HaveOccurred())

			fleet := &fleetv1alpha1.Cluster{}
			Expect(c.Get(ctx, client.ObjectKey{Namespace: "default", Name: "capi-cluster-a"}, fleet)).To(Succeed())
			Expect(fleet.Spec.ClientID).To(Equal(ClientID(source)))
			Expect(fleet.Spec.KubeConfigSecret).To(BeEmpty())

			token := &fleetv1alpha1.ClusterRegistrationToken{}
			Expect(c.Get(ctx, client.ObjectKey{Namespace: "default", Name: "cluster-a"}, token)).To(Succeed())
			Expect(token.Spec.TTL.Duration).To(Equal(RegistrationTokenTTL))
			Expect(events.Reasons()).To(ContainElement(controller.ReasonCreated))
		})

		It("should only create missing objects when patching is disabled", func() {
			source := newCluster("cluster-a", "default", true)
			cfg := addonsv1alpha1.NewDefaultFleetAddonConfig()
			cfg.Spec.Cluster.PatchResource = ptr.To(false)
			existing := &fleetv1alpha1.Cluster{
				ObjectMeta: metav1.ObjectMeta{Name: "cluster-a", Namespace: "default"},
				Spec:       fleetv1alpha1.ClusterSpec{AgentNamespace: "custom"},
			}
			c, writes := testutil.NewClient(scheme, source, cfg, existing)
			r := newClusterReconciler(c, events)

			_, err := r.Reconcile(ctx, requestFor(source))
			Expect(err).NotTo(HaveOccurred())
			Expect(writes.Count(testutil.VerbApply)).To(Equal(0))

			fleet := &fleetv1alpha1.Cluster{}
			Expect(c.Get(ctx, client.ObjectKeyFromObject(existing), fleet)).To(Succeed())
			Expect(fleet.Spec.AgentNamespace).To(Equal("custom"))

			group := &fleetv1alpha1.ClusterGroup{}
			Expect(c.Get(ctx, client.ObjectKey{Namespace: "default", Name: "quick-start.classes"}, group)).To(Succeed())
		})

		It("should not create groups when class groups are disabled", func() {
			source := newCluster("cluster-a", "default", true)
			cfg := addonsv1alpha1.NewDefaultFleetAddonConfig()
			cfg.Spec.Cluster.ApplyClassGroup = ptr.To(false)
			c, writes := testutil.NewClient(scheme, source, cfg)
			r := newClusterReconciler(c, events)

			_, err := r.Reconcile(ctx, requestFor(source))
			Expect(err).NotTo(HaveOccurred())
			Expect(writes.Count(testutil.VerbApply)).To(Equal(1))

			groups := &fleetv1alpha1.ClusterGroupList{}
			Expect(c.List(ctx, groups)).To(Succeed())
			Expect(groups.Items).To(BeEmpty())
		})
	})

	Context("When a cluster is deleted", func() {
		mapping := func() *fleetv1alpha1.BundleNamespaceMapping {
			return NamespaceMapping(newCluster("cluster-a", "default", true), &addonsv1alpha1.ClusterConfig{})
		}

		It("should keep the finalizer while another cluster uses the mapping", func() {
			source := deleting(newCluster("cluster-a", "default", true))
			other := newCluster("cluster-b", "default", true)
			c, writes := testutil.NewClient(scheme, source, other, mapping())
			r := newClusterReconciler(c, events)

			result, err := r.Reconcile(ctx, requestFor(source))
			Expect(err).NotTo(HaveOccurred())
			Expect(result.RequeueAfter).To(Equal(MappingInUseRequeue))
			Expect(writes.Total()).To(Equal(0))

			live := &clusterv1.Cluster{}
			Expect(c.Get(ctx, client.ObjectKeyFromObject(source), live)).To(Succeed())
			Expect(live.Finalizers).To(ContainElement(controller.FleetFinalizer))
			Expect(c.Get(ctx, client.ObjectKeyFromObject(mapping()), &fleetv1alpha1.BundleNamespaceMapping{})).To(Succeed())
		})

		It("should ignore clusters of another class namespace", func() {
			source := deleting(newCluster("cluster-a", "default", true))
			other := newCluster("cluster-b", "default", true)
			other.Spec.Topology.ClassNamespace = "elsewhere"
			c, _ := testutil.NewClient(scheme, source, other, mapping())
			r := newClusterReconciler(c, events)

			result, err := r.Reconcile(ctx, requestFor(source))
			Expect(err).NotTo(HaveOccurred())
			Expect(result.IsZero()).To(BeTrue())
			err = c.Get(ctx, client.ObjectKeyFromObject(mapping()), &fleetv1alpha1.BundleNamespaceMapping{})
			Expect(apierrors.IsNotFound(err)).To(BeTrue())
		})

		It("should delete the mapping with the last cluster and release the source", func() {
			source := deleting(newCluster("cluster-a", "default", true))
			c, writes := testutil.NewClient(scheme, source, mapping())
			r := newClusterReconciler(c, events)

			result, err := r.Reconcile(ctx, requestFor(source))
			Expect(err).NotTo(HaveOccurred())
			Expect(result.IsZero()).To(BeTrue())
			Expect(writes.Count(testutil.VerbDelete)).To(Equal(1))

			err = c.Get(ctx, client.ObjectKeyFromObject(mapping()), &fleetv1alpha1.BundleNamespaceMapping{})
			Expect(apierrors.IsNotFound(err)).To(BeTrue())
			err = c.Get(ctx, client.ObjectKeyFromObject(source), &clusterv1.Cluster{})
			Expect(apierrors.IsNotFound(err)).To(BeTrue())
		})

		It("should keep the finalizer when the mapping cannot be deleted", func() {
			source := deleting(newCluster("cluster-a", "default", true))
			c, _ := testutil.NewClientWithFuncs(scheme, interceptor.Funcs{
				Delete: func(context.Context, client.WithWatch, client.Object, ...client.DeleteOption) error {
					return errors.New("etcd unavailable")
				},
			}, source, mapping())
			r := newClusterReconciler(c, events)

			result, err := r.Reconcile(ctx, requestFor(source))
			Expect(err).NotTo(HaveOccurred())
			Expect(result.RequeueAfter).To(Equal(controller.DefaultErrorRequeue))

			live := &clusterv1.Cluster{}
			Expect(c.Get(ctx, client.ObjectKeyFromObject(source), live)).To(Succeed())
			Expect(live.Finalizers).To(ContainElement(controller.FleetFinalizer))
		})

		It("should release clusters that no longer derive fleet state", func() {
			source := deleting(newCluster("cluster-a", "default", false))
			c, _ := testutil.NewClient(scheme, source)
			r := newClusterReconciler(c, events)

			_, err := r.Reconcile(ctx, requestFor(source))
			Expect(err).NotTo(HaveOccurred())
			Expect(events.Reasons()).To(ContainElement(controller.ReasonDeleteRequested))
			err = c.Get(ctx, client.ObjectKeyFromObject(source), &clusterv1.Cluster{})
			Expect(apierrors.IsNotFound(err)).To(BeTrue())
		})
	})
})

var _ = Describe("ClustersForMapping", func() {
	It("should map a mapping to the clusters of its class namespace", func() {
		store := storeWith(
			newCluster("cluster-a", "default", true),
			newCluster("cluster-b", "team", true),
			func() *clusterv1.Cluster {
				c := newCluster("cluster-c", "default", true)
				c.Spec.Topology = nil
				return c
			}(),
		)
		mapping := &fleetv1alpha1.BundleNamespaceMapping{
			ObjectMeta: metav1.ObjectMeta{Name: "default", Namespace: "classes"},
		}

		requests := ClustersForMapping(store)(ctx, mapping)
		Expect(requests).To(ConsistOf(
			ctrl.Request{NamespacedName: types.NamespacedName{Namespace: "default", Name: "cluster-a"}},
			ctrl.Request{NamespacedName: types.NamespacedName{Namespace: "team", Name: "cluster-b"}},
		))
	})

	It("should wake deleting siblings when a cluster of their namespace changes", func() {
		store := storeWith(
			newCluster("cluster-a", "default", true),
			deleting(newCluster("cluster-b", "default", true)),
			deleting(newCluster("cluster-c", "team", true)),
			func() *clusterv1.Cluster {
				c := newCluster("cluster-d", "default", true)
				now := metav1.NewTime(time.Now())
				c.DeletionTimestamp = &now
				c.Finalizers = []string{"other"}
				return c
			}(),
		)
		changed, ok := store.Get(types.NamespacedName{Namespace: "default", Name: "cluster-a"})
		Expect(ok).To(BeTrue())

		requests := RequestsWithWaitingSiblings(store)(ctx, changed)
		Expect(requests).To(ConsistOf(
			ctrl.Request{NamespacedName: types.NamespacedName{Namespace: "default", Name: "cluster-a"}},
			ctrl.Request{NamespacedName: types.NamespacedName{Namespace: "default", Name: "cluster-b"}},
		))
	})

	It("should default the class namespace to the cluster namespace", func() {
		c := newCluster("cluster-a", "default", true)
		c.Spec.Topology.ClassNamespace = ""
		Expect(ClassNamespace(c)).To(Equal("default"))
		Expect(ClassGroup(c, &addonsv1alpha1.ClusterConfig{}).Name).To(Equal("quick-start.default"))
		Expect(NamespaceMapping(c, &addonsv1alpha1.ClusterConfig{})).To(BeNil())
	})
})

var _ = Describe("Control plane readiness", func() {
	It("should accept the ready condition", func() {
		c := newCluster("cluster-a", "default", false)
		c.Status.Conditions = clusterv1.Conditions{{
			Type:   clusterv1.ControlPlaneReadyCondition,
			Status: corev1.ConditionTrue,
		}}
		Expect(ControlPlaneReady(c)).To(BeTrue())
	})
})

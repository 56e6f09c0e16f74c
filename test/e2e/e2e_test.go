//go:build e2e

// Copyright 2025 The CAAPF Authors
// SPDX-License-Identifier: Apache-2.0

package e2e

import (
	"strings"

	. "github.com/onsi/ginkgo/v2" //nolint:revive
	. "github.com/onsi/gomega"    //nolint:revive

	"github.com/rancher/cluster-api-addon-provider-fleet/test/e2e/framework"
)

var _ = Describe("Fleet Addon Provider", Ordered, func() {
	const (
		caapfNamespace = "caapf-system"
		fleetNamespace = "cattle-fleet-system"
	)

	SetDefaultEventuallyTimeout(framework.DefaultTimeout)
	SetDefaultEventuallyPollingInterval(framework.DefaultPolling)

	Context("Deployments", func() {
		for _, ns := range []string{caapfNamespace, fleetNamespace} {
			It("should have all pods running in "+ns, func() {
				Eventually(func(g Gomega) {
					framework.AssertAllPodsRunning(g, kubectl, ns)
				}).Should(Succeed())
			})
		}
	})

	Context("CRDs", func() {
		crds := []string{
			"fleetaddonconfigs.addons.cluster.x-k8s.io",
			"clusters.cluster.x-k8s.io",
			"clusterclasses.cluster.x-k8s.io",
			"clusters.fleet.cattle.io",
			"clustergroups.fleet.cattle.io",
			"bundlenamespacemappings.fleet.cattle.io",
		}
		for _, crd := range crds {
			It("should have CRD "+crd, func() {
				_, err := kubectl.List("", "crd", crd)
				Expect(err).NotTo(HaveOccurred(), "CRD %s should be registered", crd)
			})
		}
	})

	Context("Readiness", func() {
		It("should report the controller ready once watches are installed", func() {
			Eventually(func(g Gomega) {
				framework.AssertJsonpathEquals(g, kubectl, caapfNamespace,
					"deployment", "caapf-controller-manager",
					"{.status.readyReplicas}", "1")
			}).Should(Succeed())
		})
	})

	Context("Cluster import", func() {
		BeforeEach(func() {
			if importedCluster == "" {
				Skip("--e2e.cluster not set")
			}
		})

		It("should create a fleet cluster owned by the CAPI cluster", func() {
			namespace, name, ok := strings.Cut(importedCluster, "/")
			Expect(ok).To(BeTrue(), "--e2e.cluster must be namespace/name")

			Eventually(func(g Gomega) {
				framework.AssertResourceExists(g, kubectl, namespace, "clusters.fleet.cattle.io", name)
				framework.AssertJsonpathEquals(g, kubectl, namespace,
					"clusters.fleet.cattle.io", name,
					"{.metadata.ownerReferences[0].kind}", "Cluster")
			}).Should(Succeed())
		})

		It("should keep the finalizer on the CAPI cluster", func() {
			namespace, name, _ := strings.Cut(importedCluster, "/")
			Eventually(func(g Gomega) {
				framework.AssertJsonpathEquals(g, kubectl, namespace,
					"clusters.cluster.x-k8s.io", name,
					"{.metadata.finalizers[?(@==\"fleet.addons.cluster.x-k8s.io\")]}",
					"fleet.addons.cluster.x-k8s.io")
			}).Should(Succeed())
		})
	})
})

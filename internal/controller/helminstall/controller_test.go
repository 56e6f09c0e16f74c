// Copyright 2025 The CAAPF Authors
// SPDX-License-Identifier: Apache-2.0

package helminstall

import (
	"context"
	"errors"
	"strings"
	"sync"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	apimeta "k8s.io/apimachinery/pkg/api/meta"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	ctrl "sigs.k8s.io/controller-runtime"
	"sigs.k8s.io/controller-runtime/pkg/client"

	addonsv1alpha1 "github.com/rancher/cluster-api-addon-provider-fleet/api/v1alpha1"
	"github.com/rancher/cluster-api-addon-provider-fleet/internal/controller"
	"github.com/rancher/cluster-api-addon-provider-fleet/internal/controller/testutil"
	"github.com/rancher/cluster-api-addon-provider-fleet/internal/helm"
)

const (
	searchLatest  = `[{"name":"fleet/fleet","app_version":"0.12.0"},{"name":"fleet/fleet-crd","app_version":"0.12.0"}]`
	listInstalled = `[{"name":"fleet","app_version":"0.11.5","status":"deployed"},{"name":"fleet-crd","app_version":"0.11.5","status":"deployed"}]`
)

// fakeHelm records helm invocations and answers them by their first two arguments.
type fakeHelm struct {
	mu      sync.Mutex
	outputs map[string]string
	errs    map[string]error
	calls   []string
}

func (f *fakeHelm) Run(_ context.Context, args ...string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := strings.Join(args[:2], " ")
	f.calls = append(f.calls, key)
	if err := f.errs[key]; err != nil {
		return nil, err
	}
	out, ok := f.outputs[key]
	if !ok {
		out = "[]"
	}
	return []byte(out), nil
}

func (f *fakeHelm) invoked(prefix string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, call := range f.calls {
		if strings.HasPrefix(call, prefix) {
			out = append(out, call)
		}
	}
	return out
}

var _ = Describe("Helm Install Controller", func() {
	var (
		scheme = testutil.Scheme()
		req    = ctrl.Request{NamespacedName: client.ObjectKey{Name: addonsv1alpha1.FleetAddonConfigName}}
	)

	reconcile := func(runner *fakeHelm, install *addonsv1alpha1.FleetInstall) (ctrl.Result, *addonsv1alpha1.FleetAddonConfig) {
		cfg := addonsv1alpha1.NewDefaultFleetAddonConfig()
		cfg.Spec.Install = install
		c, _ := testutil.NewClient(scheme, cfg)
		r := &Reconciler{Client: c, Helm: &helm.Client{Runner: runner}}

		result, err := r.Reconcile(ctx, req)
		Expect(err).NotTo(HaveOccurred())

		live := &addonsv1alpha1.FleetAddonConfig{}
		Expect(c.Get(ctx, req.NamespacedName, live)).To(Succeed())
		return result, live
	}

	isTrue := func(cfg *addonsv1alpha1.FleetAddonConfig, conditionType string) bool {
		return apimeta.IsStatusConditionTrue(cfg.Status.Conditions, conditionType)
	}

	It("should only prepare the repository without an install section", func() {
		runner := &fakeHelm{}
		result, live := reconcile(runner, nil)

		Expect(result.IsZero()).To(BeTrue())
		Expect(runner.invoked("repo")).To(Equal([]string{"repo add", "repo update"}))
		Expect(runner.invoked("install")).To(BeEmpty())
		Expect(isTrue(live, ConditionRepoAdd)).To(BeTrue())
		Expect(isTrue(live, ConditionRepoUpdate)).To(BeTrue())
		Expect(isTrue(live, ConditionReady)).To(BeTrue())
	})

	It("should install both charts when nothing is installed", func() {
		runner := &fakeHelm{outputs: map[string]string{"search repo": searchLatest}}
		result, live := reconcile(runner, &addonsv1alpha1.FleetInstall{FollowLatest: true})

		Expect(result.IsZero()).To(BeTrue())
		Expect(runner.invoked("install")).To(Equal([]string{"install fleet-crd", "install fleet"}))
		Expect(live.Status.InstalledVersion).To(Equal("0.12.0"))
		Expect(isTrue(live, ConditionInstalled)).To(BeTrue())
	})

	It("should upgrade to the latest version when following latest", func() {
		runner := &fakeHelm{outputs: map[string]string{"search repo": searchLatest, "list -A": listInstalled}}
		_, live := reconcile(runner, &addonsv1alpha1.FleetInstall{FollowLatest: true})

		Expect(runner.invoked("upgrade")).To(Equal([]string{"upgrade fleet-crd", "upgrade fleet"}))
		Expect(live.Status.InstalledVersion).To(Equal("0.12.0"))
	})

	It("should leave a pinned version that is already installed", func() {
		runner := &fakeHelm{outputs: map[string]string{"search repo": searchLatest, "list -A": listInstalled}}
		_, live := reconcile(runner, &addonsv1alpha1.FleetInstall{Version: "v0.11.5"})

		Expect(runner.invoked("upgrade")).To(BeEmpty())
		Expect(runner.invoked("install")).To(BeEmpty())
		Expect(live.Status.InstalledVersion).To(Equal("0.11.5"))
		Expect(apimeta.FindStatusCondition(live.Status.Conditions, ConditionInstalled)).To(BeNil())
	})

	It("should wait for the charts to appear in the repository", func() {
		runner := &fakeHelm{}
		result, live := reconcile(runner, &addonsv1alpha1.FleetInstall{FollowLatest: true})

		Expect(result.RequeueAfter).To(Equal(ChartNotFoundRequeue))
		Expect(runner.invoked("install")).To(BeEmpty())
		Expect(isTrue(live, ConditionReady)).To(BeTrue())
	})

	It("should report a helm failure on the Ready condition", func() {
		runner := &fakeHelm{errs: map[string]error{"repo add": errors.New("network unreachable")}}
		result, live := reconcile(runner, &addonsv1alpha1.FleetInstall{FollowLatest: true})

		Expect(result.RequeueAfter).To(Equal(controller.DefaultErrorRequeue))
		ready := apimeta.FindStatusCondition(live.Status.Conditions, ConditionReady)
		Expect(ready).NotTo(BeNil())
		Expect(ready.Status).To(Equal(metav1.ConditionFalse))
		Expect(ready.Message).To(ContainSubstring("network unreachable"))
		Expect(runner.invoked("repo update")).To(BeEmpty())
	})

	It("should ignore a missing addon config", func() {
		c, _ := testutil.NewClient(scheme)
		runner := &fakeHelm{}
		r := &Reconciler{Client: c, Helm: &helm.Client{Runner: runner}}

		result, err := r.Reconcile(ctx, req)
		Expect(err).NotTo(HaveOccurred())
		Expect(result.IsZero()).To(BeTrue())
		Expect(runner.calls).To(BeEmpty())
	})
})

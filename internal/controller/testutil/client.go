// Copyright 2025 The CAAPF Authors
// SPDX-License-Identifier: Apache-2.0

// Package testutil builds fake API clients for controller tests.
//
// The controller-runtime fake client rejects apply patches. The client built
// here emulates server-side apply closely enough for the addon provider:
// labels, annotations and owner references of other managers survive an
// apply, everything else is replaced. Successful writes are counted per verb.
package testutil

import (
	"context"
	"sync"

	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/apimachinery/pkg/types"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/client/apiutil"
	"sigs.k8s.io/controller-runtime/pkg/client/fake"
	"sigs.k8s.io/controller-runtime/pkg/client/interceptor"

	addonsv1alpha1 "github.com/rancher/cluster-api-addon-provider-fleet/api/v1alpha1"
)

// Write verbs recorded by Writes.
const (
	VerbCreate = "create"
	VerbApply  = "apply"
	VerbPatch  = "patch"
	VerbUpdate = "update"
	VerbDelete = "delete"
)

// Writes records successful mutating calls.
type Writes struct {
	mu          sync.Mutex
	counts      map[string]int
	fieldOwners []string
	forced      []bool
}

func (w *Writes) record(verb string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.counts[verb]++
}

func (w *Writes) recordApply(owner string, force bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.counts[VerbApply]++
	w.fieldOwners = append(w.fieldOwners, owner)
	w.forced = append(w.forced, force)
}

// Count returns the number of successful writes with verb.
func (w *Writes) Count(verb string) int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.counts[verb]
}

// Total returns the number of successful writes.
func (w *Writes) Total() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	total := 0
	for _, n := range w.counts {
		total += n
	}
	return total
}

// FieldOwners returns the field managers of every apply, in call order.
func (w *Writes) FieldOwners() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]string(nil), w.fieldOwners...)
}

// Forced reports, per apply, whether ownership was forced.
func (w *Writes) Forced() []bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]bool(nil), w.forced...)
}

// Reset forgets every recorded write.
func (w *Writes) Reset() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.counts = map[string]int{}
	w.fieldOwners = nil
	w.forced = nil
}

// NewClient returns a fake client seeded with objs that supports apply patches.
func NewClient(scheme *runtime.Scheme, objs ...client.Object) (client.WithWatch, *Writes) {
	return NewClientWithFuncs(scheme, interceptor.Funcs{}, objs...)
}

// NewClientWithFuncs is NewClient with extra interceptors. A non-nil
// interceptor in funcs runs instead of the recording one for its verb.
func NewClientWithFuncs(scheme *runtime.Scheme, funcs interceptor.Funcs, objs ...client.Object) (client.WithWatch, *Writes) {
	writes := &Writes{counts: map[string]int{}}

	if funcs.Create == nil {
		funcs.Create = func(ctx context.Context, c client.WithWatch, obj client.Object, opts ...client.CreateOption) error {
			if err := c.Create(ctx, obj, opts...); err != nil {
				return err
			}
			writes.record(VerbCreate)
			return nil
		}
	}
	if funcs.Update == nil {
		funcs.Update = func(ctx context.Context, c client.WithWatch, obj client.Object, opts ...client.UpdateOption) error {
			if err := c.Update(ctx, obj, opts...); err != nil {
				return err
			}
			writes.record(VerbUpdate)
			return nil
		}
	}
	if funcs.Delete == nil {
		funcs.Delete = func(ctx context.Context, c client.WithWatch, obj client.Object, opts ...client.DeleteOption) error {
			if err := c.Delete(ctx, obj, opts...); err != nil {
				return err
			}
			writes.record(VerbDelete)
			return nil
		}
	}
	if funcs.Patch == nil {
		funcs.Patch = func(ctx context.Context, c client.WithWatch, obj client.Object, patch client.Patch, opts ...client.PatchOption) error {
			if patch.Type() != types.ApplyPatchType {
				if err := c.Patch(ctx, obj, patch, opts...); err != nil {
					return err
				}
				writes.record(VerbPatch)
				return nil
			}

			po := &client.PatchOptions{}
			po.ApplyOptions(opts)
			if err := apply(ctx, c, obj); err != nil {
				return err
			}
			writes.recordApply(po.FieldManager, po.Force != nil && *po.Force)
			return nil
		}
	}

	c := fake.NewClientBuilder().
		WithScheme(scheme).
		WithObjects(objs...).
		WithStatusSubresource(&addonsv1alpha1.FleetAddonConfig{}).
		WithInterceptorFuncs(funcs).
		Build()
	return c, writes
}

// apply creates obj or overlays it on the live object.
func apply(ctx context.Context, c client.WithWatch, obj client.Object) error {
	gvk, err := apiutil.GVKForObject(obj, c.Scheme())
	if err != nil {
		return err
	}
	ro, err := c.Scheme().New(gvk)
	if err != nil {
		return err
	}
	live := ro.(client.Object)

	if err := c.Get(ctx, client.ObjectKeyFromObject(obj), live); err != nil {
		if !apierrors.IsNotFound(err) {
			return err
		}
		obj.SetResourceVersion("")
		return c.Create(ctx, obj)
	}

	obj.SetLabels(merge(live.GetLabels(), obj.GetLabels()))
	obj.SetAnnotations(merge(live.GetAnnotations(), obj.GetAnnotations()))
	obj.SetOwnerReferences(mergeOwners(live.GetOwnerReferences(), obj.GetOwnerReferences()))
	obj.SetFinalizers(live.GetFinalizers())
	obj.SetUID(live.GetUID())
	obj.SetCreationTimestamp(live.GetCreationTimestamp())
	obj.SetResourceVersion(live.GetResourceVersion())
	return c.Update(ctx, obj)
}

func merge(live, applied map[string]string) map[string]string {
	if len(live) == 0 && len(applied) == 0 {
		return nil
	}
	out := make(map[string]string, len(live)+len(applied))
	for k, v := range live {
		out[k] = v
	}
	for k, v := range applied {
		out[k] = v
	}
	return out
}

func mergeOwners(live, applied []metav1.OwnerReference) []metav1.OwnerReference {
	out := append([]metav1.OwnerReference(nil), live...)
	for _, ref := range applied {
		found := false
		for _, l := range live {
			if l.UID == ref.UID {
				found = true
				break
			}
		}
		if !found {
			out = append(out, ref)
		}
	}
	return out
}

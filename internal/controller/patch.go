// Copyright 2025 The CAAPF Authors
// SPDX-License-Identifier: Apache-2.0

package controller

import (
	"context"
	"fmt"

	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/runtime/schema"
	ctrl "sigs.k8s.io/controller-runtime"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/client/apiutil"
	"sigs.k8s.io/controller-runtime/pkg/log"
)

// DefaultFieldOwner is the field manager used for every server-side apply.
const DefaultFieldOwner = "addon-provider-fleet"

// Resource is a managed object that can tell whether a live counterpart differs from it.
type Resource interface {
	client.Object

	// Diff reports whether live is missing any state carried by the receiver.
	Diff(live client.Object) bool
}

// diffResource pairs a plain object with a diff predicate.
type diffResource struct {
	client.Object
	diff func(live client.Object) bool
}

func (d *diffResource) Diff(live client.Object) bool { return d.diff(live) }

// WithDiff adapts obj, a kind without a Diff method, to Resource.
func WithDiff(obj client.Object, diff func(live client.Object) bool) Resource {
	return &diffResource{Object: obj, diff: diff}
}

// target returns the object sent to the API server.
func target(obj client.Object) client.Object {
	if d, ok := obj.(*diffResource); ok {
		return d.Object
	}
	return obj
}

type patchOptions struct {
	fieldOwner string
	force      bool
}

// PatchOption configures PatchIfDifferent.
type PatchOption func(*patchOptions)

// WithFieldOwner overrides the field manager.
func WithFieldOwner(owner string) PatchOption {
	return func(o *patchOptions) { o.fieldOwner = owner }
}

// WithForce takes ownership of conflicting fields.
func WithForce() PatchOption {
	return func(o *patchOptions) { o.force = true }
}

// FieldOwnerFor returns the field manager used for objects written on behalf of one cluster.
func FieldOwnerFor(clusterName string) string {
	return fmt.Sprintf("cluster-%s-%s", clusterName, DefaultFieldOwner)
}

// GetOrCreate creates obj unless an object with its identity already exists.
// Existing objects are never updated. Losing a create race to another writer
// is treated as existing.
func GetOrCreate(ctx context.Context, c client.Client, events EventRecorder, obj client.Object) (ctrl.Result, error) {
	obj = target(obj)
	logger := log.FromContext(ctx).WithValues("name", obj.GetName(), "namespace", obj.GetNamespace())

	gvk, err := apiutil.GVKForObject(obj, c.Scheme())
	if err != nil {
		return ctrl.Result{}, &GetOrCreateError{Op: OpLookup, Err: err}
	}

	existing := &metav1.PartialObjectMetadata{}
	existing.SetGroupVersionKind(gvk)
	err = c.Get(ctx, client.ObjectKeyFromObject(obj), existing)
	switch {
	case err == nil:
		return ctrl.Result{}, nil
	case !apierrors.IsNotFound(err):
		return ctrl.Result{}, &GetOrCreateError{Op: OpLookup, Err: err}
	}

	if err := c.Create(ctx, obj); err != nil {
		if apierrors.IsAlreadyExists(err) {
			return ctrl.Result{}, nil
		}
		return ctrl.Result{}, &GetOrCreateError{Op: OpCreate, Err: err}
	}
	logger.Info("Created object", "kind", gvk.Kind)

	note := fmt.Sprintf("Created fleet object `%s` in `%s`", obj.GetName(), obj.GetNamespace())
	if err := events.Publish(ctx, obj, ReasonCreated, "Creating", note); err != nil {
		return ctrl.Result{}, &GetOrCreateError{Op: OpEvent, Err: err}
	}
	return ctrl.Result{}, nil
}

// PatchIfDifferent server-side applies desired when the live object is missing or
// desired.Diff reports a difference. Unchanged objects cost one read and no write.
func PatchIfDifferent(ctx context.Context, c client.Client, events EventRecorder, desired Resource, opts ...PatchOption) (ctrl.Result, error) {
	obj := target(desired)
	o := patchOptions{fieldOwner: DefaultFieldOwner}
	for _, opt := range opts {
		opt(&o)
	}
	logger := log.FromContext(ctx).WithValues("name", obj.GetName(), "namespace", obj.GetNamespace())

	gvk, err := apiutil.GVKForObject(obj, c.Scheme())
	if err != nil {
		return ctrl.Result{}, &PatchError{Op: OpGet, Err: err}
	}

	live, err := newObjectFor(c, gvk)
	if err != nil {
		return ctrl.Result{}, &PatchError{Op: OpGet, Err: err}
	}
	err = c.Get(ctx, client.ObjectKeyFromObject(obj), live)
	switch {
	case err == nil:
		if !desired.Diff(live) {
			return ctrl.Result{}, nil
		}
	case !apierrors.IsNotFound(err):
		return ctrl.Result{}, &PatchError{Op: OpGet, Err: err}
	}

	obj.SetManagedFields(nil)
	obj.SetResourceVersion("")
	obj.GetObjectKind().SetGroupVersionKind(gvk)

	patchOpts := []client.PatchOption{client.FieldOwner(o.fieldOwner)}
	if o.force {
		patchOpts = append(patchOpts, client.ForceOwnership)
	}
	if err := c.Patch(ctx, obj, client.Apply, patchOpts...); err != nil {
		return ctrl.Result{}, &PatchError{Op: OpPatch, Err: err}
	}
	logger.Info("Updated object", "kind", gvk.Kind, "fieldOwner", o.fieldOwner)

	scope := obj.GetNamespace()
	if scope == "" {
		scope = "cluster scope"
	}
	note := fmt.Sprintf("Updated `%s/%s` object `%s` in `%s`", gvk.GroupVersion().String(), gvk.Kind, obj.GetName(), scope)
	if err := events.Publish(ctx, obj, ReasonUpdated, "Updating", note); err != nil {
		return ctrl.Result{}, &PatchError{Op: OpEvent, Err: err}
	}
	return ctrl.Result{}, nil
}

// newObjectFor returns an empty typed object for gvk.
func newObjectFor(c client.Client, gvk schema.GroupVersionKind) (client.Object, error) {
	ro, err := c.Scheme().New(gvk)
	if err != nil {
		return nil, err
	}
	live, ok := ro.(client.Object)
	if !ok {
		return nil, fmt.Errorf("%s is not a client.Object", gvk.Kind)
	}
	return live, nil
}

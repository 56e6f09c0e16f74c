// Copyright 2025 The CAAPF Authors
// SPDX-License-Identifier: Apache-2.0

package controller

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	ctrl "sigs.k8s.io/controller-runtime"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/controller/controllerutil"
	"sigs.k8s.io/controller-runtime/pkg/log"
	"sigs.k8s.io/controller-runtime/pkg/reconcile"

	"github.com/rancher/cluster-api-addon-provider-fleet/internal/metrics"
)

const (
	// FleetFinalizer guards every object that has downstream fleet state.
	FleetFinalizer = "fleet.addons.cluster.x-k8s.io"

	// DefaultErrorRequeue is the delay before a failed reconcile is retried.
	DefaultErrorRequeue = 10 * time.Second
)

// Getter reads single objects. Both client.Client and watch.Subscription implement it.
type Getter interface {
	Get(ctx context.Context, key client.ObjectKey, obj client.Object, opts ...client.GetOption) error
}

// Reconciler drives the finalizer state machine for one kind.
//
// Apply: derive a bundle, ensure the finalizer, sync.
// Cleanup: derive a bundle, clean it up, then drop the finalizer.
// Errors never bubble up to controller-runtime. They are logged, counted and
// retried after ErrorRequeue.
type Reconciler[T client.Object] struct {
	Client client.Client
	// Getter is where the reconciled object is read from. Defaults to Client.
	Getter Getter

	Name      string
	NewObject func() T
	Deriver   Deriver[T]
	Events    EventRecorder
	Metrics   *metrics.Metrics

	ErrorRequeue time.Duration
}

var _ reconcile.Reconciler = (*Reconciler[client.Object])(nil)

func (r *Reconciler[T]) Reconcile(ctx context.Context, req ctrl.Request) (ctrl.Result, error) {
	logger := log.FromContext(ctx).WithValues(
		"controller", r.Name,
		"reconcile_id", uuid.NewString(),
		"object", req.NamespacedName.String(),
	)
	ctx = log.IntoContext(ctx, logger)
	defer r.Metrics.CountAndMeasure()()

	obj := r.NewObject()
	if err := r.getter().Get(ctx, req.NamespacedName, obj); err != nil {
		if apierrors.IsNotFound(err) {
			return ctrl.Result{}, nil
		}
		return r.failed(ctx, req, &LookupError{Err: err})
	}

	var (
		result ctrl.Result
		err    error
	)
	switch {
	case obj.GetDeletionTimestamp().IsZero():
		result, err = r.apply(ctx, obj)
	case controllerutil.ContainsFinalizer(obj, FleetFinalizer):
		result, err = r.cleanup(ctx, obj)
	default:
		return ctrl.Result{}, nil
	}
	if err != nil {
		return r.failed(ctx, req, err)
	}
	return result, nil
}

func (r *Reconciler[T]) apply(ctx context.Context, obj T) (ctrl.Result, error) {
	bundle, err := r.Deriver.Derive(ctx, obj)
	if err != nil {
		return ctrl.Result{}, err
	}
	if bundle == nil {
		return ctrl.Result{}, nil
	}

	if !controllerutil.ContainsFinalizer(obj, FleetFinalizer) {
		base := obj.DeepCopyObject().(client.Object)
		controllerutil.AddFinalizer(obj, FleetFinalizer)
		if err := r.Client.Patch(ctx, obj, finalizerPatch(base)); err != nil {
			return ctrl.Result{}, &FinalizerError{Op: OpAdd, Err: err}
		}
		log.FromContext(ctx).V(1).Info("Added finalizer")
	}

	return bundle.Sync(ctx)
}

func (r *Reconciler[T]) cleanup(ctx context.Context, obj T) (ctrl.Result, error) {
	logger := log.FromContext(ctx)

	bundle, err := r.Deriver.Derive(ctx, obj)
	if err != nil {
		return ctrl.Result{}, err
	}

	if bundle != nil {
		result, err := bundle.Cleanup(ctx)
		if err != nil {
			return ctrl.Result{}, err
		}
		if !result.IsZero() {
			logger.Info("Cleanup deferred, keeping finalizer", "requeueAfter", result.RequeueAfter)
			return result, nil
		}
	} else {
		// downstream objects go away through owner references
		note := fmt.Sprintf("Delete `%s`", obj.GetName())
		if err := r.events().Publish(ctx, obj, ReasonDeleteRequested, "Deleting", note); err != nil {
			return ctrl.Result{}, err
		}
	}

	base := obj.DeepCopyObject().(client.Object)
	if controllerutil.RemoveFinalizer(obj, FleetFinalizer) {
		if err := r.Client.Patch(ctx, obj, finalizerPatch(base)); err != nil {
			if apierrors.IsNotFound(err) {
				return ctrl.Result{}, nil
			}
			return ctrl.Result{}, &FinalizerError{Op: OpRemove, Err: err}
		}
	}
	logger.Info("Finalized object")
	return ctrl.Result{}, nil
}

// finalizerPatch replaces the finalizer list only if base is still the live
// revision. A merge patch overwrites the whole list, so a stale base would
// drop finalizers added by other controllers. The resulting conflict is
// retried like any other failure.
func finalizerPatch(base client.Object) client.Patch {
	return client.MergeFromWithOptions(base, client.MergeFromWithOptimisticLock{})
}

func (r *Reconciler[T]) failed(ctx context.Context, req ctrl.Request, err error) (ctrl.Result, error) {
	e := NewError(err)
	log.FromContext(ctx).Error(e, "Reconcile failed", "error_class", e.Class)
	r.Metrics.ReconcileFailure(req.Name, e.Class)
	return ctrl.Result{RequeueAfter: r.errorRequeue()}, nil
}

func (r *Reconciler[T]) getter() Getter {
	if r.Getter != nil {
		return r.Getter
	}
	return r.Client
}

func (r *Reconciler[T]) events() EventRecorder {
	if r.Events != nil {
		return r.Events
	}
	return DiscardEvents{}
}

func (r *Reconciler[T]) errorRequeue() time.Duration {
	if r.ErrorRequeue > 0 {
		return r.ErrorRequeue
	}
	return DefaultErrorRequeue
}

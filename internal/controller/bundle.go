// Copyright 2025 The CAAPF Authors
// SPDX-License-Identifier: Apache-2.0

package controller

import (
	"context"

	ctrl "sigs.k8s.io/controller-runtime"
	"sigs.k8s.io/controller-runtime/pkg/client"
)

// Bundle is the desired downstream state of one source object, derived for a
// single reconcile. Sync must be safe to repeat.
type Bundle interface {
	Sync(ctx context.Context) (ctrl.Result, error)

	// Cleanup removes downstream state on deletion. A non-zero result keeps
	// the finalizer in place so the cleanup is attempted again.
	Cleanup(ctx context.Context) (ctrl.Result, error)
}

// Deriver computes the Bundle for a source object. A nil Bundle means the
// object is not managed. Derive may read but must not write.
type Deriver[T client.Object] interface {
	Derive(ctx context.Context, obj T) (Bundle, error)
}

// DeriverFunc adapts a function to Deriver.
type DeriverFunc[T client.Object] func(ctx context.Context, obj T) (Bundle, error)

func (f DeriverFunc[T]) Derive(ctx context.Context, obj T) (Bundle, error) {
	return f(ctx, obj)
}

// NoopCleanup can be embedded by bundles with nothing to remove.
type NoopCleanup struct{}

func (NoopCleanup) Cleanup(context.Context) (ctrl.Result, error) {
	return ctrl.Result{}, nil
}

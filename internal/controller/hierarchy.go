// Copyright 2025 The CAAPF Authors
// SPDX-License-Identifier: Apache-2.0

package controller

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"

	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	clusterv1 "sigs.k8s.io/cluster-api/api/v1beta1"
	"sigs.k8s.io/controller-runtime/pkg/client"

	fleetv1alpha1 "github.com/rancher/cluster-api-addon-provider-fleet/api/fleet/v1alpha1"
)

// This file contains the helper functions to resolve the objects a fleet object was derived from.

// HierarchyNotFoundError indicates that an object refers to an origin object that does not exist.
type HierarchyNotFoundError struct {
	objInfo    string
	parentInfo string

	parentHierarchyInfos []string
}

func (e *HierarchyNotFoundError) Error() string {
	if len(e.parentHierarchyInfos) == 0 {
		return fmt.Sprintf("%s refers to a non-existent %s", e.objInfo, e.parentInfo)
	}
	return fmt.Sprintf("%s refers to a non-existent %s on %s", e.objInfo, e.parentInfo, strings.Join(e.parentHierarchyInfos, " -> "))
}

func (e *HierarchyNotFoundError) MetricLabel() string { return "hierarchy_not_found" }

// NewHierarchyNotFoundError creates a new error with the given object and parent object details.
// The parentHierarchyObjs locate the parent, starting from the top level object.
// Example: NewHierarchyNotFoundError(group, clusterClass, namespace)
func NewHierarchyNotFoundError(obj client.Object, parentObj client.Object, parentHierarchyObjs ...client.Object) error {
	getKindFn := func(obj client.Object) string {
		if !obj.GetObjectKind().GroupVersionKind().Empty() {
			return obj.GetObjectKind().GroupVersionKind().Kind
		}
		// If the object is initialized without setting the GVK, use the type name.
		return reflect.TypeOf(obj).Elem().Name()
	}

	genInfoFn := func(obj client.Object) string {
		return fmt.Sprintf("%s '%s'", strings.ToLower(getKindFn(obj)), obj.GetName())
	}

	parentHierarchyInfos := make([]string, 0, len(parentHierarchyObjs))
	for _, parentHierarchyObj := range parentHierarchyObjs {
		parentHierarchyInfos = append(parentHierarchyInfos, genInfoFn(parentHierarchyObj))
	}

	return &HierarchyNotFoundError{
		objInfo:              genInfoFn(obj),
		parentInfo:           genInfoFn(parentObj),
		parentHierarchyInfos: parentHierarchyInfos,
	}
}

// IgnoreHierarchyNotFoundError returns nil if the given error is a HierarchyNotFoundError.
// A missing origin is not retried: its creation triggers a new reconcile.
func IgnoreHierarchyNotFoundError(err error) error {
	if err == nil {
		return nil
	}
	var notFoundErr *HierarchyNotFoundError
	if errors.As(err, &notFoundErr) {
		return nil
	}
	return err
}

// HierarchyFunc resolves the object of type T related to obj.
type HierarchyFunc[T any] func(ctx context.Context, c client.Reader, obj client.Object) (T, error)

// objWithName sets the name of a newly created object.
func objWithName(obj client.Object, name string) client.Object {
	obj.SetName(name)
	return obj
}

// GetClusterClass returns the ClusterClass referenced by the class labels of obj.
func GetClusterClass(ctx context.Context, c client.Reader, obj client.Object) (*clusterv1.ClusterClass, error) {
	if !HasClusterClassLabels(obj) {
		return nil, NewHierarchyNotFoundError(obj, &clusterv1.ClusterClass{})
	}

	class := &clusterv1.ClusterClass{}
	key := client.ObjectKey{Namespace: GetClusterClassNamespace(obj), Name: GetClusterClassName(obj)}
	if err := c.Get(ctx, key, class); err != nil {
		if apierrors.IsNotFound(err) {
			return nil, NewHierarchyNotFoundError(obj, objWithName(&clusterv1.ClusterClass{}, key.Name),
				objWithName(&corev1.Namespace{}, key.Namespace),
			)
		}
		return nil, fmt.Errorf("failed to get cluster class %s: %w", key, err)
	}
	return class, nil
}

// GetClassClusterGroup returns the ClusterGroup mirroring the ClusterClass obj.
func GetClassClusterGroup(ctx context.Context, c client.Reader, obj client.Object) (*fleetv1alpha1.ClusterGroup, error) {
	group := &fleetv1alpha1.ClusterGroup{}
	if err := c.Get(ctx, client.ObjectKeyFromObject(obj), group); err != nil {
		if apierrors.IsNotFound(err) {
			return nil, NewHierarchyNotFoundError(obj, objWithName(&fleetv1alpha1.ClusterGroup{}, obj.GetName()),
				objWithName(&corev1.Namespace{}, obj.GetNamespace()),
			)
		}
		return nil, fmt.Errorf("failed to get cluster group %s: %w", client.ObjectKeyFromObject(obj), err)
	}
	return group, nil
}

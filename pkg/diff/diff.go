// Copyright 2025 The CAAPF Authors
// SPDX-License-Identifier: Apache-2.0

// Package diff provides the predicates used to decide whether a desired object differs from its live counterpart.
// Desired state is compared as a subset of live state: keys and owners that exist only on the live object
// are owned by someone else and never count as a difference.
package diff

import (
	"bytes"

	jsonpatch "github.com/evanphx/json-patch/v5"
	apiextensionsv1 "k8s.io/apiextensions-apiserver/pkg/apis/apiextensions/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/types"
)

// StringMapSuperset reports whether live holds every key of desired with an equal value.
func StringMapSuperset(desired, live map[string]string) bool {
	for k, v := range desired {
		if lv, ok := live[k]; !ok || lv != v {
			return false
		}
	}
	return true
}

// LabelsSuperset reports whether the live labels contain all desired labels.
func LabelsSuperset(desired, live metav1.Object) bool {
	return StringMapSuperset(desired.GetLabels(), live.GetLabels())
}

// AnnotationsSuperset reports whether the live annotations contain all desired annotations.
func AnnotationsSuperset(desired, live metav1.Object) bool {
	return StringMapSuperset(desired.GetAnnotations(), live.GetAnnotations())
}

// OwnersSubset reports whether every desired owner UID is present on the live object.
func OwnersSubset(desired, live metav1.Object) bool {
	liveOwners := make(map[types.UID]struct{}, len(live.GetOwnerReferences()))
	for _, ref := range live.GetOwnerReferences() {
		liveOwners[ref.UID] = struct{}{}
	}
	for _, ref := range desired.GetOwnerReferences() {
		if _, ok := liveOwners[ref.UID]; !ok {
			return false
		}
	}
	return true
}

// MetadataSuperset combines the label, annotation and owner predicates.
func MetadataSuperset(desired, live metav1.Object) bool {
	return LabelsSuperset(desired, live) &&
		AnnotationsSuperset(desired, live) &&
		OwnersSubset(desired, live)
}

// JSONSuperset reports whether live holds every key of desired with a semantically equal JSON value.
func JSONSuperset(desired, live map[string]apiextensionsv1.JSON) bool {
	for k, v := range desired {
		lv, ok := live[k]
		if !ok {
			return false
		}
		if !bytes.Equal(v.Raw, lv.Raw) && !jsonpatch.Equal(v.Raw, lv.Raw) {
			return false
		}
	}
	return true
}

// Copyright 2025 The CAAPF Authors
// SPDX-License-Identifier: Apache-2.0

package controller

import (
	"sigs.k8s.io/controller-runtime/pkg/client"

	"github.com/rancher/cluster-api-addon-provider-fleet/internal/labels"
)

// This file contains the helper functions to get the addon provider metadata from the Kubernetes objects.

// GetClusterClassName returns the name of the cluster class the object was derived from.
func GetClusterClassName(obj client.Object) string {
	return getLabelValueOrEmpty(obj, labels.LabelKeyClusterClassName)
}

// GetClusterClassNamespace returns the namespace of the cluster class the object was derived from.
func GetClusterClassNamespace(obj client.Object) string {
	return getLabelValueOrEmpty(obj, labels.LabelKeyClusterClassNamespace)
}

// HasClusterClassLabels reports whether both cluster class labels are set.
func HasClusterClassLabels(obj client.Object) bool {
	return GetClusterClassName(obj) != "" && GetClusterClassNamespace(obj) != ""
}

// ClusterClassLabels returns the labels identifying a cluster class.
func ClusterClassLabels(name, namespace string) map[string]string {
	return map[string]string{
		labels.LabelKeyClusterClassName:      name,
		labels.LabelKeyClusterClassNamespace: namespace,
	}
}

// MergeLabels returns a new map holding base overlaid with extra.
func MergeLabels(base, extra map[string]string) map[string]string {
	out := make(map[string]string, len(base)+len(extra))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range extra {
		out[k] = v
	}
	return out
}

func getLabelValueOrEmpty(obj client.Object, labelKey string) string {
	if obj.GetLabels() == nil {
		return ""
	}
	return obj.GetLabels()[labelKey]
}

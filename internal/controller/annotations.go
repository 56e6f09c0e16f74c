// Copyright 2025 The CAAPF Authors
// SPDX-License-Identifier: Apache-2.0

package controller

// This file contains the annotations the addon provider sets on Kubernetes objects.

const (
	// AnnotationKeyAllowFleetWorkspace lets fleet turn an existing namespace into a workspace.
	AnnotationKeyAllowFleetWorkspace = "field.cattle.io/allow-fleetworkspace-creation-for-existing-namespace"
)

// WithAnnotation returns a copy of annotations with key set to value.
func WithAnnotation(annotations map[string]string, key, value string) map[string]string {
	out := make(map[string]string, len(annotations)+1)
	for k, v := range annotations {
		out[k] = v
	}
	out[key] = value
	return out
}

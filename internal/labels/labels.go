// Copyright 2025 The CAAPF Authors
// SPDX-License-Identifier: Apache-2.0

package labels

// This file contains the labels the addon provider reads from and writes to Kubernetes objects.

const (
	// LabelKeyMetadataName is set by the API server on every namespace.
	LabelKeyMetadataName = "kubernetes.io/metadata.name"

	// LabelKeyClusterName is set by Cluster API on objects belonging to a cluster.
	LabelKeyClusterName = "cluster.x-k8s.io/cluster-name"

	// LabelKeyClusterClassName and LabelKeyClusterClassNamespace identify the cluster class
	// a fleet object was derived from. Fleet cluster groups select member clusters with them.
	LabelKeyClusterClassName      = "clusterclass-name.fleet.addons.cluster.x-k8s.io"
	LabelKeyClusterClassNamespace = "clusterclass-namespace.fleet.addons.cluster.x-k8s.io"

	// LabelKeyManagedBy identifies which controller manages the lifecycle of a resource.
	LabelKeyManagedBy = "app.kubernetes.io/managed-by"

	LabelValueManagedBy = "cluster-api-addon-provider-fleet"
)

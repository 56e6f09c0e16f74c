// Copyright 2025 The CAAPF Authors
// SPDX-License-Identifier: Apache-2.0

package controller

import (
	"context"

	apierrors "k8s.io/apimachinery/pkg/api/errors"
	"sigs.k8s.io/controller-runtime/pkg/client"

	addonsv1alpha1 "github.com/rancher/cluster-api-addon-provider-fleet/api/v1alpha1"
)

// FetchConfig reads the FleetAddonConfig singleton, falling back to the
// defaults when it does not exist.
func FetchConfig(ctx context.Context, r client.Reader) (*addonsv1alpha1.FleetAddonConfig, error) {
	cfg := &addonsv1alpha1.FleetAddonConfig{}
	err := r.Get(ctx, client.ObjectKey{Name: addonsv1alpha1.FleetAddonConfigName}, cfg)
	switch {
	case apierrors.IsNotFound(err):
		return addonsv1alpha1.NewDefaultFleetAddonConfig(), nil
	case err != nil:
		return nil, &ConfigFetchError{Err: err}
	}
	return cfg, nil
}

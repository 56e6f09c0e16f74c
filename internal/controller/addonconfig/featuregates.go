// Copyright 2025 The CAAPF Authors
// SPDX-License-Identifier: Apache-2.0

package addonconfig

import (
	"fmt"
	"reflect"
	"strconv"

	corev1 "k8s.io/api/core/v1"
	"sigs.k8s.io/yaml"

	addonsv1alpha1 "github.com/rancher/cluster-api-addon-provider-fleet/api/v1alpha1"
)

const (
	// FleetValuesKey is the data key of the fleet chart values in a feature gate ConfigMap.
	FleetValuesKey = "fleet"

	EnvExperimentalOCIStorage = "EXPERIMENTAL_OCI_STORAGE"
	EnvExperimentalHelmOps    = "EXPERIMENTAL_HELM_OPS"
)

// FeatureGateEnv returns the fleet controller environment toggling gates.
func FeatureGateEnv(gates *addonsv1alpha1.FeatureGates) []corev1.EnvVar {
	return []corev1.EnvVar{
		{Name: EnvExperimentalOCIStorage, Value: strconv.FormatBool(gates.ExperimentalOCIStorage)},
		{Name: EnvExperimentalHelmOps, Value: strconv.FormatBool(gates.ExperimentalHelmOps)},
	}
}

// MergeFeatureGates sets the gate variables in the extraEnv list of the fleet
// chart values. Other values and env entries are kept. The input is returned
// unchanged when the gates are already in place.
func MergeFeatureGates(values string, gates *addonsv1alpha1.FeatureGates) (string, error) {
	current := map[string]any{}
	if err := yaml.Unmarshal([]byte(values), &current); err != nil {
		return "", fmt.Errorf("failed to parse fleet values: %w", err)
	}
	if current == nil {
		current = map[string]any{}
	}

	merged := map[string]any{}
	for k, v := range current {
		merged[k] = v
	}

	env, _ := current["extraEnv"].([]any)
	env = append([]any(nil), env...)
	for _, e := range FeatureGateEnv(gates) {
		env = setEnv(env, e.Name, e.Value)
	}
	merged["extraEnv"] = env

	if reflect.DeepEqual(current, merged) {
		return values, nil
	}
	out, err := yaml.Marshal(merged)
	if err != nil {
		return "", fmt.Errorf("failed to render fleet values: %w", err)
	}
	return string(out), nil
}

func setEnv(env []any, name, value string) []any {
	for i, e := range env {
		entry, ok := e.(map[string]any)
		if !ok || entry["name"] != name {
			continue
		}
		if entry["value"] == value {
			return env
		}
		updated := map[string]any{}
		for k, v := range entry {
			updated[k] = v
		}
		updated["value"] = value
		env[i] = updated
		return env
	}
	return append(env, map[string]any{"name": name, "value": value})
}

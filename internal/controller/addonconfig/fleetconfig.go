// Copyright 2025 The CAAPF Authors
// SPDX-License-Identifier: Apache-2.0

package addonconfig

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"

	jsonpatch "github.com/evanphx/json-patch/v5"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"sigs.k8s.io/controller-runtime/pkg/client"

	addonsv1alpha1 "github.com/rancher/cluster-api-addon-provider-fleet/api/v1alpha1"
)

const (
	// FleetNamespace is where the fleet controller runs.
	FleetNamespace = "cattle-fleet-system"

	// FleetControllerConfigMap holds the fleet controller settings under the config key.
	FleetControllerConfigMap = "fleet-controller"

	// FleetConfigKey is the data key of the fleet controller settings JSON.
	FleetConfigKey = "config"

	// CAConfigMapKey is the data key holding a PEM encoded CA bundle.
	CAConfigMapKey = "ca.crt"

	localNamespace    = "default"
	localCAConfigMap  = "kube-root-ca.crt"
	localAPIEndpoints = "kubernetes"
)

// ServerSettings are the fleet controller settings derived from the addon configuration.
type ServerSettings struct {
	APIServerURL string `json:"apiServerURL,omitempty"`
	APIServerCA  string `json:"apiServerCA,omitempty"`
}

// ResolveServer reads the API server URL and CA selected by server. Fields
// that cannot be resolved are left empty and are not propagated.
func ResolveServer(ctx context.Context, c client.Reader, server *addonsv1alpha1.Server) (ServerSettings, error) {
	var settings ServerSettings
	if server == nil {
		return settings, nil
	}

	var (
		caKey client.ObjectKey
		hasCA bool
	)
	switch {
	case server.InferLocal:
		caKey, hasCA = client.ObjectKey{Namespace: localNamespace, Name: localCAConfigMap}, true

		endpoints := &corev1.Endpoints{}
		if err := c.Get(ctx, client.ObjectKey{Namespace: localNamespace, Name: localAPIEndpoints}, endpoints); err != nil {
			return settings, fmt.Errorf("failed to get API server endpoints: %w", err)
		}
		settings.APIServerURL = EndpointURL(endpoints)

	case server.Custom != nil:
		settings.APIServerURL = server.Custom.APIServerURL
		if ref := server.Custom.APIServerCAConfigRef; ref != nil {
			caKey, hasCA = client.ObjectKey{Namespace: ref.Namespace, Name: ref.Name}, true
		}
	}

	if hasCA {
		cm := &corev1.ConfigMap{}
		if err := c.Get(ctx, caKey, cm); err != nil {
			return settings, fmt.Errorf("failed to get CA config map %s: %w", caKey, err)
		}
		settings.APIServerCA = base64.StdEncoding.EncodeToString([]byte(cm.Data[CAConfigMapKey]))
	}
	return settings, nil
}

// EndpointURL formats the first address of the first subset as
// <portName>://<host>:<port>. Without a port name only the host is returned.
func EndpointURL(endpoints *corev1.Endpoints) string {
	if len(endpoints.Subsets) == 0 {
		return ""
	}
	subset := endpoints.Subsets[0]
	if len(subset.Addresses) == 0 || len(subset.Ports) == 0 {
		return ""
	}

	address := subset.Addresses[0]
	host := address.Hostname
	if host == "" {
		host = address.IP
	}
	port := subset.Ports[0]
	if port.Name == "" {
		return host
	}
	return fmt.Sprintf("%s://%s:%d", port.Name, host, port.Port)
}

// MergeFleetConfig merges settings into the fleet controller settings JSON.
// Keys the addon provider does not manage are kept.
func MergeFleetConfig(current string, settings ServerSettings) (string, error) {
	if current == "" {
		current = "{}"
	}
	patch, err := json.Marshal(settings)
	if err != nil {
		return "", err
	}
	merged, err := jsonpatch.MergePatch([]byte(current), patch)
	if err != nil {
		return "", fmt.Errorf("failed to merge fleet settings: %w", err)
	}
	if jsonpatch.Equal([]byte(current), merged) {
		return current, nil
	}
	return string(merged), nil
}

// fleetControllerConfigMap returns the apply configuration of the fleet controller settings.
func fleetControllerConfigMap(config string) *corev1.ConfigMap {
	return &corev1.ConfigMap{
		TypeMeta: metav1.TypeMeta{APIVersion: "v1", Kind: "ConfigMap"},
		ObjectMeta: metav1.ObjectMeta{
			Name:      FleetControllerConfigMap,
			Namespace: FleetNamespace,
		},
		Data: map[string]string{FleetConfigKey: config},
	}
}

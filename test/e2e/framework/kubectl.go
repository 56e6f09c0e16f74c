// Copyright 2025 The CAAPF Authors
// SPDX-License-Identifier: Apache-2.0

package framework

import (
	"fmt"
	"os/exec"
	"strconv"
	"strings"

	. "github.com/onsi/ginkgo/v2" //nolint:revive
)

// ManagerSelector selects the addon provider manager pods.
const ManagerSelector = "control-plane=controller-manager"

// Kubectl drives the management cluster through one kube context.
type Kubectl struct {
	Context string
}

// Run invokes kubectl with args. Output is stdout and stderr, trimmed.
func (k Kubectl) Run(args ...string) (string, error) {
	full := append([]string{"--context", k.Context}, args...)
	fmt.Fprintf(GinkgoWriter, "kubectl %s\n", strings.Join(full, " "))

	out, err := exec.Command("kubectl", full...).CombinedOutput()
	output := strings.TrimSpace(string(out))
	if err != nil {
		return output, fmt.Errorf("kubectl %s: %w\n%s", strings.Join(args, " "), err, output)
	}
	return output, nil
}

// List lists resource in namespace. An empty namespace lists cluster scoped objects.
func (k Kubectl) List(namespace, resource string, extraArgs ...string) (string, error) {
	args := []string{"get", resource}
	if namespace != "" {
		args = append(args, "-n", namespace)
	}
	return k.Run(append(args, extraArgs...)...)
}

// Field evaluates a jsonpath expression on one object.
func (k Kubectl) Field(namespace, resource, name, jsonpath string) (string, error) {
	args := []string{"get", resource, name, "-o", "jsonpath=" + jsonpath}
	if namespace != "" {
		args = append(args, "-n", namespace)
	}
	return k.Run(args...)
}

// ManagerLogs returns the last lines of the addon provider logs in namespace.
func (k Kubectl) ManagerLogs(namespace string, tail int) (string, error) {
	return k.Run("logs", "-n", namespace, "-l", ManagerSelector, "--tail", strconv.Itoa(tail))
}

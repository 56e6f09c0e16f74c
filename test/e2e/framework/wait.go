// Copyright 2025 The CAAPF Authors
// SPDX-License-Identifier: Apache-2.0

package framework

import (
	"fmt"
	"strings"
	"time"

	"github.com/onsi/gomega"
)

const (
	DefaultTimeout = 3 * time.Minute
	DefaultPolling = 2 * time.Second
)

// PodStatus holds parsed pod information.
type PodStatus struct {
	Name     string
	Phase    string
	Restarts string
}

// GetPodStatuses returns the status of the pods of a namespace that have not completed.
func GetPodStatuses(k Kubectl, namespace string) ([]PodStatus, error) {
	output, err := k.List(namespace, "pods",
		"--field-selector=status.phase!=Succeeded,status.phase!=Failed",
		"-o", "custom-columns=NAME:.metadata.name,PHASE:.status.phase,RESTARTS:.status.containerStatuses[0].restartCount",
		"--no-headers")
	if err != nil {
		return nil, err
	}

	var pods []PodStatus
	for _, line := range strings.Split(output, "\n") {
		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}
		pod := PodStatus{Name: fields[0], Phase: fields[1], Restarts: "<none>"}
		if len(fields) >= 3 {
			pod.Restarts = fields[2]
		}
		pods = append(pods, pod)
	}
	return pods, nil
}

// AssertAllPodsRunning checks every pod of the namespace is Running.
// Use it inside Eventually(func(g Gomega) { ... }).
func AssertAllPodsRunning(g gomega.Gomega, k Kubectl, namespace string) {
	pods, err := GetPodStatuses(k, namespace)
	g.Expect(err).NotTo(gomega.HaveOccurred(), "failed to get pods in %s", namespace)
	g.Expect(pods).NotTo(gomega.BeEmpty(), "no pods found in %s", namespace)

	for _, pod := range pods {
		g.Expect(pod.Phase).To(gomega.Equal("Running"),
			fmt.Sprintf("pod %s in %s is %s (restarts: %s)", pod.Name, namespace, pod.Phase, pod.Restarts))
	}
}

// AssertResourceExists checks that a named resource exists in the namespace.
func AssertResourceExists(g gomega.Gomega, k Kubectl, namespace, resource, name string) {
	_, err := k.Field(namespace, resource, name, "{.metadata.name}")
	g.Expect(err).NotTo(gomega.HaveOccurred(),
		fmt.Sprintf("%s/%s should exist in namespace %s", resource, name, namespace))
}

// AssertJsonpathEquals checks that a jsonpath value of a resource equals expected.
func AssertJsonpathEquals(g gomega.Gomega, k Kubectl, namespace, resource, name, jsonpath, expected string) {
	output, err := k.Field(namespace, resource, name, jsonpath)
	g.Expect(err).NotTo(gomega.HaveOccurred(),
		fmt.Sprintf("failed to get %s on %s/%s in %s", jsonpath, resource, name, namespace))
	g.Expect(output).To(gomega.Equal(expected),
		fmt.Sprintf("%s/%s jsonpath %s: got %q, want %q", resource, name, jsonpath, output, expected))
}

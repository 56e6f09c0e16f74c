// Copyright 2025 The CAAPF Authors
// SPDX-License-Identifier: Apache-2.0

// Package helm drives the helm binary to install and upgrade the fleet charts.
package helm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"

	"github.com/Masterminds/semver/v3"
	"golang.org/x/sync/errgroup"
	"sigs.k8s.io/controller-runtime/pkg/log"
)

const (
	// DefaultRepoURL is the fleet chart repository.
	DefaultRepoURL = "https://rancher.github.io/fleet-helm-charts/"
	// RepoName is the local name of the fleet chart repository.
	RepoName = "fleet"
	// DefaultNamespace is where fleet is installed.
	DefaultNamespace = "cattle-fleet-system"

	ChartFleet    = "fleet"
	ChartFleetCRD = "fleet-crd"

	releaseNotFound = "Error: release: not found"
)

// Operation is a helm release operation.
type Operation string

const (
	Install Operation = "install"
	Upgrade Operation = "upgrade"
)

// Runner executes the helm binary with args and returns its standard output.
type Runner interface {
	Run(ctx context.Context, args ...string) ([]byte, error)
}

// CommandError is returned when helm exits unsuccessfully.
type CommandError struct {
	Args     []string
	ExitCode int
	Stderr   string
}

func (e *CommandError) Error() string {
	return fmt.Sprintf("helm %s failed with exit code %d: %s", strings.Join(e.Args, " "), e.ExitCode, e.Stderr)
}

// ExecRunner runs helm as a subprocess.
type ExecRunner struct {
	// Binary defaults to "helm" on PATH.
	Binary string
}

func (r ExecRunner) Run(ctx context.Context, args ...string) ([]byte, error) {
	binary := r.Binary
	if binary == "" {
		binary = "helm"
	}
	log.FromContext(ctx).V(1).Info("Running helm", "args", args)

	cmd := exec.CommandContext(ctx, binary, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return stdout.Bytes(), &CommandError{Args: args, ExitCode: exitErr.ExitCode(), Stderr: strings.TrimSpace(stderr.String())}
		}
		return nil, fmt.Errorf("helm %s: %w", strings.Join(args, " "), err)
	}
	return stdout.Bytes(), nil
}

// ChartInfo is an installed release as listed by helm.
type ChartInfo struct {
	Name       string `json:"name"`
	Namespace  string `json:"namespace"`
	AppVersion string `json:"app_version"`
	Status     string `json:"status"`
}

// ChartSearch is a chart found in a repository.
type ChartSearch struct {
	Name       string `json:"name"`
	AppVersion string `json:"app_version"`
}

// Chart describes how the fleet charts are installed.
type Chart struct {
	Repo      string
	Namespace string
	// Version pins the chart version. Empty installs the latest.
	Version string

	Wait            bool
	CreateNamespace bool

	BootstrapLocalCluster  bool
	ExperimentalOCIStorage bool
	ExperimentalHelmOps    bool
}

// DefaultChart returns the chart settings used by the addon provider.
func DefaultChart() Chart {
	return Chart{
		Repo:            DefaultRepoURL,
		Namespace:       DefaultNamespace,
		Wait:            true,
		CreateNamespace: true,
	}
}

// Client wraps helm commands for the fleet charts.
type Client struct {
	Runner Runner
}

// NewClient returns a client running the helm binary from PATH.
func NewClient() *Client {
	return &Client{Runner: ExecRunner{}}
}

func (c *Client) AddRepo(ctx context.Context, chart Chart) error {
	_, err := c.Runner.Run(ctx, "repo", "add", RepoName, chart.Repo)
	return err
}

func (c *Client) UpdateRepo(ctx context.Context) error {
	_, err := c.Runner.Run(ctx, "repo", "update", RepoName)
	return err
}

// Search lists the charts of the fleet repository.
func (c *Client) Search(ctx context.Context) ([]ChartSearch, error) {
	out, err := c.Runner.Run(ctx, "search", "repo", RepoName, "-o", "json")
	if err != nil {
		return nil, err
	}
	var result []ChartSearch
	if err := json.Unmarshal(out, &result); err != nil {
		return nil, fmt.Errorf("failed to parse helm search output: %w", err)
	}
	return result, nil
}

// List returns every installed release. A missing release list is empty.
func (c *Client) List(ctx context.Context) ([]ChartInfo, error) {
	out, err := c.Runner.Run(ctx, "list", "-A", "-o", "json")
	if err != nil {
		var cmdErr *CommandError
		if errors.As(err, &cmdErr) && cmdErr.ExitCode == 1 && cmdErr.Stderr == releaseNotFound {
			return nil, nil
		}
		return nil, err
	}
	var result []ChartInfo
	if err := json.Unmarshal(out, &result); err != nil {
		return nil, fmt.Errorf("failed to parse helm list output: %w", err)
	}
	return result, nil
}

// Release is the installed and the available state of one chart.
type Release struct {
	Installed *ChartInfo
	Available *ChartSearch
}

// Lookup searches the repository and lists the installed releases
// concurrently and returns the state of name.
func (c *Client) Lookup(ctx context.Context, name string) (Release, error) {
	var (
		search []ChartSearch
		list   []ChartInfo
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		search, err = c.Search(gctx)
		return err
	})
	g.Go(func() error {
		var err error
		list, err = c.List(gctx)
		return err
	})
	if err := g.Wait(); err != nil {
		return Release{}, err
	}

	var release Release
	for i := range list {
		if list[i].Name == name {
			release.Installed = &list[i]
			break
		}
	}
	for i := range search {
		if search[i].Name == RepoName+"/"+name {
			release.Available = &search[i]
			break
		}
	}
	return release, nil
}

// InstallCRDs installs or upgrades the fleet-crd chart.
func (c *Client) InstallCRDs(ctx context.Context, op Operation, chart Chart) error {
	args := []string{string(op), ChartFleetCRD, RepoName + "/" + ChartFleetCRD}
	args = append(args, chart.commonArgs(op)...)
	_, err := c.Runner.Run(ctx, args...)
	return err
}

// InstallFleet installs or upgrades the fleet chart.
func (c *Client) InstallFleet(ctx context.Context, op Operation, chart Chart) error {
	args := []string{string(op), ChartFleet, RepoName + "/" + ChartFleet,
		"--set-string", "extraEnv[0].name=EXPERIMENTAL_OCI_STORAGE",
		"--set-string", "extraEnv[0].value=" + strconv.FormatBool(chart.ExperimentalOCIStorage),
		"--set-string", "extraEnv[1].name=EXPERIMENTAL_HELM_OPS",
		"--set-string", "extraEnv[1].value=" + strconv.FormatBool(chart.ExperimentalHelmOps),
	}
	args = append(args, chart.commonArgs(op)...)
	args = append(args, "--set", "bootstrap.enabled="+strconv.FormatBool(chart.BootstrapLocalCluster))
	_, err := c.Runner.Run(ctx, args...)
	return err
}

func (c Chart) commonArgs(op Operation) []string {
	var args []string
	if op == Upgrade {
		args = append(args, "--reuse-values")
	}
	if c.CreateNamespace {
		args = append(args, "--create-namespace")
	}
	if c.Namespace != "" {
		args = append(args, "--namespace", c.Namespace)
	}
	if c.Version != "" {
		args = append(args, "--version", c.Version)
	}
	if c.Wait {
		args = append(args, "--wait")
	}
	return args
}

// SameVersion reports whether two chart versions are equal. A leading "v"
// is ignored. Versions that are not semver are compared as strings.
func SameVersion(a, b string) bool {
	va, errA := semver.NewVersion(a)
	vb, errB := semver.NewVersion(b)
	if errA != nil || errB != nil {
		return strings.TrimPrefix(a, "v") == strings.TrimPrefix(b, "v")
	}
	return va.Equal(vb)
}

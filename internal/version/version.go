// Copyright 2025 The CAAPF Authors
// SPDX-License-Identifier: Apache-2.0

// Package version reports build information injected with -ldflags:
//
//	-X github.com/rancher/cluster-api-addon-provider-fleet/internal/version.version=v0.9.0
package version

import (
	"runtime"
)

const componentName = "cluster-api-addon-provider-fleet"

var (
	version     = "dev"
	gitRevision = "unknown"
	buildTime   = "unknown"
)

// Info is the build information of the running binary.
type Info struct {
	Name        string `json:"name"`
	Version     string `json:"version"`
	GitRevision string `json:"gitRevision"`
	BuildTime   string `json:"buildTime"`
	GoOS        string `json:"goOS"`
	GoArch      string `json:"goArch"`
	GoVersion   string `json:"goVersion"`
}

func Get() Info {
	return Info{
		Name:        componentName,
		Version:     version,
		GitRevision: gitRevision,
		BuildTime:   buildTime,
		GoOS:        runtime.GOOS,
		GoArch:      runtime.GOARCH,
		GoVersion:   runtime.Version(),
	}
}

// GetLogKeyValues returns the build information as logger key/value pairs.
func GetLogKeyValues() []any {
	v := Get()
	return []any{
		"version", v.Version,
		"gitRevision", v.GitRevision,
		"buildTime", v.BuildTime,
		"goVersion", v.GoVersion,
		"platform", v.GoOS + "/" + v.GoArch,
	}
}

// Copyright 2025 The CAAPF Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"fmt"
	"time"

	"github.com/spf13/pflag"

	"github.com/rancher/cluster-api-addon-provider-fleet/internal/logging"
)

// EnvPrefix prefixes every environment variable read by the operator.
const EnvPrefix = "CAAPF"

// Operator is the top-level operator configuration.
type Operator struct {
	Manager   ManagerConfig   `koanf:"manager"`
	Logging   LoggingConfig   `koanf:"logging"`
	Watch     WatchConfig     `koanf:"watch"`
	Reconcile ReconcileConfig `koanf:"reconcile"`
}

// ManagerConfig holds the controller manager settings.
type ManagerConfig struct {
	MetricsBindAddress     string `koanf:"metrics_bind_address"`
	HealthProbeBindAddress string `koanf:"health_probe_bind_address"`
	LeaderElect            bool   `koanf:"leader_elect"`
	LeaderElectionID       string `koanf:"leader_election_id"`
	// HelmInstall runs only the fleet helm installation loop.
	HelmInstall bool `koanf:"helm_install"`
}

// LoggingConfig defines logging settings.
type LoggingConfig struct {
	// Level is one of debug, info, warn, error.
	Level string `koanf:"level"`
	// Format is json or text.
	Format    string `koanf:"format"`
	AddSource bool   `koanf:"add_source"`
}

// WatchConfig tunes the dynamic watch registry and the event dispatcher.
type WatchConfig struct {
	// BufferSize is the capacity of each subscriber channel.
	BufferSize int `koanf:"buffer_size"`
	// Mode forces "streaming" or "legacy" watches. "auto" follows the server version.
	Mode           string        `koanf:"mode"`
	Timeout        time.Duration `koanf:"timeout"`
	BackoffInitial time.Duration `koanf:"backoff_initial"`
	BackoffMax     time.Duration `koanf:"backoff_max"`
}

// ReconcileConfig holds reconcile loop settings.
type ReconcileConfig struct {
	// ErrorRequeue is the delay before a failed reconcile is retried.
	ErrorRequeue time.Duration `koanf:"error_requeue"`
}

// Defaults returns the operator configuration used when nothing is set.
func Defaults() Operator {
	return Operator{
		Manager: ManagerConfig{
			MetricsBindAddress:     ":8080",
			HealthProbeBindAddress: ":8081",
			LeaderElectionID:       "caapf-controller-manager",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Watch: WatchConfig{
			BufferSize:     128,
			Mode:           "auto",
			Timeout:        5 * time.Minute,
			BackoffInitial: 800 * time.Millisecond,
			BackoffMax:     30 * time.Second,
		},
		Reconcile: ReconcileConfig{
			ErrorRequeue: 10 * time.Second,
		},
	}
}

// FlagMappings maps command line flags to configuration keys.
var FlagMappings = map[string]string{
	"metrics-bind-address":      "manager.metrics_bind_address",
	"health-probe-bind-address": "manager.health_probe_bind_address",
	"leader-elect":              "manager.leader_elect",
	"helm-install":              "manager.helm_install",
	"log-level":                 "logging.level",
	"log-format":                "logging.format",
}

// Load builds the operator configuration. flags may be nil.
// The returned loader holds the merged sources for DumpYAML.
func Load(configPath string, flags *pflag.FlagSet, opts ...Option) (*Operator, *Loader, error) {
	loader := NewLoader(EnvPrefix, opts...)
	if err := loader.LoadWithDefaults(Defaults(), configPath); err != nil {
		return nil, nil, err
	}
	if len(loader.overrides) > 0 {
		if err := loader.LoadMap(loader.overrides); err != nil {
			return nil, nil, err
		}
	}
	if flags != nil {
		if err := loader.LoadFlags(flags, FlagMappings); err != nil {
			return nil, nil, err
		}
	}

	cfg := &Operator{}
	if err := loader.UnmarshalAndValidate("", cfg); err != nil {
		return nil, nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, loader, nil
}

func (c *Operator) Validate() error {
	var errs ValidationErrors

	manager := NewPath("manager")
	if !c.Manager.HelmInstall {
		errs.Add(MustNotBeEmpty(manager.Child("leader_election_id"), c.Manager.LeaderElectionID))
	}

	logging := NewPath("logging")
	errs.Add(MustBeOneOf(logging.Child("level"), c.Logging.Level, []string{"debug", "info", "warn", "error"}))
	errs.Add(MustBeOneOf(logging.Child("format"), c.Logging.Format, []string{"json", "text"}))

	watch := NewPath("watch")
	errs.Add(MustBeInRange(watch.Child("buffer_size"), c.Watch.BufferSize, 1, 1<<16))
	errs.Add(MustBeOneOf(watch.Child("mode"), c.Watch.Mode, []string{"auto", "streaming", "legacy"}))
	errs.Add(MustBeGreaterThan(watch.Child("timeout"), c.Watch.Timeout, 0))
	errs.Add(MustBeGreaterThan(watch.Child("backoff_initial"), c.Watch.BackoffInitial, 0))
	if c.Watch.BackoffMax < c.Watch.BackoffInitial {
		errs.Add(Invalid(watch.Child("backoff_max"), "must not be less than backoff_initial"))
	}

	errs.Add(MustBeGreaterThan(NewPath("reconcile").Child("error_requeue"), c.Reconcile.ErrorRequeue, 0))

	return errs.OrNil()
}

// ToLoggingConfig converts to the logging package config.
func (c LoggingConfig) ToLoggingConfig() logging.Config {
	return logging.Config{
		Level:     c.Level,
		Format:    c.Format,
		AddSource: c.AddSource,
	}
}

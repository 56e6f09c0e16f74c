// Copyright 2025 The CAAPF Authors
// SPDX-License-Identifier: Apache-2.0

// Package config loads the operator configuration from defaults, a YAML
// file, the environment and command line flags.
package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	koanfyaml "github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"
)

// Loader layers configuration sources on a single koanf instance.
type Loader struct {
	k         *koanf.Koanf
	envPrefix string
	logger    *slog.Logger
	// applied by Load between the environment and the flags
	overrides map[string]any
}

// Validator is implemented by configuration structs that check themselves.
type Validator interface {
	Validate() error
}

// NewLoader creates a loader reading environment variables with envPrefix.
// Nested keys are separated by a double underscore:
// CAAPF__WATCH__BUFFER_SIZE -> watch.buffer_size
func NewLoader(envPrefix string, opts ...Option) *Loader {
	l := &Loader{
		k:         koanf.New("."),
		envPrefix: envPrefix + "__",
		logger:    slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// LoadWithDefaults loads, from lowest to highest priority, the struct
// defaults, the YAML file at configPath and the environment.
// An empty configPath skips the file. A missing file is an error.
func (l *Loader) LoadWithDefaults(defaults any, configPath string) error {
	if defaults != nil {
		if err := l.k.Load(structs.Provider(defaults, "koanf"), nil); err != nil {
			return fmt.Errorf("failed to load defaults: %w", err)
		}
	}

	if configPath != "" {
		if _, err := os.Stat(configPath); err != nil {
			return fmt.Errorf("config file not found: %s", configPath)
		}
		if err := l.k.Load(file.Provider(configPath), koanfyaml.Parser()); err != nil {
			return fmt.Errorf("failed to load config file: %w", err)
		}
		l.logger.Debug("Loaded config file", "path", configPath)
	}

	envProvider := env.Provider(l.envPrefix, ".", func(s string) string {
		key := strings.ToLower(strings.TrimPrefix(s, l.envPrefix))
		return strings.ReplaceAll(key, "__", ".")
	})
	if err := l.k.Load(envProvider, nil); err != nil {
		return fmt.Errorf("failed to load environment variables: %w", err)
	}
	return nil
}

// LoadMap merges flat dotted keys, such as values computed at startup.
func (l *Loader) LoadMap(values map[string]any) error {
	if err := l.k.Load(confmap.Provider(values, "."), nil); err != nil {
		return fmt.Errorf("failed to load values: %w", err)
	}
	return nil
}

// LoadFlags applies the flags the user explicitly set, mapped from flag
// name to configuration key. Call it last so flags take precedence.
func (l *Loader) LoadFlags(flags *pflag.FlagSet, mappings map[string]string) error {
	var errs []error
	flags.Visit(func(f *pflag.Flag) {
		key, ok := mappings[f.Name]
		if !ok {
			return
		}
		if err := l.k.Set(key, f.Value.String()); err != nil {
			errs = append(errs, fmt.Errorf("flag %s: %w", f.Name, err))
			return
		}
		l.logger.Debug("Applied flag override", "flag", f.Name, "key", key)
	})
	return errors.Join(errs...)
}

// Unmarshal decodes the configuration at path into out.
func (l *Loader) Unmarshal(path string, out any) error {
	return l.k.Unmarshal(path, out)
}

// UnmarshalAndValidate decodes into out and calls Validate when out is a Validator.
func (l *Loader) UnmarshalAndValidate(path string, out any) error {
	if err := l.k.Unmarshal(path, out); err != nil {
		return err
	}
	if v, ok := out.(Validator); ok {
		return v.Validate()
	}
	return nil
}

func (l *Loader) Set(key string, value any) error {
	return l.k.Set(key, value)
}

// Raw returns the merged configuration as a nested map.
func (l *Loader) Raw() map[string]any {
	return l.k.Raw()
}

// DumpYAML writes the merged configuration as YAML.
func (l *Loader) DumpYAML(w io.Writer) error {
	return yaml.NewEncoder(w).Encode(l.k.Raw())
}

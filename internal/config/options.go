// Copyright 2025 The CAAPF Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"log/slog"
	"maps"
)

// Option customises how Load assembles the operator configuration.
type Option func(*Loader)

// WithSourceLogger logs the config file and every flag override that Load
// applies, at debug level.
func WithSourceLogger(logger *slog.Logger) Option {
	return func(l *Loader) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// WithOverrides sets dotted keys, such as "watch.mode", above the file and
// the environment. Explicit flags still win.
func WithOverrides(values map[string]any) Option {
	return func(l *Loader) {
		if l.overrides == nil {
			l.overrides = map[string]any{}
		}
		maps.Copy(l.overrides, values)
	}
}

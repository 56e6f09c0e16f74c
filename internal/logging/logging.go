// Copyright 2025 The CAAPF Authors
// SPDX-License-Identifier: Apache-2.0

// Package logging builds the operator logger.
package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/go-logr/logr"
)

// Config defines logging settings.
type Config struct {
	// Level is the minimum log level (debug, info, warn, error).
	Level string
	// Format is the log output format (json, text).
	Format    string
	AddSource bool
}

// New creates a slog.Logger writing to stdout.
func New(cfg Config) *slog.Logger {
	return slog.New(NewHandler(os.Stdout, cfg))
}

// NewHandler creates the slog handler described by cfg, writing to w.
func NewHandler(w io.Writer, cfg Config) slog.Handler {
	opts := &slog.HandlerOptions{
		Level:     ParseLevel(cfg.Level),
		AddSource: cfg.AddSource,
	}
	if strings.EqualFold(cfg.Format, "text") {
		return slog.NewTextHandler(w, opts)
	}
	return slog.NewJSONHandler(w, opts)
}

// NewLogr bridges a slog logger into logr for controller-runtime.
// logr verbosity V(n) maps to slog level -n, so V(1) is logged at debug.
func NewLogr(logger *slog.Logger) logr.Logger {
	return logr.FromSlogHandler(logger.Handler())
}

// ParseLevel converts a level name to slog.Level. Unknown names are info.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

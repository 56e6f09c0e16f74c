// Copyright 2025 The CAAPF Authors
// SPDX-License-Identifier: Apache-2.0

package controller

import (
	"errors"
	"fmt"
	"strings"

	apierrors "k8s.io/apimachinery/pkg/api/errors"
)

// Operation names carried by the per-operation errors.
const (
	OpLookup = "lookup"
	OpCreate = "create"
	OpGet    = "get"
	OpPatch  = "patch"
	OpEvent  = "event"
	OpAdd    = "add"
	OpRemove = "remove"
)

// Sync error kinds, one per downstream object family.
const (
	SyncKindCluster      = "cluster"
	SyncKindClusterGroup = "cluster_group"
	SyncKindMapping      = "mapping"
	SyncKindToken        = "token"
	SyncKindConfigMap    = "config_map"
	SyncKindNamespace    = "namespace"
	SyncKindTemplate     = "template"
	SyncKindHelm         = "helm"
)

// MetricLabeler is implemented by errors that know their metric label.
type MetricLabeler interface {
	MetricLabel() string
}

// LookupError is returned when the reconciled object itself cannot be read.
type LookupError struct {
	Err error
}

func (e *LookupError) Error() string       { return fmt.Sprintf("lookup error: %v", e.Err) }
func (e *LookupError) Unwrap() error       { return e.Err }
func (e *LookupError) MetricLabel() string { return "lookup_error" }

// GetOrCreateError is returned by GetOrCreate.
type GetOrCreateError struct {
	Op  string
	Err error
}

func (e *GetOrCreateError) Error() string {
	return fmt.Sprintf("%s error: %v", e.Op, e.Err)
}
func (e *GetOrCreateError) Unwrap() error       { return e.Err }
func (e *GetOrCreateError) MetricLabel() string { return "get_or_create_" + e.Op }

// PatchError is returned by PatchIfDifferent.
type PatchError struct {
	Op  string
	Err error
}

func (e *PatchError) Error() string {
	return fmt.Sprintf("%s error: %v", e.Op, e.Err)
}
func (e *PatchError) Unwrap() error       { return e.Err }
func (e *PatchError) MetricLabel() string { return "patch_" + e.Op }

// EventPublishError is returned when an audit event cannot be written.
type EventPublishError struct {
	Err error
}

func (e *EventPublishError) Error() string       { return fmt.Sprintf("event publish error: %v", e.Err) }
func (e *EventPublishError) Unwrap() error       { return e.Err }
func (e *EventPublishError) MetricLabel() string { return "event_publish_error" }

// SelectorParseError is returned for a malformed label selector in the configuration.
type SelectorParseError struct {
	Selector string
	Err      error
}

func (e *SelectorParseError) Error() string {
	return fmt.Sprintf("parse selector %q: %v", e.Selector, e.Err)
}
func (e *SelectorParseError) Unwrap() error       { return e.Err }
func (e *SelectorParseError) MetricLabel() string { return "selector_parse_error" }

// FinalizerError is returned when the finalizer cannot be added or removed.
type FinalizerError struct {
	Op  string
	Err error
}

func (e *FinalizerError) Error() string {
	return fmt.Sprintf("finalizer %s error: %v", e.Op, e.Err)
}
func (e *FinalizerError) Unwrap() error       { return e.Err }
func (e *FinalizerError) MetricLabel() string { return "finalizer_" + e.Op }

// SerializationError is returned when an object does not round-trip through its unstructured form.
type SerializationError struct {
	Err error
}

func (e *SerializationError) Error() string       { return fmt.Sprintf("serialization error: %v", e.Err) }
func (e *SerializationError) Unwrap() error       { return e.Err }
func (e *SerializationError) MetricLabel() string { return "serialization_error" }

// ConfigFetchError is returned when the FleetAddonConfig cannot be read.
type ConfigFetchError struct {
	Err error
}

func (e *ConfigFetchError) Error() string       { return fmt.Sprintf("config lookup error: %v", e.Err) }
func (e *ConfigFetchError) Unwrap() error       { return e.Err }
func (e *ConfigFetchError) MetricLabel() string { return "config_fetch_error" }

// SyncError is returned by bundle Sync and Cleanup for one downstream object family.
type SyncError struct {
	Kind string
	Err  error
}

func (e *SyncError) Error() string {
	return fmt.Sprintf("%s sync error: %v", strings.ReplaceAll(e.Kind, "_", " "), e.Err)
}
func (e *SyncError) Unwrap() error       { return e.Err }
func (e *SyncError) MetricLabel() string { return "sync_" + e.Kind }

// Error is the top level reconcile error. Class is the coarse label used for metrics.
type Error struct {
	Class string
	Err   error
}

func (e *Error) Error() string { return e.Err.Error() }
func (e *Error) Unwrap() error { return e.Err }

// NewError wraps err with its classification.
func NewError(err error) *Error {
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return &Error{Class: Classify(err), Err: err}
}

// Classify returns the metric label for err. The outermost labelled error wins.
func Classify(err error) string {
	if err == nil {
		return ""
	}
	var l MetricLabeler
	if errors.As(err, &l) {
		return l.MetricLabel()
	}
	if reason := apierrors.ReasonForError(err); reason != "" {
		return "api_" + strings.ToLower(string(reason))
	}
	return "unknown"
}

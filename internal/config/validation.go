// Copyright 2025 The CAAPF Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"fmt"
	"slices"
	"strings"

	"golang.org/x/exp/constraints"
)

// Path locates a configuration field in error messages, e.g. "watch.buffer_size".
type Path struct {
	segments []string
}

func NewPath(root string) *Path {
	return &Path{segments: []string{root}}
}

// Child returns a new path with name appended. p is not modified.
func (p *Path) Child(name string) *Path {
	segments := make([]string, len(p.segments), len(p.segments)+1)
	copy(segments, p.segments)
	return &Path{segments: append(segments, name)}
}

func (p *Path) String() string {
	return strings.Join(p.segments, ".")
}

// FieldError is a validation failure of a single field.
type FieldError struct {
	Field   string
	Message string
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationErrors collects every field error of a configuration.
type ValidationErrors []*FieldError

func (ve ValidationErrors) Error() string {
	var b strings.Builder
	for i, e := range ve {
		if i > 0 {
			b.WriteString("\n")
		}
		b.WriteString("- ")
		b.WriteString(e.Error())
	}
	return b.String()
}

// Add appends err when it is not nil.
func (ve *ValidationErrors) Add(err *FieldError) {
	if err != nil {
		*ve = append(*ve, err)
	}
}

// OrNil returns nil for an empty list.
func (ve ValidationErrors) OrNil() error {
	if len(ve) == 0 {
		return nil
	}
	return ve
}

func Invalid(path *Path, msg string) *FieldError {
	return &FieldError{Field: path.String(), Message: msg}
}

// MustBeInRange checks that value is within [lo, hi].
func MustBeInRange[T constraints.Ordered](path *Path, value, lo, hi T) *FieldError {
	if value < lo || value > hi {
		return Invalid(path, fmt.Sprintf("must be between %v and %v", lo, hi))
	}
	return nil
}

func MustBeGreaterThan[T constraints.Ordered](path *Path, value, lo T) *FieldError {
	if value <= lo {
		return Invalid(path, fmt.Sprintf("must be greater than %v", lo))
	}
	return nil
}

func MustBeOneOf(path *Path, value string, allowed []string) *FieldError {
	if slices.Contains(allowed, value) {
		return nil
	}
	return Invalid(path, fmt.Sprintf("must be one of: %s", strings.Join(allowed, ", ")))
}

func MustNotBeEmpty(path *Path, value string) *FieldError {
	if value == "" {
		return Invalid(path, "must not be empty")
	}
	return nil
}

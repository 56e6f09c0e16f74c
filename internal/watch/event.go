// Copyright 2025 The CAAPF Authors
// SPDX-License-Identifier: Apache-2.0

package watch

import (
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/runtime/schema"
)

// EventType is the kind of change carried by an Event.
type EventType int

const (
	// EventInit starts a (re)list of one descriptor.
	EventInit EventType = iota
	// EventInitApply carries one object of the initial list.
	EventInitApply
	// EventInitDone closes the initial list. Objects not seen since EventInit are gone.
	EventInitDone
	// EventApply is an object added or modified after the initial list.
	EventApply
	// EventDelete is an object removed after the initial list.
	EventDelete
	// EventReset announces a new watch generation and the descriptor keys it contains.
	EventReset
)

func (t EventType) String() string {
	switch t {
	case EventInit:
		return "Init"
	case EventInitApply:
		return "InitApply"
	case EventInitDone:
		return "InitDone"
	case EventApply:
		return "Apply"
	case EventDelete:
		return "Delete"
	case EventReset:
		return "Reset"
	default:
		return "Unknown"
	}
}

// Event is a type-erased watch event. Object is nil for Init, InitDone and Reset.
type Event struct {
	Type   EventType
	Object *unstructured.Unstructured
	GVK    schema.GroupVersionKind

	// Descriptor is the key of the descriptor the event was observed on.
	Descriptor string
	// Generation of the watch set the producing task belongs to.
	Generation uint64
	// Keys lists the descriptor keys of a new generation. Set on EventReset only.
	Keys []string
}

// Copyright 2025 The CAAPF Authors
// SPDX-License-Identifier: Apache-2.0

package testutil

import (
	"context"
	"sync"

	"sigs.k8s.io/controller-runtime/pkg/client"
)

// Event is one published audit event.
type Event struct {
	Object string
	Reason string
	Action string
	Note   string
}

// Events records published audit events in memory.
type Events struct {
	mu     sync.Mutex
	events []Event
}

func (e *Events) Publish(_ context.Context, obj client.Object, reason, action, note string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.events = append(e.events, Event{
		Object: client.ObjectKeyFromObject(obj).String(),
		Reason: reason,
		Action: action,
		Note:   note,
	})
	return nil
}

// Reasons returns the reasons of every recorded event, in order.
func (e *Events) Reasons() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]string, 0, len(e.events))
	for _, ev := range e.events {
		out = append(out, ev.Reason)
	}
	return out
}

// All returns a copy of the recorded events.
func (e *Events) All() []Event {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]Event(nil), e.events...)
}

// Copyright 2025 The CAAPF Authors
// SPDX-License-Identifier: Apache-2.0

// Package readiness provides a startup rendezvous for the controller loops.
package readiness

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"sync"

	"sigs.k8s.io/controller-runtime/pkg/healthz"
)

// ErrNotReady is returned by the readyz check until every participant has arrived.
var ErrNotReady = errors.New("not all participants have arrived")

// Barrier is a fixed-arity rendezvous point. Wait returns once every named
// participant has called Arrive, or as soon as one of them calls Fail.
type Barrier struct {
	mu      sync.Mutex
	pending map[string]struct{}
	known   map[string]struct{}
	err     error
	done    chan struct{}
}

// NewBarrier returns a barrier waiting for the given participants.
// A barrier without participants is open immediately.
func NewBarrier(participants ...string) *Barrier {
	b := &Barrier{
		pending: make(map[string]struct{}, len(participants)),
		known:   make(map[string]struct{}, len(participants)),
		done:    make(chan struct{}),
	}
	for _, p := range participants {
		b.pending[p] = struct{}{}
		b.known[p] = struct{}{}
	}
	if len(b.pending) == 0 {
		close(b.done)
	}
	return b
}

// Arrive marks name as ready. Arriving twice is a no-op.
func (b *Barrier) Arrive(name string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.known[name]; !ok {
		return fmt.Errorf("unknown barrier participant %q", name)
	}
	if _, ok := b.pending[name]; !ok {
		return nil
	}
	delete(b.pending, name)
	if len(b.pending) == 0 && b.err == nil {
		close(b.done)
	}
	return nil
}

// Fail releases every waiter with err. Only the first failure is kept.
func (b *Barrier) Fail(err error) {
	if err == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.err != nil {
		return
	}
	b.err = err
	if !b.isClosed() {
		close(b.done)
	}
}

// Wait blocks until the barrier opens or fails. It returns ctx.Err() if ctx ends first.
func (b *Barrier) Wait(ctx context.Context) error {
	select {
	case <-b.done:
		b.mu.Lock()
		defer b.mu.Unlock()
		return b.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Ready reports whether every participant has arrived and none failed.
func (b *Barrier) Ready() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.err == nil && len(b.pending) == 0
}

// Pending returns the participants that have not arrived yet, sorted.
func (b *Barrier) Pending() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]string, 0, len(b.pending))
	for p := range b.pending {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// Checker exposes the barrier as a manager readyz check.
func (b *Barrier) Checker() healthz.Checker {
	return func(_ *http.Request) error {
		b.mu.Lock()
		defer b.mu.Unlock()
		if b.err != nil {
			return b.err
		}
		if len(b.pending) > 0 {
			return ErrNotReady
		}
		return nil
	}
}

// LeaderChecker reports ready while elected is open. Standby replicas run no
// watches, so the barrier is only consulted once elected is closed.
func (b *Barrier) LeaderChecker(elected <-chan struct{}) healthz.Checker {
	check := b.Checker()
	return func(req *http.Request) error {
		select {
		case <-elected:
			return check(req)
		default:
			return nil
		}
	}
}

func (b *Barrier) isClosed() bool {
	select {
	case <-b.done:
		return true
	default:
		return false
	}
}

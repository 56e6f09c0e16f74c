// Copyright 2025 The CAAPF Authors
// SPDX-License-Identifier: Apache-2.0

package watch

import (
	"context"
	"sync"

	"k8s.io/apimachinery/pkg/runtime/schema"
	"sigs.k8s.io/controller-runtime/pkg/log"
	"sigs.k8s.io/controller-runtime/pkg/manager"

	"github.com/rancher/cluster-api-addon-provider-fleet/internal/metrics"
	"github.com/rancher/cluster-api-addon-provider-fleet/internal/readiness"
)

const (
	// DefaultBufferSize is the capacity of every subscriber channel.
	DefaultBufferSize = 128

	// BarrierParticipant is the barrier name the dispatcher arrives as.
	BarrierParticipant = "addon-config"
)

// BootstrapFunc installs the initial watch set. It runs once when the dispatcher starts.
type BootstrapFunc func(ctx context.Context, registry *Registry) error

// Dispatcher merges every watch task of its Registry into one feed and
// broadcasts it to subscribers. A subscriber that falls behind loses its
// oldest buffered events. The producer never blocks on a subscriber.
type Dispatcher struct {
	input    chan Event
	registry *Registry

	mu          sync.RWMutex
	subscribers []*Subscription
	ctx         context.Context

	bufferSize int
	bootstrap  BootstrapFunc
	barrier    *readiness.Barrier
	metrics    *metrics.Metrics
}

var (
	_ manager.Runnable               = (*Dispatcher)(nil)
	_ manager.LeaderElectionRunnable = (*Dispatcher)(nil)
)

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithBufferSize sets the subscriber channel capacity.
func WithBufferSize(n int) Option {
	return func(d *Dispatcher) {
		if n > 0 {
			d.bufferSize = n
		}
	}
}

// WithBootstrap sets the function installing the initial watch set.
func WithBootstrap(fn BootstrapFunc) Option {
	return func(d *Dispatcher) { d.bootstrap = fn }
}

// WithBarrier makes the dispatcher arrive at (or fail) b after bootstrap,
// and subscriptions wait on b before syncing.
func WithBarrier(b *readiness.Barrier) Option {
	return func(d *Dispatcher) { d.barrier = b }
}

// WithMetrics records lag, staleness and watch set size.
func WithMetrics(m *metrics.Metrics) Option {
	return func(d *Dispatcher) { d.metrics = m }
}

// NewDispatcher returns a dispatcher whose registry runs streams from streamer.
func NewDispatcher(streamer Streamer, opts ...Option) *Dispatcher {
	d := &Dispatcher{bufferSize: DefaultBufferSize}
	for _, opt := range opts {
		opt(d)
	}
	d.input = make(chan Event, d.bufferSize)
	d.registry = NewRegistry(streamer, d.input, d.metrics)
	return d
}

// Registry returns the watch registry feeding the dispatcher.
func (d *Dispatcher) Registry() *Registry {
	return d.registry
}

// NeedLeaderElection makes only the leader run watches.
func (d *Dispatcher) NeedLeaderElection() bool {
	return true
}

// Subscribe returns a subscription receiving every event for gvk published
// from now on. Earlier events are never replayed.
func (d *Dispatcher) Subscribe(name string, gvk schema.GroupVersionKind, opts ...SubscriptionOption) *Subscription {
	s := newSubscription(name, gvk, d.bufferSize, d.barrier, opts...)

	d.mu.Lock()
	defer d.mu.Unlock()
	d.subscribers = append(d.subscribers, s)
	if d.ctx != nil {
		go s.consume(d.ctx)
	}
	return s
}

// Start runs the bootstrap and the broadcast loop until ctx is done.
func (d *Dispatcher) Start(ctx context.Context) error {
	logger := log.FromContext(ctx).WithName("dispatcher")

	d.registry.bind(ctx)
	defer d.registry.Stop()

	d.mu.Lock()
	d.ctx = ctx
	for _, s := range d.subscribers {
		go s.consume(ctx)
	}
	d.mu.Unlock()

	bootstrapped := make(chan error, 1)
	go func() {
		if d.bootstrap == nil {
			bootstrapped <- nil
			return
		}
		bootstrapped <- d.bootstrap(ctx, d.registry)
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-bootstrapped:
			bootstrapped = nil
			if err != nil {
				logger.Error(err, "Initial watch setup failed")
				if d.barrier != nil {
					d.barrier.Fail(err)
				}
				return err
			}
			if d.barrier != nil {
				if err := d.barrier.Arrive(BarrierParticipant); err != nil {
					return err
				}
			}
			logger.Info("Initial watch setup complete", "generation", d.registry.Generation())
		case ev := <-d.input:
			d.publish(ev)
		}
	}
}

func (d *Dispatcher) publish(ev Event) {
	if ev.Generation < d.registry.Generation() {
		d.metrics.Stale()
		return
	}

	d.mu.RLock()
	subscribers := d.subscribers
	d.mu.RUnlock()

	for _, s := range subscribers {
		if ev.Type != EventReset && s.gvk != ev.GVK {
			continue
		}
		if lagged := s.offer(ev); lagged > 0 {
			for range lagged {
				d.metrics.Lagged(s.name)
			}
		}
	}
}

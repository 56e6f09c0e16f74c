// Copyright 2025 The CAAPF Authors
// SPDX-License-Identifier: Apache-2.0

package watch

import (
	"context"
	"errors"
	"math"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"k8s.io/apimachinery/pkg/util/wait"
	"sigs.k8s.io/controller-runtime/pkg/log"

	"github.com/rancher/cluster-api-addon-provider-fleet/internal/metrics"
)

// DefaultBackoff restarts failed watch streams.
var DefaultBackoff = wait.Backoff{
	Duration: 800 * time.Millisecond,
	Factor:   2,
	Jitter:   0.1,
	Steps:    math.MaxInt32,
	Cap:      30 * time.Second,
}

// a stream that stayed up this long starts over from the initial backoff
const healthyStreamDuration = time.Minute

type task struct {
	desc Descriptor
	gen  uint64
	// nil until the registry is bound
	cancel context.CancelFunc
}

func (t *task) stop() {
	if t.cancel != nil {
		t.cancel()
	}
}

// Registry owns the set of running watch tasks. Every task writes into one
// shared output channel, tagged with the generation it was started in.
//
// Reconfigure is the only operation that removes tasks. It holds the lock for
// the whole discard and refill, readers see the new set once it returns.
type Registry struct {
	mu    sync.Mutex
	tasks map[string]*task
	base  context.Context

	generation atomic.Uint64

	streamer Streamer
	out      chan<- Event
	backoff  wait.Backoff
	metrics  *metrics.Metrics
}

// NewRegistry returns a registry whose tasks run streamer and publish into out.
func NewRegistry(streamer Streamer, out chan<- Event, m *metrics.Metrics) *Registry {
	return &Registry{
		tasks:    map[string]*task{},
		streamer: streamer,
		out:      out,
		backoff:  DefaultBackoff,
		metrics:  m,
	}
}

// SetBackoff overrides the restart backoff of new tasks.
func (r *Registry) SetBackoff(b wait.Backoff) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.backoff = b
}

// bind makes every task outlive the reconcile that started it. Tasks stop
// when ctx is done. Tasks registered before bind are launched here.
func (r *Registry) bind(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.base = ctx
	for _, t := range r.tasks {
		if t.cancel == nil {
			r.launch(t)
		}
	}
}

// Generation returns the current watch set generation.
func (r *Registry) Generation() uint64 {
	return r.generation.Load()
}

// Reconfigure replaces the whole watch set with descriptors and starts a new generation.
func (r *Registry) Reconfigure(ctx context.Context, descriptors []Descriptor) error {
	logger := log.FromContext(ctx)

	r.mu.Lock()
	defer r.mu.Unlock()

	for key, t := range r.tasks {
		t.stop()
		delete(r.tasks, key)
	}
	gen := r.generation.Add(1)

	unique := make([]Descriptor, 0, len(descriptors))
	seen := map[string]struct{}{}
	for _, d := range descriptors {
		if _, ok := seen[d.Key()]; ok {
			continue
		}
		seen[d.Key()] = struct{}{}
		unique = append(unique, d)
	}

	reset := Event{Type: EventReset, Generation: gen, Keys: Keys(unique)}
	select {
	case r.out <- reset:
	case <-ctx.Done():
		return ctx.Err()
	}

	for _, d := range unique {
		r.start(d, gen)
	}
	r.metrics.WatchSet(len(r.tasks), gen)
	logger.Info("Reconfigured dynamic watches", "generation", gen, "descriptors", reset.Keys)
	return nil
}

// Add starts a watch for d in the current generation unless one already runs.
// It reports whether a task was started.
func (r *Registry) Add(ctx context.Context, d Descriptor) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.tasks[d.Key()]; ok {
		return false
	}
	gen := r.generation.Load()
	r.start(d, gen)
	r.metrics.WatchSet(len(r.tasks), gen)
	log.FromContext(ctx).Info("Added dynamic watch", "descriptor", d.String(), "generation", gen)
	return true
}

// Descriptors returns the active descriptors sorted by key.
func (r *Registry) Descriptors() []Descriptor {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Descriptor, 0, len(r.tasks))
	for _, t := range r.tasks {
		out = append(out, t.desc)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key() < out[j].Key() })
	return out
}

// Stop cancels every task.
func (r *Registry) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for key, t := range r.tasks {
		t.stop()
		delete(r.tasks, key)
	}
	r.metrics.WatchSet(0, r.generation.Load())
}

// start must be called with r.mu held. Before bind the task is only
// recorded.
func (r *Registry) start(d Descriptor, gen uint64) {
	t := &task{desc: d, gen: gen}
	r.tasks[d.Key()] = t
	if r.base != nil {
		r.launch(t)
	}
}

// launch must be called with r.mu held.
func (r *Registry) launch(t *task) {
	ctx, cancel := context.WithCancel(r.base)
	t.cancel = cancel
	go r.run(ctx, t.desc, t.gen, r.backoff)
}

func (r *Registry) run(ctx context.Context, d Descriptor, gen uint64, backoff wait.Backoff) {
	logger := log.FromContext(ctx).WithValues("descriptor", d.String(), "generation", gen)
	initial := backoff
	key := d.Key()

	emit := func(ev Event) bool {
		ev.GVK = d.GVK
		ev.Descriptor = key
		ev.Generation = gen
		select {
		case r.out <- ev:
			return true
		case <-ctx.Done():
			return false
		}
	}

	for {
		started := time.Now()
		err := r.streamer.Stream(ctx, d, emit)
		if ctx.Err() != nil {
			return
		}
		if time.Since(started) > healthyStreamDuration {
			backoff = initial
		}
		if err != nil && !errors.Is(err, ErrWatchClosed) {
			logger.Error(err, "Watch stream failed, restarting")
		}
		select {
		case <-time.After(backoff.Step()):
		case <-ctx.Done():
			return
		}
	}
}

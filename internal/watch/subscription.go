// Copyright 2025 The CAAPF Authors
// SPDX-License-Identifier: Apache-2.0

package watch

import (
	"context"
	"strings"
	"sync"

	apierrors "k8s.io/apimachinery/pkg/api/errors"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/runtime/schema"
	"k8s.io/apimachinery/pkg/types"
	"k8s.io/client-go/util/workqueue"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/log"
	"sigs.k8s.io/controller-runtime/pkg/reconcile"
	"sigs.k8s.io/controller-runtime/pkg/source"

	"github.com/rancher/cluster-api-addon-provider-fleet/internal/readiness"
)

// MapFunc turns an observed object into reconcile requests.
type MapFunc func(ctx context.Context, obj *unstructured.Unstructured) []reconcile.Request

// RequestForObject reconciles the observed object itself.
func RequestForObject(_ context.Context, obj *unstructured.Unstructured) []reconcile.Request {
	return []reconcile.Request{{NamespacedName: types.NamespacedName{
		Namespace: obj.GetNamespace(),
		Name:      obj.GetName(),
	}}}
}

// SubscriptionOption configures a Subscription.
type SubscriptionOption func(*Subscription)

// WithMapFunc sets how observed objects map to reconcile requests.
func WithMapFunc(fn MapFunc) SubscriptionOption {
	return func(s *Subscription) { s.mapFn = fn }
}

// WithStoreMapFunc is WithMapFunc for mappers that read the subscription's
// own cache.
func WithStoreMapFunc(fn func(*Store) MapFunc) SubscriptionOption {
	return func(s *Subscription) { s.mapFn = fn(s.store) }
}

// Subscription receives the dispatcher events of one kind and keeps a private
// cache of them. It is a controller-runtime source: Start enqueues requests for
// every change, WaitForSync waits on the readiness barrier.
type Subscription struct {
	name    string
	gvk     schema.GroupVersionKind
	ch      chan Event
	store   *Store
	mapFn   MapFunc
	barrier *readiness.Barrier

	mu         sync.Mutex
	queue      workqueue.TypedRateLimitingInterface[reconcile.Request]
	pending    map[reconcile.Request]struct{}
	generation uint64
	consuming  bool
}

var _ source.TypedSyncingSource[reconcile.Request] = (*Subscription)(nil)

func newSubscription(name string, gvk schema.GroupVersionKind, size int, barrier *readiness.Barrier, opts ...SubscriptionOption) *Subscription {
	s := &Subscription{
		name:    name,
		gvk:     gvk,
		ch:      make(chan Event, size),
		store:   NewStore(),
		mapFn:   RequestForObject,
		barrier: barrier,
		pending: map[reconcile.Request]struct{}{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Name returns the subscriber name used in metrics.
func (s *Subscription) Name() string { return s.name }

// GVK returns the kind the subscription receives.
func (s *Subscription) GVK() schema.GroupVersionKind { return s.gvk }

// Store returns the private cache.
func (s *Subscription) Store() *Store { return s.store }

func (s *Subscription) String() string {
	return "subscription/" + s.name
}

// offer pushes ev without blocking. When the buffer is full the oldest
// event is discarded. It returns the number of discarded events.
func (s *Subscription) offer(ev Event) int {
	lagged := 0
	for {
		select {
		case s.ch <- ev:
			return lagged
		default:
		}
		select {
		case <-s.ch:
			lagged++
		default:
		}
	}
}

// consume feeds the store from the channel until ctx is done.
func (s *Subscription) consume(ctx context.Context) {
	s.mu.Lock()
	if s.consuming {
		s.mu.Unlock()
		return
	}
	s.consuming = true
	s.mu.Unlock()

	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-s.ch:
			s.handle(ctx, ev)
		}
	}
}

func (s *Subscription) handle(ctx context.Context, ev Event) {
	var changed []*unstructured.Unstructured

	s.mu.Lock()
	newer := ev.Generation > s.generation
	if newer {
		s.generation = ev.Generation
	}
	s.mu.Unlock()

	switch {
	case ev.Type == EventReset:
		if newer {
			changed = s.store.Retain(ev.Keys)
		}
	case newer:
		// the reset of this generation was lost to lag
		changed = append(s.store.PruneBefore(ev.Generation, ev.Descriptor), s.store.Apply(ev)...)
	default:
		changed = s.store.Apply(ev)
	}

	if len(changed) == 0 {
		return
	}
	var requests []reconcile.Request
	for _, obj := range changed {
		requests = append(requests, s.mapFn(ctx, obj)...)
	}
	s.enqueue(requests)
}

func (s *Subscription) enqueue(requests []reconcile.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.queue == nil {
		for _, r := range requests {
			s.pending[r] = struct{}{}
		}
		return
	}
	for _, r := range requests {
		s.queue.Add(r)
	}
}

// Start attaches the controller queue. Changes observed before Start are enqueued now.
func (s *Subscription) Start(ctx context.Context, queue workqueue.TypedRateLimitingInterface[reconcile.Request]) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.queue = queue
	for r := range s.pending {
		queue.Add(r)
	}
	s.pending = map[reconcile.Request]struct{}{}
	log.FromContext(ctx).V(1).Info("Subscription started", "subscription", s.name)
	return nil
}

// WaitForSync blocks until every barrier participant has arrived.
func (s *Subscription) WaitForSync(ctx context.Context) error {
	if s.barrier == nil {
		return nil
	}
	return s.barrier.Wait(ctx)
}

// Get reads key from the private cache into obj.
func (s *Subscription) Get(_ context.Context, key client.ObjectKey, obj client.Object, _ ...client.GetOption) error {
	cached, ok := s.store.Get(key)
	if !ok {
		gr := schema.GroupResource{Group: s.gvk.Group, Resource: strings.ToLower(s.gvk.Kind) + "s"}
		return apierrors.NewNotFound(gr, key.Name)
	}
	if u, ok := obj.(*unstructured.Unstructured); ok {
		cached.DeepCopyInto(u)
		return nil
	}
	return FromUnstructured(cached.DeepCopy(), obj)
}

// Objects returns every cached object. The result must not be modified.
func (s *Subscription) Objects() []*unstructured.Unstructured {
	return s.store.List()
}

// Copyright 2025 The CAAPF Authors
// SPDX-License-Identifier: Apache-2.0

package watch

import (
	"sort"
	"sync"

	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/types"
)

// Store is the private cache of one subscription. Objects are kept per
// descriptor so a relist or a removed descriptor only replaces its own share.
type Store struct {
	mu sync.RWMutex

	sets map[string]map[types.NamespacedName]*unstructured.Unstructured
	// seen tracks objects observed since the last EventInit, per descriptor.
	seen map[string]map[types.NamespacedName]struct{}
	// generations records the watch generation each share was last fed from.
	generations map[string]uint64
}

// NewStore returns an empty store.
func NewStore() *Store {
	return &Store{
		sets:        map[string]map[types.NamespacedName]*unstructured.Unstructured{},
		seen:        map[string]map[types.NamespacedName]struct{}{},
		generations: map[string]uint64{},
	}
}

func keyOf(obj *unstructured.Unstructured) types.NamespacedName {
	return types.NamespacedName{Namespace: obj.GetNamespace(), Name: obj.GetName()}
}

// Apply records ev and returns the objects that changed. Objects that
// disappear on EventInitDone are returned as well so their owners get reconciled.
func (s *Store) Apply(ev Event) []*unstructured.Unstructured {
	s.mu.Lock()
	defer s.mu.Unlock()

	if ev.Descriptor != "" {
		s.generations[ev.Descriptor] = ev.Generation
	}

	switch ev.Type {
	case EventInit:
		s.seen[ev.Descriptor] = map[types.NamespacedName]struct{}{}
		return nil

	case EventInitApply:
		key := keyOf(ev.Object)
		if seen, ok := s.seen[ev.Descriptor]; ok {
			seen[key] = struct{}{}
		}
		s.set(ev.Descriptor)[key] = ev.Object
		return []*unstructured.Unstructured{ev.Object}

	case EventInitDone:
		seen, ok := s.seen[ev.Descriptor]
		delete(s.seen, ev.Descriptor)
		if !ok {
			return nil
		}
		var gone []*unstructured.Unstructured
		for key, obj := range s.sets[ev.Descriptor] {
			if _, ok := seen[key]; !ok {
				delete(s.sets[ev.Descriptor], key)
				gone = append(gone, obj)
			}
		}
		return gone

	case EventApply:
		s.set(ev.Descriptor)[keyOf(ev.Object)] = ev.Object
		return []*unstructured.Unstructured{ev.Object}

	case EventDelete:
		delete(s.set(ev.Descriptor), keyOf(ev.Object))
		return []*unstructured.Unstructured{ev.Object}
	}
	return nil
}

// Retain drops every descriptor share whose key is not in keys and returns
// the dropped objects.
func (s *Store) Retain(keys []string) []*unstructured.Unstructured {
	keep := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		keep[k] = struct{}{}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.drop(func(desc string) bool {
		_, ok := keep[desc]
		return !ok
	})
}

// PruneBefore drops every descriptor share last fed by a generation older
// than gen, except the share of descriptor except.
func (s *Store) PruneBefore(gen uint64, except string) []*unstructured.Unstructured {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.drop(func(desc string) bool {
		return desc != except && s.generations[desc] < gen
	})
}

// drop must be called with s.mu held.
func (s *Store) drop(match func(desc string) bool) []*unstructured.Unstructured {
	var dropped []*unstructured.Unstructured
	for desc, set := range s.sets {
		if !match(desc) {
			continue
		}
		for _, obj := range set {
			dropped = append(dropped, obj)
		}
		delete(s.sets, desc)
		delete(s.seen, desc)
		delete(s.generations, desc)
	}
	return dropped
}

// Get returns the object with key from any descriptor share.
func (s *Store) Get(key types.NamespacedName) (*unstructured.Unstructured, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, set := range s.sets {
		if obj, ok := set[key]; ok {
			return obj, true
		}
	}
	return nil, false
}

// List returns every cached object once, ordered by namespace and name.
func (s *Store) List() []*unstructured.Unstructured {
	s.mu.RLock()
	merged := map[types.NamespacedName]*unstructured.Unstructured{}
	for _, set := range s.sets {
		for key, obj := range set {
			merged[key] = obj
		}
	}
	s.mu.RUnlock()

	out := make([]*unstructured.Unstructured, 0, len(merged))
	for _, obj := range merged {
		out = append(out, obj)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].GetNamespace() != out[j].GetNamespace() {
			return out[i].GetNamespace() < out[j].GetNamespace()
		}
		return out[i].GetName() < out[j].GetName()
	})
	return out
}

// Descriptors returns the sorted descriptor keys with cached objects.
func (s *Store) Descriptors() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := make([]string, 0, len(s.sets))
	for k := range s.sets {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (s *Store) set(desc string) map[types.NamespacedName]*unstructured.Unstructured {
	set, ok := s.sets[desc]
	if !ok {
		set = map[types.NamespacedName]*unstructured.Unstructured{}
		s.sets[desc] = set
	}
	return set
}

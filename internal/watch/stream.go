// Copyright 2025 The CAAPF Authors
// SPDX-License-Identifier: Apache-2.0

package watch

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"strconv"
	"strings"
	"time"

	apierrors "k8s.io/apimachinery/pkg/api/errors"
	"k8s.io/apimachinery/pkg/api/meta"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/apimachinery/pkg/runtime/schema"
	apiwatch "k8s.io/apimachinery/pkg/watch"
	"k8s.io/apimachinery/pkg/version"
	"k8s.io/utils/ptr"
	"sigs.k8s.io/controller-runtime/pkg/client"

	"github.com/rancher/cluster-api-addon-provider-fleet/internal/controller"
)

// Mode selects how watch streams are established.
type Mode int

const (
	// ModeLegacy lists typed objects, then watches from the list resourceVersion.
	ModeLegacy Mode = iota
	// ModeStreaming uses a single watch that streams the initial state.
	ModeStreaming
)

// StreamingListMinor is the first server minor version with streaming lists enabled.
const StreamingListMinor = 32

func (m Mode) String() string {
	if m == ModeStreaming {
		return "streaming"
	}
	return "legacy"
}

// ParseMode parses "streaming", "legacy" or "auto". Auto is reported as ok=false.
func ParseMode(s string) (Mode, bool, error) {
	switch strings.ToLower(s) {
	case "", "auto":
		return ModeLegacy, false, nil
	case "streaming":
		return ModeStreaming, true, nil
	case "legacy":
		return ModeLegacy, true, nil
	default:
		return ModeLegacy, false, fmt.Errorf("unknown watch mode %q", s)
	}
}

// ModeForVersion picks the watch mode supported by a server.
func ModeForVersion(info *version.Info) (Mode, error) {
	if info == nil {
		return ModeLegacy, errors.New("server version is unknown")
	}
	digits := strings.TrimRightFunc(info.Minor, func(r rune) bool { return r < '0' || r > '9' })
	minor, err := strconv.Atoi(digits)
	if err != nil {
		return ModeLegacy, fmt.Errorf("parse server minor version %q: %w", info.Minor, err)
	}
	if minor >= StreamingListMinor {
		return ModeStreaming, nil
	}
	return ModeLegacy, nil
}

// ErrWatchClosed is returned when the server closes a watch.
var ErrWatchClosed = errors.New("watch channel closed")

// EmitFunc hands an event to the registry. It returns false once the stream must stop.
type EmitFunc func(Event) bool

// Streamer runs one list-and-watch pass for a descriptor. It returns when the
// watch ends, fails, or emit reports that the task was stopped.
type Streamer interface {
	Stream(ctx context.Context, d Descriptor, emit EmitFunc) error
}

// StreamerFunc adapts a function to Streamer.
type StreamerFunc func(ctx context.Context, d Descriptor, emit EmitFunc) error

func (f StreamerFunc) Stream(ctx context.Context, d Descriptor, emit EmitFunc) error {
	return f(ctx, d, emit)
}

// APIStreamer streams objects from the API server.
type APIStreamer struct {
	Client client.WithWatch
	Mode   Mode
	// Timeout bounds each watch so the server periodically ends it and the
	// task relists. A random extra of up to Timeout is added.
	Timeout time.Duration
}

var _ Streamer = (*APIStreamer)(nil)

func (s *APIStreamer) Stream(ctx context.Context, d Descriptor, emit EmitFunc) error {
	if s.Mode == ModeStreaming {
		return s.streaming(ctx, d, emit)
	}
	return s.legacy(ctx, d, emit)
}

func (s *APIStreamer) streaming(ctx context.Context, d Descriptor, emit EmitFunc) error {
	opts, err := d.ListOptions()
	if err != nil {
		return err
	}
	opts.Raw = &metav1.ListOptions{
		SendInitialEvents:    ptr.To(true),
		ResourceVersionMatch: metav1.ResourceVersionMatchNotOlderThan,
		AllowWatchBookmarks:  true,
		TimeoutSeconds:       s.timeoutSeconds(),
	}

	list := &unstructured.UnstructuredList{}
	list.SetGroupVersionKind(listGVK(d.GVK))
	w, err := s.Client.Watch(ctx, list, opts)
	if err != nil {
		return err
	}
	defer w.Stop()

	if !emit(Event{Type: EventInit}) {
		return ctx.Err()
	}
	initialized := false
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-w.ResultChan():
			if !ok {
				return ErrWatchClosed
			}
			if ev.Type == apiwatch.Error {
				return apierrors.FromObject(ev.Object)
			}
			obj, err := toUnstructured(ev.Object, d.GVK)
			if err != nil {
				return err
			}
			if ev.Type == apiwatch.Bookmark {
				if !initialized && obj.GetAnnotations()[metav1.InitialEventsAnnotationKey] == "true" {
					initialized = true
					if !emit(Event{Type: EventInitDone}) {
						return ctx.Err()
					}
				}
				continue
			}
			if !emit(Event{Type: eventType(ev.Type, initialized), Object: obj}) {
				return ctx.Err()
			}
		}
	}
}

func (s *APIStreamer) legacy(ctx context.Context, d Descriptor, emit EmitFunc) error {
	opts, err := d.ListOptions()
	if err != nil {
		return err
	}

	list, err := s.newList(d.GVK)
	if err != nil {
		return err
	}
	if err := s.Client.List(ctx, list, opts); err != nil {
		return err
	}
	items, err := meta.ExtractList(list)
	if err != nil {
		return &controller.SerializationError{Err: err}
	}

	if !emit(Event{Type: EventInit}) {
		return ctx.Err()
	}
	for _, item := range items {
		obj, err := toUnstructured(item, d.GVK)
		if err != nil {
			return err
		}
		if !emit(Event{Type: EventInitApply, Object: obj}) {
			return ctx.Err()
		}
	}
	if !emit(Event{Type: EventInitDone}) {
		return ctx.Err()
	}

	opts.Raw = &metav1.ListOptions{
		ResourceVersion:     list.GetResourceVersion(),
		AllowWatchBookmarks: true,
		TimeoutSeconds:      s.timeoutSeconds(),
	}
	watchList, err := s.newList(d.GVK)
	if err != nil {
		return err
	}
	w, err := s.Client.Watch(ctx, watchList, opts)
	if err != nil {
		return err
	}
	defer w.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-w.ResultChan():
			if !ok {
				return ErrWatchClosed
			}
			switch ev.Type {
			case apiwatch.Error:
				return apierrors.FromObject(ev.Object)
			case apiwatch.Bookmark:
				continue
			}
			obj, err := toUnstructured(ev.Object, d.GVK)
			if err != nil {
				return err
			}
			if !emit(Event{Type: eventType(ev.Type, true), Object: obj}) {
				return ctx.Err()
			}
		}
	}
}

func (s *APIStreamer) newList(gvk schema.GroupVersionKind) (client.ObjectList, error) {
	obj, err := s.Client.Scheme().New(listGVK(gvk))
	if err != nil {
		return nil, fmt.Errorf("build list for %s: %w", gvk.Kind, err)
	}
	list, ok := obj.(client.ObjectList)
	if !ok {
		return nil, fmt.Errorf("%s is not a list type", listGVK(gvk).Kind)
	}
	return list, nil
}

func (s *APIStreamer) timeoutSeconds() *int64 {
	if s.Timeout <= 0 {
		return nil
	}
	jitter := time.Duration(rand.Int64N(int64(s.Timeout)))
	return ptr.To(int64((s.Timeout + jitter).Seconds()))
}

func listGVK(gvk schema.GroupVersionKind) schema.GroupVersionKind {
	return gvk.GroupVersion().WithKind(gvk.Kind + "List")
}

func eventType(t apiwatch.EventType, initialized bool) EventType {
	switch {
	case t == apiwatch.Deleted:
		return EventDelete
	case !initialized:
		return EventInitApply
	default:
		return EventApply
	}
}

// toUnstructured converts a typed or unstructured object into its type-erased form.
func toUnstructured(obj runtime.Object, gvk schema.GroupVersionKind) (*unstructured.Unstructured, error) {
	if u, ok := obj.(*unstructured.Unstructured); ok {
		if u.GetObjectKind().GroupVersionKind().Empty() {
			u.SetGroupVersionKind(gvk)
		}
		return u, nil
	}
	content, err := runtime.DefaultUnstructuredConverter.ToUnstructured(obj)
	if err != nil {
		return nil, &controller.SerializationError{Err: err}
	}
	u := &unstructured.Unstructured{Object: content}
	u.SetGroupVersionKind(gvk)
	return u, nil
}

// FromUnstructured converts u into the typed object out.
func FromUnstructured(u *unstructured.Unstructured, out runtime.Object) error {
	if err := runtime.DefaultUnstructuredConverter.FromUnstructured(u.UnstructuredContent(), out); err != nil {
		return &controller.SerializationError{Err: err}
	}
	return nil
}

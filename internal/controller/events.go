// Copyright 2025 The CAAPF Authors
// SPDX-License-Identifier: Apache-2.0

package controller

import (
	"context"
	"time"

	corev1 "k8s.io/api/core/v1"
	eventsv1 "k8s.io/api/events/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apiserver/pkg/storage/names"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/client/apiutil"
)

const (
	// ReportingController is the controller name attached to every audit event.
	ReportingController = "caapf-controller"

	ReasonCreated         = "Created"
	ReasonUpdated         = "Updated"
	ReasonDeleteRequested = "DeleteRequested"

	// events for cluster scoped objects are stored here
	clusterScopedEventNamespace = metav1.NamespaceDefault
)

// EventRecorder publishes informational audit events about objects.
type EventRecorder interface {
	Publish(ctx context.Context, obj client.Object, reason, action, note string) error
}

// APIEventRecorder writes events.k8s.io/v1 Events through the API client.
// Forbidden responses are swallowed, they are expected while a namespace terminates.
type APIEventRecorder struct {
	Client   client.Client
	Instance string
}

var _ EventRecorder = (*APIEventRecorder)(nil)

// NewEventRecorder returns an APIEventRecorder reporting as instance.
func NewEventRecorder(c client.Client, instance string) *APIEventRecorder {
	if instance == "" {
		instance = ReportingController
	}
	return &APIEventRecorder{Client: c, Instance: instance}
}

func (r *APIEventRecorder) Publish(ctx context.Context, obj client.Object, reason, action, note string) error {
	gvk, err := apiutil.GVKForObject(obj, r.Client.Scheme())
	if err != nil {
		return &EventPublishError{Err: err}
	}

	ns := obj.GetNamespace()
	if ns == "" {
		ns = clusterScopedEventNamespace
	}

	event := &eventsv1.Event{
		ObjectMeta: metav1.ObjectMeta{
			Name:      names.SimpleNameGenerator.GenerateName(obj.GetName() + "."),
			Namespace: ns,
		},
		EventTime:           metav1.NewMicroTime(time.Now()),
		ReportingController: ReportingController,
		ReportingInstance:   r.Instance,
		Action:              action,
		Reason:              reason,
		Note:                note,
		Type:                corev1.EventTypeNormal,
		Regarding: corev1.ObjectReference{
			APIVersion:      gvk.GroupVersion().String(),
			Kind:            gvk.Kind,
			Name:            obj.GetName(),
			Namespace:       obj.GetNamespace(),
			UID:             obj.GetUID(),
			ResourceVersion: obj.GetResourceVersion(),
		},
	}

	if err := r.Client.Create(ctx, event); err != nil {
		if apierrors.IsForbidden(err) {
			return nil
		}
		return &EventPublishError{Err: err}
	}
	return nil
}

// DiscardEvents drops every event.
type DiscardEvents struct{}

func (DiscardEvents) Publish(context.Context, client.Object, string, string, string) error { return nil }

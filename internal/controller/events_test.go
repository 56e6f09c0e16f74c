// Copyright 2025 The CAAPF Authors
// SPDX-License-Identifier: Apache-2.0

package controller

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	corev1 "k8s.io/api/core/v1"
	eventsv1 "k8s.io/api/events/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/runtime/schema"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/client/interceptor"

	"github.com/rancher/cluster-api-addon-provider-fleet/internal/controller/testutil"
)

func TestPublishWritesEvent(t *testing.T) {
	ctx := context.Background()
	c, _ := testutil.NewClient(testutil.Scheme())
	recorder := NewEventRecorder(c, "")

	cm := &corev1.ConfigMap{ObjectMeta: metav1.ObjectMeta{Name: "fleet-controller", Namespace: "cattle-fleet-system", UID: "uid-1"}}
	require.NoError(t, recorder.Publish(ctx, cm, ReasonUpdated, "Updating", "note"))

	ns := &corev1.Namespace{ObjectMeta: metav1.ObjectMeta{Name: "capi"}}
	require.NoError(t, recorder.Publish(ctx, ns, ReasonCreated, "Creating", "note"))

	list := &eventsv1.EventList{}
	require.NoError(t, c.List(ctx, list))
	require.Len(t, list.Items, 2)

	byNamespace := map[string]eventsv1.Event{}
	for _, ev := range list.Items {
		byNamespace[ev.Namespace] = ev
	}

	ev := byNamespace["cattle-fleet-system"]
	assert.Equal(t, ReportingController, ev.ReportingController)
	assert.Equal(t, ReportingController, ev.ReportingInstance)
	assert.Equal(t, ReasonUpdated, ev.Reason)
	assert.Equal(t, corev1.EventTypeNormal, ev.Type)
	assert.Equal(t, "ConfigMap", ev.Regarding.Kind)
	assert.Equal(t, "v1", ev.Regarding.APIVersion)
	assert.Equal(t, "uid-1", string(ev.Regarding.UID))

	// cluster scoped objects are reported in the default namespace
	assert.Equal(t, "Namespace", byNamespace[metav1.NamespaceDefault].Regarding.Kind)
}

func TestPublishErrors(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		wantErr bool
	}{
		{
			name: "forbidden is swallowed",
			err:  apierrors.NewForbidden(schema.GroupResource{Group: "events.k8s.io", Resource: "events"}, "x", errors.New("namespace terminating")),
		},
		{
			name:    "other failures propagate",
			err:     apierrors.NewInternalError(errors.New("boom")),
			wantErr: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, _ := testutil.NewClientWithFuncs(testutil.Scheme(), interceptor.Funcs{
				Create: func(context.Context, client.WithWatch, client.Object, ...client.CreateOption) error {
					return tt.err
				},
			})
			err := NewEventRecorder(c, "caapf-0").Publish(context.Background(),
				&corev1.ConfigMap{ObjectMeta: metav1.ObjectMeta{Name: "cm", Namespace: "default"}},
				ReasonCreated, "Creating", "note")

			if !tt.wantErr {
				assert.NoError(t, err)
				return
			}
			var publishErr *EventPublishError
			assert.ErrorAs(t, err, &publishErr)
			assert.Equal(t, "event_publish_error", Classify(err))
		})
	}
}

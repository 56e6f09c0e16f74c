// Copyright 2025 The CAAPF Authors
// SPDX-License-Identifier: Apache-2.0

package controller

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	"k8s.io/apimachinery/pkg/runtime/schema"
)

func TestClassify(t *testing.T) {
	notFound := apierrors.NewNotFound(schema.GroupResource{Resource: "configmaps"}, "cm")

	tests := []struct {
		name string
		err  error
		want string
	}{
		{name: "nil", err: nil, want: ""},
		{name: "lookup", err: &LookupError{Err: notFound}, want: "lookup_error"},
		{name: "get or create", err: &GetOrCreateError{Op: OpCreate, Err: notFound}, want: "get_or_create_create"},
		{name: "patch", err: &PatchError{Op: OpGet, Err: notFound}, want: "patch_get"},
		{name: "finalizer", err: &FinalizerError{Op: OpRemove, Err: notFound}, want: "finalizer_remove"},
		{name: "selector", err: &SelectorParseError{Selector: "a in ((", Err: errors.New("bad")}, want: "selector_parse_error"},
		{name: "config", err: &ConfigFetchError{Err: notFound}, want: "config_fetch_error"},
		{name: "outermost label wins", err: &SyncError{Kind: SyncKindMapping, Err: &PatchError{Op: OpPatch, Err: notFound}}, want: "sync_mapping"},
		{name: "wrapped", err: fmt.Errorf("sync: %w", &SyncError{Kind: SyncKindCluster, Err: notFound}), want: "sync_cluster"},
		{name: "plain api error", err: notFound, want: "api_notfound"},
		{name: "unknown", err: errors.New("boom"), want: "unknown"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.err))
		})
	}
}

func TestNewErrorKeepsExistingClass(t *testing.T) {
	inner := NewError(&SyncError{Kind: SyncKindToken, Err: errors.New("boom")})
	assert.Equal(t, "sync_token", inner.Class)
	assert.Same(t, inner, NewError(fmt.Errorf("outer: %w", inner)))
	assert.Equal(t, "token sync error: boom", inner.Error())
}

func TestHierarchyNotFoundError(t *testing.T) {
	err := fmt.Errorf("resolve: %w", &HierarchyNotFoundError{objInfo: "clustergroup 'g'", parentInfo: "clusterclass 'c'"})
	assert.NoError(t, IgnoreHierarchyNotFoundError(err))
	assert.Error(t, IgnoreHierarchyNotFoundError(errors.New("boom")))
	assert.Equal(t, "hierarchy_not_found", Classify(err))
	assert.Equal(t, "resolve: clustergroup 'g' refers to a non-existent clusterclass 'c'", err.Error())
}

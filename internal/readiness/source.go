// Copyright 2025 The CAAPF Authors
// SPDX-License-Identifier: Apache-2.0

package readiness

import (
	"context"

	"k8s.io/client-go/util/workqueue"
	"sigs.k8s.io/controller-runtime/pkg/reconcile"
	"sigs.k8s.io/controller-runtime/pkg/source"
)

// GatedSource wraps the primary source of a controller loop. Starting it
// arrives at the barrier as Participant, syncing it waits for the inner
// source and then for the whole barrier.
type GatedSource struct {
	Inner       source.TypedSource[reconcile.Request]
	Barrier     *Barrier
	Participant string
}

var _ source.TypedSyncingSource[reconcile.Request] = (*GatedSource)(nil)

// Gate returns src gated on b as participant.
func Gate(b *Barrier, participant string, src source.TypedSource[reconcile.Request]) *GatedSource {
	return &GatedSource{Inner: src, Barrier: b, Participant: participant}
}

func (g *GatedSource) Start(ctx context.Context, queue workqueue.TypedRateLimitingInterface[reconcile.Request]) error {
	if err := g.Inner.Start(ctx, queue); err != nil {
		g.Barrier.Fail(err)
		return err
	}
	return g.Barrier.Arrive(g.Participant)
}

func (g *GatedSource) WaitForSync(ctx context.Context) error {
	if syncing, ok := g.Inner.(source.TypedSyncingSource[reconcile.Request]); ok {
		if err := syncing.WaitForSync(ctx); err != nil {
			return err
		}
	}
	return g.Barrier.Wait(ctx)
}

func (g *GatedSource) String() string {
	return "gated/" + g.Participant
}

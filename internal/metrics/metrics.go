// Copyright 2025 The CAAPF Authors
// SPDX-License-Identifier: Apache-2.0

package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "caapf"

// ReconcileBuckets are the histogram buckets for reconcile durations, in seconds.
var ReconcileBuckets = []float64{0.01, 0.1, 0.25, 0.5, 1, 5, 15, 60}

// Metrics holds every collector exported by the operator.
type Metrics struct {
	Reconciliations   prometheus.Counter
	Failures          *prometheus.CounterVec
	ReconcileDuration prometheus.Histogram

	LaggedEvents    *prometheus.CounterVec
	DroppedStale    prometheus.Counter
	ActiveStreams   prometheus.Gauge
	WatchGeneration prometheus.Gauge
}

// New creates the collectors and registers them with reg.
// A nil reg leaves the collectors unregistered.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Reconciliations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "controller",
			Name:      "reconciliations_total",
			Help:      "reconciliations",
		}),
		Failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "controller",
			Name:      "reconciliation_errors_total",
			Help:      "reconciliation errors",
		}, []string{"instance", "error"}),
		ReconcileDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "controller",
			Name:      "reconcile_duration_seconds",
			Help:      "The duration of reconcile to complete in seconds",
			Buckets:   ReconcileBuckets,
		}),
		LaggedEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "dispatcher",
			Name:      "lagged_events_total",
			Help:      "Events discarded because a subscriber buffer was full",
		}, []string{"subscriber"}),
		DroppedStale: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "dispatcher",
			Name:      "dropped_stale_events_total",
			Help:      "Events discarded because they belong to a superseded watch generation",
		}),
		ActiveStreams: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "watch",
			Name:      "active_streams",
			Help:      "Number of watch streams currently registered",
		}),
		WatchGeneration: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "watch",
			Name:      "generation",
			Help:      "Current generation of the watch set",
		}),
	}
	if reg != nil {
		reg.MustRegister(
			m.Reconciliations,
			m.Failures,
			m.ReconcileDuration,
			m.LaggedEvents,
			m.DroppedStale,
			m.ActiveStreams,
			m.WatchGeneration,
		)
	}
	return m
}

// CountAndMeasure counts one reconcile and returns a func observing its duration.
//
//	defer m.CountAndMeasure()()
func (m *Metrics) CountAndMeasure() func() {
	if m == nil {
		return func() {}
	}
	m.Reconciliations.Inc()
	start := time.Now()
	return func() {
		m.ReconcileDuration.Observe(time.Since(start).Seconds())
	}
}

// ReconcileFailure records a failed reconcile of instance with the given error class.
func (m *Metrics) ReconcileFailure(instance, class string) {
	if m == nil {
		return
	}
	m.Failures.WithLabelValues(instance, class).Inc()
}

// Lagged records one event discarded for subscriber.
func (m *Metrics) Lagged(subscriber string) {
	if m == nil {
		return
	}
	m.LaggedEvents.WithLabelValues(subscriber).Inc()
}

// Stale records one event discarded for belonging to an old watch generation.
func (m *Metrics) Stale() {
	if m == nil {
		return
	}
	m.DroppedStale.Inc()
}

// WatchSet records the size and generation of the active watch set.
func (m *Metrics) WatchSet(streams int, generation uint64) {
	if m == nil {
		return
	}
	m.ActiveStreams.Set(float64(streams))
	m.WatchGeneration.Set(float64(generation))
}

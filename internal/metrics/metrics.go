// StudyPulse - Real-time Course Activity Tracking
// Copyright 2026 J. Whitfield (jwhitfield)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/jwhitfield/studypulse

// Package metrics provides Prometheus instrumentation for the realtime
// event distribution core: connection lifecycle, broadcast fan-out, and
// heartbeat eviction.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ConnectionsActive tracks currently registered websocket connections.
	ConnectionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "realtime_connections_active",
			Help: "Current number of registered websocket connections",
		},
	)

	// HandshakeFailures counts rejected handshakes by close code.
	HandshakeFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "realtime_handshake_failures_total",
			Help: "Total number of websocket handshakes rejected before registration",
		},
		[]string{"close_code"},
	)

	// EventsPublished counts events entering the dispatcher by type.
	EventsPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "realtime_events_published_total",
			Help: "Total number of events published to the broadcast dispatcher",
		},
		[]string{"type"},
	)

	// EventsDelivered counts per-connection deliveries.
	EventsDelivered = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "realtime_events_delivered_total",
			Help: "Total number of event frames enqueued to connections",
		},
	)

	// EventsDropped counts deliveries lost to full or closed send queues.
	EventsDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "realtime_events_dropped_total",
			Help: "Total number of event frames dropped because a connection's send queue was full or closed",
		},
	)

	// HeartbeatEvictions counts connections terminated for missing a probe cycle.
	HeartbeatEvictions = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "realtime_heartbeat_evictions_total",
			Help: "Total number of connections evicted for failing to answer a liveness probe",
		},
	)

	// SubscriptionUpdates counts wholesale subscription replacements.
	SubscriptionUpdates = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "realtime_subscription_updates_total",
			Help: "Total number of subscribe messages applied to connections",
		},
	)
)

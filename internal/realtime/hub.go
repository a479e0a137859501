// StudyPulse - Real-time Course Activity Tracking
// Copyright 2026 J. Whitfield (jwhitfield)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/jwhitfield/studypulse

package realtime

import (
	"context"
	"time"

	"github.com/goccy/go-json"

	"github.com/jwhitfield/studypulse/internal/logging"
	"github.com/jwhitfield/studypulse/internal/metrics"
)

// HubOptions tunes per-connection transport behavior.
type HubOptions struct {
	// WriteWait bounds each outbound frame write.
	WriteWait time.Duration

	// MaxMessageSize limits inbound frames in bytes.
	MaxMessageSize int64

	// SendBuffer is the per-connection outbound queue length.
	SendBuffer int
}

// withDefaults fills zero values.
func (o HubOptions) withDefaults() HubOptions {
	if o.WriteWait <= 0 {
		o.WriteWait = 10 * time.Second
	}
	if o.MaxMessageSize <= 0 {
		o.MaxMessageSize = 64 * 1024
	}
	if o.SendBuffer <= 0 {
		o.SendBuffer = 256
	}
	return o
}

// Hub is the broadcast dispatcher: the single entry point the rest of the
// application uses to publish an event. It owns connection admission and
// removal; everything flows through the injected registry.
type Hub struct {
	registry *Registry
	opts     HubOptions
}

// NewHub creates a hub over the given registry.
func NewHub(registry *Registry, opts HubOptions) *Hub {
	return &Hub{registry: registry, opts: opts.withDefaults()}
}

// ClientCount returns the number of registered connections.
func (h *Hub) ClientCount() int {
	return h.registry.Len()
}

// Publish implements Publisher.
func (h *Hub) Publish(evt Event) {
	h.Broadcast(evt)
}

// Broadcast fans an event out to every registered connection that passes
// the scope gate and the subscription gate. Fire-and-forget: an individual
// connection failure never aborts delivery to the rest of the registry; a
// connection whose send queue is full is dropped instead of stalling the
// broadcast.
func (h *Hub) Broadcast(evt Event) {
	metrics.EventsPublished.WithLabelValues(evt.Type).Inc()

	frame, err := json.Marshal(evt)
	if err != nil {
		logging.Error().Err(err).Str("event_type", evt.Type).Msg("failed to marshal event")
		return
	}

	delivered := 0
	h.registry.ForEach(func(c *Conn) {
		if !evt.Scope.Matches(c.identity) {
			return
		}
		if !c.subscribedTo(evt.Type) {
			return
		}
		if c.enqueue(frame) {
			metrics.EventsDelivered.Inc()
			delivered++
			return
		}
		// Queue full or closed: isolate the failure to this connection.
		metrics.EventsDropped.Inc()
		h.evict(c)
	})

	logging.Debug().
		Str("event_type", evt.Type).
		Int("delivered", delivered).
		Msg("event broadcast")
}

// attach admits a connection that completed the handshake.
func (h *Hub) attach(c *Conn) {
	h.registry.Add(c)
	metrics.ConnectionsActive.Set(float64(h.registry.Len()))
	logging.Info().
		Uint64("conn_id", c.id).
		Str("user_id", c.identity.UserID).
		Str("org_id", c.identity.OrgID).
		Int("total_clients", h.registry.Len()).
		Msg("websocket client connected")
}

// drop removes a connection from the registry and closes its outbound
// queue. Idempotent across the read-pump, broadcast, and heartbeat paths.
func (h *Hub) drop(c *Conn) {
	if !h.registry.Remove(c) {
		return
	}
	c.closeSend()
	metrics.ConnectionsActive.Set(float64(h.registry.Len()))
	logging.Info().
		Uint64("conn_id", c.id).
		Str("user_id", c.identity.UserID).
		Int("total_clients", h.registry.Len()).
		Msg("websocket client disconnected")
}

// evict forcibly terminates a connection: registry removal plus an
// immediate socket close.
func (h *Hub) evict(c *Conn) {
	h.drop(c)
	_ = c.sock.Close()
}

// Run blocks until ctx is canceled, then gracefully closes every
// connection. Designed for suture supervision.
func (h *Hub) Run(ctx context.Context) error {
	<-ctx.Done()

	closed := 0
	h.registry.ForEach(func(c *Conn) {
		h.drop(c)
		closed++
	})
	logging.Info().
		Str("component", "realtime-hub").
		Int("clients_closed", closed).
		Msg("realtime hub stopped")
	return ctx.Err()
}

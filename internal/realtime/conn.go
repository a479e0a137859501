// StudyPulse - Real-time Course Activity Tracking
// Copyright 2026 J. Whitfield (jwhitfield)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/jwhitfield/studypulse

package realtime

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"

	"github.com/jwhitfield/studypulse/internal/identity"
	"github.com/jwhitfield/studypulse/internal/logging"
	"github.com/jwhitfield/studypulse/internal/metrics"
)

// connIDCounter generates unique, monotonically increasing connection ids,
// used as a stable sort key for deterministic broadcast order.
var connIDCounter atomic.Uint64

// Conn is a single registered websocket connection: the socket handle, the
// identity bound at handshake, the liveness flag maintained by the
// heartbeat monitor, and the subscription set.
type Conn struct {
	id   uint64
	hub  *Hub
	sock *websocket.Conn

	// identity is bound once at handshake and never mutated; a role or
	// organization change requires a new connection.
	identity identity.Identity

	// alive is cleared by each heartbeat sweep and set again by the pong
	// response. A connection that misses one full cycle is evicted.
	alive atomic.Bool

	// subMu guards subs. An empty set means every event type is delivered.
	subMu sync.RWMutex
	subs  map[string]struct{}

	// sendMu serializes enqueue against close so a frame is never sent on
	// a closed channel.
	sendMu sync.Mutex
	closed bool
	send   chan []byte
}

// newConn wraps an upgraded socket with its bound identity.
func newConn(hub *Hub, sock *websocket.Conn, id identity.Identity) *Conn {
	c := &Conn{
		id:       connIDCounter.Add(1),
		hub:      hub,
		sock:     sock,
		identity: id,
		subs:     make(map[string]struct{}),
		send:     make(chan []byte, hub.opts.SendBuffer),
	}
	c.alive.Store(true)
	return c
}

// Identity returns the identity bound at handshake.
func (c *Conn) Identity() identity.Identity {
	return c.identity
}

// replaceSubscriptions swaps the subscription set wholesale (not a merge)
// and returns the resulting channel list sorted for a stable acknowledgement.
func (c *Conn) replaceSubscriptions(channels []string) []string {
	subs := make(map[string]struct{}, len(channels))
	for _, ch := range channels {
		if ch != "" {
			subs[ch] = struct{}{}
		}
	}

	c.subMu.Lock()
	c.subs = subs
	c.subMu.Unlock()

	result := make([]string, 0, len(subs))
	for ch := range subs {
		result = append(result, ch)
	}
	sort.Strings(result)
	return result
}

// subscribedTo reports whether the connection accepts the given event type.
// An empty subscription set accepts everything.
func (c *Conn) subscribedTo(eventType string) bool {
	c.subMu.RLock()
	defer c.subMu.RUnlock()

	if len(c.subs) == 0 {
		return true
	}
	_, ok := c.subs[eventType]
	return ok
}

// enqueue queues a pre-serialized frame without blocking. Returns false if
// the connection is closed or its queue is full.
func (c *Conn) enqueue(frame []byte) bool {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()

	if c.closed {
		return false
	}
	select {
	case c.send <- frame:
		return true
	default:
		return false
	}
}

// enqueueJSON marshals v and queues it.
func (c *Conn) enqueueJSON(v interface{}) bool {
	frame, err := json.Marshal(v)
	if err != nil {
		logging.Error().Err(err).Uint64("conn_id", c.id).Msg("failed to marshal outbound frame")
		return false
	}
	return c.enqueue(frame)
}

// closeSend closes the outbound queue exactly once, signaling the write
// pump to emit a close frame and exit.
func (c *Conn) closeSend() {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()

	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
}

// probe sends a websocket ping control frame.
func (c *Conn) probe(deadline time.Duration) error {
	return c.sock.WriteControl(websocket.PingMessage, nil, time.Now().Add(deadline))
}

// start launches the read and write pumps.
func (c *Conn) start() {
	go c.writePump()
	go c.readPump()
}

// readPump consumes inbound frames until the socket closes, then removes
// the connection from the registry.
func (c *Conn) readPump() {
	defer func() {
		c.hub.drop(c)
		_ = c.sock.Close()
	}()

	c.sock.SetReadLimit(c.hub.opts.MaxMessageSize)
	c.sock.SetPongHandler(func(string) error {
		c.alive.Store(true)
		return nil
	})

	for {
		_, data, err := c.sock.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logging.Debug().Err(err).Uint64("conn_id", c.id).Msg("websocket read ended")
			}
			return
		}

		switch msg := decodeClientMessage(data).(type) {
		case subscribeMessage:
			channels := c.replaceSubscriptions(msg.Channels)
			metrics.SubscriptionUpdates.Inc()
			c.enqueueJSON(Event{
				Type:    MessageTypeSubscriptions,
				Payload: subscriptionsPayload{Channels: channels},
			})
		case pingMessage:
			c.enqueueJSON(Event{Type: MessageTypePong})
		case nil:
			// Malformed or unrecognized frame: ignored, connection stays open.
		}
	}
}

// writePump drains the outbound queue onto the socket. A closed queue
// produces a close frame and ends the pump.
func (c *Conn) writePump() {
	defer func() {
		_ = c.sock.Close()
	}()

	for frame := range c.send {
		if err := c.sock.SetWriteDeadline(time.Now().Add(c.hub.opts.WriteWait)); err != nil {
			logging.Debug().Err(err).Uint64("conn_id", c.id).Msg("failed to set write deadline")
			return
		}
		if err := c.sock.WriteMessage(websocket.TextMessage, frame); err != nil {
			logging.Debug().Err(err).Uint64("conn_id", c.id).Msg("websocket write failed")
			return
		}
	}

	// Queue closed by the hub: tell the peer before tearing down.
	_ = c.sock.SetWriteDeadline(time.Now().Add(c.hub.opts.WriteWait))
	_ = c.sock.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseGoingAway, ""))
}

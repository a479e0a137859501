// StudyPulse - Real-time Course Activity Tracking
// Copyright 2026 J. Whitfield (jwhitfield)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/jwhitfield/studypulse

package realtime

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/websocket"

	"github.com/jwhitfield/studypulse/internal/directory"
	"github.com/jwhitfield/studypulse/internal/identity"
	"github.com/jwhitfield/studypulse/internal/logging"
	"github.com/jwhitfield/studypulse/internal/metrics"
)

// bindTimeout bounds credential verification and directory lookups during
// the handshake.
const bindTimeout = 10 * time.Second

// HandlerConfig tunes the websocket upgrade endpoint.
type HandlerConfig struct {
	// HeartbeatInterval is reported to clients in the ready greeting.
	HeartbeatInterval time.Duration

	// AllowedOrigins restricts browser upgrades; "*" allows any origin.
	AllowedOrigins []string
}

// Handler upgrades HTTP requests to websocket connections and runs the
// per-connection handshake: credential verification, tenant activation
// check, registration, and the ready greeting. A connection is never
// registered before its identity is bound, so no broadcast can target a
// half-authenticated connection.
type Handler struct {
	hub       *Hub
	binder    *identity.Binder
	orgs      directory.Organizations
	upgrader  websocket.Upgrader
	heartbeat time.Duration
}

// NewHandler creates the handshake handler.
func NewHandler(hub *Hub, binder *identity.Binder, orgs directory.Organizations, cfg HandlerConfig) *Handler {
	heartbeat := cfg.HeartbeatInterval
	if heartbeat <= 0 {
		heartbeat = DefaultHeartbeatInterval
	}

	return &Handler{
		hub:       hub,
		binder:    binder,
		orgs:      orgs,
		heartbeat: heartbeat,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     originChecker(cfg.AllowedOrigins),
		},
	}
}

// originChecker builds the upgrade origin policy. Requests without an
// Origin header (non-browser clients) are always allowed.
func originChecker(allowed []string) func(*http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		for _, a := range allowed {
			if a == "*" || a == origin {
				return true
			}
		}
		return false
	}
}

// ServeHTTP runs the handshake state machine. Authentication and
// authorization failures surface only as a close code; no error payload
// crosses the wire.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	token := identity.TokenFromRequest(r)

	sock, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logging.Debug().Err(err).Msg("websocket upgrade failed")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), bindTimeout)
	defer cancel()

	id, err := h.binder.Bind(ctx, token)
	if err != nil {
		if !errors.Is(err, identity.ErrUnauthenticated) {
			logging.Error().Err(err).Msg("identity binding failed")
		}
		h.reject(sock, CloseUnauthenticated)
		return
	}

	if id.OrgID != "" {
		active, err := h.orgs.Activation(ctx, id.OrgID)
		switch {
		case errors.Is(err, directory.ErrNotFound):
			h.reject(sock, CloseOrgNotFound)
			return
		case err != nil:
			logging.Error().Err(err).Str("org_id", id.OrgID).Msg("organization lookup failed")
			h.reject(sock, websocket.CloseInternalServerErr)
			return
		case !active:
			h.reject(sock, CloseOrgInactive)
			return
		}
	}

	c := newConn(h.hub, sock, id)
	h.hub.attach(c)
	c.enqueueJSON(Event{
		Type: MessageTypeReady,
		Payload: readyPayload{
			UserID:              id.UserID,
			OrgID:               id.OrgID,
			Role:                id.Role,
			HeartbeatIntervalMs: h.heartbeat.Milliseconds(),
		},
	})
	c.start()
}

// reject closes an upgraded socket with the given close code before it was
// ever registered.
func (h *Handler) reject(sock *websocket.Conn, code int) {
	metrics.HandshakeFailures.WithLabelValues(strconv.Itoa(code)).Inc()
	deadline := time.Now().Add(h.hub.opts.WriteWait)
	_ = sock.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, ""), deadline)
	_ = sock.Close()
}

// StudyPulse - Real-time Course Activity Tracking
// Copyright 2026 J. Whitfield (jwhitfield)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/jwhitfield/studypulse

package realtime

import "github.com/goccy/go-json"

// clientMessage is the decoded form of a frame received from a client,
// modeled as a closed variant set so message handling is an exhaustive
// switch rather than a stringly-typed dispatch.
type clientMessage interface {
	isClientMessage()
}

// subscribeMessage replaces the connection's subscription set wholesale.
type subscribeMessage struct {
	Channels []string
}

// pingMessage requests an application-level pong reply.
type pingMessage struct{}

func (subscribeMessage) isClientMessage() {}
func (pingMessage) isClientMessage()      {}

// inboundFrame is the raw envelope shape of client frames.
type inboundFrame struct {
	Type     string   `json:"type"`
	Channels []string `json:"channels"`
}

// decodeClientMessage parses an inbound frame into its variant. Malformed
// JSON and unrecognized types return nil; the caller ignores them without
// surfacing an error or dropping the connection.
func decodeClientMessage(data []byte) clientMessage {
	var frame inboundFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		return nil
	}

	switch frame.Type {
	case MessageTypeSubscribe:
		channels := frame.Channels
		if channels == nil {
			channels = []string{}
		}
		return subscribeMessage{Channels: channels}
	case MessageTypePing:
		return pingMessage{}
	default:
		return nil
	}
}

// readyPayload greets a freshly registered connection. The heartbeat
// interval lets clients size their own read deadlines.
type readyPayload struct {
	UserID              string `json:"userId"`
	OrgID               string `json:"organizationId,omitempty"`
	Role                string `json:"role"`
	HeartbeatIntervalMs int64  `json:"heartbeatIntervalMs"`
}

// subscriptionsPayload acknowledges a subscribe message by echoing the
// resulting subscription set.
type subscriptionsPayload struct {
	Channels []string `json:"channels"`
}

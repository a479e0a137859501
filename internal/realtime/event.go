// StudyPulse - Real-time Course Activity Tracking
// Copyright 2026 J. Whitfield (jwhitfield)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/jwhitfield/studypulse

package realtime

import "github.com/jwhitfield/studypulse/internal/identity"

// Server-to-client message types. Application event types (EventCourses and
// friends) share the same envelope.
const (
	MessageTypeReady         = "connection.ready"
	MessageTypeSubscriptions = "subscriptions.updated"
	MessageTypePong          = "pong"
)

// Client-to-server message types.
const (
	MessageTypeSubscribe = "subscribe"
	MessageTypePing      = "ping"
)

// Application event types published by the course-tracking business logic.
const (
	EventCoursesChanged       = "courses.changed"
	EventModulesChanged       = "modules.changed"
	EventEnrollmentsChanged   = "enrollments.changed"
	EventSessionsChanged      = "sessions.changed"
	EventOrganizationsChanged = "organizations.changed"
)

// Close codes sent by the server when a handshake is rejected. Clients must
// treat these as terminal and not retry without a fresh credential.
const (
	CloseUnauthenticated = 4401 // missing/invalid/expired credential
	CloseOrgInactive     = 4403 // resolved organization is deactivated
	CloseOrgNotFound     = 4404 // resolved organization no longer exists
)

// Scope restricts event delivery to connections matching a user and/or
// organization. A nil scope matches every authenticated connection. The
// fields are independent filters; when both are set, both must match.
type Scope struct {
	UserID string `json:"userId,omitempty"`
	OrgID  string `json:"organizationId,omitempty"`
}

// Matches reports whether a connection bound to id should receive an event
// carrying this scope. Pure function of the two values.
func (s *Scope) Matches(id identity.Identity) bool {
	if s == nil {
		return true
	}
	if s.UserID != "" && s.UserID != id.UserID {
		return false
	}
	if s.OrgID != "" && s.OrgID != id.OrgID {
		return false
	}
	return true
}

// Event is a transient change notification: constructed by a publisher,
// consumed immediately by the dispatcher, never stored.
type Event struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload,omitempty"`
	Scope   *Scope      `json:"scope,omitempty"`
}

// Publisher is the collaborator interface the rest of the application uses
// to push change notifications into the core. Implemented by *Hub.
type Publisher interface {
	Publish(evt Event)
}

// StudyPulse - Real-time Course Activity Tracking
// Copyright 2026 J. Whitfield (jwhitfield)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/jwhitfield/studypulse

// Package identity binds websocket connections to verified application
// identities. A raw bearer credential is verified by a TokenVerifier and
// resolved through the user directory exactly once at handshake time; the
// resulting Identity is immutable for the connection's lifetime.
package identity

import (
	"errors"
	"net/http"
	"strings"
)

// ErrUnauthenticated is returned when a credential is missing, malformed,
// expired, or rejected by the verifier.
var ErrUnauthenticated = errors.New("identity: unauthenticated")

// Identity is the resolved identity bound to a connection.
type Identity struct {
	UserID      string
	Role        string
	OrgID       string // empty when the user belongs to no organization
	DisplayName string
	SubjectID   string
}

// TokenQueryParam carries the credential when the transport cannot set
// headers (browser WebSocket API).
const TokenQueryParam = "token"

// TokenFromRequest extracts the bearer credential from the Authorization
// header, falling back to the token query parameter. Returns empty string
// when neither is present.
func TokenFromRequest(r *http.Request) string {
	if authHeader := r.Header.Get("Authorization"); authHeader != "" {
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
			if token := strings.TrimSpace(parts[1]); token != "" {
				return token
			}
		}
	}

	return r.URL.Query().Get(TokenQueryParam)
}

// StudyPulse - Real-time Course Activity Tracking
// Copyright 2026 J. Whitfield (jwhitfield)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/jwhitfield/studypulse

/*
Package realtime implements the server side of StudyPulse's event
distribution system: a websocket broadcast hub that holds long-lived
authenticated connections and fans change notifications out to exactly the
connections whose identity matches an event's scope.

Key components:

  - Registry: the set of currently open, authenticated connections. The
    sole owner of connection state.
  - Hub: the broadcast dispatcher. The one write path into the core;
    application code publishes events here and never touches the registry.
  - Conn: a single registered connection with its bound identity, liveness
    flag, and subscription set.
  - Monitor: the heartbeat sweep. Probes every connection each interval and
    evicts any that missed the previous probe cycle.
  - Handler: the HTTP upgrade + handshake endpoint. Verifies the bearer
    credential, checks tenant activation, and only then registers the
    connection.

Delivery rules, applied per connection at broadcast time:

 1. Scope gate: an absent scope matches everyone; a userId and/or
    organizationId scope must equal the connection's bound identity
    (both present means both must match).
 2. Subscription gate: a non-empty subscription set is an allow-list on
    event type; an empty set receives every type.

Delivery is best-effort and fire-and-forget: a connection whose send queue
is full is dropped rather than allowed to stall the rest of the registry,
and there is no replay.
*/
package realtime

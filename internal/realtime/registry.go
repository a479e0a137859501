// StudyPulse - Real-time Course Activity Tracking
// Copyright 2026 J. Whitfield (jwhitfield)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/jwhitfield/studypulse

package realtime

import (
	"sort"
	"sync"
)

// Registry is the set of currently open, authenticated connections. It is
// the only piece of server-side shared mutable state; the hub, handshake
// handler, and heartbeat monitor all operate through it, and nothing else
// may hold a long-lived reference to a Conn.
//
// Constructed once at process start and injected into its consumers, so
// tests get a fresh registry each.
type Registry struct {
	mu    sync.RWMutex
	conns map[*Conn]struct{}
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{conns: make(map[*Conn]struct{})}
}

// Add registers a connection. The connection must already have its identity
// bound; no connection may receive events before that.
func (r *Registry) Add(c *Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.conns[c] = struct{}{}
}

// Remove deregisters a connection. Returns false if it was not present,
// which makes removal idempotent across the broadcast, heartbeat, and
// read-loop teardown paths.
func (r *Registry) Remove(c *Conn) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.conns[c]; !ok {
		return false
	}
	delete(r.conns, c)
	return true
}

// Len returns the number of registered connections.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

// ForEach calls fn for every registered connection. Iteration runs over a
// snapshot ordered by connection id, so fn may remove connections (its own
// argument or others) without skipping or duplicating entries.
func (r *Registry) ForEach(fn func(*Conn)) {
	for _, c := range r.snapshot() {
		fn(c)
	}
}

// snapshot returns the current connections sorted by id. The id order makes
// broadcast and sweep order deterministic.
func (r *Registry) snapshot() []*Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()

	conns := make([]*Conn, 0, len(r.conns))
	for c := range r.conns {
		conns = append(conns, c)
	}
	sort.Slice(conns, func(i, j int) bool {
		return conns[i].id < conns[j].id
	})
	return conns
}

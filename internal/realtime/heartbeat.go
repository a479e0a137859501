// StudyPulse - Real-time Course Activity Tracking
// Copyright 2026 J. Whitfield (jwhitfield)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/jwhitfield/studypulse

package realtime

import (
	"context"
	"sync"
	"time"

	"github.com/jwhitfield/studypulse/internal/logging"
	"github.com/jwhitfield/studypulse/internal/metrics"
)

// DefaultHeartbeatInterval is the probe period when none is configured.
const DefaultHeartbeatInterval = 30 * time.Second

// Monitor periodically probes every registered connection and evicts any
// that failed to answer the previous probe. The policy is
// missed-one-cycle: a connection must respond to every probe cycle or is
// dropped after exactly one missed cycle.
type Monitor struct {
	hub      *Hub
	interval time.Duration

	// mu guards the lifecycle fields below; Start is idempotent and Stop
	// is the single authoritative stop path.
	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewMonitor creates a heartbeat monitor sweeping the hub's registry.
func NewMonitor(hub *Hub, interval time.Duration) *Monitor {
	if interval <= 0 {
		interval = DefaultHeartbeatInterval
	}
	return &Monitor{hub: hub, interval: interval}
}

// Interval returns the probe period.
func (m *Monitor) Interval() time.Duration {
	return m.interval
}

// Run sweeps the registry on every tick until ctx is canceled. Designed
// for suture supervision.
func (m *Monitor) Run(ctx context.Context) error {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			m.sweep()
		}
	}
}

// Start launches the sweep loop in the background. Calling Start on a
// running monitor is a no-op; two interval loops are never created.
func (m *Monitor) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.cancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	done := make(chan struct{})
	m.done = done

	go func() {
		defer close(done)
		_ = m.Run(ctx)
	}()
}

// Stop terminates a monitor started with Start and waits for the loop to
// exit. Safe to call on a stopped monitor.
func (m *Monitor) Stop() {
	m.mu.Lock()
	cancel, done := m.cancel, m.done
	m.cancel = nil
	m.done = nil
	m.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// sweep evicts connections that missed the previous probe cycle, then arms
// the next cycle: clear the liveness flag and send a probe. The flag is
// set back only by the peer's pong response.
func (m *Monitor) sweep() {
	m.hub.registry.ForEach(func(c *Conn) {
		if !c.alive.Load() {
			metrics.HeartbeatEvictions.Inc()
			logging.Info().
				Uint64("conn_id", c.id).
				Str("user_id", c.identity.UserID).
				Msg("evicting unresponsive websocket client")
			m.hub.evict(c)
			return
		}

		c.alive.Store(false)
		if err := c.probe(m.hub.opts.WriteWait); err != nil {
			logging.Debug().Err(err).Uint64("conn_id", c.id).Msg("liveness probe failed")
			m.hub.evict(c)
		}
	})
}

// StudyPulse - Real-time Course Activity Tracking
// Copyright 2026 J. Whitfield (jwhitfield)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/jwhitfield/studypulse

package services

import "context"

// ContextRunner matches components exposing a context-bound run loop.
// Satisfied by *realtime.Hub and *realtime.Monitor.
type ContextRunner interface {
	Run(ctx context.Context) error
}

// HubService supervises the broadcast hub's run loop.
type HubService struct {
	hub ContextRunner
}

// NewHubService wraps the hub as a supervised service.
func NewHubService(hub ContextRunner) *HubService {
	return &HubService{hub: hub}
}

// Serve implements suture.Service.
func (s *HubService) Serve(ctx context.Context) error {
	return s.hub.Run(ctx)
}

// String implements fmt.Stringer for supervisor logging.
func (s *HubService) String() string {
	return "realtime-hub"
}

// HeartbeatService supervises the liveness monitor's sweep loop.
type HeartbeatService struct {
	monitor ContextRunner
}

// NewHeartbeatService wraps the heartbeat monitor as a supervised service.
func NewHeartbeatService(monitor ContextRunner) *HeartbeatService {
	return &HeartbeatService{monitor: monitor}
}

// Serve implements suture.Service.
func (s *HeartbeatService) Serve(ctx context.Context) error {
	return s.monitor.Run(ctx)
}

// String implements fmt.Stringer for supervisor logging.
func (s *HeartbeatService) String() string {
	return "heartbeat-monitor"
}

// StudyPulse - Real-time Course Activity Tracking
// Copyright 2026 J. Whitfield (jwhitfield)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/jwhitfield/studypulse

// Package main is the entry point for the StudyPulse realtime server.
//
// StudyPulse pushes course activity changes (courses, modules, enrollments,
// sessions, organizations) to connected clients over a single websocket
// endpoint. Clients authenticate with a JWT at upgrade time, optionally
// narrow delivery with a subscription set, and are evicted when they stop
// answering liveness probes.
//
// # Startup Order
//
//  1. Configuration: Koanf v2 layered sources (defaults, config file,
//     environment variables)
//  2. Logging: zerolog, configured from the logging section
//  3. Directory: user and organization resolution
//  4. Realtime core: registry, hub, heartbeat monitor, upgrade handler
//  5. HTTP surface: Chi router with health probe and Prometheus metrics
//  6. Supervision: suture tree running the hub, monitor, and HTTP server
//
// # Configuration
//
// Key environment variables:
//   - JWT_SECRET: 32+ character secret for token verification (required)
//   - HTTP_HOST / HTTP_PORT: listen address (default 0.0.0.0:8740)
//   - HEARTBEAT_INTERVAL: liveness probe period (default 30s)
//   - ALLOWED_ORIGINS: comma-separated CORS and upgrade origin allow-list
//   - LOG_LEVEL / LOG_FORMAT: zerolog settings
//   - CONFIG_PATH: explicit config file location
//
// # Signal Handling
//
// SIGINT and SIGTERM trigger graceful shutdown: the listener drains within
// the configured timeout and every websocket client receives a going-away
// close frame.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/jwhitfield/studypulse/internal/api"
	"github.com/jwhitfield/studypulse/internal/config"
	"github.com/jwhitfield/studypulse/internal/directory"
	"github.com/jwhitfield/studypulse/internal/identity"
	"github.com/jwhitfield/studypulse/internal/logging"
	"github.com/jwhitfield/studypulse/internal/realtime"
	"github.com/jwhitfield/studypulse/internal/supervisor"
	"github.com/jwhitfield/studypulse/internal/supervisor/services"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.Fatal().Err(err).Msg("failed to load configuration")
	}

	logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Caller: cfg.Logging.Caller,
	})
	logging.Info().
		Str("addr", cfg.Server.Addr()).
		Dur("heartbeat_interval", cfg.Realtime.HeartbeatInterval).
		Msg("starting studypulse server")

	dir := directory.NewMemory()

	verifier := identity.NewJWTVerifier(cfg.Auth.JWTSecret, cfg.Auth.Issuer, cfg.Auth.Audience)
	binder := identity.NewBinder(verifier, dir)

	registry := realtime.NewRegistry()
	hub := realtime.NewHub(registry, realtime.HubOptions{
		WriteWait:      cfg.Realtime.WriteWait,
		MaxMessageSize: cfg.Realtime.MaxMessageSize,
		SendBuffer:     cfg.Realtime.SendBuffer,
	})
	monitor := realtime.NewMonitor(hub, cfg.Realtime.HeartbeatInterval)
	wsHandler := realtime.NewHandler(hub, binder, dir, realtime.HandlerConfig{
		HeartbeatInterval: monitor.Interval(),
		AllowedOrigins:    cfg.Realtime.AllowedOrigins,
	})

	router := api.NewRouter(hub, wsHandler, api.RouterConfig{
		AllowedOrigins:   cfg.Realtime.AllowedOrigins,
		UpgradeRateLimit: cfg.Realtime.UpgradeRateLimit,
	})

	server := &http.Server{
		Addr:    cfg.Server.Addr(),
		Handler: router,
	}

	treeCfg := supervisor.DefaultTreeConfig()
	treeCfg.ShutdownTimeout = cfg.Server.ShutdownTimeout
	tree := supervisor.NewTree(logging.NewSlogLogger(), treeCfg)
	tree.AddRealtimeService(services.NewHubService(hub))
	tree.AddRealtimeService(services.NewHeartbeatService(monitor))
	tree.AddAPIService(services.NewHTTPServerService(server, cfg.Server.ShutdownTimeout))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := tree.Serve(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logging.Fatal().Err(err).Msg("supervisor tree failed")
	}
	logging.Info().Msg("studypulse server stopped")
}

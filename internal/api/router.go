// StudyPulse - Real-time Course Activity Tracking
// Copyright 2026 J. Whitfield (jwhitfield)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/jwhitfield/studypulse

// Package api assembles the HTTP surface: the websocket upgrade endpoint,
// health probe, and Prometheus metrics, behind Chi middleware.
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/jwhitfield/studypulse/internal/realtime"
)

// RouterConfig tunes the HTTP surface.
type RouterConfig struct {
	// AllowedOrigins is the CORS allow-list; "*" allows any origin.
	AllowedOrigins []string

	// UpgradeRateLimit caps websocket upgrade attempts per client IP per
	// minute. Zero disables the limiter.
	UpgradeRateLimit int
}

// healthResponse is the health probe body.
type healthResponse struct {
	Status  string `json:"status"`
	Clients int    `json:"clients"`
}

// NewRouter builds the service router. The websocket handler owns
// everything past the upgrade; the router only gates who reaches it.
func NewRouter(hub *realtime.Hub, ws http.Handler, cfg RouterConfig) chi.Router {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodOptions},
		AllowedHeaders:   []string{"Authorization", "Content-Type"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(healthResponse{
			Status:  "ok",
			Clients: hub.ClientCount(),
		})
	})

	r.Handle("/metrics", promhttp.Handler())

	r.Group(func(r chi.Router) {
		if cfg.UpgradeRateLimit > 0 {
			r.Use(httprate.LimitByIP(cfg.UpgradeRateLimit, time.Minute))
		}
		r.Handle("/api/v1/ws", ws)
	})

	return r
}

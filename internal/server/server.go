// Package server implements the HTTP transport layer for the warden service.
package server

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	warden "github.com/wardenlabs/warden/internal"
	"github.com/wardenlabs/warden/internal/app"
	"github.com/wardenlabs/warden/internal/storage"
	"github.com/wardenlabs/warden/internal/telemetry"
)

// ReadyChecker reports whether the system is ready to serve traffic.
type ReadyChecker func(ctx context.Context) error

// Deps holds all dependencies for the HTTP server.
type Deps struct {
	Resolver       warden.Resolver
	Chat           *app.ChatService
	Remediation    *app.RemediationService
	Store          storage.Store      // conversation listing and admin reporting
	ReadyCheck     ReadyChecker       // nil = always ready (for tests)
	Metrics        *telemetry.Metrics // nil = no request metrics
	MetricsHandler http.Handler       // nil = no /metrics endpoint
}

// New creates an http.Handler with all routes and middleware wired.
func New(deps Deps) http.Handler {
	s := &server{deps: deps}

	r := chi.NewRouter()

	// Global middleware
	r.Use(s.recovery)
	r.Use(s.requestID)
	r.Use(s.logging)
	if deps.Metrics != nil {
		r.Use(metricsMiddleware(deps.Metrics))
	}

	// System endpoints (no identity resolution)
	r.Get("/healthz", s.handleHealthz)
	r.Get("/readyz", s.handleReadyz)
	if deps.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", deps.MetricsHandler)
	}

	// Client-facing API. Identity is resolved for every request; anonymous
	// callers are allowed through and governed by the anonymous tier.
	r.Group(func(r chi.Router) {
		r.Use(s.identify)
		r.Post("/v1/chat", s.handleChat)
		r.Get("/v1/conversations", s.handleListConversations)
		r.Get("/v1/conversations/{id}/turns", s.handleListTurns)
		r.Post("/v1/conversations/{id}/remediate", s.handleRemediate)
	})

	// Admin reporting (elevated tier only)
	r.Group(func(r chi.Router) {
		r.Use(s.identify)
		r.Use(s.requireElevated)
		r.Get("/admin/usage", s.handleAdminUsage)
		r.Get("/admin/requests", s.handleAdminRequests)
	})

	return r
}

type server struct {
	deps Deps
}

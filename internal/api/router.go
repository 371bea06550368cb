// Drivebackup - Scheduled Site Backups with Resumable Remote Upload
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/drivebackup

package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tomtom215/drivebackup/internal/middleware"
)

// Router wires the handler into a chi router.
type Router struct {
	handler       *Handler
	triggers      middleware.TokenValidator
	policy        middleware.PolicyEnforcer
	chiMiddleware *ChiMiddleware
}

// NewRouter creates a Router. A nil mw uses DefaultChiMiddlewareConfig.
func NewRouter(handler *Handler, triggers middleware.TokenValidator, policy middleware.PolicyEnforcer, mw *ChiMiddleware) *Router {
	if mw == nil {
		mw = NewChiMiddleware(nil)
	}
	return &Router{handler: handler, triggers: triggers, policy: policy, chiMiddleware: mw}
}

// SetupChi builds the route tree.
//
// Middleware order: request ID and real IP first so every later layer logs
// and rate limits with them, then panic recovery, CORS, security headers and
// metrics. Authentication is applied per route group.
func (router *Router) SetupChi() http.Handler {
	h := router.handler
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(router.chiMiddleware.CORS())
	r.Use(APISecurityHeaders())
	r.Use(middleware.PrometheusMetrics)

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		respondError(w, http.StatusNotFound, ErrCodeNotFound, "route not found", nil)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		respondError(w, http.StatusMethodNotAllowed, ErrCodeMethodNotAllowed, "method not allowed", nil)
	})

	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(router.chiMiddleware.RateLimit())

		r.Get("/health", h.Health)
		r.Get("/oauth/callback", h.OAuthCallback)

		// Which scope may call which route is decided by the authz policy.
		r.Group(func(r chi.Router) {
			r.Use(middleware.Authorize(router.triggers, router.policy))

			r.Post("/backup", h.TriggerBackup)
			r.Post("/backup/resume", h.ResumeBackup)
			r.Get("/backup/status", h.BackupStatus)
			r.Get("/backup/jobs", h.ListJobs)
			r.Get("/backup/jobs/{id}/log", h.JobLog)

			r.Get("/oauth/authorize", h.OAuthAuthorize)
			r.Post("/oauth/revoke", h.OAuthRevoke)
		})
	})

	return r
}

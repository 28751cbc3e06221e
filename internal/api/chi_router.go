// Telemetrysync - Offline-first Telemetry Store and Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/telemetrysync

package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	httpSwagger "github.com/swaggo/http-swagger/v2"

	"github.com/tomtom215/telemetrysync/internal/middleware"
)

// SetupChi configures all HTTP routes.
func (router *Router) SetupChi() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(router.chiMiddleware.CORS())
	r.Use(middleware.PrometheusMetrics)

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		respondError(w, http.StatusNotFound, CodeNotFound, "Route not found", nil)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		respondError(w, http.StatusMethodNotAllowed, CodeBadRequest, "Method not allowed", nil)
	})

	h := router.handler

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(APISecurityHeaders())

		r.Route("/health", func(r chi.Router) {
			r.Use(router.chiMiddleware.RateLimitCustom(RateLimitHealth))
			r.Get("/", h.Health)
			r.Get("/live", h.HealthLive)
			r.Get("/ready", h.HealthReady)
		})

		r.Group(func(r chi.Router) {
			r.Use(router.chiMiddleware.RateLimit())
			r.Use(chimiddleware.Compress(5, "application/json"))

			r.Route("/records", func(r chi.Router) {
				r.Post("/", h.CreateRecord)
				r.Get("/", h.ListRecords)
				r.Get("/count", h.CountRecords)
				r.Post("/batch", h.CreateRecordsBatch)
				r.Put("/batch", h.UpdateRecordsBatch)

				r.Route("/{id}", func(r chi.Router) {
					r.Get("/", h.GetRecord)
					r.Put("/", h.UpdateRecord)
					r.Delete("/", h.DeleteRecord)
					r.Post("/requeue", h.RequeueRecord)
				})
			})

			r.With(router.chiMiddleware.RateLimitCustom(RateLimitSync)).Post("/sync", h.TriggerSync)
			r.Get("/sync/status", h.SyncStatus)
			r.Get("/stats", h.Stats)
			r.With(router.chiMiddleware.RateLimitCustom(RateLimitCleanup)).Post("/cleanup", h.Cleanup)
		})

		// Compression would break the hijacked connection.
		r.With(router.chiMiddleware.RateLimitCustom(RateLimitWebSocket)).Get("/ws", h.WebSocket)
	})

	r.Handle("/metrics", promhttp.Handler())

	if router.swaggerEnabled {
		r.Get("/swagger/*", httpSwagger.Handler(
			httpSwagger.URL("/swagger/doc.json"),
			httpSwagger.DeepLinking(true),
			httpSwagger.DocExpansion("list"),
			httpSwagger.DomID("swagger-ui"),
		))
	}

	return r
}

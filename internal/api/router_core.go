// Telemetrysync - Offline-first Telemetry Store and Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/telemetrysync

package api

import "github.com/tomtom215/telemetrysync/internal/config"

// Router binds handlers and middleware to routes.
type Router struct {
	handler        *Handler
	chiMiddleware  *ChiMiddleware
	swaggerEnabled bool
}

// NewRouter creates a router. A nil cfg uses the default middleware
// configuration with swagger disabled.
func NewRouter(handler *Handler, cfg *config.Config) *Router {
	r := &Router{handler: handler}
	if cfg == nil {
		r.chiMiddleware = NewChiMiddleware(nil)
		return r
	}
	r.chiMiddleware = NewChiMiddleware(ChiMiddlewareConfigFromServer(cfg.Server))
	r.swaggerEnabled = cfg.Server.SwaggerEnabled
	return r
}

// Plexcord - Discord Linked Roles for Plex Communities
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/plexcord

/*
Package middleware provides the HTTP middleware shared by every Plexcord
route.

  - RequestID: propagates or generates X-Request-ID and seeds the logging
    context with request and correlation ids.
  - PrometheusMetrics: counts requests and observes latency, labelled by the
    chi route pattern so path parameters never become label values.
  - SecurityHeaders: nosniff, frame denial and no-store for API responses.

All three are func(http.Handler) http.Handler and plug into chi's r.Use:

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.PrometheusMetrics)
*/
package middleware

// Plexcord - Discord Linked Roles for Plex Communities
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/plexcord

package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus instrumentation for the token lifecycle, the subscriber sync
// pass, metadata publishing and the HTTP surface.

var (
	// Database Metrics
	DBQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "duckdb_query_duration_seconds",
			Help:    "Duration of DuckDB queries in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation", "table"},
	)

	DBQueryErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "duckdb_query_errors_total",
			Help: "Total number of DuckDB query errors",
		},
		[]string{"operation", "table"},
	)

	// API Metrics
	APIRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "api_requests_total",
			Help: "Total number of API requests",
		},
		[]string{"method", "endpoint", "status_code"},
	)

	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "api_request_duration_seconds",
			Help:    "API request latency in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 2.5, 5},
		},
		[]string{"method", "endpoint"},
	)

	// Token Lifecycle Metrics
	TokenTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "token_transitions_total",
			Help: "Total number of token status transitions",
		},
		[]string{"to_status"}, // "renewed", "revoked", "expired"
	)

	TokenRefreshes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "token_refreshes_total",
			Help: "Total number of refresh-token exchanges with Discord",
		},
		[]string{"result"}, // "success", "invalid_grant", "transient"
	)

	TokensPurged = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "tokens_purged_total",
			Help: "Total number of terminal token records removed by retention",
		},
	)

	MaintenanceDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "token_maintenance_duration_seconds",
			Help:    "Duration of token maintenance passes",
			Buckets: []float64{0.1, 0.5, 1, 5, 10, 30, 60, 300},
		},
	)

	// Sync Metrics
	SyncDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "sync_duration_seconds",
			Help:    "Duration of subscriber sync passes",
			Buckets: []float64{1, 5, 10, 30, 60, 120, 300, 600},
		},
	)

	SyncIdentities = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sync_identities_total",
			Help: "Identities processed by the subscriber sync, by outcome",
		},
		[]string{"outcome"}, // "published", "skipped", "deactivated", "failed"
	)

	SyncLastSuccess = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "sync_last_success_timestamp",
			Help: "Unix timestamp of the last successful sync pass",
		},
	)

	// Metadata Publisher Metrics
	MetadataPublishes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "metadata_publishes_total",
			Help: "Role-connection metadata pushes to Discord",
		},
		[]string{"result"}, // "success", "failure"
	)

	DiscordRateLimited = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "discord_rate_limited_total",
			Help: "Discord responses with status 429",
		},
	)

	// Quota Metrics
	QuotaUpdates = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "quota_updates_total",
			Help: "Request quota updates pushed to Overseerr, by tier",
		},
		[]string{"tier", "result"},
	)

	// Link Flow Metrics
	LinkAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "link_attempts_total",
			Help: "Account link attempts, by outcome",
		},
		[]string{"outcome"}, // "linked", "unknown_plex_user", "state_invalid", "exchange_failed", "error"
	)

	// Authorization Metrics
	AuthzDecisions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "authz_decisions_total",
			Help: "Admin API authorization decisions",
		},
		[]string{"role", "action", "decision", "cached"},
	)

	// Event Metrics
	EventsPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lifecycle_events_published_total",
			Help: "Token lifecycle events published, by sink",
		},
		[]string{"sink"}, // "bus", "nats"
	)

	// Circuit Breaker Metrics
	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)

	CircuitBreakerRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_breaker_requests_total",
			Help: "Total number of requests through circuit breaker",
		},
		[]string{"name", "result"}, // result: "success", "failure", "rejected"
	)

	CircuitBreakerConsecutiveFailures = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuit_breaker_consecutive_failures",
			Help: "Current number of consecutive failures",
		},
		[]string{"name"},
	)

	CircuitBreakerTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_breaker_state_transitions_total",
			Help: "Total number of circuit breaker state transitions",
		},
		[]string{"name", "from_state", "to_state"},
	)

	// System Metrics
	AppInfo = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "app_info",
			Help: "Application version and build information",
		},
		[]string{"version", "go_version"},
	)
)

// RecordDBQuery records a database query metric
func RecordDBQuery(operation, table string, duration time.Duration, err error) {
	DBQueryDuration.WithLabelValues(operation, table).Observe(duration.Seconds())
	if err != nil {
		DBQueryErrors.WithLabelValues(operation, table).Inc()
	}
}

// RecordAPIRequest records an API request metric
func RecordAPIRequest(method, endpoint, statusCode string, duration time.Duration) {
	APIRequestsTotal.WithLabelValues(method, endpoint, statusCode).Inc()
	APIRequestDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
}

// RecordTokenTransition counts a status change to the named status.
func RecordTokenTransition(toStatus string) {
	TokenTransitions.WithLabelValues(toStatus).Inc()
}

// RecordTokenRefresh counts a refresh exchange by result.
func RecordTokenRefresh(result string) {
	TokenRefreshes.WithLabelValues(result).Inc()
}

// RecordMaintenance records a maintenance pass.
func RecordMaintenance(duration time.Duration, purged int64) {
	MaintenanceDuration.Observe(duration.Seconds())
	if purged > 0 {
		TokensPurged.Add(float64(purged))
	}
}

// RecordSyncPass records the duration of a sync pass and, when it
// completed without a pass-level error, the success timestamp.
func RecordSyncPass(duration time.Duration, err error) {
	SyncDuration.Observe(duration.Seconds())
	if err == nil {
		SyncLastSuccess.Set(float64(time.Now().Unix()))
	}
}

// RecordSyncIdentity counts one identity outcome in a sync pass.
func RecordSyncIdentity(outcome string) {
	SyncIdentities.WithLabelValues(outcome).Inc()
}

// RecordMetadataPublish counts a metadata push.
func RecordMetadataPublish(err error) {
	if err != nil {
		MetadataPublishes.WithLabelValues("failure").Inc()
		return
	}
	MetadataPublishes.WithLabelValues("success").Inc()
}

// RecordQuotaUpdate counts a quota update for a tier.
func RecordQuotaUpdate(tier string, err error) {
	result := "success"
	if err != nil {
		result = "failure"
	}
	QuotaUpdates.WithLabelValues(tier, result).Inc()
}

// RecordLinkAttempt counts a link flow outcome.
func RecordLinkAttempt(outcome string) {
	LinkAttempts.WithLabelValues(outcome).Inc()
}

// RecordEventPublished counts a lifecycle event delivered to a sink.
func RecordEventPublished(sink string) {
	EventsPublished.WithLabelValues(sink).Inc()
}

// RecordAuthzDecision counts one admin API authorization decision.
func RecordAuthzDecision(role, action string, allowed, cached bool) {
	decision := "denied"
	if allowed {
		decision = "allowed"
	}
	cachedLabel := "false"
	if cached {
		cachedLabel = "true"
	}
	AuthzDecisions.WithLabelValues(role, action, decision, cachedLabel).Inc()
}

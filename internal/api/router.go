// Plexcord - Discord Linked Roles for Plex Communities
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/plexcord

package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tomtom215/plexcord/internal/auth"
	"github.com/tomtom215/plexcord/internal/authz"
	"github.com/tomtom215/plexcord/internal/events"
	"github.com/tomtom215/plexcord/internal/middleware"
	"github.com/tomtom215/plexcord/internal/models"
	"github.com/tomtom215/plexcord/internal/sync"
)

// LinkFlow is satisfied by *auth.LinkFlow.
type LinkFlow interface {
	Start(ctx context.Context, plexUsername, redirectURI string) (string, error)
	Callback(ctx context.Context, state, code string) (*auth.LinkResult, error)
}

// SyncTrigger is satisfied by *sync.Manager.
type SyncTrigger interface {
	TriggerSync(ctx context.Context) (sync.PassReport, error)
	LastReport() (sync.PassReport, bool)
}

// Store is the database surface the handlers use; *database.DB satisfies it.
type Store interface {
	Ping(ctx context.Context) error
	DeleteIdentity(ctx context.Context, id string) error
	ListLifecycleEvents(ctx context.Context, discordUserID string, limit int) ([]models.LifecycleEvent, error)
	CountTokensByStatus(ctx context.Context) (map[models.TokenStatus]int, error)
}

// RouterConfig configures access control and rate limiting.
type RouterConfig struct {
	// AdminToken grants the admin role on /api/v1/admin.
	AdminToken string

	// ViewerToken grants the read-only viewer role. The admin routes are
	// mounted when either token is set.
	ViewerToken string

	// Enforcer decides what each role may do. Nil uses the built-in policy.
	Enforcer *authz.Enforcer

	// RateLimitRequests per RateLimitWindow, per client IP, on the link and
	// admin routes. Zero disables limiting.
	RateLimitRequests int
	RateLimitWindow   time.Duration
}

// Handler holds the dependencies of every route.
type Handler struct {
	links  LinkFlow
	sync   SyncTrigger
	store  Store
	events events.Publisher
}

// NewHandler creates the handler set. publisher may be nil.
func NewHandler(links LinkFlow, trigger SyncTrigger, store Store, publisher events.Publisher) *Handler {
	if publisher == nil {
		publisher = events.Nop{}
	}
	return &Handler{links: links, sync: trigger, store: store, events: publisher}
}

// NewRouter builds the chi router.
func NewRouter(h *Handler, cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.PrometheusMetrics)

	r.Get("/healthz", h.Healthz)
	r.Get("/readyz", h.Readyz)
	r.Handle("/metrics", promhttp.Handler())

	limit := rateLimit(cfg)

	r.Group(func(r chi.Router) {
		r.Use(limit)
		r.Use(middleware.SecurityHeaders)
		r.Get("/link", h.LinkStart)
		r.Get("/callback", h.LinkCallback)
	})

	if cfg.AdminToken != "" || cfg.ViewerToken != "" {
		enforcer := cfg.Enforcer
		if enforcer == nil {
			enforcer = authz.MustNewEnforcer()
		}
		policy := authz.NewMiddleware(enforcer, func(w http.ResponseWriter, r *http.Request, status int) {
			rw := NewResponseWriter(w, r)
			if status == http.StatusForbidden {
				rw.Forbidden("role not permitted for this action")
				return
			}
			rw.Error(status, ErrCodeInternalError, "authorization failed")
		})

		r.Route("/api/v1/admin", func(r chi.Router) {
			r.Use(limit)
			r.Use(middleware.SecurityHeaders)
			r.Use(authenticate(roleTokens{admin: cfg.AdminToken, viewer: cfg.ViewerToken}))
			r.Use(policy.Authorize)

			r.Post("/sync", h.TriggerSync)
			r.Get("/sync", h.LastSync)
			r.Get("/tokens/stats", h.TokenStats)
			r.Get("/identities/{id}/events", h.IdentityEvents)
			r.Delete("/identities/{id}", h.DeleteIdentity)
		})
	}

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		NewResponseWriter(w, r).NotFound("route not found")
	})
	return r
}

func rateLimit(cfg RouterConfig) func(http.Handler) http.Handler {
	if cfg.RateLimitRequests <= 0 || cfg.RateLimitWindow <= 0 {
		return func(next http.Handler) http.Handler { return next }
	}
	return httprate.Limit(
		cfg.RateLimitRequests,
		cfg.RateLimitWindow,
		httprate.WithKeyFuncs(httprate.KeyByRealIP),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			NewResponseWriter(w, r).Error(http.StatusTooManyRequests, ErrCodeTooManyRequests, "rate limit exceeded")
		}),
	)
}

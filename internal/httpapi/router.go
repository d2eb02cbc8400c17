package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"

	authhandler "github.com/brightcampus/schoolcore/internal/auth/handler"
	feehandler "github.com/brightcampus/schoolcore/internal/fees/handler"
	"github.com/brightcampus/schoolcore/internal/metrics"
	"github.com/brightcampus/schoolcore/pkg/config"
	"github.com/brightcampus/schoolcore/pkg/httputil"
	"github.com/brightcampus/schoolcore/pkg/i18n"
	"github.com/brightcampus/schoolcore/pkg/logger"
)

// RouterDeps carries everything the router wires together.
type RouterDeps struct {
	Config        *config.Config
	Logger        *logger.Logger
	Metrics       *metrics.Registry
	RateLimiter   *RateLimiter
	TenantRes     *TenantResolver
	Authenticator *Authenticator
	Guard         *Guard
	Isolation     func(http.Handler) http.Handler
	Auth          *authhandler.AuthHandler
	Fees          *feehandler.FeeHandler
	Health        *HealthHandler
}

// NewRouter assembles the full ingress chain in its fixed order: request-id,
// structured logging, recovery, security headers, CORS, body limits,
// sanitation, metrics, then per-group rate limits, tenant resolution,
// authentication, isolation guard, and RBAC.
func NewRouter(d RouterDeps) http.Handler {
	r := chi.NewRouter()

	r.Use(httputil.RequestID)
	r.Use(httputil.Logger(d.Logger))
	r.Use(httputil.Recoverer(d.Logger))
	r.Use(SecurityHeaders)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   d.Config.CORS.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "Idempotency-Key", "x-tenant-id", "x-schema-name", "x-academic-session-id"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	r.Use(BodyLimit)
	r.Use(Sanitize)
	r.Use(i18n.Middleware)
	r.Use(Metrics(d.Metrics))

	globalLimit := d.RateLimiter.Middleware("global", RateLimitConfig{Limit: 100, Window: time.Minute})
	authLimit := d.RateLimiter.Middleware("auth", RateLimitConfig{Limit: 20, Window: 15 * time.Minute})
	// Brute-force tier under the general auth limiter: only failed logins
	// count, so an operator retrying a flaky network never locks themselves
	// out, but password guessing stops after ten misses.
	loginFailureLimit := d.RateLimiter.Middleware("login-failures",
		RateLimitConfig{Limit: 10, Window: 15 * time.Minute, FailuresOnly: true})

	// Health and go-live endpoints sit outside tenant resolution so probes
	// keep working when no tenant can be resolved.
	r.Route("/health", func(r chi.Router) {
		r.Get("/", d.Health.Liveness)
		r.Get("/ready", d.Health.Readiness)
		r.Get("/metrics", d.Health.Metrics)
		r.Get("/queues", d.Health.Queues)
		r.Route("/golive", func(r chi.Router) {
			r.Get("/", d.Health.GoLive)
			r.Get("/alerts", d.Health.Alerts)
			r.Get("/pilot", d.Health.Pilot)
			r.Get("/tenant/{schema}", d.Health.TenantReadiness)
		})
	})

	// Auth routes resolve the tenant themselves via the login lookup table,
	// so they sit outside the tenant resolver: a user logging in from the
	// bare root domain has no subdomain, cookie, or token yet.
	r.Route("/api/v1/tenant/auth", func(r chi.Router) {
		r.Use(authLimit)
		r.With(loginFailureLimit).Post("/login", d.Auth.Login)
		r.Post("/refresh", d.Auth.Refresh)
		r.Post("/logout", d.Auth.Logout)
	})

	r.Route("/api/v2/school", func(r chi.Router) {
		r.Use(globalLimit)
		r.Use(d.TenantRes.Middleware)
		r.Use(d.Authenticator.Middleware)
		r.Use(d.Isolation)

		r.Get("/auth/me", d.Auth.Me)
		r.Post("/auth/change-password", d.Auth.ChangePassword)

		r.Route("/fees/payments", func(r chi.Router) {
			r.With(d.Guard.RequireAny("fees.view")).Get("/", d.Fees.List)
			r.With(d.Guard.RequireAny("fees.collect")).Post("/", d.Fees.Collect)
			r.With(d.Guard.RequireAny("fees.refund")).Post("/{id}/refund", d.Fees.Refund)
		})
	})

	return r
}

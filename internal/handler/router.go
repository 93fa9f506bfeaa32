package handler

import (
	"net/http"

	"admission-gateway/internal/config"
	"admission-gateway/internal/metrics"
	"admission-gateway/internal/middleware"
	"admission-gateway/internal/repository"
	"admission-gateway/internal/service"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
)

// Deps are the collaborators the HTTP surface is built from.
type Deps struct {
	Gateway *service.Gateway
	Store   repository.Store
	Quotas  *config.QuotaTable
	Metrics *metrics.Registry
	// Authenticators run in order; each either sets a principal, passes through, or
	// rejects with 401.
	Authenticators []func(http.Handler) http.Handler
	MaxRequestSize int64
	Version        string
}

// NewRouter builds the gateway's HTTP surface.
func NewRouter(d Deps) http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.Logging)
	if d.Metrics != nil {
		r.Use(middleware.CountRequests(d.Metrics.Requests))
	}

	health := NewHealthHandler(d.Store, d.Version)
	r.Get("/health", health.Liveness)
	r.Get("/ready", health.Readiness)
	r.Get("/status", health.Status)
	if d.Metrics != nil {
		r.Handle("/metrics", d.Metrics.Handler())
	}

	maxSize := d.MaxRequestSize
	if maxSize <= 0 {
		maxSize = middleware.MaxRequestSize
	}

	r.Group(func(r chi.Router) {
		r.Use(middleware.RequestSizeLimit(maxSize))
		r.Use(middleware.RequireJSON)
		for _, auth := range d.Authenticators {
			r.Use(auth)
		}
		r.Use(middleware.RequirePrincipal)
		r.Use(middleware.NewRBACMiddleware(middleware.DefaultRolePermissions()).Handler())

		r.Route("/users/{userId}", NewOperationHandler(d.Gateway).Routes)
		r.Route("/admin", func(r chi.Router) {
			r.Use(middleware.RequireRole(service.RoleAdmin))
			NewAdminHandler(d.Quotas, d.Store, d.Gateway.BreakerStates).Routes(r)
		})
	})
	return r
}

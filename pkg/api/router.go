package api

import (
	"github.com/gorilla/mux"

	"github.com/vistoriahq/vistoria/pkg/auth"
	"github.com/vistoriahq/vistoria/pkg/guard"
	"github.com/vistoriahq/vistoria/pkg/middleware"
	"github.com/vistoriahq/vistoria/pkg/observability"
)

// RouterConfig collects everything the route tree needs.
type RouterConfig struct {
	Auth    *middleware.AuthMiddleware
	Guard   *guard.Guard
	Limiter *middleware.RateLimiter
	Metrics *observability.Metrics
	Health  *observability.HealthChecker

	Users *UserHandlers
	Admin *AdminHandlers
}

// NewRouter assembles the route tree. Ordering inside /api/v1 is the hard
// guarantee: actor resolution, then the protected-identity guard, then the
// handlers with their decision-engine checks.
func NewRouter(cfg RouterConfig) *mux.Router {
	router := mux.NewRouter()

	if cfg.Metrics != nil {
		router.Use(cfg.Metrics.HTTPMiddleware)
	}

	// Unauthenticated probes.
	router.HandleFunc("/healthz", cfg.Health.Liveness).Methods("GET")
	router.HandleFunc("/readyz", cfg.Health.Readiness).Methods("GET")

	apiRouter := router.PathPrefix("/api/v1").Subrouter()
	apiRouter.Use(cfg.Auth.Handler)
	apiRouter.Use(cfg.Guard.Handler)
	cfg.Users.RegisterRoutes(apiRouter)

	adminRouter := apiRouter.PathPrefix("/admin").Subrouter()
	adminRouter.Use(middleware.RequireScope(auth.ScopeSystemAdmin))
	if cfg.Limiter != nil {
		adminRouter.Use(cfg.Limiter.Handler)
	}
	cfg.Admin.RegisterRoutes(adminRouter)

	return router
}

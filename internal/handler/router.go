package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/quartzlab/keysmith/internal/repository"
)

// Router assembles the HTTP API.
type Router struct {
	userHandler  *UserHandler
	adminHandler *AdminHandler
	health       repository.DatabaseHealth
	adminHash    string
	logger       zerolog.Logger
}

// RouterConfig contains configuration for the router.
type RouterConfig struct {
	UserHandler  *UserHandler
	AdminHandler *AdminHandler
	Health       repository.DatabaseHealth
	AdminHash    string
	Logger       zerolog.Logger
}

// NewRouter creates a new Router.
func NewRouter(config RouterConfig) *Router {
	return &Router{
		userHandler:  config.UserHandler,
		adminHandler: config.AdminHandler,
		health:       config.Health,
		adminHash:    config.AdminHash,
		logger:       config.Logger.With().Str("component", "router").Logger(),
	}
}

// Handler returns the main HTTP handler.
func (rt *Router) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(RequestID)
	r.Use(RequestLogger(rt.logger))
	r.Use(Recoverer(rt.logger))

	r.Get("/healthz", rt.handleHealth)

	rt.userHandler.RegisterRoutes(r)

	r.Group(func(r chi.Router) {
		r.Use(AdminAuth(rt.adminHash, rt.logger))
		rt.adminHandler.RegisterRoutes(r)
	})

	return r
}

// handleHealth reports liveness and database reachability.
func (rt *Router) handleHealth(w http.ResponseWriter, r *http.Request) {
	if rt.health != nil {
		if err := rt.health.Ping(r.Context()); err != nil {
			rt.logger.Error().Err(err).Msg("health check database ping failed")
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unhealthy"})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/ignite/mailtrack/internal/metrics"
	"github.com/ignite/mailtrack/internal/tracking"
)

// RouteConfig is what SetupRoutes needs besides the handlers.
type RouteConfig struct {
	APIKey         string
	AllowedOrigins []string
	// RateLimit wraps /api; nil disables rate limiting.
	RateLimit func(http.Handler) http.Handler
}

// SetupRoutes configures all routes. The pixel route sits outside /api and
// carries no auth, CORS or rate limiting.
func SetupRoutes(pixel *tracking.Handler, th *TrackHandlers, hc *HealthChecker, rc RouteConfig) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	pixel.Mount(r)

	r.Get("/health", hc.HandleHealth)
	r.Get("/health/ready", hc.HandleReadiness)
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Use(middleware.Logger)
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: rc.AllowedOrigins,
			AllowedMethods: []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
			AllowedHeaders: []string{"Accept", "Content-Type", APIKeyHeader},
			MaxAge:         300,
		}))
		if rc.RateLimit != nil {
			r.Use(rc.RateLimit)
		}
		r.Use(requireAPIKey(rc.APIKey))

		th.Mount(r)
	})

	return r
}

package api

import (
	"context"
	"net/http"
	"time"

	"github.com/ignite/mailtrack/internal/config"
	"github.com/ignite/mailtrack/internal/tracking"
	"github.com/redis/go-redis/v9"
)

// Server represents the HTTP server: pixel, management API, health, metrics.
type Server struct {
	handler http.Handler
	server  *http.Server
}

// Deps are the collaborators the server routes to.
type Deps struct {
	Pixel  *tracking.Handler
	Tracks TrackService
	DB     Pinger
	Redis  *redis.Client
}

// NewServer builds the router from the API section of the config.
func NewServer(cfg config.APIConfig, deps Deps) (*Server, error) {
	rl, err := newRateLimiter(cfg.RateLimit, deps.Redis)
	if err != nil {
		return nil, err
	}

	var rc redis.UniversalClient
	if deps.Redis != nil {
		rc = deps.Redis
	}
	router := SetupRoutes(
		deps.Pixel,
		NewTrackHandlers(deps.Tracks),
		NewHealthChecker(deps.DB, rc),
		RouteConfig{APIKey: cfg.Key, AllowedOrigins: cfg.AllowedOrigins, RateLimit: rl},
	)
	return &Server{handler: router}, nil
}

// ListenAndServe starts the HTTP server
func (s *Server) ListenAndServe(addr string) error {
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.handler,
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// Handler returns the HTTP handler for testing
func (s *Server) Handler() http.Handler {
	return s.handler
}

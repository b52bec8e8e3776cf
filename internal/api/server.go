// Package api exposes the fraud engine over HTTP for the game web layer.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/luminex/warden/internal/domain"
	"github.com/luminex/warden/internal/engine"
	"github.com/luminex/warden/internal/rules"
)

// Server represents the HTTP API server.
type Server struct {
	router  *chi.Mux
	handler *Handler
	server  *http.Server
	config  domain.ServerConfig
}

// NewServer creates a new API server.
func NewServer(cfg domain.ServerConfig, eng *engine.Engine, ruleEngine *rules.Engine, st domain.Store, cache domain.Cache, bus domain.EventBus, version string) *Server {
	handler := NewHandler(eng, ruleEngine, st, cache, bus, version)
	router := chi.NewRouter()

	// Global middleware stack
	router.Use(CORSMiddleware)         // CORS for browser clients
	router.Use(RecoverMiddleware)      // Recover from panics
	router.Use(TracingMiddleware)      // OpenTelemetry tracing
	router.Use(LoggingMiddleware)      // Request logging
	router.Use(middleware.RealIP)      // Extract real IP
	router.Use(middleware.Compress(5)) // Gzip compression

	// Health endpoints
	router.Get("/health", handler.Health)
	router.Get("/ready", handler.Ready)

	router.Route("/v1", func(r chi.Router) {
		// Action pipeline
		r.Post("/actions", handler.RecordAction)
		r.Post("/actions/check", handler.CheckAction)

		// Score validation
		r.Post("/scores/validate", handler.ValidateScore)

		// Reputation registries
		r.Post("/devices", handler.RegisterDevice)
		r.Post("/ips", handler.RegisterIP)

		// User administration
		r.Get("/users/{id}/stats", handler.GetStats)
		r.Get("/users/{id}/activities", handler.ListActivities)
		r.Delete("/users/{id}/history", handler.ClearHistory)
		r.Post("/users/{id}/forgive", handler.ForgiveUser)

		// Rule management
		r.Get("/rules", handler.ListRules)
		r.Get("/rules/{id}", handler.GetRule)
		r.Post("/rules", handler.CreateRule)
		r.Post("/rules/reload", handler.ReloadRules)
	})

	return &Server{
		router:  router,
		handler: handler,
		config:  cfg,
	}
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)

	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  time.Duration(s.config.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(s.config.WriteTimeout) * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// Router returns the Chi router for testing.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// Handler returns the handler for testing.
func (s *Server) Handler() *Handler {
	return s.handler
}

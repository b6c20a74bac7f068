// Package web provides the HTTP surface of the pipeline: job creation,
// status and log queries. Progress rendering and any UI live elsewhere; this
// layer only exposes the orchestration contract.
package web

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/cartloom/conveyor/internal/config"
	"github.com/cartloom/conveyor/internal/pipeline"
	"github.com/cartloom/conveyor/internal/web/middleware"
)

// Server is the HTTP server for the pipeline API.
type Server struct {
	service *pipeline.Service
	router  *chi.Mux
	server  *http.Server
	cfg     config.ServerConfig
}

// NewServer creates a new Server instance.
func NewServer(service *pipeline.Service, cfg config.ServerConfig) *Server {
	s := &Server{
		service: service,
		router:  chi.NewRouter(),
		cfg:     cfg,
	}
	s.setupMiddleware()
	s.setupRoutes()
	return s
}

// setupMiddleware configures middleware for all routes.
func (s *Server) setupMiddleware() {
	s.router.Use(chimiddleware.RequestID)
	s.router.Use(chimiddleware.RealIP)
	s.router.Use(middleware.Logger)
	s.router.Use(chimiddleware.Recoverer)

	timeout := s.cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	s.router.Use(chimiddleware.Timeout(timeout))

	s.router.Use(securityHeaders)
}

// setupRoutes configures all HTTP routes.
func (s *Server) setupRoutes() {
	s.router.Route("/api", func(r chi.Router) {
		r.Get("/profiles", s.handleListProfiles)

		r.Post("/jobs", s.handleCreateJob)
		r.Get("/jobs/{jobID}", s.handleGetJob)
		r.Get("/jobs/{jobID}/log", s.handleJobLog)
		r.Delete("/jobs/{jobID}", s.handleDeleteJob)
	})

	s.router.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

// Start begins listening for HTTP requests.
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:         s.cfg.Addr(),
		Handler:      s.router,
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
		IdleTimeout:  s.cfg.IdleTimeout,
	}
	return s.server.ListenAndServe()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// Router returns the underlying chi router for testing.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// securityHeaders adds security headers to all responses.
func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		next.ServeHTTP(w, r)
	})
}

// Package api provides the HTTP API server for the monitor.
package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/narvanalabs/pve-monitor/internal/actions"
	"github.com/narvanalabs/pve-monitor/internal/api/handlers"
	"github.com/narvanalabs/pve-monitor/internal/api/health"
	"github.com/narvanalabs/pve-monitor/internal/api/middleware"
	"github.com/narvanalabs/pve-monitor/internal/auth"
	"github.com/narvanalabs/pve-monitor/internal/connection"
	"github.com/narvanalabs/pve-monitor/internal/events"
	"github.com/narvanalabs/pve-monitor/internal/store"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Version is the current version of the API server.
// This should be set at build time using ldflags.
var Version = "dev"

// Config holds the listener settings.
type Config struct {
	Host string
	Port int
	// RequestTimeout bounds non-streaming requests. Zero means 60s.
	RequestTimeout time.Duration
}

// Deps are the collaborators the API serves.
type Deps struct {
	Store       store.Store
	Connections *connection.Registry
	Dispatcher  *actions.Dispatcher
	Events      *events.Hub
	Auth        *auth.Service
}

// Server represents the HTTP API server.
type Server struct {
	router        chi.Router
	httpServer    *http.Server
	config        Config
	deps          Deps
	logger        *slog.Logger
	healthChecker *health.Checker
}

// NewServer creates a new API server with the given dependencies.
func NewServer(cfg Config, deps Deps, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 60 * time.Second
	}

	s := &Server{
		config: cfg,
		deps:   deps,
		logger: logger,
	}

	var pinger health.Pinger
	if p, ok := deps.Store.(health.Pinger); ok {
		pinger = p
	}
	s.healthChecker = health.NewChecker(pinger, s.connectionHealth, Version)

	s.setupRouter()
	return s
}

func (s *Server) connectionHealth() []health.ConnectionHealth {
	conns := s.deps.Connections.List()
	out := make([]health.ConnectionHealth, 0, len(conns))
	for _, c := range conns {
		h := health.ConnectionHealth{ID: c.ID(), Name: c.Name(), Healthy: c.Healthy()}
		if err := c.Inventory().LastError(); err != nil {
			h.Error = err.Error()
		}
		out = append(out, h)
	}
	return out
}

// setupRouter configures the router with middleware and routes.
func (s *Server) setupRouter() {
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimiddleware.RequestID)
	r.Use(middleware.LogContext)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.RequestLogger(s.logger))
	r.Use(middleware.Recovery(s.logger))

	// Health and metrics (no auth required)
	r.Get("/health", s.healthChecker.Handler())
	r.Handle("/metrics", promhttp.Handler())

	connectionHandler := handlers.NewConnectionHandler(s.deps.Connections, s.logger)
	entityHandler := handlers.NewEntityHandler(s.deps.Connections, s.logger)
	serviceHandler := handlers.NewServiceHandler(s.deps.Dispatcher, s.logger)
	eventsHandler := handlers.NewEventsHandler(s.deps.Events, s.logger)

	view := middleware.RequirePermission(auth.PermissionView, s.logger)
	control := middleware.RequirePermission(auth.PermissionControl, s.logger)
	configure := middleware.RequirePermission(auth.PermissionConfigure, s.logger)

	// API v1 routes
	r.Route("/v1", func(r chi.Router) {
		authMiddleware := middleware.NewAuthMiddleware(s.deps.Auth, s.logger)
		r.Use(authMiddleware.Authenticate)

		// Event stream is long-lived and stays outside the request timeout.
		r.With(view).Get("/events", eventsHandler.Stream)

		r.Group(func(r chi.Router) {
			r.Use(chimiddleware.Timeout(s.config.RequestTimeout))

			r.Get("/auth/validate", func(w http.ResponseWriter, r *http.Request) {
				claims := middleware.GetClaims(r.Context())
				handlers.WriteJSON(w, http.StatusOK, map[string]string{
					"status":  "ok",
					"subject": claims.Subject,
					"role":    string(claims.Role),
				})
			})

			r.Route("/connections", func(r chi.Router) {
				r.With(view).Get("/", connectionHandler.List)
				r.Route("/{connectionID}", func(r chi.Router) {
					r.Use(middleware.ConnectionContext)
					r.With(view).Get("/", connectionHandler.Get)
					r.With(view).Get("/diagnostics", connectionHandler.Diagnostics)
					r.With(configure).Patch("/options", connectionHandler.UpdateOptions)

					r.Route("/entities", func(r chi.Router) {
						r.With(view).Get("/", entityHandler.List)
						r.With(view).Get("/{uniqueID}", entityHandler.Get)
						r.With(control).Post("/{uniqueID}/{action}", entityHandler.Action)
					})
				})
			})

			r.Route("/services", func(r chi.Router) {
				r.With(view).Get("/", serviceHandler.List)
				r.With(control).Post("/{service}", serviceHandler.Call)
			})
		})
	})

	s.router = r
}

// Start starts the HTTP server.
func (s *Server) Start(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.httpServer = &http.Server{
		Addr:        addr,
		Handler:     s.router,
		ReadTimeout: 15 * time.Second,
		IdleTimeout: 120 * time.Second,
	}

	s.logger.Info("starting API server", "addr", addr)

	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err == nil {
			return nil
		}
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
		return s.Shutdown(context.Background())
	}
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	s.logger.Info("shutting down API server")
	shutdownCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	return s.httpServer.Shutdown(shutdownCtx)
}

// Router returns the chi router for testing purposes.
func (s *Server) Router() chi.Router {
	return s.router
}

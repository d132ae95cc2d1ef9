// Package server sets up the HTTP server, router, and all route definitions.
//
// This is the composition root: the store, service, handlers, metrics and
// middleware are wired together here and nowhere else.
//
//	main.go creates:  config → Server
//	Server.New wires: Store → LevelService → LevelHandler → routes
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/sakif/glucose-api/internal/config"
	"github.com/sakif/glucose-api/internal/handler"
	"github.com/sakif/glucose-api/internal/metrics"
	"github.com/sakif/glucose-api/internal/middleware"
	"github.com/sakif/glucose-api/internal/repository"
	"github.com/sakif/glucose-api/internal/service"
)

const shutdownTimeout = 30 * time.Second

// Server represents the HTTP server and all its dependencies.
//
// The Server owns the store and closes it on shutdown.
type Server struct {
	router  *chi.Mux
	config  config.Config
	logger  *slog.Logger
	store   repository.Store
	metrics *metrics.Collector
}

// New opens the configured store and builds a Server on it.
func New(cfg config.Config, logger *slog.Logger) (*Server, error) {
	store, err := OpenStore(cfg.Storage)
	if err != nil {
		return nil, fmt.Errorf("opening %s store: %w", cfg.Storage.Driver, err)
	}
	return NewWithStore(cfg, store, logger), nil
}

// NewWithStore builds a Server on an already opened store.
func NewWithStore(cfg config.Config, store repository.Store, logger *slog.Logger) *Server {
	s := &Server{
		router:  chi.NewRouter(),
		config:  cfg,
		logger:  logger,
		store:   store,
		metrics: metrics.NewCollector(),
	}
	s.setupRoutes()
	return s
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// setupRoutes configures all middleware and route handlers.
//
// GET  /levels       → one page of a user's readings
// GET  /levels/{id}  → one reading
// POST /levels       → upsert a batch of readings
// GET  /healthz      → store ping
// GET  /metrics      → Prometheus exposition
//
// Middleware runs in the order added: request id, real IP, metrics, logging,
// then panic recovery closest to the handler.
func (s *Server) setupRoutes() {
	s.router.Use(chimiddleware.RequestID)
	s.router.Use(chimiddleware.RealIP)
	s.router.Use(middleware.Metrics(s.metrics))
	s.router.Use(middleware.Logger(s.logger))
	s.router.Use(chimiddleware.Recoverer)

	levelService := service.NewLevelService(s.store, s.config.PageSize, s.metrics, s.logger)
	levelHandler := handler.NewLevelHandler(levelService, s.logger)
	healthHandler := handler.NewHealthHandler(s.store, s.logger)

	s.router.Route("/levels", func(r chi.Router) {
		r.Get("/", levelHandler.HandleList)
		r.Post("/", levelHandler.HandleCreate)
		r.Get("/{id}", levelHandler.HandleGetByID)
	})

	s.router.Get("/healthz", healthHandler.HandleHealth)
	s.router.Handle("/metrics", metrics.Handler(metrics.NewRegistry(s.metrics)))
}

// Start starts the HTTP server and blocks until SIGINT/SIGTERM, then shuts
// down gracefully: stop accepting connections, wait up to 30s for in-flight
// requests, close the store.
func (s *Server) Start() error {
	defer s.store.Close()

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", s.config.Port),
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	serverErrors := make(chan error, 1)

	go func() {
		s.logger.Info("server starting",
			slog.Int("port", s.config.Port),
			slog.String("url", fmt.Sprintf("http://localhost:%d", s.config.Port)),
			slog.String("storage", string(s.config.Storage.Driver)),
		)
		serverErrors <- srv.ListenAndServe()
	}()

	select {
	case err := <-serverErrors:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}

	case sig := <-quit:
		s.logger.Info("shutdown signal received", slog.String("signal", sig.String()))

		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
		s.logger.Info("server stopped gracefully")
	}

	return nil
}

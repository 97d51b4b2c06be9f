// Package server sets up the web host: the router, the shell, the bridge and
// the client cores behind every open page.
//
// SERVER ARCHITECTURE:
// The browser only renders. Each page load registers a Page (the URL the host
// was asked for), the page opens /bridge, and the host starts a client core
// for it: reconciler, router and screen stack all run here. The core tells
// the page which route to show and when to clean up its address bar.
//
// WHY SEPARATE FROM main.go?
// Keeping server setup in its own package makes it testable: tests build a
// Server against a fake platform and drive it over real HTTP and websockets.
//
// DEPENDENCY INJECTION FLOW:
//
//	main.go: config.Load → server.New
//	server.New: sqlite.DB (+ storage.Store) → runtimeFactory → BridgeHandler
//	per page: runtimeFactory.Open → core.New → app, account service
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

	"github.com/sakif/crewcall/internal/config"
	"github.com/sakif/crewcall/internal/handler"
	"github.com/sakif/crewcall/internal/middleware"
	sqliteRepo "github.com/sakif/crewcall/internal/repository/sqlite"
	"github.com/sakif/crewcall/internal/service"
	"github.com/sakif/crewcall/internal/storage"
)

// Title is shown in the browser tab.
const Title = "Crewcall"

// Server represents the HTTP server and all its dependencies.
//
// RESOURCE MANAGEMENT:
// The Server owns the device cache database. Start closes it after shutdown;
// servers that are never started are released with Close.
type Server struct {
	router *chi.Mux
	config *config.Config
	logger *slog.Logger
	db     *sqliteRepo.DB
	pages  *handler.Pages
	bridge *handler.BridgeHandler
}

// Option customises a Server.
type Option func(*runtimeFactory)

// WithHTTPClient sets the client used to reach the backend.
func WithHTTPClient(hc *http.Client) Option {
	return func(f *runtimeFactory) { f.httpClient = hc }
}

// New creates a Server for a validated config.
//
// IMPORT ALIAS:
// repository/sqlite is imported as sqliteRepo so it is not confused with the
// sqlite driver package.
func New(cfg *config.Config, logger *slog.Logger, opts ...Option) (*Server, error) {
	db, err := sqliteRepo.New(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	factory := &runtimeFactory{cfg: cfg, db: db, logger: logger}
	for _, opt := range opts {
		opt(factory)
	}

	// Object storage is optional; without it avatar uploads are refused.
	// An interface var left nil (never a nil *storage.Store) keeps that check
	// working downstream.
	if cfg.StorageEnabled() {
		store, err := storage.New(context.Background(), cfg.Storage(), logger)
		if err != nil {
			db.Close()
			return nil, fmt.Errorf("opening object storage: %w", err)
		}
		var objects service.ObjectStore = store
		factory.objects = objects
	}

	pages := handler.NewPages(handler.DefaultPageTTL)
	s := &Server{
		router: chi.NewRouter(),
		config: cfg,
		logger: logger,
		db:     db,
		pages:  pages,
		bridge: handler.NewBridgeHandler(pages, factory, logger),
	}

	if err := s.setupRoutes(); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting up routes: %w", err)
	}
	return s, nil
}

// setupRoutes configures all middleware and route handlers.
//
// ROUTE STRUCTURE:
// GET  /healthz               → liveness probe (JSON)
// GET  /static/*              → embedded shell assets
// GET  /bridge?page={id}      → websocket to the page's client core
// POST /pages/{page}/avatar   → avatar upload for a connected page
// GET  /*                     → the shell; any path can be an entry URL
//
// MIDDLEWARE ORDER MATTERS:
// RequestID first so the logger can print it, RealIP before logging, and
// Recoverer last so a panicking handler still gets logged as a 500.
func (s *Server) setupRoutes() error {
	s.router.Use(chimiddleware.RequestID)
	s.router.Use(chimiddleware.RealIP)
	s.router.Use(middleware.Logger(s.logger))
	s.router.Use(chimiddleware.Recoverer)

	s.router.Get("/healthz", handler.HandleHealth)

	fileServer := http.FileServer(http.FS(handler.StaticFS()))
	s.router.Handle("/static/*", http.StripPrefix("/static/", fileServer))

	// The shell registers pages; the bridge claims them.
	shell, err := handler.NewShellHandler(s.pages, Title, s.logger)
	if err != nil {
		return fmt.Errorf("creating shell handler: %w", err)
	}

	s.router.Get("/bridge", s.bridge.HandleBridge)
	s.router.Post("/pages/{page}/avatar", s.bridge.HandleAvatar)
	s.router.Get("/*", shell.HandleShell)

	return nil
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Close releases the database. Start does this itself on shutdown.
func (s *Server) Close() error {
	return s.db.Close()
}

// Start serves until SIGINT or SIGTERM, then shuts down gracefully.
//
// GRACEFUL SHUTDOWN:
// 1. Stop accepting new connections
// 2. Wait for in-flight requests (30s)
// 3. Close the database (flushes WAL, releases the file lock)
//
// Open bridges are hijacked connections that Shutdown does not wait for;
// their cores are closed as the sockets drop.
func (s *Server) Start() error {
	defer s.db.Close()

	// No WriteTimeout: it would cut long-lived bridge sockets.
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", s.config.Port),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	serverErrors := make(chan error, 1)

	go func() {
		s.logger.Info("server starting",
			slog.Int("port", s.config.Port),
			slog.String("url", fmt.Sprintf("http://localhost:%d", s.config.Port)),
			slog.String("database", s.config.DBPath),
			slog.String("backend", s.config.BackendURL),
		)
		serverErrors <- srv.ListenAndServe()
	}()

	select {
	case err := <-serverErrors:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}

	case sig := <-quit:
		s.logger.Info("shutdown signal received",
			slog.String("signal", sig.String()),
			slog.Int("open_pages", s.bridge.Active()),
		)

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
		s.logger.Info("server stopped gracefully")
	}

	return nil
}

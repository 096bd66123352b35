package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/renderlab/renderbox/internal/config"
	"github.com/renderlab/renderbox/internal/log"
	"github.com/renderlab/renderbox/internal/sandbox"
	"github.com/renderlab/renderbox/internal/snapshot"
	"github.com/renderlab/renderbox/internal/storage"
)

// Server is the HTTP surface the editor UI talks to: sandbox lifecycle,
// file serving, and snapshot management.
type Server struct {
	cfg         *config.Config
	registry    *sandbox.Registry
	provisioner *sandbox.Provisioner
	gateway     *sandbox.Gateway
	snapshots   *snapshot.Manager
	store       storage.Store
	router      chi.Router
	http        *http.Server
	logger      *slog.Logger
}

// New creates a new Server.
func New(cfg *config.Config, reg *sandbox.Registry, prov *sandbox.Provisioner, gw *sandbox.Gateway, snaps *snapshot.Manager, store storage.Store) *Server {
	s := &Server{
		cfg:         cfg,
		registry:    reg,
		provisioner: prov,
		gateway:     gw,
		snapshots:   snaps,
		store:       store,
		router:      chi.NewRouter(),
		logger:      log.WithComponent("api"),
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	r := s.router

	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)

	r.Route("/api", func(r chi.Router) {
		r.Post("/sandboxes", s.handleProvision)
		r.Get("/sandboxes", s.handleListSandboxes)
		r.Get("/sandboxes/{id}", s.handleGetSandbox)
		r.Delete("/sandboxes/{id}", s.handleDestroySandbox)

		// Raw file bytes; content type is set per file, not JSON.
		r.Get("/sandboxes/{id}/files", s.handleReadFile)

		// WebSocket status stream
		r.Get("/sandboxes/{id}/events", s.handleEvents)

		r.Post("/nodes/{nodeID}/snapshot", s.handleSaveSnapshot)
		r.Get("/nodes/{nodeID}/snapshot", s.handleGetSnapshot)
		r.Delete("/nodes/{nodeID}/snapshot", s.handleDeleteSnapshot)

		r.Get("/failures", s.handleListFailures)
	})
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start begins listening on the given port.
func (s *Server) Start(port int) error {
	addr := fmt.Sprintf(":%d", port)
	s.http = &http.Server{
		Addr:    addr,
		Handler: s.router,
	}

	s.logger.Info("listening", "addr", addr)
	return s.http.ListenAndServe()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	return s.http.Shutdown(shutdownCtx)
}

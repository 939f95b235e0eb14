// Package server provides the HTTP API for the knowledge store.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/studyhall/kioku/internal/config"
	"github.com/studyhall/kioku/internal/ingest"
	"github.com/studyhall/kioku/internal/registry"
	"github.com/studyhall/kioku/internal/search"
	"github.com/studyhall/kioku/internal/store"
	"go.uber.org/zap"
)

// maxUploadBytes caps uploaded file size (10 MB, matching the upload policy).
const maxUploadBytes = 10 << 20

// Server is the HTTP server for the knowledge API.
type Server struct {
	engine   *search.Engine
	ingest   *ingest.Service
	registry *registry.Registry
	store    *store.Store
	config   *config.ServerConfig
	logger   *zap.Logger
	server   *http.Server
}

// NewServer creates a server with the given dependencies.
func NewServer(
	engine *search.Engine,
	svc *ingest.Service,
	reg *registry.Registry,
	st *store.Store,
	cfg *config.ServerConfig,
	logger *zap.Logger,
) *Server {
	return &Server{
		engine:   engine,
		ingest:   svc,
		registry: reg,
		store:    st,
		config:   cfg,
		logger:   logger,
	}
}

// Router builds the chi router with all routes and middleware.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(middleware.Compress(5))

	r.Post("/api/knowledge/upload", s.handleUpload)
	r.Get("/api/knowledge/documents", s.handleListDocuments)
	r.Delete("/api/knowledge/documents/{id}", s.handleDeleteDocument)
	r.Post("/api/knowledge/search", s.handleSearch)
	r.Get("/api/knowledge/stats", s.handleStats)
	r.Get("/health", s.handleHealth)
	return r
}

// Start starts the HTTP server and blocks until it stops.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.server = &http.Server{
		Addr:    addr,
		Handler: s.Router(),
	}
	s.logger.Info("starting server", zap.String("addr", addr))
	return s.server.ListenAndServe()
}

// Stop gracefully shuts down the server.
func (s *Server) Stop(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

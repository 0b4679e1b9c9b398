// Package server exposes the command dispatcher over HTTP for a browser render
// surface, plus the export download, a websocket progress stream and metrics.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/hyperjump/reqai/internal/config"
	"github.com/hyperjump/reqai/internal/dispatch"
	"github.com/hyperjump/reqai/internal/export"
	"github.com/hyperjump/reqai/internal/progress"
	"github.com/hyperjump/reqai/internal/storage"
	"github.com/hyperjump/reqai/pkg/utils"
	"go.uber.org/zap"
)

// Server is the HTTP server for the reqai API.
type Server struct {
	dispatcher *dispatch.Dispatcher
	exportSrc  export.Source
	hub        *progress.Hub
	snapshots  storage.SnapshotStore
	metrics    http.Handler
	config     *config.ServerConfig
	exportPath string
	logger     *zap.Logger
	server     *http.Server
}

// Option configures a Server.
type Option func(*Server)

// WithMetricsHandler serves h at /metrics.
func WithMetricsHandler(h http.Handler) Option {
	return func(s *Server) { s.metrics = h }
}

// WithSnapshotStore reports the snapshot store's disk usage in /api/v1/status.
func WithSnapshotStore(st storage.SnapshotStore) Option {
	return func(s *Server) { s.snapshots = st }
}

// WithExportPath sets the path of the workbook download. Defaults to /export.
func WithExportPath(p string) Option {
	return func(s *Server) {
		if p != "" {
			s.exportPath = p
		}
	}
}

// NewServer creates a server with the given dependencies.
func NewServer(
	d *dispatch.Dispatcher,
	exportSrc export.Source,
	hub *progress.Hub,
	cfg *config.ServerConfig,
	logger *zap.Logger,
	opts ...Option,
) *Server {
	s := &Server{
		dispatcher: d,
		exportSrc:  exportSrc,
		hub:        hub,
		config:     cfg,
		exportPath: "/export",
		logger:     utils.LoggerOrNop(logger),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Router builds the HTTP handler.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	// long-lived streams stay outside the timeout and compression middleware
	r.Get("/api/v1/index/progress", s.handleProgress)

	r.Group(func(r chi.Router) {
		r.Use(middleware.Logger)
		r.Use(middleware.Timeout(60 * time.Second))
		r.Use(middleware.Compress(5))

		r.Post("/api/v1/commands", s.handleCommand)
		r.Get("/api/v1/types", s.handleListTypes)

		r.Route("/api/v1/entities/{type}", func(r chi.Router) {
			r.Get("/", s.handleList)
			r.Post("/", s.handleCreate)
			r.Get("/form", s.handleForm)
			r.Get("/facets", s.handleFacets)
			r.Put("/filter", s.handleFilter)
			r.Delete("/filter", s.handleClearFilter)
			r.Get("/{id}/form", s.handleForm)
			r.Put("/{id}", s.handleUpdate)
			r.Delete("/{id}", s.handleDelete)
		})

		r.Post("/api/v1/search", s.handleSearch)
		r.Get("/api/v1/index", s.handleIndexStatus)
		r.Post("/api/v1/index/rebuild", s.handleRebuild)
		r.Get("/api/v1/status", s.handleStatus)
		r.Get(s.exportPath, s.handleExport)
		r.Get("/health", s.handleHealth)
		if s.metrics != nil {
			r.Method(http.MethodGet, "/metrics", s.metrics)
		}
	})
	return r
}

// Start starts the HTTP server and blocks until it stops.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.logger.Info("Starting server", zap.String("addr", addr))
	return s.server.ListenAndServe()
}

// Stop gracefully shuts down the server.
func (s *Server) Stop(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

// Package server provides the HTTP API for docrag.
package server

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/hyperjump/docrag/internal/auth"
	"github.com/hyperjump/docrag/internal/config"
	"github.com/hyperjump/docrag/internal/indexer"
	"github.com/hyperjump/docrag/internal/llm"
	"github.com/hyperjump/docrag/internal/provider"
	"github.com/hyperjump/docrag/internal/search"
	"github.com/hyperjump/docrag/internal/syncer"
	"github.com/hyperjump/docrag/internal/vector"
)

const requestTimeout = 60 * time.Second

// Deps are the components the API serves. Syncer and Generator may be nil.
type Deps struct {
	Engine    *search.Engine
	Indexer   *indexer.Indexer
	Store     *vector.Adapter
	Provider  provider.Provider
	Syncer    *syncer.Syncer
	Generator llm.Generator
	Auth      *auth.Authenticator
}

// Server is the HTTP server for the docrag API.
type Server struct {
	engine    *search.Engine
	indexer   *indexer.Indexer
	store     *vector.Adapter
	provider  provider.Provider
	syncer    *syncer.Syncer
	generator llm.Generator
	auth      *auth.Authenticator
	config    *config.ServerConfig
	logger    *zap.Logger
	server    *http.Server
}

// NewServer creates a server with the given dependencies.
func NewServer(deps Deps, cfg *config.ServerConfig, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		engine:    deps.Engine,
		indexer:   deps.Indexer,
		store:     deps.Store,
		provider:  deps.Provider,
		syncer:    deps.Syncer,
		generator: deps.Generator,
		auth:      deps.Auth,
		config:    cfg,
		logger:    logger,
	}
}

// Handler builds the router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Compress(5))

	r.Get("/health", s.handleHealth)
	r.With(middleware.Timeout(requestTimeout)).Post("/api/auth/token", s.handleToken)

	r.Group(func(r chi.Router) {
		r.Use(s.auth.Middleware)
		r.Get("/api/system-check", s.handleSystemCheck)
		r.Route("/api/documents", func(r chi.Router) {
			// A sync may outlast the request timeout.
			r.Post("/sync", s.handleSync)

			r.Group(func(r chi.Router) {
				r.Use(middleware.Timeout(requestTimeout))
				r.Get("/list", s.handleList)
				r.Get("/get/*", s.handleGet)
				r.Post("/index/*", s.handleIndex)
				r.Delete("/index/*", s.handleDelete)
				r.Get("/check-indexes", s.handleCheckIndexes)
				r.Post("/search", s.handleSearch)
			})
		})
	})
	return r
}

// Start starts the HTTP server and blocks until it stops.
func (s *Server) Start() error {
	addr := s.config.Addr()
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
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

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		defer func() {
			s.logger.Debug("request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Int("bytes", ww.BytesWritten()),
				zap.Duration("duration", time.Since(start)),
				zap.String("request_id", middleware.GetReqID(r.Context())))
		}()
		next.ServeHTTP(ww, r)
	})
}

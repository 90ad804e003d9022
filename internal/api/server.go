// Package api exposes the orchestrator over HTTP. It translates JSON bodies
// into orchestrator calls and error categories into status codes; no
// matching logic lives here.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"golang-reconciliation-engine/internal/models"
	"golang-reconciliation-engine/internal/reconciler"
	"golang-reconciliation-engine/pkg/logger"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// Engine is the orchestrator surface the handlers call.
type Engine interface {
	Suggest(ctx context.Context, req reconciler.SuggestRequest) (*reconciler.SuggestResponse, error)
	Confirm(ctx context.Context, req reconciler.ConfirmRequest) (*reconciler.ConfirmResult, error)
	Reject(ctx context.Context, req reconciler.RejectRequest) (*models.MatchEvent, error)
}

// TargetLookup resolves stored targets for requests that only carry an id.
type TargetLookup interface {
	GetTarget(ctx context.Context, id string) (models.Target, error)
}

// Config holds API server configuration.
type Config struct {
	ListenAddr     string        `json:"listen_addr" mapstructure:"listen_addr"`
	ReadTimeout    time.Duration `json:"read_timeout" mapstructure:"read_timeout"`
	WriteTimeout   time.Duration `json:"write_timeout" mapstructure:"write_timeout"`
	RequestTimeout time.Duration `json:"request_timeout" mapstructure:"request_timeout"`
	MaxBodyBytes   int64         `json:"max_body_bytes" mapstructure:"max_body_bytes"`
}

// DefaultConfig returns the defaults for the API server.
func DefaultConfig() Config {
	return Config{
		ListenAddr:     ":8080",
		ReadTimeout:    15 * time.Second,
		WriteTimeout:   30 * time.Second,
		RequestTimeout: 25 * time.Second,
		MaxBodyBytes:   1 << 20,
	}
}

// Validate checks the server settings.
func (c Config) Validate() error {
	if c.ListenAddr == "" {
		return fmt.Errorf("listen address is required")
	}
	if c.RequestTimeout <= 0 {
		return fmt.Errorf("request timeout must be positive, got %v", c.RequestTimeout)
	}
	if c.MaxBodyBytes <= 0 {
		return fmt.Errorf("max body bytes must be positive, got %d", c.MaxBodyBytes)
	}
	return nil
}

// Server is the HTTP API server.
type Server struct {
	config     Config
	router     chi.Router
	httpServer *http.Server
	engine     Engine
	targets    TargetLookup
	logger     logger.Logger
}

// NewServer creates a new API server. targets may be nil, in which case
// requests must carry inline targets.
func NewServer(cfg Config, engine Engine, targets TargetLookup, log logger.Logger) *Server {
	s := &Server{
		config:  cfg,
		router:  chi.NewRouter(),
		engine:  engine,
		targets: targets,
		logger:  logger.OrNop(log).WithComponent("http_api"),
	}

	s.setupMiddleware()
	s.setupRoutes()
	s.httpServer = &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      s.router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

func (s *Server) setupMiddleware() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.Recoverer)
	s.router.Use(Logging(s.logger))
	if s.config.RequestTimeout > 0 {
		s.router.Use(middleware.Timeout(s.config.RequestTimeout))
	}
}

func (s *Server) setupRoutes() {
	// Health check (no /v1 prefix - for load balancers)
	s.router.Get("/healthz", s.health)

	s.router.Route("/v1", func(r chi.Router) {
		r.Post("/suggestions", s.suggest)
		r.Post("/confirmations", s.confirm)
		r.Post("/rejections", s.reject)
	})
}

// Start listens on the configured address until Shutdown.
func (s *Server) Start() error {
	s.logger.WithField("addr", s.config.ListenAddr).Info("Starting API server")

	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down API server")
	return s.httpServer.Shutdown(ctx)
}

// Router returns the chi router for testing.
func (s *Server) Router() chi.Router {
	return s.router
}

// Logging logs one line per request with its status and duration.
func Logging(log logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			entry := log.WithFields(logger.Fields{
				"method":      r.Method,
				"path":        r.URL.Path,
				"status":      ww.Status(),
				"bytes":       ww.BytesWritten(),
				"duration_ms": time.Since(start).Milliseconds(),
				"request_id":  middleware.GetReqID(r.Context()),
			})
			if ww.Status() >= http.StatusInternalServerError {
				entry.Warn("Request failed")
				return
			}
			entry.Debug("Request served")
		})
	}
}

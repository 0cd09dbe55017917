package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/scrapeherd/scrapeherd/internal/bus"
	"github.com/scrapeherd/scrapeherd/internal/service/orch"
	"github.com/scrapeherd/scrapeherd/internal/storage"
)

// Server is the scrapeherd HTTP server.
type Server struct {
	httpServer *http.Server
	handler    http.Handler
	handlers   *Handlers
	logger     *slog.Logger
}

// ServerConfig holds all dependencies and configuration for creating a
// Server. Launcher is optional (nil = runs are created but not driven).
type ServerConfig struct {
	Store    storage.Store
	Orch     *orch.Service
	Bus      *bus.Bus
	Launcher Launcher
	Logger   *slog.Logger

	Port                int
	ReadTimeout         time.Duration
	WriteTimeout        time.Duration
	Version             string
	MaxRequestBodyBytes int64
	StreamHeartbeat     time.Duration
}

// New creates a new HTTP server with all routes configured.
func New(cfg ServerConfig) *Server {
	h := NewHandlers(HandlersDeps{
		Store:               cfg.Store,
		Orch:                cfg.Orch,
		Bus:                 cfg.Bus,
		Launcher:            cfg.Launcher,
		Logger:              cfg.Logger,
		Version:             cfg.Version,
		MaxRequestBodyBytes: cfg.MaxRequestBodyBytes,
		StreamHeartbeat:     cfg.StreamHeartbeat,
	})

	mux := http.NewServeMux()

	// Run lifecycle.
	mux.HandleFunc("POST /v1/runs", h.HandleCreateRun)
	mux.HandleFunc("GET /v1/runs", h.HandleListRuns)
	mux.HandleFunc("GET /v1/runs/{run_id}", h.HandleGetRun)
	mux.HandleFunc("POST /v1/runs/{run_id}/cancel", h.HandleCancelRun)

	// Logs: catch-up reads and collaborator appends.
	mux.HandleFunc("GET /v1/runs/{run_id}/logs", h.HandleRunLogs)
	mux.HandleFunc("POST /v1/runs/{run_id}/logs", h.HandleAppendRunLog)

	// Live streaming (long-lived connection, keep-alive heartbeat).
	mux.HandleFunc("GET /v1/runs/{run_id}/stream", h.HandleStreamRun)

	// Plan update contract for the planning collaborator.
	mux.HandleFunc("POST /v1/runs/{run_id}/plan", h.HandleUpdatePlan)

	// Executions.
	mux.HandleFunc("GET /v1/runs/{run_id}/executions", h.HandleListRunExecutions)
	mux.HandleFunc("GET /v1/executions/{execution_id}", h.HandleGetExecution)

	// Recipes (read-only).
	mux.HandleFunc("GET /v1/recipes", h.HandleListRecipes)
	mux.HandleFunc("GET /v1/recipes/{recipe_id}", h.HandleGetRecipe)

	// Health.
	mux.HandleFunc("GET /health", h.HandleHealth)

	// Middleware chain (outermost executes first):
	// request ID → tracing → logging → recovery → handler.
	var handler http.Handler = mux
	handler = recoveryMiddleware(cfg.Logger, handler)
	handler = loggingMiddleware(cfg.Logger, handler)
	handler = tracingMiddleware(handler)
	handler = requestIDMiddleware(handler)

	return &Server{
		httpServer: &http.Server{
			Addr:         fmt.Sprintf(":%d", cfg.Port),
			Handler:      handler,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
		},
		handler:  handler,
		handlers: h,
		logger:   cfg.Logger,
	}
}

// Handler returns the root HTTP handler for use in tests.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Start begins serving HTTP requests.
func (s *Server) Start() error {
	s.logger.Info("http server starting", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("http server shutting down")
	return s.httpServer.Shutdown(ctx)
}

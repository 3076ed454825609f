package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/robot-control/robotd/internal/auth"
	"github.com/robot-control/robotd/internal/config"
)

// Options configures NewServer.
type Options struct {
	Robot     RobotPort
	Telemetry TelemetryPort
	// Auth defaults to a middleware with authentication disabled.
	Auth *auth.Middleware
	// Metrics serves /metrics when set.
	Metrics http.Handler
	Config  config.APIConfig
	Version string
	Logger  *slog.Logger
}

// Server represents the HTTP API server.
type Server struct {
	httpServer *http.Server
	robot      RobotPort
	telemetry  TelemetryPort
	auth       *auth.Middleware
	metrics    http.Handler
	cfg        config.APIConfig
	version    string
	logger     *slog.Logger
	upgrader   websocket.Upgrader
	startTime  time.Time
}

// NewServer creates a new API server.
func NewServer(opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	mw := opts.Auth
	if mw == nil {
		mw = auth.NewMiddleware(nil, logger)
	}
	s := &Server{
		robot:     opts.Robot,
		telemetry: opts.Telemetry,
		auth:      mw,
		metrics:   opts.Metrics,
		cfg:       opts.Config,
		version:   opts.Version,
		logger:    logger.With("component", "api"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Driver stations connect from the field network by address.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		startTime: time.Now(),
	}
	s.httpServer = &http.Server{
		Addr:         s.cfg.Addr,
		Handler:      s.Handler(),
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
		IdleTimeout:  s.cfg.IdleTimeout,
	}
	return s
}

// Handler returns the routed handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.RegisterRoutes(mux)
	return mux
}

// Start serves on the configured address until Stop is called. Stop may
// run first, in which case Start returns immediately.
func (s *Server) Start() error {
	s.logger.Info("HTTP server listening", "addr", s.cfg.Addr, "auth", s.auth.Enabled())
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}
	return nil
}

// Stop gracefully stops the HTTP server.
func (s *Server) Stop(ctx context.Context) error {
	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shutdown HTTP server: %w", err)
	}
	return nil
}

package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/roadbuddy/fleetwatch/internal/audit"
	"github.com/roadbuddy/fleetwatch/internal/auth"
	"github.com/roadbuddy/fleetwatch/internal/bus"
	"github.com/roadbuddy/fleetwatch/internal/config"
	"github.com/roadbuddy/fleetwatch/internal/roster"
)

// Server represents the HTTP API server.
type Server struct {
	httpServer     *http.Server
	router         *mux.Router
	bus            *bus.Bus
	ingress        Ingestor
	roster         roster.Source
	authMiddleware *auth.Middleware
	audit          *audit.Logger
	serverCfg      config.ServerConfig
	streamCfg      config.StreamConfig
	logger         *zap.Logger
	startTime      time.Time
}

// NewServer creates a new API server. authMiddleware may be nil.
func NewServer(b *bus.Bus, in Ingestor, rosterSrc roster.Source, authMiddleware *auth.Middleware, cfg *config.Config, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if authMiddleware == nil {
		authMiddleware = auth.NewMiddleware(nil, logger)
	}

	s := &Server{
		bus:            b,
		ingress:        in,
		roster:         rosterSrc,
		authMiddleware: authMiddleware,
		serverCfg:      cfg.Server,
		streamCfg:      cfg.Stream,
		logger:         logger.Named("api"),
		startTime:      time.Now(),
	}
	s.router = mux.NewRouter()
	s.RegisterRoutes(s.router)

	s.httpServer = &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      s.router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}
	return s
}

// SetAudit records every telemetry submission to trail. nil disables it.
func (s *Server) SetAudit(trail *audit.Logger) {
	s.audit = trail
}

// Handler returns the routed handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start listens on the configured address and serves until Stop.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.serverCfg.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.serverCfg.Addr, err)
	}
	return s.Serve(ln)
}

// Serve serves on ln until Stop.
func (s *Server) Serve(ln net.Listener) error {
	s.logger.Info("HTTP server listening", zap.String("addr", ln.Addr().String()))
	if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}
	return nil
}

// Stop gracefully stops the HTTP server. Shutdown waits for open streams, so
// close the bus first to end their sessions.
func (s *Server) Stop(ctx context.Context) error {
	shutdownCtx, cancel := context.WithTimeout(ctx, s.serverCfg.ShutdownTimeout)
	defer cancel()

	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shutdown HTTP server: %w", err)
	}
	return nil
}

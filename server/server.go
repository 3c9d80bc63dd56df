// Package server assembles the Ainu HTTP server: routing, middleware and
// lifecycle.
package server

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/teilomillet/ainu/config"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const defaultShutdownTimeout = 30 * time.Second

// Server represents the HTTP server
type Server struct {
	httpServer      *http.Server
	shutdownTimeout time.Duration
	logger          *zap.Logger
}

// NewServer creates a new server instance
func NewServer(cfg config.ServerConfig, handler http.Handler, logger *zap.Logger) *Server {
	shutdownTimeout := cfg.ShutdownTimeout
	if shutdownTimeout <= 0 {
		shutdownTimeout = defaultShutdownTimeout
	}
	return &Server{
		httpServer: &http.Server{
			Addr:           fmt.Sprintf(":%d", cfg.Port),
			Handler:        handler,
			ReadTimeout:    cfg.ReadTimeout,
			WriteTimeout:   cfg.WriteTimeout,
			MaxHeaderBytes: cfg.MaxHeaderBytes,
			ErrorLog:       zap.NewStdLog(logger.Named("http")),
		},
		shutdownTimeout: shutdownTimeout,
		logger:          logger,
	}
}

// Start listens on the configured port and blocks until ctx is cancelled
// or the server fails.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.httpServer.Addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve accepts connections on ln until ctx is cancelled, then drains
// in-flight requests for up to the shutdown timeout.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		s.logger.Info("Server started", zap.String("address", ln.Addr().String()))
		if err := s.httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
		defer cancel()

		s.logger.Info("Shutting down server")
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("error during server shutdown: %w", err)
		}
		return nil
	})

	return g.Wait()
}

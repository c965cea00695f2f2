// Package server exposes the retrieval engine over HTTP: the query
// endpoint, ingestion and index administration, and health probes.
package server

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/citeseek/citeseek/internal/config"
)

// Server wraps the HTTP listener with graceful shutdown.
type Server struct {
	http *http.Server
	cfg  config.ServerConfig
}

// New creates a Server around handler using cfg's timeouts.
func New(cfg config.ServerConfig, handler http.Handler) *Server {
	return &Server{
		http: &http.Server{
			Addr:         cfg.Addr,
			Handler:      handler,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
		},
		cfg: cfg,
	}
}

// Start serves until ctx is cancelled, then drains in-flight requests
// within the shutdown timeout.
func (s *Server) Start(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		slog.Info("server_listening", slog.String("addr", s.http.Addr))
		if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	timeout := s.cfg.ShutdownTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	slog.Info("server_shutting_down")
	return s.http.Shutdown(shutdownCtx)
}

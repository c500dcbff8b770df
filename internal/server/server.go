// ABOUTME: HTTP server lifecycle around the hub and admin routes
// ABOUTME: Start blocks until Stop or listener failure, then drains cleanly
package server

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Config holds server listen settings.
type Config struct {
	Addr string // host:port
	Name string
}

// Server runs the room's HTTP surface.
type Server struct {
	cfg        Config
	httpServer *http.Server
	logger     zerolog.Logger

	stopChan chan struct{}
	stopOnce sync.Once
}

// New wraps a built router in a runnable server.
func New(cfg Config, handler http.Handler, logger zerolog.Logger) *Server {
	return &Server{
		cfg: cfg,
		httpServer: &http.Server{
			Addr:    cfg.Addr,
			Handler: handler,
		},
		logger:   logger,
		stopChan: make(chan struct{}),
	}
}

// Start listens and blocks until Stop is called or the listener fails.
func (s *Server) Start() error {
	s.logger.Info().Str("addr", s.cfg.Addr).Str("name", s.cfg.Name).Msg("server listening")

	errChan := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != http.ErrServerClosed {
			errChan <- err
		}
	}()

	select {
	case <-s.stopChan:
		s.logger.Info().Msg("server shutting down")
	case err := <-errChan:
		return fmt.Errorf("http server: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := s.httpServer.Shutdown(ctx); err != nil {
		s.logger.Warn().Err(err).Msg("shutdown error")
	}
	s.logger.Info().Msg("server stopped")
	return nil
}

// Stop signals Start to shut down.
func (s *Server) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopChan)
	})
}

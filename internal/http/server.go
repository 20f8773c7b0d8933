package http

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/semops/semops-backend/internal/pkg/logger"
)

// Server hosts the router behind an http.Server with explicit timeouts so
// a stalled client cannot pin a connection open indefinitely.
type Server struct {
	log  *logger.Logger
	http *http.Server
}

func NewServer(cfg RouterConfig) *Server {
	return &Server{
		log: cfg.Log.With("service", "HTTPServer"),
		http: &http.Server{
			Handler:           NewRouter(cfg),
			ReadHeaderTimeout: 10 * time.Second,
			ReadTimeout:       30 * time.Second,
			WriteTimeout:      60 * time.Second,
			IdleTimeout:       90 * time.Second,
		},
	}
}

// Run blocks serving requests until the listener fails or Shutdown is
// called. A clean shutdown returns nil.
func (s *Server) Run(address string) error {
	s.http.Addr = address
	s.log.Info("http server listening", "address", address)
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests before closing the listener.
func (s *Server) Shutdown(ctx context.Context) error {
	if s == nil || s.http == nil {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	return s.http.Shutdown(ctx)
}

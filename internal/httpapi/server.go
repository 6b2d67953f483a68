package httpapi

import (
	"context"
	"log/slog"
	"net/http"
	"time"
)

// Server wraps http.Server for the loopback-only diagnostics endpoint.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer builds a Server bound to addr (expected to be loopback-only,
// e.g. "127.0.0.1:8642").
func NewServer(addr string, logger *slog.Logger, status HealthStatus) *Server {
	return &Server{
		httpServer: &http.Server{
			Addr:              addr,
			Handler:           NewRouter(logger, status),
			ReadTimeout:       5 * time.Second,
			ReadHeaderTimeout: 5 * time.Second,
		},
		logger: logger.With("component", "httpapi"),
	}
}

// String names this service for the supervision tree.
func (s *Server) String() string { return "httpapi" }

// Serve runs the HTTP server until ctx is cancelled, satisfying
// suture.Service.
func (s *Server) Serve(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("httpapi listening", "addr", s.httpServer.Addr)
		errCh <- s.httpServer.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}
}

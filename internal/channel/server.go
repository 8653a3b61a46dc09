package channel

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"
)

// Registrar mounts handlers on the shared mux.
type Registrar interface {
	Register(mux *http.ServeMux)
}

// Server is the single HTTP listener shared by the webhooks and the dashboard.
type Server struct {
	server *http.Server
	logger *slog.Logger
}

type ServerConfig struct {
	Host   string
	Port   int
	Logger *slog.Logger
}

func NewServer(cfg ServerConfig, parts ...Registrar) *Server {
	mux := http.NewServeMux()
	for _, p := range parts {
		p.Register(mux)
	}
	return &Server{
		server: &http.Server{
			Addr:              fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
			Handler:           mux,
			ReadHeaderTimeout: 10 * time.Second,
			ReadTimeout:       30 * time.Second,
			IdleTimeout:       60 * time.Second,
		},
		logger: cfg.Logger,
	}
}

// Handler exposes the mux for tests.
func (s *Server) Handler() http.Handler { return s.server.Handler }

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server starting", "addr", s.server.Addr)
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("http server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.server.Shutdown(shutdownCtx)
	case err, ok := <-errCh:
		if !ok {
			return nil
		}
		return fmt.Errorf("http server: %w", err)
	}
}

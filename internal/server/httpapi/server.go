// Package httpapi is the HTTP transport of the sync engine: a gin router
// over the push and project services, with bearer-token auth.
package httpapi

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/mprihoda/geosync/internal/logging"
	"github.com/mprihoda/geosync/internal/server/config"
)

// Server owns the HTTP listener lifecycle.
type Server struct {
	srv    *http.Server
	logger logging.Logger
}

func NewServer(cfg *config.Config, handler *Handler, logger logging.Logger) *Server {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	handler.Register(router, []byte(cfg.SecretKey))

	return &Server{
		srv: &http.Server{
			Addr:              cfg.EndpointAddr,
			Handler:           router,
			ReadHeaderTimeout: 10 * time.Second,
		},
		logger: logger.With("module", "http"),
	}
}

// Run serves until ctx is cancelled, then shuts down draining in-flight
// requests.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info(ctx, "http server listening", "addr", s.srv.Addr)
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := s.srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	s.logger.Info(ctx, "http server stopped")
	return <-errCh
}

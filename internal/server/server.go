package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/marcogenualdo/keyconsole/internal/auth"
	"github.com/marcogenualdo/keyconsole/internal/backend"
	"github.com/marcogenualdo/keyconsole/internal/cache"
	"github.com/marcogenualdo/keyconsole/internal/config"
	"github.com/marcogenualdo/keyconsole/internal/identity"
	"github.com/marcogenualdo/keyconsole/internal/keyview"
	"github.com/marcogenualdo/keyconsole/internal/metrics"
	"github.com/marcogenualdo/keyconsole/internal/provisioning"
	"github.com/marcogenualdo/keyconsole/internal/reauth"
)

// Dependencies are the wired components the HTTP surface serves.
// Federation is nil when no federated provider is configured.
type Dependencies struct {
	Cache        cache.Cache
	Identity     *identity.FirebaseClient
	Store        *identity.Store
	Auth         *identity.Authenticator
	Federation   *auth.Federation
	Backend      *backend.Client
	Gate         *reauth.Gate
	Orchestrator *provisioning.Orchestrator
	Loader       *keyview.Loader
	Metrics      *metrics.Metrics
}

type Server struct {
	cfg        config.Config
	deps       Dependencies
	logger     *slog.Logger
	httpServer *http.Server
}

func New(cfg config.Config, deps Dependencies, logger *slog.Logger) (*Server, error) {
	if deps.Metrics == nil {
		deps.Metrics = metrics.New()
	}
	return &Server{
		cfg:    cfg,
		deps:   deps,
		logger: logger,
	}, nil
}

// Handler builds the full middleware-wrapped router.
func (s *Server) Handler() (http.Handler, error) {
	return s.setupRoutes()
}

func (s *Server) Start() error {
	router, err := s.setupRoutes()
	if err != nil {
		return fmt.Errorf("failed to setup routes: %w", err)
	}

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", s.cfg.Server.Host, s.cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: s.cfg.Server.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	errChan := make(chan error, 1)
	go func() {
		s.logger.Info("starting server",
			"host", s.cfg.Server.Host,
			"port", s.cfg.Server.Port,
			"base_url", s.cfg.Server.BaseURL,
		)
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errChan <- err
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errChan:
		return err
	case sig := <-sigChan:
		s.logger.Info("received shutdown signal", "signal", sig)
		return s.Shutdown()
	}
}

func (s *Server) Shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	s.logger.Info("shutting down server")

	if err := s.httpServer.Shutdown(ctx); err != nil {
		s.logger.Error("error during server shutdown", "error", err)
		return err
	}

	if err := s.deps.Cache.Close(); err != nil {
		s.logger.Error("error closing cache", "error", err)
	}

	s.logger.Info("server shutdown complete")
	return nil
}

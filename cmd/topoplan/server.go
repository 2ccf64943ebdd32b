package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/artpar/topoplan/internal/shell/api"
	"github.com/artpar/topoplan/internal/shell/compiler"
	"github.com/artpar/topoplan/internal/shell/metrics"
	"github.com/artpar/topoplan/internal/shell/store"
)

// =============================================================================
// Server
// =============================================================================

// Server serves the plan API.
type Server struct {
	config     *Config
	httpServer *http.Server
	store      store.Store
	logger     *slog.Logger
}

// NewServer creates a new server with the given config.
func NewServer(cfg *Config, logger *slog.Logger) (*Server, error) {
	base, err := cfg.Compile.Options()
	if err != nil {
		return nil, &CommandError{Op: "NewServer", Err: err, ExitCode: ExitConfigError}
	}

	s, err := store.NewSQLiteStore(cfg.Store.DSN)
	if err != nil {
		return nil, &CommandError{Op: "NewServer", Err: err, ExitCode: ExitStoreError}
	}

	m := metrics.NewCollector("")
	svc := compiler.NewService(compiler.Config{
		Base:    base,
		Store:   s,
		Metrics: m,
		Logger:  logger,
	})

	handler := api.NewHandler(svc, s, m, logger)

	httpServer := &http.Server{
		Addr:         cfg.Server.Address(),
		Handler:      handler.Routes(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	return &Server{
		config:     cfg,
		httpServer: httpServer,
		store:      s,
		logger:     logger,
	}, nil
}

// Start starts the server and blocks until shutdown.
func (s *Server) Start(ctx context.Context) error {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("starting HTTP server", "address", s.config.Server.Address())
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case sig := <-sigCh:
		s.logger.Info("received shutdown signal", "signal", sig)
	case err := <-errCh:
		s.store.Close()
		return &CommandError{Op: "Start", Err: err, ExitCode: ExitServerError}
	case <-ctx.Done():
		s.logger.Info("context cancelled")
	}

	return s.Shutdown(context.Background())
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("initiating graceful shutdown")

	shutdownCtx, cancel := context.WithTimeout(ctx, s.config.Server.ShutdownTimeout)
	defer cancel()

	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		s.logger.Error("HTTP server shutdown error", "error", err)
	}

	if err := s.store.Close(); err != nil {
		s.logger.Error("database close error", "error", err)
	}

	s.logger.Info("shutdown complete")
	return nil
}

package api

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/ecatlab/ecatbench/pkg/config"
	"github.com/ecatlab/ecatbench/pkg/resultstore"
	"github.com/sirupsen/logrus"
)

const shutdownTimeout = 10 * time.Second

// Server exposes the query API HTTP server lifecycle. The surface is
// read-only for downstream analysis tooling, plus an authenticated
// cleanup endpoint for run deletion.
type Server interface {
	Start(ctx context.Context) error
	Stop() error
}

// Compile-time interface check.
var _ Server = (*server)(nil)

type server struct {
	log        logrus.FieldLogger
	cfg        *config.APIConfig
	dbCfg      *config.DatabaseConfig
	store      resultstore.Store
	httpServer *http.Server
	wg         sync.WaitGroup
}

// NewServer creates a new API server.
func NewServer(
	log logrus.FieldLogger,
	cfg *config.APIConfig,
	dbCfg *config.DatabaseConfig,
) Server {
	return &server{
		log:   log.WithField("component", "api"),
		cfg:   cfg,
		dbCfg: dbCfg,
	}
}

// Start opens the result store and starts the HTTP server.
func (s *server) Start(ctx context.Context) error {
	s.store = resultstore.NewStore(s.log, s.dbCfg)
	if err := s.store.Start(ctx); err != nil {
		return fmt.Errorf("starting result store: %w", err)
	}

	router := s.buildRouter()

	s.httpServer = &http.Server{
		Addr:              s.cfg.Server.Listen,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Bind the listener synchronously so we fail fast on port conflicts.
	ln, err := net.Listen("tcp", s.cfg.Server.Listen)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.cfg.Server.Listen, err)
	}

	s.wg.Add(1)

	go func() {
		defer s.wg.Done()

		s.log.WithField("listen", s.cfg.Server.Listen).
			Info("API server starting")

		if err := s.httpServer.Serve(ln); err != nil &&
			err != http.ErrServerClosed {
			s.log.WithError(err).Error("HTTP server error")
		}
	}()

	return nil
}

// Stop gracefully shuts down the HTTP server and closes the store.
func (s *server) Stop() error {
	if s.httpServer != nil {
		ctx, cancel := context.WithTimeout(
			context.Background(), shutdownTimeout,
		)
		defer cancel()

		if err := s.httpServer.Shutdown(ctx); err != nil {
			s.log.WithError(err).Warn("HTTP server shutdown error")
		}
	}

	s.wg.Wait()

	if s.store != nil {
		if err := s.store.Stop(); err != nil {
			return fmt.Errorf("stopping result store: %w", err)
		}
	}

	s.log.Info("API server stopped")

	return nil
}

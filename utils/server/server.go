// Package server exposes the standardization pipeline over HTTP.
//
// Routes:
//
//	POST /process                 upload ideal, raw and instructions
//	POST /finalize/{jobId}        run the pipeline for a received job
//	GET  /download/{jobId}/{kind} fetch ideal, log or summary
//	GET  /jobs/{jobId}            job status document
//	GET  /health                  liveness
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/kris-hansen/sheetsmith/utils/config"
	"github.com/kris-hansen/sheetsmith/utils/processor"
	"go.uber.org/zap"
)

const shutdownTimeout = 10 * time.Second

// Server holds the handlers' shared state
type Server struct {
	config *config.ServerConfig
	orch   *processor.Orchestrator
	log    *zap.Logger
}

// New creates a server over an orchestrator
func New(cfg *config.ServerConfig, orch *processor.Orchestrator, logger *zap.Logger) *Server {
	if logger == nil {
		logger = config.Logger()
	}
	return &Server{config: cfg, orch: orch, log: logger}
}

// Handler returns the routed handler wrapped in the middleware chain
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /process", s.handleProcess)
	mux.HandleFunc("POST /finalize/{jobId}", s.handleFinalize)
	mux.HandleFunc("GET /download/{jobId}/{kind}", s.handleDownload)
	mux.HandleFunc("GET /jobs/{jobId}", s.handleJob)
	mux.HandleFunc("GET /health", s.handleHealth)

	return s.recoverPanics(s.logRequests(s.cors(s.authenticate(mux))))
}

// Run serves until ctx is cancelled, then shuts down gracefully
func Run(ctx context.Context, cfg *config.ServerConfig, orch *processor.Orchestrator, logger *zap.Logger) error {
	s := New(cfg, orch, logger)
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("server listening",
			zap.Int("port", cfg.Port),
			zap.String("jobs_dir", cfg.JobsDir),
			zap.Bool("auth", cfg.Enabled),
			zap.Bool("cors", cfg.CORS.Enabled))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		s.log.Info("shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("error shutting down server: %w", err)
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("server failed: %w", err)
	}
}

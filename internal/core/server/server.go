// Package server wires the dashboard HTTP stack and serves it until the
// context ends.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/mohammed-shakir/lake-ndvi-trends/internal/core/health"
	middleware "github.com/mohammed-shakir/lake-ndvi-trends/internal/core/middleware"
)

type Options struct {
	Addr string
	// Metrics is mounted at /metrics when set.
	Metrics http.Handler
	Ready   map[string]health.Check
	// Mount adds the application routes.
	Mount func(chi.Router)
}

func Router(opts Options, logger *slog.Logger) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recover(logger))
	r.Use(middleware.Logging(logger))
	r.Use(middleware.CORS())

	r.Get("/healthz", health.Liveness())
	r.Get("/readyz", health.Readiness(opts.Ready))
	if opts.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", opts.Metrics)
	}
	if opts.Mount != nil {
		opts.Mount(r)
	}
	return r
}

// Run serves opts until ctx is done, then shuts down gracefully.
func Run(ctx context.Context, opts Options, logger *slog.Logger) error {
	srv := &http.Server{
		Addr:              opts.Addr,
		Handler:           Router(opts, logger),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		// analyses of uncached lakes download many scenes
		WriteTimeout: 10 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http listen", "addr", opts.Addr)
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Warn("http shutdown", "err", err)
		}
		return nil
	case err := <-errCh:
		return err
	}
}

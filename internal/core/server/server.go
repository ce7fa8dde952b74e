// Package server assembles the HTTP handler of the service and runs it.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/mohammed-shakir/nearby-search/internal/core/health"
	middleware "github.com/mohammed-shakir/nearby-search/internal/core/middleware"
	"github.com/mohammed-shakir/nearby-search/internal/core/router"
)

// NewHandler wires probes, metrics and the host API. metrics may be nil when
// metrics are served on a dedicated listener.
func NewHandler(logger *slog.Logger, api *router.API, ready health.ReadinessReporter, metrics http.Handler) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recover(logger))
	r.Use(middleware.Logging(logger))
	r.Use(middleware.CORS())
	r.Use(middleware.Metrics())

	r.Get("/healthz", health.Liveness())
	r.Get("/readyz", health.Readiness(ready))
	if metrics != nil {
		r.Handle("/metrics", metrics)
	}
	api.Mount(r)
	return r
}

// Run serves handler on addr until ctx is done.
func Run(ctx context.Context, addr string, logger *slog.Logger, handler http.Handler) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http listen", "addr", addr)
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		return nil
	case err := <-errCh:
		return err
	}
}

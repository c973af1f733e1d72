// Package server wires the HTTP surface and runs it until shutdown.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/nearbyops/geodispatch/internal/core/config"
	"github.com/nearbyops/geodispatch/internal/core/health"
	"github.com/nearbyops/geodispatch/internal/core/middleware"
	"github.com/nearbyops/geodispatch/internal/core/router"
)

// Routes assembles the full HTTP surface.
func Routes(logger *slog.Logger, handler router.DispatchHandler) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recover())
	r.Use(middleware.Logging(logger))
	r.Use(middleware.CORS())

	validate := validator.New()

	r.Get("/healthz", health.Liveness())
	r.Get("/metrics", promhttp.Handler().ServeHTTP)
	r.Post("/dispatch", router.HandleDispatch(logger, validate, handler))
	return r
}

// Run sets up routes and serves until ctx is cancelled.
func Run(ctx context.Context, cfg config.Config, logger *slog.Logger, handler router.DispatchHandler) error {
	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           Routes(logger, handler),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http listen", "addr", cfg.Addr)
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

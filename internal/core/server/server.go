package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mohammed-shakir/map-search/internal/api"
	"github.com/mohammed-shakir/map-search/internal/core/health"
	middleware "github.com/mohammed-shakir/map-search/internal/core/middleware"
)

type Options struct {
	Addr string
	// Checks feed /readyz. A nil map makes readiness equal to liveness.
	Checks map[string]health.Check
	// Metrics is served at /metrics. Nil means the default prometheus registry.
	Metrics http.Handler
}

// Router wires the middleware chain, probes and the search API.
func Router(logger *slog.Logger, h *api.Handler, opts Options) chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Recover(logger))
	r.Use(middleware.Logging(logger))
	r.Use(middleware.Metrics())
	r.Use(middleware.CORS())

	metrics := opts.Metrics
	if metrics == nil {
		metrics = promhttp.Handler()
	}
	r.Get("/healthz", health.Liveness())
	r.Get("/readyz", health.Readiness(2*time.Second, opts.Checks))
	r.Method(http.MethodGet, "/metrics", metrics)
	h.Routes(r)
	return r
}

// sets up http and starts serving
func Run(ctx context.Context, logger *slog.Logger, h *api.Handler, opts Options) error {
	srv := &http.Server{
		Addr:              opts.Addr,
		Handler:           Router(logger, h, opts),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       60 * time.Second,
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
		_ = srv.Shutdown(shutdownCtx)
		return nil
	case err := <-errCh:
		return err
	}
}

// Package metrics owns the registry behind the dedicated metrics listener.
package metrics

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mohammed-shakir/map-search/internal/core/observability"
)

type BuildInfo struct {
	Version   string
	Revision  string
	BuildDate string
}

type Config struct {
	Enabled bool
	Addr    string
	Path    string
	Build   BuildInfo
}

type Provider struct {
	cfg       Config
	reg       *prometheus.Registry
	buildInfo *prometheus.GaugeVec
}

// Init builds a registry with the Go and process collectors, build info and
// the service's own filter, search and HTTP metrics.
func Init(cfg Config) *Provider {
	if cfg.Path == "" {
		cfg.Path = "/metrics"
	}
	reg := prometheus.NewRegistry()

	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	build := prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "app_build_info",
			Help: "Build info for this binary (value is always 1).",
		},
		[]string{"version", "revision", "build_date"},
	)
	reg.MustRegister(build)
	v := cfg.Build
	if v.Version == "" {
		v.Version = "dev"
	}
	build.WithLabelValues(v.Version, v.Revision, v.BuildDate).Set(1)

	observability.Init(reg)

	return &Provider{cfg: cfg, reg: reg, buildInfo: build}
}

func (p *Provider) Handler() http.Handler {
	return promhttp.HandlerFor(p.reg, promhttp.HandlerOpts{})
}

func (p *Provider) Register(cs ...prometheus.Collector) {
	for _, c := range cs {
		p.reg.MustRegister(c)
	}
}

func (p *Provider) Registerer() prometheus.Registerer { return p.reg }

// Serve runs the metrics listener until ctx is done.
func (p *Provider) Serve(ctx context.Context, logger *slog.Logger) error {
	mux := http.NewServeMux()
	mux.Handle(p.cfg.Path, p.Handler())
	srv := &http.Server{
		Addr:              p.cfg.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("metrics listen", "addr", p.cfg.Addr, "path", p.cfg.Path)
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		return nil
	case err := <-errCh:
		return err
	}
}

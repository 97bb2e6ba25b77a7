package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/paulmach/orb/geojson"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/mohammed-shakir/map-search/internal/api"
	"github.com/mohammed-shakir/map-search/internal/catalog"
	"github.com/mohammed-shakir/map-search/internal/convert"
	"github.com/mohammed-shakir/map-search/internal/core/config"
	"github.com/mohammed-shakir/map-search/internal/core/health"
	"github.com/mohammed-shakir/map-search/internal/core/model"
	"github.com/mohammed-shakir/map-search/internal/core/observability"
	"github.com/mohammed-shakir/map-search/internal/core/server"
	"github.com/mohammed-shakir/map-search/internal/datasource"
	"github.com/mohammed-shakir/map-search/internal/dispatch"
	"github.com/mohammed-shakir/map-search/internal/engine"
	"github.com/mohammed-shakir/map-search/internal/layerupdates"
	"github.com/mohammed-shakir/map-search/internal/logger"
	"github.com/mohammed-shakir/map-search/internal/metrics"
	"github.com/mohammed-shakir/map-search/internal/urlstate"
)

var Version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	if err := newRoot().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		return 1
	}
	return 0
}

func newRoot() *cobra.Command {
	root := &cobra.Command{
		Use:           "mapsearch",
		Short:         "Filter map layers and share the search state as a URL",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().String("catalog", "", "YAML template catalog (defaults to the built-in templates)")
	root.AddCommand(serveCmd(), encodeCmd(), decodeCmd(), filterCmd())
	return root
}

func buildLogger(cfg config.Config, component string) *slog.Logger {
	zl := logger.Build(logger.Config{
		Level:     cfg.LogLevel,
		Console:   cfg.LogConsole,
		SampleN:   cfg.LogSampleN,
		Component: component,
	}, os.Stderr)
	return logger.NewSlog(&zl)
}

func serveCmd() *cobra.Command {
	var addr, dataDir, level string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the search API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := config.FromEnv()
			if addr != "" {
				cfg.Addr = addr
			}
			if dataDir != "" {
				cfg.DataDir = dataDir
			}
			if level != "" {
				cfg.LogLevel = level
			}
			if f, _ := cmd.Flags().GetString("catalog"); f != "" {
				cfg.CatalogFile = f
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			return serve(cfg)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides ADDR)")
	cmd.Flags().StringVar(&dataDir, "data-dir", "", "directory of <layer>.json files (overrides DATA_DIR)")
	cmd.Flags().StringVar(&level, "log-level", "", "log level (overrides LOG_LEVEL)")
	return cmd
}

func serve(cfg config.Config) error {
	appLog := buildLogger(cfg, "mapsearch")
	observability.ExposeBuildInfo(Version)
	appLog.Info("starting map search",
		"addr", cfg.Addr,
		"version", Version,
		"data_dir", cfg.DataDir,
		"catalog", cfg.CatalogDriver)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	reg := convert.NewRegistry(convert.WithMemo(cfg.ConversionMemoSize))

	checks := map[string]health.Check{}
	var cat catalog.Lookup
	switch cfg.CatalogDriver {
	case config.CatalogRedis:
		rc, err := catalog.NewRedis(ctx, cfg.RedisAddr, cfg.CatalogRedisKey, reg)
		if err != nil {
			return err
		}
		defer func() { _ = rc.Close() }()
		existing, err := rc.Templates(ctx)
		if err != nil {
			return err
		}
		if len(existing) == 0 {
			if err := rc.Put(ctx, catalog.Defaults()...); err != nil {
				return fmt.Errorf("seed catalog: %w", err)
			}
			appLog.Info("seeded template catalog", "key", cfg.CatalogRedisKey)
		}
		checks["redis"] = rc.Ping
		cat = rc
	default:
		sc, err := staticCatalog(reg, cfg.CatalogFile)
		if err != nil {
			return err
		}
		cat = sc
	}

	dir := datasource.NewDir(cfg.DataDir)
	data := datasource.NewCache(dir, cfg.DatasetCacheSize, appLog)
	checks["data_dir"] = func(context.Context) error {
		_, err := dir.Layers()
		return err
	}

	disp := dispatch.New(appLog, reg, dispatch.Options{MaxWorkers: cfg.FilterMaxWorkers})
	h := api.New(appLog, cat, data, disp, api.Options{Timeout: cfg.FilterTimeout})

	g, gctx := errgroup.WithContext(ctx)

	if cfg.Metrics.Enabled {
		p := metrics.Init(metrics.Config{
			Enabled: true,
			Addr:    cfg.Metrics.Addr,
			Path:    cfg.Metrics.Path,
			Build: metrics.BuildInfo{
				Version:   Version,
				Revision:  os.Getenv("BUILD_REVISION"),
				BuildDate: os.Getenv("BUILD_DATE"),
			},
		})
		g.Go(func() error { return p.Serve(gctx, appLog) })
	}

	if cfg.LayerUpdates.Enabled {
		c := layerupdates.New(layerupdates.Config{
			Brokers: cfg.LayerUpdates.Brokers,
			Topic:   cfg.LayerUpdates.Topic,
			GroupID: cfg.LayerUpdates.GroupID,
		}, appLog, data)
		g.Go(func() error { return c.Start(gctx) })
	}

	g.Go(func() error {
		return server.Run(gctx, appLog, h, server.Options{Addr: cfg.Addr, Checks: checks})
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		appLog.Error("server exited with error", "err", err)
		return err
	}
	appLog.Info("server stopped")
	return nil
}

func staticCatalog(reg *convert.Registry, path string) (*catalog.Static, error) {
	if path == "" {
		return catalog.NewStatic(reg, catalog.Defaults()...)
	}
	return catalog.LoadFile(reg, path)
}

func catalogFlag(cmd *cobra.Command, reg *convert.Registry) (*catalog.Static, error) {
	path, _ := cmd.Flags().GetString("catalog")
	return staticCatalog(reg, path)
}

func encodeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "encode",
		Short: "Read a JSON state document on stdin and print its query string",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cat, err := catalogFlag(cmd, convert.NewRegistry())
			if err != nil {
				return err
			}
			var doc api.StateDoc
			dec := json.NewDecoder(cmd.InOrStdin())
			dec.DisallowUnknownFields()
			if err := dec.Decode(&doc); err != nil {
				return fmt.Errorf("read state: %w", err)
			}
			st, err := doc.State(cmd.Context(), cat)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), urlstate.Encode(st).Encode())
			return err
		},
	}
}

func parseQuery(raw string) (url.Values, error) {
	raw = strings.TrimSpace(raw)
	if i := strings.IndexByte(raw, '?'); i >= 0 {
		raw = raw[i+1:]
	}
	return url.ParseQuery(raw)
}

func decodeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "decode QUERY",
		Short: "Print the state held in a query string or URL as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			q, err := parseQuery(args[0])
			if err != nil {
				return err
			}
			d := urlstate.Decode(q)
			cat, err := catalogFlag(cmd, convert.NewRegistry())
			if err != nil {
				return err
			}
			if _, err := d.Filters(cmd.Context(), cat); err != nil {
				return err
			}
			out := struct {
				urlstate.Decoded
				Bounds      []float64 `json:"bounds,omitempty"`
				Fingerprint string    `json:"fingerprint"`
			}{Decoded: d, Fingerprint: urlstate.Fingerprint(d.Values())}
			if d.Bounds != nil {
				out.Bounds = []float64{d.Bounds.Min.Lon(), d.Bounds.Min.Lat(), d.Bounds.Max.Lon(), d.Bounds.Max.Lat()}
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(out)
		},
	}
}

func filterCmd() *cobra.Command {
	var datasetPath, query string
	cmd := &cobra.Command{
		Use:   "filter",
		Short: "Filter one dataset file with the filters in a query string",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			reg := convert.NewRegistry()
			cat, err := catalogFlag(cmd, reg)
			if err != nil {
				return err
			}
			q, err := parseQuery(query)
			if err != nil {
				return err
			}
			d := urlstate.Decode(q)
			for _, w := range d.Warnings {
				fmt.Fprintln(cmd.ErrOrStderr(), "warning:", w)
			}
			filters, err := d.Filters(cmd.Context(), cat)
			if err != nil {
				return err
			}
			ds, err := readDataset(datasetPath, cmd.InOrStdin())
			if err != nil {
				return err
			}
			kept, err := engine.Evaluate(reg, ds, filters)
			if err != nil {
				return err
			}
			fc := geojson.NewFeatureCollection()
			fc.Features = kept
			return json.NewEncoder(cmd.OutOrStdout()).Encode(fc)
		},
	}
	cmd.Flags().StringVar(&datasetPath, "dataset", "-", "dataset file ({\"fields\":[...],\"data\":FeatureCollection}), - for stdin")
	cmd.Flags().StringVar(&query, "query", "", "query string or URL holding the filters")
	return cmd
}

func readDataset(path string, stdin io.Reader) (*model.Dataset, error) {
	if path == "-" {
		return model.ReadDataset(stdin)
	}
	fh, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = fh.Close() }()
	return model.ReadDataset(fh)
}

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/hupe1980/visualindex"
	"github.com/hupe1980/visualindex/imageio"
	"github.com/hupe1980/visualindex/metrics/prom"
)

// app holds the state shared by all subcommands of one invocation.
type app struct {
	cfg     *Config
	logger  *visualindex.Logger
	indexer *visualindex.Indexer
	server  *http.Server
}

type globalFlags struct {
	configPath  string
	logLevel    string
	logFormat   string
	metricsAddr string
}

func newLogger(w io.Writer, level, format string) (*visualindex.Logger, error) {
	lvl, err := visualindex.ParseLevel(level)
	if err != nil {
		return nil, err
	}
	switch format {
	case "", "text":
		return visualindex.NewTextLogger(w, lvl), nil
	case "json":
		return visualindex.NewJSONLogger(w, lvl), nil
	default:
		return nil, fmt.Errorf("unknown log format %q", format)
	}
}

// indexerOptions translates the configuration into Indexer options.
func (c *Config) indexerOptions() []visualindex.Option {
	opts := []visualindex.Option{
		visualindex.WithModelFiles(visualindex.ModelFiles{
			Codebooks: c.Models.Codebooks,
			PCA:       c.Models.PCA,
			Coarse:    c.Models.Coarse,
			PQ:        c.Models.PQ,
		}),
		visualindex.WithPCADimension(c.Models.PCADimension),
		visualindex.WithWhitening(c.Models.Whitening),
		visualindex.WithProbes(c.Index.Probes),
		visualindex.WithImageOptions(imageio.Options{MaxPixels: c.Pipeline.MaxPixels, MaxSourcePixels: c.Pipeline.MaxSourcePixels}),
		visualindex.WithFetcher(imageio.NewFetcher(imageio.FetcherOptions{
			RequestsPerSecond: c.Pipeline.RequestsPerSecond,
			MaxRetries:        c.Pipeline.MaxRetries,
		})),
		visualindex.WithSyncInterval(c.Maintenance.SyncInterval),
		visualindex.WithPurgeSchedule(c.Maintenance.PurgeSchedule),
	}
	if c.Pipeline.Workers > 0 {
		opts = append(opts, visualindex.WithWorkers(c.Pipeline.Workers))
	}
	if c.Pipeline.MaxOutstanding > 0 {
		opts = append(opts, visualindex.WithMaxOutstanding(c.Pipeline.MaxOutstanding))
	}
	if c.Maintenance.ShutdownGrace > 0 {
		opts = append(opts, visualindex.WithShutdownGrace(c.Maintenance.ShutdownGrace))
	}
	return opts
}

// open builds the Indexer described by the configuration and, if requested,
// serves its metrics.
func (a *app) open(ctx context.Context, metricsAddr string) error {
	if err := a.cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	backend, err := openBackend(ctx, a.cfg.Storage)
	if err != nil {
		return err
	}

	opts := append(a.cfg.indexerOptions(),
		visualindex.WithBackend(backend),
		visualindex.WithLogger(a.logger),
	)

	var reg *prometheus.Registry
	if metricsAddr != "" {
		reg = prometheus.NewRegistry()
		mc, err := prom.NewCollector(reg)
		if err != nil {
			_ = backend.Close()
			return err
		}
		opts = append(opts, visualindex.WithMetricsCollector(mc))
	}

	ix := visualindex.New(opts...)
	if err := ix.Build(ctx); err != nil {
		_ = ix.Close()
		return err
	}
	a.indexer = ix

	if reg != nil {
		if err := prom.RegisterStats(reg, ix.Stats); err != nil {
			return err
		}
		return a.serveMetrics(metricsAddr, reg)
	}
	return nil
}

func (a *app) serveMetrics(addr string, reg *prometheus.Registry) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen metrics: %w", err)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	a.server = &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		if err := a.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("metrics server failed", slog.Any("error", err))
		}
	}()
	a.logger.Info("serving metrics", slog.String("addr", ln.Addr().String()))
	return nil
}

func (a *app) close() error {
	var errs []error
	if a.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		errs = append(errs, a.server.Shutdown(ctx))
		a.server = nil
	}
	if a.indexer != nil {
		errs = append(errs, a.indexer.Close())
		a.indexer = nil
	}
	return errors.Join(errs...)
}

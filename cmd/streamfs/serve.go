package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	apihttp "torrentstream/streamfs/internal/api/http"
	"torrentstream/streamfs/internal/app"
	"torrentstream/streamfs/internal/fsbridge"
	"torrentstream/streamfs/internal/fsbridge/fusefs"
	"torrentstream/streamfs/internal/indexer"
	"torrentstream/streamfs/internal/ingest"
	"torrentstream/streamfs/internal/lifecycle"
	"torrentstream/streamfs/internal/metrics"
	"torrentstream/streamfs/internal/telemetry"
)

const shutdownTimeout = 10 * time.Second

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the indexer, the swarm lifecycle and the FUSE mount",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context())
		},
	}
}

func runServe(parent context.Context) error {
	cfg := app.LoadConfig()
	logger := newLogger(cfg.LogLevel, cfg.LogFormat)
	slog.SetDefault(logger)
	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", slog.String("error", err.Error()))
		return err
	}
	metrics.Register(prometheus.DefaultRegisterer)

	rootCtx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracer, err := telemetry.Init(rootCtx, telemetry.Config{
		ServiceName: "streamfs",
		Endpoint:    cfg.OTLPEndpoint,
		SampleRate:  cfg.TraceSampleRate,
	})
	if err != nil {
		logger.Warn("otel init failed", slog.String("error", err.Error()))
	}
	defer func() {
		if shutdownTracer != nil {
			_ = shutdownTracer(context.Background())
		}
	}()

	logger.Info("configuration loaded",
		slog.String("httpAddr", cfg.HTTPAddr),
		slog.String("catalog", cfg.CatalogBackend),
		slog.String("mountPath", cfg.FuseMountPath),
		slog.String("storage", cfg.TorrentStorage),
		slog.Int("maxReady", cfg.MaxReady),
		slog.Duration("pauseAfter", cfg.PauseAfter),
		slog.Duration("stopAfter", cfg.StopAfter),
	)

	feeds, err := app.LoadFeeds(cfg.FeedsFile)
	if err != nil {
		return err
	}

	catalog, closeCatalog, err := openCatalog(rootCtx, cfg, logger)
	if err != nil {
		logger.Error("catalog init failed", slog.String("error", err.Error()))
		return err
	}
	defer closeCatalog()

	cache, closeCache := openResolveCache(rootCtx, cfg, logger)
	defer closeCache()

	engine, err := newEngine(cfg)
	if err != nil {
		logger.Error("torrent engine init failed", slog.String("error", err.Error()))
		return err
	}

	ix := indexer.New(indexer.Config{
		Catalog:       catalog,
		Resolver:      newResolver(cfg, engine, cache, logger),
		Logger:        logger,
		Concurrency:   cfg.IndexConcurrency,
		AdmitInterval: cfg.IndexAdmitInterval,
		DrainInterval: cfg.IndexDrainInterval,
	})
	lc := lifecycle.New(lifecycle.Config{
		Engine:           engine,
		Catalog:          catalog,
		Logger:           logger,
		PauseAfter:       cfg.PauseAfter,
		StopAfter:        cfg.StopAfter,
		MaxReady:         cfg.MaxReady,
		StartTimeout:     cfg.StartTimeout,
		EngineTimeout:    cfg.EngineTimeout,
		ClassifyInterval: cfg.ClassifyInterval,
		ActuateInterval:  cfg.ActuateInterval,
	})
	bridge := fsbridge.New(fsbridge.Config{
		Catalog:     catalog,
		Lifecycle:   lc,
		Streamer:    engine,
		Logger:      logger,
		ReadTimeout: cfg.EngineTimeout,
		Uid:         cfg.FuseUID,
		Gid:         cfg.FuseGID,
	})

	mount, err := fusefs.New(bridge, fusefs.Config{
		Path:         cfg.FuseMountPath,
		AllowOther:   cfg.FuseAllowOther,
		MaxReadAhead: cfg.FuseMaxReadAhead,
		Debug:        cfg.LogLevel == "debug",
		Logger:       logger,
	})
	if err != nil {
		logger.Error("fuse mount failed", slog.String("error", err.Error()))
		_ = engine.Close()
		return fmt.Errorf("mount %s: %w", cfg.FuseMountPath, err)
	}

	ingestor := ingest.Ingestor{Catalog: catalog, Logger: logger}
	sources := feeds.Sources(feedClient())

	go ix.Run(rootCtx)
	go lc.Run(rootCtx)
	if len(sources) > 0 {
		poller := &ingest.Poller{Sources: sources, Ingestor: ingestor, Interval: cfg.FeedPollInterval, Logger: logger}
		go poller.Run(rootCtx)
	} else {
		logger.Info("no feeds configured, records arrive through the API only")
	}

	handler := apihttp.NewServer(catalog,
		apihttp.WithLogger(logger),
		apihttp.WithIngestor(ingestor),
		apihttp.WithRetrier(ix),
		apihttp.WithLifecycle(lc),
		apihttp.WithRateLimit(cfg.HTTPRate, cfg.HTTPBurst),
	)
	go handler.RunBroadcast(rootCtx, cfg.ActuateInterval)

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()
	logger.Info("server started", slog.String("addr", cfg.HTTPAddr), slog.String("mount", mount.Path()))

	var serveErr error
	select {
	case <-rootCtx.Done():
		logger.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", slog.String("error", err.Error()))
			serveErr = err
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	handler.Close()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown error", slog.String("error", err.Error()))
	}
	if err := mount.Unmount(); err != nil {
		logger.Warn("fuse unmount error", slog.String("error", err.Error()))
	}
	if err := lc.Shutdown(shutdownCtx); err != nil {
		logger.Warn("lifecycle shutdown error", slog.String("error", err.Error()))
	}
	if err := engine.Close(); err != nil {
		logger.Warn("engine close error", slog.String("error", err.Error()))
	}

	logger.Info("server stopped")
	return serveErr
}

package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
	"go.opentelemetry.io/contrib/instrumentation/go.mongodb.org/mongo-driver/mongo/otelmongo"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"torrentstream/streamfs/internal/app"
	"torrentstream/streamfs/internal/domain/ports"
	"torrentstream/streamfs/internal/repository/memory"
	mongorepo "torrentstream/streamfs/internal/repository/mongo"
	"torrentstream/streamfs/internal/resolver"
	"torrentstream/streamfs/internal/services/torrent/engine/anacrolix"
)

const (
	connectTimeout = 10 * time.Second
	feedTimeout    = 30 * time.Second
)

// openCatalog returns the configured catalog and a func that releases it.
func openCatalog(ctx context.Context, cfg app.Config, logger *slog.Logger) (ports.Catalog, func(), error) {
	if cfg.CatalogBackend != app.CatalogMongo {
		logger.Warn("using in-memory catalog, records are lost on exit")
		return memory.NewCatalog(), func() {}, nil
	}

	ctx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()

	client, err := mongorepo.Connect(ctx, cfg.MongoURI, options.Client().SetMonitor(otelmongo.NewMonitor()))
	if err != nil {
		return nil, nil, fmt.Errorf("mongo connect: %w", err)
	}
	closeFn := func() {
		if err := client.Disconnect(context.Background()); err != nil {
			logger.Warn("mongo disconnect error", slog.String("error", err.Error()))
		}
	}
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		closeFn()
		return nil, nil, fmt.Errorf("mongo ping: %w", err)
	}

	repo := mongorepo.NewRepository(client, cfg.MongoDatabase, cfg.MongoCollection)
	if err := repo.EnsureIndexes(ctx); err != nil {
		logger.Warn("mongo ensure indexes failed", slog.String("error", err.Error()))
	}
	return repo, closeFn, nil
}

// openResolveCache connects to Redis when REDIS_URL is set. An unreachable
// Redis disables caching rather than failing startup.
func openResolveCache(ctx context.Context, cfg app.Config, logger *slog.Logger) (resolver.Cache, func()) {
	if cfg.RedisURL == "" {
		return nil, func() {}
	}
	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		logger.Warn("invalid REDIS_URL, resolution cache disabled", slog.String("error", err.Error()))
		return nil, func() {}
	}
	client := redis.NewClient(opts)
	cache := resolver.NewRedisCache(client, cfg.ResolveCacheTTL)

	ctx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()
	if err := cache.Ping(ctx); err != nil {
		logger.Warn("redis unreachable, resolution cache disabled", slog.String("error", err.Error()))
		_ = client.Close()
		return nil, func() {}
	}
	return cache, func() { _ = client.Close() }
}

func newEngine(cfg app.Config) (*anacrolix.Engine, error) {
	return anacrolix.New(anacrolix.Config{
		DataDir:       cfg.TorrentDataDir,
		Storage:       cfg.TorrentStorage,
		MemoryBytes:   cfg.TorrentMemoryBytes,
		ListenPort:    cfg.TorrentListenPort,
		MaxConns:      cfg.TorrentMaxConns,
		UploadLimit:   cfg.TorrentUploadLimit,
		DownloadLimit: cfg.TorrentDownloadLimit,
	})
}

func newResolver(cfg app.Config, metadata ports.MetadataFetcher, cache resolver.Cache, logger *slog.Logger) *resolver.Resolver {
	return resolver.New(resolver.Config{
		HTTPClient:      resolver.NewHTTPClient(feedTimeout),
		Metadata:        metadata,
		Cache:           cache,
		Logger:          logger,
		MetadataTimeout: cfg.ResolveMetadataTimeout,
		RatePerSecond:   cfg.ResolveRate,
	})
}

// feedClient follows redirects, unlike the resolver client.
func feedClient() *http.Client {
	return &http.Client{
		Timeout:   feedTimeout,
		Transport: otelhttp.NewTransport(http.DefaultTransport),
	}
}

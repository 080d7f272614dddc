// Package resolver turns a feed URL into complete torrent metadata.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/time/rate"

	"torrentstream/streamfs/internal/domain"
	"torrentstream/streamfs/internal/domain/ports"
	"torrentstream/streamfs/internal/metrics"
	"torrentstream/streamfs/internal/telemetry"
)

const (
	defaultFetchTimeout    = 30 * time.Second
	defaultMetadataTimeout = 30 * time.Second
	maxTorrentFileBytes    = 16 << 20
)

type Config struct {
	HTTPClient *http.Client
	Metadata   ports.MetadataFetcher
	Cache      Cache
	Logger     *slog.Logger
	// MetadataTimeout bounds the whole metadata join stage, retries included.
	MetadataTimeout time.Duration
	Retry           RetryConfig
	// RatePerSecond limits outbound fetches; zero disables the limit.
	RatePerSecond float64
}

type Resolver struct {
	client          *http.Client
	metadata        ports.MetadataFetcher
	cache           Cache
	logger          *slog.Logger
	limiter         *rate.Limiter
	metadataTimeout time.Duration
	retry           RetryConfig
}

func New(cfg Config) *Resolver {
	r := &Resolver{
		client:          cfg.HTTPClient,
		metadata:        cfg.Metadata,
		cache:           cfg.Cache,
		logger:          cfg.Logger,
		metadataTimeout: cfg.MetadataTimeout,
		retry:           cfg.Retry,
	}
	if r.client == nil {
		r.client = NewHTTPClient(defaultFetchTimeout)
	}
	if r.cache == nil {
		r.cache = nopCache{}
	}
	if r.logger == nil {
		r.logger = slog.Default()
	}
	if r.metadataTimeout <= 0 {
		r.metadataTimeout = defaultMetadataTimeout
	}
	if r.retry.MaxAttempts == 0 {
		r.retry = DefaultRetryConfig()
	}
	if cfg.RatePerSecond > 0 {
		burst := int(cfg.RatePerSecond)
		if burst < 1 {
			burst = 1
		}
		r.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSecond), burst)
	}
	return r
}

// NewHTTPClient returns a traced client that reports redirects instead of
// following them, so a magnet Location header can be read.
func NewHTTPClient(timeout time.Duration) *http.Client {
	return &http.Client{
		Timeout:   timeout,
		Transport: otelhttp.NewTransport(http.DefaultTransport),
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
}

// Resolve classifies feedURL and returns whatever metadata it yields.
func (r *Resolver) Resolve(ctx context.Context, feedURL string) (info domain.ResolvedInfo, err error) {
	feedURL = strings.TrimSpace(feedURL)
	ctx, span := telemetry.Tracer("resolver").Start(ctx, "resolve")
	start := time.Now()
	defer func() {
		result := "ok"
		switch {
		case errors.Is(err, ErrMetadataTimeout):
			result = "timeout"
		case err != nil:
			result = "error"
		}
		source := string(info.SourceType)
		if source == "" {
			source = "unknown"
		}
		metrics.ResolutionsTotal.WithLabelValues(source, result).Inc()
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.SetAttributes(attribute.String("resolve.source", source), attribute.String("resolve.result", result))
		span.End()
		r.logger.Debug("resolve finished",
			slog.String("source", source),
			slog.String("result", result),
			slog.Duration("elapsed", time.Since(start)),
		)
	}()

	if domain.IsFreeURL(feedURL) {
		return domain.ResolvedInfo{SourceType: domain.SourceFree}, nil
	}

	if cached, ok, cerr := r.cache.Get(ctx, feedURL); cerr != nil {
		r.logger.Warn("resolve cache read failed", slog.String("error", cerr.Error()))
	} else if ok && cached.Complete() {
		return cached, nil
	}

	switch {
	case isMagnet(feedURL):
		info, err = parseMagnet(feedURL)
	case strings.HasPrefix(feedURL, "http://"), strings.HasPrefix(feedURL, "https://"):
		info, err = r.fetchLink(ctx, feedURL)
	default:
		err = fmt.Errorf("%w: unrecognised feed url %q", ErrUnsupportedResponse, feedURL)
	}
	if err != nil {
		return info, wrapResolution(err)
	}

	if !info.Complete() {
		info, err = r.fetchMetadata(ctx, info)
		if err != nil {
			return info, wrapResolution(err)
		}
	}

	if info.Complete() {
		if cerr := r.cache.Set(ctx, feedURL, info); cerr != nil {
			r.logger.Warn("resolve cache write failed", slog.String("error", cerr.Error()))
		}
	}
	return info, nil
}

// fetchMetadata completes a magnet-only result with a short metadata join.
func (r *Resolver) fetchMetadata(ctx context.Context, partial domain.ResolvedInfo) (domain.ResolvedInfo, error) {
	if r.metadata == nil {
		return partial, fmt.Errorf("%w: no metadata fetcher configured", ErrResolution)
	}
	ctx, cancel := context.WithTimeout(ctx, r.metadataTimeout)
	defer cancel()

	var got domain.ResolvedInfo
	err := RetryWithBackoff(ctx, r.retry, func(ctx context.Context) error {
		var ferr error
		got, ferr = r.metadata.FetchMetadata(ctx, partial.MagnetURI)
		return ferr
	})
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, domain.ErrTimeout) {
			return partial, fmt.Errorf("%w: %s after %s", ErrMetadataTimeout, partial.InfoHash, r.metadataTimeout)
		}
		return partial, err
	}

	// The probe's answer wins, but keep what the feed already told us.
	if got.InfoHash == "" {
		got.InfoHash = partial.InfoHash
	}
	if got.MagnetURI == "" {
		got.MagnetURI = partial.MagnetURI
	}
	if got.Name == "" {
		got.Name = partial.Name
	}
	got.SourceType = partial.SourceType
	return got, nil
}

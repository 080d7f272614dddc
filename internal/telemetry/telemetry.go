// Package telemetry wires the OpenTelemetry trace pipeline for streamfs.
package telemetry

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

const (
	DefaultSampleRate = 0.1
	tracerPrefix      = "streamfs/"
)

type Config struct {
	ServiceName    string
	ServiceVersion string
	// Endpoint is the OTLP HTTP collector, with or without scheme. An
	// https:// endpoint is dialled over TLS. Empty disables tracing.
	Endpoint string
	// SampleRate is the ratio of root spans kept. 0 keeps none; a negative
	// value selects DefaultSampleRate.
	SampleRate float64
}

// Init installs the global trace provider and propagators. Without an
// endpoint it returns a noop shutdown. An exporter that cannot be built is
// reported with a noop shutdown so callers can run untraced.
func Init(ctx context.Context, cfg Config) (shutdown func(context.Context) error, err error) {
	noop := func(context.Context) error { return nil }
	endpoint := strings.TrimSpace(cfg.Endpoint)
	if endpoint == "" {
		return noop, nil
	}

	initCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	exporter, err := otlptracehttp.New(initCtx, exporterOptions(endpoint)...)
	if err != nil {
		return noop, fmt.Errorf("otlp exporter %s: %w", endpoint, err)
	}

	attrs := []resource.Option{resource.WithAttributes(semconv.ServiceName(cfg.ServiceName))}
	if cfg.ServiceVersion != "" {
		attrs = append(attrs, resource.WithAttributes(semconv.ServiceVersion(cfg.ServiceVersion)))
	}
	res, err := resource.New(ctx, attrs...)
	if err != nil {
		_ = exporter.Shutdown(ctx)
		return noop, fmt.Errorf("trace resource: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(Sampler(cfg.SampleRate)),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
	return tp.Shutdown, nil
}

// Sampler keeps the parent's decision and samples new roots at rate.
func Sampler(rate float64) sdktrace.Sampler {
	switch {
	case rate < 0:
		rate = DefaultSampleRate
	case rate > 1:
		rate = 1
	}
	switch rate {
	case 0:
		return sdktrace.ParentBased(sdktrace.NeverSample())
	case 1:
		return sdktrace.ParentBased(sdktrace.AlwaysSample())
	}
	return sdktrace.ParentBased(sdktrace.TraceIDRatioBased(rate))
}

// Tracer returns the tracer for one streamfs component.
func Tracer(component string) trace.Tracer {
	return otel.Tracer(tracerPrefix + component)
}

func exporterOptions(endpoint string) []otlptracehttp.Option {
	host, path, secure := splitEndpoint(endpoint)
	opts := []otlptracehttp.Option{
		otlptracehttp.WithEndpoint(host),
		otlptracehttp.WithTimeout(3 * time.Second),
		otlptracehttp.WithRetry(otlptracehttp.RetryConfig{Enabled: false}),
	}
	if path != "" {
		opts = append(opts, otlptracehttp.WithURLPath(path))
	}
	if !secure {
		opts = append(opts, otlptracehttp.WithInsecure())
	}
	return opts
}

// splitEndpoint separates host:port from an optional URL path. Only an
// explicit https scheme turns TLS on.
func splitEndpoint(endpoint string) (host, path string, secure bool) {
	if !strings.Contains(endpoint, "://") {
		endpoint = "http://" + endpoint
	}
	u, err := url.Parse(endpoint)
	if err != nil || u.Host == "" {
		return strings.TrimPrefix(strings.TrimPrefix(endpoint, "http://"), "https://"), "", false
	}
	path = strings.TrimRight(u.Path, "/")
	return u.Host, path, u.Scheme == "https"
}

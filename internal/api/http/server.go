package apihttp

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"torrentstream/streamfs/internal/domain"
	"torrentstream/streamfs/internal/domain/ports"
	"torrentstream/streamfs/internal/ingest"
)

type Ingestor interface {
	Ingest(ctx context.Context, items []domain.FeedItem) (ingest.Result, error)
}

type Retrier interface {
	Retry(ctx context.Context, id string) (domain.TorrentRecord, error)
}

type Lifecycle interface {
	StopTorrent(ctx context.Context, infoHash domain.InfoHash) error
	Snapshot() []domain.SwarmState
}

const (
	defaultRateLimit = 20
	defaultRateBurst = 40
	handlerTimeout   = 30 * time.Second
)

type Server struct {
	catalog        ports.Catalog
	ingestor       Ingestor
	retrier        Retrier
	lifecycle      Lifecycle
	metricsHandler http.Handler
	rateLimit      float64
	rateBurst      int
	logger         *slog.Logger
	handler        http.Handler
	wsHub          *wsHub
}

type ServerOption func(*Server)

func WithLogger(logger *slog.Logger) ServerOption {
	return func(s *Server) {
		s.logger = logger
	}
}

func WithIngestor(in Ingestor) ServerOption {
	return func(s *Server) {
		s.ingestor = in
	}
}

func WithRetrier(r Retrier) ServerOption {
	return func(s *Server) {
		s.retrier = r
	}
}

func WithLifecycle(lc Lifecycle) ServerOption {
	return func(s *Server) {
		s.lifecycle = lc
	}
}

// WithMetricsHandler replaces the default Prometheus handler served at /metrics.
func WithMetricsHandler(h http.Handler) ServerOption {
	return func(s *Server) {
		s.metricsHandler = h
	}
}

// WithRateLimit sets the global token bucket. A non-positive rps disables it.
func WithRateLimit(rps float64, burst int) ServerOption {
	return func(s *Server) {
		s.rateLimit = rps
		s.rateBurst = burst
	}
}

func NewServer(catalog ports.Catalog, opts ...ServerOption) *Server {
	s := &Server{
		catalog:   catalog,
		rateLimit: defaultRateLimit,
		rateBurst: defaultRateBurst,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.metricsHandler == nil {
		s.metricsHandler = promhttp.Handler()
	}

	s.wsHub = newWSHub(s.logger)
	go s.wsHub.run()

	mux := http.NewServeMux()
	mux.HandleFunc("/torrents", s.handleTorrents)
	mux.HandleFunc("/torrents/", s.handleTorrentByKey)
	mux.HandleFunc("/swarms", s.handleSwarms)
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.Handle("/metrics", s.metricsHandler)
	mux.HandleFunc("/ws", s.handleWS)

	var inner http.Handler = metricsMiddleware(mux)
	if s.rateLimit > 0 {
		inner = rateLimitMiddleware(s.rateLimit, s.rateBurst, inner)
	}
	s.handler = otelhttp.NewHandler(loggingMiddleware(s.logger, recoveryMiddleware(s.logger, inner)), "streamfs",
		otelhttp.WithFilter(func(r *http.Request) bool {
			p := r.URL.Path
			return p != "/metrics" && p != "/healthz"
		}),
	)
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("ws upgrade failed", slog.String("error", err.Error()))
		return
	}
	client := &wsClient{
		hub:  s.wsHub,
		conn: conn,
		send: make(chan []byte, 256),
	}
	select {
	case s.wsHub.register <- client:
	case <-s.wsHub.done:
		conn.Close()
		return
	}
	go client.writePump()
	go client.readPump()
}

// BroadcastSwarms sends the current lifecycle snapshot to all websocket clients.
func (s *Server) BroadcastSwarms() {
	if s.lifecycle == nil {
		return
	}
	s.wsHub.Broadcast("swarms", s.lifecycle.Snapshot())
}

// RunBroadcast pushes swarm snapshots every interval until ctx is done.
func (s *Server) RunBroadcast(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.BroadcastSwarms()
		}
	}
}

// Close stops the websocket hub and disconnects all clients.
func (s *Server) Close() {
	s.wsHub.Close()
}

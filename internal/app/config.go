package app

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	CatalogMemory = "memory"
	CatalogMongo  = "mongo"
)

type Config struct {
	LogLevel  string
	LogFormat string
	HTTPAddr  string
	// HTTPRate is the global control API request rate; 0 disables it.
	HTTPRate  float64
	HTTPBurst int

	CatalogBackend  string
	MongoURI        string
	MongoDatabase   string
	MongoCollection string
	RedisURL        string
	ResolveCacheTTL time.Duration

	FuseMountPath    string
	FuseAllowOther   bool
	FuseMaxReadAhead int
	FuseUID          int
	FuseGID          int

	TorrentDataDir       string
	TorrentStorage       string
	TorrentMemoryBytes   int64
	TorrentListenPort    int
	TorrentMaxConns      int
	TorrentUploadLimit   int64
	TorrentDownloadLimit int64

	PauseAfter       time.Duration
	StopAfter        time.Duration
	MaxReady         int
	StartTimeout     time.Duration
	EngineTimeout    time.Duration
	ClassifyInterval time.Duration
	ActuateInterval  time.Duration

	IndexConcurrency   int
	IndexAdmitInterval time.Duration
	IndexDrainInterval time.Duration

	ResolveMetadataTimeout time.Duration
	ResolveRate            float64

	FeedsFile        string
	FeedPollInterval time.Duration

	OTLPEndpoint    string
	TraceSampleRate float64
}

// LoadConfig reads an optional .env file, then the environment. Values that
// do not parse, or are negative, fall back to their defaults.
func LoadConfig() Config {
	envFile := getEnv("ENV_FILE", ".env")
	_ = godotenv.Load(envFile)

	return Config{
		LogLevel:  strings.ToLower(getEnv("LOG_LEVEL", "info")),
		LogFormat: strings.ToLower(getEnv("LOG_FORMAT", "text")),
		HTTPAddr:  getEnv("HTTP_ADDR", ":8080"),
		HTTPRate:  getEnvFloat("HTTP_RATE", 20),
		HTTPBurst: getEnvInt("HTTP_BURST", 40),

		CatalogBackend:  strings.ToLower(getEnv("CATALOG_BACKEND", CatalogMemory)),
		MongoURI:        getEnv("MONGO_URI", "mongodb://localhost:27017"),
		MongoDatabase:   getEnv("MONGO_DB", "streamfs"),
		MongoCollection: getEnv("MONGO_COLLECTION", "torrents"),
		RedisURL:        getEnv("REDIS_URL", ""),
		ResolveCacheTTL: getEnvDuration("RESOLVE_CACHE_TTL", 24*time.Hour),

		FuseMountPath:    getEnv("FUSE_MOUNT_PATH", "/tmp/streamfs-mnt"),
		FuseAllowOther:   getEnvBool("FUSE_ALLOW_OTHER", true),
		FuseMaxReadAhead: getEnvInt("FUSE_MAX_READAHEAD", 1<<20),
		FuseUID:          getEnvInt("FUSE_UID", -1),
		FuseGID:          getEnvInt("FUSE_GID", -1),

		TorrentDataDir:       getEnv("TORRENT_DATA_DIR", "/tmp/streamfs-downloads"),
		TorrentStorage:       strings.ToLower(getEnv("TORRENT_STORAGE", "disk")),
		TorrentMemoryBytes:   getEnvInt64("TORRENT_MEMORY_BYTES", 256<<20),
		TorrentListenPort:    getEnvInt("TORRENT_LISTEN_PORT", 6881),
		TorrentMaxConns:      getEnvInt("TORRENT_MAX_CONNS", 55),
		TorrentUploadLimit:   getEnvInt64("TORRENT_UPLOAD_LIMIT", -1),
		TorrentDownloadLimit: getEnvInt64("TORRENT_DOWNLOAD_LIMIT", -1),

		PauseAfter:       getEnvDuration("PAUSE_AFTER", 10*time.Second),
		StopAfter:        getEnvDuration("STOP_AFTER", 60*time.Second),
		MaxReady:         getEnvInt("MAX_READY", 2),
		StartTimeout:     getEnvDuration("START_TIMEOUT", 30*time.Second),
		EngineTimeout:    getEnvDuration("ENGINE_TIMEOUT", 30*time.Second),
		ClassifyInterval: getEnvDuration("CLASSIFY_INTERVAL", 10*time.Second),
		ActuateInterval:  getEnvDuration("ACTUATE_INTERVAL", 5*time.Second),

		IndexConcurrency:   getEnvInt("INDEX_CONCURRENCY", 5),
		IndexAdmitInterval: getEnvDuration("INDEX_ADMIT_INTERVAL", 10*time.Second),
		IndexDrainInterval: getEnvDuration("INDEX_DRAIN_INTERVAL", 30*time.Second),

		ResolveMetadataTimeout: getEnvDuration("RESOLVE_METADATA_TIMEOUT", 30*time.Second),
		ResolveRate:            getEnvFloat("RESOLVE_RATE", 5),

		FeedsFile:        getEnv("FEEDS_FILE", ""),
		FeedPollInterval: getEnvDuration("FEED_POLL_INTERVAL", 15*time.Minute),

		OTLPEndpoint:    getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
		TraceSampleRate: getEnvFloat("OTEL_TRACES_SAMPLER_ARG", 0.1),
	}
}

var ErrInvalidConfig = errors.New("invalid config")

func (c Config) Validate() error {
	var errs []error
	if c.PauseAfter >= c.StopAfter {
		errs = append(errs, fmt.Errorf("PAUSE_AFTER (%s) must be below STOP_AFTER (%s)", c.PauseAfter, c.StopAfter))
	}
	if c.MaxReady < 1 {
		errs = append(errs, fmt.Errorf("MAX_READY must be at least 1, got %d", c.MaxReady))
	}
	if c.IndexConcurrency < 1 {
		errs = append(errs, fmt.Errorf("INDEX_CONCURRENCY must be at least 1, got %d", c.IndexConcurrency))
	}
	switch c.CatalogBackend {
	case CatalogMemory, CatalogMongo:
	default:
		errs = append(errs, fmt.Errorf("CATALOG_BACKEND must be %s or %s, got %q", CatalogMemory, CatalogMongo, c.CatalogBackend))
	}
	switch c.TorrentStorage {
	case "disk", "memory":
	default:
		errs = append(errs, fmt.Errorf("TORRENT_STORAGE must be disk or memory, got %q", c.TorrentStorage))
	}
	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrInvalidConfig, errors.Join(errs...))
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getEnvInt64(key string, fallback int64) int64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return fallback
	}
	if parsed < 0 {
		return fallback
	}
	return parsed
}

func getEnvInt(key string, fallback int) int {
	return int(getEnvInt64(key, int64(fallback)))
}

func getEnvFloat(key string, fallback float64) float64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil || parsed < 0 {
		return fallback
	}
	return parsed
}

func getEnvBool(key string, fallback bool) bool {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(value)
	if err != nil || parsed < 0 {
		return fallback
	}
	return parsed
}

package ports

import (
	"context"
	"io"

	"torrentstream/streamfs/internal/domain"
)

// Swarm is an engine-side torrent whose metadata is known.
type Swarm interface {
	InfoHash() domain.InfoHash
	Files() []domain.FileRef
}

type SwarmEngine interface {
	// Join adds the magnet and returns once metadata is available.
	Join(ctx context.Context, magnetURI string) (Swarm, error)
	Resume(ctx context.Context, s Swarm) error
	Pause(ctx context.Context, s Swarm) error
	Destroy(ctx context.Context, s Swarm, purgeStorage bool) error
	// StreamRange streams bytes [start, end) of the file at filePath.
	StreamRange(ctx context.Context, s Swarm, filePath string, start, end int64) (io.ReadCloser, error)
	Close() error
}

// MetadataFetcher joins a swarm only long enough to learn its metadata.
type MetadataFetcher interface {
	FetchMetadata(ctx context.Context, magnetURI string) (domain.ResolvedInfo, error)
}

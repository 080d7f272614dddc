package ports

import (
	"context"

	"torrentstream/streamfs/internal/domain"
)

// Catalog is the durable store of torrent records. Lookups return
// domain.ErrNotFound when nothing matches.
type Catalog interface {
	Create(ctx context.Context, r domain.TorrentRecord) error
	Update(ctx context.Context, id string, u domain.RecordUpdate) (domain.TorrentRecord, error)
	Get(ctx context.Context, id string) (domain.TorrentRecord, error)
	FindByInfoHash(ctx context.Context, infoHash domain.InfoHash) (domain.TorrentRecord, error)
	FindByFeedGuid(ctx context.Context, guid string) (domain.TorrentRecord, error)
	FindByMagnetURI(ctx context.Context, uri string) (domain.TorrentRecord, error)
	// ListVisible returns visible records in insertion order.
	ListVisible(ctx context.Context) ([]domain.VisibleTorrent, error)
	// ListByStatus returns records oldest first. No statuses means all records.
	ListByStatus(ctx context.Context, statuses ...domain.TorrentStatus) ([]domain.TorrentRecord, error)
	CountByStatus(ctx context.Context, status domain.TorrentStatus) (int64, error)
	// PopOldestNew atomically moves the oldest NEW record to QUEUED.
	PopOldestNew(ctx context.Context) (domain.TorrentRecord, error)
	// SetVisible toggles visibility of the READY record with the given hash.
	SetVisible(ctx context.Context, infoHash domain.InfoHash, visible bool) error
}

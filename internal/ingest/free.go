package ingest

import (
	"context"

	"torrentstream/streamfs/internal/domain"
)

// FreeSource serves a fixed list of torrents whose metadata is already
// known. Their link is the free marker, so indexing needs no network.
type FreeSource struct {
	FeedName string
	Items    []domain.ResolvedInfo
}

func (s FreeSource) Name() string { return s.FeedName }

func (s FreeSource) Fetch(context.Context) ([]domain.FeedItem, error) {
	items := make([]domain.FeedItem, 0, len(s.Items))
	for _, info := range s.Items {
		info.SourceType = domain.SourceFree
		guid := domain.FreeMarker + ":" + string(domain.NormalizeInfoHash(string(info.InfoHash)))
		items = append(items, domain.FeedItem{Guid: guid, Link: guid, Free: &info})
	}
	return items, nil
}

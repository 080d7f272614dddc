// Package ingest turns feed entries into NEW catalog records. Ingesting the
// same guid twice is a no-op.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"torrentstream/streamfs/internal/domain"
	"torrentstream/streamfs/internal/domain/ports"
	"torrentstream/streamfs/internal/metrics"
)

type Result struct {
	Created   int `json:"created"`
	Duplicate int `json:"duplicate"`
	Skipped   int `json:"skipped"`
}

func (r *Result) add(o Result) {
	r.Created += o.Created
	r.Duplicate += o.Duplicate
	r.Skipped += o.Skipped
}

type Ingestor struct {
	Catalog ports.Catalog
	Logger  *slog.Logger
	// NewID defaults to a random UUID.
	NewID func() string
}

// Ingest creates a record for every item whose guid is not yet catalogued.
// Items without a guid or link are skipped. The first catalog failure
// aborts the batch.
func (in Ingestor) Ingest(ctx context.Context, items []domain.FeedItem) (Result, error) {
	var res Result
	for _, item := range items {
		out, err := in.ingestOne(ctx, item)
		if err != nil {
			metrics.IngestItemsTotal.WithLabelValues("error").Inc()
			return res, err
		}
		switch out {
		case outcomeCreated:
			res.Created++
		case outcomeDuplicate:
			res.Duplicate++
		default:
			res.Skipped++
		}
		metrics.IngestItemsTotal.WithLabelValues(string(out)).Inc()
	}
	return res, nil
}

type outcome string

const (
	outcomeCreated   outcome = "created"
	outcomeDuplicate outcome = "duplicate"
	outcomeSkipped   outcome = "skipped"
)

func (in Ingestor) ingestOne(ctx context.Context, item domain.FeedItem) (outcome, error) {
	guid := strings.TrimSpace(item.Guid)
	link := strings.TrimSpace(item.Link)
	if guid == "" || link == "" {
		return outcomeSkipped, nil
	}

	_, err := in.Catalog.FindByFeedGuid(ctx, guid)
	if err == nil {
		return outcomeDuplicate, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return "", fmt.Errorf("lookup guid %s: %w", guid, err)
	}

	rec := domain.TorrentRecord{
		ID:       in.newID(),
		FeedGuid: guid,
		FeedURL:  link,
		Status:   domain.StatusNew,
	}
	if item.Free != nil {
		rec.InfoHash = domain.NormalizeInfoHash(string(item.Free.InfoHash))
		rec.Name = item.Free.Name
		rec.MagnetURI = item.Free.MagnetURI
		rec.Files = append([]domain.FileRef(nil), item.Free.Files...)
	}

	if err := in.Catalog.Create(ctx, rec); err != nil {
		if errors.Is(err, domain.ErrAlreadyExists) {
			return outcomeDuplicate, nil
		}
		return "", fmt.Errorf("create record for guid %s: %w", guid, err)
	}
	in.logger().Debug("ingest: record created",
		slog.String("id", rec.ID),
		slog.String("feedGuid", guid),
		slog.String("feedURL", link))
	return outcomeCreated, nil
}

func (in Ingestor) newID() string {
	if in.NewID != nil {
		return in.NewID()
	}
	return uuid.NewString()
}

func (in Ingestor) logger() *slog.Logger {
	if in.Logger != nil {
		return in.Logger
	}
	return slog.Default()
}

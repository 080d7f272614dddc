package ingest

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	"torrentstream/streamfs/internal/domain"
)

const (
	userAgent       = "streamfs/1.0"
	maxFeedBodySize = 8 << 20
)

// Source yields the current entries of one feed.
type Source interface {
	Name() string
	Fetch(ctx context.Context) ([]domain.FeedItem, error)
}

func fetchBody(ctx context.Context, client *http.Client, url, accept string) ([]byte, error) {
	if client == nil {
		client = http.DefaultClient
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", accept)

	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return nil, fmt.Errorf("feed HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return io.ReadAll(io.LimitReader(resp.Body, maxFeedBodySize))
}

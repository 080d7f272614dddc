package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"torrentstream/streamfs/internal/domain"
)

// JSONSource reads a Jackett results document. A result without a link
// whose guid is a magnet uses the guid as its link.
type JSONSource struct {
	FeedName string
	URL      string
	Client   *http.Client
}

func (s JSONSource) Name() string { return s.FeedName }

type jackettResults struct {
	Results []struct {
		Guid *string `json:"Guid"`
		Link *string `json:"Link"`
	} `json:"Results"`
}

func (s JSONSource) Fetch(ctx context.Context) ([]domain.FeedItem, error) {
	body, err := fetchBody(ctx, s.Client, s.URL, "application/json")
	if err != nil {
		return nil, fmt.Errorf("json feed %s: %w", s.FeedName, err)
	}
	return parseJackett(body)
}

func parseJackett(payload []byte) ([]domain.FeedItem, error) {
	var doc jackettResults
	if err := json.Unmarshal(payload, &doc); err != nil {
		return nil, fmt.Errorf("invalid jackett JSON: %w", err)
	}
	items := make([]domain.FeedItem, 0, len(doc.Results))
	for _, r := range doc.Results {
		var guid, link string
		if r.Guid != nil {
			guid = strings.TrimSpace(*r.Guid)
		}
		if r.Link != nil {
			link = strings.TrimSpace(*r.Link)
		}
		if link == "" && strings.HasPrefix(guid, "magnet") {
			link = guid
		}
		items = append(items, domain.FeedItem{Guid: guid, Link: link})
	}
	return items, nil
}

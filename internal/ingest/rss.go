package ingest

import (
	"context"
	"encoding/xml"
	"fmt"
	"net/http"
	"strings"

	"torrentstream/streamfs/internal/domain"
)

// RSSSource reads guid and link from the items of an RSS or Torznab feed.
// An item without a link falls back to its enclosure URL.
type RSSSource struct {
	FeedName string
	URL      string
	Client   *http.Client
}

func (s RSSSource) Name() string { return s.FeedName }

type rssDocument struct {
	Channel struct {
		Items []rssItem `xml:"item"`
	} `xml:"channel"`
}

type rssItem struct {
	Guid      string `xml:"guid"`
	Link      string `xml:"link"`
	Enclosure struct {
		URL string `xml:"url,attr"`
	} `xml:"enclosure"`
}

func (s RSSSource) Fetch(ctx context.Context) ([]domain.FeedItem, error) {
	body, err := fetchBody(ctx, s.Client, s.URL, "application/rss+xml,application/xml,text/xml")
	if err != nil {
		return nil, fmt.Errorf("rss feed %s: %w", s.FeedName, err)
	}
	return parseRSS(body)
}

func parseRSS(payload []byte) ([]domain.FeedItem, error) {
	var doc rssDocument
	if err := xml.Unmarshal(payload, &doc); err != nil {
		return nil, fmt.Errorf("invalid rss XML: %w", err)
	}
	items := make([]domain.FeedItem, 0, len(doc.Channel.Items))
	for _, it := range doc.Channel.Items {
		link := strings.TrimSpace(it.Link)
		if link == "" {
			link = strings.TrimSpace(it.Enclosure.URL)
		}
		items = append(items, domain.FeedItem{Guid: strings.TrimSpace(it.Guid), Link: link})
	}
	return items, nil
}

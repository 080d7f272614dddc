package domain

type FeedType string

const (
	FeedRSS  FeedType = "rss"
	FeedJSON FeedType = "json"
	FeedFree FeedType = "free"
)

// FeedItem is a raw feed entry. Free items carry their metadata inline.
type FeedItem struct {
	Guid string
	Link string

	Free *ResolvedInfo
}

package domain

import "strings"

type SourceType string

const (
	SourceMagnet SourceType = "magnet"
	SourceFile   SourceType = "file"
	SourceFree   SourceType = "free"
)

// FreeMarker is the feed URL of sample content that needs no resolution.
const FreeMarker = "free"

func IsFreeURL(feedURL string) bool {
	return feedURL == FreeMarker || strings.HasPrefix(feedURL, FreeMarker+":")
}

// ResolvedInfo is what the resolution pipeline learns about a feed URL.
// Fields are empty when the source does not provide them.
type ResolvedInfo struct {
	SourceType SourceType `json:"sourceType"`
	InfoHash   InfoHash   `json:"infoHash,omitempty"`
	Name       string     `json:"name,omitempty"`
	MagnetURI  string     `json:"magnetURI,omitempty"`
	Files      []FileRef  `json:"files,omitempty"`
}

// Complete reports whether the info carries everything a READY record needs.
func (ri ResolvedInfo) Complete() bool {
	return ri.InfoHash != "" && ri.Name != "" && ri.MagnetURI != "" && len(ri.Files) > 0
}

package resolver

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/anacrolix/torrent/metainfo"

	"torrentstream/streamfs/internal/domain"
)

func isMagnet(link string) bool {
	return strings.HasPrefix(strings.ToLower(strings.TrimSpace(link)), "magnet:")
}

// parseMagnet reads the info-hash out of a magnet URI without touching the swarm.
func parseMagnet(uri string) (domain.ResolvedInfo, error) {
	m, err := metainfo.ParseMagnetUri(strings.TrimSpace(uri))
	if err != nil {
		return domain.ResolvedInfo{}, fmt.Errorf("parse magnet: %w", err)
	}
	ih := domain.NormalizeInfoHash(m.InfoHash.HexString())
	if ih == "" {
		return domain.ResolvedInfo{}, fmt.Errorf("parse magnet: no btih info-hash")
	}
	return domain.ResolvedInfo{
		SourceType: domain.SourceMagnet,
		InfoHash:   ih,
		Name:       m.DisplayName,
		MagnetURI:  uri,
	}, nil
}

// BuildMagnet assembles a magnet URI from an info-hash, display name and trackers.
func BuildMagnet(infoHash domain.InfoHash, name string, trackers []string) string {
	if infoHash == "" {
		return ""
	}
	var b strings.Builder
	b.WriteString("magnet:?xt=urn:btih:")
	b.WriteString(string(infoHash))
	if n := strings.TrimSpace(name); n != "" {
		b.WriteString("&dn=")
		b.WriteString(url.QueryEscape(n))
	}
	seen := make(map[string]struct{}, len(trackers))
	for _, tracker := range trackers {
		value := strings.TrimSpace(tracker)
		if value == "" {
			continue
		}
		if _, dup := seen[value]; dup {
			continue
		}
		seen[value] = struct{}{}
		b.WriteString("&tr=")
		b.WriteString(url.QueryEscape(value))
	}
	return b.String()
}

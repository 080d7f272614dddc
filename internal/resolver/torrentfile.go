package resolver

import (
	"bytes"
	"fmt"
	"path"
	"strings"

	"github.com/anacrolix/torrent/metainfo"

	"torrentstream/streamfs/internal/domain"
)

// parseTorrentFile resolves everything directly from .torrent bytes.
func parseTorrentFile(payload []byte) (domain.ResolvedInfo, error) {
	mi, err := metainfo.Load(bytes.NewReader(payload))
	if err != nil {
		return domain.ResolvedInfo{}, fmt.Errorf("parse torrent file: %w", err)
	}
	info, err := mi.UnmarshalInfo()
	if err != nil {
		return domain.ResolvedInfo{}, fmt.Errorf("parse torrent info: %w", err)
	}

	ih := domain.InfoHash(mi.HashInfoBytes().HexString())
	name := info.BestName()
	return domain.ResolvedInfo{
		SourceType: domain.SourceFile,
		InfoHash:   ih,
		Name:       name,
		MagnetURI:  BuildMagnet(ih, name, announceURLs(mi)),
		Files:      fileRefs(name, &info),
	}, nil
}

// fileRefs lists files the way the swarm engine names them: the torrent name
// alone for single-file torrents, name/sub/path otherwise.
func fileRefs(name string, info *metainfo.Info) []domain.FileRef {
	if !info.IsDir() {
		return []domain.FileRef{{Name: name, Path: name, Length: info.Length}}
	}
	out := make([]domain.FileRef, 0, len(info.Files))
	for _, fi := range info.Files {
		segments := fi.BestPath()
		if len(segments) == 0 {
			continue
		}
		p := path.Join(append([]string{name}, segments...)...)
		out = append(out, domain.FileRef{
			Name:   segments[len(segments)-1],
			Path:   p,
			Length: fi.Length,
		})
	}
	return out
}

func announceURLs(mi *metainfo.MetaInfo) []string {
	var out []string
	if a := strings.TrimSpace(mi.Announce); a != "" {
		out = append(out, a)
	}
	for _, tier := range mi.AnnounceList {
		out = append(out, tier...)
	}
	return out
}

package fsbridge

import (
	"strings"

	"torrentstream/streamfs/internal/domain"
)

type pathKind int

const (
	kindRoot pathKind = iota
	kindTorrent
	kindEntry
	kindInvalid
)

type fsPath struct {
	kind     pathKind
	infoHash domain.InfoHash
	// sub is the path below the torrent directory, without a leading slash.
	sub string
}

// parsePath splits /{infoHash}/{subpath}. The hash is matched without
// regard to case.
func parsePath(p string) fsPath {
	p = strings.Trim(p, "/")
	if p == "" {
		return fsPath{kind: kindRoot}
	}
	head, rest, _ := strings.Cut(p, "/")
	ih := domain.NormalizeInfoHash(head)
	if ih == "" {
		return fsPath{kind: kindInvalid}
	}
	rest = strings.Trim(rest, "/")
	if rest == "" {
		return fsPath{kind: kindTorrent, infoHash: ih}
	}
	return fsPath{kind: kindEntry, infoHash: ih, sub: rest}
}

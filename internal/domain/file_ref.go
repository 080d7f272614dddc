package domain

// FileRef is one file of a torrent. Path is slash separated and starts with
// the torrent name for multi-file torrents.
type FileRef struct {
	Name   string `json:"name"`
	Path   string `json:"path"`
	Length int64  `json:"length"`
}

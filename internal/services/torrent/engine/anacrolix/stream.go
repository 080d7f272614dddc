package anacrolix

import (
	"context"
	"fmt"
	"io"

	"github.com/anacrolix/torrent"

	"torrentstream/streamfs/internal/domain"
	"torrentstream/streamfs/internal/domain/ports"
)

func (e *Engine) StreamRange(ctx context.Context, s ports.Swarm, filePath string, start, end int64) (io.ReadCloser, error) {
	t, err := torrentOf(s)
	if err != nil {
		return nil, err
	}
	if start < 0 || end < start {
		return nil, fmt.Errorf("invalid range [%d, %d)", start, end)
	}
	f := findFile(t.Files(), filePath)
	if f == nil {
		return nil, fmt.Errorf("file %q in %s: %w", filePath, s.InfoHash(), domain.ErrNotFound)
	}
	if end > f.Length() {
		end = f.Length()
	}

	var r ports.StreamReader = f.NewReader()
	r.SetContext(ctx)
	r.SetResponsive()
	r.SetReadahead(e.readahead)
	if _, err := r.Seek(start, io.SeekStart); err != nil {
		_ = r.Close()
		return nil, fmt.Errorf("seek %s to %d: %w", filePath, start, err)
	}
	return &rangeReader{Reader: io.LimitReader(r, end-start), closer: r}, nil
}

func findFile(files []*torrent.File, filePath string) *torrent.File {
	for _, f := range files {
		if f.Path() == filePath {
			return f
		}
	}
	return nil
}

type rangeReader struct {
	io.Reader
	closer io.Closer
}

func (r *rangeReader) Close() error { return r.closer.Close() }

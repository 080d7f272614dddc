package resolver

import (
	"context"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"

	"torrentstream/streamfs/internal/domain"
)

// fetchLink performs the http step: a 302 to a magnet or a 200 carrying a
// .torrent attachment. Anything else is unsupported.
func (r *Resolver) fetchLink(ctx context.Context, link string) (resolved domain.ResolvedInfo, err error) {
	if r.limiter != nil {
		if err := r.limiter.Wait(ctx); err != nil {
			return resolved, err
		}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, link, nil)
	if err != nil {
		return resolved, fmt.Errorf("build request: %w", err)
	}
	resp, err := r.client.Do(req)
	if err != nil {
		return resolved, fmt.Errorf("fetch %s: %w", link, err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusFound:
		location := resp.Header.Get("Location")
		if !isMagnet(location) {
			return resolved, fmt.Errorf("%w: redirect to non-magnet %q", ErrUnsupportedResponse, location)
		}
		return parseMagnet(location)
	case http.StatusOK:
		if !isTorrentAttachment(resp.Header) {
			return resolved, fmt.Errorf("%w: content-type %q, disposition %q", ErrUnsupportedResponse,
				resp.Header.Get("Content-Type"), resp.Header.Get("Content-Disposition"))
		}
		payload, err := io.ReadAll(io.LimitReader(resp.Body, maxTorrentFileBytes+1))
		if err != nil {
			return resolved, fmt.Errorf("read torrent file: %w", err)
		}
		if len(payload) > maxTorrentFileBytes {
			return resolved, fmt.Errorf("%w: torrent file larger than %d bytes", ErrUnsupportedResponse, maxTorrentFileBytes)
		}
		return parseTorrentFile(payload)
	default:
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return resolved, fmt.Errorf("%w: status %d", ErrUnsupportedResponse, resp.StatusCode)
	}
}

func isTorrentAttachment(h http.Header) bool {
	mediaType, _, err := mime.ParseMediaType(h.Get("Content-Type"))
	if err != nil || mediaType != "application/x-bittorrent" {
		return false
	}
	disposition := strings.ToLower(strings.TrimSpace(h.Get("Content-Disposition")))
	return strings.HasPrefix(disposition, "attachment")
}

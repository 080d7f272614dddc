package anacrolix

import (
	"context"

	"torrentstream/streamfs/internal/domain"
)

// FetchMetadata joins the swarm only until its info dictionary arrives, then
// leaves it again.
func (e *Engine) FetchMetadata(ctx context.Context, magnetURI string) (domain.ResolvedInfo, error) {
	s, err := e.Join(ctx, magnetURI)
	if err != nil {
		return domain.ResolvedInfo{}, err
	}
	sw := s.(*swarm)
	defer e.release(sw.infoHash, sw.t)

	return domain.ResolvedInfo{
		SourceType: domain.SourceMagnet,
		InfoHash:   sw.infoHash,
		Name:       sw.t.Name(),
		MagnetURI:  magnetURI,
		Files:      sw.Files(),
	}, nil
}

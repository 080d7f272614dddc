package anacrolix

import (
	"errors"

	"github.com/anacrolix/torrent"

	"torrentstream/streamfs/internal/domain"
	"torrentstream/streamfs/internal/domain/ports"
)

var ErrForeignSwarm = errors.New("swarm was not created by this engine")

type swarm struct {
	t        *torrent.Torrent
	infoHash domain.InfoHash
	files    []domain.FileRef
}

func (s *swarm) InfoHash() domain.InfoHash { return s.infoHash }

func (s *swarm) Files() []domain.FileRef {
	return append([]domain.FileRef(nil), s.files...)
}

func torrentOf(s ports.Swarm) (*torrent.Torrent, error) {
	sw, ok := s.(*swarm)
	if !ok || sw == nil || sw.t == nil {
		return nil, ErrForeignSwarm
	}
	return sw.t, nil
}

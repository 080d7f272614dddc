package domain

// TorrentStatus is the persisted indexing state of a catalog record.
type TorrentStatus string

const (
	StatusNew        TorrentStatus = "NEW"
	StatusQueued     TorrentStatus = "QUEUED"
	StatusProcessing TorrentStatus = "PROCESSING"
	StatusReady      TorrentStatus = "READY"
	StatusError      TorrentStatus = "ERROR"
	StatusTimeout    TorrentStatus = "TIMEOUT"
)

var validTransitions = map[TorrentStatus][]TorrentStatus{
	StatusNew:        {StatusQueued},
	StatusQueued:     {StatusProcessing},
	StatusProcessing: {StatusReady, StatusError, StatusTimeout},
	// Terminal failures only move on through an explicit retry.
	StatusError:   {StatusNew},
	StatusTimeout: {StatusNew},
}

// CanTransition reports whether a record may move from one status to another.
func CanTransition(from, to TorrentStatus) bool {
	for _, t := range validTransitions[from] {
		if t == to {
			return true
		}
	}
	return false
}

func (s TorrentStatus) Valid() bool {
	switch s {
	case StatusNew, StatusQueued, StatusProcessing, StatusReady, StatusError, StatusTimeout:
		return true
	}
	return false
}

// Terminal reports whether the indexer is done with a record in this status.
func (s TorrentStatus) Terminal() bool {
	return s == StatusReady || s == StatusError || s == StatusTimeout
}

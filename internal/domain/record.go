package domain

import (
	"fmt"
	"time"
)

type TorrentRecord struct {
	ID        string        `json:"id"`
	FeedGuid  string        `json:"feedGuid"`
	FeedURL   string        `json:"feedURL"`
	InfoHash  InfoHash      `json:"infoHash,omitempty"`
	Name      string        `json:"name,omitempty"`
	MagnetURI string        `json:"magnetURI,omitempty"`
	Files     []FileRef     `json:"files,omitempty"`
	Status    TorrentStatus `json:"status"`
	Errors    string        `json:"errors,omitempty"`
	IsVisible bool          `json:"isVisible"`
	CreatedAt time.Time     `json:"createdAt"`
	UpdatedAt time.Time     `json:"updatedAt"`
}

// Resolved reports whether the four fields needed to serve the record are set.
func (r TorrentRecord) Resolved() bool {
	return r.InfoHash != "" && r.Name != "" && r.MagnetURI != "" && len(r.Files) > 0
}

// Validate checks domain invariants for TorrentRecord.
func (r TorrentRecord) Validate() error {
	if r.ID == "" {
		return fmt.Errorf("%w: id is required", ErrInvalidRecord)
	}
	if r.FeedGuid == "" {
		return fmt.Errorf("%w: feedGuid is required", ErrInvalidRecord)
	}
	if !r.Status.Valid() {
		return fmt.Errorf("%w: invalid status %q", ErrInvalidRecord, r.Status)
	}
	if r.InfoHash != "" && !r.InfoHash.Valid() {
		return fmt.Errorf("%w: malformed infoHash %q", ErrInvalidRecord, r.InfoHash)
	}
	if r.IsVisible {
		if r.Status != StatusReady {
			return fmt.Errorf("%w: visible record must be READY, got %s", ErrInvalidRecord, r.Status)
		}
		if !r.Resolved() {
			return fmt.Errorf("%w: visible record is missing metadata", ErrInvalidRecord)
		}
	}
	return nil
}

// RecordUpdate is a partial update. Nil fields are left unchanged.
type RecordUpdate struct {
	// From, when set, makes the update conditional on the stored status.
	// A catalog whose record has moved on rejects it with
	// ErrInvalidTransition.
	From *TorrentStatus

	InfoHash  *InfoHash
	Name      *string
	MagnetURI *string
	Files     *[]FileRef
	Status    *TorrentStatus
	Errors    *string
	IsVisible *bool
}

// Apply returns a copy of r with the update merged in.
func (u RecordUpdate) Apply(r TorrentRecord) TorrentRecord {
	if u.InfoHash != nil {
		r.InfoHash = *u.InfoHash
	}
	if u.Name != nil {
		r.Name = *u.Name
	}
	if u.MagnetURI != nil {
		r.MagnetURI = *u.MagnetURI
	}
	if u.Files != nil {
		r.Files = append([]FileRef(nil), (*u.Files)...)
	}
	if u.Status != nil {
		r.Status = *u.Status
	}
	if u.Errors != nil {
		r.Errors = *u.Errors
	}
	if u.IsVisible != nil {
		r.IsVisible = *u.IsVisible
	}
	return r
}

// VisibleTorrent is the projection served as a top-level directory.
type VisibleTorrent struct {
	InfoHash InfoHash `json:"infoHash"`
	Name     string   `json:"name"`
}

// Package memory is an in-process catalog. Records keep insertion order,
// which is the order ListVisible and ListByStatus report.
package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"torrentstream/streamfs/internal/domain"
)

type Catalog struct {
	mu      sync.RWMutex
	order   []string
	records map[string]domain.TorrentRecord
	now     func() time.Time
}

func NewCatalog() *Catalog {
	return &Catalog{
		records: make(map[string]domain.TorrentRecord),
		now:     time.Now,
	}
}

func (c *Catalog) Create(_ context.Context, r domain.TorrentRecord) error {
	now := c.now().UTC()
	if r.CreatedAt.IsZero() {
		r.CreatedAt = now
	}
	if r.UpdatedAt.IsZero() {
		r.UpdatedAt = now
	}
	if err := r.Validate(); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.records[r.ID]; ok {
		return domain.ErrAlreadyExists
	}
	for _, id := range c.order {
		if c.records[id].FeedGuid == r.FeedGuid {
			return domain.ErrAlreadyExists
		}
	}
	c.records[r.ID] = clone(r)
	c.order = append(c.order, r.ID)
	return nil
}

func (c *Catalog) Update(_ context.Context, id string, u domain.RecordUpdate) (domain.TorrentRecord, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	current, ok := c.records[id]
	if !ok {
		return domain.TorrentRecord{}, domain.ErrNotFound
	}
	if u.From != nil && current.Status != *u.From {
		return domain.TorrentRecord{}, fmt.Errorf("%w: record %s is %s, not %s", domain.ErrInvalidTransition, id, current.Status, *u.From)
	}
	next := u.Apply(current)
	next.UpdatedAt = c.now().UTC()
	if err := next.Validate(); err != nil {
		return domain.TorrentRecord{}, err
	}
	c.records[id] = next
	return clone(next), nil
}

func (c *Catalog) Get(_ context.Context, id string) (domain.TorrentRecord, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	r, ok := c.records[id]
	if !ok {
		return domain.TorrentRecord{}, domain.ErrNotFound
	}
	return clone(r), nil
}

func (c *Catalog) FindByInfoHash(_ context.Context, infoHash domain.InfoHash) (domain.TorrentRecord, error) {
	return c.find(func(r domain.TorrentRecord) bool { return r.InfoHash == infoHash })
}

func (c *Catalog) FindByFeedGuid(_ context.Context, guid string) (domain.TorrentRecord, error) {
	return c.find(func(r domain.TorrentRecord) bool { return r.FeedGuid == guid })
}

func (c *Catalog) FindByMagnetURI(_ context.Context, uri string) (domain.TorrentRecord, error) {
	return c.find(func(r domain.TorrentRecord) bool { return r.MagnetURI == uri })
}

func (c *Catalog) ListVisible(_ context.Context) ([]domain.VisibleTorrent, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]domain.VisibleTorrent, 0)
	for _, id := range c.order {
		r := c.records[id]
		if r.IsVisible {
			out = append(out, domain.VisibleTorrent{InfoHash: r.InfoHash, Name: r.Name})
		}
	}
	return out, nil
}

func (c *Catalog) ListByStatus(_ context.Context, statuses ...domain.TorrentStatus) ([]domain.TorrentRecord, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]domain.TorrentRecord, 0)
	for _, id := range c.order {
		r := c.records[id]
		if matchStatus(r.Status, statuses) {
			out = append(out, clone(r))
		}
	}
	return out, nil
}

func (c *Catalog) CountByStatus(_ context.Context, status domain.TorrentStatus) (int64, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var n int64
	for _, r := range c.records {
		if r.Status == status {
			n++
		}
	}
	return n, nil
}

func (c *Catalog) PopOldestNew(_ context.Context) (domain.TorrentRecord, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var oldest *domain.TorrentRecord
	for _, id := range c.order {
		r := c.records[id]
		if r.Status != domain.StatusNew {
			continue
		}
		if oldest == nil || r.CreatedAt.Before(oldest.CreatedAt) {
			oldest = &r
		}
	}
	if oldest == nil {
		return domain.TorrentRecord{}, domain.ErrNotFound
	}
	oldest.Status = domain.StatusQueued
	oldest.UpdatedAt = c.now().UTC()
	c.records[oldest.ID] = *oldest
	return clone(*oldest), nil
}

func (c *Catalog) SetVisible(_ context.Context, infoHash domain.InfoHash, visible bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	matched := false
	for _, id := range c.order {
		r := c.records[id]
		if r.InfoHash != infoHash || r.Status != domain.StatusReady {
			continue
		}
		r.IsVisible = visible
		if err := r.Validate(); err != nil {
			return err
		}
		r.UpdatedAt = c.now().UTC()
		c.records[id] = r
		matched = true
	}
	if !matched {
		return fmt.Errorf("set visibility of %s: %w", infoHash, domain.ErrNotFound)
	}
	return nil
}

func (c *Catalog) find(match func(domain.TorrentRecord) bool) (domain.TorrentRecord, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, id := range c.order {
		if r := c.records[id]; match(r) {
			return clone(r), nil
		}
	}
	return domain.TorrentRecord{}, domain.ErrNotFound
}

func matchStatus(s domain.TorrentStatus, statuses []domain.TorrentStatus) bool {
	if len(statuses) == 0 {
		return true
	}
	for _, want := range statuses {
		if s == want {
			return true
		}
	}
	return false
}

func clone(r domain.TorrentRecord) domain.TorrentRecord {
	if r.Files != nil {
		r.Files = append([]domain.FileRef(nil), r.Files...)
	}
	return r
}

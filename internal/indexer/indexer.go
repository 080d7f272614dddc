// Package indexer moves catalog records from NEW to a terminal status by
// resolving their feed URLs with bounded concurrency.
package indexer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"torrentstream/streamfs/internal/domain"
	"torrentstream/streamfs/internal/domain/ports"
	"torrentstream/streamfs/internal/metrics"
)

const (
	defaultConcurrency   = 5
	defaultAdmitInterval = 10 * time.Second
	defaultDrainInterval = 30 * time.Second

	incompleteDetail = "Failed to get info"
)

// ErrIncomplete reports a resolution that succeeded without yielding
// everything a READY record needs.
var ErrIncomplete = errors.New("incomplete metadata")

type Resolver interface {
	Resolve(ctx context.Context, feedURL string) (domain.ResolvedInfo, error)
}

type Config struct {
	Catalog  ports.Catalog
	Resolver Resolver
	Logger   *slog.Logger
	// Concurrency caps both the QUEUED backlog and in-flight resolutions.
	Concurrency   int
	AdmitInterval time.Duration
	DrainInterval time.Duration
}

type Indexer struct {
	catalog       ports.Catalog
	resolver      Resolver
	logger        *slog.Logger
	concurrency   int
	admitInterval time.Duration
	drainInterval time.Duration

	admitting atomic.Bool
	draining  atomic.Bool
}

func New(cfg Config) *Indexer {
	ix := &Indexer{
		catalog:       cfg.Catalog,
		resolver:      cfg.Resolver,
		logger:        cfg.Logger,
		concurrency:   cfg.Concurrency,
		admitInterval: cfg.AdmitInterval,
		drainInterval: cfg.DrainInterval,
	}
	if ix.logger == nil {
		ix.logger = slog.Default()
	}
	if ix.concurrency < 1 {
		ix.concurrency = defaultConcurrency
	}
	if ix.admitInterval <= 0 {
		ix.admitInterval = defaultAdmitInterval
	}
	if ix.drainInterval <= 0 {
		ix.drainInterval = defaultDrainInterval
	}
	return ix
}

// Run admits and drains on their own tickers until ctx is done.
func (ix *Indexer) Run(ctx context.Context) {
	admit := time.NewTicker(ix.admitInterval)
	defer admit.Stop()
	drain := time.NewTicker(ix.drainInterval)
	defer drain.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-admit.C:
			go ix.tick(ctx, "admit", ix.AdmitOnce)
		case <-drain.C:
			go ix.tick(ctx, "drain", ix.DrainOnce)
		}
	}
}

func (ix *Indexer) tick(ctx context.Context, name string, fn func(context.Context) (int, error)) {
	n, err := fn(ctx)
	if err != nil {
		ix.logger.Warn("indexer: "+name+" failed", slog.String("error", err.Error()))
		return
	}
	if n > 0 {
		ix.logger.Debug("indexer: "+name, slog.Int("records", n))
	}
}

// AdmitOnce moves the oldest NEW records to QUEUED until the QUEUED backlog
// reaches the concurrency limit. It returns the number admitted. A call that
// overlaps a running one returns immediately.
func (ix *Indexer) AdmitOnce(ctx context.Context) (int, error) {
	if !ix.admitting.CompareAndSwap(false, true) {
		return 0, nil
	}
	defer ix.admitting.Store(false)
	defer ix.observeDepth(ctx)

	queued, err := ix.catalog.CountByStatus(ctx, domain.StatusQueued)
	if err != nil {
		return 0, fmt.Errorf("count queued: %w", err)
	}
	admitted := 0
	for queued < int64(ix.concurrency) {
		if ctx.Err() != nil {
			return admitted, ctx.Err()
		}
		if _, err := ix.catalog.PopOldestNew(ctx); err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				break
			}
			return admitted, fmt.Errorf("pop oldest new: %w", err)
		}
		queued++
		admitted++
	}
	return admitted, nil
}

// DrainOnce marks every QUEUED record PROCESSING, then resolves them with at
// most Concurrency workers. It returns once all workers finish.
func (ix *Indexer) DrainOnce(ctx context.Context) (int, error) {
	if !ix.draining.CompareAndSwap(false, true) {
		return 0, nil
	}
	defer ix.draining.Store(false)
	defer ix.observeDepth(ctx)

	queued, err := ix.catalog.ListByStatus(ctx, domain.StatusQueued)
	if err != nil {
		return 0, fmt.Errorf("list queued: %w", err)
	}

	processing := make([]domain.TorrentRecord, 0, len(queued))
	for _, rec := range queued {
		next, err := ix.setStatus(ctx, rec, domain.RecordUpdate{Status: statusPtr(domain.StatusProcessing)})
		if err != nil {
			ix.logger.Warn("indexer: mark processing failed",
				slog.String("id", rec.ID),
				slog.String("error", err.Error()))
			continue
		}
		processing = append(processing, next)
	}

	var g errgroup.Group
	g.SetLimit(ix.concurrency)
	for _, rec := range processing {
		g.Go(func() error {
			ix.process(ctx, rec)
			return nil
		})
	}
	_ = g.Wait()
	return len(processing), nil
}

// Retry sends a failed record back to NEW so it is indexed again.
func (ix *Indexer) Retry(ctx context.Context, id string) (domain.TorrentRecord, error) {
	rec, err := ix.catalog.Get(ctx, id)
	if err != nil {
		return domain.TorrentRecord{}, err
	}
	empty := ""
	return ix.setStatus(ctx, rec, domain.RecordUpdate{
		Status: statusPtr(domain.StatusNew),
		Errors: &empty,
	})
}

func (ix *Indexer) process(ctx context.Context, rec domain.TorrentRecord) {
	start := time.Now()
	info, resolveErr := ix.resolver.Resolve(ctx, rec.FeedURL)
	update, err := outcome(rec, info, resolveErr)

	saved, uerr := ix.setStatus(ctx, rec, update)
	metrics.IndexDuration.Observe(time.Since(start).Seconds())
	if uerr != nil {
		ix.logger.Error("indexer: store result failed",
			slog.String("id", rec.ID),
			slog.String("error", uerr.Error()))
		return
	}
	metrics.IndexResolutionsTotal.WithLabelValues(string(saved.Status)).Inc()

	if err != nil {
		ix.logger.Warn("indexer: record failed",
			slog.String("id", rec.ID),
			slog.String("feedURL", rec.FeedURL),
			slog.String("status", string(saved.Status)),
			slog.String("error", err.Error()))
		return
	}
	ix.logger.Info("indexer: record ready",
		slog.String("id", rec.ID),
		slog.String("infoHash", saved.InfoHash.String()),
		slog.String("name", saved.Name),
		slog.Duration("elapsed", time.Since(start)))
}

// outcome turns a resolution result into the terminal update for rec. The
// returned error is nil only when the record becomes READY.
func outcome(rec domain.TorrentRecord, info domain.ResolvedInfo, resolveErr error) (domain.RecordUpdate, error) {
	hidden := false
	if resolveErr != nil {
		status := domain.StatusError
		if errors.Is(resolveErr, domain.ErrTimeout) {
			status = domain.StatusTimeout
		}
		detail := resolveErr.Error()
		return domain.RecordUpdate{Status: &status, Errors: &detail, IsVisible: &hidden}, resolveErr
	}

	merged := merge(rec, info)
	if !merged.Resolved() {
		status := domain.StatusError
		detail := incompleteDetail
		return domain.RecordUpdate{Status: &status, Errors: &detail, IsVisible: &hidden},
			fmt.Errorf("%s: %w", rec.FeedURL, ErrIncomplete)
	}

	status := domain.StatusReady
	visible := true
	empty := ""
	return domain.RecordUpdate{
		InfoHash:  &merged.InfoHash,
		Name:      &merged.Name,
		MagnetURI: &merged.MagnetURI,
		Files:     &merged.Files,
		Status:    &status,
		Errors:    &empty,
		IsVisible: &visible,
	}, nil
}

// merge overlays the non-empty resolved fields onto rec. A free result
// carries nothing, so the metadata already on the record stands.
func merge(rec domain.TorrentRecord, info domain.ResolvedInfo) domain.TorrentRecord {
	if info.InfoHash != "" {
		rec.InfoHash = info.InfoHash
	}
	if info.Name != "" {
		rec.Name = info.Name
	}
	if info.MagnetURI != "" {
		rec.MagnetURI = info.MagnetURI
	}
	if len(info.Files) > 0 {
		rec.Files = info.Files
	}
	return rec
}

func (ix *Indexer) setStatus(ctx context.Context, rec domain.TorrentRecord, u domain.RecordUpdate) (domain.TorrentRecord, error) {
	if u.Status != nil && !domain.CanTransition(rec.Status, *u.Status) {
		return domain.TorrentRecord{}, fmt.Errorf("%w: %s to %s", domain.ErrInvalidTransition, rec.Status, *u.Status)
	}
	if u.Status != nil {
		from := rec.Status
		u.From = &from
	}
	return ix.catalog.Update(ctx, rec.ID, u)
}

func (ix *Indexer) observeDepth(ctx context.Context) {
	for _, s := range []domain.TorrentStatus{domain.StatusNew, domain.StatusQueued, domain.StatusProcessing} {
		n, err := ix.catalog.CountByStatus(ctx, s)
		if err != nil {
			return
		}
		metrics.IndexQueueDepth.WithLabelValues(string(s)).Set(float64(n))
	}
}

func statusPtr(s domain.TorrentStatus) *domain.TorrentStatus { return &s }

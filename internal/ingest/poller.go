package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"
)

const defaultPollInterval = 15 * time.Minute

// Poller fetches every source on an interval and ingests what it finds.
type Poller struct {
	Sources  []Source
	Ingestor Ingestor
	Interval time.Duration
	Logger   *slog.Logger

	running atomic.Bool
}

// Run polls once immediately, then on every tick until ctx is done.
func (p *Poller) Run(ctx context.Context) {
	interval := p.Interval
	if interval <= 0 {
		interval = defaultPollInterval
	}
	p.tick(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.tick(ctx)
		}
	}
}

func (p *Poller) tick(ctx context.Context) {
	res, err := p.PollOnce(ctx)
	if err != nil {
		p.logger().Warn("ingest: poll finished with errors", slog.String("error", err.Error()))
	}
	if res.Created > 0 {
		p.logger().Info("ingest: new records",
			slog.Int("created", res.Created),
			slog.Int("duplicate", res.Duplicate))
	}
}

// PollOnce fetches and ingests every source. A failing source is reported
// in the joined error and does not stop the others. An overlapping call
// returns an empty result.
func (p *Poller) PollOnce(ctx context.Context) (Result, error) {
	var total Result
	if !p.running.CompareAndSwap(false, true) {
		return total, nil
	}
	defer p.running.Store(false)

	var errs []error
	for _, src := range p.Sources {
		items, err := src.Fetch(ctx)
		if err != nil {
			errs = append(errs, fmt.Errorf("source %s: %w", src.Name(), err))
			continue
		}
		res, err := p.Ingestor.Ingest(ctx, items)
		total.add(res)
		if err != nil {
			errs = append(errs, fmt.Errorf("source %s: %w", src.Name(), err))
			continue
		}
		p.logger().Debug("ingest: source polled",
			slog.String("source", src.Name()),
			slog.Int("items", len(items)),
			slog.Int("created", res.Created))
	}
	return total, errors.Join(errs...)
}

func (p *Poller) logger() *slog.Logger {
	if p.Logger != nil {
		return p.Logger
	}
	return slog.Default()
}

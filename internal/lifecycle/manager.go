// Package lifecycle owns the in-memory swarm handles: it starts swarms on
// demand under an admission limit, pauses idle ones and tears down swarms
// nobody has read for a while.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"torrentstream/streamfs/internal/domain"
	"torrentstream/streamfs/internal/domain/ports"
	"torrentstream/streamfs/internal/metrics"
	"torrentstream/streamfs/internal/telemetry"
)

const (
	defaultPauseAfter       = 10 * time.Second
	defaultStopAfter        = 60 * time.Second
	defaultMaxReady         = 2
	defaultStartTimeout     = 30 * time.Second
	defaultEngineTimeout    = 30 * time.Second
	defaultClassifyInterval = 10 * time.Second
	defaultActuateInterval  = 5 * time.Second
)

var ErrClosed = errors.New("lifecycle manager closed")

type Config struct {
	Engine  ports.SwarmEngine
	Catalog ports.Catalog
	Logger  *slog.Logger

	PauseAfter time.Duration
	StopAfter  time.Duration
	// MaxReady bounds ready plus starting handles.
	MaxReady      int
	StartTimeout  time.Duration
	EngineTimeout time.Duration

	ClassifyInterval time.Duration
	ActuateInterval  time.Duration

	Now func() time.Time
}

type handle struct {
	infoHash     domain.InfoHash
	swarm        ports.Swarm
	ready        bool
	paused       bool
	status       domain.SwarmStatus
	lastReadDate time.Time
	tearingDown  bool
	// pausing is non-nil while an engine pause is in flight and closed
	// when it settles.
	pausing chan struct{}

	// started is closed once the join finished; startErr is set before.
	started  chan struct{}
	startErr error
}

type Manager struct {
	engine  ports.SwarmEngine
	catalog ports.Catalog
	logger  *slog.Logger
	now     func() time.Time

	pauseAfter       time.Duration
	stopAfter        time.Duration
	maxReady         int
	startTimeout     time.Duration
	engineTimeout    time.Duration
	classifyInterval time.Duration
	actuateInterval  time.Duration

	mu      sync.Mutex
	handles map[domain.InfoHash]*handle
	// opens counts open file handles per hash, with or without a swarm.
	opens  map[domain.InfoHash]int
	closed bool

	classifying atomic.Bool
	actuating   atomic.Bool
}

func New(cfg Config) *Manager {
	m := &Manager{
		engine:           cfg.Engine,
		catalog:          cfg.Catalog,
		logger:           cfg.Logger,
		now:              cfg.Now,
		pauseAfter:       orDefault(cfg.PauseAfter, defaultPauseAfter),
		stopAfter:        orDefault(cfg.StopAfter, defaultStopAfter),
		maxReady:         cfg.MaxReady,
		startTimeout:     orDefault(cfg.StartTimeout, defaultStartTimeout),
		engineTimeout:    orDefault(cfg.EngineTimeout, defaultEngineTimeout),
		classifyInterval: orDefault(cfg.ClassifyInterval, defaultClassifyInterval),
		actuateInterval:  orDefault(cfg.ActuateInterval, defaultActuateInterval),
		handles:          make(map[domain.InfoHash]*handle),
		opens:            make(map[domain.InfoHash]int),
	}
	if m.logger == nil {
		m.logger = slog.Default()
	}
	if m.now == nil {
		m.now = time.Now
	}
	if m.maxReady < 1 {
		m.maxReady = defaultMaxReady
	}
	return m
}

func orDefault(v, def time.Duration) time.Duration {
	if v <= 0 {
		return def
	}
	return v
}

// MakeReadable returns a ready, unpaused swarm for infoHash. It resumes a
// paused handle, joins when there is none, or waits for a join already in
// flight. It returns domain.ErrBusy when admission is refused and an error
// wrapping domain.ErrTimeout when the swarm does not start in time.
func (m *Manager) MakeReadable(ctx context.Context, infoHash domain.InfoHash) (ports.Swarm, error) {
	for {
		m.mu.Lock()
		if m.closed {
			m.mu.Unlock()
			return nil, ErrClosed
		}
		h, ok := m.handles[infoHash]
		switch {
		case ok && h.tearingDown:
			m.mu.Unlock()
			return nil, fmt.Errorf("swarm %s is stopping: %w", infoHash, domain.ErrBusy)

		case ok && h.pausing != nil:
			settled := h.pausing
			m.mu.Unlock()
			select {
			case <-settled:
				continue
			case <-ctx.Done():
				return nil, ctx.Err()
			}

		case ok && h.ready && !h.paused:
			h.lastReadDate = m.now()
			h.status = domain.SwarmRunning
			swarm := h.swarm
			m.mu.Unlock()
			return swarm, nil

		case ok && h.ready:
			swarm := h.swarm
			m.mu.Unlock()
			return m.resume(ctx, h, swarm)

		case ok:
			m.mu.Unlock()
			return m.await(ctx, h)
		}

		if len(m.handles) >= m.maxReady {
			m.mu.Unlock()
			metrics.AdmissionRejectionsTotal.Inc()
			return nil, fmt.Errorf("max ready swarms reached: %w", domain.ErrBusy)
		}
		h = &handle{
			infoHash: infoHash,
			status:   domain.SwarmRunning,
			started:  make(chan struct{}),
		}
		m.handles[infoHash] = h
		m.observeLocked()
		m.mu.Unlock()

		// The join outlives a cancelled caller; only StartTimeout bounds it.
		joinCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.startTimeout)
		go func() {
			defer cancel()
			m.start(joinCtx, h)
		}()
		return m.await(ctx, h)
	}
}

func (m *Manager) start(ctx context.Context, h *handle) {
	defer close(h.started)

	ctx, span := telemetry.Tracer("lifecycle").Start(ctx, "join",
		trace.WithAttributes(attribute.String("torrent.infohash", h.infoHash.String())))
	defer span.End()

	swarm, err := m.join(ctx, h.infoHash)
	if err != nil && ctx.Err() != nil {
		err = fmt.Errorf("start swarm %s: %w", h.infoHash, domain.ErrTimeout)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "join failed")
	}

	m.mu.Lock()
	if err == nil && m.closed {
		err = ErrClosed
	}
	if err != nil {
		h.startErr = err
		if m.handles[h.infoHash] == h {
			delete(m.handles, h.infoHash)
		}
		m.observeLocked()
		m.mu.Unlock()

		metrics.SwarmStartsTotal.WithLabelValues("error").Inc()
		m.logger.Warn("lifecycle: start failed",
			slog.String("infoHash", h.infoHash.String()),
			slog.String("error", err.Error()))
		if swarm != nil {
			go m.destroyQuietly(swarm)
		}
		return
	}
	h.swarm = swarm
	h.ready = true
	h.status = domain.SwarmRunning
	h.lastReadDate = m.now()
	m.observeLocked()
	m.mu.Unlock()

	metrics.SwarmStartsTotal.WithLabelValues("ok").Inc()
	m.logger.Info("lifecycle: swarm ready", slog.String("infoHash", h.infoHash.String()))
}

func (m *Manager) join(ctx context.Context, infoHash domain.InfoHash) (ports.Swarm, error) {
	rec, err := m.catalog.FindByInfoHash(ctx, infoHash)
	if err != nil {
		return nil, fmt.Errorf("lookup %s: %w", infoHash, err)
	}
	if rec.MagnetURI == "" {
		return nil, fmt.Errorf("record %s has no magnet: %w", rec.ID, domain.ErrNotFound)
	}
	return m.engine.Join(ctx, rec.MagnetURI)
}

func (m *Manager) await(ctx context.Context, h *handle) (ports.Swarm, error) {
	timer := time.NewTimer(m.startTimeout)
	defer timer.Stop()
	select {
	case <-h.started:
	case <-timer.C:
		return nil, fmt.Errorf("wait for swarm %s: %w", h.infoHash, domain.ErrTimeout)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	if h.startErr != nil {
		return nil, h.startErr
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	h.lastReadDate = m.now()
	return h.swarm, nil
}

func (m *Manager) resume(ctx context.Context, h *handle, swarm ports.Swarm) (ports.Swarm, error) {
	err := callWithTimeout(ctx, m.engineTimeout, func(ctx context.Context) error {
		return m.engine.Resume(ctx, swarm)
	})
	if err != nil {
		return nil, fmt.Errorf("resume %s: %w", h.infoHash, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.handles[h.infoHash] != h || h.tearingDown {
		return nil, fmt.Errorf("swarm %s is stopping: %w", h.infoHash, domain.ErrBusy)
	}
	h.paused = false
	h.status = domain.SwarmRunning
	h.lastReadDate = m.now()
	metrics.SwarmTransitionsTotal.WithLabelValues(string(domain.SwarmRunning)).Inc()
	return swarm, nil
}

// IsInClient reports whether a handle exists for infoHash, ready or starting.
func (m *Manager) IsInClient(infoHash domain.InfoHash) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.handles[infoHash]
	return ok
}

func (m *Manager) ReachedMaxReady() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.handles) >= m.maxReady
}

func (m *Manager) Opened(infoHash domain.InfoHash) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.opens[infoHash]++
	m.touchLocked(infoHash)
}

func (m *Manager) Read(infoHash domain.InfoHash) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.touchLocked(infoHash)
}

func (m *Manager) Released(infoHash domain.InfoHash) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if n := m.opens[infoHash]; n > 1 {
		m.opens[infoHash] = n - 1
	} else {
		delete(m.opens, infoHash)
	}
}

func (m *Manager) touchLocked(infoHash domain.InfoHash) {
	h, ok := m.handles[infoHash]
	if !ok || h.tearingDown {
		return
	}
	h.lastReadDate = m.now()
	if !h.paused {
		h.status = domain.SwarmRunning
	}
}

// ClassifyIdle sets the status of every ready handle from its idle time.
func (m *Manager) ClassifyIdle(now time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, h := range m.handles {
		if !h.ready || h.tearingDown || h.pausing != nil {
			continue
		}
		idle := now.Sub(h.lastReadDate)
		next := h.status
		switch {
		case idle >= m.stopAfter:
			next = domain.SwarmStopping
		case idle >= m.pauseAfter:
			if h.status != domain.SwarmStopping && !h.paused {
				next = domain.SwarmPausing
			}
		case !h.paused:
			next = domain.SwarmRunning
		}
		if next != h.status {
			h.status = next
			metrics.SwarmTransitionsTotal.WithLabelValues(string(next)).Inc()
		}
	}
}

// Actuate pauses handles classified pausing and stops handles classified
// stopping that have no open files.
func (m *Manager) Actuate(ctx context.Context) {
	type target struct {
		h     *handle
		swarm ports.Swarm
	}
	var pause []target
	var stop []domain.InfoHash

	m.mu.Lock()
	for ih, h := range m.handles {
		if !h.ready || h.tearingDown || h.pausing != nil {
			continue
		}
		switch h.status {
		case domain.SwarmPausing:
			h.pausing = make(chan struct{})
			pause = append(pause, target{h: h, swarm: h.swarm})
		case domain.SwarmStopping:
			if m.opens[ih] == 0 {
				stop = append(stop, ih)
			}
		}
	}
	m.mu.Unlock()

	for _, t := range pause {
		err := callWithTimeout(ctx, m.engineTimeout, func(ctx context.Context) error {
			return m.engine.Pause(ctx, t.swarm)
		})
		if err != nil {
			m.logger.Warn("lifecycle: pause failed",
				slog.String("infoHash", t.h.infoHash.String()),
				slog.String("error", err.Error()))
		}
		// Readers wait on pausing, so a settled pause always leaves the
		// handle marked paused and the next reader resumes it. A timed out
		// pause may still land in the engine.
		paused := err == nil || errors.Is(err, domain.ErrTimeout)
		m.mu.Lock()
		if paused && m.handles[t.h.infoHash] == t.h && !t.h.tearingDown {
			t.h.paused = true
			t.h.status = domain.SwarmPaused
			metrics.SwarmTransitionsTotal.WithLabelValues(string(domain.SwarmPaused)).Inc()
		}
		close(t.h.pausing)
		t.h.pausing = nil
		m.mu.Unlock()
		if err == nil {
			m.logger.Debug("lifecycle: swarm paused", slog.String("infoHash", t.h.infoHash.String()))
		}
	}

	for _, ih := range stop {
		if err := m.stop(ctx, ih, false); err != nil && !errors.Is(err, domain.ErrBusy) {
			m.logger.Warn("lifecycle: stop failed",
				slog.String("infoHash", ih.String()),
				slog.String("error", err.Error()))
		}
	}
}

// StopTorrent destroys the swarm for infoHash and purges its storage. The
// record is hidden for the duration of the teardown.
func (m *Manager) StopTorrent(ctx context.Context, infoHash domain.InfoHash) error {
	return m.stop(ctx, infoHash, true)
}

func (m *Manager) stop(ctx context.Context, infoHash domain.InfoHash, force bool) error {
	m.mu.Lock()
	h, ok := m.handles[infoHash]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("swarm %s: %w", infoHash, domain.ErrNotFound)
	}
	if !h.ready || h.tearingDown || (!force && m.opens[infoHash] > 0) {
		m.mu.Unlock()
		return fmt.Errorf("swarm %s: %w", infoHash, domain.ErrBusy)
	}
	h.tearingDown = true
	h.status = domain.SwarmStopping
	swarm := h.swarm
	m.mu.Unlock()

	m.setVisible(ctx, infoHash, false)
	err := callWithTimeout(ctx, m.engineTimeout, func(ctx context.Context) error {
		return m.engine.Destroy(ctx, swarm, true)
	})

	m.mu.Lock()
	if m.handles[infoHash] == h {
		delete(m.handles, infoHash)
	}
	m.observeLocked()
	m.mu.Unlock()

	m.setVisible(ctx, infoHash, true)
	if err != nil {
		return fmt.Errorf("destroy %s: %w", infoHash, err)
	}
	m.logger.Info("lifecycle: swarm stopped", slog.String("infoHash", infoHash.String()))
	return nil
}

func (m *Manager) setVisible(ctx context.Context, infoHash domain.InfoHash, visible bool) {
	err := m.catalog.SetVisible(ctx, infoHash, visible)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		m.logger.Warn("lifecycle: set visibility failed",
			slog.String("infoHash", infoHash.String()),
			slog.Bool("visible", visible),
			slog.String("error", err.Error()))
	}
}

// Snapshot returns the state of every handle ordered by info-hash.
func (m *Manager) Snapshot() []domain.SwarmState {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.SwarmState, 0, len(m.handles))
	for ih, h := range m.handles {
		out = append(out, domain.SwarmState{
			InfoHash:     ih,
			Status:       h.status,
			Ready:        h.ready,
			Paused:       h.paused,
			ActiveReads:  m.opens[ih],
			LastReadDate: h.lastReadDate,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].InfoHash < out[j].InfoHash })
	return out
}

// Run drives the classify and actuate sweeps until ctx is done.
func (m *Manager) Run(ctx context.Context) {
	classify := time.NewTicker(m.classifyInterval)
	defer classify.Stop()
	actuate := time.NewTicker(m.actuateInterval)
	defer actuate.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-classify.C:
			if m.classifying.CompareAndSwap(false, true) {
				m.ClassifyIdle(m.now())
				m.classifying.Store(false)
			}
		case <-actuate.C:
			if m.actuating.CompareAndSwap(false, true) {
				go func() {
					defer m.actuating.Store(false)
					m.Actuate(ctx)
				}()
			}
		}
	}
}

// Shutdown destroys every ready swarm. Starts still in flight are destroyed
// as they finish.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	m.closed = true
	swarms := make([]ports.Swarm, 0, len(m.handles))
	for ih, h := range m.handles {
		// A handle tearing down is destroyed by its own stop.
		if h.ready && !h.tearingDown {
			swarms = append(swarms, h.swarm)
			delete(m.handles, ih)
		}
	}
	m.observeLocked()
	m.mu.Unlock()

	var errs []error
	for _, s := range swarms {
		err := callWithTimeout(ctx, m.engineTimeout, func(ctx context.Context) error {
			return m.engine.Destroy(ctx, s, true)
		})
		if err != nil {
			errs = append(errs, fmt.Errorf("destroy %s: %w", s.InfoHash(), err))
		}
	}
	return errors.Join(errs...)
}

func (m *Manager) destroyQuietly(swarm ports.Swarm) {
	err := callWithTimeout(context.Background(), m.engineTimeout, func(ctx context.Context) error {
		return m.engine.Destroy(ctx, swarm, true)
	})
	if err != nil {
		m.logger.Warn("lifecycle: destroy partial swarm failed",
			slog.String("infoHash", swarm.InfoHash().String()),
			slog.String("error", err.Error()))
	}
}

func (m *Manager) observeLocked() {
	ready := 0
	for _, h := range m.handles {
		if h.ready {
			ready++
		}
	}
	metrics.SwarmsReady.Set(float64(ready))
	metrics.SwarmHandles.Set(float64(len(m.handles)))
}

// callWithTimeout runs fn and gives up waiting after d. fn keeps running in
// the background if it ignores its context.
func callWithTimeout(ctx context.Context, d time.Duration, fn func(context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, d)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- fn(ctx) }()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return fmt.Errorf("engine call: %w", domain.ErrTimeout)
		}
		return ctx.Err()
	}
}

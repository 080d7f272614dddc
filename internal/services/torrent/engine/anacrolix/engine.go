package anacrolix

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"runtime"
	"runtime/debug"
	"sync"
	"time"

	"github.com/anacrolix/torrent"
	"github.com/anacrolix/torrent/storage"
	"github.com/spf13/afero"
	"golang.org/x/time/rate"

	"torrentstream/streamfs/internal/domain"
	"torrentstream/streamfs/internal/domain/ports"
	"torrentstream/streamfs/internal/storage/memory"
)

const (
	StorageDisk   = "disk"
	StorageMemory = "memory"

	// defaultMaxConns is restored when a paused swarm resumes.
	defaultMaxConns = 55
	// addMagnetTimeout caps how long AddMagnet may hold the client lock.
	addMagnetTimeout = 10 * time.Second
	defaultReadahead = 4 << 20
	minLimiterBurst  = 256 << 10
)

var ErrClientNotConfigured = errors.New("torrent client not configured")

type Config struct {
	DataDir       string
	Storage       string
	MemoryBytes   int64
	ListenPort    int
	MaxConns      int
	UploadLimit   int64 // bytes/s, negative means unlimited
	DownloadLimit int64 // bytes/s, negative means unlimited
	Readahead     int64
	// Fs is used to purge swarm data. Defaults to the OS filesystem.
	Fs afero.Fs
}

// Engine drives an anacrolix client. Several callers may hold the same
// torrent (a metadata probe and a streaming swarm); it is dropped from the
// client when the last holder lets go.
type Engine struct {
	client    *torrent.Client
	closeImpl func() error

	mu   sync.Mutex
	refs map[domain.InfoHash]int

	dataDir   string
	purge     bool
	fs        afero.Fs
	maxConns  int
	readahead int64
	drop      func(*torrent.Torrent)
}

func New(cfg Config) (*Engine, error) {
	e := newEngine(cfg)

	clientConfig := torrent.NewDefaultClientConfig()
	if cfg.DataDir != "" {
		clientConfig.DataDir = cfg.DataDir
	}
	if cfg.ListenPort > 0 {
		clientConfig.ListenPort = cfg.ListenPort
	}
	clientConfig.EstablishedConnsPerTorrent = e.maxConns
	if l := newLimiter(cfg.UploadLimit); l != nil {
		clientConfig.UploadRateLimiter = l
	}
	if l := newLimiter(cfg.DownloadLimit); l != nil {
		clientConfig.DownloadRateLimiter = l
	}

	switch cfg.Storage {
	case StorageMemory:
		provider := memory.NewProvider(memory.WithMaxBytes(cfg.MemoryBytes))
		clientConfig.DefaultStorage = storage.NewResourcePieces(provider)
		e.purge = false
	case "", StorageDisk:
		impl := storage.NewFileByInfoHash(clientConfig.DataDir)
		clientConfig.DefaultStorage = impl
		e.closeImpl = impl.Close
		e.dataDir = clientConfig.DataDir
	default:
		return nil, fmt.Errorf("unknown torrent storage %q", cfg.Storage)
	}

	client, err := torrent.NewClient(clientConfig)
	if err != nil {
		if e.closeImpl != nil {
			_ = e.closeImpl()
		}
		return nil, err
	}
	e.client = client
	return e, nil
}

func newEngine(cfg Config) *Engine {
	e := &Engine{
		refs:      make(map[domain.InfoHash]int),
		dataDir:   cfg.DataDir,
		purge:     true,
		fs:        cfg.Fs,
		maxConns:  cfg.MaxConns,
		readahead: cfg.Readahead,
		drop:      func(t *torrent.Torrent) { t.Drop() },
	}
	if e.fs == nil {
		e.fs = afero.NewOsFs()
	}
	if e.maxConns <= 0 {
		e.maxConns = defaultMaxConns
	}
	if e.readahead <= 0 {
		e.readahead = defaultReadahead
	}
	return e
}

// newLimiter returns nil for negative limits, which leaves the client
// unlimited. Zero blocks all traffic in that direction.
func newLimiter(bytesPerSec int64) *rate.Limiter {
	if bytesPerSec < 0 {
		return nil
	}
	burst := int(bytesPerSec)
	if burst < minLimiterBurst {
		burst = minLimiterBurst
	}
	return rate.NewLimiter(rate.Limit(bytesPerSec), burst)
}

func (e *Engine) Join(ctx context.Context, magnetURI string) (ports.Swarm, error) {
	t, err := e.addMagnet(ctx, magnetURI)
	if err != nil {
		return nil, err
	}
	ih := domain.InfoHash(t.InfoHash().HexString())

	select {
	case <-t.GotInfo():
	case <-ctx.Done():
		e.release(ih, t)
		return nil, fmt.Errorf("wait for metadata of %s: %w", ih, ctx.Err())
	}

	t.SetMaxEstablishedConns(e.maxConns)
	return &swarm{t: t, infoHash: ih, files: mapFiles(t)}, nil
}

// addMagnet runs AddMagnet with a timeout so a busy client never blocks the
// caller indefinitely. A torrent added after the caller gave up is dropped.
func (e *Engine) addMagnet(ctx context.Context, magnetURI string) (*torrent.Torrent, error) {
	if e.client == nil {
		return nil, ErrClientNotConfigured
	}

	type addResult struct {
		t   *torrent.Torrent
		err error
	}
	ch := make(chan addResult, 1)
	go func() {
		t, err := e.client.AddMagnet(magnetURI)
		if err == nil {
			e.acquire(domain.InfoHash(t.InfoHash().HexString()))
		}
		ch <- addResult{t, err}
	}()

	abandon := func() {
		go func() {
			if res := <-ch; res.t != nil {
				e.release(domain.InfoHash(res.t.InfoHash().HexString()), res.t)
			}
		}()
	}

	select {
	case res := <-ch:
		if res.err != nil {
			return nil, fmt.Errorf("add magnet: %w", res.err)
		}
		return res.t, nil
	case <-time.After(addMagnetTimeout):
		abandon()
		return nil, fmt.Errorf("add magnet: %w: torrent client busy", domain.ErrTimeout)
	case <-ctx.Done():
		abandon()
		return nil, ctx.Err()
	}
}

func (e *Engine) Pause(_ context.Context, s ports.Swarm) error {
	t, err := torrentOf(s)
	if err != nil {
		return err
	}
	t.DisallowDataDownload()
	t.DisallowDataUpload()
	t.SetMaxEstablishedConns(0)
	return nil
}

// Resume re-enables transfer without DownloadAll so bandwidth goes to the
// pieces readers ask for.
func (e *Engine) Resume(_ context.Context, s ports.Swarm) error {
	t, err := torrentOf(s)
	if err != nil {
		return err
	}
	t.SetMaxEstablishedConns(e.maxConns)
	t.AllowDataUpload()
	t.AllowDataDownload()
	return nil
}

func (e *Engine) Destroy(_ context.Context, s ports.Swarm, purgeStorage bool) error {
	t, err := torrentOf(s)
	if err != nil {
		return err
	}
	ih := s.InfoHash()
	if !e.release(ih, t) {
		return nil
	}
	if purgeStorage && e.purge && e.dataDir != "" {
		dir := filepath.Join(e.dataDir, string(ih))
		if err := e.fs.RemoveAll(dir); err != nil {
			return fmt.Errorf("purge %s: %w", dir, err)
		}
	}
	return nil
}

func (e *Engine) Close() error {
	if e.client == nil {
		return nil
	}
	errList := e.client.Close()
	if e.closeImpl != nil {
		if err := e.closeImpl(); err != nil {
			errList = append(errList, err)
		}
	}
	return errors.Join(errList...)
}

func (e *Engine) acquire(ih domain.InfoHash) {
	e.mu.Lock()
	e.refs[ih]++
	e.mu.Unlock()
}

// release drops one reference and reports whether the torrent left the client.
func (e *Engine) release(ih domain.InfoHash, t *torrent.Torrent) bool {
	e.mu.Lock()
	if _, held := e.refs[ih]; !held {
		e.mu.Unlock()
		return false
	}
	e.refs[ih]--
	last := e.refs[ih] <= 0
	if last {
		delete(e.refs, ih)
	}
	e.mu.Unlock()
	if !last {
		return false
	}
	if t != nil {
		e.drop(t)
	}
	freeOSMemory()
	return true
}

func freeOSMemory() {
	runtime.GC()
	debug.FreeOSMemory()
}

func torrentInfoReady(t *torrent.Torrent) bool {
	if t == nil {
		return false
	}
	select {
	case <-t.GotInfo():
		return true
	default:
		return false
	}
}

func mapFiles(t *torrent.Torrent) (mapped []domain.FileRef) {
	if !torrentInfoReady(t) {
		return nil
	}
	defer func() {
		if r := recover(); r != nil {
			slog.Error("mapFiles panic recovered",
				slog.Any("error", r),
				slog.String("stack", string(debug.Stack())),
			)
			mapped = nil
		}
	}()

	files := t.Files()
	mapped = make([]domain.FileRef, 0, len(files))
	for _, f := range files {
		mapped = append(mapped, domain.FileRef{
			Name:   filepath.Base(f.Path()),
			Path:   f.Path(),
			Length: f.Length(),
		})
	}
	return mapped
}

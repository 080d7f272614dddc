// Package fsbridge implements the read-only filesystem hooks over the
// catalog and the swarm lifecycle. It knows nothing about the kernel; the
// fusefs package adapts it to a mount.
package fsbridge

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"runtime/debug"
	"time"

	"torrentstream/streamfs/internal/domain"
	"torrentstream/streamfs/internal/domain/ports"
	"torrentstream/streamfs/internal/metrics"
)

// Lifecycle is what the hooks need from the swarm lifecycle manager.
type Lifecycle interface {
	MakeReadable(ctx context.Context, infoHash domain.InfoHash) (ports.Swarm, error)
	IsInClient(infoHash domain.InfoHash) bool
	ReachedMaxReady() bool
	Opened(infoHash domain.InfoHash)
	Read(infoHash domain.InfoHash)
	Released(infoHash domain.InfoHash)
}

type Streamer interface {
	StreamRange(ctx context.Context, s ports.Swarm, filePath string, start, end int64) (io.ReadCloser, error)
}

type Config struct {
	Catalog   ports.Catalog
	Lifecycle Lifecycle
	Streamer  Streamer
	Logger    *slog.Logger
	// ReadTimeout bounds the streaming part of one read.
	ReadTimeout time.Duration
	// Uid and Gid default to the process ids when negative.
	Uid int
	Gid int
}

const defaultReadTimeout = 30 * time.Second

type Bridge struct {
	catalog     ports.Catalog
	lifecycle   Lifecycle
	streamer    Streamer
	logger      *slog.Logger
	readTimeout time.Duration
	uid         uint32
	gid         uint32
	mounted     time.Time
}

func New(cfg Config) *Bridge {
	b := &Bridge{
		catalog:     cfg.Catalog,
		lifecycle:   cfg.Lifecycle,
		streamer:    cfg.Streamer,
		logger:      cfg.Logger,
		readTimeout: cfg.ReadTimeout,
		uid:         uint32(os.Getuid()),
		gid:         uint32(os.Getgid()),
		mounted:     time.Now(),
	}
	if b.readTimeout <= 0 {
		b.readTimeout = defaultReadTimeout
	}
	if b.logger == nil {
		b.logger = slog.Default()
	}
	if cfg.Uid >= 0 {
		b.uid = uint32(cfg.Uid)
	}
	if cfg.Gid >= 0 {
		b.gid = uint32(cfg.Gid)
	}
	return b
}

func (b *Bridge) Readdir(ctx context.Context, path string) (names []string, err error) {
	err = b.hook("readdir", path, func() error {
		names, err = b.readdir(ctx, path)
		return err
	})
	return names, err
}

func (b *Bridge) readdir(ctx context.Context, path string) ([]string, error) {
	p := parsePath(path)
	switch p.kind {
	case kindRoot:
		visible, err := b.catalog.ListVisible(ctx)
		if err != nil {
			return nil, fmt.Errorf("list visible: %w", err)
		}
		names := make([]string, 0, len(visible))
		for _, v := range visible {
			names = append(names, v.InfoHash.String())
		}
		return names, nil
	case kindInvalid:
		return nil, domain.ErrNotFound
	}

	tree, _, err := b.tree(ctx, p.infoHash)
	if err != nil {
		return nil, err
	}
	names, ok := tree.Children(p.sub)
	if !ok {
		return nil, domain.ErrNotFound
	}
	return names, nil
}

func (b *Bridge) Getattr(ctx context.Context, path string) (attr Attr, err error) {
	err = b.hook("getattr", path, func() error {
		attr, err = b.getattr(ctx, path)
		return err
	})
	return attr, err
}

func (b *Bridge) getattr(ctx context.Context, path string) (Attr, error) {
	p := parsePath(path)
	switch p.kind {
	case kindRoot:
		visible, err := b.catalog.ListVisible(ctx)
		if err != nil {
			return Attr{}, fmt.Errorf("list visible: %w", err)
		}
		return b.dirAttr(len(visible), b.mounted), nil
	case kindInvalid:
		return Attr{}, domain.ErrNotFound
	}

	tree, rec, err := b.tree(ctx, p.infoHash)
	if err != nil {
		return Attr{}, err
	}
	node, ok := tree.Lookup(p.sub)
	if !ok {
		return Attr{}, domain.ErrNotFound
	}
	if leaf, isLeaf := node.(*Leaf); isLeaf {
		return Attr{
			Mode:  ModeFile,
			Size:  leaf.Length,
			Nlink: 1,
			Uid:   b.uid,
			Gid:   b.gid,
			Mtime: rec.UpdatedAt,
		}, nil
	}
	children, _ := tree.Children(p.sub)
	return b.dirAttr(len(children), rec.UpdatedAt), nil
}

func (b *Bridge) dirAttr(children int, mtime time.Time) Attr {
	return Attr{
		Mode:  ModeDir,
		Size:  int64(children),
		Nlink: 2,
		Uid:   b.uid,
		Gid:   b.gid,
		Mtime: mtime,
	}
}

// Open admits a file handle on a visible torrent. Opening a torrent that has
// no swarm while the ready limit is reached is refused with ErrBusy.
func (b *Bridge) Open(ctx context.Context, path string, flags uint32) error {
	return b.hook("open", path, func() error {
		p := parsePath(path)
		if p.kind != kindEntry {
			return domain.ErrNotFound
		}
		rec, err := b.catalog.FindByInfoHash(ctx, p.infoHash)
		if err != nil {
			return err
		}
		if !rec.IsVisible {
			return domain.ErrNotFound
		}
		if _, ok := findFile(rec.Files, p.sub); !ok {
			return domain.ErrNotFound
		}
		if err := b.busy(p.infoHash); err != nil {
			return err
		}
		b.lifecycle.Opened(p.infoHash)
		return nil
	})
}

// Read fills dest from the file at path starting at off. It returns 0 at or
// past the end of the file without touching the swarm.
func (b *Bridge) Read(ctx context.Context, path string, dest []byte, off int64) (n int, err error) {
	err = b.hook("read", path, func() error {
		n, err = b.read(ctx, path, dest, off)
		return err
	})
	return n, err
}

func (b *Bridge) read(ctx context.Context, path string, dest []byte, off int64) (int, error) {
	p := parsePath(path)
	if p.kind != kindEntry {
		return 0, domain.ErrNotFound
	}
	if err := b.busy(p.infoHash); err != nil {
		return 0, err
	}
	swarm, err := b.lifecycle.MakeReadable(ctx, p.infoHash)
	if err != nil {
		if errors.Is(err, domain.ErrBusy) {
			return 0, err
		}
		return 0, fmt.Errorf("%w: %w", domain.ErrBusy, err)
	}

	file, ok := findFile(swarm.Files(), p.sub)
	if !ok {
		return 0, domain.ErrNotFound
	}
	if off >= file.Length || len(dest) == 0 {
		return 0, nil
	}
	size := int64(len(dest))
	if rest := file.Length - off; rest < size {
		size = rest
	}

	b.lifecycle.Read(p.infoHash)
	defer b.lifecycle.Read(p.infoHash)

	// A swarm without peers never delivers; the read gives up instead.
	streamCtx, cancel := context.WithTimeout(ctx, b.readTimeout)
	defer cancel()

	rc, err := b.streamer.StreamRange(streamCtx, swarm, file.Path, off, off+size)
	if err != nil {
		return 0, fmt.Errorf("stream %s: %w", file.Path, err)
	}
	defer rc.Close()

	n, err := io.ReadFull(rc, dest[:size])
	if err != nil && !(errors.Is(err, io.ErrUnexpectedEOF) && n > 0) {
		if errors.Is(streamCtx.Err(), context.DeadlineExceeded) {
			err = fmt.Errorf("%w after %s", domain.ErrTimeout, b.readTimeout)
		}
		return n, fmt.Errorf("read %s at %d: %w", file.Path, off, err)
	}
	metrics.FSReadBytesTotal.Add(float64(n))
	return n, nil
}

func (b *Bridge) Release(ctx context.Context, path string) error {
	return b.hook("release", path, func() error {
		p := parsePath(path)
		if p.kind != kindEntry {
			return nil
		}
		b.lifecycle.Released(p.infoHash)
		return nil
	})
}

// busy refuses a hash that would need a new swarm when none can be admitted.
func (b *Bridge) busy(infoHash domain.InfoHash) error {
	if !b.lifecycle.IsInClient(infoHash) && b.lifecycle.ReachedMaxReady() {
		return fmt.Errorf("%s: %w", infoHash, domain.ErrBusy)
	}
	return nil
}

// tree loads the record for infoHash and builds its file tree. Records
// without metadata do not exist as directories.
func (b *Bridge) tree(ctx context.Context, infoHash domain.InfoHash) (*Tree, domain.TorrentRecord, error) {
	rec, err := b.catalog.FindByInfoHash(ctx, infoHash)
	if err != nil {
		return nil, domain.TorrentRecord{}, err
	}
	if len(rec.Files) == 0 {
		return nil, domain.TorrentRecord{}, domain.ErrNotFound
	}
	return BuildTree(rec.Files), rec, nil
}

func findFile(files []domain.FileRef, sub string) (domain.FileRef, bool) {
	for _, f := range files {
		if f.Path == sub {
			return f, true
		}
	}
	return domain.FileRef{}, false
}

// hook runs one filesystem operation, turning a panic into an error and
// counting the result.
func (b *Bridge) hook(op, path string, fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("fsbridge: panic recovered",
				slog.String("op", op),
				slog.String("path", path),
				slog.Any("error", r),
				slog.String("stack", string(debug.Stack())))
			err = fmt.Errorf("%w: %v", ErrPanic, r)
		}
		code := Errno(err)
		metrics.FSOpsTotal.WithLabelValues(op, errnoName(code)).Inc()
		if code != 0 && !errors.Is(err, domain.ErrNotFound) {
			b.logger.Debug("fsbridge: op failed",
				slog.String("op", op),
				slog.String("path", path),
				slog.String("error", err.Error()))
		}
	}()
	return fn()
}

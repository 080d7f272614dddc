package fusefs

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/hanwen/go-fuse/v2/fuse"
	"github.com/hanwen/go-fuse/v2/fuse/nodefs"
	"github.com/hanwen/go-fuse/v2/fuse/pathfs"
	"github.com/spf13/afero"
)

const defaultMaxReadAhead = 1 << 20

type Config struct {
	Path         string
	AllowOther   bool
	MaxReadAhead int
	Debug        bool
	// Fs holds the mount directory. Defaults to the OS filesystem.
	Fs     afero.Fs
	Logger *slog.Logger
}

type Mount struct {
	server *fuse.Server
	path   string
	logger *slog.Logger
}

// New wipes and recreates the mount directory, then mounts hooks on it. The
// returned Mount is serving when New returns.
func New(hooks Hooks, cfg Config) (*Mount, error) {
	if cfg.Fs == nil {
		cfg.Fs = afero.NewOsFs()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.MaxReadAhead <= 0 {
		cfg.MaxReadAhead = defaultMaxReadAhead
	}
	if err := prepareMountDir(cfg.Fs, cfg.Path, cfg.Logger); err != nil {
		return nil, err
	}

	nfs := pathfs.NewPathNodeFs(newPathFS(hooks), nil)
	conn := nodefs.NewFileSystemConnector(nfs.Root(), nodefs.NewOptions())
	server, err := fuse.NewServer(conn.RawFS(), cfg.Path, &fuse.MountOptions{
		AllowOther:   cfg.AllowOther,
		MaxReadAhead: cfg.MaxReadAhead,
		Name:         "streamfs",
		FsName:       "streamfs",
		Debug:        cfg.Debug,
	})
	if err != nil {
		return nil, fmt.Errorf("mount %s: %w", cfg.Path, err)
	}
	go server.Serve()
	if err := server.WaitMount(); err != nil {
		_ = server.Unmount()
		return nil, fmt.Errorf("wait for mount %s: %w", cfg.Path, err)
	}
	cfg.Logger.Info("fuse mounted", slog.String("path", cfg.Path))
	return &Mount{server: server, path: cfg.Path, logger: cfg.Logger}, nil
}

func (m *Mount) Path() string { return m.path }

func (m *Mount) Unmount() error {
	if err := m.server.Unmount(); err != nil {
		return fmt.Errorf("unmount %s: %w", m.path, err)
	}
	m.logger.Info("fuse unmounted", slog.String("path", m.path))
	return nil
}

// prepareMountDir leaves an empty directory at path. A stale mount that
// cannot be removed is logged and mounted over.
func prepareMountDir(fs afero.Fs, path string, logger *slog.Logger) error {
	if path == "" {
		return fmt.Errorf("mount path is empty")
	}
	if err := fs.RemoveAll(path); err != nil {
		logger.Warn("fuse: wipe mount dir failed",
			slog.String("path", path),
			slog.String("error", err.Error()))
	}
	if err := fs.MkdirAll(path, os.FileMode(0o755)); err != nil {
		return fmt.Errorf("create mount dir %s: %w", path, err)
	}
	return nil
}

// Package fusefs mounts an fsbridge.Bridge with go-fuse's path API.
package fusefs

import (
	"context"
	"path"
	"syscall"

	"github.com/hanwen/go-fuse/v2/fuse"
	"github.com/hanwen/go-fuse/v2/fuse/nodefs"
	"github.com/hanwen/go-fuse/v2/fuse/pathfs"

	"torrentstream/streamfs/internal/fsbridge"
)

// Hooks is the bridge surface the mount drives.
type Hooks interface {
	Readdir(ctx context.Context, path string) ([]string, error)
	Getattr(ctx context.Context, path string) (fsbridge.Attr, error)
	Open(ctx context.Context, path string, flags uint32) error
	Read(ctx context.Context, path string, dest []byte, off int64) (int, error)
	Release(ctx context.Context, path string) error
}

var _ Hooks = (*fsbridge.Bridge)(nil)

const writeFlags = syscall.O_WRONLY | syscall.O_RDWR | syscall.O_APPEND | syscall.O_TRUNC | syscall.O_CREAT

type pathFS struct {
	pathfs.FileSystem
	hooks Hooks
}

func newPathFS(h Hooks) *pathFS {
	return &pathFS{FileSystem: pathfs.NewDefaultFileSystem(), hooks: h}
}

func (p *pathFS) String() string { return "streamfs" }

// pathfs names are relative with "" as the root.
func abs(name string) string { return "/" + name }

func (p *pathFS) GetAttr(name string, _ *fuse.Context) (*fuse.Attr, fuse.Status) {
	a, err := p.hooks.Getattr(context.Background(), abs(name))
	if err != nil {
		return nil, status(err)
	}
	return toFuseAttr(a), fuse.OK
}

func (p *pathFS) OpenDir(name string, _ *fuse.Context) ([]fuse.DirEntry, fuse.Status) {
	ctx := context.Background()
	names, err := p.hooks.Readdir(ctx, abs(name))
	if err != nil {
		return nil, status(err)
	}
	entries := make([]fuse.DirEntry, 0, len(names))
	for _, n := range names {
		mode := fsbridge.ModeDir
		if a, err := p.hooks.Getattr(ctx, abs(path.Join(name, n))); err == nil {
			mode = a.Mode
		}
		entries = append(entries, fuse.DirEntry{Name: n, Mode: mode})
	}
	return entries, fuse.OK
}

func (p *pathFS) Open(name string, flags uint32, _ *fuse.Context) (nodefs.File, fuse.Status) {
	if flags&writeFlags != 0 {
		return nil, fuse.Status(syscall.EROFS)
	}
	if err := p.hooks.Open(context.Background(), abs(name), flags); err != nil {
		return nil, status(err)
	}
	return &file{File: nodefs.NewDefaultFile(), hooks: p.hooks, path: abs(name)}, fuse.OK
}

type file struct {
	nodefs.File
	hooks Hooks
	path  string
}

func (f *file) Read(dest []byte, off int64) (fuse.ReadResult, fuse.Status) {
	n, err := f.hooks.Read(context.Background(), f.path, dest, off)
	if err != nil {
		return nil, status(err)
	}
	return fuse.ReadResultData(dest[:n]), fuse.OK
}

func (f *file) GetAttr(out *fuse.Attr) fuse.Status {
	a, err := f.hooks.Getattr(context.Background(), f.path)
	if err != nil {
		return status(err)
	}
	*out = *toFuseAttr(a)
	return fuse.OK
}

func (f *file) Release() {
	_ = f.hooks.Release(context.Background(), f.path)
}

func (f *file) String() string { return "streamfs:" + f.path }

func toFuseAttr(a fsbridge.Attr) *fuse.Attr {
	out := &fuse.Attr{
		Mode:  a.Mode,
		Size:  uint64(a.Size),
		Nlink: a.Nlink,
		Owner: fuse.Owner{Uid: a.Uid, Gid: a.Gid},
	}
	if !a.Mtime.IsZero() {
		mtime := a.Mtime
		out.SetTimes(&mtime, &mtime, &mtime)
	}
	return out
}

func status(err error) fuse.Status {
	return fuse.Status(fsbridge.Errno(err))
}

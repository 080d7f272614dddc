// Package memory keeps torrent pieces in a byte-budgeted LRU so files can be
// streamed without a download directory. Entries evicted from memory are
// written to the spill filesystem when one is configured and dropped
// otherwise; anacrolix fetches dropped pieces again on demand.
package memory

import (
	"bytes"
	"container/list"
	"errors"
	"io"
	"os"
	"path"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/anacrolix/missinggo/v2/resource"
	"github.com/spf13/afero"
)

type Provider struct {
	mu      sync.Mutex
	entries map[string]*entry
	lru     *list.List

	maxBytes int64
	curBytes int64
	spill    afero.Fs
}

type entry struct {
	data    []byte
	size    int64
	mod     time.Time
	elem    *list.Element
	spilled bool
}

type ProviderOption func(*Provider)

func WithMaxBytes(max int64) ProviderOption {
	return func(p *Provider) {
		if max > 0 {
			p.maxBytes = max
		}
	}
}

// WithSpill sets the filesystem evicted entries are written to.
func WithSpill(fs afero.Fs) ProviderOption {
	return func(p *Provider) { p.spill = fs }
}

func NewProvider(opts ...ProviderOption) *Provider {
	p := &Provider{
		entries: make(map[string]*entry),
		lru:     list.New(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Bytes reports how many bytes are currently held in memory.
func (p *Provider) Bytes() int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.curBytes
}

func (p *Provider) NewInstance(name string) (resource.Instance, error) {
	clean, err := cleanPath(name)
	if err != nil {
		return nil, err
	}
	return &instance{p: p, name: clean}, nil
}

type instance struct {
	p    *Provider
	name string
}

func (i *instance) Get() (io.ReadCloser, error) {
	data, err := i.p.get(i.name)
	if err != nil {
		return nil, err
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (i *instance) Put(r io.Reader) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	i.p.put(i.name, data)
	return nil
}

func (i *instance) PutSized(r io.Reader, size int64) error {
	if size < 0 {
		return errors.New("invalid size")
	}
	buf := make([]byte, size)
	if _, err := io.ReadFull(r, buf); err != nil {
		return err
	}
	i.p.put(i.name, buf)
	return nil
}

func (i *instance) Stat() (os.FileInfo, error) { return i.p.stat(i.name) }
func (i *instance) ReadAt(b []byte, off int64) (int, error) { return i.p.readAt(i.name, b, off) }
func (i *instance) WriteAt(b []byte, off int64) (int, error) { return i.p.writeAt(i.name, b, off) }
func (i *instance) Readdirnames() ([]string, error) { return i.p.readdir(i.name) }
func (i *instance) Delete() error {
	i.p.delete(i.name)
	return nil
}

func (p *Provider) get(name string) ([]byte, error) {
	p.mu.Lock()
	e, ok := p.entries[name]
	if !ok {
		p.mu.Unlock()
		return nil, os.ErrNotExist
	}
	if e.spilled {
		p.mu.Unlock()
		return afero.ReadFile(p.spill, name)
	}
	p.touchLocked(name, e)
	data := append([]byte(nil), e.data...)
	p.mu.Unlock()
	return data, nil
}

func (p *Provider) put(name string, data []byte) {
	copied := append([]byte(nil), data...)
	p.mu.Lock()
	defer p.mu.Unlock()
	e, ok := p.entries[name]
	if !ok {
		e = &entry{}
		p.entries[name] = e
	}
	p.forgetLocked(name, e)
	e.data = copied
	e.size = int64(len(copied))
	e.mod = time.Now().UTC()
	p.curBytes += e.size
	p.touchLocked(name, e)
	p.evictLocked()
}

func (p *Provider) readAt(name string, b []byte, off int64) (int, error) {
	if off < 0 {
		return 0, errors.New("negative offset")
	}
	p.mu.Lock()
	e, ok := p.entries[name]
	if !ok {
		p.mu.Unlock()
		return 0, os.ErrNotExist
	}
	if e.spilled {
		p.mu.Unlock()
		f, err := p.spill.Open(name)
		if err != nil {
			return 0, err
		}
		defer f.Close()
		return f.ReadAt(b, off)
	}
	defer p.mu.Unlock()
	if off >= int64(len(e.data)) {
		return 0, io.EOF
	}
	n := copy(b, e.data[off:])
	p.touchLocked(name, e)
	if n < len(b) {
		return n, io.EOF
	}
	return n, nil
}

func (p *Provider) writeAt(name string, b []byte, off int64) (int, error) {
	if off < 0 {
		return 0, errors.New("negative offset")
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	e, ok := p.entries[name]
	if !ok {
		e = &entry{}
		p.entries[name] = e
	}
	if e.spilled {
		return p.writeSpilledLocked(name, e, b, off)
	}

	end := off + int64(len(b))
	if end > int64(len(e.data)) {
		grown := make([]byte, end)
		copy(grown, e.data)
		p.curBytes += end - int64(len(e.data))
		e.data = grown
	}
	copy(e.data[off:], b)
	e.size = int64(len(e.data))
	e.mod = time.Now().UTC()
	p.touchLocked(name, e)
	p.evictLocked()
	return len(b), nil
}

func (p *Provider) writeSpilledLocked(name string, e *entry, b []byte, off int64) (int, error) {
	f, err := p.spill.OpenFile(name, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return 0, err
	}
	defer f.Close()
	n, err := f.WriteAt(b, off)
	if end := off + int64(n); end > e.size {
		e.size = end
	}
	e.mod = time.Now().UTC()
	return n, err
}

func (p *Provider) delete(name string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if e, ok := p.entries[name]; ok {
		p.forgetLocked(name, e)
		delete(p.entries, name)
	}
}

func (p *Provider) stat(name string) (os.FileInfo, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if e, ok := p.entries[name]; ok {
		return fileInfo{name: path.Base(name), size: e.size, mod: e.mod}, nil
	}
	if p.hasChildrenLocked(name) {
		return fileInfo{name: path.Base(name), dir: true, mod: time.Now().UTC()}, nil
	}
	return nil, os.ErrNotExist
}

func (p *Provider) readdir(name string) ([]string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.entries[name]; ok {
		return nil, errors.New("not a directory")
	}
	prefix := name + "/"
	seen := map[string]struct{}{}
	for key := range p.entries {
		if rest, ok := strings.CutPrefix(key, prefix); ok && rest != "" {
			seen[strings.SplitN(rest, "/", 2)[0]] = struct{}{}
		}
	}
	if len(seen) == 0 {
		return nil, os.ErrNotExist
	}
	names := make([]string, 0, len(seen))
	for n := range seen {
		names = append(names, n)
	}
	sort.Strings(names)
	return names, nil
}

func (p *Provider) hasChildrenLocked(name string) bool {
	prefix := name + "/"
	for key := range p.entries {
		if strings.HasPrefix(key, prefix) {
			return true
		}
	}
	return false
}

// forgetLocked releases the memory or spill file behind e.
func (p *Provider) forgetLocked(name string, e *entry) {
	if e.spilled {
		_ = p.spill.Remove(name)
		e.spilled = false
	} else {
		p.curBytes -= int64(len(e.data))
	}
	if e.elem != nil {
		p.lru.Remove(e.elem)
		e.elem = nil
	}
	e.data = nil
	e.size = 0
}

func (p *Provider) touchLocked(name string, e *entry) {
	if e.elem == nil {
		e.elem = p.lru.PushFront(name)
		return
	}
	p.lru.MoveToFront(e.elem)
}

func (p *Provider) evictLocked() {
	if p.maxBytes <= 0 {
		return
	}
	for p.curBytes > p.maxBytes {
		back := p.lru.Back()
		if back == nil {
			return
		}
		key := back.Value.(string)
		p.lru.Remove(back)
		e := p.entries[key]
		if e == nil {
			continue
		}
		e.elem = nil
		if p.spill != nil && p.spillLocked(key, e) == nil {
			continue
		}
		p.curBytes -= int64(len(e.data))
		delete(p.entries, key)
	}
}

func (p *Provider) spillLocked(name string, e *entry) error {
	if err := p.spill.MkdirAll(path.Dir(name), 0o755); err != nil {
		return err
	}
	if err := afero.WriteFile(p.spill, name, e.data, 0o644); err != nil {
		return err
	}
	p.curBytes -= int64(len(e.data))
	e.data = nil
	e.spilled = true
	return nil
}

type fileInfo struct {
	name string
	size int64
	mod  time.Time
	dir  bool
}

func (fi fileInfo) Name() string { return fi.name }
func (fi fileInfo) Size() int64  { return fi.size }
func (fi fileInfo) Mode() os.FileMode {
	if fi.dir {
		return os.ModeDir | 0o755
	}
	return 0o644
}
func (fi fileInfo) ModTime() time.Time { return fi.mod }
func (fi fileInfo) IsDir() bool        { return fi.dir }
func (fi fileInfo) Sys() any           { return nil }

func cleanPath(name string) (string, error) {
	trimmed := strings.ReplaceAll(strings.TrimSpace(name), "\\", "/")
	if trimmed == "" || strings.HasPrefix(trimmed, "/") || strings.Contains(trimmed, "\x00") {
		return "", errors.New("invalid path")
	}
	cleaned := path.Clean(trimmed)
	if cleaned == "." || cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return "", errors.New("invalid path")
	}
	return cleaned, nil
}

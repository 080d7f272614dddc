package memory

import (
	"bytes"
	"errors"
	"io"
	"os"
	"strings"
	"testing"

	"github.com/spf13/afero"
)

func TestPutGetRoundtrip(t *testing.T) {
	p := NewProvider()
	inst, err := p.NewInstance("completed/abc")
	if err != nil {
		t.Fatalf("NewInstance: %v", err)
	}
	if err := inst.Put(strings.NewReader("piece")); err != nil {
		t.Fatalf("Put: %v", err)
	}
	rc, err := inst.Get()
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	got, _ := io.ReadAll(rc)
	if string(got) != "piece" {
		t.Fatalf("Get = %q", got)
	}
	if p.Bytes() != 5 {
		t.Fatalf("Bytes = %d, want 5", p.Bytes())
	}
}

func TestWriteAtReadAt(t *testing.T) {
	p := NewProvider()
	inst, _ := p.NewInstance("incomplete/h/0")
	if _, err := inst.WriteAt([]byte("world"), 6); err != nil {
		t.Fatalf("WriteAt: %v", err)
	}
	if _, err := inst.WriteAt([]byte("hello "), 0); err != nil {
		t.Fatalf("WriteAt: %v", err)
	}
	buf := make([]byte, 11)
	n, err := inst.ReadAt(buf, 0)
	if err != nil || n != 11 || string(buf) != "hello world" {
		t.Fatalf("ReadAt = %d %q %v", n, buf, err)
	}
	if _, err := inst.ReadAt(buf, 11); !errors.Is(err, io.EOF) {
		t.Fatalf("ReadAt past end = %v, want EOF", err)
	}
	fi, err := inst.Stat()
	if err != nil || fi.Size() != 11 || fi.IsDir() {
		t.Fatalf("Stat = %+v %v", fi, err)
	}
}

func TestEvictionDropsLeastRecentlyUsed(t *testing.T) {
	p := NewProvider(WithMaxBytes(8))
	a, _ := p.NewInstance("a")
	b, _ := p.NewInstance("b")
	c, _ := p.NewInstance("c")
	_ = a.Put(bytes.NewReader([]byte("1111")))
	_ = b.Put(bytes.NewReader([]byte("2222")))
	// touch a so b becomes the eviction candidate
	if _, err := a.Get(); err != nil {
		t.Fatalf("Get a: %v", err)
	}
	_ = c.Put(bytes.NewReader([]byte("3333")))

	if _, err := b.Get(); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("b should be evicted, got %v", err)
	}
	if _, err := a.Get(); err != nil {
		t.Fatalf("a evicted: %v", err)
	}
	if p.Bytes() > 8 {
		t.Fatalf("Bytes = %d over budget", p.Bytes())
	}
}

func TestEvictionSpillsToFs(t *testing.T) {
	fs := afero.NewMemMapFs()
	p := NewProvider(WithMaxBytes(4), WithSpill(fs))
	a, _ := p.NewInstance("dir/a")
	b, _ := p.NewInstance("dir/b")
	_ = a.Put(strings.NewReader("aaaa"))
	_ = b.Put(strings.NewReader("bbbb"))

	if ok, _ := afero.Exists(fs, "dir/a"); !ok {
		t.Fatalf("a not spilled")
	}
	rc, err := a.Get()
	if err != nil {
		t.Fatalf("Get spilled: %v", err)
	}
	got, _ := io.ReadAll(rc)
	if string(got) != "aaaa" {
		t.Fatalf("spilled data = %q", got)
	}

	if err := a.Delete(); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if ok, _ := afero.Exists(fs, "dir/a"); ok {
		t.Fatalf("spill file not removed")
	}
}

func TestReaddirnames(t *testing.T) {
	p := NewProvider()
	for _, name := range []string{"incomplete/h/0", "incomplete/h/16384", "incomplete/x/0"} {
		inst, _ := p.NewInstance(name)
		_ = inst.Put(strings.NewReader("x"))
	}
	dir, _ := p.NewInstance("incomplete/h")
	names, err := dir.(interface{ Readdirnames() ([]string, error) }).Readdirnames()
	if err != nil {
		t.Fatalf("Readdirnames: %v", err)
	}
	if len(names) != 2 || names[0] != "0" || names[1] != "16384" {
		t.Fatalf("names = %v", names)
	}
	fi, err := dir.Stat()
	if err != nil || !fi.IsDir() {
		t.Fatalf("dir Stat = %+v %v", fi, err)
	}
}

func TestCleanPathRejectsEscapes(t *testing.T) {
	p := NewProvider()
	for _, bad := range []string{"", "/abs", "../up", "a/../../b"} {
		if _, err := p.NewInstance(bad); err == nil {
			t.Errorf("NewInstance(%q) accepted", bad)
		}
	}
}

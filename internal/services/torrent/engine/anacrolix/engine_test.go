package anacrolix

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/anacrolix/torrent"
	"github.com/spf13/afero"

	"torrentstream/streamfs/internal/domain"
)

const testHash = domain.InfoHash("dd8255ecdc7ca55fb0bbf81323d87062db1f6d1c")

type fakeSwarm struct{}

func (fakeSwarm) InfoHash() domain.InfoHash { return testHash }
func (fakeSwarm) Files() []domain.FileRef { return nil }

func newTestEngine(fs afero.Fs) (*Engine, *int) {
	e := newEngine(Config{DataDir: "/data", Fs: fs})
	drops := 0
	e.drop = func(*torrent.Torrent) { drops++ }
	return e, &drops
}

func TestNewEngineDefaults(t *testing.T) {
	e := newEngine(Config{})
	if e.maxConns != defaultMaxConns {
		t.Fatalf("maxConns = %d, want %d", e.maxConns, defaultMaxConns)
	}
	if e.readahead != defaultReadahead {
		t.Fatalf("readahead = %d", e.readahead)
	}
	if e.fs == nil {
		t.Fatalf("fs not defaulted")
	}
}

func TestNewLimiter(t *testing.T) {
	if l := newLimiter(-1); l != nil {
		t.Fatalf("negative limit should mean unlimited")
	}
	l := newLimiter(1000)
	if l == nil || float64(l.Limit()) != 1000 {
		t.Fatalf("limit = %v", l)
	}
	if l.Burst() != minLimiterBurst {
		t.Fatalf("burst = %d, want %d", l.Burst(), minLimiterBurst)
	}
	if big := newLimiter(10 << 20); big.Burst() != 10<<20 {
		t.Fatalf("burst = %d", big.Burst())
	}
}

func TestReleaseDropsOnLastReference(t *testing.T) {
	e, drops := newTestEngine(afero.NewMemMapFs())
	tor := &torrent.Torrent{}
	e.acquire(testHash)
	e.acquire(testHash)

	if e.release(testHash, tor) {
		t.Fatalf("first release should keep the torrent")
	}
	if *drops != 0 {
		t.Fatalf("dropped early")
	}
	if !e.release(testHash, tor) {
		t.Fatalf("last release should drop")
	}
	if *drops != 1 {
		t.Fatalf("drops = %d, want 1", *drops)
	}
	if e.release(testHash, tor) {
		t.Fatalf("release of unheld torrent reported a drop")
	}
	if *drops != 1 {
		t.Fatalf("drops = %d after extra release", *drops)
	}
}

func TestDestroyPurgesInfoHashDir(t *testing.T) {
	fs := afero.NewMemMapFs()
	e, drops := newTestEngine(fs)
	dir := filepath.Join("/data", string(testHash))
	_ = afero.WriteFile(fs, filepath.Join(dir, "movie.mkv"), []byte("x"), 0o644)

	e.acquire(testHash)
	s := &swarm{t: &torrent.Torrent{}, infoHash: testHash}
	if err := e.Destroy(context.Background(), s, true); err != nil {
		t.Fatalf("Destroy: %v", err)
	}
	if *drops != 1 {
		t.Fatalf("drops = %d", *drops)
	}
	if ok, _ := afero.DirExists(fs, dir); ok {
		t.Fatalf("data dir not purged")
	}
}

func TestDestroyKeepsDataWithoutPurge(t *testing.T) {
	fs := afero.NewMemMapFs()
	e, _ := newTestEngine(fs)
	file := filepath.Join("/data", string(testHash), "movie.mkv")
	_ = afero.WriteFile(fs, file, []byte("x"), 0o644)

	e.acquire(testHash)
	if err := e.Destroy(context.Background(), &swarm{t: &torrent.Torrent{}, infoHash: testHash}, false); err != nil {
		t.Fatalf("Destroy: %v", err)
	}
	if ok, _ := afero.Exists(fs, file); !ok {
		t.Fatalf("data removed without purge")
	}
}

func TestForeignSwarmRejected(t *testing.T) {
	e, _ := newTestEngine(afero.NewMemMapFs())
	ctx := context.Background()
	if err := e.Pause(ctx, fakeSwarm{}); !errors.Is(err, ErrForeignSwarm) {
		t.Fatalf("Pause = %v", err)
	}
	if err := e.Resume(ctx, fakeSwarm{}); !errors.Is(err, ErrForeignSwarm) {
		t.Fatalf("Resume = %v", err)
	}
	if _, err := e.StreamRange(ctx, fakeSwarm{}, "a", 0, 1); !errors.Is(err, ErrForeignSwarm) {
		t.Fatalf("StreamRange = %v", err)
	}
}

func TestJoinWithoutClient(t *testing.T) {
	e, _ := newTestEngine(afero.NewMemMapFs())
	if _, err := e.Join(context.Background(), "magnet:?xt=urn:btih:"+string(testHash)); !errors.Is(err, ErrClientNotConfigured) {
		t.Fatalf("Join = %v", err)
	}
	if err := e.Close(); err != nil {
		t.Fatalf("Close without client: %v", err)
	}
}

func TestSwarmFilesIsCopy(t *testing.T) {
	s := &swarm{files: []domain.FileRef{{Name: "a", Path: "t/a", Length: 1}}}
	got := s.Files()
	got[0].Length = 5
	if s.files[0].Length != 1 {
		t.Fatalf("Files shares backing array")
	}
}

func TestTorrentInfoReadyNil(t *testing.T) {
	if torrentInfoReady(nil) {
		t.Fatalf("nil torrent reported ready")
	}
}

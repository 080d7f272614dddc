package apihttp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"torrentstream/streamfs/internal/domain"
	"torrentstream/streamfs/internal/ingest"
	"torrentstream/streamfs/internal/repository/memory"
)

const testHash = domain.InfoHash("dd8255ecdc7ca55fb0bbf81323d87062db1f6d1c")

type fakeLifecycle struct {
	stopped []domain.InfoHash
	stopErr error
	states  []domain.SwarmState
}

func (f *fakeLifecycle) StopTorrent(ctx context.Context, infoHash domain.InfoHash) error {
	f.stopped = append(f.stopped, infoHash)
	return f.stopErr
}

func (f *fakeLifecycle) Snapshot() []domain.SwarmState {
	return f.states
}

type fakeRetrier struct {
	ids    []string
	result domain.TorrentRecord
	err    error
}

func (f *fakeRetrier) Retry(ctx context.Context, id string) (domain.TorrentRecord, error) {
	f.ids = append(f.ids, id)
	return f.result, f.err
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func seededCatalog(t *testing.T) *memory.Catalog {
	t.Helper()
	cat := memory.NewCatalog()
	records := []domain.TorrentRecord{
		{
			ID: "ready-1", FeedGuid: "g1", FeedURL: "magnet:?xt=urn:btih:" + string(testHash),
			InfoHash: testHash, Name: "Big Buck Bunny", MagnetURI: "magnet:?xt=urn:btih:" + string(testHash),
			Files:  []domain.FileRef{{Name: "bbb.mp4", Path: "Big Buck Bunny/bbb.mp4", Length: 10}},
			Status: domain.StatusReady, IsVisible: true,
		},
		{ID: "err-1", FeedGuid: "g2", FeedURL: "http://x/2.torrent", Status: domain.StatusError, Errors: "boom"},
		{ID: "new-1", FeedGuid: "g3", FeedURL: "http://x/3.torrent", Status: domain.StatusNew},
	}
	for _, r := range records {
		if err := cat.Create(context.Background(), r); err != nil {
			t.Fatalf("Create %s: %v", r.ID, err)
		}
	}
	return cat
}

func newTestServer(t *testing.T, opts ...ServerOption) (*Server, *memory.Catalog) {
	t.Helper()
	cat := seededCatalog(t)
	base := []ServerOption{
		WithLogger(quietLogger()),
		WithIngestor(ingest.Ingestor{Catalog: cat, Logger: quietLogger()}),
		WithRateLimit(0, 0),
	}
	s := NewServer(cat, append(base, opts...)...)
	t.Cleanup(s.Close)
	return s, cat
}

func do(t *testing.T, h http.Handler, method, target string, body []byte) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req := httptest.NewRequest(method, target, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) errorPayload {
	t.Helper()
	var env errorEnvelope
	if err := json.Unmarshal(rec.Body.Bytes(), &env); err != nil {
		t.Fatalf("decode error envelope: %v (body %s)", err, rec.Body.String())
	}
	return env.Error
}

func TestHealthz(t *testing.T) {
	s, _ := newTestServer(t)
	rec := do(t, s, http.MethodGet, "/healthz", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if got := rec.Body.String(); got != "{\"status\":\"ok\"}\n" {
		t.Fatalf("body = %q", got)
	}
}

func TestListTorrentsFiltersByStatus(t *testing.T) {
	s, _ := newTestServer(t)
	tests := []struct {
		query string
		ids   []string
	}{
		{"", []string{"ready-1", "err-1", "new-1"}},
		{"?status=all", []string{"ready-1", "err-1", "new-1"}},
		{"?status=READY", []string{"ready-1"}},
		{"?status=error,new", []string{"err-1", "new-1"}},
		{"?status=QUEUED", []string{}},
	}
	for _, tt := range tests {
		rec := do(t, s, http.MethodGet, "/torrents"+tt.query, nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("%q: status = %d", tt.query, rec.Code)
		}
		var got []domain.TorrentRecord
		if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
			t.Fatalf("%q: decode: %v", tt.query, err)
		}
		if len(got) != len(tt.ids) {
			t.Fatalf("%q: got %d records, want %d", tt.query, len(got), len(tt.ids))
		}
		for i, id := range tt.ids {
			if got[i].ID != id {
				t.Errorf("%q: record %d = %s, want %s", tt.query, i, got[i].ID, id)
			}
		}
	}
}

func TestListTorrentsRejectsUnknownStatus(t *testing.T) {
	s, _ := newTestServer(t)
	rec := do(t, s, http.MethodGet, "/torrents?status=DONE", nil)
	if rec.Code != http.StatusBadRequest || decodeError(t, rec).Code != "invalid_request" {
		t.Fatalf("status = %d body = %s", rec.Code, rec.Body.String())
	}
}

func TestIngestTorrent(t *testing.T) {
	s, cat := newTestServer(t)
	body := []byte(`{"guid":"g-new","link":"http://tracker/4.torrent"}`)

	rec := do(t, s, http.MethodPost, "/torrents", body)
	if rec.Code != http.StatusCreated {
		t.Fatalf("first ingest status = %d body = %s", rec.Code, rec.Body.String())
	}
	var created domain.TorrentRecord
	if err := json.Unmarshal(rec.Body.Bytes(), &created); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if created.Status != domain.StatusNew || created.IsVisible || created.FeedURL != "http://tracker/4.torrent" {
		t.Fatalf("created = %+v", created)
	}

	rec = do(t, s, http.MethodPost, "/torrents", body)
	if rec.Code != http.StatusOK {
		t.Fatalf("duplicate ingest status = %d", rec.Code)
	}
	all, _ := cat.ListByStatus(context.Background())
	if len(all) != 4 {
		t.Fatalf("records = %d, want 4", len(all))
	}
}

func TestIngestTorrentValidation(t *testing.T) {
	s, _ := newTestServer(t)
	for _, body := range []string{`not json`, `{"guid":"x"}`, `{"guid":"x","link":"y","extra":1}`, `{"guid":" ","link":"y"}`} {
		rec := do(t, s, http.MethodPost, "/torrents", []byte(body))
		if rec.Code != http.StatusBadRequest {
			t.Errorf("%s: status = %d, want 400", body, rec.Code)
		}
	}
}

func TestGetTorrentByHashOrID(t *testing.T) {
	s, _ := newTestServer(t)
	for _, key := range []string{string(testHash), "DD8255ECDC7CA55FB0BBF81323D87062DB1F6D1C", "ready-1"} {
		rec := do(t, s, http.MethodGet, "/torrents/"+key, nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("%s: status = %d", key, rec.Code)
		}
		var got domain.TorrentRecord
		_ = json.Unmarshal(rec.Body.Bytes(), &got)
		if got.ID != "ready-1" {
			t.Fatalf("%s: got %s", key, got.ID)
		}
	}
	rec := do(t, s, http.MethodGet, "/torrents/missing", nil)
	if rec.Code != http.StatusNotFound || decodeError(t, rec).Code != "not_found" {
		t.Fatalf("missing: status = %d", rec.Code)
	}
}

func TestStopTorrent(t *testing.T) {
	lc := &fakeLifecycle{}
	s, _ := newTestServer(t, WithLifecycle(lc))

	rec := do(t, s, http.MethodPost, "/torrents/"+string(testHash)+"/stop", nil)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("status = %d body = %s", rec.Code, rec.Body.String())
	}
	if len(lc.stopped) != 1 || lc.stopped[0] != testHash {
		t.Fatalf("stopped = %v", lc.stopped)
	}

	rec = do(t, s, http.MethodGet, "/torrents/"+string(testHash)+"/stop", nil)
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("GET stop status = %d", rec.Code)
	}
}

func TestStopTorrentErrors(t *testing.T) {
	tests := []struct {
		name   string
		key    string
		err    error
		status int
		code   string
	}{
		{"busy", string(testHash), fmt.Errorf("swarm: %w", domain.ErrBusy), http.StatusConflict, "busy"},
		{"not running", string(testHash), fmt.Errorf("swarm: %w", domain.ErrNotFound), http.StatusNotFound, "not_found"},
		{"unresolved record", "new-1", nil, http.StatusConflict, "not_resolved"},
		{"engine failure", string(testHash), fmt.Errorf("destroy: disk gone"), http.StatusInternalServerError, "internal_error"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, _ := newTestServer(t, WithLifecycle(&fakeLifecycle{stopErr: tt.err}))
			rec := do(t, s, http.MethodPost, "/torrents/"+tt.key+"/stop", nil)
			if rec.Code != tt.status {
				t.Fatalf("status = %d, want %d", rec.Code, tt.status)
			}
			if got := decodeError(t, rec).Code; got != tt.code {
				t.Fatalf("code = %q, want %q", got, tt.code)
			}
		})
	}
}

func TestRetryTorrent(t *testing.T) {
	retrier := &fakeRetrier{result: domain.TorrentRecord{ID: "err-1", Status: domain.StatusNew}}
	s, _ := newTestServer(t, WithRetrier(retrier))

	rec := do(t, s, http.MethodPost, "/torrents/err-1/retry", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if len(retrier.ids) != 1 || retrier.ids[0] != "err-1" {
		t.Fatalf("retried = %v", retrier.ids)
	}

	do(t, s, http.MethodPost, "/torrents/"+string(testHash)+"/retry", nil)
	if retrier.ids[1] != "ready-1" {
		t.Fatalf("hash key should resolve to the record id, got %v", retrier.ids)
	}

	retrier.err = fmt.Errorf("READY -> NEW: %w", domain.ErrInvalidTransition)
	rec = do(t, s, http.MethodPost, "/torrents/ready-1/retry", nil)
	if rec.Code != http.StatusConflict || decodeError(t, rec).Code != "invalid_transition" {
		t.Fatalf("status = %d body = %s", rec.Code, rec.Body.String())
	}
}

func TestUnknownTorrentAction(t *testing.T) {
	s, _ := newTestServer(t)
	for _, target := range []string{"/torrents/ready-1/delete", "/torrents/ready-1/stop/now"} {
		if rec := do(t, s, http.MethodPost, target, nil); rec.Code != http.StatusNotFound {
			t.Errorf("%s: status = %d", target, rec.Code)
		}
	}
}

func TestSwarms(t *testing.T) {
	lc := &fakeLifecycle{states: []domain.SwarmState{{InfoHash: testHash, Status: domain.SwarmRunning, Ready: true, ActiveReads: 2}}}
	s, _ := newTestServer(t, WithLifecycle(lc))
	rec := do(t, s, http.MethodGet, "/swarms", nil)
	var got []domain.SwarmState
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(got) != 1 || got[0].ActiveReads != 2 || got[0].Status != domain.SwarmRunning {
		t.Fatalf("swarms = %+v", got)
	}

	bare, _ := newTestServer(t)
	if body := do(t, bare, http.MethodGet, "/swarms", nil).Body.String(); body != "[]\n" {
		t.Fatalf("no lifecycle body = %q", body)
	}
}

func TestMetricsEndpointUsesConfiguredHandler(t *testing.T) {
	called := false
	h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { called = true })
	s, _ := newTestServer(t, WithMetricsHandler(h))
	do(t, s, http.MethodGet, "/metrics", nil)
	if !called {
		t.Fatal("metrics handler not called")
	}
}

func TestRateLimitAppliesToAPI(t *testing.T) {
	s, _ := newTestServer(t, WithRateLimit(0.001, 1))
	if rec := do(t, s, http.MethodGet, "/torrents", nil); rec.Code != http.StatusOK {
		t.Fatalf("first request = %d", rec.Code)
	}
	rec := do(t, s, http.MethodGet, "/torrents", nil)
	if rec.Code != http.StatusTooManyRequests || rec.Header().Get("Retry-After") != "1" {
		t.Fatalf("second request = %d", rec.Code)
	}
	if rec := do(t, s, http.MethodGet, "/healthz", nil); rec.Code != http.StatusOK {
		t.Fatalf("healthz should bypass the limiter, got %d", rec.Code)
	}
}

package mongo

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"go.mongodb.org/mongo-driver/mongo/options"

	"torrentstream/streamfs/internal/domain"
)

// testMongoURI returns the MongoDB URI for integration tests. Set
// MONGO_TEST_URI to run them.
func testMongoURI() string {
	return os.Getenv("MONGO_TEST_URI")
}

// setupTestRepo connects to MongoDB and returns a Repository using a unique
// test database. Calls t.Skip if MongoDB is not configured or unreachable.
func setupTestRepo(t *testing.T) *Repository {
	t.Helper()
	uri := testMongoURI()
	if uri == "" {
		t.Skip("MONGO_TEST_URI not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	client, err := Connect(ctx, uri, options.Client().SetConnectTimeout(3*time.Second))
	if err != nil {
		t.Skipf("MongoDB not available at %s: %v", uri, err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		t.Skipf("MongoDB ping failed at %s: %v", uri, err)
	}

	dbName := fmt.Sprintf("streamfs_test_%d", time.Now().UnixNano())
	repo := NewRepository(client, dbName, "torrents")
	if err := repo.EnsureIndexes(ctx); err != nil {
		_ = client.Disconnect(ctx)
		t.Fatalf("EnsureIndexes: %v", err)
	}

	t.Cleanup(func() {
		ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel2()
		_ = client.Database(dbName).Drop(ctx2)
		_ = client.Disconnect(ctx2)
	})
	return repo
}

func newRecord(id string) domain.TorrentRecord {
	return domain.TorrentRecord{
		ID:       id,
		FeedGuid: "guid-" + id,
		FeedURL:  "magnet:?xt=urn:btih:" + id,
		Status:   domain.StatusNew,
	}
}

func readyUpdate(hash string) domain.RecordUpdate {
	ih := domain.InfoHash(hash)
	name := "Torrent " + hash[:4]
	magnet := "magnet:?xt=urn:btih:" + hash
	files := []domain.FileRef{{Name: "a.mkv", Path: name + "/a.mkv", Length: 10}}
	status := domain.StatusReady
	visible := true
	return domain.RecordUpdate{InfoHash: &ih, Name: &name, MagnetURI: &magnet, Files: &files, Status: &status, IsVisible: &visible}
}

func TestIntegrationCreateDuplicateGuid(t *testing.T) {
	repo := setupTestRepo(t)
	ctx := context.Background()

	if err := repo.Create(ctx, newRecord("1")); err != nil {
		t.Fatalf("Create: %v", err)
	}
	dup := newRecord("2")
	dup.FeedGuid = "guid-1"
	if err := repo.Create(ctx, dup); !errors.Is(err, domain.ErrAlreadyExists) {
		t.Fatalf("duplicate Create = %v, want ErrAlreadyExists", err)
	}
}

func TestIntegrationPopOldestNewFIFO(t *testing.T) {
	repo := setupTestRepo(t)
	ctx := context.Background()

	for _, id := range []string{"a", "b", "c"} {
		if err := repo.Create(ctx, newRecord(id)); err != nil {
			t.Fatalf("Create %s: %v", id, err)
		}
	}
	for _, want := range []string{"a", "b", "c"} {
		got, err := repo.PopOldestNew(ctx)
		if err != nil {
			t.Fatalf("PopOldestNew: %v", err)
		}
		if got.ID != want || got.Status != domain.StatusQueued {
			t.Fatalf("popped %s/%s, want %s/QUEUED", got.ID, got.Status, want)
		}
	}
	if _, err := repo.PopOldestNew(ctx); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("empty PopOldestNew = %v, want ErrNotFound", err)
	}
}

func TestIntegrationPopOldestNewConcurrent(t *testing.T) {
	repo := setupTestRepo(t)
	ctx := context.Background()
	for i := 0; i < 10; i++ {
		if err := repo.Create(ctx, newRecord(fmt.Sprintf("r%02d", i))); err != nil {
			t.Fatalf("Create: %v", err)
		}
	}

	var mu sync.Mutex
	seen := map[string]bool{}
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			rec, err := repo.PopOldestNew(ctx)
			if err != nil {
				t.Errorf("PopOldestNew: %v", err)
				return
			}
			mu.Lock()
			defer mu.Unlock()
			if seen[rec.ID] {
				t.Errorf("record %s popped twice", rec.ID)
			}
			seen[rec.ID] = true
		}()
	}
	wg.Wait()
}

func TestIntegrationUpdateAndVisibility(t *testing.T) {
	repo := setupTestRepo(t)
	ctx := context.Background()
	hash := "dd8255ecdc7ca55fb0bbf81323d87062db1f6d1c"

	if err := repo.Create(ctx, newRecord("1")); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := repo.Update(ctx, "1", readyUpdate(hash)); err != nil {
		t.Fatalf("Update: %v", err)
	}

	visible, err := repo.ListVisible(ctx)
	if err != nil || len(visible) != 1 || visible[0].InfoHash != domain.InfoHash(hash) {
		t.Fatalf("ListVisible = %v, %v", visible, err)
	}

	if err := repo.SetVisible(ctx, domain.InfoHash(hash), false); err != nil {
		t.Fatalf("SetVisible: %v", err)
	}
	visible, _ = repo.ListVisible(ctx)
	if len(visible) != 0 {
		t.Fatalf("record still visible after SetVisible(false)")
	}

	got, err := repo.FindByInfoHash(ctx, domain.InfoHash(hash))
	if err != nil || got.ID != "1" {
		t.Fatalf("FindByInfoHash = %+v, %v", got, err)
	}
	if _, err := repo.FindByMagnetURI(ctx, "magnet:?xt=urn:btih:"+hash); err != nil {
		t.Fatalf("FindByMagnetURI: %v", err)
	}
}

func TestIntegrationUpdateRejectsInvalidVisibility(t *testing.T) {
	repo := setupTestRepo(t)
	ctx := context.Background()
	if err := repo.Create(ctx, newRecord("1")); err != nil {
		t.Fatalf("Create: %v", err)
	}
	visible := true
	if _, err := repo.Update(ctx, "1", domain.RecordUpdate{IsVisible: &visible}); !errors.Is(err, domain.ErrInvalidRecord) {
		t.Fatalf("Update = %v, want ErrInvalidRecord", err)
	}
}

func TestIntegrationUpdateFromRejectsStaleStatus(t *testing.T) {
	repo := setupTestRepo(t)
	ctx := context.Background()
	if err := repo.Create(ctx, newRecord("1")); err != nil {
		t.Fatalf("Create: %v", err)
	}
	queued := domain.StatusQueued
	from := domain.StatusNew
	if _, err := repo.Update(ctx, "1", domain.RecordUpdate{From: &from, Status: &queued}); err != nil {
		t.Fatalf("Update: %v", err)
	}
	processing := domain.StatusProcessing
	if _, err := repo.Update(ctx, "1", domain.RecordUpdate{From: &from, Status: &processing}); !errors.Is(err, domain.ErrInvalidTransition) {
		t.Fatalf("stale Update = %v, want ErrInvalidTransition", err)
	}
}

func TestIntegrationConcurrentTerminalUpdatesOneWins(t *testing.T) {
	repo := setupTestRepo(t)
	ctx := context.Background()
	rec := newRecord("1")
	rec.Status = domain.StatusProcessing
	if err := repo.Create(ctx, rec); err != nil {
		t.Fatalf("Create: %v", err)
	}

	from := domain.StatusProcessing
	targets := []domain.TorrentStatus{domain.StatusError, domain.StatusTimeout}
	errs := make([]error, len(targets))
	var wg sync.WaitGroup
	for i, to := range targets {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = repo.Update(ctx, "1", domain.RecordUpdate{From: &from, Status: &to})
		}()
	}
	wg.Wait()

	ok := 0
	for _, err := range errs {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, domain.ErrInvalidTransition):
		default:
			t.Fatalf("Update: %v", err)
		}
	}
	if ok != 1 {
		t.Fatalf("successful updates = %d, want 1 (errs %v)", ok, errs)
	}
}

func TestIntegrationGetMissing(t *testing.T) {
	repo := setupTestRepo(t)
	if _, err := repo.Get(context.Background(), "missing"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("Get = %v, want ErrNotFound", err)
	}
}

package domain

import (
	"errors"
	"reflect"
	"testing"
)

func TestTorrentStatusConstants(t *testing.T) {
	want := map[TorrentStatus]string{
		StatusNew:        "NEW",
		StatusQueued:     "QUEUED",
		StatusProcessing: "PROCESSING",
		StatusReady:      "READY",
		StatusError:      "ERROR",
		StatusTimeout:    "TIMEOUT",
	}
	for s, v := range want {
		if string(s) != v {
			t.Fatalf("status = %q, want %q", s, v)
		}
		if !s.Valid() {
			t.Fatalf("%s should be valid", s)
		}
	}
	if TorrentStatus("DONE").Valid() {
		t.Fatalf("unknown status reported valid")
	}
}

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to TorrentStatus
		ok       bool
	}{
		{StatusNew, StatusQueued, true},
		{StatusQueued, StatusProcessing, true},
		{StatusProcessing, StatusReady, true},
		{StatusProcessing, StatusError, true},
		{StatusProcessing, StatusTimeout, true},
		{StatusError, StatusNew, true},
		{StatusTimeout, StatusNew, true},
		{StatusNew, StatusReady, false},
		{StatusReady, StatusNew, false},
		{StatusQueued, StatusReady, false},
	}
	for _, tt := range tests {
		if got := CanTransition(tt.from, tt.to); got != tt.ok {
			t.Errorf("CanTransition(%s, %s) = %v, want %v", tt.from, tt.to, got, tt.ok)
		}
	}
}

func TestNormalizeInfoHash(t *testing.T) {
	upper := "DD8255ECDC7CA55FB0BBF81323D87062DB1F6D1C"
	if got := NormalizeInfoHash(upper); got != "dd8255ecdc7ca55fb0bbf81323d87062db1f6d1c" {
		t.Fatalf("NormalizeInfoHash = %q", got)
	}
	for _, bad := range []string{"", "abc", upper + "0", "zz8255ecdc7ca55fb0bbf81323d87062db1f6d1c"} {
		if got := NormalizeInfoHash(bad); got != "" {
			t.Fatalf("NormalizeInfoHash(%q) = %q, want empty", bad, got)
		}
	}
}

func validReady() TorrentRecord {
	return TorrentRecord{
		ID:        "id-1",
		FeedGuid:  "guid-1",
		FeedURL:   "magnet:?xt=urn:btih:dd8255ecdc7ca55fb0bbf81323d87062db1f6d1c",
		InfoHash:  "dd8255ecdc7ca55fb0bbf81323d87062db1f6d1c",
		Name:      "Big Buck Bunny",
		MagnetURI: "magnet:?xt=urn:btih:dd8255ecdc7ca55fb0bbf81323d87062db1f6d1c",
		Files:     []FileRef{{Name: "bbb.mp4", Path: "Big Buck Bunny/bbb.mp4", Length: 10}},
		Status:    StatusReady,
		IsVisible: true,
	}
}

func TestValidateVisibleInvariant(t *testing.T) {
	if err := validReady().Validate(); err != nil {
		t.Fatalf("valid record: %v", err)
	}

	cases := map[string]func(*TorrentRecord){
		"not ready":    func(r *TorrentRecord) { r.Status = StatusProcessing },
		"no infoHash":  func(r *TorrentRecord) { r.InfoHash = "" },
		"no name":      func(r *TorrentRecord) { r.Name = "" },
		"no magnet":    func(r *TorrentRecord) { r.MagnetURI = "" },
		"no files":     func(r *TorrentRecord) { r.Files = nil },
		"bad infoHash": func(r *TorrentRecord) { r.InfoHash = "XYZ" },
		"no guid":      func(r *TorrentRecord) { r.FeedGuid = "" },
		"bad status":   func(r *TorrentRecord) { r.Status = "DONE" },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			r := validReady()
			mutate(&r)
			if err := r.Validate(); !errors.Is(err, ErrInvalidRecord) {
				t.Fatalf("Validate() = %v, want ErrInvalidRecord", err)
			}
		})
	}
}

func TestValidateInvisibleNewRecord(t *testing.T) {
	r := TorrentRecord{ID: "id", FeedGuid: "g", FeedURL: "http://x/1.torrent", Status: StatusNew}
	if err := r.Validate(); err != nil {
		t.Fatalf("Validate() = %v", err)
	}
}

func TestRecordUpdateApply(t *testing.T) {
	r := TorrentRecord{ID: "id", Name: "old", Status: StatusQueued}
	name := "new"
	status := StatusProcessing
	files := []FileRef{{Name: "a", Path: "a", Length: 1}}
	got := RecordUpdate{Name: &name, Status: &status, Files: &files}.Apply(r)
	if got.Name != "new" || got.Status != StatusProcessing || len(got.Files) != 1 {
		t.Fatalf("Apply = %+v", got)
	}
	files[0].Length = 99
	if got.Files[0].Length != 1 {
		t.Fatalf("Apply must copy files")
	}
	if r.Name != "old" {
		t.Fatalf("Apply mutated receiver")
	}
}

func TestIsFreeURL(t *testing.T) {
	if !IsFreeURL("free") || !IsFreeURL("free:sintel") {
		t.Fatalf("free markers not detected")
	}
	if IsFreeURL("freeze") || IsFreeURL("http://free") {
		t.Fatalf("false positive")
	}
}

func TestTorrentRecordJSONTags(t *testing.T) {
	expectJSONTag(t, TorrentRecord{}, "FeedGuid", "feedGuid")
	expectJSONTag(t, TorrentRecord{}, "FeedURL", "feedURL")
	expectJSONTag(t, TorrentRecord{}, "InfoHash", "infoHash,omitempty")
	expectJSONTag(t, TorrentRecord{}, "MagnetURI", "magnetURI,omitempty")
	expectJSONTag(t, TorrentRecord{}, "IsVisible", "isVisible")
	expectJSONTag(t, FileRef{}, "Length", "length")
	expectJSONTag(t, SwarmState{}, "ActiveReads", "activeReads")
}

func expectJSONTag(t *testing.T, v any, field, want string) {
	t.Helper()
	f, ok := reflect.TypeOf(v).FieldByName(field)
	if !ok {
		t.Fatalf("field %s not found", field)
	}
	if got := f.Tag.Get("json"); got != want {
		t.Fatalf("%s json tag = %q, want %q", field, got, want)
	}
}

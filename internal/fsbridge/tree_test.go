package fsbridge

import (
	"reflect"
	"testing"

	"torrentstream/streamfs/internal/domain"
)

func TestBuildTree(t *testing.T) {
	tree := BuildTree([]domain.FileRef{
		{Path: "a/b.txt", Length: 10},
		{Path: "a/c.txt", Length: 20},
		{Path: "d.txt", Length: 5},
	})

	if got, _ := tree.Children(""); !reflect.DeepEqual(got, []string{"a", "d.txt"}) {
		t.Fatalf("root = %v, want [a d.txt]", got)
	}
	if got, _ := tree.Children("a"); !reflect.DeepEqual(got, []string{"b.txt", "c.txt"}) {
		t.Fatalf("a = %v, want [b.txt c.txt]", got)
	}

	leaves := map[string]int64{"a/b.txt": 10, "a/c.txt": 20, "d.txt": 5}
	for path, length := range leaves {
		node, ok := tree.Lookup(path)
		if !ok {
			t.Fatalf("Lookup(%q) missing", path)
		}
		leaf, isLeaf := node.(*Leaf)
		if !isLeaf || leaf.Length != length {
			t.Fatalf("Lookup(%q) = %#v, want leaf of %d", path, node, length)
		}
	}
}

func TestTreeLookupMisses(t *testing.T) {
	tree := BuildTree([]domain.FileRef{{Path: "Movie/subs/en.srt", Length: 1}})

	tests := []struct {
		path string
		ok   bool
	}{
		{"", true},
		{"Movie", true},
		{"Movie/subs", true},
		{"/Movie//subs/", true},
		{"Movie/subs/en.srt", true},
		{"Movie/subs/en.srt/more", false},
		{"Movie/missing", false},
		{"Other", false},
	}
	for _, tt := range tests {
		if _, ok := tree.Lookup(tt.path); ok != tt.ok {
			t.Errorf("Lookup(%q) ok = %v, want %v", tt.path, ok, tt.ok)
		}
	}

	if _, ok := tree.Children("Movie/subs/en.srt"); ok {
		t.Fatalf("Children of a leaf should fail")
	}
}

func TestBuildTreeSkipsConflicts(t *testing.T) {
	tree := BuildTree([]domain.FileRef{
		{Path: "x", Length: 1},
		{Path: "x/y", Length: 2},
		{Path: "z/w", Length: 3},
		{Path: "z", Length: 4},
		{Path: "", Length: 5},
	})
	node, _ := tree.Lookup("x")
	if _, ok := node.(*Leaf); !ok {
		t.Fatalf("x should stay a file")
	}
	if _, ok := tree.Children("z"); !ok {
		t.Fatalf("z should stay a directory")
	}
	if got, _ := tree.Children(""); !reflect.DeepEqual(got, []string{"x", "z"}) {
		t.Fatalf("root = %v", got)
	}
}

func TestParsePath(t *testing.T) {
	const upper = "DD8255ECDC7CA55FB0BBF81323D87062DB1F6D1C"
	const lower = "dd8255ecdc7ca55fb0bbf81323d87062db1f6d1c"
	tests := []struct {
		in   string
		want fsPath
	}{
		{"/", fsPath{kind: kindRoot}},
		{"", fsPath{kind: kindRoot}},
		{"/" + upper, fsPath{kind: kindTorrent, infoHash: lower}},
		{"/" + lower + "/", fsPath{kind: kindTorrent, infoHash: lower}},
		{"/" + lower + "/Movie/a.mkv", fsPath{kind: kindEntry, infoHash: lower, sub: "Movie/a.mkv"}},
		{"/not-a-hash", fsPath{kind: kindInvalid}},
		{"/not-a-hash/file", fsPath{kind: kindInvalid}},
	}
	for _, tt := range tests {
		if got := parsePath(tt.in); got != tt.want {
			t.Errorf("parsePath(%q) = %+v, want %+v", tt.in, got, tt.want)
		}
	}
}

package fsbridge

import (
	"strings"

	"github.com/elliotchance/orderedmap"

	"torrentstream/streamfs/internal/domain"
)

// Leaf is a file node of a Tree.
type Leaf struct {
	Length int64
}

// Tree is the directory hierarchy of one torrent. Interior nodes are
// *orderedmap.OrderedMap keyed by path segment; files are *Leaf. Keys keep
// the order the files appear in the torrent.
type Tree struct {
	root *orderedmap.OrderedMap
}

// BuildTree nests files by the segments of their paths. A path that would
// turn an existing file into a directory, or the reverse, is skipped.
func BuildTree(files []domain.FileRef) *Tree {
	root := orderedmap.NewOrderedMap()
	for _, f := range files {
		segments := splitPath(f.Path)
		if len(segments) == 0 {
			continue
		}
		node := root
		for _, seg := range segments[:len(segments)-1] {
			next, ok := node.Get(seg)
			if !ok {
				child := orderedmap.NewOrderedMap()
				node.Set(seg, child)
				node = child
				continue
			}
			dir, isDir := next.(*orderedmap.OrderedMap)
			if !isDir {
				node = nil
				break
			}
			node = dir
		}
		if node == nil {
			continue
		}
		name := segments[len(segments)-1]
		if _, exists := node.Get(name); exists {
			continue
		}
		node.Set(name, &Leaf{Length: f.Length})
	}
	return &Tree{root: root}
}

// Lookup returns the node at sub, which is "" for the tree root.
func (t *Tree) Lookup(sub string) (interface{}, bool) {
	var node interface{} = t.root
	for _, seg := range splitPath(sub) {
		dir, ok := node.(*orderedmap.OrderedMap)
		if !ok {
			return nil, false
		}
		if node, ok = dir.Get(seg); !ok {
			return nil, false
		}
	}
	return node, true
}

// Children lists the keys of the directory at sub. ok is false for missing
// nodes and for leaves.
func (t *Tree) Children(sub string) ([]string, bool) {
	node, ok := t.Lookup(sub)
	if !ok {
		return nil, false
	}
	dir, ok := node.(*orderedmap.OrderedMap)
	if !ok {
		return nil, false
	}
	return keys(dir), true
}

func keys(m *orderedmap.OrderedMap) []string {
	out := make([]string, 0, m.Len())
	for el := m.Front(); el != nil; el = el.Next() {
		out = append(out, el.Key.(string))
	}
	return out
}

func splitPath(p string) []string {
	parts := strings.Split(p, "/")
	out := parts[:0]
	for _, s := range parts {
		if s != "" && s != "." {
			out = append(out, s)
		}
	}
	return out
}

package fsbridge

import "time"

const (
	ModeDir     uint32 = 0o40755
	ModeFile    uint32 = 0o100644
	ModeSymlink uint32 = 0o120755
)

// Attr is the stat result of a filesystem node. Directories report their
// child count as Size.
type Attr struct {
	Mode  uint32
	Size  int64
	Nlink uint32
	Uid   uint32
	Gid   uint32
	Mtime time.Time
}

func (a Attr) IsDir() bool { return a.Mode&0o170000 == ModeDir&0o170000 }

package fatstore

import (
	"io/fs"
	"strconv"
	"time"
)

// info is a snapshot of a Node implementing fs.FileInfo; later writes do
// not change it. Sys returns the Extent.
type info struct {
	ino   uint64
	mode  fs.FileMode
	ext   Extent
	mtime time.Time
}

func statOf(n *Node) *info {
	return &info{ino: n.Ino, mode: n.Mode, ext: n.Extent(), mtime: n.Mtime()}
}

// decimal file number; names live in the directory layer
func (i *info) Name() string {
	return strconv.FormatUint(i.ino, 10)
}

// length in bytes
func (i *info) Size() int64 {
	return int64(i.ext.Size)
}

// file mode bits
func (i *info) Mode() fs.FileMode {
	return i.mode
}

// modification time
func (i *info) ModTime() time.Time {
	return i.mtime
}

// abbreviation for Mode().IsDir()
func (i *info) IsDir() bool {
	return i.mode.IsDir()
}

// underlying Extent
func (i *info) Sys() any {
	return i.ext
}

package fatstore

import (
	"fmt"
	"io"
	"io/fs"
	"sync"
	"time"
)

// File is an open handle on a stored file. It owns the file-position cursor
// and a chain Hint, and implements io.Reader, io.Writer, io.Seeker,
// io.ReaderAt and io.WriterAt.
//
// Every operation holds the node's lock for its full duration, so reads and
// writes through different handles on the same file are serialized.
//
// The cursor advances by the number of bytes actually transferred. A write
// cut short by ErrOutOfSpace leaves the cursor at the end of the committed
// bytes, which is also the new file size when the write extended the file.
type File struct {
	vol  *Volume
	node *Node

	mu     sync.Mutex // protects pos, hint and closed
	pos    int64
	hint   Hint
	closed bool
}

// Ino returns the file number.
func (f *File) Ino() uint64 {
	return f.node.Ino
}

// Read reads from the cursor and advances it. It returns io.EOF when the
// cursor is at or past the end of the file.
func (f *File) Read(p []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return 0, ErrClosed
	}
	n, err := f.readAt(p, f.pos)
	f.pos += int64(n)
	return n, err
}

// ReadAt reads len(p) bytes at off without moving the cursor. Following
// io.ReaderAt, a short read returns io.EOF.
func (f *File) ReadAt(p []byte, off int64) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return 0, ErrClosed
	}
	return f.readAt(p, off)
}

func (f *File) readAt(p []byte, off int64) (int, error) {
	if off < 0 {
		return 0, fmt.Errorf("read at %d: %w", off, ErrInvalidOffset)
	}
	if len(p) == 0 {
		return 0, nil
	}
	f.node.mu.Lock()
	n, err := f.vol.engine.readAt(&f.node.ext, p, uint64(off), &f.hint)
	f.node.mu.Unlock()
	if err != nil {
		return n, err
	}
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

// Write writes at the cursor and advances it by the bytes written.
func (f *File) Write(p []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return 0, ErrClosed
	}
	n, err := f.writeAt(p, f.pos)
	f.pos += int64(n)
	return n, err
}

// WriteAt writes p at off without moving the cursor. Writing past the end
// of the file fills the gap with zeros.
func (f *File) WriteAt(p []byte, off int64) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return 0, ErrClosed
	}
	return f.writeAt(p, off)
}

func (f *File) writeAt(p []byte, off int64) (int, error) {
	if off < 0 {
		return 0, fmt.Errorf("write at %d: %w", off, ErrInvalidOffset)
	}
	if f.vol.readOnly {
		return 0, fmt.Errorf("write at %d: %w", off, ErrReadOnly)
	}
	if len(p) == 0 {
		return 0, nil
	}
	f.vol.barrier.RLock()
	f.node.mu.Lock()
	n, err := f.vol.engine.writeAt(&f.node.ext, p, uint64(off), &f.hint)
	f.node.mu.Unlock()
	f.vol.barrier.RUnlock()
	if n > 0 {
		f.node.SetMtime(time.Now())
	}
	return n, err
}

// Seek sets the cursor for the next Read or Write. Seeking past the end is
// allowed; a later write fills the gap with zeros.
func (f *File) Seek(offset int64, whence int) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return 0, ErrClosed
	}
	var base int64
	switch whence {
	case io.SeekStart:
	case io.SeekCurrent:
		base = f.pos
	case io.SeekEnd:
		base = f.node.Size()
	default:
		return f.pos, fmt.Errorf("seek: invalid whence %d", whence)
	}
	if base+offset < 0 {
		return f.pos, fmt.Errorf("seek to %d: %w", base+offset, ErrInvalidOffset)
	}
	f.pos = base + offset
	return f.pos, nil
}

// Size returns the logical file size.
func (f *File) Size() int64 {
	return f.node.Size()
}

// Stat returns a snapshot of the file's metadata.
func (f *File) Stat() (fs.FileInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return nil, ErrClosed
	}
	return statOf(f.node), nil
}

// Close releases the handle. Data is already in the block store; Close
// does not flush a backing image.
func (f *File) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return ErrClosed
	}
	f.closed = true
	f.hint.Reset()
	return nil
}

var (
	_ io.ReadWriteSeeker = (*File)(nil)
	_ io.ReaderAt        = (*File)(nil)
	_ io.WriterAt        = (*File)(nil)
	_ io.Closer          = (*File)(nil)
)

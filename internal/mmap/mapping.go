package mmap

import (
	"errors"
	"fmt"
	"os"
	"sync/atomic"
)

// ErrInvalidSize is returned for empty or negative mapping sizes.
var ErrInvalidSize = errors.New("mmap: invalid size")

// Mapping is a shared mapping of a whole file, read-write unless opened
// with OpenRO.
type Mapping struct {
	data     []byte
	f        *os.File
	readOnly bool
	closed   atomic.Bool
}

// Create makes (or truncates) the file at path to size bytes and maps it.
// The new contents are zero.
func Create(path string, size int64) (*Mapping, error) {
	if size <= 0 {
		return nil, ErrInvalidSize
	}
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, err
	}
	if err := f.Truncate(size); err != nil {
		f.Close()
		return nil, fmt.Errorf("mmap: sizing %s: %w", path, err)
	}
	return mapFile(f, size, false)
}

// OpenRW maps an existing file read-write.
func OpenRW(path string) (*Mapping, error) {
	return open(path, false)
}

// OpenRO maps an existing file read-only. Writing to Bytes faults.
func OpenRO(path string) (*Mapping, error) {
	return open(path, true)
}

func open(path string, readOnly bool) (*Mapping, error) {
	flag := os.O_RDWR
	if readOnly {
		flag = os.O_RDONLY
	}
	f, err := os.OpenFile(path, flag, 0)
	if err != nil {
		return nil, err
	}
	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	if fi.Size() <= 0 {
		f.Close()
		return nil, ErrInvalidSize
	}
	return mapFile(f, fi.Size(), readOnly)
}

func mapFile(f *os.File, size int64, readOnly bool) (*Mapping, error) {
	if int64(int(size)) != size {
		f.Close()
		return nil, ErrInvalidSize
	}
	data, err := osMap(f, int(size), readOnly)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("mmap: mapping %s: %w", f.Name(), err)
	}
	return &Mapping{data: data, f: f, readOnly: readOnly}, nil
}

// ReadOnly reports whether the mapping was opened with OpenRO.
func (m *Mapping) ReadOnly() bool {
	return m.readOnly
}

// Bytes returns the mapped region.
// Warning: The slice is valid only until Close() is called.
func (m *Mapping) Bytes() []byte {
	if m.closed.Load() {
		return nil
	}
	return m.data
}

// Size returns the size of the mapping in bytes.
func (m *Mapping) Size() int {
	return len(m.data)
}

// Sync flushes dirty pages to the file. A read-only mapping has none.
func (m *Mapping) Sync() error {
	if m.closed.Load() {
		return os.ErrClosed
	}
	if m.readOnly {
		return nil
	}
	return osSync(m.data)
}

// Close unmaps the memory and closes the file. It is idempotent.
func (m *Mapping) Close() error {
	if m.closed.Swap(true) {
		return nil
	}
	err := osUnmap(m.data)
	m.data = nil
	if closeErr := m.f.Close(); closeErr != nil && err == nil {
		err = closeErr
	}
	return err
}

package fatstore

import (
	"bytes"
	"errors"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestVolume(t *testing.T, opts ...Option) *Volume {
	t.Helper()
	vol, err := NewMemVolume(opts...)
	require.NoError(t, err)
	return vol
}

func TestFileSequentialWriteRead(t *testing.T) {
	vol := newTestVolume(t, WithBlockSize(BlockSize512), WithBlockCount(64))
	f, err := vol.Create(0o644)
	require.NoError(t, err)

	data := payload(5000, 7)
	for chunk := range slicesChunk(data, 333) {
		n, err := f.Write(chunk)
		require.NoError(t, err)
		require.Equal(t, len(chunk), n)
	}
	assert.Equal(t, int64(5000), f.Size())

	pos, err := f.Seek(0, io.SeekStart)
	require.NoError(t, err)
	assert.Zero(t, pos)

	got, err := io.ReadAll(f)
	require.NoError(t, err)
	assert.Equal(t, data, got)

	n, err := f.Read(make([]byte, 10))
	assert.Zero(t, n)
	assert.ErrorIs(t, err, io.EOF)
}

// slicesChunk yields consecutive pieces of at most n bytes.
func slicesChunk(p []byte, n int) func(func([]byte) bool) {
	return func(yield func([]byte) bool) {
		for len(p) > 0 {
			k := min(n, len(p))
			if !yield(p[:k]) {
				return
			}
			p = p[k:]
		}
	}
}

func TestFileSeekPastEndCreatesHole(t *testing.T) {
	vol := newTestVolume(t, WithBlockSize(BlockSize4K), WithBlockCount(8))
	f, err := vol.Create(0o644)
	require.NoError(t, err)

	_, err = f.Write(payload(5000, 1))
	require.NoError(t, err)
	_, err = f.Seek(5000, io.SeekCurrent)
	require.NoError(t, err)
	_, err = f.Write([]byte("0123456789"))
	require.NoError(t, err)
	assert.Equal(t, int64(10010), f.Size())

	end, err := f.Seek(0, io.SeekEnd)
	require.NoError(t, err)
	assert.Equal(t, int64(10010), end)

	hole := make([]byte, 5000)
	n, err := f.ReadAt(hole, 5000)
	require.NoError(t, err)
	assert.Equal(t, 5000, n)
	assert.Equal(t, make([]byte, 5000), hole)

	fi, err := f.Stat()
	require.NoError(t, err)
	ext := fi.Sys().(Extent)
	assert.Equal(t, uint32(3), ext.Blocks)
}

func TestFileReadAtShort(t *testing.T) {
	vol := newTestVolume(t)
	f, err := vol.Create(0o644)
	require.NoError(t, err)
	_, err = f.WriteAt([]byte("hello world"), 0)
	require.NoError(t, err)

	buf := make([]byte, 20)
	n, err := f.ReadAt(buf, 6)
	assert.Equal(t, 5, n)
	assert.ErrorIs(t, err, io.EOF)
	assert.Equal(t, "world", string(buf[:n]))

	n, err = f.ReadAt(buf, 11)
	assert.Zero(t, n)
	assert.ErrorIs(t, err, io.EOF)

	pos, err := f.Seek(0, io.SeekCurrent)
	require.NoError(t, err)
	assert.Zero(t, pos, "ReadAt and WriteAt do not move the cursor")
}

func TestFileCursorOnOutOfSpace(t *testing.T) {
	vol := newTestVolume(t, WithBlockSize(BlockSize512), WithBlockCount(2))
	f, err := vol.Create(0o644)
	require.NoError(t, err)

	n, err := f.Write(payload(1500, 0))
	require.ErrorIs(t, err, ErrOutOfSpace)
	assert.Equal(t, 1024, n)

	pos, err := f.Seek(0, io.SeekCurrent)
	require.NoError(t, err)
	assert.Equal(t, int64(1024), pos, "cursor advances by bytes transferred")
	assert.Equal(t, int64(1024), f.Size())
}

func TestFileInvalidOffsets(t *testing.T) {
	vol := newTestVolume(t)
	f, err := vol.Create(0o644)
	require.NoError(t, err)

	_, err = f.ReadAt(make([]byte, 1), -1)
	assert.ErrorIs(t, err, ErrInvalidOffset)
	_, err = f.WriteAt([]byte("x"), -1)
	assert.ErrorIs(t, err, ErrInvalidOffset)
	_, err = f.Seek(-1, io.SeekStart)
	assert.ErrorIs(t, err, ErrInvalidOffset)
	_, err = f.Seek(0, 42)
	assert.Error(t, err)
}

func TestFileClose(t *testing.T) {
	vol := newTestVolume(t)
	f, err := vol.Create(0o644)
	require.NoError(t, err)
	require.NoError(t, f.Close())

	assert.ErrorIs(t, f.Close(), ErrClosed)
	_, err = f.Write([]byte("x"))
	assert.ErrorIs(t, err, ErrClosed)
	_, err = f.Read(make([]byte, 1))
	assert.ErrorIs(t, err, ErrClosed)
	_, err = f.Stat()
	assert.ErrorIs(t, err, ErrClosed)
}

func TestFileHandlesShareData(t *testing.T) {
	vol := newTestVolume(t, WithBlockSize(BlockSize512), WithBlockCount(32))
	w, err := vol.Create(0o644)
	require.NoError(t, err)
	r, err := vol.Open(w.Ino())
	require.NoError(t, err)

	_, err = w.Write(payload(600, 2))
	require.NoError(t, err)
	got := make([]byte, 600)
	_, err = io.ReadFull(r, got)
	require.NoError(t, err)
	assert.Equal(t, payload(600, 2), got)

	// The reader's hint points at block 1; the writer grows the chain.
	_, err = w.Write(payload(2000, 3))
	require.NoError(t, err)
	rest, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.True(t, bytes.Equal(payload(2000, 3), rest))
}

func TestFileCopy(t *testing.T) {
	vol := newTestVolume(t, WithBlockSize(BlockSize1K), WithBlockCount(128))
	src := bytes.Repeat([]byte("fat chain "), 9000)

	f, err := vol.Create(0o600)
	require.NoError(t, err)
	n, err := io.Copy(f, bytes.NewReader(src))
	require.NoError(t, err)
	assert.Equal(t, int64(len(src)), n)

	var out bytes.Buffer
	_, err = io.Copy(&out, io.NewSectionReader(f, 0, f.Size()))
	require.NoError(t, err)
	assert.Equal(t, src, out.Bytes())

	fi, err := f.Stat()
	require.NoError(t, err)
	ext := fi.Sys().(Extent)
	assert.True(t, ext.Tight(1024))
	assert.NoError(t, vol.Check())
}

func TestFileTransferFaultSurfaces(t *testing.T) {
	mem, err := NewMemBlockStore(BlockSize512, 8)
	require.NoError(t, err)
	store := &faultyStore{MemBlockStore: mem, bad: EndOfChain}
	vol, err := NewVolume(store, NewMemChainTable(8), NewBitmapAllocator(8))
	require.NoError(t, err)

	f, err := vol.Create(0o644)
	require.NoError(t, err)
	_, err = f.Write([]byte("abc"))
	require.NoError(t, err)

	store.bad = 0
	_, err = f.ReadAt(make([]byte, 3), 0)
	require.True(t, errors.Is(err, ErrTransferFault))
	require.False(t, errors.Is(err, io.EOF))
}

package image

import (
	"bytes"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/absfs/fatstore"
)

func imagePath(t *testing.T) string {
	t.Helper()
	return filepath.Join(t.TempDir(), "vol.img")
}

func fill(n int, seed byte) []byte {
	p := make([]byte, n)
	for i := range p {
		p[i] = seed + byte(i%253)
	}
	return p
}

func TestFormatWriteReopen(t *testing.T) {
	path := imagePath(t)
	img, err := Format(path, WithBlockSize(fatstore.BlockSize512), WithBlockCount(64))
	require.NoError(t, err)
	assert.Equal(t, path, img.Path())

	f, err := img.Volume().Create(0o640)
	require.NoError(t, err)
	data := fill(3000, 7)
	_, err = f.WriteAt(data, 100)
	require.NoError(t, err)
	ino := f.Ino()
	require.NoError(t, img.Close())
	require.NoError(t, img.Close(), "second Close is a no-op")
	assert.ErrorIs(t, img.Sync(), fatstore.ErrClosed)

	fi, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, int64(64*512), fi.Size())

	img, err = Open(path)
	require.NoError(t, err)
	defer img.Close()

	vol := img.Volume()
	assert.Equal(t, 512, vol.Store().BlockSize())
	assert.Equal(t, []uint64{ino}, vol.Files())

	g, err := vol.Open(ino)
	require.NoError(t, err)
	got, err := io.ReadAll(io.NewSectionReader(g, 0, g.Size()))
	require.NoError(t, err)
	require.Len(t, got, 3100)
	assert.Equal(t, make([]byte, 100), got[:100], "hole reads back as zeros")
	assert.True(t, bytes.Equal(data, got[100:]))

	st, err := g.Stat()
	require.NoError(t, err)
	assert.Equal(t, fs.FileMode(0o640), st.Mode())

	// Allocation state survives: a new file must not reuse the first chain.
	h, err := vol.Create(0o644)
	require.NoError(t, err)
	assert.Greater(t, h.Ino(), ino)
	_, err = h.Write(fill(512, 1))
	require.NoError(t, err)
	require.NoError(t, vol.Check())
	assert.Equal(t, int64(64-7-1), vol.FreeBlocks())
}

func TestSyncKeepsImageOpen(t *testing.T) {
	path := imagePath(t)
	img, err := Format(path, WithBlockSize(fatstore.BlockSize1K), WithBlockCount(8))
	require.NoError(t, err)
	defer img.Close()

	f, err := img.Volume().Create(0o644)
	require.NoError(t, err)
	_, err = f.Write([]byte("synced"))
	require.NoError(t, err)
	require.NoError(t, img.Sync())

	meta, err := readMeta(path)
	require.NoError(t, err)
	require.Len(t, meta.Files, 1)
	assert.Equal(t, uint64(6), meta.Files[0].Extent.Size)
	assert.Equal(t, uint32(8), meta.BlockCount)
	assert.Len(t, meta.Chain, 8)

	_, err = f.Write([]byte(" again"))
	require.NoError(t, err, "volume stays usable after Sync")
}

func TestFormatRejectsGeometry(t *testing.T) {
	_, err := Format(imagePath(t), WithBlockSize(3000))
	assert.Error(t, err)
	_, err = Format(imagePath(t), WithBlockCount(0))
	assert.Error(t, err)
}

func TestOpenMissing(t *testing.T) {
	_, err := Open(imagePath(t))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestOpenBadMagic(t *testing.T) {
	path := imagePath(t)
	img, err := Format(path, WithBlockSize(fatstore.BlockSize512), WithBlockCount(4))
	require.NoError(t, err)
	require.NoError(t, img.Close())

	require.NoError(t, os.WriteFile(MetaPath(path), []byte("not metadata at all, clearly"), 0o644))
	_, err = Open(path)
	assert.ErrorIs(t, err, ErrBadMagic)
}

func TestOpenChecksumMismatch(t *testing.T) {
	path := imagePath(t)
	img, err := Format(path, WithBlockSize(fatstore.BlockSize512), WithBlockCount(4))
	require.NoError(t, err)
	require.NoError(t, img.Close())

	raw, err := os.ReadFile(MetaPath(path))
	require.NoError(t, err)
	raw[len(raw)-1] ^= 0xff
	require.NoError(t, os.WriteFile(MetaPath(path), raw, 0o644))

	_, err = Open(path)
	assert.ErrorIs(t, err, ErrChecksum)
}

func TestOpenGeometryMismatch(t *testing.T) {
	path := imagePath(t)
	img, err := Format(path, WithBlockSize(fatstore.BlockSize512), WithBlockCount(4))
	require.NoError(t, err)
	require.NoError(t, img.Close())

	require.NoError(t, os.Truncate(path, 3*512))
	_, err = Open(path)
	assert.ErrorIs(t, err, ErrGeometry)
}

func TestOpenVerify(t *testing.T) {
	path := imagePath(t)
	img, err := Format(path, WithBlockSize(fatstore.BlockSize512), WithBlockCount(8))
	require.NoError(t, err)
	f, err := img.Volume().Create(0o644)
	require.NoError(t, err)
	_, err = f.Write(fill(1500, 3))
	require.NoError(t, err)
	require.NoError(t, img.Close())

	// Cut the three-block chain after its head.
	meta, err := readMeta(path)
	require.NoError(t, err)
	head := meta.Files[0].Extent.Head
	meta.Chain[head] = fatstore.EndOfChain
	require.NoError(t, writeMeta(path, meta))

	_, err = Open(path)
	require.ErrorIs(t, err, fatstore.ErrCorruptChain)

	img, err = Open(path, WithVerify(false))
	require.NoError(t, err)
	defer img.Close()
	g, err := img.Volume().Open(meta.Files[0].Ino)
	require.NoError(t, err)
	_, err = g.ReadAt(make([]byte, 10), 1200)
	assert.ErrorIs(t, err, fatstore.ErrCorruptChain)
}

func TestRemove(t *testing.T) {
	path := imagePath(t)
	img, err := Format(path, WithBlockSize(fatstore.BlockSize512), WithBlockCount(4))
	require.NoError(t, err)
	require.NoError(t, img.Close())

	require.NoError(t, Remove(path))
	_, err = os.Stat(path)
	assert.ErrorIs(t, err, os.ErrNotExist)
	_, err = os.Stat(MetaPath(path))
	assert.ErrorIs(t, err, os.ErrNotExist)

	require.NoError(t, Remove(path), "removing twice is fine")
}

func TestMetaEncoding(t *testing.T) {
	m := &metadata{
		Version:    metaVersion,
		BlockSize:  512,
		BlockCount: 2,
		Chain:      []fatstore.BlockID{1, fatstore.EndOfChain},
		Files: []fatstore.NodeRecord{{
			Ino:    3,
			Mode:   0o644,
			Extent: fatstore.Extent{Head: 0, Size: 600, Blocks: 2},
		}},
	}
	raw, err := encodeMeta(m)
	require.NoError(t, err)
	assert.Equal(t, metaMagic, string(raw[:len(metaMagic)]))

	again, err := encodeMeta(m)
	require.NoError(t, err)
	assert.Equal(t, raw, again, "encoding is deterministic")

	back, err := decodeMeta(raw)
	require.NoError(t, err)
	assert.Equal(t, m.Chain, back.Chain)
	assert.Equal(t, m.Files[0].Extent, back.Files[0].Extent)

	m.Chain = m.Chain[:1]
	raw, err = encodeMeta(m)
	require.NoError(t, err)
	_, err = decodeMeta(raw)
	assert.ErrorIs(t, err, ErrGeometry)

	m.Chain = []fatstore.BlockID{1, fatstore.EndOfChain}
	m.Version = 99
	raw, err = encodeMeta(m)
	require.NoError(t, err)
	_, err = decodeMeta(raw)
	assert.Error(t, err)
}

// restoreMeta rebuilds a volume from the sidecar alone and checks it.
func restoreMeta(t *testing.T, path string) error {
	t.Helper()
	meta, err := readMeta(path)
	require.NoError(t, err)
	store, err := fatstore.NewMemBlockStore(fatstore.BlockSize(meta.BlockSize), meta.BlockCount)
	require.NoError(t, err)
	alloc, err := fatstore.LoadBitmapAllocator(meta.BlockCount, meta.Allocated)
	require.NoError(t, err)
	vol, err := fatstore.NewVolume(store, fatstore.LoadMemChainTable(meta.Chain), alloc)
	require.NoError(t, err)
	if err := vol.Restore(meta.Files); err != nil {
		return err
	}
	return vol.Check()
}

func TestSyncDuringWrites(t *testing.T) {
	path := imagePath(t)
	img, err := Format(path, WithBlockSize(fatstore.BlockSize512), WithBlockCount(4096))
	require.NoError(t, err)
	defer img.Close()

	vol := img.Volume()
	var wg sync.WaitGroup
	done := make(chan struct{})
	for w := 0; w < 2; w++ {
		f, err := vol.Create(0o644)
		require.NoError(t, err)
		wg.Add(1)
		go func() {
			defer wg.Done()
			chunk := fill(700, byte(w))
			for {
				select {
				case <-done:
					return
				default:
				}
				if _, err := f.Write(chunk); err != nil {
					assert.ErrorIs(t, err, fatstore.ErrOutOfSpace)
					return
				}
			}
		}()
	}

	for i := 0; i < 30; i++ {
		require.NoError(t, img.Sync())
		require.NoError(t, restoreMeta(t, path), "snapshot %d", i)
	}
	close(done)
	wg.Wait()

	require.NoError(t, img.Sync())
	require.NoError(t, restoreMeta(t, path))
}

func TestOpenReadOnly(t *testing.T) {
	path := imagePath(t)
	img, err := Format(path, WithBlockSize(fatstore.BlockSize512), WithBlockCount(8))
	require.NoError(t, err)
	f, err := img.Volume().Create(0o644)
	require.NoError(t, err)
	_, err = f.Write([]byte("frozen"))
	require.NoError(t, err)
	require.NoError(t, img.Close())

	before, err := os.Stat(MetaPath(path))
	require.NoError(t, err)

	img, err = Open(path, WithReadOnly(true))
	require.NoError(t, err)
	vol := img.Volume()
	assert.True(t, vol.ReadOnly())

	g, err := vol.Open(f.Ino())
	require.NoError(t, err)
	buf := make([]byte, 6)
	_, err = g.ReadAt(buf, 0)
	require.NoError(t, err)
	assert.Equal(t, "frozen", string(buf))

	_, err = g.Write([]byte("x"))
	assert.ErrorIs(t, err, fatstore.ErrReadOnly)
	_, err = vol.Create(0o644)
	assert.ErrorIs(t, err, fatstore.ErrReadOnly)
	assert.ErrorIs(t, img.Sync(), fatstore.ErrReadOnly)
	require.NoError(t, img.Close())

	after, err := os.Stat(MetaPath(path))
	require.NoError(t, err)
	assert.True(t, os.SameFile(before, after), "sidecar was not rewritten")
	assert.Equal(t, before.ModTime(), after.ModTime())
}

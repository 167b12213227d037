package image

import (
	"errors"
	"fmt"
	"os"
	"slices"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/absfs/fatstore"
	"github.com/absfs/fatstore/internal/mmap"
)

// Image is a volume persisted in a data file and a metadata sidecar.
type Image struct {
	path    string
	mapping *mmap.Mapping
	table   *fatstore.MemChainTable
	alloc   *fatstore.BitmapAllocator
	vol     *fatstore.Volume
	logger  *fatstore.Logger

	mu     sync.Mutex // serializes Sync and Close
	closed bool
}

// Format creates a new empty image at path, replacing any existing one.
func Format(path string, opts ...Option) (*Image, error) {
	o := applyOptions(opts)
	if !o.BlockSize.Valid() {
		return nil, fmt.Errorf("image: invalid block size %d", o.BlockSize)
	}
	if o.BlockCount == 0 || o.BlockCount >= fatstore.MaxBlocks {
		return nil, fmt.Errorf("image: invalid block count %d", o.BlockCount)
	}
	m, err := mmap.Create(path, int64(o.BlockSize)*int64(o.BlockCount))
	if err != nil {
		return nil, fmt.Errorf("image: creating %s: %w", path, err)
	}
	o.ReadOnly = false
	img, err := assemble(path, m, o, fatstore.NewMemChainTable(o.BlockCount), fatstore.NewBitmapAllocator(o.BlockCount), nil)
	if err != nil {
		m.Close()
		return nil, err
	}
	if err := img.Sync(); err != nil {
		img.Close()
		return nil, err
	}
	o.Logger.Info("image formatted",
		"path", path,
		"block_size", int(o.BlockSize),
		"blocks", o.BlockCount,
	)
	return img, nil
}

// Open maps an existing image. The block size and count come from the
// metadata; the corresponding options are ignored.
func Open(path string, opts ...Option) (*Image, error) {
	o := applyOptions(opts)
	meta, err := readMeta(path)
	if err != nil {
		return nil, fmt.Errorf("image: opening %s: %w", path, err)
	}
	o.BlockSize = fatstore.BlockSize(meta.BlockSize)
	o.BlockCount = meta.BlockCount

	openMapping := mmap.OpenRW
	if o.ReadOnly {
		openMapping = mmap.OpenRO
	}
	m, err := openMapping(path)
	if err != nil {
		return nil, fmt.Errorf("image: opening %s: %w", path, err)
	}
	if want := int64(meta.BlockSize) * int64(meta.BlockCount); int64(m.Size()) != want {
		m.Close()
		return nil, fmt.Errorf("%w: data file is %d bytes, metadata describes %d", ErrGeometry, m.Size(), want)
	}
	alloc, err := fatstore.LoadBitmapAllocator(meta.BlockCount, meta.Allocated)
	if err != nil {
		m.Close()
		return nil, fmt.Errorf("image: %w", err)
	}
	img, err := assemble(path, m, o, fatstore.LoadMemChainTable(meta.Chain), alloc, meta.Files)
	if err != nil {
		m.Close()
		return nil, err
	}
	if o.Verify {
		if err := img.vol.Check(); err != nil {
			m.Close()
			return nil, fmt.Errorf("image: %s: %w", path, err)
		}
	}
	o.Logger.Info("image opened",
		"path", path,
		"read_only", o.ReadOnly,
		"files", len(meta.Files),
		"free_blocks", alloc.Free(),
	)
	return img, nil
}

func assemble(path string, m *mmap.Mapping, o Options, table *fatstore.MemChainTable, alloc *fatstore.BitmapAllocator, files []fatstore.NodeRecord) (*Image, error) {
	store, err := fatstore.NewSliceBlockStore(o.BlockSize, m.Bytes())
	if err != nil {
		return nil, fmt.Errorf("image: %w", err)
	}
	volOpts := []fatstore.Option{fatstore.WithLogger(o.Logger)}
	if o.ReadOnly {
		volOpts = append(volOpts, fatstore.WithReadOnly())
	}
	vol, err := fatstore.NewVolume(store, table, alloc, volOpts...)
	if err != nil {
		return nil, fmt.Errorf("image: %w", err)
	}
	if err := vol.Restore(files); err != nil {
		return nil, fmt.Errorf("image: %w", err)
	}
	return &Image{
		path:    path,
		mapping: m,
		table:   table,
		alloc:   alloc,
		vol:     vol,
		logger:  o.Logger,
	}, nil
}

// Path returns the data file path.
func (img *Image) Path() string {
	return img.path
}

// Volume returns the volume stored in the image.
func (img *Image) Volume() *fatstore.Volume {
	return img.vol
}

// Sync flushes the block region and rewrites the metadata sidecar. The
// metadata is one consistent snapshot: writes are paused while the chain
// table, allocation bitmap and extents are captured, then resume while the
// files are written. It fails with fatstore.ErrReadOnly on a read-only
// image.
func (img *Image) Sync() error {
	img.mu.Lock()
	defer img.mu.Unlock()
	if img.closed {
		return fatstore.ErrClosed
	}
	if img.vol.ReadOnly() {
		return fatstore.ErrReadOnly
	}
	return img.sync()
}

// snapshot captures the metadata while no write is running.
func (img *Image) snapshot() (*metadata, error) {
	meta := &metadata{
		Version:    metaVersion,
		BlockSize:  uint32(img.vol.Store().BlockSize()),
		BlockCount: img.vol.Store().NumBlocks(),
	}
	err := img.vol.Quiesce(func() error {
		bitmap, err := img.alloc.MarshalBinary()
		if err != nil {
			return fmt.Errorf("image: encoding allocation bitmap: %w", err)
		}
		meta.Allocated = bitmap
		meta.Chain = slices.Clone(img.table.Entries())
		meta.Files = img.vol.Records()
		return nil
	})
	if err != nil {
		return nil, err
	}
	return meta, nil
}

func (img *Image) sync() error {
	meta, err := img.snapshot()
	if err != nil {
		return err
	}

	var g errgroup.Group
	g.Go(func() error {
		if err := img.mapping.Sync(); err != nil {
			return fmt.Errorf("image: syncing data: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		return writeMeta(img.path, meta)
	})
	if err := g.Wait(); err != nil {
		img.logger.Error("image sync failed", "path", img.path, "error", err)
		return err
	}
	img.logger.Debug("image synced", "path", img.path, "files", len(meta.Files))
	return nil
}

// Close syncs and unmaps the image. A read-only image is only unmapped.
// The volume must not be used afterwards.
func (img *Image) Close() error {
	img.mu.Lock()
	defer img.mu.Unlock()
	if img.closed {
		return nil
	}
	img.closed = true
	if img.vol.ReadOnly() {
		return img.mapping.Close()
	}
	return errors.Join(img.sync(), img.mapping.Close())
}

// Remove deletes the data and metadata files of a closed image.
func Remove(path string) error {
	return errors.Join(
		ignoreNotExist(os.Remove(path)),
		ignoreNotExist(os.Remove(MetaPath(path))),
	)
}

func ignoreNotExist(err error) error {
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}

package fatstore

import (
	"fmt"
	"math"
)

// Engine services byte-range reads and writes over block chains.
//
// The engine performs no locking: one Read or Write must run to completion
// before another starts on the same extent. The allocator is the only state
// shared between extents and is responsible for its own synchronization.
type Engine struct {
	store  BlockStore
	walker *Walker
	logger *Logger
}

// NewEngine builds an engine over store and table, allocating from alloc.
func NewEngine(store BlockStore, table ChainTable, alloc Allocator, opts ...Option) (*Engine, error) {
	o := applyOptions(opts)
	if table.Len() < store.NumBlocks() {
		return nil, fmt.Errorf("chain table has %d entries for %d blocks", table.Len(), store.NumBlocks())
	}
	return &Engine{
		store:  store,
		walker: NewWalker(table, alloc, store, o.logger),
		logger: o.logger,
	}, nil
}

// BlockSize returns the block size of the underlying store.
func (e *Engine) BlockSize() int {
	return e.store.BlockSize()
}

// Read returns up to length bytes of ext starting at off. Reads never
// extend past ext.Size; a read at or past the end returns an empty slice
// and no error.
func (e *Engine) Read(ext *Extent, off uint64, length int) ([]byte, error) {
	if length <= 0 || ext.Blocks == 0 || off >= ext.Size {
		return []byte{}, nil
	}
	n := uint64(length)
	if remain := ext.Size - off; n > remain {
		n = remain
	}
	buf := make([]byte, n)
	got, err := e.readAt(ext, buf, off, nil)
	if err != nil {
		return nil, err
	}
	return buf[:got], nil
}

// ReadAt fills p from ext starting at off and returns the number of bytes
// copied, which is short only at the end of the extent.
func (e *Engine) ReadAt(ext *Extent, p []byte, off uint64) (int, error) {
	return e.readAt(ext, p, off, nil)
}

func (e *Engine) readAt(ext *Extent, p []byte, off uint64, hint *Hint) (int, error) {
	if len(p) == 0 || ext.Blocks == 0 || off >= ext.Size {
		return 0, nil
	}
	if remain := ext.Size - off; uint64(len(p)) > remain {
		p = p[:remain]
	}

	cur, ok, err := e.walker.ResolveForRead(ext, off, hint)
	if err != nil || !ok {
		e.logger.LogRead(ext.Head, off, 0, err)
		return 0, err
	}

	bs := e.store.BlockSize()
	index, boff := BlockOffset(off, bs)
	done := 0
	for {
		n := min(bs-boff, len(p)-done)
		if err := e.store.ReadBlock(cur, boff, p[done:done+n]); err != nil {
			err = transferError("read", cur, err)
			e.logger.LogRead(ext.Head, off, done, err)
			return 0, err
		}
		done += n
		if done == len(p) {
			break
		}
		index++
		boff = 0
		if cur, err = e.walker.step(ext, cur, index, false, hint); err != nil {
			e.logger.LogRead(ext.Head, off, done, err)
			return 0, err
		}
	}
	e.logger.LogRead(ext.Head, off, done, nil)
	return done, nil
}

// Write copies data into ext at off and returns the number of bytes
// committed to blocks.
//
// An empty extent gets its head block first. Writing past the end of the
// chain appends zero-filled blocks for every index up to the one holding the
// last byte, so a later read of a skipped range returns zeros.
//
// ext.Size becomes max(ext.Size, off+n). On failure n counts the bytes
// already committed; they stay written and are reflected in ext.Size.
// Writing zero bytes changes nothing.
func (e *Engine) Write(ext *Extent, off uint64, data []byte) (int, error) {
	return e.writeAt(ext, data, off, nil)
}

func (e *Engine) writeAt(ext *Extent, data []byte, off uint64, hint *Hint) (n int, err error) {
	if len(data) == 0 {
		return 0, nil
	}
	if off > math.MaxUint64-uint64(len(data)) {
		return 0, fmt.Errorf("%w: write of %d bytes at %d overflows", ErrInvalidOffset, len(data), off)
	}
	bs := e.store.BlockSize()
	if first, count := BlockRange(off, uint64(len(data)), bs); first+count > uint64(MaxBlocks) {
		return 0, fmt.Errorf("%w: offset %d beyond addressable blocks", ErrOutOfSpace, off)
	}

	defer func() {
		if end := off + uint64(n); n > 0 && end > ext.Size {
			ext.Size = end
		}
		e.logger.LogWrite(ext.Head, off, len(data), n, err)
	}()

	cur, err := e.walker.ResolveForWrite(ext, off, hint)
	if err != nil {
		return 0, err
	}
	index, boff := BlockOffset(off, bs)
	for {
		chunk := min(bs-boff, len(data)-n)
		if err := e.store.WriteBlock(cur, boff, data[n:n+chunk]); err != nil {
			return n, transferError("write", cur, err)
		}
		n += chunk
		if n == len(data) {
			return n, nil
		}
		index++
		boff = 0
		if cur, err = e.walker.step(ext, cur, index, true, hint); err != nil {
			return n, err
		}
	}
}

package fatstore

import "fmt"

// Hint caches the last block a walk resolved for one open handle, so that
// sequential access does not re-walk the chain from the head. The zero
// value is an empty hint. Chains only grow, so a cached (index, block) pair
// stays valid for as long as the extent's head is unchanged.
type Hint struct {
	head  BlockID
	index uint64
	block BlockID
	valid bool
}

// Reset drops the cached position.
func (h *Hint) Reset() {
	if h != nil {
		*h = Hint{}
	}
}

func (h *Hint) remember(ext *Extent, index uint64, block BlockID) {
	if h == nil {
		return
	}
	*h = Hint{head: ext.Head, index: index, block: block, valid: true}
}

// start returns the furthest cached position not past target.
func (h *Hint) start(ext *Extent, target uint64) (uint64, BlockID) {
	if h != nil && h.valid && h.head == ext.Head && h.index <= target && h.index < uint64(ext.Blocks) {
		return h.index, h.block
	}
	return 0, ext.Head
}

// A Walker translates logical byte offsets into blocks of a chain, extending
// the chain through its allocator when a write needs blocks that do not
// exist yet.
//
// A Walker holds no per-file state and performs no locking; callers must not
// run two operations on the same extent concurrently.
type Walker struct {
	table     ChainTable
	alloc     Allocator
	store     BlockStore
	blockSize int
	logger    *Logger
}

// NewWalker returns a walker over table, allocating from alloc and
// zero-filling new blocks in store.
func NewWalker(table ChainTable, alloc Allocator, store BlockStore, logger *Logger) *Walker {
	if logger == nil {
		logger = NoopLogger()
	}
	return &Walker{
		table:     table,
		alloc:     alloc,
		store:     store,
		blockSize: store.BlockSize(),
		logger:    logger,
	}
}

// BlockSize returns the block size of the underlying store.
func (w *Walker) BlockSize() int {
	return w.blockSize
}

// inStore reports a chain link to a block the store does not have.
func (w *Walker) inStore(ext *Extent, index uint64, id BlockID, want uint64) error {
	if n := w.store.NumBlocks(); uint32(id) >= n {
		return &CorruptChainError{Head: ext.Head, Index: index, Want: want, cause: &BlockRangeError{Block: id, NumBlocks: n}}
	}
	return nil
}

// walk follows the chain from (index, cur) until it reaches target.
func (w *Walker) walk(ext *Extent, index uint64, cur BlockID, target uint64) (BlockID, error) {
	if index == 0 {
		if err := w.inStore(ext, 0, cur, target); err != nil {
			return EndOfChain, err
		}
	}
	for index < target {
		next, err := w.table.Next(cur)
		if err != nil {
			return EndOfChain, &CorruptChainError{Head: ext.Head, Index: index, Want: target, cause: err}
		}
		if next == EndOfChain {
			return EndOfChain, &CorruptChainError{Head: ext.Head, Index: index, Want: target}
		}
		if err := w.inStore(ext, index, next, target); err != nil {
			return EndOfChain, err
		}
		cur = next
		index++
	}
	return cur, nil
}

// ResolveForRead returns the block holding byte offset off. ok is false when
// the extent is empty or off is at or past its size. A chain shorter than
// the extent claims yields a *CorruptChainError.
func (w *Walker) ResolveForRead(ext *Extent, off uint64, hint *Hint) (id BlockID, ok bool, err error) {
	if ext.Blocks == 0 || off >= ext.Size {
		return EndOfChain, false, nil
	}
	target, _ := BlockOffset(off, w.blockSize)
	if target >= uint64(ext.Blocks) {
		return EndOfChain, false, &CorruptChainError{Head: ext.Head, Index: uint64(ext.Blocks), Want: target}
	}
	index, cur := hint.start(ext, target)
	id, err = w.walk(ext, index, cur, target)
	if err != nil {
		return EndOfChain, false, err
	}
	hint.remember(ext, target, id)
	return id, true, nil
}

// ResolveForWrite returns the block holding byte offset off, allocating the
// head block of an empty extent and appending zero-filled blocks until the
// chain reaches off.
//
// ext.Blocks is bumped after each block is linked, so a failure part way
// leaves the extent consistent with the chain. Blocks linked before a
// failure are kept.
func (w *Walker) ResolveForWrite(ext *Extent, off uint64, hint *Hint) (BlockID, error) {
	if ext.Blocks == 0 {
		if err := w.allocateHead(ext); err != nil {
			return EndOfChain, err
		}
	}
	target, _ := BlockOffset(off, w.blockSize)
	last := uint64(ext.Blocks) - 1
	index, cur := hint.start(ext, min(target, last))
	cur, err := w.walk(ext, index, cur, min(target, last))
	if err != nil {
		return EndOfChain, err
	}
	index = min(target, last)
	if index < target {
		w.logger.LogExtend(ext.Head, uint64(ext.Blocks), target+1)
	}
	for index < target {
		if cur, err = w.extend(ext, cur); err != nil {
			return EndOfChain, err
		}
		index++
	}
	hint.remember(ext, target, cur)
	return cur, nil
}

// step returns the block at index, the successor of cur. When index is past
// the chain and grow is set, a zero-filled block is appended.
func (w *Walker) step(ext *Extent, cur BlockID, index uint64, grow bool, hint *Hint) (BlockID, error) {
	var next BlockID
	if index < uint64(ext.Blocks) {
		var err error
		next, err = w.table.Next(cur)
		if err != nil {
			return EndOfChain, &CorruptChainError{Head: ext.Head, Index: index - 1, Want: index, cause: err}
		}
		if next == EndOfChain {
			return EndOfChain, &CorruptChainError{Head: ext.Head, Index: index - 1, Want: index}
		}
		if err := w.inStore(ext, index-1, next, index); err != nil {
			return EndOfChain, err
		}
	} else {
		if !grow {
			return EndOfChain, &CorruptChainError{Head: ext.Head, Index: uint64(ext.Blocks), Want: index}
		}
		var err error
		if next, err = w.extend(ext, cur); err != nil {
			return EndOfChain, err
		}
	}
	hint.remember(ext, index, next)
	return next, nil
}

func (w *Walker) allocateHead(ext *Extent) error {
	id, err := w.newBlock()
	if err != nil {
		return err
	}
	ext.Head = id
	ext.Size = 0
	ext.Blocks = 1
	return nil
}

// extend appends one block after tail, which must be the chain's last block.
func (w *Walker) extend(ext *Extent, tail BlockID) (BlockID, error) {
	id, err := w.newBlock()
	if err != nil {
		return EndOfChain, err
	}
	if err := w.table.SetNext(tail, id); err != nil {
		w.release(id)
		return EndOfChain, fmt.Errorf("linking block %d after %d: %w", id, tail, err)
	}
	ext.Blocks++
	return id, nil
}

// newBlock allocates a block, zero-fills it and terminates it.
func (w *Walker) newBlock() (BlockID, error) {
	id, err := w.alloc.AllocateBlock()
	if err != nil {
		return EndOfChain, err
	}
	if err := w.store.ZeroBlock(id); err != nil {
		w.release(id)
		return EndOfChain, transferError("zero", id, err)
	}
	if err := w.table.SetNext(id, EndOfChain); err != nil {
		w.release(id)
		return EndOfChain, fmt.Errorf("terminating block %d: %w", id, err)
	}
	return id, nil
}

// release hands back a block that never made it into a chain.
func (w *Walker) release(id BlockID) {
	r, ok := w.alloc.(Releaser)
	if !ok {
		w.logger.Warn("allocated block leaked", "block", id)
		return
	}
	if err := r.Release(id); err != nil {
		w.logger.Warn("releasing block failed", "block", id, "error", err)
	}
}

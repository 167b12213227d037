package fatstore

import (
	"fmt"
	"sync"

	"github.com/RoaringBitmap/roaring/v2"
)

// Allocator hands out free blocks. It is shared by every extent of a
// volume and must be safe for concurrent use.
type Allocator interface {
	// AllocateBlock reserves a free block, or fails with ErrOutOfSpace.
	AllocateBlock() (BlockID, error)
}

// A Releaser can take back a block that was allocated but never linked
// into a chain. Allocators without it leak such blocks.
type Releaser interface {
	Release(id BlockID) error
}

// BitmapAllocator tracks used blocks in a roaring bitmap and allocates with
// next-fit: the search starts after the most recently allocated block and
// wraps around once.
//
// Thread-safe for concurrent use.
type BitmapAllocator struct {
	mu    sync.Mutex
	total uint32
	used  *roaring.Bitmap
	hint  uint32
}

// NewBitmapAllocator returns an allocator for total blocks, all free.
func NewBitmapAllocator(total uint32) *BitmapAllocator {
	return &BitmapAllocator{total: total, used: roaring.New()}
}

// LoadBitmapAllocator restores an allocator from MarshalBinary output.
func LoadBitmapAllocator(total uint32, data []byte) (*BitmapAllocator, error) {
	used := roaring.New()
	if len(data) > 0 {
		if err := used.UnmarshalBinary(data); err != nil {
			return nil, fmt.Errorf("decoding allocation bitmap: %w", err)
		}
	}
	if !used.IsEmpty() {
		if highest := used.Maximum(); highest >= total {
			return nil, fmt.Errorf("allocation bitmap marks block %d beyond %d blocks", highest, total)
		}
	}
	return &BitmapAllocator{total: total, used: used}, nil
}

func (a *BitmapAllocator) AllocateBlock() (BlockID, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if uint64(a.used.GetCardinality()) >= uint64(a.total) {
		return EndOfChain, ErrOutOfSpace
	}
	id, ok := a.firstFree(a.hint, a.total)
	if !ok {
		id, ok = a.firstFree(0, a.hint)
	}
	if !ok {
		return EndOfChain, ErrOutOfSpace
	}
	a.used.Add(id)
	a.hint = id + 1
	if a.hint >= a.total {
		a.hint = 0
	}
	return BlockID(id), nil
}

// firstFree returns the lowest free block in [from, to).
func (a *BitmapAllocator) firstFree(from, to uint32) (uint32, bool) {
	if from >= to {
		return 0, false
	}
	it := a.used.Iterator()
	it.AdvanceIfNeeded(from)
	candidate := from
	for it.HasNext() {
		v := it.Next()
		if v >= to || v != candidate {
			break
		}
		candidate++
	}
	if candidate >= to {
		return 0, false
	}
	return candidate, true
}

// MarkUsed records id as allocated, e.g. while rebuilding from chains.
func (a *BitmapAllocator) MarkUsed(id BlockID) error {
	if uint32(id) >= a.total {
		return &BlockRangeError{Block: id, NumBlocks: a.total}
	}
	a.mu.Lock()
	a.used.Add(uint32(id))
	a.mu.Unlock()
	return nil
}

// Release returns id to the free set.
func (a *BitmapAllocator) Release(id BlockID) error {
	if uint32(id) >= a.total {
		return &BlockRangeError{Block: id, NumBlocks: a.total}
	}
	a.mu.Lock()
	a.used.Remove(uint32(id))
	a.mu.Unlock()
	return nil
}

// IsUsed reports whether id is allocated.
func (a *BitmapAllocator) IsUsed(id BlockID) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.used.Contains(uint32(id))
}

// Free returns the number of unallocated blocks.
func (a *BitmapAllocator) Free() uint32 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.total - uint32(a.used.GetCardinality())
}

// MarshalBinary encodes the used set in the portable roaring format.
func (a *BitmapAllocator) MarshalBinary() ([]byte, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.used.RunOptimize()
	return a.used.MarshalBinary()
}

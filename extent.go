package fatstore

import "fmt"

// An Extent is the per-file record describing a chain: its head block, the
// number of logically valid bytes, and the number of linked blocks.
//
// Head is meaningless while Blocks is zero. Bytes of the chain past Size are
// zero padding and are never returned by reads.
type Extent struct {
	Head   BlockID `cbor:"1,keyasint"`
	Size   uint64  `cbor:"2,keyasint"`
	Blocks uint32  `cbor:"3,keyasint"`
}

// NewExtent returns an empty extent.
func NewExtent() Extent {
	return Extent{Head: EndOfChain}
}

// Empty reports whether no block has been allocated.
func (e Extent) Empty() bool {
	return e.Blocks == 0
}

// Capacity returns the number of bytes the linked blocks can hold.
func (e Extent) Capacity(blockSize int) uint64 {
	return uint64(e.Blocks) * uint64(blockSize)
}

// Validate checks the size/count invariants. A chain extended by a write
// that later ran out of space may hold more blocks than its size needs, so
// only the lower bound is strict.
func (e Extent) Validate(blockSize int) error {
	if e.Blocks == 0 {
		if e.Size != 0 {
			return fmt.Errorf("%w: size %d with no blocks", ErrCorruptChain, e.Size)
		}
		return nil
	}
	if e.Head == EndOfChain {
		return fmt.Errorf("%w: %d blocks but no head", ErrCorruptChain, e.Blocks)
	}
	if e.Size > e.Capacity(blockSize) {
		return fmt.Errorf("%w: size %d exceeds capacity %d of %d blocks", ErrCorruptChain, e.Size, e.Capacity(blockSize), e.Blocks)
	}
	return nil
}

// Tight reports whether Blocks == ceil(Size / blockSize), which holds after
// any sequence of successful writes from an empty file.
func (e Extent) Tight(blockSize int) bool {
	return uint64(e.Blocks) == BlockCount(e.Size, blockSize)
}

func (e Extent) String() string {
	if e.Blocks == 0 {
		return "extent{empty}"
	}
	return fmt.Sprintf("extent{head=%d size=%d blocks=%d}", e.Head, e.Size, e.Blocks)
}

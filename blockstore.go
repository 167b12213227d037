// Package fatstore provides a fixed-block-size storage engine that maps a
// logical byte stream onto a chain of physical blocks linked through a
// File Allocation Table.
//
// This file defines the BlockStore and ChainTable abstractions and the
// block arithmetic shared by the chain walker and the read/write engine.
package fatstore

import (
	"fmt"
	"math"
)

// BlockID identifies a fixed-size block. Block 0 is a valid block.
type BlockID uint32

// EndOfChain is the chain table value meaning "no further block".
const EndOfChain BlockID = math.MaxUint32

// MaxBlocks is the largest number of blocks a store may hold; the last
// representable id is reserved for EndOfChain.
const MaxBlocks = uint32(EndOfChain)

// BlockSize represents a fixed block size in bytes.
type BlockSize int

const (
	// BlockSize512 matches the classic disk sector size.
	BlockSize512 BlockSize = 512

	// BlockSize1K is used by small FAT volumes.
	BlockSize1K BlockSize = 1024

	// BlockSize4K is the standard 4 KiB block size used by most filesystems.
	BlockSize4K BlockSize = 4096

	// BlockSize8K is used by some filesystems for better performance.
	BlockSize8K BlockSize = 8192

	// BlockSize16K is used by filesystems optimized for larger files.
	BlockSize16K BlockSize = 16384

	// BlockSize64K is used for very large files or specific workloads.
	BlockSize64K BlockSize = 65536
)

// Valid reports whether bs is a positive power of two no larger than 64 KiB.
func (bs BlockSize) Valid() bool {
	return bs > 0 && bs <= BlockSize64K && bs&(bs-1) == 0
}

// BlockStore is a contiguous array of fixed-size blocks addressed by BlockID.
//
// ReadBlock and WriteBlock transfer len(dst)/len(src) bytes starting at the
// intra-block offset off. Both fail with ErrBlockOutOfRange when id is not
// below NumBlocks or when the range leaves the block.
//
// The engine assumes exclusive access per extent; implementations only need
// to be safe for concurrent use on distinct blocks.
type BlockStore interface {
	// BlockSize returns the fixed block size used by this store.
	BlockSize() int

	// NumBlocks returns the number of blocks in the store.
	NumBlocks() uint32

	// ReadBlock copies bytes [off, off+len(dst)) of block id into dst.
	ReadBlock(id BlockID, off int, dst []byte) error

	// WriteBlock copies src into block id starting at off.
	WriteBlock(id BlockID, off int, src []byte) error

	// ZeroBlock clears the whole block.
	ZeroBlock(id BlockID) error
}

// ChainTable maps each block to its successor in a file's chain.
// Entries for unallocated blocks are unspecified.
type ChainTable interface {
	// Next returns the successor of id, or EndOfChain.
	Next(id BlockID) (BlockID, error)

	// SetNext links id to next.
	SetNext(id, next BlockID) error

	// Len returns the number of entries (one per block in the store).
	Len() uint32
}

// divRoundUp divides a by b, rounding up to the nearest integer.
func divRoundUp(a, b uint64) uint64 {
	return (a + b - 1) / b
}

// BlockCount returns the number of blocks needed to store size bytes.
func BlockCount(size uint64, blockSize int) uint64 {
	if size == 0 {
		return 0
	}
	return divRoundUp(size, uint64(blockSize))
}

// BlockOffset returns the block index and offset within block for a byte offset.
//
// Example with 4096-byte blocks:
//
//	index, offset := BlockOffset(5000, 4096)  // returns (1, 904)
func BlockOffset(byteOffset uint64, blockSize int) (index uint64, offset int) {
	bs := uint64(blockSize)
	return byteOffset / bs, int(byteOffset % bs)
}

// BlockRange returns the range of block indexes that contain the byte range
// [start, start+length).
//
// Example with 4096-byte blocks:
//
//	first, count := BlockRange(5000, 3000, 4096)  // returns (1, 1)
//	first, count := BlockRange(5000, 4000, 4096)  // returns (1, 2)
func BlockRange(start, length uint64, blockSize int) (firstBlock uint64, numBlocks uint64) {
	if length == 0 {
		return 0, 0
	}
	bs := uint64(blockSize)
	firstBlock = start / bs
	lastBlock := (start + length - 1) / bs
	return firstBlock, lastBlock - firstBlock + 1
}

// MemBlockStore implements BlockStore over a single contiguous byte slice.
//
// Blocks are addressed through a bounds-checked accessor rather than raw
// offset arithmetic, so an out-of-range id is reported instead of touching
// a neighbouring block.
type MemBlockStore struct {
	blockSize int
	numBlocks uint32
	data      []byte
}

// NewMemBlockStore allocates an in-memory store of numBlocks zeroed blocks.
func NewMemBlockStore(blockSize BlockSize, numBlocks uint32) (*MemBlockStore, error) {
	if !blockSize.Valid() {
		return nil, fmt.Errorf("invalid block size %d", blockSize)
	}
	if numBlocks >= MaxBlocks {
		return nil, fmt.Errorf("block count %d exceeds maximum %d", numBlocks, MaxBlocks-1)
	}
	return &MemBlockStore{
		blockSize: int(blockSize),
		numBlocks: numBlocks,
		data:      make([]byte, int(blockSize)*int(numBlocks)),
	}, nil
}

// NewSliceBlockStore wraps an existing region, e.g. a memory-mapped file.
// len(data) must be a multiple of blockSize.
func NewSliceBlockStore(blockSize BlockSize, data []byte) (*MemBlockStore, error) {
	if !blockSize.Valid() {
		return nil, fmt.Errorf("invalid block size %d", blockSize)
	}
	if len(data)%int(blockSize) != 0 {
		return nil, fmt.Errorf("region of %d bytes is not a multiple of block size %d", len(data), blockSize)
	}
	n := uint64(len(data) / int(blockSize))
	if n >= uint64(MaxBlocks) {
		return nil, fmt.Errorf("block count %d exceeds maximum %d", n, MaxBlocks-1)
	}
	return &MemBlockStore{
		blockSize: int(blockSize),
		numBlocks: uint32(n),
		data:      data,
	}, nil
}

func (s *MemBlockStore) BlockSize() int {
	return s.blockSize
}

func (s *MemBlockStore) NumBlocks() uint32 {
	return s.numBlocks
}

// block returns the slot for id.
func (s *MemBlockStore) block(id BlockID) ([]byte, error) {
	if id == EndOfChain || uint32(id) >= s.numBlocks {
		return nil, &BlockRangeError{Block: id, NumBlocks: s.numBlocks}
	}
	start := int(id) * s.blockSize
	return s.data[start : start+s.blockSize : start+s.blockSize], nil
}

// span returns block id restricted to [off, off+n).
func (s *MemBlockStore) span(id BlockID, off, n int) ([]byte, error) {
	b, err := s.block(id)
	if err != nil {
		return nil, err
	}
	if off < 0 || n < 0 || off+n > s.blockSize {
		return nil, fmt.Errorf("%w: range [%d,%d) exceeds block size %d", ErrBlockOutOfRange, off, off+n, s.blockSize)
	}
	return b[off : off+n], nil
}

func (s *MemBlockStore) ReadBlock(id BlockID, off int, dst []byte) error {
	b, err := s.span(id, off, len(dst))
	if err != nil {
		return err
	}
	copy(dst, b)
	return nil
}

func (s *MemBlockStore) WriteBlock(id BlockID, off int, src []byte) error {
	b, err := s.span(id, off, len(src))
	if err != nil {
		return err
	}
	copy(b, src)
	return nil
}

func (s *MemBlockStore) ZeroBlock(id BlockID) error {
	b, err := s.block(id)
	if err != nil {
		return err
	}
	clear(b)
	return nil
}

// MemChainTable implements ChainTable as a slice indexed by BlockID.
type MemChainTable struct {
	next []BlockID
}

// NewMemChainTable returns a table with n entries, all set to EndOfChain.
func NewMemChainTable(n uint32) *MemChainTable {
	next := make([]BlockID, n)
	for i := range next {
		next[i] = EndOfChain
	}
	return &MemChainTable{next: next}
}

// LoadMemChainTable wraps previously persisted entries.
func LoadMemChainTable(entries []BlockID) *MemChainTable {
	return &MemChainTable{next: entries}
}

func (t *MemChainTable) Next(id BlockID) (BlockID, error) {
	if uint64(id) >= uint64(len(t.next)) {
		return EndOfChain, &BlockRangeError{Block: id, NumBlocks: uint32(len(t.next))}
	}
	return t.next[id], nil
}

func (t *MemChainTable) SetNext(id, next BlockID) error {
	if uint64(id) >= uint64(len(t.next)) {
		return &BlockRangeError{Block: id, NumBlocks: uint32(len(t.next))}
	}
	if next != EndOfChain && uint64(next) >= uint64(len(t.next)) {
		return &BlockRangeError{Block: next, NumBlocks: uint32(len(t.next))}
	}
	t.next[id] = next
	return nil
}

func (t *MemChainTable) Len() uint32 {
	return uint32(len(t.next))
}

// Entries returns the raw table; callers must not modify it.
func (t *MemChainTable) Entries() []BlockID {
	return t.next
}

package fatstore

import (
	"errors"
	"fmt"
)

var (
	// ErrOutOfSpace is returned when the allocator cannot supply a block.
	// Blocks linked before the failure stay in the chain.
	ErrOutOfSpace = errors.New("no free blocks")

	// ErrTransferFault is returned when a block-level copy fails.
	ErrTransferFault = errors.New("block transfer fault")

	// ErrCorruptChain indicates the chain table disagrees with an extent.
	// It is not recoverable by retrying; the volume needs offline repair.
	ErrCorruptChain = errors.New("corrupt block chain")

	// ErrBlockOutOfRange is returned for a block id or intra-block range
	// outside the store or table.
	ErrBlockOutOfRange = errors.New("block out of range")

	// ErrInvalidOffset is returned for negative offsets.
	ErrInvalidOffset = errors.New("invalid offset")

	// ErrClosed is returned when operating on a closed file or volume.
	ErrClosed = errors.New("file already closed")

	// ErrReadOnly is returned for writes to a volume opened read-only.
	ErrReadOnly = errors.New("volume is read-only")

	// ErrNotExist is returned when a file number has no extent.
	ErrNotExist = errors.New("file does not exist")
)

// BlockRangeError reports an id outside a store or table of NumBlocks entries.
type BlockRangeError struct {
	Block     BlockID
	NumBlocks uint32
}

func (e *BlockRangeError) Error() string {
	return fmt.Sprintf("block %d out of range [0,%d)", e.Block, e.NumBlocks)
}

func (e *BlockRangeError) Unwrap() error { return ErrBlockOutOfRange }

// TransferError records a failed copy to or from a block.
//
// The underlying error can be accessed via errors.Unwrap; errors.Is reports
// true for ErrTransferFault.
type TransferError struct {
	Op    string
	Block BlockID
	Err   error
}

func (e *TransferError) Error() string {
	return fmt.Sprintf("%s block %d: %v", e.Op, e.Block, e.Err)
}

func (e *TransferError) Unwrap() []error { return []error{ErrTransferFault, e.Err} }

// CorruptChainError reports a walk that left the chain before reaching the
// block index the extent promised.
type CorruptChainError struct {
	Head  BlockID
	Index uint64 // index at which the walk stopped
	Want  uint64 // index the walk was asked to reach
	cause error
}

func (e *CorruptChainError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("corrupt chain at head %d: stopped at index %d of %d: %v", e.Head, e.Index, e.Want, e.cause)
	}
	return fmt.Sprintf("corrupt chain at head %d: stopped at index %d of %d", e.Head, e.Index, e.Want)
}

func (e *CorruptChainError) Unwrap() []error {
	if e.cause != nil {
		return []error{ErrCorruptChain, e.cause}
	}
	return []error{ErrCorruptChain}
}

func transferError(op string, id BlockID, err error) error {
	if err == nil {
		return nil
	}
	return &TransferError{Op: op, Block: id, Err: err}
}

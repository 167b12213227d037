package fatstore

import (
	"errors"
	"fmt"
	"io/fs"
	"slices"
	"sync"
)

// Volume ties a block store, its chain table and an allocator to the set of
// files stored in them. It is the filesystem-layer collaborator of the
// engine: it owns every Node and hands out File handles.
//
// Thread-safe for concurrent use. Operations on one file are serialized by
// that file's node lock; operations on different files run in parallel and
// share only the allocator. Quiesce stops all writes at once.
type Volume struct {
	store    BlockStore
	table    ChainTable
	alloc    Allocator
	engine   *Engine
	logger   *Logger
	readOnly bool

	// writes hold barrier shared; Quiesce holds it exclusively.
	barrier sync.RWMutex

	mu    sync.RWMutex // protects nodes
	nodes map[uint64]*Node
	ino   Ino
}

// NewVolume returns an empty volume over the given collaborators.
func NewVolume(store BlockStore, table ChainTable, alloc Allocator, opts ...Option) (*Volume, error) {
	o := applyOptions(opts)
	engine, err := NewEngine(store, table, alloc, opts...)
	if err != nil {
		return nil, err
	}
	return &Volume{
		store:    store,
		table:    table,
		alloc:    alloc,
		engine:   engine,
		logger:   o.logger,
		readOnly: o.readOnly,
		nodes:    make(map[uint64]*Node),
	}, nil
}

// NewMemVolume returns a volume backed entirely by memory, sized by
// WithBlockSize and WithBlockCount.
func NewMemVolume(opts ...Option) (*Volume, error) {
	o := applyOptions(opts)
	store, err := NewMemBlockStore(o.blockSize, o.numBlocks)
	if err != nil {
		return nil, err
	}
	return NewVolume(store, NewMemChainTable(o.numBlocks), NewBitmapAllocator(o.numBlocks), opts...)
}

// Store returns the block store.
func (v *Volume) Store() BlockStore {
	return v.store
}

// Table returns the chain table.
func (v *Volume) Table() ChainTable {
	return v.table
}

// Allocator returns the block allocator.
func (v *Volume) Allocator() Allocator {
	return v.alloc
}

// Create makes a new empty file and opens it.
func (v *Volume) Create(mode fs.FileMode) (*File, error) {
	if mode.IsDir() {
		return nil, fmt.Errorf("create: %w", fs.ErrInvalid)
	}
	if v.readOnly {
		return nil, fmt.Errorf("create: %w", ErrReadOnly)
	}
	node := v.ino.New(mode)
	v.mu.Lock()
	v.nodes[node.Ino] = node
	v.mu.Unlock()
	v.logger.WithFile(node.Ino).Debug("file created", "mode", mode)
	return &File{vol: v, node: node}, nil
}

// ReadOnly reports whether the volume rejects writes.
func (v *Volume) ReadOnly() bool {
	return v.readOnly
}

// Quiesce runs fn while no write is in progress on any file. Reads keep
// running. Everything fn observes through the table, the allocator and
// Records belongs to one consistent state.
func (v *Volume) Quiesce(fn func() error) error {
	v.barrier.Lock()
	defer v.barrier.Unlock()
	return fn()
}

// Open returns a new handle on file ino with its cursor at 0.
func (v *Volume) Open(ino uint64) (*File, error) {
	node, err := v.node(ino)
	if err != nil {
		return nil, err
	}
	return &File{vol: v, node: node}, nil
}

// Stat returns a snapshot of file ino's metadata.
func (v *Volume) Stat(ino uint64) (fs.FileInfo, error) {
	node, err := v.node(ino)
	if err != nil {
		return nil, err
	}
	return statOf(node), nil
}

func (v *Volume) node(ino uint64) (*Node, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	node, ok := v.nodes[ino]
	if !ok {
		return nil, fmt.Errorf("file %d: %w", ino, ErrNotExist)
	}
	return node, nil
}

// Files returns the numbers of all files in ascending order.
func (v *Volume) Files() []uint64 {
	v.mu.RLock()
	inos := make([]uint64, 0, len(v.nodes))
	for ino := range v.nodes {
		inos = append(inos, ino)
	}
	v.mu.RUnlock()
	slices.Sort(inos)
	return inos
}

// Records snapshots every node, ordered by file number.
func (v *Volume) Records() []NodeRecord {
	inos := v.Files()
	records := make([]NodeRecord, 0, len(inos))
	for _, ino := range inos {
		if node, err := v.node(ino); err == nil {
			records = append(records, node.Record())
		}
	}
	return records
}

// Restore installs previously persisted nodes. It fails if a number is
// already in use.
func (v *Volume) Restore(records []NodeRecord) error {
	bs := v.store.BlockSize()
	v.mu.Lock()
	defer v.mu.Unlock()
	for _, r := range records {
		if _, exists := v.nodes[r.Ino]; exists || r.Ino == 0 {
			return fmt.Errorf("restore: duplicate or invalid file number %d", r.Ino)
		}
		if err := r.Extent.Validate(bs); err != nil {
			return fmt.Errorf("restore file %d: %w", r.Ino, err)
		}
		if n := v.store.NumBlocks(); r.Extent.Blocks > 0 && uint32(r.Extent.Head) >= n {
			return fmt.Errorf("restore file %d: %w", r.Ino, &CorruptChainError{
				Head:  r.Extent.Head,
				Want:  uint64(r.Extent.Blocks),
				cause: &BlockRangeError{Block: r.Extent.Head, NumBlocks: n},
			})
		}
		v.nodes[r.Ino] = nodeFromRecord(r)
		v.ino.Observe(r.Ino)
	}
	return nil
}

// FreeBlocks returns the number of unallocated blocks, or -1 if the
// allocator cannot report it.
func (v *Volume) FreeBlocks() int64 {
	if c, ok := v.alloc.(interface{ Free() uint32 }); ok {
		return int64(c.Free())
	}
	return -1
}

// Check walks every chain and verifies that it ends after exactly
// Extent.Blocks blocks, that no block belongs to two chains, and, when the
// allocator can tell, that every linked block is marked allocated. All
// problems are joined into the returned error; each satisfies
// errors.Is(err, ErrCorruptChain).
func (v *Volume) Check() error {
	owner := make(map[BlockID]uint64)
	used, _ := v.alloc.(interface{ IsUsed(BlockID) bool })
	var errs []error
	for _, ino := range v.Files() {
		node, err := v.node(ino)
		if err != nil {
			continue
		}
		node.mu.Lock()
		ext := node.ext
		node.mu.Unlock()
		if err := ext.Validate(v.store.BlockSize()); err != nil {
			errs = append(errs, fmt.Errorf("file %d: %w", ino, err))
			continue
		}
		if ext.Blocks == 0 {
			continue
		}
		cur := ext.Head
		for i := uint64(0); ; i++ {
			if prev, dup := owner[cur]; dup {
				errs = append(errs, fmt.Errorf("file %d: %w: block %d already in file %d", ino, ErrCorruptChain, cur, prev))
				break
			}
			owner[cur] = ino
			if used != nil && !used.IsUsed(cur) {
				errs = append(errs, fmt.Errorf("file %d: %w: block %d linked but free", ino, ErrCorruptChain, cur))
			}
			next, err := v.table.Next(cur)
			if err != nil {
				errs = append(errs, fmt.Errorf("file %d: %w", ino, &CorruptChainError{Head: ext.Head, Index: i, Want: uint64(ext.Blocks), cause: err}))
				break
			}
			if i+1 == uint64(ext.Blocks) {
				if next != EndOfChain {
					errs = append(errs, fmt.Errorf("file %d: %w: chain continues past %d blocks", ino, ErrCorruptChain, ext.Blocks))
				}
				break
			}
			if next == EndOfChain {
				errs = append(errs, fmt.Errorf("file %d: %w", ino, &CorruptChainError{Head: ext.Head, Index: i, Want: uint64(ext.Blocks) - 1}))
				break
			}
			cur = next
		}
	}
	if len(errs) > 0 {
		v.logger.Error("volume check failed", "problems", len(errs))
	}
	return errors.Join(errs...)
}

package fatstore

import (
	"fmt"
	"io/fs"
	"sync"
	"sync/atomic"
	"time"
)

// A Node is the metadata of one stored file: its number, mode, timestamps
// and the Extent describing its chain.
//
// Thread Safety:
//   - Ino and Mode are immutable after creation
//   - ctime and mtime use atomic operations (accessed via methods)
//   - the extent is protected by mu; a read or write holds mu for its whole
//     duration so the engine never sees a half-updated extent
type Node struct {
	Ino  uint64
	Mode fs.FileMode

	ctime atomic.Int64 // creation time (Unix nanoseconds)
	mtime atomic.Int64 // modification time (Unix nanoseconds)

	mu  sync.Mutex
	ext Extent
}

// Ctime returns the creation time of the node.
func (n *Node) Ctime() time.Time { return time.Unix(0, n.ctime.Load()) }

// Mtime returns the modification time of the node.
func (n *Node) Mtime() time.Time { return time.Unix(0, n.mtime.Load()) }

// SetMtime sets the modification time of the node.
func (n *Node) SetMtime(t time.Time) { n.mtime.Store(t.UnixNano()) }

// Extent returns a copy of the node's extent.
func (n *Node) Extent() Extent {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.ext
}

// Size returns the logical size in bytes.
func (n *Node) Size() int64 {
	n.mu.Lock()
	defer n.mu.Unlock()
	return int64(n.ext.Size)
}

func (n *Node) String() string {
	if n == nil {
		return "<nil>"
	}
	return fmt.Sprintf("Node{Ino:%d,Mode:%s,%s}", n.Ino, n.Mode, n.Extent())
}

// Ino is a file number allocator. It is safe for concurrent use.
// Each call to New atomically increments the counter and returns a node
// with a unique number and an empty extent.
type Ino uint64

// New creates a node with the given mode and a unique number.
func (i *Ino) New(mode fs.FileMode) *Node {
	ino := atomic.AddUint64((*uint64)(i), 1)
	now := time.Now().UnixNano()
	node := &Node{
		Ino:  ino,
		Mode: mode,
		ext:  NewExtent(),
	}
	node.ctime.Store(now)
	node.mtime.Store(now)
	return node
}

// Observe raises the counter so that New never returns ino or below.
func (i *Ino) Observe(ino uint64) {
	for {
		cur := atomic.LoadUint64((*uint64)(i))
		if cur >= ino || atomic.CompareAndSwapUint64((*uint64)(i), cur, ino) {
			return
		}
	}
}

// NodeRecord is the persisted form of a Node.
type NodeRecord struct {
	Ino    uint64      `cbor:"1,keyasint"`
	Mode   fs.FileMode `cbor:"2,keyasint"`
	Ctime  int64       `cbor:"3,keyasint"`
	Mtime  int64       `cbor:"4,keyasint"`
	Extent Extent      `cbor:"5,keyasint"`
}

// Record snapshots the node.
func (n *Node) Record() NodeRecord {
	return NodeRecord{
		Ino:    n.Ino,
		Mode:   n.Mode,
		Ctime:  n.ctime.Load(),
		Mtime:  n.mtime.Load(),
		Extent: n.Extent(),
	}
}

func nodeFromRecord(r NodeRecord) *Node {
	node := &Node{Ino: r.Ino, Mode: r.Mode, ext: r.Extent}
	node.ctime.Store(r.Ctime)
	node.mtime.Store(r.Mtime)
	return node
}

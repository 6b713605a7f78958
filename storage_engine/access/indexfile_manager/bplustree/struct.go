// Structure of B+ Tree
/*
Tree
 ├── Internal Node (leftmost child + up to 248 (key, child) branches)
 │      └── Child Internal Nodes ...
 │             └── Leaf Nodes (sorted slots + values packed from the page tail + right sibling)


- every node is one 4096-byte page of the table file; page 0 is the header holding the root
- keys: int64, unique, sorted ascending
- keys below branch[0].key live under the leftmost child
- leaves fill by bytes, not by key count: a leaf splits when a value no longer fits
  and is merged or refilled once its free space reaches 2500 bytes
- leaves linked with the right sibling pointer for range scans
- all leaf nodes at same depth

*/
package bplus

import (
	"DaemonStore/storage_engine/bufferpool"
	"DaemonStore/types"
	"sync"
)

type BPlusTree struct {
	tableID    types.TableID
	bufferPool *bufferpool.BufferPool // shared buffer pool
	mu         sync.RWMutex           // protects tree structure during splits/merges
}

// Location is where a key currently lives
type Location struct {
	PageNum types.PageNum
	Slot    int
}

type LeafInfo struct {
	PageNum   types.PageNum
	NumKeys   int
	FreeSpace int
	MinKey    int64
	MaxKey    int64
}

// TreeShape summarises the tree for inspection
type TreeShape struct {
	Root      types.PageNum
	Height    int
	Internals int
	Keys      int
	Leaves    []LeafInfo
}

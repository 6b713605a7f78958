package bplus

import (
	"DaemonStore/storage_engine/bufferpool"
	"DaemonStore/types"
)

// OpenBPlusTree returns the tree stored in the table file identified by tableID.
// The root page number lives in the table's header page (page 0); 0 means empty.
func OpenBPlusTree(tableID types.TableID, bufferPool *bufferpool.BufferPool) *BPlusTree {
	return &BPlusTree{
		tableID:    tableID,
		bufferPool: bufferPool,
	}
}

func (t *BPlusTree) TableID() types.TableID { return t.tableID }

// Root returns the current root page, 0 for an empty tree
func (t *BPlusTree) Root() (types.PageNum, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.rootNum()
}

package indexfile

import (
	bplus "DaemonStore/storage_engine/access/indexfile_manager/bplustree"
	"DaemonStore/storage_engine/bufferpool"
	diskmanager "DaemonStore/storage_engine/disk_manager"
	"DaemonStore/types"
	"sync"
)

type IndexFileManager struct {
	indexes     map[types.TableID]*bplus.BPlusTree // table id → cached B+ tree
	bufferPool  *bufferpool.BufferPool             // shared by every table
	diskManager *diskmanager.DiskManager           // owns the table files
	mu          sync.RWMutex
}

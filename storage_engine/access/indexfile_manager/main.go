package indexfile

import (
	bplus "DaemonStore/storage_engine/access/indexfile_manager/bplustree"
	"DaemonStore/storage_engine/bufferpool"
	diskmanager "DaemonStore/storage_engine/disk_manager"
	"DaemonStore/types"
	"sort"

	"github.com/pkg/errors"
)

/*
This file is the main file for Index File Manager that deals with the table files.
A table is nothing but its B+ tree: records live in the leaves, so opening a table
means opening its file through the disk manager and caching the tree over it.

The trees share the buffer pool; closing an index only forgets the tree, the pages
it left in the pool are written back by the next flush or eviction.
*/

func NewIndexFileManager(diskManager *diskmanager.DiskManager, bufferPool *bufferpool.BufferPool) *IndexFileManager {
	return &IndexFileManager{
		indexes:     make(map[types.TableID]*bplus.BPlusTree),
		bufferPool:  bufferPool,
		diskManager: diskManager,
	}
}

// GetOrCreateIndex returns the tree of table tableID stored at path,
// creating the file when it does not exist yet.
func (ifm *IndexFileManager) GetOrCreateIndex(path string, tableID types.TableID) (*bplus.BPlusTree, error) {
	ifm.mu.RLock()
	btree, exists := ifm.indexes[tableID]
	ifm.mu.RUnlock()

	if exists {
		return btree, nil
	}

	ifm.mu.Lock()
	defer ifm.mu.Unlock()

	// another goroutine may have opened it while we were waiting for the lock
	if btree, exists := ifm.indexes[tableID]; exists {
		return btree, nil
	}

	if err := ifm.diskManager.OpenFile(path, tableID); err != nil {
		return nil, errors.Wrapf(err, "failed to open table %d", tableID)
	}
	btree = bplus.OpenBPlusTree(tableID, ifm.bufferPool)
	ifm.indexes[tableID] = btree
	return btree, nil
}

// Get returns the cached tree of an open table
func (ifm *IndexFileManager) Get(tableID types.TableID) (*bplus.BPlusTree, error) {
	ifm.mu.RLock()
	defer ifm.mu.RUnlock()

	btree, exists := ifm.indexes[tableID]
	if !exists {
		return nil, errors.Wrapf(types.ErrTableNotOpen, "table %d", tableID)
	}
	return btree, nil
}

// CloseIndex removes a table's tree from the cache.
func (ifm *IndexFileManager) CloseIndex(tableID types.TableID) {
	ifm.mu.Lock()
	defer ifm.mu.Unlock()
	delete(ifm.indexes, tableID)
}

// CloseAll clears the cache. Called when the storage engine shuts down.
func (ifm *IndexFileManager) CloseAll() {
	ifm.mu.Lock()
	defer ifm.mu.Unlock()
	ifm.indexes = make(map[types.TableID]*bplus.BPlusTree)
}

// Tables returns the ids of the open tables in ascending order
func (ifm *IndexFileManager) Tables() []types.TableID {
	ifm.mu.RLock()
	defer ifm.mu.RUnlock()

	ids := make([]types.TableID, 0, len(ifm.indexes))
	for id := range ifm.indexes {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

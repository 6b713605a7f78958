package storageengine

import (
	"DaemonStore/types"
)

/*
This file contains the insert and delete operations.

Inserts and deletes are structural: they may split or merge leaves, and they are
neither logged nor part of a transaction. Only updates are transactional.

	Insert(table, key, value)
	     ├── IndexManager.Get(table) → tree
	     └── tree.Insertion(key, value)
	             ├── findLeaf → room in leaf → InsertSlot
	             └── no room → splitLeaf → insertIntoParent (→ splitInternal → new root)
*/

// Insert adds key with value to the table. Keys are unique.
func (se *StorageEngine) Insert(tableID types.TableID, key int64, value []byte) error {
	tree, err := se.getIndex(tableID)
	if err != nil {
		return err
	}
	return tree.Insertion(key, value)
}

// Delete removes key from the table
func (se *StorageEngine) Delete(tableID types.TableID, key int64) error {
	tree, err := se.getIndex(tableID)
	if err != nil {
		return err
	}
	return tree.Deletion(key)
}

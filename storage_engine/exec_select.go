package storageengine

import (
	"DaemonStore/storage_engine/bufferpool"
	"DaemonStore/types"
)

/*
Find returns the value of one key.

	Find(table, key, trx)
	     ├── trx == 0 → tree.Search(key), no locking
	     └── lockRecord(S) → Locate → LockManager.Acquire
	             └── tree.WithLeaf(key) → still at the locked slot? copy value : lock again

A deadlock while waiting aborts the transaction; a missing key does not.
*/

func (se *StorageEngine) Find(tableID types.TableID, key int64, trxID types.TrxID) ([]byte, error) {
	tree, err := se.getIndex(tableID)
	if err != nil {
		return nil, err
	}
	if trxID == 0 {
		return tree.Search(key)
	}
	if _, err := se.TxnManager.Get(trxID); err != nil {
		return nil, err
	}

	for {
		loc, err := se.lockRecord(tree, key, trxID, types.LockShared)
		if err != nil {
			return nil, err
		}

		var value []byte
		moved := false
		err = tree.WithLeaf(key, func(f *bufferpool.Frame, slot int) (bool, error) {
			if f.PageNum() != loc.PageNum || slot != loc.Slot {
				moved = true
				return false, nil
			}
			value = append([]byte(nil), f.Page().Value(slot)...)
			return false, nil
		})
		if err != nil {
			return nil, err
		}
		if !moved {
			return value, nil
		}
	}
}

// ScanEntry is one key/value pair returned by Scan
type ScanEntry struct {
	Key   int64
	Value []byte
}

// Scan returns up to limit entries with keys >= from, in key order. It takes no locks.
func (se *StorageEngine) Scan(tableID types.TableID, from int64, limit int) ([]ScanEntry, error) {
	tree, err := se.getIndex(tableID)
	if err != nil {
		return nil, err
	}
	var out []ScanEntry
	it := tree.SeekGE(from)
	defer it.Close()
	for ; it.Valid() && (limit <= 0 || len(out) < limit); it.Next() {
		out = append(out, ScanEntry{Key: it.Key(), Value: it.Value()})
	}
	return out, it.Err()
}

package storageengine

import (
	"DaemonStore/storage_engine/bufferpool"
	txn "DaemonStore/storage_engine/transaction_manager"
	"DaemonStore/storage_engine/wal_manager"
	"DaemonStore/types"

	"github.com/pkg/errors"
)

/*
This file contains the Update functionality, the only logged data change.

	Update(table, key, value, trx)
	     ├── lockRecord(X) → Locate → LockManager.Acquire (implicit lock when uncontended)
	     └── tree.WithLeaf(key)            leaf latched
	             ├── LogManager.Append(UPDATE{old image, new image})   before the page changes
	             ├── trx.RecordUpdate(old image)                       undo stack
	             └── copy new image, page LSN = record LSN

The new value must have the stored value's size: log images are same-size byte ranges.
*/

// Update replaces the value of key under trxID and returns the size of the old value.
func (se *StorageEngine) Update(tableID types.TableID, key int64, value []byte, trxID types.TrxID) (int, error) {
	tree, err := se.getIndex(tableID)
	if err != nil {
		return 0, err
	}
	t, err := se.TxnManager.Get(trxID)
	if err != nil {
		return 0, err
	}

	for {
		loc, err := se.lockRecord(tree, key, trxID, types.LockExclusive)
		if err != nil {
			return 0, err
		}

		oldSize := 0
		moved := false
		err = tree.WithLeaf(key, func(f *bufferpool.Frame, slot int) (bool, error) {
			if f.PageNum() != loc.PageNum || slot != loc.Slot {
				moved = true
				return false, nil
			}
			return se.applyUpdate(t, f, slot, key, value, &oldSize)
		})
		if err != nil {
			return oldSize, err
		}
		if !moved {
			return oldSize, nil
		}
	}
}

// applyUpdate logs and performs the update on the latched leaf
func (se *StorageEngine) applyUpdate(t *txn.Transaction, f *bufferpool.Frame, slot int, key int64, value []byte, oldSize *int) (bool, error) {
	p := f.Page()
	old := p.Value(slot)
	*oldSize = len(old)
	if len(value) != len(old) {
		return false, errors.Wrapf(types.ErrValueSize, "key %d holds %d bytes, update has %d", key, len(old), len(value))
	}

	rec := &wal_manager.Record{
		PrevLSN:  t.LastLSN,
		TrxID:    t.ID,
		Type:     wal_manager.RecordUpdate,
		TableID:  f.TableID(),
		PageNum:  f.PageNum(),
		Offset:   p.Slot(slot).Offset,
		OldImage: old,
		NewImage: value,
	}
	lsn, err := se.LogManager.Append(rec)
	if err != nil {
		return false, err
	}

	t.RecordUpdate(txn.UndoEntry{
		TableID:  f.TableID(),
		Key:      key,
		OldValue: old,
		LSN:      lsn,
		PrevLSN:  t.LastLSN,
	})
	t.LastLSN = lsn

	copy(old, value)
	p.SetLSN(lsn)
	return true, nil
}

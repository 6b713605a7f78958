package storageengine

import (
	"DaemonStore/logger"
	"DaemonStore/storage_engine/bufferpool"
	txn "DaemonStore/storage_engine/transaction_manager"
	"DaemonStore/storage_engine/wal_manager"
	"DaemonStore/types"

	"github.com/pkg/errors"
)

/*
Transaction boundaries.

Begin appends BEGIN (not flushed). Commit makes COMMIT durable and only then
releases the locks. Abort walks the undo stack newest first; each restore
is logged as a compensation record whose next-undo LSN is where recovery should
continue if the abort itself is cut short. ROLLBACK closes the chain.
*/

func (se *StorageEngine) Begin() (types.TrxID, error) {
	t := se.TxnManager.Begin()
	lsn, err := se.LogManager.Append(&wal_manager.Record{TrxID: t.ID, Type: wal_manager.RecordBegin})
	if err != nil {
		se.TxnManager.Abort(t.ID)
		return 0, err
	}
	t.LastLSN = lsn
	logger.WithTx(t.ID).WithField("lsn", lsn).Debug("begin")
	return t.ID, nil
}

// Commit returns trxID once the commit record is on disk
func (se *StorageEngine) Commit(trxID types.TrxID) (types.TrxID, error) {
	t, err := se.TxnManager.Get(trxID)
	if err != nil {
		return 0, err
	}

	// locks are held until COMMIT is durable
	lsn, err := se.LogManager.Append(&wal_manager.Record{PrevLSN: t.LastLSN, TrxID: trxID, Type: wal_manager.RecordCommit})
	if err != nil {
		return 0, err
	}
	t.LastLSN = lsn
	if err := se.LogManager.Flush(); err != nil {
		return 0, errors.Wrapf(err, "commit trx %d", trxID)
	}

	if err := se.TxnManager.Commit(trxID); err != nil {
		return 0, err
	}
	se.LockManager.Release(trxID)
	t.DiscardUndo()
	logger.WithTx(trxID).WithField("lsn", lsn).Debug("commit")
	return trxID, nil
}

// Abort undoes every update of trxID and returns trxID once ROLLBACK is on disk
func (se *StorageEngine) Abort(trxID types.TrxID) (types.TrxID, error) {
	t, err := se.TxnManager.Get(trxID)
	if err != nil {
		return 0, err
	}

	undone := 0
	for {
		entry, ok := t.PopUndo()
		if !ok {
			break
		}
		restored, err := se.undoEntry(t, entry)
		if err != nil {
			return 0, errors.Wrapf(err, "abort trx %d", trxID)
		}
		if restored {
			undone++
		}
	}

	lsn, err := se.LogManager.Append(&wal_manager.Record{PrevLSN: t.LastLSN, TrxID: trxID, Type: wal_manager.RecordRollback})
	if err != nil {
		return 0, err
	}
	t.LastLSN = lsn
	if err := se.LogManager.Flush(); err != nil {
		return 0, errors.Wrapf(err, "abort trx %d", trxID)
	}

	if err := se.TxnManager.Abort(trxID); err != nil {
		return 0, err
	}
	se.LockManager.Release(trxID)
	logger.WithTx(trxID).WithField("undone", undone).Debug("abort")
	return trxID, nil
}

// undoEntry restores one before-image, wherever the key lives now.
// A key deleted since the update is skipped.
func (se *StorageEngine) undoEntry(t *txn.Transaction, entry txn.UndoEntry) (bool, error) {
	tree, err := se.getIndex(entry.TableID)
	if err != nil {
		return false, err
	}

	restored := false
	err = tree.WithLeaf(entry.Key, func(f *bufferpool.Frame, slot int) (bool, error) {
		p := f.Page()
		cur := p.Value(slot)
		if len(cur) != len(entry.OldValue) {
			return false, nil
		}
		lsn, err := se.LogManager.Append(&wal_manager.Record{
			PrevLSN:     t.LastLSN,
			TrxID:       t.ID,
			Type:        wal_manager.RecordCompensate,
			TableID:     f.TableID(),
			PageNum:     f.PageNum(),
			Offset:      p.Slot(slot).Offset,
			OldImage:    cur,
			NewImage:    entry.OldValue,
			NextUndoLSN: entry.PrevLSN,
		})
		if err != nil {
			return false, err
		}
		t.LastLSN = lsn
		copy(cur, entry.OldValue)
		p.SetLSN(lsn)
		restored = true
		return true, nil
	})
	if errors.Is(err, types.ErrNotFound) {
		logger.WithTx(t.ID).WithField("key", entry.Key).Warn("undo skipped: key no longer exists")
		return false, nil
	}
	return restored, err
}

package storageengine

import (
	bplus "DaemonStore/storage_engine/access/indexfile_manager/bplustree"
	"DaemonStore/storage_engine/bufferpool"
	"DaemonStore/storage_engine/lock_manager"
	"DaemonStore/types"

	"github.com/pkg/errors"
)

/*
This file contains the glue between the trees and the lock manager.

A record lock names a (page, slot) pair, while callers only know the key. The key is
located first and the lock taken on wherever it lives at that moment; if a split or
merge moves it before the lock is granted, the slot no longer matches the key and the
whole step is retried from the descent.
*/

func (se *StorageEngine) getIndex(tableID types.TableID) (*bplus.BPlusTree, error) {
	return se.IndexManager.Get(tableID)
}

// slotStore reads and stamps the owner transaction id kept in leaf slots
type slotStore struct {
	bp *bufferpool.BufferPool
}

func (s slotStore) slot(tableID types.TableID, pageNum types.PageNum, slot int, key int64, fn func(f *bufferpool.Frame) bool) error {
	f, err := s.bp.FetchPage(tableID, pageNum)
	if err != nil {
		return err
	}
	p := f.Page()
	if !p.IsLeaf() || slot >= p.NumKeys() || p.SlotKey(slot) != key {
		s.bp.UnpinPage(f, false)
		return errors.Wrapf(lock_manager.ErrStaleSlot, "key %d not at page %d slot %d", key, pageNum, slot)
	}
	s.bp.UnpinPage(f, fn(f))
	return nil
}

func (s slotStore) SlotOwner(tableID types.TableID, pageNum types.PageNum, slot int, key int64) (types.TrxID, error) {
	var owner types.TrxID
	err := s.slot(tableID, pageNum, slot, key, func(f *bufferpool.Frame) bool {
		owner = f.Page().SlotTrx(slot)
		return false
	})
	return owner, err
}

func (s slotStore) ClaimSlot(tableID types.TableID, pageNum types.PageNum, slot int, key int64, trxID types.TrxID) error {
	return s.slot(tableID, pageNum, slot, key, func(f *bufferpool.Frame) bool {
		f.Page().SetSlotTrx(slot, trxID)
		return true
	})
}

// lockRecord locks key for trxID and returns where it was locked. A deadlock aborts
// the transaction before the error is returned.
func (se *StorageEngine) lockRecord(tree *bplus.BPlusTree, key int64, trxID types.TrxID, mode types.LockMode) (bplus.Location, error) {
	for {
		loc, err := tree.Locate(key)
		if err != nil {
			return loc, err
		}
		err = se.LockManager.Acquire(tree.TableID(), loc.PageNum, key, loc.Slot, trxID, mode)
		switch {
		case err == nil:
			return loc, nil
		case errors.Is(err, lock_manager.ErrStaleSlot):
			continue
		case errors.Is(err, types.ErrDeadlock):
			if _, aerr := se.Abort(trxID); aerr != nil {
				log.WithError(aerr).WithField("trx", trxID).Error("abort after deadlock failed")
			}
			return loc, err
		default:
			return loc, err
		}
	}
}

package lock_manager

import (
	"DaemonStore/logger"
	"DaemonStore/types"
	"sync"

	"github.com/pkg/errors"
)

/*
Record lock manager

One entry per (table, page) holds a FIFO queue of lock requests; a request's
bitmap says which slots of the page it covers, so several record locks share
one queue. The whole table is guarded by a single mutex and every lock owns a
condition variable on that mutex, broadcast when the lock is released.

Implicit locks: an exclusive request that meets no explicit lock on the slot
and no running writer stamps its transaction id into the slot and is granted
without creating a lock object. The next conflicting request finds the running
owner in the slot and creates the explicit X lock on the owner's behalf before
queueing behind it.

Deadlock detection follows each transaction's single wait-for pointer.
*/

var log = logger.WithComponent("lock")

func NewLockManager(slots SlotOwnerStore, registry TrxRegistry) *LockManager {
	return &LockManager{
		table:    make(map[entryKey]*lockEntry),
		trx:      make(map[types.TrxID]*trxLocks),
		slots:    slots,
		registry: registry,
	}
}

// SetWaitTrace makes lock waits show up at info level
func (lm *LockManager) SetWaitTrace(on bool) {
	lm.mu.Lock()
	lm.traceWaits = on
	lm.mu.Unlock()
}

func (lm *LockManager) newLock(key int64, bitmap Bitmap, owner types.TrxID, mode types.LockMode, entry *lockEntry) *Lock {
	return &Lock{
		bitmap: bitmap,
		key:    key,
		mode:   mode,
		owner:  owner,
		entry:  entry,
		cond:   sync.NewCond(&lm.mu),
	}
}

func (lm *LockManager) trxState(id types.TrxID) *trxLocks {
	st, ok := lm.trx[id]
	if !ok {
		st = &trxLocks{}
		lm.trx[id] = st
	}
	return st
}

// appendLock queues the lock at the entry tail and threads it onto its owner's chain
func (lm *LockManager) appendLock(l *Lock) {
	e := l.entry
	if e.head == nil {
		e.head, e.tail = l, l
		l.prev, l.next = nil, nil
	} else {
		e.tail.next = l
		l.prev = e.tail
		l.next = nil
		e.tail = l
	}
	st := lm.trxState(l.owner)
	l.trxNext = st.head
	st.head = l
}

// unlinkLock removes the lock from its entry queue, dropping the entry when it empties
func (lm *LockManager) unlinkLock(l *Lock) {
	e := l.entry
	if e.head == l {
		e.head = l.next
	}
	if e.tail == l {
		e.tail = l.prev
	}
	if l.next != nil {
		l.next.prev = l.prev
	}
	if l.prev != nil {
		l.prev.next = l.next
	}
	l.prev, l.next = nil, nil
	l.cond.Broadcast()

	if e.head == nil {
		delete(lm.table, entryKey{tableID: e.tableID, pageNum: e.pageNum})
	}
}

// Acquire takes a record lock on slot of the given page for trxID, blocking while a
// conflicting lock is held. It returns types.ErrDeadlock when waiting would close a cycle;
// the caller must then abort the transaction.
func (lm *LockManager) Acquire(tableID types.TableID, pageNum types.PageNum, key int64, slot int, trxID types.TrxID, mode types.LockMode) error {
	if slot < 0 || slot >= SlotBits {
		return errors.Errorf("slot %d out of range", slot)
	}

	lm.mu.Lock()
	defer lm.mu.Unlock()

	st := lm.trxState(trxID)
	bitmap := Mask(slot)
	ek := entryKey{tableID: tableID, pageNum: pageNum}
	entry, ok := lm.table[ek]
	if !ok {
		entry = &lockEntry{tableID: tableID, pageNum: pageNum}
		lm.table[ek] = entry
	}
	fields := logger.WithLock(tableID, pageNum, slot).WithField("trx", trxID).WithField("mode", mode)

	var conflict *Lock
	if mode == types.LockShared {
		var mySlock *Lock
		otherS := false
		for p := entry.head; p != nil; p = p.next {
			if p.bitmap.Intersects(bitmap) {
				if p.owner == trxID {
					return lm.grantLocked(st, entry, fields)
				}
				if p.mode == types.LockExclusive {
					conflict = p
					break
				}
				otherS = true
			} else if p.owner == trxID && p.mode == types.LockShared {
				mySlock = p
			}
		}

		if conflict == nil && otherS {
			return lm.grantShared(st, entry, mySlock, key, bitmap, trxID, fields)
		}
		if conflict == nil {
			owner, err := lm.implicitOwner(tableID, pageNum, slot, key, trxID)
			if err != nil {
				lm.dropIfEmpty(entry)
				return err
			}
			if owner == trxID {
				return lm.grantLocked(st, entry, fields)
			}
			if owner == 0 {
				return lm.grantShared(st, entry, mySlock, key, bitmap, trxID, fields)
			}
			conflict = lm.convertImplicit(entry, key, bitmap, owner)
		}
	} else {
		mySX := false
		for p := entry.head; p != nil; p = p.next {
			if !p.bitmap.Intersects(bitmap) {
				continue
			}
			if p.owner != trxID {
				conflict = p
				break
			}
			if p.mode == types.LockExclusive {
				return lm.grantLocked(st, entry, fields)
			}
			mySX = true
		}

		if conflict == nil && mySX {
			if err := lm.slots.ClaimSlot(tableID, pageNum, slot, key, trxID); err != nil {
				return err
			}
			lm.appendLock(lm.newLock(key, bitmap, trxID, mode, entry))
			return lm.grantLocked(st, entry, fields)
		}
		if conflict == nil {
			owner, err := lm.implicitOwner(tableID, pageNum, slot, key, trxID)
			if err != nil {
				lm.dropIfEmpty(entry)
				return err
			}
			if owner == trxID {
				return lm.grantLocked(st, entry, fields)
			}
			if owner == 0 {
				if err := lm.slots.ClaimSlot(tableID, pageNum, slot, key, trxID); err != nil {
					lm.dropIfEmpty(entry)
					return err
				}
				lm.implicit++
				fields.Trace("GRANT implicit")
				return lm.grantLocked(st, entry, fields)
			}
			conflict = lm.convertImplicit(entry, key, bitmap, owner)
		}
	}

	req := lm.newLock(key, bitmap, trxID, mode, entry)
	lm.appendLock(req)
	if err := lm.waitFor(st, req, conflict, trxID, fields); err != nil {
		return err
	}
	if mode == types.LockExclusive {
		lm.stampGranted(tableID, pageNum, slot, key, trxID, fields)
	}
	return nil
}

// stampGranted writes the owner of a granted X lock into the slot. Bitmaps name slot
// indexes, which shift on insert and delete; the stamp travels with the record.
// A key that moved while we waited is left alone, the caller re-locks it.
func (lm *LockManager) stampGranted(tableID types.TableID, pageNum types.PageNum, slot int, key int64, trxID types.TrxID, fields logEntry) {
	err := lm.slots.ClaimSlot(tableID, pageNum, slot, key, trxID)
	if err != nil {
		fields.WithError(err).Debug("slot moved before the grant, not stamped")
	}
}

// waitFor blocks until no lock queued before req conflicts with it
func (lm *LockManager) waitFor(st *trxLocks, req, conflict *Lock, trxID types.TrxID, fields logEntry) error {
	p := conflict
	for p != nil && p != req {
		if !lm.conflicts(p, req) {
			p = p.next
			continue
		}

		st.waitFor = p.owner
		if lm.deadlocked(trxID) {
			lm.deadlocks++
			fields.WithField("holder", p.owner).Debug("DEADLOCK")
			st.waitFor = 0
			lm.withdraw(st, req)
			return errors.Wrapf(types.ErrDeadlock, "trx %d waiting for trx %d", trxID, p.owner)
		}

		lm.waits++
		if lm.traceWaits {
			fields.WithField("holder", p.owner).Info("WAIT")
		} else {
			fields.WithField("holder", p.owner).Debug("WAIT")
		}
		p.cond.Wait()
		st.waitFor = 0
		p = req.entry.head
	}
	st.waitFor = 0
	lm.grants++
	fields.Trace("GRANT")
	return nil
}

func (lm *LockManager) conflicts(held, req *Lock) bool {
	if !held.bitmap.Intersects(req.bitmap) {
		return false
	}
	if req.mode == types.LockShared {
		return held.mode == types.LockExclusive
	}
	return held.owner != req.owner
}

// withdraw takes a waiting request back out of the queue and its owner's chain
func (lm *LockManager) withdraw(st *trxLocks, req *Lock) {
	lm.unlinkLock(req)
	if st.head == req {
		st.head = req.trxNext
		return
	}
	for p := st.head; p != nil; p = p.trxNext {
		if p.trxNext == req {
			p.trxNext = req.trxNext
			return
		}
	}
}

func (lm *LockManager) grantLocked(st *trxLocks, entry *lockEntry, fields logEntry) error {
	st.waitFor = 0
	lm.grants++
	lm.dropIfEmpty(entry)
	fields.Trace("GRANT")
	return nil
}

// grantShared grants an S lock, widening an S lock the transaction already has on the page when possible
func (lm *LockManager) grantShared(st *trxLocks, entry *lockEntry, mine *Lock, key int64, bitmap Bitmap, trxID types.TrxID, fields logEntry) error {
	if mine != nil {
		mine.bitmap.Or(bitmap)
	} else {
		lm.appendLock(lm.newLock(key, bitmap, trxID, types.LockShared, entry))
	}
	return lm.grantLocked(st, entry, fields)
}

// implicitOwner returns the running transaction holding an implicit lock on the slot, or 0
func (lm *LockManager) implicitOwner(tableID types.TableID, pageNum types.PageNum, slot int, key int64, trxID types.TrxID) (types.TrxID, error) {
	owner, err := lm.slots.SlotOwner(tableID, pageNum, slot, key)
	if err != nil {
		return 0, err
	}
	if owner == trxID {
		return owner, nil
	}
	if owner == 0 || !lm.registry.IsActive(owner) {
		return 0, nil
	}
	return owner, nil
}

// convertImplicit turns owner's implicit lock into an explicit X lock queued on the entry
func (lm *LockManager) convertImplicit(entry *lockEntry, key int64, bitmap Bitmap, owner types.TrxID) *Lock {
	l := lm.newLock(key, bitmap, owner, types.LockExclusive, entry)
	lm.appendLock(l)
	lm.conversion++
	log.WithField("owner", owner).WithField("page", entry.pageNum).Trace("implicit lock made explicit")
	return l
}

func (lm *LockManager) dropIfEmpty(entry *lockEntry) {
	if entry.head == nil {
		delete(lm.table, entryKey{tableID: entry.tableID, pageNum: entry.pageNum})
	}
}

// Release drops every lock held or requested by the transaction and wakes their waiters
func (lm *LockManager) Release(trxID types.TrxID) {
	lm.mu.Lock()
	defer lm.mu.Unlock()

	st, ok := lm.trx[trxID]
	if !ok {
		return
	}
	n := 0
	for p := st.head; p != nil; {
		next := p.trxNext
		lm.unlinkLock(p)
		p.trxNext = nil
		p = next
		n++
	}
	delete(lm.trx, trxID)
	log.WithField("trx", trxID).WithField("locks", n).Trace("released")
}

// WaitingFor returns the transaction trxID is blocked on, or 0
func (lm *LockManager) WaitingFor(trxID types.TrxID) types.TrxID {
	lm.mu.Lock()
	defer lm.mu.Unlock()
	if st, ok := lm.trx[trxID]; ok {
		return st.waitFor
	}
	return 0
}

// HeldBy counts the explicit locks on trxID's chain
func (lm *LockManager) HeldBy(trxID types.TrxID) int {
	lm.mu.Lock()
	defer lm.mu.Unlock()
	n := 0
	if st, ok := lm.trx[trxID]; ok {
		for p := st.head; p != nil; p = p.trxNext {
			n++
		}
	}
	return n
}

func (lm *LockManager) GetStats() LockStats {
	lm.mu.Lock()
	defer lm.mu.Unlock()

	stats := LockStats{
		Entries:     len(lm.table),
		Grants:      lm.grants,
		Waits:       lm.waits,
		Deadlocks:   lm.deadlocks,
		Implicit:    lm.implicit,
		Conversions: lm.conversion,
	}
	for _, e := range lm.table {
		for p := e.head; p != nil; p = p.next {
			stats.Locks++
		}
	}
	return stats
}

package lock_manager

import (
	"DaemonStore/types"
	"sync"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

type logEntry = *logrus.Entry

// ErrStaleSlot is returned when the slot a request names no longer holds the requested key,
// e.g. after a split moved it. The caller re-locates the key and retries.
var ErrStaleSlot = errors.New("slot no longer holds the key")

// SlotOwnerStore reads and writes the owner transaction id kept in a leaf slot
// (the implicit lock). Implementations latch the page themselves.
type SlotOwnerStore interface {
	SlotOwner(tableID types.TableID, pageNum types.PageNum, slot int, key int64) (types.TrxID, error)
	ClaimSlot(tableID types.TableID, pageNum types.PageNum, slot int, key int64, trxID types.TrxID) error
}

// TrxRegistry tells whether a transaction id is still running
type TrxRegistry interface {
	IsActive(trxID types.TrxID) bool
}

// Lock is one request in an entry queue. It covers the slots set in bitmap.
type Lock struct {
	bitmap Bitmap
	key    int64
	mode   types.LockMode
	owner  types.TrxID
	entry  *lockEntry

	prev    *Lock
	next    *Lock
	trxNext *Lock

	cond *sync.Cond
}

type entryKey struct {
	tableID types.TableID
	pageNum types.PageNum
}

// lockEntry is the FIFO queue of all lock requests on one page
type lockEntry struct {
	tableID types.TableID
	pageNum types.PageNum
	head    *Lock
	tail    *Lock
}

// trxLocks is a transaction's chain of acquired locks and the single
// transaction it is currently waiting for (0 when running).
type trxLocks struct {
	head    *Lock
	waitFor types.TrxID
}

type LockManager struct {
	mu       sync.Mutex
	table    map[entryKey]*lockEntry
	trx      map[types.TrxID]*trxLocks
	slots    SlotOwnerStore
	registry TrxRegistry

	traceWaits bool

	grants     uint64
	waits      uint64
	deadlocks  uint64
	implicit   uint64
	conversion uint64
}

type LockStats struct {
	Entries     int
	Locks       int
	Grants      uint64
	Waits       uint64
	Deadlocks   uint64
	Implicit    uint64
	Conversions uint64
}

package txn

import (
	"DaemonStore/types"
	"sync"
)

type TxnState uint8

const (
	TxnActive TxnState = iota
	TxnCommitted
	TxnAborted
)

func (s TxnState) String() string {
	switch s {
	case TxnActive:
		return "active"
	case TxnCommitted:
		return "committed"
	case TxnAborted:
		return "aborted"
	}
	return "unknown"
}

// Transaction is driven by one goroutine at a time; only State is read by others, under the manager lock.
type Transaction struct {
	ID      types.TrxID
	State   TxnState
	LastLSN types.LSN // tail of this transaction's log chain

	// physical UNDO support, newest last
	undo []UndoEntry
}

// UndoEntry is the before-image of one update. The key is kept rather than the
// page because the record may have moved by the time it is undone.
type UndoEntry struct {
	TableID  types.TableID
	Key      int64
	OldValue []byte
	LSN      types.LSN // the UPDATE record
	PrevLSN  types.LSN // what that record's prev_LSN pointed at
}

type TxnManager struct {
	nextID     types.TrxID
	activeTxns map[types.TrxID]*Transaction // all currently active transactions
	mu         sync.RWMutex
}

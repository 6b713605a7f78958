package txn

import (
	"DaemonStore/logger"
	"DaemonStore/types"

	"github.com/pkg/errors"
)

/*
Transaction manager manages the BEGIN, COMMIT, ABORT state of transactions
(either all of their updates survive or none)

Ids continue from the highest id found in the log so they are never reused across restarts.
*/

var log = logger.WithComponent("txn")

func NewTxnManager(lastTrxID types.TrxID) *TxnManager {
	return &TxnManager{
		nextID:     lastTrxID + 1,
		activeTxns: make(map[types.TrxID]*Transaction),
	}
}

// Begin starts a new transaction and registers it as active.
func (tm *TxnManager) Begin() *Transaction {
	tm.mu.Lock()
	defer tm.mu.Unlock()

	txn := &Transaction{ID: tm.nextID, State: TxnActive}
	tm.nextID++
	tm.activeTxns[txn.ID] = txn
	return txn
}

// Get returns the active transaction with the given id
func (tm *TxnManager) Get(txnID types.TrxID) (*Transaction, error) {
	tm.mu.RLock()
	defer tm.mu.RUnlock()

	txn, exists := tm.activeTxns[txnID]
	if !exists {
		return nil, errors.Wrapf(types.ErrTrxNotActive, "trx %d", txnID)
	}
	return txn, nil
}

// Commit marks a transaction as committed and removes it from the active set.
func (tm *TxnManager) Commit(txnID types.TrxID) error {
	return tm.finish(txnID, TxnCommitted)
}

// Abort marks a transaction as aborted and removes it from the active set.
// The caller has already undone its updates.
func (tm *TxnManager) Abort(txnID types.TrxID) error {
	return tm.finish(txnID, TxnAborted)
}

func (tm *TxnManager) finish(txnID types.TrxID, state TxnState) error {
	tm.mu.Lock()
	defer tm.mu.Unlock()

	txn, exists := tm.activeTxns[txnID]
	if !exists {
		return errors.Wrapf(types.ErrTrxNotActive, "trx %d", txnID)
	}
	txn.State = state
	delete(tm.activeTxns, txnID)

	log.WithField("trx", txnID).Debugf("%s", state)
	return nil
}

// IsActive returns true if the given txnID is currently active.
func (tm *TxnManager) IsActive(txnID types.TrxID) bool {
	tm.mu.RLock()
	defer tm.mu.RUnlock()
	_, exists := tm.activeTxns[txnID]
	return exists
}

// ActiveTransactions returns the ids of all currently active transactions.
func (tm *TxnManager) ActiveTransactions() []types.TrxID {
	tm.mu.RLock()
	defer tm.mu.RUnlock()

	ids := make([]types.TrxID, 0, len(tm.activeTxns))
	for id := range tm.activeTxns {
		ids = append(ids, id)
	}
	return ids
}

// LastIssued is the highest id handed out so far
func (tm *TxnManager) LastIssued() types.TrxID {
	tm.mu.RLock()
	defer tm.mu.RUnlock()
	return tm.nextID - 1
}

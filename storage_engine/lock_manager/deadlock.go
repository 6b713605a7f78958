package lock_manager

import "DaemonStore/types"

// deadlocked follows the wait-for chain starting at trxID. Each transaction waits for at most
// one other, so the chain either ends or loops; only a loop back to trxID is reported.
// Assumes lm.mu is held.
func (lm *LockManager) deadlocked(trxID types.TrxID) bool {
	visited := map[types.TrxID]bool{trxID: true}
	st := lm.trx[trxID]
	for target := st.waitFor; target != 0; {
		if visited[target] {
			return target == trxID
		}
		visited[target] = true
		next, ok := lm.trx[target]
		if !ok {
			return false
		}
		target = next.waitFor
	}
	return false
}

package txn

/*
Before the transaction gets completed, it is not sure whether it will actually be commited or not (rollbacked or aborted)

the undo stack keeps the before-image of every update in case they have to be rolled back
*/

// RecordUpdate pushes the before-image of an update. oldValue is copied.
func (txn *Transaction) RecordUpdate(entry UndoEntry) {
	entry.OldValue = append([]byte(nil), entry.OldValue...)
	txn.undo = append(txn.undo, entry)
}

// PopUndo removes and returns the newest before-image
func (txn *Transaction) PopUndo() (UndoEntry, bool) {
	n := len(txn.undo)
	if n == 0 {
		return UndoEntry{}, false
	}
	entry := txn.undo[n-1]
	txn.undo[n-1] = UndoEntry{}
	txn.undo = txn.undo[:n-1]
	return entry, true
}

func (txn *Transaction) UndoDepth() int { return len(txn.undo) }

// DiscardUndo drops the stack once the transaction can no longer roll back
func (txn *Transaction) DiscardUndo() { txn.undo = nil }

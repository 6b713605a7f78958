package types

// LockMode is the mode of a record lock.
type LockMode uint8

const (
	LockShared LockMode = iota
	LockExclusive
)

func (m LockMode) String() string {
	if m == LockExclusive {
		return "X"
	}
	return "S"
}

// RecoveryMode selects how far recovery runs before returning.
// The crash modes stop after a bounded number of log records so a harness
// can check that a later full recovery converges to the same state.
type RecoveryMode int

const (
	RecoveryNormal RecoveryMode = iota
	RecoveryRedoCrash
	RecoveryUndoCrash
)

func (m RecoveryMode) String() string {
	switch m {
	case RecoveryRedoCrash:
		return "redo-crash"
	case RecoveryUndoCrash:
		return "undo-crash"
	}
	return "normal"
}

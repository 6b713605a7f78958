package types

import "github.com/pkg/errors"

var (
	ErrNotFound      = errors.New("key not found")
	ErrDuplicateKey  = errors.New("duplicate key")
	ErrDeadlock      = errors.New("deadlock detected")
	ErrTrxNotActive  = errors.New("transaction is not active")
	ErrTableNotOpen  = errors.New("table is not open")
	ErrValueSize     = errors.New("invalid value size")
	ErrPoolExhausted = errors.New("buffer pool exhausted: every frame is latched")
	ErrCorruptLog    = errors.New("corrupt log record")
	ErrCorruptPage   = errors.New("corrupt page")
)

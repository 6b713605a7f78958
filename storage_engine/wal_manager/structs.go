package wal_manager

import (
	"DaemonStore/types"
	"os"
	"sync"

	"github.com/dgraph-io/ristretto/v2"
)

const (
	LogHeaderSize  = 16 // flushed_LSN (8) | last_trx_id (4) | pad (4)
	MainRecordSize = 28 // size (4) | LSN (8) | prev_LSN (8) | trx_id (4) | type (4)
	UpdatePartSize = 20 // table_id (8) | page_num (8) | offset (2) | val_size (2)
	NextUndoSize   = 8
	LogBufferSize  = 4096

	MaxRecordSize = MainRecordSize + UpdatePartSize + 2*types.MaxValueSize + NextUndoSize
)

type RecordType int32

const (
	RecordBegin RecordType = iota
	RecordUpdate
	RecordCommit
	RecordRollback
	RecordCompensate
)

func (t RecordType) String() string {
	switch t {
	case RecordBegin:
		return "BEGIN"
	case RecordUpdate:
		return "UPDATE"
	case RecordCommit:
		return "COMMIT"
	case RecordRollback:
		return "ROLLBACK"
	case RecordCompensate:
		return "CLR"
	default:
		return "UNKNOWN"
	}
}

// Record is one decoded log record. Records handed out by the manager are shared and must not be modified.
type Record struct {
	LSN     types.LSN
	PrevLSN types.LSN
	TrxID   types.TrxID
	Type    RecordType

	// UPDATE and COMPENSATE only
	TableID  types.TableID
	PageNum  types.PageNum
	Offset   uint16
	OldImage []byte
	NewImage []byte

	// COMPENSATE only
	NextUndoLSN types.LSN
}

// LogSegment is the single append-only log file
type LogSegment struct {
	FilePath string
	File     *os.File
	Size     int64
	mu       sync.Mutex
}

// LogManager owns the log buffer. LSNs are byte offsets in the log file, so the
// LSN of a buffered record is flushedLSN plus its position in buf.
type LogManager struct {
	segment    *LogSegment
	buf        []byte
	flushedLSN types.LSN
	lastTrxID  types.TrxID
	cache      *ristretto.Cache[uint64, *Record]
	mu         sync.Mutex

	appended uint64
	flushes  uint64
}

type LogStats struct {
	FlushedLSN types.LSN
	Buffered   int
	Appended   uint64
	Flushes    uint64
	LastTrxID  types.TrxID
}

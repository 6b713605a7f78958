package checkpoint

import (
	"DaemonStore/types"
	"sync"
)

// CheckpointManager owns the shutdown checkpoint of one database directory
type CheckpointManager struct {
	checkpointPath string
	mu             sync.RWMutex
}

// Checkpoint records how the database was last closed
type Checkpoint struct {
	LSN       types.LSN `json:"lsn"`       // flushed log end at shutdown
	Timestamp int64     `json:"timestamp"` // only informational
	Clean     bool      `json:"clean"`
}

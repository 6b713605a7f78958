package storageengine

import (
	"DaemonStore/config"
	indexfile "DaemonStore/storage_engine/access/indexfile_manager"
	"DaemonStore/storage_engine/bufferpool"
	"DaemonStore/storage_engine/catalog"
	checkpoint "DaemonStore/storage_engine/checkpoint_manager"
	diskmanager "DaemonStore/storage_engine/disk_manager"
	"DaemonStore/storage_engine/lock_manager"
	txn "DaemonStore/storage_engine/transaction_manager"
	"DaemonStore/storage_engine/wal_manager"
	"DaemonStore/types"
	"sync"
)

// StorageEngine is one open database: its table files, the shared buffer pool,
// the log and the transaction and lock tables.
type StorageEngine struct {
	BufferPool *bufferpool.BufferPool

	DiskManager    *diskmanager.DiskManager
	CatalogManager *catalog.CatalogManager
	IndexManager   *indexfile.IndexFileManager
	LogManager     *wal_manager.LogManager
	TxnManager     *txn.TxnManager
	LockManager    *lock_manager.LockManager
	Checkpoints    *checkpoint.CheckpointManager

	cfg config.Config

	mu     sync.Mutex
	closed bool
}

type EngineStats struct {
	Pool      bufferpool.BufferPoolStats
	Log       wal_manager.LogStats
	Locks     lock_manager.LockStats
	ActiveTrx []types.TrxID
	Tables    []types.TableID
}

// RecoveryReport describes one run of the recovery passes
type RecoveryReport struct {
	Mode     types.RecoveryMode
	Winners  []types.TrxID
	Losers   []types.TrxID
	MaxTrxID types.TrxID

	Records      int // records visited by redo
	Redone       int
	ConsiderRedo int
	Undone       int // compensation records written
	RolledBack   []types.TrxID

	Completed     bool // every pass ran unbounded
	CleanShutdown bool // the log ends where the last clean shutdown left it
}

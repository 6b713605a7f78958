package storageengine

import (
	"DaemonStore/config"
	"DaemonStore/logger"
	indexfile "DaemonStore/storage_engine/access/indexfile_manager"
	"DaemonStore/storage_engine/bufferpool"
	"DaemonStore/storage_engine/catalog"
	checkpoint "DaemonStore/storage_engine/checkpoint_manager"
	diskmanager "DaemonStore/storage_engine/disk_manager"
	"DaemonStore/storage_engine/lock_manager"
	txn "DaemonStore/storage_engine/transaction_manager"
	"DaemonStore/storage_engine/wal_manager"
	"DaemonStore/types"
	"os"
	"sort"

	"github.com/dustin/go-humanize"
	"github.com/pkg/errors"
)

/*
The main file of storage engine, that wires the managers together.

Open brings a database up: it opens the catalog and the log, runs recovery over
whatever the log holds and only then starts handing out transactions, with ids
continuing past the highest one the log has seen.

A clean Shutdown leaves a checkpoint marker behind; recovery consumes it, so the
next start can tell a crash from a shutdown.

Recover runs the recovery passes alone (optionally stopping early, to simulate a
crash in the middle of recovery) and closes everything again.
*/

var log = logger.WithComponent("engine")

// newEngine opens the files shared by Open and Recover
func newEngine(cfg config.Config) (*StorageEngine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return nil, errors.Wrap(err, "failed to create data dir")
	}

	catalogManager, err := catalog.NewCatalogManager(cfg.CatalogFile)
	if err != nil {
		return nil, err
	}
	logManager, err := wal_manager.OpenLogManager(cfg.LogFile)
	if err != nil {
		catalogManager.Close()
		return nil, err
	}

	diskManager := diskmanager.NewDiskManager()
	bufferPool := bufferpool.NewBufferPool(cfg.BufferFrames, diskManager)
	bufferPool.SetWALManager(logManager)

	return &StorageEngine{
		BufferPool:     bufferPool,
		DiskManager:    diskManager,
		CatalogManager: catalogManager,
		IndexManager:   indexfile.NewIndexFileManager(diskManager, bufferPool),
		LogManager:     logManager,
		Checkpoints:    checkpoint.NewCheckpointManager(cfg.DataDir),
		cfg:            cfg,
	}, nil
}

// Open opens (or creates) the database described by cfg and recovers it.
func Open(cfg config.Config) (*StorageEngine, error) {
	se, err := newEngine(cfg)
	if err != nil {
		return nil, err
	}

	report, err := se.recover(types.RecoveryNormal, -1)
	if err != nil {
		se.close()
		return nil, errors.Wrap(err, "recovery failed")
	}

	se.TxnManager = txn.NewTxnManager(se.LogManager.LastTrxID())
	se.LockManager = lock_manager.NewLockManager(slotStore{bp: se.BufferPool}, se.TxnManager)
	se.LockManager.SetWaitTrace(cfg.LockWaitTrace)

	log.WithField("dir", cfg.DataDir).
		WithField("pool", humanize.Bytes(uint64(se.BufferPool.Capacity()*types.PageSize))).
		WithField("losers", len(report.Losers)).
		WithField("clean", report.CleanShutdown).
		Info("database open")
	return se, nil
}

// Recover runs the recovery passes over the database in cfg and closes it again.
// In the crash modes the redo or undo pass stops after logNum records.
func Recover(cfg config.Config, mode types.RecoveryMode, logNum int) (*RecoveryReport, error) {
	se, err := newEngine(cfg)
	if err != nil {
		return nil, err
	}
	report, err := se.recover(mode, logNum)
	if cerr := se.close(); err == nil {
		err = cerr
	}
	return report, err
}

// Shutdown flushes the log and every dirty page, then closes all files.
// Transactions still running are left to the next recovery.
func (se *StorageEngine) Shutdown() error {
	se.mu.Lock()
	defer se.mu.Unlock()
	if se.closed {
		return nil
	}
	se.closed = true

	if active := se.TxnManager.ActiveTransactions(); len(active) > 0 {
		log.WithField("active", len(active)).Warn("shutting down with running transactions")
	}
	err := se.close()
	if err == nil {
		err = se.Checkpoints.SaveCheckpoint(se.LogManager.FlushedLSN())
	}
	log.WithField("dir", se.cfg.DataDir).Info("database closed")
	return err
}

func (se *StorageEngine) close() error {
	err := se.BufferPool.FlushAll()
	se.IndexManager.CloseAll()
	if cerr := se.DiskManager.CloseAll(); err == nil {
		err = cerr
	}
	if cerr := se.LogManager.Close(); err == nil {
		err = cerr
	}
	if cerr := se.CatalogManager.Close(); err == nil {
		err = cerr
	}
	return err
}

// Crash closes every file without flushing the log buffer or the buffer pool,
// leaving the disk as a process kill would. Used by tests and the seed harness.
func (se *StorageEngine) Crash() error {
	se.mu.Lock()
	defer se.mu.Unlock()
	if se.closed {
		return nil
	}
	se.closed = true

	err := se.LogManager.Discard()
	se.IndexManager.CloseAll()
	if cerr := se.DiskManager.CloseAll(); err == nil {
		err = cerr
	}
	if cerr := se.CatalogManager.Close(); err == nil {
		err = cerr
	}
	log.WithField("dir", se.cfg.DataDir).Warn("database crashed")
	return err
}

// Config returns the configuration the engine was opened with
func (se *StorageEngine) Config() config.Config { return se.cfg }

func (se *StorageEngine) Stats() EngineStats {
	active := se.TxnManager.ActiveTransactions()
	sort.Slice(active, func(i, j int) bool { return active[i] < active[j] })
	return EngineStats{
		Pool:      se.BufferPool.GetStats(),
		Log:       se.LogManager.GetStats(),
		Locks:     se.LockManager.GetStats(),
		ActiveTrx: active,
		Tables:    se.IndexManager.Tables(),
	}
}

package checkpoint

import (
	"DaemonStore/logger"
	"DaemonStore/types"
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"
)

/*
The checkpoint file marks a clean shutdown.

	Shutdown  -> SaveCheckpoint(flushed LSN)     written atomically (tmp, fsync, rename)
	Open      -> LoadCheckpoint, then Clear      a crash from here on leaves no marker

Recovery always runs; the marker only tells it whether the log end it sees is the one
the last shutdown left behind.
*/

var log = logger.WithComponent("checkpoint")

func NewCheckpointManager(dbPath string) *CheckpointManager {
	return &CheckpointManager{
		checkpointPath: filepath.Join(dbPath, "checkpoint.json"),
	}
}

// SaveCheckpoint atomically records a clean shutdown at lsn
func (cm *CheckpointManager) SaveCheckpoint(lsn types.LSN) error {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	checkpoint := Checkpoint{
		LSN:       lsn,
		Timestamp: time.Now().Unix(),
		Clean:     true,
	}
	data, err := json.MarshalIndent(checkpoint, "", "  ")
	if err != nil {
		return errors.Wrap(err, "marshal checkpoint")
	}

	tempPath := cm.checkpointPath + ".tmp"
	tempFile, err := os.OpenFile(tempPath, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return errors.Wrap(err, "open temp checkpoint")
	}
	if _, err := tempFile.Write(data); err != nil {
		tempFile.Close()
		return errors.Wrap(err, "write temp checkpoint")
	}
	if err := tempFile.Sync(); err != nil {
		tempFile.Close()
		return errors.Wrap(err, "sync temp checkpoint")
	}
	tempFile.Close()

	if err := os.Rename(tempPath, cm.checkpointPath); err != nil {
		return errors.Wrap(err, "rename checkpoint")
	}
	// make the rename durable
	if dir, err := os.Open(filepath.Dir(cm.checkpointPath)); err == nil {
		dir.Sync()
		dir.Close()
	}

	log.WithField("lsn", lsn).Debug("checkpoint saved")
	return nil
}

// LoadCheckpoint returns the last checkpoint; a missing or unreadable file reads as unclean
func (cm *CheckpointManager) LoadCheckpoint() (*Checkpoint, error) {
	cm.mu.RLock()
	defer cm.mu.RUnlock()

	data, err := os.ReadFile(cm.checkpointPath)
	if os.IsNotExist(err) {
		return &Checkpoint{}, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "read checkpoint")
	}

	var checkpoint Checkpoint
	if err := json.Unmarshal(data, &checkpoint); err != nil {
		log.WithError(err).Warn("checkpoint file corrupted, treating the last shutdown as a crash")
		return &Checkpoint{}, nil
	}
	return &checkpoint, nil
}

// Clear removes the checkpoint file
func (cm *CheckpointManager) Clear() error {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	if err := os.Remove(cm.checkpointPath); err != nil && !os.IsNotExist(err) {
		return errors.Wrap(err, "delete checkpoint")
	}
	return nil
}

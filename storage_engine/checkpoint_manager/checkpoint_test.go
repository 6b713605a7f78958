package checkpoint

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCheckpointLifecycle(t *testing.T) {
	dir := t.TempDir()
	cm := NewCheckpointManager(dir)

	cp, err := cm.LoadCheckpoint()
	require.NoError(t, err)
	assert.False(t, cp.Clean)

	require.NoError(t, cm.SaveCheckpoint(612))
	cp, err = cm.LoadCheckpoint()
	require.NoError(t, err)
	assert.True(t, cp.Clean)
	assert.Equal(t, uint64(612), uint64(cp.LSN))

	_, err = os.Stat(filepath.Join(dir, "checkpoint.json.tmp"))
	assert.True(t, os.IsNotExist(err))

	require.NoError(t, cm.Clear())
	require.NoError(t, cm.Clear())
	cp, err = cm.LoadCheckpoint()
	require.NoError(t, err)
	assert.False(t, cp.Clean)
}

func TestCorruptCheckpointReadsAsCrash(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "checkpoint.json"), []byte("{lsn"), 0644))

	cp, err := NewCheckpointManager(dir).LoadCheckpoint()
	require.NoError(t, err)
	assert.False(t, cp.Clean)
}

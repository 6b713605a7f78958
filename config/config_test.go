package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default("/data")
	assert.Equal(t, DefaultFrames, cfg.BufferFrames)
	assert.Equal(t, filepath.Join("/data", "daemon.log"), cfg.LogFile)
	assert.Equal(t, filepath.Join("/data", "recovery.trace"), cfg.TraceFile)
	assert.Equal(t, filepath.Join("/data", "catalog.db"), cfg.CatalogFile)
	assert.NoError(t, cfg.Validate())
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "daemon.hcl")
	src := `
data_dir = "/srv/store"
buffer_frames = 64
trace_file = "/tmp/trace.txt"
log_level = "debug"
lock_wait_trace = true
`
	require.NoError(t, os.WriteFile(path, []byte(src), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/srv/store", cfg.DataDir)
	assert.Equal(t, 64, cfg.BufferFrames)
	assert.Equal(t, "/tmp/trace.txt", cfg.TraceFile)
	assert.Equal(t, filepath.Join("/srv/store", "daemon.log"), cfg.LogFile)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.True(t, cfg.LockWaitTrace)
}

func TestParseErrors(t *testing.T) {
	_, err := Parse(`data_dir = "x"` + "\n" + `buffer_size = 10`)
	assert.EqualError(t, err, "buffer_size is not a config variable")

	_, err = Parse(`buffer_frames = 5`)
	assert.Error(t, err)

	_, err = Parse(`log_level = "loud"`)
	assert.Error(t, err)

	_, err = Parse(`data_dir = `)
	assert.Error(t, err)

	_, err = Load(filepath.Join(t.TempDir(), "missing.hcl"))
	assert.Error(t, err)
	assert.True(t, os.IsNotExist(errors.Cause(err)), "the shell falls back to defaults on a missing file")
}

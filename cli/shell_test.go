package cli

import (
	"DaemonStore/config"
	storageengine "DaemonStore/storage_engine"
	"DaemonStore/types"
	"bytes"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestShell(t *testing.T) (*Shell, *bytes.Buffer) {
	t.Helper()
	dir := t.TempDir()
	cfg := config.Default(dir)
	cfg.BufferFrames = 32
	se, err := storageengine.Open(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { se.Shutdown() })

	var out bytes.Buffer
	return NewShell(se, &out), &out
}

func run(t *testing.T, s *Shell, out *bytes.Buffer, line string) string {
	t.Helper()
	out.Reset()
	require.NoError(t, s.Exec(line), line)
	return out.String()
}

func TestShellSession(t *testing.T) {
	s, out := newTestShell(t)
	dir := t.TempDir()

	assert.Equal(t, "table 4\n", run(t, s, out, "open "+filepath.Join(dir, "DATA4")))
	run(t, s, out, "insert 4 10 ten")
	run(t, s, out, "insert 4 20 twenty")
	assert.Equal(t, "10: ten\n", run(t, s, out, "find 4 10"))

	assert.Equal(t, "trx 1\n", run(t, s, out, "begin"))
	assert.Equal(t, "1 record updated\n", run(t, s, out, "update 4 10 TEN 1"))
	assert.Equal(t, "10: TEN\n", run(t, s, out, "find 4 10 1"))
	assert.Equal(t, "trx 1 aborted\n", run(t, s, out, "abort 1"))
	assert.Equal(t, "10: ten\n", run(t, s, out, "FIND 4 10"))

	scan := run(t, s, out, "scan 4")
	assert.Contains(t, scan, "twenty")
	assert.Contains(t, scan, "(2 rows)")

	run(t, s, out, "delete 4 20")
	assert.ErrorIs(t, s.Exec("find 4 20"), types.ErrNotFound)
	assert.Contains(t, run(t, s, out, "stats"), "deadlocks")
	assert.Empty(t, run(t, s, out, "   "))
}

func TestShellErrors(t *testing.T) {
	s, _ := newTestShell(t)

	assert.ErrorIs(t, s.Exec("quit"), ErrQuit)
	assert.ErrorIs(t, s.Exec("exit"), ErrQuit)
	assert.Error(t, s.Exec("drop table"))
	assert.Error(t, s.Exec("insert 1 2"))
	assert.Error(t, s.Exec("find x 2"))
	assert.ErrorIs(t, s.Exec("find 9 2"), types.ErrTableNotOpen)
	assert.ErrorIs(t, s.Exec("commit 7"), types.ErrTrxNotActive)
}

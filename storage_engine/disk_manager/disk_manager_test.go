package diskmanager

import (
	"DaemonStore/storage_engine/page"
	"DaemonStore/types"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestTable(t *testing.T) (*DiskManager, types.TableID) {
	t.Helper()
	dm := NewDiskManager()
	require.NoError(t, dm.OpenFile(filepath.Join(t.TempDir(), "DATA1"), 1))
	t.Cleanup(func() { dm.CloseAll() })
	return dm, 1
}

func TestNewFileLayout(t *testing.T) {
	dm, table := openTestTable(t)

	var header page.Page
	require.NoError(t, dm.ReadPage(table, 0, &header))
	assert.Equal(t, uint64(InitialPages), header.NumPages())
	assert.Equal(t, uint64(1), header.FreeNum())
	assert.Equal(t, uint64(0), header.RootNum())

	var last page.Page
	require.NoError(t, dm.ReadPage(table, InitialPages-1, &last))
	assert.Equal(t, uint64(0), last.NextFree())
}

func TestFreeListIsLIFO(t *testing.T) {
	dm, table := openTestTable(t)

	allocated := make([]types.PageNum, 0, 5)
	for i := 0; i < 5; i++ {
		n, err := dm.AllocPage(table)
		require.NoError(t, err)
		allocated = append(allocated, n)
	}
	assert.Equal(t, []types.PageNum{1, 2, 3, 4, 5}, allocated)

	for _, n := range allocated {
		require.NoError(t, dm.FreePage(table, n, 77))
	}

	again := make([]types.PageNum, 0, 5)
	for i := 0; i < 5; i++ {
		n, err := dm.AllocPage(table)
		require.NoError(t, err)
		again = append(again, n)
	}
	assert.Equal(t, []types.PageNum{5, 4, 3, 2, 1}, again)

	var pg page.Page
	require.NoError(t, dm.ReadPage(table, 3, &pg))
	assert.Equal(t, uint64(77), pg.LSN(), "freed page keeps its LSN")
}

func TestAllocDoublesFileWhenListIsEmpty(t *testing.T) {
	dm, table := openTestTable(t)

	for i := 1; i < InitialPages; i++ {
		_, err := dm.AllocPage(table)
		require.NoError(t, err)
	}
	n, err := dm.AllocPage(table)
	require.NoError(t, err)
	assert.Equal(t, types.PageNum(InitialPages), n)

	numPages, err := dm.NumPages(table)
	require.NoError(t, err)
	assert.Equal(t, uint64(2*InitialPages), numPages)

	n, err = dm.AllocPage(table)
	require.NoError(t, err)
	assert.Equal(t, types.PageNum(InitialPages+1), n)
}

func TestReopenKeepsHeader(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "DATA2")

	dm := NewDiskManager()
	require.NoError(t, dm.OpenFile(path, 2))
	_, err := dm.AllocPage(2)
	require.NoError(t, err)
	sum, err := dm.TableChecksum(2)
	require.NoError(t, err)
	require.NoError(t, dm.CloseAll())

	dm = NewDiskManager()
	require.NoError(t, dm.OpenFile(path, 2))
	defer dm.CloseAll()

	var header page.Page
	require.NoError(t, dm.ReadPage(2, 0, &header))
	assert.Equal(t, uint64(2), header.FreeNum())

	again, err := dm.TableChecksum(2)
	require.NoError(t, err)
	assert.Equal(t, sum, again)
}

func TestUnknownTable(t *testing.T) {
	dm := NewDiskManager()
	var pg page.Page
	err := dm.ReadPage(9, 0, &pg)
	assert.ErrorIs(t, err, types.ErrTableNotOpen)
}

package catalog

import (
	"os"
	"path/filepath"
	"testing"

	"DaemonStore/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIDFromPath(t *testing.T) {
	cases := map[string]types.TableID{
		"DATA7":         7,
		"/tmp/x/DATA12": 12,
		"orders":        0,
		"DATA0":         0,
		"t2/accounts":   0,
		"table_0042":    42,
	}
	for path, want := range cases {
		assert.Equal(t, want, idFromPath(path), path)
	}
}

func TestRegisterAssignsStableIDs(t *testing.T) {
	dir := t.TempDir()
	cm, err := NewCatalogManager(filepath.Join(dir, "catalog.db"))
	require.NoError(t, err)

	id, err := cm.Register(filepath.Join(dir, "DATA3"))
	require.NoError(t, err)
	assert.Equal(t, types.TableID(3), id)

	// unnumbered paths take the next id after the highest seen
	id, err = cm.Register(filepath.Join(dir, "orders"))
	require.NoError(t, err)
	assert.Equal(t, types.TableID(4), id)

	// a numbered path whose id is taken falls back to the next id
	other := filepath.Join(dir, "sub", "DATA3")
	id, err = cm.Register(other)
	require.NoError(t, err)
	assert.Equal(t, types.TableID(5), id)

	again, err := cm.Register(filepath.Join(dir, "DATA3"))
	require.NoError(t, err)
	assert.Equal(t, types.TableID(3), again)

	require.NoError(t, cm.Close())

	cm, err = NewCatalogManager(filepath.Join(dir, "catalog.db"))
	require.NoError(t, err)
	defer cm.Close()

	path, err := cm.Lookup(5)
	require.NoError(t, err)
	assert.Equal(t, other, path)

	_, err = cm.Lookup(9)
	assert.ErrorIs(t, err, types.ErrTableNotOpen)

	id, err = cm.Register(filepath.Join(dir, "orders"))
	require.NoError(t, err)
	assert.Equal(t, types.TableID(4), id)

	entries, err := cm.Tables()
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, types.TableID(3), entries[0].ID)
	assert.Equal(t, types.TableID(4), entries[1].ID)
	assert.Equal(t, types.TableID(5), entries[2].ID)
}

func TestCatalogMovesWithItsDirectory(t *testing.T) {
	src, dst := t.TempDir(), t.TempDir()
	cm, err := NewCatalogManager(filepath.Join(src, "catalog.db"))
	require.NoError(t, err)
	_, err = cm.Register(filepath.Join(src, "DATA1"))
	require.NoError(t, err)
	require.NoError(t, cm.Close())

	b, err := os.ReadFile(filepath.Join(src, "catalog.db"))
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dst, "catalog.db"), b, 0644))

	cm, err = NewCatalogManager(filepath.Join(dst, "catalog.db"))
	require.NoError(t, err)
	defer cm.Close()

	path, err := cm.Lookup(1)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dst, "DATA1"), path)
}

package page

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func val(b byte, n int) []byte { return bytes.Repeat([]byte{b}, n) }

func TestLeafInsertKeepsOrderAndSpace(t *testing.T) {
	var p Page
	p.InitLeaf(0)

	for _, k := range []int64{50, 10, 30, 20, 40} {
		idx := p.InsertPosition(k)
		require.True(t, p.HasRoomFor(20))
		p.InsertSlot(idx, k, val(byte(k), 20))
	}

	require.NoError(t, p.VerifyLeaf())
	assert.Equal(t, 5, p.NumKeys())
	assert.Equal(t, InitialFree-5*(16+20), p.FreeSpace())
	for i, k := range []int64{10, 20, 30, 40, 50} {
		assert.Equal(t, k, p.SlotKey(i))
		assert.Equal(t, val(byte(k), 20), p.Value(i))
	}
	assert.Equal(t, 2, p.SearchSlot(30))
	assert.Equal(t, -1, p.SearchSlot(35))
}

func TestLeafRemoveCompacts(t *testing.T) {
	var p Page
	p.InitLeaf(0)
	for k := int64(1); k <= 6; k++ {
		p.InsertSlot(p.InsertPosition(k), k, val(byte(k), int(k)*3))
	}

	p.RemoveSlot(p.SearchSlot(3))
	p.RemoveFront(1)
	p.RemoveBack(1)

	require.NoError(t, p.VerifyLeaf())
	require.Equal(t, 3, p.NumKeys())
	// values are packed at the tail in slot order after compaction
	off := PageSize
	for i, k := range []int64{2, 4, 5} {
		s := p.Slot(i)
		off -= int(s.Size)
		assert.Equal(t, k, s.Key)
		assert.Equal(t, uint16(off), s.Offset)
		assert.Equal(t, val(byte(k), int(k)*3), p.Value(i))
	}
}

func TestRebuildLeafMatchesAppend(t *testing.T) {
	var a, b Page
	a.InitLeaf(7)
	b.InitLeaf(7)
	entries := []Entry{{Key: 1, Value: val(1, 10)}, {Key: 2, Value: val(2, 30), TrxID: 9}}

	a.RebuildLeaf(entries)
	for _, e := range entries {
		b.AppendSlot(e.Key, e.Value, e.TrxID)
	}

	require.NoError(t, a.VerifyLeaf())
	require.NoError(t, b.VerifyLeaf())
	assert.Equal(t, a.Entries(), b.Entries())
	assert.Equal(t, int32(9), a.SlotTrx(1))
	assert.Equal(t, uint64(7), a.ParentNum())
}

func TestInternalChildRouting(t *testing.T) {
	var p Page
	p.InitInternal(0)
	p.SetLeftmost(100)
	p.InsertBranch(0, Branch{Key: 10, PageNum: 101})
	p.InsertBranch(1, Branch{Key: 30, PageNum: 103})
	p.InsertBranch(1, Branch{Key: 20, PageNum: 102})

	assert.Equal(t, uint64(100), p.Child(5))
	assert.Equal(t, uint64(101), p.Child(10))
	assert.Equal(t, uint64(101), p.Child(19))
	assert.Equal(t, uint64(102), p.Child(20))
	assert.Equal(t, uint64(103), p.Child(1000))

	assert.Equal(t, -1, p.ChildIndex(100))
	assert.Equal(t, 1, p.ChildIndex(102))
	assert.Equal(t, -2, p.ChildIndex(999))

	p.RemoveBranch(0)
	assert.Equal(t, 2, p.NumKeys())
	assert.Equal(t, int64(20), p.BranchKey(0))
}

func TestClearKeepsLSN(t *testing.T) {
	var p Page
	p.SetLSN(4242)
	p.SetNumKeys(3)
	sum := p.Checksum()

	p.Clear()
	assert.Equal(t, uint64(4242), p.LSN())
	assert.Equal(t, 0, p.NumKeys())
	assert.NotEqual(t, sum, p.Checksum())
}
